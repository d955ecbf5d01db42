package subscription

import "subscription_reminder_bot/internal/domain/user"

// ReminderLead is the configured lead time category of a subscription.
type ReminderLead string

const (
	LeadOneDay    ReminderLead = "1_day"
	LeadTwoDays   ReminderLead = "2_days"
	LeadThreeDays ReminderLead = "3_days"
	LeadSevenDays ReminderLead = "7_days"
)

// DefaultLead applies to standard users and to unknown categories.
const DefaultLead = LeadTwoDays

// MaxLeadDays is the widest lead in the table. Stores use it as the candidate horizon.
const MaxLeadDays = 7

var leadDays = map[ReminderLead]int{
	LeadOneDay:    1,
	LeadTwoDays:   2,
	LeadThreeDays: 3,
	LeadSevenDays: 7,
}

// Days maps the lead category to whole days before expiry.
// Unknown or empty categories fall back to the default of 2 days.
func (l ReminderLead) Days() int {
	if d, ok := leadDays[l]; ok {
		return d
	}
	return leadDays[DefaultLead]
}

// Valid reports whether l is one of the enumerated categories.
func (l ReminderLead) Valid() bool {
	_, ok := leadDays[l]
	return ok
}

// ParseLead converts user input like "7_days" into a ReminderLead.
func ParseLead(s string) (ReminderLead, error) {
	l := ReminderLead(s)
	if !l.Valid() {
		return "", ErrUnknownReminderLead
	}
	return l, nil
}

// LeadForPlan returns the lead a user on plan may use. Standard users are
// pinned to DefaultLead, elevated users keep their choice when it is valid.
func LeadForPlan(plan user.Plan, requested ReminderLead) ReminderLead {
	if plan != user.PlanElevated || !requested.Valid() {
		return DefaultLead
	}
	return requested
}

// LeadsForPlan lists the lead categories selectable on plan.
func LeadsForPlan(plan user.Plan) []ReminderLead {
	if plan == user.PlanElevated {
		return []ReminderLead{LeadOneDay, LeadTwoDays, LeadThreeDays, LeadSevenDays}
	}
	return []ReminderLead{DefaultLead}
}
