package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "subscription_reminder"

// Collector records reminder engine activity. A nil *Collector is valid and records nothing.
type Collector struct {
	reminders     *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	deactivated   prometheus.Counter
	cycleDuration prometheus.Histogram
}

// New registers the engine metrics on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		reminders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Reminder dispatch outcomes.",
		}, []string{"outcome"}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Reminder cycles by result.",
		}, []string{"result"}),
		deactivated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_deactivated_total",
			Help:      "Subscriptions marked inactive after expiry.",
		}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a reminder cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

func (c *Collector) ReminderOutcome(outcome string) {
	if c == nil {
		return
	}
	c.reminders.WithLabelValues(outcome).Inc()
}

// Cycle records one finished cycle. result is "ok", "failed", "skipped_busy" or "skipped_locked".
func (c *Collector) Cycle(result string, took time.Duration) {
	if c == nil {
		return
	}
	c.cycles.WithLabelValues(result).Inc()
	if took > 0 {
		c.cycleDuration.Observe(took.Seconds())
	}
}

func (c *Collector) Deactivated(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.deactivated.Add(float64(n))
}
