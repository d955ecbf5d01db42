package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"subscription_reminder_bot/internal/app"
	"subscription_reminder_bot/internal/domain/subscription"
	"subscription_reminder_bot/internal/domain/user"
	"subscription_reminder_bot/internal/infra/memstore"
	"subscription_reminder_bot/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"
)

const (
	testToken         = "s3cret"
	testAdmin   int64 = 1
	testOwnerID int64 = 100
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubRunner struct {
	report app.CycleReport
	err    error
}

func (s *stubRunner) RunCycleNow(context.Context) (app.CycleReport, error) {
	return s.report, s.err
}

type noopClient struct{}

func (noopClient) SendMessage(context.Context, int64, string, *telebot.SendOptions) error { return nil }

type fixture struct {
	store  *memstore.Store
	runner *stubRunner
	router http.Handler
}

func newFixture(t *testing.T, pinger Pinger) *fixture {
	t.Helper()
	l, _ := logtest.NewNullLogger()
	logger := logrus.NewEntry(l)

	store := memstore.New()
	store.PutUser(&user.User{TelegramID: testOwnerID, Plan: user.PlanStandard, IsActive: true})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	reminders := app.NewReminderService(store.Subscriptions(), store.Users(), noopClient{}, logger, m, app.DispatchSettings{})
	runner := &stubRunner{}
	admin := app.NewAdminService(store.Subscriptions(), store.Users(), reminders, runner, testAdmin)

	return &fixture{
		store:  store,
		runner: runner,
		router: NewRouter(admin, pinger, reg, testToken, logger),
	}
}

func (f *fixture) do(method, path string, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, stubPinger{})
	rec := f.do(http.MethodGet, "/healthz", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	f = newFixture(t, stubPinger{err: errors.New("connection refused")})
	rec = f.do(http.MethodGet, "/healthz", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f = newFixture(t, nil)
	rec = f.do(http.MethodGet, "/healthz", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	end := time.Now().UTC().AddDate(0, 0, 10)
	sub := &subscription.Subscription{UserID: testOwnerID, ServiceName: "Netflix", StartDate: end.AddDate(0, -1, 0), EndDate: end, IsActive: true}
	f.store.PutSubscription(sub)

	rec := f.do(http.MethodPost, fmt.Sprintf("/admin/subscriptions/%d/reminders", sub.ID), true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/metrics", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `subscription_reminder_reminders_total{outcome="sent"} 1`)
}

func TestAdminRequiresToken(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/admin/stats", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	l, _ := logtest.NewNullLogger()
	router := NewRouter(app.NewAdminService(nil, nil, nil, &stubRunner{}, testAdmin), nil, prometheus.NewRegistry(), "", logrus.NewEntry(l))

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminStats(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/admin/stats", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats app.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalUsers)
	assert.Equal(t, int64(0), stats.ElevatedUsers)
}

func TestAdminRunCycle(t *testing.T) {
	f := newFixture(t, nil)
	runID := uuid.New()
	f.runner.report = app.CycleReport{RunID: runID, Sent: 5, Success: true}

	rec := f.do(http.MethodPost, "/admin/cycles", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var report app.CycleReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, runID, report.RunID)
	assert.Equal(t, 5, report.Sent)

	f.runner.err = app.ErrCycleInProgress
	rec = f.do(http.MethodPost, "/admin/cycles", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminRemindSubscription(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/admin/subscriptions/abc/reminders", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/admin/subscriptions/404/reminders", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
