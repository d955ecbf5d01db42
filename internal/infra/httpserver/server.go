// Package httpserver exposes health, metrics and the operator API over HTTP.
package httpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"subscription_reminder_bot/internal/app"
	"subscription_reminder_bot/internal/domain/subscription"
	"subscription_reminder_bot/internal/infra/scheduler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const healthTimeout = 2 * time.Second

// Pinger checks that the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	adminService *app.AdminService
	pinger       Pinger // nil when running on the in-memory store
	logger       *logrus.Entry
}

// NewRouter builds the HTTP routes. Admin routes are mounted only when apiToken is set.
func NewRouter(adminService *app.AdminService, pinger Pinger, gatherer prometheus.Gatherer, apiToken string, logger *logrus.Entry) http.Handler {
	h := &Handler{adminService: adminService, pinger: pinger, logger: logger}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(logger),
		middleware.Recoverer,
	)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if apiToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(bearerAuth(apiToken))
			r.Get("/stats", h.Stats)
			r.Post("/cycles", h.RunCycle)
			r.Post("/subscriptions/{id}/reminders", h.RemindSubscription)
		})
	}
	return r
}

// New wraps handler in a server with sane timeouts.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// A manual cycle may take a while.
		WriteTimeout: 20 * time.Minute,
		IdleTimeout:  time.Minute,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			h.logger.WithError(err).Warn("Health check failed")
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"status": "unavailable", "store": err.Error()})
			return
		}
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.adminService.Stats(r.Context(), h.adminService.AdminID())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, stats)
}

func (h *Handler) RunCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.adminService.RunCycleNow(r.Context(), h.adminService.AdminID())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, report)
}

func (h *Handler) RemindSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid subscription id"})
		return
	}

	outcome, err := h.adminService.RemindSubscription(r.Context(), h.adminService.AdminID(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{
		"subscription_id": outcome.SubscriptionID,
		"status":          outcome.Status,
		"reason":          outcome.Reason,
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, app.ErrAdminNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrCycleInProgress), errors.Is(err, scheduler.ErrCycleLocked):
		status = http.StatusConflict
	case errors.Is(err, app.ErrSchedulerStopped):
		status = http.StatusServiceUnavailable
	}

	log := h.logger.WithError(err).WithFields(logrus.Fields{
		"path":       r.URL.Path,
		"request_id": middleware.GetReqID(r.Context()),
	})
	if status == http.StatusInternalServerError {
		log.Error("Admin request failed")
	} else {
		log.Warn("Admin request rejected")
	}

	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, errorResponse{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(started).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Debug("HTTP request")
		})
	}
}
