package http

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"calsync_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
)

// HealthChecker is a dependency probed by /ready.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Ping(ctx context.Context) error { return f(ctx) }

// MetricsSource contributes one named section to /health/metrics.
type MetricsSource func(ctx context.Context) any

type HealthHandler struct {
	checks   map[string]HealthChecker
	db       *sql.DB
	latency  *metrics.LatencyRegistry
	counters *metrics.SyncCounters
	extra    map[string]MetricsSource
	started  time.Time
}

func NewHealthHandler(db *sql.DB, latency *metrics.LatencyRegistry, counters *metrics.SyncCounters) *HealthHandler {
	return &HealthHandler{
		checks:   make(map[string]HealthChecker),
		db:       db,
		latency:  latency,
		counters: counters,
		extra:    make(map[string]MetricsSource),
		started:  time.Now(),
	}
}

// AddCheck registers a readiness dependency.
func (h *HealthHandler) AddCheck(name string, c HealthChecker) {
	h.checks[name] = c
}

// AddMetrics registers an extra section for /health/metrics.
func (h *HealthHandler) AddMetrics(name string, src MetricsSource) {
	h.extra[name] = src
}

func (h *HealthHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	app.Get("/health/metrics", h.Metrics)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	allHealthy := true
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Metrics reports DB pool usage, remote call latency and sync counters.
func (h *HealthHandler) Metrics(c *fiber.Ctx) error {
	body := fiber.Map{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if h.db != nil {
		stats := metrics.GetDBPoolStats(h.db)
		body["db_pool"] = stats.ToMap()
		body["db_health"] = metrics.AssessDBPoolHealth(stats)
	}
	if h.latency != nil {
		latency := make(map[string]any)
		for op, s := range h.latency.AllStats() {
			latency[op] = s.ToMap()
		}
		body["remote_latency"] = latency
	}
	if h.counters != nil {
		body["sync"] = h.counters.Snapshot()
	}
	for name, src := range h.extra {
		body[name] = src(c.UserContext())
	}

	return c.JSON(body)
}
