package bootstrap

import (
	"context"
	"strings"
	"time"

	"calsync_server/adapter/in/http"
	"calsync_server/adapter/out/messaging"
	"calsync_server/config"
	"calsync_server/infra/database"
	"calsync_server/infra/middleware"
	"calsync_server/pkg/logger"
	"calsync_server/pkg/ratelimit"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI builds the HTTP server on top of deps. extra metrics sources (the
// worker pool in "all" mode) are exposed on /health/metrics.
func NewAPI(cfg *config.Config, deps *Dependencies, extra map[string]http.MetricsSource) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "calsync",
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json: 표준 encoding/json 대비 빠른 JSON 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:    1 * 1024 * 1024, // 1MB
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	// AllowCredentials requires explicit origins
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := allowOrigins != "" && allowOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	registerHealth(app, deps, extra)

	verifier := middleware.NewJWTVerifier(cfg.JWTSecret, cfg.SupabaseURL)
	jwtAuth := middleware.JWTAuth(verifier)

	calendarHandler := http.NewCalendarHandler(deps.Orchestrator, deps.IntegrationService, deps.FollowUpService)
	calendarHandler.SetSyncLimiter(middleware.PerUserLimiter(
		cfg.ManualSyncPerMin,
		time.Minute,
		ratelimit.NewRedisStorage(deps.Redis, "ratelimit:"),
	))
	oauthHandler := http.NewOAuthHandler(deps.OAuthService, cfg.FrontendURL)
	webhookHandler := http.NewWebhookHandler(deps.WebhookService)
	schedulerHandler := http.NewSchedulerHandler(deps.Orchestrator)
	settingsHandler := http.NewSettingsHandler(deps.SettingsService)

	api := app.Group("/api/v1")

	// Public: Google redirects and push notifications
	oauthHandler.RegisterPublic(api)
	webhookHandler.Register(api)

	// Scheduler / internal callers
	internal := api.Group("/internal", middleware.SchedulerAuth(cfg.SchedulerSecret))
	schedulerHandler.Register(internal)

	// Admin
	admin := api.Group("/admin", jwtAuth, middleware.RequireRole("admin"))
	settingsHandler.Register(admin)

	// Authenticated user routes
	user := api.Group("", jwtAuth)
	oauthHandler.RegisterAuthenticated(user)
	calendarHandler.Register(user)

	logger.Info("API routes registered (manual sync limit %d/min)", cfg.ManualSyncPerMin)
	return app
}

func registerHealth(app *fiber.App, deps *Dependencies, extra map[string]http.MetricsSource) {
	h := http.NewHealthHandler(deps.SQLDB.DB, deps.Latency, deps.Orchestrator.Counters())

	h.AddCheck("postgres", http.HealthCheckFunc(deps.DB.Ping))
	h.AddCheck("redis", http.HealthCheckFunc(func(ctx context.Context) error {
		return deps.Redis.Ping(ctx).Err()
	}))
	if deps.MongoDB != nil {
		h.AddCheck("mongodb", http.HealthCheckFunc(func(ctx context.Context) error {
			return deps.MongoDB.Ping(ctx, nil)
		}))
	}

	h.AddMetrics("pgx_pool", func(context.Context) any { return database.GetPoolStats(deps.DB) })
	h.AddMetrics("redis_pool", func(context.Context) any { return database.GetRedisStats(deps.Redis) })
	h.AddMetrics("remote_circuit", func(context.Context) any { return deps.CalendarProvider.CircuitState() })
	h.AddMetrics("follow_up_stream", func(ctx context.Context) any {
		pending, dead, err := deps.Producer.StreamLength(ctx, messaging.StreamCalendarFollowUp)
		if err != nil {
			return map[string]any{"error": err.Error()}
		}
		return map[string]any{"length": pending, "dlq_length": dead}
	})
	for name, src := range extra {
		h.AddMetrics(name, src)
	}

	h.Register(app)
}
