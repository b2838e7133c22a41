package bootstrap

import (
	"context"
	"fmt"
	"time"

	"calsync_server/adapter/out/messaging"
	"calsync_server/adapter/out/mongodb"
	"calsync_server/adapter/out/notification"
	"calsync_server/adapter/out/persistence"
	"calsync_server/adapter/out/provider"
	"calsync_server/config"
	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/core/service/auth"
	"calsync_server/core/service/calendar"
	notificationservice "calsync_server/core/service/notification"
	"calsync_server/infra/database"
	"calsync_server/pkg/cache"
	"calsync_server/pkg/crypto"
	"calsync_server/pkg/httputil"
	"calsync_server/pkg/logger"
	"calsync_server/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies is the object graph shared by the API and the worker.
type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	Latency *metrics.LatencyRegistry

	// Repositories
	IntegrationRepo *persistence.IntegrationAdapter
	EventRepo       *persistence.CalendarEventAdapter
	TaskRepo        *persistence.TaskAdapter
	SettingsRepo    *persistence.SettingsAdapter
	StateStore      *persistence.RedisOAuthStateStore
	RunStore        *mongodb.SyncRunAdapter
	Cache           *cache.RedisCache

	// Messaging
	Producer *messaging.RedisProducer

	// Providers
	CalendarProvider *provider.GoogleCalendarAdapter
	AccountProvider  *provider.GoogleAccountAdapter
	EmailSender      out.EmailSender

	// Services
	SettingsService     *auth.SettingsService
	TokenManager        *auth.TokenManager
	OAuthService        *auth.OAuthService
	WatchManager        *calendar.WatchManager
	Engine              *calendar.Engine
	Orchestrator        *calendar.Orchestrator
	FollowUpService     *calendar.FollowUpService
	IntegrationService  *calendar.IntegrationService
	WebhookService      *calendar.WebhookService
	NotificationService *notificationservice.Service
}

func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	loc, err := time.LoadLocation(cfg.DefaultTimeZone)
	if err != nil {
		return fail(fmt.Errorf("load default time zone: %w", err))
	}

	// Database (pgxpool, readiness and pool stats)
	pgCfg := database.DefaultPostgresConfig()
	db, err := database.NewPostgresWithConfig(cfg.DatabaseURL, pgCfg)
	if err != nil {
		return fail(fmt.Errorf("postgres: %w", err))
	}
	deps.DB = db
	cleanups = append(cleanups, db.Close)

	// Database (sqlx for persistence adapters)
	sqlDB, err := database.NewSQL(cfg.DatabaseURL, pgCfg)
	if err != nil {
		return fail(err)
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { _ = sqlDB.Close() })
	logger.Info("Postgres connected (pool: max=%d)", pgCfg.MaxConns)

	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, sqlDB); err != nil {
			return fail(err)
		}
	}

	// Redis (streams, cache, OAuth state, rate limits)
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		return fail(fmt.Errorf("redis: %w", err))
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { _ = redisClient.Close() })

	// MongoDB (sync-run journal, optional)
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed, sync-run journal disabled: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() { _ = mongoClient.Disconnect(context.Background()) })

			deps.RunStore = mongodb.NewSyncRunAdapter(mongoClient.Database(cfg.MongoDBName), mongodb.DefaultRunRetention)
			if err := deps.RunStore.EnsureIndexes(ctx); err != nil {
				logger.Warn("Failed to ensure sync-run indexes: %v", err)
			}
		}
	}

	cipher, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return fail(fmt.Errorf("encryptor: %w", err))
	}

	deps.Latency = metrics.NewLatencyRegistry(200)
	httpClient := httputil.CalendarClient()

	// Repositories
	deps.IntegrationRepo = persistence.NewIntegrationAdapter(sqlDB, cipher)
	deps.EventRepo = persistence.NewCalendarEventAdapter(sqlDB)
	deps.TaskRepo = persistence.NewTaskAdapter(sqlDB)
	deps.SettingsRepo = persistence.NewSettingsAdapter(sqlDB, cipher)
	deps.StateStore = persistence.NewRedisOAuthStateStore(redisClient)
	deps.Cache = cache.NewRedisCache(redisClient, "calsync:")
	deps.Producer = messaging.NewRedisProducer(redisClient)

	// Providers
	deps.CalendarProvider = provider.NewGoogleCalendarAdapter(httpClient, provider.GoogleCalendarConfig{
		RatePerSec: cfg.RemoteRatePerSec,
		Burst:      cfg.RemoteBurst,
		MaxItems:   cfg.SyncMaxListItems,
	}, deps.Latency)
	deps.AccountProvider = provider.NewGoogleAccountAdapter(httpClient, "")

	if cfg.EmailRelayURL != "" {
		deps.EmailSender = notification.NewRelaySender(httputil.DefaultClient(), cfg.EmailRelayURL, cfg.EmailFrom)
	} else {
		deps.EmailSender = notification.LogSender{}
		logger.Warn("EMAIL_RELAY_URL not set, reconnect notices are only logged")
	}

	// Services
	deps.SettingsService = auth.NewSettingsService(deps.SettingsRepo)
	if err := deps.SettingsService.Seed(ctx, &domain.OAuthSettings{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURI:  cfg.GoogleRedirectURL,
	}); err != nil {
		logger.Warn("Failed to seed OAuth settings: %v", err)
	}

	deps.TokenManager = auth.NewTokenManager(deps.SettingsService, deps.IntegrationRepo, httpClient, logger.Z("token_manager"))
	channelSigner := crypto.NewChannelSigner(cfg.WebhookSecret)
	deps.WatchManager = calendar.NewWatchManager(deps.IntegrationRepo, deps.CalendarProvider, deps.TokenManager, cfg.WebhookAddress(), logger.Z("watch"))
	deps.WatchManager.SetChannelTokens(channelSigner)
	deps.NotificationService = notificationservice.NewService(deps.EmailSender, deps.Cache, cfg.FrontendURL)

	deps.Engine = calendar.NewEngine(deps.CalendarProvider, deps.EventRepo, deps.TaskRepo, calendar.EngineConfig{
		BatchSize:       cfg.SyncBatchSize,
		Lookback:        cfg.SyncLookback,
		Lookahead:       cfg.SyncLookahead,
		MaxListItems:    cfg.SyncMaxListItems,
		TaskPrefix:      cfg.TaskPrefix,
		DefaultLocation: loc,
	}, logger.Z("reconcile"))

	deps.Orchestrator = calendar.NewOrchestrator(
		deps.IntegrationRepo,
		deps.EventRepo,
		deps.TaskRepo,
		deps.CalendarProvider,
		deps.TokenManager,
		deps.Engine,
		deps.SettingsService,
		calendar.OrchestratorConfig{
			BatchTimeout:    cfg.BatchTimeout,
			ManualTimeout:   cfg.ManualSyncTimeout,
			DefaultMaxUsers: cfg.AutoSyncMaxUsers,
			TaskPrefix:      cfg.TaskPrefix,
			DefaultLocation: loc,
		},
		logger.Z("orchestrator"),
	)
	deps.Orchestrator.SetNotifier(deps.NotificationService)
	if deps.RunStore != nil {
		deps.Orchestrator.SetRunStore(deps.RunStore)
	}

	deps.FollowUpService = calendar.NewFollowUpService(deps.Orchestrator, deps.Producer, cfg.FollowUpInlineWait, logger.Z("follow_up"))
	deps.IntegrationService = calendar.NewIntegrationService(deps.IntegrationRepo, deps.EventRepo, deps.TaskRepo, deps.WatchManager, logger.Z("integration"))
	deps.WebhookService = calendar.NewWebhookService(deps.IntegrationRepo, deps.Cache, deps.FollowUpService, logger.Z("webhook"))
	deps.WebhookService.SetChannelTokens(channelSigner)

	deps.OAuthService = auth.NewOAuthService(deps.SettingsService, deps.IntegrationRepo, deps.StateStore, deps.AccountProvider, httpClient)
	deps.OAuthService.SetWatchRegistrar(deps.WatchManager)
	deps.OAuthService.SetFollowUpRequester(deps.FollowUpService)

	logger.Info("Dependencies initialized (journal=%v, webhook=%v)", deps.RunStore != nil, cfg.WebhookAddress() != "")
	return deps, cleanup, nil
}
