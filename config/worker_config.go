package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string
	AutoMigrate bool

	// Auth
	JWTSecret       string
	SupabaseURL     string
	SchedulerSecret string
	EncryptionKey   string
	WebhookSecret   string // signs push channel tokens

	// URLs
	FrontendURL   string
	PublicBaseURL string // externally reachable base for webhook delivery

	// Google OAuth bootstrap values. Only used to seed the settings record
	// when it is empty; the settings record is authoritative afterwards.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Calendar sync
	DefaultTimeZone    string
	TaskPrefix         string
	SyncBatchSize      int
	SyncLookback       time.Duration
	SyncLookahead      time.Duration
	SyncMaxListItems   int
	BatchTimeout       time.Duration
	ManualSyncTimeout  time.Duration
	FollowUpInlineWait time.Duration
	RemoteRatePerSec   float64
	RemoteBurst        int
	ManualSyncPerMin   int
	WatchRenewBefore   time.Duration

	// Auto sync (worker mode)
	AutoSyncEnabled  bool
	AutoSyncInterval time.Duration
	AutoSyncMaxUsers int

	// Worker
	WorkerID        string
	WorkerCount     int
	WorkerQueueSize int

	// Consumer (Redis Stream)
	ConsumerBatchSize       int
	ConsumerBlockMS         int
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int

	// Notification
	EmailRelayURL string
	EmailFrom     string

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "calsync"),
		RedisURL:    getEnv("REDIS_URL", ""),
		AutoMigrate: getEnvBool("AUTO_MIGRATE", false),

		// Auth
		JWTSecret:       getEnv("SUPABASE_JWT_SECRET", ""),
		SupabaseURL:     getEnv("SUPABASE_URL", ""),
		SchedulerSecret: getEnv("SCHEDULER_SECRET", ""),
		EncryptionKey:   getEnv("ENCRYPTION_KEY", ""),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),

		// URLs
		FrontendURL:   strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),

		// Google OAuth bootstrap
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		// Calendar sync
		DefaultTimeZone:    getEnv("DEFAULT_TIME_ZONE", "UTC"),
		TaskPrefix:         getEnv("CALENDAR_TASK_PREFIX", "[Tarea] "),
		SyncBatchSize:      getEnvInt("SYNC_BATCH_SIZE", 50),
		SyncLookback:       time.Duration(getEnvInt("SYNC_LOOKBACK_DAYS", 30)) * 24 * time.Hour,
		SyncLookahead:      time.Duration(getEnvInt("SYNC_LOOKAHEAD_DAYS", 90)) * 24 * time.Hour,
		SyncMaxListItems:   getEnvInt("SYNC_MAX_LIST_ITEMS", 2500),
		BatchTimeout:       time.Duration(getEnvInt("SYNC_BATCH_TIMEOUT_SEC", 240)) * time.Second,
		ManualSyncTimeout:  time.Duration(getEnvInt("MANUAL_SYNC_TIMEOUT_SEC", 25)) * time.Second,
		FollowUpInlineWait: time.Duration(getEnvInt("FOLLOWUP_INLINE_WAIT_SEC", 5)) * time.Second,
		RemoteRatePerSec:   getEnvFloat("REMOTE_RATE_PER_SEC", 8),
		RemoteBurst:        getEnvInt("REMOTE_BURST", 16),
		ManualSyncPerMin:   getEnvInt("MANUAL_SYNC_PER_MIN", 6),
		WatchRenewBefore:   time.Duration(getEnvInt("WATCH_RENEW_BEFORE_HOURS", 24)) * time.Hour,

		// Auto sync
		AutoSyncEnabled:  getEnvBool("AUTO_SYNC_ENABLED", false),
		AutoSyncInterval: time.Duration(getEnvInt("AUTO_SYNC_INTERVAL_MIN", 15)) * time.Minute,
		AutoSyncMaxUsers: getEnvInt("AUTO_SYNC_MAX_USERS", 25),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerCount:     getEnvInt("WORKER_COUNT", 4),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 100),

		// Consumer
		ConsumerBatchSize:       getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlockMS:         getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 60),

		// Notification
		EmailRelayURL: getEnv("EMAIL_RELAY_URL", ""),
		EmailFrom:     getEnv("EMAIL_FROM", "no-reply@localhost"),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}

	if cfg.EncryptionKey == "" {
		cfg.EncryptionKey = cfg.JWTSecret
	}
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = cfg.EncryptionKey
	}

	return cfg, nil
}

// Validate reports settings the process cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if c.EncryptionKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_KEY or SUPABASE_JWT_SECRET is required"))
	}
	if _, err := time.LoadLocation(c.DefaultTimeZone); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_TIME_ZONE: %w", err))
	}
	if c.SyncBatchSize <= 0 || c.SyncMaxListItems <= 0 {
		errs = append(errs, errors.New("SYNC_BATCH_SIZE and SYNC_MAX_LIST_ITEMS must be positive"))
	}
	return errors.Join(errs...)
}

// WebhookAddress is the push-notification URL registered with Google.
// Empty when PUBLIC_BASE_URL is not configured.
func (c *Config) WebhookAddress() string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return c.PublicBaseURL + "/api/v1/webhooks/google-calendar"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
