package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable read from the environment at startup.
type Config struct {
	// Stores
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	RedisHost  string
	RedisPort  string

	// Coordination
	EtcdEndpoints     []string
	LeaderElectionTTL int

	// API
	APIPort   string
	JWTSecret string

	// Worker
	WorkerConcurrency int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	PromoteInterval   time.Duration

	// Schedule executor
	SchedulerCheckInterval time.Duration

	// Orphan recovery
	OrphanCheckInterval  time.Duration
	OrphanStaleThreshold time.Duration
	OrphanRecoveryDelay  time.Duration

	// Webhooks
	WebhookTimeout       time.Duration
	WebhookMaxAttempts   int
	WebhookRetryInterval time.Duration
	WebhookRetryBase     time.Duration

	// Dead-letter archive
	ArchiveBucket   string
	ArchiveEndpoint string
	ArchiveRegion   string
	ArchiveLocalDir string

	// Observability
	LogLevel       string
	TracingEnabled bool
	OTLPEndpoint   string
}

// Load reads configuration from the environment with production defaults.
func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "taskforge"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "taskforge"),
		RedisHost:  getEnv("REDIS_HOST", "localhost"),
		RedisPort:  getEnv("REDIS_PORT", "6379"),

		EtcdEndpoints:     []string{getEnv("ETCD_ENDPOINTS", "localhost:2379")},
		LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),

		APIPort:   getEnv("API_PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 1),
		PollInterval:      getEnvAsDuration("POLL_INTERVAL_MS", 1000),
		HeartbeatInterval: getEnvAsDuration("HEARTBEAT_INTERVAL_MS", 30_000),
		PromoteInterval:   getEnvAsDuration("PROMOTE_INTERVAL_MS", 5000),

		SchedulerCheckInterval: getEnvAsDuration("SCHEDULER_CHECK_INTERVAL_MS", 10_000),

		OrphanCheckInterval:  getEnvAsDuration("ORPHAN_CHECK_INTERVAL_MS", 60_000),
		OrphanStaleThreshold: getEnvAsDuration("ORPHAN_STALE_THRESHOLD_MS", 90_000),
		OrphanRecoveryDelay:  getEnvAsDuration("ORPHAN_RECOVERY_DELAY_MS", 5000),

		WebhookTimeout:       getEnvAsDuration("WEBHOOK_TIMEOUT_MS", 10_000),
		WebhookMaxAttempts:   getEnvAsInt("WEBHOOK_MAX_ATTEMPTS", 3),
		WebhookRetryInterval: getEnvAsDuration("WEBHOOK_RETRY_INTERVAL_MS", 30_000),
		WebhookRetryBase:     getEnvAsDuration("WEBHOOK_RETRY_BASE_DELAY_MS", 5000),

		ArchiveBucket:   getEnv("ARCHIVE_BUCKET", ""),
		ArchiveEndpoint: getEnv("ARCHIVE_ENDPOINT", ""),
		ArchiveRegion:   getEnv("ARCHIVE_REGION", "us-east-1"),
		ArchiveLocalDir: getEnv("ARCHIVE_LOCAL_DIR", "/var/lib/taskforge/deadletter"),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		TracingEnabled: getEnv("TRACING_ENABLED", "false") == "true",
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4318"),
	}
}

// DSN builds the Postgres connection string.
func (c *Config) DSN() string {
	return "host=" + c.DBHost + " user=" + c.DBUser + " password=" + c.DBPassword +
		" dbname=" + c.DBName + " port=" + c.DBPort + " sslmode=disable TimeZone=UTC"
}

// RedisAddr builds the Redis address.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallbackMs)) * time.Millisecond
}
