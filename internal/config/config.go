// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Redis settings (presence and rate-limit buckets; empty disables Redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMTimeout      time.Duration

	// HTTP-layer throttle (outer ceiling; the domain limiter is stricter)
	HTTPRateLimitRequests int
	HTTPRateLimitWindow   time.Duration

	// Domain rate limiter
	AIResponseMaxRequests   int
	AIResponseWindow        time.Duration
	AIResponseBlockDuration time.Duration

	UserMessageMaxRequests   int
	UserMessageWindow        time.Duration
	UserMessageBlockDuration time.Duration

	FileUploadMaxRequests   int
	FileUploadWindow        time.Duration
	FileUploadBlockDuration time.Duration

	// Presence
	PresenceTTL          time.Duration
	PresenceCleanupBatch int

	// Background jobs
	PresenceCleanupInterval time.Duration
	BucketSweepInterval     time.Duration
	UsageRollupInterval     time.Duration

	// Usage retention
	DailyUsageRetention  time.Duration
	HourlyUsageRetention time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),
		LLMTimeout:      getDurationEnv("LLM_TIMEOUT", 45*time.Second),

		// HTTP throttle
		HTTPRateLimitRequests: getIntEnv("HTTP_RATE_LIMIT_REQUESTS", 120),
		HTTPRateLimitWindow:   getDurationEnv("HTTP_RATE_LIMIT_WINDOW", time.Minute),

		// Domain limiter
		AIResponseMaxRequests:   getIntEnv("AI_RESPONSE_MAX_REQUESTS", 10),
		AIResponseWindow:        getDurationEnv("AI_RESPONSE_WINDOW", time.Minute),
		AIResponseBlockDuration: getDurationEnv("AI_RESPONSE_BLOCK_DURATION", 5*time.Minute),

		UserMessageMaxRequests:   getIntEnv("USER_MESSAGE_MAX_REQUESTS", 30),
		UserMessageWindow:        getDurationEnv("USER_MESSAGE_WINDOW", time.Minute),
		UserMessageBlockDuration: getDurationEnv("USER_MESSAGE_BLOCK_DURATION", 5*time.Minute),

		FileUploadMaxRequests:   getIntEnv("FILE_UPLOAD_MAX_REQUESTS", 20),
		FileUploadWindow:        getDurationEnv("FILE_UPLOAD_WINDOW", time.Hour),
		FileUploadBlockDuration: getDurationEnv("FILE_UPLOAD_BLOCK_DURATION", time.Hour),

		// Presence
		PresenceTTL:          getDurationEnv("PRESENCE_TTL", 45*time.Second),
		PresenceCleanupBatch: getIntEnv("PRESENCE_CLEANUP_BATCH", 100),

		// Background jobs
		PresenceCleanupInterval: getDurationEnv("PRESENCE_CLEANUP_INTERVAL", time.Minute),
		BucketSweepInterval:     getDurationEnv("BUCKET_SWEEP_INTERVAL", time.Hour),
		UsageRollupInterval:     getDurationEnv("USAGE_ROLLUP_INTERVAL", time.Hour),

		// Usage retention
		DailyUsageRetention:  getDurationEnv("DAILY_USAGE_RETENTION", 90*24*time.Hour),
		HourlyUsageRetention: getDurationEnv("HOURLY_USAGE_RETENTION", 7*24*time.Hour),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
