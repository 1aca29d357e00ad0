package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API and the queue.
type Config struct {
	Port string

	AuthToken   string
	CORSOrigins []string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ProviderBaseURL    string
	ProviderTimeoutMS  int
	ProviderChannelRef string
	ProviderCredential string
	ProviderSessionRef string
	ProviderEnabled    bool

	CompressionProfile string
	PacingPreset       string
	StyleTags          []string

	AssetsDir string

	ConcurrencyCap    int
	DispatchDelayMS   int
	IdleIntervalMS    int
	StuckThresholdSec int
	SweepIntervalSec  int
	RetentionAgeHours int
	RetentionSweepMin int

	MaxRetries            int
	MaxConcurrencyRetries int
	MaxCongestionRetries  int
	RetryBaseDelaySec     int
	ConcurrencyDelaySec   int
	CongestionDelaySec    int
	AvgAttemptDurationSec int

	MaxPolls             int
	PollIntervalSec      int
	CongestionExtraPolls int
	ExtendedWaitSec      int

	HistoryTTLMin     int
	HistoryMaxEntries int

	RateLimitRPS   float64
	RateLimitBurst int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken:   getEnv("API_AUTH_TOKEN", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS", "*"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ProviderBaseURL:    getEnv("PROVIDER_BASE_URL", ""),
		ProviderTimeoutMS:  getEnvInt("PROVIDER_TIMEOUT_MS", 30000),
		ProviderChannelRef: getEnv("PROVIDER_CHANNEL_REF", ""),
		ProviderCredential: getEnv("PROVIDER_CREDENTIAL", ""),
		ProviderSessionRef: getEnv("PROVIDER_SESSION_REF", ""),
		ProviderEnabled:    getEnvBool("PROVIDER_ENABLED", true),

		CompressionProfile: getEnv("COMPRESSION_PROFILE", "balanced"),
		PacingPreset:       getEnv("PACING_PRESET", "brisk"),
		StyleTags:          getEnvList("STYLE_TAGS", ""),

		AssetsDir: getEnv("ASSETS_DIR", "generated"),

		ConcurrencyCap:    getEnvInt("QUEUE_CONCURRENCY_CAP", 3),
		DispatchDelayMS:   getEnvInt("QUEUE_DISPATCH_DELAY_MS", 500),
		IdleIntervalMS:    getEnvInt("QUEUE_IDLE_INTERVAL_MS", 2000),
		StuckThresholdSec: getEnvInt("QUEUE_STUCK_THRESHOLD_SEC", 300),
		SweepIntervalSec:  getEnvInt("QUEUE_SWEEP_INTERVAL_SEC", 60),
		RetentionAgeHours: getEnvInt("QUEUE_RETENTION_AGE_HOURS", 168),
		RetentionSweepMin: getEnvInt("QUEUE_RETENTION_SWEEP_MIN", 60),

		MaxRetries:            getEnvInt("QUEUE_MAX_RETRIES", 2),
		MaxConcurrencyRetries: getEnvInt("QUEUE_MAX_CONCURRENCY_RETRIES", 4),
		MaxCongestionRetries:  getEnvInt("QUEUE_MAX_CONGESTION_RETRIES", 3),
		RetryBaseDelaySec:     getEnvInt("QUEUE_RETRY_BASE_DELAY_SEC", 15),
		ConcurrencyDelaySec:   getEnvInt("QUEUE_CONCURRENCY_DELAY_SEC", 90),
		CongestionDelaySec:    getEnvInt("QUEUE_CONGESTION_DELAY_SEC", 180),
		AvgAttemptDurationSec: getEnvInt("QUEUE_AVG_ATTEMPT_SEC", 240),

		MaxPolls:             getEnvInt("ATTEMPT_MAX_POLLS", 30),
		PollIntervalSec:      getEnvInt("ATTEMPT_POLL_INTERVAL_SEC", 10),
		CongestionExtraPolls: getEnvInt("ATTEMPT_CONGESTION_EXTRA_POLLS", 15),
		ExtendedWaitSec:      getEnvInt("ATTEMPT_EXTENDED_WAIT_SEC", 120),

		HistoryTTLMin:     getEnvInt("HISTORY_TTL_MIN", 30),
		HistoryMaxEntries: getEnvInt("HISTORY_MAX_ENTRIES", 200),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
