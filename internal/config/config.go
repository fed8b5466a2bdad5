// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the gateway's
// settings: transport credentials, generation backends, quota windows, the
// image pipeline, persistence paths, logging, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// BackendConfig points at one OpenAI-compatible generation backend.
type BackendConfig struct {
	BaseURL string // e.g. "https://api.example.com/v1"
	APIKey  string
	Model   string // default model identifier
}

// QuotaConfig is one fixed-window per-user quota.
type QuotaConfig struct {
	Limit  int
	Window time.Duration
}

// ImageConfig tunes the image-generation pipeline.
type ImageConfig struct {
	Model            string
	Width            int
	Height           int
	Steps            int
	Count            int           // artifacts per request
	MaxPromptLen     int           // characters
	EnhanceWordLimit int           // prompts at or under this are enhanced
	Permits          int64         // process-wide concurrency cap
	ProgressInterval time.Duration // pause between progress edits
}

// StreamConfig tunes the flush/retry behavior of streamed responses.
type StreamConfig struct {
	FlushWords    int
	FlushBytes    int
	FlushInterval time.Duration
	RetryBackoff  time.Duration
	RetryDeadline time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Transport
	BotToken string // messaging transport credential

	// Ops HTTP server (health, metrics)
	Port    string // just the number
	GinMode string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Persistence
	DBPath        string // SQLite path
	RedisAddr     string // optional; image quota falls back to SQLite when empty
	RedisPassword string

	// Generation backends
	Primary BackendConfig
	Backup  BackendConfig

	// Quotas
	TextQuota  QuotaConfig
	ImageQuota QuotaConfig

	// Pipelines
	Image  ImageConfig
	Stream StreamConfig

	// History
	HistoryMaxWords int
	MaxPrompts      int

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		BotToken: getenv("BOT_TOKEN", ""),

		Port:    getenv("PORT", "8080"),
		GinMode: strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		DBPath:        getenv("DB_PATH", "gateway.db"),
		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		Primary: BackendConfig{
			BaseURL: getenv("PRIMARY_BASE_URL", ""),
			APIKey:  getenv("PRIMARY_API_KEY", ""),
			Model:   getenv("PRIMARY_MODEL", "llama-70b"),
		},
		Backup: BackendConfig{
			BaseURL: getenv("BACKUP_BASE_URL", ""),
			APIKey:  getenv("BACKUP_API_KEY", ""),
			Model:   getenv("BACKUP_MODEL", ""),
		},

		TextQuota: QuotaConfig{
			Limit:  getint("TEXT_QUOTA_LIMIT", 400),
			Window: getdur("TEXT_QUOTA_WINDOW", 12*time.Hour),
		},
		ImageQuota: QuotaConfig{
			Limit:  getint("IMAGE_QUOTA_LIMIT", 5),
			Window: getdur("IMAGE_QUOTA_WINDOW", 24*time.Hour),
		},

		Image: ImageConfig{
			Model:            getenv("IMAGE_MODEL", "flux"),
			Width:            getint("IMAGE_WIDTH", 1120),
			Height:           getint("IMAGE_HEIGHT", 1424),
			Steps:            getint("IMAGE_STEPS", 4),
			Count:            getint("IMAGE_COUNT", 2),
			MaxPromptLen:     getint("IMAGE_MAX_PROMPT_LEN", 600),
			EnhanceWordLimit: getint("IMAGE_ENHANCE_WORD_LIMIT", 30),
			Permits:          int64(getint("IMAGE_PERMITS", 5)),
			ProgressInterval: getdur("IMAGE_PROGRESS_INTERVAL", 3*time.Second),
		},

		Stream: StreamConfig{
			FlushWords:    getint("STREAM_FLUSH_WORDS", 200),
			FlushBytes:    getint("STREAM_FLUSH_BYTES", 200),
			FlushInterval: getdur("STREAM_FLUSH_INTERVAL", 5*time.Second),
			RetryBackoff:  getdur("STREAM_RETRY_BACKOFF", 5*time.Second),
			RetryDeadline: getdur("STREAM_RETRY_DEADLINE", 60*time.Second),
		},

		HistoryMaxWords: getint("HISTORY_MAX_WORDS", 2500),
		MaxPrompts:      getint("MAX_PROMPTS", 5),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-ai-gateway"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.TextQuota.Limit < 1 || cfg.ImageQuota.Limit < 1 {
		return cfg, errors.New("quota limits must be >= 1")
	}
	if cfg.TextQuota.Window <= 0 || cfg.ImageQuota.Window <= 0 {
		return cfg, errors.New("quota windows must be positive durations")
	}
	if cfg.Image.Count < 1 {
		return cfg, errors.New("IMAGE_COUNT must be >= 1")
	}
	if cfg.Image.MaxPromptLen < 1 {
		return cfg, errors.New("IMAGE_MAX_PROMPT_LEN must be >= 1")
	}
	if cfg.Image.Permits < 1 {
		return cfg, errors.New("IMAGE_PERMITS must be >= 1")
	}
	if cfg.Stream.FlushWords < 1 || cfg.Stream.FlushBytes < 1 {
		return cfg, errors.New("stream flush thresholds must be >= 1")
	}
	if cfg.Stream.FlushInterval <= 0 || cfg.Stream.RetryBackoff <= 0 || cfg.Stream.RetryDeadline <= 0 {
		return cfg, errors.New("stream intervals must be positive durations")
	}
	if cfg.HistoryMaxWords < 1 {
		return cfg, errors.New("HISTORY_MAX_WORDS must be >= 1")
	}
	if cfg.MaxPrompts < 1 {
		return cfg, errors.New("MAX_PROMPTS must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
