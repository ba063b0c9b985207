// Package config loads the bot's settings from environment variables, with
// defaults, normalization and validation. It covers the Telegram transport,
// the AI backend, the quota ledger store, conversation memory, per-user flood
// control, the ops HTTP server and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-assistant-bot/internal/sysutil"
)

// TelegramConfig holds transport settings.
type TelegramConfig struct {
	Token       string        // TELEGRAM_TOKEN
	PollTimeout time.Duration // TELEGRAM_POLL_TIMEOUT, long-poll wait
	Debug       bool          // TELEGRAM_DEBUG
}

// AIConfig holds generative backend settings.
type AIConfig struct {
	APIKey  string        // GEMINI_API_KEY, falls back to GOOGLE_GEMINI_KEY
	Model   string        // GEMINI_MODEL
	BaseURL string        // GEMINI_BASE_URL, OpenAI-compatible endpoint
	Timeout time.Duration // AI_TIMEOUT
}

// QuotaConfig holds ledger defaults.
type QuotaConfig struct {
	DefaultLimit int // DEFAULT_LIMIT, limit of a newly seen user
	BonusAmount  int // BONUS_AMOUNT, rights granted per valid code
}

// HistoryConfig sizes the per-user conversation window.
type HistoryConfig struct {
	Limit   int // HISTORY_LIMIT, entries kept per user
	Snippet int // HISTORY_SNIPPET, max runes of a text entry in summaries
}

// SecurityConfig defines security-related settings for the ops server.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
	AdminToken string // ADMIN_TOKEN; admin API is not mounted when empty
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the bot.
type Config struct {
	BotName string // BOT_NAME, used in the /start greeting

	Telegram TelegramConfig
	AI       AIConfig
	Quota    QuotaConfig
	History  HistoryConfig

	// Storage
	DBPath string // SQLite path of the row store

	// Flood control per Telegram user
	RateRPS   float64
	RateBurst int

	// Redelivered updates are ignored for this long
	UpdateDedupTTL time.Duration

	// Ops HTTP server
	OpsEnabled        bool
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test
	Security          SecurityConfig

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

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

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result. Credentials are not required
// here; see RequireCredentials.
func Load() (Config, error) {
	cfg := Config{
		BotName: getenv("BOT_NAME", "Adil AI"),

		Telegram: TelegramConfig{
			Token:       strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
			PollTimeout: getdur("TELEGRAM_POLL_TIMEOUT", 60*time.Second),
			Debug:       getbool("TELEGRAM_DEBUG", false),
		},
		AI: AIConfig{
			APIKey:  strings.TrimSpace(sysutil.FirstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_GEMINI_KEY"))),
			Model:   getenv("GEMINI_MODEL", "gemini-2.5-flash"),
			BaseURL: getenv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
			Timeout: getdur("AI_TIMEOUT", 60*time.Second),
		},
		Quota: QuotaConfig{
			DefaultLimit: getint("DEFAULT_LIMIT", 10),
			BonusAmount:  getint("BONUS_AMOUNT", 10),
		},
		History: HistoryConfig{
			Limit:   getint("HISTORY_LIMIT", 5),
			Snippet: getint("HISTORY_SNIPPET", 180),
		},

		DBPath: getenv("DB_PATH", "app.db"),

		RateRPS:   getfloat("RATE_RPS", 1.0),
		RateBurst: getint("RATE_BURST", 5),

		UpdateDedupTTL: getdur("UPDATE_DEDUP_TTL", 24*time.Hour),

		OpsEnabled:        getbool("OPS_ENABLED", true),
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
			AdminToken: strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		},

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-assistant-bot"),
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
	cfg.BotName = strings.TrimSpace(cfg.BotName)

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if cfg.BotName == "" {
		return cfg, errors.New("BOT_NAME must not be empty")
	}
	if cfg.Telegram.PollTimeout < time.Second {
		return cfg, errors.New("TELEGRAM_POLL_TIMEOUT must be at least 1s")
	}
	if cfg.AI.Timeout <= 0 {
		return cfg, errors.New("AI_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.AI.Model) == "" {
		return cfg, errors.New("GEMINI_MODEL must not be empty")
	}
	if cfg.Quota.DefaultLimit < 1 {
		return cfg, errors.New("DEFAULT_LIMIT must be >= 1")
	}
	if cfg.Quota.BonusAmount < 1 {
		return cfg, errors.New("BONUS_AMOUNT must be >= 1")
	}
	if cfg.History.Limit < 1 {
		return cfg, errors.New("HISTORY_LIMIT must be >= 1")
	}
	if cfg.History.Snippet < 4 {
		return cfg, errors.New("HISTORY_SNIPPET must be >= 4")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.UpdateDedupTTL <= 0 {
		return cfg, errors.New("UPDATE_DEDUP_TTL must be > 0")
	}
	if cfg.OpsEnabled {
		if strings.TrimSpace(cfg.Port) == "" {
			return cfg, errors.New("PORT must not be empty")
		}
		if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
			return cfg, errors.New("timeouts must be positive durations")
		}
		if cfg.MaxHeaderBytes <= 0 {
			return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
		}
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// RequireCredentials reports the first missing secret needed to talk to
// Telegram and the AI backend.
func (c Config) RequireCredentials() error {
	if c.Telegram.Token == "" {
		return errors.New("TELEGRAM_TOKEN is required")
	}
	if c.AI.APIKey == "" {
		return errors.New("GEMINI_API_KEY (or GOOGLE_GEMINI_KEY) is required")
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if f, err := strconv.ParseFloat(getenv(k, ""), 64); err == nil {
		return f
	}
	return def
}

func getint(k string, def int) int {
	if i, err := strconv.Atoi(getenv(k, "")); err == nil {
		return i
	}
	return def
}

func getbool(k string, def bool) bool {
	switch strings.ToLower(getenv(k, "")) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(getenv(k, "")); err == nil {
		return d
	}
	return def
}
