// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database connection, booking policy,
// outbound call resilience, ledger retention, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-booking-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and configures the persistence backend.
//
// Driver "sqlite" uses a file path (dev/test); driver "postgres" uses a DSN
// and enables the transaction-scoped advisory slot lock.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite path (DB_PATH)
	DSN    string // Postgres DSN (DB_DSN)
}

// BookingConfig holds slot-reservation policy knobs.
type BookingConfig struct {
	// BucketSize is the granularity of the advisory lock key. All contenders
	// for start times inside the same bucket serialize on one lock.
	BucketSize time.Duration
	// SlotStep is the probing step when computing alternative free slots.
	SlotStep time.Duration
	// MaxAlternatives caps how many open slots a conflict response suggests.
	MaxAlternatives int
	// MaxDuration rejects absurd reservation lengths up front.
	MaxDuration time.Duration
	// DefaultRegion is the ISO-3166 alpha-2 region used to parse national
	// phone numbers when a tenant has not set its own.
	DefaultRegion string
	// DefaultTimezone resolves year-less dates when a tenant has no zone set.
	DefaultTimezone string
}

// OutboundConfig tunes the resilient call orchestrator.
type OutboundConfig struct {
	CallTimeout     time.Duration // per-attempt provider call timeout
	MaxAttempts     int           // attempts per Invoke (first try included)
	InitialBackoff  time.Duration // first retry delay; doubles per attempt
	BreakerFailures int           // consecutive failures before the breaker opens
	BreakerCooldown time.Duration // open-state duration before half-open
	ProviderRPS     float64       // per-(tenant,provider) dispatch rate
	ProviderBurst   int
	CredentialTTL   time.Duration // credential cache lifetime
	RefreshSkew     time.Duration // refresh tokens expiring within this window

	// Provider endpoints. An empty URL swaps in the log-only provider so
	// local environments run without external services.
	MessagingURL string
	CalendarURL  string
	WebhookURL   string
}

// LedgerConfig governs delivery-log retries, dispatch, and retention.
type LedgerConfig struct {
	MaxAttempts      int           // delivery attempts before dead_letter
	RetryBase        time.Duration // base for exponential reschedule backoff
	DispatchInterval time.Duration // how often the dispatcher claims due rows
	DispatchBatch    int           // rows claimed per sweep
	Retention        time.Duration // completed/dead_letter rows older than this are reaped
	ReaperSpec       string        // cron spec for the retention reaper
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Auth
	JWTSecret string // HMAC secret for session tokens

	// Persistence
	DB DBConfig

	// Domain
	Booking  BookingConfig
	Outbound OutboundConfig
	Ledger   LedgerConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / routing
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Auth
		JWTSecret: getenv("JWT_SECRET", ""),

		// Persistence
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "booking.db"),
			DSN:    getenv("DB_DSN", ""),
		},

		// Booking policy
		Booking: BookingConfig{
			BucketSize:      getdur("BOOKING_BUCKET_SIZE", time.Hour),
			SlotStep:        getdur("BOOKING_SLOT_STEP", 30*time.Minute),
			MaxAlternatives: getint("BOOKING_MAX_ALTERNATIVES", 3),
			MaxDuration:     getdur("BOOKING_MAX_DURATION", 8*time.Hour),
			DefaultRegion:   strings.ToUpper(getenv("BOOKING_DEFAULT_REGION", "US")),
			DefaultTimezone: getenv("BOOKING_DEFAULT_TIMEZONE", "UTC"),
		},

		// Outbound resilience
		Outbound: OutboundConfig{
			CallTimeout:     getdur("OUTBOUND_CALL_TIMEOUT", 10*time.Second),
			MaxAttempts:     getint("OUTBOUND_MAX_ATTEMPTS", 3),
			InitialBackoff:  getdur("OUTBOUND_INITIAL_BACKOFF", time.Second),
			BreakerFailures: getint("OUTBOUND_BREAKER_FAILURES", 3),
			BreakerCooldown: getdur("OUTBOUND_BREAKER_COOLDOWN", 30*time.Second),
			ProviderRPS:     getfloat("OUTBOUND_PROVIDER_RPS", 5.0),
			ProviderBurst:   getint("OUTBOUND_PROVIDER_BURST", 10),
			CredentialTTL:   getdur("OUTBOUND_CREDENTIAL_TTL", 5*time.Minute),
			RefreshSkew:     getdur("OUTBOUND_REFRESH_SKEW", time.Minute),
			MessagingURL:    getenv("OUTBOUND_MESSAGING_URL", ""),
			CalendarURL:     getenv("OUTBOUND_CALENDAR_URL", ""),
			WebhookURL:      getenv("OUTBOUND_WEBHOOK_URL", ""),
		},

		// Delivery ledger
		Ledger: LedgerConfig{
			MaxAttempts:      getint("LEDGER_MAX_ATTEMPTS", 3),
			RetryBase:        getdur("LEDGER_RETRY_BASE", time.Minute),
			DispatchInterval: getdur("LEDGER_DISPATCH_INTERVAL", 5*time.Second),
			DispatchBatch:    getint("LEDGER_DISPATCH_BATCH", 50),
			Retention:        getdur("LEDGER_RETENTION", 30*24*time.Hour),
			ReaperSpec:       getenv("LEDGER_REAPER_SPEC", "0 3 * * *"),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-booking-backend"),
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
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty when DB_DRIVER=sqlite")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return cfg, errors.New("DB_DSN must not be empty when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be sqlite or postgres")
	}
	if cfg.Booking.BucketSize <= 0 || cfg.Booking.SlotStep <= 0 {
		return cfg, errors.New("booking bucket size and slot step must be positive")
	}
	if cfg.Booking.SlotStep > cfg.Booking.BucketSize {
		return cfg, errors.New("BOOKING_SLOT_STEP must not exceed BOOKING_BUCKET_SIZE")
	}
	if cfg.Booking.MaxAlternatives < 0 {
		return cfg, errors.New("BOOKING_MAX_ALTERNATIVES must be >= 0")
	}
	if cfg.Booking.MaxDuration <= 0 {
		return cfg, errors.New("BOOKING_MAX_DURATION must be > 0")
	}
	if len(cfg.Booking.DefaultRegion) != 2 {
		return cfg, errors.New("BOOKING_DEFAULT_REGION must be a two-letter region code")
	}
	if _, err := time.LoadLocation(cfg.Booking.DefaultTimezone); err != nil {
		return cfg, errors.New("BOOKING_DEFAULT_TIMEZONE must be a valid IANA zone")
	}
	if cfg.Outbound.MaxAttempts < 1 {
		return cfg, errors.New("OUTBOUND_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Outbound.CallTimeout <= 0 || cfg.Outbound.InitialBackoff <= 0 {
		return cfg, errors.New("outbound timeout and backoff must be positive")
	}
	if cfg.Outbound.BreakerFailures < 1 {
		return cfg, errors.New("OUTBOUND_BREAKER_FAILURES must be >= 1")
	}
	if cfg.Outbound.BreakerCooldown <= 0 {
		return cfg, errors.New("OUTBOUND_BREAKER_COOLDOWN must be > 0")
	}
	if cfg.Outbound.ProviderRPS < 0 {
		return cfg, errors.New("OUTBOUND_PROVIDER_RPS must be >= 0")
	}
	if cfg.Outbound.ProviderBurst < 1 {
		return cfg, errors.New("OUTBOUND_PROVIDER_BURST must be >= 1")
	}
	if cfg.Ledger.MaxAttempts < 1 {
		return cfg, errors.New("LEDGER_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Ledger.RetryBase <= 0 || cfg.Ledger.DispatchInterval <= 0 {
		return cfg, errors.New("ledger retry base and dispatch interval must be positive")
	}
	if cfg.Ledger.DispatchBatch < 1 {
		return cfg, errors.New("LEDGER_DISPATCH_BATCH must be >= 1")
	}
	if cfg.Ledger.Retention <= 0 {
		return cfg, errors.New("LEDGER_RETENTION must be > 0")
	}
	if _, err := cron.ParseStandard(cfg.Ledger.ReaperSpec); err != nil {
		return cfg, errors.New("LEDGER_REAPER_SPEC is not a valid cron spec")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
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

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
