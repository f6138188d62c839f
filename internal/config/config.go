// Package config provides application configuration loaded from environment
// variables with defaults and validation. Values are parsed with
// caarlos0/env; an optional .env file is read first by LoadDotenv.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `env:"ENABLE_HSTS"  envDefault:"false"`
	HSTSMaxAge time.Duration `env:"HSTS_MAX_AGE" envDefault:"4320h"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED"                envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	ServiceName string  `env:"OTEL_SERVICE_NAME"           envDefault:"pos-device-bridge"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG"     envDefault:"1.0"`
}

// DBConfig selects the bridge's own database.
type DBConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DB_DSN"    envDefault:"posbridge.db"`
}

// UpstreamConfig points at the POS engine's database. An empty DSN reuses
// the bridge database, which is only useful in development.
type UpstreamConfig struct {
	Driver       string `env:"UPSTREAM_DB_DRIVER" envDefault:"mysql"`
	DSN          string `env:"UPSTREAM_DB_DSN"`
	TerminalCode string `env:"TERMINAL_CODE"      envDefault:"T1"`
}

// AuthConfig signs device tokens.
type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
}

// RateConfig holds both request limiters.
type RateConfig struct {
	// Burst guard, a token bucket per authenticated device (per IP for
	// anonymous callers). Burst stays above DeviceLimit so the quota is the
	// binding limit for a well-behaved device.
	RPS   float64 `env:"RATE_RPS"   envDefault:"10"`
	Burst int     `env:"RATE_BURST" envDefault:"200"`

	// Fixed-window quota per device on the API.
	DeviceLimit  int           `env:"DEVICE_RATE_LIMIT"  envDefault:"100"`
	DeviceWindow time.Duration `env:"DEVICE_RATE_WINDOW" envDefault:"1m"`
}

// WorkerConfig tunes the background loops.
type WorkerConfig struct {
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5s"`
	ReconcileBatch    int           `env:"RECONCILE_BATCH"    envDefault:"100"`
	SessionTTL        time.Duration `env:"SESSION_CACHE_TTL"  envDefault:"30s"`

	PrintMaxAttempts   int           `env:"PRINT_MAX_ATTEMPTS"   envDefault:"3"`
	PrintBaseBackoff   time.Duration `env:"PRINT_BASE_BACKOFF"   envDefault:"5s"`
	PrintMaxBackoff    time.Duration `env:"PRINT_MAX_BACKOFF"    envDefault:"5m"`
	PrintRetryInterval time.Duration `env:"PRINT_RETRY_INTERVAL" envDefault:"10s"`

	RetentionMaxAge   time.Duration `env:"RETENTION_MAX_AGE"  envDefault:"720h"`
	RetentionInterval time.Duration `env:"RETENTION_INTERVAL" envDefault:"1h"`

	BroadcastQueue   int `env:"BROADCAST_QUEUE_SIZE" envDefault:"256"`
	BroadcastWorkers int `env:"BROADCAST_WORKERS"    envDefault:"2"`
	HubSendBuffer    int `env:"WS_SEND_BUFFER"       envDefault:"64"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        `env:"PORT"                envDefault:"8080"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT"        envDefault:"15s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT"       envDefault:"20s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT"        envDefault:"60s"`
	MaxHeaderBytes    int           `env:"MAX_HEADER_BYTES"    envDefault:"1048576"`
	GinMode           string        `env:"GIN_MODE"            envDefault:"release"`

	// Logging / Docs
	LogLevel       string `env:"LOG_LEVEL"       envDefault:"info"`
	LogPretty      bool   `env:"LOG_PRETTY"      envDefault:"false"`
	SwaggerEnabled bool   `env:"SWAGGER_ENABLED" envDefault:"false"`
	APIBasePath    string `env:"API_BASE_PATH"   envDefault:"/api/v1"`

	// Money formatting on tickets (ISO 4217).
	Currency string `env:"CURRENCY" envDefault:"USD"`

	// Idempotency
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	DB       DBConfig
	Upstream UpstreamConfig
	Auth     AuthConfig
	Rate     RateConfig
	Workers  WorkerConfig
	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig
}

// LoadDotenv reads path (default ".env") into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load parses the environment, normalizes values, and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	// --- normalization ---
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.GinMode = strings.ToLower(cfg.GinMode)
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.APIBasePath = normalizeBasePath(cfg.APIBasePath)
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	cfg.Upstream.Driver = strings.ToLower(strings.TrimSpace(cfg.Upstream.Driver))
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	cfg.CORS.AllowedOrigins = trimAll(cfg.CORS.AllowedOrigins)

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite", "mysql":
	default:
		return errors.New("DB_DRIVER must be sqlite or mysql")
	}
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		return errors.New("DB_DSN must not be empty")
	}
	if cfg.Upstream.DSN != "" {
		switch cfg.Upstream.Driver {
		case "sqlite", "mysql":
		default:
			return errors.New("UPSTREAM_DB_DRIVER must be sqlite or mysql")
		}
	}
	if strings.TrimSpace(cfg.Upstream.TerminalCode) == "" {
		return errors.New("TERMINAL_CODE must not be empty")
	}
	if len(cfg.Auth.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 bytes")
	}
	if cfg.Auth.TokenTTL < 0 {
		return errors.New("TOKEN_TTL must be >= 0")
	}
	if cfg.Rate.RPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Rate.DeviceLimit < 0 {
		return errors.New("DEVICE_RATE_LIMIT must be >= 0")
	}
	if cfg.Rate.DeviceWindow <= 0 {
		return errors.New("DEVICE_RATE_WINDOW must be > 0")
	}
	w := cfg.Workers
	if w.ReconcileInterval <= 0 || w.PrintRetryInterval <= 0 || w.RetentionInterval <= 0 {
		return errors.New("worker intervals must be positive durations")
	}
	if w.ReconcileBatch < 1 {
		return errors.New("RECONCILE_BATCH must be >= 1")
	}
	if w.SessionTTL <= 0 {
		return errors.New("SESSION_CACHE_TTL must be > 0")
	}
	if w.PrintMaxAttempts < 1 {
		return errors.New("PRINT_MAX_ATTEMPTS must be >= 1")
	}
	if w.PrintBaseBackoff <= 0 || w.PrintMaxBackoff < w.PrintBaseBackoff {
		return errors.New("PRINT_BASE_BACKOFF must be > 0 and <= PRINT_MAX_BACKOFF")
	}
	if w.RetentionMaxAge <= 0 {
		return errors.New("RETENTION_MAX_AGE must be > 0")
	}
	if w.BroadcastQueue < 1 || w.BroadcastWorkers < 1 || w.HubSendBuffer < 1 {
		return errors.New("broadcast queue, workers and websocket buffer must be >= 1")
	}
	if len(cfg.Currency) != 3 {
		return errors.New("CURRENCY must be a 3-letter ISO 4217 code")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
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
