package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testSecret = "config-test-secret-0123456789"

// baseEnv sets the one value that has no usable default.
func baseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)
}

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	baseEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	baseEnv(t)
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("unexpected base path %q", cfg.APIBasePath)
	}
}

func TestLoad_Defaults(t *testing.T) {
	baseEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8080" || cfg.GinMode != "release" || cfg.LogLevel != "info" {
		t.Fatalf("server defaults unexpected: %+v", cfg)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.DSN != "posbridge.db" {
		t.Fatalf("db defaults unexpected: %+v", cfg.DB)
	}
	if cfg.Upstream.DSN != "" || cfg.Upstream.TerminalCode != "T1" {
		t.Fatalf("upstream defaults unexpected: %+v", cfg.Upstream)
	}
	if cfg.Rate.RPS != 10 || cfg.Rate.Burst != 200 {
		t.Fatalf("burst guard defaults unexpected: %+v", cfg.Rate)
	}
	if cfg.Rate.DeviceLimit != 100 || cfg.Rate.DeviceWindow != time.Minute {
		t.Fatalf("device quota defaults unexpected: %+v", cfg.Rate)
	}
	w := cfg.Workers
	if w.ReconcileInterval != 5*time.Second || w.SessionTTL != 30*time.Second {
		t.Fatalf("worker defaults unexpected: %+v", w)
	}
	if w.PrintMaxAttempts != 3 || w.PrintBaseBackoff != 5*time.Second || w.PrintMaxBackoff != 5*time.Minute {
		t.Fatalf("print defaults unexpected: %+v", w)
	}
	if cfg.Currency != "USD" || cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("misc defaults unexpected: %+v", cfg)
	}
	if cfg.CORS.AllowedOrigins != nil {
		t.Fatalf("expected allow-all CORS by default, got %#v", cfg.CORS.AllowedOrigins)
	}
	if cfg.OTEL.Enabled || cfg.OTEL.ServiceName != "pos-device-bridge" {
		t.Fatalf("otel defaults unexpected: %+v", cfg.OTEL)
	}
}

func TestLoad_OverridesAndNormalization(t *testing.T) {
	baseEnv(t)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird")

	t.Setenv("LOG_LEVEL", " WARNING ")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("SWAGGER_ENABLED", "1")
	t.Setenv("API_BASE_PATH", "bridge/v2/")

	t.Setenv("DB_DRIVER", "MySQL")
	t.Setenv("DB_DSN", "bridge:pw@tcp(db:3306)/bridge?parseTime=true")
	t.Setenv("UPSTREAM_DB_DRIVER", " mysql ")
	t.Setenv("UPSTREAM_DB_DSN", "pos:pw@tcp(pos:3306)/pos?parseTime=true")
	t.Setenv("TERMINAL_CODE", "BAR")

	t.Setenv("RATE_RPS", "2.5")
	t.Setenv("RATE_BURST", "4")
	t.Setenv("DEVICE_RATE_LIMIT", "120")
	t.Setenv("DEVICE_RATE_WINDOW", "30s")

	t.Setenv("PRINT_MAX_ATTEMPTS", "5")
	t.Setenv("CURRENCY", "eur")

	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")
	t.Setenv("IDEMPOTENCY_TTL", "48h")

	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/bridge/v2" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}
	if cfg.DB.Driver != "mysql" || cfg.Upstream.Driver != "mysql" || cfg.Upstream.TerminalCode != "BAR" {
		t.Fatalf("db fields unexpected: %+v %+v", cfg.DB, cfg.Upstream)
	}
	if cfg.Rate.RPS != 2.5 || cfg.Rate.Burst != 4 || cfg.Rate.DeviceLimit != 120 || cfg.Rate.DeviceWindow != 30*time.Second {
		t.Fatalf("rate fields unexpected: %+v", cfg.Rate)
	}
	if cfg.Workers.PrintMaxAttempts != 5 || cfg.Currency != "EUR" {
		t.Fatalf("worker/currency unexpected: %+v %q", cfg.Workers, cfg.Currency)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}
	if cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("idempotency ttl unexpected: %v", cfg.IdempotencyTTL)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

func TestLoad_ParseError(t *testing.T) {
	baseEnv(t)
	t.Setenv("RATE_BURST", "nope")
	_, err := Load()
	if err == nil || !containsErr(err, "parse env") {
		t.Fatalf("expected parse error, got: %v", err)
	}
}

// Each case triggers exactly one validation error.
func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name, key, val, want string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"empty PORT", "PORT", "   ", "PORT must not be empty"},
		{"non-positive timeouts", "READ_TIMEOUT", "0s", "timeouts must be positive"},
		{"max header bytes", "MAX_HEADER_BYTES", "0", "MAX_HEADER_BYTES"},
		{"unknown db driver", "DB_DRIVER", "postgres", "DB_DRIVER"},
		{"empty db dsn", "DB_DSN", "  ", "DB_DSN"},
		{"empty terminal", "TERMINAL_CODE", " ", "TERMINAL_CODE"},
		{"short secret", "JWT_SECRET", "short", "JWT_SECRET"},
		{"rate rps negative", "RATE_RPS", "-1", "RATE_RPS"},
		{"rate burst < 1", "RATE_BURST", "0", "RATE_BURST"},
		{"device limit negative", "DEVICE_RATE_LIMIT", "-1", "DEVICE_RATE_LIMIT"},
		{"device window zero", "DEVICE_RATE_WINDOW", "0s", "DEVICE_RATE_WINDOW"},
		{"reconcile interval zero", "RECONCILE_INTERVAL", "0s", "worker intervals"},
		{"reconcile batch zero", "RECONCILE_BATCH", "0", "RECONCILE_BATCH"},
		{"session ttl zero", "SESSION_CACHE_TTL", "0s", "SESSION_CACHE_TTL"},
		{"print attempts zero", "PRINT_MAX_ATTEMPTS", "0", "PRINT_MAX_ATTEMPTS"},
		{"print backoff above max", "PRINT_BASE_BACKOFF", "10m", "PRINT_BASE_BACKOFF"},
		{"retention age zero", "RETENTION_MAX_AGE", "0s", "RETENTION_MAX_AGE"},
		{"broadcast workers zero", "BROADCAST_WORKERS", "0", "broadcast queue"},
		{"bad currency", "CURRENCY", "EURO", "CURRENCY"},
		{"hsts max age negative", "HSTS_MAX_AGE", "-1s", "HSTS_MAX_AGE"},
		{"idempotency ttl zero", "IDEMPOTENCY_TTL", "0s", "IDEMPOTENCY_TTL"},
		{"otel ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			baseEnv(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %q validation error, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoad_UpstreamDriverCheckedOnlyWithDSN(t *testing.T) {
	baseEnv(t)
	t.Setenv("UPSTREAM_DB_DRIVER", "oracle")
	if _, err := Load(); err != nil {
		t.Fatalf("driver without DSN should be ignored, got: %v", err)
	}
	t.Setenv("UPSTREAM_DB_DSN", "x")
	if _, err := Load(); err == nil || !containsErr(err, "UPSTREAM_DB_DRIVER") {
		t.Fatalf("expected UPSTREAM_DB_DRIVER error, got: %v", err)
	}
}

func TestLoadDotenv(t *testing.T) {
	if err := LoadDotenv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored, got: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.env")
	body := "POSBRIDGE_DOTENV_ONLY=from-file\nPOSBRIDGE_DOTENV_SET=from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POSBRIDGE_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("POSBRIDGE_DOTENV_ONLY") })

	if err := LoadDotenv(path); err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}
	if got := os.Getenv("POSBRIDGE_DOTENV_ONLY"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("POSBRIDGE_DOTENV_SET"); got != "from-env" {
		t.Fatalf("existing env must win, got %q", got)
	}
}

func TestHelpers_trimAll_and_normalizeBasePath(t *testing.T) {
	if out := trimAll([]string{" ", ""}); out != nil {
		t.Fatalf("trimAll of blanks should return nil, got %#v", out)
	}
	if got := trimAll([]string{" a", "", "b ", "  c  "}); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("trimAll mismatch: %#v", got)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "JWT_SECRET", "DB_DSN", "UPSTREAM_DB_DSN", "CORS_ALLOWED_ORIGINS"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
