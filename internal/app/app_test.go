package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/pos-device-bridge/internal/config"
	"github.com/tbourn/pos-device-bridge/internal/repo"
	"github.com/tbourn/pos-device-bridge/internal/upstream"
)

func memDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:app_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repo.AutoMigrate(db))
	require.NoError(t, upstream.MigrateDev(db))
	return db
}

func appConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("JWT_SECRET", "app-test-secret-0123456789")
	t.Setenv("GIN_MODE", "test")
	t.Setenv("PRINT_MAX_ATTEMPTS", "4")
	t.Setenv("CURRENCY", "EUR")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://pos.local")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestBuild_AppliesConfig(t *testing.T) {
	cfg := appConfig(t)
	db := memDB(t)
	a := Build(cfg, db, db)
	t.Cleanup(func() { _ = a.Close() })

	assert.Equal(t, 4, a.Print.MaxAttempts)
	assert.Equal(t, "EUR", a.Print.Currency)
	assert.Equal(t, cfg.Workers.PrintBaseBackoff, a.Print.BaseBackoff)
	assert.Equal(t, cfg.IdempotencyTTL, a.Orders.IdempotencyTTL)
	assert.Equal(t, cfg.Workers.ReconcileBatch, a.Reconciler.BatchSize)
	assert.Equal(t, cfg.Workers.RetentionMaxAge, a.Retention.MaxAge)
	assert.Same(t, a.Sessions, a.Devices.Sessions)
}

func TestRouter_ServesHealthAndAPI(t *testing.T) {
	cfg := appConfig(t)
	db := memDB(t)
	a := Build(cfg, db, db)
	t.Cleanup(func() { _ = a.Close() })

	r := a.Router()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	tok, err := a.Issuer.IssueAdmin("ops")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, cfg.APIBasePath+"/print/events", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	cfg := appConfig(t)
	a := &App{Cfg: cfg}
	up := a.upgrader()

	mk := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, up.CheckOrigin(mk("")), "native clients send no origin")
	assert.True(t, up.CheckOrigin(mk("http://pos.local")))
	assert.False(t, up.CheckOrigin(mk("http://evil.example")))

	a.Cfg.CORS.AllowedOrigins = nil
	assert.True(t, a.upgrader().CheckOrigin(mk("http://anything")))
}

func TestWorkers_StopOnCancel(t *testing.T) {
	cfg := appConfig(t)
	db := memDB(t)
	a := Build(cfg, db, db)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Workers(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
	a.Broadcaster.Stop()
}

func TestNew_DevModeSharesDatabase(t *testing.T) {
	cfg := appConfig(t)
	cfg.DB.DSN = fmt.Sprintf("file:appnew_%s?mode=memory&cache=shared", uuid.NewString())
	cfg.Upstream.DSN = ""

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Same(t, a.DB, a.Upstream)
	assert.True(t, a.DB.Migrator().HasTable("terminals"), "dev mode migrates engine tables")
	assert.True(t, a.DB.Migrator().HasTable("device_orders"))
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	cfg := appConfig(t)
	cfg.DB.Driver = "oracle"
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open bridge db")
}
