// Package app assembles the bridge from configuration: database handles,
// services, background workers, and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/auth"
	"github.com/tbourn/pos-device-bridge/internal/config"
	httpapi "github.com/tbourn/pos-device-bridge/internal/http"
	"github.com/tbourn/pos-device-bridge/internal/http/handlers"
	"github.com/tbourn/pos-device-bridge/internal/ratelimit"
	"github.com/tbourn/pos-device-bridge/internal/realtime"
	"github.com/tbourn/pos-device-bridge/internal/repo"
	"github.com/tbourn/pos-device-bridge/internal/services"
	"github.com/tbourn/pos-device-bridge/internal/sysutil"
	"github.com/tbourn/pos-device-bridge/internal/upstream"
)

// App holds every long-lived component of a running bridge.
type App struct {
	Cfg config.Config

	DB       *gorm.DB
	Upstream *gorm.DB

	Issuer      *auth.Issuer
	Hub         *realtime.Hub
	Broadcaster *services.Broadcaster
	Sessions    *services.SessionCache
	Print       *services.PrintQueue
	Orders      *services.OrderService
	Devices     *services.DeviceService
	Reconciler  *services.Reconciler
	Retention   *services.RetentionJob
}

// New opens both databases, migrates the bridge schema, and builds the
// services. Workers are not started until Run.
func New(cfg config.Config) (*App, error) {
	db, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("open bridge db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate bridge db: %w", err)
	}

	up := db
	if cfg.Upstream.DSN != "" {
		driver := sysutil.FirstNonEmpty(cfg.Upstream.Driver, cfg.DB.Driver)
		if up, err = repo.Open(driver, cfg.Upstream.DSN); err != nil {
			return nil, fmt.Errorf("open upstream db: %w", err)
		}
	} else {
		// Development mode: the engine tables live beside the bridge's own.
		log.Warn().Msg("UPSTREAM_DB_DSN not set; using the bridge database for POS tables")
		if err := upstream.MigrateDev(up); err != nil {
			return nil, fmt.Errorf("migrate dev upstream: %w", err)
		}
	}

	return Build(cfg, db, up), nil
}

// Build wires services over already opened handles.
func Build(cfg config.Config, db, up *gorm.DB) *App {
	w := cfg.Workers
	a := &App{Cfg: cfg, DB: db, Upstream: up}

	a.Issuer = auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	a.Hub = realtime.NewHub(w.HubSendBuffer)
	a.Broadcaster = services.NewBroadcaster(db, a.Hub, w.BroadcastQueue, w.BroadcastWorkers)

	engine := upstream.NewSQLEngine(up, cfg.Upstream.TerminalCode)
	a.Sessions = services.NewSessionCache(engine, w.SessionTTL)

	a.Print = services.NewPrintQueue(db, a.Broadcaster)
	a.Print.MaxAttempts = w.PrintMaxAttempts
	a.Print.BaseBackoff = w.PrintBaseBackoff
	a.Print.MaxBackoff = w.PrintMaxBackoff
	a.Print.RetryInterval = w.PrintRetryInterval
	a.Print.Currency = cfg.Currency

	a.Orders = &services.OrderService{
		DB:             db,
		Sessions:       a.Sessions,
		Engine:         engine,
		Events:         a.Broadcaster,
		Print:          a.Print,
		IdempotencyTTL: cfg.IdempotencyTTL,
		MaxItems:       100,
	}
	a.Devices = &services.DeviceService{
		DB:       db,
		Events:   a.Broadcaster,
		Sessions: a.Sessions,
		Tokens:   a.Issuer,
	}
	a.Reconciler = services.NewReconciler(db, a.Broadcaster, w.ReconcileInterval, w.ReconcileBatch)
	a.Retention = &services.RetentionJob{
		DB:       db,
		MaxAge:   w.RetentionMaxAge,
		Interval: w.RetentionInterval,
	}
	return a
}

// Router returns a Gin engine with every route mounted.
func (a *App) Router() *gin.Engine {
	gin.SetMode(a.Cfg.GinMode)
	r := gin.New()
	h := handlers.New(handlers.Deps{
		Orders:   a.Orders,
		Print:    a.Print,
		Events:   a.Broadcaster,
		Devices:  a.Devices,
		Hub:      a.Hub,
		Upgrader: a.upgrader(),
	})
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:       a.DB,
		Tokens:   a.Issuer,
		Quota:    ratelimit.New(ratelimit.NewMemoryStore()),
		Handlers: h,
	}, a.Cfg)
	return r
}

// upgrader accepts browser origins from the CORS allowlist; with no
// allowlist every origin is accepted, matching the HTTP CORS posture.
func (a *App) upgrader() websocket.Upgrader {
	up := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if origins := a.Cfg.CORS.AllowedOrigins; len(origins) > 0 {
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		up.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	} else {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}
	return up
}

// Workers runs the background loops until ctx is done.
func (a *App) Workers(ctx context.Context) error {
	a.Broadcaster.Start()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { a.Reconciler.Run(ctx); return nil })
	g.Go(func() error { a.Print.RunRetries(ctx); return nil })
	g.Go(func() error { a.Retention.Run(ctx); return nil })
	return g.Wait()
}

// Serve runs the HTTP server and the workers until ctx is canceled, then
// shuts down: HTTP first, then websocket clients, then the broadcaster
// drains what is queued.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.Cfg.Port,
		Handler:           a.Router(),
		ReadTimeout:       a.Cfg.ReadTimeout,
		ReadHeaderTimeout: a.Cfg.ReadHeaderTimeout,
		WriteTimeout:      a.Cfg.WriteTimeout,
		IdleTimeout:       a.Cfg.IdleTimeout,
		MaxHeaderBytes:    a.Cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Workers(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("base_path", a.Cfg.APIBasePath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		a.Hub.CloseAll()
		return err
	})

	err := g.Wait()
	a.Broadcaster.Stop()
	log.Info().Msg("bridge stopped")
	return err
}

// Close releases both database handles.
func (a *App) Close() error {
	var errs []error
	for _, db := range []*gorm.DB{a.DB, a.Upstream} {
		if db == nil {
			continue
		}
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			errs = append(errs, err)
		}
		if a.Upstream == a.DB {
			break
		}
	}
	return errors.Join(errs...)
}
