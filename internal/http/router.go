// Package httpapi wires the HTTP transport (Gin) to the bridge's handlers and
// middleware. It owns the global middleware order, CORS and security header
// posture, the ops endpoints, and the route table under API_BASE_PATH.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/pos-device-bridge/docs" // swagger docs registration
	"github.com/tbourn/pos-device-bridge/internal/auth"
	"github.com/tbourn/pos-device-bridge/internal/config"
	"github.com/tbourn/pos-device-bridge/internal/http/handlers"
	"github.com/tbourn/pos-device-bridge/internal/http/middleware"
	"github.com/tbourn/pos-device-bridge/internal/repo"
)

// Deps are the collaborators RegisterRoutes mounts.
type Deps struct {
	// DB backs the idempotency lookup and the health check.
	DB *gorm.DB
	// Tokens verifies device bearer tokens.
	Tokens middleware.TokenParser
	// Quota enforces the per-device fixed window on API routes.
	Quota    middleware.QuotaAllower
	Handlers *handlers.Handlers
}

var (
	corsMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey}
	corsExpose  = []string{"X-Request-ID", "Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}
)

// RegisterRoutes attaches all middleware and endpoints to r.
//
// Global middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RequestLogger and RedactingLogger
//  4. Recovery
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
//  8. gzip, except on the websocket endpoint
//
// Authentication, the idempotency validator, the token bucket and the
// per-device quota are installed on the API groups, since both limiters key
// on the authenticated device. Devices sharing one LAN address are limited
// independently.
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	base := cfg.APIBasePath

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderIdempotencyKey},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     corsMethods,
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     corsMethods,
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{joinPath(base, "/ws")})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health(d.DB))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := d.Handlers
	guard := middleware.NewRateLimiter(cfg.Rate.RPS, cfg.Rate.Burst, middleware.KeyByDeviceOrIP()).Handler()
	quota := middleware.DeviceQuota(d.Quota, cfg.Rate.DeviceLimit, cfg.Rate.DeviceWindow)
	authed := middleware.DeviceAuth(d.Tokens, true)

	api := groupWithPrefix(r, base)

	// Replay is readable without a token; a token limits it to its channels.
	api.GET("/events/missing", middleware.DeviceAuth(d.Tokens, false), guard, quota, h.ReplayMissing)

	dev := api.Group("", authed)
	{
		// The validator runs before the limiters so replays are not counted.
		dev.POST("/orders", middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(d.DB)), guard, quota, h.CreateOrder)

		q := dev.Group("", guard, quota)
		q.GET("/orders/:id", h.GetOrder)
		q.POST("/orders/:id/refill", h.RefillOrder)
		q.PATCH("/orders/:id/status", h.UpdateOrderStatus)
		q.PATCH("/orders/:id/items/:itemId/status", h.UpdateItemStatus)
		q.POST("/orders/:id/printed", h.MarkOrderPrinted)
		q.POST("/orders/printed", h.MarkOrdersPrinted)
		q.POST("/print/heartbeat", h.Heartbeat)
	}

	relay := api.Group("/print/events", authed, middleware.RequireRole(auth.RoleRelay, auth.RoleAdmin), guard, quota)
	{
		relay.GET("", h.ListPrintEvents)
		relay.POST("/:id/ack", h.AckPrintEvent)
		relay.POST("/:id/fail", h.FailPrintEvent)
	}

	admin := api.Group("/admin", authed, middleware.RequireRole(auth.RoleAdmin), guard)
	{
		admin.POST("/devices", h.RegisterDevice)
		admin.POST("/devices/:id/control", h.SendControl)
		admin.POST("/sessions/:id/reset", h.ResetSession)
	}

	api.GET("/ws", authed, guard, h.ServeWS)
}

// idempotencyLookup reports whether a completed, unexpired key exists for the
// device. Reservations still in flight are not replays.
// Anonymous callers never reach order creation, so deviceID is always set.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, deviceID uint, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, deviceID, key, now)
		switch {
		case err == nil:
			return !rec.InFlight(), nil
		case errors.Is(err, repo.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}
}

// health pings the bridge database.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
				err = sqlDB.PingContext(ctx)
				cancel()
			}
			if err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("health: database unreachable")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
