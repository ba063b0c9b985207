// Package httpapi serves the bot's ops surface: liveness, Prometheus
// metrics and, when an admin token is configured, a small admin API over
// the quota ledger, the redemption registry and conversation memory.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger
//  4. Recovery
//  5. body limit, gzip, Metrics, SecurityHeaders
//
// The admin group adds bearer auth, a per-IP rate limit and no-store caching.
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-assistant-bot/internal/config"
	"github.com/tbourn/go-assistant-bot/internal/http/handlers"
	"github.com/tbourn/go-assistant-bot/internal/http/middleware"
	"github.com/tbourn/go-assistant-bot/internal/ratelimit"
)

const (
	// AdminBasePath prefixes the admin API.
	AdminBasePath = "/api/v1"

	maxBodyBytes = 64 << 10
	adminRPS     = 5
	adminBurst   = 10
)

// Deps are the collaborators behind the admin API.
type Deps struct {
	Quotas  handlers.QuotaAdmin
	Codes   handlers.CodeAdmin
	History handlers.HistoryAdmin
}

// RegisterRoutes attaches middleware and endpoints to r. The admin group is
// mounted only when cfg.Security.AdminToken is set.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.Security.AdminToken == "" {
		return
	}
	h := handlers.New(deps.Quotas, deps.Codes, deps.History)
	admin := r.Group(AdminBasePath,
		middleware.RateLimit(ratelimit.New(adminRPS, adminBurst), middleware.KeyByIP()),
		middleware.AdminAuth(cfg.Security.AdminToken),
		middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}),
	)
	{
		admin.GET("/quotas/:user_id", h.GetQuota)
		admin.POST("/quotas/:user_id/bonus", h.GrantBonus)
		admin.POST("/codes", h.AddCode)
		admin.GET("/history/:user_id", h.GetHistory)
		admin.DELETE("/history/:user_id", h.ResetHistory)
	}
}

// limitBody caps request bodies at maxBytes.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
