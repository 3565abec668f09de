// Package http exposes the operator API: health, metrics, channel and client
// listings and administrative kicks.
package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/scopechat-server/internal/auth"
	"github.com/vovakirdan/scopechat-server/internal/config"
	"github.com/vovakirdan/scopechat-server/internal/core"
)

// Admin is the slice of the router the API operates on.
type Admin interface {
	Channels() []core.ChannelInfo
	Clients() []core.ClientInfo
	Kick(name string) bool
}

const (
	jwtIssuer   = "scopechat-server"
	jwtAudience = "scopechat-admin"
)

// JWTConfig returns the token settings derived from cfg, or nil when the
// admin API is unauthenticated.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	if cfg.AdminJWTSecret == "" {
		return nil
	}
	return &auth.JWTConfig{
		Secret:   []byte(cfg.AdminJWTSecret),
		Issuer:   jwtIssuer,
		Audience: jwtAudience,
		TTL:      24 * time.Hour,
	}
}

// NewServer builds the admin HTTP server. gatherer may be nil, in which case
// /metrics is not served.
func NewServer(admin Admin, gatherer prometheus.Gatherer, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	handlers := NewAdminHandlers(admin, logger)
	api := router.Group("/api")
	if jwtCfg := JWTConfig(cfg); jwtCfg != nil {
		api.Use(AuthMiddleware(jwtCfg, logger))
	} else {
		logger.Warn().Msg("admin api has no jwt secret; endpoints are unauthenticated")
	}
	{
		api.GET("/channels", handlers.ListChannels)
		api.GET("/clients", handlers.ListClients)
		api.DELETE("/clients/:name", handlers.KickClient)
	}

	return &stdhttp.Server{
		Addr:              cfg.AdminAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
