package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	mw "github.com/openwallet/ewallet-service/http"
	"github.com/openwallet/ewallet-service/internal/config"
	"go.uber.org/zap"
)

// NewRouter assembles the gin engine: logging and rate limiting on every
// route, JWT auth on the /v1 group, plus an unauthenticated health probe.
func NewRouter(h *Handlers, cfg *config.Config, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.LoggingMiddleware(log))
	r.Use(mw.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	RegisterHandlers(r, h, cfg.JWT.Secret)
	return r
}
