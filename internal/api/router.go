package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter wires the HTTP surface. Only /analyze is rate limited.
func NewRouter(h *Handler, cfg RouterConfig, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), AccessLog(log), CORS(cfg.AllowedOrigins))

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/analyze", RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst), h.Analyze)
	router.OPTIONS("/analyze", func(c *gin.Context) {})
	return router
}
