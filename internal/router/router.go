package router

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/projecthub/internal/handler/prometheus"
	"github.com/jwalitptl/projecthub/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	// Mode is a gin mode: release, debug or test.
	Mode string
	// RateLimit is the per-client request rate; zero disables limiting.
	RateLimit   rate.Limit
	RateBurst   int
	CORSConfig  middleware.CORSConfig
	MaxBodySize int64
}

type Router struct {
	engine  *gin.Engine
	metrics *prometheus.Handler
	health  Handler
	api     []Handler
}

// NewRouter builds the engine and its middleware chain. health and metrics
// are served at the root; every handler in api is mounted under /api.
func NewRouter(log *zerolog.Logger, metrics *prometheus.Handler, health Handler, config RouterConfig, api ...Handler) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = middleware.DefaultMaxBodySize
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(),
		middleware.ErrorLogger(),
		metrics.Middleware(),
		middleware.CORS(config.CORSConfig),
		middleware.SecurityHeaders(),
	)
	if config.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: max(config.RateBurst, 1),
		})
		engine.Use(limiter.RateLimit())
	}
	engine.Use(middleware.SizeLimit(config.MaxBodySize))

	return &Router{
		engine:  engine,
		metrics: metrics,
		health:  health,
		api:     api,
	}
}

func (r *Router) Setup() {
	root := r.engine.Group("")
	r.health.RegisterRoutes(root)
	r.metrics.RegisterRoutes(root)

	api := r.engine.Group("/api")
	for _, h := range r.api {
		h.RegisterRoutes(api)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
