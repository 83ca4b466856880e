package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	promhandler "github.com/jwalitptl/crm-api/internal/handler/prometheus"
	"github.com/jwalitptl/crm-api/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	// Mode is the gin mode; release when empty.
	Mode           string
	RateLimit      rate.Limit
	RateBurst      int
	RequestTimeout time.Duration
	// MaxBodySize caps request bodies; 1MB when zero.
	MaxBodySize int64
}

type Router struct {
	engine    *gin.Engine
	auth      *middleware.AuthMiddleware
	health    Handler
	metrics   *promhandler.Handler
	webhooks  Handler
	protected []Handler
	config    RouterConfig
}

// NewRouter wires the public surfaces (health, metrics, provider webhooks) and the
// authenticated /api/v1 handlers.
func NewRouter(
	auth *middleware.AuthMiddleware,
	health Handler,
	metrics *promhandler.Handler,
	webhooks Handler,
	config RouterConfig,
	protected ...Handler,
) *Router {
	mode := config.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
	middleware.RegisterValidators()

	sizeLimit := middleware.DefaultSizeLimitConfig()
	if config.MaxBodySize > 0 {
		sizeLimit.MaxBodySize = config.MaxBodySize
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		metrics.Middleware(),
		middleware.ErrorHandler(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
		middleware.SizeLimit(sizeLimit),
	)

	return &Router{
		engine:    engine,
		auth:      auth,
		health:    health,
		metrics:   metrics,
		webhooks:  webhooks,
		protected: protected,
		config:    config,
	}
}

func (r *Router) Setup() {
	root := r.engine.Group("")
	r.health.RegisterRoutes(root)
	r.engine.GET("/metrics", r.metrics.Handler())

	hooks := r.engine.Group("")
	if r.config.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		})
		hooks.Use(limiter.RateLimit())
	}
	r.webhooks.RegisterRoutes(hooks)

	api := r.engine.Group("/api/v1")
	api.Use(middleware.APIVersion("1.0"), r.auth.Authenticate())
	for _, h := range r.protected {
		h.RegisterRoutes(api)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
