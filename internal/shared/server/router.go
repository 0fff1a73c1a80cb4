package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"optimizer-backend/internal/account"
	"optimizer-backend/internal/documents"
	"optimizer-backend/internal/optimizations"
	"optimizer-backend/internal/services/health"
	"optimizer-backend/internal/shared/config"
	"optimizer-backend/internal/shared/metrics"
	"optimizer-backend/internal/shared/server/middleware"
	"optimizer-backend/internal/shared/server/respond"
	"optimizer-backend/internal/uploads"
	"optimizer-backend/internal/usage"
)

// rateLimitRules throttle per user. Stream segments each burn several model
// calls, so starts and continues get a much tighter bucket than reads.
var rateLimitRules = map[string]middleware.RateLimitRule{
	"DEFAULT": {Rate: 10, Burst: 30},
	"STREAM":  {Rate: 0.1, Burst: 6},
}

func rateLimitGroup(c *gin.Context) string {
	if c.Request.Method == http.MethodPost {
		switch c.FullPath() {
		case "/api/v1/optimizations", "/api/v1/optimizations/continue":
			return "STREAM"
		}
	}
	return "DEFAULT"
}

// RouterDeps carries the handlers the router wires up. Bootstrap builds
// them; tests may substitute their own.
type RouterDeps struct {
	Config              config.Config
	Health              *health.Service
	DocumentHandler     *documents.Handler
	OptimizationHandler *optimizations.Handler
	UsageHandler        *usage.Handler
	AccountHandler      *account.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Scrape endpoint stays outside the middleware chain.
	r.GET("/metrics", metrics.Handler())

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Config.Env),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:    rateLimitRules,
			GroupFor: rateLimitGroup,
		}),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		// Check tolerates a nil service; routers built without one still
		// answer probes.
		status := deps.Health.Check(c.Request.Context())
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, status)
	})
	registerMeRoutes(api)
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api)
	}
	uploads.RegisterRoutes(api)
	if deps.OptimizationHandler != nil {
		deps.OptimizationHandler.RegisterRoutes(api)
	}
	if deps.UsageHandler != nil {
		deps.UsageHandler.RegisterRoutes(api)
		if deps.Config.Env == "dev" {
			dev := api.Group("/dev")
			deps.UsageHandler.RegisterDevRoutes(dev)
		}
	}
	if deps.AccountHandler != nil {
		deps.AccountHandler.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
