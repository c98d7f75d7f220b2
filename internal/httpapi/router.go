package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainsharp/scheduler/internal/actorctx"
	"github.com/chainsharp/scheduler/internal/auth"
	"github.com/chainsharp/scheduler/internal/config"
	"github.com/chainsharp/scheduler/internal/db"
	"github.com/chainsharp/scheduler/internal/deadlettersvc"
	"github.com/chainsharp/scheduler/internal/domain/operator"
	"github.com/chainsharp/scheduler/internal/httpapi/handlers"
	"github.com/chainsharp/scheduler/internal/httpapi/middlewares"
	"github.com/chainsharp/scheduler/internal/manifestsvc"
	"github.com/chainsharp/scheduler/internal/registry"
	"github.com/chainsharp/scheduler/internal/store"
	"github.com/chainsharp/scheduler/internal/taskserver"
)

// NewRouter wires the Trigger API (C9): gin middlewares, handlers, and
// the operator-auth/RBAC gate, per SPEC_FULL.md §4.5.
func NewRouter(
	pool *pgxpool.Pool,
	dc store.DataContext,
	reg *registry.Registry,
	tasks taskserver.BackgroundTaskServer,
	promReg *prometheus.Registry,
	cfg config.Config,
) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.CORSMiddleware([]string{"http://localhost:3000"}))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.MaxBodyBytes(1 << 20))
	r.Use(middlewares.RequireJSON())

	health := handlers.NewHealthHandler(pool)
	manifestsHandler := handlers.NewManifestsHandler(dc.Manifests(), manifestsvc.New(dc, reg))
	deadLettersHandler := handlers.NewDeadLettersHandler(dc.DeadLetters(), deadlettersvc.New(dc, tasks))
	executionsHandler := handlers.NewExecutionsHandler(dc.Executions())
	jwtManager := auth.NewManager(cfg.JWTSecret, time.Hour, 0)
	authHandler := handlers.NewAuthHandler(db.NewOperatorRepo(pool), jwtManager)
	authMiddleware := middlewares.NewAuthMiddleware(jwtManager)

	triggerLimiter := middlewares.NewRateLimiter(10, time.Minute)
	retryLimiter := middlewares.NewRateLimiter(10, time.Minute)
	loginLimiter := middlewares.NewRateLimiter(5, time.Minute)

	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	r.POST("/login", loginLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.Login)

	authed := r.Group("/")
	authed.Use(authMiddleware.RequireAuth())
	authed.Use(stampActor())

	authed.GET("/manifests", manifestsHandler.List)
	authed.GET("/manifests/:externalId", manifestsHandler.Get)
	authed.GET("/dead-letters", deadLettersHandler.List)

	operatorOnly := authed.Group("/")
	operatorOnly.Use(authMiddleware.RequireRole(operator.Role))

	operatorOnly.POST("/manifests", manifestsHandler.ScheduleMany)
	operatorOnly.POST("/manifests/:externalId/enable", manifestsHandler.Enable)
	operatorOnly.POST("/manifests/:externalId/disable", manifestsHandler.Disable)
	operatorOnly.POST("/manifests/:externalId/trigger",
		triggerLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP), manifestsHandler.Trigger)
	operatorOnly.POST("/executions/:id/cancel", executionsHandler.Cancel)
	operatorOnly.POST("/dead-letters/:id/retry",
		retryLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP), deadLettersHandler.Retry)
	operatorOnly.POST("/dead-letters/:id/acknowledge", deadLettersHandler.Acknowledge)

	return r
}

// stampActor carries the authenticated operator id onto the request's
// plain context.Context (via internal/actorctx), so the service layer
// below the handlers — which only ever sees ctx.Request.Context(), not
// *gin.Context — can attribute a mutation to the operator that made it.
func stampActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, ok := middlewares.UserIDFromContext(c); ok {
			c.Request = c.Request.WithContext(actorctx.WithUserID(c.Request.Context(), userID))
		}
		c.Next()
	}
}
