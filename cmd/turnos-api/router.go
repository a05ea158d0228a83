package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/turnos-api/internal/handler"
	"github.com/noah-isme/turnos-api/internal/middleware"
	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/pkg/config"
	"github.com/noah-isme/turnos-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/turnos-api/pkg/middleware/cors"
	"github.com/noah-isme/turnos-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/turnos-api/pkg/middleware/requestid"
)

type routerHandlers struct {
	auth           *handler.AuthHandler
	shifts         *handler.ShiftHandler
	changeRequests *handler.ChangeRequestHandler
	notifications  *handler.NotificationHandler
	users          *handler.UserHandler
	reconciliation *handler.ReconciliationHandler
	stream         *handler.StreamHandler
	metrics        *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, observer middleware.RequestObserver, tokens middleware.TokenValidator, h routerHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(observer, "/metrics", "/health", "/ready"))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Writes are throttled per caller once the token has been read.
	var writes gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if cfg.RateLimit.Enabled {
		writes = ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst).Middleware(ratelimit.ByContextValue(logger.UserIDKey))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", h.auth.Login)

	api.GET("/events/stream", middleware.StreamJWT(tokens), h.stream.Stream)

	secured := api.Group("")
	secured.Use(middleware.JWT(tokens))
	secured.GET("/auth/me", h.auth.Me)

	secured.GET("/shifts/mine", h.shifts.ListMine)
	secured.GET("/shifts/:id", h.shifts.Get)
	secured.POST("/shifts/:id/change-requests", writes, h.changeRequests.Create)

	secured.GET("/change-requests", h.changeRequests.List)
	secured.GET("/change-requests/:id", h.changeRequests.Get)
	secured.POST("/change-requests/:id/decision", writes, h.changeRequests.Decision)

	secured.GET("/notifications", h.notifications.List)
	secured.POST("/notifications/:id/read", h.notifications.MarkRead)
	secured.POST("/notifications/:id/acknowledge", h.notifications.Acknowledge)

	management := secured.Group("")
	management.Use(middleware.RequireManagement())
	management.GET("/shifts", h.shifts.List)
	management.POST("/shifts", writes, h.shifts.Create)
	management.POST("/shifts/batch", writes, h.shifts.CreateBatch)
	management.GET("/change-requests/export", h.changeRequests.Export)
	management.GET("/change-requests/:id/candidates", h.changeRequests.Candidates)
	management.POST("/change-requests/:id/assign", writes, h.changeRequests.Assign)
	management.POST("/change-requests/:id/reject", writes, h.changeRequests.Reject)
	management.POST("/change-requests/:id/approve", writes, h.changeRequests.Approve)
	management.GET("/users", h.users.List)
	management.GET("/users/:id", h.users.Get)
	management.GET("/admin/reconciliation", h.reconciliation.List)
	management.POST("/admin/reconciliation/:id/retry", h.reconciliation.Retry)
	management.GET("/metrics/snapshot", h.metrics.Snapshot)

	owners := secured.Group("")
	owners.Use(middleware.RequireRoles(models.RoleDueno))
	owners.POST("/users", writes, h.users.Create)
	owners.POST("/users/:id/deactivate", writes, h.users.Deactivate)

	return r
}
