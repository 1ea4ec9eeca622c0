package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/kidcare-enrollment-api/internal/middleware"
	"github.com/noah-isme/kidcare-enrollment-api/internal/models"
	"github.com/noah-isme/kidcare-enrollment-api/internal/service"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/config"
	"github.com/noah-isme/kidcare-enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/kidcare-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/kidcare-enrollment-api/pkg/middleware/requestid"
)

// ReadinessCheck reports whether a backing dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// RouterConfig carries everything the HTTP surface is built from.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	Logger         *zap.Logger

	Tokens        middleware.TokenValidator
	Metrics       *service.MetricsService
	Enrollments   *EnrollmentHandler
	Waitlist      *WaitlistHandler
	Admin         *AdminEnrollmentHandler
	SessionsAdmin *SessionAdminHandler
	Ready         map[string]ReadinessCheck
}

// NewRouter assembles the gin engine with ops, student and admin routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(corsmiddleware.New(config.CORSConfig{AllowedOrigins: cfg.AllowedOrigins}))
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(middleware.WithResponseMeta())

	metrics := NewMetricsHandler(cfg.Metrics)
	r.GET("/health", metrics.Health)
	r.GET("/ready", readiness(cfg.Ready))
	r.GET("/metrics", metrics.Prometheus)
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.Tokens))

	// Role eligibility for enrolling is decided by the engine so staff get ROLE_NOT_ELIGIBLE, not FORBIDDEN.
	enrollments := api.Group("/enrollments")
	enrollments.POST("", cfg.Enrollments.Create)
	enrollments.GET("/me", cfg.Enrollments.Mine)
	enrollments.DELETE("/classes/:classId", cfg.Enrollments.Cancel)

	sessions := api.Group("/sessions/:sessionId")
	sessions.GET("/availability", cfg.Waitlist.Availability)
	sessions.POST("/waitlist", cfg.Waitlist.Join)
	sessions.DELETE("/waitlist", cfg.Waitlist.Leave)
	sessions.GET("/waitlist/me", cfg.Waitlist.Status)

	admin := api.Group("/admin", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	admin.GET("/enrollments", cfg.Admin.List)
	admin.GET("/enrollments/export", cfg.Admin.Export)
	admin.POST("/enrollments/:id/approve", middleware.Audit(cfg.Logger, "enrollment.approve"), cfg.Admin.Approve)
	admin.POST("/enrollments/:id/reject", middleware.Audit(cfg.Logger, "enrollment.reject"), cfg.Admin.Reject)
	admin.POST("/enrollments/:id/reset", middleware.Audit(cfg.Logger, "enrollment.reset"), cfg.Admin.Reset)
	admin.POST("/enrollments/:id/payment", middleware.Audit(cfg.Logger, "enrollment.payment"), cfg.Admin.Payment)
	admin.PATCH("/sessions/:sessionId/status", middleware.Audit(cfg.Logger, "session.status"), cfg.SessionsAdmin.SetStatus)
	admin.DELETE("/sessions/:sessionId", middleware.Audit(cfg.Logger, "session.delete"), cfg.SessionsAdmin.Delete)
	admin.POST("/sessions/:sessionId/promote", middleware.Audit(cfg.Logger, "session.promote"), cfg.SessionsAdmin.Promote)
	admin.POST("/sessions/:sessionId/broadcasts", middleware.Audit(cfg.Logger, "session.broadcast"), cfg.SessionsAdmin.Broadcast)
	admin.GET("/broadcasts", cfg.SessionsAdmin.ListBroadcasts)
	admin.GET("/metrics", metrics.System)

	return r
}

func readiness(checks map[string]ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		failed := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
