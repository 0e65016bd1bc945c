package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/campusline/intake/internal/booking"
	"github.com/campusline/intake/internal/config"
	"github.com/campusline/intake/internal/db"
	"github.com/campusline/intake/internal/http/handlers"
	"github.com/campusline/intake/internal/http/middleware"
	"github.com/campusline/intake/internal/metrics"
	"github.com/campusline/intake/internal/session"
	"github.com/campusline/intake/internal/validation"

	_ "github.com/campusline/intake/docs"
)

// Deps are the components the HTTP surface calls into.
type Deps struct {
	Repo      db.Repository
	Pipeline  handlers.Processor
	Scheduler *booking.Scheduler
	Sessions  *session.Manager
	Metrics   *metrics.Metrics
	Locations *booking.Locations
}

func Router(cfg config.Config, deps Deps, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(deps.Metrics))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.WebhookSecretHeader, middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	locations := deps.Locations
	if locations == nil {
		locations = booking.NewLocations(cfg.DefaultTimezone, logger)
	}
	h := &handlers.Handler{
		Repo:      deps.Repo,
		Pipeline:  deps.Pipeline,
		Allocator: deps.Scheduler.Allocator,
		Scheduler: deps.Scheduler,
		Sessions:  deps.Sessions,
		Validator: validation.New(),
		Logger:    logger,
		Locations: locations,
	}

	r.GET("/healthz", h.Healthz)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	r.POST("/process", middleware.WebhookSecret(cfg.WebhookSecret), middleware.Timeout(cfg.RequestTimeout), h.Process)

	admin := r.Group("/api")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.GET("/slots", h.ListSlots)
		admin.POST("/appointments/:id/cancel", h.CancelAppointment)
		admin.POST("/appointments/:id/reschedule", h.RescheduleAppointment)
		admin.POST("/chats/:id/conclude", h.ConcludeChat)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
