package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/waraqaweb/classes-api/api/swagger"
	"github.com/waraqaweb/classes-api/internal/handler"
	"github.com/waraqaweb/classes-api/internal/middleware"
	"github.com/waraqaweb/classes-api/internal/models"
	"github.com/waraqaweb/classes-api/internal/repository"
	"github.com/waraqaweb/classes-api/internal/service"
	"github.com/waraqaweb/classes-api/pkg/cache"
	"github.com/waraqaweb/classes-api/pkg/config"
	"github.com/waraqaweb/classes-api/pkg/database"
	"github.com/waraqaweb/classes-api/pkg/jobs"
	"github.com/waraqaweb/classes-api/pkg/lock"
	"github.com/waraqaweb/classes-api/pkg/logger"
	corsmiddleware "github.com/waraqaweb/classes-api/pkg/middleware/cors"
	reqidmiddleware "github.com/waraqaweb/classes-api/pkg/middleware/requestid"
)

// @title Classes API
// @version 1.0.0
// @description Lesson scheduling, change negotiation and report tracking
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	var locks lock.Service = lock.NewLocalService()
	redisClient, err := cache.NewRedis(context.Background(), cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, running without cache", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		locks = lock.NewRedisService(redisClient, "classes-api")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Repositories.
	lessonRepo := repository.NewLessonRepository(db)
	patternRepo := repository.NewPatternRepository(db)
	userRepo := repository.NewUserRepository(db)
	var statsCache service.StatsCache
	if redisClient != nil {
		statsCache = repository.NewCacheRepository(redisClient, logr)
	}

	// Outbound collaborators.
	oracle := service.NewHTTPAvailabilityOracle(cfg.Oracle.BaseURL, cfg.Oracle.Timeout)
	queueCfg := jobs.QueueConfig{
		Workers:    cfg.Notify.Workers,
		BufferSize: cfg.Notify.BufferSize,
		MaxRetries: cfg.Notify.MaxRetries,
		RetryDelay: cfg.Notify.RetryDelay,
		Logger:     logr,
	}
	notifySink := service.NewQueueNotificationSink(service.NewLogNotificationDeliverer(logr), queueCfg, logr)
	notifySink.Start(rootCtx)
	defer notifySink.Stop()
	invoices := service.NewQueueInvoiceRecalculator(service.NewLogInvoiceHook(logr), queueCfg, logr)
	invoices.Start(rootCtx)
	defer invoices.Stop()

	// Services.
	authService := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "classes-api",
	})
	policyService := service.NewPolicyService(lessonRepo, statsCache, cfg.Lessons, logr)
	recurrenceService := service.NewRecurrenceService(patternRepo, lessonRepo, oracle, cfg.Lessons, logr)
	lessonService := service.NewLessonService(lessonRepo, policyService, oracle, userRepo, notifySink, invoices, logr)
	rescheduleService := service.NewRescheduleService(lessonRepo, policyService, oracle, userRepo, notifySink, invoices, logr)
	reportService := service.NewReportService(lessonRepo, policyService, userRepo, notifySink, invoices, cfg.Lessons, logr)
	metricsService := service.NewMetricsService()
	sweepService := service.NewSweepService(locks, recurrenceService, reportService, metricsService, cfg.Sweeps, logr)

	if err := sweepService.Start(); err != nil {
		logr.Sugar().Fatalw("failed to start sweeps", "error", err)
	}
	defer sweepService.Stop()

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	patternHandler := handler.NewPatternHandler(recurrenceService)
	lessonHandler := handler.NewLessonHandler(lessonService)
	rescheduleHandler := handler.NewRescheduleHandler(rescheduleService)
	reportHandler := handler.NewReportHandler(reportService)
	sweepHandler := handler.NewSweepHandler(sweepService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authService), authHandler.Me)

	authed := api.Group("")
	authed.Use(middleware.JWT(authService))
	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	participants := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleGuardian, models.RoleStudent)
	changeActors := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleGuardian, models.RoleStudent)

	patterns := authed.Group("/patterns", adminOnly)
	patterns.POST("", patternHandler.Create)
	patterns.GET("/:id", patternHandler.Get)
	patterns.PUT("/:id", patternHandler.Update)
	patterns.DELETE("/:id", patternHandler.DeleteLessons)

	lessons := authed.Group("/lessons")
	lessons.POST("", adminOnly, lessonHandler.Create)
	lessons.GET("", participants, lessonHandler.List)
	lessons.POST("/holds", adminOnly, lessonHandler.Hold)
	lessons.GET("/:id", participants, lessonHandler.Get)
	lessons.GET("/:id/change-policy", participants, lessonHandler.Policy)
	lessons.POST("/:id/cancel", changeActors, lessonHandler.Cancel)
	lessons.POST("/:id/reschedule-requests", changeActors, rescheduleHandler.Request)
	lessons.POST("/:id/reschedule-requests/decision", adminOnly, rescheduleHandler.Decide)
	lessons.POST("/:id/reschedule", adminOnly, rescheduleHandler.Direct)
	lessons.POST("/:id/report", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), reportHandler.Submit)
	lessons.GET("/:id/report/status", participants, reportHandler.Status)
	lessons.POST("/:id/report/extension", adminOnly, reportHandler.Extend)

	sweeps := authed.Group("/sweeps", adminOnly)
	sweeps.POST("/:name/run", sweepHandler.Run)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
