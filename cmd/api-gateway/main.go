package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/e-lglioui/giao-long-api/api/swagger"
	"github.com/e-lglioui/giao-long-api/internal/handler"
	"github.com/e-lglioui/giao-long-api/internal/middleware"
	"github.com/e-lglioui/giao-long-api/internal/models"
	"github.com/e-lglioui/giao-long-api/internal/repository"
	"github.com/e-lglioui/giao-long-api/internal/service"
	"github.com/e-lglioui/giao-long-api/pkg/cache"
	"github.com/e-lglioui/giao-long-api/pkg/config"
	"github.com/e-lglioui/giao-long-api/pkg/database"
	"github.com/e-lglioui/giao-long-api/pkg/jobs"
	"github.com/e-lglioui/giao-long-api/pkg/logger"
	corsmiddleware "github.com/e-lglioui/giao-long-api/pkg/middleware/cors"
	reqidmiddleware "github.com/e-lglioui/giao-long-api/pkg/middleware/requestid"
	"github.com/e-lglioui/giao-long-api/pkg/payment"
)

// @title Giao Long API
// @version 0.1.0
// @description Martial arts school enrollment and payment orchestration
// @BasePath /api/v1
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
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("redis connection failed", "error", err)
	}
	defer redisClient.Close()

	gateway := payment.NewClient(payment.ClientConfig{
		SecretKey:        cfg.Payments.SecretKey,
		WebhookSecret:    cfg.Payments.WebhookSecret,
		BaseURL:          cfg.Payments.BaseURL,
		Timeout:          cfg.Payments.Timeout,
		WebhookTolerance: cfg.Payments.WebhookTolerance,
	})

	userRepo := repository.NewUserRepository(db)
	schoolRepo := repository.NewSchoolRepository(db)
	classRepo := repository.NewClassRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	roleSvc := service.NewRoleService(userRepo, logr)
	rosterSvc := service.NewRosterService(schoolRepo, classRepo, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, userRepo, gateway, nil, logr)

	notificationSvc := service.NewNotificationService(service.NewLogNotifier(logr), jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		Logger:     logr,
	}, logr)

	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, rosterSvc, roleSvc, paymentSvc, notificationSvc, nil, logr)

	dedup := cache.NewEventDedup(redisClient, cfg.Payments.EventDedupTTL)

	authHandler := handler.NewAuthHandler(authSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	webhookHandler := handler.NewWebhookHandler(gateway, enrollmentSvc, dedup, metricsSvc, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/auth/login", authHandler.Login)

		// webhook authenticates by signature, not JWT
		api.POST("/payments/webhook", webhookHandler.Handle)

		authed := api.Group("")
		authed.Use(middleware.JWT(authSvc))
		{
			enrollments := authed.Group("/enrollments")
			{
				enrollments.GET("", enrollmentHandler.List)
				enrollments.GET("/:id", enrollmentHandler.Get)
				enrollments.POST("", enrollmentHandler.Create)
				enrollments.PUT("/:id/approve", middleware.MinRole(models.RoleSchoolAdmin), enrollmentHandler.Approve)
				enrollments.PUT("/:id/complete", middleware.MinRole(models.RoleSchoolAdmin), enrollmentHandler.Complete)
				enrollments.DELETE("/:id", enrollmentHandler.Cancel)
				enrollments.POST("/:id/classes/:classId", enrollmentHandler.AddClass)
				enrollments.DELETE("/:id/classes/:classId", enrollmentHandler.RemoveClass)
			}

			payments := authed.Group("/payments")
			{
				payments.GET("", paymentHandler.List)
				payments.GET("/export", middleware.MinRole(models.RoleSchoolAdmin), paymentHandler.ExportCSV)
				payments.GET("/:id", paymentHandler.Get)
				payments.GET("/:id/receipt", paymentHandler.Receipt)
				payments.POST("/:id/refund", middleware.MinRole(models.RoleSchoolAdmin), paymentHandler.Refund)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Notifications.Enabled {
		notificationSvc.Start(ctx)
		defer notificationSvc.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}
