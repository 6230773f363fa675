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
	"go.uber.org/zap"

	_ "github.com/quotelane/quotelane-api/api/swagger"
	"github.com/quotelane/quotelane-api/internal/handler"
	"github.com/quotelane/quotelane-api/internal/middleware"
	"github.com/quotelane/quotelane-api/internal/models"
	"github.com/quotelane/quotelane-api/internal/repository"
	"github.com/quotelane/quotelane-api/internal/service"
	"github.com/quotelane/quotelane-api/pkg/cache"
	"github.com/quotelane/quotelane-api/pkg/config"
	"github.com/quotelane/quotelane-api/pkg/database"
	"github.com/quotelane/quotelane-api/pkg/logger"
	corsmiddleware "github.com/quotelane/quotelane-api/pkg/middleware/cors"
	reqidmiddleware "github.com/quotelane/quotelane-api/pkg/middleware/requestid"
	"github.com/quotelane/quotelane-api/pkg/storage"
)

// @title QuoteLane API
// @version 1.0.0
// @description Repair quote marketplace: customers open quote competitions, workshops bid, one quote wins.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.MigrateUp(db, cfg.Database.MigrationsURL); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching and idempotency disabled", zap.Error(err))
		redisClient = nil
	}

	// Repositories.
	quotationRepo := repository.NewQuotationRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	idemRepo := repository.NewIdempotencyRepository(redisClient, cfg.Quotations.IdempotencyTTL)

	// Services.
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Quotations.CacheTTL, logr, cfg.Quotations.CacheEnabled && redisClient != nil)
	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	notificationSvc := service.NewNotificationService(notificationRepo, cfg.Notifications, logr)
	quotationSvc := service.NewQuotationService(quotationRepo, idemRepo, notificationSvc, cacheSvc, metricsSvc, cfg.Quotations, logr)
	var archive *storage.ArchiveStore
	if cfg.Exports.ArchiveEnabled {
		archive, err = storage.NewArchiveStore(cfg.Exports.ArchiveDir)
		if err != nil {
			logr.Warn("export archive unavailable", zap.Error(err))
		}
	}
	var archiver service.ExportArchiver
	if archive != nil {
		archiver = archive
	}
	exportSvc := service.NewExportService(logr, nil, nil, archiver)

	// Background workers.
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()
	go quotationSvc.RunExpirySweeper(ctx)
	go notificationSvc.RunReminderScheduler(ctx)
	if archive != nil {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := archive.Prune(cfg.Exports.ArchiveRetention); err != nil {
						logr.Warn("export archive prune failed", zap.Error(err))
					}
				}
			}
		}()
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	quotationHandler := handler.NewQuotationHandler(quotationSvc, exportSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/auth/login", authHandler.Login)

		authed := api.Group("")
		authed.Use(middleware.JWT(authSvc))
		{
			authed.GET("/auth/me", authHandler.Me)

			quotations := authed.Group("/quotations")
			{
				quotations.POST("", middleware.RequireRoles(models.RoleCustomer), quotationHandler.Create)
				quotations.GET("", quotationHandler.List)
				quotations.GET("/:id", quotationHandler.Get)
				quotations.PUT("/:id", quotationHandler.Update)
				quotations.GET("/:id/export", quotationHandler.Export)
			}

			notifications := authed.Group("/notifications")
			{
				notifications.GET("", notificationHandler.List)
				notifications.GET("/unread-count", notificationHandler.UnreadCount)
				notifications.PUT("/read-all", notificationHandler.MarkAllRead)
				notifications.PUT("/:id/read", notificationHandler.MarkRead)
			}

			authed.GET("/admin/status", middleware.RequireRoles(models.RoleAdmin), metricsHandler.Status)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
