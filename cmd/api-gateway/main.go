package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/clefworks/msm-api/api/swagger"
	"github.com/clefworks/msm-api/internal/handler"
	"github.com/clefworks/msm-api/internal/middleware"
	"github.com/clefworks/msm-api/internal/models"
	"github.com/clefworks/msm-api/internal/repository"
	"github.com/clefworks/msm-api/internal/service"
	"github.com/clefworks/msm-api/pkg/cache"
	"github.com/clefworks/msm-api/pkg/config"
	"github.com/clefworks/msm-api/pkg/database"
	"github.com/clefworks/msm-api/pkg/logger"
	"github.com/clefworks/msm-api/pkg/mailer"
	corsmiddleware "github.com/clefworks/msm-api/pkg/middleware/cors"
	reqidmiddleware "github.com/clefworks/msm-api/pkg/middleware/requestid"
	"github.com/clefworks/msm-api/pkg/ratelimit"
)

// @title Music School Manager API
// @version 0.1.0
// @description Term continuation workflow for multi-tenant music schools
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

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, rate limiting disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	termRepo := repository.NewTermRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	guardianRepo := repository.NewGuardianRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	rateCardRepo := repository.NewRateCardRepository(db)
	continuationRepo := repository.NewContinuationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "msm-api",
		SingleSession:      cfg.JWT.SingleSession,
	})

	sender := mailer.NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.FromAddress, logr)
	limiter := ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.Window, cfg.RateLimit.MaxAttempts, logr)

	eligibilityService := service.NewEligibilityService(lessonRepo, studentRepo, logr)
	continuationService := service.NewContinuationService(
		continuationRepo,
		termRepo,
		guardianRepo,
		rateCardRepo,
		eligibilityService,
		sender,
		userRepo,
		metrics,
		cacheRepo,
		cfg.Continuation,
		cfg.Email,
		logr,
	)
	intakeService := service.NewIntakeService(
		continuationRepo,
		guardianRepo,
		continuationService,
		limiter,
		userRepo,
		metrics,
		logr,
	)

	authHandler := handler.NewAuthHandler(authService)
	continuationHandler := handler.NewContinuationHandler(continuationService)
	responseHandler := handler.NewResponseHandler(intakeService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)

	if cfg.Continuation.Enabled {
		// Token routes are unauthenticated; possession of the token is the credential.
		api.GET("/continuation/respond/:token", responseHandler.Preview)
		api.POST("/continuation/respond", responseHandler.Submit)
		api.POST("/continuation/portal/respond",
			middleware.JWT(authService),
			middleware.RequireRoles(models.RoleGuardian),
			responseHandler.PortalSubmit,
		)

		staff := api.Group("/continuation-runs",
			middleware.JWT(authService),
			middleware.RequireRoles(models.RoleOwner, models.RoleAdmin),
		)
		staff.GET("", continuationHandler.List)
		staff.GET("/:id", continuationHandler.Get)
		staff.GET("/:id/export",
			middleware.Audit(userRepo, models.AuditActionContinuationDump, "continuation_run"),
			continuationHandler.Export,
		)
		staff.POST("/actions", continuationHandler.Action)
	} else {
		logr.Sugar().Infow("continuation routes disabled", "flag", "ENABLE_CONTINUATION")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
