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

	_ "github.com/noah-isme/course-select-api/api/swagger"
	"github.com/noah-isme/course-select-api/internal/handler"
	"github.com/noah-isme/course-select-api/internal/middleware"
	"github.com/noah-isme/course-select-api/internal/models"
	"github.com/noah-isme/course-select-api/internal/repository"
	"github.com/noah-isme/course-select-api/internal/service"
	"github.com/noah-isme/course-select-api/pkg/cache"
	"github.com/noah-isme/course-select-api/pkg/config"
	"github.com/noah-isme/course-select-api/pkg/database"
	"github.com/noah-isme/course-select-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-select-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-select-api/pkg/middleware/requestid"
)

// @title Course Select API
// @version 1.0.0
// @description Course enrollment allocation: preference intake, priority matching, waitlists and capacity accounting
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

	db, err := database.NewPostgres(context.Background(), cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(context.Background(), cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	// Repositories.
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	preferenceRepo := repository.NewPreferenceRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	runRepo := repository.NewMatchingRunRepository(db)
	ledger := repository.NewCapacityLedger(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	authSvc := service.NewAuthService(cfg.JWT.Secret)
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, cfg.Cache.KeySpace, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	notificationSvc := service.NewNotificationService(redisClient, cfg.Notifications, logr)
	studentSvc := service.NewStudentService(studentRepo)
	courseSvc := service.NewCourseService(courseRepo, cacheSvc)
	preferenceSvc := service.NewPreferenceService(preferenceRepo, enrollmentRepo, courseRepo, studentRepo, db,
		service.PreferenceBounds{Min: cfg.Enrollment.MinPreferences, Max: cfg.Enrollment.MaxPreferences}, nil, logr)
	matchingSvc := service.NewMatchingService(enrollmentRepo, preferenceRepo, ledger, runRepo, db, notificationSvc, metricsSvc, logr)
	waitlistSvc := service.NewWaitlistService(enrollmentRepo, ledger, courseRepo, db, notificationSvc, metricsSvc, cacheSvc, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, ledger, courseRepo, courseRepo, db, waitlistSvc, notificationSvc, metricsSvc, cacheSvc, logr)

	// Handlers.
	preferenceHandler := handler.NewPreferenceHandler(preferenceSvc, studentSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, studentSvc)
	matchingHandler := handler.NewMatchingHandler(matchingSvc)
	waitlistHandler := handler.NewWaitlistHandler(waitlistSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

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
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc))

	staff := middleware.RequireRoles(models.RoleLeader, models.RoleSecretary)
	studentOnly := middleware.RequireRoles(models.RoleStudent)
	professorOnly := middleware.RequireRoles(models.RoleProfessor)

	prefs := api.Group("/preferences", studentOnly)
	{
		prefs.POST("", preferenceHandler.Submit)
		prefs.PUT("", preferenceHandler.Update)
		prefs.GET("/:term", preferenceHandler.Get)
		prefs.DELETE("/:term", preferenceHandler.Withdraw)
	}

	enrollments := api.Group("/enrollments")
	{
		enrollments.GET("", enrollmentHandler.List)
		enrollments.GET("/mine", studentOnly, enrollmentHandler.Mine)
		enrollments.GET("/pending-review", professorOnly, enrollmentHandler.PendingReviews)
		enrollments.GET("/export", staff, enrollmentHandler.Export)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.POST("/:id/confirm", studentOnly, enrollmentHandler.Confirm)
		enrollments.POST("/:id/drop", enrollmentHandler.Drop)
		enrollments.POST("/:id/review", middleware.RequireRoles(models.RoleProfessor, models.RoleLeader), enrollmentHandler.Review)
	}

	matching := api.Group("/matching", staff)
	{
		matching.POST("/run", matchingHandler.Run)
		matching.GET("/runs", matchingHandler.Runs)
	}

	courses := api.Group("/courses")
	{
		courses.GET("", courseHandler.List)
		courses.GET("/:id", courseHandler.Get)
		courses.GET("/:id/waitlist", waitlistHandler.List)
		courses.POST("/:id/waitlist/promote", staff, waitlistHandler.Promote)
	}

	capacity := api.Group("/capacity", staff)
	{
		capacity.GET("/seats", enrollmentHandler.SeatCounts)
		capacity.GET("/audit", enrollmentHandler.CapacityAudit)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
}
