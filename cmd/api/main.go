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
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/formatio-api/internal/authz"
	"github.com/noah-isme/formatio-api/internal/handler"
	"github.com/noah-isme/formatio-api/internal/middleware"
	"github.com/noah-isme/formatio-api/internal/repository"
	"github.com/noah-isme/formatio-api/internal/service"
	"github.com/noah-isme/formatio-api/pkg/cache"
	"github.com/noah-isme/formatio-api/pkg/config"
	"github.com/noah-isme/formatio-api/pkg/database"
	"github.com/noah-isme/formatio-api/pkg/jobs"
	"github.com/noah-isme/formatio-api/pkg/logger"
	"github.com/noah-isme/formatio-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/formatio-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/formatio-api/pkg/middleware/requestid"
	"github.com/noah-isme/formatio-api/pkg/storage"
)

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching and rate limiting degrade to no-ops", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	cohortRepo := repository.NewCohortRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	materialRepo := repository.NewMaterialRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	reflectionRepo := repository.NewReflectionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	feedRepo := repository.NewFeedRepository(db)
	exportRepo := repository.NewExportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	// File storage.
	exportsDir := cfg.Exports.StorageDir
	if exportsDir == "" {
		exportsDir = "./data/exports"
	}
	exportStorage, err := storage.NewLocalStorage(exportsDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare exports storage", "error", err)
	}
	uploadsDir := cfg.Uploads.StorageDir
	if uploadsDir == "" {
		uploadsDir = "./data/uploads"
	}
	uploadStorage, err := storage.NewLocalStorage(uploadsDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare uploads storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	validate := validator.New()

	// Services.
	metricsSvc := service.NewMetricsService()

	var sender mailer.Sender = mailer.NopSender{}
	if cfg.Mailer.Enabled {
		sender = mailer.NewSendGrid(cfg.Mailer, logr)
	}
	emailSvc := service.NewEmailService(sender, reflectionRepo, enrollmentRepo, userRepo, cohortRepo, activityRepo, logr, cfg.Digest)
	emailSvc.OnQueued(metricsSvc.CountEmailQueued)
	emailSvc.Start(ctx)
	defer emailSvc.Stop()

	progressionSvc := service.NewProgressionService(enrollmentRepo, cohortRepo, activityRepo, logr)

	authSvc := service.NewAuthService(userRepo, cacheRepo, progressionSvc, emailSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "formatio-api",
	})

	courseSvc := service.NewCourseService(courseRepo, validate, logr)
	cohortSvc := service.NewCohortService(cohortRepo, activityRepo, validate, logr)
	sessionSvc := service.NewSessionService(sessionRepo, reflectionRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, userRepo, cohortRepo, activityRepo, emailSvc, validate, logr)
	reflectionSvc := service.NewReflectionService(reflectionRepo, enrollmentRepo, cohortRepo, userRepo, activityRepo, feedRepo, emailSvc, validate, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, enrollmentRepo, userRepo, logr, service.PaymentConfig{
		WebhookSecret:    cfg.Stripe.WebhookSecret,
		WebhookTolerance: cfg.Stripe.WebhookTolerance,
	})
	materialSvc := service.NewMaterialService(materialRepo, paymentRepo, uploadStorage, validate, logr, service.MaterialConfig{
		WebhookSecret:    cfg.Mux.WebhookSecret,
		WebhookTolerance: cfg.Mux.WebhookTolerance,
		MaxFileSizeBytes: cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Uploads.AllowedMIMEs,
	})
	attendanceSvc := service.NewAttendanceService(attendanceRepo, enrollmentRepo, cohortRepo, userRepo, activityRepo, validate, logr)
	feedSvc := service.NewFeedService(feedRepo, logr)
	dashboardSvc := service.NewDashboardService(enrollmentRepo, cohortRepo, sessionRepo, reflectionRepo, activityRepo, cacheRepo, logr, service.DashboardServiceConfig{
		CacheTTL: cfg.Dashboard.CacheTTL,
	})

	exportSvc := service.NewExportService(exportRepo, enrollmentRepo, reflectionRepo, exportStorage, signer, nil, validate, logr, service.ExportServiceConfig{
		APIPrefix:       cfg.APIPrefix,
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: time.Hour,
	})
	exportQueue := jobs.NewQueue("exports", exportSvc.ProcessJob, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		RetryDelay: 10 * time.Second,
		Logger:     logr,
	})
	exportSvc.SetQueue(exportQueue)
	if cfg.Exports.Enabled {
		exportQueue.Start(ctx)
		defer exportQueue.Stop()
		exportSvc.RecoverPendingJobs(ctx)
		exportSvc.StartCleanup(ctx)
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc, metricsSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	cohortHandler := handler.NewCohortHandler(cohortSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	materialHandler := handler.NewMaterialHandler(materialSvc, cfg.Uploads.MaxFileSizeBytes)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	reflectionHandler := handler.NewReflectionHandler(reflectionSvc, metricsSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	feedHandler := handler.NewFeedHandler(feedSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	webhookHandler := handler.NewWebhookHandler(paymentSvc, materialSvc, metricsSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, redisClient)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", middleware.JWT(authSvc), middleware.Authorize(authz.ResourceMetrics, authz.ActionRead), metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)

	// Counter keys include the route, so one limiter covers both public
	// account probes.
	authLimiter := middleware.RateLimit(cacheRepo, middleware.RateLimitConfig{
		Enabled:  cfg.RateLimit.Enabled,
		Requests: cfg.RateLimit.OTPRequests,
		Window:   cfg.RateLimit.OTPWindow,
	}, logr)

	// Public surface.
	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/check-email", authLimiter, authHandler.CheckEmail)
	auth.POST("/otp/send", authLimiter, authHandler.SendOTP)
	auth.POST("/otp/verify", authHandler.VerifyOTP)

	api.POST("/enrollments/signup", enrollmentHandler.Signup)
	api.POST("/webhooks/stripe", webhookHandler.Stripe)
	api.POST("/webhooks/mux", webhookHandler.Mux)
	api.GET("/exports/download/:token", exportHandler.Download)

	// Authenticated surface.
	private := api.Group("")
	private.Use(middleware.JWT(authSvc))

	private.POST("/auth/logout", authHandler.Logout)
	private.POST("/auth/change-password", authHandler.ChangePassword)
	private.GET("/dashboard", dashboardHandler.Me)

	courses := private.Group("/courses")
	courses.GET("", courseHandler.List)
	courses.GET("/:id", courseHandler.Get)
	courses.POST("", middleware.Authorize(authz.ResourceCohort, authz.ActionWrite), courseHandler.Create)
	courses.PATCH("/:id", middleware.Authorize(authz.ResourceCohort, authz.ActionWrite), courseHandler.Update)
	courses.GET("/:id/sessions", middleware.Authorize(authz.ResourceSession, authz.ActionRead), sessionHandler.ListByCourse)
	courses.PUT("/:id/sessions/reorder", middleware.Authorize(authz.ResourceSession, authz.ActionReorder), sessionHandler.Reorder)

	cohorts := private.Group("/cohorts")
	cohorts.GET("", middleware.Authorize(authz.ResourceCohort, authz.ActionRead), cohortHandler.List)
	cohorts.GET("/:id", middleware.Authorize(authz.ResourceCohort, authz.ActionRead), cohortHandler.Get)
	cohorts.POST("", middleware.Authorize(authz.ResourceCohort, authz.ActionWrite), cohortHandler.Create)
	cohorts.PATCH("/:id", middleware.Authorize(authz.ResourceCohort, authz.ActionWrite), cohortHandler.Update)
	cohorts.DELETE("/:id", middleware.Authorize(authz.ResourceCohort, authz.ActionWrite), cohortHandler.Archive)
	cohorts.POST("/:id/complete", middleware.Authorize(authz.ResourceCohort, authz.ActionWrite), cohortHandler.Complete)
	cohorts.GET("/:id/feed", middleware.Authorize(authz.ResourceFeed, authz.ActionRead), feedHandler.List)
	cohorts.GET("/:id/activity", middleware.Authorize(authz.ResourceActivity, authz.ActionRead), dashboardHandler.CohortActivity)
	cohorts.GET("/:id/attendance", middleware.Authorize(authz.ResourceAttendance, authz.ActionRead), attendanceHandler.Grid)

	private.PUT("/attendance", middleware.Authorize(authz.ResourceAttendance, authz.ActionWrite), attendanceHandler.Mark)

	sessions := private.Group("/sessions")
	sessions.GET("/:id", middleware.Authorize(authz.ResourceSession, authz.ActionRead), sessionHandler.Get)
	sessions.POST("", middleware.Authorize(authz.ResourceSession, authz.ActionWrite), sessionHandler.Create)
	sessions.PATCH("/:id", middleware.Authorize(authz.ResourceSession, authz.ActionWrite), sessionHandler.Update)
	sessions.DELETE("/:id", middleware.Authorize(authz.ResourceSession, authz.ActionWrite), sessionHandler.Delete)
	sessions.GET("/:id/questions", middleware.Authorize(authz.ResourceReflection, authz.ActionRead), sessionHandler.ListQuestions)
	sessions.POST("/:id/questions", middleware.Authorize(authz.ResourceSession, authz.ActionWrite), sessionHandler.CreateQuestion)
	sessions.GET("/:id/materials", middleware.Authorize(authz.ResourceMaterial, authz.ActionRead), materialHandler.ListBySession)
	sessions.PUT("/:id/materials/reorder", middleware.Authorize(authz.ResourceMaterial, authz.ActionReorder), materialHandler.Reorder)

	materials := private.Group("/materials")
	materials.POST("", middleware.Authorize(authz.ResourceMaterial, authz.ActionWrite), materialHandler.Create)
	materials.PATCH("/:id", middleware.Authorize(authz.ResourceMaterial, authz.ActionWrite), materialHandler.Update)
	materials.DELETE("/:id", middleware.Authorize(authz.ResourceMaterial, authz.ActionWrite), materialHandler.Delete)
	materials.POST("/:id/file", middleware.Authorize(authz.ResourceMaterial, authz.ActionWrite), materialHandler.UploadFile)
	materials.POST("/:id/upload", middleware.Authorize(authz.ResourceMaterial, authz.ActionWrite), materialHandler.RegisterUpload)

	enrollments := private.Group("/enrollments")
	enrollments.GET("", middleware.Authorize(authz.ResourceEnrollment, authz.ActionRead), enrollmentHandler.List)
	enrollments.GET("/:id", middleware.Authorize(authz.ResourceEnrollment, authz.ActionRead), enrollmentHandler.Get)
	enrollments.POST("/invite", middleware.Authorize(authz.ResourceEnrollment, authz.ActionWrite), enrollmentHandler.Invite)
	enrollments.DELETE("/:id", middleware.Authorize(authz.ResourceEnrollment, authz.ActionWrite), enrollmentHandler.Withdraw)
	enrollments.PUT("/:id/session", middleware.Authorize(authz.ResourceEnrollment, authz.ActionWrite), enrollmentHandler.SetCurrentSession)

	reflections := private.Group("/reflections")
	reflections.PUT("", middleware.Authorize(authz.ResourceReflection, authz.ActionWrite), reflectionHandler.Save)
	reflections.GET("/mine", middleware.Authorize(authz.ResourceReflection, authz.ActionRead), reflectionHandler.ListMine)
	reflections.GET("/grading", middleware.Authorize(authz.ResourceReflection, authz.ActionGrade), reflectionHandler.ListForGrading)
	reflections.POST("/grade", middleware.Authorize(authz.ResourceReflection, authz.ActionGrade), reflectionHandler.Grade)

	private.PUT("/feed/:id/pin", middleware.Authorize(authz.ResourceFeed, authz.ActionPin), feedHandler.SetPinned)

	exports := private.Group("/exports")
	exports.POST("", middleware.Authorize(authz.ResourceExport, authz.ActionWrite), exportHandler.Create)
	exports.GET("/:id", middleware.Authorize(authz.ResourceExport, authz.ActionRead), exportHandler.Status)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
