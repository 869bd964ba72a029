package main

import (
	"context"
	"errors"
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

	_ "github.com/edukite/campus-core-api/api/swagger"
	"github.com/edukite/campus-core-api/internal/handler"
	"github.com/edukite/campus-core-api/internal/middleware"
	"github.com/edukite/campus-core-api/internal/models"
	"github.com/edukite/campus-core-api/internal/repository"
	"github.com/edukite/campus-core-api/internal/service"
	"github.com/edukite/campus-core-api/pkg/cache"
	"github.com/edukite/campus-core-api/pkg/clock"
	"github.com/edukite/campus-core-api/pkg/config"
	"github.com/edukite/campus-core-api/pkg/database"
	"github.com/edukite/campus-core-api/pkg/logger"
	corsmiddleware "github.com/edukite/campus-core-api/pkg/middleware/cors"
	reqidmiddleware "github.com/edukite/campus-core-api/pkg/middleware/requestid"
)

// @title Campus Core API
// @version 1.0.0
// @description Enrollment and grading engine
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, averages will not be cached", "error", err)
		redisClient = nil
	}

	// Repositories.
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	wallClock := clock.System()
	metricsSvc := service.NewMetricsService()
	courseSvc := service.NewCourseService(courseRepo, userRepo, wallClock, nil, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, userRepo, wallClock, cfg.Enrollment.WithdrawWindow, nil, logr)
	taskSvc := service.NewTaskService(taskRepo, gradeRepo, courseRepo, wallClock, nil, logr)
	gradeSvc := service.NewGradeService(gradeRepo, taskRepo, enrollmentRepo, courseRepo, cacheRepo, metricsSvc, cfg.Grading.PassThreshold, cfg.Grading.AverageCacheTTL, nil, logr)
	reportSvc := service.NewReportService(gradeSvc, courseRepo, logr)

	var auditSvc *service.AuditService
	if cfg.Audit.Enabled {
		auditSvc = service.NewAuditService(userRepo, cfg.Audit.Workers, cfg.Audit.BufferSize, logr)
		auditSvc.Start(context.Background())
		defer auditSvc.Stop()
	}

	// Handlers.
	courseHandler := handler.NewCourseHandler(courseSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, metricsSvc)
	taskHandler := handler.NewTaskHandler(taskSvc)
	gradeHandler := handler.NewGradeHandler(gradeSvc, metricsSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
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
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), cfg, auditSvc,
		courseHandler, enrollmentHandler, taskHandler, gradeHandler, reportHandler)

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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("server stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func registerRoutes(api *gin.RouterGroup, cfg *config.Config, audit *service.AuditService,
	courses *handler.CourseHandler, enrollments *handler.EnrollmentHandler,
	tasks *handler.TaskHandler, grades *handler.GradeHandler, reports *handler.ReportHandler) {

	authed := api.Group("")
	authed.Use(middleware.JWT(cfg.JWT.Secret))

	courseRoutes := authed.Group("/courses")
	{
		courseRoutes.GET("", courses.List)
		courseRoutes.GET("/:id", courses.Get)
		courseRoutes.POST("",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			middleware.Audit(audit, models.AuditActionCourseCreate, "courses"),
			courses.Create)
		courseRoutes.PUT("/:id/status",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(audit, models.AuditActionCourseStatus, "courses"),
			courses.SetStatus)
		courseRoutes.GET("/:id/tasks", tasks.ListByCourse)
		courseRoutes.GET("/:id/average", grades.Average)
		courseRoutes.GET("/:id/enrollment-counts",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			enrollments.Counts)
		if cfg.Reports.Enabled {
			courseRoutes.GET("/:id/report.csv",
				middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
				reports.CSV)
			courseRoutes.GET("/:id/report.pdf",
				middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
				reports.PDF)
		}
	}

	enrollmentRoutes := authed.Group("/enrollments")
	{
		enrollmentRoutes.GET("",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			enrollments.List)
		enrollmentRoutes.GET("/conflicts", enrollments.Conflicts)
		enrollmentRoutes.POST("",
			middleware.Audit(audit, models.AuditActionEnroll, "enrollments"),
			enrollments.Create)
		enrollmentRoutes.PUT("/:id/withdraw",
			middleware.Audit(audit, models.AuditActionWithdraw, "enrollments"),
			enrollments.Withdraw)
		enrollmentRoutes.PUT("/:id/admin-withdraw",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			middleware.Audit(audit, models.AuditActionAdminWithdraw, "enrollments"),
			enrollments.AdminWithdraw)
		enrollmentRoutes.PUT("/:id/reactivate",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			middleware.Audit(audit, models.AuditActionReactivate, "enrollments"),
			enrollments.Reactivate)
	}

	taskRoutes := authed.Group("/tasks")
	{
		taskRoutes.POST("",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			middleware.Audit(audit, models.AuditActionTaskCreate, "tasks"),
			tasks.Create)
		taskRoutes.PUT("/:id/advance",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			tasks.Advance)
		taskRoutes.DELETE("/:id",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			middleware.Audit(audit, models.AuditActionTaskDelete, "tasks"),
			tasks.Delete)
	}

	gradeRoutes := authed.Group("/grades")
	{
		gradeRoutes.GET("",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			grades.List)
		gradeRoutes.POST("",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			middleware.Audit(audit, models.AuditActionGradeRecord, "grades"),
			grades.Record)
		gradeRoutes.PUT("/:id",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			middleware.Audit(audit, models.AuditActionGradeUpdate, "grades"),
			grades.Update)
		gradeRoutes.DELETE("/:id",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			middleware.Audit(audit, models.AuditActionGradeDelete, "grades"),
			grades.Delete)
	}
}
