package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/handler"
	"github.com/noah-isme/course-enrollment-api/internal/middleware"
	"github.com/noah-isme/course-enrollment-api/internal/repository"
	"github.com/noah-isme/course-enrollment-api/internal/service"
	"github.com/noah-isme/course-enrollment-api/pkg/config"
	"github.com/noah-isme/course-enrollment-api/pkg/lock"
	"github.com/noah-isme/course-enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-enrollment-api/pkg/middleware/requestid"
)

type dependencies struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *sqlx.DB
	cacheRepo   *repository.CacheRepository
	cache       *service.CacheService
	invalidator *service.CacheInvalidator
	metrics     *service.MetricsService
	locker      lock.Locker
}

func newRouter(d dependencies) *gin.Engine {
	cfg := d.cfg

	txManager := repository.NewTxManager(d.db)
	studentRepo := repository.NewStudentRepository(d.db)
	courseRepo := repository.NewCourseRepository(d.db)
	enrollmentRepo := repository.NewEnrollmentRepository(d.db)

	validate := service.NewValidator()

	enrollmentSvc := service.NewEnrollmentService(txManager, enrollmentRepo, studentRepo, courseRepo, d.locker, validate, d.logger, service.EnrollmentOptions{
		MaxCredits:  cfg.Enrollment.MaxCredits,
		Metrics:     d.metrics,
		Invalidator: d.invalidator,
	})
	cascadeSvc := service.NewCascadeService(txManager, enrollmentRepo, studentRepo, courseRepo, d.locker, d.logger, d.metrics, d.invalidator)
	studentSvc := service.NewStudentService(studentRepo, courseRepo, d.cache, validate, d.logger)
	courseSvc := service.NewCourseService(txManager, courseRepo, studentRepo, validate, d.logger, service.CourseOptions{
		MaxCredits:      cfg.Enrollment.MaxCredits,
		DefaultCapacity: cfg.Enrollment.DefaultCourseCapacity,
		Cache:           d.cache,
		Invalidator:     d.invalidator,
	})
	rosterSvc := service.NewRosterService(courseSvc, d.logger)
	authSvc := service.NewAuthService(d.logger, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.AccessTTL,
		Issuer:            cfg.JWT.Issuer,
	})

	studentHandler := handler.NewStudentHandler(studentSvc, cascadeSvc)
	courseHandler := handler.NewCourseHandler(courseSvc, cascadeSvc, rosterSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	metricsHandler := handler.NewMetricsHandler(d.metrics, map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error { return d.db.PingContext(ctx) },
		"cache":    d.cacheRepo.Ping,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(d.logger))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(d.metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	var staff, staffOrSelf gin.HandlerFunc = openAccess, openAccess
	if cfg.JWT.Enabled {
		api.Use(middleware.JWT(authSvc))
		staff = middleware.RequireStaff()
		staffOrSelf = middleware.RequireStaffOrSelf()
	}
	audit := d.logger.Named("audit")

	students := api.Group("/students")
	students.GET("", staff, studentHandler.List)
	students.POST("", staff, middleware.Audit(audit, "create", "student"), studentHandler.Create)
	students.GET("/:id", staffOrSelf, studentHandler.Get)
	students.PATCH("/:id", staff, middleware.Audit(audit, "update", "student"), studentHandler.Update)
	students.DELETE("/:id", staff, middleware.Audit(audit, "delete", "student"), studentHandler.Delete)
	students.GET("/:id/courses", staffOrSelf, studentHandler.Courses)
	students.DELETE("/:id/enrollments", middleware.Audit(audit, "cancel_term", "student"), studentHandler.CancelTerm)

	courses := api.Group("/courses")
	courses.GET("", courseHandler.List)
	courses.POST("", staff, middleware.Audit(audit, "create", "course"), courseHandler.Create)
	courses.GET("/:id", courseHandler.Get)
	courses.PATCH("/:id", staff, middleware.Audit(audit, "update", "course"), courseHandler.Update)
	courses.DELETE("/:id", staff, middleware.Audit(audit, "delete", "course"), courseHandler.Delete)
	courses.GET("/:id/students", staff, courseHandler.Students)
	courses.GET("/:id/roster", staff, courseHandler.Roster)

	enrollments := api.Group("/enrollments")
	enrollments.POST("", middleware.Audit(audit, "enroll", "enrollment"), enrollmentHandler.Enroll)
	enrollments.DELETE("/:studentId/:courseId", middleware.Audit(audit, "unenroll", "enrollment"), enrollmentHandler.Unenroll)

	return r
}

func openAccess(c *gin.Context) {
	c.Next()
}
