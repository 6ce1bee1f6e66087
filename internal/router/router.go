package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edutrack/edutrack-backend/internal/config"
	"github.com/edutrack/edutrack-backend/internal/handler"
	"github.com/edutrack/edutrack-backend/internal/middleware"
	"github.com/edutrack/edutrack-backend/internal/model"
	"github.com/edutrack/edutrack-backend/internal/response"
	"github.com/edutrack/edutrack-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Student  *handler.StudentHandler
	Semester *handler.SemesterHandler
	System   *handler.SystemHandler
}

// Options carries optional middleware for route setup.
type Options struct {
	Log zerolog.Logger
	// ReconcileLimiter throttles batch reconciliation. Nil disables it.
	ReconcileLimiter *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	opts Options,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(RequestLogger(opts.Log))

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ─── Admin Group (JWT + RBAC) ──────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		read := middleware.RequirePermission(model.PermissionStudentsRead)

		// Student registry
		adminAPI.POST("/students",
			middleware.RequirePermission(model.PermissionStudentsWrite),
			handlers.Student.CreateStudent,
		)
		adminAPI.GET("/students", read, handlers.Student.SearchStudents)
		adminAPI.GET("/students/:id", read, handlers.Student.GetStudent)
		adminAPI.GET("/students/by-register/:register_number", read, handlers.Student.GetStudentByRegisterNumber)
		adminAPI.GET("/stats", read, handlers.Student.Stats)

		// Semesters
		adminAPI.GET("/students/:id/semesters", read, handlers.Semester.ListStudentSemesters)
		adminAPI.PUT("/students/:id/semesters/:num",
			middleware.RequirePermission(model.PermissionSemestersWrite),
			handlers.Semester.SubmitSemester,
		)
		adminAPI.DELETE("/students/:id/semesters/:num",
			middleware.RequirePermission(model.PermissionSemestersWrite),
			handlers.Semester.DeleteSemester,
		)
		adminAPI.GET("/semesters", read, handlers.Semester.ListSemesters)
		adminAPI.GET("/grades", read, handlers.Semester.Grades)

		// Reconciliation
		adminAPI.POST("/students/:id/reconcile",
			middleware.RequirePermission(model.PermissionAggregatesReconcile),
			handlers.Semester.ReconcileStudent,
		)
		reconcileAll := []gin.HandlerFunc{middleware.RequirePermission(model.PermissionAggregatesReconcile)}
		if opts.ReconcileLimiter != nil {
			reconcileAll = append(reconcileAll, opts.ReconcileLimiter.Middleware())
		}
		reconcileAll = append(reconcileAll, handlers.Semester.ReconcileAll)
		adminAPI.POST("/reconcile", reconcileAll...)

		// System
		adminAPI.GET("/system/status", read, handlers.System.Status)
	}

	return router
}
