package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/handler"
	"github.com/stemsi/exstem-exam/internal/middleware"
	"github.com/stemsi/exstem-exam/internal/response"
	"github.com/stemsi/exstem-exam/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth      *handler.AuthHandler
	Exam      *handler.ExamHandler
	Attempt   *handler.AttemptHandler
	Report    *handler.ReportHandler
	StaffExam *handler.StaffExamHandler
	Monitor   *handler.MonitorHandler
	WS        *handler.WSHandler
	Health    *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	rdb *redis.Client,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

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
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID on every response envelope.
	router.Use(response.RequestIDMiddleware())

	router.Use(middleware.Brotli())

	router.GET("/health", handlers.Health.Health)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	authLimiter := middleware.NewRateLimiter(rdb, "auth", cfg.AuthRateLimit, time.Minute)
	requireSession := []gin.HandlerFunc{
		middleware.RequireAuth(authService),
		middleware.CheckActiveSession(authService),
	}

	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/register", handlers.Auth.Register)
		auth.POST("/login", handlers.Auth.Login)

		// Logout only needs a valid token; a replaced session may still log out.
		auth.POST("/logout", middleware.RequireAuth(authService), handlers.Auth.Logout)
		auth.GET("/me", append(requireSession, handlers.Auth.Me)...)
	}

	// ─── 2. Authenticated API (JWT + Single Session) ───────────────────
	api := router.Group("/api/v1")
	api.Use(requireSession...)
	{
		api.GET("/exams", handlers.Exam.ListExams)
		api.GET("/exams/:id", handlers.Exam.GetPaper)
		api.POST("/exams/:id/attempts", middleware.NoStore(), handlers.Exam.StartAttempt)

		attempts := api.Group("/attempts")
		attempts.Use(middleware.NoStore())
		{
			attempts.GET("/:id", handlers.Attempt.GetAttempt)
			attempts.PUT("/:id/answers/:slot", handlers.Attempt.SaveAnswer)
			attempts.POST("/:id/violations", handlers.Attempt.ReportViolation)
			attempts.POST("/:id/submit", handlers.Attempt.Submit)
		}

		reports := api.Group("/reports")
		reports.Use(middleware.NoStore())
		{
			reports.GET("", handlers.Report.ListMine)
			reports.GET("/:id", handlers.Report.GetReport)
		}
	}

	// ─── 3. Staff Group (TEACHER | ADMIN) ──────────────────────────────
	staff := router.Group("/api/v1/staff")
	staff.Use(requireSession...)
	staff.Use(middleware.RequireStaff(), middleware.NoStore())
	{
		staff.GET("/exams", handlers.StaffExam.ListExams)
		staff.POST("/exams", handlers.StaffExam.CreateExam)
		staff.GET("/exams/:id", handlers.StaffExam.GetExam)
		staff.PUT("/exams/:id", handlers.StaffExam.UpdateExam)
		staff.DELETE("/exams/:id", handlers.StaffExam.DeleteExam)
		staff.PUT("/exams/:id/questions", handlers.StaffExam.ReplaceQuestions)
		staff.GET("/exams/:id/reports", handlers.StaffExam.ListReports)
		staff.GET("/exams/:id/stats", handlers.StaffExam.GetStats)
		staff.GET("/exams/:id/monitor", handlers.Monitor.MonitorExamSSE)
	}

	// ─── 4. WebSocket Group ────────────────────────────────────────────
	// Browsers cannot set headers on a WebSocket handshake, so the token
	// may also come from ?token=.
	ws := router.Group("/ws/v1")
	ws.Use(requireSession...)
	{
		ws.GET("/attempts/:id/stream", handlers.WS.AttemptStream)
	}

	return router
}
