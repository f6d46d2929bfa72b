package router

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/handler"
	"github.com/stemsi/exstem-cbt/internal/metrics"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Test    *handler.TestHandler
	Session *handler.SessionHandler
	Result  *handler.ResultHandler
	Manage  *handler.ManageHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
	Health  *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	loginLimiter *middleware.RateLimiter,
	cfg *config.Config,
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

	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.Middleware())
	router.Use(middleware.BrotliWithConfig(compressionConfig()))

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", metrics.Handler())

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/login", loginLimiter.Middleware(), handlers.Auth.Login)

		authed := auth.Group("", middleware.RequireJWT(authService))
		authed.POST("/logout", handlers.Auth.Logout)
		authed.GET("/me", handlers.Auth.Me)
	}

	api := router.Group("/api/v1")
	api.Use(middleware.RequireJWT(authService))

	// ─── 2. Tests ──────────────────────────────────────────────────────
	tests := api.Group("/tests")
	{
		tests.GET("", handlers.Test.ListAvailable)
		tests.GET("/:id", handlers.Test.Get)
		tests.GET("/:id/questions", handlers.Test.Questions)
	}

	// ─── 3. Sessions (no-store: responses carry the session token) ────
	sessions := api.Group("/sessions", middleware.NoStore())
	{
		sessions.POST("/start", handlers.Session.Start)
		sessions.GET("/my", handlers.Session.Mine)
		sessions.GET("/:token", handlers.Session.Get)
		sessions.POST("/:token/answers", handlers.Session.SubmitAnswer)
		sessions.GET("/:token/answers", handlers.Session.ListAnswers)
		sessions.PUT("/:token/progress", handlers.Session.UpdateProgress)
		sessions.POST("/:token/submit", handlers.Session.Submit)
	}

	// ─── 4. Results ────────────────────────────────────────────────────
	results := api.Group("/results")
	{
		results.GET("/my", handlers.Result.Mine)
		results.GET("/session/:sessionId", handlers.Result.BySession)
		results.GET("/:id", handlers.Result.Get)
	}

	// ─── 5. Manage (teacher / admin) ───────────────────────────────────
	manage := api.Group("/manage/tests", middleware.RequireRole(model.RoleTeacher, model.RoleAdmin))
	{
		manage.GET("", handlers.Manage.List)
		manage.POST("", handlers.Manage.Create)
		manage.PUT("/:id", handlers.Manage.Update)
		manage.DELETE("/:id", handlers.Manage.Delete)
		manage.POST("/:id/activate", handlers.Manage.Activate)
		manage.POST("/:id/deactivate", handlers.Manage.Deactivate)
		manage.GET("/:id/questions", handlers.Manage.Questions)
		manage.POST("/:id/questions", handlers.Manage.AddQuestion)
		manage.GET("/:id/questions/:questionId", handlers.Manage.Question)
		manage.PUT("/:id/questions/:questionId", handlers.Manage.UpdateQuestion)
		manage.DELETE("/:id/questions/:questionId", handlers.Manage.DeleteQuestion)
		manage.POST("/:id/questions/:questionId/options", handlers.Manage.AddOption)
		manage.PUT("/:id/questions/:questionId/options/:optionId", handlers.Manage.UpdateOption)
		manage.DELETE("/:id/questions/:questionId/options/:optionId", handlers.Manage.DeleteOption)
		manage.POST("/:id/questions/:questionId/answers", handlers.Manage.AddAcceptedAnswer)
		manage.GET("/:id/results", handlers.Manage.Results)
		manage.GET("/:id/statistics", handlers.Manage.Statistics)
		manage.GET("/:id/sessions", handlers.Manage.LiveSessions)
		manage.GET("/:id/monitor", handlers.Monitor.MonitorTestSSE)
	}

	// ─── 6. WebSocket ──────────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/sessions/:token/stream", handlers.WS.SessionStream)
	}

	return router
}

// compressionConfig is the default brotli setup minus the Prometheus scrape
// endpoint and WebSocket upgrades.
func compressionConfig() middleware.BrotliConfig {
	cfg := middleware.DefaultBrotliConfig
	cfg.Skipper = func(c *gin.Context) bool {
		return c.Request.URL.Path == "/metrics" || strings.HasPrefix(c.Request.URL.Path, "/ws/")
	}
	return cfg
}
