package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/reelrec/internal/handler"
	"github.com/user/reelrec/internal/middleware"
)

// New 创建 gin 引擎并注册全局中间件
func New(h *handler.Handler) (*gin.Engine, error) {
	if err := handler.RegisterValidators(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	RegisterRoutes(r, h)
	return r, nil
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler) {
	secret := h.Config.AppSecret
	requireAuth := middleware.RequireAuth(secret)
	requireAdmin := middleware.RequireAdmin()

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ==================== 认证 ====================
	loginLimiter := middleware.NewRateLimiter(h.Config.LoginRatePerMinute)
	auth := r.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", loginLimiter.Middleware(), h.Login)
	}

	// ==================== 电影 ====================
	movies := r.Group("/movies")
	{
		movies.GET("", h.ListMovies)
		movies.GET("/search", h.SearchMovies)
		movies.GET("/:id", h.GetMovie)
		movies.GET("/:id/similar", h.SimilarMovies)
		movies.GET("/:id/reviews", h.ListReviews)
		movies.POST("/:id/reviews", requireAuth, h.CreateReview)

		movies.POST("", requireAuth, requireAdmin, h.CreateMovie)
		movies.PUT("/:id", requireAuth, requireAdmin, h.UpdateMovie)
		movies.DELETE("/:id", requireAuth, requireAdmin, h.DeleteMovie)
	}

	// ==================== 用户 ====================
	users := r.Group("/users")
	{
		users.GET("/me", requireAuth, h.Me)
		users.GET("/me/history", requireAuth, h.History)
		users.POST("/me/watch/:movie_id", requireAuth, h.Watch)
		users.POST("/me/watch/:movie_id/refresh", requireAuth, h.WatchAndRefresh)

		users.GET("/:id", requireAuth, h.GetUser)
		users.PUT("/:id/role", requireAuth, requireAdmin, h.UpdateRole)
		users.POST("/:id/recommendations", requireAuth, h.GenerateRecommendations)
		users.GET("/:id/recommendations", h.GetRecommendations)
	}

	// ==================== 管理后台 ====================
	admin := r.Group("/admin")
	admin.Use(requireAuth, requireAdmin)
	{
		admin.POST("/tmdb/sync", h.SyncTMDB)
	}
}
