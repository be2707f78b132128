package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/user/reelrec/internal/cache"
	"github.com/user/reelrec/internal/config"
	"github.com/user/reelrec/internal/handler"
	"github.com/user/reelrec/internal/logging"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/repository"
	"github.com/user/reelrec/internal/router"
	"github.com/user/reelrec/internal/service"
	"github.com/user/reelrec/internal/similarity"
)

func main() {
	// 加载环境变量
	envErr := godotenv.Load()

	// 加载配置
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if envErr != nil {
		logging.Info().Msg("未找到 .env 文件，使用系统环境变量")
	}

	// 初始化数据库
	db, err := repository.InitDB(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("数据库连接失败")
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	if err := repository.Migrate(db); err != nil {
		logging.Fatal().Err(err).Msg("数据库迁移失败")
	}
	repos := repository.NewRepositories(db)

	// 初始化缓存
	var dial cache.Dialer
	if cfg.CacheBackend == "memory" {
		dial = cache.MemoryDialer(cache.NewMemoryBackend())
	} else {
		dial = cache.RedisDialer(cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
			Timeout:  cfg.CacheTimeout,
		})
	}
	cacheLayer := cache.New(dial, cache.Options{Timeout: cfg.CacheTimeout})

	// 初始化服务
	engine := similarity.NewEngine(model.EmbeddingDim)
	recs := service.NewRecommendationService(repos, cacheLayer, engine, cfg)
	catalog := service.NewCatalogService(repos, cacheLayer, recs, engine, cfg)
	queue := service.NewRegenQueue(recs, service.RegenQueueConfig{
		Workers:   cfg.RegenWorkers,
		QueueSize: cfg.RegenQueueSize,
		Timeout:   cfg.RegenTimeout,
	})

	cacheLayer.SetPrewarm(catalog.Prewarm)
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	err = cacheLayer.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		logging.Fatal().Err(err).Str("backend", cfg.CacheBackend).Msg("缓存连接失败")
	}
	queue.Start()

	h := handler.NewHandler(cfg, handler.Services{
		Catalog:         catalog,
		Users:           service.NewUserService(repos, cfg),
		Reviews:         service.NewReviewService(repos, cfg),
		History:         service.NewHistoryService(repos, recs, queue, cfg),
		Recommendations: recs,
		TMDB:            service.NewTMDBService(repos, catalog, cfg),
		Queue:           queue,
	})

	// 初始化 Gin
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r, err := router.New(h)
	if err != nil {
		logging.Fatal().Err(err).Msg("路由初始化失败")
	}

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("服务器启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("服务器启动失败")
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info().Msg("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("服务器强制关闭")
	}
	if err := queue.Stop(ctx); err != nil {
		logging.Error().Err(err).Msg("推荐队列未能按时停止")
	}
	if err := cacheLayer.Disconnect(); err != nil {
		logging.Error().Err(err).Msg("关闭缓存连接失败")
	}

	logging.Info().Msg("服务器已退出")
}
