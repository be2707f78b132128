package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const defaultSecret = "your-secret-key-change-in-production"

// Config 应用配置
type Config struct {
	Env         string
	AppSecret   string
	DatabaseURL string
	JWTExpiry   time.Duration
	Port        string

	// 缓存
	CacheBackend  string // redis | memory
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	CacheTimeout  time.Duration

	DBTimeout time.Duration

	// 推荐流水线
	RegenWorkers         int
	RegenQueueSize       int
	RegenTimeout         time.Duration
	RecommendationTopN   int
	EmbeddingSnapshotTTL time.Duration
	ListingPageSize      int

	LoginRatePerMinute int

	TMDBAPIKey       string
	TMDBBaseURL      string
	TMDBImageBaseURL string
	TMDBTimeout      time.Duration

	LogLevel  string
	LogFormat string
}

// Load 加载配置
func Load() *Config {
	expiryHours := getEnvInt("JWT_EXPIRY_HOURS", 72)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbUser := getEnv("DB_USER", "postgres")
		dbPass := getEnv("DB_PASSWORD", "postgres")
		dbHost := getEnv("DB_HOST", "localhost")
		dbPort := getEnv("DB_PORT", "5432")
		dbName := getEnv("DB_NAME", "reelrec")
		dbSSL := getEnv("DB_SSLMODE", "disable")

		dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbUser, dbPass, dbHost, dbPort, dbName, dbSSL)
	}

	appSecret := getEnv("APP_SECRET", getEnv("JWT_SECRET", defaultSecret))
	env := getEnv("APP_ENV", "development")

	if env == "production" && appSecret == defaultSecret {
		fmt.Println("【严重警告】生产环境正在使用默认密钥！请立即设置 APP_SECRET 环境变量。")
	}

	logFormat := "console"
	if env == "production" {
		logFormat = "json"
	}

	return &Config{
		Env:         env,
		AppSecret:   appSecret,
		DatabaseURL: dbURL,
		JWTExpiry:   time.Duration(expiryHours) * time.Hour,
		Port:        getEnv("PORT", "8000"),

		CacheBackend:  getEnv("CACHE_BACKEND", "redis"),
		RedisAddr:     getEnv("REDIS_ADDR", getEnv("REDIS_HOST", "localhost")+":"+getEnv("REDIS_PORT", "6379")),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		CacheTimeout:  getEnvDuration("CACHE_TIMEOUT", 500*time.Millisecond),

		DBTimeout: getEnvDuration("DB_TIMEOUT", 5*time.Second),

		RegenWorkers:         getEnvInt("REGEN_WORKERS", 2),
		RegenQueueSize:       getEnvInt("REGEN_QUEUE_SIZE", 256),
		RegenTimeout:         getEnvDuration("REGEN_TIMEOUT", 30*time.Second),
		RecommendationTopN:   getEnvInt("RECOMMENDATION_TOP_N", 12),
		EmbeddingSnapshotTTL: getEnvDuration("EMBEDDING_SNAPSHOT_TTL", 5*time.Minute),
		ListingPageSize:      getEnvInt("LISTING_PAGE_SIZE", 50),

		LoginRatePerMinute: getEnvInt("LOGIN_RATE_PER_MINUTE", 5),

		TMDBAPIKey:       getEnv("TMDB_API_KEY", ""),
		TMDBBaseURL:      getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		TMDBImageBaseURL: getEnv("TMDB_IMAGE_BASE_URL", "https://image.tmdb.org/t/p/w500"),
		TMDBTimeout:      getEnvDuration("TMDB_TIMEOUT", 10*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", logFormat),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return n
}

// getEnvDuration 支持 "500ms"、"5s" 等写法
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d < 0 {
		return defaultValue
	}
	return d
}
