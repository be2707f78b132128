package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/user/reelrec/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 初始化数据库连接
func InitDB(databaseURL string) (*gorm.DB, error) {
	// 使用 lib/pq 作为 database/sql 驱动
	db, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        databaseURL,
	}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 测试连接
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库 ping 失败: %w", err)
	}

	// 设置连接池
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Migrate 建表（pgvector 扩展仅在 postgres 下创建）
func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("创建 vector 扩展失败: %w", err)
		}
	}
	// 外键约束创建前清理指向已删除电影的推荐
	if db.Migrator().HasTable(&model.Recommendation{}) && db.Migrator().HasTable(&model.Movie{}) {
		if err := db.Exec("DELETE FROM recommendations WHERE movie_id NOT IN (SELECT id FROM movies)").Error; err != nil {
			return fmt.Errorf("清理孤立推荐失败: %w", err)
		}
	}
	return db.AutoMigrate(
		&model.User{},
		&model.Genre{},
		&model.Movie{},
		&model.Poster{},
		&model.Review{},
		&model.WatchHistory{},
		&model.Recommendation{},
	)
}

// Repositories 仓库集合
type Repositories struct {
	DB             *gorm.DB
	User           *UserRepository
	Movie          *MovieRepository
	Poster         *PosterRepository
	Review         *ReviewRepository
	History        *HistoryRepository
	Recommendation *RecommendationRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:             db,
		User:           NewUserRepository(db),
		Movie:          NewMovieRepository(db),
		Poster:         NewPosterRepository(db),
		Review:         NewReviewRepository(db),
		History:        NewHistoryRepository(db),
		Recommendation: NewRecommendationRepository(db),
	}
}

// IsUniqueViolation 是否唯一约束冲突
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// IsForeignKeyViolation 是否外键约束冲突
func IsForeignKeyViolation(err error) bool {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
