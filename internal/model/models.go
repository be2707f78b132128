package model

import (
	"time"
)

// WatchHistory 观影历史，(user_id, movie_id) 唯一，重复观看累加次数
type WatchHistory struct {
	ID         int       `json:"id" gorm:"primaryKey"`
	UserID     int       `json:"user_id" gorm:"not null;uniqueIndex:idx_watch_user_movie"`
	MovieID    int       `json:"movie_id" gorm:"not null;uniqueIndex:idx_watch_user_movie"`
	WatchedAt  time.Time `json:"watched_at" gorm:"not null;index"`
	WatchCount int       `json:"watch_count" gorm:"not null;default:1"`
}

func (WatchHistory) TableName() string { return "watch_history" }

// Recommendation 推荐结果，每次生成整体替换
type Recommendation struct {
	ID        int       `json:"id" gorm:"primaryKey"`
	UserID    int       `json:"user_id" gorm:"not null;index"`
	MovieID   int       `json:"movie_id" gorm:"not null"`
	Score     float64   `json:"score" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	// 删除电影时级联删除推荐
	Movie *Movie `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

func (Recommendation) TableName() string { return "recommendations" }
