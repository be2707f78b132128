package repository

import (
	"context"
	"time"

	"github.com/user/reelrec/internal/model"
	"gorm.io/gorm"
)

type ReviewRepository struct {
	db *gorm.DB
}

func NewReviewRepository(db *gorm.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create 创建影评
func (r *ReviewRepository) Create(ctx context.Context, review *model.Review) error {
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(review).Error
}

// ListByMovie 获取电影的影评（最新在前）
func (r *ReviewRepository) ListByMovie(ctx context.Context, movieID, limit, offset int) ([]*model.Review, error) {
	var reviews []*model.Review
	err := r.db.WithContext(ctx).Preload("User").
		Where("movie_id = ?", movieID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&reviews).Error
	return reviews, err
}
