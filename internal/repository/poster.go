package repository

import (
	"context"

	"github.com/user/reelrec/internal/model"
	"gorm.io/gorm"
)

type PosterRepository struct {
	db *gorm.DB
}

func NewPosterRepository(db *gorm.DB) *PosterRepository {
	return &PosterRepository{db: db}
}

// Add 添加海报
func (r *PosterRepository) Add(ctx context.Context, movieID int, imagePath string) (*model.Poster, error) {
	poster := &model.Poster{MovieID: movieID, ImagePath: imagePath}
	if err := r.db.WithContext(ctx).Create(poster).Error; err != nil {
		return nil, err
	}
	return poster, nil
}
