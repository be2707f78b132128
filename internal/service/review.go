package service

import (
	"context"
	"strings"
	"time"

	"github.com/user/reelrec/internal/config"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/repository"
)

const (
	reviewSourceUser = "user"
	maxReviewLimit   = 100
)

// ReviewService 影评
type ReviewService struct {
	movies    *repository.MovieRepository
	reviews   *repository.ReviewRepository
	dbTimeout time.Duration
}

func NewReviewService(repos *repository.Repositories, cfg *config.Config) *ReviewService {
	return &ReviewService{movies: repos.Movie, reviews: repos.Review, dbTimeout: cfg.DBTimeout}
}

// CreateReview 发表影评，sentiment 取值 [-1, 1]，可为空
func (s *ReviewService) CreateReview(ctx context.Context, userID, movieID int, text string, sentiment *float64) (*model.Review, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("影评内容不能为空")
	}
	if sentiment != nil && (*sentiment < -1 || *sentiment > 1) {
		return nil, invalid("情感分需在 -1 到 1 之间")
	}

	ctx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()

	exists, err := s.movies.Exists(ctx, movieID)
	if err != nil {
		return nil, upstream("读取电影失败", err)
	}
	if !exists {
		return nil, ErrMovieNotFound
	}

	review := &model.Review{
		UserID:    userID,
		MovieID:   movieID,
		Text:      text,
		Sentiment: sentiment,
		Source:    reviewSourceUser,
	}
	if err := s.reviews.Create(ctx, review); err != nil {
		return nil, upstream("保存影评失败", err)
	}
	return review, nil
}

// ListReviews 电影影评，最新在前
func (s *ReviewService) ListReviews(ctx context.Context, movieID, limit, offset int) ([]*model.Review, error) {
	if limit <= 0 || limit > maxReviewLimit {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()

	exists, err := s.movies.Exists(ctx, movieID)
	if err != nil {
		return nil, upstream("读取电影失败", err)
	}
	if !exists {
		return nil, ErrMovieNotFound
	}

	reviews, err := s.reviews.ListByMovie(ctx, movieID, limit, offset)
	if err != nil {
		return nil, upstream("读取影评失败", err)
	}
	return reviews, nil
}
