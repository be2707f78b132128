package repository

import (
	"context"
	"time"

	"github.com/user/reelrec/internal/model"
	"gorm.io/gorm"
)

type RecommendationRepository struct {
	db *gorm.DB
}

func NewRecommendationRepository(db *gorm.DB) *RecommendationRepository {
	return &RecommendationRepository{db: db}
}

// RecommendationRow 推荐联表查询结果
type RecommendationRow struct {
	MovieID   int
	Score     float64
	Title     string
	Genre     string
	ImagePath *string
}

// Replace 在同一事务中删除旧推荐并写入新推荐
func (r *RecommendationRepository) Replace(ctx context.Context, userID int, scores []model.Recommendation) error {
	now := time.Now()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&model.Recommendation{}).Error; err != nil {
			return err
		}
		if len(scores) == 0 {
			return nil
		}
		rows := make([]model.Recommendation, len(scores))
		for i, s := range scores {
			rows[i] = model.Recommendation{UserID: userID, MovieID: s.MovieID, Score: s.Score, CreatedAt: now}
		}
		return tx.Create(&rows).Error
	})
}

// ListByUser 联表获取用户推荐，按分数倒序；limit<=0 不限制
func (r *RecommendationRepository) ListByUser(ctx context.Context, userID, limit int) ([]RecommendationRow, error) {
	q := r.db.WithContext(ctx).Table("recommendations").
		Select("recommendations.movie_id, recommendations.score, movies.title, movies.genre, " +
			"(SELECT p.image_path FROM posters p WHERE p.movie_id = movies.id ORDER BY p.id ASC LIMIT 1) AS image_path").
		Joins("JOIN movies ON movies.id = recommendations.movie_id").
		Where("recommendations.user_id = ?", userID).
		Order("recommendations.score DESC, recommendations.movie_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []RecommendationRow
	err := q.Scan(&rows).Error
	return rows, err
}

// ExistsForUser 用户是否已有推荐
func (r *RecommendationRepository) ExistsForUser(ctx context.Context, userID int) (bool, error) {
	var ids []int
	err := r.db.WithContext(ctx).Model(&model.Recommendation{}).
		Where("user_id = ?", userID).
		Limit(1).
		Pluck("id", &ids).Error
	return len(ids) > 0, err
}
