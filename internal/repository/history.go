package repository

import (
	"context"
	"time"

	"github.com/user/reelrec/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// HistoryRow 观影历史联表查询结果
type HistoryRow struct {
	ID         int
	WatchedAt  time.Time
	WatchCount int
	MovieID    int
	Title      string
	ImagePath  *string
}

// Upsert 首次观看插入 watch_count=1，否则原子累加并刷新观看时间
func (r *HistoryRepository) Upsert(ctx context.Context, userID, movieID int, watchedAt time.Time) error {
	h := &model.WatchHistory{
		UserID:     userID,
		MovieID:    movieID,
		WatchedAt:  watchedAt,
		WatchCount: 1,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "movie_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"watch_count": gorm.Expr("watch_history.watch_count + 1"),
			"watched_at":  watchedAt,
		}),
	}).Create(h).Error
}

// Find 获取单条记录
func (r *HistoryRepository) Find(ctx context.Context, userID, movieID int) (*model.WatchHistory, error) {
	var rows []model.WatchHistory
	err := r.db.WithContext(ctx).Where("user_id = ? AND movie_id = ?", userID, movieID).Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// ListByUser 获取用户观影历史（按观看时间倒序，带电影标题与海报）
func (r *HistoryRepository) ListByUser(ctx context.Context, userID int) ([]HistoryRow, error) {
	var rows []HistoryRow
	err := r.db.WithContext(ctx).Table("watch_history").
		Select("watch_history.id, watch_history.watched_at, watch_history.watch_count, movies.id AS movie_id, movies.title, posters.image_path").
		Joins("JOIN movies ON movies.id = watch_history.movie_id").
		Joins("LEFT JOIN posters ON posters.movie_id = movies.id").
		Where("watch_history.user_id = ?", userID).
		Order("watch_history.watched_at DESC, watch_history.id DESC, posters.id ASC").
		Scan(&rows).Error
	return rows, err
}

// MovieIDsByUser 用户看过的电影 ID
func (r *HistoryRepository) MovieIDsByUser(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.WithContext(ctx).Model(&model.WatchHistory{}).
		Where("user_id = ?", userID).
		Order("movie_id ASC").
		Pluck("movie_id", &ids).Error
	return ids, err
}

// CountByUser 统计用户观影历史数量
func (r *HistoryRepository) CountByUser(ctx context.Context, userID int) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.WatchHistory{}).Where("user_id = ?", userID).Count(&count).Error
	return int(count), err
}
