package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/user/reelrec/internal/config"
	"github.com/user/reelrec/internal/logging"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/repository"
)

// HistoryService 观影历史
type HistoryService struct {
	users     *repository.UserRepository
	movies    *repository.MovieRepository
	history   *repository.HistoryRepository
	recs      *RecommendationService
	queue     Submitter
	dbTimeout time.Duration
	log       zerolog.Logger
}

func NewHistoryService(repos *repository.Repositories, recs *RecommendationService, queue Submitter, cfg *config.Config) *HistoryService {
	return &HistoryService{
		users:     repos.User,
		movies:    repos.Movie,
		history:   repos.History,
		recs:      recs,
		queue:     queue,
		dbTimeout: cfg.DBTimeout,
		log:       logging.Component("history"),
	}
}

// RecordWatch 记录观看并异步触发推荐重新生成
func (s *HistoryService) RecordWatch(ctx context.Context, userID, movieID int) (*model.WatchHistory, error) {
	entry, err := s.recordWatch(ctx, userID, movieID)
	if err != nil {
		return nil, err
	}

	if s.queue != nil && !s.queue.Submit(userID, JobRegenerate) {
		// 观看记录已写入，推荐稍后由下一次触发或登录补齐
		s.log.Warn().Int("user_id", userID).Msg("推荐重新生成未能排队")
	}
	return entry, nil
}

func (s *HistoryService) recordWatch(ctx context.Context, userID, movieID int) (*model.WatchHistory, error) {
	ctx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, upstream("读取用户失败", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	exists, err := s.movies.Exists(ctx, movieID)
	if err != nil {
		return nil, upstream("读取电影失败", err)
	}
	if !exists {
		return nil, ErrMovieNotFound
	}

	if err := s.history.Upsert(ctx, userID, movieID, time.Now()); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, conflict("观影记录冲突", err)
		}
		return nil, upstream("写入观影记录失败", err)
	}

	entry, err := s.history.Find(ctx, userID, movieID)
	if err != nil {
		return nil, upstream("读取观影记录失败", err)
	}
	return entry, nil
}

// GetHistory 观影历史，最近观看在前，每条记录只出现一次
func (s *HistoryService) GetHistory(ctx context.Context, userID int) ([]model.HistoryEntry, error) {
	ctx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()

	rows, err := s.history.ListByUser(ctx, userID)
	if err != nil {
		return nil, upstream("读取观影历史失败", err)
	}

	entries := make([]model.HistoryEntry, 0, len(rows))
	seen := make(map[int]bool, len(rows))
	for _, r := range rows {
		// 多张海报会产生重复行，取第一张
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true

		entry := model.HistoryEntry{
			ID:         r.ID,
			WatchedAt:  r.WatchedAt,
			WatchCount: r.WatchCount,
			Movie:      model.HistoryMovie{MovieID: r.MovieID, Title: r.Title},
		}
		if r.ImagePath != nil {
			entry.Movie.PosterURL = *r.ImagePath
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// WatchAndRefresh 同步记录观看、重新生成并返回推荐
func (s *HistoryService) WatchAndRefresh(ctx context.Context, userID, movieID, topN int) ([]model.RecommendationItem, error) {
	if _, err := s.recordWatch(ctx, userID, movieID); err != nil {
		return nil, err
	}
	return s.recs.Generate(ctx, userID, topN)
}
