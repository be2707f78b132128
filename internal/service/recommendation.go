package service

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/user/reelrec/internal/cache"
	"github.com/user/reelrec/internal/config"
	"github.com/user/reelrec/internal/logging"
	"github.com/user/reelrec/internal/metrics"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/repository"
	"github.com/user/reelrec/internal/similarity"
	"github.com/user/reelrec/internal/utils"
	"golang.org/x/sync/singleflight"
)

const snapshotKey = "all"

// errCandidateDeleted 写入推荐时候选电影已被删除（外键约束）
var errCandidateDeleted = &Error{Kind: ErrConflict, Message: "推荐候选电影已被删除"}

// 推荐路径，用于日志和指标
const (
	PathCold         = "cold"
	PathColdFallback = "cold_fallback"
	PathPersonalized = "personalized"
)

// RecommendationService 基于观影历史与电影向量生成推荐
type RecommendationService struct {
	users   *repository.UserRepository
	movies  *repository.MovieRepository
	history *repository.HistoryRepository
	recs    *repository.RecommendationRepository
	cache   *cache.Layer
	engine  *similarity.Engine

	// 解码后的全量向量，电影写操作后失效
	snapshot *utils.TTLCache[[]model.MovieVector]
	// 每次失效加一，加载期间发生过失效的结果不写回快照
	snapshotGen atomic.Uint64
	locks    *keyedMutex
	group    singleflight.Group

	topN      int
	dbTimeout time.Duration
	log       zerolog.Logger
}

func NewRecommendationService(repos *repository.Repositories, c *cache.Layer, engine *similarity.Engine, cfg *config.Config) *RecommendationService {
	return &RecommendationService{
		users:     repos.User,
		movies:    repos.Movie,
		history:   repos.History,
		recs:      repos.Recommendation,
		cache:     c,
		engine:    engine,
		snapshot:  utils.NewTTLCache[[]model.MovieVector](1, cfg.EmbeddingSnapshotTTL),
		locks:     newKeyedMutex(),
		topN:      cfg.RecommendationTopN,
		dbTimeout: cfg.DBTimeout,
		log:       logging.Component("recommendation"),
	}
}

// DefaultTopN 配置的推荐数量
func (s *RecommendationService) DefaultTopN() int {
	return s.topN
}

// InvalidateSnapshot 丢弃向量快照，下次生成时重新加载
func (s *RecommendationService) InvalidateSnapshot() {
	s.snapshotGen.Add(1)
	s.snapshot.Delete(snapshotKey)
}

// storeSnapshot 仅当加载开始后没有发生失效时写入快照
func (s *RecommendationService) storeSnapshot(gen uint64, vectors []model.MovieVector) bool {
	if s.snapshotGen.Load() != gen {
		return false
	}
	s.snapshot.Set(snapshotKey, vectors)
	// 写入与失效交错时撤销
	if s.snapshotGen.Load() != gen {
		s.snapshot.Delete(snapshotKey)
		return false
	}
	return true
}

// Generate 生成推荐并替换持久化结果，同一用户串行执行
func (s *RecommendationService) Generate(ctx context.Context, userID, topN int) ([]model.RecommendationItem, error) {
	if topN <= 0 {
		topN = s.topN
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	start := time.Now()
	items, path, err := s.generate(ctx, userID, topN)
	if errors.Is(err, errCandidateDeleted) {
		s.log.Warn().Int("user_id", userID).Msg("候选电影已被删除，刷新快照后重试")
		s.InvalidateSnapshot()
		items, path, err = s.generate(ctx, userID, topN)
	}
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RegenRuns.WithLabelValues(path, outcome).Inc()
	metrics.RegenDuration.Observe(elapsed.Seconds())

	if err != nil {
		return nil, err
	}
	s.log.Info().
		Int("user_id", userID).
		Str("path", path).
		Int("count", len(items)).
		Dur("elapsed", elapsed).
		Msg("推荐已生成")
	return items, nil
}

func (s *RecommendationService) generate(ctx context.Context, userID, topN int) ([]model.RecommendationItem, string, error) {
	if _, err := s.resolveUser(ctx, userID); err != nil {
		return nil, "unknown", err
	}

	dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
	watched, err := s.history.MovieIDsByUser(dbCtx, userID)
	cancel()
	if err != nil {
		return nil, "unknown", upstream("读取观影历史失败", err)
	}

	vectors, err := s.loadVectors(ctx)
	if err != nil {
		return nil, "unknown", err
	}

	target, candidates, path := s.buildCandidates(vectors, watched)
	if len(candidates) == 0 {
		return nil, path, ErrNoCandidates
	}

	scored, err := s.engine.TopN(ctx, target, candidates, topN)
	if err != nil {
		return nil, path, err
	}
	if len(scored) == 0 {
		return nil, path, ErrNoCandidates
	}

	items, err := s.enrich(ctx, scored)
	if err != nil {
		return nil, path, err
	}

	if err := s.persist(ctx, userID, items); err != nil {
		return nil, path, err
	}
	return items, path, nil
}

// buildCandidates 无历史时用全量均值；有历史时用已看电影均值并排除已看
func (s *RecommendationService) buildCandidates(vectors []model.MovieVector, watched []int) ([]float32, []similarity.Candidate, string) {
	all := make([][]float32, 0, len(vectors))
	for _, v := range vectors {
		all = append(all, v.Vector)
	}

	if len(watched) == 0 {
		candidates := make([]similarity.Candidate, 0, len(vectors))
		for _, v := range vectors {
			candidates = append(candidates, similarity.Candidate{ID: v.ID, Vector: v.Vector})
		}
		return similarity.Mean(all), candidates, PathCold
	}

	seen := make(map[int]bool, len(watched))
	for _, id := range watched {
		seen[id] = true
	}

	var watchedVecs [][]float32
	candidates := make([]similarity.Candidate, 0, len(vectors))
	for _, v := range vectors {
		if seen[v.ID] {
			watchedVecs = append(watchedVecs, v.Vector)
			continue
		}
		candidates = append(candidates, similarity.Candidate{ID: v.ID, Vector: v.Vector})
	}

	// 已看电影都没有向量时退回全量均值
	if len(watchedVecs) == 0 {
		return similarity.Mean(all), candidates, PathColdFallback
	}
	return similarity.Mean(watchedVecs), candidates, PathPersonalized
}

func (s *RecommendationService) loadVectors(ctx context.Context) ([]model.MovieVector, error) {
	if v, ok := s.snapshot.Get(snapshotKey); ok {
		return v, nil
	}

	gen := s.snapshotGen.Load()
	dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()

	rows, err := s.movies.ListVectors(dbCtx)
	if err != nil {
		return nil, upstream("读取电影向量失败", err)
	}

	vectors := rows[:0]
	for _, r := range rows {
		if s.engine.Dim > 0 && len(r.Vector) != s.engine.Dim {
			s.log.Warn().Int("movie_id", r.ID).Int("dim", len(r.Vector)).Msg("向量维度不符，已跳过")
			continue
		}
		vectors = append(vectors, r)
	}

	if len(vectors) == 0 {
		count, err := s.movies.Count(dbCtx)
		if err != nil {
			return nil, upstream("统计电影失败", err)
		}
		if count == 0 {
			return nil, ErrNoMovies
		}
		return nil, ErrNoEmbeddings
	}

	s.storeSnapshot(gen, vectors)
	return vectors, nil
}

func (s *RecommendationService) enrich(ctx context.Context, scored []similarity.Scored) ([]model.RecommendationItem, error) {
	ids := make([]int, len(scored))
	for i, sc := range scored {
		ids[i] = sc.ID
	}

	dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()
	display, err := s.movies.Display(dbCtx, ids)
	if err != nil {
		return nil, upstream("读取电影信息失败", err)
	}

	items := make([]model.RecommendationItem, 0, len(scored))
	for _, sc := range scored {
		d, ok := display[sc.ID]
		if !ok {
			// 快照之后被删除的电影
			continue
		}
		items = append(items, model.RecommendationItem{
			MovieID:   sc.ID,
			Title:     d.Title,
			Genre:     d.Genre,
			PosterURL: d.PosterURL,
			Score:     sc.Score,
		})
	}
	if len(items) == 0 {
		return nil, ErrNoCandidates
	}
	return items, nil
}

// persist 先清缓存，再事务替换，最后回填缓存
func (s *RecommendationService) persist(ctx context.Context, userID int, items []model.RecommendationItem) error {
	key := cache.RecommendationsKey(userID)
	if err := s.cache.Delete(ctx, key); err != nil {
		return upstream("清除推荐缓存失败", err)
	}

	rows := make([]model.Recommendation, len(items))
	for i, it := range items {
		rows[i] = model.Recommendation{UserID: userID, MovieID: it.MovieID, Score: it.Score}
	}

	dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
	err := s.recs.Replace(dbCtx, userID, rows)
	cancel()
	if err != nil {
		if repository.IsForeignKeyViolation(err) {
			return &Error{Kind: errCandidateDeleted.Kind, Message: errCandidateDeleted.Message, Err: err}
		}
		return upstream("保存推荐失败", err)
	}

	if err := s.cache.Set(ctx, key, items, cache.RecommendationTTL); err != nil {
		s.log.Warn().Err(err).Int("user_id", userID).Msg("回填推荐缓存失败")
		s.poison(ctx, key, userID)
	}
	return nil
}

// poison 写入短期空占位：读路径视为未命中并回落数据库，
// 但 SetIfAbsent 无法用提交前读到的旧数据覆盖；占位也写不进时退化为删除
func (s *RecommendationService) poison(ctx context.Context, key string, userID int) {
	if err := s.cache.Set(ctx, key, []model.RecommendationItem{}, cache.TombstoneTTL); err == nil {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		s.log.Error().Err(err).Int("user_id", userID).Msg("删除推荐缓存失败")
	}
}

// GetForUser 缓存优先，未命中时读数据库并回填
func (s *RecommendationService) GetForUser(ctx context.Context, userID, topN int) ([]model.RecommendationItem, error) {
	if topN <= 0 {
		topN = s.topN
	}
	if _, err := s.resolveUser(ctx, userID); err != nil {
		return nil, err
	}

	key := cache.RecommendationsKey(userID)
	var items []model.RecommendationItem
	ok, err := s.cache.Get(ctx, key, &items)
	if err != nil {
		s.log.Warn().Err(err).Int("user_id", userID).Msg("读取推荐缓存失败，回落数据库")
	}
	if ok && len(items) > 0 {
		return head(items, topN), nil
	}

	dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
	rows, err := s.recs.ListByUser(dbCtx, userID, 0)
	cancel()
	if err != nil {
		return nil, upstream("读取推荐失败", err)
	}
	if len(rows) == 0 {
		return nil, ErrRecommendationsNotFound
	}

	items = make([]model.RecommendationItem, 0, len(rows))
	seen := make(map[int]bool, len(rows))
	for _, r := range rows {
		if seen[r.MovieID] {
			continue
		}
		seen[r.MovieID] = true
		item := model.RecommendationItem{MovieID: r.MovieID, Title: r.Title, Genre: r.Genre, Score: r.Score}
		if r.ImagePath != nil {
			item.PosterURL = *r.ImagePath
		}
		items = append(items, item)
	}

	// 只在 key 不存在时写入，避免覆盖并发生成的新结果
	if _, err := s.cache.SetIfAbsent(ctx, key, items, cache.RecommendationTTL); err != nil {
		s.log.Warn().Err(err).Int("user_id", userID).Msg("回填推荐缓存失败")
	}
	return head(items, topN), nil
}

// EnsureExist 缓存和数据库都没有推荐时才生成，返回是否生成
func (s *RecommendationService) EnsureExist(ctx context.Context, userID int) (bool, error) {
	v, err, _ := s.group.Do(strconv.Itoa(userID), func() (interface{}, error) {
		var items []model.RecommendationItem
		ok, err := s.cache.Get(ctx, cache.RecommendationsKey(userID), &items)
		if err != nil {
			s.log.Warn().Err(err).Int("user_id", userID).Msg("读取推荐缓存失败")
		}
		if ok && len(items) > 0 {
			return false, nil
		}

		dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
		exists, err := s.recs.ExistsForUser(dbCtx, userID)
		cancel()
		if err != nil {
			return false, upstream("检查推荐失败", err)
		}
		if exists {
			return false, nil
		}

		if _, err := s.Generate(ctx, userID, s.topN); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *RecommendationService) resolveUser(ctx context.Context, userID int) (*model.User, error) {
	dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()
	user, err := s.users.FindByID(dbCtx, userID)
	if err != nil {
		return nil, upstream("读取用户失败", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
