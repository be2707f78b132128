package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/user/reelrec/internal/cache"
	"github.com/user/reelrec/internal/config"
	"github.com/user/reelrec/internal/logging"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/repository"
	"github.com/user/reelrec/internal/similarity"
)

const (
	maxPerPage      = 200
	searchLimit     = 50
	similarPoolSize = 50
	defaultSimilarN = 10
	listingTagAll   = "all"
)

// ErrMovieNoEmbedding 电影尚无向量，无法计算相似电影
var ErrMovieNoEmbedding = &Error{Kind: ErrNotFound, Message: "该电影尚无向量"}

// MoviePage 分页结果
type MoviePage struct {
	Page       int              `json:"page"`
	PerPage    int              `json:"per_page"`
	TotalPages int              `json:"total_pages"`
	Items      []model.MovieDTO `json:"items"`
}

// MovieInput 创建或更新电影的字段，nil 表示不修改
type MovieInput struct {
	Title       *string
	Genres      []string
	ReleaseDate *time.Time
	VoteAverage *float64
	VoteCount   *int
	Runtime     *int
	Overview    *string
	TMDBID      *int
	Embedding   []float32
}

// CatalogService 电影目录：列表、详情、搜索、相似电影与管理
type CatalogService struct {
	movies    *repository.MovieRepository
	cache     *cache.Layer
	recs      *RecommendationService
	engine    *similarity.Engine
	pageSize  int
	dbTimeout time.Duration
	log       zerolog.Logger
}

func NewCatalogService(repos *repository.Repositories, c *cache.Layer, recs *RecommendationService, engine *similarity.Engine, cfg *config.Config) *CatalogService {
	pageSize := cfg.ListingPageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	return &CatalogService{
		movies:    repos.Movie,
		cache:     c,
		recs:      recs,
		engine:    engine,
		pageSize:  pageSize,
		dbTimeout: cfg.DBTimeout,
		log:       logging.Component("catalog"),
	}
}

// listingTag all 或小写类型名，非默认分页大小时追加 @perPage
func (s *CatalogService) listingTag(genre string, perPage int) string {
	tag := listingTagAll
	if g := strings.ToLower(strings.TrimSpace(genre)); g != "" {
		tag = g
	}
	if perPage != s.pageSize {
		tag = fmt.Sprintf("%s@%d", tag, perPage)
	}
	return tag
}

// ListMovies 分页列表，按 ID 升序
func (s *CatalogService) ListMovies(ctx context.Context, genre string, page, perPage int) (*MoviePage, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = s.pageSize
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	tag := s.listingTag(genre, perPage)

	total, ok, err := cache.TotalPages(ctx, s.cache, tag)
	if err != nil {
		s.log.Warn().Err(err).Str("tag", tag).Msg("读取列表缓存失败")
	}
	if ok {
		if page > total {
			return &MoviePage{Page: page, PerPage: perPage, TotalPages: total, Items: []model.MovieDTO{}}, nil
		}
		items, err := cache.GetPageCache[model.MovieDTO](ctx, s.cache, tag, page, perPage)
		if err != nil {
			s.log.Warn().Err(err).Str("tag", tag).Msg("读取列表缓存失败")
		}
		// 空页视为未命中
		if len(items) > 0 {
			return &MoviePage{Page: page, PerPage: perPage, TotalPages: total, Items: items}, nil
		}
	}

	dtos, err := s.loadListing(ctx, genre)
	if err != nil {
		return nil, err
	}
	s.fillListing(ctx, tag, dtos, perPage)

	total = (len(dtos) + perPage - 1) / perPage
	start := (page - 1) * perPage
	items := []model.MovieDTO{}
	if start < len(dtos) {
		end := start + perPage
		if end > len(dtos) {
			end = len(dtos)
		}
		items = dtos[start:end]
	}
	return &MoviePage{Page: page, PerPage: perPage, TotalPages: total, Items: items}, nil
}

func (s *CatalogService) loadListing(ctx context.Context, genre string) ([]model.MovieDTO, error) {
	dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()
	movies, err := s.movies.List(dbCtx, strings.TrimSpace(genre))
	if err != nil {
		return nil, upstream("读取电影列表失败", err)
	}
	dtos := make([]model.MovieDTO, len(movies))
	for i, m := range movies {
		dtos[i] = model.ToMovieDTO(m)
	}
	return dtos, nil
}

func (s *CatalogService) fillListing(ctx context.Context, tag string, dtos []model.MovieDTO, perPage int) {
	if _, err := cache.SetPageCache(ctx, s.cache, tag, dtos, cache.ListingTTL, perPage); err != nil {
		s.log.Warn().Err(err).Str("tag", tag).Msg("写入列表缓存失败")
	}
}

// Prewarm 缓存连接后加载未过滤列表，已存在时跳过
func (s *CatalogService) Prewarm(ctx context.Context, l *cache.Layer) error {
	tag := s.listingTag("", s.pageSize)
	if _, ok, err := cache.TotalPages(ctx, l, tag); err != nil || ok {
		return err
	}

	dtos, err := s.loadListing(ctx, "")
	if err != nil {
		return err
	}
	if _, err := cache.SetPageCache(ctx, l, tag, dtos, cache.ListingTTL, s.pageSize); err != nil {
		return err
	}
	s.log.Info().Int("movies", len(dtos)).Msg("列表缓存已预热")
	return nil
}

// GetMovie 电影详情
func (s *CatalogService) GetMovie(ctx context.Context, id int) (*model.MovieDTO, error) {
	key := cache.MovieKey(id)
	var dto model.MovieDTO
	ok, err := s.cache.Get(ctx, key, &dto)
	if err != nil {
		s.log.Warn().Err(err).Int("movie_id", id).Msg("读取电影缓存失败")
	}
	if ok {
		return &dto, nil
	}

	movie, err := s.findMovie(ctx, id)
	if err != nil {
		return nil, err
	}
	dto = model.ToMovieDTO(movie)
	if _, err := s.cache.SetIfAbsent(ctx, key, dto, cache.EntityTTL); err != nil {
		s.log.Warn().Err(err).Int("movie_id", id).Msg("写入电影缓存失败")
	}
	return &dto, nil
}

func (s *CatalogService) findMovie(ctx context.Context, id int) (*model.Movie, error) {
	dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()
	movie, err := s.movies.FindByID(dbCtx, id)
	if err != nil {
		return nil, upstream("读取电影失败", err)
	}
	if movie == nil {
		return nil, ErrMovieNotFound
	}
	return movie, nil
}

// SearchMovies 标题模糊搜索，不区分大小写
func (s *CatalogService) SearchMovies(ctx context.Context, query string) ([]model.MovieDTO, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalid("搜索关键词不能为空")
	}

	dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()
	movies, err := s.movies.Search(dbCtx, query, searchLimit)
	if err != nil {
		return nil, upstream("搜索电影失败", err)
	}
	dtos := make([]model.MovieDTO, len(movies))
	for i, m := range movies {
		dtos[i] = model.ToMovieDTO(m)
	}
	return dtos, nil
}

// SimilarMovies 与指定电影向量最接近的电影，不含自身
func (s *CatalogService) SimilarMovies(ctx context.Context, id, n int) ([]model.RecommendationItem, error) {
	if n <= 0 {
		n = defaultSimilarN
	}
	if n > similarPoolSize {
		n = similarPoolSize
	}

	key := cache.SimilarKey(id)
	var items []model.RecommendationItem
	ok, err := s.cache.Get(ctx, key, &items)
	if err != nil {
		s.log.Warn().Err(err).Int("movie_id", id).Msg("读取相似电影缓存失败")
	}
	if ok && len(items) > 0 {
		return head(items, n), nil
	}

	movie, err := s.findMovie(ctx, id)
	if err != nil {
		return nil, err
	}
	if movie.Embedding == nil {
		return nil, ErrMovieNoEmbedding
	}

	vectors, err := s.recs.loadVectors(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]similarity.Candidate, 0, len(vectors))
	for _, v := range vectors {
		if v.ID != id {
			candidates = append(candidates, similarity.Candidate{ID: v.ID, Vector: v.Vector})
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	scored, err := s.engine.TopN(ctx, movie.Embedding.Slice(), candidates, similarPoolSize)
	if err != nil {
		return nil, invalid("电影向量无效: %v", err)
	}
	items, err = s.recs.enrich(ctx, scored)
	if err != nil {
		return nil, err
	}

	if _, err := s.cache.SetIfAbsent(ctx, key, items, cache.EntityTTL); err != nil {
		s.log.Warn().Err(err).Int("movie_id", id).Msg("写入相似电影缓存失败")
	}
	return head(items, n), nil
}

// CreateMovie 创建电影，标题重复返回 Conflict
func (s *CatalogService) CreateMovie(ctx context.Context, in MovieInput) (*model.MovieDTO, error) {
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return nil, invalid("标题不能为空")
	}
	movie := &model.Movie{}
	if err := applyMovieInput(movie, in); err != nil {
		return nil, err
	}

	dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()

	existing, err := s.movies.FindByTitle(dbCtx, movie.Title)
	if err != nil {
		return nil, upstream("读取电影失败", err)
	}
	if existing != nil {
		return nil, conflict("电影标题已存在", nil)
	}

	if err := s.movies.Create(dbCtx, movie, in.Genres); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, conflict("电影已存在", err)
		}
		return nil, upstream("创建电影失败", err)
	}

	s.invalidate(ctx, []int{movie.ID}, false)
	return s.reload(ctx, movie.ID)
}

// UpdateMovie 更新电影
func (s *CatalogService) UpdateMovie(ctx context.Context, id int, in MovieInput) (*model.MovieDTO, error) {
	movie, err := s.findMovie(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, invalid("标题不能为空")
	}
	if err := applyMovieInput(movie, in); err != nil {
		return nil, err
	}

	dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()

	if in.Title != nil {
		existing, err := s.movies.FindByTitle(dbCtx, movie.Title)
		if err != nil {
			return nil, upstream("读取电影失败", err)
		}
		if existing != nil && existing.ID != id {
			return nil, conflict("电影标题已存在", nil)
		}
	}

	if err := s.movies.Update(dbCtx, movie, in.Genres); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, conflict("电影已存在", err)
		}
		return nil, upstream("更新电影失败", err)
	}

	s.invalidate(ctx, []int{id}, false)
	return s.reload(ctx, id)
}

// DeleteMovie 删除电影及其海报、影评、观影记录和推荐
func (s *CatalogService) DeleteMovie(ctx context.Context, id int) error {
	dbCtx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()

	exists, err := s.movies.Exists(dbCtx, id)
	if err != nil {
		return upstream("读取电影失败", err)
	}
	if !exists {
		return ErrMovieNotFound
	}
	if err := s.movies.Delete(dbCtx, id); err != nil {
		return upstream("删除电影失败", err)
	}

	s.invalidate(ctx, []int{id}, true)
	return nil
}

func (s *CatalogService) reload(ctx context.Context, id int) (*model.MovieDTO, error) {
	movie, err := s.findMovie(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := model.ToMovieDTO(movie)
	return &dto, nil
}

// invalidate 数据库已提交，缓存失败只记录日志，由 TTL 兜底
func (s *CatalogService) invalidate(ctx context.Context, ids []int, cascade bool) {
	s.recs.InvalidateSnapshot()

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cache.MovieKey(id)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Error().Err(err).Ints("movie_ids", ids).Msg("删除电影缓存失败")
	}
	prefixes := []string{cache.PrefixSimilar, cache.PrefixListing}
	if cascade {
		prefixes = append(prefixes, cache.PrefixRecommendations)
	}
	for _, p := range prefixes {
		if err := s.cache.DeletePrefix(ctx, p); err != nil {
			s.log.Error().Err(err).Str("prefix", p).Msg("删除缓存失败")
		}
	}
}

func applyMovieInput(m *model.Movie, in MovieInput) error {
	if in.Title != nil {
		m.Title = strings.TrimSpace(*in.Title)
	}
	if in.ReleaseDate != nil {
		m.ReleaseDate = in.ReleaseDate
	}
	if in.VoteAverage != nil {
		if *in.VoteAverage < 0 || *in.VoteAverage > 10 {
			return invalid("评分需在 0 到 10 之间")
		}
		m.VoteAverage = *in.VoteAverage
	}
	if in.VoteCount != nil {
		if *in.VoteCount < 0 {
			return invalid("评分人数不能为负")
		}
		m.VoteCount = *in.VoteCount
	}
	if in.Runtime != nil {
		if *in.Runtime < 0 {
			return invalid("时长不能为负")
		}
		m.Runtime = *in.Runtime
	}
	if in.Overview != nil {
		m.Overview = *in.Overview
	}
	if in.TMDBID != nil {
		m.TMDBID = in.TMDBID
	}
	if in.Embedding != nil {
		if len(in.Embedding) != model.EmbeddingDim {
			return invalid("向量维度需为 %d", model.EmbeddingDim)
		}
		v := pgvector.NewVector(in.Embedding)
		m.Embedding = &v
	}
	return nil
}
