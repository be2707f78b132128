package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/user/reelrec/internal/config"
	"github.com/user/reelrec/internal/logging"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/repository"
	"github.com/user/reelrec/internal/utils"
	"golang.org/x/sync/singleflight"
)

const defaultSyncLimit = 50

// TMDBSyncResult 同步统计
type TMDBSyncResult struct {
	Scanned         int `json:"scanned"`
	Matched         int `json:"matched"`
	PostersAdded    int `json:"posters_added"`
	OverviewsFilled int `json:"overviews_filled"`
	Skipped         int `json:"skipped"`
	Failed          int `json:"failed"`
}

// TMDBService 从 TMDB 补全 tmdb_id、海报和简介
type TMDBService struct {
	movieRepo  *repository.MovieRepository
	posterRepo *repository.PosterRepository
	catalog    *CatalogService
	client     *utils.HTTPClient
	config     *config.Config
	group      singleflight.Group
	log        zerolog.Logger
}

func NewTMDBService(repos *repository.Repositories, catalog *CatalogService, cfg *config.Config) *TMDBService {
	return &TMDBService{
		movieRepo:  repos.Movie,
		posterRepo: repos.Poster,
		catalog:    catalog,
		client:     utils.NewHTTPClient(cfg.TMDBTimeout),
		config:     cfg,
		log:        logging.Component("tmdb"),
	}
}

// SyncMissing 同步缺少 tmdb_id 的电影，同一时间只运行一次
func (s *TMDBService) SyncMissing(ctx context.Context, limit int) (*TMDBSyncResult, error) {
	if s.config.TMDBAPIKey == "" {
		return nil, invalid("未配置 TMDB_API_KEY")
	}
	if limit <= 0 {
		limit = defaultSyncLimit
	}

	// 使用 singleflight 避免并发重复同步
	val, err, shared := s.group.Do("sync", func() (interface{}, error) {
		return s.syncMissing(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.log.Debug().Msg("复用进行中的同步结果")
	}
	return val.(*TMDBSyncResult), nil
}

func (s *TMDBService) syncMissing(ctx context.Context, limit int) (*TMDBSyncResult, error) {
	dbCtx, cancel := withTimeout(ctx, s.config.DBTimeout)
	movies, err := s.movieRepo.ListWithoutTMDBID(dbCtx, limit)
	cancel()
	if err != nil {
		return nil, upstream("读取待同步电影失败", err)
	}

	result := &TMDBSyncResult{}
	var updated []int
	for _, movie := range movies {
		if err := ctx.Err(); err != nil {
			break
		}
		result.Scanned++

		changed, err := s.syncMovie(ctx, movie, result)
		if err != nil {
			result.Failed++
			s.log.Warn().Err(err).Int("movie_id", movie.ID).Str("title", movie.Title).Msg("同步失败")
			continue
		}
		if changed {
			updated = append(updated, movie.ID)
		}
	}

	if len(updated) > 0 {
		s.catalog.invalidate(ctx, updated, false)
	}
	s.log.Info().
		Int("scanned", result.Scanned).
		Int("matched", result.Matched).
		Int("posters", result.PostersAdded).
		Int("failed", result.Failed).
		Msg("TMDB 同步完成")
	return result, nil
}

func (s *TMDBService) syncMovie(ctx context.Context, movie *model.Movie, result *TMDBSyncResult) (bool, error) {
	year := 0
	if movie.ReleaseDate != nil {
		year = movie.ReleaseDate.Year()
	}
	tmdbID, err := s.searchMovie(ctx, movie.Title, year)
	if err != nil {
		return false, err
	}
	if tmdbID == 0 {
		result.Skipped++
		return false, nil
	}

	dbCtx, cancel := withTimeout(ctx, s.config.DBTimeout)
	taken, err := s.movieRepo.TMDBIDTaken(dbCtx, tmdbID)
	cancel()
	if err != nil {
		return false, err
	}
	if taken {
		// 同一个 TMDB 条目已对应其他电影
		result.Skipped++
		return false, nil
	}

	details, err := s.fetchDetails(ctx, tmdbID)
	if err != nil {
		return false, err
	}

	overview := ""
	if strings.TrimSpace(movie.Overview) == "" && details.Overview != "" {
		overview = details.Overview
	}

	dbCtx, cancel = withTimeout(ctx, s.config.DBTimeout)
	defer cancel()
	if err := s.movieRepo.UpdateTMDB(dbCtx, movie.ID, tmdbID, overview); err != nil {
		if repository.IsUniqueViolation(err) {
			result.Skipped++
			return false, nil
		}
		return false, err
	}
	result.Matched++
	if overview != "" {
		result.OverviewsFilled++
	}

	if len(movie.Posters) == 0 && details.PosterPath != "" {
		if _, err := s.posterRepo.Add(dbCtx, movie.ID, s.config.TMDBImageBaseURL+details.PosterPath); err != nil {
			return true, err
		}
		result.PostersAdded++
	}
	return true, nil
}

type tmdbSearchResponse struct {
	Results []struct {
		ID          int    `json:"id"`
		Title       string `json:"title"`
		ReleaseDate string `json:"release_date"`
	} `json:"results"`
}

// searchMovie 按标题搜索，优先选择标题完全一致的结果；无结果返回 0
func (s *TMDBService) searchMovie(ctx context.Context, title string, year int) (int, error) {
	q := url.Values{}
	q.Set("api_key", s.config.TMDBAPIKey)
	q.Set("query", title)
	if year > 0 {
		q.Set("year", strconv.Itoa(year))
	}

	var result tmdbSearchResponse
	if err := s.client.GetJSON(ctx, s.config.TMDBBaseURL+"/search/movie?"+q.Encode(), &result); err != nil {
		return 0, fmt.Errorf("搜索 TMDB 失败: %w", err)
	}
	if len(result.Results) == 0 {
		return 0, nil
	}
	for _, r := range result.Results {
		if strings.EqualFold(r.Title, title) {
			return r.ID, nil
		}
	}
	return result.Results[0].ID, nil
}

type tmdbDetailsResponse struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	Overview   string `json:"overview"`
	PosterPath string `json:"poster_path"`
}

func (s *TMDBService) fetchDetails(ctx context.Context, tmdbID int) (*tmdbDetailsResponse, error) {
	q := url.Values{}
	q.Set("api_key", s.config.TMDBAPIKey)

	var result tmdbDetailsResponse
	u := fmt.Sprintf("%s/movie/%d?%s", s.config.TMDBBaseURL, tmdbID, q.Encode())
	if err := s.client.GetJSON(ctx, u, &result); err != nil {
		return nil, fmt.Errorf("获取 TMDB 详情失败: %w", err)
	}
	return &result, nil
}
