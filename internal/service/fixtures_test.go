package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"
	"github.com/user/reelrec/internal/cache"
	"github.com/user/reelrec/internal/config"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/repository"
	"github.com/user/reelrec/internal/similarity"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		AppSecret:            "test-secret",
		JWTExpiry:            time.Hour,
		CacheTimeout:         time.Second,
		DBTimeout:            5 * time.Second,
		RegenWorkers:         1,
		RegenQueueSize:       16,
		RegenTimeout:         5 * time.Second,
		RecommendationTopN:   12,
		EmbeddingSnapshotTTL: time.Minute,
		ListingPageSize:      50,
		LoginRatePerMinute:   5,
	}
}

func newTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	return openTestRepos(t, ":memory:")
}

func openTestRepos(t *testing.T, dsn string) *repository.Repositories {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// 每个连接都是独立的内存库
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.Migrate(db))
	return repository.NewRepositories(db)
}

func newTestCache(t *testing.T) *cache.Layer {
	t.Helper()
	l := cache.New(cache.MemoryDialer(cache.NewMemoryBackend()), cache.Options{Timeout: time.Second})
	require.NoError(t, l.Connect(context.Background()))
	t.Cleanup(func() { _ = l.Disconnect() })
	return l
}

type testEnv struct {
	cfg   *config.Config
	repos *repository.Repositories
	cache *cache.Layer
	recs  *RecommendationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()
	repos := newTestRepos(t)
	c := newTestCache(t)
	return &testEnv{
		cfg:   cfg,
		repos: repos,
		cache: c,
		recs:  NewRecommendationService(repos, c, similarity.NewEngine(model.EmbeddingDim), cfg),
	}
}

// vec 768 维向量，前几维取给定值，其余为 0
func vec(vals ...float32) *pgvector.Vector {
	v := make([]float32, model.EmbeddingDim)
	copy(v, vals)
	pv := pgvector.NewVector(v)
	return &pv
}

func (e *testEnv) movie(t *testing.T, title string, embedding *pgvector.Vector, genres ...string) *model.Movie {
	t.Helper()
	m := &model.Movie{Title: title, Embedding: embedding}
	require.NoError(t, e.repos.Movie.Create(context.Background(), m, genres))
	return m
}

func (e *testEnv) user(t *testing.T, name string) *model.User {
	t.Helper()
	u, err := e.repos.User.Create(context.Background(), name, name+"@example.com", "password123")
	require.NoError(t, err)
	return u
}

func (e *testEnv) watch(t *testing.T, userID, movieID int, at time.Time) {
	t.Helper()
	require.NoError(t, e.repos.History.Upsert(context.Background(), userID, movieID, at))
}

// recordingSubmitter 记录提交的任务
type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []submission
}

type submission struct {
	UserID int
	Kind   JobKind
}

func (r *recordingSubmitter) Submit(userID int, kind JobKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, submission{userID, kind})
	return true
}

func (r *recordingSubmitter) Jobs() []submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submission(nil), r.jobs...)
}

func movieIDs(items []model.RecommendationItem) []int {
	ids := make([]int, len(items))
	for i, it := range items {
		ids[i] = it.MovieID
	}
	return ids
}
