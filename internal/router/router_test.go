package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/reelrec/internal/cache"
	"github.com/user/reelrec/internal/config"
	"github.com/user/reelrec/internal/handler"
	"github.com/user/reelrec/internal/middleware"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/repository"
	"github.com/user/reelrec/internal/service"
	"github.com/user/reelrec/internal/similarity"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
}

type testServer struct {
	t       *testing.T
	cfg     *config.Config
	repos   *repository.Repositories
	router  *gin.Engine
	results chan service.JobResult
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
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

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repository.Migrate(db))
	repos := repository.NewRepositories(db)

	layer := cache.New(cache.MemoryDialer(cache.NewMemoryBackend()), cache.Options{Timeout: time.Second})
	require.NoError(t, layer.Connect(context.Background()))

	engine := similarity.NewEngine(model.EmbeddingDim)
	recs := service.NewRecommendationService(repos, layer, engine, cfg)
	catalog := service.NewCatalogService(repos, layer, recs, engine, cfg)

	results := make(chan service.JobResult, 32)
	queue := service.NewRegenQueue(recs, service.RegenQueueConfig{
		Workers:   cfg.RegenWorkers,
		QueueSize: cfg.RegenQueueSize,
		Timeout:   cfg.RegenTimeout,
		OnResult:  func(r service.JobResult) { results <- r },
	})
	queue.Start()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queue.Stop(ctx)
		_ = layer.Disconnect()
		_ = sqlDB.Close()
	})

	h := handler.NewHandler(cfg, handler.Services{
		Catalog:         catalog,
		Users:           service.NewUserService(repos, cfg),
		Reviews:         service.NewReviewService(repos, cfg),
		History:         service.NewHistoryService(repos, recs, queue, cfg),
		Recommendations: recs,
		TMDB:            service.NewTMDBService(repos, catalog, cfg),
		Queue:           queue,
	})
	r, err := New(h)
	require.NoError(t, err)

	return &testServer{t: t, cfg: cfg, repos: repos, router: r, results: results}
}

func (s *testServer) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (s *testServer) user(name, role string) (*model.User, string) {
	s.t.Helper()
	ctx := context.Background()
	u, err := s.repos.User.Create(ctx, name, name+"@example.com", "password123")
	require.NoError(s.t, err)
	if role != model.RoleRegular {
		require.NoError(s.t, s.repos.User.UpdateRole(ctx, u.ID, role))
		u.Role = role
	}
	token, err := middleware.GenerateToken(u.ID, u.Name, u.Role, s.cfg.AppSecret, s.cfg.JWTExpiry)
	require.NoError(s.t, err)
	return u, token
}

func (s *testServer) movie(title string, head ...float32) *model.Movie {
	s.t.Helper()
	v := make([]float32, model.EmbeddingDim)
	copy(v, head)
	pv := pgvector.NewVector(v)
	m := &model.Movie{Title: title, Embedding: &pv}
	require.NoError(s.t, s.repos.Movie.Create(context.Background(), m, []string{"Drama"}))
	return m
}

func (s *testServer) waitJob(userID int) service.JobResult {
	s.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r := <-s.results:
			if r.UserID == userID {
				return r
			}
		case <-timeout:
			s.t.Fatalf("等待用户 %d 的推荐任务超时", userID)
			return service.JobResult{}
		}
	}
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w, _ = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodPost, "/auth/register", "", gin.H{
		"name": "alice", "email": "Alice@Example.com", "password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[model.UserDTO](t, env)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.Equal(t, model.RoleRegular, created.Role)

	w, _ = s.do(http.MethodPost, "/auth/register", "", gin.H{
		"name": "alice2", "email": "alice@example.com", "password": "password123",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = s.do(http.MethodPost, "/auth/login", "", gin.H{"login": "alice", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)

	w, env = s.do(http.MethodPost, "/auth/login", "", gin.H{"login": "alice@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}](t, env)
	assert.Equal(t, "bearer", login.TokenType)
	require.NotEmpty(t, login.AccessToken)

	// 登录会提交推荐补齐任务
	res := s.waitJob(created.UserID)
	assert.Equal(t, service.JobEnsure, res.Kind)

	w, env = s.do(http.MethodGet, "/users/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.UserID, decode[model.UserDTO](t, env).UserID)

	w, _ = s.do(http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < s.cfg.LoginRatePerMinute; i++ {
		w, _ := s.do(http.MethodPost, "/auth/login", "", gin.H{"login": "nobody", "password": "x"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w, _ := s.do(http.MethodPost, "/auth/login", "", gin.H{"login": "nobody", "password": "x"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestMovieAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	_, userToken := s.user("bob", model.RoleRegular)
	_, adminToken := s.user("root", model.RoleAdmin)

	body := gin.H{"title": "Heat", "genres": []string{"Crime", "Drama"}, "release_date": "1995-12-15", "vote_average": 7.9}

	w, _ := s.do(http.MethodPost, "/movies", userToken, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := s.do(http.MethodPost, "/movies", adminToken, body)
	require.Equal(t, http.StatusCreated, w.Code)
	movie := decode[model.MovieDTO](t, env)
	assert.Equal(t, "Crime, Drama", movie.Genre)
	assert.Equal(t, "1995-12-15", movie.ReleaseDate)

	w, _ = s.do(http.MethodPost, "/movies", adminToken, gin.H{"title": "Heat"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(http.MethodPost, "/movies", adminToken, gin.H{"title": "Bad", "vote_average": 11})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := "/movies/" + strconv.Itoa(movie.MovieID)
	w, env = s.do(http.MethodPut, path, adminToken, gin.H{"genre": "Thriller"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Thriller"}, decode[model.MovieDTO](t, env).Genres)

	w, env = s.do(http.MethodGet, "/movies?genre=thriller", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[service.MoviePage](t, env)
	require.Len(t, page.Items, 1)
	assert.Equal(t, movie.MovieID, page.Items[0].MovieID)

	w, _ = s.do(http.MethodDelete, path, adminToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = s.do(http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodGet, "/movies/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviews(t *testing.T) {
	s := newTestServer(t)
	_, token := s.user("carol", model.RoleRegular)
	m := s.movie("Alien", 1)
	path := "/movies/" + strconv.Itoa(m.ID) + "/reviews"

	w, _ := s.do(http.MethodPost, path, "", gin.H{"text": "great"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(http.MethodPost, path, token, gin.H{"text": "great", "sentiment": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, path, token, gin.H{"text": "great", "sentiment": 0.8})
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := s.do(http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	reviews := decode[[]model.ReviewDTO](t, env)
	require.Len(t, reviews, 1)
	assert.Equal(t, "carol", reviews[0].UserName)
	assert.NotContains(t, string(env.Data), "carol@example.com")

	w, _ = s.do(http.MethodGet, "/movies/9999/reviews", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWatchAndRecommendations(t *testing.T) {
	s := newTestServer(t)
	u, token := s.user("dave", model.RoleRegular)
	_, otherToken := s.user("erin", model.RoleRegular)

	a := s.movie("A", 1, 0)
	c := s.movie("C", 0.9, 0.1)
	d := s.movie("D", 0, 1)
	recPath := "/users/" + strconv.Itoa(u.ID) + "/recommendations"

	w, _ := s.do(http.MethodGet, recPath, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env := s.do(http.MethodPost, "/users/me/watch/"+strconv.Itoa(a.ID)+"/refresh", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[[]model.RecommendationItem](t, env)
	require.Len(t, items, 2)
	assert.Equal(t, c.ID, items[0].MovieID)
	assert.Equal(t, d.ID, items[1].MovieID)

	w, env = s.do(http.MethodGet, recPath+"?top_n=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	top := decode[[]model.RecommendationItem](t, env)
	require.Len(t, top, 1)
	assert.Equal(t, c.ID, top[0].MovieID)

	w, _ = s.do(http.MethodPost, recPath, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = s.do(http.MethodPost, recPath, token, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, decode[[]model.RecommendationItem](t, env), 2)

	w, env = s.do(http.MethodGet, "/users/me/history", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]model.HistoryEntry](t, env)
	require.Len(t, history, 1)
	assert.Equal(t, a.ID, history[0].Movie.MovieID)
}

func TestWatchSchedulesRegeneration(t *testing.T) {
	s := newTestServer(t)
	u, token := s.user("frank", model.RoleRegular)
	a := s.movie("A", 1, 0)
	c := s.movie("C", 0.9, 0.1)

	w, _ := s.do(http.MethodPost, "/users/me/watch/"+strconv.Itoa(a.ID), token, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	res := s.waitJob(u.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, service.JobRegenerate, res.Kind)

	w, env := s.do(http.MethodGet, "/users/"+strconv.Itoa(u.ID)+"/recommendations", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[[]model.RecommendationItem](t, env)
	require.Len(t, items, 1)
	assert.Equal(t, c.ID, items[0].MovieID)

	w, _ = s.do(http.MethodPost, "/users/me/watch/9999", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUserAccess(t *testing.T) {
	s := newTestServer(t)
	u, token := s.user("gina", model.RoleRegular)
	other, _ := s.user("hank", model.RoleRegular)
	_, adminToken := s.user("root", model.RoleAdmin)

	w, _ := s.do(http.MethodGet, "/users/"+strconv.Itoa(other.ID), token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodGet, "/users/"+strconv.Itoa(other.ID), adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	rolePath := "/users/" + strconv.Itoa(u.ID) + "/role"
	w, _ = s.do(http.MethodPut, rolePath, token, gin.H{"role": "admin"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPut, rolePath, adminToken, gin.H{"role": "superuser"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := s.do(http.MethodPut, rolePath, adminToken, gin.H{"role": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.RoleAdmin, decode[model.UserDTO](t, env).Role)

	w, _ = s.do(http.MethodPut, "/users/9999/role", adminToken, gin.H{"role": "admin"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTMDBSyncWithoutKey(t *testing.T) {
	s := newTestServer(t)
	_, adminToken := s.user("root", model.RoleAdmin)

	w, _ := s.do(http.MethodPost, "/admin/tmdb/sync", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
