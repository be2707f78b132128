package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/reelrec/internal/cache"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/similarity"
)

func newCatalog(env *testEnv) *CatalogService {
	return NewCatalogService(env.repos, env.cache, env.recs, similarity.NewEngine(model.EmbeddingDim), env.cfg)
}

func strPtr(s string) *string { return &s }

func TestListMovies_PagesAndCaches(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.ListingPageSize = 50
	svc := newCatalog(env)
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		env.movie(t, fmt.Sprintf("Movie %03d", i), nil, "Drama")
	}

	page, err := svc.ListMovies(ctx, "", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 50, page.PerPage)
	assert.Len(t, page.Items, 20)

	// 页已写入缓存
	cached, err := cache.GetPageCache[model.MovieDTO](ctx, env.cache, "all", 1, 50)
	require.NoError(t, err)
	assert.Len(t, cached, 50)

	// 超出范围的页直接由页数判定为空
	beyond, err := svc.ListMovies(ctx, "", 9, 0)
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)
	assert.Equal(t, 3, beyond.TotalPages)
}

func TestListMovies_GenreFilterAndCustomPageSize(t *testing.T) {
	env := newTestEnv(t)
	svc := newCatalog(env)
	ctx := context.Background()

	env.movie(t, "Heat", nil, "Crime", "Drama")
	env.movie(t, "Alien", nil, "Horror")
	env.movie(t, "Up", nil, "Animation", "drama")

	page, err := svc.ListMovies(ctx, "DRAMA", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Heat", page.Items[0].Title)
	assert.Equal(t, "Crime, Drama", page.Items[0].Genre)

	_, ok, err := cache.TotalPages(ctx, env.cache, "drama@1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListMovies_CacheUnavailableFallsBack(t *testing.T) {
	env := newTestEnv(t)
	svc := newCatalog(env)
	env.movie(t, "Solo", nil)
	require.NoError(t, env.cache.Disconnect())

	page, err := svc.ListMovies(context.Background(), "", 1, 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestPrewarm(t *testing.T) {
	env := newTestEnv(t)
	svc := newCatalog(env)
	ctx := context.Background()
	env.movie(t, "Warm", nil)

	require.NoError(t, svc.Prewarm(ctx, env.cache))
	pages, ok, err := cache.TotalPages(ctx, env.cache, "all")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, pages)

	// 已存在时不覆盖
	env.movie(t, "Second", nil)
	require.NoError(t, svc.Prewarm(ctx, env.cache))
	items, err := cache.GetPageCache[model.MovieDTO](ctx, env.cache, "all", 1, 50)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestGetMovie(t *testing.T) {
	env := newTestEnv(t)
	svc := newCatalog(env)
	ctx := context.Background()

	m := env.movie(t, "Heat", vec(1), "Crime")
	_, err := env.repos.Poster.Add(ctx, m.ID, "/heat.jpg")
	require.NoError(t, err)

	dto, err := svc.GetMovie(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Heat", dto.Title)
	assert.Equal(t, "/heat.jpg", dto.PosterURL)
	assert.True(t, dto.HasVector)

	var cached model.MovieDTO
	ok, err := env.cache.Get(ctx, cache.MovieKey(m.ID), &cached)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.GetMovie(ctx, m.ID+1000)
	assert.ErrorIs(t, err, ErrMovieNotFound)
}

func TestSearchMovies(t *testing.T) {
	env := newTestEnv(t)
	svc := newCatalog(env)

	env.movie(t, "The Matrix", nil)
	env.movie(t, "Matrix Reloaded", nil)
	env.movie(t, "Heat", nil)

	got, err := svc.SearchMovies(context.Background(), "matrix")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = svc.SearchMovies(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSimilarMovies(t *testing.T) {
	env := newTestEnv(t)
	svc := newCatalog(env)
	ctx := context.Background()

	a := env.movie(t, "A", vec(1, 0))
	b := env.movie(t, "B", vec(0.9, 0.1))
	c := env.movie(t, "C", vec(0, 1))
	plain := env.movie(t, "Plain", nil)

	got, err := svc.SimilarMovies(ctx, a.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{b.ID, c.ID}, movieIDs(got))

	_, err = svc.SimilarMovies(ctx, plain.ID, 5)
	assert.ErrorIs(t, err, ErrMovieNoEmbedding)

	_, err = svc.SimilarMovies(ctx, 9999, 5)
	assert.ErrorIs(t, err, ErrMovieNotFound)
}

func TestCreateUpdateDeleteMovie(t *testing.T) {
	env := newTestEnv(t)
	svc := newCatalog(env)
	ctx := context.Background()

	// 先填充缓存，写操作后应失效
	env.movie(t, "Existing", vec(1))
	_, err := svc.ListMovies(ctx, "", 1, 0)
	require.NoError(t, err)

	created, err := svc.CreateMovie(ctx, MovieInput{Title: strPtr("Heat"), Genres: []string{"Drama", "Crime"}})
	require.NoError(t, err)
	assert.Equal(t, "Crime, Drama", created.Genre)

	_, ok, _ := cache.TotalPages(ctx, env.cache, "all")
	assert.False(t, ok, "listing cache should be invalidated")

	_, err = svc.CreateMovie(ctx, MovieInput{Title: strPtr("Heat")})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.CreateMovie(ctx, MovieInput{Title: strPtr("Bad"), Embedding: []float32{1, 2}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.GetMovie(ctx, created.MovieID)
	require.NoError(t, err)

	updated, err := svc.UpdateMovie(ctx, created.MovieID, MovieInput{Overview: strPtr("LA crime saga"), Genres: []string{"Thriller"}})
	require.NoError(t, err)
	assert.Equal(t, "Thriller", updated.Genre)
	assert.Equal(t, "Heat", updated.Title)

	fresh, err := svc.GetMovie(ctx, created.MovieID)
	require.NoError(t, err)
	assert.Equal(t, "LA crime saga", fresh.Overview)

	_, err = svc.UpdateMovie(ctx, created.MovieID, MovieInput{Title: strPtr("Existing")})
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, svc.DeleteMovie(ctx, created.MovieID))
	_, err = svc.GetMovie(ctx, created.MovieID)
	assert.ErrorIs(t, err, ErrMovieNotFound)
	assert.ErrorIs(t, svc.DeleteMovie(ctx, created.MovieID), ErrMovieNotFound)
}

func TestDeleteMovie_CascadesRecommendations(t *testing.T) {
	env := newTestEnv(t)
	svc := newCatalog(env)
	ctx := context.Background()

	a := env.movie(t, "A", vec(1, 0))
	b := env.movie(t, "B", vec(0, 1))
	u := env.user(t, "zoe")
	_, err := env.recs.Generate(ctx, u.ID, 5)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteMovie(ctx, a.ID))

	got, err := env.recs.GetForUser(ctx, u.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{b.ID}, movieIDs(got))
}
