package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/user/reelrec/internal/model"
	"gorm.io/gorm"
)

type MovieRepository struct {
	db *gorm.DB
}

func NewMovieRepository(db *gorm.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

// MovieDisplay 推荐条目的展示字段
type MovieDisplay struct {
	Title     string
	Genre     string
	PosterURL string
}

func withRelations(db *gorm.DB) *gorm.DB {
	return db.Preload("Genres", func(db *gorm.DB) *gorm.DB {
		return db.Order("genres.name ASC")
	}).Preload("Posters", func(db *gorm.DB) *gorm.DB {
		return db.Order("posters.id ASC")
	})
}

// FindByID 根据 ID 查找电影
func (r *MovieRepository) FindByID(ctx context.Context, id int) (*model.Movie, error) {
	var movie model.Movie
	err := withRelations(r.db.WithContext(ctx)).First(&movie, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movie, nil
}

// Exists 电影是否存在
func (r *MovieRepository) Exists(ctx context.Context, id int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Movie{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// FindByTitle 根据标题查找电影
func (r *MovieRepository) FindByTitle(ctx context.Context, title string) (*model.Movie, error) {
	var movie model.Movie
	err := r.db.WithContext(ctx).Where("title = ?", title).First(&movie).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movie, nil
}

// List 获取电影列表，genre 为空时返回全部
func (r *MovieRepository) List(ctx context.Context, genre string) ([]*model.Movie, error) {
	q := withRelations(r.db.WithContext(ctx)).Model(&model.Movie{})
	if genre != "" {
		q = q.Joins("JOIN movie_genres ON movie_genres.movie_id = movies.id").
			Joins("JOIN genres ON genres.id = movie_genres.genre_id").
			Where("LOWER(genres.name) = ?", strings.ToLower(genre))
	}

	var movies []*model.Movie
	err := q.Order("movies.id ASC").Find(&movies).Error
	return movies, err
}

// Search 按标题模糊搜索
func (r *MovieRepository) Search(ctx context.Context, query string, limit int) ([]*model.Movie, error) {
	var movies []*model.Movie
	err := withRelations(r.db.WithContext(ctx)).
		Where("LOWER(title) LIKE ?", "%"+strings.ToLower(query)+"%").
		Order("id ASC").
		Limit(limit).
		Find(&movies).Error
	return movies, err
}

// Count 电影总数
func (r *MovieRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Movie{}).Count(&count).Error
	return count, err
}

type vectorRow struct {
	ID        int
	Embedding pgvector.Vector
}

// ListVectors 获取所有已生成向量的电影
func (r *MovieRepository) ListVectors(ctx context.Context) ([]model.MovieVector, error) {
	var rows []vectorRow
	err := r.db.WithContext(ctx).Model(&model.Movie{}).
		Select("id", "embedding").
		Where("embedding IS NOT NULL").
		Order("id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	vectors := make([]model.MovieVector, 0, len(rows))
	for _, row := range rows {
		vectors = append(vectors, model.MovieVector{ID: row.ID, Vector: row.Embedding.Slice()})
	}
	return vectors, nil
}

// Display 批量获取展示字段
func (r *MovieRepository) Display(ctx context.Context, ids []int) (map[int]MovieDisplay, error) {
	result := make(map[int]MovieDisplay, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var movies []*model.Movie
	if err := withRelations(r.db.WithContext(ctx)).Where("id IN ?", ids).Find(&movies).Error; err != nil {
		return nil, err
	}

	for _, m := range movies {
		d := MovieDisplay{Title: m.Title, Genre: m.Genre}
		if len(m.Genres) > 0 {
			d.Genre = model.JoinGenres(model.GenreNames(m.Genres))
		}
		if len(m.Posters) > 0 {
			d.PosterURL = m.Posters[0].ImagePath
		}
		result[m.ID] = d
	}
	return result, nil
}

// Create 创建电影并写入类型关联
func (r *MovieRepository) Create(ctx context.Context, movie *model.Movie, genreNames []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		genres, err := resolveGenres(tx, genreNames)
		if err != nil {
			return err
		}
		movie.Genres = genres
		movie.Genre = model.JoinGenres(model.GenreNames(genres))
		return tx.Create(movie).Error
	})
}

// Update 更新电影，genreNames 为 nil 时不修改类型
func (r *MovieRepository) Update(ctx context.Context, movie *model.Movie, genreNames []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if genreNames != nil {
			genres, err := resolveGenres(tx, genreNames)
			if err != nil {
				return err
			}
			if err := tx.Model(movie).Association("Genres").Replace(genres); err != nil {
				return err
			}
			movie.Genres = genres
			movie.Genre = model.JoinGenres(model.GenreNames(genres))
		}
		return tx.Omit("Genres", "Posters").Save(movie).Error
	})
}

// Delete 删除电影及其关联数据
func (r *MovieRepository) Delete(ctx context.Context, id int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{&model.Poster{}, &model.Review{}, &model.WatchHistory{}, &model.Recommendation{}} {
			if err := tx.Where("movie_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		movie := &model.Movie{ID: id}
		if err := tx.Model(movie).Association("Genres").Clear(); err != nil {
			return err
		}
		return tx.Delete(movie).Error
	})
}

// ListWithoutTMDBID 获取缺少 TMDB ID 的电影
func (r *MovieRepository) ListWithoutTMDBID(ctx context.Context, limit int) ([]*model.Movie, error) {
	var movies []*model.Movie
	err := r.db.WithContext(ctx).Preload("Posters").
		Where("tmdb_id IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&movies).Error
	return movies, err
}

// TMDBIDTaken TMDB ID 是否已被其他电影占用
func (r *MovieRepository) TMDBIDTaken(ctx context.Context, tmdbID int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Movie{}).Where("tmdb_id = ?", tmdbID).Count(&count).Error
	return count > 0, err
}

// UpdateTMDB 写入 TMDB ID，overview 非空时一并写入
func (r *MovieRepository) UpdateTMDB(ctx context.Context, id, tmdbID int, overview string) error {
	updates := map[string]interface{}{"tmdb_id": tmdbID}
	if overview != "" {
		updates["overview"] = overview
	}
	return r.db.WithContext(ctx).Model(&model.Movie{}).Where("id = ?", id).Updates(updates).Error
}

// resolveGenres 按名称查找或创建类型，去重并保持顺序
func resolveGenres(tx *gorm.DB, names []string) ([]model.Genre, error) {
	seen := make(map[string]bool, len(names))
	genres := make([]model.Genre, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true

		var g model.Genre
		if err := tx.Where("LOWER(name) = ?", key).First(&g).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
			g = model.Genre{Name: name}
			if err := tx.Create(&g).Error; err != nil {
				return nil, err
			}
		}
		genres = append(genres, g)
	}
	return genres, nil
}
