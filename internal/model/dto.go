package model

import (
	"sort"
	"strings"
	"time"
)

// 缓存与接口输出使用的显式结构，字段逐一映射，不做反射

// MovieDTO 电影输出结构
type MovieDTO struct {
	MovieID     int       `json:"movie_id"`
	Title       string    `json:"title"`
	Genre       string    `json:"genre"`
	Genres      []string  `json:"genres"`
	ReleaseDate string    `json:"release_date,omitempty"`
	VoteAverage float64   `json:"vote_average"`
	VoteCount   int       `json:"vote_count"`
	Runtime     int       `json:"runtime"`
	Overview    string    `json:"overview"`
	TMDBID      *int      `json:"tmdb_id,omitempty"`
	PosterURL   string    `json:"poster_url,omitempty"`
	HasVector   bool      `json:"has_embedding"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToMovieDTO 转换电影，需预加载 Genres / Posters
func ToMovieDTO(m *Movie) MovieDTO {
	dto := MovieDTO{
		MovieID:     m.ID,
		Title:       m.Title,
		Genre:       m.Genre,
		Genres:      GenreNames(m.Genres),
		VoteAverage: m.VoteAverage,
		VoteCount:   m.VoteCount,
		Runtime:     m.Runtime,
		Overview:    m.Overview,
		TMDBID:      m.TMDBID,
		HasVector:   m.Embedding != nil,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.ReleaseDate != nil {
		dto.ReleaseDate = m.ReleaseDate.Format("2006-01-02")
	}
	if len(dto.Genres) > 0 {
		dto.Genre = JoinGenres(dto.Genres)
	}
	if len(m.Posters) > 0 {
		dto.PosterURL = m.Posters[0].ImagePath
	}
	return dto
}

// GenreNames 提取类型名
func GenreNames(genres []Genre) []string {
	names := make([]string, 0, len(genres))
	for _, g := range genres {
		names = append(names, g.Name)
	}
	return names
}

// JoinGenres 类型展示字符串，按名称排序
func JoinGenres(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

// RecommendationItem 推荐条目，写入时补齐展示字段
type RecommendationItem struct {
	MovieID   int     `json:"movie_id"`
	Title     string  `json:"title"`
	Genre     string  `json:"genre"`
	PosterURL string  `json:"poster_url,omitempty"`
	Score     float64 `json:"score"`
}

// HistoryEntry 观影历史条目
type HistoryEntry struct {
	ID         int          `json:"id"`
	WatchedAt  time.Time    `json:"watched_at"`
	WatchCount int          `json:"watch_count"`
	Movie      HistoryMovie `json:"movie"`
}

// HistoryMovie 历史条目中的电影信息
type HistoryMovie struct {
	MovieID   int    `json:"movie_id"`
	Title     string `json:"title"`
	PosterURL string `json:"poster_url,omitempty"`
}

// UserDTO 用户输出结构
type UserDTO struct {
	UserID    int       `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// ToUserDTO 转换用户
func ToUserDTO(u *User) UserDTO {
	return UserDTO{
		UserID:    u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

// ReviewDTO 影评输出结构，不暴露作者邮箱
type ReviewDTO struct {
	ID        int       `json:"id"`
	MovieID   int       `json:"movie_id"`
	UserID    int       `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Text      string    `json:"text"`
	Sentiment *float64  `json:"sentiment"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// ToReviewDTO 转换影评，User 可未预加载
func ToReviewDTO(r *Review) ReviewDTO {
	dto := ReviewDTO{
		ID:        r.ID,
		MovieID:   r.MovieID,
		UserID:    r.UserID,
		Text:      r.Text,
		Sentiment: r.Sentiment,
		Source:    r.Source,
		CreatedAt: r.CreatedAt,
	}
	if r.User != nil {
		dto.UserName = r.User.Name
	}
	return dto
}
