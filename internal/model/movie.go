package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingDim 全系统统一的向量维度
const EmbeddingDim = 768

// Movie 电影模型
type Movie struct {
	ID          int              `json:"id" gorm:"primaryKey"`
	Title       string           `json:"title" gorm:"not null;index"`
	Genre       string           `json:"genre"` // 展示用，由 Genres 派生
	ReleaseDate *time.Time       `json:"release_date"`
	VoteAverage float64          `json:"vote_average"`
	VoteCount   int              `json:"vote_count"`
	Runtime     int              `json:"runtime"`
	Overview    string           `json:"overview" gorm:"type:text"`
	TMDBID      *int             `json:"tmdb_id" gorm:"column:tmdb_id;uniqueIndex"`
	Embedding   *pgvector.Vector `json:"-" gorm:"type:vector(768)"`
	Genres      []Genre          `json:"genres" gorm:"many2many:movie_genres;"`
	Posters     []Poster         `json:"posters,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" gorm:"index"`
}

func (Movie) TableName() string { return "movies" }

// Poster 海报，Embedding 预留给图像相似度
type Poster struct {
	ID        int              `json:"id" gorm:"primaryKey"`
	MovieID   int              `json:"movie_id" gorm:"not null;index"`
	ImagePath string           `json:"image_path" gorm:"not null"`
	Embedding *pgvector.Vector `json:"-" gorm:"type:vector(768)"`
}

func (Poster) TableName() string { return "posters" }

// Genre 类型（规范表示，多对多）
type Genre struct {
	ID   int    `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"not null;uniqueIndex"`
}

func (Genre) TableName() string { return "genres" }

// MovieVector 推荐计算用的 (id, 向量) 对
type MovieVector struct {
	ID     int
	Vector []float32
}
