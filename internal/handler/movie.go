package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/user/reelrec/internal/middleware"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/service"
	"github.com/user/reelrec/internal/utils"
)

// movieRequest 创建或更新电影，字段缺省表示不修改
type movieRequest struct {
	Title       *string   `json:"title"`
	Genres      []string  `json:"genres"`
	Genre       *string   `json:"genre"` // 逗号分隔，genres 为空时使用
	ReleaseDate *string   `json:"release_date"`
	VoteAverage *float64  `json:"vote_average" binding:"omitempty,gte=0,lte=10"`
	VoteCount   *int      `json:"vote_count" binding:"omitempty,gte=0"`
	Runtime     *int      `json:"runtime" binding:"omitempty,gte=0"`
	Overview    *string   `json:"overview"`
	TMDBID      *int      `json:"tmdb_id"`
	Embedding   []float32 `json:"embedding"`
}

func (r movieRequest) toInput() (service.MovieInput, bool) {
	in := service.MovieInput{
		Title:       r.Title,
		Genres:      r.Genres,
		VoteAverage: r.VoteAverage,
		VoteCount:   r.VoteCount,
		Runtime:     r.Runtime,
		Overview:    r.Overview,
		TMDBID:      r.TMDBID,
		Embedding:   r.Embedding,
	}
	if in.Genres == nil && r.Genre != nil {
		in.Genres = splitGenres(*r.Genre)
	}
	if r.ReleaseDate != nil && *r.ReleaseDate != "" {
		d, err := time.Parse("2006-01-02", *r.ReleaseDate)
		if err != nil {
			return in, false
		}
		in.ReleaseDate = &d
	}
	return in, true
}

func splitGenres(s string) []string {
	genres := []string{}
	for _, g := range strings.Split(s, ",") {
		if g = strings.TrimSpace(g); g != "" {
			genres = append(genres, g)
		}
	}
	return genres
}

type reviewRequest struct {
	Text      string   `json:"text" binding:"required"`
	Sentiment *float64 `json:"sentiment"`
}

// ListMovies 电影列表
func (h *Handler) ListMovies(c *gin.Context) {
	page, ok := queryInt(c, "page", 1)
	if !ok {
		return
	}
	perPage, ok := queryInt(c, "per_page", h.Config.ListingPageSize)
	if !ok {
		return
	}

	result, err := h.svc.Catalog.ListMovies(c.Request.Context(), c.Query("genre"), page, perPage)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.Success(c, result)
}

// SearchMovies 按标题搜索
func (h *Handler) SearchMovies(c *gin.Context) {
	movies, err := h.svc.Catalog.SearchMovies(c.Request.Context(), c.Query("query"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.Success(c, movies)
}

// GetMovie 电影详情
func (h *Handler) GetMovie(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	movie, err := h.svc.Catalog.GetMovie(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.Success(c, movie)
}

// SimilarMovies 相似电影
func (h *Handler) SimilarMovies(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	topN, ok := queryInt(c, "top_n", 0)
	if !ok {
		return
	}
	items, err := h.svc.Catalog.SimilarMovies(c.Request.Context(), id, topN)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.Success(c, items)
}

// CreateMovie 新增电影（管理员）
func (h *Handler) CreateMovie(c *gin.Context) {
	var req movieRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "电影参数不合法")
		return
	}
	if req.Title == nil {
		utils.BadRequest(c, "标题不能为空")
		return
	}
	in, ok := req.toInput()
	if !ok {
		utils.BadRequest(c, "上映日期格式应为 YYYY-MM-DD")
		return
	}

	movie, err := h.svc.Catalog.CreateMovie(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SuccessWithStatus(c, http.StatusCreated, "创建成功", movie)
}

// UpdateMovie 修改电影（管理员）
func (h *Handler) UpdateMovie(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req movieRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "电影参数不合法")
		return
	}
	in, ok := req.toInput()
	if !ok {
		utils.BadRequest(c, "上映日期格式应为 YYYY-MM-DD")
		return
	}

	movie, err := h.svc.Catalog.UpdateMovie(c.Request.Context(), id, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SuccessWithMessage(c, "更新成功", movie)
}

// DeleteMovie 删除电影（管理员）
func (h *Handler) DeleteMovie(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Catalog.DeleteMovie(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListReviews 电影影评
func (h *Handler) ListReviews(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}

	reviews, err := h.svc.Reviews.ListReviews(c.Request.Context(), id, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	dtos := make([]model.ReviewDTO, 0, len(reviews))
	for _, r := range reviews {
		dtos = append(dtos, model.ToReviewDTO(r))
	}
	utils.Success(c, dtos)
}

// CreateReview 发表影评
func (h *Handler) CreateReview(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "影评内容不能为空")
		return
	}

	review, err := h.svc.Reviews.CreateReview(c.Request.Context(), middleware.GetUserID(c), id, req.Text, req.Sentiment)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SuccessWithStatus(c, http.StatusCreated, "发表成功", model.ToReviewDTO(review))
}
