package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/user/reelrec/internal/config"
	"github.com/user/reelrec/internal/logging"
	"github.com/user/reelrec/internal/service"
	"github.com/user/reelrec/internal/utils"
)

// Services 处理器依赖的业务服务
type Services struct {
	Catalog         *service.CatalogService
	Users           *service.UserService
	Reviews         *service.ReviewService
	History         *service.HistoryService
	Recommendations *service.RecommendationService
	TMDB            *service.TMDBService
	Queue           service.Submitter
}

// Handler HTTP 处理器
type Handler struct {
	Config *config.Config
	svc    Services
	log    zerolog.Logger
}

// NewHandler 创建处理器
func NewHandler(cfg *config.Config, svc Services) *Handler {
	return &Handler{
		Config: cfg,
		svc:    svc,
		log:    logging.Component("http"),
	}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError 按错误类别映射 HTTP 状态码
func (h *Handler) respondError(c *gin.Context, err error) {
	message := ""
	var se *service.Error
	if errors.As(err, &se) {
		message = se.Message
	}

	switch {
	case errors.Is(err, service.ErrNotFound):
		utils.NotFound(c, message)
	case errors.Is(err, service.ErrInvalidInput):
		utils.BadRequest(c, message)
	case errors.Is(err, service.ErrConflict):
		utils.Error(c, http.StatusConflict, message)
	case errors.Is(err, service.ErrUnauthorized):
		utils.Unauthorized(c, message)
	case errors.Is(err, service.ErrForbidden):
		utils.Forbidden(c, message)
	case errors.Is(err, service.ErrUpstream):
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("依赖服务不可用")
		if message == "" {
			message = "服务暂不可用"
		}
		utils.Error(c, http.StatusServiceUnavailable, message)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("请求处理失败")
		utils.InternalServerError(c, "")
	}
}

// paramID 解析路径中的正整数 ID
func paramID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		utils.BadRequest(c, "无效的 ID")
		return 0, false
	}
	return id, true
}

// queryInt 解析非负整数查询参数，缺省时返回 def
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		utils.BadRequest(c, "参数 "+name+" 必须为非负整数")
		return 0, false
	}
	return n, true
}
