package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/reelrec/internal/middleware"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/utils"
)

type roleRequest struct {
	Role string `json:"role" binding:"required,role"`
}

// Me 当前用户
func (h *Handler) Me(c *gin.Context) {
	user, err := h.svc.Users.GetMe(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.Success(c, model.ToUserDTO(user))
}

// GetUser 查看用户
func (h *Handler) GetUser(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	user, err := h.svc.Users.GetUser(c.Request.Context(), middleware.GetUserID(c), middleware.IsAdmin(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.Success(c, model.ToUserDTO(user))
}

// UpdateRole 修改角色（管理员）
func (h *Handler) UpdateRole(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "角色只能是 regular 或 admin")
		return
	}

	user, err := h.svc.Users.UpdateRole(c.Request.Context(), id, req.Role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SuccessWithMessage(c, "角色已更新", model.ToUserDTO(user))
}

// History 当前用户观影历史
func (h *Handler) History(c *gin.Context) {
	entries, err := h.svc.History.GetHistory(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.Success(c, entries)
}

// Watch 记录观看，推荐在后台重新生成
func (h *Handler) Watch(c *gin.Context) {
	movieID, ok := paramID(c, "movie_id")
	if !ok {
		return
	}
	entry, err := h.svc.History.RecordWatch(c.Request.Context(), middleware.GetUserID(c), movieID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SuccessWithStatus(c, http.StatusAccepted, "已记录，推荐更新中", entry)
}

// WatchAndRefresh 记录观看并同步返回新推荐
func (h *Handler) WatchAndRefresh(c *gin.Context) {
	movieID, ok := paramID(c, "movie_id")
	if !ok {
		return
	}
	topN, ok := queryInt(c, "top_n", 0)
	if !ok {
		return
	}
	items, err := h.svc.History.WatchAndRefresh(c.Request.Context(), middleware.GetUserID(c), movieID, topN)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.Success(c, items)
}

// GenerateRecommendations 重新生成推荐，仅本人或管理员
func (h *Handler) GenerateRecommendations(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if id != middleware.GetUserID(c) && !middleware.IsAdmin(c) {
		utils.Forbidden(c, "无权为该用户生成推荐")
		return
	}
	topN, ok := queryInt(c, "top_n", 0)
	if !ok {
		return
	}

	items, err := h.svc.Recommendations.Generate(c.Request.Context(), id, topN)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SuccessWithStatus(c, http.StatusCreated, "推荐已生成", items)
}

// GetRecommendations 读取推荐
func (h *Handler) GetRecommendations(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	topN, ok := queryInt(c, "top_n", 0)
	if !ok {
		return
	}

	items, err := h.svc.Recommendations.GetForUser(c.Request.Context(), id, topN)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.Success(c, items)
}
