package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/user/reelrec/internal/utils"
)

// SyncTMDB 为缺少 tmdb_id 的电影补全 TMDB 信息（管理员）
func (h *Handler) SyncTMDB(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	result, err := h.svc.TMDB.SyncMissing(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SuccessWithMessage(c, "同步完成", result)
}
