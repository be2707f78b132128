package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/reelrec/internal/middleware"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/service"
	"github.com/user/reelrec/internal/utils"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register 注册
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "请填写用户名、邮箱和密码")
		return
	}

	user, err := h.svc.Users.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SuccessWithStatus(c, http.StatusCreated, "注册成功", model.ToUserDTO(user))
}

// Login 登录并签发 JWT，同时为该用户补齐推荐
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "请填写账号和密码")
		return
	}

	user, err := h.svc.Users.Login(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, err := middleware.GenerateToken(user.ID, user.Name, user.Role, h.Config.AppSecret, h.Config.JWTExpiry)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if h.svc.Queue != nil && !h.svc.Queue.Submit(user.ID, service.JobEnsure) {
		h.log.Warn().Int("user_id", user.ID).Msg("推荐补齐任务未入队")
	}

	utils.SuccessWithMessage(c, "登录成功", gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"user":         model.ToUserDTO(user),
	})
}
