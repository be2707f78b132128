package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/user/reelrec/internal/config"
	"github.com/user/reelrec/internal/logging"
	"github.com/user/reelrec/internal/model"
	"github.com/user/reelrec/internal/repository"
)

const minPasswordLen = 8

// UserService 注册、登录与用户管理
type UserService struct {
	users     *repository.UserRepository
	dbTimeout time.Duration
	log       zerolog.Logger
}

func NewUserService(repos *repository.Repositories, cfg *config.Config) *UserService {
	return &UserService{
		users:     repos.User,
		dbTimeout: cfg.DBTimeout,
		log:       logging.Component("user"),
	}
}

// Register 注册新用户，角色为普通用户
func (s *UserService) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" {
		return nil, invalid("用户名不能为空")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid("邮箱格式不正确")
	}
	if len(password) < minPasswordLen {
		return nil, invalid("密码长度至少 %d 位", minPasswordLen)
	}

	ctx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, upstream("读取用户失败", err)
	}
	if existing != nil {
		return nil, conflict("该邮箱已被注册", nil)
	}

	user, err := s.users.Create(ctx, name, email, password)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, conflict("用户名或邮箱已被占用", err)
		}
		return nil, upstream("注册失败", err)
	}

	s.log.Info().Int("user_id", user.ID).Msg("新用户注册")
	return user, nil
}

// Login 使用邮箱或用户名登录
func (s *UserService) Login(ctx context.Context, login, password string) (*model.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	ctx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()

	user, err := s.users.FindByLogin(ctx, login)
	if err != nil {
		return nil, upstream("读取用户失败", err)
	}
	// 邮箱统一小写存储
	if user == nil && strings.Contains(login, "@") {
		user, err = s.users.FindByEmail(ctx, strings.ToLower(login))
		if err != nil {
			return nil, upstream("读取用户失败", err)
		}
	}
	if user == nil || !s.users.CheckPassword(user, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GetUser 查看用户，仅本人或管理员
func (s *UserService) GetUser(ctx context.Context, requesterID int, requesterAdmin bool, userID int) (*model.User, error) {
	if requesterID != userID && !requesterAdmin {
		return nil, forbidden("无权查看该用户")
	}
	return s.find(ctx, userID)
}

// GetMe 当前用户
func (s *UserService) GetMe(ctx context.Context, userID int) (*model.User, error) {
	return s.find(ctx, userID)
}

// UpdateRole 修改用户角色
func (s *UserService) UpdateRole(ctx context.Context, userID int, role string) (*model.User, error) {
	if !model.ValidRole(role) {
		return nil, ErrInvalidRole
	}
	user, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()
	if err := s.users.UpdateRole(ctx, userID, role); err != nil {
		return nil, upstream("更新角色失败", err)
	}
	user.Role = role
	s.log.Info().Int("user_id", userID).Str("role", role).Msg("用户角色已更新")
	return user, nil
}

func (s *UserService) find(ctx context.Context, userID int) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, s.dbTimeout)
	defer cancel()
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, upstream("读取用户失败", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
