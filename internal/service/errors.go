package service

import (
	"errors"
	"fmt"
)

// 错误类别，handler 据此映射 HTTP 状态码
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrUpstream     = errors.New("upstream unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// 具体错误
var (
	ErrUserNotFound            = &Error{Kind: ErrNotFound, Message: "用户不存在"}
	ErrMovieNotFound           = &Error{Kind: ErrNotFound, Message: "电影不存在"}
	ErrNoMovies                = &Error{Kind: ErrNotFound, Message: "没有可用于推荐的电影"}
	ErrNoEmbeddings            = &Error{Kind: ErrNotFound, Message: "电影向量尚未生成"}
	ErrNoCandidates            = &Error{Kind: ErrNotFound, Message: "没有可推荐的候选电影"}
	ErrRecommendationsNotFound = &Error{Kind: ErrNotFound, Message: "推荐尚未生成"}
	ErrInvalidRole             = &Error{Kind: ErrInvalidInput, Message: "无效的角色"}
	ErrInvalidCredentials      = &Error{Kind: ErrUnauthorized, Message: "用户名或密码错误"}
)

// Error 带类别与用户可见消息的错误
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is 匹配类别或同一个具体错误
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == e.Message
}

func invalid(format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func conflict(message string, err error) error {
	return &Error{Kind: ErrConflict, Message: message, Err: err}
}

func forbidden(message string) error {
	return &Error{Kind: ErrForbidden, Message: message}
}

// upstream 包装数据库或缓存故障
func upstream(message string, err error) error {
	return &Error{Kind: ErrUpstream, Message: message, Err: err}
}
