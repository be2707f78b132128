// Package logging 基于 zerolog 的统一日志
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	log := logging.Component("recommendation")
//	log.Info().Int("user_id", id).Msg("推荐已生成")
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config 日志配置
type Config struct {
	Level  string // trace, debug, info, warn, error
	Format string // json | console
	Output io.Writer
}

var (
	logger zerolog.Logger
	mu     sync.RWMutex
)

func init() {
	Init(Config{Level: "info", Format: "console"})
}

// Init 初始化全局日志，可重复调用
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	output := cfg.Output
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	logger = zerolog.New(output).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger 返回全局日志实例
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Component 返回带 component 字段的子日志
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.With().Str("component", name).Logger()
}

// Info 全局 info 级别日志
func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

// Warn 全局 warn 级别日志
func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

// Error 全局 error 级别日志
func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}

// Fatal 全局 fatal 级别日志，输出后退出进程
func Fatal() *zerolog.Event {
	l := Logger()
	return l.Fatal()
}
