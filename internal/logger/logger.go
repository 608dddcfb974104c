// 包 logger：统一初始化与获取日志器；通过环境变量控制日志级别与输出格式
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[slog.Logger]

// ParseLevel 解析 LOG_LEVEL，未知值回退为 info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New 按级别与格式（json|text）构造日志器，附带 service 字段
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}
	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("service", "tz-api")
}

// Setup：初始化默认日志器
// 背景：集中化日志配置，按 LOG_LEVEL / LOG_FORMAT 调整；同时设为 slog 包级默认。
// 约束：输出固定为标准错误。
func Setup() *slog.Logger {
	l := New(os.Stderr, ParseLevel(os.Getenv("LOG_LEVEL")), os.Getenv("LOG_FORMAT"))
	defaultLogger.Store(l)
	slog.SetDefault(l)
	return l
}

// L：获取默认日志器，未初始化时回退到 Setup
func L() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	return Setup()
}

// Set 替换默认日志器（测试中静音或捕获输出）
func Set(l *slog.Logger) { defaultLogger.Store(l) }
