// 包 logger：进程级日志器，LOG_LEVEL 控制级别，LOG_FORMAT=json 切换 JSON 输出
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

// Setup：按环境变量初始化默认日志器并返回
// 约束：输出到标准错误；服务名 SERVICE_NAME 作为固定属性附加
func Setup() *slog.Logger {
	return SetupWriter(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// SetupWriter：指定输出目标，测试中用于捕获日志
func SetupWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	l := slog.New(h)
	if svc := os.Getenv("SERVICE_NAME"); svc != "" {
		l = l.With("service", svc)
	}
	current.Store(l)
	return l
}

// L：获取默认日志器；未初始化时回退到 Setup
func L() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	return Setup()
}

func parseLevel(s string) slog.Level {
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
