package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel 将文本级别转换为 slog.Level，无法识别时返回 Info。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New 创建写入 w 的日志器，text 为 false 时输出 JSON。
func New(w io.Writer, level string, text bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if text {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// NewDefault 创建输出到 stdout 的进程日志器。
func NewDefault(level string, env string) *slog.Logger {
	return New(os.Stdout, level, strings.EqualFold(env, "local"))
}
