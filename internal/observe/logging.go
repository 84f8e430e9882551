// Package observe file: internal/observe/logging.go
package observe

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger 按配置级别安装全局 JSON 日志器，需在 main 早期调用。
// 输出带源码位置，级别字符串不识别时退回 info。
func InitLogger(levelStr string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     parseLevel(levelStr),
		AddSource: true,
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
