// file: internal/service/helpers.go
package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// generateToken 生成 "<prefix>_<32字节十六进制>" 形式的随机令牌。
func generateToken(prefix string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("读取随机源失败: %w", err)
	}
	return prefix + "_" + hex.EncodeToString(buf), nil
}

// 行扫描归一化：modernc sqlite 驱动把 TEXT 列吐成 string、整数吐成
// int64、DATETIME 按写入时的文本原样返回，这里统一兜底转换。

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// asTime 解析库里常见的两种时间文本；都解析不了时返回零值。
func asTime(v any) time.Time {
	raw := asString(v)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
