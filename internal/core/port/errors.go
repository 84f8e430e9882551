// Package port file: internal/core/port/errors.go
package port

import (
	"errors"
	"fmt"
)

// 标准错误分类。调用方通过 errors.Is / errors.As 判定错误类别并决定对外行为。
var (
	// ErrNotFound 表示引用的项目/集合/文档/密钥不存在。
	ErrNotFound = errors.New("指定的资源未找到")

	// ErrConflict 表示操作与现有状态冲突（例如集合重名、集合下仍有文档时删除）。
	ErrConflict = errors.New("操作与现有状态冲突")

	// ErrValidation 表示文档或 Schema 未通过类型/约束校验。
	ErrValidation = errors.New("数据校验失败")

	// ErrIO 表示底层存储打开/读写失败。路由层不会自动重试这类错误。
	ErrIO = errors.New("底层存储 I/O 失败")
)

// DriftError 表示检测到 Schema 漂移（缺表/缺列）。
// 实体服务捕获该错误后触发一次"修复并重试"，重试成功时不会向最终调用方暴露。
type DriftError struct {
	Missing string // 缺失对象的描述，例如 "no such column: projects.settings"
	Err     error  // 触发漂移判定的原始驱动错误
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("检测到 Schema 漂移 (%s): %v", e.Missing, e.Err)
}

func (e *DriftError) Unwrap() error { return e.Err }

// IsDrift 判断一个错误是否属于 Schema 漂移类别。
func IsDrift(err error) bool {
	var de *DriftError
	return errors.As(err, &de)
}
