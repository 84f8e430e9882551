// Package port file: internal/core/port/router.go
package port

import "context"

// TargetKind 标识一次数据库操作的路由目标类别。
type TargetKind int

const (
	// TargetMain 指向主库 (main.db)，存放跨项目元数据。
	TargetMain TargetKind = iota
	// TargetProject 指向某个项目的专属库 (projects/<id>.db)。
	TargetProject
)

// Target 是路由键：main 或 project-<id>。路由层只看这个判别值，
// 不解析 SQL 内容。
type Target struct {
	Kind      TargetKind
	ProjectID string
}

// Main 返回主库目标。
func Main() Target { return Target{Kind: TargetMain} }

// Project 返回指定项目的库目标。
func Project(id string) Target { return Target{Kind: TargetProject, ProjectID: id} }

// ExecResult 是写操作的结果摘要。
type ExecResult struct {
	Changed    int64 // 受影响行数
	InsertedID int64 // 最后插入的自增 rowid (若适用)
}

// Executor 是一组绑定到单个连接或事务的 SQL 执行原语。
// Transaction 回调内拿到的 Executor 保证所有语句落在同一连接、同一事务上。
type Executor interface {
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	QueryOne(ctx context.Context, query string, args ...any) (map[string]any, error)
	Execute(ctx context.Context, query string, args ...any) (ExecResult, error)
}

// Router 是所有读写的唯一入口。四个操作形态都要求:
// 先确保项目库存在 (项目目标时)，再 acquire → 执行 → release，
// release 在任何退出路径上都必须发生。
type Router interface {
	Executor(target Target) TargetExecutor
}

// TargetExecutor 把 Executor 的三个原语与 Transaction 绑定到一个固定目标上。
type TargetExecutor interface {
	Executor

	// Transaction 开启显式事务执行 fn。fn 返回 nil 则提交；
	// 否则回滚并原样返回 fn 的错误 (回滚自身的失败只记日志，绝不掩盖原错误)。
	Transaction(ctx context.Context, fn func(Executor) error) error
}

// Locator 将项目 ID 映射到物理库文件，并负责首次访问时的惰性建库。
type Locator interface {
	// Ensure 幂等地保证项目库存在 (含基础表结构)。并发调用收敛为一次建库。
	Ensure(ctx context.Context, projectID string) error
	// Exists 仅通过文件系统判断项目库是否已物化，不发起任何查询。
	Exists(projectID string) bool
	// PathFor 返回项目库文件的物理路径 (由项目 ID 确定性推导)。
	PathFor(projectID string) string
	// Close 关闭项目库的活动连接 (若有)。
	Close(projectID string)
	// Delete 在调用方清空逻辑行之后移除物理库文件。
	Delete(projectID string) error
}
