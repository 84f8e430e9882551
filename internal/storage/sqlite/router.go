// file: internal/storage/sqlite/router.go
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"HiveBase/internal/core/port"
	"HiveBase/internal/observe"
)

// Router 是所有读写的唯一入口：根据 Target 判别值选择 main 或项目库，
// acquire → 执行 → release，release 在任何退出路径上都有保证。
// 路由键只是目标判别值，路由层不解析 SQL。
type Router struct {
	pool     *Pool
	locator  *Locator
	mainPath string
}

// 静态断言，确保 *Router 实现 port.Router 接口。
var _ port.Router = (*Router)(nil)

// NewRouter 创建查询路由器。mainPath 是主库文件路径。
func NewRouter(pool *Pool, locator *Locator, mainPath string) *Router {
	if pool == nil || locator == nil {
		log.Fatal("[Router] 致命错误: pool 和 locator 实例不能为 nil。")
	}
	return &Router{pool: pool, locator: locator, mainPath: mainPath}
}

// Executor 返回绑定到指定目标的执行器。
func (r *Router) Executor(target port.Target) port.TargetExecutor {
	return &targetExecutor{router: r, target: target}
}

// resolve 把目标判别值换算成物理路径。项目目标先走 ensure，
// 保证四个操作形态都不会触碰一个不存在的项目库。
func (r *Router) resolve(ctx context.Context, target port.Target) (string, error) {
	switch target.Kind {
	case port.TargetMain:
		return r.mainPath, nil
	case port.TargetProject:
		if errEnsure := r.locator.Ensure(ctx, target.ProjectID); errEnsure != nil {
			return "", errEnsure
		}
		return r.locator.PathFor(target.ProjectID), nil
	default:
		return "", fmt.Errorf("未知的路由目标类别: %d", target.Kind)
	}
}

// targetLabel 用于指标维度。
func targetLabel(t port.Target) string {
	if t.Kind == port.TargetMain {
		return "main"
	}
	return "project"
}

// targetExecutor 把执行原语绑定到一个固定目标。
type targetExecutor struct {
	router *Router
	target port.Target
}

func (e *targetExecutor) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	path, err := e.router.resolve(ctx, e.target)
	if err != nil {
		return nil, err
	}
	db, err := e.router.pool.Acquire(ctx, path)
	if err != nil {
		return nil, err
	}
	defer e.router.pool.Release(path)

	observe.QueryTotal.WithLabelValues(targetLabel(e.target), "query").Inc()
	return queryRows(ctx, db, query, args...)
}

func (e *targetExecutor) QueryOne(ctx context.Context, query string, args ...any) (map[string]any, error) {
	path, err := e.router.resolve(ctx, e.target)
	if err != nil {
		return nil, err
	}
	db, err := e.router.pool.Acquire(ctx, path)
	if err != nil {
		return nil, err
	}
	defer e.router.pool.Release(path)

	observe.QueryTotal.WithLabelValues(targetLabel(e.target), "query_one").Inc()
	rows, err := queryRows(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil // 负向查找按 nil 返回，不作为异常
	}
	return rows[0], nil
}

func (e *targetExecutor) Execute(ctx context.Context, query string, args ...any) (port.ExecResult, error) {
	path, err := e.router.resolve(ctx, e.target)
	if err != nil {
		return port.ExecResult{}, err
	}
	db, err := e.router.pool.Acquire(ctx, path)
	if err != nil {
		return port.ExecResult{}, err
	}
	defer e.router.pool.Release(path)

	observe.QueryTotal.WithLabelValues(targetLabel(e.target), "execute").Inc()
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return port.ExecResult{}, classifyStmtError(err)
	}
	changed, _ := res.RowsAffected()
	insertedID, _ := res.LastInsertId()
	return port.ExecResult{Changed: changed, InsertedID: insertedID}, nil
}

// Transaction 开启显式事务执行 fn。回调内所有语句落在 BEGIN 时获取的
// 同一个连接上；fn 返回错误时回滚并原样上抛，回滚自身的失败只记日志，
// 绝不掩盖触发错误。
func (e *targetExecutor) Transaction(ctx context.Context, fn func(port.Executor) error) error {
	path, err := e.router.resolve(ctx, e.target)
	if err != nil {
		return err
	}
	db, err := e.router.pool.Acquire(ctx, path)
	if err != nil {
		return err
	}
	defer e.router.pool.Release(path)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BEGIN 事务失败 (目标 %s): %w", targetLabel(e.target), err)
	}

	observe.QueryTotal.WithLabelValues(targetLabel(e.target), "transaction").Inc()
	if errFn := fn(&txExecutor{tx: tx}); errFn != nil {
		if errRb := tx.Rollback(); errRb != nil {
			log.Printf("警告: [Router] 事务回滚失败 (将继续上抛原始错误): %v", errRb)
		}
		return errFn
	}
	if errCommit := tx.Commit(); errCommit != nil {
		return fmt.Errorf("COMMIT 事务失败: %w", errCommit)
	}
	return nil
}

// txExecutor 是事务作用域内的执行器，全部语句走同一个 *sql.Tx。
type txExecutor struct {
	tx *sql.Tx
}

func (e *txExecutor) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := e.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyStmtError(err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (e *txExecutor) QueryOne(ctx context.Context, query string, args ...any) (map[string]any, error) {
	result, err := e.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result[0], nil
}

func (e *txExecutor) Execute(ctx context.Context, query string, args ...any) (port.ExecResult, error) {
	res, err := e.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return port.ExecResult{}, classifyStmtError(err)
	}
	changed, _ := res.RowsAffected()
	insertedID, _ := res.LastInsertId()
	return port.ExecResult{Changed: changed, InsertedID: insertedID}, nil
}

// queryRows 执行查询并把结果集物化为通用行切片。
func queryRows(ctx context.Context, db *sql.DB, query string, args ...any) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyStmtError(err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// scanRows 把 *sql.Rows 物化为 []map[string]any，[]byte 统一转为 string。
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("获取结果列失败: %w", err)
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		scanDest := make([]any, len(columns))
		scanDestPtrs := make([]any, len(columns))
		for i := range scanDest {
			scanDestPtrs[i] = &scanDest[i]
		}
		if errScan := rows.Scan(scanDestPtrs...); errScan != nil {
			return nil, fmt.Errorf("扫描行数据失败: %w", errScan)
		}
		rowData := make(map[string]any, len(columns))
		for i, colName := range columns {
			if b, ok := scanDest[i].([]byte); ok {
				rowData[colName] = string(b)
			} else {
				rowData[colName] = scanDest[i]
			}
		}
		result = append(result, rowData)
	}
	if errRows := rows.Err(); errRows != nil {
		return nil, fmt.Errorf("迭代行数据失败: %w", errRows)
	}
	return result, nil
}

// 漂移错误的驱动文案特征。SQLite 没有结构化错误码可区分缺表/缺列，
// 只能按文案匹配。
var driftSignatures = []string{
	"no such table:",
	"no such column:",
	"has no column named",
}

// classifyStmtError 把驱动错误归类：缺表/缺列升格为 DriftError，
// 其余原样返回交由调用方处理。
func classifyStmtError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, sig := range driftSignatures {
		if idx := strings.Index(msg, sig); idx >= 0 {
			observe.DriftDetected.Inc()
			return &port.DriftError{Missing: strings.TrimSpace(msg[idx:]), Err: err}
		}
	}
	return err
}
