// file: internal/storage/sqlite/router_test.go
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"HiveBase/internal/core/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	pool := NewPool(time.Minute)
	t.Cleanup(func() { _ = pool.Close() })

	provision := func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`CREATE TABLE IF NOT EXISTS documents (id TEXT PRIMARY KEY, data TEXT NOT NULL)`)
		return err
	}
	root := t.TempDir()
	locator := NewLocator(root, pool, provision)
	return NewRouter(pool, locator, filepath.Join(root, "main.db"))
}

func TestRouter_TargetIsolation(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	// 主库与两个项目库各有同名表，互不可见。
	main := r.Executor(port.Main())
	_, err := main.Execute(ctx, `CREATE TABLE documents (id TEXT PRIMARY KEY, data TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = main.Execute(ctx, `INSERT INTO documents VALUES ('m1', 'main')`)
	require.NoError(t, err)

	p1 := r.Executor(port.Project("p1"))
	p2 := r.Executor(port.Project("p2"))
	_, err = p1.Execute(ctx, `INSERT INTO documents VALUES ('d1', 'one')`)
	require.NoError(t, err)
	_, err = p2.Execute(ctx, `INSERT INTO documents VALUES ('d2', 'two')`)
	require.NoError(t, err)

	rows, err := p1.Query(ctx, `SELECT id FROM documents`)
	require.NoError(t, err)
	require.Len(t, rows, 1, "p1 只应看到自己的行")
	assert.Equal(t, "d1", rows[0]["id"])

	rows, err = p2.Query(ctx, `SELECT id FROM documents`)
	require.NoError(t, err)
	require.Len(t, rows, 1, "p2 只应看到自己的行")
	assert.Equal(t, "d2", rows[0]["id"])

	rows, err = main.Query(ctx, `SELECT id FROM documents`)
	require.NoError(t, err)
	require.Len(t, rows, 1, "主库只应看到自己的行")
	assert.Equal(t, "m1", rows[0]["id"])
}

func TestRouter_QueryOneMissReturnsNil(t *testing.T) {
	r := newTestRouter(t)
	exec := r.Executor(port.Project("p1"))

	row, err := exec.QueryOne(context.Background(),
		`SELECT * FROM documents WHERE id = ?`, "ghost")
	require.NoError(t, err, "负向查找不应是错误")
	assert.Nil(t, row, "未命中时应返回 nil 行")
}

func TestRouter_TransactionRollback(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()
	exec := r.Executor(port.Project("p1"))

	boom := errors.New("中途失败")
	err := exec.Transaction(ctx, func(tx port.Executor) error {
		if _, errExec := tx.Execute(ctx, `INSERT INTO documents VALUES ('d1', 'x')`); errExec != nil {
			return errExec
		}
		return boom
	})
	require.ErrorIs(t, err, boom, "事务应原样上抛回调错误")

	rows, err := exec.Query(ctx, `SELECT * FROM documents`)
	require.NoError(t, err)
	assert.Empty(t, rows, "回滚后第一条插入不应可见")
}

func TestRouter_TransactionCommit(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()
	exec := r.Executor(port.Project("p1"))

	err := exec.Transaction(ctx, func(tx port.Executor) error {
		if _, errExec := tx.Execute(ctx, `INSERT INTO documents VALUES ('d1', 'x')`); errExec != nil {
			return errExec
		}
		_, errExec := tx.Execute(ctx, `INSERT INTO documents VALUES ('d2', 'y')`)
		return errExec
	})
	require.NoError(t, err)

	rows, err := exec.Query(ctx, `SELECT * FROM documents ORDER BY id`)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "提交后两条插入都应可见")
}

func TestRouter_DriftClassification(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()
	exec := r.Executor(port.Project("p1"))

	t.Run("缺表", func(t *testing.T) {
		_, err := exec.Query(ctx, `SELECT * FROM nonexistent_table`)
		require.Error(t, err)
		assert.True(t, port.IsDrift(err), "缺表错误应归类为漂移")
	})

	t.Run("缺列", func(t *testing.T) {
		_, err := exec.Query(ctx, `SELECT ghost_column FROM documents`)
		require.Error(t, err)
		assert.True(t, port.IsDrift(err), "缺列错误应归类为漂移")
	})

	t.Run("语法错误不是漂移", func(t *testing.T) {
		_, err := exec.Query(ctx, `SELEKT * FROM documents`)
		require.Error(t, err)
		assert.False(t, port.IsDrift(err), "普通 SQL 错误不应归类为漂移")
	})
}

func TestRouter_PoolBalancedAfterOperations(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()
	exec := r.Executor(port.Project("p1"))

	_, _ = exec.Query(ctx, `SELECT * FROM documents`)
	_, _ = exec.QueryOne(ctx, `SELECT * FROM documents WHERE id='x'`)
	_, _ = exec.Execute(ctx, `INSERT INTO documents VALUES ('d1','x')`)
	_, _ = exec.Query(ctx, `SELECT * FROM nonexistent_table`) // 失败路径
	_ = exec.Transaction(ctx, func(tx port.Executor) error { return errors.New("回滚") })

	assert.Equal(t, 0, r.pool.Outstanding(), "任何操作形态结束后引用计数都应归零")
}
