// file: internal/service/stack_test.go
package service

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"HiveBase/internal/storage/sqlite"

	"github.com/stretchr/testify/require"
)

// testStack 是服务层测试共用的真实存储栈: 临时 instance 目录上的
// 连接池、定位器与路由器，主库已建好全部系统表。
type testStack struct {
	router  *sqlite.Router
	locator *sqlite.Locator
	repair  *RepairService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	root := t.TempDir()

	mainPath := filepath.Join(root, "main.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON", mainPath)
	mainDB, err := sql.Open("sqlite", dsn)
	require.NoError(t, err, "打开测试主库不应失败")
	t.Cleanup(func() { _ = mainDB.Close() })
	require.NoError(t, InitMainTables(mainDB), "初始化主库系统表不应失败")

	pool := sqlite.NewPool(time.Minute)
	t.Cleanup(func() { _ = pool.Close() })

	locator := sqlite.NewLocator(root, pool, CreateProjectTables)
	router := sqlite.NewRouter(pool, locator, mainPath)

	return &testStack{
		router:  router,
		locator: locator,
		repair:  NewRepairService(router, "admin@hivebase.local", "test-password"),
	}
}
