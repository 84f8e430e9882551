// file: internal/service/health_service_test.go
package service

import (
	"context"
	"testing"

	"HiveBase/internal/core/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthService_CheckHealthy(t *testing.T) {
	stack := newTestStack(t)
	health := NewHealthService(stack.router)

	result := health.Check(context.Background())
	assert.True(t, result.Healthy, "完整初始化的实例应通过快速探测")
	assert.Empty(t, result.Details)
}

func TestHealthService_CheckReportsMissingTables(t *testing.T) {
	stack := newTestStack(t)
	health := NewHealthService(stack.router)
	ctx := context.Background()

	exec := stack.router.Executor(port.Main())
	_, err := exec.Execute(ctx, `DROP TABLE system_checks`)
	require.NoError(t, err)
	_, err = exec.Execute(ctx, `DROP TABLE sessions`)
	require.NoError(t, err)

	result := health.Check(ctx)
	assert.False(t, result.Healthy)
	assert.ElementsMatch(t, []string{"sessions", "system_checks"}, result.Details,
		"缺失的表应逐一列出")
}

func TestHealthService_FullCheckDistinguishesSeverity(t *testing.T) {
	stack := newTestStack(t)
	health := NewHealthService(stack.router)
	ctx := context.Background()

	t.Run("缺可选项只降级", func(t *testing.T) {
		// 新实例: 表齐备但无管理员、无初始化标记。
		report := health.FullCheck(ctx)
		assert.Equal(t, StatusDegraded, report.Status,
			"缺种子行与连接坏掉必须可区分")
		assert.Equal(t, StatusHealthy, report.Checks["database"].Status)
		assert.Equal(t, StatusHealthy, report.Checks["tables"].Status)
		assert.Equal(t, StatusDegraded, report.Checks["default_admin"].Status)
	})

	t.Run("修复后恢复健康", func(t *testing.T) {
		_, err := stack.repair.Repair(ctx)
		require.NoError(t, err)

		report := health.FullCheck(ctx)
		assert.Equal(t, StatusHealthy, report.Status)
	})

	t.Run("缺关键表即不健康", func(t *testing.T) {
		exec := stack.router.Executor(port.Main())
		_, err := exec.Execute(ctx, `DROP TABLE projects`)
		require.NoError(t, err)

		report := health.FullCheck(ctx)
		assert.Equal(t, StatusUnhealthy, report.Status)
		assert.Equal(t, StatusUnhealthy, report.Checks["tables"].Status)
	})
}
