// file: internal/service/apikey_service_test.go
package service

import (
	"context"
	"testing"
	"time"

	"HiveBase/internal/core/domain"
	"HiveBase/internal/core/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApiKeyService(t *testing.T) (*ApiKeyService, *testStack) {
	t.Helper()
	stack := newTestStack(t)
	return NewApiKeyService(stack.router, stack.repair), stack
}

func TestApiKeyService_CreateScopeValidation(t *testing.T) {
	svc, _ := newApiKeyService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateKeyInput{Scope: domain.ScopeAdmin})
	assert.ErrorIs(t, err, port.ErrValidation, "admin 密钥缺管理员应被拒绝")

	_, err = svc.Create(ctx, CreateKeyInput{Scope: domain.ScopeProject})
	assert.ErrorIs(t, err, port.ErrValidation, "project 密钥缺项目应被拒绝")

	_, err = svc.Create(ctx, CreateKeyInput{Scope: "tenant"})
	assert.ErrorIs(t, err, port.ErrValidation, "未知范围应被拒绝")
}

func TestApiKeyService_AdminKeyLifecycle(t *testing.T) {
	svc, _ := newApiKeyService(t)
	ctx := context.Background()

	k, err := svc.Create(ctx, CreateKeyInput{
		Scope:   domain.ScopeAdmin,
		AdminID: "admin-1",
		Scopes:  []string{"ops"},
	})
	require.NoError(t, err)
	assert.Contains(t, k.Token, "hb_")

	got, err := svc.Validate(ctx, k.Token)
	require.NoError(t, err)
	assert.Equal(t, k.ID, got.ID)
	assert.Equal(t, []string{"ops"}, got.Scopes)

	require.NoError(t, svc.Revoke(ctx, got))
	_, err = svc.Validate(ctx, k.Token)
	assert.ErrorIs(t, err, port.ErrNotFound, "吊销后的令牌应立即失效 (含缓存)")
}

func TestApiKeyService_ProjectKeyStoredInProjectDB(t *testing.T) {
	svc, stack := newApiKeyService(t)
	ctx := context.Background()

	k, err := svc.Create(ctx, CreateKeyInput{
		Scope:     domain.ScopeProject,
		ProjectID: "p1",
	})
	require.NoError(t, err)

	// 密钥行物理上落在项目库。
	row, err := stack.router.Executor(port.Project("p1")).QueryOne(ctx,
		`SELECT id FROM api_keys WHERE token = ?`, k.Token)
	require.NoError(t, err)
	assert.NotNil(t, row)

	got, err := svc.ValidateForProject(ctx, "p1", k.Token)
	require.NoError(t, err)
	assert.Equal(t, k.ID, got.ID)

	_, err = svc.ValidateForProject(ctx, "p2", k.Token)
	assert.ErrorIs(t, err, port.ErrNotFound, "别的项目不应接受该令牌")
}

func TestApiKeyService_ExpiredKeyRejected(t *testing.T) {
	svc, _ := newApiKeyService(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	k, err := svc.Create(ctx, CreateKeyInput{
		Scope:     domain.ScopeAdmin,
		AdminID:   "admin-1",
		ExpiresAt: &past,
	})
	require.NoError(t, err)

	_, err = svc.Validate(ctx, k.Token)
	assert.ErrorIs(t, err, port.ErrNotFound, "过期令牌应与无效令牌同样对待")
}

func TestApiKeyService_RateLimit(t *testing.T) {
	svc, _ := newApiKeyService(t)
	ctx := context.Background()

	unlimited, err := svc.Create(ctx, CreateKeyInput{Scope: domain.ScopeAdmin, AdminID: "a"})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		assert.True(t, svc.Allow(unlimited), "rate_limit=0 应永远放行")
	}

	limited, err := svc.Create(ctx, CreateKeyInput{
		Scope: domain.ScopeAdmin, AdminID: "a", RateLimit: 2,
	})
	require.NoError(t, err)

	allowed := 0
	for i := 0; i < 10; i++ {
		if svc.Allow(limited) {
			allowed++
		}
	}
	assert.LessOrEqual(t, allowed, 4, "突发额度之外的请求应被限流")
	assert.GreaterOrEqual(t, allowed, 1, "额度内的请求应放行")
}
