// file: internal/service/project_service_test.go
package service

import (
	"context"
	"os"
	"testing"

	"HiveBase/internal/core/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProjectService(t *testing.T) (*ProjectService, *testStack) {
	t.Helper()
	stack := newTestStack(t)
	return NewProjectService(stack.router, stack.locator, stack.repair), stack
}

func TestProjectService_CreateAndGet(t *testing.T) {
	svc, stack := newProjectService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateProjectInput{
		Name:     "  blog  ",
		Settings: map[string]any{"theme": "dark"},
	})
	require.NoError(t, err)
	assert.Equal(t, "blog", p.Name, "名称应去除首尾空白")
	assert.NotEmpty(t, p.APIKey, "创建即签发项目密钥")
	assert.True(t, p.Active)
	assert.True(t, stack.locator.Exists(p.ID), "创建时应物化项目库")

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, map[string]any{"theme": "dark"}, got.Settings, "设置应完整往返")

	_, err = svc.Create(ctx, CreateProjectInput{Name: "   "})
	assert.ErrorIs(t, err, port.ErrValidation, "空名称应被拒绝")
}

func TestProjectService_GetByAPIKey(t *testing.T) {
	svc, _ := newProjectService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateProjectInput{Name: "blog"})
	require.NoError(t, err)

	got, err := svc.GetByAPIKey(ctx, p.APIKey)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = svc.GetByAPIKey(ctx, "hb_bogus")
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestProjectService_Update(t *testing.T) {
	svc, _ := newProjectService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateProjectInput{Name: "blog"})
	require.NoError(t, err)

	inactive := false
	desc := "updated"
	updated, err := svc.Update(ctx, p.ID, UpdateProjectInput{
		Description: &desc,
		Active:      &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Description)
	assert.False(t, updated.Active)
	assert.Equal(t, "blog", updated.Name, "未提交的字段应保持原值")

	_, err = svc.Update(ctx, "no-such-id", UpdateProjectInput{Description: &desc})
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestProjectService_DeletePurgesDatabase(t *testing.T) {
	svc, stack := newProjectService(t)
	collections := NewCollectionService(stack.router, stack.repair)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateProjectInput{Name: "blog"})
	require.NoError(t, err)
	_, err = collections.Create(ctx, p.ID, postsInput())
	require.NoError(t, err)
	path := stack.locator.PathFor(p.ID)
	require.FileExists(t, path)

	require.NoError(t, svc.Delete(ctx, p.ID))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "删除后物理库文件不应存在")
	_, err = svc.Get(ctx, p.ID)
	assert.ErrorIs(t, err, port.ErrNotFound, "删除后项目行不应存在")

	assert.ErrorIs(t, svc.Delete(ctx, p.ID), port.ErrNotFound, "重复删除应报未找到")
}

func TestProjectService_List(t *testing.T) {
	svc, _ := newProjectService(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := svc.Create(ctx, CreateProjectInput{Name: name})
		require.NoError(t, err)
	}

	projects, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 3)
}
