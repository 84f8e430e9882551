// file: internal/service/document_service_test.go
package service

import (
	"context"
	"testing"

	"HiveBase/internal/core/domain"
	"HiveBase/internal/core/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDocumentService(t *testing.T) (*DocumentService, *CollectionService, *testStack) {
	t.Helper()
	stack := newTestStack(t)
	collections := NewCollectionService(stack.router, stack.repair)
	return NewDocumentService(stack.router, collections, stack.repair), collections, stack
}

func TestDocumentService_CreateWithChangelog(t *testing.T) {
	docs, collections, stack := newDocumentService(t)
	ctx := context.Background()

	_, err := collections.Create(ctx, "p1", postsInput())
	require.NoError(t, err)

	doc, err := docs.Create(ctx, "p1", "Posts", map[string]any{"title": "hello", "views": 3}, "tester")
	require.NoError(t, err)
	require.NotEmpty(t, doc.ID)

	activity := NewActivityService(stack.router, stack.repair)
	entries, err := activity.ForDocument(ctx, "p1", doc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1, "成功的创建应留下一条变更记录")
	assert.Equal(t, "create", entries[0].Action)
	assert.Equal(t, "tester", entries[0].Actor)
}

func TestDocumentService_ValidationRejected(t *testing.T) {
	docs, collections, stack := newDocumentService(t)
	ctx := context.Background()

	_, err := collections.Create(ctx, "p1", postsInput())
	require.NoError(t, err)

	_, err = docs.Create(ctx, "p1", "Posts", map[string]any{"views": 1}, "tester")
	assert.ErrorIs(t, err, port.ErrValidation, "缺必填字段应被拒绝")

	_, err = docs.Create(ctx, "p1", "Posts", map[string]any{"title": 42}, "tester")
	assert.ErrorIs(t, err, port.ErrValidation, "类型不符应被拒绝")

	// 校验失败的写入不留下任何痕迹。
	exec := stack.router.Executor(port.Project("p1"))
	row, err := exec.QueryOne(ctx, `SELECT COUNT(*) AS n FROM changelog`)
	require.NoError(t, err)
	assert.EqualValues(t, 0, asInt64(row["n"]), "失败的写入不应产生变更记录")
}

func TestDocumentService_DefaultsApplied(t *testing.T) {
	docs, collections, _ := newDocumentService(t)
	ctx := context.Background()

	in := postsInput()
	in.Fields = append(in.Fields, domain.Field{
		Name: "status", Type: domain.FieldString, Default: "draft",
	})
	_, err := collections.Create(ctx, "p1", in)
	require.NoError(t, err)

	doc, err := docs.Create(ctx, "p1", "Posts", map[string]any{"title": "x"}, "tester")
	require.NoError(t, err)
	assert.Equal(t, "draft", doc.Data["status"], "缺省字段应补默认值")

	doc2, err := docs.Create(ctx, "p1", "Posts", map[string]any{"title": "y", "status": "live"}, "tester")
	require.NoError(t, err)
	assert.Equal(t, "live", doc2.Data["status"], "显式提交的值不应被默认值覆盖")
}

func TestDocumentService_UniqueFieldConflict(t *testing.T) {
	docs, collections, _ := newDocumentService(t)
	ctx := context.Background()

	in := postsInput()
	in.Fields = append(in.Fields, domain.Field{
		Name: "slug", Type: domain.FieldString, Unique: true,
	})
	_, err := collections.Create(ctx, "p1", in)
	require.NoError(t, err)

	_, err = docs.Create(ctx, "p1", "Posts", map[string]any{"title": "a", "slug": "hello"}, "tester")
	require.NoError(t, err)

	_, err = docs.Create(ctx, "p1", "Posts", map[string]any{"title": "b", "slug": "hello"}, "tester")
	assert.ErrorIs(t, err, port.ErrConflict, "unique 字段取值重复应被拒绝")

	_, err = docs.Create(ctx, "p1", "Posts", map[string]any{"title": "c"}, "tester")
	assert.NoError(t, err, "未提交 unique 字段的文档不受唯一约束影响")
}

func TestDocumentService_CreateBatchPartialFailure(t *testing.T) {
	docs, collections, _ := newDocumentService(t)
	ctx := context.Background()

	_, err := collections.Create(ctx, "p1", postsInput())
	require.NoError(t, err)

	created, failed := docs.CreateBatch(ctx, "p1", "Posts", []map[string]any{
		{"title": "ok-1"},
		{"views": 2}, // 缺必填
		{"title": "ok-2"},
	}, "tester")

	assert.Len(t, created, 2, "合法条目应全部写入")
	require.Len(t, failed, 1, "只应有一条失败")
	assert.Equal(t, 1, failed[0].Index, "失败下标应指向原始批次位置")
	assert.Contains(t, failed[0].Error, "title")
}

func TestDocumentService_UpdateAndDelete(t *testing.T) {
	docs, collections, _ := newDocumentService(t)
	ctx := context.Background()

	_, err := collections.Create(ctx, "p1", postsInput())
	require.NoError(t, err)
	doc, err := docs.Create(ctx, "p1", "Posts", map[string]any{"title": "v1"}, "tester")
	require.NoError(t, err)

	updated, err := docs.Update(ctx, "p1", "Posts", doc.ID, map[string]any{"title": "v2"}, "tester")
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Data["title"])

	got, err := docs.Get(ctx, "p1", "Posts", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Data["title"])

	require.NoError(t, docs.Delete(ctx, "p1", "Posts", doc.ID, "tester"))
	_, err = docs.Get(ctx, "p1", "Posts", doc.ID)
	assert.ErrorIs(t, err, port.ErrNotFound)

	err = docs.Delete(ctx, "p1", "Posts", doc.ID, "tester")
	assert.ErrorIs(t, err, port.ErrNotFound, "重复删除应报未找到")
}

func TestDocumentService_ListPagination(t *testing.T) {
	docs, collections, _ := newDocumentService(t)
	ctx := context.Background()

	_, err := collections.Create(ctx, "p1", postsInput())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := docs.Create(ctx, "p1", "Posts", map[string]any{"title": "t", "views": i}, "tester")
		require.NoError(t, err)
	}

	page, err := docs.List(ctx, "p1", "Posts", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := docs.List(ctx, "p1", "Posts", 10, 4)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
