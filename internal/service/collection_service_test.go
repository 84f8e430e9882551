// file: internal/service/collection_service_test.go
package service

import (
	"context"
	"testing"

	"HiveBase/internal/core/domain"
	"HiveBase/internal/core/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCollectionService(t *testing.T) (*CollectionService, *testStack) {
	t.Helper()
	stack := newTestStack(t)
	return NewCollectionService(stack.router, stack.repair), stack
}

func postsInput() CreateCollectionInput {
	return CreateCollectionInput{
		Name: "Posts",
		Fields: []domain.Field{
			{Name: "title", Type: domain.FieldString, Required: true},
			{Name: "views", Type: domain.FieldNumber},
		},
	}
}

func TestCollectionService_CreateAndLookup(t *testing.T) {
	svc, _ := newCollectionService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "p1", postsInput())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	t.Run("按 ID", func(t *testing.T) {
		got, errGet := svc.GetByNameOrID(ctx, "p1", created.ID)
		require.NoError(t, errGet)
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("按精确名称", func(t *testing.T) {
		got, errGet := svc.GetByNameOrID(ctx, "p1", "Posts")
		require.NoError(t, errGet)
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("大小写不敏感回退", func(t *testing.T) {
		got, errGet := svc.GetByNameOrID(ctx, "p1", "posts")
		require.NoError(t, errGet)
		assert.Equal(t, created.ID, got.ID, "仅大小写不同的名称应命中同一集合")
		assert.Equal(t, "Posts", got.Name, "返回的名称应是登记时的原始大小写")
	})

	t.Run("URL 编码与空白", func(t *testing.T) {
		got, errGet := svc.GetByNameOrID(ctx, "p1", "Posts%20")
		require.NoError(t, errGet, "URL 解码后的尾部空白应被剥除")
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("未命中", func(t *testing.T) {
		_, errGet := svc.GetByNameOrID(ctx, "p1", "ghost")
		assert.ErrorIs(t, errGet, port.ErrNotFound)
	})
}

func TestCollectionService_DuplicateNameRejected(t *testing.T) {
	svc, _ := newCollectionService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "p1", postsInput())
	require.NoError(t, err)

	dup := postsInput()
	dup.Name = "posts" // 仅大小写不同
	_, err = svc.Create(ctx, "p1", dup)
	assert.ErrorIs(t, err, port.ErrConflict, "大小写不敏感的重名应被拒绝")

	// 另一个项目不受影响。
	_, err = svc.Create(ctx, "p2", postsInput())
	assert.NoError(t, err, "集合名唯一性以项目为边界")
}

func TestCollectionService_InvalidSchemaRejected(t *testing.T) {
	svc, _ := newCollectionService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "p1", CreateCollectionInput{Name: "2bad"})
	assert.ErrorIs(t, err, port.ErrValidation, "非法集合名应被拒绝")

	in := postsInput()
	in.Fields = append(in.Fields, domain.Field{Name: "Title", Type: domain.FieldString})
	_, err = svc.Create(ctx, "p1", in)
	assert.ErrorIs(t, err, port.ErrValidation, "重复字段名应被拒绝")
}

func TestCollectionService_DeleteGuardedByDocuments(t *testing.T) {
	svc, stack := newCollectionService(t)
	docs := NewDocumentService(stack.router, svc, stack.repair)
	ctx := context.Background()

	c, err := svc.Create(ctx, "p1", postsInput())
	require.NoError(t, err)
	doc, err := docs.Create(ctx, "p1", c.ID, map[string]any{"title": "hello"}, "tester")
	require.NoError(t, err)

	err = svc.Delete(ctx, "p1", c.ID)
	assert.ErrorIs(t, err, port.ErrConflict, "仍有文档的集合不应可删")

	require.NoError(t, docs.Delete(ctx, "p1", c.ID, doc.ID, "tester"))
	assert.NoError(t, svc.Delete(ctx, "p1", c.ID), "清空文档后删除应成功")

	_, err = svc.GetByNameOrID(ctx, "p1", "Posts")
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestCollectionService_UpdateRenameAndCache(t *testing.T) {
	svc, _ := newCollectionService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, "p1", postsInput())
	require.NoError(t, err)
	// 预热缓存。
	_, err = svc.GetByNameOrID(ctx, "p1", "Posts")
	require.NoError(t, err)

	newName := "Articles"
	updated, err := svc.Update(ctx, "p1", c.ID, UpdateCollectionInput{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "Articles", updated.Name)

	_, err = svc.GetByNameOrID(ctx, "p1", "Posts")
	assert.ErrorIs(t, err, port.ErrNotFound, "改名后旧名称不应再命中 (缓存必须失效)")

	got, err := svc.GetByNameOrID(ctx, "p1", "Articles")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}

func TestCollectionService_RejectedUpdateDoesNotPoisonCache(t *testing.T) {
	svc, _ := newCollectionService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "p1", postsInput())
	require.NoError(t, err)
	// 预热缓存，让后续 Update 按名解析时拿到缓存对象。
	_, err = svc.GetByNameOrID(ctx, "p1", "Posts")
	require.NoError(t, err)

	// 提交一个会被静态校验拒绝的字段集 (title/Title 大小写重名)。
	bad := append([]domain.Field{}, postsInput().Fields...)
	bad = append(bad, domain.Field{Name: "Title", Type: domain.FieldString})
	_, err = svc.Update(ctx, "p1", "Posts", UpdateCollectionInput{Fields: &bad})
	require.ErrorIs(t, err, port.ErrValidation)

	// 被拒绝的定义不得从缓存泄漏给后续读取方。
	got, err := svc.GetByNameOrID(ctx, "p1", "Posts")
	require.NoError(t, err)
	assert.Len(t, got.Fields, 2, "集合应保持更新前的字段集")
	for _, f := range got.Fields {
		assert.NotEqual(t, "Title", f.Name, "被拒绝的字段不应出现在后续读到的 Schema 中")
	}
}

func TestCollectionService_UniqueFlipWithDuplicatesRollsBack(t *testing.T) {
	svc, stack := newCollectionService(t)
	docs := NewDocumentService(stack.router, svc, stack.repair)
	ctx := context.Background()

	c, err := svc.Create(ctx, "p1", CreateCollectionInput{
		Name: "Posts",
		Fields: []domain.Field{
			{Name: "title", Type: domain.FieldString, Required: true},
			{Name: "slug", Type: domain.FieldString},
		},
	})
	require.NoError(t, err)
	_, err = docs.Create(ctx, "p1", c.ID, map[string]any{"title": "a", "slug": "same"}, "tester")
	require.NoError(t, err)
	_, err = docs.Create(ctx, "p1", c.ID, map[string]any{"title": "b", "slug": "same"}, "tester")
	require.NoError(t, err)

	// 存量已有重复 slug，此时把字段翻成 unique 必然建不出唯一索引。
	flipped := []domain.Field{
		{Name: "title", Type: domain.FieldString, Required: true},
		{Name: "slug", Type: domain.FieldString, Unique: true},
	}
	_, err = svc.Update(ctx, "p1", c.ID, UpdateCollectionInput{Fields: &flipped})
	require.Error(t, err, "对存量重复值建唯一索引应失败")

	// 行更新必须随索引失败一起回滚: 重读到的定义不声明唯一。
	got, err := svc.GetByNameOrID(ctx, "p1", c.ID)
	require.NoError(t, err)
	for _, f := range got.Fields {
		if f.Name == "slug" {
			assert.False(t, f.Unique, "索引创建失败后字段定义不应声明唯一")
		}
	}

	// 再写一条同 slug 的文档仍应成功，证明没有残留半套唯一约束。
	_, err = docs.Create(ctx, "p1", c.ID, map[string]any{"title": "c", "slug": "same"}, "tester")
	assert.NoError(t, err)
}

func TestCollectionService_DriftRepairRetry(t *testing.T) {
	svc, stack := newCollectionService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "p1", postsInput())
	require.NoError(t, err)

	// 模拟外部破坏: 直接删掉项目库的 collections 表。
	exec := stack.router.Executor(port.Project("p1"))
	_, err = exec.Execute(ctx, `DROP TABLE collections`)
	require.NoError(t, err)

	// List 先失败于漂移，触发修复后重试成功 (表被重建，内容为空)。
	list, err := svc.List(ctx, "p1")
	require.NoError(t, err, "漂移应被修复并重试，而不是上抛")
	assert.Empty(t, list)
}
