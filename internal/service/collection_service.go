// file: internal/service/collection_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"HiveBase/internal/core/domain"
	"HiveBase/internal/core/port"
	"HiveBase/internal/schema"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	collectionCacheSize = 512
	collectionCacheTTL  = 2 * time.Minute
)

// CollectionService 管理项目库内的集合 Schema 行。
// 集合名在项目内大小写不敏感唯一，按名查找走两级解析：
// 合法 UUID 先按 ID 查；否则 URL 解码、去空白后先精确匹配，
// 再退化为大小写不敏感扫描。
type CollectionService struct {
	router   port.Router
	repairer ProjectRepairer

	// cache 按 "项目ID\x00小写名" 缓存解析结果，写路径主动失效。
	cache *lru.LRU[string, *domain.Collection]
}

// NewCollectionService 创建集合服务。
func NewCollectionService(router port.Router, repairer ProjectRepairer) *CollectionService {
	if router == nil {
		log.Fatal("错误: [CollectionService] 初始化失败，router 不能为空。")
	}
	return &CollectionService{
		router:   router,
		repairer: repairer,
		cache:    lru.NewLRU[string, *domain.Collection](collectionCacheSize, nil, collectionCacheTTL),
	}
}

// CreateCollectionInput 是创建集合的入参。
type CreateCollectionInput struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Fields      []domain.Field `json:"fields"`
	Indexes     []domain.Index `json:"indexes"`
	CreatedBy   string         `json:"created_by"`
}

// Create 在项目库登记一个新集合。名称必须是合法标识符，且在项目内
// 大小写不敏感唯一；字段与索引定义先过静态校验。
func (s *CollectionService) Create(ctx context.Context, projectID string, in CreateCollectionInput) (*domain.Collection, error) {
	name := strings.TrimSpace(in.Name)
	if !schema.ValidIdentifier(name) {
		return nil, fmt.Errorf("%w: 集合名 '%s' 不符合标识符模式", port.ErrValidation, name)
	}
	if err := schema.ValidateSchema(in.Fields, in.Indexes); err != nil {
		return nil, err
	}

	exec := s.router.Executor(port.Project(projectID))

	// 大小写不敏感查重。
	var dup map[string]any
	err := withProjectDriftRetry(ctx, s.repairer, projectID, func() error {
		var errQ error
		dup, errQ = exec.QueryOne(ctx,
			`SELECT id FROM collections WHERE LOWER(name) = LOWER(?)`, name)
		return errQ
	})
	if err != nil {
		return nil, fmt.Errorf("集合查重失败: %w", err)
	}
	if dup != nil {
		return nil, fmt.Errorf("%w: 集合名 '%s' 已存在 (名称大小写不敏感唯一)", port.ErrConflict, name)
	}

	c := &domain.Collection{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Fields:      in.Fields,
		Indexes:     in.Indexes,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if c.Fields == nil {
		c.Fields = []domain.Field{}
	}

	fieldsJSON, err := json.Marshal(c.Fields)
	if err != nil {
		return nil, fmt.Errorf("序列化字段定义失败: %w", err)
	}
	indexesJSON, err := json.Marshal(c.Indexes)
	if err != nil {
		return nil, fmt.Errorf("序列化索引定义失败: %w", err)
	}

	// 定义行与字段索引落在同一事务里: 索引建不起来时集合行一并回滚，
	// 不会留下声称唯一却无索引兜底的 Schema。
	err = exec.Transaction(ctx, func(tx port.Executor) error {
		if _, errX := tx.Execute(ctx, `
            INSERT INTO collections (id, name, description, fields, indexes, created_by, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Description, string(fieldsJSON), string(indexesJSON), c.CreatedBy,
			c.CreatedAt.Format(time.RFC3339), c.UpdatedAt.Format(time.RFC3339)); errX != nil {
			return fmt.Errorf("写入集合行失败: %w", errX)
		}
		return s.syncFieldIndexes(ctx, tx, c, nil)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("信息: [CollectionService] 项目 '%s' 集合 '%s' 创建成功。", projectID, c.Name)
	return c, nil
}

// GetByNameOrID 按两级规则解析集合引用。
// 查不到时返回 port.ErrNotFound。
func (s *CollectionService) GetByNameOrID(ctx context.Context, projectID, ref string) (*domain.Collection, error) {
	exec := s.router.Executor(port.Project(projectID))

	// 第一级: 合法 UUID 按 ID 直查。未命中时继续走名称路径，
	// 名称恰好形如 UUID 的集合仍可解析。
	if _, err := uuid.Parse(ref); err == nil {
		row, errQ := exec.QueryOne(ctx, `SELECT * FROM collections WHERE id = ?`, ref)
		if errQ != nil {
			return nil, fmt.Errorf("按 ID 查询集合失败: %w", errQ)
		}
		if row != nil {
			return scanCollection(projectID, row)
		}
	}

	// 第二级: 名称路径。先还原 URL 编码再去空白。
	name := ref
	if decoded, err := url.QueryUnescape(ref); err == nil {
		name = decoded
	}
	name = strings.TrimSpace(name)

	cacheKey := projectID + "\x00" + strings.ToLower(name)
	if c, ok := s.cache.Get(cacheKey); ok {
		return c, nil
	}

	var row map[string]any
	err := withProjectDriftRetry(ctx, s.repairer, projectID, func() error {
		var errQ error
		row, errQ = exec.QueryOne(ctx, `SELECT * FROM collections WHERE name = ?`, name)
		return errQ
	})
	if err != nil {
		return nil, fmt.Errorf("按名称查询集合失败: %w", err)
	}

	// 精确匹配未命中时退化为大小写不敏感扫描，命中则记日志提醒
	// 调用方的名称大小写与登记值不一致。
	if row == nil {
		row, err = exec.QueryOne(ctx,
			`SELECT * FROM collections WHERE LOWER(name) = LOWER(?)`, name)
		if err != nil {
			return nil, fmt.Errorf("集合名大小写回退查询失败: %w", err)
		}
		if row != nil {
			log.Printf("警告: [CollectionService] 集合名 '%s' 仅在忽略大小写后命中 '%s'。",
				name, asString(row["name"]))
		}
	}
	if row == nil {
		return nil, fmt.Errorf("%w: 集合 '%s'", port.ErrNotFound, ref)
	}

	c, err := scanCollection(projectID, row)
	if err != nil {
		return nil, err
	}
	s.cache.Add(cacheKey, c)
	return c, nil
}

// List 返回项目的全部集合，按名称排序。
func (s *CollectionService) List(ctx context.Context, projectID string) ([]*domain.Collection, error) {
	exec := s.router.Executor(port.Project(projectID))
	var rows []map[string]any
	err := withProjectDriftRetry(ctx, s.repairer, projectID, func() error {
		var errQ error
		rows, errQ = exec.Query(ctx, `SELECT * FROM collections ORDER BY name`)
		return errQ
	})
	if err != nil {
		return nil, fmt.Errorf("列举集合失败: %w", err)
	}

	collections := make([]*domain.Collection, 0, len(rows))
	for _, row := range rows {
		c, errScan := scanCollection(projectID, row)
		if errScan != nil {
			return nil, errScan
		}
		collections = append(collections, c)
	}
	return collections, nil
}

// UpdateCollectionInput 是更新集合的入参，nil 字段保持原值。
// Fields/Indexes 提交时整体替换，不做按字段合并。
type UpdateCollectionInput struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Fields      *[]domain.Field `json:"fields,omitempty"`
	Indexes     *[]domain.Index `json:"indexes,omitempty"`
}

// Update 更新集合定义。Schema 变更只影响之后的写入，存量文档不回溯校验。
func (s *CollectionService) Update(ctx context.Context, projectID, ref string, in UpdateCollectionInput) (*domain.Collection, error) {
	c, err := s.GetByNameOrID(ctx, projectID, ref)
	if err != nil {
		return nil, err
	}
	// GetByNameOrID 可能返回缓存里的共享对象。先深拷贝再改，
	// 后面任何一步失败时缓存条目仍是已持久化的定义。
	c = cloneCollection(c)
	oldName := c.Name
	oldFields := c.Fields

	exec := s.router.Executor(port.Project(projectID))

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if !schema.ValidIdentifier(name) {
			return nil, fmt.Errorf("%w: 集合名 '%s' 不符合标识符模式", port.ErrValidation, name)
		}
		if !strings.EqualFold(name, oldName) {
			dup, errQ := exec.QueryOne(ctx,
				`SELECT id FROM collections WHERE LOWER(name) = LOWER(?) AND id != ?`, name, c.ID)
			if errQ != nil {
				return nil, fmt.Errorf("集合查重失败: %w", errQ)
			}
			if dup != nil {
				return nil, fmt.Errorf("%w: 集合名 '%s' 已存在", port.ErrConflict, name)
			}
		}
		c.Name = name
	}
	if in.Description != nil {
		c.Description = strings.TrimSpace(*in.Description)
	}
	if in.Fields != nil {
		c.Fields = *in.Fields
	}
	if in.Indexes != nil {
		c.Indexes = *in.Indexes
	}
	if err := schema.ValidateSchema(c.Fields, c.Indexes); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now().UTC()

	fieldsJSON, err := json.Marshal(c.Fields)
	if err != nil {
		return nil, fmt.Errorf("序列化字段定义失败: %w", err)
	}
	indexesJSON, err := json.Marshal(c.Indexes)
	if err != nil {
		return nil, fmt.Errorf("序列化索引定义失败: %w", err)
	}

	// 同 Create: 行更新与索引同步同事务。典型失败是给存量有重复值的
	// 字段打开 unique，此时 CREATE UNIQUE INDEX 报错，行更新随之回滚。
	err = exec.Transaction(ctx, func(tx port.Executor) error {
		if _, errX := tx.Execute(ctx, `
            UPDATE collections SET name = ?, description = ?, fields = ?, indexes = ?, updated_at = ?
            WHERE id = ?`,
			c.Name, c.Description, string(fieldsJSON), string(indexesJSON),
			c.UpdatedAt.Format(time.RFC3339), c.ID); errX != nil {
			return fmt.Errorf("更新集合失败: %w", errX)
		}
		return s.syncFieldIndexes(ctx, tx, c, oldFields)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Remove(projectID + "\x00" + strings.ToLower(oldName))
	s.cache.Remove(projectID + "\x00" + strings.ToLower(c.Name))
	return c, nil
}

// Delete 删除集合定义。仍有文档归属该集合时拒绝，调用方必须先清空文档。
func (s *CollectionService) Delete(ctx context.Context, projectID, ref string) error {
	c, err := s.GetByNameOrID(ctx, projectID, ref)
	if err != nil {
		return err
	}

	exec := s.router.Executor(port.Project(projectID))
	row, err := exec.QueryOne(ctx,
		`SELECT COUNT(*) AS n FROM documents WHERE collection_id = ?`, c.ID)
	if err != nil {
		return fmt.Errorf("统计集合文档失败: %w", err)
	}
	if n := asInt64(row["n"]); n > 0 {
		return fmt.Errorf("%w: 集合 '%s' 仍有 %d 条文档，须先清空", port.ErrConflict, c.Name, n)
	}

	// 摘索引与删定义行同事务，不留半删状态。
	err = exec.Transaction(ctx, func(tx port.Executor) error {
		for _, f := range c.Fields {
			if f.Unique || f.Indexed {
				if _, errX := tx.Execute(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %q`, fieldIndexName(c.ID, f))); errX != nil {
					return fmt.Errorf("删除字段索引失败: %w", errX)
				}
			}
		}
		if _, errX := tx.Execute(ctx, `DELETE FROM collections WHERE id = ?`, c.ID); errX != nil {
			return fmt.Errorf("删除集合行失败: %w", errX)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cache.Remove(projectID + "\x00" + strings.ToLower(c.Name))
	log.Printf("信息: [CollectionService] 项目 '%s' 集合 '%s' 已删除。", projectID, c.Name)
	return nil
}

// syncFieldIndexes 把字段级的 unique/indexed 声明落成 documents 表上的
// 部分索引 (按 collection_id 过滤的 json_extract 表达式索引)。
// oldFields 非空时先摘掉不再声明的旧索引。字段名过了标识符校验，
// 集合 ID 是 UUID，直接内插进 DDL 是安全的。
func (s *CollectionService) syncFieldIndexes(ctx context.Context, exec port.Executor, c *domain.Collection, oldFields []domain.Field) error {
	current := make(map[string]domain.Field, len(c.Fields))
	for _, f := range c.Fields {
		current[f.Name] = f
	}
	for _, old := range oldFields {
		if !old.Unique && !old.Indexed {
			continue
		}
		now, kept := current[old.Name]
		if kept && now.Unique == old.Unique && now.Indexed == old.Indexed {
			continue
		}
		if _, err := exec.Execute(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %q`, fieldIndexName(c.ID, old))); err != nil {
			return fmt.Errorf("摘除旧字段索引 '%s' 失败: %w", old.Name, err)
		}
	}

	for _, f := range c.Fields {
		if !f.Unique && !f.Indexed {
			continue
		}
		unique := ""
		if f.Unique {
			unique = "UNIQUE "
		}
		ddl := fmt.Sprintf(
			`CREATE %sINDEX IF NOT EXISTS %q ON documents (json_extract(data, '$.%s'))
             WHERE collection_id = '%s' AND json_extract(data, '$.%s') IS NOT NULL`,
			unique, fieldIndexName(c.ID, f), f.Name, c.ID, f.Name)
		if _, err := exec.Execute(ctx, ddl); err != nil {
			return fmt.Errorf("创建字段索引 '%s' 失败: %w", f.Name, err)
		}
	}
	return nil
}

// fieldIndexName 生成字段索引的确定性名称，unique 与普通索引前缀区分。
func fieldIndexName(collectionID string, f domain.Field) string {
	prefix := "ix_doc"
	if f.Unique {
		prefix = "ux_doc"
	}
	return fmt.Sprintf("%s_%s_%s", prefix, collectionID, f.Name)
}

// cloneCollection 做一层深拷贝，切片重新分配。元素内的指针照搬即可:
// Fields/Indexes 只做整体替换，从不原地修改元素。
func cloneCollection(c *domain.Collection) *domain.Collection {
	out := *c
	out.Fields = append([]domain.Field(nil), c.Fields...)
	out.Indexes = append([]domain.Index(nil), c.Indexes...)
	return &out
}

// scanCollection 把一行 map 还原为领域对象，字段与索引列是 JSON 文本。
func scanCollection(projectID string, row map[string]any) (*domain.Collection, error) {
	c := &domain.Collection{
		ID:          asString(row["id"]),
		ProjectID:   projectID,
		Name:        asString(row["name"]),
		Description: asString(row["description"]),
		CreatedBy:   asString(row["created_by"]),
		CreatedAt:   asTime(row["created_at"]),
		UpdatedAt:   asTime(row["updated_at"]),
	}

	if raw := asString(row["fields"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Fields); err != nil {
			return nil, fmt.Errorf("集合 '%s' 的字段 JSON 损坏: %w", c.Name, err)
		}
	}
	if c.Fields == nil {
		c.Fields = []domain.Field{}
	}
	if raw := asString(row["indexes"]); raw != "" && raw != "[]" {
		if err := json.Unmarshal([]byte(raw), &c.Indexes); err != nil {
			return nil, fmt.Errorf("集合 '%s' 的索引 JSON 损坏: %w", c.Name, err)
		}
	}
	return c, nil
}
