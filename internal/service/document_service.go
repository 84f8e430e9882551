// file: internal/service/document_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"HiveBase/internal/core/domain"
	"HiveBase/internal/core/port"
	"HiveBase/internal/schema"

	"github.com/google/uuid"
)

// DocumentService 管理集合内的文档。每次成功的变更都会在同一事务里
// 追加一条 changelog 记录，文档与变更日志要么都落库要么都不落。
type DocumentService struct {
	router      port.Router
	collections *CollectionService
	repairer    ProjectRepairer
}

// NewDocumentService 创建文档服务。
func NewDocumentService(router port.Router, collections *CollectionService, repairer ProjectRepairer) *DocumentService {
	if router == nil || collections == nil {
		log.Fatal("错误: [DocumentService] 初始化失败，router/collections 不能为空。")
	}
	return &DocumentService{router: router, collections: collections, repairer: repairer}
}

// Create 在集合内写入一条文档。负载先补默认值、再按集合当前的
// 字段定义校验；唯一字段冲突映射为 port.ErrConflict。
func (s *DocumentService) Create(ctx context.Context, projectID, collectionRef string, data map[string]any, actor string) (*domain.Document, error) {
	c, err := s.collections.GetByNameOrID(ctx, projectID, collectionRef)
	if err != nil {
		return nil, err
	}
	return s.createOne(ctx, projectID, c, data, actor)
}

// BatchError 标记批量写入中单条失败的位置与原因。
type BatchError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// CreateBatch 批量写入文档。逐条独立处理：单条失败不中断其余条目，
// 失败位置与原因逐一返回。集合解析只做一次。
func (s *DocumentService) CreateBatch(ctx context.Context, projectID, collectionRef string, batch []map[string]any, actor string) ([]*domain.Document, []BatchError) {
	c, err := s.collections.GetByNameOrID(ctx, projectID, collectionRef)
	if err != nil {
		errs := make([]BatchError, len(batch))
		for i := range batch {
			errs[i] = BatchError{Index: i, Error: err.Error()}
		}
		return nil, errs
	}

	var created []*domain.Document
	var failed []BatchError
	for i, data := range batch {
		doc, errOne := s.createOne(ctx, projectID, c, data, actor)
		if errOne != nil {
			failed = append(failed, BatchError{Index: i, Error: errOne.Error()})
			continue
		}
		created = append(created, doc)
	}
	return created, failed
}

func (s *DocumentService) createOne(ctx context.Context, projectID string, c *domain.Collection, data map[string]any, actor string) (*domain.Document, error) {
	if data == nil {
		data = map[string]any{}
	}
	applyDefaults(data, c.Fields)
	if err := schema.ValidateDocument(data, c.Fields); err != nil {
		return nil, err
	}

	doc := &domain.Document{
		ID:           uuid.NewString(),
		CollectionID: c.ID,
		Data:         data,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("序列化文档负载失败: %w", err)
	}

	exec := s.router.Executor(port.Project(projectID))
	err = withProjectDriftRetry(ctx, s.repairer, projectID, func() error {
		return exec.Transaction(ctx, func(tx port.Executor) error {
			if _, errExec := tx.Execute(ctx, `
                INSERT INTO documents (id, collection_id, data, created_at, updated_at)
                VALUES (?, ?, ?, ?, ?)`,
				doc.ID, doc.CollectionID, string(payload),
				doc.CreatedAt.Format(time.RFC3339), doc.UpdatedAt.Format(time.RFC3339)); errExec != nil {
				return errExec
			}
			return appendChange(ctx, tx, c.ID, doc.ID, "create", actor)
		})
	})
	if err != nil {
		return nil, mapUniqueViolation(err, "写入文档失败")
	}
	return doc, nil
}

// Get 按 ID 取文档；不存在或不属于该集合时返回 port.ErrNotFound。
func (s *DocumentService) Get(ctx context.Context, projectID, collectionRef, docID string) (*domain.Document, error) {
	c, err := s.collections.GetByNameOrID(ctx, projectID, collectionRef)
	if err != nil {
		return nil, err
	}

	exec := s.router.Executor(port.Project(projectID))
	row, err := exec.QueryOne(ctx,
		`SELECT * FROM documents WHERE id = ? AND collection_id = ?`, docID, c.ID)
	if err != nil {
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: 文档 '%s'", port.ErrNotFound, docID)
	}
	return scanDocument(row)
}

// List 分页返回集合内的文档，按创建时间倒序。limit<=0 时取 100。
func (s *DocumentService) List(ctx context.Context, projectID, collectionRef string, limit, offset int) ([]*domain.Document, error) {
	c, err := s.collections.GetByNameOrID(ctx, projectID, collectionRef)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	exec := s.router.Executor(port.Project(projectID))
	var rows []map[string]any
	err = withProjectDriftRetry(ctx, s.repairer, projectID, func() error {
		var errQ error
		rows, errQ = exec.Query(ctx, `
            SELECT * FROM documents WHERE collection_id = ?
            ORDER BY created_at DESC LIMIT ? OFFSET ?`, c.ID, limit, offset)
		return errQ
	})
	if err != nil {
		return nil, fmt.Errorf("列举文档失败: %w", err)
	}

	docs := make([]*domain.Document, 0, len(rows))
	for _, row := range rows {
		doc, errScan := scanDocument(row)
		if errScan != nil {
			return nil, errScan
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Update 整体替换文档负载，替换后的负载按集合当前定义重新校验。
func (s *DocumentService) Update(ctx context.Context, projectID, collectionRef, docID string, data map[string]any, actor string) (*domain.Document, error) {
	c, err := s.collections.GetByNameOrID(ctx, projectID, collectionRef)
	if err != nil {
		return nil, err
	}
	doc, err := s.Get(ctx, projectID, collectionRef, docID)
	if err != nil {
		return nil, err
	}

	if data == nil {
		data = map[string]any{}
	}
	applyDefaults(data, c.Fields)
	if err := schema.ValidateDocument(data, c.Fields); err != nil {
		return nil, err
	}

	doc.Data = data
	doc.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("序列化文档负载失败: %w", err)
	}

	exec := s.router.Executor(port.Project(projectID))
	err = exec.Transaction(ctx, func(tx port.Executor) error {
		res, errExec := tx.Execute(ctx,
			`UPDATE documents SET data = ?, updated_at = ? WHERE id = ? AND collection_id = ?`,
			string(payload), doc.UpdatedAt.Format(time.RFC3339), doc.ID, c.ID)
		if errExec != nil {
			return errExec
		}
		if res.Changed == 0 {
			return fmt.Errorf("%w: 文档 '%s'", port.ErrNotFound, docID)
		}
		return appendChange(ctx, tx, c.ID, doc.ID, "update", actor)
	})
	if err != nil {
		return nil, mapUniqueViolation(err, "更新文档失败")
	}
	return doc, nil
}

// Delete 删除文档并记录变更。
func (s *DocumentService) Delete(ctx context.Context, projectID, collectionRef, docID string, actor string) error {
	c, err := s.collections.GetByNameOrID(ctx, projectID, collectionRef)
	if err != nil {
		return err
	}

	exec := s.router.Executor(port.Project(projectID))
	return exec.Transaction(ctx, func(tx port.Executor) error {
		res, errExec := tx.Execute(ctx,
			`DELETE FROM documents WHERE id = ? AND collection_id = ?`, docID, c.ID)
		if errExec != nil {
			return fmt.Errorf("删除文档失败: %w", errExec)
		}
		if res.Changed == 0 {
			return fmt.Errorf("%w: 文档 '%s'", port.ErrNotFound, docID)
		}
		return appendChange(ctx, tx, c.ID, docID, "delete", actor)
	})
}

// appendChange 在当前事务内追加一条 changelog 记录。
func appendChange(ctx context.Context, tx port.Executor, collectionID, documentID, action, actor string) error {
	_, err := tx.Execute(ctx, `
        INSERT INTO changelog (id, collection_id, document_id, action, actor, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), collectionID, documentID, action, actor,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("写入变更记录失败: %w", err)
	}
	return nil
}

// applyDefaults 为缺失且声明了默认值的字段补默认值，已显式提交的
// 键 (含显式 null) 不覆盖。
func applyDefaults(data map[string]any, fields []domain.Field) {
	for _, f := range fields {
		if f.Default == nil {
			continue
		}
		if _, present := data[f.Name]; !present {
			data[f.Name] = f.Default
		}
	}
}

// mapUniqueViolation 把 SQLite 唯一约束错误归一化为 port.ErrConflict，
// 其余错误原样包一层语境。
func mapUniqueViolation(err error, msg string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: 唯一字段取值重复", port.ErrConflict)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// scanDocument 把一行 map 还原为领域对象。
func scanDocument(row map[string]any) (*domain.Document, error) {
	doc := &domain.Document{
		ID:           asString(row["id"]),
		CollectionID: asString(row["collection_id"]),
		CreatedAt:    asTime(row["created_at"]),
		UpdatedAt:    asTime(row["updated_at"]),
	}
	doc.Data = map[string]any{}
	if raw := asString(row["data"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
			return nil, fmt.Errorf("文档 '%s' 的负载 JSON 损坏: %w", doc.ID, err)
		}
	}
	return doc, nil
}
