// file: internal/service/activity_service.go
package service

import (
	"context"
	"fmt"
	"log"

	"HiveBase/internal/core/domain"
	"HiveBase/internal/core/port"
)

// ActivityService 读取项目库的 changelog。写入由 DocumentService 在
// 文档事务内完成，这里只提供查询视图。
type ActivityService struct {
	router   port.Router
	repairer ProjectRepairer
}

// NewActivityService 创建活动日志服务。
func NewActivityService(router port.Router, repairer ProjectRepairer) *ActivityService {
	if router == nil {
		log.Fatal("错误: [ActivityService] 初始化失败，router 不能为空。")
	}
	return &ActivityService{router: router, repairer: repairer}
}

// Recent 返回项目最近的变更记录，按时间倒序。limit<=0 时取 50。
func (s *ActivityService) Recent(ctx context.Context, projectID string, limit int) ([]*domain.ChangeEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	exec := s.router.Executor(port.Project(projectID))
	var rows []map[string]any
	err := withProjectDriftRetry(ctx, s.repairer, projectID, func() error {
		var errQ error
		rows, errQ = exec.Query(ctx,
			`SELECT * FROM changelog ORDER BY created_at DESC LIMIT ?`, limit)
		return errQ
	})
	if err != nil {
		return nil, fmt.Errorf("读取变更记录失败: %w", err)
	}
	return scanChanges(rows), nil
}

// ForDocument 返回单个文档的全部变更记录，按时间正序。
func (s *ActivityService) ForDocument(ctx context.Context, projectID, documentID string) ([]*domain.ChangeEntry, error) {
	rows, err := s.router.Executor(port.Project(projectID)).Query(ctx,
		`SELECT * FROM changelog WHERE document_id = ? ORDER BY created_at`, documentID)
	if err != nil {
		return nil, fmt.Errorf("读取文档变更记录失败: %w", err)
	}
	return scanChanges(rows), nil
}

func scanChanges(rows []map[string]any) []*domain.ChangeEntry {
	entries := make([]*domain.ChangeEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, &domain.ChangeEntry{
			ID:           asString(row["id"]),
			CollectionID: asString(row["collection_id"]),
			DocumentID:   asString(row["document_id"]),
			Action:       asString(row["action"]),
			Actor:        asString(row["actor"]),
			CreatedAt:    asTime(row["created_at"]),
		})
	}
	return entries
}
