// file: internal/service/stats_service.go
package service

import (
	"context"
	"fmt"
	"log"
	"os"

	"HiveBase/internal/core/domain"
	"HiveBase/internal/core/port"

	"golang.org/x/sync/errgroup"
)

// StatsService 统计项目用量。三类计数并发取自项目库，存储字节数
// 直接看库文件大小；快照顺手回写主库的冗余列 (惰性刷新，失败不上抛)。
type StatsService struct {
	router  port.Router
	locator port.Locator
}

// NewStatsService 创建统计服务。
func NewStatsService(router port.Router, locator port.Locator) *StatsService {
	if router == nil || locator == nil {
		log.Fatal("错误: [StatsService] 初始化失败，router/locator 不能为空。")
	}
	return &StatsService{router: router, locator: locator}
}

// StatsFor 返回单个项目的用量快照。从未物化的项目返回全零快照，
// 不触发建库。
func (s *StatsService) StatsFor(ctx context.Context, projectID string) (*domain.ProjectStats, error) {
	stats := &domain.ProjectStats{ProjectID: projectID}
	if !s.locator.Exists(projectID) {
		return stats, nil
	}

	exec := s.router.Executor(port.Project(projectID))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := countRows(gctx, exec, "collections")
		stats.Collections = n
		return err
	})
	g.Go(func() error {
		n, err := countRows(gctx, exec, "documents")
		stats.Documents = n
		return err
	})
	g.Go(func() error {
		n, err := countRows(gctx, exec, "changelog")
		stats.ChangeEntries = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("统计项目 '%s' 用量失败: %w", projectID, err)
	}

	if info, err := os.Stat(s.locator.PathFor(projectID)); err == nil {
		stats.StorageBytes = info.Size()
	}

	s.refreshProjectRow(ctx, stats)
	return stats, nil
}

// StatsForAll 并发统计一批项目，整体失败于第一个出错的项目。
func (s *StatsService) StatsForAll(ctx context.Context, projectIDs []string) ([]*domain.ProjectStats, error) {
	results := make([]*domain.ProjectStats, len(projectIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for i, id := range projectIDs {
		g.Go(func() error {
			stats, err := s.StatsFor(gctx, id)
			if err != nil {
				return err
			}
			results[i] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// refreshProjectRow 把快照回写主库的冗余列。只是缓存性质的数据，
// 写失败不影响统计结果本身。
func (s *StatsService) refreshProjectRow(ctx context.Context, stats *domain.ProjectStats) {
	_, err := s.router.Executor(port.Main()).Execute(ctx,
		`UPDATE projects SET storage_used = ?, document_count = ? WHERE id = ?`,
		stats.StorageBytes, stats.Documents, stats.ProjectID)
	if err != nil {
		log.Printf("警告: [StatsService] 回写项目 '%s' 用量列失败: %v", stats.ProjectID, err)
	}
}

func countRows(ctx context.Context, exec port.TargetExecutor, table string) (int64, error) {
	row, err := exec.QueryOne(ctx, fmt.Sprintf(`SELECT COUNT(*) AS n FROM %q`, table))
	if err != nil {
		return 0, err
	}
	return asInt64(row["n"]), nil
}
