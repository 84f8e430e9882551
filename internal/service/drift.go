// file: internal/service/drift.go
package service

import (
	"context"
	"log"

	"HiveBase/internal/core/port"
)

// Repairer 是自动修复能力的最小接口，由 RepairService 实现。
// 以接口注入便于在实体服务的测试中替换为假实现。
type Repairer interface {
	Repair(ctx context.Context) ([]string, error)
}

// withDriftRetry 执行 op；当失败原因是 Schema 漂移 (缺表/缺列) 时，
// 触发一次修复后重试同一操作——有界的两步调用，绝不无限重试。
// 修复自身失败或重试仍失败时，上抛最后一次的错误。
func withDriftRetry(ctx context.Context, repairer Repairer, op func() error) error {
	err := op()
	if err == nil || !port.IsDrift(err) {
		return err
	}
	if repairer == nil {
		return err
	}

	log.Printf("警告: [Service] 操作因 Schema 漂移失败，触发一次自动修复: %v", err)
	if _, errRepair := repairer.Repair(ctx); errRepair != nil {
		log.Printf("错误: [Service] 自动修复失败，放弃重试: %v", errRepair)
		return err
	}
	return op()
}

// withProjectDriftRetry 与 withDriftRetry 同构，但修复目标是单个项目库。
func withProjectDriftRetry(ctx context.Context, repairer ProjectRepairer, projectID string, op func() error) error {
	err := op()
	if err == nil || !port.IsDrift(err) {
		return err
	}
	if repairer == nil {
		return err
	}

	log.Printf("警告: [Service] 项目 '%s' 操作因 Schema 漂移失败，触发一次自动修复: %v", projectID, err)
	if _, errRepair := repairer.RepairProject(ctx, projectID); errRepair != nil {
		log.Printf("错误: [Service] 项目 '%s' 自动修复失败，放弃重试: %v", projectID, errRepair)
		return err
	}
	return op()
}
