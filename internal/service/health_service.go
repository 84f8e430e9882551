// file: internal/service/health_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"HiveBase/internal/core/port"
)

// 整体状态取值。
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult 是快速探测的结果。
type CheckResult struct {
	Healthy bool     `json:"healthy"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"` // 缺失的表名等
}

// SubCheck 是完整体检中单项检查的结果。
type SubCheck struct {
	Status  string `json:"status"` // healthy / degraded / unhealthy
	Message string `json:"message"`
}

// FullReport 是完整体检报告：四项独立子检查 + 汇总状态。
// 缺一个可选种子行与连接坏掉必须可区分，所以汇总分三档。
type FullReport struct {
	Status string              `json:"status"`
	Checks map[string]SubCheck `json:"checks"` // database / tables / default_admin / initialization
}

// HealthService 探测主库与项目库的结构完整性。
type HealthService struct {
	router port.Router
}

// NewHealthService 创建健康检查服务。
func NewHealthService(router port.Router) *HealthService {
	return &HealthService{router: router}
}

// Check 是单次快速探测：先对主库跑一条平凡查询，再按固定清单探测
// 关键表是否存在；任何缺表都会翻转 healthy 并列出缺失名称。
func (s *HealthService) Check(ctx context.Context) CheckResult {
	exec := s.router.Executor(port.Main())

	if _, err := exec.QueryOne(ctx, `SELECT 1 AS ok`); err != nil {
		return CheckResult{Healthy: false, Message: fmt.Sprintf("主库不可用: %v", err)}
	}

	missing, err := s.missingMainTables(ctx)
	if err != nil {
		return CheckResult{Healthy: false, Message: fmt.Sprintf("主库表探测失败: %v", err)}
	}
	if len(missing) > 0 {
		return CheckResult{
			Healthy: false,
			Message: fmt.Sprintf("主库缺失 %d 张关键表", len(missing)),
			Details: missing,
		}
	}
	return CheckResult{Healthy: true, Message: "ok"}
}

// FullCheck 执行四项独立子检查并汇总：
// database 与 tables 是关键项，失败即 unhealthy；
// default_admin 与 initialization 是可选项，失败只降级为 degraded。
func (s *HealthService) FullCheck(ctx context.Context) FullReport {
	checks := map[string]SubCheck{
		"database":       s.checkDatabase(ctx),
		"tables":         s.checkTables(ctx),
		"default_admin":  s.checkDefaultAdmin(ctx),
		"initialization": s.checkInitialization(ctx),
	}

	status := StatusHealthy
	for name, c := range checks {
		if c.Status == StatusHealthy {
			continue
		}
		if name == "database" || name == "tables" {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}

	// 体检结果落盘，供下次启动和修复判断参考。失败不影响报告本身。
	s.recordCheck(ctx, "full_check", status == StatusHealthy, status)

	return FullReport{Status: status, Checks: checks}
}

func (s *HealthService) checkDatabase(ctx context.Context) SubCheck {
	if _, err := s.router.Executor(port.Main()).QueryOne(ctx, `SELECT 1 AS ok`); err != nil {
		return SubCheck{Status: StatusUnhealthy, Message: fmt.Sprintf("主库查询失败: %v", err)}
	}
	return SubCheck{Status: StatusHealthy, Message: "主库连接正常"}
}

func (s *HealthService) checkTables(ctx context.Context) SubCheck {
	missing, err := s.missingMainTables(ctx)
	if err != nil {
		return SubCheck{Status: StatusUnhealthy, Message: fmt.Sprintf("表探测失败: %v", err)}
	}
	if len(missing) > 0 {
		return SubCheck{Status: StatusUnhealthy, Message: "缺失关键表: " + strings.Join(missing, ", ")}
	}
	return SubCheck{Status: StatusHealthy, Message: "关键表齐备"}
}

func (s *HealthService) checkDefaultAdmin(ctx context.Context) SubCheck {
	row, err := s.router.Executor(port.Main()).QueryOne(ctx,
		`SELECT id FROM admin_users WHERE active = TRUE LIMIT 1`)
	if err != nil {
		return SubCheck{Status: StatusDegraded, Message: fmt.Sprintf("管理员探测失败: %v", err)}
	}
	if row == nil {
		return SubCheck{Status: StatusDegraded, Message: "缺少活跃的默认管理员种子行"}
	}
	return SubCheck{Status: StatusHealthy, Message: "默认管理员存在且活跃"}
}

func (s *HealthService) checkInitialization(ctx context.Context) SubCheck {
	row, err := s.router.Executor(port.Main()).QueryOne(ctx,
		`SELECT healthy FROM system_checks WHERE check_type = 'initialization'`)
	if err != nil {
		return SubCheck{Status: StatusDegraded, Message: fmt.Sprintf("初始化标记探测失败: %v", err)}
	}
	if row == nil {
		return SubCheck{Status: StatusDegraded, Message: "初始化标记缺失 (实例可能从未完整启动)"}
	}
	return SubCheck{Status: StatusHealthy, Message: "初始化标记正常"}
}

// missingMainTables 通过存储目录 (sqlite_master) 比对固定清单。
func (s *HealthService) missingMainTables(ctx context.Context) ([]string, error) {
	rows, err := s.router.Executor(port.Main()).Query(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, err
	}

	present := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if name, ok := r["name"].(string); ok {
			present[name] = struct{}{}
		}
	}

	var missing []string
	for _, required := range CriticalMainTables {
		if _, ok := present[required]; !ok {
			missing = append(missing, required)
		}
	}
	return missing, nil
}

// recordCheck 按检查类型单例地更新 system_checks 行。
func (s *HealthService) recordCheck(ctx context.Context, checkType string, healthy bool, detail string) {
	_, _ = s.router.Executor(port.Main()).Execute(ctx, `
        INSERT INTO system_checks (check_type, healthy, detail, checked_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(check_type) DO UPDATE SET healthy=excluded.healthy, detail=excluded.detail, checked_at=excluded.checked_at`,
		checkType, healthy, detail, time.Now().UTC().Format(time.RFC3339))
}
