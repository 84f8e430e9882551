// file: internal/service/repair_service.go
package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"HiveBase/internal/core/port"
	"HiveBase/internal/observe"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"
)

// RepairService 实现"按探测迁移"的自动修复：补缺失表、增缺失列、
// 重种默认管理员。全部步骤幂等，DDL 仅做增量 (唯一的遗留改名除外)，
// 可与正常流量并发执行。
type RepairService struct {
	router        port.Router
	adminEmail    string
	adminPassword string

	// initInFlight 是表重建的再入防护：只防止重复发起，不做互斥。
	// 修复可能被多个并发失败的操作同时触发。
	initInFlight atomic.Bool

	// projectRepairs 把同一项目库的并发修复收敛为一次。
	projectRepairs singleflight.Group
}

// 静态断言，确保 *RepairService 满足实体服务使用的两个修复接口。
var (
	_ Repairer        = (*RepairService)(nil)
	_ ProjectRepairer = (*RepairService)(nil)
)

// ProjectRepairer 是项目库修复能力的最小接口。
type ProjectRepairer interface {
	RepairProject(ctx context.Context, projectID string) ([]string, error)
}

// NewRepairService 创建修复服务。adminEmail/adminPassword 用于默认
// 管理员种子行的重建。
func NewRepairService(router port.Router, adminEmail, adminPassword string) *RepairService {
	if adminEmail == "" {
		adminEmail = "admin@hivebase.local"
	}
	return &RepairService{router: router, adminEmail: adminEmail, adminPassword: adminPassword}
}

// Repair 对主库执行一轮完整修复。每个子步骤不论是否实际做了工作都会
// 追加一条人类可读的记录，调用方因此能区分"无需修复"与"修复了某项"。
func (s *RepairService) Repair(ctx context.Context) ([]string, error) {
	if !s.initInFlight.CompareAndSwap(false, true) {
		return []string{"修复已在进行中，本次调用跳过"}, nil
	}
	defer s.initInFlight.Store(false)

	observe.RepairRuns.Inc()
	exec := s.router.Executor(port.Main())
	var repairs []string

	// (a) 缺失表重建。
	step, err := s.ensureTables(ctx, exec, MainTableDDLs(), mainIndexDDLs)
	if err != nil {
		return repairs, fmt.Errorf("修复主库表结构失败: %w", err)
	}
	repairs = append(repairs, step...)

	// (b) 缺失列增量迁移 (含遗留改名)。
	step, err = s.ensureColumns(ctx, exec, MainTargetColumns())
	if err != nil {
		return repairs, fmt.Errorf("修复主库列结构失败: %w", err)
	}
	repairs = append(repairs, step...)

	// (c) 默认管理员种子行。
	step, err = s.ensureDefaultAdmin(ctx, exec)
	if err != nil {
		return repairs, fmt.Errorf("重建默认管理员失败: %w", err)
	}
	repairs = append(repairs, step...)

	// 落盘初始化标记，供健康检查与下次修复参考。
	_, _ = exec.Execute(ctx, `
        INSERT INTO system_checks (check_type, healthy, detail, checked_at)
        VALUES ('initialization', TRUE, ?, ?)
        ON CONFLICT(check_type) DO UPDATE SET healthy=excluded.healthy, detail=excluded.detail, checked_at=excluded.checked_at`,
		fmt.Sprintf("repair: %d 条记录", len(repairs)), time.Now().UTC().Format(time.RFC3339))

	log.Printf("信息: [Repair] 主库修复完成，共 %d 条记录。", len(repairs))
	return repairs, nil
}

// RepairProject 对单个项目库执行表与列修复。同一项目的并发调用收敛为一次。
func (s *RepairService) RepairProject(ctx context.Context, projectID string) ([]string, error) {
	v, err, _ := s.projectRepairs.Do(projectID, func() (any, error) {
		observe.RepairRuns.Inc()
		exec := s.router.Executor(port.Project(projectID))
		var repairs []string

		step, errStep := s.ensureTables(ctx, exec, ProjectTableDDLs(), projectIndexDDLs)
		if errStep != nil {
			return repairs, fmt.Errorf("修复项目 '%s' 表结构失败: %w", projectID, errStep)
		}
		repairs = append(repairs, step...)

		step, errStep = s.ensureColumns(ctx, exec, ProjectTargetColumns())
		if errStep != nil {
			return repairs, fmt.Errorf("修复项目 '%s' 列结构失败: %w", projectID, errStep)
		}
		repairs = append(repairs, step...)

		log.Printf("信息: [Repair] 项目 '%s' 修复完成，共 %d 条记录。", projectID, len(repairs))
		return repairs, nil
	})
	repairs, _ := v.([]string)
	return repairs, err
}

// ensureTables 对照存储目录重建缺失的表。DDL 全部是 IF NOT EXISTS，
// 直接重放即可，已存在的表不受影响。
func (s *RepairService) ensureTables(ctx context.Context, exec port.TargetExecutor, ddls []NamedDDL, indexDDLs []string) ([]string, error) {
	rows, err := exec.Query(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("读取存储目录失败: %w", err)
	}
	present := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if name, ok := r["name"].(string); ok {
			present[name] = struct{}{}
		}
	}

	var missing []string
	for _, t := range ddls {
		if _, ok := present[t.Table]; !ok {
			missing = append(missing, t.Table)
		}
	}
	if len(missing) == 0 {
		return []string{"表结构完整，无需重建"}, nil
	}

	for _, t := range ddls {
		if _, errExec := exec.Execute(ctx, t.DDL); errExec != nil {
			return nil, fmt.Errorf("重建表 '%s' 失败: %w", t.Table, errExec)
		}
	}
	for _, idx := range indexDDLs {
		if _, errExec := exec.Execute(ctx, idx); errExec != nil {
			return nil, fmt.Errorf("重建索引失败: %w", errExec)
		}
	}
	return []string{fmt.Sprintf("已重建缺失表: %v", missing)}, nil
}

// ensureColumns 对照目标列清单做增量迁移：只 ADD COLUMN，不删不改。
// 唯一的例外是一处已知的遗留改名：早期部署的 api_keys 用 'key' 列存
// 令牌，这里改名为 'token'。
func (s *RepairService) ensureColumns(ctx context.Context, exec port.TargetExecutor, targets map[string]map[string]string) ([]string, error) {
	var repairs []string
	var added []string

	tables := make([]string, 0, len(targets))
	for table := range targets {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		existing, err := s.tableColumns(ctx, exec, table)
		if err != nil {
			return repairs, err
		}
		if existing == nil {
			continue // 表不存在，归 ensureTables 管
		}

		// 遗留改名: api_keys.key -> api_keys.token
		if table == "api_keys" {
			_, hasLegacy := existing["key"]
			_, hasToken := existing["token"]
			if hasLegacy && !hasToken {
				if _, errExec := exec.Execute(ctx, `ALTER TABLE api_keys RENAME COLUMN "key" TO token`); errExec != nil {
					return repairs, fmt.Errorf("遗留列改名 api_keys.key -> token 失败: %w", errExec)
				}
				existing["token"] = struct{}{}
				delete(existing, "key")
				repairs = append(repairs, "已执行遗留改名: api_keys.key -> api_keys.token")
			}
		}

		cols := make([]string, 0, len(targets[table]))
		for col := range targets[table] {
			cols = append(cols, col)
		}
		sort.Strings(cols)

		for _, col := range cols {
			if _, ok := existing[col]; ok {
				continue
			}
			stmt := fmt.Sprintf(`ALTER TABLE %q ADD COLUMN %q %s`, table, col, targets[table][col])
			if _, errExec := exec.Execute(ctx, stmt); errExec != nil {
				return repairs, fmt.Errorf("为表 '%s' 追加列 '%s' 失败: %w", table, col, errExec)
			}
			added = append(added, table+"."+col)
		}
	}

	if len(added) == 0 {
		repairs = append(repairs, "列结构与目标一致，无需迁移")
	} else {
		repairs = append(repairs, fmt.Sprintf("已追加缺失列: %v", added))
	}
	return repairs, nil
}

// tableColumns 返回指定表的现有列集合；表不存在时返回 nil。
func (s *RepairService) tableColumns(ctx context.Context, exec port.TargetExecutor, table string) (map[string]struct{}, error) {
	rows, err := exec.Query(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, fmt.Errorf("PRAGMA table_info for table %q 失败: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	cols := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if name, ok := r["name"].(string); ok {
			cols[name] = struct{}{}
		}
	}
	return cols, nil
}

// ensureDefaultAdmin 在默认管理员缺失或被停用时重建种子行。
func (s *RepairService) ensureDefaultAdmin(ctx context.Context, exec port.TargetExecutor) ([]string, error) {
	row, err := exec.QueryOne(ctx,
		`SELECT id, active FROM admin_users WHERE email = ?`, s.adminEmail)
	if err != nil {
		return nil, fmt.Errorf("查询默认管理员失败: %w", err)
	}

	if row != nil && asBool(row["active"]) {
		return []string{"默认管理员存在且活跃，无需重建"}, nil
	}

	password := s.adminPassword
	if password == "" {
		// 未配置初始密码时生成随机密码，只进日志提示管理员尽快修改。
		password = uuid.NewString()
		log.Printf("警告: [Repair] 未配置默认管理员初始密码，已生成随机密码: %s", password)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("生成密码哈希失败: %w", err)
	}

	if row == nil {
		_, err = exec.Execute(ctx, `
            INSERT INTO admin_users (id, email, password_hash, name, active)
            VALUES (?, ?, ?, 'Default Admin', TRUE)`,
			uuid.NewString(), s.adminEmail, string(hash))
		if err != nil {
			return nil, fmt.Errorf("插入默认管理员失败: %w", err)
		}
		return []string{fmt.Sprintf("已重建默认管理员种子行: %s", s.adminEmail)}, nil
	}

	_, err = exec.Execute(ctx,
		`UPDATE admin_users SET active = TRUE, password_hash = ? WHERE email = ?`,
		string(hash), s.adminEmail)
	if err != nil {
		return nil, fmt.Errorf("激活默认管理员失败: %w", err)
	}
	return []string{fmt.Sprintf("默认管理员已重新激活: %s", s.adminEmail)}, nil
}

// asBool 归一化 SQLite 返回的布尔表示 (int64 0/1 或 bool)。
func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case string:
		return b == "1" || b == "true" || b == "TRUE"
	default:
		return false
	}
}
