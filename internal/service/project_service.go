// file: internal/service/project_service.go
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

	"github.com/google/uuid"
)

// ProjectService 管理主库中的项目元数据行与项目物理库的生命周期。
// 项目行先于物理库存在：建行时只登记元数据，物理库由定位器在
// 首次数据访问时惰性建立 (Create 里主动 Ensure 一次以便尽早暴露 IO 问题)。
type ProjectService struct {
	router   port.Router
	locator  port.Locator
	repairer Repairer
}

// NewProjectService 创建项目服务。router 与 locator 为硬依赖。
func NewProjectService(router port.Router, locator port.Locator, repairer Repairer) *ProjectService {
	if router == nil || locator == nil {
		log.Fatal("错误: [ProjectService] 初始化失败，router/locator 不能为空。")
	}
	return &ProjectService{router: router, locator: locator, repairer: repairer}
}

// CreateProjectInput 是创建项目的入参。
type CreateProjectInput struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	OwnerID     string         `json:"owner_id"`
	Settings    map[string]any `json:"settings"`
}

// Create 在主库登记新项目并立即物化其专属库。
// 项目自动获得一把 project 范围的 API 密钥。
func (s *ProjectService) Create(ctx context.Context, in CreateProjectInput) (*domain.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: 项目名称不能为空", port.ErrValidation)
	}

	token, err := generateToken("hb")
	if err != nil {
		return nil, fmt.Errorf("生成项目 API 密钥失败: %w", err)
	}

	p := &domain.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		APIKey:      token,
		Active:      true,
		Settings:    in.Settings,
		OwnerID:     in.OwnerID,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if p.Settings == nil {
		p.Settings = map[string]any{}
	}
	settingsJSON, err := json.Marshal(p.Settings)
	if err != nil {
		return nil, fmt.Errorf("序列化项目设置失败: %w", err)
	}

	exec := s.router.Executor(port.Main())
	errInsert := withDriftRetry(ctx, s.repairer, func() error {
		_, errExec := exec.Execute(ctx, `
            INSERT INTO projects (id, name, description, api_key, active, settings, owner_id, created_at, updated_at)
            VALUES (?, ?, ?, ?, TRUE, ?, ?, ?, ?)`,
			p.ID, p.Name, p.Description, p.APIKey, string(settingsJSON), p.OwnerID,
			p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
		return errExec
	})
	if errInsert != nil {
		return nil, fmt.Errorf("写入项目行失败: %w", errInsert)
	}

	// 主动物化项目库，IO 问题在创建时而非首次业务访问时暴露。
	// 物化失败不回滚项目行：行存在即项目存在，库下次访问时重建。
	if errEnsure := s.locator.Ensure(ctx, p.ID); errEnsure != nil {
		log.Printf("警告: [ProjectService] 项目 '%s' 库物化失败 (将在首次访问时重试): %v", p.ID, errEnsure)
	}

	log.Printf("信息: [ProjectService] 项目 '%s' (%s) 创建成功。", p.Name, p.ID)
	return p, nil
}

// Get 按 ID 取项目；不存在时返回 port.ErrNotFound。
func (s *ProjectService) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	exec := s.router.Executor(port.Main())
	var row map[string]any
	err := withDriftRetry(ctx, s.repairer, func() error {
		var errQ error
		row, errQ = exec.QueryOne(ctx, `SELECT * FROM projects WHERE id = ?`, projectID)
		return errQ
	})
	if err != nil {
		return nil, fmt.Errorf("查询项目失败: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: 项目 '%s'", port.ErrNotFound, projectID)
	}
	return scanProject(row)
}

// GetByAPIKey 按项目密钥取项目，供密钥认证路径使用。
func (s *ProjectService) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Project, error) {
	exec := s.router.Executor(port.Main())
	row, err := exec.QueryOne(ctx, `SELECT * FROM projects WHERE api_key = ? AND active = TRUE`, apiKey)
	if err != nil {
		return nil, fmt.Errorf("按密钥查询项目失败: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: 无效的项目密钥", port.ErrNotFound)
	}
	return scanProject(row)
}

// List 返回全部项目，按创建时间倒序。
func (s *ProjectService) List(ctx context.Context) ([]*domain.Project, error) {
	exec := s.router.Executor(port.Main())
	var rows []map[string]any
	err := withDriftRetry(ctx, s.repairer, func() error {
		var errQ error
		rows, errQ = exec.Query(ctx, `SELECT * FROM projects ORDER BY created_at DESC`)
		return errQ
	})
	if err != nil {
		return nil, fmt.Errorf("列举项目失败: %w", err)
	}

	projects := make([]*domain.Project, 0, len(rows))
	for _, row := range rows {
		p, errScan := scanProject(row)
		if errScan != nil {
			return nil, errScan
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// UpdateProjectInput 是更新项目的入参，nil 字段保持原值。
type UpdateProjectInput struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Active      *bool           `json:"active,omitempty"`
	Settings    *map[string]any `json:"settings,omitempty"`
}

// Update 更新项目元数据。Settings 整体替换，不做深合并。
func (s *ProjectService) Update(ctx context.Context, projectID string, in UpdateProjectInput) (*domain.Project, error) {
	p, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: 项目名称不能为空", port.ErrValidation)
		}
		p.Name = name
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
	if in.Settings != nil {
		p.Settings = *in.Settings
		if p.Settings == nil {
			p.Settings = map[string]any{}
		}
	}
	p.UpdatedAt = time.Now().UTC()

	settingsJSON, err := json.Marshal(p.Settings)
	if err != nil {
		return nil, fmt.Errorf("序列化项目设置失败: %w", err)
	}

	exec := s.router.Executor(port.Main())
	res, err := exec.Execute(ctx, `
        UPDATE projects SET name = ?, description = ?, active = ?, settings = ?, updated_at = ?
        WHERE id = ?`,
		p.Name, p.Description, p.Active, string(settingsJSON),
		p.UpdatedAt.Format(time.RFC3339), p.ID)
	if err != nil {
		return nil, fmt.Errorf("更新项目失败: %w", err)
	}
	if res.Changed == 0 {
		return nil, fmt.Errorf("%w: 项目 '%s'", port.ErrNotFound, projectID)
	}
	return p, nil
}

// Delete 彻底移除一个项目：先在其物理库内事务式清空全部逻辑行，
// 再删除物理库文件，最后删除主库的项目行。顺序保证中途失败时
// 项目行仍在，删除可以安全重试。
func (s *ProjectService) Delete(ctx context.Context, projectID string) error {
	if _, err := s.Get(ctx, projectID); err != nil {
		return err
	}

	// 物理库已存在时才需要清空；从未物化的项目直接删行即可。
	if s.locator.Exists(projectID) {
		projExec := s.router.Executor(port.Project(projectID))
		err := projExec.Transaction(ctx, func(tx port.Executor) error {
			for _, table := range ProjectTables {
				if _, errExec := tx.Execute(ctx, fmt.Sprintf(`DELETE FROM %q`, table)); errExec != nil {
					return fmt.Errorf("清空项目表 '%s' 失败: %w", table, errExec)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("清空项目 '%s' 数据失败: %w", projectID, err)
		}

		if errDel := s.locator.Delete(projectID); errDel != nil {
			return fmt.Errorf("删除项目 '%s' 库文件失败: %w", projectID, errDel)
		}
	}

	exec := s.router.Executor(port.Main())
	res, err := exec.Execute(ctx, `DELETE FROM projects WHERE id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("删除项目行失败: %w", err)
	}
	if res.Changed == 0 {
		return fmt.Errorf("%w: 项目 '%s'", port.ErrNotFound, projectID)
	}

	log.Printf("信息: [ProjectService] 项目 '%s' 已删除。", projectID)
	return nil
}

// scanProject 把一行 map 还原为领域对象。
func scanProject(row map[string]any) (*domain.Project, error) {
	p := &domain.Project{
		ID:            asString(row["id"]),
		Name:          asString(row["name"]),
		Description:   asString(row["description"]),
		APIKey:        asString(row["api_key"]),
		Active:        asBool(row["active"]),
		OwnerID:       asString(row["owner_id"]),
		StorageUsed:   asInt64(row["storage_used"]),
		DocumentCount: asInt64(row["document_count"]),
		CreatedAt:     asTime(row["created_at"]),
		UpdatedAt:     asTime(row["updated_at"]),
	}

	p.Settings = map[string]any{}
	if raw := asString(row["settings"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.Settings); err != nil {
			return nil, fmt.Errorf("项目 '%s' 的设置 JSON 损坏: %w", p.ID, err)
		}
	}
	return p, nil
}
