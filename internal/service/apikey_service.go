// file: internal/service/apikey_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"HiveBase/internal/core/domain"
	"HiveBase/internal/core/port"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	tokenCacheTTL     = 1 * time.Minute
	tokenCacheCleanup = 5 * time.Minute
)

// ApiKeyService 管理 admin 与 project 两种范围的 API 密钥。
// admin 密钥存主库，project 密钥存对应项目库；token 全系统唯一，
// 签发前跨库查重。验证结果短暂缓存以吸收热点 token 的查库压力。
type ApiKeyService struct {
	router   port.Router
	repairer Repairer

	// tokenCache 缓存 token -> *domain.APIKey，吊销走主动失效。
	tokenCache *gocache.Cache
	// limiters 按 token 维护速率限制器，与 tokenCache 同生命周期。
	limiters *gocache.Cache
}

// NewApiKeyService 创建密钥服务。
func NewApiKeyService(router port.Router, repairer Repairer) *ApiKeyService {
	if router == nil {
		log.Fatal("错误: [ApiKeyService] 初始化失败，router 不能为空。")
	}
	return &ApiKeyService{
		router:     router,
		repairer:   repairer,
		tokenCache: gocache.New(tokenCacheTTL, tokenCacheCleanup),
		limiters:   gocache.New(tokenCacheTTL*10, tokenCacheCleanup),
	}
}

// CreateKeyInput 是签发密钥的入参。
type CreateKeyInput struct {
	Scope     domain.APIKeyScope `json:"scope"`
	ProjectID string             `json:"project_id,omitempty"`
	AdminID   string             `json:"admin_id,omitempty"`
	Scopes    []string           `json:"scopes"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	RateLimit int                `json:"rate_limit"` // 每秒请求数，0 不限
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

// Create 签发一把新密钥。project 范围必须带 ProjectID，admin 范围
// 必须带 AdminID；token 在写入前跨主库与目标项目库查重。
func (s *ApiKeyService) Create(ctx context.Context, in CreateKeyInput) (*domain.APIKey, error) {
	switch in.Scope {
	case domain.ScopeAdmin:
		if in.AdminID == "" {
			return nil, fmt.Errorf("%w: admin 范围的密钥必须关联管理员", port.ErrValidation)
		}
	case domain.ScopeProject:
		if in.ProjectID == "" {
			return nil, fmt.Errorf("%w: project 范围的密钥必须关联项目", port.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: 未知的密钥范围 '%s'", port.ErrValidation, in.Scope)
	}

	token, err := generateToken("hb")
	if err != nil {
		return nil, fmt.Errorf("生成密钥令牌失败: %w", err)
	}
	taken, err := s.tokenTaken(ctx, token, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if taken {
		// 256 位随机量撞车几乎不可能，真撞上说明随机源有问题。
		return nil, fmt.Errorf("%w: 令牌冲突，拒绝签发", port.ErrConflict)
	}

	k := &domain.APIKey{
		ID:        uuid.NewString(),
		Scope:     in.Scope,
		ProjectID: in.ProjectID,
		AdminID:   in.AdminID,
		Token:     token,
		Scopes:    in.Scopes,
		Active:    true,
		ExpiresAt: in.ExpiresAt,
		RateLimit: in.RateLimit,
		Metadata:  in.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if k.Scopes == nil {
		k.Scopes = []string{}
	}

	scopesJSON, err := json.Marshal(k.Scopes)
	if err != nil {
		return nil, fmt.Errorf("序列化密钥权限失败: %w", err)
	}
	metaJSON, err := json.Marshal(k.Metadata)
	if err != nil {
		return nil, fmt.Errorf("序列化密钥元数据失败: %w", err)
	}
	var expires any
	if k.ExpiresAt != nil {
		expires = k.ExpiresAt.UTC().Format(time.RFC3339)
	}

	exec := s.executorFor(k)
	errInsert := withDriftRetry(ctx, s.repairer, func() error {
		_, errExec := exec.Execute(ctx, `
            INSERT INTO api_keys (id, scope, project_id, admin_id, token, scopes, active, expires_at, rate_limit, metadata, created_at)
            VALUES (?, ?, ?, ?, ?, ?, TRUE, ?, ?, ?, ?)`,
			k.ID, string(k.Scope), k.ProjectID, k.AdminID, k.Token, string(scopesJSON),
			expires, k.RateLimit, string(metaJSON), k.CreatedAt.Format(time.RFC3339))
		return errExec
	})
	if errInsert != nil {
		return nil, mapUniqueViolation(errInsert, "写入密钥失败")
	}

	log.Printf("信息: [ApiKeyService] 签发 %s 范围密钥 '%s'。", k.Scope, k.ID)
	return k, nil
}

// Validate 验证 admin 范围的令牌 (主库)。无效、停用或过期都返回
// port.ErrNotFound，调用方无从区分三者。
func (s *ApiKeyService) Validate(ctx context.Context, token string) (*domain.APIKey, error) {
	return s.validate(ctx, port.Main(), token)
}

// ValidateForProject 验证项目范围的令牌：先查项目库，未命中再回落
// 到主库里 project_id 匹配的行。
func (s *ApiKeyService) ValidateForProject(ctx context.Context, projectID, token string) (*domain.APIKey, error) {
	k, err := s.validate(ctx, port.Project(projectID), token)
	if err == nil {
		return k, nil
	}
	k, errMain := s.validate(ctx, port.Main(), token)
	if errMain != nil {
		return nil, err
	}
	if k.ProjectID != projectID {
		return nil, fmt.Errorf("%w: 令牌不属于项目 '%s'", port.ErrNotFound, projectID)
	}
	return k, nil
}

func (s *ApiKeyService) validate(ctx context.Context, target port.Target, token string) (*domain.APIKey, error) {
	cacheKey := targetCacheKey(target, token)
	if v, ok := s.tokenCache.Get(cacheKey); ok {
		k := v.(*domain.APIKey)
		if k.Expired(time.Now().UTC()) {
			s.tokenCache.Delete(cacheKey)
			return nil, fmt.Errorf("%w: 令牌已过期", port.ErrNotFound)
		}
		return k, nil
	}

	row, err := s.router.Executor(target).QueryOne(ctx,
		`SELECT * FROM api_keys WHERE token = ? AND active = TRUE`, token)
	if err != nil {
		return nil, fmt.Errorf("查询密钥失败: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: 无效令牌", port.ErrNotFound)
	}

	k, err := scanAPIKey(row)
	if err != nil {
		return nil, err
	}
	if k.Expired(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: 令牌已过期", port.ErrNotFound)
	}
	s.tokenCache.SetDefault(cacheKey, k)
	return k, nil
}

// Allow 按密钥声明的速率限制判定本次请求是否放行。
// RateLimit 为 0 时永远放行。限制器按 token 惰性建立。
func (s *ApiKeyService) Allow(k *domain.APIKey) bool {
	if k.RateLimit <= 0 {
		return true
	}
	v, ok := s.limiters.Get(k.Token)
	if !ok {
		v = rate.NewLimiter(rate.Limit(k.RateLimit), k.RateLimit)
		s.limiters.SetDefault(k.Token, v)
	}
	return v.(*rate.Limiter).Allow()
}

// Revoke 停用密钥并立即失效缓存。
func (s *ApiKeyService) Revoke(ctx context.Context, k *domain.APIKey) error {
	exec := s.executorFor(k)
	res, err := exec.Execute(ctx, `UPDATE api_keys SET active = FALSE WHERE id = ?`, k.ID)
	if err != nil {
		return fmt.Errorf("吊销密钥失败: %w", err)
	}
	if res.Changed == 0 {
		return fmt.Errorf("%w: 密钥 '%s'", port.ErrNotFound, k.ID)
	}
	s.tokenCache.Delete(targetCacheKey(s.targetFor(k), k.Token))
	s.limiters.Delete(k.Token)
	log.Printf("信息: [ApiKeyService] 密钥 '%s' 已吊销。", k.ID)
	return nil
}

// ListForProject 列举项目库内的全部密钥。
func (s *ApiKeyService) ListForProject(ctx context.Context, projectID string) ([]*domain.APIKey, error) {
	rows, err := s.router.Executor(port.Project(projectID)).Query(ctx,
		`SELECT * FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("列举项目密钥失败: %w", err)
	}
	keys := make([]*domain.APIKey, 0, len(rows))
	for _, row := range rows {
		k, errScan := scanAPIKey(row)
		if errScan != nil {
			return nil, errScan
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// tokenTaken 跨主库与目标项目库 (若有) 查 token 是否已被占用。
func (s *ApiKeyService) tokenTaken(ctx context.Context, token, projectID string) (bool, error) {
	row, err := s.router.Executor(port.Main()).QueryOne(ctx,
		`SELECT id FROM api_keys WHERE token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("主库令牌查重失败: %w", err)
	}
	if row != nil {
		return true, nil
	}
	if projectID == "" {
		return false, nil
	}
	row, err = s.router.Executor(port.Project(projectID)).QueryOne(ctx,
		`SELECT id FROM api_keys WHERE token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("项目库令牌查重失败: %w", err)
	}
	return row != nil, nil
}

func (s *ApiKeyService) targetFor(k *domain.APIKey) port.Target {
	if k.Scope == domain.ScopeProject {
		return port.Project(k.ProjectID)
	}
	return port.Main()
}

func (s *ApiKeyService) executorFor(k *domain.APIKey) port.TargetExecutor {
	return s.router.Executor(s.targetFor(k))
}

func targetCacheKey(target port.Target, token string) string {
	if target.Kind == port.TargetProject {
		return target.ProjectID + "\x00" + token
	}
	return "\x00" + token
}

// scanAPIKey 把一行 map 还原为领域对象。
func scanAPIKey(row map[string]any) (*domain.APIKey, error) {
	k := &domain.APIKey{
		ID:        asString(row["id"]),
		Scope:     domain.APIKeyScope(asString(row["scope"])),
		ProjectID: asString(row["project_id"]),
		AdminID:   asString(row["admin_id"]),
		Token:     asString(row["token"]),
		Active:    asBool(row["active"]),
		RateLimit: int(asInt64(row["rate_limit"])),
		CreatedAt: asTime(row["created_at"]),
	}
	if t := asTime(row["expires_at"]); !t.IsZero() {
		k.ExpiresAt = &t
	}
	if raw := asString(row["scopes"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &k.Scopes); err != nil {
			return nil, fmt.Errorf("密钥 '%s' 的权限 JSON 损坏: %w", k.ID, err)
		}
	}
	if raw := asString(row["metadata"]); raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &k.Metadata); err != nil {
			return nil, fmt.Errorf("密钥 '%s' 的元数据 JSON 损坏: %w", k.ID, err)
		}
	}
	return k, nil
}
