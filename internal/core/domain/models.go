// Package domain file: internal/core/domain/models.go
package domain

import "time"

// Project 是主库中的项目元数据行。
// 项目行永远先于其物理库存在：物理库在首次访问时才惰性建立。
type Project struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	APIKey        string         `json:"api_key"`
	Active        bool           `json:"active"`
	Settings      map[string]any `json:"settings"`
	OwnerID       string         `json:"owner_id"`
	StorageUsed   int64          `json:"storage_used"`   // 字节数，惰性刷新
	DocumentCount int64          `json:"document_count"` // 惰性刷新
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Collection 是项目库中一条序列化的 Schema 行。
// 名称在项目内大小写不敏感唯一。
type Collection struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Fields      []Field   `json:"fields"`
	Indexes     []Index   `json:"indexes,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Document 是集合内的一条任意键值负载。
// 负载在写入时按集合当时的字段列表校验，Schema 变更不回溯生效。
type Document struct {
	ID           string         `json:"id"`
	CollectionID string         `json:"collection_id"`
	Data         map[string]any `json:"data"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// APIKeyScope 标识密钥的归属范围。
type APIKeyScope string

const (
	ScopeAdmin   APIKeyScope = "admin"   // 主库，绑定管理员用户
	ScopeProject APIKeyScope = "project" // 某个项目库
)

// APIKey 是一条 API 密钥行。token 在全系统范围内唯一，
// 无论该行物理上存放在主库还是项目库。
type APIKey struct {
	ID        string         `json:"id"`
	Scope     APIKeyScope    `json:"scope"`
	ProjectID string         `json:"project_id,omitempty"` // project 范围时有效
	AdminID   string         `json:"admin_id,omitempty"`   // admin 范围时有效
	Token     string         `json:"token"`
	Scopes    []string       `json:"scopes"`
	Active    bool           `json:"active"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	RateLimit int            `json:"rate_limit"` // 每秒请求数，0 表示不限
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Expired 判断密钥是否已过期。
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// SystemCheck 是主库中按检查类型单例的健康/修复结果记录，
// 用于避免重复修复工作。
type SystemCheck struct {
	CheckType string    `json:"check_type"`
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail"`
	CheckedAt time.Time `json:"checked_at"`
}

// ChangeEntry 是项目库 changelog 表中的一条变更记录。
// 每次成功的文档变更都会产生一条；其 UI 展示不在本核心范围内。
type ChangeEntry struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	DocumentID   string    `json:"document_id"`
	Action       string    `json:"action"` // create / update / delete
	Actor        string    `json:"actor"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProjectStats 是一个项目的用量统计快照。
type ProjectStats struct {
	ProjectID     string `json:"project_id"`
	Collections   int64  `json:"collections"`
	Documents     int64  `json:"documents"`
	StorageBytes  int64  `json:"storage_bytes"`
	ChangeEntries int64  `json:"change_entries"`
}
