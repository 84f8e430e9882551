// Package service file: internal/service/db_init.go
//
// 主库与项目库的基础表结构。启动初始化与自动修复共用同一份 DDL 清单，
// 修复子系统另外依据目标列清单做"按探测迁移"：只增列，不删不改
// (唯一的例外见 repair_service.go 的遗留改名)。
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// CriticalMainTables 是主库必须存在的表，健康检查逐一探测。
var CriticalMainTables = []string{"projects", "admin_users", "sessions", "api_keys", "system_checks"}

// ProjectTables 是每个项目库的固定表目录，项目删除时按此清单清空逻辑行。
var ProjectTables = []string{"collections", "documents", "files", "changelog", "api_keys"}

// NamedDDL 是一条带表名的建表语句。
type NamedDDL struct {
	Table string
	DDL   string
}

// apiKeysDDL 主库与项目库的 api_keys 结构一致；token 的全系统唯一性由
// ApiKeyService 在写入前跨库查重保证，单库内再由唯一约束兜底。
const apiKeysDDL = `
    CREATE TABLE IF NOT EXISTS api_keys (
        id TEXT PRIMARY KEY,
        scope TEXT NOT NULL,
        project_id TEXT,
        admin_id TEXT,
        token TEXT UNIQUE NOT NULL,
        scopes TEXT NOT NULL DEFAULT '[]',
        active BOOLEAN NOT NULL DEFAULT TRUE,
        expires_at DATETIME,
        rate_limit INTEGER NOT NULL DEFAULT 0,
        metadata TEXT NOT NULL DEFAULT '{}',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );`

// MainTableDDLs 返回主库全部系统表的建表语句 (IF NOT EXISTS，可重复执行)。
func MainTableDDLs() []NamedDDL {
	return []NamedDDL{
		{"projects", `
    CREATE TABLE IF NOT EXISTS projects (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        api_key TEXT UNIQUE,
        active BOOLEAN NOT NULL DEFAULT TRUE,
        settings TEXT NOT NULL DEFAULT '{}',
        owner_id TEXT,
        storage_used INTEGER NOT NULL DEFAULT 0,
        document_count INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );`},
		{"admin_users", `
    CREATE TABLE IF NOT EXISTS admin_users (
        id TEXT PRIMARY KEY,
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        name TEXT NOT NULL DEFAULT '',
        active BOOLEAN NOT NULL DEFAULT TRUE,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );`},
		// 会话签发本身不在本核心范围内，这里只维护表结构。
		{"sessions", `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        admin_id TEXT NOT NULL,
        token TEXT UNIQUE NOT NULL,
        expires_at DATETIME,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );`},
		{"api_keys", apiKeysDDL},
		{"system_checks", `
    CREATE TABLE IF NOT EXISTS system_checks (
        check_type TEXT PRIMARY KEY,
        healthy BOOLEAN NOT NULL DEFAULT TRUE,
        detail TEXT NOT NULL DEFAULT '',
        checked_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );`},
	}
}

// mainIndexDDLs 是主库的常用查询索引。
var mainIndexDDLs = []string{
	`CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects (owner_id);`,
	`CREATE INDEX IF NOT EXISTS idx_admin_users_email ON admin_users (email);`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_token ON api_keys (token);`,
}

// InitMainTables 在系统启动时检查并创建主库的全部系统表。
func InitMainTables(db *sql.DB) error {
	for _, t := range MainTableDDLs() {
		if _, err := db.Exec(t.DDL); err != nil {
			return fmt.Errorf("创建 '%s' 表失败: %w", t.Table, err)
		}
	}
	for _, idx := range mainIndexDDLs {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("创建主库索引失败: %w", err)
		}
	}

	log.Println("✅ 数据库: 主库系统表结构初始化/检查完成。")
	return nil
}

// ProjectTableDDLs 返回项目库全部基础表的建表语句。
func ProjectTableDDLs() []NamedDDL {
	return []NamedDDL{
		{"collections", `
    CREATE TABLE IF NOT EXISTS collections (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        fields TEXT NOT NULL DEFAULT '[]',
        indexes TEXT NOT NULL DEFAULT '[]',
        created_by TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );`},
		{"documents", `
    CREATE TABLE IF NOT EXISTS documents (
        id TEXT PRIMARY KEY,
        collection_id TEXT NOT NULL,
        data TEXT NOT NULL DEFAULT '{}',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );`},
		{"files", `
    CREATE TABLE IF NOT EXISTS files (
        id TEXT PRIMARY KEY,
        collection_id TEXT,
        document_id TEXT,
        name TEXT NOT NULL,
        size INTEGER NOT NULL DEFAULT 0,
        mime_type TEXT NOT NULL DEFAULT '',
        path TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );`},
		{"changelog", `
    CREATE TABLE IF NOT EXISTS changelog (
        id TEXT PRIMARY KEY,
        collection_id TEXT NOT NULL,
        document_id TEXT NOT NULL,
        action TEXT NOT NULL,
        actor TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );`},
		{"api_keys", apiKeysDDL},
	}
}

// projectIndexDDLs 是项目库的常用查询索引。
var projectIndexDDLs = []string{
	`CREATE INDEX IF NOT EXISTS idx_collections_name ON collections (name);`,
	`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection_id);`,
	`CREATE INDEX IF NOT EXISTS idx_changelog_collection ON changelog (collection_id);`,
}

// CreateProjectTables 为一个新项目库建立基础表结构。
// 签名与 sqlite.ProvisionFunc 对齐，由定位器在惰性建库时调用。
func CreateProjectTables(ctx context.Context, db *sql.DB) error {
	for _, t := range ProjectTableDDLs() {
		if _, err := db.ExecContext(ctx, t.DDL); err != nil {
			return fmt.Errorf("创建项目库 '%s' 表失败: %w", t.Table, err)
		}
	}
	for _, idx := range projectIndexDDLs {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("创建项目库索引失败: %w", err)
		}
	}
	return nil
}

// MainTargetColumns 是主库每张表的目标列清单 (列名 -> 追加该列的 DDL 片段)。
// 修复子系统对照 PRAGMA table_info 的实际列做增量 ALTER。
func MainTargetColumns() map[string]map[string]string {
	return map[string]map[string]string{
		"projects": {
			"id":             `TEXT`,
			"name":           `TEXT NOT NULL DEFAULT ''`,
			"description":    `TEXT NOT NULL DEFAULT ''`,
			"api_key":        `TEXT`,
			"active":         `BOOLEAN NOT NULL DEFAULT TRUE`,
			"settings":       `TEXT NOT NULL DEFAULT '{}'`,
			"owner_id":       `TEXT`,
			"storage_used":   `INTEGER NOT NULL DEFAULT 0`,
			"document_count": `INTEGER NOT NULL DEFAULT 0`,
			"created_at":     `DATETIME`,
			"updated_at":     `DATETIME`,
		},
		"admin_users": {
			"id":            `TEXT`,
			"email":         `TEXT NOT NULL DEFAULT ''`,
			"password_hash": `TEXT NOT NULL DEFAULT ''`,
			"name":          `TEXT NOT NULL DEFAULT ''`,
			"active":        `BOOLEAN NOT NULL DEFAULT TRUE`,
			"created_at":    `DATETIME`,
		},
		"sessions": {
			"id":         `TEXT`,
			"admin_id":   `TEXT NOT NULL DEFAULT ''`,
			"token":      `TEXT NOT NULL DEFAULT ''`,
			"expires_at": `DATETIME`,
			"created_at": `DATETIME`,
		},
		"api_keys": apiKeyTargetColumns(),
		"system_checks": {
			"check_type": `TEXT`,
			"healthy":    `BOOLEAN NOT NULL DEFAULT TRUE`,
			"detail":     `TEXT NOT NULL DEFAULT ''`,
			"checked_at": `DATETIME`,
		},
	}
}

// ProjectTargetColumns 是项目库每张表的目标列清单。
func ProjectTargetColumns() map[string]map[string]string {
	return map[string]map[string]string{
		"collections": {
			"id":          `TEXT`,
			"name":        `TEXT NOT NULL DEFAULT ''`,
			"description": `TEXT NOT NULL DEFAULT ''`,
			"fields":      `TEXT NOT NULL DEFAULT '[]'`,
			"indexes":     `TEXT NOT NULL DEFAULT '[]'`,
			"created_by":  `TEXT`,
			"created_at":  `DATETIME`,
			"updated_at":  `DATETIME`,
		},
		"documents": {
			"id":            `TEXT`,
			"collection_id": `TEXT NOT NULL DEFAULT ''`,
			"data":          `TEXT NOT NULL DEFAULT '{}'`,
			"created_at":    `DATETIME`,
			"updated_at":    `DATETIME`,
		},
		"files": {
			"id":            `TEXT`,
			"collection_id": `TEXT`,
			"document_id":   `TEXT`,
			"name":          `TEXT NOT NULL DEFAULT ''`,
			"size":          `INTEGER NOT NULL DEFAULT 0`,
			"mime_type":     `TEXT NOT NULL DEFAULT ''`,
			"path":          `TEXT NOT NULL DEFAULT ''`,
			"created_at":    `DATETIME`,
		},
		"changelog": {
			"id":            `TEXT`,
			"collection_id": `TEXT NOT NULL DEFAULT ''`,
			"document_id":   `TEXT NOT NULL DEFAULT ''`,
			"action":        `TEXT NOT NULL DEFAULT ''`,
			"actor":         `TEXT NOT NULL DEFAULT ''`,
			"created_at":    `DATETIME`,
		},
		"api_keys": apiKeyTargetColumns(),
	}
}

func apiKeyTargetColumns() map[string]string {
	return map[string]string{
		"id":         `TEXT`,
		"scope":      `TEXT NOT NULL DEFAULT 'project'`,
		"project_id": `TEXT`,
		"admin_id":   `TEXT`,
		"token":      `TEXT NOT NULL DEFAULT ''`,
		"scopes":     `TEXT NOT NULL DEFAULT '[]'`,
		"active":     `BOOLEAN NOT NULL DEFAULT TRUE`,
		"expires_at": `DATETIME`,
		"rate_limit": `INTEGER NOT NULL DEFAULT 0`,
		"metadata":   `TEXT NOT NULL DEFAULT '{}'`,
		"created_at": `DATETIME`,
	}
}
