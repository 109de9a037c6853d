package migration

import (
	"context"
	"database/sql"
	"io/fs"
)

// IMigrator 数据库迁移接口
type IMigrator interface {
	// Up 执行向上迁移
	Up(ctx context.Context) error

	// Down 执行向下迁移
	Down(ctx context.Context) error

	// Steps 执行指定步数的迁移
	Steps(ctx context.Context, n int) error

	// Force 强制设置迁移版本
	Force(ctx context.Context, version int) error

	// Version 获取当前迁移版本
	Version(ctx context.Context) (version int, dirty bool, err error)

	// Close 关闭迁移源，不关闭数据库连接
	Close() error
}

// MigrationConfig 迁移配置
type MigrationConfig struct {
	Source       fs.FS  // 内嵌的迁移文件
	SourceDir    string // Source 中的目录
	DatabaseName string
	TableName    string // 迁移版本表名，默认为 schema_migrations
}

// MigrationInfo 迁移信息
type MigrationInfo struct {
	Version int  `json:"version"`
	Dirty   bool `json:"dirty"`
}

// IMigrationService 迁移服务接口
type IMigrationService interface {
	// Initialize 初始化迁移服务
	Initialize(db *sql.DB, config MigrationConfig) error

	// RunMigrations 运行迁移
	RunMigrations(ctx context.Context) error

	// GetMigrationInfo 获取迁移信息
	GetMigrationInfo(ctx context.Context) (*MigrationInfo, error)

	// Rollback 回滚指定步数
	Rollback(ctx context.Context, steps int) error

	// Close 关闭服务
	Close() error
}
