// Package database 打开统计库并执行内嵌迁移
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ssebridge/internal/database/migration"

	// 导入SQLite驱动
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Options 数据库初始化选项
type Options struct {
	Path       string
	UsePureGo  bool // 使用 modernc.org/sqlite，无需CGO
	GormLogger logger.Interface
	Logger     zerolog.Logger
}

// IsMemory 是否为内存数据库
func IsMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Initialize 使用默认CGO驱动初始化数据库
func Initialize(dbPath string, log zerolog.Logger) (*gorm.DB, error) {
	return InitializeWithOptions(context.Background(), Options{Path: dbPath, Logger: log})
}

// InitializeWithDriver 使用指定驱动初始化数据库
func InitializeWithDriver(dbPath string, usePureGo bool, log zerolog.Logger) (*gorm.DB, error) {
	return InitializeWithOptions(context.Background(), Options{Path: dbPath, UsePureGo: usePureGo, Logger: log})
}

// InitializeWithOptions 打开数据库、调优连接并执行迁移
func InitializeWithOptions(ctx context.Context, opts Options) (*gorm.DB, error) {
	log := opts.Logger.With().Str("component", "database").Logger()

	if !IsMemory(opts.Path) {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	gormLogger := opts.GormLogger
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	var dialector gorm.Dialector
	if opts.UsePureGo {
		dialector = sqlite.Dialector{DriverName: "sqlite", DSN: opts.Path}
	} else {
		dialector = sqlite.Open(opts.Path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	optimizeConnectionPool(sqlDB, IsMemory(opts.Path))
	applySQLiteOptimizations(db, log)

	if err := runMigrations(ctx, sqlDB, log); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().Str("path", opts.Path).Bool("pure_go", opts.UsePureGo).Msg("database initialized")
	return db, nil
}

// NewMigrationService 基于内嵌迁移文件创建迁移服务，调用方负责 Close
func NewMigrationService(sqlDB *sql.DB, log zerolog.Logger) (*migration.MigrationService, error) {
	service := migration.NewMigrationService(log)
	config := migration.MigrationConfig{
		Source:       migrationFiles,
		SourceDir:    "migrations",
		DatabaseName: "sqlite3",
		TableName:    "schema_migrations",
	}

	if err := service.Initialize(sqlDB, config); err != nil {
		return nil, fmt.Errorf("failed to initialize migration service: %w", err)
	}
	return service, nil
}

// runMigrations 在同一个连接池上执行内嵌迁移
func runMigrations(ctx context.Context, sqlDB *sql.DB, log zerolog.Logger) error {
	service, err := NewMigrationService(sqlDB, log)
	if err != nil {
		return err
	}
	defer service.Close()

	return service.RunMigrations(ctx)
}

// optimizeConnectionPool 连接池配置，内存库只能使用单连接
func optimizeConnectionPool(sqlDB *sql.DB, memory bool) {
	if memory {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
		return
	}
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
}

// applySQLiteOptimizations 应用SQLite性能优化，失败只记录警告
func applySQLiteOptimizations(db *gorm.DB, log zerolog.Logger) {
	optimizations := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA wal_autocheckpoint = 1000",
	}

	for _, pragma := range optimizations {
		if err := db.Exec(pragma).Error; err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("failed to apply pragma")
		}
	}
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
