package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// GolangMigrator golang-migrate的实现
type GolangMigrator struct {
	migrate *migrate.Migrate
	source  source.Driver
	config  MigrationConfig
}

// NewGolangMigrator 创建新的golang-migrate迁移器
func NewGolangMigrator(db *sql.DB, config MigrationConfig) (*GolangMigrator, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("migration source cannot be nil")
	}

	src, err := iofs.New(config.Source, config.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{
		MigrationsTable: config.TableName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite3 driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, config.DatabaseName, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &GolangMigrator{
		migrate: m,
		source:  src,
		config:  config,
	}, nil
}

// Up 执行向上迁移
func (g *GolangMigrator) Up(ctx context.Context) error {
	if err := g.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run up migrations: %w", err)
	}
	return nil
}

// Down 执行向下迁移
func (g *GolangMigrator) Down(ctx context.Context) error {
	if err := g.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run down migrations: %w", err)
	}
	return nil
}

// Steps 执行指定步数的迁移
func (g *GolangMigrator) Steps(ctx context.Context, n int) error {
	if err := g.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run %d migration steps: %w", n, err)
	}
	return nil
}

// Force 强制设置迁移版本
func (g *GolangMigrator) Force(ctx context.Context, version int) error {
	if err := g.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Version 获取当前迁移版本
func (g *GolangMigrator) Version(ctx context.Context) (version int, dirty bool, err error) {
	v, dirty, err := g.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return int(v), dirty, nil
}

// Close 关闭迁移源
// migrate.Close 会连带关闭 *sql.DB，这里只关闭源，连接由 gorm 继续使用
func (g *GolangMigrator) Close() error {
	if err := g.source.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}
