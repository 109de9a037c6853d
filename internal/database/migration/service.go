package migration

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// MigrationService 迁移服务实现
type MigrationService struct {
	migrator IMigrator
	config   MigrationConfig
	log      zerolog.Logger
}

// NewMigrationService 创建新的迁移服务
func NewMigrationService(logger zerolog.Logger) *MigrationService {
	return &MigrationService{
		log: logger.With().Str("component", "migration").Logger(),
	}
}

// Initialize 初始化迁移服务
func (s *MigrationService) Initialize(db *sql.DB, config MigrationConfig) error {
	if config.TableName == "" {
		config.TableName = "schema_migrations"
	}
	if config.DatabaseName == "" {
		config.DatabaseName = "sqlite3"
	}
	if config.SourceDir == "" {
		config.SourceDir = "."
	}

	migrator, err := NewGolangMigrator(db, config)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	s.migrator = migrator
	s.config = config
	return nil
}

// RunMigrations 运行迁移，dirty 状态下强制回到当前版本后重试
func (s *MigrationService) RunMigrations(ctx context.Context) error {
	if s.migrator == nil {
		return fmt.Errorf("migration service not initialized")
	}

	version, dirty, err := s.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if dirty {
		s.log.Warn().Int("version", version).Msg("database is dirty, forcing version")
		if err := s.migrator.Force(ctx, version); err != nil {
			return fmt.Errorf("failed to recover from dirty state at version %d: %w", version, err)
		}
	}

	if err := s.migrator.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	finalVersion, _, err := s.migrator.Version(ctx)
	if err != nil {
		return err
	}
	s.log.Info().Int("from", version).Int("to", finalVersion).Msg("migrations applied")
	return nil
}

// GetMigrationInfo 获取迁移信息
func (s *MigrationService) GetMigrationInfo(ctx context.Context) (*MigrationInfo, error) {
	if s.migrator == nil {
		return nil, fmt.Errorf("migration service not initialized")
	}

	version, dirty, err := s.migrator.Version(ctx)
	if err != nil {
		return nil, err
	}
	return &MigrationInfo{Version: version, Dirty: dirty}, nil
}

// Rollback 回滚指定步数
func (s *MigrationService) Rollback(ctx context.Context, steps int) error {
	if s.migrator == nil {
		return fmt.Errorf("migration service not initialized")
	}
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive")
	}

	if err := s.migrator.Steps(ctx, -steps); err != nil {
		return fmt.Errorf("failed to rollback %d steps: %w", steps, err)
	}

	s.log.Info().Int("steps", steps).Msg("migrations rolled back")
	return nil
}

// Close 关闭服务
func (s *MigrationService) Close() error {
	if s.migrator != nil {
		return s.migrator.Close()
	}
	return nil
}
