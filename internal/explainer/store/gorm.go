package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/pipeline"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

type gormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

// Open returns the store named by cfg.Driver. SQL stores are migrated on open.
func Open(log *logger.Logger, cfg config.StoreConfig) (Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			dsn = "explainer.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, errors.New("store: postgres dsn required")
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}

	log.Info("Connecting to run store...", "driver", cfg.Driver)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Driver, err)
	}
	return NewGorm(log, db)
}

// NewGorm migrates the run table on db and returns a store over it.
func NewGorm(log *logger.Logger, db *gorm.DB) (Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &gormStore{db: db, log: log.With("repo", "RunStore")}, nil
}

func (s *gormStore) Create(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("store: run id required")
	}
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *gormStore) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == "" {
		return nil, ErrNotFound
	}
	return &run, nil
}

func (s *gormStore) List(ctx context.Context, limit int) ([]*Run, error) {
	var out []*Run
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *gormStore) SetState(ctx context.Context, id string, state pipeline.State) error {
	tx := s.db.WithContext(ctx).Model(&Run{}).Where("id = ?", id).Updates(map[string]interface{}{
		"state":      string(state),
		"updated_at": time.Now().UTC(),
	})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) Complete(ctx context.Context, res pipeline.Result) error {
	patch := Run{ID: res.RunID}
	if err := patch.apply(res); err != nil {
		return fmt.Errorf("store: encode result: %w", err)
	}
	tx := s.db.WithContext(ctx).Model(&Run{}).Where("id = ?", res.RunID).Select(completedColumns).Updates(&patch)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	s.log.Debug("run completed", "run_id", res.RunID, "state", res.State)
	return nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
