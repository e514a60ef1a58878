// Package store persists run summaries.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/mentat25/Metrix/pkg/config"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteBusyTimeout makes concurrent writers wait for the lock instead of
// failing immediately.
const sqliteBusyTimeout = "_pragma=busy_timeout(5000)"

// Store persists run summaries keyed by run directory.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Exists reports whether a summary is stored for runDir.
	Exists(ctx context.Context, runDir string) (bool, error)
	// Get returns the summary stored for runDir, or run.ErrRunNotFound.
	Get(ctx context.Context, runDir string) (*run.Summary, error)
	// Upsert inserts s when no summary exists for its run directory and
	// updates the existing row otherwise. On insert s.ID is assigned.
	Upsert(ctx context.Context, s *run.Summary) error

	GetByRunID(ctx context.Context, runID string) (*run.Summary, error)
	ListByState(ctx context.Context, state run.State) ([]run.Summary, error)
	Search(ctx context.Context, query string) ([]run.Summary, error)
	ListAll(ctx context.Context) ([]run.Summary, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(s.cfg.SQLite.Path))
	case "postgres":
		dialector = postgres.Open(s.cfg.Postgres.DSN())
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&run.Summary{}); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqliteBusyTimeout
	}

	return path + "?" + sqliteBusyTimeout
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) Exists(ctx context.Context, runDir string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&run.Summary{}).
		Where("run_directory = ?", runDir).
		Count(&count).Error; err != nil {
		return false, &run.PersistenceError{Op: "checking", Err: err}
	}

	return count > 0, nil
}

func (s *store) Get(ctx context.Context, runDir string) (*run.Summary, error) {
	return s.first(ctx, "run_directory = ?", runDir)
}

func (s *store) GetByRunID(ctx context.Context, runID string) (*run.Summary, error) {
	return s.first(ctx, "run_id = ?", runID)
}

func (s *store) first(ctx context.Context, query string, arg any) (*run.Summary, error) {
	var summary run.Summary
	if err := s.db.WithContext(ctx).
		Where(query, arg).
		Take(&summary).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %v", run.ErrRunNotFound, arg)
		}

		return nil, &run.PersistenceError{Op: "fetching", Err: err}
	}

	return &summary, nil
}

func (s *store) Upsert(ctx context.Context, summary *run.Summary) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing run.Summary

		err := tx.Select("id", "created_at").
			Where("run_directory = ?", summary.RunDirectory).
			Take(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := checkRunID(tx, summary); err != nil {
				return err
			}

			summary.ID = 0

			if err := tx.Create(summary).Error; err != nil {
				return &run.PersistenceError{Op: "inserting", Err: err}
			}

			s.log.WithFields(logrus.Fields{
				"run_id": summary.RunID,
				"id":     summary.ID,
			}).Debug("Inserted run summary")

			return nil
		case err != nil:
			return &run.PersistenceError{Op: "checking", Err: err}
		}

		summary.ID = existing.ID
		summary.CreatedAt = existing.CreatedAt

		if err := tx.Save(summary).Error; err != nil {
			return &run.PersistenceError{Op: "updating", Err: err}
		}

		return nil
	})
	if err != nil && !errors.Is(err, run.ErrPersistence) {
		return &run.PersistenceError{Op: "committing", Err: err}
	}

	return err
}

// checkRunID rejects an insert whose run id is already stored under a
// different directory, such as the same run folder under a second root.
func checkRunID(tx *gorm.DB, summary *run.Summary) error {
	var other run.Summary

	err := tx.Select("run_directory").
		Where("run_id = ?", summary.RunID).
		Take(&other).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil
	case err != nil:
		return &run.PersistenceError{Op: "checking", Err: err}
	}

	conflict := fmt.Errorf("%w: %s is stored for %s, not %s",
		run.ErrDuplicateRunID, summary.RunID, other.RunDirectory, summary.RunDirectory)

	return &run.PersistenceError{Op: "inserting", Err: conflict}
}

func (s *store) ListByState(ctx context.Context, state run.State) ([]run.Summary, error) {
	var summaries []run.Summary
	if err := s.db.WithContext(ctx).
		Where("state = ?", state).
		Order("id ASC").
		Find(&summaries).Error; err != nil {
		return nil, &run.PersistenceError{Op: "listing", Err: err}
	}

	return summaries, nil
}

// Search returns summaries whose run id contains query.
func (s *store) Search(ctx context.Context, query string) ([]run.Summary, error) {
	var summaries []run.Summary
	if err := s.db.WithContext(ctx).
		Where(`run_id LIKE ? ESCAPE '\'`, "%"+escapeLike(query)+"%").
		Order("id ASC").
		Find(&summaries).Error; err != nil {
		return nil, &run.PersistenceError{Op: "searching", Err: err}
	}

	return summaries, nil
}

func (s *store) ListAll(ctx context.Context) ([]run.Summary, error) {
	var summaries []run.Summary
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&summaries).Error; err != nil {
		return nil, &run.PersistenceError{Op: "listing", Err: err}
	}

	return summaries, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(v string) string {
	return likeEscaper.Replace(v)
}
