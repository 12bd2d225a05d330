package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

var (
	ErrMigrationFailed = errors.New("migration failed")
	ErrRollbackFailed  = errors.New("rollback failed")
)

type Migrator struct {
	config        *MigrationConfig
	backupManager *BackupManager
	logger        *logrus.Entry
}

func NewMigrator(config *MigrationConfig) (*Migrator, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.DBPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if config.Schema == nil || config.Schema.MigrationSource == nil {
		return nil, fmt.Errorf("schema and migration source cannot be nil")
	}
	return &Migrator{
		config:        config,
		backupManager: NewBackupManager(config.DBPath),
		logger: logrus.WithFields(logrus.Fields{
			"db_path": config.DBPath,
			"schema":  config.Schema.Name,
		}),
	}, nil
}

// newMigrate builds a golang-migrate instance on db. The returned source
// driver is owned by the instance.
func (m *Migrator) newMigrate(db *sql.DB) (*migrate.Migrate, source.Driver, error) {
	migrationsFS, err := m.config.Schema.MigrationSource.GetFS()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get migrations fs: %w", err)
	}
	subDir := m.config.Schema.MigrationSource.GetSubDir()
	if subDir == "" {
		subDir = "."
	}
	sourceDriver, err := iofs.New(migrationsFS, subDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create iofs source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	mig, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mig, sourceDriver, nil
}

func (m *Migrator) openDB() (*sql.DB, func(), error) {
	if m.config.DB != nil {
		return m.config.DB, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.DBPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", m.config.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, func() { db.Close() }, nil
}

// Run migrates the database up to the newest embedded version.
func (m *Migrator) Run() (*MigrationResult, error) {
	db, closeDB, err := m.openDB()
	if err != nil {
		return nil, err
	}
	defer closeDB()

	mig, sourceDriver, err := m.newMigrate(db)
	if err != nil {
		return nil, err
	}

	result := &MigrationResult{}
	currentVersion, dirty, verErr := mig.Version()
	if verErr != nil && !errors.Is(verErr, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("failed to read schema version: %w", verErr)
	}
	result.FromVersion = currentVersion
	result.WasDirty = dirty

	// a fresh database has nothing worth saving
	if verErr == nil && m.config.Schema.Category == CategoryCritical {
		if _, err := sourceDriver.Next(currentVersion); err == nil {
			backupPath, err := m.backupManager.CreateBackup()
			if err != nil {
				return nil, fmt.Errorf("failed to create backup: %w", err)
			}
			result.BackupPath = backupPath
		}
	}

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if result.BackupPath != "" {
			m.logger.WithError(err).Error("migration failed, restoring backup")
			if rbErr := m.backupManager.RestoreBackup(result.BackupPath); rbErr != nil {
				return result, fmt.Errorf("%w: %v (%w: %v)", ErrMigrationFailed, err, ErrRollbackFailed, rbErr)
			}
		}
		return result, fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	newVersion, _, _ := mig.Version()
	result.ToVersion = newVersion
	if currentVersion != newVersion {
		m.logger.WithFields(logrus.Fields{
			"from_version": currentVersion,
			"to_version":   newVersion,
			"was_dirty":    dirty,
			"backup_path":  result.BackupPath,
			"embedded":     m.config.Schema.MigrationSource.IsEmbedded(),
		}).Info("database migration completed")
	} else {
		m.logger.WithField("version", newVersion).Debug("database schema is up to date")
	}
	return result, nil
}

// GetVersion reports the applied version, 0 when nothing was applied yet.
func (m *Migrator) GetVersion() (uint, bool, error) {
	db, closeDB, err := m.openDB()
	if err != nil {
		return 0, false, err
	}
	defer closeDB()
	mig, _, err := m.newMigrate(db)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := mig.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
