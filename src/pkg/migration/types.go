// Package migration applies embedded SQL migrations to sqlite databases with
// golang-migrate, backing critical databases up before schema changes.
package migration

import (
	"database/sql"
	"io/fs"
)

type DatabaseCategory int

const (
	// CategoryCritical databases are copied aside before a pending migration
	// and restored when it fails.
	CategoryCritical DatabaseCategory = iota
	// CategoryNormal databases are migrated in place.
	CategoryNormal
)

// MigrationSource provides the *.up.sql / *.down.sql files.
type MigrationSource interface {
	GetFS() (fs.FS, error)
	// GetSubDir is the directory inside GetFS holding the files, "." for the root.
	GetSubDir() string
	IsEmbedded() bool
}

type DatabaseSchema struct {
	Name            string
	Category        DatabaseCategory
	MigrationSource MigrationSource
}

type MigrationConfig struct {
	DBPath string
	Schema *DatabaseSchema
	// DB is an already opened connection; when nil the migrator opens its own.
	DB *sql.DB
}

type MigrationResult struct {
	FromVersion uint
	ToVersion   uint
	WasDirty    bool
	BackupPath  string
}
