//go:build !dev

package store

import (
	"embed"
	"io/fs"

	"github.com/camvigil/camvigil/src/pkg/migration"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

type storeMigrationSource struct{}

func (s *storeMigrationSource) GetFS() (fs.FS, error) {
	return embeddedMigrations, nil
}

func (s *storeMigrationSource) GetSubDir() string {
	return "migrations"
}

func (s *storeMigrationSource) IsEmbedded() bool {
	return true
}

// GetMigrationSource returns the schema files compiled into the binary.
func GetMigrationSource() migration.MigrationSource {
	return &storeMigrationSource{}
}
