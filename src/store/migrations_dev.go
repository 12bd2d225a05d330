//go:build dev

package store

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/camvigil/camvigil/src/pkg/migration"
)

// storeMigrationSource reads the migrations from the source tree so schema
// edits are picked up without rebuilding.
type storeMigrationSource struct{}

func (s *storeMigrationSource) GetFS() (fs.FS, error) {
	_, currentFile, _, _ := runtime.Caller(0)
	return os.DirFS(filepath.Join(filepath.Dir(currentFile), "migrations")), nil
}

func (s *storeMigrationSource) GetSubDir() string {
	return "."
}

func (s *storeMigrationSource) IsEmbedded() bool {
	return false
}

func GetMigrationSource() migration.MigrationSource {
	return &storeMigrationSource{}
}
