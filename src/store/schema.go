package store

import (
	"github.com/camvigil/camvigil/src/pkg/migration"
)

// ArchiveDatabaseSchema describes the segment catalog. It is critical: losing
// it loses the time index of every recording.
var ArchiveDatabaseSchema = &migration.DatabaseSchema{
	Name:            "archive",
	Category:        migration.CategoryCritical,
	MigrationSource: GetMigrationSource(),
}
