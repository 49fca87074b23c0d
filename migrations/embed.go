// Package migrations compiles the schema SQL into the binary so the
// runtime can migrate its address database without any files on disk.
// Importing the package (blank import in main) is what registers the
// embedded filesystem with the database layer.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
