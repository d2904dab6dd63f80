package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed migrations/*.sql
var embeddedFS embed.FS

// RunMigrations applies every .sql file in fsys in lexical order. The
// statements are written to be re-runnable, so there is no version
// bookkeeping. A nil fsys uses the embedded set; callers that want a
// different source hand in any fs.FS (os.DirFS for a directory).
func RunMigrations(db *sql.DB, fsys fs.FS) error {
	if fsys == nil {
		sub, err := fs.Sub(embeddedFS, "migrations")
		if err != nil {
			return fmt.Errorf("embedded migrations: %w", err)
		}
		fsys = sub
	}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if len(data) == 0 {
			continue
		}
		if _, err := db.Exec(string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}
