package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up0002, down0002)
}

// up0002 adds a denormalized priority column so the admission scheduler can
// order queued downloads by (priority desc, created_at asc) with a plain
// index rather than unmarshaling the options JSON blob for every row on
// every tick. Existing rows default to Normal (1), matching
// core.PriorityNormal: older databases are migrated by adding the column
// with a default rather than rejected.
func up0002(tx *sql.Tx) error {
	if _, err := tx.Exec(`ALTER TABLE downloads ADD COLUMN priority integer NOT NULL DEFAULT 1;`); err != nil {
		return err
	}
	_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_downloads_priority ON downloads(priority, created_at);`)
	return err
}

func down0002(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP INDEX IF EXISTS idx_downloads_priority;`)
	return err
}
