package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up0003, down0003)
}

// up0003 adds the source blob the engine needs to reconstruct a transport
// after a restart: the raw URL for KindHTTP, the magnet URI for
// KindMagnet, and the original .torrent file bytes for KindTorrent.
// Existing rows default to an empty blob, matching add-columns-with-
// defaults tolerance; a record persisted before this migration cannot be
// resumed automatically and surfaces ErrPersistenceCorrupt when recovery
// tries to restart its transport.
func up0003(tx *sql.Tx) error {
	_, err := tx.Exec(`ALTER TABLE downloads ADD COLUMN source blob NOT NULL DEFAULT '';`)
	return err
}

func down0003(tx *sql.Tx) error {
	// SQLite cannot drop a column on older versions; the column is simply
	// left unused by a downgraded binary.
	return nil
}
