// Package migrations holds the embedded goose schema migrations for the
// persistence store, imported for side effect (goose.AddMigration) by
// lib/persistence.
package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up0001, down0001)
}

func up0001(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS downloads (
			id           text      NOT NULL PRIMARY KEY,
			kind         integer   NOT NULL,
			options      text      NOT NULL,
			state        integer   NOT NULL,
			error        text,
			created_at   text      NOT NULL,
			completed_at text
		);
	`); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS http_segments (
			id        text    NOT NULL,
			idx       integer NOT NULL,
			start     integer NOT NULL,
			end       integer NOT NULL,
			completed integer NOT NULL,
			PRIMARY KEY(id, idx)
		);
	`); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS torrent_resume (
			id             text NOT NULL PRIMARY KEY,
			bitfield       blob NOT NULL,
			partial_blocks blob,
			selected_files text
		);
	`); err != nil {
		return err
	}
	return nil
}

func down0001(tx *sql.Tx) error {
	if _, err := tx.Exec(`DROP TABLE downloads;`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DROP TABLE http_segments;`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DROP TABLE torrent_resume;`); err != nil {
		return err
	}
	return nil
}
