// Package persistence implements the engine's durable, single-process,
// single-writer store: download records, per-segment HTTP progress,
// and torrent resume blobs, all transactional and snapshot-consistent on
// read.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQL driver.
	"github.com/pressly/goose"

	"github.com/gosh-dl/gosh/core"
	_ "github.com/gosh-dl/gosh/lib/persistence/migrations" // Add migrations.
)

// Store is the durable backing for every download record and its
// transport-specific resume state. All mutations go through a single
// *sqlx.DB with SetMaxOpenConns(1), giving single-writer discipline without
// an explicit serialization queue — sqlite itself serializes at that point.
type Store struct {
	db *sqlx.DB
}

// Open creates the parent directory if absent, opens (creating if
// necessary) the sqlite database at config.Path, and runs any pending goose
// migrations, tolerating older schema versions
func Open(config Config) (*Store, error) {
	config = config.applyDefaults()

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return nil, fmt.Errorf("persistence: ensure data dir: %s", err)
		}
	}

	db, err := sqlx.Open("sqlite3", config.Path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite3: %s", err)
	}
	// SQLite errors on concurrent writers from multiple connections; the
	// engine's single-writer discipline is enforced here at the
	// connection-pool level.
	db.SetMaxOpenConns(1)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("persistence: set dialect: %s", err)
	}
	if err := goose.Up(db.DB, "."); err != nil {
		return nil, fmt.Errorf("persistence: migrate: %s", err)
	}

	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRecord upserts r: a fresh id inserts a new row, an existing id
// replaces it in place. Called on every add and on every state transition,
// plus the periodic checkpoint sweep.
func (s *Store) SaveRecord(r *Record) error {
	rr, err := toRow(r)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExec(`
		INSERT INTO downloads (id, kind, options, state, error, created_at, completed_at, priority, source)
		VALUES (:id, :kind, :options, :state, :error, :created_at, :completed_at, :priority, :source)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			options = excluded.options,
			state = excluded.state,
			error = excluded.error,
			completed_at = excluded.completed_at,
			priority = excluded.priority,
			source = excluded.source
	`, rr)
	if err != nil {
		return fmt.Errorf("persistence: save record %s: %s", r.ID.Short(), err)
	}
	return nil
}

// LoadRecord returns the record for id, or ErrRecordNotFound.
func (s *Store) LoadRecord(id core.DownloadID) (*Record, error) {
	var rr row
	err := s.db.Get(&rr, `
		SELECT id, kind, options, state, error, created_at, completed_at, priority, source
		FROM downloads WHERE id = ?
	`, id.String())
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("persistence: load record %s: %s", id.Short(), err)
	}
	return fromRow(&rr)
}

// ListRecords returns every persisted record, in no particular order — the
// admission scheduler re-sorts by (priority desc, created_at asc) itself.
func (s *Store) ListRecords() ([]*Record, error) {
	var rows []row
	if err := s.db.Select(&rows, `
		SELECT id, kind, options, state, error, created_at, completed_at, priority, source
		FROM downloads
	`); err != nil {
		return nil, fmt.Errorf("persistence: list records: %s", err)
	}
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteRecord removes id's row and any associated segment/resume rows.
// Called by cancel() and by history-purge.
func (s *Store) DeleteRecord(id core.DownloadID) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("persistence: begin delete: %s", err)
	}
	defer tx.Rollback()

	sid := id.String()
	if _, err := tx.Exec(`DELETE FROM downloads WHERE id = ?`, sid); err != nil {
		return fmt.Errorf("persistence: delete record: %s", err)
	}
	if _, err := tx.Exec(`DELETE FROM http_segments WHERE id = ?`, sid); err != nil {
		return fmt.Errorf("persistence: delete segments: %s", err)
	}
	if _, err := tx.Exec(`DELETE FROM torrent_resume WHERE id = ?`, sid); err != nil {
		return fmt.Errorf("persistence: delete resume: %s", err)
	}
	return tx.Commit()
}

// segmentRow is the sqlx scan/bind target for http_segments.
type segmentRow struct {
	ID        string `db:"id"`
	Idx       int    `db:"idx"`
	Start     int64  `db:"start"`
	End       int64  `db:"end"`
	Completed int64  `db:"completed"`
}

// SaveHTTPSegments atomically replaces the full segment set for id with
// segs, the per-checkpoint write the HTTP downloader performs every 5s and
// on every state transition.
func (s *Store) SaveHTTPSegments(id core.DownloadID, segs []HTTPSegment) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("persistence: begin save segments: %s", err)
	}
	defer tx.Rollback()

	sid := id.String()
	if _, err := tx.Exec(`DELETE FROM http_segments WHERE id = ?`, sid); err != nil {
		return fmt.Errorf("persistence: clear segments: %s", err)
	}
	for _, seg := range segs {
		_, err := tx.NamedExec(`
			INSERT INTO http_segments (id, idx, start, end, completed)
			VALUES (:id, :idx, :start, :end, :completed)
		`, segmentRow{ID: sid, Idx: seg.Index, Start: seg.Start, End: seg.End, Completed: seg.Completed})
		if err != nil {
			return fmt.Errorf("persistence: insert segment %d: %s", seg.Index, err)
		}
	}
	return tx.Commit()
}

// LoadHTTPSegments returns the persisted segment set for id, ordered by
// index, or an empty slice if none is recorded.
func (s *Store) LoadHTTPSegments(id core.DownloadID) ([]HTTPSegment, error) {
	var rows []segmentRow
	if err := s.db.Select(&rows, `
		SELECT id, idx, start, end, completed FROM http_segments
		WHERE id = ? ORDER BY idx ASC
	`, id.String()); err != nil {
		return nil, fmt.Errorf("persistence: load segments: %s", err)
	}
	out := make([]HTTPSegment, len(rows))
	for i, r := range rows {
		out[i] = HTTPSegment{Index: r.Idx, Start: r.Start, End: r.End, Completed: r.Completed}
	}
	return out, nil
}

// torrentResumeRow is the sqlx scan/bind target for torrent_resume.
type torrentResumeRow struct {
	ID            string `db:"id"`
	Bitfield      []byte `db:"bitfield"`
	PartialBlocks []byte `db:"partial_blocks"`
	SelectedFiles string `db:"selected_files"`
}

// SaveTorrentResume upserts the resume blob for a torrent download.
func (s *Store) SaveTorrentResume(id core.DownloadID, resume TorrentResume) error {
	selJSON, err := json.Marshal(resume.SelectedFiles)
	if err != nil {
		return fmt.Errorf("persistence: marshal selected files: %s", err)
	}
	_, err = s.db.NamedExec(`
		INSERT INTO torrent_resume (id, bitfield, partial_blocks, selected_files)
		VALUES (:id, :bitfield, :partial_blocks, :selected_files)
		ON CONFLICT(id) DO UPDATE SET
			bitfield = excluded.bitfield,
			partial_blocks = excluded.partial_blocks,
			selected_files = excluded.selected_files
	`, torrentResumeRow{
		ID:            id.String(),
		Bitfield:      resume.Bitfield,
		PartialBlocks: resume.PartialBlocks,
		SelectedFiles: string(selJSON),
	})
	if err != nil {
		return fmt.Errorf("persistence: save torrent resume %s: %s", id.Short(), err)
	}
	return nil
}

// LoadTorrentResume returns the resume blob for id, or ErrRecordNotFound if
// none was ever saved (e.g. a torrent still mid-metadata-fetch).
func (s *Store) LoadTorrentResume(id core.DownloadID) (*TorrentResume, error) {
	var rr torrentResumeRow
	err := s.db.Get(&rr, `
		SELECT id, bitfield, partial_blocks, selected_files FROM torrent_resume
		WHERE id = ?
	`, id.String())
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("persistence: load torrent resume %s: %s", id.Short(), err)
	}
	var sel []int
	if rr.SelectedFiles != "" {
		if err := json.Unmarshal([]byte(rr.SelectedFiles), &sel); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal selected files: %s", err)
		}
	}
	return &TorrentResume{
		Bitfield:      rr.Bitfield,
		PartialBlocks: rr.PartialBlocks,
		SelectedFiles: sel,
	}, nil
}
