package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gosh-dl/gosh/core"
)

// Record is the durable projection of a download: identity, kind, options,
// collapsed state (in-flight transitions like Connecting are not persisted
// as such — see CollapseState), and timestamps. Transport-specific resume
// data lives in the sibling http_segments/torrent_resume tables, keyed by
// the same id.
type Record struct {
	ID      core.DownloadID
	Kind    core.DownloadKind
	Options core.DownloadOptions
	State   core.DownloadState
	Err     *core.Error

	// Source is the raw add_* argument, kept so the engine can reconstruct a
	// transport after a restart without the caller resupplying it: the URL
	// string for KindHTTP, the magnet URI string for KindMagnet, and the
	// raw .torrent file bytes for KindTorrent (KindMagnet promoted to
	// KindTorrent keeps its original magnet URI here, not the resolved
	// metainfo — metainfo is rediscovered from peers on resume).
	Source []byte

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// CollapseState maps a live in-memory state to the state that gets
// persisted: Connecting collapses to Queued, so a restart re-admits rather
// than assuming a half-finished connect succeeded. Every other state
// persists as-is.
func CollapseState(s core.DownloadState) core.DownloadState {
	if s == core.StateConnecting {
		return core.StateQueued
	}
	return s
}

// row is the sqlx scan/bind target for the downloads table. Options and
// Err are stored as JSON text blobs: DownloadOptions is a deep,
// optional-field-heavy struct where a JSON blob beats a column explosion.
type row struct {
	ID          string  `db:"id"`
	Kind        int     `db:"kind"`
	Options     string  `db:"options"`
	State       int     `db:"state"`
	ErrJSON     *string `db:"error"`
	CreatedAt   string  `db:"created_at"`
	CompletedAt *string `db:"completed_at"`
	Priority    int     `db:"priority"`
	Source      []byte  `db:"source"`
}

func toRow(r *Record) (*row, error) {
	optJSON, err := json.Marshal(r.Options)
	if err != nil {
		return nil, fmt.Errorf("persistence: marshal options: %s", err)
	}

	out := &row{
		ID:        r.ID.String(),
		Kind:      int(r.Kind),
		Options:   string(optJSON),
		State:     int(r.State),
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339Nano),
		Priority:  int(r.Options.Priority),
		Source:    r.Source,
	}
	if r.Err != nil {
		errJSON, err := json.Marshal(r.Err)
		if err != nil {
			return nil, fmt.Errorf("persistence: marshal error: %s", err)
		}
		s := string(errJSON)
		out.ErrJSON = &s
	}
	if r.CompletedAt != nil {
		s := r.CompletedAt.UTC().Format(time.RFC3339Nano)
		out.CompletedAt = &s
	}
	return out, nil
}

func fromRow(r *row) (*Record, error) {
	id, err := core.ParseDownloadID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse id: %s", err)
	}

	var opts core.DownloadOptions
	if err := json.Unmarshal([]byte(r.Options), &opts); err != nil {
		return nil, fmt.Errorf("persistence: unmarshal options: %s", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse created_at: %s", err)
	}

	out := &Record{
		ID:        id,
		Kind:      core.DownloadKind(r.Kind),
		Options:   opts,
		State:     core.DownloadState(r.State),
		Source:    r.Source,
		CreatedAt: createdAt,
	}

	if r.ErrJSON != nil {
		var e core.Error
		if err := json.Unmarshal([]byte(*r.ErrJSON), &e); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal error: %s", err)
		}
		out.Err = &e
	}
	if r.CompletedAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *r.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("persistence: parse completed_at: %s", err)
		}
		out.CompletedAt = &t
	}
	return out, nil
}

// HTTPSegment is the durable per-segment progress row for an HTTP
// download's resume blob, one row per segment in the http_segments table.
type HTTPSegment struct {
	Index     int
	Start     int64
	End       int64
	Completed int64
}

// TorrentResume is the durable resume blob for a torrent download (
// table torrent_resume): the completion bitfield, any partially-received
// block data for in-flight pieces, and the selected-file index set.
type TorrentResume struct {
	Bitfield      []byte
	PartialBlocks []byte
	SelectedFiles []int
}
