package engine

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/lib/bencode"
	"github.com/gosh-dl/gosh/lib/httpdownload"
	"github.com/gosh-dl/gosh/lib/peerwire"
	"github.com/gosh-dl/gosh/lib/persistence"
	"github.com/gosh-dl/gosh/lib/piecestore"
	"github.com/gosh-dl/gosh/lib/torrent"
)

// torrentBlockSize is the piece store's block granularity, matching the
// peer-wire protocol's fixed request/piece block size.
const torrentBlockSize = peerwire.BlockSize

// downloadEntry is the engine's in-memory record of one tracked download:
// the durable Record plus whatever live transport object is currently
// driving it. A single sync.Mutex per entry is the engine's concurrency
// primitive, the same single-writer discipline persistence.Store gets
// from SetMaxOpenConns(1), without an explicit actor mailbox.
type downloadEntry struct {
	mu sync.Mutex

	record *persistence.Record

	// removed marks an entry being cancelled, so a concurrent periodic
	// checkpoint sweep can't resurrect its just-deleted row.
	removed bool

	displayName string

	// HTTP transport. Created once on first admission and kept across
	// pause/resume (Downloader.Pause/Resume round-trips on the same
	// object); only Cancel tears it down for good.
	http *httpdownload.Downloader

	// Torrent/magnet transport. Session has no pause primitive, so a
	// demotion or explicit pause tears it down and a later admission
	// reconstructs it fresh from record.Source plus any persisted
	// torrent_resume blob. mi is cached across an in-process
	// pause/resume so a resolved magnet doesn't need to be rediscovered
	// from peers. A process restart loses this cache and falls back to
	// NewFromMagnet, which rediscovers it.
	session  *torrent.Session
	infoHash core.InfoHash
	pstore   *piecestore.Store
	mi       *bencode.MetaInfo

	progress core.Progress
	peers    []core.PeerInfo

	lastCheckpoint time.Time
	lastSampleAt   time.Time
	uploadedTotal  int64
}

// isMagnetSource reports whether source looks like a magnet URI
// (KindMagnet, possibly promoted in-memory to KindTorrent once resolved) as
// opposed to raw .torrent metafile bytes (KindTorrent from AddTorrent).
// Source's shape, not the persisted Kind field, is authoritative for
// reconstruction: a promoted magnet still only has its original URI to
// rebuild from.
func isMagnetSource(source []byte) bool {
	return bytes.HasPrefix(source, []byte("magnet:"))
}

// startHTTP constructs (first admission) or resumes (subsequent admission)
// this entry's HTTP downloader.
func (e *Engine) startHTTP(d *downloadEntry) {
	if d.http == nil {
		d.http = httpdownload.NewDownloader(
			e.config.HTTP,
			e.clk, e.logger, e.limiter, d.record.ID,
			string(d.record.Source), d.record.Options, httpEvents{e},
		)
		if segs, err := e.store.LoadHTTPSegments(d.record.ID); err == nil && len(segs) > 0 {
			snaps := make([]httpdownload.SegmentSnapshot, len(segs))
			for i, s := range segs {
				snaps[i] = httpdownload.SegmentSnapshot{Index: s.Index, Start: s.Start, End: s.End, Completed: s.Completed}
			}
			d.http.Seed(snaps)
		}
		d.http.Start()
		return
	}
	d.http.Resume()
}

// stopTransports stops whatever live transports d currently owns,
// checkpointing their resume blobs first unless cancel (cancel deletes the
// persisted rows outright). It must be called WITHOUT d.mu held: stopping
// blocks until the transport's goroutines exit, and those goroutines call
// back into the engine's event handlers, which take d.mu. Callers must have
// already moved d.record.State out of the admissible set so the admission
// loop cannot start a second worker set while the mutex is free.
func (e *Engine) stopTransports(d *downloadEntry, cancel bool) {
	d.mu.Lock()
	http := d.http
	sess := d.session
	ih := d.infoHash
	d.mu.Unlock()

	if http != nil {
		if cancel {
			http.TearDown()
		} else {
			http.Pause()
		}
	}
	if sess != nil {
		e.unregisterSession(ih)
		sess.TearDown()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if http != nil && !cancel {
		e.checkpointHTTP(d)
	}
	if sess != nil {
		if !cancel {
			e.checkpointTorrent(d)
		}
		if d.session == sess {
			d.session = nil
			if d.pstore != nil {
				d.pstore.Close()
				d.pstore = nil
			}
		}
	}
}

func (e *Engine) checkpointHTTP(d *downloadEntry) {
	if d.http == nil {
		return
	}
	snaps := d.http.Segments()
	segs := make([]persistence.HTTPSegment, len(snaps))
	for i, s := range snaps {
		segs[i] = persistence.HTTPSegment{Index: s.Index, Start: s.Start, End: s.End, Completed: s.Completed}
	}
	if err := e.store.SaveHTTPSegments(d.record.ID, segs); err != nil {
		e.logger.Warnw("checkpoint http segments failed", "download_id", d.record.ID.Short(), "error", err)
	}
}

// startTorrent constructs this entry's Session (always fresh: Session has
// no restart primitive) and launches its background loops. record.Source's
// shape decides which constructor to use: a magnet URI starts (or
// restarts) a metadata-fetching session; raw .torrent bytes, or a cached
// resolved MetaInfo from an earlier in-process resolution, start one that
// already knows its piece layout.
func (e *Engine) startTorrent(d *downloadEntry) error {
	if d.mi == nil && isMagnetSource(d.record.Source) {
		return e.startMagnetSession(d)
	}

	mi := d.mi
	if mi == nil {
		var err error
		mi, err = bencode.Parse(d.record.Source)
		if err != nil {
			return fmt.Errorf("parse metainfo: %s", err)
		}
		d.mi = mi
	}

	store, err := e.openPieceStore(d.record, mi)
	if err != nil {
		return err
	}
	d.pstore = store
	d.displayName = mi.Name()
	d.infoHash = mi.InfoHash()
	d.session = torrent.NewFromMetaInfo(
		e.config.Torrent, e.clk, e.logger, e.stats.SubScope("torrent"),
		e.localPeerID, d.record.ID,
		mi, store, e.limiter, d.record.Options, torrentEvents{e},
	)
	e.registerSession(d.infoHash, d.session)
	d.session.Start()
	return nil
}

func (e *Engine) startMagnetSession(d *downloadEntry) error {
	m, err := bencode.ParseMagnet(string(d.record.Source))
	if err != nil {
		return fmt.Errorf("parse magnet: %s", err)
	}
	d.displayName = m.Name
	d.infoHash = m.InfoHash
	d.session = torrent.NewFromMagnet(
		e.config.Torrent, e.clk, e.logger, e.stats.SubScope("torrent"),
		e.localPeerID, d.record.ID,
		m, e.limiter, d.record.Options, torrentEvents{e},
	)
	e.registerSession(d.infoHash, d.session)
	d.session.Start()
	return nil
}

func (e *Engine) checkpointTorrent(d *downloadEntry) {
	if d.pstore == nil {
		return
	}
	bf, err := d.pstore.MarshalBitfield()
	if err != nil {
		e.logger.Warnw("marshal torrent bitfield failed", "download_id", d.record.ID.Short(), "error", err)
		return
	}
	resume := persistence.TorrentResume{Bitfield: bf, SelectedFiles: d.record.Options.SelectedFiles}
	if err := e.store.SaveTorrentResume(d.record.ID, resume); err != nil {
		e.logger.Warnw("checkpoint torrent resume failed", "download_id", d.record.ID.Short(), "error", err)
	}
}

// openPieceStore constructs a fresh piece store for mi under record's save
// directory, restoring and re-verifying any persisted resume bitfield.
// Resume is best-effort: bits that no longer match disk content are dropped
// and re-downloaded.
func (e *Engine) openPieceStore(record *persistence.Record, mi *bencode.MetaInfo) (*piecestore.Store, error) {
	saveDir := record.Options.SaveDir
	if len(mi.Files()) > 1 {
		saveDir = filepath.Join(saveDir, mi.Name())
	}

	store, err := piecestore.New(e.logger, e.config.PieceStore, saveDir, mi, torrentBlockSize)
	if err != nil {
		return nil, fmt.Errorf("open piece store: %s", err)
	}

	resume, err := e.store.LoadTorrentResume(record.ID)
	if err != nil {
		if err == persistence.ErrRecordNotFound {
			return store, nil
		}
		store.Close()
		return nil, fmt.Errorf("load torrent resume: %s", err)
	}
	if len(resume.Bitfield) == 0 {
		return store, nil
	}
	if err := store.RestoreBitfield(resume.Bitfield); err != nil {
		e.logger.Warnw("restore bitfield failed, starting from scratch", "download_id", record.ID.Short(), "error", err)
		return store, nil
	}
	dropped, err := store.VerifyAll()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("verify restored pieces: %s", err)
	}
	if dropped > 0 {
		e.logger.Infow("dropped mismatching resumed pieces", "download_id", record.ID.Short(), "count", dropped)
	}
	return store, nil
}

// stopEntry stops whatever transport d currently owns and persists its
// final checkpoint, used during Shutdown where every in-flight download is
// forced to a stop regardless of state.
func (e *Engine) stopEntry(d *downloadEntry) {
	e.stopTransports(d, false)
	e.checkpoint(d)
}

// checkpoint persists d's current Record and, if it owns a live transport,
// its resume blob, then clears the lastCheckpoint debounce timer.
func (e *Engine) checkpoint(d *downloadEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e.checkpointLocked(d)
}

func (e *Engine) checkpointLocked(d *downloadEntry) {
	if d.removed {
		return
	}
	if d.http != nil {
		e.checkpointHTTP(d)
	}
	if d.pstore != nil {
		e.checkpointTorrent(d)
	}
	if err := e.store.SaveRecord(persistedCopy(d.record)); err != nil {
		e.logger.Warnw("checkpoint record failed", "download_id", d.record.ID.Short(), "error", err)
	}
	d.lastCheckpoint = e.clk.Now()
}

// persistedCopy returns a copy of r with its State collapsed per
// persistence.CollapseState, the only transformation a Record needs before
// SaveRecord.
func persistedCopy(r *persistence.Record) *persistence.Record {
	cp := *r
	cp.State = persistence.CollapseState(r.State)
	return &cp
}
