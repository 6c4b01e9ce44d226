package engine

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/lib/bencode"
	"github.com/gosh-dl/gosh/lib/persistence"
)

// ErrNotFound is returned by Status/Pause/Resume/Cancel/SetPriority when no
// record with the given id is tracked by this engine.
var ErrNotFound = errors.New("engine: download not found")

// AddHTTP registers a new KindHTTP download for rawURL. The URL is
// validated eagerly: a malformed or non-HTTP(S) URL returns ErrInvalidInput
// and creates no record.
func (e *Engine) AddHTTP(rawURL string, opts core.DownloadOptions) (core.DownloadID, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return core.DownloadID{}, core.NewError(core.ErrInvalidInput, "invalid http(s) url %q", rawURL)
	}
	return e.addRecord(core.KindHTTP, []byte(rawURL), "", core.InfoHash{}, opts)
}

// AddMagnet registers a new KindMagnet download for uri. The magnet URI is
// parsed eagerly to reject malformed input before any record is created;
// the session itself resolves full metainfo later via BEP-9.
func (e *Engine) AddMagnet(uri string, opts core.DownloadOptions) (core.DownloadID, error) {
	m, err := bencode.ParseMagnet(uri)
	if err != nil {
		return core.DownloadID{}, core.NewError(core.ErrInvalidInput, "invalid magnet uri: %s", err)
	}
	return e.addRecord(core.KindMagnet, []byte(uri), m.Name, m.InfoHash, opts)
}

// AddTorrent registers a new KindTorrent download for a raw .torrent
// metafile. The metafile is parsed eagerly so a corrupt upload is rejected
// before a record exists.
func (e *Engine) AddTorrent(metafileBytes []byte, opts core.DownloadOptions) (core.DownloadID, error) {
	mi, err := bencode.Parse(metafileBytes)
	if err != nil {
		return core.DownloadID{}, core.NewError(core.ErrInvalidInput, "invalid torrent metafile: %s", err)
	}
	cp := make([]byte, len(metafileBytes))
	copy(cp, metafileBytes)
	return e.addRecord(core.KindTorrent, cp, mi.Name(), mi.InfoHash(), opts)
}

// addRecord is the shared tail of every add_* call: mint an id, persist a
// fresh Record in Queued, register its rate-limiter bucket, publish Added,
// and kick the admission loop so it doesn't have to wait for the next
// tick. All O(1) work: the call may suspend only on the persistence write
// and on the event bus publish.
func (e *Engine) addRecord(kind core.DownloadKind, source []byte, displayName string, infoHash core.InfoHash, opts core.DownloadOptions) (core.DownloadID, error) {
	if !opts.Priority.Valid() {
		opts.Priority = core.PriorityNormal
	}
	if opts.SaveDir == "" {
		opts.SaveDir = e.config.Engine.DownloadDir
	}

	id, err := core.NewDownloadID()
	if err != nil {
		return core.DownloadID{}, fmt.Errorf("generate download id: %s", err)
	}

	record := &persistence.Record{
		ID:        id,
		Kind:      kind,
		Options:   opts,
		State:     core.StateQueued,
		Source:    source,
		CreatedAt: e.clk.Now(),
	}
	if err := e.store.SaveRecord(record); err != nil {
		return core.DownloadID{}, fmt.Errorf("persist new record: %s", err)
	}

	e.limiter.RegisterDownload(id, opts.Priority, opts.MaxDownloadSpeed, opts.MaxUploadSpeed)

	e.mu.Lock()
	e.downloads[id] = &downloadEntry{record: record, displayName: displayName, infoHash: infoHash}
	e.mu.Unlock()

	e.bus.Publish(core.AddedEvent(id))
	e.kickAdmission()
	return id, nil
}

// List returns a status snapshot of every tracked download.
func (e *Engine) List() []core.DownloadStatus {
	return e.filterStatus(func(core.DownloadState) bool { return true })
}

// Active returns every download currently occupying the concurrency
// budget: Connecting, Downloading, or upload-active Seeding.
func (e *Engine) Active() []core.DownloadStatus {
	return e.filterStatus(core.DownloadState.Active)
}

// Waiting returns every Queued download.
func (e *Engine) Waiting() []core.DownloadStatus {
	return e.filterStatus(func(s core.DownloadState) bool { return s == core.StateQueued })
}

// Stopped returns every Paused, Completed, or Error download.
func (e *Engine) Stopped() []core.DownloadStatus {
	return e.filterStatus(func(s core.DownloadState) bool {
		return s == core.StatePaused || s == core.StateCompleted || s == core.StateError
	})
}

func (e *Engine) filterStatus(keep func(core.DownloadState) bool) []core.DownloadStatus {
	e.mu.RLock()
	entries := make([]*downloadEntry, 0, len(e.downloads))
	for _, d := range e.downloads {
		entries = append(entries, d)
	}
	e.mu.RUnlock()

	out := make([]core.DownloadStatus, 0, len(entries))
	for _, d := range entries {
		d.mu.Lock()
		st := d.record.State
		s := e.statusLocked(d)
		d.mu.Unlock()
		if keep(st) {
			out = append(out, s)
		}
	}
	return out
}

// Status returns the current denormalized view of one download.
func (e *Engine) Status(id core.DownloadID) (*core.DownloadStatus, error) {
	d := e.entry(id)
	if d == nil {
		return nil, ErrNotFound
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s := e.statusLocked(d)
	return &s, nil
}

// statusLocked builds a DownloadStatus from d. Caller must hold d.mu.
func (e *Engine) statusLocked(d *downloadEntry) core.DownloadStatus {
	r := d.record
	name := d.displayName
	meta := core.DownloadMetadata{
		Name:    name,
		SaveDir: r.Options.SaveDir,
	}
	switch r.Kind {
	case core.KindHTTP:
		meta.URL = string(r.Source)
		if name == "" {
			meta.Name = httpDisplayName(r.Options, meta.URL)
		}
	case core.KindMagnet:
		meta.Magnet = string(r.Source)
		if !d.infoHash.IsZero() {
			ih := d.infoHash
			meta.InfoHash = &ih
		}
	case core.KindTorrent:
		if !d.infoHash.IsZero() {
			ih := d.infoHash
			meta.InfoHash = &ih
		}
	}
	if r.Options.Filename != "" {
		meta.Filename = r.Options.Filename
	}

	status := core.DownloadStatus{
		ID:          r.ID,
		Kind:        r.Kind,
		State:       r.State,
		Priority:    r.Options.Priority,
		Progress:    d.progress,
		Metadata:    meta,
		Error:       r.Err,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
	status.TorrentInfo = e.buildTorrentInfo(d)
	if len(d.peers) > 0 {
		status.Peers = d.peers
	}
	return status
}

// buildTorrentInfo assembles the torrent-specific subset of a
// DownloadStatus from d's live metainfo and piece store,
// or nil if metadata hasn't resolved yet (a magnet still awaiting
// ut_metadata). Caller must hold d.mu.
func (e *Engine) buildTorrentInfo(d *downloadEntry) *core.TorrentInfo {
	if d.mi == nil {
		return nil
	}
	selected := selectedFileSet(d.record.Options.SelectedFiles)

	files := d.mi.Files()
	var perFile []int64
	if d.pstore != nil {
		perFile = d.pstore.FileProgress()
	}

	out := &core.TorrentInfo{
		PieceCount:  d.mi.NumPieces(),
		PieceLength: d.mi.PieceLength(),
		Private:     d.mi.Private(),
		Files:       make([]core.FileInfo, len(files)),
	}
	for i, fe := range files {
		fi := core.FileInfo{
			Path:     path.Join(fe.Path...),
			Length:   fe.Length,
			Selected: selected == nil || selected[i],
		}
		if i < len(perFile) {
			fi.CompletedSize = perFile[i]
		}
		out.Files[i] = fi
	}
	return out
}

func selectedFileSet(indices []int) map[int]bool {
	if len(indices) == 0 {
		return nil
	}
	m := make(map[int]bool, len(indices))
	for _, i := range indices {
		m[i] = true
	}
	return m
}

// httpDisplayName derives a display name for an HTTP download that hasn't
// reported one yet (probe result doesn't carry a name; the front-end falls
// back to the URL's basename the way most download managers do).
func httpDisplayName(opts core.DownloadOptions, rawURL string) string {
	if opts.Filename != "" {
		return opts.Filename
	}
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" && u.Path != "/" {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return rawURL
}

// Pause signals the transport to checkpoint and stop, then moves the
// record to Paused. The transport checkpoints within a bounded time before
// the call returns.
func (e *Engine) Pause(id core.DownloadID) error {
	d := e.entry(id)
	if d == nil {
		return ErrNotFound
	}

	d.mu.Lock()
	old := d.record.State
	if old == core.StatePaused || old.Terminal() {
		d.mu.Unlock()
		return nil
	}
	wasActive := old != core.StateQueued
	d.record.State = core.StatePaused
	d.mu.Unlock()

	e.stopTransports(d, false)
	e.checkpoint(d)

	if wasActive {
		e.bus.Publish(core.StateChangedEvent(id, old, core.StatePaused))
	}
	e.bus.Publish(core.PausedEvent(id))
	e.kickAdmission()
	return nil
}

// Resume moves a Paused (or Error, if recoverable) record back to Queued
// so the admission loop picks it up again.
func (e *Engine) Resume(id core.DownloadID) error {
	d := e.entry(id)
	if d == nil {
		return ErrNotFound
	}

	d.mu.Lock()
	old := d.record.State
	if old != core.StatePaused && !(old == core.StateError && d.record.Err != nil && d.record.Err.Recoverable) {
		d.mu.Unlock()
		return nil
	}
	d.record.State = core.StateQueued
	d.record.Err = nil
	e.checkpointLocked(d)
	d.mu.Unlock()

	e.bus.Publish(core.StateChangedEvent(id, old, core.StateQueued))
	e.bus.Publish(core.ResumedEvent(id))
	e.kickAdmission()
	return nil
}

// Cancel tears down any live transport, deletes the persisted record (and,
// if deleteFiles, unlinks the output files once the transport has released
// them), and publishes Removed.
func (e *Engine) Cancel(id core.DownloadID, deleteFiles bool) error {
	d := e.entry(id)
	if d == nil {
		return ErrNotFound
	}

	d.mu.Lock()
	paths := e.outputPathsLocked(d)
	d.record.State = core.StatePaused // keeps the admission loop away while workers wind down
	d.removed = true
	d.mu.Unlock()

	e.stopTransports(d, true)

	if err := e.store.DeleteRecord(id); err != nil && err != persistence.ErrRecordNotFound {
		return fmt.Errorf("delete record: %s", err)
	}
	e.limiter.UnregisterDownload(id)

	e.mu.Lock()
	delete(e.downloads, id)
	e.mu.Unlock()

	if deleteFiles {
		for _, p := range paths {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				e.logger.Warnw("cancel: failed to delete output file", "path", p, "error", err)
			}
		}
	}

	e.bus.Publish(core.RemovedEvent(id))
	e.kickAdmission()
	return nil
}

// outputPathsLocked returns the on-disk paths this download owns, used by
// Cancel's deleteFiles option. Caller must hold d.mu.
func (e *Engine) outputPathsLocked(d *downloadEntry) []string {
	if d.http != nil {
		return []string{d.http.OutputPath()}
	}
	if d.pstore != nil {
		return d.pstore.FilePaths()
	}
	return nil
}

// SetPriority changes a download's priority band and updates its
// rate-limiter band. Admission is kicked eagerly rather than waiting for
// the 1 Hz backstop, so a Queued record is re-sorted right away.
func (e *Engine) SetPriority(id core.DownloadID, p core.DownloadPriority) error {
	if !p.Valid() {
		return core.NewError(core.ErrInvalidInput, "invalid priority %d", int(p))
	}

	d := e.entry(id)
	if d == nil {
		return ErrNotFound
	}

	d.mu.Lock()
	d.record.Options.Priority = p
	e.checkpointLocked(d)
	d.mu.Unlock()

	if err := e.limiter.SetPriority(id, p); err != nil {
		e.logger.Warnw("set priority: limiter update failed", "download_id", id.Short(), "error", err)
	}
	e.kickAdmission()
	return nil
}
