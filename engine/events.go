package engine

import (
	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/lib/bencode"
	"github.com/gosh-dl/gosh/lib/piecestore"
)

// httpEvents adapts Engine to httpdownload.Events. A distinct type is
// needed because httpdownload.Events and torrent.Events both declare an
// OnProgress/OnComplete method with different signatures — Go has no
// method overloading, so Engine itself can't implement both.
type httpEvents struct{ e *Engine }

func (h httpEvents) OnProgress(id core.DownloadID, completedSize int64, totalSize *int64, connections int) {
	h.e.onHTTPProgress(id, completedSize, totalSize, connections)
}

func (h httpEvents) OnComplete(id core.DownloadID) {
	h.e.onHTTPComplete(id)
}

func (h httpEvents) OnFailed(id core.DownloadID, err *core.Error) {
	h.e.onFailed(id, err)
}

// torrentEvents adapts Engine to torrent.Events.
type torrentEvents struct{ e *Engine }

func (t torrentEvents) OnMetaInfoResolved(id core.DownloadID, mi *bencode.MetaInfo) (*piecestore.Store, error) {
	return t.e.onMetaInfoResolved(id, mi)
}

func (t torrentEvents) OnPieceComplete(id core.DownloadID, piece int) {
	t.e.onPieceComplete(id, piece)
}

func (t torrentEvents) OnComplete(id core.DownloadID) {
	t.e.onTorrentComplete(id)
}

func (t torrentEvents) OnProgress(id core.DownloadID, completedSize, totalSize int64, peers int) {
	t.e.onTorrentProgress(id, completedSize, totalSize, peers)
}

func (e *Engine) entry(id core.DownloadID) *downloadEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.downloads[id]
}

func (e *Engine) onHTTPProgress(id core.DownloadID, completedSize int64, totalSize *int64, connections int) {
	d := e.entry(id)
	if d == nil {
		return
	}
	d.mu.Lock()
	old, transitioned := e.maybeLeaveConnecting(d)
	d.progress = e.sampleProgress(d, core.Progress{
		CompletedSize: completedSize,
		TotalSize:     totalSize,
		Connections:   connections,
	}, 0)
	p := d.progress
	d.mu.Unlock()
	if transitioned {
		e.bus.Publish(core.StateChangedEvent(id, old, core.StateDownloading))
	}
	e.bus.Publish(core.ProgressEvent(id, p))
}

// maybeLeaveConnecting moves d out of Connecting on its first transport
// event. Caller must hold d.mu.
func (e *Engine) maybeLeaveConnecting(d *downloadEntry) (old core.DownloadState, transitioned bool) {
	old = d.record.State
	if old != core.StateConnecting {
		return old, false
	}
	d.record.State = core.StateDownloading
	return old, true
}

func (e *Engine) onHTTPComplete(id core.DownloadID) {
	d := e.entry(id)
	if d == nil {
		return
	}
	d.mu.Lock()
	old := d.record.State
	d.record.State = core.StateCompleted
	now := e.clk.Now()
	d.record.CompletedAt = &now
	e.checkpointLocked(d)
	d.mu.Unlock()

	e.bus.Publish(core.StateChangedEvent(id, old, core.StateCompleted))
	e.bus.Publish(core.CompletedEvent(id))
	e.kickAdmission()
}

func (e *Engine) onFailed(id core.DownloadID, err *core.Error) {
	d := e.entry(id)
	if d == nil {
		return
	}
	d.mu.Lock()
	old := d.record.State
	d.record.State = core.StateError
	d.record.Err = err
	e.checkpointLocked(d)
	d.mu.Unlock()

	e.bus.Publish(core.StateChangedEvent(id, old, core.StateError))
	e.bus.Publish(core.FailedEvent(id, err))
	e.kickAdmission()
}

// onMetaInfoResolved fires once a magnet's metadata has been fetched and
// verified: the engine materializes the piece store the session needs to
// begin piece transfer, and promotes the in-memory and persisted Kind to
// Torrent so Status reports it correctly.
func (e *Engine) onMetaInfoResolved(id core.DownloadID, mi *bencode.MetaInfo) (*piecestore.Store, error) {
	d := e.entry(id)
	if d == nil {
		return nil, core.NewError(core.ErrInvalidInput, "unknown download %s", id.Short())
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	store, err := e.openPieceStore(d.record, mi)
	if err != nil {
		return nil, err
	}
	d.pstore = store
	d.mi = mi
	d.displayName = mi.Name()
	d.record.Kind = core.KindTorrent
	e.checkpointLocked(d)
	return store, nil
}

func (e *Engine) onPieceComplete(id core.DownloadID, piece int) {
	// Checkpointing happens on the periodic checkpoint loop and on every
	// pause/demotion/shutdown; per-piece persistence would be a write
	// storm for a large torrent, so this callback only exists to satisfy
	// torrent.Events — nothing to do here beyond what reportProgress
	// already drives.
	_ = piece
	_ = id
}

// onTorrentComplete fires once every selected piece has downloaded. This is
// not the terminal state for a torrent: the session keeps running so it can
// seed, so the download moves to Seeding, not Completed — a later
// checkSeedRatios pass (driven by the admission loop) promotes it to
// Completed once its seed ratio target is met.
func (e *Engine) onTorrentComplete(id core.DownloadID) {
	d := e.entry(id)
	if d == nil {
		return
	}
	d.mu.Lock()
	old := d.record.State
	if old == core.StateSeeding {
		d.mu.Unlock()
		return
	}
	d.record.State = core.StateSeeding
	e.checkpointLocked(d)
	d.mu.Unlock()

	e.bus.Publish(core.StateChangedEvent(id, old, core.StateSeeding))
}

func (e *Engine) onTorrentProgress(id core.DownloadID, completedSize, totalSize int64, peers int) {
	d := e.entry(id)
	if d == nil {
		return
	}
	total := totalSize
	var uploaded int64
	d.mu.Lock()
	old, transitioned := e.maybeLeaveConnecting(d)
	if d.session != nil {
		uploaded = d.session.UploadedBytes()
	}
	d.progress = e.sampleProgress(d, core.Progress{
		CompletedSize: completedSize,
		TotalSize:     &total,
		Peers:         peers,
	}, uploaded)
	if d.session != nil {
		d.progress.Seeders = d.session.SeederCount()
		d.peers = d.session.PeerInfos()
	}
	p := d.progress
	d.mu.Unlock()
	if transitioned {
		e.bus.Publish(core.StateChangedEvent(id, old, core.StateDownloading))
	}
	e.bus.Publish(core.ProgressEvent(id, p))
}

// progressSmoothing is the exponential smoothing factor applied to speed
// samples.
const progressSmoothing = 0.3

// sampleProgress folds the latest sample into d's previous progress,
// exponentially smoothing the speed fields over real elapsed time (not
// assumed to be exactly 1s, since httpdownload samples at 500ms and
// torrent.Session at 1s) while taking size/connection/peer counts as-is —
// those are point-in-time facts, not rates. uploadedTotal is the
// transport's cumulative uploaded-bytes counter, 0 for HTTP (which never
// uploads).
func (e *Engine) sampleProgress(d *downloadEntry, sample core.Progress, uploadedTotal int64) core.Progress {
	now := e.clk.Now()
	elapsed := now.Sub(d.lastSampleAt).Seconds()
	if d.lastSampleAt.IsZero() || elapsed <= 0 {
		elapsed = 1
	}
	prev := d.progress

	instDown := float64(sample.CompletedSize-prev.CompletedSize) / elapsed
	if instDown < 0 {
		instDown = 0
	}
	instUp := float64(uploadedTotal-d.uploadedTotal) / elapsed
	if instUp < 0 {
		instUp = 0
	}
	d.uploadedTotal = uploadedTotal
	d.lastSampleAt = now

	out := sample
	out.DownloadSpeed = progressSmoothing*instDown + (1-progressSmoothing)*prev.DownloadSpeed
	out.UploadSpeed = progressSmoothing*instUp + (1-progressSmoothing)*prev.UploadSpeed
	if out.TotalSize != nil && *out.TotalSize > 0 && out.DownloadSpeed > 0 {
		remaining := float64(*out.TotalSize-out.CompletedSize) / out.DownloadSpeed
		out.ETASeconds = &remaining
	}
	return out
}
