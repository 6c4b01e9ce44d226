package engine

import (
	"sort"
	"time"

	"github.com/gosh-dl/gosh/core"
)

// admissionLoop is the scheduler's actor: it wakes on a tick or an eager
// kick (add, cancel, priority change, terminal state) and re-evaluates
// which downloads should occupy the global concurrency budget. It also
// drives the periodic checkpoint sweep and the seed-ratio check
// that promotes a seeding torrent to Completed.
func (e *Engine) admissionLoop() {
	ticker := e.clk.Ticker(e.config.AdmissionTick)
	defer ticker.Stop()

	checkpointTicker := e.clk.Ticker(checkpointInterval)
	defer checkpointTicker.Stop()

	for {
		select {
		case <-ticker.C:
			e.runAdmission()
		case <-e.kick:
			e.runAdmission()
		case <-checkpointTicker.C:
			e.checkpointAll()
			e.checkSeedRatios()
		case <-e.shutdownH.Context().Done():
			return
		}
	}
}

// checkpointInterval is how often every active entry's resume state is
// persisted regardless of state-change activity, bounding data loss on an
// unclean shutdown to this window.
const checkpointInterval = 5 * time.Second

// candidate is the admission loop's sortable view of one entry.
type candidate struct {
	entry    *downloadEntry
	priority core.DownloadPriority
	created  int64 // UnixNano, for a stable tie-break independent of clock skew.
	state    core.DownloadState
}

// runAdmission recomputes the admitted set: every entry whose rank (by
// priority desc, created_at asc) falls within the concurrency cap among
// non-paused, non-errored, non-terminal entries is promoted if Queued, left
// alone if already active; everything outside the cap is demoted back to
// Queued if currently active. Paused, Error and terminal entries never
// participate.
func (e *Engine) runAdmission() {
	e.mu.RLock()
	candidates := make([]candidate, 0, len(e.downloads))
	for _, d := range e.downloads {
		d.mu.Lock()
		st := d.record.State
		if st == core.StatePaused || st == core.StateError || st.Terminal() {
			d.mu.Unlock()
			continue
		}
		candidates = append(candidates, candidate{
			entry:    d,
			priority: d.record.Options.Priority,
			created:  d.record.CreatedAt.UnixNano(),
			state:    st,
		})
		d.mu.Unlock()
	}
	e.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].created < candidates[j].created
	})

	slots := e.config.Engine.MaxConcurrentDownloads
	for i, c := range candidates {
		if i < slots {
			e.admit(c.entry, c.state)
		} else {
			e.demote(c.entry, c.state)
		}
	}
}

// admit promotes a Queued entry to Connecting and starts its transport.
// Anything already active is left untouched.
func (e *Engine) admit(d *downloadEntry, state core.DownloadState) {
	if state != core.StateQueued {
		return
	}

	d.mu.Lock()
	if d.record.State != core.StateQueued {
		// Changed since the candidate snapshot (paused or cancelled).
		d.mu.Unlock()
		return
	}
	d.record.State = core.StateConnecting
	id := d.record.ID
	var startFailure *core.Error
	if len(d.record.Source) == 0 {
		// Rows written before the source column existed carry an empty blob.
		startFailure = core.NewError(core.ErrPersistenceCorrupt, "record has no persisted source to restart from")
	} else {
		var startErr error
		if d.record.Kind == core.KindHTTP {
			e.startHTTP(d)
		} else {
			startErr = e.startTorrent(d)
		}
		if startErr != nil {
			startFailure = core.NewError(core.ErrInvalidInput, "start transport: %s", startErr)
		}
	}
	if startFailure != nil {
		d.record.State = core.StateError
		d.record.Err = startFailure
	}
	e.checkpointLocked(d)
	d.mu.Unlock()

	if startFailure != nil {
		e.bus.Publish(core.StateChangedEvent(id, core.StateConnecting, core.StateError))
		e.bus.Publish(core.FailedEvent(id, startFailure))
		return
	}
	e.bus.Publish(core.StateChangedEvent(id, core.StateQueued, core.StateConnecting))
}

// demote stops an active entry's transport and returns it to Queued, used
// when a higher-priority arrival bumps it out of the concurrency budget.
func (e *Engine) demote(d *downloadEntry, state core.DownloadState) {
	if !state.Active() {
		return
	}

	d.mu.Lock()
	old := d.record.State
	if !old.Active() {
		// Changed since the candidate snapshot (completed or paused).
		d.mu.Unlock()
		return
	}
	d.record.State = core.StateQueued
	id := d.record.ID
	d.mu.Unlock()

	e.stopTransports(d, false)
	e.checkpoint(d)

	e.bus.Publish(core.StateChangedEvent(id, old, core.StateQueued))
}

// checkpointAll persists every active entry's resume state on the periodic
// sweep, independent of any state-change-triggered checkpoint.
func (e *Engine) checkpointAll() {
	e.mu.RLock()
	entries := make([]*downloadEntry, 0, len(e.downloads))
	for _, d := range e.downloads {
		entries = append(entries, d)
	}
	e.mu.RUnlock()

	for _, d := range entries {
		e.checkpoint(d)
	}
}

// checkSeedRatios promotes a Seeding torrent to Completed once its upload
// ratio meets the configured seed ratio limit (the engine default when the
// download didn't set its own).
func (e *Engine) checkSeedRatios() {
	e.mu.RLock()
	entries := make([]*downloadEntry, 0, len(e.downloads))
	for _, d := range e.downloads {
		entries = append(entries, d)
	}
	e.mu.RUnlock()

	for _, d := range entries {
		d.mu.Lock()
		if d.record.State != core.StateSeeding || d.session == nil {
			d.mu.Unlock()
			continue
		}
		limit := d.session.SeedRatioLimit()
		down := d.session.DownloadedBytes()
		up := d.session.UploadedBytes()
		if limit <= 0 || down <= 0 || float64(up)/float64(down) < limit {
			d.mu.Unlock()
			continue
		}

		id := d.record.ID
		d.record.State = core.StateCompleted
		now := e.clk.Now()
		d.record.CompletedAt = &now
		d.mu.Unlock()

		e.stopTransports(d, false)
		e.checkpoint(d)

		e.bus.Publish(core.StateChangedEvent(id, core.StateSeeding, core.StateCompleted))
		e.bus.Publish(core.CompletedEvent(id))
		e.kickAdmission()
	}
}
