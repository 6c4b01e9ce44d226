package engine

import (
	"context"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/lib/eventbus"
	"github.com/gosh-dl/gosh/lib/persistence"
	"github.com/gosh-dl/gosh/lib/ratelimit"
	"github.com/gosh-dl/gosh/lib/torrent"
	"github.com/gosh-dl/gosh/utils/shutdown"
)

// Engine is the Engine Scheduler: the single process-lifetime
// object the front-end talks to. It owns the persistence store, the rate
// limiter, the event bus, every in-flight transport, and the admission
// actor that decides which of them get to run.
type Engine struct {
	config Config
	logger *zap.SugaredLogger
	stats  tally.Scope
	clk    clock.Clock

	store   *persistence.Store
	limiter *ratelimit.Limiter
	bus     *eventbus.Bus

	localPeerID core.PeerID
	listener    *peerListener

	shutdownH *shutdown.Handler

	mu        sync.RWMutex
	downloads map[core.DownloadID]*downloadEntry
	sessions  map[core.InfoHash]*torrent.Session

	kick chan struct{}
	wg   sync.WaitGroup
}

// registerSession makes s reachable by its info hash, so the inbound peer
// listener can demultiplex a new connection to the right Session.
func (e *Engine) registerSession(ih core.InfoHash, s *torrent.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[ih] = s
}

// unregisterSession removes ih's entry, called whenever a Session is torn
// down (pause, demotion, cancel, or completion-without-seeding).
func (e *Engine) unregisterSession(ih core.InfoHash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, ih)
}

// sessionFor looks up the live Session for ih, used by the inbound peer
// listener.
func (e *Engine) sessionFor(ih core.InfoHash) *torrent.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[ih]
}

// New opens the persistence store at config's path, recovers any
// previously-persisted downloads (re-queuing everything that is not
// Completed, Paused, or a non-recoverable Error), and starts the admission
// actor. The returned Engine is
// immediately usable; Shutdown must be called to release its resources.
func New(config Config, stats tally.Scope, logger *zap.SugaredLogger) (*Engine, error) {
	return newEngine(config, stats, logger, clock.New())
}

// newEngine is the testable constructor, taking an injectable clock the way
// lib/torrent and lib/httpdownload do for their own clk-driven loops.
func newEngine(config Config, stats tally.Scope, logger *zap.SugaredLogger, clk clock.Clock) (*Engine, error) {
	config = config.applyDefaults()
	if stats == nil {
		stats = tally.NoopScope
	}

	store, err := persistence.Open(config.Persistence)
	if err != nil {
		return nil, err
	}

	peerID, err := core.RandomPeerID()
	if err != nil {
		store.Close()
		return nil, err
	}

	e := &Engine{
		config:      config,
		logger:      logger,
		stats:       stats,
		clk:         clk,
		store:       store,
		limiter:     ratelimit.New(config.RateLimit, stats.SubScope("ratelimit")),
		bus:         eventbus.New(logger),
		localPeerID: peerID,
		shutdownH:   shutdown.New(context.Background()),
		downloads:   make(map[core.DownloadID]*downloadEntry),
		sessions:    make(map[core.InfoHash]*torrent.Session),
		kick:        make(chan struct{}, 1),
	}

	if err := e.recover(); err != nil {
		e.store.Close()
		return nil, err
	}

	l, err := newPeerListener(e)
	if err != nil {
		e.logger.Warnw("inbound peer listener disabled", "error", err)
	} else {
		e.listener = l
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.listener.serve()
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.admissionLoop()
	}()

	return e, nil
}

// recover loads every persisted Record, reconstructs an in-memory
// downloadEntry for it, and re-queues anything not already Completed,
// Paused, or a non-recoverable Error. A crash mid-download leaves
// Connecting collapsed to Queued, so recovery only ever needs to re-admit,
// never resume a half-finished connect.
func (e *Engine) recover() error {
	records, err := e.store.ListRecords()
	if err != nil {
		return err
	}
	for _, r := range records {
		d := &downloadEntry{record: r}
		e.downloads[r.ID] = d
		e.limiter.RegisterDownload(r.ID, r.Options.Priority, r.Options.MaxDownloadSpeed, r.Options.MaxUploadSpeed)

		if r.State.Terminal() {
			continue
		}
		if r.State == core.StateError && r.Err != nil && !r.Err.Recoverable {
			continue
		}
		if r.State == core.StatePaused {
			continue
		}
		r.State = core.StateQueued
	}
	return nil
}

// Subscribe returns a fresh subscription to every event published on this
// engine's bus.
func (e *Engine) Subscribe() *eventbus.Subscription {
	return e.bus.Subscribe()
}

// GlobalStats aggregates a point-in-time summary across every tracked
// download.
func (e *Engine) GlobalStats() core.GlobalStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var stats core.GlobalStats
	for _, d := range e.downloads {
		d.mu.Lock()
		switch d.record.State {
		case core.StateQueued:
			stats.QueuedDownloads++
		case core.StateConnecting, core.StateDownloading, core.StateSeeding:
			stats.ActiveDownloads++
		}
		stats.TotalDownloadSpeed += d.progress.DownloadSpeed
		stats.TotalUploadSpeed += d.progress.UploadSpeed
		stats.TotalPeers += d.progress.Peers
		d.mu.Unlock()
	}
	return stats
}

// kickAdmission wakes the admission loop immediately instead of waiting
// for its next tick.
func (e *Engine) kickAdmission() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Shutdown stops admitting new work, tears down every active transport
// (checkpointing each first) within config.ShutdownGracePeriod, and closes
// every owned resource. Idempotent.
func (e *Engine) Shutdown() {
	e.shutdownH.Shutdown()
	if e.listener != nil {
		e.listener.close()
	}
	e.wg.Wait()

	e.mu.RLock()
	entries := make([]*downloadEntry, 0, len(e.downloads))
	for _, d := range e.downloads {
		entries = append(entries, d)
	}
	e.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, d := range entries {
			d := d
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.stopEntry(d)
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-e.clk.After(e.config.ShutdownGracePeriod):
		e.logger.Warnw("shutdown grace period expired, forcing close")
	}

	e.limiter.Shutdown()
	e.bus.Close()
	e.store.Close()
}
