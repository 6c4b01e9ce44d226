// Package choker implements the Torrent Session's choking algorithm:
// unchoke the best uploaders on a rolling window, rotate an optimistic
// unchoke slot, and switch criteria to best downloaders once seeding.
package choker

import (
	"sort"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/gosh-dl/gosh/core"
)

// Config controls choking cadence, mirroring core.TorrentConfig's
// choke/optimistic intervals.
type Config struct {
	UnchokeSlots       int
	ChokeRoundInterval time.Duration
	OptimisticInterval time.Duration
	RateWindow         time.Duration
}

func (c Config) applyDefaults() Config {
	if c.UnchokeSlots == 0 {
		c.UnchokeSlots = 4
	}
	if c.ChokeRoundInterval == 0 {
		c.ChokeRoundInterval = 10 * time.Second
	}
	if c.OptimisticInterval == 0 {
		c.OptimisticInterval = 30 * time.Second
	}
	if c.RateWindow == 0 {
		c.RateWindow = 20 * time.Second
	}
	return c
}

// PeerStats is the per-peer throughput sample the choker ranks on.
type PeerStats struct {
	PeerID         core.PeerID
	DownloadedRate float64 // bytes/sec this session received from the peer (uploader ranking)
	UploadedRate   float64 // bytes/sec this session sent to the peer (downloader ranking, seeding)
	Interested     bool
	NewlyConnected bool
}

// Decision is the choker's verdict for one peer.
type Decision struct {
	PeerID  core.PeerID
	Unchoke bool
}

// Choker runs the periodic choke/unchoke rounds for one torrent session.
type Choker struct {
	config      Config
	clk         clock.Clock
	seeding     func() bool
	lastOptimistic time.Time
	optimisticIdx  int
}

// New creates a Choker. seeding reports whether the torrent has completed
// and switched to seeding mode, in which case ranking uses upload rate
// instead of download rate (reciprocity-free).
func New(config Config, clk clock.Clock, seeding func() bool) *Choker {
	config = config.applyDefaults()
	return &Choker{config: config, clk: clk, seeding: seeding}
}

// Round computes which peers to unchoke this round. peers should contain
// every currently-connected peer's latest stats.
func (c *Choker) Round(peers []PeerStats) []Decision {
	ranked := make([]PeerStats, len(peers))
	copy(ranked, peers)

	rateOf := func(p PeerStats) float64 {
		if c.seeding() {
			return p.UploadedRate
		}
		return p.DownloadedRate
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return rateOf(ranked[i]) > rateOf(ranked[j])
	})

	unchoked := make(map[core.PeerID]bool, c.config.UnchokeSlots+1)
	slots := c.config.UnchokeSlots
	for _, p := range ranked {
		if slots == 0 {
			break
		}
		if !p.Interested {
			continue
		}
		unchoked[p.PeerID] = true
		slots--
	}

	if c.dueForOptimistic() {
		if candidate, ok := c.pickOptimistic(ranked, unchoked); ok {
			unchoked[candidate] = true
			c.lastOptimistic = c.clk.Now()
		}
	}

	decisions := make([]Decision, 0, len(peers))
	for _, p := range peers {
		decisions = append(decisions, Decision{PeerID: p.PeerID, Unchoke: unchoked[p.PeerID]})
	}
	return decisions
}

func (c *Choker) dueForOptimistic() bool {
	return c.clk.Now().Sub(c.lastOptimistic) >= c.config.OptimisticInterval
}

// pickOptimistic rotates through interested candidates not already
// unchoked, biasing toward newly-connected peers
func (c *Choker) pickOptimistic(ranked []PeerStats, unchoked map[core.PeerID]bool) (core.PeerID, bool) {
	var newcomers, rest []core.PeerID
	for _, p := range ranked {
		if unchoked[p.PeerID] || !p.Interested {
			continue
		}
		if p.NewlyConnected {
			newcomers = append(newcomers, p.PeerID)
		} else {
			rest = append(rest, p.PeerID)
		}
	}

	pool := newcomers
	if len(pool) == 0 {
		pool = rest
	}
	if len(pool) == 0 {
		return core.PeerID{}, false
	}

	c.optimisticIdx = c.optimisticIdx % len(pool)
	chosen := pool[c.optimisticIdx]
	c.optimisticIdx++
	return chosen, true
}
