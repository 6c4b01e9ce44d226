// Package peerset manages one torrent session's peer connection lifecycle
// and capacity: pending vs active slots, a connection cap, and a blacklist
// for peers that served bad data.
package peerset

import (
	"errors"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/lib/peerwire"
)

// Errors returned by State's transition methods.
var (
	ErrAtCapacity         = errors.New("peerset: at capacity")
	ErrAlreadyPending     = errors.New("peerset: conn already pending")
	ErrAlreadyActive      = errors.New("peerset: conn already active")
	ErrInvalidTransition  = errors.New("peerset: conn must be pending to become active")
)

// Config bounds a single torrent session's peer set.
type Config struct {
	MaxPeers          int           `yaml:"max_peers"`
	BlacklistDuration time.Duration `yaml:"blacklist_duration"`
}

func (c Config) applyDefaults() Config {
	if c.MaxPeers == 0 {
		c.MaxPeers = 55
	}
	if c.BlacklistDuration == 0 {
		c.BlacklistDuration = 30 * time.Second
	}
	return c
}

type status int

const (
	statusPending status = iota
	statusActive
)

type entry struct {
	status status
	conn   *peerwire.Conn
}

type blacklistEntry struct {
	expiresAt time.Time
}

// State tracks pending/active connections and a blacklist for one torrent
// session. Not safe for concurrent use; the owning session serializes
// access.
type State struct {
	config    Config
	clk       clock.Clock
	logger    *zap.SugaredLogger
	conns     map[core.PeerID]entry
	blacklist map[core.PeerID]blacklistEntry
}

// New creates a State for one torrent session.
func New(config Config, clk clock.Clock, logger *zap.SugaredLogger) *State {
	config = config.applyDefaults()
	return &State{
		config:    config,
		clk:       clk,
		logger:    logger,
		conns:     make(map[core.PeerID]entry),
		blacklist: make(map[core.PeerID]blacklistEntry),
	}
}

// ActiveConns returns every currently active connection.
func (s *State) ActiveConns() []*peerwire.Conn {
	var active []*peerwire.Conn
	for _, e := range s.conns {
		if e.status == statusActive {
			active = append(active, e.conn)
		}
	}
	return active
}

// Saturated reports whether the peer set is at capacity.
func (s *State) Saturated() bool {
	return len(s.conns) >= s.config.MaxPeers
}

// Blacklisted reports whether peerID is currently blacklisted.
func (s *State) Blacklisted(peerID core.PeerID) bool {
	e, ok := s.blacklist[peerID]
	return ok && s.clk.Now().Before(e.expiresAt)
}

// Blacklist blacklists peerID for the configured duration, e.g. after a
// piece hash mismatch attributable to it.
func (s *State) Blacklist(peerID core.PeerID) {
	s.blacklist[peerID] = blacklistEntry{expiresAt: s.clk.Now().Add(s.config.BlacklistDuration)}
	s.logger.Debugw("blacklisted peer", "peer", peerID)
}

// AddPending reserves peer set capacity for a connection attempt in
// progress.
func (s *State) AddPending(peerID core.PeerID) error {
	if s.Saturated() {
		return ErrAtCapacity
	}
	switch s.conns[peerID].status {
	case statusPending:
		return ErrAlreadyPending
	case statusActive:
		return ErrAlreadyActive
	}
	s.conns[peerID] = entry{status: statusPending}
	return nil
}

// DeletePending releases a pending reservation that never became active,
// e.g. a failed handshake.
func (s *State) DeletePending(peerID core.PeerID) {
	if s.conns[peerID].status == statusPending {
		delete(s.conns, peerID)
	}
}

// MovePendingToActive transitions a pending reservation to a live
// connection.
func (s *State) MovePendingToActive(c *peerwire.Conn) error {
	if s.conns[c.PeerID].status != statusPending {
		return ErrInvalidTransition
	}
	s.conns[c.PeerID] = entry{status: statusActive, conn: c}
	return nil
}

// DeleteActive removes an active connection, e.g. on disconnect.
func (s *State) DeleteActive(c *peerwire.Conn) {
	if e, ok := s.conns[c.PeerID]; ok && e.status == statusActive && e.conn == c {
		delete(s.conns, c.PeerID)
	}
}

// Count returns the number of pending and active connections combined.
func (s *State) Count() int {
	return len(s.conns)
}
