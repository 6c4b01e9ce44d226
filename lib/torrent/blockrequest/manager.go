// Package blockrequest tracks in-flight block requests at BEP-3's block
// granularity: up to 10 pipelined 16 KiB requests per peer, each expiring
// after a timeout and becoming eligible for re-request from another peer.
package blockrequest

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/gosh-dl/gosh/core"
)

// Key identifies one outstanding block request.
type Key struct {
	Piece int
	Begin int
}

// Status enumerates a request's lifecycle.
type Status int

// Request statuses.
const (
	StatusPending Status = iota
	StatusExpired
	StatusInvalid
)

type request struct {
	peerID core.PeerID
	status Status
	sentAt time.Time
}

// Manager tracks outstanding block requests across all peers of one
// torrent session.
type Manager struct {
	mu sync.Mutex

	requests       map[Key]*request
	requestsByPeer map[core.PeerID]map[Key]bool

	clk           clock.Clock
	timeout       time.Duration
	pipelineLimit int
}

// New creates a Manager.
func New(clk clock.Clock, timeout time.Duration, pipelineLimit int) *Manager {
	if pipelineLimit == 0 {
		pipelineLimit = 10
	}
	return &Manager{
		requests:       make(map[Key]*request),
		requestsByPeer: make(map[core.PeerID]map[Key]bool),
		clk:            clk,
		timeout:        timeout,
		pipelineLimit:  pipelineLimit,
	}
}

// Quota returns how many additional block requests may currently be sent
// to peerID without exceeding the pipeline limit.
func (m *Manager) Quota(peerID core.PeerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	quota := m.pipelineLimit
	for k := range m.requestsByPeer[peerID] {
		if m.requests[k].status == StatusPending && !m.expired(m.requests[k]) {
			quota--
		}
	}
	if quota < 0 {
		quota = 0
	}
	return quota
}

// Add records a new outstanding request.
func (m *Manager) Add(peerID core.PeerID, k Key) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[k] = &request{peerID: peerID, status: StatusPending, sentAt: m.clk.Now()}
	if m.requestsByPeer[peerID] == nil {
		m.requestsByPeer[peerID] = make(map[Key]bool)
	}
	m.requestsByPeer[peerID][k] = true
}

// Complete removes a request once its block has arrived (or the piece it
// belonged to is discarded).
func (m *Manager) Complete(k Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(k)
}

// MarkInvalid flags a request as invalid, e.g. the enclosing piece failed
// its hash check, so it won't be treated as a clean completion.
func (m *Manager) MarkInvalid(k Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.requests[k]; ok {
		r.status = StatusInvalid
	}
}

// ClearPeer drops all bookkeeping for a disconnected peer, returning the
// keys that were still pending so the caller can re-request them.
func (m *Manager) ClearPeer(peerID core.PeerID) []Key {
	m.mu.Lock()
	defer m.mu.Unlock()

	var freed []Key
	for k := range m.requestsByPeer[peerID] {
		if r, ok := m.requests[k]; ok && r.status == StatusPending {
			freed = append(freed, k)
		}
		delete(m.requests, k)
	}
	delete(m.requestsByPeer, peerID)
	return freed
}

// Expired returns the keys of requests that have been pending longer than
// the timeout. The peer each was sent to is not reported.
func (m *Manager) Expired() []Key {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Key
	for k, r := range m.requests {
		if r.status == StatusPending && m.expired(r) {
			expired = append(expired, k)
		}
	}
	return expired
}

func (m *Manager) expired(r *request) bool {
	return m.clk.Now().After(r.sentAt.Add(m.timeout))
}

func (m *Manager) remove(k Key) {
	r, ok := m.requests[k]
	if !ok {
		return
	}
	delete(m.requests, k)
	if peerReqs, ok := m.requestsByPeer[r.peerID]; ok {
		delete(peerReqs, k)
		if len(peerReqs) == 0 {
			delete(m.requestsByPeer, r.peerID)
		}
	}
}
