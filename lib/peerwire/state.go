package peerwire

import "sync"

// State tracks the four-flag choke/interest state of one connection:
// (am_choking, am_interested, peer_choking, peer_interested), initially
// (true, false, true, false).
type State struct {
	mu sync.RWMutex

	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool
}

// NewState returns a State in its BEP-3 initial configuration.
func NewState() *State {
	return &State{amChoking: true, peerChoking: true}
}

// Snapshot returns the four flags' current values.
func (s *State) Snapshot() (amChoking, amInterested, peerChoking, peerInterested bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.amChoking, s.amInterested, s.peerChoking, s.peerInterested
}

// SetAmChoking updates whether this end is choking the peer.
func (s *State) SetAmChoking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amChoking = v
}

// AmChoking reports whether this end is choking the peer.
func (s *State) AmChoking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.amChoking
}

// SetAmInterested updates whether this end is interested in the peer.
func (s *State) SetAmInterested(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amInterested = v
}

// AmInterested reports whether this end is interested in the peer.
func (s *State) AmInterested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.amInterested
}

// SetPeerChoking updates whether the peer is choking this end.
func (s *State) SetPeerChoking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerChoking = v
}

// PeerChoking reports whether the peer is choking this end — while true,
// this end MUST NOT send request messages.
func (s *State) PeerChoking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerChoking
}

// SetPeerInterested updates whether the peer is interested in this end.
func (s *State) SetPeerInterested(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerInterested = v
}

// PeerInterested reports whether the peer is interested in this end.
func (s *State) PeerInterested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerInterested
}

// CanRequest reports whether this end may currently pipeline a request to
// the peer: the peer must not be choking us.
func (s *State) CanRequest() bool {
	return !s.PeerChoking()
}
