// Package tracker implements BEP-3 HTTP and BEP-15 UDP tracker clients, the
// Torrent Session's primary means of peer acquisition.
package tracker

import (
	"net"
	"time"

	"github.com/gosh-dl/gosh/core"
)

// Event is the announce event reported to a tracker, per BEP-3.
type Event string

// Announce events.
const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
)

// AnnounceRequest carries the parameters of one tracker announce.
type AnnounceRequest struct {
	InfoHash   core.InfoHash
	PeerID     core.PeerID
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
	NumWant    int
}

// AnnounceResponse is a tracker's reply to an announce.
type AnnounceResponse struct {
	Interval time.Duration
	Peers    []Peer
}

// Peer is a tracker-provided candidate address.
type Peer struct {
	ID   core.PeerID
	Addr *net.TCPAddr
}

// Client announces to a single tracker endpoint, HTTP or UDP.
type Client interface {
	Announce(req AnnounceRequest) (*AnnounceResponse, error)
	Scheme() string
}

// defaultNumWant is requested when the caller doesn't specify one.
const defaultNumWant = 50
