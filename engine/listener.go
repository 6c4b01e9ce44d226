package engine

import (
	"net"
	"sync"
	"time"

	"github.com/gosh-dl/gosh/lib/peerwire"
)

// defaultInboundHandshakeTimeout applies when the engine's torrent config
// hasn't set one (Config.applyDefaults only resolves Torrent.HandshakeTimeout
// lazily, inside the first Session's own construction).
const defaultInboundHandshakeTimeout = 10 * time.Second

// peerListener is the engine's single shared inbound TCP listener for
// BitTorrent peer connections: one process, many Sessions, one listen
// port. A connecting peer names no torrent up front, so the listener has
// to read its handshake itself, learning the info hash it is there for,
// before it can hand the connection to the right Session.
type peerListener struct {
	e  *Engine
	ln net.Listener

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// newPeerListener opens e.config.ListenAddr. A bind failure is non-fatal to
// the engine as a whole (outbound-only operation still works); the caller
// logs and continues without inbound peer support.
func newPeerListener(e *Engine) (*peerListener, error) {
	ln, err := net.Listen("tcp", e.config.ListenAddr)
	if err != nil {
		return nil, err
	}
	return &peerListener{e: e, ln: ln}, nil
}

// serve accepts connections until the listener is closed. Each accepted
// connection is handled on its own goroutine so one slow or malicious peer
// can't stall the accept loop.
func (l *peerListener) serve() {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			return
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(nc)
		}()
	}
}

// handle reads the inbound handshake, routes it to the Session tracking its
// info hash (if any), and hands the connection off. A handshake that fails
// to parse, or names an info hash the engine isn't tracking, gets the
// connection closed without a reply — the same "mismatched info-hash closes
// the connection" posture specifies for the symmetric outbound case.
func (l *peerListener) handle(nc net.Conn) {
	timeout := l.e.config.Torrent.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultInboundHandshakeTimeout
	}
	hs, err := peerwire.ReadHandshake(nc, timeout)
	if err != nil {
		nc.Close()
		return
	}
	sess := l.e.sessionFor(hs.InfoHash)
	if sess == nil {
		nc.Close()
		return
	}
	sess.HandleInboundHandshake(nc, hs)
}

// close stops accepting new connections and waits for in-flight handshakes
// to finish.
func (l *peerListener) close() {
	l.closeOnce.Do(func() {
		l.ln.Close()
	})
	l.wg.Wait()
}
