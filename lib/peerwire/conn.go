package peerwire

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/gosh-dl/gosh/core"
)

// Config configures a Conn's channel buffering and keep-alive cadence.
type Config struct {
	SenderBufferSize   int           `yaml:"sender_buffer_size"`
	ReceiverBufferSize int           `yaml:"receiver_buffer_size"`
	KeepAliveInterval  time.Duration `yaml:"keep_alive_interval"`
}

func (c Config) applyDefaults() Config {
	if c.SenderBufferSize == 0 {
		c.SenderBufferSize = 32
	}
	if c.ReceiverBufferSize == 0 {
		c.ReceiverBufferSize = 32
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 2 * time.Minute
	}
	return c
}

// Conn manages one peer wire connection's read and write loops: a
// sender/receiver channel pair, two goroutines cooperating through them,
// and an atomic closed flag rather than lock-guarded shutdown state.
type Conn struct {
	PeerID   core.PeerID
	InfoHash core.InfoHash
	State    *State

	createdAt time.Time
	nc        net.Conn
	br        *bufio.Reader
	config    Config
	logger    *zap.SugaredLogger
	stats     tally.Scope

	openedByRemote bool

	sender   chan *Message
	receiver chan *Message

	closed    atomic.Bool
	done      chan struct{}
	startOnce sync.Once
	wg        sync.WaitGroup
}

// New wraps an already-handshaked net.Conn in a Conn, ready for Start.
// stats is tagged by peer direction; nil stats is replaced with a no-op
// scope.
func New(config Config, nc net.Conn, peerID core.PeerID, infoHash core.InfoHash, openedByRemote bool, logger *zap.SugaredLogger, stats tally.Scope) *Conn {
	config = config.applyDefaults()
	if err := nc.SetDeadline(time.Time{}); err != nil {
		logger.Warnw("failed to clear conn deadline", "error", err)
	}
	if stats == nil {
		stats = tally.NoopScope
	}
	return &Conn{
		PeerID:         peerID,
		InfoHash:       infoHash,
		State:          NewState(),
		createdAt:      time.Now(),
		nc:             nc,
		br:             bufio.NewReader(nc),
		config:         config,
		logger:         logger,
		stats:          stats.Tagged(map[string]string{"peer": peerID.String()}),
		openedByRemote: openedByRemote,
		sender:         make(chan *Message, config.SenderBufferSize),
		receiver:       make(chan *Message, config.ReceiverBufferSize),
		done:           make(chan struct{}),
	}
}

// Start launches the read and write loops. Safe to call more than once;
// only the first call has effect.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	})
}

// Send enqueues msg for the write loop. Returns immediately with an error
// if the connection is already closed or the sender mailbox is saturated
// and the conn has since closed.
func (c *Conn) Send(msg *Message) error {
	select {
	case c.sender <- msg:
		return nil
	case <-c.done:
		return net.ErrClosed
	}
}

// Receive returns the channel of messages read from the peer.
func (c *Conn) Receive() <-chan *Message {
	return c.receiver
}

// Done returns a channel closed when the connection has shut down, either
// due to an I/O error or an explicit Close.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// CreatedAt returns when this Conn was constructed.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// OpenedByRemote reports whether the peer initiated this connection.
func (c *Conn) OpenedByRemote() bool { return c.openedByRemote }

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer c.Close()

	for {
		msg, err := ReadMessage(c.br)
		if err != nil {
			if !c.closed.Load() {
				c.logger.Debugw("peer conn read error", "peer", c.PeerID, "error", err)
			}
			return
		}
		if msg.IsKeepAlive() {
			continue
		}
		c.stats.Tagged(map[string]string{"direction": "download"}).Counter("piece_bandwidth").Inc(int64(len(msg.Encode())))
		select {
		case c.receiver <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	defer c.Close()

	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.sender:
			encoded := msg.Encode()
			if _, err := c.nc.Write(encoded); err != nil {
				c.logger.Debugw("peer conn write error", "peer", c.PeerID, "error", err)
				return
			}
			c.stats.Tagged(map[string]string{"direction": "upload"}).Counter("piece_bandwidth").Inc(int64(len(encoded)))
		case <-ticker.C:
			if _, err := c.nc.Write(KeepAlive().Encode()); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close shuts down the connection and its read/write loops. Safe to call
// more than once, and from either loop or an external caller.
func (c *Conn) Close() error {
	if !c.closed.CAS(false, true) {
		return nil
	}
	close(c.done)
	return c.nc.Close()
}
