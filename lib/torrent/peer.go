package torrent

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"
	"go.uber.org/atomic"

	"github.com/gosh-dl/gosh/lib/peerwire"
)

// peer is one Torrent Session's bookkeeping for a connected remote: the
// wire connection, its advertised piece bitfield, negotiated BEP-10
// extension ids, and the byte counters the choking algorithm samples.
type peer struct {
	conn *peerwire.Conn

	mu              sync.Mutex
	bitfield        *bitset.BitSet
	pendingBitfield []byte // raw bitfield bytes received before NumPieces was known (magnet)
	extensions      map[string]int
	metadataSize    int64
	newlyConnected  bool

	downloadedBytes atomic.Int64
	uploadedBytes   atomic.Int64

	lastDownloadSample int64
	lastUploadSample   int64
	lastSampleAt       time.Time
}

func newPeer(conn *peerwire.Conn, numPieces int) *peer {
	return &peer{
		conn:           conn,
		bitfield:       bitset.New(uint(numPieces)),
		extensions:     make(map[string]int),
		newlyConnected: true,
		lastSampleAt:   time.Now(),
	}
}

// sampleRates returns this peer's download/upload rate in bytes/sec since
// the last sample, the choking algorithm's rolling-window input.
func (p *peer) sampleRates(clk clock.Clock) (downRate, upRate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := clk.Now()
	elapsed := now.Sub(p.lastSampleAt).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}

	downloaded := p.downloadedBytes.Load()
	uploaded := p.uploadedBytes.Load()
	downRate = float64(downloaded-p.lastDownloadSample) / elapsed
	upRate = float64(uploaded-p.lastUploadSample) / elapsed

	p.lastDownloadSample = downloaded
	p.lastUploadSample = uploaded
	p.lastSampleAt = now
	return downRate, upRate
}

// consumeNewlyConnected reports whether this is the first choke round since
// the peer connected, then clears the flag: the bias only applies once.
func (p *peer) consumeNewlyConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.newlyConnected
	p.newlyConnected = false
	return v
}
