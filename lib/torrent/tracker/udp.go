package tracker

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/gosh-dl/gosh/utils/backoff"
)

// udpProtocolMagic is the fixed connect-request constant from BEP-15.
const udpProtocolMagic = 0x41727101980

const (
	udpActionConnect  int32 = 0
	udpActionAnnounce int32 = 1
	udpActionError    int32 = 3
)

// UDPClient announces to a BEP-15 UDP tracker endpoint. Datagrams lost in
// flight are retransmitted with exponential backoff until the overall
// announce timeout elapses.
type UDPClient struct {
	addr    string
	timeout time.Duration
	retry   *backoff.Backoff
}

// udpReadTimeout is the per-attempt wait for a response datagram before the
// request is retransmitted.
const udpReadTimeout = 4 * time.Second

// NewUDPClient returns a Client that announces to the UDP tracker at addr
// (host:port).
func NewUDPClient(addr string, timeout time.Duration) *UDPClient {
	return &UDPClient{
		addr:    addr,
		timeout: timeout,
		retry: backoff.New(backoff.Config{
			Min:          time.Second,
			Max:          udpReadTimeout,
			RetryTimeout: timeout,
		}),
	}
}

// exchange writes packet and reads one response datagram of at least minLen
// bytes into a buffer of size bufLen, retransmitting on read timeout.
func (c *UDPClient) exchange(conn net.Conn, packet []byte, bufLen, minLen int) ([]byte, int, error) {
	attempts := c.retry.Attempts()
	var lastErr error
	for attempts.WaitForNext() {
		if _, err := conn.Write(packet); err != nil {
			return nil, 0, fmt.Errorf("tracker: write request: %s", err)
		}
		conn.SetReadDeadline(time.Now().Add(udpReadTimeout))
		buf := make([]byte, bufLen)
		n, err := conn.Read(buf)
		if err != nil {
			if os.IsTimeout(err) {
				lastErr = err
				continue
			}
			return nil, 0, fmt.Errorf("tracker: read response: %s", err)
		}
		if n < minLen {
			return nil, 0, fmt.Errorf("tracker: response too short (%d bytes)", n)
		}
		return buf, n, nil
	}
	if lastErr == nil {
		lastErr = attempts.Err()
	}
	return nil, 0, fmt.Errorf("tracker: no response: %s", lastErr)
}

// Scheme identifies this client's transport.
func (c *UDPClient) Scheme() string { return "udp" }

// Announce performs the two-phase BEP-15 exchange: a connect request to
// obtain a connection id, then an announce request using that id.
func (c *UDPClient) Announce(req AnnounceRequest) (*AnnounceResponse, error) {
	conn, err := net.DialTimeout("udp", c.addr, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("tracker: dial udp %s: %s", c.addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	connID, err := c.connect(conn)
	if err != nil {
		return nil, err
	}
	return c.announce(conn, connID, req)
}

func (c *UDPClient) connect(conn net.Conn) (int64, error) {
	txID := randomTransactionID()

	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, int64(udpProtocolMagic))
	binary.Write(&out, binary.BigEndian, udpActionConnect)
	binary.Write(&out, binary.BigEndian, txID)
	buf, n, err := c.exchange(conn, out.Bytes(), 16, 16)
	if err != nil {
		return 0, err
	}

	action := int32(binary.BigEndian.Uint32(buf[0:4]))
	gotTxID := int32(binary.BigEndian.Uint32(buf[4:8]))
	if gotTxID != txID {
		return 0, fmt.Errorf("tracker: connect response transaction id mismatch")
	}
	if action == udpActionError {
		return 0, fmt.Errorf("tracker: connect error: %s", string(buf[8:n]))
	}
	if action != udpActionConnect {
		return 0, fmt.Errorf("tracker: unexpected connect action %d", action)
	}

	return int64(binary.BigEndian.Uint64(buf[8:16])), nil
}

func (c *UDPClient) announce(conn net.Conn, connID int64, req AnnounceRequest) (*AnnounceResponse, error) {
	txID := randomTransactionID()
	numWant := int32(req.NumWant)
	if numWant == 0 {
		numWant = defaultNumWant
	}

	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, connID)
	binary.Write(&out, binary.BigEndian, udpActionAnnounce)
	binary.Write(&out, binary.BigEndian, txID)
	out.Write(req.InfoHash.Bytes())
	out.Write(req.PeerID.Bytes())
	binary.Write(&out, binary.BigEndian, req.Downloaded)
	binary.Write(&out, binary.BigEndian, req.Left)
	binary.Write(&out, binary.BigEndian, req.Uploaded)
	binary.Write(&out, binary.BigEndian, udpEventCode(req.Event))
	binary.Write(&out, binary.BigEndian, uint32(0)) // IP address: 0 means "use sender's"
	binary.Write(&out, binary.BigEndian, uint32(0)) // key, unused
	binary.Write(&out, binary.BigEndian, numWant)
	binary.Write(&out, binary.BigEndian, req.Port)

	buf, n, err := c.exchange(conn, out.Bytes(), 20+6*int(numWant), 20)
	if err != nil {
		return nil, err
	}

	action := int32(binary.BigEndian.Uint32(buf[0:4]))
	gotTxID := int32(binary.BigEndian.Uint32(buf[4:8]))
	if gotTxID != txID {
		return nil, fmt.Errorf("tracker: announce response transaction id mismatch")
	}
	if action == udpActionError {
		return nil, fmt.Errorf("tracker: announce error: %s", string(buf[8:n]))
	}
	if action != udpActionAnnounce {
		return nil, fmt.Errorf("tracker: unexpected announce action %d", action)
	}

	interval := time.Duration(binary.BigEndian.Uint32(buf[8:12])) * time.Second

	peers, err := decodeCompactPeers(buf[20:n], net.IPv4len)
	if err != nil {
		return nil, err
	}

	return &AnnounceResponse{Interval: interval, Peers: peers}, nil
}

func udpEventCode(e Event) int32 {
	switch e {
	case EventCompleted:
		return 1
	case EventStarted:
		return 2
	case EventStopped:
		return 3
	default:
		return 0
	}
}

func randomTransactionID() int32 {
	var b [4]byte
	rand.Read(b[:])
	return int32(binary.BigEndian.Uint32(b[:]))
}
