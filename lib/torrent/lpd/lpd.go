// Package lpd implements Local Peer Discovery: an unauthenticated multicast
// announcement used to find peers for the same torrent on the local network
// segment.
package lpd

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gosh-dl/gosh/core"
)

// MulticastAddr is the fixed LPD multicast group and port.
const MulticastAddr = "239.192.152.143:6771"

const announceTemplate = "BT-SEARCH * HTTP/1.1\r\nHost: " + "239.192.152.143:6771" +
	"\r\nPort: %d\r\nInfohash: %s\r\n\r\n\r\n"

// Announcement is a peer discovered via LPD.
type Announcement struct {
	InfoHash core.InfoHash
	Addr     *net.UDPAddr
}

// Client sends and listens for LPD announcements.
type Client struct {
	port   int
	conn   *net.UDPConn
	group  *net.UDPAddr
	logger *zap.SugaredLogger
}

// New joins the LPD multicast group, binding to listen for announcements
// from other local clients. port is this engine's own listening port,
// advertised in outgoing announcements.
func New(port int, logger *zap.SugaredLogger) (*Client, error) {
	group, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return nil, fmt.Errorf("lpd: resolve multicast addr: %s", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, fmt.Errorf("lpd: listen multicast: %s", err)
	}
	return &Client{port: port, conn: conn, group: group, logger: logger}, nil
}

// Announce broadcasts that this engine is serving infoHash on its
// listening port.
func (c *Client) Announce(infoHash core.InfoHash) error {
	msg := fmt.Sprintf(announceTemplate, c.port, infoHash.Hex())
	_, err := c.conn.WriteToUDP([]byte(msg), c.group)
	return err
}

// Listen reads announcements until stop is closed, invoking onAnnounce for
// each one successfully parsed for one of the watched info hashes.
func (c *Client) Listen(stop <-chan struct{}, watched func(core.InfoHash) bool, onAnnounce func(Announcement)) {
	done := make(chan struct{})
	go func() {
		<-stop
		c.conn.Close()
		close(done)
	}()

	buf := make([]byte, 1500)
	for {
		c.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := c.conn.ReadFromUDP(buf)
		select {
		case <-done:
			return
		default:
		}
		if err != nil {
			continue
		}
		hash, port, ok := parseAnnounce(buf[:n])
		if !ok || !watched(hash) {
			continue
		}
		peerAddr := &net.UDPAddr{IP: addr.IP, Port: port}
		onAnnounce(Announcement{InfoHash: hash, Addr: peerAddr})
	}
}

// Close leaves the multicast group.
func (c *Client) Close() error {
	return c.conn.Close()
}

func parseAnnounce(data []byte) (core.InfoHash, int, bool) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	var infohashHex string
	var port int
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "Infohash:"):
			infohashHex = strings.TrimSpace(strings.TrimPrefix(line, "Infohash:"))
		case strings.HasPrefix(line, "Port:"):
			p, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Port:")))
			if err == nil {
				port = p
			}
		}
	}
	if infohashHex == "" || port == 0 {
		return core.InfoHash{}, 0, false
	}
	h, err := core.NewInfoHashFromHex(infohashHex)
	if err != nil {
		return core.InfoHash{}, 0, false
	}
	return h, port, true
}
