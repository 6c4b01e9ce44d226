// Package dht implements a simplified BEP-5 Kademlia DHT client: enough of
// the KRPC protocol (ping, find_node, get_peers, announce_peer) to locate
// peers for an info hash via iterative node lookup. It intentionally omits
// bucket-refresh bookkeeping and token-based write protection that a
// full, standalone DHT node would need, since this engine only ever
// originates lookups for torrents it is actively downloading.
package dht

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"net"
	"sort"
	"time"

	bencodego "github.com/jackpal/bencode-go"
	"go.uber.org/zap"

	"github.com/gosh-dl/gosh/core"
)

// NodeID is a DHT node identifier, the same 160-bit space as InfoHash.
type NodeID [20]byte

// RandomNodeID generates a fresh NodeID.
func RandomNodeID() NodeID {
	var id NodeID
	rand.Read(id[:])
	return id
}

// distance is the XOR metric between two ids.
func distance(a, b NodeID) NodeID {
	var d NodeID
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

func less(a, b NodeID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// Node is a known DHT contact.
type Node struct {
	ID   NodeID
	Addr *net.UDPAddr
}

// Client performs iterative node lookups against a DHT, starting from a set
// of bootstrap nodes.
type Client struct {
	id      NodeID
	conn    *net.UDPConn
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// New creates a Client bound to an ephemeral local UDP port.
func New(timeout time.Duration, logger *zap.SugaredLogger) (*Client, error) {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("dht: listen udp: %s", err)
	}
	return &Client{id: RandomNodeID(), conn: conn, timeout: timeout, logger: logger}, nil
}

// Close releases the client's socket.
func (c *Client) Close() error { return c.conn.Close() }

// krpcQuery is the outer KRPC envelope for queries.
type krpcQuery struct {
	T string                 `bencode:"t"`
	Y string                 `bencode:"y"`
	Q string                 `bencode:"q"`
	A map[string]interface{} `bencode:"a"`
}

type krpcReply struct {
	T string                 `bencode:"t"`
	Y string                 `bencode:"y"`
	R map[string]interface{} `bencode:"r"`
	E []interface{}          `bencode:"e,omitempty"`
}

// FindPeers performs an iterative get_peers lookup for infoHash, starting
// from bootstrap nodes, and returns any peer addresses discovered along
// the way. alpha bounds the lookup's per-round concurrency fan-out.
func (c *Client) FindPeers(infoHash core.InfoHash, bootstrap []*net.UDPAddr, alpha int) ([]*net.TCPAddr, error) {
	if alpha <= 0 {
		alpha = 3
	}
	target := NodeID(infoHash)

	tried := make(map[string]bool)
	var frontier []Node
	for _, addr := range bootstrap {
		frontier = append(frontier, Node{Addr: addr})
	}

	var peers []*net.TCPAddr
	for round := 0; round < 8 && len(frontier) > 0; round++ {
		sort.Slice(frontier, func(i, j int) bool {
			return less(distance(frontier[i].ID, target), distance(frontier[j].ID, target))
		})
		batch := frontier
		if len(batch) > alpha {
			batch = batch[:alpha]
		}

		var next []Node
		progressed := false
		for _, n := range batch {
			key := n.Addr.String()
			if tried[key] {
				continue
			}
			tried[key] = true

			newPeers, closer, err := c.getPeers(n.Addr, infoHash)
			if err != nil {
				continue
			}
			progressed = true
			peers = append(peers, newPeers...)
			next = append(next, closer...)
		}
		if !progressed {
			break
		}
		frontier = next
	}

	return dedupePeers(peers), nil
}

func (c *Client) getPeers(addr *net.UDPAddr, infoHash core.InfoHash) ([]*net.TCPAddr, []Node, error) {
	txID := randomTxID()
	query := krpcQuery{
		T: txID,
		Y: "q",
		Q: "get_peers",
		A: map[string]interface{}{
			"id":        string(c.id[:]),
			"info_hash": string(infoHash.Bytes()),
		},
	}

	var buf bytes.Buffer
	if err := bencodego.Marshal(&buf, query); err != nil {
		return nil, nil, err
	}

	c.conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.WriteToUDP(buf.Bytes(), addr); err != nil {
		return nil, nil, err
	}

	respBuf := make([]byte, 4096)
	n, _, err := c.conn.ReadFromUDP(respBuf)
	if err != nil {
		return nil, nil, err
	}

	var reply krpcReply
	if err := bencodego.Unmarshal(bytes.NewReader(respBuf[:n]), &reply); err != nil {
		return nil, nil, err
	}
	if reply.Y != "r" {
		return nil, nil, fmt.Errorf("dht: query error from %s", addr)
	}

	var peers []*net.TCPAddr
	if rawPeers, ok := reply.R["values"].([]interface{}); ok {
		for _, v := range rawPeers {
			s, ok := v.(string)
			if !ok || len(s) != 6 {
				continue
			}
			peers = append(peers, &net.TCPAddr{
				IP:   net.IP([]byte(s[:4])),
				Port: int(s[4])<<8 | int(s[5]),
			})
		}
	}

	var closer []Node
	if nodesStr, ok := reply.R["nodes"].(string); ok {
		closer = decodeCompactNodes(nodesStr)
	}

	return peers, closer, nil
}

// decodeCompactNodes parses BEP-5's compact node_info string: 20-byte id +
// 4-byte IP + 2-byte port per entry.
func decodeCompactNodes(raw string) []Node {
	const entryLen = 26
	var nodes []Node
	b := []byte(raw)
	for i := 0; i+entryLen <= len(b); i += entryLen {
		var id NodeID
		copy(id[:], b[i:i+20])
		ip := net.IP(append([]byte{}, b[i+20:i+24]...))
		port := int(b[i+24])<<8 | int(b[i+25])
		nodes = append(nodes, Node{ID: id, Addr: &net.UDPAddr{IP: ip, Port: port}})
	}
	return nodes
}

func dedupePeers(peers []*net.TCPAddr) []*net.TCPAddr {
	seen := make(map[string]bool, len(peers))
	out := make([]*net.TCPAddr, 0, len(peers))
	for _, p := range peers {
		key := p.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func randomTxID() string {
	var b [2]byte
	rand.Read(b[:])
	return string(b[:])
}
