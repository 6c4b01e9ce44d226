package tracker

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	bencodego "github.com/jackpal/bencode-go"

	"github.com/gosh-dl/gosh/core"
	"github.com/gosh-dl/gosh/utils/httputil"
)

// The "peers" key of a BEP-3 tracker reply is polymorphic: either a compact
// binary string (6 bytes per peer: 4-byte IP, 2-byte port) or a list of
// peer dictionaries. bencode-go's Unmarshal can't target a field of either
// shape, so the response is decoded generically via Decode and walked by
// hand.

// HTTPClient announces to a BEP-3 HTTP tracker endpoint.
type HTTPClient struct {
	announceURL string
	timeout     time.Duration
}

// NewHTTPClient returns a Client that announces to announceURL.
func NewHTTPClient(announceURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{announceURL: announceURL, timeout: timeout}
}

// Scheme identifies this client's transport.
func (c *HTTPClient) Scheme() string { return "http" }

// Announce issues a GET request against the tracker's announce URL with the
// standard BEP-3 query parameters and parses the bencoded reply.
func (c *HTTPClient) Announce(req AnnounceRequest) (*AnnounceResponse, error) {
	numWant := req.NumWant
	if numWant == 0 {
		numWant = defaultNumWant
	}

	q := url.Values{}
	q.Set("info_hash", string(req.InfoHash.Bytes()))
	q.Set("peer_id", string(req.PeerID.Bytes()))
	q.Set("port", strconv.Itoa(int(req.Port)))
	q.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	q.Set("left", strconv.FormatInt(req.Left, 10))
	q.Set("compact", "1")
	q.Set("numwant", strconv.Itoa(numWant))
	if req.Event != EventNone {
		q.Set("event", string(req.Event))
	}

	full := c.announceURL
	if bytes.ContainsRune([]byte(full), '?') {
		full += "&" + q.Encode()
	} else {
		full += "?" + q.Encode()
	}

	resp, err := httputil.Get(full, httputil.SendTimeout(c.timeout))
	if err != nil {
		return nil, fmt.Errorf("tracker: announce to %s: %s", c.announceURL, err)
	}
	defer resp.Body.Close()

	decoded, err := bencodego.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tracker: decode response from %s: %s", c.announceURL, err)
	}
	dict, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("tracker: response from %s is not a dictionary", c.announceURL)
	}
	if reason, ok := dict["failure reason"].(string); ok && reason != "" {
		return nil, fmt.Errorf("tracker: %s: %s", c.announceURL, reason)
	}

	var interval int64
	if v, ok := dict["interval"].(int64); ok {
		interval = v
	}

	peers, err := decodePeers(dict)
	if err != nil {
		return nil, err
	}

	return &AnnounceResponse{
		Interval: time.Duration(interval) * time.Second,
		Peers:    peers,
	}, nil
}

func decodePeers(dict map[string]interface{}) ([]Peer, error) {
	var peers []Peer

	switch v := dict["peers"].(type) {
	case string:
		compact, err := decodeCompactPeers([]byte(v), net.IPv4len)
		if err != nil {
			return nil, err
		}
		peers = append(peers, compact...)
	case []interface{}:
		for _, item := range v {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			ip, _ := entry["ip"].(string)
			parsedIP := net.ParseIP(ip)
			if parsedIP == nil {
				continue
			}
			port, _ := entry["port"].(int64)
			var peerID core.PeerID
			if raw, ok := entry["peer id"].(string); ok {
				copy(peerID[:], raw)
			}
			peers = append(peers, Peer{
				ID:   peerID,
				Addr: &net.TCPAddr{IP: parsedIP, Port: int(port)},
			})
		}
	}

	if v, ok := dict["peers6"].(string); ok {
		compact, err := decodeCompactPeers([]byte(v), net.IPv6len)
		if err != nil {
			return nil, err
		}
		peers = append(peers, compact...)
	}

	return peers, nil
}

func decodeCompactPeers(raw []byte, addrLen int) ([]Peer, error) {
	entryLen := addrLen + 2
	if len(raw)%entryLen != 0 {
		return nil, fmt.Errorf("tracker: compact peer string has invalid length %d", len(raw))
	}
	peers := make([]Peer, 0, len(raw)/entryLen)
	for i := 0; i < len(raw); i += entryLen {
		ip := net.IP(raw[i : i+addrLen])
		port := int(raw[i+addrLen])<<8 | int(raw[i+addrLen+1])
		peers = append(peers, Peer{Addr: &net.TCPAddr{IP: ip, Port: port}})
	}
	return peers, nil
}
