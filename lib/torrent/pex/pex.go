// Package pex implements BEP-11 peer exchange: compact peer lists piggybacked
// on the BEP-10 extension protocol's ut_pex message.
package pex

import (
	"bytes"
	"net"

	bencodego "github.com/jackpal/bencode-go"
)

// ExtensionName is the ut_pex key advertised in the BEP-10 handshake's "m"
// dictionary.
const ExtensionName = "ut_pex"

// message is the bencoded ut_pex payload: compact-encoded added/dropped
// peer lists plus a parallel flags string for the added set (seed/utp bits,
// unused here but round-tripped for interop).
type message struct {
	Added      string `bencode:"added"`
	AddedFlags string `bencode:"added.f"`
	Dropped    string `bencode:"dropped"`
}

// Delta is a decoded ut_pex payload.
type Delta struct {
	Added   []*net.TCPAddr
	Dropped []*net.TCPAddr
}

// Encode serializes added/dropped peer addresses into a ut_pex payload.
func Encode(added, dropped []*net.TCPAddr) ([]byte, error) {
	m := message{
		Added:      encodeCompact(added),
		AddedFlags: string(make([]byte, len(added))),
		Dropped:    encodeCompact(dropped),
	}
	var buf bytes.Buffer
	if err := bencodego.Marshal(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a ut_pex payload into a Delta.
func Decode(payload []byte) (*Delta, error) {
	var m message
	if err := bencodego.Unmarshal(bytes.NewReader(payload), &m); err != nil {
		return nil, err
	}
	return &Delta{
		Added:   decodeCompact([]byte(m.Added)),
		Dropped: decodeCompact([]byte(m.Dropped)),
	}, nil
}

func encodeCompact(addrs []*net.TCPAddr) string {
	buf := make([]byte, 0, 6*len(addrs))
	for _, a := range addrs {
		ip4 := a.IP.To4()
		if ip4 == nil {
			continue
		}
		buf = append(buf, ip4...)
		buf = append(buf, byte(a.Port>>8), byte(a.Port))
	}
	return string(buf)
}

func decodeCompact(raw []byte) []*net.TCPAddr {
	var addrs []*net.TCPAddr
	for i := 0; i+6 <= len(raw); i += 6 {
		ip := net.IP(raw[i : i+4])
		port := int(raw[i+4])<<8 | int(raw[i+5])
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: port})
	}
	return addrs
}
