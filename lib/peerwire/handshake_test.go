package peerwire

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gosh-dl/gosh/core"
)

func TestHandshakeEncodeDecode(t *testing.T) {
	h := Handshake{
		InfoHash:         core.InfoHashFixture(),
		PeerID:           core.PeerIDFixture(),
		SupportsExtended: true,
	}
	got, err := DecodeHandshake(h.Encode())
	require.NoError(t, err)
	require.Equal(t, h.InfoHash, got.InfoHash)
	require.Equal(t, h.PeerID, got.PeerID)
	require.True(t, got.SupportsExtended)
}

func TestHandshakeDecodeRejectsWrongLength(t *testing.T) {
	_, err := DecodeHandshake([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDoHandshakeMismatchedInfoHashCloses(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	infoHashA := core.InfoHashFixture()
	infoHashB := core.InfoHashFixture()
	localID := core.PeerIDFixture()
	remoteID := core.PeerIDFixture()

	errCh := make(chan error, 1)
	go func() {
		other := Handshake{InfoHash: infoHashB, PeerID: remoteID}
		serverConn.SetDeadline(time.Now().Add(time.Second))
		// net.Pipe is synchronous: take the client's handshake before
		// replying, then wait for the client to hang up.
		buf := make([]byte, HandshakeLen)
		if _, err := io.ReadFull(serverConn, buf); err != nil {
			errCh <- err
			return
		}
		serverConn.Write(other.Encode())
		_, err := serverConn.Read(buf)
		errCh <- err
	}()

	_, err := Do(clientConn, localID, infoHashA, time.Second)
	require.ErrorContains(t, err, "info hash mismatch")
	require.Equal(t, io.EOF, <-errCh)
}
