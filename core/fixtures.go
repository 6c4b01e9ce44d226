package core

import "math/rand"

// DownloadIDFixture returns a randomly generated DownloadID for test use.
func DownloadIDFixture() DownloadID {
	id, err := NewDownloadID()
	if err != nil {
		panic(err)
	}
	return id
}

// PeerIDFixture returns a randomly generated PeerID for test use.
func PeerIDFixture() PeerID {
	p, err := RandomPeerID()
	if err != nil {
		panic(err)
	}
	return p
}

// InfoHashFixture returns a randomly generated InfoHash for test use.
func InfoHashFixture() InfoHash {
	var h InfoHash
	rand.Read(h[:])
	return h
}

// DownloadOptionsFixture returns a DownloadOptions populated with
// reasonable non-zero values for test use.
func DownloadOptionsFixture() DownloadOptions {
	return DownloadOptions{
		SaveDir:  "/tmp/gosh-test",
		Priority: PriorityNormal,
	}
}

// StatusFixture returns a DownloadStatus populated with reasonable non-zero
// values for test use.
func StatusFixture() DownloadStatus {
	total := int64(1024)
	return DownloadStatus{
		ID:       DownloadIDFixture(),
		Kind:     KindHTTP,
		State:    StateDownloading,
		Priority: PriorityNormal,
		Progress: Progress{
			CompletedSize: 512,
			TotalSize:     &total,
		},
		Metadata: DownloadMetadata{
			Name:    "fixture.bin",
			SaveDir: "/tmp/gosh-test",
			URL:     "https://example.test/fixture.bin",
		},
	}
}
