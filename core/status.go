package core

import "time"

// FileInfo describes one file within a torrent's declared layout.
type FileInfo struct {
	Path          string
	Length        int64
	CompletedSize int64
	Selected      bool
}

// TorrentInfo is the torrent-specific subset of a DownloadStatus, present
// only once metainfo has been resolved (i.e. never for a bare magnet link
// still awaiting ut_metadata).
type TorrentInfo struct {
	PieceCount  int
	PieceLength int64
	Files       []FileInfo
	Private     bool
}

// PeerInfo describes one connected peer, mirroring the wire-level state
// the choking algorithm and the front-end both need to observe.
type PeerInfo struct {
	Address        string
	Port           int
	ClientID       string
	DownloadSpeed  float64
	UploadSpeed    float64
	ProgressRatio  float64
	AmChoked       bool
	AmInterested   bool
	PeerChoked     bool
	PeerInterested bool
}

// DownloadMetadata is the denormalized descriptive subset of a
// DownloadStatus: things that do not change once known, as opposed to
// Progress, which changes every sample.
type DownloadMetadata struct {
	Name     string
	SaveDir  string
	Filename string
	URL      string
	Magnet   string
	InfoHash *InfoHash
}

// DownloadStatus is the full denormalized view the front-end consumes from
// Status and List. It joins the persisted record with the live, in-memory
// Progress and transport-specific detail.
type DownloadStatus struct {
	ID       DownloadID
	Kind     DownloadKind
	State    DownloadState
	Priority DownloadPriority
	Progress Progress
	Metadata DownloadMetadata

	TorrentInfo *TorrentInfo
	Peers       []PeerInfo

	Error *Error

	CreatedAt   time.Time
	CompletedAt *time.Time
}
