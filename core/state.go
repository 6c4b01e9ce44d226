package core

// DownloadState is the tagged state a download occupies at a point in time.
// See the state diagram in the engine scheduler design for the full
// transition table; Completed is terminal, Error is terminal unless its
// Recoverable flag is set.
type DownloadState int

const (
	StateQueued DownloadState = iota
	StateConnecting
	StateDownloading
	StateSeeding
	StatePaused
	StateCompleted
	StateError
)

func (s DownloadState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateConnecting:
		return "connecting"
	case StateDownloading:
		return "downloading"
	case StateSeeding:
		return "seeding"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Active reports whether s counts against the global concurrency cap:
// Connecting, Downloading, and upload-active Seeding all occupy a slot.
func (s DownloadState) Active() bool {
	switch s {
	case StateConnecting, StateDownloading, StateSeeding:
		return true
	default:
		return false
	}
}

// Terminal reports whether s can never transition again without explicit
// user action (resume, for a recoverable Error).
func (s DownloadState) Terminal() bool {
	return s == StateCompleted
}
