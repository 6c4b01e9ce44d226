package core

import "fmt"

// ErrorKind taxonomizes engine failures per the error handling design: each
// kind carries a fixed recoverability default, though a specific Error may
// override it (e.g. a 5xx HttpStatus is recoverable; a 4xx one is not).
type ErrorKind int

const (
	// ErrNetwork covers connection refused, DNS failure, TLS failure, and
	// timeouts. Recoverable; retried with backoff.
	ErrNetwork ErrorKind = iota
	// ErrHTTPStatus covers a non-success HTTP response. 408/429/5xx are
	// recoverable; other 4xx are fatal.
	ErrHTTPStatus
	// ErrChecksumMismatch means the completed file's checksum did not match
	// the expected digest. Fatal.
	ErrChecksumMismatch
	// ErrPieceHashMismatch means a completed torrent piece failed SHA-1
	// verification. Recoverable per-piece, not per-download.
	ErrPieceHashMismatch
	// ErrTrackerFailure means a tracker announce failed. Recoverable; the
	// session falls through to the next tier or discovery source.
	ErrTrackerFailure
	// ErrPersistenceCorrupt means the durable store could not be read back
	// consistently for a given record. Fatal for that record only.
	ErrPersistenceCorrupt
	// ErrInvalidInput means a caller-supplied add_* argument was malformed.
	// No record is created.
	ErrInvalidInput
	// ErrIO covers disk-full, permission-denied, and other local I/O
	// failures. Fatal for the download.
	ErrIO
	// ErrSizeChanged means resume observed a different total size than the
	// one recorded at the last checkpoint. Fatal — see open question in the
	// design notes.
	ErrSizeChanged
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNetwork:
		return "Network"
	case ErrHTTPStatus:
		return "HttpStatus"
	case ErrChecksumMismatch:
		return "ChecksumMismatch"
	case ErrPieceHashMismatch:
		return "PieceHashMismatch"
	case ErrTrackerFailure:
		return "TrackerFailure"
	case ErrPersistenceCorrupt:
		return "PersistenceCorrupt"
	case ErrInvalidInput:
		return "InvalidInput"
	case ErrIO:
		return "IoError"
	case ErrSizeChanged:
		return "SizeChanged"
	default:
		return "Unknown"
	}
}

// Error is the structured value every engine-visible failure is reported
// as. It is never thrown out-of-band — callers receive it as a normal Go
// error return or embedded in a DownloadStatus/DownloadEvent.
type Error struct {
	Kind        ErrorKind
	Message     string
	Recoverable bool

	// HTTPCode is set only when Kind is ErrHTTPStatus.
	HTTPCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError constructs an Error with the recoverability default for kind,
// which callers may override via WithRecoverable.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
		Recoverable: defaultRecoverable(kind),
	}
}

// WithRecoverable returns a copy of e with Recoverable overridden, used e.g.
// to mark a 4xx HttpStatus error as fatal while a 5xx one stays recoverable.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	cp := *e
	cp.Recoverable = recoverable
	return &cp
}

func defaultRecoverable(kind ErrorKind) bool {
	switch kind {
	case ErrNetwork, ErrHTTPStatus, ErrPieceHashMismatch, ErrTrackerFailure:
		return true
	default:
		return false
	}
}
