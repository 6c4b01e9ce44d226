package core

// DownloadEventKind tags a DownloadEvent variant. The set is closed: adding
// a new kind forces every switch over DownloadEventKind to be revisited.
type DownloadEventKind int

const (
	EventAdded DownloadEventKind = iota
	EventRemoved
	EventStateChanged
	EventProgress
	EventCompleted
	EventFailed
	EventPaused
	EventResumed
)

func (k DownloadEventKind) String() string {
	switch k {
	case EventAdded:
		return "Added"
	case EventRemoved:
		return "Removed"
	case EventStateChanged:
		return "StateChanged"
	case EventProgress:
		return "Progress"
	case EventCompleted:
		return "Completed"
	case EventFailed:
		return "Failed"
	case EventPaused:
		return "Paused"
	case EventResumed:
		return "Resumed"
	default:
		return "Unknown"
	}
}

// DownloadEvent is one broadcast notification published on the event bus.
// Only the fields relevant to Kind are populated; subscribers switch on Kind
// and filter by ID client-side.
type DownloadEvent struct {
	Kind DownloadEventKind
	ID   DownloadID

	// StateChanged
	OldState DownloadState
	NewState DownloadState

	// Progress
	Progress Progress

	// Failed
	Err         *Error
	Recoverable bool
}

// AddedEvent constructs an EventAdded notification.
func AddedEvent(id DownloadID) DownloadEvent {
	return DownloadEvent{Kind: EventAdded, ID: id}
}

// RemovedEvent constructs an EventRemoved notification.
func RemovedEvent(id DownloadID) DownloadEvent {
	return DownloadEvent{Kind: EventRemoved, ID: id}
}

// StateChangedEvent constructs an EventStateChanged notification.
func StateChangedEvent(id DownloadID, old, new DownloadState) DownloadEvent {
	return DownloadEvent{Kind: EventStateChanged, ID: id, OldState: old, NewState: new}
}

// ProgressEvent constructs an EventProgress notification.
func ProgressEvent(id DownloadID, p Progress) DownloadEvent {
	return DownloadEvent{Kind: EventProgress, ID: id, Progress: p}
}

// CompletedEvent constructs an EventCompleted notification.
func CompletedEvent(id DownloadID) DownloadEvent {
	return DownloadEvent{Kind: EventCompleted, ID: id}
}

// FailedEvent constructs an EventFailed notification.
func FailedEvent(id DownloadID, err *Error) DownloadEvent {
	return DownloadEvent{Kind: EventFailed, ID: id, Err: err, Recoverable: err.Recoverable}
}

// PausedEvent constructs an EventPaused notification.
func PausedEvent(id DownloadID) DownloadEvent {
	return DownloadEvent{Kind: EventPaused, ID: id}
}

// ResumedEvent constructs an EventResumed notification.
func ResumedEvent(id DownloadID) DownloadEvent {
	return DownloadEvent{Kind: EventResumed, ID: id}
}
