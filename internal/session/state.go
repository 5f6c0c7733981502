package session

import "time"

type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateError
}

func (s State) IsActive() bool {
	return s == StateRecording || s == StateProcessing
}

const (
	PathREST    = "rest"
	PathChannel = "channel"
)

// Session is a value snapshot of the coordinator's current session. ID is
// the backend session id and is empty while idle.
type Session struct {
	ID            string
	UserID        string
	State         State
	CreatedAt     time.Time
	ResultText    string
	ErrorDetail   string
	ChunkCount    int
	DroppedChunks int
	Path          string
}
