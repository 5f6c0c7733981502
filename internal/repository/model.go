package repository

import "time"

type SessionStatus string

const (
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Session is a finished transcription session as kept in local history.
type Session struct {
	ID               string
	BackendSessionID string
	UserID           string
	Status           SessionStatus
	ResultText       string
	ErrorDetail      string
	ChunkCount       int
	DroppedChunks    int
	Path             string
	StartedAt        time.Time
	EndedAt          time.Time
	DurationSeconds  int64
	CreatedAt        time.Time
}

// TranscriptSegment is a partial result received while recording.
type TranscriptSegment struct {
	ID           string
	SessionID    string
	Content      string
	SegmentIndex int
	SpokenAt     time.Time
	CreatedAt    time.Time
}
