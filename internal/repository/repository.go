package repository

import (
	"context"
	"errors"
	"time"
)

const DefaultHistoryLimit = 20

var ErrNotFound = errors.New("record not found")

type SegmentInput struct {
	Content      string
	SegmentIndex int
	SpokenAt     time.Time
}

type SaveSessionInput struct {
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
	Segments         []SegmentInput
}

func (in SaveSessionInput) DurationSeconds() int64 {
	d := int64(in.EndedAt.Sub(in.StartedAt).Seconds())
	if d < 0 {
		return 0
	}
	return d
}

type SessionRepository interface {
	SaveSession(ctx context.Context, input SaveSessionInput) (*Session, error)
	ListRecentSessions(ctx context.Context, userID string, limit int) ([]Session, error)
}

type TranscriptRepository interface {
	ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]TranscriptSegment, error)
}

type Repository interface {
	SessionRepository
	TranscriptRepository
}
