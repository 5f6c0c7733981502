package transcriber

import (
	"context"

	"github.com/foxseedlab/kikitori/internal/audio"
)

type SessionRef struct {
	UserID    string
	SessionID string
}

// Backend is the REST side of the transcription service. Polling is driven
// by the caller; PollStatus performs exactly one request.
type Backend interface {
	StartSession(ctx context.Context, userID string) (string, error)
	UploadChunk(ctx context.Context, ref SessionRef, chunk audio.Chunk) error
	FinishSession(ctx context.Context, ref SessionRef) error
	PollStatus(ctx context.Context, ref SessionRef) (Status, error)
}
