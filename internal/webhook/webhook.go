package webhook

import "context"

const ResultWebhookSchemaVersion = "2026-10-01"

type ResultPayload struct {
	SchemaVersion      string          `json:"schema_version"`
	SessionID          string          `json:"session_id"`
	BackendSessionID   string          `json:"backend_session_id"`
	UserID             string          `json:"user_id"`
	Status             string          `json:"status"`
	StartAt            string          `json:"start_at"`
	EndAt              string          `json:"end_at"`
	Timezone           string          `json:"timezone"`
	DurationSeconds    int64           `json:"duration_seconds"`
	ChunkCount         int             `json:"chunk_count"`
	Path               string          `json:"path"`
	SegmentCount       int             `json:"segment_count"`
	TranscriptSegments []ResultSegment `json:"transcript_segments"`
	Transcript         string          `json:"transcript"`
}

type ResultSegment struct {
	Index      int    `json:"index"`
	StartAt    string `json:"start_at"`
	EndAt      string `json:"end_at"`
	Transcript string `json:"transcript"`
}

type Sender interface {
	SendResult(ctx context.Context, payload ResultPayload) error
}
