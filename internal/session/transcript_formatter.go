package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/webhook"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

// FormatTranscript renders a history record as plain text: a header, one
// line per partial segment with its offset from the start, then the result.
func FormatTranscript(s repository.Session, segments []repository.TranscriptSegment, timezone string, loc *time.Location) string {
	loc = safeLocation(loc)
	lines := []string{
		fmt.Sprintf("Session: %s", s.BackendSessionID),
		fmt.Sprintf("User: %s", s.UserID),
		fmt.Sprintf("Period: %s ~ %s (%s)", s.StartedAt.In(loc).Format(transcriptTimeLayout), s.EndedAt.In(loc).Format(transcriptTimeLayout), timezone),
		fmt.Sprintf("Status: %s", s.Status),
		fmt.Sprintf("Chunks: %d sent, %d dropped (%s)", s.ChunkCount, s.DroppedChunks, s.Path),
	}
	if len(segments) > 0 {
		lines = append(lines, "")
		for _, seg := range segments {
			elapsed := seg.SpokenAt.Sub(s.StartedAt)
			if elapsed < 0 {
				elapsed = 0
			}
			lines = append(lines, fmt.Sprintf("%s %s", formatElapsedHMS(elapsed), seg.Content))
		}
	}
	switch {
	case s.ResultText != "":
		lines = append(lines, "", s.ResultText)
	case s.ErrorDetail != "":
		lines = append(lines, "", "Error: "+s.ErrorDetail)
	}
	return strings.Join(lines, "\n")
}

func buildResultPayload(s repository.Session, segments []repository.TranscriptSegment, timezone string, loc *time.Location) webhook.ResultPayload {
	loc = safeLocation(loc)
	durationSeconds := int64(s.EndedAt.Sub(s.StartedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	return webhook.ResultPayload{
		SchemaVersion:      webhook.ResultWebhookSchemaVersion,
		SessionID:          s.ID,
		BackendSessionID:   s.BackendSessionID,
		UserID:             s.UserID,
		Status:             string(s.Status),
		StartAt:            s.StartedAt.In(loc).Format(time.RFC3339),
		EndAt:              s.EndedAt.In(loc).Format(time.RFC3339),
		Timezone:           timezone,
		DurationSeconds:    durationSeconds,
		ChunkCount:         s.ChunkCount,
		Path:               s.Path,
		SegmentCount:       len(segments),
		TranscriptSegments: buildResultSegments(segments, s.EndedAt, loc),
		Transcript:         s.ResultText,
	}
}

func buildResultSegments(segments []repository.TranscriptSegment, sessionEndedAt time.Time, loc *time.Location) []webhook.ResultSegment {
	out := make([]webhook.ResultSegment, 0, len(segments))
	for i, seg := range segments {
		segmentEnd := sessionEndedAt
		if i+1 < len(segments) {
			segmentEnd = segments[i+1].SpokenAt
		}
		if segmentEnd.Before(seg.SpokenAt) {
			segmentEnd = seg.SpokenAt
		}
		out = append(out, webhook.ResultSegment{
			Index:      seg.SegmentIndex,
			StartAt:    seg.SpokenAt.In(loc).Format(time.RFC3339),
			EndAt:      segmentEnd.In(loc).Format(time.RFC3339),
			Transcript: seg.Content,
		})
	}
	return out
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
