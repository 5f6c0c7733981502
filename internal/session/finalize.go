package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
)

const finalizeTimeout = 15 * time.Second

// finalize records the ended session in history and, for completed sessions,
// posts the result webhook. The writes run in the background and Run waits
// for them before returning.
func (c *Coordinator) finalize(s Session, status repository.SessionStatus) {
	endedAt := time.Now()
	c.metrics.RecordSession(string(status), endedAt.Sub(c.startedAt).Seconds())

	input := repository.SaveSessionInput{
		BackendSessionID: s.ID,
		UserID:           s.UserID,
		Status:           status,
		ResultText:       s.ResultText,
		ErrorDetail:      s.ErrorDetail,
		ChunkCount:       s.ChunkCount,
		DroppedChunks:    s.DroppedChunks,
		Path:             s.Path,
		StartedAt:        c.startedAt,
		EndedAt:          endedAt,
		Segments:         append([]repository.SegmentInput(nil), c.segments...),
	}
	if c.repo == nil && c.webhook == nil {
		return
	}
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		c.persist(input)
	}()
}

func (c *Coordinator) persist(input repository.SaveSessionInput) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	record := repository.Session{
		BackendSessionID: input.BackendSessionID,
		UserID:           input.UserID,
		Status:           input.Status,
		ResultText:       input.ResultText,
		ErrorDetail:      input.ErrorDetail,
		ChunkCount:       input.ChunkCount,
		DroppedChunks:    input.DroppedChunks,
		Path:             input.Path,
		StartedAt:        input.StartedAt,
		EndedAt:          input.EndedAt,
		DurationSeconds:  input.DurationSeconds(),
	}
	if c.repo != nil {
		saved, err := c.repo.SaveSession(ctx, input)
		if err != nil {
			slog.Error("failed to save session history", "error", err, "session_id", input.BackendSessionID)
		} else {
			record = *saved
			slog.Info("session history saved", "history_id", saved.ID, "session_id", input.BackendSessionID, "status", string(input.Status))
		}
	}

	if input.Status != repository.SessionStatusCompleted || c.webhook == nil {
		return
	}
	segments := make([]repository.TranscriptSegment, 0, len(input.Segments))
	for _, seg := range input.Segments {
		segments = append(segments, repository.TranscriptSegment{
			SessionID:    record.ID,
			Content:      seg.Content,
			SegmentIndex: seg.SegmentIndex,
			SpokenAt:     seg.SpokenAt,
		})
	}
	if err := c.webhook.SendResult(ctx, buildResultPayload(record, segments, c.opts.Timezone, c.loc)); err != nil {
		slog.Error("failed to send result webhook", "error", err, "session_id", input.BackendSessionID)
	}
}
