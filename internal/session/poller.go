package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/foxseedlab/kikitori/internal/transcriber"
)

// poll waits PollInterval before each status request and stops at the first
// terminal status, at ctx cancellation, or after PollMaxAttempts requests.
// Network errors count as pending attempts.
func (c *Coordinator) poll(ctx context.Context, gen uint64, ref transcriber.SessionRef) {
	timer := time.NewTimer(c.opts.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= c.opts.PollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		status, err := c.backend.PollStatus(ctx, ref)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil && transcriber.IsNetworkError(err):
			c.metrics.RecordPoll("network_error")
			slog.Warn("status poll failed; retrying", "session_id", ref.SessionID, "attempt", attempt, "error", err)
		case err != nil:
			c.metrics.RecordPoll("error")
			reason := err.Error()
			c.post(func() { c.resolve(gen, transcriber.Failed(reason)) })
			return
		case status.IsTerminal():
			c.metrics.RecordPoll(status.Kind.String())
			c.post(func() { c.resolve(gen, status) })
			return
		default:
			c.metrics.RecordPoll("pending")
			slog.Debug("session still pending", "session_id", ref.SessionID, "attempt", attempt)
		}
		timer.Reset(c.opts.PollInterval)
	}

	slog.Warn("status poll attempts exhausted", "session_id", ref.SessionID, "attempts", c.opts.PollMaxAttempts)
	c.post(func() { c.resolve(gen, transcriber.Failed(ErrPollTimeout.Error())) })
}
