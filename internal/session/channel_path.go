package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/channel"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcriber"
)

var (
	errJoinRejected = errors.New("channel join rejected")
	errJoinTimeout  = errors.New("channel join timed out")
	errChannelLost  = errors.New("channel connection lost")
	errPushRejected = errors.New("channel push rejected")
)

type pendingPush struct {
	gen   uint64
	ref   transcriber.SessionRef
	chunk audio.Chunk
}

// openChannel connects if needed and joins the user's transcription topic,
// waiting for the server to acknowledge the join.
func (c *Coordinator) openChannel(ctx context.Context, userID string) error {
	topic := channel.TranscriptionTopic(userID)
	if s := c.transport.State(); s.Phase == channel.PhaseJoined && s.Topic == topic {
		return nil
	}
	if !c.transport.IsConnected() {
		if err := c.transport.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}

	wait := c.addJoinWaiter(topic)
	defer c.removeJoinWaiter(topic)
	if _, err := c.transport.Join(topic, channel.JoinPayload{UserID: userID}); err != nil {
		return fmt.Errorf("join %s: %w", topic, err)
	}

	timer := time.NewTimer(c.opts.JoinTimeout)
	defer timer.Stop()
	select {
	case ok := <-wait:
		if !ok {
			return errJoinRejected
		}
		return nil
	case <-timer.C:
		return errJoinTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) addJoinWaiter(topic string) chan bool {
	ch := make(chan bool, 1)
	c.joinMu.Lock()
	c.joinWaiters[topic] = ch
	c.joinMu.Unlock()
	return ch
}

func (c *Coordinator) removeJoinWaiter(topic string) {
	c.joinMu.Lock()
	delete(c.joinWaiters, topic)
	c.joinMu.Unlock()
}

func (c *Coordinator) signalJoin(topic string, ok bool) {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()
	for t, ch := range c.joinWaiters {
		if topic != "" && t != topic {
			continue
		}
		select {
		case ch <- ok:
		default:
		}
	}
}

func (c *Coordinator) handleChannelState(s channel.ConnectionState) {
	switch s.Phase {
	case channel.PhaseJoined:
		c.signalJoin(s.Topic, true)
	case channel.PhaseDisconnected:
		c.signalJoin("", false)
		c.post(func() { c.fallback(c.gen, errChannelLost) })
	}
}

func (c *Coordinator) handleChannelMessage(m channel.Message) {
	switch m.Event {
	case channel.EventReply:
		reply, err := channel.ParseReply(m)
		if err != nil {
			slog.Warn("invalid channel reply", "topic", m.Topic, "ref", m.Ref, "error", err)
			return
		}
		if p, ok := c.takePush(m.Ref); ok {
			if !reply.OK() {
				reason := reply.Reason()
				c.post(func() { c.onPushRejected(p, reason) })
			}
			return
		}
		if !reply.OK() {
			c.signalJoin(m.Topic, false)
		}
	case channel.EventTranscription:
		var p channel.TranscriptionPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			slog.Warn("invalid transcription payload", "topic", m.Topic, "error", err)
			return
		}
		c.post(func() { c.onTranscription(m.Topic, p.Text) })
	case channel.EventClose, channel.EventError:
		c.post(func() {
			if m.Topic == c.topic {
				c.fallback(c.gen, fmt.Errorf("channel topic closed by server: %s", m.Event))
			}
		})
	}
}

// pushChunk sends the chunk on the channel and remembers it under the push
// ref. The lock is held across Push so a reply cannot be read before the
// ref is recorded.
func (c *Coordinator) pushChunk(topic string, p pendingPush) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	pushRef, err := c.transport.Push(topic, channel.EventAudioData, channel.NewAudioPayload(p.chunk.Bytes()))
	if err != nil {
		return err
	}
	c.pushes[pushRef] = p
	return nil
}

func (c *Coordinator) takePush(ref uint64) (pendingPush, bool) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	p, ok := c.pushes[ref]
	if ok {
		delete(c.pushes, ref)
	}
	return p, ok
}

func (c *Coordinator) forgetPushes() {
	c.pushMu.Lock()
	clear(c.pushes)
	c.pushMu.Unlock()
}

// onPushRejected reports a chunk the server refused on the channel. While
// the session is still recording the chunk is uploaded again over REST.
func (c *Coordinator) onPushRejected(p pendingPush, reason string) {
	if p.gen != c.gen || !c.session.State.IsActive() {
		return
	}
	err := fmt.Errorf("%w: chunk %d: %s", errPushRejected, p.chunk.Seq, reason)
	c.metrics.RecordSendFailure(PathChannel)
	slog.Warn("channel push rejected", "session_id", p.ref.SessionID, "seq", p.chunk.Seq, "reason", reason)
	c.events.publish(Event{Kind: EventUploadFailed, Session: c.session, Err: err})

	if c.session.State != StateRecording {
		return
	}
	sessCtx := c.sessCtx
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		c.resendOverREST(sessCtx, p)
	}()
}

func (c *Coordinator) resendOverREST(ctx context.Context, p pendingPush) {
	err := c.backend.UploadChunk(ctx, p.ref, p.chunk)
	if err == nil {
		c.metrics.RecordChunkSent(PathREST)
		return
	}
	if ctx.Err() != nil {
		return
	}
	c.metrics.RecordSendFailure(PathREST)
	slog.Warn("failed to resend rejected chunk", "session_id", p.ref.SessionID, "seq", p.chunk.Seq, "error", err)
	c.post(func() {
		if p.gen == c.gen {
			c.events.publish(Event{Kind: EventUploadFailed, Session: c.session, Err: err})
		}
	})
}

func (c *Coordinator) onTranscription(topic, text string) {
	if c.session.Path != PathChannel || topic != c.topic {
		return
	}
	switch c.session.State {
	case StateRecording:
		c.segments = append(c.segments, repository.SegmentInput{
			Content:      text,
			SegmentIndex: len(c.segments),
			SpokenAt:     time.Now(),
		})
		c.events.publish(Event{Kind: EventPartialResult, Session: c.session, Text: text})
	case StateProcessing:
		c.resolve(c.gen, transcriber.Completed(text))
	}
}

// fallback moves the current session from the channel to REST uploads.
// Polling already runs for every session, so results still arrive.
func (c *Coordinator) fallback(gen uint64, cause error) {
	if gen != c.gen || !c.session.State.IsActive() || c.session.Path != PathChannel {
		return
	}
	slog.Warn("channel path lost; continuing over REST", "session_id", c.session.ID, "error", cause)
	c.leaveTopic()
	c.session.Path = PathREST
	c.publishSnapshot()
	c.events.publish(Event{Kind: EventTransportFallback, Session: c.session, Err: cause})
}

func (c *Coordinator) leaveTopic() {
	if c.topic == "" || c.transport == nil {
		return
	}
	if _, err := c.transport.Leave(c.topic); err != nil {
		slog.Debug("channel leave skipped", "topic", c.topic, "error", err)
	}
	c.topic = ""
}
