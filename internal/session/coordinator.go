package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/channel"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/webhook"
)

const (
	opsBuffer          = 64
	defaultJoinTimeout = 5 * time.Second
)

type Options struct {
	UseChannel      bool
	PollInterval    time.Duration
	PollMaxAttempts int
	QueueSize       int
	JoinTimeout     time.Duration
	Timezone        string
}

type Dependencies struct {
	Backend   transcriber.Backend
	Transport channel.Transport
	Repo      repository.Repository
	Webhook   webhook.Sender
	Metrics   *metrics.Metrics
}

type queued struct {
	chunk audio.Chunk
	flush chan struct{}
}

// Coordinator owns the single transcription session. Every state mutation
// runs on the goroutine executing Run; network calls happen on the caller's
// goroutine or on the poll task and report back through ops.
type Coordinator struct {
	backend   transcriber.Backend
	transport channel.Transport
	repo      repository.Repository
	webhook   webhook.Sender
	metrics   *metrics.Metrics
	opts      Options
	loc       *time.Location

	ops     chan func()
	chunks  chan queued
	done    chan struct{}
	running atomic.Bool
	tasks   sync.WaitGroup
	dropped atomic.Int64

	snapshot atomic.Pointer[Session]
	events   *outbox

	joinMu      sync.Mutex
	joinWaiters map[string]chan bool

	// pushes maps the ref of each in-flight channel push to its chunk so an
	// error reply can be matched back to what the server refused.
	pushMu sync.Mutex
	pushes map[uint64]pendingPush

	// owned by the Run goroutine
	session   Session
	gen       uint64
	starting  bool
	cancel    context.CancelFunc
	sessCtx   context.Context
	topic     string
	segments  []repository.SegmentInput
	startedAt time.Time
}

func NewCoordinator(deps Dependencies, opts Options) *Coordinator {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.PollMaxAttempts <= 0 {
		opts.PollMaxAttempts = 30
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		slog.Warn("invalid transcript timezone; using UTC", "timezone", opts.Timezone, "error", err)
		loc = time.UTC
		opts.Timezone = "UTC"
	}
	if deps.Transport == nil {
		opts.UseChannel = false
	}

	c := &Coordinator{
		backend:     deps.Backend,
		transport:   deps.Transport,
		repo:        deps.Repo,
		webhook:     deps.Webhook,
		metrics:     deps.Metrics,
		opts:        opts,
		loc:         loc,
		ops:         make(chan func(), opsBuffer),
		chunks:      make(chan queued, opts.QueueSize),
		done:        make(chan struct{}),
		events:      newOutbox(),
		joinWaiters: make(map[string]chan bool),
		pushes:      make(map[uint64]pendingPush),
	}
	c.publishSnapshot()
	if c.opts.UseChannel {
		c.transport.OnMessage(c.handleChannelMessage)
		c.transport.OnStateChange(c.handleChannelState)
	}
	return c
}

// Run executes state mutations until ctx is done. An active session is
// cancelled on shutdown, and Run returns once history writes have finished
// and the channel transport, if any, is disconnected.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session coordinator is already running")
	}
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.pump(ctx)
	}()

	slog.Info("session coordinator started", "channel", c.opts.UseChannel, "queue_size", c.opts.QueueSize)
	for {
		select {
		case <-ctx.Done():
			if c.session.State.IsActive() {
				c.abort("coordinator shutdown")
			}
			close(c.done)
			<-pumpDone
			c.tasks.Wait()
			if c.opts.UseChannel {
				if err := c.transport.Disconnect(); err != nil {
					slog.Warn("failed to disconnect channel transport", "error", err)
				}
			}
			slog.Info("session coordinator stopped")
			return nil
		case op := <-c.ops:
			op()
		}
	}
}

func (c *Coordinator) Snapshot() Session {
	s := *c.snapshot.Load()
	if s.State.IsActive() {
		s.DroppedChunks = int(c.dropped.Load())
	}
	return s
}

func (c *Coordinator) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.subscribe(buffer)
}

// Offer hands a chunk from the capture callback to the send pump without
// blocking. It returns false when the chunk was dropped.
func (c *Coordinator) Offer(chunk audio.Chunk) bool {
	c.metrics.RecordChunkOffered()
	if c.Snapshot().State != StateRecording {
		c.metrics.RecordChunkDropped("no_session")
		return false
	}
	select {
	case c.chunks <- queued{chunk: chunk}:
		return true
	default:
		c.metrics.RecordChunkDropped("queue_full")
		c.dropped.Add(1)
		return false
	}
}

func (c *Coordinator) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-c.chunks:
			if q.flush != nil {
				close(q.flush)
				continue
			}
			if err := c.AddChunk(ctx, q.chunk); err != nil {
				switch {
				case errors.Is(err, ErrNoActiveSession), errors.Is(err, context.Canceled):
					slog.Debug("queued chunk discarded", "seq", q.chunk.Seq, "error", err)
				default:
					slog.Warn("failed to send chunk", "seq", q.chunk.Seq, "error", err)
				}
			}
		}
	}
}

// flush waits until every chunk queued before the call has been handled.
func (c *Coordinator) flush(ctx context.Context) error {
	marker := make(chan struct{})
	select {
	case c.chunks <- queued{flush: marker}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrCoordinatorStopped
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrCoordinatorStopped
	}
}

// call runs fn on the Run goroutine and waits for its result.
func (c *Coordinator) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	op := func() { reply <- fn() }
	select {
	case c.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrCoordinatorStopped
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrCoordinatorStopped
	}
}

// post schedules fn on the Run goroutine without waiting.
func (c *Coordinator) post(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.done:
	}
}

func (c *Coordinator) Start(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	var (
		gen     uint64
		sessCtx context.Context
	)
	err := c.call(ctx, func() error {
		switch {
		case c.starting, c.session.State == StateRecording:
			return ErrAlreadyRecording
		case c.session.State == StateProcessing:
			return ErrSessionProcessing
		case c.session.State.IsTerminal():
			slog.Info("previous session acknowledged by new start", "session_id", c.session.ID, "state", c.session.State.String())
			c.reset()
		}
		c.starting = true
		c.gen++
		gen = c.gen
		c.sessCtx, c.cancel = context.WithCancel(context.Background())
		sessCtx = c.sessCtx
		return nil
	})
	if err != nil {
		return err
	}

	startCtx, stop := mergeCancel(ctx, sessCtx)
	defer stop()
	sessionID, startErr := c.backend.StartSession(startCtx, userID)

	path := PathREST
	var fallbackErr error
	if startErr == nil && c.opts.UseChannel {
		if err := c.openChannel(startCtx, userID); err != nil {
			slog.Warn("channel unavailable; using REST uploads", "user_id", userID, "error", err)
			fallbackErr = err
		} else {
			path = PathChannel
		}
	}

	return c.call(context.Background(), func() error {
		c.starting = false
		if gen != c.gen {
			return context.Canceled
		}
		if startErr != nil {
			c.cancel()
			c.cancel, c.sessCtx = nil, nil
			slog.Error("failed to start transcription session", "user_id", userID, "error", startErr)
			return fmt.Errorf("%w: %w", ErrBackendFailed, startErr)
		}
		c.startedAt = time.Now()
		c.segments = nil
		c.dropped.Store(0)
		c.session = Session{
			ID:        sessionID,
			UserID:    userID,
			State:     StateRecording,
			CreatedAt: c.startedAt,
			Path:      path,
		}
		if path == PathChannel {
			c.topic = channel.TranscriptionTopic(userID)
		}
		slog.Info("session recording", "session_id", sessionID, "user_id", userID, "path", path)
		c.changed()
		if fallbackErr != nil {
			c.events.publish(Event{Kind: EventTransportFallback, Session: c.session, Err: fallbackErr})
		}
		return nil
	})
}

func (c *Coordinator) AddChunk(ctx context.Context, chunk audio.Chunk) error {
	var (
		gen     uint64
		ref     transcriber.SessionRef
		sessCtx context.Context
		path    string
		topic   string
	)
	err := c.call(ctx, func() error {
		if c.session.State != StateRecording {
			c.metrics.RecordChunkDropped("no_session")
			return ErrNoActiveSession
		}
		c.session.ChunkCount++
		c.publishSnapshot()
		gen, sessCtx, path, topic = c.gen, c.sessCtx, c.session.Path, c.topic
		ref = transcriber.SessionRef{UserID: c.session.UserID, SessionID: c.session.ID}
		return nil
	})
	if err != nil {
		return err
	}
	if sessCtx.Err() != nil {
		return context.Canceled
	}

	if path == PathChannel {
		pushErr := c.pushChunk(topic, pendingPush{gen: gen, ref: ref, chunk: chunk})
		if pushErr == nil {
			c.metrics.RecordChunkSent(PathChannel)
			return nil
		}
		c.metrics.RecordSendFailure(PathChannel)
		slog.Warn("channel push failed; falling back to REST", "session_id", ref.SessionID, "seq", chunk.Seq, "error", pushErr)
		c.post(func() { c.fallback(gen, pushErr) })
	}

	sendCtx, stop := mergeCancel(ctx, sessCtx)
	defer stop()
	if err := c.backend.UploadChunk(sendCtx, ref, chunk); err != nil {
		if sessCtx.Err() != nil {
			return context.Canceled
		}
		c.metrics.RecordSendFailure(PathREST)
		c.post(func() {
			if gen == c.gen {
				c.events.publish(Event{Kind: EventUploadFailed, Session: c.session, Err: err})
			}
		})
		return fmt.Errorf("upload chunk %d: %w", chunk.Seq, err)
	}
	c.metrics.RecordChunkSent(PathREST)
	return nil
}

func (c *Coordinator) Finish(ctx context.Context) error {
	if c.Snapshot().State != StateRecording {
		return ErrNoActiveSession
	}
	if err := c.flush(ctx); err != nil {
		return err
	}

	var (
		gen     uint64
		ref     transcriber.SessionRef
		sessCtx context.Context
	)
	err := c.call(ctx, func() error {
		if c.session.State != StateRecording {
			return ErrNoActiveSession
		}
		c.session.State = StateProcessing
		gen, sessCtx = c.gen, c.sessCtx
		ref = transcriber.SessionRef{UserID: c.session.UserID, SessionID: c.session.ID}
		slog.Info("session processing", "session_id", ref.SessionID, "chunks", c.session.ChunkCount)
		c.changed()
		return nil
	})
	if err != nil {
		return err
	}

	finishCtx, stop := mergeCancel(ctx, sessCtx)
	defer stop()
	if err := c.backend.FinishSession(finishCtx, ref); err != nil {
		if sessCtx.Err() != nil {
			return context.Canceled
		}
		reason := err.Error()
		_ = c.call(context.Background(), func() error {
			c.resolve(gen, transcriber.Failed(reason))
			return nil
		})
		return fmt.Errorf("%w: %w", ErrBackendFailed, err)
	}

	return c.call(context.Background(), func() error {
		if gen != c.gen || c.session.State != StateProcessing {
			return nil
		}
		c.tasks.Add(1)
		go func() {
			defer c.tasks.Done()
			c.poll(sessCtx, gen, ref)
		}()
		return nil
	})
}

func (c *Coordinator) Cancel() error {
	return c.call(context.Background(), func() error {
		if !c.session.State.IsActive() {
			return ErrNoActiveSession
		}
		c.abort("cancelled")
		return nil
	})
}

func (c *Coordinator) Acknowledge() error {
	return c.call(context.Background(), func() error {
		if !c.session.State.IsTerminal() {
			return ErrNothingToAcknowledge
		}
		c.reset()
		return nil
	})
}

// abort drops the active session to idle and records it as cancelled.
func (c *Coordinator) abort(reason string) {
	slog.Info("session cancelled", "session_id", c.session.ID, "state", c.session.State.String(), "reason", reason)
	ended := c.session
	ended.ErrorDetail = reason
	ended.DroppedChunks = int(c.dropped.Load())
	c.finalize(ended, repository.SessionStatusCancelled)
	c.reset()
}

// reset returns to idle, invalidating every task of the previous session.
func (c *Coordinator) reset() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
	}
	c.leaveTopic()
	c.forgetPushes()
	c.cancel, c.sessCtx = nil, nil
	c.segments = nil
	c.session = Session{State: StateIdle}
	c.changed()
}

// resolve applies a terminal status if it still belongs to the current
// session; results for a cancelled or replaced session are discarded.
func (c *Coordinator) resolve(gen uint64, status transcriber.Status) {
	if gen != c.gen || !c.session.State.IsActive() {
		slog.Debug("stale session result discarded", "kind", status.Kind.String())
		return
	}
	c.cancel()
	c.leaveTopic()
	c.forgetPushes()
	c.session.DroppedChunks = int(c.dropped.Load())

	switch status.Kind {
	case transcriber.StatusCompleted:
		c.session.State = StateCompleted
		c.session.ResultText = status.Text
		slog.Info("session completed", "session_id", c.session.ID, "chars", len(status.Text))
		c.finalize(c.session, repository.SessionStatusCompleted)
	default:
		c.session.State = StateError
		c.session.ErrorDetail = status.Reason
		slog.Warn("session failed", "session_id", c.session.ID, "reason", status.Reason)
		c.finalize(c.session, repository.SessionStatusFailed)
	}
	c.changed()
}

func (c *Coordinator) changed() {
	c.publishSnapshot()
	c.events.publish(Event{Kind: EventStateChanged, Session: c.session})
}

func (c *Coordinator) publishSnapshot() {
	s := c.session
	c.snapshot.Store(&s)
}

// mergeCancel derives a context from parent that is also cancelled when
// other is done.
func mergeCancel(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
