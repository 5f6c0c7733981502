package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/channel"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	writeWait          = 10 * time.Second
	handshakeTimeout   = 10 * time.Second
	maxMessageSize     = 512 * 1024
	defaultQueueSize   = 256
	defaultHeartbeat   = 30 * time.Second
	defaultGracePeriod = 10 * time.Second
)

type Options struct {
	URL               string
	APIToken          string
	HeartbeatInterval time.Duration
	HeartbeatGrace    time.Duration
	SendQueueSize     int
	Metrics           *metrics.Metrics
}

// WebSocketTransport multiplexes channel topics over one gorilla/websocket
// connection. It never reconnects on its own; callers observe
// PhaseDisconnected and decide.
type WebSocketTransport struct {
	opts   Options
	dialer *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	done         chan struct{}
	send         chan []byte
	ref          uint64
	state        channel.ConnectionState
	pendingJoins map[uint64]string
	joinRefs     map[string]uint64

	onMessage atomic.Pointer[func(channel.Message)]
	onState   atomic.Pointer[func(channel.ConnectionState)]
}

func NewWebSocketTransport(opts Options) *WebSocketTransport {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.HeartbeatGrace < 0 {
		opts.HeartbeatGrace = defaultGracePeriod
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaultQueueSize
	}
	return &WebSocketTransport{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

func (t *WebSocketTransport) OnMessage(handler func(channel.Message)) {
	t.onMessage.Store(&handler)
}

func (t *WebSocketTransport) OnStateChange(handler func(channel.ConnectionState)) {
	t.onState.Store(&handler)
}

func (t *WebSocketTransport) State() channel.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *WebSocketTransport) IsConnected() bool {
	return t.State().IsConnected()
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	switch t.state.Phase {
	case channel.PhaseConnected, channel.PhaseJoined:
		t.mu.Unlock()
		return nil
	case channel.PhaseConnecting:
		t.mu.Unlock()
		return &channel.TransportError{Kind: channel.KindConnectFailed, Err: errors.New("connect already in progress")}
	}
	t.state = channel.ConnectionState{Phase: channel.PhaseConnecting}
	t.mu.Unlock()
	t.notifyState(channel.ConnectionState{Phase: channel.PhaseConnecting})

	header := http.Header{}
	if t.opts.APIToken != "" {
		header.Set("Authorization", "Bearer "+t.opts.APIToken)
	}
	conn, _, err := t.dialer.DialContext(ctx, t.opts.URL, header)
	if err != nil {
		t.setState(channel.ConnectionState{Phase: channel.PhaseDisconnected})
		slog.Warn("channel connect failed", "url", t.opts.URL, "error", err)
		return &channel.TransportError{Kind: channel.KindConnectFailed, Err: err}
	}
	conn.SetReadLimit(maxMessageSize)

	done := make(chan struct{})
	send := make(chan []byte, t.opts.SendQueueSize)
	t.mu.Lock()
	t.conn = conn
	t.done = done
	t.send = send
	t.ref = 0
	t.pendingJoins = make(map[uint64]string)
	t.joinRefs = make(map[string]uint64)
	t.state = channel.ConnectionState{Phase: channel.PhaseConnected}
	t.mu.Unlock()

	go t.writePump(conn, done, send)
	go t.readPump(conn, done)

	slog.Info("channel connected", "url", t.opts.URL)
	t.notifyState(channel.ConnectionState{Phase: channel.PhaseConnected})
	return nil
}

func (t *WebSocketTransport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	t.teardown(conn, nil)
	return nil
}

// Shutdown lets the injector close the connection on exit.
func (t *WebSocketTransport) Shutdown() error {
	return t.Disconnect()
}

func (t *WebSocketTransport) Join(topic string, payload any) (uint64, error) {
	return t.enqueue(topic, channel.EventJoin, payload)
}

func (t *WebSocketTransport) Leave(topic string) (uint64, error) {
	return t.enqueue(topic, channel.EventLeave, nil)
}

func (t *WebSocketTransport) Push(topic, event string, payload any) (uint64, error) {
	return t.enqueue(topic, event, payload)
}

func (t *WebSocketTransport) enqueue(topic, event string, payload any) (uint64, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return 0, &channel.TransportError{Kind: channel.KindSendFailed, Err: err}
	}

	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return 0, &channel.TransportError{Kind: channel.KindNotConnected}
	}
	t.ref++
	msg := channel.Message{Ref: t.ref, Topic: topic, Event: event, Payload: raw}
	var leftJoined bool
	switch event {
	case channel.EventJoin:
		msg.JoinRef = msg.Ref
		t.pendingJoins[msg.Ref] = topic
		t.joinRefs[topic] = msg.Ref
	case channel.EventLeave:
		msg.JoinRef = t.joinRefs[topic]
		delete(t.joinRefs, topic)
		if t.state.Phase == channel.PhaseJoined && t.state.Topic == topic {
			t.state = channel.ConnectionState{Phase: channel.PhaseConnected}
			leftJoined = true
		}
	default:
		msg.JoinRef = t.joinRefs[topic]
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		t.mu.Unlock()
		return 0, &channel.TransportError{Kind: channel.KindSendFailed, Err: err}
	}
	select {
	case t.send <- frame:
	default:
		t.mu.Unlock()
		return 0, &channel.TransportError{Kind: channel.KindSendFailed, Err: errors.New("send queue full")}
	}
	ref := msg.Ref
	t.mu.Unlock()

	if leftJoined {
		t.notifyState(channel.ConnectionState{Phase: channel.PhaseConnected})
	}
	return ref, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return raw, nil
}

func (t *WebSocketTransport) writePump(conn *websocket.Conn, done <-chan struct{}, send <-chan []byte) {
	ticker := time.NewTicker(t.opts.HeartbeatInterval)
	defer ticker.Stop()

	write := func(frame []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			slog.Warn("channel write failed", "error", err)
			t.teardown(conn, &channel.TransportError{Kind: channel.KindSendFailed, Err: err})
			return false
		}
		t.opts.Metrics.RecordChannelFrame("out")
		return true
	}

	for {
		select {
		case <-done:
			return
		case frame := <-send:
			if !write(frame) {
				return
			}
		case <-ticker.C:
			if _, err := t.Push(channel.TopicPhoenix, channel.EventHeartbeat, nil); err != nil {
				slog.Debug("heartbeat skipped", "error", err)
			}
		}
	}
}

func (t *WebSocketTransport) readPump(conn *websocket.Conn, done <-chan struct{}) {
	window := t.opts.HeartbeatInterval + t.opts.HeartbeatGrace
	for {
		_ = conn.SetReadDeadline(time.Now().Add(window))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				slog.Warn("channel liveness timeout", "window", window)
				t.opts.Metrics.RecordLivenessFailure()
				t.teardown(conn, &channel.TransportError{Kind: channel.KindLivenessTimeout, Err: err})
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("channel read failed", "error", err)
			}
			t.teardown(conn, err)
			return
		}
		t.opts.Metrics.RecordChannelFrame("in")

		var msg channel.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("failed to parse channel frame", "error", err)
			continue
		}
		t.track(msg)
		if h := t.onMessage.Load(); h != nil {
			(*h)(msg)
		}
	}
}

// track applies join bookkeeping for replies and server-side closes.
func (t *WebSocketTransport) track(msg channel.Message) {
	var changed *channel.ConnectionState

	t.mu.Lock()
	switch msg.Event {
	case channel.EventReply:
		topic, pending := t.pendingJoins[msg.Ref]
		if !pending {
			break
		}
		delete(t.pendingJoins, msg.Ref)
		reply, err := channel.ParseReply(msg)
		if err != nil || !reply.OK() {
			delete(t.joinRefs, topic)
			slog.Warn("channel join rejected", "topic", topic, "ref", msg.Ref, "status", reply.Status)
			break
		}
		if t.joinRefs[topic] != msg.Ref {
			break
		}
		t.state = channel.ConnectionState{Phase: channel.PhaseJoined, Topic: topic}
		s := t.state
		changed = &s
		slog.Info("channel joined", "topic", topic, "ref", msg.Ref)
	case channel.EventClose, channel.EventError:
		if t.state.Phase == channel.PhaseJoined && t.state.Topic == msg.Topic {
			delete(t.joinRefs, msg.Topic)
			t.state = channel.ConnectionState{Phase: channel.PhaseConnected}
			s := t.state
			changed = &s
			slog.Warn("channel topic closed by server", "topic", msg.Topic, "event", msg.Event)
		}
	}
	t.mu.Unlock()

	if changed != nil {
		t.notifyState(*changed)
	}
}

// teardown is idempotent per connection; only the first caller for a given
// conn changes state.
func (t *WebSocketTransport) teardown(conn *websocket.Conn, reason error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	close(t.done)
	t.pendingJoins = nil
	t.joinRefs = nil
	t.state = channel.ConnectionState{Phase: channel.PhaseDisconnected}
	t.mu.Unlock()

	_ = conn.Close()
	if reason != nil {
		slog.Warn("channel disconnected", "reason", reason)
	} else {
		slog.Info("channel disconnected")
	}
	t.notifyState(channel.ConnectionState{Phase: channel.PhaseDisconnected})
}

func (t *WebSocketTransport) setState(s channel.ConnectionState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.notifyState(s)
}

func (t *WebSocketTransport) notifyState(s channel.ConnectionState) {
	if h := t.onState.Load(); h != nil {
		(*h)(s)
	}
}
