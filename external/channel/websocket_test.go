package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/kikitori/internal/channel"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/samber/do/v2"
)

type fakeServer struct {
	srv      *httptest.Server
	received chan channel.Message
	silent   bool

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFakeServer(t *testing.T, silent bool) *fakeServer {
	t.Helper()
	fs := &fakeServer{received: make(chan channel.Message, 64), silent: silent}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()
		fs.serve(conn)
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) serve(conn *websocket.Conn) {
	var writeMu sync.Mutex
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg channel.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		select {
		case fs.received <- msg:
		default:
		}
		if fs.silent {
			continue
		}
		status := channel.ReplyStatusOK
		if msg.Event == channel.EventJoin && strings.HasSuffix(msg.Topic, ":reject") {
			status = channel.ReplyStatusError
		}
		reply := channel.Message{
			JoinRef: msg.JoinRef,
			Ref:     msg.Ref,
			Topic:   msg.Topic,
			Event:   channel.EventReply,
			Payload: json.RawMessage(`{"status":"` + status + `","response":{}}`),
		}
		out, _ := json.Marshal(reply)
		writeMu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, out)
		writeMu.Unlock()
	}
}

func (fs *fakeServer) broadcast(t *testing.T, msg channel.Message) {
	t.Helper()
	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, c := range fs.conns {
		if err := c.WriteMessage(websocket.TextMessage, out); err != nil {
			t.Fatalf("broadcast: %v", err)
		}
	}
}

func (fs *fakeServer) next(t *testing.T) channel.Message {
	t.Helper()
	select {
	case m := <-fs.received:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return channel.Message{}
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []channel.ConnectionState
	ch     chan channel.ConnectionState
}

func newStateRecorder(tr *WebSocketTransport) *stateRecorder {
	r := &stateRecorder{ch: make(chan channel.ConnectionState, 32)}
	tr.OnStateChange(func(s channel.ConnectionState) {
		r.mu.Lock()
		r.states = append(r.states, s)
		r.mu.Unlock()
		r.ch <- s
	})
	return r
}

func (r *stateRecorder) waitFor(t *testing.T, phase channel.Phase) channel.ConnectionState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s.Phase == phase {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", phase)
			return channel.ConnectionState{}
		}
	}
}

func newTestTransport(url string) *WebSocketTransport {
	return NewWebSocketTransport(Options{
		URL:               url,
		HeartbeatInterval: time.Hour,
		HeartbeatGrace:    time.Hour,
	})
}

func TestConnect_JoinAndPushUseIncreasingRefs(t *testing.T) {
	fs := newFakeServer(t, false)
	tr := newTestTransport(fs.url())
	states := newStateRecorder(tr)

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	defer tr.Disconnect()
	states.waitFor(t, channel.PhaseConnected)

	topic := channel.TranscriptionTopic("u1")
	joinRef, err := tr.Join(topic, channel.JoinPayload{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	if joinRef != 1 {
		t.Fatalf("expected first ref 1, got %d", joinRef)
	}
	joined := states.waitFor(t, channel.PhaseJoined)
	if joined.Topic != topic {
		t.Fatalf("expected joined %s, got %s", topic, joined.Topic)
	}

	last := joinRef
	for i := 0; i < 3; i++ {
		ref, err := tr.Push(topic, channel.EventAudioData, channel.NewAudioPayload([]byte{1, 2, 3, 4}))
		if err != nil {
			t.Fatalf("unexpected push error: %v", err)
		}
		if ref <= last {
			t.Fatalf("expected ref greater than %d, got %d", last, ref)
		}
		last = ref
	}

	join := fs.next(t)
	if join.Event != channel.EventJoin || join.Ref != 1 || join.JoinRef != 1 {
		t.Fatalf("unexpected join frame: %+v", join)
	}
	for i := 0; i < 3; i++ {
		push := fs.next(t)
		if push.Event != channel.EventAudioData || push.JoinRef != 1 || push.Ref != uint64(i+2) {
			t.Fatalf("unexpected push frame %d: %+v", i, push)
		}
		var p channel.AudioPayload
		if err := json.Unmarshal(push.Payload, &p); err != nil || p.Data != "AQIDBA==" {
			t.Fatalf("unexpected audio payload %s", push.Payload)
		}
	}
}

func TestConnect_RefsRestartOnNewConnection(t *testing.T) {
	fs := newFakeServer(t, false)
	tr := newTestTransport(fs.url())

	for round := 0; round < 2; round++ {
		if err := tr.Connect(context.Background()); err != nil {
			t.Fatalf("round %d: unexpected connect error: %v", round, err)
		}
		ref, err := tr.Push(channel.TopicPhoenix, channel.EventHeartbeat, nil)
		if err != nil {
			t.Fatalf("round %d: unexpected push error: %v", round, err)
		}
		if ref != 1 {
			t.Fatalf("round %d: expected ref 1, got %d", round, ref)
		}
		if err := tr.Disconnect(); err != nil {
			t.Fatalf("round %d: unexpected disconnect error: %v", round, err)
		}
	}
}

func TestPush_NotConnected(t *testing.T) {
	tr := newTestTransport("ws://127.0.0.1:1/socket")
	_, err := tr.Push("t", "e", nil)
	var te *channel.TransportError
	if !errors.As(err, &te) || te.Kind != channel.KindNotConnected {
		t.Fatalf("expected not connected error, got %v", err)
	}
	if tr.IsConnected() {
		t.Fatal("expected disconnected transport")
	}
}

func TestConnect_FailureLeavesDisconnected(t *testing.T) {
	fs := newFakeServer(t, false)
	url := fs.url()
	fs.srv.Close()

	tr := newTestTransport(url)
	err := tr.Connect(context.Background())
	if !errors.Is(err, &channel.TransportError{Kind: channel.KindConnectFailed}) {
		t.Fatalf("expected connect failed, got %v", err)
	}
	if tr.State().Phase != channel.PhaseDisconnected {
		t.Fatalf("expected disconnected, got %s", tr.State())
	}
}

func TestJoin_RejectedStaysConnected(t *testing.T) {
	fs := newFakeServer(t, false)
	tr := newTestTransport(fs.url())
	replies := make(chan channel.Message, 4)
	tr.OnMessage(func(m channel.Message) {
		if m.Event == channel.EventReply {
			replies <- m
		}
	})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	defer tr.Disconnect()

	ref, err := tr.Join("transcription:reject", nil)
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	select {
	case m := <-replies:
		if m.Ref != ref {
			t.Fatalf("expected reply to ref %d, got %d", ref, m.Ref)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
	if s := tr.State(); s.Phase != channel.PhaseConnected {
		t.Fatalf("expected connected after rejected join, got %s", s)
	}
}

func TestOnMessage_DeliveredInOrder(t *testing.T) {
	fs := newFakeServer(t, false)
	tr := newTestTransport(fs.url())
	got := make(chan string, 8)
	tr.OnMessage(func(m channel.Message) {
		if m.Event == channel.EventTranscription {
			var p channel.TranscriptionPayload
			_ = json.Unmarshal(m.Payload, &p)
			got <- p.Text
		}
	})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	defer tr.Disconnect()
	if _, err := tr.Join("transcription:u1", nil); err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	fs.next(t)

	for _, text := range []string{"one", "two", "three"} {
		fs.broadcast(t, channel.Message{
			Topic:   "transcription:u1",
			Event:   channel.EventTranscription,
			Payload: json.RawMessage(`{"text":"` + text + `"}`),
		})
	}
	for _, want := range []string{"one", "two", "three"} {
		select {
		case text := <-got:
			if text != want {
				t.Fatalf("expected %q, got %q", want, text)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestHeartbeat_SentOnPhoenixTopic(t *testing.T) {
	fs := newFakeServer(t, false)
	tr := NewWebSocketTransport(Options{
		URL:               fs.url(),
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatGrace:    time.Second,
	})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	defer tr.Disconnect()

	first := fs.next(t)
	second := fs.next(t)
	for _, m := range []channel.Message{first, second} {
		if m.Topic != channel.TopicPhoenix || m.Event != channel.EventHeartbeat {
			t.Fatalf("expected heartbeat, got %+v", m)
		}
	}
	if first.Ref != 1 || second.Ref != 2 {
		t.Fatalf("expected heartbeat refs 1 and 2, got %d and %d", first.Ref, second.Ref)
	}
}

func TestLiveness_SilentServerDisconnects(t *testing.T) {
	fs := newFakeServer(t, true)
	tr := NewWebSocketTransport(Options{
		URL:               fs.url(),
		HeartbeatInterval: 30 * time.Millisecond,
		HeartbeatGrace:    30 * time.Millisecond,
	})
	states := newStateRecorder(tr)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	states.waitFor(t, channel.PhaseDisconnected)
	if tr.IsConnected() {
		t.Fatal("expected transport to report disconnected")
	}
	if _, err := tr.Push("t", "e", nil); !errors.Is(err, &channel.TransportError{Kind: channel.KindNotConnected}) {
		t.Fatalf("expected not connected after liveness failure, got %v", err)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	fs := newFakeServer(t, false)
	tr := newTestTransport(fs.url())
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if err := tr.Disconnect(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Disconnect(); err != nil {
		t.Fatalf("unexpected error on second disconnect: %v", err)
	}
	if tr.State().Phase != channel.PhaseDisconnected {
		t.Fatalf("expected disconnected, got %s", tr.State())
	}
}

func TestRegisterDI_InjectorShutdownDisconnects(t *testing.T) {
	fs := newFakeServer(t, false)
	injector := do.New()
	do.ProvideValue(injector, &config.Config{
		ChannelURL:        fs.url(),
		HeartbeatInterval: time.Hour,
		HeartbeatGrace:    time.Hour,
	})
	do.ProvideValue(injector, metrics.New())
	RegisterDI(injector)

	tr := do.MustInvoke[channel.Transport](injector)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if report := injector.Shutdown(); len(report.Errors) > 0 {
		t.Fatalf("unexpected shutdown errors: %v", report.Error())
	}
	if tr.State().Phase != channel.PhaseDisconnected {
		t.Fatalf("expected disconnected after injector shutdown, got %s", tr.State())
	}
}
