package devbackend

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/channel"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	topicPrefix    = "transcription:"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type socketConn struct {
	conn *websocket.Conn

	mu    sync.Mutex
	joins map[string]uint64
}

func (sc *socketConn) write(msg channel.Message) error {
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_ = sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sc.conn.WriteMessage(websocket.TextMessage, out)
}

func (sc *socketConn) joinRef(topic string) (uint64, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	ref, ok := sc.joins[topic]
	return ref, ok
}

type hub struct {
	server *Server

	mu    sync.Mutex
	conns map[*socketConn]struct{}
}

func newHub(s *Server) *hub {
	return &hub{server: s, conns: make(map[*socketConn]struct{})}
}

func (h *hub) serve(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return nil
	}
	conn.SetReadLimit(maxMessageSize)
	sc := &socketConn{conn: conn, joins: make(map[string]uint64)}

	h.mu.Lock()
	h.conns[sc] = struct{}{}
	h.mu.Unlock()
	slog.Info("channel client connected", "remote_addr", c.RealIP())

	defer func() {
		h.mu.Lock()
		delete(h.conns, sc)
		h.mu.Unlock()
		_ = conn.Close()
		slog.Info("channel client disconnected", "remote_addr", c.RealIP())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		var msg channel.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid channel frame", "error", err)
			continue
		}
		if err := h.handle(sc, msg); err != nil {
			slog.Warn("failed to write channel reply", "topic", msg.Topic, "error", err)
			return nil
		}
	}
}

func (h *hub) handle(sc *socketConn, msg channel.Message) error {
	switch {
	case msg.Topic == channel.TopicPhoenix && msg.Event == channel.EventHeartbeat:
		return sc.reply(msg, channel.ReplyStatusOK, "")

	case msg.Event == channel.EventJoin:
		if !strings.HasPrefix(msg.Topic, topicPrefix) || msg.Topic == topicPrefix {
			return sc.reply(msg, channel.ReplyStatusError, "unmatched topic")
		}
		ref := msg.JoinRef
		if ref == 0 {
			ref = msg.Ref
		}
		sc.mu.Lock()
		sc.joins[msg.Topic] = ref
		sc.mu.Unlock()
		slog.Info("channel topic joined", "topic", msg.Topic, "join_ref", ref)
		return sc.reply(msg, channel.ReplyStatusOK, "")

	case msg.Event == channel.EventLeave:
		sc.mu.Lock()
		delete(sc.joins, msg.Topic)
		sc.mu.Unlock()
		return sc.reply(msg, channel.ReplyStatusOK, "")

	case msg.Event == channel.EventAudioData:
		if _, ok := sc.joinRef(msg.Topic); !ok {
			return sc.reply(msg, channel.ReplyStatusError, "not joined")
		}
		var p channel.AudioPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return sc.reply(msg, channel.ReplyStatusError, "invalid payload")
		}
		pcm, err := p.Decode()
		if err != nil {
			return sc.reply(msg, channel.ReplyStatusError, "data is not valid base64")
		}
		if err := h.server.record(strings.TrimPrefix(msg.Topic, topicPrefix), "", pcm); err != nil {
			return sc.reply(msg, channel.ReplyStatusError, err.Error())
		}
		return sc.reply(msg, channel.ReplyStatusOK, "")

	default:
		return sc.reply(msg, channel.ReplyStatusError, "unsupported event")
	}
}

func (sc *socketConn) reply(msg channel.Message, status, reason string) error {
	response := json.RawMessage(`{}`)
	if reason != "" {
		raw, err := json.Marshal(map[string]string{"reason": reason})
		if err != nil {
			return err
		}
		response = raw
	}
	payload, err := json.Marshal(channel.Reply{Status: status, Response: response})
	if err != nil {
		return err
	}
	return sc.write(channel.Message{
		JoinRef: msg.JoinRef,
		Ref:     msg.Ref,
		Topic:   msg.Topic,
		Event:   channel.EventReply,
		Payload: payload,
	})
}

func (h *hub) broadcastTranscription(userID, text string) {
	topic := channel.TranscriptionTopic(userID)
	payload, err := json.Marshal(channel.TranscriptionPayload{Text: text})
	if err != nil {
		return
	}

	h.mu.Lock()
	conns := make([]*socketConn, 0, len(h.conns))
	for sc := range h.conns {
		conns = append(conns, sc)
	}
	h.mu.Unlock()

	for _, sc := range conns {
		ref, ok := sc.joinRef(topic)
		if !ok {
			continue
		}
		msg := channel.Message{JoinRef: ref, Topic: topic, Event: channel.EventTranscription, Payload: payload}
		if err := sc.write(msg); err != nil {
			slog.Warn("failed to broadcast transcription", "topic", topic, "error", err)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sc := range h.conns {
		_ = sc.conn.Close()
	}
}
