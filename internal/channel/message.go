package channel

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	EventJoin          = "phx_join"
	EventLeave         = "phx_leave"
	EventReply         = "phx_reply"
	EventError         = "phx_error"
	EventClose         = "phx_close"
	EventHeartbeat     = "heartbeat"
	EventAudioData     = "audio_data"
	EventTranscription = "transcription"

	TopicPhoenix = "phoenix"

	ReplyStatusOK    = "ok"
	ReplyStatusError = "error"
)

func TranscriptionTopic(userID string) string {
	return "transcription:" + userID
}

// Message is one channel frame. On the wire it is the JSON array
// [joinRef, ref, topic, event, payload]; a zero ref is sent as null.
type Message struct {
	JoinRef uint64
	Ref     uint64
	Topic   string
	Event   string
	Payload json.RawMessage
}

func (m Message) MarshalJSON() ([]byte, error) {
	payload := m.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return json.Marshal([]any{
		encodeRef(m.JoinRef),
		encodeRef(m.Ref),
		m.Topic,
		m.Event,
		payload,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("channel frame is not an array: %w", err)
	}
	if len(parts) != 5 {
		return fmt.Errorf("channel frame must have 5 elements, got %d", len(parts))
	}
	joinRef, err := decodeRef(parts[0])
	if err != nil {
		return fmt.Errorf("invalid join ref: %w", err)
	}
	ref, err := decodeRef(parts[1])
	if err != nil {
		return fmt.Errorf("invalid ref: %w", err)
	}
	var topic, event string
	if err := json.Unmarshal(parts[2], &topic); err != nil {
		return fmt.Errorf("invalid topic: %w", err)
	}
	if err := json.Unmarshal(parts[3], &event); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	*m = Message{
		JoinRef: joinRef,
		Ref:     ref,
		Topic:   topic,
		Event:   event,
		Payload: append(json.RawMessage(nil), parts[4]...),
	}
	return nil
}

func encodeRef(ref uint64) any {
	if ref == 0 {
		return nil
	}
	return strconv.FormatUint(ref, 10)
}

func decodeRef(raw json.RawMessage) (uint64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		return strconv.ParseUint(s, 10, 64)
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

func (r Reply) OK() bool {
	return r.Status == ReplyStatusOK
}

// Reason returns the "reason" field of an error reply's response, or the
// reply status when the server gave none.
func (r Reply) Reason() string {
	var body struct {
		Reason string `json:"reason"`
	}
	if len(r.Response) > 0 && json.Unmarshal(r.Response, &body) == nil && body.Reason != "" {
		return body.Reason
	}
	return r.Status
}

func ParseReply(m Message) (Reply, error) {
	if m.Event != EventReply {
		return Reply{}, fmt.Errorf("not a reply: %s", m.Event)
	}
	var r Reply
	if err := json.Unmarshal(m.Payload, &r); err != nil {
		return Reply{}, fmt.Errorf("invalid reply payload: %w", err)
	}
	return r, nil
}

type AudioPayload struct {
	Data string `json:"data"`
}

func NewAudioPayload(pcm []byte) AudioPayload {
	return AudioPayload{Data: base64.StdEncoding.EncodeToString(pcm)}
}

func (p AudioPayload) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

type TranscriptionPayload struct {
	Text string `json:"text"`
}

type JoinPayload struct {
	UserID string `json:"user_id,omitempty"`
}
