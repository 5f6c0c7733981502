package channel

import (
	"context"
	"fmt"
)

type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Join(topic string, payload any) (uint64, error)
	Leave(topic string) (uint64, error)
	Push(topic, event string, payload any) (uint64, error)
	OnMessage(handler func(Message))
	OnStateChange(handler func(ConnectionState))
	IsConnected() bool
	State() ConnectionState
}

type TransportErrorKind int

const (
	KindConnectFailed TransportErrorKind = iota + 1
	KindSendFailed
	KindLivenessTimeout
	KindNotConnected
)

func (k TransportErrorKind) String() string {
	switch k {
	case KindConnectFailed:
		return "connect failed"
	case KindSendFailed:
		return "send failed"
	case KindLivenessTimeout:
		return "liveness timeout"
	case KindNotConnected:
		return "not connected"
	default:
		return "unknown"
	}
}

type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("channel: %s", e.Kind)
	}
	return fmt.Sprintf("channel: %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is matches any *TransportError of the same kind, so callers can write
// errors.Is(err, &TransportError{Kind: KindNotConnected}).
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	return ok && t.Kind == e.Kind
}
