package session

import (
	"log/slog"
	"sync"
)

type EventKind int

const (
	EventStateChanged EventKind = iota + 1
	EventUploadFailed
	EventPartialResult
	EventTransportFallback
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventUploadFailed:
		return "upload_failed"
	case EventPartialResult:
		return "partial_result"
	case EventTransportFallback:
		return "transport_fallback"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind    EventKind
	Session Session
	Text    string
	Err     error
}

// outbox fans events out to subscribers. A subscriber whose buffer is full
// misses the event; publishing never blocks.
type outbox struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newOutbox() *outbox {
	return &outbox{subs: make(map[int]chan Event)}
}

func (o *outbox) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
			close(ch)
		})
	}
}

func (o *outbox) publish(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, ch := range o.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("session event dropped for slow subscriber", "subscriber", id, "event", ev.Kind.String())
		}
	}
}
