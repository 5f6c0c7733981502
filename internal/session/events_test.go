package session

import "testing"

func TestOutbox_FansOutToSubscribers(t *testing.T) {
	o := newOutbox()
	a, unsubA := o.subscribe(4)
	b, unsubB := o.subscribe(4)
	defer unsubB()

	o.publish(Event{Kind: EventPartialResult, Text: "hi"})
	for _, ch := range []<-chan Event{a, b} {
		ev := <-ch
		if ev.Kind != EventPartialResult || ev.Text != "hi" {
			t.Fatalf("unexpected event %+v", ev)
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
	o.publish(Event{Kind: EventStateChanged})
	if ev := <-b; ev.Kind != EventStateChanged {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestOutbox_SlowSubscriberMissesEvents(t *testing.T) {
	o := newOutbox()
	ch, unsub := o.subscribe(1)
	defer unsub()

	o.publish(Event{Kind: EventStateChanged, Text: "first"})
	o.publish(Event{Kind: EventStateChanged, Text: "second"})

	if ev := <-ch; ev.Text != "first" {
		t.Fatalf("expected the first event to be kept, got %q", ev.Text)
	}
	select {
	case ev := <-ch:
		t.Fatalf("expected the second event to be dropped, got %+v", ev)
	default:
	}
}

func TestEventKind_String(t *testing.T) {
	cases := map[EventKind]string{
		EventStateChanged:      "state_changed",
		EventUploadFailed:      "upload_failed",
		EventPartialResult:     "partial_result",
		EventTransportFallback: "transport_fallback",
		EventKind(0):           "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%d: got %q want %q", kind, got, want)
		}
	}
}
