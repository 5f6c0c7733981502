package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordChunkOffered()
	m.RecordChunkDropped("queue_full")
	m.RecordChunkSent("rest")
	m.RecordSendFailure("channel")
	m.RecordPoll("pending")
	m.RecordSession("completed", 1.5)
	m.RecordChannelFrame("in")
	m.RecordLivenessFailure()
	m.RecordBackendRequest("start", "200", 0.1)
}

func TestRecordChunkDropped(t *testing.T) {
	m := New()
	m.RecordChunkDropped("queue_full")
	m.RecordChunkDropped("queue_full")
	m.RecordChunkDropped("no_session")

	if got := testutil.ToFloat64(m.ChunksDropped.WithLabelValues("queue_full")); got != 2 {
		t.Fatalf("expected 2 queue_full drops, got %v", got)
	}
	if got := testutil.ToFloat64(m.ChunksDropped.WithLabelValues("no_session")); got != 1 {
		t.Fatalf("expected 1 no_session drop, got %v", got)
	}
}

func TestHandler_ExposesRegistry(t *testing.T) {
	m := New()
	m.RecordSession("completed", 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `kikitori_sessions_total{outcome="completed"} 1`) {
		t.Fatalf("expected sessions counter in output, got:\n%s", body)
	}
}

func TestNew_SeparateRegistries(t *testing.T) {
	a := New()
	b := New()
	a.RecordChunkOffered()
	if got := testutil.ToFloat64(b.ChunksOffered); got != 0 {
		t.Fatalf("expected independent registries, got %v", got)
	}
}
