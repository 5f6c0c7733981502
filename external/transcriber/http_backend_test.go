package transcriber

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/klauspost/compress/gzip"
)

var testRef = transcriber.SessionRef{UserID: "u1", SessionID: "s1"}

func newTestBackend(t *testing.T, handler http.HandlerFunc) *HTTPBackend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPBackend(HTTPBackendConfig{BaseURL: server.URL + "/", APIToken: "secret", Timeout: 5 * time.Second})
}

func TestStartSession_Success(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/transcribe/start" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("expected X-Request-Id header")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["user_id"] != "u1" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = w.Write([]byte(`{"status":"ok","session_id":"abc"}`))
	})

	id, err := b.StartSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "abc" {
		t.Fatalf("expected session id abc, got %q", id)
	}
}

func TestStartSession_MissingSessionID(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	_, err := b.StartSession(context.Background(), "u1")
	var ue *transcriber.UploadError
	if !errors.As(err, &ue) || ue.Kind != transcriber.KindEncode {
		t.Fatalf("expected encode error, got %v", err)
	}
}

func TestStartSession_HTTPStatusError(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"session already active"}`))
	})
	_, err := b.StartSession(context.Background(), "u1")
	var ue *transcriber.UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	if ue.Kind != transcriber.KindHTTPStatus || ue.StatusCode != http.StatusConflict || ue.Message != "session already active" {
		t.Fatalf("unexpected error fields: %+v", ue)
	}
	if ue.Op != "start" {
		t.Fatalf("unexpected op %q", ue.Op)
	}
}

func TestStartSession_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	b := NewHTTPBackend(HTTPBackendConfig{BaseURL: url, Timeout: time.Second})
	_, err := b.StartSession(context.Background(), "u1")
	if !transcriber.IsNetworkError(err) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestUploadChunk_GzipAndBase64(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	var got chunkRequest
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transcribe/chunk" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	})

	if err := b.UploadChunk(context.Background(), testRef, audio.NewChunk(1, time.Now(), pcm)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != "u1" || got.SessionID != "s1" || got.Compression != CompressionGzip {
		t.Fatalf("unexpected request %+v", got)
	}
	raw, err := base64.StdEncoding.DecodeString(got.Chunk)
	if err != nil {
		t.Fatalf("chunk is not base64: %v", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("chunk is not gzip: %v", err)
	}
	decoded, _ := io.ReadAll(zr)
	if !bytes.Equal(decoded, pcm) {
		t.Fatalf("expected %v, got %v", pcm, decoded)
	}
}

func TestUploadChunk_CompressionFailureSendsRaw(t *testing.T) {
	pcm := []byte{9, 9, 8, 8}
	var got chunkRequest
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	})
	b.compress = func([]byte) ([]byte, error) { return nil, errors.New("no memory") }

	if err := b.UploadChunk(context.Background(), testRef, audio.NewChunk(1, time.Now(), pcm)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Compression != CompressionNone {
		t.Fatalf("expected compression none, got %q", got.Compression)
	}
	if got.Chunk != base64.StdEncoding.EncodeToString(pcm) {
		t.Fatalf("expected raw base64 payload, got %q", got.Chunk)
	}
}

func TestUploadChunk_ServerError(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	err := b.UploadChunk(context.Background(), testRef, audio.NewChunk(1, time.Now(), []byte{0, 0}))
	var ue *transcriber.UploadError
	if !errors.As(err, &ue) || ue.StatusCode != 500 || ue.Message != "boom" {
		t.Fatalf("expected 500 UploadError with message, got %v", err)
	}
}

func TestFinishSession_SendsIdentifiers(t *testing.T) {
	var got finishRequest
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transcribe/finish" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	})
	if err := b.FinishSession(context.Background(), testRef); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != "u1" || got.SessionID != "s1" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestPollStatus_MapsSessionStatus(t *testing.T) {
	cases := []struct {
		body string
		want transcriber.Status
	}{
		{`{"status":"ok","session":{"status":"processing"}}`, transcriber.Pending()},
		{`{"status":"ok","session":{"status":"completed","result":"hello world"}}`, transcriber.Completed("hello world")},
		{`{"status":"ok","session":{"status":"failed","error":"bad audio"}}`, transcriber.Failed("bad audio")},
		{`{"status":"ok"}`, transcriber.Pending()},
	}
	for _, tc := range cases {
		b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || r.URL.Path != "/api/v1/transcribe/status" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			if r.URL.Query().Get("user_id") != "u1" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(tc.body))
		})
		got, err := b.PollStatus(context.Background(), testRef)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.body, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.body, tc.want, got)
		}
	}
}

func TestPollStatus_InvalidJSON(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, err := b.PollStatus(context.Background(), testRef)
	var ue *transcriber.UploadError
	if !errors.As(err, &ue) || ue.Kind != transcriber.KindEncode {
		t.Fatalf("expected encode error, got %v", err)
	}
}
