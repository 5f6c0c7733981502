package transcriber

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

const (
	apiPrefix = "/api/v1"

	opStart  = "start"
	opChunk  = "chunk"
	opFinish = "finish"
	opStatus = "status"

	CompressionGzip = "gzip"
	CompressionNone = "none"

	maxErrorBodyBytes = 4 << 10
)

type HTTPBackendConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
	Metrics  *metrics.Metrics
}

type HTTPBackend struct {
	baseURL  string
	apiToken string
	client   *http.Client
	metrics  *metrics.Metrics
	compress func([]byte) ([]byte, error)
}

func NewHTTPBackend(cfg HTTPBackendConfig) *HTTPBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/") + apiPrefix,
		apiToken: cfg.APIToken,
		client:   &http.Client{Timeout: timeout},
		metrics:  cfg.Metrics,
		compress: gzipCompress,
	}
}

type startRequest struct {
	UserID string `json:"user_id"`
}

type startResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

type chunkRequest struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	Chunk       string `json:"chunk"`
	Compression string `json:"compression"`
}

type finishRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Session *struct {
		Status string `json:"status"`
		Result string `json:"result"`
		Error  string `json:"error"`
	} `json:"session"`
}

func (b *HTTPBackend) StartSession(ctx context.Context, userID string) (string, error) {
	var resp startResponse
	if err := b.do(ctx, opStart, http.MethodPost, "/transcribe/start", startRequest{UserID: userID}, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", &transcriber.UploadError{Op: opStart, Kind: transcriber.KindEncode, Message: "response has no session_id"}
	}
	slog.Info("transcription session started", "user_id", userID, "session_id", resp.SessionID)
	return resp.SessionID, nil
}

func (b *HTTPBackend) UploadChunk(ctx context.Context, ref transcriber.SessionRef, chunk audio.Chunk) error {
	pcm := chunk.Bytes()
	payload, compression := pcm, CompressionNone
	if compressed, err := b.compress(pcm); err != nil {
		slog.Warn("chunk compression failed; sending uncompressed", "session_id", ref.SessionID, "seq", chunk.Seq, "error", err)
	} else {
		payload, compression = compressed, CompressionGzip
	}
	body := chunkRequest{
		UserID:      ref.UserID,
		SessionID:   ref.SessionID,
		Chunk:       base64.StdEncoding.EncodeToString(payload),
		Compression: compression,
	}
	return b.do(ctx, opChunk, http.MethodPost, "/transcribe/chunk", body, nil)
}

func (b *HTTPBackend) FinishSession(ctx context.Context, ref transcriber.SessionRef) error {
	if err := b.do(ctx, opFinish, http.MethodPost, "/transcribe/finish", finishRequest{UserID: ref.UserID, SessionID: ref.SessionID}, nil); err != nil {
		return err
	}
	slog.Info("transcription session finished", "user_id", ref.UserID, "session_id", ref.SessionID)
	return nil
}

func (b *HTTPBackend) PollStatus(ctx context.Context, ref transcriber.SessionRef) (transcriber.Status, error) {
	var resp statusResponse
	path := "/transcribe/status?user_id=" + url.QueryEscape(ref.UserID)
	if err := b.do(ctx, opStatus, http.MethodGet, path, nil, &resp); err != nil {
		return transcriber.Status{}, err
	}
	if resp.Session == nil {
		return transcriber.Pending(), nil
	}
	return transcriber.ParseSessionStatus(resp.Session.Status, resp.Session.Result, resp.Session.Error), nil
}

func (b *HTTPBackend) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &transcriber.UploadError{Op: op, Kind: transcriber.KindEncode, Err: err}
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return &transcriber.UploadError{Op: op, Kind: transcriber.KindEncode, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if b.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiToken)
	}

	started := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		b.metrics.RecordBackendRequest(op, "error", time.Since(started).Seconds())
		return &transcriber.UploadError{Op: op, Kind: transcriber.KindNetwork, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	b.metrics.RecordBackendRequest(op, strconv.Itoa(resp.StatusCode), time.Since(started).Seconds())

	if !isHTTPSuccessStatus(resp.StatusCode) {
		msg := readErrorMessage(resp.Body)
		slog.Warn("backend request rejected", "op", op, "status_code", resp.StatusCode, "message", msg)
		return &transcriber.UploadError{Op: op, Kind: transcriber.KindHTTPStatus, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty response body")
		}
		return &transcriber.UploadError{Op: op, Kind: transcriber.KindEncode, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func readErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

func gzipCompress(pcm []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(pcm); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
