package devbackend

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	compressionGzip = "gzip"
	compressionNone = "none"

	maxChunkBytes = 4 << 20
)

type Options struct {
	// PendingPolls is how many status polls report processing after finish
	// before the result is returned.
	PendingPolls int
	// APIToken, when set, is required as a bearer token on every request.
	APIToken string
}

type transcription struct {
	id           string
	userID       string
	chunks       int
	bytes        int
	finished     bool
	pendingPolls int
}

func (t *transcription) result() string {
	return fmt.Sprintf("received %d chunks (%d bytes)", t.chunks, t.bytes)
}

// Server is a development stand-in for the transcription backend. It speaks
// the REST contract under /api/v1 and the channel protocol at
// /socket/websocket, and "transcribes" by counting what it received.
type Server struct {
	opts Options
	echo *echo.Echo

	mu       sync.Mutex
	sessions map[string]*transcription
	hub      *hub
}

func New(opts Options) *Server {
	if opts.PendingPolls < 0 {
		opts.PendingPolls = 0
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("request handled", "method", v.Method, "uri", v.URI, "status", v.Status, "latency_ms", v.Latency.Milliseconds())
			return nil
		},
	}))

	s := &Server{
		opts:     opts,
		echo:     e,
		sessions: make(map[string]*transcription),
	}
	s.hub = newHub(s)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	v1 := s.echo.Group("/api/v1", s.requireToken)
	v1.POST("/transcribe/start", s.handleStart)
	v1.POST("/transcribe/chunk", s.handleChunk)
	v1.POST("/transcribe/finish", s.handleFinish)
	v1.GET("/transcribe/status", s.handleStatus)

	s.echo.GET("/socket/websocket", s.hub.serve, s.requireToken)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	slog.Info("development backend listening", "addr", addr, "pending_polls", s.opts.PendingPolls)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.echo.Shutdown(ctx)
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.APIToken == "" {
			return next(c)
		}
		if c.Request().Header.Get(echo.HeaderAuthorization) != "Bearer "+s.opts.APIToken {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid api token"})
		}
		return next(c)
	}
}

type errorResponse struct {
	Error string `json:"error"`
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

type sessionStatus struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	Status  string         `json:"status"`
	Session *sessionStatus `json:"session"`
}

func (s *Server) handleStart(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "user_id is required"})
	}

	t := &transcription{id: uuid.NewString(), userID: req.UserID, pendingPolls: s.opts.PendingPolls}
	s.mu.Lock()
	s.sessions[req.UserID] = t
	s.mu.Unlock()
	slog.Info("dev session started", "user_id", req.UserID, "session_id", t.id)
	return c.JSON(http.StatusOK, startResponse{Status: "ok", SessionID: t.id})
}

func (s *Server) handleChunk(c echo.Context) error {
	var req chunkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	raw, err := base64.StdEncoding.DecodeString(req.Chunk)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "chunk is not valid base64"})
	}
	pcm, err := decompress(raw, req.Compression)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if err := s.record(req.UserID, req.SessionID, pcm); err != nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleFinish(c echo.Context) error {
	var req finishRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	s.mu.Lock()
	t, ok := s.sessions[req.UserID]
	if !ok || t.id != req.SessionID {
		s.mu.Unlock()
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown session"})
	}
	t.finished = true
	result := t.result()
	s.mu.Unlock()

	slog.Info("dev session finished", "user_id", req.UserID, "session_id", req.SessionID, "result", result)
	s.hub.broadcastTranscription(req.UserID, result)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStatus(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "user_id is required"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.sessions[userID]
	switch {
	case !ok:
		return c.JSON(http.StatusOK, statusResponse{Status: "ok"})
	case !t.finished:
		return c.JSON(http.StatusOK, statusResponse{Status: "ok", Session: &sessionStatus{Status: "recording"}})
	case t.pendingPolls > 0:
		t.pendingPolls--
		return c.JSON(http.StatusOK, statusResponse{Status: "ok", Session: &sessionStatus{Status: "processing"}})
	default:
		return c.JSON(http.StatusOK, statusResponse{Status: "ok", Session: &sessionStatus{Status: "completed", Result: t.result()}})
	}
}

// record adds pcm to the user's open session. An empty sessionID matches
// the user's current session, which is how channel frames arrive.
func (s *Server) record(userID, sessionID string, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.sessions[userID]
	if !ok || (sessionID != "" && t.id != sessionID) {
		return errors.New("unknown session")
	}
	if t.finished {
		return errors.New("session already finished")
	}
	t.chunks++
	t.bytes += len(pcm)
	return nil
}

func decompress(raw []byte, compression string) ([]byte, error) {
	switch strings.ToLower(compression) {
	case "", compressionNone:
		return raw, nil
	case compressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid gzip chunk: %w", err)
		}
		defer func() {
			_ = zr.Close()
		}()
		pcm, err := io.ReadAll(io.LimitReader(zr, maxChunkBytes))
		if err != nil {
			return nil, fmt.Errorf("invalid gzip chunk: %w", err)
		}
		return pcm, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}
