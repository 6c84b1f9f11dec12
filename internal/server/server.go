// Package server exposes the affect engine over HTTP and WebSocket.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexaffect/internal/affect"
	"github.com/normanking/cortexaffect/internal/avatar"
	"github.com/normanking/cortexaffect/internal/config"
	"github.com/normanking/cortexaffect/internal/landmark"
	"github.com/normanking/cortexaffect/internal/logging"
	"github.com/normanking/cortexaffect/internal/metrics"
)

// LogSource supplies recent log entries for /api/v1/logs.
type LogSource interface {
	GetHistory(limit int) []logging.LogEntry
}

// Server represents the HTTP server
type Server struct {
	cfg        config.ServerConfig
	engine     *affect.Engine
	hub        *Hub
	logs       LogSource
	version    string
	upgrader   websocket.Upgrader
	httpServer *http.Server
	startTime  time.Time
	logger     zerolog.Logger
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Renderers int    `json:"renderers"`
	Timestamp string `json:"timestamp"`
}

// FrameRequest carries one landmark frame.
type FrameRequest struct {
	Landmarks landmark.Frame `json:"landmarks"`
}

// TextRequest carries text for sentiment analysis.
type TextRequest struct {
	Text string `json:"text"`
}

// TextResponse acknowledges an accepted text submission.
type TextResponse struct {
	Status     string `json:"status"`
	Seq        uint64 `json:"seq,omitempty"`
	Generation uint64 `json:"generation"`
}

// StoppedRequest reports which asset the renderer stopped. An empty state
// means the current one.
type StoppedRequest struct {
	State string `json:"state"`
}

// PlayRequest forces the avatar into a state.
type PlayRequest struct {
	State string `json:"state"`
}

// ErrorResponse is the body of every 4xx/5xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// New creates a new HTTP server
func New(cfg config.ServerConfig, engine *affect.Engine, hub *Hub, logs LogSource, version string, logger zerolog.Logger) *Server {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 1 << 20
	}
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		hub:     hub,
		logs:    logs,
		version: version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
		logger:    logger.With().Str("component", "server").Logger(),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	routes := map[string]http.Handler{
		"/health":  http.HandlerFunc(s.healthHandler),
		"/metrics": promhttp.Handler(),

		"/api/v1/frames":          http.HandlerFunc(s.frameHandler),
		"/api/v1/text":            http.HandlerFunc(s.textHandler),
		"/api/v1/speech/start":    http.HandlerFunc(s.speechStartHandler),
		"/api/v1/speech/end":      http.HandlerFunc(s.speechEndHandler),
		"/api/v1/avatar/thinking": http.HandlerFunc(s.thinkingHandler),
		"/api/v1/avatar/stopped":  http.HandlerFunc(s.stoppedHandler),
		"/api/v1/avatar/play":     http.HandlerFunc(s.playHandler),
		"/api/v1/state":           http.HandlerFunc(s.stateHandler),
		"/api/v1/logs":            http.HandlerFunc(s.logsHandler),

		"/ws/landmarks": http.HandlerFunc(s.landmarksWSHandler),
	}
	if s.hub != nil {
		routes["/ws/avatar"] = s.hub
	}

	mux := http.NewServeMux()
	for path, h := range routes {
		mux.Handle(path, h)
	}

	endpoint := func(r *http.Request) string {
		if _, ok := routes[r.URL.Path]; ok {
			return r.URL.Path
		}
		return "other"
	}
	return s.recoverPanic(s.instrument(mux, endpoint))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server and disconnects renderers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.hub != nil {
		s.hub.Close()
	}
	return err
}

// statusRecorder captures the response status. It forwards Hijack so
// WebSocket upgrades keep working behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// instrument injects and echoes a request id, then records request metrics.
func (s *Server) instrument(next http.Handler, endpoint func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set("X-Request-ID", requestID)
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		ep := endpoint(r)
		metrics.RequestCount.WithLabelValues(r.Method, ep, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, ep).Observe(elapsed.Seconds())

		if ep != "/metrics" && ep != "/health" {
			s.logger.Debug().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("elapsed", elapsed).
				Msg("Request served")
		}
	})
}

// recoverPanic converts panics into HTTP 500 responses.
func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				s.logger.Error().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("request_id", r.Header.Get("X-Request-ID")).
					Interface("panic", recovered).
					Str("stack", string(debug.Stack())).
					Msg("Panic recovered")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// decodeBody decodes a JSON body of at most limit bytes into v. An empty
// body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// healthHandler handles health check requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	resp := HealthResponse{
		Status:    "healthy",
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.hub != nil {
		resp.Renderers = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// frameHandler classifies a single landmark frame.
func (s *Server) frameHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req FrameRequest
	if err := decodeBody(w, r, s.cfg.MaxFrameBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.ProcessFrame(req.Landmarks))
}

// textHandler queues text for sentiment analysis.
func (s *Server) textHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req TextRequest
	if err := decodeBody(w, r, s.cfg.MaxFrameBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ticket, ok := s.engine.SubmitText(req.Text)
	if !ok {
		writeJSON(w, http.StatusOK, TextResponse{Status: "ignored", Generation: s.engine.Snapshot().Generation})
		return
	}
	writeJSON(w, http.StatusAccepted, TextResponse{Status: "accepted", Seq: ticket.Seq, Generation: ticket.Generation})
}

func (s *Server) speechStartHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.engine.SpeechStart()
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) speechEndHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.engine.SpeechEnd()
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) thinkingHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.engine.Think()
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// stoppedHandler records that the renderer finished or lost an asset.
func (s *Server) stoppedHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req StoppedRequest
	if err := decodeBody(w, r, 1024, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state := avatar.State(strings.ToUpper(strings.TrimSpace(req.State)))
	if state != "" && !state.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", req.State))
		return
	}

	stopped := s.engine.PlaybackStopped(state)
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped": stopped,
		"state":   s.engine.Snapshot(),
	})
}

func (s *Server) playHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req PlayRequest
	if err := decodeBody(w, r, 1024, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state := avatar.State(strings.ToUpper(strings.TrimSpace(req.State)))
	if !state.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", req.State))
		return
	}

	changed := s.engine.Play(state)
	writeJSON(w, http.StatusOK, map[string]any{
		"changed": changed,
		"state":   s.engine.Snapshot(),
	})
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// logsHandler returns recent log history, newest last.
func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries := []logging.LogEntry{}
	if s.logs != nil {
		entries = s.logs.GetHistory(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// landmarksWSHandler streams frames in and classification results out.
// Each text message is either {"landmarks": [...]} or a bare point array.
func (s *Server) landmarksWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.cfg.MaxFrameBytes)
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Landmark stream connected")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("Landmark stream read error")
			}
			s.logger.Info().Str("remote", r.RemoteAddr).Msg("Landmark stream closed")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var reply any
		frame, err := decodeFrame(data)
		if err != nil {
			reply = ErrorResponse{Error: err.Error()}
		} else {
			reply = s.engine.ProcessFrame(frame)
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(reply); err != nil {
			s.logger.Debug().Err(err).Msg("Landmark stream write failed")
			return
		}
	}
}

func decodeFrame(data []byte) (landmark.Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var frame landmark.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("invalid frame: %w", err)
		}
		return frame, nil
	}
	var req FrameRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	return req.Landmarks, nil
}
