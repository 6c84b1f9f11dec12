package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexaffect/internal/affect"
	"github.com/normanking/cortexaffect/internal/avatar"
	"github.com/normanking/cortexaffect/internal/config"
	"github.com/normanking/cortexaffect/internal/landmark"
	"github.com/normanking/cortexaffect/internal/landmark/landmarktest"
	"github.com/normanking/cortexaffect/internal/logging"
	"github.com/normanking/cortexaffect/internal/sentiment"
	"github.com/normanking/cortexaffect/internal/telemetry"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(_ context.Context, text string) (sentiment.Result, error) {
	if strings.Contains(text, "love") {
		return sentiment.Result{Label: sentiment.Positive, Confidence: 0.9}, nil
	}
	return sentiment.Result{Label: sentiment.Negative, Confidence: 0.8}, nil
}

type stubLogs struct {
	mu    sync.Mutex
	limit int
}

func (l *stubLogs) GetHistory(limit int) []logging.LogEntry {
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()
	return []logging.LogEntry{{Level: "info", Component: "test", Message: "hello"}}
}

type testEnv struct {
	server *Server
	ts     *httptest.Server
	engine *affect.Engine
	hub    *Hub
	logs   *stubLogs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	hub := NewHub(logger)
	machine := avatar.NewMachine(hub, logger)
	fusion := avatar.NewFusion(machine, stubAnalyzer{}, avatar.FusionConfig{}, logger)
	emitter := telemetry.NewEmitter(telemetry.NewThrottler(), telemetry.NopTransport{}, logger)
	engine := affect.New(machine, fusion, emitter, nil, logger)

	logs := &stubLogs{}
	cfg := config.Default().Server
	s := New(cfg, engine, hub, logs, "test", logger)
	ts := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		ts.Close()
		hub.Close()
		engine.Close()
	})
	return &testEnv{server: s, ts: ts, engine: engine, hub: hub, logs: logs}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	resp, err := http.Post(e.ts.URL+path, "application/json", r)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	health := decode[HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}

func TestFrames(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/frames", FrameRequest{Landmarks: landmarktest.Face(landmarktest.Smile(4))})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[affect.FrameResult](t, resp)
	assert.Equal(t, "happy", string(res.Emotion))
	assert.True(t, res.Changed)
	assert.True(t, res.Emitted)

	resp = env.post(t, "/api/v1/frames", FrameRequest{Landmarks: landmarktest.Face(landmarktest.Smile(4))})
	res = decode[affect.FrameResult](t, resp)
	assert.False(t, res.Changed)
	assert.False(t, res.Emitted)
}

func TestFrames_ArrayPoints(t *testing.T) {
	env := newTestEnv(t)

	face := landmarktest.Face(landmarktest.Frown(3))
	points := make([][]float64, len(face))
	for i, p := range face {
		points[i] = []float64{p.X, p.Y, p.Z}
	}

	resp := env.post(t, "/api/v1/frames", map[string]any{"landmarks": points})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sad", string(decode[affect.FrameResult](t, resp).Emotion))
}

func TestFrames_MissingLandmarksIsNeutral(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/frames", FrameRequest{Landmarks: landmarktest.Truncate(landmarktest.Face(), 10)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[affect.FrameResult](t, resp)
	assert.Equal(t, "neutral", string(res.Emotion))
	assert.False(t, res.Emitted)
}

func TestFrames_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/frames", `{"landmarks": [[1]]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, decode[ErrorResponse](t, resp).Error)

	resp = env.post(t, "/api/v1/frames", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	get, err := http.Get(env.ts.URL + "/api/v1/frames")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestText(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/text", TextRequest{Text: "I love this"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ack := decode[TextResponse](t, resp)
	assert.Equal(t, "accepted", ack.Status)
	assert.Equal(t, uint64(1), ack.Seq)

	assert.Eventually(t, func() bool {
		return env.engine.Snapshot().State == avatar.StateHappy
	}, 2*time.Second, 10*time.Millisecond)

	resp = env.post(t, "/api/v1/text", TextRequest{Text: "  "})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", decode[TextResponse](t, resp).Status)
}

func TestSpeechAndThinking(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/speech/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[affect.Snapshot](t, resp)
	assert.Equal(t, avatar.StateSpeaking, snap.State)
	assert.True(t, snap.Speaking)

	resp = env.post(t, "/api/v1/speech/end", nil)
	snap = decode[affect.Snapshot](t, resp)
	assert.Equal(t, avatar.StateIdle, snap.State)
	assert.False(t, snap.Speaking)

	resp = env.post(t, "/api/v1/avatar/thinking", nil)
	snap = decode[affect.Snapshot](t, resp)
	assert.Equal(t, avatar.StateThinking, snap.State)
	assert.Equal(t, uint64(3), snap.Generation)
}

func TestPlaybackStopped(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Think()

	resp := env.post(t, "/api/v1/avatar/stopped", StoppedRequest{State: "happy"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode[map[string]any](t, resp)["stopped"])

	resp = env.post(t, "/api/v1/avatar/stopped", StoppedRequest{State: "thinking"})
	assert.Equal(t, true, decode[map[string]any](t, resp)["stopped"])
	assert.False(t, env.engine.Snapshot().Playing)

	resp = env.post(t, "/api/v1/avatar/stopped", StoppedRequest{State: "dancing"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlay(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/avatar/play", PlayRequest{State: "sad"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, resp)["changed"])
	assert.Equal(t, avatar.StateSad, env.engine.Snapshot().State)

	resp = env.post(t, "/api/v1/avatar/play", PlayRequest{State: "SAD"})
	assert.Equal(t, false, decode[map[string]any](t, resp)["changed"])

	resp = env.post(t, "/api/v1/avatar/play", PlayRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.post(t, "/api/v1/avatar/play", PlayRequest{State: "dancing"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, avatar.StateSad, env.engine.Snapshot().State)
}

func TestState(t *testing.T) {
	env := newTestEnv(t)
	env.engine.ProcessFrame(landmarktest.Face(landmarktest.Smile(4)))

	resp, err := http.Get(env.ts.URL + "/api/v1/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	snap := decode[affect.Snapshot](t, resp)
	assert.Equal(t, avatar.StateIdle, snap.State)
	assert.Equal(t, "happy", string(snap.Emotion))
	require.NotNil(t, snap.LastEmission)
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/api/v1/logs?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		Entries []logging.LogEntry `json:"entries"`
	}](t, resp)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "hello", body.Entries[0].Message)

	env.logs.mu.Lock()
	assert.Equal(t, 5, env.logs.limit)
	env.logs.mu.Unlock()

	bad, err := http.Get(env.ts.URL + "/api/v1/logs?limit=abc")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.engine.ProcessFrame(landmarktest.Face())

	resp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cortex_affect_frames_total")
	assert.Contains(t, string(body), "cortex_affect_avatar_subscribers")
}

func TestLandmarkStream(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.ts, "/ws/landmarks"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(FrameRequest{Landmarks: landmarktest.Face(landmarktest.Smile(4))}))
	var res affect.FrameResult
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "happy", string(res.Emotion))
	assert.True(t, res.Changed)

	face := landmarktest.Face()
	bare, err := json.Marshal([]landmark.Point(face))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, bare))
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "neutral", string(res.Emotion))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
	var errResp ErrorResponse
	require.NoError(t, conn.ReadJSON(&errResp))
	assert.NotEmpty(t, errResp.Error)
}

func TestAvatarStream(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.ts, "/ws/avatar"), nil)
	require.NoError(t, err)
	defer conn.Close()

	env.engine.SpeechStart()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd avatar.Command
	require.NoError(t, conn.ReadJSON(&cmd))
	assert.Equal(t, avatar.StateSpeaking, cmd.State)
	assert.Equal(t, "Speaking.mp4", cmd.Asset)

	assert.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestAvatarStream_ReplaysCurrentCommand(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Think()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.ts, "/ws/avatar"), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd avatar.Command
	require.NoError(t, conn.ReadJSON(&cmd))
	assert.Equal(t, avatar.StateThinking, cmd.State)
}
