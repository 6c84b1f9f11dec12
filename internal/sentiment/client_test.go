package sentiment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(&ClientConfig{URL: srv.URL, Timeout: time.Second}, zerolog.Nop())
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		input string
		want  Label
	}{
		{"POSITIVE", Positive},
		{"positive", Positive},
		{" Negative ", Negative},
		{"NEUTRAL", Neutral},
		{"mixed", Neutral},
		{"", Neutral},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLabel(tt.input))
		})
	}
}

func TestClient_Analyze(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "I love this", req.Text)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sentiment":"POSITIVE","confidence":0.987}`))
	})

	res, err := c.Analyze(context.Background(), "I love this")
	require.NoError(t, err)
	assert.Equal(t, Positive, res.Label)
	assert.InDelta(t, 0.987, res.Confidence, 1e-9)
}

func TestClient_Analyze_OtherLabelIsNeutral(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sentiment":"LABEL_2","confidence":0.5}`))
	})

	res, err := c.Analyze(context.Background(), "hmm")
	require.NoError(t, err)
	assert.Equal(t, Neutral, res.Label)
}

func TestClient_Analyze_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, ErrTransport},
		{"bad request", http.StatusBadRequest, `{"error":"Text required"}`, ErrTransport},
		{"not json", http.StatusOK, `<html>`, ErrMalformedResponse},
		{"missing sentiment", http.StatusOK, `{"confidence":0.4}`, ErrMalformedResponse},
		{"confidence out of range", http.StatusOK, `{"sentiment":"POSITIVE","confidence":4}`, ErrMalformedResponse},
		{"wrong type", http.StatusOK, `{"sentiment":1}`, ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.Analyze(context.Background(), "text")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_Analyze_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(&ClientConfig{URL: url, Timeout: time.Second}, zerolog.Nop())
	_, err := c.Analyze(context.Background(), "text")
	assert.ErrorIs(t, err, ErrTransport)
}

func TestClient_Analyze_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Analyze(ctx, "text")
	assert.ErrorIs(t, err, ErrTransport)
}
