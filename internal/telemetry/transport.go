package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/normanking/cortexaffect/internal/expression"
)

// ErrTransport wraps every outbound delivery failure.
var ErrTransport = errors.New("telemetry transport failure")

// Event is the wire form of an emotion change.
type Event struct {
	Emotion   string `json:"emotion"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// NewEvent builds the wire event for label observed at ts.
func NewEvent(label expression.Label, ts time.Time) Event {
	return Event{Emotion: string(label), Timestamp: ts.UnixMilli()}
}

// Transport delivers a single event. Implementations make one attempt.
type Transport interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// NopTransport discards events.
type NopTransport struct{}

func (NopTransport) Name() string { return "none" }
func (NopTransport) Send(context.Context, Event) error { return nil }

// HTTPTransport POSTs events as JSON to a collector endpoint.
type HTTPTransport struct {
	url    string
	client *http.Client
}

// NewHTTPTransport creates a transport for url. A zero timeout means 2s.
func NewHTTPTransport(url string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPTransport{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Name() string { return "http" }

// Send posts ev; any non-2xx status is a failure. The body is discarded.
func (t *HTTPTransport) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %v", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
	}
	return nil
}
