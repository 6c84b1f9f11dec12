package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Analyzer classifies text. The Fusion controller depends on this interface.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Result, error)
}

// ClientConfig configures the HTTP sentiment client.
type ClientConfig struct {
	URL     string        // e.g., "http://localhost:5001/sentiment"
	Timeout time.Duration // HTTP request timeout
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		URL:     "http://localhost:5001/sentiment",
		Timeout: 10 * time.Second,
	}
}

// Client talks to the sentiment service over HTTP.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new sentiment client
func NewClient(cfg *ClientConfig, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With().Str("component", "sentiment-client").Logger(),
	}
}

// Analyze posts text and decodes the verdict. Non-2xx responses and network
// errors wrap ErrTransport; unexpected payloads wrap ErrMalformedResponse.
func (c *Client) Analyze(ctx context.Context, text string) (Result, error) {
	body, err := json.Marshal(Request{Text: text})
	if err != nil {
		return Result{}, fmt.Errorf("%w: marshal request: %v", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: create request: %v", ErrTransport, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("%w: status %d - %s", ErrTransport, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var raw response
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.Sentiment == nil {
		return Result{}, fmt.Errorf("%w: missing sentiment", ErrMalformedResponse)
	}

	result := Result{Label: ParseLabel(*raw.Sentiment)}
	if raw.Confidence != nil {
		if *raw.Confidence < 0 || *raw.Confidence > 1 {
			return Result{}, fmt.Errorf("%w: confidence %v out of range", ErrMalformedResponse, *raw.Confidence)
		}
		result.Confidence = *raw.Confidence
	}

	c.logger.Debug().
		Str("request_id", requestID).
		Str("sentiment", string(result.Label)).
		Float64("confidence", result.Confidence).
		Dur("latency", time.Since(start)).
		Msg("Sentiment analyzed")

	return result, nil
}
