// Package sentiment queries a remote text-sentiment service.
package sentiment

import (
	"errors"
	"strings"
)

// Common errors. Both are recoverable: the caller keeps its previous state.
var (
	ErrTransport         = errors.New("sentiment transport failure")
	ErrMalformedResponse = errors.New("malformed sentiment response")
)

// Label is the polarity reported by the service.
type Label string

const (
	Positive Label = "POSITIVE"
	Negative Label = "NEGATIVE"
	Neutral  Label = "NEUTRAL"
)

// ParseLabel normalizes a service label. Anything that is not positive or
// negative is Neutral.
func ParseLabel(s string) Label {
	switch Label(strings.ToUpper(strings.TrimSpace(s))) {
	case Positive:
		return Positive
	case Negative:
		return Negative
	default:
		return Neutral
	}
}

// Result is one classified text submission.
type Result struct {
	Label      Label   `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

// Request is the wire form of a query.
type Request struct {
	Text string `json:"text"`
}

// response mirrors the service payload before validation.
type response struct {
	Sentiment  *string  `json:"sentiment"`
	Confidence *float64 `json:"confidence"`
}
