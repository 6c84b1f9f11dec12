// Package telemetry rate-limits and ships emotion-change events to a remote collector.
package telemetry

import (
	"sync"
	"time"

	"github.com/normanking/cortexaffect/internal/expression"
)

const (
	// DuplicateWindow suppresses re-sending the same label.
	DuplicateWindow = 500 * time.Millisecond
	// MinInterval is the floor between any two emissions.
	MinInterval = 200 * time.Millisecond
)

// Decision is the throttler's verdict on a candidate emission.
type Decision int

const (
	Accepted Decision = iota
	RejectedDuplicate
	RejectedInterval
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case RejectedDuplicate:
		return "rejected_duplicate"
	case RejectedInterval:
		return "rejected_interval"
	default:
		return "unknown"
	}
}

// Accepted reports whether the event may be sent.
func (d Decision) Accepted() bool {
	return d == Accepted
}

// Record is the last emission that was let through.
type Record struct {
	Label     expression.Label
	Timestamp time.Time
}

// Throttler decides whether a newly classified label may be sent. The
// duplicate check runs before the global floor, so a repeated label waits
// the longer window while a changed label only waits MinInterval.
type Throttler struct {
	mu      sync.Mutex
	last    Record
	emitted bool
}

// NewThrottler creates a throttler that has never emitted.
func NewThrottler() *Throttler {
	return &Throttler{}
}

// ConsiderEmit evaluates label at time now and records it when accepted.
func (t *Throttler) ConsiderEmit(label expression.Label, now time.Time) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.emitted {
		elapsed := now.Sub(t.last.Timestamp)
		if label == t.last.Label && elapsed < DuplicateWindow {
			return RejectedDuplicate
		}
		if elapsed < MinInterval {
			return RejectedInterval
		}
	}

	t.last = Record{Label: label, Timestamp: now}
	t.emitted = true
	return Accepted
}

// Last returns the most recent accepted record and whether one exists.
func (t *Throttler) Last() (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.emitted
}
