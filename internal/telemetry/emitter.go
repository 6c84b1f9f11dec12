package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexaffect/internal/expression"
	"github.com/normanking/cortexaffect/internal/metrics"
)

// Emitter gates labels through a Throttler and ships accepted events on a
// background goroutine. Delivery is best effort: one attempt, no retry, and
// failures never reach the caller.
type Emitter struct {
	throttler *Throttler
	transport Transport
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	wg sync.WaitGroup
}

// EmitterOption customizes an Emitter.
type EmitterOption func(*Emitter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) { e.now = now }
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.timeout = d }
}

// NewEmitter creates an emitter. A nil transport disables delivery.
func NewEmitter(throttler *Throttler, transport Transport, logger zerolog.Logger, opts ...EmitterOption) *Emitter {
	if throttler == nil {
		throttler = NewThrottler()
	}
	if transport == nil {
		transport = NopTransport{}
	}
	e := &Emitter{
		throttler: throttler,
		transport: transport,
		timeout:   2 * time.Second,
		logger:    logger.With().Str("component", "telemetry").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit offers label to the throttler and, if accepted, dispatches it.
func (e *Emitter) Emit(label expression.Label) Decision {
	now := e.now()
	decision := e.throttler.ConsiderEmit(label, now)
	metrics.EmissionDecisions.WithLabelValues(decision.String()).Inc()

	if !decision.Accepted() {
		e.logger.Debug().
			Str("emotion", string(label)).
			Str("decision", decision.String()).
			Msg("Emission throttled")
		return decision
	}

	ev := NewEvent(label, now)
	e.wg.Add(1)
	go e.send(ev)
	return decision
}

func (e *Emitter) send(ev Event) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := e.transport.Send(ctx, ev); err != nil {
		metrics.EmissionFailures.WithLabelValues(e.transport.Name()).Inc()
		e.logger.Debug().Err(err).Str("emotion", ev.Emotion).Msg("Emotion send failed")
		return
	}
	e.logger.Debug().
		Str("emotion", ev.Emotion).
		Int64("timestamp", ev.Timestamp).
		Str("transport", e.transport.Name()).
		Msg("Emotion sent")
}

// Throttler returns the underlying throttler.
func (e *Emitter) Throttler() *Throttler {
	return e.throttler
}

// Wait blocks until in-flight deliveries finish.
func (e *Emitter) Wait() {
	e.wg.Wait()
}
