package avatar

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexaffect/internal/expression"
	"github.com/normanking/cortexaffect/internal/metrics"
	"github.com/normanking/cortexaffect/internal/sentiment"
)

// Outcome describes what happened to one sentiment lookup.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeStale   Outcome = "stale"
	OutcomeFailed  Outcome = "failed"
)

// Ticket identifies a dispatched sentiment lookup.
type Ticket struct {
	Seq        uint64
	Generation uint64
}

// FusionConfig configures a Fusion controller.
type FusionConfig struct {
	// MinConfidence demotes weaker verdicts to neutral. Zero keeps every verdict.
	MinConfidence float64
	// Timeout bounds each sentiment lookup.
	Timeout time.Duration
}

// Fusion reconciles text sentiment and facial expression into avatar
// transitions. Lookups run asynchronously; a result is applied only if no
// speech or thinking signal arrived since dispatch and no newer lookup has
// already been applied.
type Fusion struct {
	machine  *Machine
	analyzer sentiment.Analyzer
	config   FusionConfig
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	seq        uint64
	applied    uint64
	expression expression.Label

	onOutcome func(Ticket, Outcome)
}

// NewFusion creates a fusion controller driving machine.
func NewFusion(machine *Machine, analyzer sentiment.Analyzer, cfg FusionConfig, logger zerolog.Logger) *Fusion {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Fusion{
		machine:    machine,
		analyzer:   analyzer,
		config:     cfg,
		logger:     logger.With().Str("component", "fusion").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		expression: expression.Neutral,
	}
}

// SetOutcomeHandler sets a callback invoked after each lookup resolves.
func (f *Fusion) SetOutcomeHandler(handler func(Ticket, Outcome)) {
	f.mu.Lock()
	f.onOutcome = handler
	f.mu.Unlock()
}

// Submit dispatches a sentiment lookup for text. Blank text is ignored.
// The machine keeps its current state while the lookup is in flight.
func (f *Fusion) Submit(text string) (Ticket, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Ticket{}, false
	}

	f.mu.Lock()
	f.seq++
	ticket := Ticket{Seq: f.seq, Generation: f.machine.Generation()}
	f.mu.Unlock()

	f.logger.Debug().
		Uint64("seq", ticket.Seq).
		Uint64("generation", ticket.Generation).
		Int("chars", len(text)).
		Msg("Analyzing sentiment")

	f.wg.Add(1)
	go f.resolve(ticket, text)
	return ticket, true
}

func (f *Fusion) resolve(ticket Ticket, text string) {
	defer f.wg.Done()

	ctx, cancel := context.WithTimeout(f.ctx, f.config.Timeout)
	defer cancel()

	start := time.Now()
	result, err := f.analyzer.Analyze(ctx, text)
	metrics.SentimentLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		f.logger.Warn().Err(err).Uint64("seq", ticket.Seq).Msg("Sentiment lookup failed, holding state")
		f.finish(ticket, OutcomeFailed)
		return
	}

	if result.Label != sentiment.Neutral && result.Confidence < f.config.MinConfidence {
		f.logger.Debug().
			Str("sentiment", string(result.Label)).
			Float64("confidence", result.Confidence).
			Msg("Low confidence verdict treated as neutral")
		result.Label = sentiment.Neutral
	}

	f.finish(ticket, f.apply(ticket, result))
}

func (f *Fusion) apply(ticket Ticket, result sentiment.Result) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ticket.Seq < f.applied {
		f.logger.Debug().Uint64("seq", ticket.Seq).Uint64("applied", f.applied).Msg("Dropping superseded sentiment")
		return OutcomeStale
	}

	changed, ok := f.machine.ApplySentiment(ticket.Generation, result)
	if !ok {
		f.logger.Debug().Uint64("seq", ticket.Seq).Msg("Dropping sentiment from an older generation")
		return OutcomeStale
	}
	f.applied = ticket.Seq

	f.logger.Info().
		Str("sentiment", string(result.Label)).
		Float64("confidence", result.Confidence).
		Bool("changed", changed).
		Msg("Sentiment applied")
	return OutcomeApplied
}

func (f *Fusion) finish(ticket Ticket, outcome Outcome) {
	metrics.SentimentRequests.WithLabelValues(string(outcome)).Inc()

	f.mu.Lock()
	handler := f.onOutcome
	f.mu.Unlock()
	if handler != nil {
		handler(ticket, outcome)
	}
}

// ObserveExpression records the latest facial expression and reports
// whether it differs from the previous one. It is reported in snapshots but
// never drives a transition on its own.
func (f *Fusion) ObserveExpression(label expression.Label) (changed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expression == label {
		return false
	}
	f.expression = label
	return true
}

// Expression returns the last observed facial expression.
func (f *Fusion) Expression() expression.Label {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expression
}

// Wait blocks until in-flight lookups resolve.
func (f *Fusion) Wait() {
	f.wg.Wait()
}

// Close cancels in-flight lookups and waits for them to finish.
func (f *Fusion) Close() {
	f.cancel()
	f.wg.Wait()
}
