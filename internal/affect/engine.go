// Package affect wires the expression classifier, the emission throttler and
// the avatar state machine into one pipeline.
package affect

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexaffect/internal/avatar"
	"github.com/normanking/cortexaffect/internal/bus"
	"github.com/normanking/cortexaffect/internal/expression"
	"github.com/normanking/cortexaffect/internal/landmark"
	"github.com/normanking/cortexaffect/internal/metrics"
	"github.com/normanking/cortexaffect/internal/telemetry"
)

// FrameResult reports what one landmark frame did to the pipeline.
type FrameResult struct {
	Emotion expression.Label `json:"emotion"`
	Changed bool             `json:"changed"`
	Emitted bool             `json:"emitted"`
	// Decision is the throttler verdict; empty when no emission was attempted.
	Decision string `json:"decision,omitempty"`
	// Err is the extractor error for frames without a usable face.
	Err error `json:"-"`
}

// Emission describes the last accepted telemetry event.
type Emission struct {
	Emotion   expression.Label `json:"emotion"`
	Timestamp time.Time        `json:"timestamp"`
}

// Snapshot is the combined state exposed to clients.
type Snapshot struct {
	State        avatar.State     `json:"state"`
	Speaking     bool             `json:"speaking"`
	Playing      bool             `json:"playing"`
	Generation   uint64           `json:"generation"`
	Emotion      expression.Label `json:"emotion"`
	LastEmission *Emission        `json:"last_emission,omitempty"`
}

// Engine is the single entry point for frames, text and speech signals.
type Engine struct {
	emitter  *telemetry.Emitter
	machine  *avatar.Machine
	fusion   *avatar.Fusion
	eventBus *bus.EventBus
	logger   zerolog.Logger
}

// New creates an engine and subscribes it to machine and fusion callbacks.
// A nil eventBus gets a private one.
func New(machine *avatar.Machine, fusion *avatar.Fusion, emitter *telemetry.Emitter, eventBus *bus.EventBus, logger zerolog.Logger) *Engine {
	if eventBus == nil {
		eventBus = bus.NewEventBus()
	}
	e := &Engine{
		emitter:  emitter,
		machine:  machine,
		fusion:   fusion,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "engine").Logger(),
	}

	// State changes are published synchronously so subscribers see them in
	// transition order.
	machine.SetStateHandler(func(s avatar.Snapshot) {
		e.eventBus.PublishSync(bus.NewEvent(bus.EventTypeAvatarStateChanged, map[string]any{
			"state":      string(s.State),
			"speaking":   s.Speaking,
			"generation": s.Generation,
		}))
	})
	fusion.SetOutcomeHandler(func(t avatar.Ticket, o avatar.Outcome) {
		e.eventBus.Publish(bus.NewEvent(bus.EventTypeSentimentOutcome, map[string]any{
			"seq":        t.Seq,
			"generation": t.Generation,
			"outcome":    string(o),
		}))
	})
	return e
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *bus.EventBus {
	return e.eventBus
}

// Start begins playback of the initial avatar state.
func (e *Engine) Start() {
	e.machine.Start()
	e.logger.Info().Str("state", string(e.machine.State())).Msg("Engine started")
}

// ProcessFrame classifies one landmark frame. A changed label is offered
// to the emitter; frames without a usable face reset the expression to
// neutral but never emit.
func (e *Engine) ProcessFrame(frame landmark.Frame) FrameResult {
	label, err := expression.FromFrame(frame)
	metrics.FramesProcessed.WithLabelValues(frameOutcome(err)).Inc()

	changed := e.fusion.ObserveExpression(label)
	res := FrameResult{Emotion: label, Changed: changed, Err: err}

	if err != nil {
		e.logger.Debug().Err(err).Msg("Frame dropped")
		e.eventBus.Publish(bus.NewEvent(bus.EventTypeFrameDropped, map[string]any{
			"reason": err.Error(),
		}))
		return res
	}
	if !changed {
		return res
	}

	metrics.Expressions.WithLabelValues(string(label)).Inc()
	e.logger.Debug().Str("emotion", string(label)).Msg("Expression changed")
	e.eventBus.Publish(bus.NewEvent(bus.EventTypeExpressionChanged, map[string]any{
		"emotion": string(label),
	}))

	decision := e.emitter.Emit(label)
	res.Decision = decision.String()
	res.Emitted = decision.Accepted()

	evType := bus.EventTypeEmotionThrottled
	if res.Emitted {
		evType = bus.EventTypeEmotionEmitted
	}
	e.eventBus.Publish(bus.NewEvent(evType, map[string]any{
		"emotion":  string(label),
		"decision": res.Decision,
	}))
	return res
}

func frameOutcome(err error) string {
	switch {
	case err == nil:
		return "classified"
	case errors.Is(err, landmark.ErrMissingLandmark):
		return "missing_landmark"
	case errors.Is(err, landmark.ErrDegenerateGeometry):
		return "degenerate_geometry"
	default:
		return "error"
	}
}

// SubmitText sends text for sentiment analysis. Blank text is ignored and
// reports false.
func (e *Engine) SubmitText(text string) (avatar.Ticket, bool) {
	ticket, ok := e.fusion.Submit(text)
	if !ok {
		return ticket, false
	}
	e.eventBus.Publish(bus.NewEvent(bus.EventTypeTextSubmitted, map[string]any{
		"seq":        ticket.Seq,
		"generation": ticket.Generation,
	}))
	return ticket, true
}

// SpeechStart switches the avatar to SPEAKING.
func (e *Engine) SpeechStart() {
	e.machine.OnSpeechStart()
	e.eventBus.Publish(bus.NewEvent(bus.EventTypeSpeechStart, nil))
}

// SpeechEnd returns the avatar to IDLE.
func (e *Engine) SpeechEnd() {
	e.machine.OnSpeechEnd()
	e.eventBus.Publish(bus.NewEvent(bus.EventTypeSpeechEnd, nil))
}

// Think switches the avatar to THINKING.
func (e *Engine) Think() {
	e.machine.Think()
}

// PlaybackStopped reports that the renderer stopped state's asset. An empty
// state means the current one.
func (e *Engine) PlaybackStopped(state avatar.State) bool {
	if state == "" {
		state = e.machine.State()
	}
	return e.machine.PlaybackStopped(state)
}

// Play requests state directly, bypassing the signal mapping.
func (e *Engine) Play(state avatar.State) bool {
	return e.machine.Play(state)
}

// Emotion returns the current facial expression.
func (e *Engine) Emotion() expression.Label {
	return e.fusion.Expression()
}

// Snapshot returns the avatar state together with the current expression.
func (e *Engine) Snapshot() Snapshot {
	s := e.machine.Snapshot()
	snap := Snapshot{
		State:      s.State,
		Speaking:   s.Speaking,
		Playing:    s.Playing,
		Generation: s.Generation,
		Emotion:    e.fusion.Expression(),
	}
	if rec, ok := e.emitter.Throttler().Last(); ok {
		snap.LastEmission = &Emission{Emotion: rec.Label, Timestamp: rec.Timestamp}
	}
	return snap
}

// Close waits for in-flight sentiment lookups and telemetry sends.
func (e *Engine) Close() {
	e.fusion.Close()
	e.emitter.Wait()
	e.eventBus.Clear()
}
