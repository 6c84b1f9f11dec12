// Package avatar manages the avatar's playback state and fuses sentiment into it.
package avatar

import (
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexaffect/internal/metrics"
	"github.com/normanking/cortexaffect/internal/sentiment"
)

// State is the avatar's current playback intent.
type State string

const (
	StateIdle     State = "IDLE"
	StateHappy    State = "HAPPY"
	StateSad      State = "SAD"
	StateSpeaking State = "SPEAKING"
	StateThinking State = "THINKING"
)

// States lists every playback state.
var States = []State{StateIdle, StateHappy, StateSad, StateSpeaking, StateThinking}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// DefaultAssets maps each state to its looping video.
func DefaultAssets() map[State]string {
	return map[State]string{
		StateIdle:     "Idle.mp4",
		StateHappy:    "Happy.mp4",
		StateSad:      "Sad.mp4",
		StateSpeaking: "Speaking.mp4",
		StateThinking: "Thinking.mp4",
	}
}

// Command tells the renderer which asset to play. Re-issuing a command is safe.
type Command struct {
	State      State     `json:"state"`
	Asset      string    `json:"asset"`
	Generation uint64    `json:"generation"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Player consumes playback commands. Play is called with the machine lock
// held and must not block.
type Player interface {
	Play(cmd Command)
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(Command)

func (f PlayerFunc) Play(cmd Command) { f(cmd) }

// Snapshot is a point-in-time view of the machine.
type Snapshot struct {
	State      State  `json:"state"`
	Speaking   bool   `json:"speaking"`
	Playing    bool   `json:"playing"`
	Generation uint64 `json:"generation"`
}

// Machine owns the single AvatarState cell. Every transition goes through
// play, which is the only writer.
type Machine struct {
	mu         sync.RWMutex
	state      State
	playing    bool
	speaking   bool
	generation uint64

	assets   map[State]string
	basePath string
	player   Player
	logger   zerolog.Logger
	now      func() time.Time

	// notifyMu is taken before mu is released so handlers run in
	// transition order.
	notifyMu      sync.Mutex
	onStateChange func(Snapshot)
}

// MachineOption customizes a Machine.
type MachineOption func(*Machine)

// WithAssets overrides the state→asset mapping and the directory holding them.
func WithAssets(basePath string, assets map[State]string) MachineOption {
	return func(m *Machine) {
		m.basePath = basePath
		for s, a := range assets {
			m.assets[s] = a
		}
	}
}

// NewMachine creates a machine in IDLE. Nothing is playing until Start or
// the first transition.
func NewMachine(player Player, logger zerolog.Logger, opts ...MachineOption) *Machine {
	if player == nil {
		player = PlayerFunc(func(Command) {})
	}
	m := &Machine{
		state:  StateIdle,
		assets: DefaultAssets(),
		player: player,
		logger: logger.With().Str("component", "avatar").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger.Info().Str("state", string(m.state)).Msg("Avatar initialized")
	return m
}

// SetStateHandler sets the callback for state changes. The handler runs
// synchronously, outside the machine lock, once per transition and in
// transition order. It may read the machine but must not change its state.
func (m *Machine) SetStateHandler(handler func(Snapshot)) {
	m.mu.Lock()
	m.onStateChange = handler
	m.mu.Unlock()
}

// Start begins playback of the current state.
func (m *Machine) Start() {
	m.mu.Lock()
	m.unlockAndNotify(m.play(m.state))
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Generation changes on every explicit speech or thinking signal. Sentiment
// lookups dispatched under an older generation are stale.
func (m *Machine) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// Snapshot returns the current view of the machine.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot()
}

func (m *Machine) snapshot() Snapshot {
	return Snapshot{
		State:      m.state,
		Speaking:   m.speaking,
		Playing:    m.playing,
		Generation: m.generation,
	}
}

// Play transitions to state. Requesting the state that is already playing
// is a no-op and reports false.
func (m *Machine) Play(state State) bool {
	m.mu.Lock()
	changed := m.play(state)
	m.unlockAndNotify(changed)
	return changed
}

// OnSentiment maps a sentiment verdict to a lead-in state. Nothing
// interrupts an active SPEAKING state.
func (m *Machine) OnSentiment(result sentiment.Result) bool {
	m.mu.Lock()
	changed := m.onSentiment(result)
	m.unlockAndNotify(changed)
	return changed
}

// ApplySentiment is OnSentiment for a lookup dispatched at generation gen.
// ok is false when the generation has moved on and the result was dropped.
func (m *Machine) ApplySentiment(gen uint64, result sentiment.Result) (changed, ok bool) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false, false
	}
	changed = m.onSentiment(result)
	m.unlockAndNotify(changed)
	return changed, true
}

func (m *Machine) onSentiment(result sentiment.Result) bool {
	if m.speaking {
		m.logger.Debug().
			Str("sentiment", string(result.Label)).
			Msg("Sentiment ignored while speaking")
		return false
	}

	switch result.Label {
	case sentiment.Positive:
		return m.play(StateHappy)
	case sentiment.Negative:
		return m.play(StateSad)
	default:
		if m.state != StateIdle && m.state != StateSpeaking {
			return m.play(StateIdle)
		}
		return false
	}
}

// OnSpeechStart switches to SPEAKING regardless of the current state.
func (m *Machine) OnSpeechStart() {
	m.mu.Lock()
	m.speaking = true
	m.generation++
	m.logger.Info().Msg("Speech started")
	m.unlockAndNotify(m.play(StateSpeaking))
}

// OnSpeechEnd returns to IDLE regardless of the current state.
func (m *Machine) OnSpeechEnd() {
	m.mu.Lock()
	m.speaking = false
	m.generation++
	m.logger.Info().Msg("Speech ended")
	m.unlockAndNotify(m.play(StateIdle))
}

// Think switches to THINKING, e.g. while a long response is pending.
func (m *Machine) Think() {
	m.mu.Lock()
	m.generation++
	m.unlockAndNotify(m.play(StateThinking))
}

// PlaybackStopped records that the renderer stopped playing state's asset,
// so the next request for it is issued again. Reports for a state that is
// no longer current are ignored.
func (m *Machine) PlaybackStopped(state State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state != m.state || !m.playing {
		return false
	}
	m.playing = false
	return true
}

// Asset returns the asset path for state.
func (m *Machine) Asset(state State) string {
	name, ok := m.assets[state]
	if !ok {
		return ""
	}
	if m.basePath == "" {
		return name
	}
	return path.Join(m.basePath, name)
}

// play must be called with mu held.
func (m *Machine) play(state State) bool {
	if !state.Valid() {
		m.logger.Warn().Str("state", string(state)).Msg("Unknown avatar state")
		return false
	}
	if state == m.state && m.playing {
		return false
	}

	m.state = state
	m.playing = true

	cmd := Command{
		State:      state,
		Asset:      m.Asset(state),
		Generation: m.generation,
		IssuedAt:   m.now(),
	}
	m.player.Play(cmd)
	metrics.AvatarTransitions.WithLabelValues(string(state)).Inc()
	m.logger.Debug().Str("state", string(state)).Str("asset", cmd.Asset).Msg("Playing")
	return true
}

// unlockAndNotify releases mu, which must be held, and hands the snapshot of
// a transition to the state handler.
func (m *Machine) unlockAndNotify(changed bool) {
	handler := m.onStateChange
	if !changed || handler == nil {
		m.mu.Unlock()
		return
	}
	snap := m.snapshot()
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()
	handler(snap)
}
