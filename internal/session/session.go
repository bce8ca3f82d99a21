package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/llm"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/tts"
)

// Emitter delivers outbound events to the client of one connection.
type Emitter interface {
	Status(text string)
	ReplyText(text string, partial bool)
	Transcript(text string)
	Audio(audio []byte)
	Interrupted()
	Error(message string)
}

// PendingAction is a delegated task whose result arrives later via webhook.
type PendingAction struct {
	CorrelationID string
	Action        string
	Request       string
	CreatedAt     time.Time
}

// Turn is one reply cycle. Abort is monotonic: once requested it stays set,
// and the turn context is cancelled so every suspension point observes it.
type Turn struct {
	TriggerText string

	ctx     context.Context
	cancel  context.CancelFunc
	aborted atomic.Bool
	done    chan struct{}
}

// NewTurn creates a Turn whose context is cancelled on abort.
func NewTurn(parent context.Context, triggerText string) *Turn {
	ctx, cancel := context.WithCancel(parent)
	return &Turn{TriggerText: triggerText, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Context returns the turn's cancellable context.
func (t *Turn) Context() context.Context { return t.ctx }

// Abort requests cooperative cancellation of the turn.
func (t *Turn) Abort() {
	t.aborted.Store(true)
	t.cancel()
}

// Aborted reports whether abort was requested.
func (t *Turn) Aborted() bool { return t.aborted.Load() }

// Finish marks the turn fully unwound (queue closed, worker joined) and
// releases its context.
func (t *Turn) Finish() {
	t.cancel()
	close(t.done)
}

// Done is closed once the turn has fully unwound.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Session is the per-connection conversation state. It is owned by the
// Registry; the pipeline and the action bridge are the only mutators.
type Session struct {
	ID string

	mu             sync.Mutex
	history        []llm.Message
	activeTurn     *Turn
	pending        *PendingAction
	callActive     bool
	connected      bool
	emitter        Emitter
	lastActivity   time.Time
	disconnectedAt time.Time

	// Per-session collaborators, set at start-call. The bridge needs them
	// when a webhook result arrives with no live turn.
	Gen   llm.Generator
	Synth tts.Synthesizer
}

func New(id string) *Session {
	return &Session{ID: id, connected: true, lastActivity: time.Now()}
}

// Touch records activity now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// AppendHistory adds entries to the conversation history.
func (s *Session) AppendHistory(msgs ...llm.Message) {
	s.mu.Lock()
	s.history = append(s.history, msgs...)
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// History returns a copy of the conversation history.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// BeginTurn installs t as the active turn. The trigger policy's processing
// lock guarantees the prior turn has unwound before this is called.
func (s *Session) BeginTurn(t *Turn) {
	s.mu.Lock()
	s.activeTurn = t
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// EndTurn clears the active turn if it is still t.
func (s *Session) EndTurn(t *Turn) {
	s.mu.Lock()
	if s.activeTurn == t {
		s.activeTurn = nil
	}
	s.mu.Unlock()
}

// ActiveTurn returns the live turn, or nil.
func (s *Session) ActiveTurn() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTurn
}

// SetPending records the pending external action.
func (s *Session) SetPending(p *PendingAction) {
	s.mu.Lock()
	s.pending = p
	s.mu.Unlock()
}

// Pending returns the pending external action, or nil.
func (s *Session) Pending() *PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// ClearPending removes the pending external action.
func (s *Session) ClearPending() { s.SetPending(nil) }

// SetCallActive toggles the call-active flag.
func (s *Session) SetCallActive(on bool) {
	s.mu.Lock()
	s.callActive = on
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// CallActive reports whether a call is in progress.
func (s *Session) CallActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callActive
}

// SetEmitter installs the outbound emitter for the live connection.
func (s *Session) SetEmitter(e Emitter) {
	s.mu.Lock()
	s.emitter = e
	s.mu.Unlock()
}

// Emitter returns the outbound emitter, or nil after disconnect.
func (s *Session) Emitter() Emitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitter
}

// MarkDisconnected records that the client connection is gone.
func (s *Session) MarkDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.emitter = nil
	s.callActive = false
	s.disconnectedAt = time.Now()
	s.mu.Unlock()
}

// Connected reports whether the client connection is live.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// DisconnectedAt returns the disconnect time (zero while connected).
func (s *Session) DisconnectedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectedAt
}

// LastActivity returns the most recent activity time.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
