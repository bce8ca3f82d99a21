package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DisconnectGrace is how long a session with a pending external action
	// survives after its connection drops, so a late webhook result can
	// still be correlated.
	DisconnectGrace = 2 * time.Minute
	// IdleWindow evicts sessions with no active call and no recent
	// activity regardless of pending actions.
	IdleWindow = 30 * time.Minute
	// SweepInterval is how often the registry scans for expired sessions.
	SweepInterval = 30 * time.Second
)

// Registry is the process-wide session map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new session for a connection id.
func (r *Registry) Create(id string) *Session {
	s := New(id)
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	log.Info().Str("session", id).Msg("session created")
	return s
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Delete removes the session for id.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	log.Info().Str("session", id).Msg("session deleted")
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// HandleDisconnect applies the retention rule: a session with a pending
// external action is kept for the grace window so the delayed result can
// still reach it; otherwise it is deleted immediately.
func (r *Registry) HandleDisconnect(id string) {
	s, ok := r.Get(id)
	if !ok {
		return
	}
	s.MarkDisconnected()
	if s.Pending() != nil {
		log.Info().Str("session", id).Msg("session retained for pending action")
		return
	}
	r.Delete(id)
}

// FindPendingFallback scans for any session holding a pending action. This
// matches results whose correlation id no longer resolves; it is only
// unambiguous when a single conversation is active at a time.
func (r *Registry) FindPendingFallback() *Session {
	for _, s := range r.snapshot() {
		if s.Pending() != nil {
			return s
		}
	}
	return nil
}

// snapshot copies the current session set so iteration never holds the map
// lock across per-session work.
func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// StartSweeper runs the periodic eviction loop until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(time.Now())
			}
		}
	}()
}

func (r *Registry) sweep(now time.Time) {
	for _, s := range r.snapshot() {
		if !s.Connected() {
			if d := s.DisconnectedAt(); !d.IsZero() && now.Sub(d) > DisconnectGrace {
				log.Info().Str("session", s.ID).Msg("sweep: disconnect grace elapsed")
				r.Delete(s.ID)
				continue
			}
		}
		if !s.CallActive() && now.Sub(s.LastActivity()) > IdleWindow {
			log.Info().Str("session", s.ID).Msg("sweep: idle window elapsed")
			r.Delete(s.ID)
		}
	}
}
