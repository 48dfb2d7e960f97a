package usecase

import (
	"fmt"
	"sync"
	"time"

	"searchchat/internal/domain"
)

// SessionContext is the per-session state held between messages.
type SessionContext struct {
	ID        string
	ThreadID  string
	Agent     Streamer
	Sink      domain.ReplySink
	StartedAt time.Time
}

// SessionRegistry maps session IDs to their context. Entries are created on
// chat start and removed on chat end.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*SessionContext
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*SessionContext)}
}

// Register adds sc. It fails with ErrSessionExists if the ID is taken.
func (r *SessionRegistry) Register(sc *SessionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sc.ID]; ok {
		return fmt.Errorf("session %s: %w", sc.ID, domain.ErrSessionExists)
	}
	r.sessions[sc.ID] = sc
	return nil
}

// Get returns the context for id or ErrSessionNotFound.
func (r *SessionRegistry) Get(id string) (*SessionContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	return sc, nil
}

// Remove deletes and returns the context for id.
func (r *SessionRegistry) Remove(id string) (*SessionContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	delete(r.sessions, id)
	return sc, nil
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// HasThread reports whether any live session is bound to threadID.
func (r *SessionRegistry) HasThread(threadID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sc := range r.sessions {
		if sc.ThreadID == threadID {
			return true
		}
	}
	return false
}
