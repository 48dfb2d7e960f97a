package checkpoint

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"searchchat/internal/domain"
)

type thread struct {
	msgs      []domain.Message
	updatedAt time.Time
}

// MemoryStore is a process-local Checkpointer. State is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*thread
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]*thread),
		now:     time.Now,
	}
}

func (s *MemoryStore) Load(_ context.Context, threadID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return []domain.Message{}, nil
	}
	return slices.Clone(t.msgs), nil
}

func (s *MemoryStore) Append(_ context.Context, threadID string, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		t = &thread{}
	}
	seen := make(map[string]bool, len(t.msgs)+len(msgs))
	for _, m := range t.msgs {
		seen[m.ID] = true
	}
	for _, m := range msgs {
		if m.ID == "" {
			return fmt.Errorf("append to %s: message without id: %w", threadID, domain.ErrInvalidInput)
		}
		if seen[m.ID] {
			return fmt.Errorf("append to %s: duplicate message id %s: %w", threadID, m.ID, domain.ErrInvalidInput)
		}
		seen[m.ID] = true
	}

	t.msgs = append(t.msgs, msgs...)
	t.updatedAt = s.now()
	s.threads[threadID] = t
	return nil
}

func (s *MemoryStore) Apply(_ context.Context, threadID string, update domain.StateUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return fmt.Errorf("apply to %s: thread: %w", threadID, domain.ErrNotFound)
	}
	present := make(map[string]bool, len(t.msgs))
	for _, m := range t.msgs {
		present[m.ID] = true
	}
	drop := make(map[string]bool, len(update.Remove))
	for _, r := range update.Remove {
		if !present[r.ID] {
			return fmt.Errorf("apply to %s: message %s: %w", threadID, r.ID, domain.ErrNotFound)
		}
		drop[r.ID] = true
	}

	t.msgs = slices.DeleteFunc(t.msgs, func(m domain.Message) bool { return drop[m.ID] })
	t.updatedAt = s.now()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}

func (s *MemoryStore) Prune(_ context.Context, before time.Time, keep func(string) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.threads {
		if !t.updatedAt.Before(before) || (keep != nil && keep(id)) {
			continue
		}
		delete(s.threads, id)
		n++
	}
	return n, nil
}

// Len returns the number of stored threads.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

var _ domain.Checkpointer = (*MemoryStore)(nil)
