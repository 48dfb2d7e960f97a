package domain

import (
	"context"
	"time"
)

// RemoveMessage is a directive asking the checkpoint store to delete the
// message with the given ID during its next merge.
type RemoveMessage struct {
	ID string `json:"id"`
}

// StateUpdate is a partial update to a thread's conversation state.
// An update with an empty Remove list is a no-op merge.
type StateUpdate struct {
	Remove []RemoveMessage `json:"remove"`
}

// IsEmpty reports whether applying the update would change nothing.
func (u StateUpdate) IsEmpty() bool { return len(u.Remove) == 0 }

// Checkpointer persists conversation state partitioned by thread ID.
// Implementations must be safe for concurrent use across threads.
type Checkpointer interface {
	// Load returns the ordered messages of a thread. Unknown threads yield an empty state.
	Load(ctx context.Context, threadID string) ([]Message, error)
	// Append adds messages to the end of a thread's state.
	Append(ctx context.Context, threadID string, msgs ...Message) error
	// Apply merges a state update. Removing an ID that is not present fails
	// with ErrNotFound and leaves the state unchanged.
	Apply(ctx context.Context, threadID string, update StateUpdate) error
	// Delete drops a thread entirely.
	Delete(ctx context.Context, threadID string) error
	// Prune drops threads not updated since before, unless keep reports true.
	// It returns the number of threads removed.
	Prune(ctx context.Context, before time.Time, keep func(threadID string) bool) (int, error)
}

// TurnPreprocessor runs immediately before each agent invocation and returns
// the state update to merge before the model is consulted.
type TurnPreprocessor interface {
	Preprocess(ctx context.Context, state []Message) (StateUpdate, error)
}
