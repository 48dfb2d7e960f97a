package usecase

import (
	"context"

	"searchchat/internal/domain"
)

// ToolResultTrimmer removes every tool-result message from the conversation
// state before the model sees it. Search payloads are large and stale after
// the turn that requested them.
type ToolResultTrimmer struct{}

// NewToolResultTrimmer creates the default turn preprocessor.
func NewToolResultTrimmer() *ToolResultTrimmer { return &ToolResultTrimmer{} }

// Preprocess returns one removal directive per tool-result message, in state
// order. The list is empty, never nil, when there is nothing to remove.
func (*ToolResultTrimmer) Preprocess(_ context.Context, state []domain.Message) (domain.StateUpdate, error) {
	remove := make([]domain.RemoveMessage, 0)
	for _, msg := range state {
		if msg.IsToolResult() {
			remove = append(remove, domain.RemoveMessage{ID: msg.ID})
		}
	}
	return domain.StateUpdate{Remove: remove}, nil
}

// PreprocessorFunc adapts a plain function to domain.TurnPreprocessor.
type PreprocessorFunc func(ctx context.Context, state []domain.Message) (domain.StateUpdate, error)

func (f PreprocessorFunc) Preprocess(ctx context.Context, state []domain.Message) (domain.StateUpdate, error) {
	return f(ctx, state)
}

var (
	_ domain.TurnPreprocessor = (*ToolResultTrimmer)(nil)
	_ domain.TurnPreprocessor = PreprocessorFunc(nil)
)
