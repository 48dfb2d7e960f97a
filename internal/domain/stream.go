package domain

import "encoding/json"

// StreamEvent is an incremental unit of an agent run. The set of variants is
// closed: TextDelta and ToolCallRequested are the only implementations.
type StreamEvent interface {
	streamEvent()
}

// TextDelta carries a fragment of assistant text.
type TextDelta struct {
	Text string `json:"text"`
}

// ToolCallRequested announces that the model asked for a tool invocation.
type ToolCallRequested struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

func (TextDelta) streamEvent()         {}
func (ToolCallRequested) streamEvent() {}

// StreamEventFunc consumes stream events in order. Returning an error stops
// the run and the error is propagated to the caller.
type StreamEventFunc func(StreamEvent) error
