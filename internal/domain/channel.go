package domain

import "context"

// OutboundMessage is a message rendered in the chat UI.
// ID identifies the visible message so that later updates replace its content.
type OutboundMessage struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ReplySink is the chat UI surface of a single session.
type ReplySink interface {
	// Send makes a new message visible.
	Send(ctx context.Context, msg OutboundMessage) error
	// Update re-renders a previously sent message with new content.
	Update(ctx context.Context, msg OutboundMessage) error
}
