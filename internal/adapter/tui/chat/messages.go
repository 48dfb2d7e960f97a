// Package chat implements the terminal chat front end on Bubble Tea.
package chat

import "searchchat/internal/domain"

// ReplyMsg carries a message pushed by the session through the sink.
// Created is false for updates to a message already on screen.
type ReplyMsg struct {
	Message domain.OutboundMessage
	Created bool
}

// SessionStartedMsg reports the outcome of starting the session.
type SessionStartedMsg struct {
	Err error
}

// SessionEndedMsg signals that the farewell was delivered and the program
// can exit.
type SessionEndedMsg struct {
	Err error
}

// HandlerDoneMsg signals that a user turn finished.
type HandlerDoneMsg struct {
	Err error
}

// ToolStartedMsg signals that the agent is running a tool.
type ToolStartedMsg struct {
	Name string
}
