package gateway

import "encoding/json"

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// RPC methods and event names understood by the web chat client.
const (
	MethodChatSend = "chat.send"
	MethodChatEnd  = "chat.end"

	EventSessionReady   = "session.ready"
	EventMessageCreated = "message.created"
	EventMessageUpdated = "message.updated"
)

// Frame is the envelope exchanged between client and server over WebSocket.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`     // request/response correlation ID
	Method  string          `json:"method,omitempty"` // RPC method (request) or event name (event)
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"` // response only
}

// ChatSendParams is the payload of a chat.send request.
type ChatSendParams struct {
	Text string `json:"text"`
}

// SessionReady is sent once per connection before the greeting.
type SessionReady struct {
	SessionID string `json:"session_id"`
	ThreadID  string `json:"thread_id"`
}
