package usecase

import (
	"time"

	"searchchat/internal/domain"
)

// ContextBuilder constructs the message array for model calls.
type ContextBuilder struct {
	systemPrompt string
	model        string
	temperature  float64
}

// NewContextBuilder creates a context builder with a fixed system prompt.
func NewContextBuilder(systemPrompt, model string, temperature float64) *ContextBuilder {
	return &ContextBuilder{
		systemPrompt: systemPrompt,
		model:        model,
		temperature:  temperature,
	}
}

// SystemPrompt returns the prompt this builder places first in every request.
func (cb *ContextBuilder) SystemPrompt() string { return cb.systemPrompt }

// Build assembles the system prompt followed by the conversation state.
// The state slice is not modified.
func (cb *ContextBuilder) Build(state []domain.Message, tools []domain.ToolSchema) domain.ChatRequest {
	messages := make([]domain.Message, 0, 1+len(state))
	messages = append(messages, domain.Message{
		Role:      domain.RoleSystem,
		Content:   cb.systemPrompt,
		Timestamp: time.Now(),
	})
	messages = append(messages, pairToolCalls(state)...)

	return domain.ChatRequest{
		Model:       cb.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: cb.temperature,
	}
}

// pairToolCalls drops assistant tool calls whose results are no longer in
// the state, and tool results whose call is gone. Providers reject either
// half of a pair on its own. An assistant message left with neither content
// nor calls is skipped.
func pairToolCalls(state []domain.Message) []domain.Message {
	results := make(map[string]bool)
	calls := make(map[string]bool)
	for _, msg := range state {
		switch msg.Role {
		case domain.RoleTool:
			results[msg.ToolCallID] = true
		case domain.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				calls[tc.ID] = true
			}
		}
	}

	out := make([]domain.Message, 0, len(state))
	for _, msg := range state {
		switch msg.Role {
		case domain.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, msg)
				continue
			}
			kept := make([]domain.ToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				if results[tc.ID] {
					kept = append(kept, tc)
				}
			}
			if len(kept) == 0 && msg.Content == "" {
				continue
			}
			msg.ToolCalls = kept
			if len(kept) == 0 {
				msg.ToolCalls = nil
			}
			out = append(out, msg)
		case domain.RoleTool:
			if calls[msg.ToolCallID] {
				out = append(out, msg)
			}
		default:
			out = append(out, msg)
		}
	}
	return out
}
