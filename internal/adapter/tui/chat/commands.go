package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"searchchat/internal/domain"
)

func startSessionCmd(ctx context.Context, svc ChatService, sessionID, threadID string, sink domain.ReplySink) tea.Cmd {
	return func() tea.Msg {
		return SessionStartedMsg{Err: svc.Start(ctx, sessionID, threadID, sink)}
	}
}

// sendMessageCmd runs the turn in the background. The turn context is
// cancelled if the user quits mid-answer.
func sendMessageCmd(ctx context.Context, svc ChatService, sessionID, text string) tea.Cmd {
	return func() tea.Msg {
		return HandlerDoneMsg{Err: svc.HandleMessage(ctx, sessionID, text)}
	}
}

func endSessionCmd(ctx context.Context, svc ChatService, sessionID string) tea.Cmd {
	return func() tea.Msg {
		return SessionEndedMsg{Err: svc.End(ctx, sessionID)}
	}
}
