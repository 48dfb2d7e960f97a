package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"searchchat/internal/domain"
)

// Options configures a terminal chat session.
type Options struct {
	Chat      ChatService
	ThreadID  string // empty starts a fresh thread
	ModelName string
	Bus       domain.EventBus // optional, drives the tool status line
	Logger    *slog.Logger
}

// Run opens one chat session in the terminal and blocks until the user
// leaves or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := domain.NewID()
	threadID := opts.ThreadID
	if threadID == "" {
		threadID = domain.NewID()
	}

	var program *tea.Program
	sink := NewSink(func(msg tea.Msg) { program.Send(msg) })
	model := NewChatModel(ChatModelDeps{
		Chat:      opts.Chat,
		Ctx:       ctx,
		SessionID: sessionID,
		ThreadID:  threadID,
		Sink:      sink,
		ModelName: opts.ModelName,
	})
	program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if opts.Bus != nil {
		unsub := opts.Bus.Subscribe(domain.EventToolCallStarted, func(_ context.Context, ev domain.Event) {
			if ev.SessionID != sessionID {
				return
			}
			var payload struct {
				Tool string `json:"tool"`
			}
			if err := json.Unmarshal(ev.Payload, &payload); err == nil {
				program.Send(ToolStartedMsg{Name: payload.Tool})
			}
		})
		defer unsub()
	}

	logger.Debug("terminal chat starting", "session_id", sessionID, "thread_id", threadID)
	final, err := program.Run()

	fm, _ := final.(ChatModel)
	if !fm.ended {
		opts.Chat.Discard(context.Background(), sessionID)
	}
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("terminal chat: %w", err)
	}
	if fm.err != nil {
		return fmt.Errorf("terminal chat: %w", fm.err)
	}
	return nil
}

// Sink delivers session replies to a running program.
type Sink struct {
	send func(tea.Msg)
}

// NewSink creates a sink that hands messages to send, typically
// (*tea.Program).Send.
func NewSink(send func(tea.Msg)) *Sink {
	return &Sink{send: send}
}

// Send implements domain.ReplySink.
func (s *Sink) Send(ctx context.Context, msg domain.OutboundMessage) error {
	return s.deliver(ctx, ReplyMsg{Message: msg, Created: true})
}

// Update implements domain.ReplySink.
func (s *Sink) Update(ctx context.Context, msg domain.OutboundMessage) error {
	return s.deliver(ctx, ReplyMsg{Message: msg})
}

func (s *Sink) deliver(ctx context.Context, msg tea.Msg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.send(msg)
	return nil
}

var _ domain.ReplySink = (*Sink)(nil)
