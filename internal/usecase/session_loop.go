package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"searchchat/internal/domain"
)

// Fixed chat texts.
const (
	GreetingText = "👋 Hello! I'm an AI agent with access to Web Search. I can help you with:\n\n" +
		"🌤️ **Weather information** - Ask about weather in any location\n" +
		"🔢 **Latest News** - latest National or International News\n" +
		"🔍 **Web searches** - Search for information\n\n" +
		"How can I assist you today?"
	FarewellText  = "👋 Goodbye! Feel free to start a new chat anytime."
	RateLimitText = "⚠️ Too many requests"
	GenericText   = "Something went wrong"
)

// Streamer runs one agent turn over a conversation thread.
type Streamer interface {
	Stream(ctx context.Context, threadID, userText string, emit domain.StreamEventFunc) error
}

// AgentBuilder creates the agent bound to a new session.
type AgentBuilder interface {
	New() Streamer
}

// SessionLoopDeps holds injected dependencies for the session loop.
type SessionLoopDeps struct {
	Registry    *SessionRegistry
	Agents      AgentBuilder
	Logger      *slog.Logger
	Bus         domain.EventBus  // optional
	Classifier  *ErrorClassifier // optional, adds a category to failure logs
	TurnTimeout time.Duration    // 0 = bounded by the caller's context only
}

// SessionLoop reacts to chat lifecycle callbacks: start, message, end.
type SessionLoop struct {
	deps SessionLoopDeps
}

// NewSessionLoop creates a session loop.
func NewSessionLoop(deps SessionLoopDeps) *SessionLoop {
	if deps.Registry == nil {
		deps.Registry = NewSessionRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &SessionLoop{deps: deps}
}

// Registry returns the registry holding live sessions.
func (l *SessionLoop) Registry() *SessionRegistry { return l.deps.Registry }

// Start builds the session's agent, registers it and greets the user.
// The agent is not invoked.
func (l *SessionLoop) Start(ctx context.Context, sessionID, threadID string, sink domain.ReplySink) error {
	const op = "SessionLoop.Start"

	if threadID == "" {
		threadID = sessionID
	}
	sc := &SessionContext{
		ID:        sessionID,
		ThreadID:  threadID,
		Agent:     l.deps.Agents.New(),
		Sink:      sink,
		StartedAt: time.Now(),
	}
	if err := l.deps.Registry.Register(sc); err != nil {
		return domain.WrapOp(op, err)
	}

	greeting := domain.OutboundMessage{ID: domain.NewID(), SessionID: sessionID, Content: GreetingText}
	if err := sink.Send(ctx, greeting); err != nil {
		_, _ = l.deps.Registry.Remove(sessionID)
		return domain.NewDomainError(op, err, "send greeting")
	}

	l.deps.Logger.Info("session started", "session_id", sessionID, "thread_id", threadID)
	publishEvent(l.deps.Bus, ctx, domain.EventSessionStarted, sessionID, map[string]string{"thread_id": threadID})
	return nil
}

// HandleMessage streams one agent turn into a single reply that grows as
// events arrive. Turn failures are reported to the user and are not
// returned; the session stays usable.
func (l *SessionLoop) HandleMessage(ctx context.Context, sessionID, text string) error {
	const op = "SessionLoop.HandleMessage"

	sc, err := l.deps.Registry.Get(sessionID)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	ctx = domain.ContextWithSessionID(ctx, sessionID)

	reply := domain.OutboundMessage{ID: domain.NewID(), SessionID: sessionID}
	if err := sc.Sink.Send(ctx, reply); err != nil {
		return domain.NewDomainError(op, err, "send reply")
	}

	publishEvent(l.deps.Bus, ctx, domain.EventTurnStarted, sessionID, map[string]string{"thread_id": sc.ThreadID})
	start := time.Now()

	turnCtx := ctx
	if l.deps.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, l.deps.TurnTimeout)
		defer cancel()
	}

	var content strings.Builder
	emit := func(ev domain.StreamEvent) error {
		switch e := ev.(type) {
		case domain.TextDelta:
			if e.Text == "" {
				return nil
			}
			content.WriteString(e.Text)
		case domain.ToolCallRequested:
			content.WriteString("\n\n" + e.Name + "\n")
		default:
			return nil
		}
		reply.Content = content.String()
		return sc.Sink.Update(turnCtx, reply)
	}

	err = sc.Agent.Stream(turnCtx, sc.ThreadID, text, emit)
	switch {
	case err == nil:
		l.deps.Logger.Debug("turn completed",
			"session_id", sessionID,
			"duration", time.Since(start),
			"reply_bytes", content.Len(),
		)
		publishEvent(l.deps.Bus, ctx, domain.EventTurnCompleted, sessionID, nil)
	case ctx.Err() != nil:
		l.deps.Logger.Debug("turn cancelled", "session_id", sessionID, "error", err)
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		}
		l.reportFailure(ctx, sc, err)
	}
	return nil
}

// reportFailure logs err and shows the matching notice as a new message.
func (l *SessionLoop) reportFailure(ctx context.Context, sc *SessionContext, err error) {
	code := domain.ErrorCodeOf(err)
	attrs := []any{"session_id", sc.ID, "thread_id", sc.ThreadID, "error", err, "code", string(code)}
	if l.deps.Classifier != nil {
		attrs = append(attrs, "category", l.deps.Classifier.Classify(err).Category.String())
	}

	notice := GenericText
	if domain.IsRateLimit(err) {
		notice = RateLimitText
		l.deps.Logger.Warn("model rate limited", attrs...)
	} else {
		l.deps.Logger.Error("turn failed", attrs...)
	}

	publishEvent(l.deps.Bus, ctx, domain.EventTurnFailed, sc.ID, domain.TurnFailedPayload{
		Error: err.Error(),
		Code:  code,
	})

	msg := domain.OutboundMessage{ID: domain.NewID(), SessionID: sc.ID, Content: notice, IsError: true}
	if sendErr := sc.Sink.Send(ctx, msg); sendErr != nil {
		l.deps.Logger.Warn("failed to deliver error notice", "session_id", sc.ID, "error", sendErr)
	}
}

// End says goodbye and discards the session's context.
func (l *SessionLoop) End(ctx context.Context, sessionID string) error {
	const op = "SessionLoop.End"

	sc, err := l.deps.Registry.Get(sessionID)
	if err != nil {
		return domain.WrapOp(op, err)
	}

	farewell := domain.OutboundMessage{ID: domain.NewID(), SessionID: sessionID, Content: FarewellText}
	sendErr := sc.Sink.Send(ctx, farewell)

	if _, err := l.deps.Registry.Remove(sessionID); err != nil {
		return domain.WrapOp(op, err)
	}
	l.deps.Logger.Info("session ended", "session_id", sessionID, "duration", time.Since(sc.StartedAt))
	publishEvent(l.deps.Bus, ctx, domain.EventSessionEnded, sessionID, nil)

	if sendErr != nil {
		return domain.NewDomainError(op, sendErr, "send farewell")
	}
	return nil
}

// Discard drops a session without a farewell, for transports that are
// already gone.
func (l *SessionLoop) Discard(ctx context.Context, sessionID string) {
	if _, err := l.deps.Registry.Remove(sessionID); err != nil {
		return
	}
	l.deps.Logger.Info("session discarded", "session_id", sessionID)
	publishEvent(l.deps.Bus, ctx, domain.EventSessionEnded, sessionID, nil)
}
