package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchchat/internal/adapter/checkpoint"
	"searchchat/internal/domain"
)

func newLoop(s Streamer, logBuf *bytes.Buffer) *SessionLoop {
	logger := testLogger()
	if logBuf != nil {
		logger = slog.New(slog.NewTextHandler(logBuf, nil))
	}
	return NewSessionLoop(SessionLoopDeps{
		Agents:     staticBuilder{s},
		Logger:     logger,
		Classifier: NewErrorClassifier(),
	})
}

func TestSessionStartSendsOnlyGreeting(t *testing.T) {
	agent := &scriptedStreamer{}
	loop := newLoop(agent, nil)
	sink := &recordingSink{}

	require.NoError(t, loop.Start(context.Background(), "s1", "", sink))

	ops := sink.Ops()
	require.Len(t, ops, 1)
	assert.Equal(t, "send", ops[0].kind)
	assert.Equal(t, GreetingText, ops[0].msg.Content)
	assert.Empty(t, agent.Calls(), "start must not invoke the agent")

	sc, err := loop.Registry().Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sc.ThreadID, "thread defaults to the session id")
}

func TestSessionStartDuplicate(t *testing.T) {
	loop := newLoop(&scriptedStreamer{}, nil)
	require.NoError(t, loop.Start(context.Background(), "s1", "t1", &recordingSink{}))
	err := loop.Start(context.Background(), "s1", "t1", &recordingSink{})
	assert.ErrorIs(t, err, domain.ErrSessionExists)
}

func TestSessionStartGreetingFailureUnregisters(t *testing.T) {
	loop := newLoop(&scriptedStreamer{}, nil)
	err := loop.Start(context.Background(), "s1", "t1", &recordingSink{sendErr: errors.New("closed")})
	require.Error(t, err)
	assert.Equal(t, 0, loop.Registry().Len())
}

func TestHandleMessageAccumulatesReply(t *testing.T) {
	agent := &scriptedStreamer{events: []domain.StreamEvent{
		domain.TextDelta{Text: "Let me check."},
		domain.TextDelta{Text: ""},
		domain.ToolCallRequested{ID: "c1", Name: "web_search"},
		domain.TextDelta{Text: "Sunny."},
	}}
	loop := newLoop(agent, nil)
	sink := &recordingSink{}
	ctx := context.Background()
	require.NoError(t, loop.Start(ctx, "s1", "thread-9", sink))
	sink.Reset()

	require.NoError(t, loop.HandleMessage(ctx, "s1", "weather?"))

	assert.Equal(t, []string{"thread-9:weather?"}, agent.Calls())

	ops := sink.Ops()
	require.Len(t, ops, 4)
	assert.Equal(t, "send", ops[0].kind)
	assert.Empty(t, ops[0].msg.Content)
	replyID := ops[0].msg.ID
	require.NotEmpty(t, replyID)

	want := []string{
		"Let me check.",
		"Let me check.\n\nweb_search\n",
		"Let me check.\n\nweb_search\nSunny.",
	}
	for i, w := range want {
		op := ops[i+1]
		assert.Equal(t, "update", op.kind)
		assert.Equal(t, replyID, op.msg.ID, "updates target the same reply")
		assert.Equal(t, w, op.msg.Content)
	}
}

func TestHandleMessageRateLimit(t *testing.T) {
	agent := &scriptedStreamer{err: fmt.Errorf("Agent.Stream: %w", fmt.Errorf("groq 429: %w", domain.ErrRateLimit))}
	loop := newLoop(agent, nil)
	sink := &recordingSink{}
	ctx := context.Background()
	require.NoError(t, loop.Start(ctx, "s1", "", sink))
	sink.Reset()

	require.NoError(t, loop.HandleMessage(ctx, "s1", "hi"))

	sent := sink.Sent()
	require.Len(t, sent, 2)
	assert.Empty(t, sent[0].Content)
	assert.Equal(t, RateLimitText, sent[1].Content)
	assert.True(t, sent[1].IsError)

	// The session stays usable.
	agent.mu.Lock()
	agent.err = nil
	agent.events = []domain.StreamEvent{domain.TextDelta{Text: "back"}}
	agent.mu.Unlock()
	sink.Reset()

	require.NoError(t, loop.HandleMessage(ctx, "s1", "again"))
	ops := sink.Ops()
	require.Len(t, ops, 2)
	assert.Equal(t, "back", ops[1].msg.Content)
}

func TestHandleMessageGenericFailureLogsCode(t *testing.T) {
	var logs bytes.Buffer
	agent := &scriptedStreamer{
		events: []domain.StreamEvent{domain.TextDelta{Text: "partial"}},
		err:    domain.NewDomainError("Agent.executeTool", fmt.Errorf("%w: boom", domain.ErrToolFailure), "web_search"),
	}
	loop := newLoop(agent, &logs)
	sink := &recordingSink{}
	ctx := context.Background()
	require.NoError(t, loop.Start(ctx, "s1", "", sink))
	sink.Reset()

	require.NoError(t, loop.HandleMessage(ctx, "s1", "hi"))

	ops := sink.Ops()
	require.Len(t, ops, 3)
	assert.Equal(t, "partial", ops[1].msg.Content, "partial reply is left in place")
	assert.Equal(t, "send", ops[2].kind)
	assert.Equal(t, GenericText, ops[2].msg.Content)

	out := logs.String()
	assert.Contains(t, out, "turn failed")
	assert.Contains(t, out, "code=TOOL_FAILURE")
	assert.Contains(t, out, "category=permanent")
}

func TestHandleMessageCancelledSendsNothing(t *testing.T) {
	agent := &scriptedStreamer{block: true}
	loop := newLoop(agent, nil)
	sink := &recordingSink{}
	require.NoError(t, loop.Start(context.Background(), "s1", "", sink))
	sink.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.HandleMessage(ctx, "s1", "hi") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sent := sink.Sent()
	require.Len(t, sent, 1, "only the empty reply is sent")
	assert.Empty(t, sent[0].Content)
}

func TestHandleMessageTurnTimeout(t *testing.T) {
	var logs bytes.Buffer
	agent := &scriptedStreamer{block: true}
	loop := NewSessionLoop(SessionLoopDeps{
		Agents:      staticBuilder{agent},
		Logger:      slog.New(slog.NewTextHandler(&logs, nil)),
		TurnTimeout: 20 * time.Millisecond,
	})
	sink := &recordingSink{}
	require.NoError(t, loop.Start(context.Background(), "s1", "", sink))
	sink.Reset()

	require.NoError(t, loop.HandleMessage(context.Background(), "s1", "hi"))

	sent := sink.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, GenericText, sent[1].Content)
	assert.Contains(t, logs.String(), "code=TIMEOUT")
}

func TestHandleMessageUnknownSession(t *testing.T) {
	loop := newLoop(&scriptedStreamer{}, nil)
	err := loop.HandleMessage(context.Background(), "ghost", "hi")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionEnd(t *testing.T) {
	loop := newLoop(&scriptedStreamer{}, nil)
	sink := &recordingSink{}
	ctx := context.Background()
	require.NoError(t, loop.Start(ctx, "s1", "", sink))
	sink.Reset()

	require.NoError(t, loop.End(ctx, "s1"))

	sent := sink.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, FarewellText, sent[0].Content)
	assert.Equal(t, 0, loop.Registry().Len())

	assert.ErrorIs(t, loop.HandleMessage(ctx, "s1", "hi"), domain.ErrSessionNotFound)
	assert.ErrorIs(t, loop.End(ctx, "s1"), domain.ErrSessionNotFound)
}

func TestSessionDiscard(t *testing.T) {
	loop := newLoop(&scriptedStreamer{}, nil)
	sink := &recordingSink{}
	require.NoError(t, loop.Start(context.Background(), "s1", "", sink))
	sink.Reset()

	loop.Discard(context.Background(), "s1")
	loop.Discard(context.Background(), "s1")
	assert.Empty(t, sink.Ops())
	assert.Equal(t, 0, loop.Registry().Len())
}

func TestSessionLoopWithAgentEndToEnd(t *testing.T) {
	llm := &mockStreamLLM{steps: []streamStep{
		searchStep("c1", "weather Hanoi"),
		textStep("It is ", "raining."),
		{err: fmt.Errorf("status 429: %w", domain.ErrRateLimit)},
		textStep("Still raining."),
	}}
	store := checkpoint.NewMemoryStore()
	factory := &AgentFactory{
		Deps: AgentDeps{
			LLM:          llm,
			Tools:        newMockTools(&staticTool{name: "web_search", result: `{"results":[]}`}),
			Checkpointer: store,
			Preprocessor: NewToolResultTrimmer(),
			Logger:       testLogger(),
		},
		SystemPrompt: "sys",
		Model:        "m",
	}
	loop := NewSessionLoop(SessionLoopDeps{Agents: factory, Logger: testLogger()})
	sink := &recordingSink{}
	ctx := context.Background()

	require.NoError(t, loop.Start(ctx, "s1", "thread-1", sink))
	require.NoError(t, loop.HandleMessage(ctx, "s1", "weather in Hanoi?"))
	require.NoError(t, loop.HandleMessage(ctx, "s1", "and now?"))
	require.NoError(t, loop.HandleMessage(ctx, "s1", "and now?"))
	require.NoError(t, loop.End(ctx, "s1"))

	var final []string
	for _, op := range sink.Ops() {
		final = append(final, op.msg.Content)
	}
	joined := strings.Join(final, "|")
	assert.Contains(t, joined, "\n\nweb_search\nIt is raining.")
	assert.Contains(t, joined, RateLimitText)
	assert.Contains(t, joined, "Still raining.")
	assert.Equal(t, FarewellText, final[len(final)-1])

	reqs := llm.Requests()
	require.Len(t, reqs, 4)
	assert.True(t, strings.HasPrefix(reqs[0].Messages[0].Content, "sys\n\nSystem time: "))
	for _, m := range reqs[3].Messages {
		assert.NotEqual(t, domain.RoleTool, m.Role, "tool results are trimmed on later turns")
	}

	state, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.NotEmpty(t, state, "memory outlives the session")
}
