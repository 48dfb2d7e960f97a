package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"searchchat/internal/domain"
	"searchchat/internal/infra/tracer"
)

const defaultMaxIterations = 10

// systemTimeLayout renders ISO 8601 with microseconds and a numeric offset.
const systemTimeLayout = "2006-01-02T15:04:05.000000-07:00"

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM            domain.LLMProvider
	Tools          domain.ToolExecutor
	Checkpointer   domain.Checkpointer
	Preprocessor   domain.TurnPreprocessor // nil = state is never trimmed
	ContextBuilder *ContextBuilder
	Logger         *slog.Logger
	MaxIterations  int
	Bus            domain.EventBus // optional
	Locker         *SessionLocker  // optional, shared across agents on one store
}

// Agent runs the reason/act loop for one conversation thread at a time.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = defaultMaxIterations
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Locker == nil {
		deps.Locker = NewSessionLocker()
	}
	return &Agent{deps: deps}
}

// SystemPrompt returns the prompt the agent was built with.
func (a *Agent) SystemPrompt() string { return a.deps.ContextBuilder.SystemPrompt() }

// Stream runs one turn for userText on the given thread. Assistant text and
// tool-call requests are passed to emit in the order the model produced them.
// An error returned by emit aborts the turn.
func (a *Agent) Stream(ctx context.Context, threadID, userText string, emit domain.StreamEventFunc) error {
	const op = "Agent.Stream"

	ctx, span := tracer.StartSpan(ctx, "agent.stream",
		trace.WithAttributes(tracer.StringAttr("thread.id", threadID)),
	)
	defer span.End()

	unlock, err := a.deps.Locker.Lock(ctx, threadID)
	if err != nil {
		return domain.NewDomainError(op, err, "thread lock")
	}
	defer unlock()

	ctx = domain.ContextWithThreadID(ctx, threadID)
	sessionID := domain.SessionIDFromContext(ctx)

	human := domain.Message{
		ID:        domain.NewID(),
		Role:      domain.RoleUser,
		Content:   userText,
		Timestamp: time.Now(),
	}
	if err := a.deps.Checkpointer.Append(ctx, threadID, human); err != nil {
		tracer.RecordError(span, err)
		return domain.WrapOp(op, err)
	}

	if err := a.preprocess(ctx, threadID, sessionID); err != nil {
		tracer.RecordError(span, err)
		return domain.WrapOp(op, err)
	}

	for i := 0; i < a.deps.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		span.AddEvent("agent.iteration", trace.WithAttributes(tracer.IntAttr("iteration", i)))

		state, err := a.deps.Checkpointer.Load(ctx, threadID)
		if err != nil {
			tracer.RecordError(span, err)
			return domain.WrapOp(op, err)
		}
		req := a.deps.ContextBuilder.Build(state, a.deps.Tools.Schemas())

		a.publishEvent(ctx, domain.EventLLMCallStarted, sessionID, nil)
		msg, usage, err := a.callModel(ctx, req, emit)
		if err != nil {
			tracer.RecordError(span, err)
			return domain.WrapOp(op, err)
		}
		a.publishEvent(ctx, domain.EventLLMCallCompleted, sessionID, usage)

		a.deps.Logger.Debug("model step",
			"thread_id", threadID,
			"iteration", i,
			"tool_calls", len(msg.ToolCalls),
			"tokens", usage.TotalTokens,
		)

		msg.ID = domain.NewID()
		if err := a.deps.Checkpointer.Append(ctx, threadID, msg); err != nil {
			tracer.RecordError(span, err)
			return domain.WrapOp(op, err)
		}

		if len(msg.ToolCalls) == 0 {
			tracer.SetOK(span)
			return nil
		}

		for _, call := range msg.ToolCalls {
			if err := emit(domain.ToolCallRequested{ID: call.ID, Name: call.Name, Args: call.Arguments}); err != nil {
				return domain.WrapOp(op, err)
			}
		}

		toolMsgs, err := a.executeTools(ctx, sessionID, msg.ToolCalls)
		if err != nil {
			tracer.RecordError(span, err)
			return domain.WrapOp(op, err)
		}
		if err := a.deps.Checkpointer.Append(ctx, threadID, toolMsgs...); err != nil {
			tracer.RecordError(span, err)
			return domain.WrapOp(op, err)
		}
	}

	tracer.RecordError(span, domain.ErrMaxIterations)
	return domain.NewDomainError(op, domain.ErrMaxIterations, fmt.Sprintf("limit %d", a.deps.MaxIterations))
}

// preprocess runs the turn preprocessor over the stored state and merges its
// update before the first model call of the turn.
func (a *Agent) preprocess(ctx context.Context, threadID, sessionID string) error {
	if a.deps.Preprocessor == nil {
		return nil
	}
	state, err := a.deps.Checkpointer.Load(ctx, threadID)
	if err != nil {
		return err
	}
	update, err := a.deps.Preprocessor.Preprocess(ctx, state)
	if err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	if update.IsEmpty() {
		return nil
	}
	if err := a.deps.Checkpointer.Apply(ctx, threadID, update); err != nil {
		return fmt.Errorf("apply preprocessor update: %w", err)
	}
	a.deps.Logger.Debug("state trimmed", "thread_id", threadID, "removed", len(update.Remove))
	a.publishEvent(ctx, domain.EventStateTrimmed, sessionID, domain.StateTrimmedPayload{
		ThreadID: threadID,
		Removed:  len(update.Remove),
	})
	return nil
}

// callModel performs one model step. Streaming providers have their text
// forwarded to emit as it arrives; others produce a single TextDelta.
func (a *Agent) callModel(ctx context.Context, req domain.ChatRequest, emit domain.StreamEventFunc) (domain.Message, domain.Usage, error) {
	sp, canStream := a.deps.LLM.(domain.StreamingLLMProvider)
	if !canStream {
		llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_call")
		resp, err := a.deps.LLM.Chat(llmCtx, req)
		if err != nil {
			tracer.RecordError(llmSpan, err)
			llmSpan.End()
			return domain.Message{}, domain.Usage{}, err
		}
		llmSpan.End()

		msg := resp.Message
		msg.Role = domain.RoleAssistant
		msg.ToolCalls = normalizeToolCalls(msg.ToolCalls)
		if msg.Content != "" {
			if err := emit(domain.TextDelta{Text: msg.Content}); err != nil {
				return domain.Message{}, domain.Usage{}, err
			}
		}
		return msg, resp.Usage, nil
	}

	req.Stream = true
	llmCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	llmCtx, llmSpan := tracer.StartSpan(llmCtx, "agent.llm_stream")
	defer llmSpan.End()

	deltaCh, err := sp.ChatStream(llmCtx, req)
	if err != nil {
		tracer.RecordError(llmSpan, err)
		return domain.Message{}, domain.Usage{}, err
	}

	acc := newStreamAccumulator()
	for delta := range deltaCh {
		if delta.Err != nil {
			tracer.RecordError(llmSpan, delta.Err)
			return domain.Message{}, domain.Usage{}, delta.Err
		}
		acc.addDelta(delta)
		if delta.Reasoning != "" {
			a.deps.Logger.Debug("reasoning fragment dropped", "bytes", len(delta.Reasoning))
		}
		if delta.Content == "" {
			continue
		}
		if err := emit(domain.TextDelta{Text: delta.Content}); err != nil {
			cancel()
			go drain(deltaCh)
			return domain.Message{}, domain.Usage{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.Message{}, domain.Usage{}, err
	}

	msg, usage := acc.build()
	tracer.SetOK(llmSpan)
	return msg, usage, nil
}

// executeTools runs every requested call in parallel. Results keep the call
// order. The first failure, in call order, aborts the turn.
func (a *Agent) executeTools(ctx context.Context, sessionID string, calls []domain.ToolCall) ([]domain.Message, error) {
	msgs := make([]domain.Message, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c domain.ToolCall) {
			defer wg.Done()
			msgs[idx], errs[idx] = a.executeTool(ctx, sessionID, c)
		}(i, call)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

func (a *Agent) executeTool(ctx context.Context, sessionID string, call domain.ToolCall) (domain.Message, error) {
	const op = "Agent.executeTool"

	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	tool, err := a.deps.Tools.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Message{}, domain.NewDomainError(op, err, call.Name)
	}

	a.publishEvent(ctx, domain.EventToolCallStarted, sessionID, map[string]string{"tool": call.Name})
	result, err := tool.Execute(ctx, call.Arguments)
	a.publishEvent(ctx, domain.EventToolCallCompleted, sessionID, map[string]string{
		"tool":    call.Name,
		"success": fmt.Sprintf("%v", err == nil),
	})
	if err != nil {
		tracer.RecordError(span, err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.Message{}, err
		}
		return domain.Message{}, domain.NewDomainError(op, fmt.Errorf("%w: %w", domain.ErrToolFailure, err), call.Name)
	}

	tracer.SetOK(span)
	return domain.Message{
		ID:         domain.NewID(),
		Role:       domain.RoleTool,
		Name:       call.Name,
		Content:    result.Content,
		ToolCallID: call.ID,
		Timestamp:  time.Now(),
	}, nil
}

func (a *Agent) publishEvent(ctx context.Context, eventType domain.EventType, sessionID string, payload any) {
	publishEvent(a.deps.Bus, ctx, eventType, sessionID, payload)
}

// publishEvent publishes a domain event on the bus if it is configured.
func publishEvent(bus domain.EventBus, ctx context.Context, eventType domain.EventType, sessionID string, payload any) {
	if bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   raw,
	})
}

func drain(ch <-chan domain.StreamDelta) {
	for range ch {
	}
}

// maxToolCallsPerMessage bounds the slots allocated for malformed streams.
const maxToolCallsPerMessage = 32

// streamAccumulator merges incremental deltas into one assistant message.
// Tool-call fragments are merged by their stream index: the first fragment
// carries ID and name, later ones extend the arguments.
type streamAccumulator struct {
	content   strings.Builder
	toolCalls []domain.ToolCall
	byIndex   map[int]int
	usage     domain.Usage
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{byIndex: make(map[int]int)}
}

func (acc *streamAccumulator) addDelta(delta domain.StreamDelta) {
	acc.content.WriteString(delta.Content)

	for _, frag := range delta.ToolCalls {
		pos, ok := acc.byIndex[frag.Index]
		if !ok {
			if len(acc.toolCalls) >= maxToolCallsPerMessage {
				continue
			}
			pos = len(acc.toolCalls)
			acc.byIndex[frag.Index] = pos
			acc.toolCalls = append(acc.toolCalls, domain.ToolCall{Index: frag.Index})
		}
		tc := &acc.toolCalls[pos]
		if frag.ID != "" {
			tc.ID = frag.ID
		}
		if frag.Name != "" {
			tc.Name = frag.Name
		}
		tc.Arguments = append(tc.Arguments, frag.Arguments...)
	}

	if delta.Usage != nil {
		acc.usage = *delta.Usage
	}
}

func (acc *streamAccumulator) build() (domain.Message, domain.Usage) {
	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   acc.content.String(),
		ToolCalls: normalizeToolCalls(acc.toolCalls),
		Timestamp: time.Now(),
	}, acc.usage
}

// normalizeToolCalls gives every call an ID and a JSON arguments value so
// that tool results can be paired and replayed.
func normalizeToolCalls(calls []domain.ToolCall) []domain.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]domain.ToolCall, len(calls))
	for i, tc := range calls {
		if tc.ID == "" {
			tc.ID = "call_" + domain.NewID()
		}
		if len(tc.Arguments) == 0 {
			tc.Arguments = json.RawMessage(`{}`)
		}
		out[i] = tc
	}
	return out
}

// AgentFactory builds one Agent per chat session. Agents share the model,
// tools, store and thread locks; each gets a system prompt stamped with the
// time the session started.
type AgentFactory struct {
	Deps         AgentDeps
	SystemPrompt string
	Model        string
	Temperature  float64
	Now          func() time.Time // nil = time.Now

	once sync.Once
}

// New builds an agent whose prompt carries the current UTC time.
func (f *AgentFactory) New() Streamer {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	f.once.Do(func() {
		if f.Deps.Locker == nil {
			f.Deps.Locker = NewSessionLocker()
		}
	})
	deps := f.Deps
	deps.ContextBuilder = NewContextBuilder(SystemPromptAt(f.SystemPrompt, now()), f.Model, f.Temperature)
	return NewAgent(deps)
}

// SystemPromptAt appends the "System time" line for t, rendered in UTC.
func SystemPromptAt(base string, t time.Time) string {
	return base + "\n\nSystem time: " + t.UTC().Format(systemTimeLayout)
}
