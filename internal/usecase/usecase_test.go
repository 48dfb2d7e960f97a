package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"searchchat/internal/domain"
)

// --- Mocks ---

type mockLLM struct {
	mu        sync.Mutex
	responses []domain.ChatResponse
	callIdx   int
	requests  []domain.ChatRequest
}

func (m *mockLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, cloneRequest(req))
	if m.callIdx >= len(m.responses) {
		return &domain.ChatResponse{
			Message: domain.Message{Role: domain.RoleAssistant, Content: "fallback"},
		}, nil
	}
	idx := m.callIdx
	m.callIdx++
	return new(m.responses[idx]), nil
}

func (m *mockLLM) Name() string { return "mock" }

// streamStep is one scripted model step: either an immediate error or a
// sequence of deltas.
type streamStep struct {
	deltas []domain.StreamDelta
	err    error
}

type mockStreamLLM struct {
	mu       sync.Mutex
	steps    []streamStep
	callIdx  int
	requests []domain.ChatRequest
}

func (m *mockStreamLLM) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, errors.New("mockStreamLLM: Chat not scripted")
}

func (m *mockStreamLLM) Name() string { return "mock-stream" }

func (m *mockStreamLLM) ChatStream(_ context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, cloneRequest(req))
	if m.callIdx >= len(m.steps) {
		return nil, fmt.Errorf("mockStreamLLM: no step %d", m.callIdx)
	}
	step := m.steps[m.callIdx]
	m.callIdx++
	if step.err != nil {
		return nil, step.err
	}
	ch := make(chan domain.StreamDelta, len(step.deltas))
	for _, d := range step.deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

func (m *mockStreamLLM) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.requests)
}

func cloneRequest(req domain.ChatRequest) domain.ChatRequest {
	req.Messages = slices.Clone(req.Messages)
	return req
}

func textStep(parts ...string) streamStep {
	var deltas []domain.StreamDelta
	for _, p := range parts {
		deltas = append(deltas, domain.StreamDelta{Content: p})
	}
	deltas = append(deltas, domain.StreamDelta{Done: true, Usage: &domain.Usage{TotalTokens: 42}})
	return streamStep{deltas: deltas}
}

// searchStep streams a web_search call split across fragments.
func searchStep(callID, query string) streamStep {
	args := fmt.Sprintf(`{"query":%q}`, query)
	half := len(args) / 2
	return streamStep{deltas: []domain.StreamDelta{
		{ToolCalls: []domain.ToolCall{{Index: 0, ID: callID, Name: "web_search"}}},
		{ToolCalls: []domain.ToolCall{{Index: 0, Arguments: json.RawMessage(args[:half])}}},
		{ToolCalls: []domain.ToolCall{{Index: 0, Arguments: json.RawMessage(args[half:])}}},
		{Done: true},
	}}
}

type mockToolExecutor struct {
	tools map[string]domain.Tool
}

func newMockTools(tools ...domain.Tool) *mockToolExecutor {
	m := &mockToolExecutor{tools: make(map[string]domain.Tool)}
	for _, t := range tools {
		m.tools[t.Name()] = t
	}
	return m
}

func (m *mockToolExecutor) Get(name string) (domain.Tool, error) {
	t, ok := m.tools[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrToolNotFound)
	}
	return t, nil
}

func (m *mockToolExecutor) Schemas() []domain.ToolSchema {
	var out []domain.ToolSchema
	for _, t := range m.tools {
		out = append(out, t.Schema())
	}
	return out
}

type staticTool struct {
	name   string
	result string
	err    error

	mu    sync.Mutex
	calls []json.RawMessage
}

func (t *staticTool) Name() string        { return t.name }
func (t *staticTool) Description() string { return "static test tool" }
func (t *staticTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (t *staticTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	t.mu.Lock()
	t.calls = append(t.calls, params)
	t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	return &domain.ToolResult{Content: t.result}, nil
}

func (t *staticTool) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// recordingSink captures every Send and Update in order.
type recordingSink struct {
	mu      sync.Mutex
	ops     []sinkOp
	sendErr error
}

type sinkOp struct {
	kind string // "send" or "update"
	msg  domain.OutboundMessage
}

func (s *recordingSink) Send(_ context.Context, msg domain.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.ops = append(s.ops, sinkOp{"send", msg})
	return nil
}

func (s *recordingSink) Update(_ context.Context, msg domain.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, sinkOp{"update", msg})
	return nil
}

func (s *recordingSink) Ops() []sinkOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ops)
}

func (s *recordingSink) Sent() []domain.OutboundMessage {
	var out []domain.OutboundMessage
	for _, op := range s.Ops() {
		if op.kind == "send" {
			out = append(out, op.msg)
		}
	}
	return out
}

func (s *recordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

// scriptedStreamer replays events and then returns err.
type scriptedStreamer struct {
	mu     sync.Mutex
	events []domain.StreamEvent
	err    error
	calls  []string
	block  bool // wait for ctx cancellation before returning
}

func (s *scriptedStreamer) Stream(ctx context.Context, threadID, userText string, emit domain.StreamEventFunc) error {
	s.mu.Lock()
	s.calls = append(s.calls, threadID+":"+userText)
	events, err, block := s.events, s.err, s.block
	s.mu.Unlock()

	for _, ev := range events {
		if e := emit(ev); e != nil {
			return e
		}
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *scriptedStreamer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

type staticBuilder struct{ s Streamer }

func (b staticBuilder) New() Streamer { return b.s }

// recordingPreprocessor wraps another preprocessor and keeps its outputs.
type recordingPreprocessor struct {
	inner   domain.TurnPreprocessor
	mu      sync.Mutex
	updates []domain.StateUpdate
}

func (r *recordingPreprocessor) Preprocess(ctx context.Context, state []domain.Message) (domain.StateUpdate, error) {
	u, err := r.inner.Preprocess(ctx, state)
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	return u, err
}

func (r *recordingPreprocessor) Updates() []domain.StateUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.updates)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// collectEvents returns an emit func that appends to *out.
func collectEvents(out *[]domain.StreamEvent) domain.StreamEventFunc {
	return func(ev domain.StreamEvent) error {
		*out = append(*out, ev)
		return nil
	}
}
