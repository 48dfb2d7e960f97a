package tool

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// mockSearchBackend implements SearchBackend for testing.
type mockSearchBackend struct {
	mu      sync.Mutex
	results []SearchResult
	err     error
	calls   []SearchRequest
}

func (m *mockSearchBackend) Search(_ context.Context, req SearchRequest) (*SearchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	return &SearchResponse{Query: req.Query, Results: append([]SearchResult(nil), m.results...)}, nil
}

func (m *mockSearchBackend) Name() string { return "mock" }

func (m *mockSearchBackend) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newMockBackend(n int) *mockSearchBackend {
	b := &mockSearchBackend{}
	for i := range n {
		b.results = append(b.results, SearchResult{
			Title:   "result",
			URL:     "https://example.com/" + string(rune('a'+i)),
			Content: "content",
		})
	}
	return b
}
