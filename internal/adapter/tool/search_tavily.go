package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"searchchat/internal/domain"
)

const (
	defaultTavilyURL  = "https://api.tavily.com"
	maxSearchBodySize = 512 * 1024
)

// TavilyBackend searches the web through the Tavily search API.
type TavilyBackend struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewTavilyBackend creates a Tavily backend. An empty baseURL uses the
// public endpoint.
func NewTavilyBackend(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *TavilyBackend {
	if baseURL == "" {
		baseURL = defaultTavilyURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TavilyBackend{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

func (b *TavilyBackend) Name() string { return "tavily" }

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth,omitempty"`
}

func (b *TavilyBackend) Search(ctx context.Context, sr SearchRequest) (*SearchResponse, error) {
	payload, err := json.Marshal(tavilyRequest{
		Query:       sr.Query,
		MaxResults:  sr.MaxResults,
		SearchDepth: sr.Depth,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily: HTTP %d: %s: %w", resp.StatusCode, excerpt(body, 200), domain.ErrProviderError)
	}

	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if sr.MaxResults > 0 && len(out.Results) > sr.MaxResults {
		out.Results = out.Results[:sr.MaxResults]
	}
	if out.Results == nil {
		out.Results = []SearchResult{}
	}

	b.logger.Debug("tavily search completed", "query", sr.Query, "results", len(out.Results))
	return &out, nil
}

func excerpt(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
