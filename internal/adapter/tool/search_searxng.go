package tool

import (
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

// searxngResponse is the subset of the SearXNG JSON output we read.
type searxngResponse struct {
	Query   string `json:"query"`
	Answers []any  `json:"answers"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// SearXNGBackend searches a self-hosted SearXNG instance. It needs no API
// key; the instance must have the json output format enabled.
type SearXNGBackend struct {
	client      *http.Client
	instanceURL string
	logger      *slog.Logger
}

// NewSearXNGBackend creates a backend for the instance at instanceURL.
func NewSearXNGBackend(instanceURL string, timeout time.Duration, logger *slog.Logger) *SearXNGBackend {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SearXNGBackend{
		client:      &http.Client{Timeout: timeout},
		instanceURL: strings.TrimRight(instanceURL, "/"),
		logger:      logger,
	}
}

func (b *SearXNGBackend) Name() string { return "searxng" }

// Search ignores sr.Depth; SearXNG has no equivalent.
func (b *SearXNGBackend) Search(ctx context.Context, sr SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.instanceURL+"/search", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q := req.URL.Query()
	q.Set("q", sr.Query)
	q.Set("format", "json")
	q.Set("pageno", "1")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng: HTTP %d: %s: %w", resp.StatusCode, excerpt(body, 200), domain.ErrProviderError)
	}

	var raw searxngResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	out := &SearchResponse{
		Query:        sr.Query,
		Results:      make([]SearchResult, 0, min(len(raw.Results), max(sr.MaxResults, 0))),
		ResponseTime: time.Since(start).Seconds(),
	}
	if len(raw.Answers) > 0 {
		if s, ok := raw.Answers[0].(string); ok {
			out.Answer = s
		}
	}
	for _, r := range raw.Results {
		if sr.MaxResults > 0 && len(out.Results) >= sr.MaxResults {
			break
		}
		out.Results = append(out.Results, SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
		})
	}

	b.logger.Debug("searxng search completed", "query", sr.Query, "results", len(out.Results))
	return out, nil
}
