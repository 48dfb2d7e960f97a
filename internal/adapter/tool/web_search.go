package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"searchchat/internal/domain"
	"searchchat/internal/infra/tracer"
)

// MaxSearchResults is the hard ceiling on results returned to the model.
const MaxSearchResults = 3

const webSearchDescription = "Search the web for information about a query. You MUST always provide a non-empty `query` string."

// WebSearchTool exposes a SearchBackend to the model as "web_search".
type WebSearchTool struct {
	backend    SearchBackend
	maxResults int
	depth      string
	logger     *slog.Logger
}

// NewWebSearchTool creates the tool. maxResults is clamped to 1..MaxSearchResults.
func NewWebSearchTool(backend SearchBackend, maxResults int, depth string, logger *slog.Logger) *WebSearchTool {
	if maxResults <= 0 || maxResults > MaxSearchResults {
		maxResults = MaxSearchResults
	}
	if depth == "" {
		depth = "basic"
	}
	return &WebSearchTool{
		backend:    backend,
		maxResults: maxResults,
		depth:      depth,
		logger:     logger,
	}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return webSearchDescription }

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"minLength": 1,
					"pattern": "\\S",
					"description": "The search query. Must be a non-empty string."
				}
			},
			"required": ["query"],
			"additionalProperties": false
		}`),
	}
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p webSearchParams) (any, error) {
			query := strings.TrimSpace(p.Query)
			if query == "" {
				return nil, domain.NewDomainError("WebSearchTool.Execute", domain.ErrInvalidInput, "query must not be empty")
			}
			span.SetAttributes(
				tracer.StringAttr("tool.query", query),
				tracer.StringAttr("tool.backend", t.backend.Name()),
			)

			resp, err := t.backend.Search(ctx, SearchRequest{
				Query:      query,
				MaxResults: t.maxResults,
				Depth:      t.depth,
			})
			if err != nil {
				return nil, err
			}
			if len(resp.Results) > t.maxResults {
				resp.Results = resp.Results[:t.maxResults]
			}

			span.SetAttributes(tracer.IntAttr("tool.results", len(resp.Results)))
			t.logger.Debug("web search completed", "query", query, "results", len(resp.Results))
			return resp, nil
		},
	)
}

var _ domain.Tool = (*WebSearchTool)(nil)
