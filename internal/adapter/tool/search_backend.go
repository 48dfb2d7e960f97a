package tool

import "context"

// SearchBackend abstracts a web search engine.
type SearchBackend interface {
	// Search runs one query and returns at most req.MaxResults results.
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	// Name returns the backend identifier (e.g. "tavily").
	Name() string
}

// SearchRequest is a single backend query.
type SearchRequest struct {
	Query      string
	MaxResults int
	Depth      string // "basic" or "advanced"
}

// SearchResponse is what the model receives, serialized as JSON.
type SearchResponse struct {
	Query        string         `json:"query"`
	Answer       string         `json:"answer,omitempty"`
	Results      []SearchResult `json:"results"`
	ResponseTime float64        `json:"response_time,omitempty"`
}

// SearchResult represents a single search hit.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}
