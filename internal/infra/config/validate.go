package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateSearch(cfg, ve)
	validateCheckpoint(cfg, ve)
	validateGateway(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.Model == "" {
		ve.Add("agent.model must not be empty")
	}
	if cfg.Agent.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		ve.Add("agent.temperature must be between 0 and 2, got %g", cfg.Agent.Temperature)
	}
	if cfg.Agent.TurnTimeout < 0 {
		ve.Add("agent.turn_timeout must be >= 0")
	}
	if strings.TrimSpace(cfg.Agent.SystemPrompt) == "" {
		ve.Add("agent.system_prompt must not be empty")
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	validateURL(ve, "llm.base_url", cfg.LLM.BaseURL)
	if cfg.LLM.CircuitBreaker.Enabled {
		if cfg.LLM.CircuitBreaker.MaxFailures == 0 {
			ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if cfg.LLM.CircuitBreaker.Timeout <= 0 {
			ve.Add("llm.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
}

var validSearchDepths = map[string]bool{
	"basic":    true,
	"advanced": true,
}

func validateSearch(cfg *Config, ve *ValidationError) {
	switch cfg.Search.Backend {
	case "tavily":
	case "searxng":
		if cfg.Search.BaseURL == "" {
			ve.Add("search.base_url is required for the searxng backend")
		}
	default:
		ve.Add("search.backend %q is not supported (valid: tavily, searxng)", cfg.Search.Backend)
	}
	if cfg.Search.BaseURL != "" {
		validateURL(ve, "search.base_url", cfg.Search.BaseURL)
	}
	if cfg.Search.MaxResults <= 0 {
		ve.Add("search.max_results must be > 0")
	}
	if !validSearchDepths[cfg.Search.SearchDepth] {
		ve.Add("search.search_depth %q is invalid (valid: basic, advanced)", cfg.Search.SearchDepth)
	}
	if cfg.Search.Timeout <= 0 {
		ve.Add("search.timeout must be > 0")
	}
}

func validateCheckpoint(cfg *Config, ve *ValidationError) {
	switch cfg.Checkpoint.Backend {
	case "memory":
	case "sqlite":
		if cfg.Checkpoint.Path == "" {
			ve.Add("checkpoint.path is required for the sqlite backend")
		}
	default:
		ve.Add("checkpoint.backend %q is invalid (valid: memory, sqlite)", cfg.Checkpoint.Backend)
	}
	if cfg.Checkpoint.PruneSchedule == "" {
		return
	}
	if cfg.Checkpoint.RetentionTTL <= 0 {
		ve.Add("checkpoint.retention_ttl must be > 0 when prune_schedule is set")
	}
	if _, err := cron.ParseStandard(cfg.Checkpoint.PruneSchedule); err != nil {
		ve.Add("checkpoint.prune_schedule %q: %v", cfg.Checkpoint.PruneSchedule, err)
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}

	switch cfg.Gateway.Auth.Type {
	case "":
	case "static":
		if len(cfg.Gateway.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens must not be empty for static auth")
		}
		for i, t := range cfg.Gateway.Auth.Tokens {
			if t.Token == "" {
				ve.Add("gateway.auth.tokens[%d].token is required", i)
			}
		}
	default:
		ve.Add("gateway.auth.type %q is invalid (valid: static)", cfg.Gateway.Auth.Type)
	}

	if cfg.Gateway.RateLimit.RequestsPerMin < 0 {
		ve.Add("gateway.rate_limit.requests_per_min must be >= 0")
	}
	if cfg.Gateway.RateLimit.RequestsPerMin > 0 && cfg.Gateway.RateLimit.Burst <= 0 {
		ve.Add("gateway.rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	for i, p := range cfg.Gateway.RateLimit.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			ve.Add("gateway.rate_limit.trusted_proxies[%d] %q is not an IP or CIDR", i, p)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (valid: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop":
	default:
		ve.Add("tracer.exporter %q is invalid (valid: stdout, noop)", cfg.Tracer.Exporter)
	}
}

func validateURL(ve *ValidationError, field, raw string) {
	if raw == "" {
		ve.Add("%s must not be empty", field)
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		ve.Add("%s %q is not a valid http(s) URL", field, raw)
	}
}
