package main

import (
	"log/slog"

	"searchchat/internal/adapter/llm"
	"searchchat/internal/domain"
	"searchchat/internal/infra/config"
)

// initLLM creates the chat model provider, behind a circuit breaker when
// one is configured.
func initLLM(cfg *config.Config, log *slog.Logger) domain.LLMProvider {
	var provider domain.LLMProvider = llm.NewOpenAIProvider(cfg.LLM, log)
	if cfg.LLM.CircuitBreaker.Enabled {
		provider = llm.NewCircuitBreakerProvider(provider, cfg.LLM.CircuitBreaker, log)
	}
	log.Debug("llm provider ready",
		"provider", provider.Name(),
		"model", cfg.Agent.Model,
		"circuit_breaker", cfg.LLM.CircuitBreaker.Enabled,
	)
	return provider
}
