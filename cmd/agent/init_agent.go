package main

import (
	"context"
	"fmt"
	"log/slog"

	"searchchat/internal/adapter/checkpoint"
	"searchchat/internal/adapter/tool"
	"searchchat/internal/domain"
	"searchchat/internal/infra/config"
	"searchchat/internal/usecase"
	"searchchat/internal/usecase/eventbus"
)

// AppComponents holds everything shared by the serve and chat commands.
type AppComponents struct {
	Bus       *eventbus.Bus
	Store     domain.Checkpointer
	Tools     *tool.Registry
	Loop      *usecase.SessionLoop
	Retention *usecase.RetentionJob // nil when pruning is disabled
}

// initApp wires the store, tools, agent factory and session loop. The
// returned cleanup stops background work and closes the store.
func initApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*AppComponents, func(), error) {
	// 1. Event bus
	bus := eventbus.New(log)
	unlog := eventbus.LogEvents(bus, log)

	// 2. Checkpoint store
	store, storeCloser, err := initCheckpoint(cfg.Checkpoint)
	if err != nil {
		unlog()
		bus.Close()
		return nil, nil, fmt.Errorf("checkpoint: %w", err)
	}

	// 3. Tools
	tools, err := initTools(cfg.Search, log)
	if err != nil {
		unlog()
		bus.Close()
		storeCloser()
		return nil, nil, fmt.Errorf("tools: %w", err)
	}

	// 4. Agent factory and session loop
	factory := &usecase.AgentFactory{
		Deps: usecase.AgentDeps{
			LLM:           initLLM(cfg, log),
			Tools:         tools,
			Checkpointer:  store,
			Preprocessor:  usecase.NewToolResultTrimmer(),
			Logger:        log,
			MaxIterations: cfg.Agent.MaxIterations,
			Bus:           bus,
		},
		SystemPrompt: cfg.Agent.SystemPrompt,
		Model:        cfg.Agent.Model,
		Temperature:  cfg.Agent.Temperature,
	}
	registry := usecase.NewSessionRegistry()
	loop := usecase.NewSessionLoop(usecase.SessionLoopDeps{
		Registry:    registry,
		Agents:      factory,
		Logger:      log,
		Bus:         bus,
		Classifier:  usecase.NewErrorClassifier(),
		TurnTimeout: cfg.Agent.TurnTimeout,
	})

	// 5. Retention
	var retention *usecase.RetentionJob
	if cfg.Checkpoint.PruneSchedule != "" && cfg.Checkpoint.RetentionTTL > 0 {
		retention, err = usecase.NewRetentionJob(store, registry, cfg.Checkpoint.RetentionTTL,
			cfg.Checkpoint.PruneSchedule, log, bus)
		if err != nil {
			unlog()
			bus.Close()
			storeCloser()
			return nil, nil, fmt.Errorf("retention: %w", err)
		}
		retention.Start(ctx)
	}

	app := &AppComponents{
		Bus:       bus,
		Store:     store,
		Tools:     tools,
		Loop:      loop,
		Retention: retention,
	}
	cleanup := func() {
		if retention != nil {
			retention.Stop()
		}
		unlog()
		bus.Close()
		storeCloser()
	}
	return app, cleanup, nil
}

// initCheckpoint opens the configured conversation store.
func initCheckpoint(cfg config.CheckpointConfig) (domain.Checkpointer, func(), error) {
	switch cfg.Backend {
	case "", "memory":
		return checkpoint.NewMemoryStore(), func() {}, nil
	case "sqlite":
		store, err := checkpoint.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// initTools registers the web search tool on its configured backend.
func initTools(cfg config.SearchConfig, log *slog.Logger) (*tool.Registry, error) {
	var backend tool.SearchBackend
	switch cfg.Backend {
	case "", "tavily":
		backend = tool.NewTavilyBackend(cfg.BaseURL, cfg.APIKey, cfg.Timeout, log)
	case "searxng":
		backend = tool.NewSearXNGBackend(cfg.BaseURL, cfg.Timeout, log)
	default:
		return nil, fmt.Errorf("unknown search backend %q", cfg.Backend)
	}

	registry := tool.NewRegistry()
	if err := registry.Register(tool.NewWebSearchTool(backend, cfg.MaxResults, cfg.SearchDepth, log)); err != nil {
		return nil, err
	}
	return registry, nil
}

// toolNames lists registered tools for the status endpoint.
func toolNames(r *tool.Registry) func() []string {
	return func() []string {
		schemas := r.Schemas()
		names := make([]string, len(schemas))
		for i, s := range schemas {
			names[i] = s.Name
		}
		return names
	}
}
