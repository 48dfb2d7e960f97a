package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"searchchat/internal/adapter/gateway"
	"searchchat/internal/infra/config"
	"searchchat/internal/infra/logger"
	"searchchat/internal/infra/middleware"
)

func runServe(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, log, shutdown, err := bootstrap(ctx, args)
	if err != nil {
		return err
	}
	defer shutdown()

	app, cleanup, err := initApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := newGateway(ctx, cfg, app, log)
	if err != nil {
		return err
	}

	log.Info("searchchat starting",
		"version", version,
		"model", cfg.Agent.Model,
		"checkpoint", cfg.Checkpoint.Backend,
		"addr", cfg.Gateway.Addr,
		"auth", cfg.Gateway.Auth.Type,
	)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("searchchat stopped", "active_sessions", app.Loop.Registry().Len())
	return nil
}

// newGateway builds the WebSocket gateway with its status, health and
// metrics routes, behind security headers and per-IP rate limiting.
func newGateway(ctx context.Context, cfg *config.Config, app *AppComponents, log *slog.Logger) (*gateway.Server, error) {
	auth, err := gateway.NewAuthenticator(cfg.Gateway.Auth)
	if err != nil {
		return nil, fmt.Errorf("gateway auth: %w", err)
	}
	srv := gateway.NewServer(app.Loop, auth, cfg.Gateway.Addr, logger.Component(log, "gateway"))

	// Counters live as long as the bus; initApp's cleanup closes it.
	metrics := &gateway.Metrics{}
	app.Bus.SubscribeAll(metrics.Observe)

	deps := gateway.StatusDeps{
		Version:        version,
		Model:          cfg.Agent.Model,
		ActiveSessions: app.Loop.Registry().Len,
		ToolNames:      toolNames(app.Tools),
		Metrics:        metrics,
		StartTime:      time.Now(),
	}
	srv.RegisterHTTPRoute("/healthz", gateway.HealthHandler())
	srv.RegisterHTTPRoute("/api/v1/status", gateway.StatusHandler(deps))
	srv.RegisterHTTPRoute("/metrics", gateway.MetricsHandler(deps))

	srv.Use(middleware.SecurityHeaders)
	srv.Use(middleware.RateLimitWithConfig(ctx, middleware.RateLimitConfig{
		RequestsPerMin: cfg.Gateway.RateLimit.RequestsPerMin,
		BurstSize:      cfg.Gateway.RateLimit.Burst,
		TrustedProxies: cfg.Gateway.RateLimit.TrustedProxies,
	}))
	return srv, nil
}
