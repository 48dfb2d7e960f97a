package main

import (
	"io"

	"searchchat/internal/adapter/tui/chat"
	"searchchat/internal/infra/logger"
)

func runChat(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, log, shutdown, err := bootstrap(ctx, args)
	if err != nil {
		return err
	}
	defer shutdown()

	// Terminal output would tear through the full-screen UI; set
	// logger.output to a file to keep logs.
	switch cfg.Logger.Output {
	case "", "stderr", "stdout":
		log = logger.NewWithWriter(cfg.Logger, io.Discard)
	}

	app, cleanup, err := initApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	return chat.Run(ctx, chat.Options{
		Chat:      app.Loop,
		ThreadID:  flagValue(args, "thread"),
		ModelName: cfg.Agent.Model,
		Bus:       app.Bus,
		Logger:    log,
	})
}
