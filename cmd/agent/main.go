package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"searchchat/internal/infra/config"
	"searchchat/internal/infra/logger"
	"searchchat/internal/infra/tracer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "--help", "-h", "help":
		showUsage()
		return
	case "version":
		fmt.Println("searchchat", version)
		return
	case "serve":
		err = runServe(args)
	case "chat":
		err = runChat(args)
	case "encrypt":
		err = runEncrypt(args, os.Stdin, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'searchchat --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`searchchat - conversational assistant with web search

USAGE:
    searchchat [COMMAND] [FLAGS]

COMMANDS:
    serve       Serve the web chat and WebSocket gateway (default)
    chat        Chat in the terminal
    encrypt     Print an "enc:" value for a secret (reads SEARCHCHAT_CONFIG_KEY)
    version     Print the version

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --thread ID        chat: resume a conversation thread

CONFIGURATION:
    Config file: ./config.yaml, then ./.env, then the environment.
    GROQ_API_KEY and TAVILY_API_KEY are required to chat.
    SEARCHCHAT_* variables override individual settings.

EXAMPLES:
    searchchat                          # serve on 127.0.0.1:8787
    searchchat chat                     # terminal chat
    searchchat chat --thread demo       # resume thread "demo"
    SEARCHCHAT_CONFIG_KEY=... searchchat encrypt sk-...`)
}

// flagValue returns the value of --name or --name=value in args.
func flagValue(args []string, name string) string {
	long := "--" + name
	for i, arg := range args {
		if arg == long && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, long+"="); ok {
			return v
		}
	}
	return ""
}

func configPath(args []string) string {
	if p := flagValue(args, "config"); p != "" {
		return p
	}
	if p := os.Getenv("SEARCHCHAT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// bootstrap loads config and sets up logging and tracing. The caller must
// invoke shutdown before exiting.
func bootstrap(ctx context.Context, args []string) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(configPath(args))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	if err := config.CheckCredentials(cfg); err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logger: %w", err)
	}

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		_ = logCloser()
		return nil, nil, nil, fmt.Errorf("tracer: %w", err)
	}

	shutdown := func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
		_ = logCloser()
	}
	return cfg, log, shutdown, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
