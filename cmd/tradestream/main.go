package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/tradestream/internal/api"
	"github.com/mattjoyce/tradestream/internal/config"
	"github.com/mattjoyce/tradestream/internal/provider"
	"github.com/mattjoyce/tradestream/internal/relay"
	"github.com/mattjoyce/tradestream/internal/storage"
	"github.com/mattjoyce/tradestream/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "chat":
		err = runChat(os.Args[2:])
	case "replay":
		err = runReplay(os.Args[2:], os.Stdout)
	case "version":
		fmt.Printf("tradestream %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: tradestream <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve     Start the development chat backend")
	fmt.Fprintln(os.Stderr, "  chat      Chat with the backend in a TUI")
	fmt.Fprintln(os.Stderr, "  replay    Decode a recorded response and print the result")
	fmt.Fprintln(os.Stderr, "  version   Print version")
}

// newLogger builds the JSON logger for level, one of the validated
// service.log_level values.
func newLogger(w io.Writer, level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(os.Stdout, cfg.Service.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting tradestream backend", "version", version, "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var streamer api.Streamer
	if cfg.LLM.Provider != "" {
		chatModel, err := provider.NewChatModel(ctx, cfg.LLM)
		if err != nil {
			return fmt.Errorf("create llm provider: %w", err)
		}
		r, err := relay.New(ctx, chatModel, logger)
		if err != nil {
			return fmt.Errorf("create relay: %w", err)
		}
		streamer = r
		logger.Info("relaying model", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	} else {
		logger.Info("no llm.provider configured; serving captures only")
	}

	srv := api.New(api.Config{
		Listen: cfg.Server.Listen,
		Token:  cfg.Server.Token,
	}, store.NewCaptureStore(db), streamer, logger)

	err = srv.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("tradestream backend stopped")
	return nil
}
