package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mattjoyce/tradestream/internal/chat"
	"github.com/mattjoyce/tradestream/internal/config"
	"github.com/mattjoyce/tradestream/internal/storage"
	"github.com/mattjoyce/tradestream/internal/store"
	"github.com/mattjoyce/tradestream/internal/stream"
	"github.com/mattjoyce/tradestream/internal/view"
)

// replayResult is printed by the replay command.
type replayResult struct {
	Source   string         `json:"source"`
	Status   string         `json:"status"`
	Message  stream.Message `json:"message"`
	View     view.State     `json:"view"`
	Views    []view.State   `json:"views,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
	Failure  string         `json:"failure,omitempty"`
	Fallback string         `json:"fallback,omitempty"`
}

func runReplay(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to config file (capture mode)")
	rawPath := fs.String("raw", "", "decode a raw response body from this file instead of a capture")
	chunkSize := fs.Int("chunk-size", 0, "split the raw body into chunks of this many bytes (0 = one chunk)")
	logLevel := fs.String("log-level", "warn", "log level for decoder diagnostics on stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger(os.Stderr, *logLevel)
	ctx := context.Background()

	var (
		chunks []string
		source string
	)
	switch {
	case *rawPath != "":
		data, err := os.ReadFile(*rawPath)
		if err != nil {
			return fmt.Errorf("read raw body: %w", err)
		}
		chunks = splitChunks(string(data), *chunkSize)
		source = *rawPath
	case fs.NArg() == 1:
		captureID := fs.Arg(0)
		cfg, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := storage.OpenSQLite(ctx, cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		captures := store.NewCaptureStore(db)
		if _, err := captures.GetByID(ctx, captureID); err != nil {
			return fmt.Errorf("get capture %s: %w", captureID, err)
		}
		chunks, err = captures.ChunkData(ctx, captureID)
		if err != nil {
			return fmt.Errorf("get capture chunks: %w", err)
		}
		source = "capture:" + captureID
	default:
		return errors.New("usage: tradestream replay [--config path] <capture_id> | --raw <file> [--chunk-size n]")
	}

	viewStore := view.NewStore()
	session := chat.NewSession(chat.NewSliceSource(chunks), view.NewDispatcher(viewStore, logger), logger)

	result := replayResult{Source: source, Status: "done"}
	msg, err := session.Run(ctx, func(e chat.Event) {
		switch e.Kind {
		case chat.EventView:
			result.Views = append(result.Views, e.View)
		case chat.EventError:
			result.Errors = append(result.Errors, e.Err.Error())
		case chat.EventFailed:
			if e.Fallback != nil {
				result.Fallback = e.Fallback.Content
			}
		}
	})
	if err != nil {
		result.Status = "failed"
		result.Failure = err.Error()
	}
	result.Message = msg
	result.View = viewStore.Snapshot()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// splitChunks cuts body into size-byte pieces, ignoring rune boundaries the
// way a network read would.
func splitChunks(body string, size int) []string {
	if size <= 0 || len(body) <= size {
		return []string{body}
	}
	chunks := make([]string, 0, len(body)/size+1)
	for len(body) > size {
		chunks = append(chunks, body[:size])
		body = body[size:]
	}
	if body != "" {
		chunks = append(chunks, body)
	}
	return chunks
}
