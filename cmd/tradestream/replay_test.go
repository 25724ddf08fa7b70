package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/mattjoyce/tradestream/internal/storage"
	"github.com/mattjoyce/tradestream/internal/store"
	"github.com/mattjoyce/tradestream/internal/view"
)

const recordedBody = "3:\"User asked about Tesla.\"\n" +
	"0:\"TSLA is trading at \"\n" +
	"0:\"$250.\"\n" +
	"e:{\"message\":\"quote delayed\"}\n" +
	"9:{\"toolCallId\":\"t1\",\"toolName\":\"show_panel\",\"args\":{\"panel\":\"chart\"}}\n" +
	"a:{\"toolCallId\":\"t1\",\"toolName\":\"show_panel\",\"result\":{\"action\":\"show_panel\",\"panel\":\"chart\",\"symbol\":\"tsla\"}}\n" +
	"d:{\"finishReason\":\"stop\"}\n"

func decodeReplay(t *testing.T, out *bytes.Buffer) replayResult {
	t.Helper()
	var result replayResult
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	return result
}

func TestRunReplayRawFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "body.txt")
	if err := os.WriteFile(path, []byte(recordedBody), 0o644); err != nil {
		t.Fatalf("write body: %v", err)
	}

	for _, size := range []int{0, 1, 7} {
		var out bytes.Buffer
		if err := runReplay([]string{"--raw", path, "--chunk-size", strconv.Itoa(size)}, &out); err != nil {
			t.Fatalf("chunk-size %d: runReplay() error = %v", size, err)
		}
		result := decodeReplay(t, &out)

		if result.Status != "done" {
			t.Fatalf("chunk-size %d: status = %q, want done", size, result.Status)
		}
		if result.Message.Content != "TSLA is trading at $250." {
			t.Fatalf("chunk-size %d: content = %q", size, result.Message.Content)
		}
		if result.Message.Thinking != "User asked about Tesla." {
			t.Fatalf("chunk-size %d: thinking = %q", size, result.Message.Thinking)
		}
		if len(result.Errors) != 1 || result.Errors[0] != "stream error: quote delayed" {
			t.Fatalf("chunk-size %d: errors = %v", size, result.Errors)
		}
		want := view.State{ActivePanel: view.PanelChart, ActiveSymbol: "TSLA"}
		if result.View != want {
			t.Fatalf("chunk-size %d: view = %+v, want %+v", size, result.View, want)
		}
	}
}

func TestRunReplayCapture(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "captures.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("database:\n  path: "+dbPath+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	captures := store.NewCaptureStore(db)
	capture, err := captures.Create(ctx, "tesla")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for i, chunk := range []string{recordedBody[:20], recordedBody[20:]} {
		if err := captures.AppendChunk(ctx, capture.ID, i, chunk); err != nil {
			t.Fatalf("AppendChunk() error = %v", err)
		}
	}
	if err := captures.Finish(ctx, capture.ID, store.CaptureStatusDone, nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	db.Close()

	var out bytes.Buffer
	if err := runReplay([]string{"--config", cfgPath, capture.ID}, &out); err != nil {
		t.Fatalf("runReplay() error = %v", err)
	}
	result := decodeReplay(t, &out)
	if result.Source != "capture:"+capture.ID {
		t.Fatalf("source = %q", result.Source)
	}
	if result.Message.Content != "TSLA is trading at $250." {
		t.Fatalf("content = %q", result.Message.Content)
	}
}

func TestRunReplayRequiresInput(t *testing.T) {
	var out bytes.Buffer
	if err := runReplay(nil, &out); err == nil {
		t.Fatal("runReplay() error = nil, want usage error")
	}
}

func TestSplitChunks(t *testing.T) {
	got := splitChunks("abcdefg", 3)
	if strings.Join(got, "|") != "abc|def|g" {
		t.Fatalf("splitChunks = %q", got)
	}
	if got := splitChunks("abc", 0); len(got) != 1 {
		t.Fatalf("splitChunks = %q, want one chunk", got)
	}
}
