package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mattjoyce/tradestream/internal/storage"
)

func openTestStore(t *testing.T) *CaptureStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tradestream.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewCaptureStore(db)
}

func TestCaptureStoreRecordAndReadBack(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	c, err := store.Create(ctx, "what is AAPL doing?")
	if err != nil {
		t.Fatalf("create capture: %v", err)
	}
	if c.Status != CaptureStatusRecording {
		t.Fatalf("status = %s, want %s", c.Status, CaptureStatusRecording)
	}

	chunks := []string{"0:\"Hel", "lo\"\n", "d:{}\n"}
	for i, data := range chunks {
		if err := store.AppendChunk(ctx, c.ID, i, data); err != nil {
			t.Fatalf("append chunk %d: %v", i, err)
		}
	}
	if err := store.Finish(ctx, c.ID, CaptureStatusDone, nil); err != nil {
		t.Fatalf("finish capture: %v", err)
	}

	got, err := store.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	if got.Status != CaptureStatusDone {
		t.Fatalf("status = %s, want %s", got.Status, CaptureStatusDone)
	}
	if got.ChunkCount != 3 {
		t.Fatalf("chunk_count = %d, want 3", got.ChunkCount)
	}
	if got.ByteCount != len("0:\"Hel")+len("lo\"\n")+len("d:{}\n") {
		t.Fatalf("byte_count = %d", got.ByteCount)
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}
	if got.Label != "what is AAPL doing?" {
		t.Fatalf("label = %q", got.Label)
	}

	data, err := store.ChunkData(ctx, c.ID)
	if err != nil {
		t.Fatalf("chunk data: %v", err)
	}
	if len(data) != len(chunks) {
		t.Fatalf("chunks = %d, want %d", len(data), len(chunks))
	}
	for i := range chunks {
		if data[i] != chunks[i] {
			t.Fatalf("chunk %d = %q, want %q", i, data[i], chunks[i])
		}
	}
}

func TestCaptureStoreAppendAfterFinish(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	c, err := store.Create(ctx, "late")
	if err != nil {
		t.Fatalf("create capture: %v", err)
	}
	errMsg := "connection reset"
	if err := store.Finish(ctx, c.ID, CaptureStatusFailed, &errMsg); err != nil {
		t.Fatalf("finish capture: %v", err)
	}
	if err := store.AppendChunk(ctx, c.ID, 0, "0:\"x\"\n"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("append after finish error = %v, want ErrNotFound", err)
	}

	got, err := store.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	if got.Error == nil || *got.Error != errMsg {
		t.Fatalf("error = %v, want %q", got.Error, errMsg)
	}
}

func TestCaptureStoreFinishRejectsRecording(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	c, err := store.Create(ctx, "x")
	if err != nil {
		t.Fatalf("create capture: %v", err)
	}
	if err := store.Finish(ctx, c.ID, CaptureStatusRecording, nil); err == nil {
		t.Fatalf("expected error for non-terminal status")
	}
}

func TestCaptureStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing error = %v, want ErrNotFound", err)
	}
	if err := store.Finish(ctx, "missing", CaptureStatusDone, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("finish missing error = %v, want ErrNotFound", err)
	}
}

func TestCaptureStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		c, err := store.Create(ctx, fmt.Sprintf("turn %d", i))
		if err != nil {
			t.Fatalf("create capture %d: %v", i, err)
		}
		ids = append(ids, c.ID)
	}

	list, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("list captures: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].ID != ids[2] || list[1].ID != ids[1] {
		t.Fatalf("list order = [%s %s], want [%s %s]", list[0].ID, list[1].ID, ids[2], ids[1])
	}
}

func TestCaptureStoreAppendConcurrent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	c, err := store.Create(ctx, "concurrent")
	if err != nil {
		t.Fatalf("create capture: %v", err)
	}

	const workers = 20
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			errs <- store.AppendChunk(ctx, c.ID, seq, "0:\"x\"\n")
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("append chunk: %v", err)
		}
	}

	got, err := store.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	if got.ChunkCount != workers {
		t.Fatalf("chunk_count = %d, want %d", got.ChunkCount, workers)
	}
	chunks, err := store.Chunks(ctx, c.ID)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	for i, ch := range chunks {
		if ch.Seq != i {
			t.Fatalf("chunk %d has seq %d", i, ch.Seq)
		}
	}
}
