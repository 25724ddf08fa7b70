package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a capture does not exist.
var ErrNotFound = errors.New("capture not found")

// CaptureStatus represents the lifecycle state of a capture.
type CaptureStatus string

const (
	CaptureStatusRecording CaptureStatus = "recording"
	CaptureStatusDone      CaptureStatus = "done"
	CaptureStatusFailed    CaptureStatus = "failed"
	CaptureStatusAborted   CaptureStatus = "aborted"
)

// Terminal reports whether no more chunks will be recorded.
func (s CaptureStatus) Terminal() bool {
	return s == CaptureStatusDone || s == CaptureStatusFailed || s == CaptureStatusAborted
}

// Capture is the recording of one streamed response.
type Capture struct {
	ID          string        `json:"id"`
	Label       string        `json:"label"`
	Status      CaptureStatus `json:"status"`
	ChunkCount  int           `json:"chunk_count"`
	ByteCount   int           `json:"byte_count"`
	Error       *string       `json:"error,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Chunk is one transport chunk, stored exactly as received.
type Chunk struct {
	CaptureID string    `json:"capture_id"`
	Seq       int       `json:"seq"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// CaptureStore provides operations on the captures and capture_chunks tables.
type CaptureStore struct {
	db *sql.DB
}

// NewCaptureStore creates a new CaptureStore.
func NewCaptureStore(db *sql.DB) *CaptureStore {
	return &CaptureStore{db: db}
}

// DB returns the underlying database connection.
func (s *CaptureStore) DB() *sql.DB {
	return s.db
}

// Create inserts a new capture in the recording state.
func (s *CaptureStore) Create(ctx context.Context, label string) (*Capture, error) {
	now := time.Now().UTC()
	c := &Capture{
		ID:        uuid.New().String(),
		Label:     label,
		Status:    CaptureStatusRecording,
		CreatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO captures (id, label, status, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Label, string(c.Status), now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert capture: %w", err)
	}
	return c, nil
}

// AppendChunk records chunk seq of a capture that is still recording.
func (s *CaptureStore) AppendChunk(ctx context.Context, captureID string, seq int, data string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append chunk: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE captures SET chunk_count = chunk_count + 1, byte_count = byte_count + ?
		 WHERE id = ? AND status = ?`,
		len(data), captureID, string(CaptureStatusRecording),
	)
	if err != nil {
		return fmt.Errorf("update capture counts: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("append chunk to %s: %w", captureID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO capture_chunks (capture_id, seq, data, created_at) VALUES (?, ?, ?, ?)`,
		captureID, seq, data, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return tx.Commit()
}

// Finish moves a capture to a terminal status.
func (s *CaptureStore) Finish(ctx context.Context, captureID string, status CaptureStatus, errMsg *string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish capture: status %q is not terminal", status)
	}
	now := time.Now().UTC().Format(timeLayout)

	res, err := s.db.ExecContext(ctx,
		`UPDATE captures SET status = ?, error = COALESCE(?, error), completed_at = ? WHERE id = ?`,
		string(status), errMsg, now, captureID,
	)
	if err != nil {
		return fmt.Errorf("update capture status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish capture %s: %w", captureID, ErrNotFound)
	}
	return nil
}

// GetByID retrieves a capture by its ID.
func (s *CaptureStore) GetByID(ctx context.Context, id string) (*Capture, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, label, status, chunk_count, byte_count, error, completed_at, created_at
		 FROM captures WHERE id = ?`, id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// List returns the most recent captures, newest first.
func (s *CaptureStore) List(ctx context.Context, limit int) ([]*Capture, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, status, chunk_count, byte_count, error, completed_at, created_at
		 FROM captures ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	var captures []*Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		captures = append(captures, c)
	}
	return captures, rows.Err()
}

// Chunks returns the chunks of a capture in arrival order.
func (s *CaptureStore) Chunks(ctx context.Context, captureID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT capture_id, seq, data, created_at FROM capture_chunks
		 WHERE capture_id = ? ORDER BY seq ASC`, captureID)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var createdAt string
		if err := rows.Scan(&c.CaptureID, &c.Seq, &c.Data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			c.CreatedAt = t
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkData returns just the chunk payloads of a capture, for replay.
func (s *CaptureStore) ChunkData(ctx context.Context, captureID string) ([]string, error) {
	chunks, err := s.Chunks(ctx, captureID)
	if err != nil {
		return nil, err
	}
	data := make([]string, len(chunks))
	for i, c := range chunks {
		data[i] = c.Data
	}
	return data, nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCapture(s scanner) (*Capture, error) {
	var c Capture
	var status string
	var errMsg sql.NullString
	var completedAt *string
	var createdAt string

	err := s.Scan(&c.ID, &c.Label, &status, &c.ChunkCount, &c.ByteCount, &errMsg, &completedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan capture: %w", err)
	}

	if errMsg.Valid {
		v := errMsg.String
		c.Error = &v
	}
	c.Status = CaptureStatus(status)
	c.CompletedAt = parseTime(completedAt)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		c.CreatedAt = t
	}
	return &c, nil
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
