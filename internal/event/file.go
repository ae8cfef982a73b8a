package event

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"scriptrunner/internal/core"
)

var (
	_ core.EventSender = (*FileSink)(nil)
	_ core.EventSender = (*HTTPClient)(nil)
)

// fileRecord is one line of a FileSink file. TS is when the event was
// written, not when the child exited.
type fileRecord struct {
	TS    string               `json:"ts"`
	Event core.CompletionEvent `json:"event"`
}

// FileSink delivers events by appending them, one JSON object per line, to a
// file that the orchestrator side tails. It is used when the executor and
// the orchestrator share a filesystem but not a network endpoint.
//
// Each line is written with a single write call and synced before Send
// returns, so a reader never observes half an event.
type FileSink struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	clock clock.Clock
}

// NewFileSink opens path for appending, creating it and its parent
// directories if needed. Existing lines are kept.
func NewFileSink(path string, clk clock.Clock) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create event directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	return &FileSink{path: path, file: file, clock: clk}, nil
}

// Send appends event. A cancelled ctx is reported without writing.
func (s *FileSink) Send(ctx context.Context, event core.CompletionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(fileRecord{
		TS:    s.clock.Now().UTC().Format(time.RFC3339),
		Event: event,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.EventType(), err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", s.path, err)
	}
	return nil
}

func (s *FileSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}
