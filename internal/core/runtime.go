package core

import (
	"context"
	"log"
)

// RunContext carries the per-invocation state every component needs.
// Nothing in this module keeps a package-level logger or settings.
type RunContext struct {
	RunID    string
	WorkItem WorkItem
	Logger   *log.Logger
}

type Uploader interface {
	Upload(ctx context.Context, path string, key string) (string, error)
}

type EventSender interface {
	Send(ctx context.Context, event CompletionEvent) error
}
