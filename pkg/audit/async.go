package audit

import (
	"context"
	"fmt"

	"github.com/platinummonkey/hrm/pkg/async"
)

// Submitter queues background work
type Submitter interface {
	Submit(task async.Task) error
}

// AsyncLogger hands events to a worker pool so the insert happens after the
// response. A full queue drops the event and reports it to the caller.
type AsyncLogger struct {
	next Logger
	pool Submitter
}

// NewAsyncLogger wraps next with a pool
func NewAsyncLogger(next Logger, pool Submitter) *AsyncLogger {
	return &AsyncLogger{next: next, pool: pool}
}

// Log implements Logger
func (l *AsyncLogger) Log(ctx context.Context, event *Event) error {
	queued := *event
	if err := l.pool.Submit(func(taskCtx context.Context) error {
		return l.next.Log(taskCtx, &queued)
	}); err != nil {
		return fmt.Errorf("audit event dropped: %w", err)
	}
	return nil
}
