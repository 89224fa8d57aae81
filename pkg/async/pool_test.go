package async

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/platinummonkey/hrm/pkg/observability"
)

// syncBuffer guards log output written from worker goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestPool(t *testing.T, workers, capacity int, opts ...Option) (*Pool, *prometheus.CounterVec, *syncBuffer) {
	t.Helper()
	logs := &syncBuffer{}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_async_tasks_total"}, []string{"pool", "result"})
	opts = append([]Option{WithTaskCounter(counter)}, opts...)
	pool := NewPool("test", workers, capacity, observability.NewLogger(observability.DebugLevel, logs), opts...)
	return pool, counter, logs
}

func TestPool_RunsEveryTask(t *testing.T) {
	pool, counter, _ := newTestPool(t, 3, 50)

	var executed atomic.Int32
	for i := 0; i < 20; i++ {
		if err := pool.Submit(func(ctx context.Context) error {
			executed.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := executed.Load(); got != 20 {
		t.Errorf("executed = %d, want 20", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("test", "ok")); got != 20 {
		t.Errorf("ok counter = %v, want 20", got)
	}
}

func TestPool_ErrorsAndPanicsAreContained(t *testing.T) {
	pool, counter, logs := newTestPool(t, 1, 10)

	_ = pool.Submit(func(ctx context.Context) error { return errors.New("insert failed") })
	_ = pool.Submit(func(ctx context.Context) error { panic("boom") })
	var after atomic.Bool
	_ = pool.Submit(func(ctx context.Context) error {
		after.Store(true)
		return nil
	})

	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !after.Load() {
		t.Error("worker stopped after a panicking task")
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("test", "error")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("test", "panic")); got != 1 {
		t.Errorf("panic counter = %v, want 1", got)
	}
	if !strings.Contains(logs.String(), "insert failed") || !strings.Contains(logs.String(), "Background task panicked") {
		t.Errorf("logs missing task failures: %s", logs.String())
	}
}

func TestPool_RejectsWhenFull(t *testing.T) {
	pool, counter, _ := newTestPool(t, 1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	_ = pool.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if err := pool.Submit(func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("queued Submit() error = %v", err)
	}
	if err := pool.Submit(func(ctx context.Context) error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit() error = %v, want ErrQueueFull", err)
	}
	if queued, capacity := pool.Backlog(); queued != 1 || capacity != 1 {
		t.Errorf("Backlog() = %d/%d, want 1/1", queued, capacity)
	}

	close(release)
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := pool.Submit(func(ctx context.Context) error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit() after shutdown error = %v, want ErrPoolClosed", err)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("test", "rejected")); got != 2 {
		t.Errorf("rejected counter = %v, want 2", got)
	}
}

func TestPool_TaskTimeout(t *testing.T) {
	pool, counter, _ := newTestPool(t, 1, 1, WithTaskTimeout(20*time.Millisecond))

	_ = pool.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("test", "error")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
}

func TestPool_ShutdownDeadline(t *testing.T) {
	pool, _, _ := newTestPool(t, 1, 1)

	started := make(chan struct{})
	_ = pool.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want deadline exceeded", err)
	}
}
