package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
)

// ShutdownManager handles graceful shutdown of services
type ShutdownManager struct {
	logger          *Logger
	servers         []*http.Server
	shutdownFuncs   []namedShutdownFunc
	shutdownTimeout time.Duration
	mu              sync.Mutex
}

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedShutdownFunc struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:          logger,
		servers:         servers,
		shutdownTimeout: timeout,
	}
}

// RegisterShutdownFunc registers a function to call during shutdown. Functions
// run after the HTTP servers stop, in reverse registration order.
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, namedShutdownFunc{name: name, fn: fn})
}

// Shutdown stops the servers and runs the registered functions within the timeout
func (sm *ShutdownManager) Shutdown(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, sm.shutdownTimeout)
	defer cancel()

	var result error

	for _, server := range sm.servers {
		sm.logger.Infof("Shutting down HTTP server %s", server.Addr)
		if err := server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Errorf("HTTP server %s shutdown error", server.Addr)
			result = multierr.Append(result, fmt.Errorf("server %s: %w", server.Addr, err))
		}
	}

	sm.mu.Lock()
	funcs := append([]namedShutdownFunc(nil), sm.shutdownFuncs...)
	sm.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			sm.logger.Warn("Shutdown timeout reached, skipping remaining shutdown functions")
			return multierr.Append(result, fmt.Errorf("shutdown timeout reached"))
		}
		f := funcs[i]
		if err := f.fn(ctx); err != nil {
			sm.logger.WithError(err).Errorf("Shutdown function %s failed", f.name)
			result = multierr.Append(result, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		sm.logger.Infof("Shutdown function %s complete", f.name)
	}

	if result == nil {
		sm.logger.Info("Graceful shutdown complete")
	}
	return result
}

// WaitForShutdown blocks until SIGINT/SIGTERM or ctx is done, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	sm.logger.Info("Shutdown requested, starting graceful shutdown")

	return sm.Shutdown(context.Background())
}
