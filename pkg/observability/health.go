package observability

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/hrm/pkg/httputil"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// backlogDegradedRatio is the queue fill level at which a background queue
// reports itself degraded
const backlogDegradedRatio = 0.9

// HealthStatus is the readiness report
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the result of one probe
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Backlog reports how full a background queue is
type Backlog interface {
	Backlog() (queued, capacity int)
}

type probe struct {
	name string
	// critical probes make the service unhealthy; the rest only degrade it
	critical bool
	check    func(ctx context.Context) DependencyStatus
}

// HealthChecker serves liveness and readiness. PostgreSQL is critical;
// Redis and background queues only degrade readiness since the service
// keeps answering without them.
type HealthChecker struct {
	version string
	timeout time.Duration
	probes  []probe
}

// NewHealthChecker builds a checker. db or redis may be nil, redis being
// nil whenever rate limiting runs in memory.
func NewHealthChecker(db *sql.DB, redis *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{version: version, timeout: 5 * time.Second}
	if db != nil {
		h.probes = append(h.probes, probe{name: "database", critical: true, check: databaseProbe(db)})
	}
	if redis != nil {
		h.probes = append(h.probes, probe{name: "redis", check: redisProbe(redis)})
	}
	return h
}

// WithBacklog adds a non-critical probe that degrades once the queue is
// close to capacity
func (h *HealthChecker) WithBacklog(name string, b Backlog) *HealthChecker {
	h.probes = append(h.probes, probe{name: name, check: backlogProbe(b)})
	return h
}

// Liveness answers 200 while the process is up
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now().UTC(),
	})
}

// Readiness answers 503 only when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	_ = httputil.WriteJSON(w, code, status)
}

// Check runs every probe and folds the results into one status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.probes)),
	}

	for _, p := range h.probes {
		result := p.check(ctx)
		status.Dependencies[p.name] = result
		switch {
		case result.Status == StatusHealthy:
		case p.critical && result.Status == StatusUnhealthy:
			status.Status = StatusUnhealthy
		case status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

func timed(fn func() (string, string)) DependencyStatus {
	start := time.Now()
	state, msg := fn()
	return DependencyStatus{
		Status:    state,
		Message:   msg,
		Latency:   time.Since(start),
		Timestamp: start.UTC(),
	}
}

func databaseProbe(db *sql.DB) func(context.Context) DependencyStatus {
	return func(ctx context.Context) DependencyStatus {
		return timed(func() (string, string) {
			var one int
			if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
				return StatusUnhealthy, "query failed: " + err.Error()
			}
			if stats := db.Stats(); stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
				return StatusDegraded, "connection pool exhausted"
			}
			return StatusHealthy, ""
		})
	}
}

func redisProbe(client *redis.Client) func(context.Context) DependencyStatus {
	return func(ctx context.Context) DependencyStatus {
		return timed(func() (string, string) {
			if err := client.Ping(ctx).Err(); err != nil {
				return StatusUnhealthy, err.Error()
			}
			return StatusHealthy, ""
		})
	}
}

func backlogProbe(b Backlog) func(context.Context) DependencyStatus {
	return func(context.Context) DependencyStatus {
		return timed(func() (string, string) {
			queued, capacity := b.Backlog()
			if capacity > 0 && float64(queued) >= backlogDegradedRatio*float64(capacity) {
				return StatusDegraded, fmt.Sprintf("%d of %d queue slots in use", queued, capacity)
			}
			return StatusHealthy, ""
		})
	}
}

// RegisterHealthRoutes mounts /health, /health/live and /health/ready
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
