package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "test")

	w := httptest.NewRecorder()
	checker.Liveness(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["status"] != StatusHealthy {
		t.Errorf("Expected status %s, got %v", StatusHealthy, body["status"])
	}
}

func TestHealthChecker_Check(t *testing.T) {
	t.Run("healthy database and redis", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		_, client := newMiniredisClient(t)
		checker := NewHealthChecker(db, client, "1.2.3")

		status := checker.Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Expected healthy, got %s", status.Status)
		}
		if status.Version != "1.2.3" {
			t.Errorf("Expected version 1.2.3, got %s", status.Version)
		}
		if len(status.Dependencies) != 2 {
			t.Errorf("Expected 2 dependencies, got %d", len(status.Dependencies))
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Unfulfilled expectations: %v", err)
		}
	})

	t.Run("database down is unhealthy", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))

		checker := NewHealthChecker(db, nil, "test")
		status := checker.Check(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy, got %s", status.Status)
		}
		if status.Dependencies["database"].Message == "" {
			t.Error("Expected failure message")
		}
	})

	t.Run("redis down is degraded", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()
		mr.Close()

		checker := NewHealthChecker(db, client, "test")
		status := checker.Check(context.Background())
		if status.Status != StatusDegraded {
			t.Errorf("Expected degraded, got %s", status.Status)
		}
		if status.Dependencies["redis"].Status != StatusUnhealthy {
			t.Errorf("Expected redis unhealthy, got %s", status.Dependencies["redis"].Status)
		}
	})
}

func TestHealthChecker_Readiness(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("down"))

	router := mux.NewRouter()
	RegisterHealthRoutes(router, NewHealthChecker(db, nil, "test"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

type fixedBacklog struct{ queued, capacity int }

func (b fixedBacklog) Backlog() (int, int) { return b.queued, b.capacity }

func TestHealthChecker_Backlog(t *testing.T) {
	t.Run("near capacity degrades", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil, "test").WithBacklog("audit_queue", fixedBacklog{queued: 240, capacity: 256})
		status := checker.Check(context.Background())
		if status.Status != StatusDegraded {
			t.Errorf("Expected degraded, got %s", status.Status)
		}
		if status.Dependencies["audit_queue"].Message != "240 of 256 queue slots in use" {
			t.Errorf("Unexpected message %q", status.Dependencies["audit_queue"].Message)
		}
	})

	t.Run("full queue never fails readiness", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil, "test").WithBacklog("audit_queue", fixedBacklog{queued: 256, capacity: 256})
		w := httptest.NewRecorder()
		checker.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		if w.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", w.Code)
		}
	})

	t.Run("idle queue is healthy", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil, "test").WithBacklog("audit_queue", fixedBacklog{queued: 3, capacity: 256})
		if status := checker.Check(context.Background()); status.Status != StatusHealthy {
			t.Errorf("Expected healthy, got %s", status.Status)
		}
	})
}
