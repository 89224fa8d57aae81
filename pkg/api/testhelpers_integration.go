//go:build integration

package api

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/hrm/pkg/config"
	"github.com/platinummonkey/hrm/pkg/database"
)

// containerTerminateTimeout bounds container removal at the end of a test
const containerTerminateTimeout = 30 * time.Second

// SetupPostgresContainer starts a disposable PostgreSQL, applies the embedded
// migrations and returns a pool plus a cleanup func removing the container.
// The test is skipped when no container runtime is available.
//
//	db, cleanup := SetupPostgresContainer(t)
//	defer cleanup()
func SetupPostgresContainer(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("hrm_test"),
		postgres.WithUsername("hrm"),
		postgres.WithPassword("hrm_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Open(ctx, config.DatabaseConfig{URL: connStr, MaxOpenConns: 5})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx, db), "Failed to run migrations")

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close database: %v", err)
		}
		// The test context may already be cancelled here
		terminateCtx, cancel := context.WithTimeout(context.Background(), containerTerminateTimeout)
		defer cancel()
		if err := container.Terminate(terminateCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}
	return db, cleanup
}
