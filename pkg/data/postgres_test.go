//go:build integration

package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupPostgresDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("sejctl"),
		postgres.WithUsername("sejctl"),
		postgres.WithPassword("sejctl"),
		postgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.Equal(t, driverPostgres, driverFor(dsn))

	require.NoError(t, Init(dsn))
	db, err := GetDB(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgres(t *testing.T) {
	db := setupPostgresDB(t)

	t.Run("migrations", func(t *testing.T) {
		assert.NoError(t, migrate(db))
		assert.Equal(t, "WHERE a = $1 AND b = $2", rebind(db, "WHERE a = ? AND b = ?"))
	})
	t.Run("project", func(t *testing.T) {
		testSaveAndGetProject(t, db)
		require.NoError(t, DeleteProject(db, "panel"))
	})
	t.Run("results", func(t *testing.T) {
		testResults(t, db)
	})
}
