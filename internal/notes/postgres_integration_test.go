package notes

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationLifecycle(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	ctx := context.Background()

	repo, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	pg, ok := repo.(*PostgresRepository)
	require.True(t, ok, "expected *PostgresRepository, got %T", repo)
	pg.tableName = postgresIntegrationTableName("notes_it")
	t.Cleanup(func() {
		_ = repo.Close()
		postgresIntegrationDropTable(t, dsn, pg.tableName)
	})

	require.NoError(t, repo.Ping(ctx))

	created, err := repo.Create(ctx, NewInput("it's", "body"))
	require.NoError(t, err)
	assert.Equal(t, "it's", created.Title)

	updated, err := repo.Update(ctx, created.ID, NewInput("edited", "body2"))
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Title)

	items, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("NOTESYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set NOTESYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", postgresQuoteIdentifier(tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}
