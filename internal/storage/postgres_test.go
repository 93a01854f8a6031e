package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*PostgreSQLStorage, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store := NewPostgreSQLStorageWithDB(db, &StorageConfig{Type: "postgres"}, testLogger())
	require.NoError(t, store.Connect(), "an injected connection is used as is")
	return store, mock
}

func TestPostgreSQLStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("migrate", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_store").
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, store.Migrate())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectQuery(`SELECT value FROM kv_store WHERE key = \$1`).
			WithArgs("errtrail.errors").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"errors":[]}`)))

		value, err := store.Get(ctx, "errtrail.errors")
		require.NoError(t, err)
		assert.JSONEq(t, `{"errors":[]}`, string(value))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get missing", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectQuery(`SELECT value FROM kv_store WHERE key = \$1`).
			WithArgs("errtrail.logs").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))

		_, err := store.Get(ctx, "errtrail.logs")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("put sends text for jsonb", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectExec(`INSERT INTO kv_store \(key, value, updated_at\)`).
			WithArgs("errtrail.errors", `{"errors":[]}`, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Put(ctx, "errtrail.errors", []byte(`{"errors":[]}`)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("put failure", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectExec(`INSERT INTO kv_store`).
			WillReturnError(errors.New("connection reset"))

		err := store.Put(ctx, "errtrail.errors", []byte(`{}`))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("delete", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectExec(`DELETE FROM kv_store WHERE key = \$1`).
			WithArgs("errtrail.logs").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Delete(ctx, "errtrail.logs"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keys and stats", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectQuery(`SELECT key FROM kv_store ORDER BY key`).
			WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("errtrail.errors").AddRow("errtrail.logs"))

		lastWrite := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`SELECT COUNT\(\*\)`).
			WillReturnRows(sqlmock.NewRows([]string{"count", "size", "max"}).AddRow(2, 128, lastWrite))

		keys, err := store.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"errtrail.errors", "errtrail.logs"}, keys)

		stats, err := store.GetStats()
		require.NoError(t, err)
		assert.Equal(t, "postgres", stats.Type)
		assert.Equal(t, 2, stats.Keys)
		assert.Equal(t, int64(128), stats.SizeBytes)
		require.NotNil(t, stats.LastWrite)
		assert.True(t, lastWrite.Equal(*stats.LastWrite))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("close", func(t *testing.T) {
		store, mock := newMockPostgres(t)
		mock.ExpectClose()

		require.NoError(t, store.Close())
		assert.False(t, store.GetHealth().Healthy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
