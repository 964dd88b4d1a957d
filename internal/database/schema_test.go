package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db, DialectSQLite))

	for _, table := range []string{"users", "refresh_tokens", "rooms", "reservations", "reviews"} {
		var n int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}

func TestMigrateUnknownDialect(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)
	defer db.Close()
	assert.Error(t, Migrate(context.Background(), db, Dialect("postgres")))
}

func TestOpenSQLiteIsolatesMemoryDatabases(t *testing.T) {
	a, err := OpenSQLite("")
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLite("")
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Exec(`INSERT INTO rooms (name, address, telephone, open_time, close_time) VALUES ('Blue', '', '', '08:00', '20:00')`)
	require.NoError(t, err)

	var n int
	require.NoError(t, b.QueryRow(`SELECT COUNT(*) FROM rooms`).Scan(&n))
	assert.Zero(t, n)
}
