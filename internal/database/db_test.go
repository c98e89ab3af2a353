package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, RunMigrations(path))
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestRunMigrationsCreatesSchema(t *testing.T) {
	t.Parallel()
	db, path := openTestDB(t)

	for _, table := range []string{"categories", "category_rules", "transactions", "imports", "file_balances", "account_balance", "balance_audit_log"} {
		var count int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count))
		require.Equal(t, 1, count, "table %s", table)
	}

	var balance string
	require.NoError(t, db.QueryRow(`SELECT balance FROM account_balance WHERE id = 1`).Scan(&balance))
	require.Equal(t, "0", balance)

	// second run is a no-op
	require.NoError(t, RunMigrations(path))
	v, dirty, err := SchemaVersion(path)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), v)
}

func TestSeedDefaultsIdempotent(t *testing.T) {
	t.Parallel()
	db, _ := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, SeedDefaults(ctx, db))
	require.NoError(t, SeedDefaults(ctx, db))

	var count, defaults int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM categories`).Scan(&count))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM categories WHERE is_default = 1`).Scan(&defaults))
	require.Equal(t, len(DefaultCategories), count)
	require.Equal(t, 1, defaults)
}

func TestSeedDefaultsRestoresFallback(t *testing.T) {
	t.Parallel()
	db, _ := openTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO categories (name, color) VALUES ('Rent', '#ffffff')`)
	require.NoError(t, err)
	require.NoError(t, SeedDefaults(ctx, db))

	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM categories WHERE is_default = 1`).Scan(&name))
	require.Equal(t, DefaultCategoryName, name)
}

func TestWithTxRollsBack(t *testing.T) {
	t.Parallel()
	db, _ := openTestDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO categories (name, color) VALUES ('Temp', '#000000')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM categories WHERE name = 'Temp'`).Scan(&count))
	require.Zero(t, count)
}
