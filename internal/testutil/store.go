package testutil

import (
	"path/filepath"
	"testing"

	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/stretchr/testify/require"
)

// SQLiteStore returns a migrated SQLite store in a temp dir, closed on cleanup.
func SQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "genqueue.db")
	require.NoError(t, store.RunMigrations("sqlite://"+path))

	s, err := store.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}
