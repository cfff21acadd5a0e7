package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDb_Memory(t *testing.T) {
	conn, err := NewSqliteDb()
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);")
	require.NoError(t, err)
}

func TestNewSqliteDb_FileCreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "baseline.db")

	conn, err := NewSqliteDb(WithPath(dbPath), WithMaxOpenConns(1))
	require.NoError(t, err)
	defer conn.Close()

	assert.DirExists(t, filepath.Dir(dbPath))

	var mode string
	require.NoError(t, conn.Get(&mode, "PRAGMA journal_mode;"))
	assert.Equal(t, "wal", mode)
}

func TestNewSqliteDb_CustomPragmas(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "custom.db")

	conn, err := NewSqliteDb(WithPath(dbPath), WithPragmas("journal_mode=DELETE"), WithBusyTimeout(time.Second))
	require.NoError(t, err)
	defer conn.Close()

	var mode string
	require.NoError(t, conn.Get(&mode, "PRAGMA journal_mode;"))
	assert.Equal(t, "delete", mode)
}

func TestPragmaSQL(t *testing.T) {
	sql := pragmaSQL(&config{busyTimeout: 2 * time.Second, pragmas: []string{"foreign_keys=ON"}})
	assert.Equal(t, "PRAGMA busy_timeout=2000;\nPRAGMA foreign_keys=ON;\n", sql)
}
