package db

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestOpenDBEmptyPath(t *testing.T) {
	_, err := OpenDB("")
	assert.Error(t, err)
}

func TestMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, path, db.Path())

	st, err := db.Status()
	require.NoError(t, err)
	assert.Equal(t, uint(0), st.Current)
	assert.True(t, st.Pending())

	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	require.NoError(t, db.MigrateUp())
	st, err = db.Status()
	require.NoError(t, err)
	assert.Equal(t, latest, st.Current)
	assert.False(t, st.Pending())
	assert.False(t, st.Dirty)

	// Up again is a no-op.
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	v, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='session_metrics'`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, db.MigrateTo(2))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='session_metrics'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMigrateForceClearsDirty(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "dirty.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.MigrateUp())
	_, err = db.Exec("UPDATE schema_migrations SET dirty = 1")
	require.NoError(t, err)
	_, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	require.True(t, dirty)

	require.NoError(t, db.MigrateForce(2))
	v, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"no action", nil, "Usage: monitor migrate", true},
		{"help", []string{"help"}, "Usage: monitor migrate", false},
		{"status before up", []string{"status"}, "2 migration(s) pending", false},
		{"up", []string{"up"}, "up to date", false},
		{"down", []string{"down"}, "1 migration(s) pending", false},
		{"version", []string{"version", "2"}, "Current version: 2", false},
		{"version missing arg", []string{"version"}, "", true},
		{"force bad arg", []string{"force", "x"}, "", true},
		{"force", []string{"force", "2"}, "Forced migration version to 2", false},
		{"unknown", []string{"sideways"}, "Usage: monitor migrate", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := RunMigrateCommand(tt.args, path, &out)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, route := range []string{"/debug/", "/debug/tailsql/", "/debug/backup"} {
		t.Run(route, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, route, nil)
			req.RemoteAddr = "127.0.0.1:4242"
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			assert.NotEqual(t, http.StatusNotFound, w.Code)

			if route == "/debug/backup" && w.Code == http.StatusOK {
				gz, err := gzip.NewReader(w.Body)
				require.NoError(t, err)
				body, err := io.ReadAll(gz)
				require.NoError(t, err)
				assert.True(t, bytes.HasPrefix(body, []byte("SQLite format 3")))
			}
		})
	}
}
