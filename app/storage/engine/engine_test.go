package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqlite(t *testing.T) {
	tbl := []struct {
		name    string
		file    string
		wantErr bool
	}{
		{"in-memory", ":memory:", false},
		{"file based", filepath.Join(t.TempDir(), "test.db"), false},
		{"bad path", "/dev/null/not-a-dir/test.db", true},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			db, err := NewSqlite(tt.file)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer db.Close()
			assert.Equal(t, Sqlite, db.Type())

			var one int
			require.NoError(t, db.Get(&one, "SELECT 1"))
			assert.Equal(t, 1, one)
		})
	}
}

func TestSQL_MakeLock(t *testing.T) {
	db, err := NewSqlite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	lock := db.MakeLock()
	_, ok := lock.(*sync.RWMutex)
	assert.True(t, ok, "sqlite gets a real mutex")

	noop := (&SQL{dbType: Unknown}).MakeLock()
	_, ok = noop.(*NoopLocker)
	assert.True(t, ok, "unknown engine gets the no-op locker")

	// no-op locker must allow nested use without blocking
	noop.Lock()
	noop.Lock()
	noop.RLock()
	noop.RUnlock()
	noop.Unlock()
	noop.Unlock()
}

func TestInitTable(t *testing.T) {
	ctx := context.Background()

	t.Run("creates table and indexes", func(t *testing.T) {
		db, err := NewSqlite(":memory:")
		require.NoError(t, err)
		defer db.Close()

		schema := `CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT)`
		err = InitTable(ctx, db, "things", schema, "CREATE INDEX idx_things_name ON things(name)")
		require.NoError(t, err)

		_, err = db.Exec("INSERT INTO things (name) VALUES ('x')")
		require.NoError(t, err)

		var count int
		require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_things_name'"))
		assert.Equal(t, 1, count)
	})

	t.Run("existing table left alone", func(t *testing.T) {
		db, err := NewSqlite(":memory:")
		require.NoError(t, err)
		defer db.Close()

		schema := `CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT)`
		require.NoError(t, InitTable(ctx, db, "things", schema))
		_, err = db.Exec("INSERT INTO things (name) VALUES ('keep me')")
		require.NoError(t, err)

		// second init must not recreate the table or drop the row
		require.NoError(t, InitTable(ctx, db, "things", schema))
		var count int
		require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM things"))
		assert.Equal(t, 1, count)
	})

	t.Run("nil db rejected", func(t *testing.T) {
		err := InitTable(ctx, nil, "things", "CREATE TABLE things (id INTEGER)")
		assert.Error(t, err)
	})

	t.Run("broken schema rolled back", func(t *testing.T) {
		db, err := NewSqlite(":memory:")
		require.NoError(t, err)
		defer db.Close()

		err = InitTable(ctx, db, "things", "CREATE TABLE things oops")
		require.Error(t, err)

		var count int
		require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='things'"))
		assert.Equal(t, 0, count)
	})
}
