package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := NewLevelDB(filepath.Join(dir, "level"))
	require.NoError(t, err)
	boltDB, err := NewBoltDB(filepath.Join(dir, "progress.bolt"))
	require.NoError(t, err)
	sqliteDB, err := NewSQLiteDB(filepath.Join(dir, "progress.sqlite"))
	require.NoError(t, err)
	dbs := map[string]Database{
		BackendMemory:  NewMemDB(),
		BackendLevelDB: level,
		BackendBolt:    boltDB,
		BackendSQLite:  sqliteDB,
	}
	t.Cleanup(func() {
		for _, db := range dbs {
			_ = db.Close()
		}
	})
	return dbs
}

func TestDatabaseRoundTrip(t *testing.T) {
	for name, db := range backends(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Put([]byte("a/1"), []byte("one")))
			require.NoError(t, db.Put([]byte("a/2"), []byte("two")))
			require.NoError(t, db.Put([]byte("b/1"), []byte("three")))
			require.NoError(t, db.Put([]byte("a/1"), []byte("uno")))

			value, err := db.Get([]byte("a/1"))
			require.NoError(t, err)
			require.Equal(t, "uno", string(value))

			keys, err := db.Keys([]byte("a/"))
			require.NoError(t, err)
			require.Equal(t, [][]byte{[]byte("a/1"), []byte("a/2")}, keys)

			require.NoError(t, db.Delete([]byte("a/1")))
			_, err = db.Get([]byte("a/1"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "level")
	db, err := Open(BackendLevelDB, path)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("result"), []byte(`{"address":"0x1"}`)))
	require.NoError(t, db.Close())

	reopened, err := Open(BackendLevelDB, path)
	require.NoError(t, err)
	defer reopened.Close()
	value, err := reopened.Get([]byte("result"))
	require.NoError(t, err)
	require.JSONEq(t, `{"address":"0x1"}`, string(value))
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open("etcd", "")
	require.Error(t, err)
}
