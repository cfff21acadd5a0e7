package baseline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/drivesync/internal/drive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlStore := NewSQLStore(filepath.Join(t.TempDir(), "state", "baseline.db"))
	require.NoError(t, sqlStore.Open(context.Background()))
	t.Cleanup(func() { sqlStore.Close() })

	memStore := NewMemStore()
	require.NoError(t, memStore.Open(context.Background()))
	t.Cleanup(func() { memStore.Close() })

	return map[string]Store{"sql": sqlStore, "mem": memStore}
}

func TestStore_CRUD(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mtime := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.UTC)

			got, err := store.Get(ctx, "a.txt")
			require.NoError(t, err)
			assert.Nil(t, got)

			entry := &Entry{
				Path:           "a.txt",
				Fingerprint:    "abc",
				Size:           3,
				LocalModified:  mtime,
				RemoteModified: mtime.Add(time.Second),
				RemoteID:       "etag-1",
				SyncedAt:       mtime.Add(time.Minute),
			}
			require.NoError(t, store.Put(ctx, entry))
			require.NoError(t, store.Put(ctx, &Entry{Path: "dir", IsFolder: true}))

			got, err = store.Get(ctx, "a.txt")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "abc", got.Fingerprint)
			assert.Equal(t, int64(3), got.Size)
			assert.Equal(t, "etag-1", got.RemoteID)
			assert.True(t, got.LocalModified.Equal(mtime))
			assert.True(t, got.RemoteModified.Equal(mtime.Add(time.Second)))

			all, err := store.ListAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)
			assert.True(t, all["dir"].IsFolder)
			assert.True(t, all["dir"].LocalModified.IsZero())

			entry.Fingerprint = "def"
			require.NoError(t, store.Put(ctx, entry))
			got, err = store.Get(ctx, "a.txt")
			require.NoError(t, err)
			assert.Equal(t, "def", got.Fingerprint)

			count, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, count)

			require.NoError(t, store.Delete(ctx, "a.txt"))
			require.NoError(t, store.Delete(ctx, "never-existed"))
			count, err = store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			require.NoError(t, store.Reset(ctx))
			count, err = store.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestSQLStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "baseline.db")

	store := NewSQLStore(dbPath)
	require.NoError(t, store.Open(ctx))
	require.NoError(t, store.Put(ctx, &Entry{Path: "x/y.txt", Fingerprint: "f1", Size: 1}))
	require.NoError(t, store.Close())

	store = NewSQLStore(dbPath)
	require.NoError(t, store.Open(ctx))
	defer store.Close()

	got, err := store.Get(ctx, "x/y.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "f1", got.Fingerprint)
}

func TestSQLStore_ExclusiveLock(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "baseline.db")

	first := NewSQLStore(dbPath)
	require.NoError(t, first.Open(ctx))

	second := NewSQLStore(dbPath)
	assert.ErrorIs(t, second.Open(ctx), ErrStoreLocked)

	require.NoError(t, first.Close())
	require.NoError(t, second.Open(ctx))
	require.NoError(t, second.Close())
}

func TestSQLStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(filepath.Join(t.TempDir(), "baseline.db"))

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, store.Close(), ErrNotOpen)

	require.NoError(t, store.Open(ctx))
	assert.ErrorIs(t, store.Open(ctx), ErrAlreadyOpen)

	backup, err := store.Backup(ctx)
	require.NoError(t, err)
	assert.FileExists(t, backup)
	require.NoError(t, store.Close())
}

func TestMemStore_FailPut(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.Open(ctx))
	store.FailPut = assert.AnError

	assert.ErrorIs(t, store.Put(ctx, &Entry{Path: "a"}), assert.AnError)
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewEntry(t *testing.T) {
	lm := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rm := lm.Add(time.Hour)

	e := NewEntry("a.txt",
		&drive.Item{Path: "a.txt", Fingerprint: "f", Size: 4, LastModified: lm},
		&drive.Item{Path: "a.txt", Fingerprint: "f", Size: 4, LastModified: rm, RemoteID: "etag"},
	)
	assert.Equal(t, "f", e.Fingerprint)
	assert.Equal(t, lm, e.LocalModified)
	assert.Equal(t, rm, e.RemoteModified)
	assert.Equal(t, "etag", e.RemoteID)
	assert.False(t, e.SyncedAt.IsZero())

	folder := NewEntry("dir", nil, &drive.Item{Path: "dir", IsFolder: true})
	assert.True(t, folder.IsFolder)
}
