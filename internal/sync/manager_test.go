package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/drivesync/internal/baseline"
	"github.com/openmined/drivesync/internal/drive"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RunsOnInterval(t *testing.T) {
	f := newFixture(t)
	f.writeLocal(t, "a.txt", "a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan *Report, 16)
	m := NewManager(f.engine, 20*time.Millisecond).OnReport(func(r *Report, err error) {
		assert.NoError(t, err)
		select {
		case reports <- r:
		default:
		}
	})

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	first := <-reports
	assert.Equal(t, 1, first.Uploads)

	// a later pass picks up a remote change without any trigger
	f.writeRemote(t, "b.txt", "b")
	require.Eventually(t, func() bool {
		rc, err := f.local.Read(context.Background(), "b.txt")
		if err != nil {
			return false
		}
		rc.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestNewManager_DefaultInterval(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.engine, 0)
	assert.Equal(t, DefaultInterval, m.interval)
}

func TestManager_WatcherTriggersPass(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	local, err := drive.NewLocalDrive(dir)
	require.NoError(t, err)
	remote := drive.NewLocalDriveFs("remote", afero.NewMemMapFs())
	store := baseline.NewMemStore()
	require.NoError(t, store.Open(context.Background()))

	engine, err := NewEngine(EngineConfig{Local: local, Remote: remote, Store: store})
	require.NoError(t, err)

	watcher := NewFileWatcher(dir)
	watcher.SetDebounceTimeout(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(engine, time.Hour).WithWatcher(watcher)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		return engine.LastReport() != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("fresh"), 0o644))

	require.Eventually(t, func() bool {
		_, err := remote.Fs().Stat("/new.txt")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
