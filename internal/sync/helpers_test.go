package sync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmined/drivesync/internal/baseline"
	"github.com/openmined/drivesync/internal/drive"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// fixture wires an engine between two in-memory drives; the second one plays the remote.
type fixture struct {
	local  *faultyDrive
	remote *faultyDrive
	store  *baseline.MemStore
	engine *Engine
	clock  atomic.Int64
}

func newFixture(t *testing.T, configure ...func(*EngineConfig)) *fixture {
	t.Helper()

	f := &fixture{
		local:  &faultyDrive{Drive: drive.NewLocalDriveFs("local", afero.NewMemMapFs())},
		remote: &faultyDrive{Drive: drive.NewLocalDriveFs("remote", afero.NewMemMapFs())},
		store:  baseline.NewMemStore(),
	}
	require.NoError(t, f.store.Open(context.Background()))

	cfg := EngineConfig{
		Local:   f.local,
		Remote:  f.remote,
		Store:   f.store,
		Workers: 4,
	}
	for _, fn := range configure {
		fn(&cfg)
	}

	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	f.engine = engine
	return f
}

// tick returns a fresh, strictly increasing modification time.
func (f *fixture) tick() time.Time {
	return epoch.Add(time.Duration(f.clock.Add(1)) * time.Minute)
}

func (f *fixture) writeLocal(t *testing.T, path, content string) {
	t.Helper()
	f.writeAt(t, f.local.Drive, path, content, f.tick())
}

func (f *fixture) writeRemote(t *testing.T, path, content string) {
	t.Helper()
	f.writeAt(t, f.remote.Drive, path, content, f.tick())
}

func (f *fixture) writeAt(t *testing.T, d drive.Drive, path, content string, mtime time.Time) {
	t.Helper()
	_, err := d.Write(context.Background(), path, strings.NewReader(content), mtime)
	require.NoError(t, err)
}

func (f *fixture) run(t *testing.T) *Report {
	t.Helper()
	report, err := f.engine.RunOnce(context.Background())
	require.NoError(t, err)
	return report
}

func (f *fixture) entry(t *testing.T, path string) *baseline.Entry {
	t.Helper()
	e, err := f.store.Get(context.Background(), path)
	require.NoError(t, err)
	return e
}

func list(t *testing.T, d drive.Drive) drive.Listing {
	t.Helper()
	listing, err := d.List(context.Background())
	require.NoError(t, err)
	return listing
}

func content(t *testing.T, d drive.Drive, path string) string {
	t.Helper()
	rc, err := d.Read(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

// faultyDrive wraps a drive and injects failures.
type faultyDrive struct {
	drive.Drive

	listErr   error
	listBlock chan struct{}
	writeErr  error
	corrupt   bool
	onWrite   func(path string) error
	onRead    func(path string) error
	onDelete  func(path string) error
}

func (d *faultyDrive) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	if d.onRead != nil {
		if err := d.onRead(path); err != nil {
			return nil, err
		}
	}
	return d.Drive.Read(ctx, path)
}

func (d *faultyDrive) Delete(ctx context.Context, path string, opts ...drive.WriteOption) error {
	if d.onDelete != nil {
		if err := d.onDelete(path); err != nil {
			return err
		}
	}
	return d.Drive.Delete(ctx, path, opts...)
}

func (d *faultyDrive) List(ctx context.Context) (drive.Listing, error) {
	if d.listBlock != nil {
		<-d.listBlock
	}
	if d.listErr != nil {
		return nil, d.listErr
	}
	return d.Drive.List(ctx)
}

func (d *faultyDrive) Write(ctx context.Context, path string, r io.Reader, modTime time.Time, opts ...drive.WriteOption) (*drive.Item, error) {
	if d.onWrite != nil {
		if err := d.onWrite(path); err != nil {
			return nil, err
		}
	}
	if d.writeErr != nil {
		return nil, d.writeErr
	}
	if d.corrupt {
		r = io.MultiReader(r, strings.NewReader("!"))
	}
	return d.Drive.Write(ctx, path, r, modTime, opts...)
}
