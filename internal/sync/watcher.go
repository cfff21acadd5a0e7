package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/openmined/drivesync/internal/drive"
	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 256
	defaultDebounceTimeout = 500 * time.Millisecond
)

// FilterCallback returns true when an event on the relative path should be dropped.
type FilterCallback func(relPath string) bool

// FileWatcher watches a local tree and coalesces bursts of filesystem events
// into a single change signal. Which paths changed does not matter to the
// engine, which always runs full passes.
type FileWatcher struct {
	watchDir        string
	rawEvents       chan notify.EventInfo
	changes         chan struct{}
	done            chan struct{}
	wg              sync.WaitGroup
	debounceTimeout time.Duration
	filter          FilterCallback
	filterMu        sync.RWMutex
}

func NewFileWatcher(watchDir string) *FileWatcher {
	return &FileWatcher{
		watchDir:        watchDir,
		changes:         make(chan struct{}, 1),
		done:            make(chan struct{}),
		debounceTimeout: defaultDebounceTimeout,
	}
}

// SetDebounceTimeout sets how long the tree must stay quiet before a change is signalled.
func (fw *FileWatcher) SetDebounceTimeout(timeout time.Duration) {
	fw.debounceTimeout = timeout
}

// FilterPaths installs a callback that drops events before debouncing.
func (fw *FileWatcher) FilterPaths(callback FilterCallback) {
	fw.filterMu.Lock()
	defer fw.filterMu.Unlock()
	fw.filter = callback
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", fw.watchDir)

	fw.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	recursivePath := filepath.Join(fw.watchDir, "...")
	if err := notify.Watch(recursivePath, fw.rawEvents, notify.All); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.loop(ctx)
	return nil
}

func (fw *FileWatcher) Stop() {
	close(fw.done)
	if fw.rawEvents != nil {
		notify.Stop(fw.rawEvents)
	}
	fw.wg.Wait()
	slog.Info("file watcher stopped")
}

// Changes receives a value after each quiet period following relevant events.
func (fw *FileWatcher) Changes() <-chan struct{} {
	return fw.changes
}

func (fw *FileWatcher) loop(ctx context.Context) {
	defer fw.wg.Done()

	timer := time.NewTimer(fw.debounceTimeout)
	timer.Stop()
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.rawEvents:
			if !ok {
				return
			}
			relPath, ok := fw.relPath(event.Path())
			if !ok || fw.filtered(relPath) {
				continue
			}
			slog.Debug("file watcher", "event", event.Event(), "path", relPath)
			// on linux a single write is a burst of events until the file is complete
			pending = true
			timer.Reset(fw.debounceTimeout)
		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			select {
			case fw.changes <- struct{}{}:
			default:
				// a signal is already queued
			}
		}
	}
}

func (fw *FileWatcher) relPath(absPath string) (string, bool) {
	rel, err := filepath.Rel(fw.watchDir, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = drive.NormPath(rel)
	return rel, rel != ""
}

func (fw *FileWatcher) filtered(relPath string) bool {
	if strings.Contains(relPath, drive.TempMarker) {
		return true
	}
	fw.filterMu.RLock()
	defer fw.filterMu.RUnlock()
	return fw.filter != nil && fw.filter(relPath)
}
