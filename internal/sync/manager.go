package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const DefaultInterval = 5 * time.Minute

// ReportFunc is called after every pass the manager runs.
type ReportFunc func(report *Report, err error)

// Manager runs passes on a fixed interval and, when a watcher is attached,
// shortly after the local tree changes.
type Manager struct {
	engine   *Engine
	watcher  *FileWatcher
	interval time.Duration
	onReport ReportFunc
}

func NewManager(engine *Engine, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Manager{engine: engine, interval: interval}
}

// WithWatcher makes local changes trigger a pass. The manager starts and stops the watcher.
func (m *Manager) WithWatcher(w *FileWatcher) *Manager {
	m.watcher = w
	return m
}

func (m *Manager) OnReport(fn ReportFunc) *Manager {
	m.onReport = fn
	return m
}

// Run blocks until ctx is done. Failed passes are logged and retried on the
// next trigger.
func (m *Manager) Run(ctx context.Context) error {
	var changes <-chan struct{}
	if m.watcher != nil {
		if err := m.watcher.Start(ctx); err != nil {
			return err
		}
		defer m.watcher.Stop()
		changes = m.watcher.Changes()
	}

	slog.Info("sync manager start", "interval", m.interval, "watch", m.watcher != nil)
	m.runPass(ctx, "initial")

	// a timer rather than a ticker so slow passes do not queue ticks
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync manager stop")
			return nil
		case <-timer.C:
			m.runPass(ctx, "interval")
			timer.Reset(m.interval)
		case <-changes:
			m.runPass(ctx, "local change")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.interval)
		}
	}
}

func (m *Manager) runPass(ctx context.Context, trigger string) {
	slog.Debug("sync pass triggered", "trigger", trigger)
	report, err := m.engine.RunOnce(ctx)
	if errors.Is(err, ErrSyncAlreadyRunning) {
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("sync pass failed", "trigger", trigger, "error", err)
	}
	if m.onReport != nil && report != nil {
		m.onReport(report, err)
	}
}
