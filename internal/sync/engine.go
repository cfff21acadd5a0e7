package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/openmined/drivesync/internal/baseline"
	"github.com/openmined/drivesync/internal/drive"
	"github.com/openmined/drivesync/internal/fingerprint"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 8

type State int32

const (
	StateIdle State = iota
	StateEnumerating
	StateReconciling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateReconciling:
		return "reconciling"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type EngineConfig struct {
	Local  drive.Drive
	Remote drive.Drive
	Store  baseline.Store

	// Optional. A fresh fingerprinter is created when nil.
	Fingerprinter *fingerprint.Fingerprinter
	// Optional. RemoteWins when nil.
	Policy WinnerPolicy
	// Optional. Nothing is ignored when nil.
	Ignore *IgnoreList
	// Bound on concurrent per-path operations. DefaultWorkers when zero.
	Workers int
	// Join paths that differ only in letter case.
	CaseInsensitive bool
	Logger          *slog.Logger
}

// Engine reconciles a local and a remote drive against a persisted baseline.
// The baseline store must be open for the lifetime of the engine.
type Engine struct {
	local      drive.Drive
	remote     drive.Drive
	store      baseline.Store
	fp         *fingerprint.Fingerprinter
	policy     WinnerPolicy
	ignore     *IgnoreList
	workers    int
	fold       bool
	resolver   *Resolver
	propagator *Propagator
	locks      *PathLocks
	logger     *slog.Logger

	muSync     sync.Mutex
	state      atomic.Int32
	lastReport atomic.Pointer[Report]
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Local == nil || cfg.Remote == nil {
		return nil, errors.New("engine needs both a local and a remote drive")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine needs a baseline store")
	}

	fp := cfg.Fingerprinter
	if fp == nil {
		var err error
		if fp, err = fingerprint.New(0); err != nil {
			return nil, err
		}
	}

	policy := cfg.Policy
	if policy == nil {
		policy = RemoteWins
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = min(DefaultWorkers, max(2, runtime.NumCPU()))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		local:      cfg.Local,
		remote:     cfg.Remote,
		store:      cfg.Store,
		fp:         fp,
		policy:     policy,
		ignore:     cfg.Ignore,
		workers:    workers,
		fold:       cfg.CaseInsensitive,
		resolver:   NewResolver(cfg.Local, cfg.Remote, logger),
		propagator: NewPropagator(cfg.Local, cfg.Remote, logger),
		locks:      NewPathLocks(),
		logger:     logger,
	}, nil
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// LastReport returns the report of the most recent finished pass, or nil.
func (e *Engine) LastReport() *Report {
	return e.lastReport.Load()
}

// SetIgnoreList swaps the ignore rules used from the next pass on.
func (e *Engine) SetIgnoreList(ignore *IgnoreList) {
	e.muSync.Lock()
	defer e.muSync.Unlock()
	e.ignore = ignore
}

// RunOnce runs a full pass. Per-path failures are collected in the report;
// the returned error is set only when the pass itself failed (enumeration,
// baseline store, an unreachable drive or cancellation). Paths committed
// before such a failure stay committed.
func (e *Engine) RunOnce(ctx context.Context) (*Report, error) {
	if !e.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()
	defer e.setState(StateIdle)

	report := newReport(uuid.NewString())
	logger := e.logger.With("pass", report.ID[:8])

	err := e.runPass(ctx, report, logger)
	report.finish()
	e.lastReport.Store(report)

	logger.Info("sync pass",
		"uploads", report.Uploads,
		"downloads", report.Downloads,
		"remoteDeletes", report.RemoteDeletes,
		"localDeletes", report.LocalDeletes,
		"conflicts", report.Conflicts,
		"unchanged", report.Unchanged,
		"ignored", report.Ignored,
		"errors", len(report.Errors),
		"took", report.Duration,
	)
	if err != nil {
		logger.Error("sync pass aborted", "error", err)
	}
	return report, err
}

func (e *Engine) runPass(ctx context.Context, report *Report, logger *slog.Logger) error {
	e.setState(StateEnumerating)
	local, remote, unreadable, err := e.enumerate(ctx, logger)
	if err != nil {
		return err
	}

	e.setState(StateReconciling)
	base, err := e.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBaseline, err)
	}

	if e.fold {
		local, remote, base = foldListing(local, logger), foldListing(remote, logger), foldBaseline(base)
		unreadable = foldErrors(unreadable)
	}

	ops := Classify(local, remote, base, e.ignore, e.policy)
	report.Ignored = len(ops.Ignored)
	for _, op := range ops.Skipped {
		reason := op.Reason
		if err, ok := unreadable[op.Path]; ok {
			reason = fmt.Errorf("%w: %w", ErrNoFingerprint, err)
		}
		report.record(op)
		report.recordError(op, reason)
	}
	if !ops.HasChanges() {
		logger.Debug("sync pass no changes", "paths", ops.Len())
	}

	mkdirs, files, rmdirs := ops.Stages()
	if err := e.execute(ctx, mkdirs, report, logger, e.workers); err != nil {
		return err
	}
	if err := e.execute(ctx, files, report, logger, e.workers); err != nil {
		return err
	}
	// children first, one at a time
	return e.execute(ctx, rmdirs, report, logger, 1)
}

// enumerate lists both drives concurrently and resolves file fingerprints.
// Files whose content could not be read are returned by path with their error.
func (e *Engine) enumerate(ctx context.Context, logger *slog.Logger) (local, remote drive.Listing, unreadable map[string]error, err error) {
	g, gctx := errgroup.WithContext(ctx)
	var localErrs, remoteErrs map[string]error

	list := func(d drive.Drive, out *drive.Listing, failed *map[string]error) func() error {
		return func() error {
			listing, err := d.List(gctx)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrEnumerate, d.Name(), err)
			}
			errs, err := e.fp.Resolve(gctx, d, listing, e.workers)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrEnumerate, err)
			}
			files, folders, size := listing.Stats()
			logger.Debug("listed", "drive", d.Name(), "files", files, "folders", folders, "size", humanize.Bytes(uint64(size)))
			*out, *failed = listing, errs
			return nil
		}
	}

	g.Go(list(e.local, &local, &localErrs))
	g.Go(list(e.remote, &remote, &remoteErrs))
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	unreadable = make(map[string]error, len(localErrs)+len(remoteErrs))
	for p, err := range remoteErrs {
		unreadable[p] = fmt.Errorf("%s: %w", e.remote.Name(), err)
	}
	for p, err := range localErrs {
		unreadable[p] = fmt.Errorf("%s: %w", e.local.Name(), err)
	}
	return local, remote, unreadable, nil
}

func (e *Engine) execute(ctx context.Context, ops []*SyncOperation, report *Report, logger *slog.Logger, workers int) error {
	if len(ops) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, op := range ops {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return e.process(gctx, op, report, logger)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// process runs one operation and commits its outcome. A non-nil return aborts the pass.
func (e *Engine) process(ctx context.Context, op *SyncOperation, report *Report, logger *slog.Logger) error {
	unlock := e.locks.Lock(op.Path)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		out      *Outcome
		conflict *ConflictCopy
		err      error
	)
	if op.Type == OpConflict {
		out, conflict, err = e.resolver.Resolve(ctx, op)
	} else {
		out, err = e.propagator.Apply(ctx, op)
	}
	if err != nil {
		return e.handleOpError(ctx, op, report, logger, err)
	}

	// the drives already changed; record that even if the pass is being cancelled
	if err := e.commit(context.WithoutCancel(ctx), op, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBaseline, op.Path, err)
	}

	e.fp.Remember(e.local, out.Local)
	e.fp.Remember(e.remote, out.Remote)

	if conflict != nil {
		report.recordConflict(conflict)
	} else {
		report.record(op)
	}
	if op.Type != OpUnchanged {
		logger.Debug("sync op", "op", op.Type, "path", op.Path)
	}
	return nil
}

func (e *Engine) handleOpError(ctx context.Context, op *SyncOperation, report *Report, logger *slog.Logger, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()

	case errors.Is(err, drive.ErrUnavailable):
		return fmt.Errorf("%s %s: %w", op.Type, op.Path, err)

	case errors.Is(err, drive.ErrNotEmpty) && op.IsFolder(),
		errors.Is(err, drive.ErrNotFound):
		// changed since listing; the next pass sees the new state
		logger.Info("sync op skipped", "op", op.Type, "path", op.Path, "reason", err)
		report.record(&SyncOperation{Type: OpSkipped, Path: op.Path})
		return nil

	case errors.Is(err, drive.ErrConflict):
		logger.Warn("sync op skipped", "op", op.Type, "path", op.Path, "reason", err)
		report.record(&SyncOperation{Type: OpSkipped, Path: op.Path})
		report.recordError(op, err)
		return nil

	default:
		logger.Warn("sync op failed", "op", op.Type, "path", op.Path, "error", err)
		report.recordError(op, err)
		return nil
	}
}

// commit writes the baseline for one path: deleted when both sides are gone,
// replaced when both sides now hold the same content.
func (e *Engine) commit(ctx context.Context, op *SyncOperation, out *Outcome) error {
	if out.Local == nil && out.Remote == nil {
		if op.LastSynced == nil {
			return nil
		}
		return e.store.Delete(ctx, op.LastSynced.Path)
	}

	entry := baseline.NewEntry(op.Path, out.Local, out.Remote)
	if op.Type == OpUnchanged && sameEntry(op.LastSynced, entry) {
		return nil
	}
	if err := e.store.Put(ctx, entry); err != nil {
		return err
	}
	// entries written before case folding was enabled
	if op.LastSynced != nil && op.LastSynced.Path != entry.Path {
		return e.store.Delete(ctx, op.LastSynced.Path)
	}
	return nil
}

func sameEntry(a, b *baseline.Entry) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IsFolder == b.IsFolder &&
		a.Fingerprint == b.Fingerprint &&
		a.Size == b.Size &&
		a.RemoteID == b.RemoteID
}

// foldListing re-keys a listing by lower-cased path. When two items collide,
// the lexically first spelling wins and the other is left out of the pass.
func foldListing(listing drive.Listing, logger *slog.Logger) drive.Listing {
	out := make(drive.Listing, len(listing))
	for _, p := range listing.Paths() {
		key := drive.FoldKey(p)
		if existing, ok := out[key]; ok {
			logger.Warn("case collision", "path", p, "kept", existing.Path)
			continue
		}
		out[key] = listing[p]
	}
	return out
}

func foldErrors(errs map[string]error) map[string]error {
	out := make(map[string]error, len(errs))
	for p, err := range errs {
		out[drive.FoldKey(p)] = err
	}
	return out
}

func foldBaseline(base map[string]*baseline.Entry) map[string]*baseline.Entry {
	out := make(map[string]*baseline.Entry, len(base))
	for p, entry := range base {
		out[drive.FoldKey(p)] = entry
	}
	return out
}
