package sync

import (
	"slices"
	"strings"
)

// Batch groups the operations of one type, keyed by path.
type Batch map[string]*SyncOperation

// ReconcileOperations is the classifier output for one pass.
type ReconcileOperations struct {
	RemoteWrites  Batch
	LocalWrites   Batch
	RemoteDeletes Batch
	LocalDeletes  Batch
	Conflicts     Batch
	Unchanged     Batch
	Cleanups      Batch
	Skipped       Batch
	Ignored       map[string]struct{}
}

func NewReconcileOperations() *ReconcileOperations {
	return &ReconcileOperations{
		RemoteWrites:  make(Batch),
		LocalWrites:   make(Batch),
		RemoteDeletes: make(Batch),
		LocalDeletes:  make(Batch),
		Conflicts:     make(Batch),
		Unchanged:     make(Batch),
		Cleanups:      make(Batch),
		Skipped:       make(Batch),
		Ignored:       make(map[string]struct{}),
	}
}

func (r *ReconcileOperations) add(op *SyncOperation) {
	switch op.Type {
	case OpWriteRemote:
		r.RemoteWrites[op.Path] = op
	case OpWriteLocal:
		r.LocalWrites[op.Path] = op
	case OpDeleteRemote:
		r.RemoteDeletes[op.Path] = op
	case OpDeleteLocal:
		r.LocalDeletes[op.Path] = op
	case OpConflict:
		r.Conflicts[op.Path] = op
	case OpUnchanged:
		r.Unchanged[op.Path] = op
	case OpCleanup:
		r.Cleanups[op.Path] = op
	case OpSkipped:
		r.Skipped[op.Path] = op
	}
}

// Get returns the operation planned for path, or nil.
func (r *ReconcileOperations) Get(path string) *SyncOperation {
	for _, batch := range r.batches() {
		if op, ok := batch[path]; ok {
			return op
		}
	}
	return nil
}

func (r *ReconcileOperations) batches() []Batch {
	return []Batch{r.RemoteWrites, r.LocalWrites, r.RemoteDeletes, r.LocalDeletes, r.Conflicts, r.Unchanged, r.Cleanups, r.Skipped}
}

// HasChanges reports whether any drive needs to be touched.
func (r *ReconcileOperations) HasChanges() bool {
	return len(r.RemoteWrites) > 0 ||
		len(r.LocalWrites) > 0 ||
		len(r.RemoteDeletes) > 0 ||
		len(r.LocalDeletes) > 0 ||
		len(r.Conflicts) > 0
}

// Len returns the number of planned operations, ignored paths excluded.
func (r *ReconcileOperations) Len() int {
	n := 0
	for _, batch := range r.batches() {
		n += len(batch)
	}
	return n
}

// Stages orders the plan for execution:
// folder creations shallow to deep, then file work, then folder deletions deep to shallow.
func (r *ReconcileOperations) Stages() (mkdirs, files, rmdirs []*SyncOperation) {
	for _, batch := range r.batches() {
		for _, op := range batch {
			if op.Type == OpSkipped {
				continue
			}
			isDelete := op.Type == OpDeleteLocal || op.Type == OpDeleteRemote
			switch {
			case op.IsFolder() && isDelete:
				rmdirs = append(rmdirs, op)
			case op.IsFolder() && (op.Type == OpWriteLocal || op.Type == OpWriteRemote):
				mkdirs = append(mkdirs, op)
			default:
				files = append(files, op)
			}
		}
	}

	slices.SortFunc(mkdirs, func(a, b *SyncOperation) int {
		if d := depth(a.Path) - depth(b.Path); d != 0 {
			return d
		}
		return strings.Compare(a.Path, b.Path)
	})
	slices.SortFunc(files, func(a, b *SyncOperation) int {
		return strings.Compare(a.Path, b.Path)
	})
	slices.SortFunc(rmdirs, func(a, b *SyncOperation) int {
		if d := depth(b.Path) - depth(a.Path); d != 0 {
			return d
		}
		return strings.Compare(a.Path, b.Path)
	})
	return
}

func depth(path string) int {
	return strings.Count(path, "/")
}
