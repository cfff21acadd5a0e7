package sync

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// PathError is a failure confined to one path. The pass carries on without it
// and the path's baseline entry is left as it was.
type PathError struct {
	Path string `json:"path"`
	Op   OpType `json:"op"`
	Err  error  `json:"-"`
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// Report summarizes one pass.
type Report struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`

	Uploads       int `json:"uploads"`
	Downloads     int `json:"downloads"`
	RemoteDeletes int `json:"remoteDeletes"`
	LocalDeletes  int `json:"localDeletes"`
	Conflicts     int `json:"conflicts"`
	Unchanged     int `json:"unchanged"`
	Cleanups      int `json:"cleanups"`
	Skipped       int `json:"skipped"`
	Ignored       int `json:"ignored"`

	ConflictCopies []*ConflictCopy `json:"conflictCopies,omitempty"`
	Errors         []*PathError    `json:"-"`
	ErrorMessages  []string        `json:"errors,omitempty"`

	mu sync.Mutex
}

func newReport(id string) *Report {
	return &Report{ID: id, StartedAt: time.Now()}
}

func (r *Report) record(op *SyncOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch op.Type {
	case OpWriteRemote:
		r.Uploads++
	case OpWriteLocal:
		r.Downloads++
	case OpDeleteRemote:
		r.RemoteDeletes++
	case OpDeleteLocal:
		r.LocalDeletes++
	case OpConflict:
		r.Conflicts++
	case OpUnchanged:
		r.Unchanged++
	case OpCleanup:
		r.Cleanups++
	case OpSkipped:
		r.Skipped++
	}
}

func (r *Report) recordConflict(c *ConflictCopy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Conflicts++
	r.ConflictCopies = append(r.ConflictCopies, c)
}

func (r *Report) recordError(op *SyncOperation, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pe := &PathError{Path: op.Path, Op: op.Type, Err: err}
	r.Errors = append(r.Errors, pe)
	r.ErrorMessages = append(r.ErrorMessages, pe.Error())
}

func (r *Report) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Duration = time.Since(r.StartedAt)
	slices.SortFunc(r.Errors, func(a, b *PathError) int { return strings.Compare(a.Path, b.Path) })
	slices.SortFunc(r.ConflictCopies, func(a, b *ConflictCopy) int { return strings.Compare(a.Path, b.Path) })
	r.ErrorMessages = r.ErrorMessages[:0]
	for _, e := range r.Errors {
		r.ErrorMessages = append(r.ErrorMessages, e.Error())
	}
}

// Propagations counts operations that changed a drive.
func (r *Report) Propagations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Uploads + r.Downloads + r.RemoteDeletes + r.LocalDeletes + r.Conflicts
}

// Err joins all per-path errors, or returns nil.
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}
