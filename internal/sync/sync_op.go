package sync

import (
	"errors"

	"github.com/openmined/drivesync/internal/baseline"
	"github.com/openmined/drivesync/internal/drive"
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrEnumerate          = errors.New("enumeration failed")
	ErrIntegrity          = errors.New("fingerprint mismatch after write")
	ErrBaseline           = errors.New("baseline store failure")
	ErrNoFingerprint      = errors.New("content could not be fingerprinted")
)

type OpType string

const (
	OpWriteRemote  OpType = "WriteRemote" // upload local to remote
	OpWriteLocal   OpType = "WriteLocal"  // download remote to local
	OpDeleteRemote OpType = "DeleteRemote"
	OpDeleteLocal  OpType = "DeleteLocal"
	OpConflict     OpType = "Conflict"
	OpUnchanged    OpType = "Unchanged"
	OpCleanup      OpType = "Cleanup"
	OpSkipped      OpType = "Skipped"
)

// Side names one of the two drives.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

func (s Side) Other() Side {
	if s == SideLocal {
		return SideRemote
	}
	return SideLocal
}

// SyncOperation is the decision for one path in one pass.
type SyncOperation struct {
	Type       OpType
	Path       string
	Local      *drive.Item
	Remote     *drive.Item
	LastSynced *baseline.Entry

	// Winner is set for conflicts.
	Winner Side
	// Reason is set for skipped paths.
	Reason error
}

// IsFolder reports whether the operation concerns a folder.
func (op *SyncOperation) IsFolder() bool {
	switch {
	case op.Local != nil:
		return op.Local.IsFolder
	case op.Remote != nil:
		return op.Remote.IsFolder
	case op.LastSynced != nil:
		return op.LastSynced.IsFolder
	}
	return false
}

// Item returns the item observed on side at listing time.
func (op *SyncOperation) Item(side Side) *drive.Item {
	if side == SideLocal {
		return op.Local
	}
	return op.Remote
}

// PathOn returns the spelling of the path to address on side. Existing items
// keep their own spelling; new items take the spelling of their source.
func (op *SyncOperation) PathOn(side Side) string {
	if item := op.Item(side); item != nil {
		return item.Path
	}
	if item := op.Item(side.Other()); item != nil {
		return item.Path
	}
	if op.LastSynced != nil {
		return op.LastSynced.Path
	}
	return op.Path
}
