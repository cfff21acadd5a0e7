package sync

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/drivesync/internal/baseline"
	"github.com/openmined/drivesync/internal/drive"
)

// Classify decides what to do with every path in the union of both listings
// and the baseline. It performs no I/O. Files without a fingerprint could not
// be read and are skipped. A nil ignore list ignores nothing; a nil policy
// means RemoteWins.
func Classify(local, remote drive.Listing, base map[string]*baseline.Entry, ignore *IgnoreList, policy WinnerPolicy) *ReconcileOperations {
	if policy == nil {
		policy = RemoteWins
	}

	allPaths := mapset.NewThreadUnsafeSetWithSize[string](len(local) + len(remote))
	for p := range local {
		allPaths.Add(p)
	}
	for p := range remote {
		allPaths.Add(p)
	}
	for p := range base {
		allPaths.Add(p)
	}

	ops := NewReconcileOperations()
	for path := range allPaths.Iter() {
		if ignore.ShouldIgnore(path, isFolderIn(path, local, remote, base)) {
			ops.Ignored[path] = struct{}{}
			continue
		}
		ops.add(classifyPath(path, local[path], remote[path], base[path], policy))
	}
	return ops
}

func classifyPath(path string, local, remote *drive.Item, entry *baseline.Entry, policy WinnerPolicy) *SyncOperation {
	op := &SyncOperation{Path: path, Local: local, Remote: remote, LastSynced: entry}

	switch {
	case unresolved(local) || unresolved(remote):
		op.Type = OpSkipped
		op.Reason = ErrNoFingerprint

	case local == nil && remote == nil:
		op.Type = OpCleanup

	case local != nil && remote != nil:
		classifyBoth(op, policy)

	case local != nil:
		op.Type = classifyOneSided(changedSince(local, entry), local, entry, OpWriteRemote, OpDeleteLocal)

	default:
		op.Type = classifyOneSided(remoteChangedSince(remote, entry), remote, entry, OpWriteLocal, OpDeleteRemote)
	}

	return op
}

func classifyBoth(op *SyncOperation, policy WinnerPolicy) {
	local, remote, entry := op.Local, op.Remote, op.LastSynced

	if local.IsFolder != remote.IsFolder {
		op.Type = OpSkipped
		op.Reason = fmt.Errorf("local folder=%t remote folder=%t: %w", local.IsFolder, remote.IsFolder, drive.ErrKindMismatch)
		return
	}
	if local.IsFolder {
		op.Type = OpUnchanged
		return
	}

	localChanged := changedSince(local, entry)
	remoteChanged := remoteChangedSince(remote, entry)

	switch {
	case entry != nil && !localChanged && !remoteChanged:
		op.Type = OpUnchanged
	case entry != nil && localChanged && !remoteChanged:
		op.Type = OpWriteRemote
	case entry != nil && remoteChanged && !localChanged:
		op.Type = OpWriteLocal
	case local.Fingerprint == remote.Fingerprint:
		// first sight with equal content, or converged edits
		op.Type = OpUnchanged
	default:
		op.Type = OpConflict
		op.Winner = policy(local, remote)
	}
}

// classifyOneSided handles a path present on exactly one side. Without a
// baseline the item is new and is copied across. With a baseline the other
// side deleted it: the deletion is propagated unless the surviving item was
// edited since, in which case the edit is copied back.
func classifyOneSided(changed bool, item *drive.Item, entry *baseline.Entry, copyOp, deleteOp OpType) OpType {
	if entry == nil || entry.IsFolder != item.IsFolder {
		return copyOp
	}
	if item.IsFolder || !changed {
		return deleteOp
	}
	return copyOp
}

func changedSince(item *drive.Item, entry *baseline.Entry) bool {
	if entry == nil {
		return true
	}
	if item.IsFolder != entry.IsFolder {
		return true
	}
	return !item.IsFolder && item.Fingerprint != entry.Fingerprint
}

// remoteChangedSince trusts an unchanged store version id over the fingerprint,
// which some stores cannot report faithfully.
func remoteChangedSince(item *drive.Item, entry *baseline.Entry) bool {
	if entry != nil && !item.IsFolder && !entry.IsFolder && item.RemoteID != "" && item.RemoteID == entry.RemoteID {
		return false
	}
	return changedSince(item, entry)
}

func unresolved(item *drive.Item) bool {
	return item != nil && !item.IsFolder && item.Fingerprint == ""
}

func isFolderIn(path string, local, remote drive.Listing, base map[string]*baseline.Entry) bool {
	if item, ok := local[path]; ok {
		return item.IsFolder
	}
	if item, ok := remote[path]; ok {
		return item.IsFolder
	}
	if entry, ok := base[path]; ok {
		return entry.IsFolder
	}
	return false
}
