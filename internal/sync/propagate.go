package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/openmined/drivesync/internal/drive"
)

// Outcome is the post-operation state of a path on both drives. A nil side
// means the item no longer exists there.
type Outcome struct {
	Local  *drive.Item
	Remote *drive.Item
}

// Propagator applies non-conflict operations to the drives. It never touches
// the baseline; the engine commits the returned outcome.
type Propagator struct {
	local  drive.Drive
	remote drive.Drive
	logger *slog.Logger
}

func NewPropagator(local, remote drive.Drive, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{local: local, remote: remote, logger: logger}
}

func (p *Propagator) Apply(ctx context.Context, op *SyncOperation) (*Outcome, error) {
	switch op.Type {
	case OpWriteRemote:
		written, err := p.transfer(ctx, p.local, p.remote, op.Local, op.PathOn(SideRemote), op.Remote)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("uploaded", "path", op.Path, "size", humanize.Bytes(uint64(written.Size)))
		return &Outcome{Local: op.Local, Remote: written}, nil

	case OpWriteLocal:
		written, err := p.transfer(ctx, p.remote, p.local, op.Remote, op.PathOn(SideLocal), op.Local)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("downloaded", "path", op.Path, "size", humanize.Bytes(uint64(written.Size)))
		return &Outcome{Local: written, Remote: op.Remote}, nil

	case OpDeleteRemote:
		if err := deleteItem(ctx, p.remote, op.PathOn(SideRemote), op.Remote); err != nil {
			return nil, err
		}
		p.logger.Debug("deleted remote", "path", op.Path)
		return &Outcome{}, nil

	case OpDeleteLocal:
		if err := deleteItem(ctx, p.local, op.PathOn(SideLocal), op.Local); err != nil {
			return nil, err
		}
		p.logger.Debug("deleted local", "path", op.Path)
		return &Outcome{}, nil

	case OpUnchanged:
		return &Outcome{Local: op.Local, Remote: op.Remote}, nil

	case OpCleanup:
		return &Outcome{}, nil
	}

	return nil, fmt.Errorf("propagate %s: unsupported operation %s", op.Path, op.Type)
}

// transfer copies src to dst. Existing targets are overwritten only if they
// still match the listing; new targets must not have appeared since.
func (p *Propagator) transfer(ctx context.Context, from, to drive.Drive, src *drive.Item, dstPath string, existing *drive.Item) (*drive.Item, error) {
	if src.IsFolder {
		return to.Mkdir(ctx, dstPath)
	}

	guard := drive.WithIfAbsent()
	if existing != nil {
		guard = drive.WithIfMatch(existing)
	}
	return copyItem(ctx, from, to, src, dstPath, guard)
}

// copyItem streams src from one drive to dstPath on another and checks the
// written content against the source fingerprint.
func copyItem(ctx context.Context, from, to drive.Drive, src *drive.Item, dstPath string, opts ...drive.WriteOption) (*drive.Item, error) {
	rc, err := from.Read(ctx, src.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", src.Path, from.Name(), err)
	}
	defer rc.Close()

	written, err := to.Write(ctx, dstPath, rc, src.LastModified, opts...)
	if err != nil {
		return nil, fmt.Errorf("write %s to %s: %w", dstPath, to.Name(), err)
	}

	if src.Fingerprint != "" && written.Fingerprint != src.Fingerprint {
		return nil, fmt.Errorf("%s: expected %s got %s: %w", dstPath, src.Fingerprint, written.Fingerprint, ErrIntegrity)
	}
	return written, nil
}

// deleteItem removes path unless it no longer holds the listed item.
func deleteItem(ctx context.Context, d drive.Drive, path string, listed *drive.Item) error {
	err := d.Delete(ctx, path, drive.WithIfMatch(listed))
	if errors.Is(err, drive.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s from %s: %w", path, d.Name(), err)
	}
	return nil
}
