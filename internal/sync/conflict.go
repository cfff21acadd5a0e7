package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/openmined/drivesync/internal/drive"
)

// ConflictTimeFormat renders the losing revision's modification instant in
// conflict copy names. Fixed width, so copies sort lexically by time.
const ConflictTimeFormat = "2006-01-02T15:04:05"

const maxConflictSuffix = 100

// WinnerPolicy picks the side whose content survives at the plain path.
type WinnerPolicy func(local, remote *drive.Item) Side

// RemoteWins treats the remote drive as the system of record.
func RemoteWins(local, remote *drive.Item) Side {
	return SideRemote
}

// NewerWins keeps the most recently modified side. Ties go to the remote.
func NewerWins(local, remote *drive.Item) Side {
	if local.LastModified.After(remote.LastModified) {
		return SideLocal
	}
	return SideRemote
}

// PolicyByName resolves a configured policy name.
func PolicyByName(name string) (WinnerPolicy, error) {
	switch strings.ToLower(name) {
	case "", "remote", "remote-wins":
		return RemoteWins, nil
	case "newer", "newer-wins":
		return NewerWins, nil
	}
	return nil, fmt.Errorf("unknown conflict policy %q", name)
}

// ConflictPath derives the path of a conflict copy: "dir/name.ext" modified at
// t becomes "dir/name (t).ext". A seq above 1 disambiguates collisions:
// "dir/name (t 2).ext".
func ConflictPath(original string, t time.Time, seq int) string {
	dir, file := path.Split(original)

	stem, ext := file, ""
	if i := strings.LastIndex(file, "."); i > 0 {
		stem, ext = file[:i], file[i:]
	}

	stamp := t.UTC().Format(ConflictTimeFormat)
	if seq > 1 {
		stamp = fmt.Sprintf("%s %d", stamp, seq)
	}
	return dir + stem + " (" + stamp + ")" + ext
}

// ConflictCopy records where a losing revision was preserved.
type ConflictCopy struct {
	Path     string `json:"path"`
	CopyPath string `json:"copyPath"`
	Winner   Side   `json:"winner"`
}

// Resolver settles conflicts. The loser's content is first preserved as a
// conflict copy on the local drive, then overwritten with the winner's.
type Resolver struct {
	local  drive.Drive
	remote drive.Drive
	logger *slog.Logger
}

func NewResolver(local, remote drive.Drive, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{local: local, remote: remote, logger: logger}
}

func (r *Resolver) driveFor(side Side) drive.Drive {
	if side == SideLocal {
		return r.local
	}
	return r.remote
}

// Resolve executes a conflict operation and returns the state both sides
// share at the plain path afterwards.
func (r *Resolver) Resolve(ctx context.Context, op *SyncOperation) (*Outcome, *ConflictCopy, error) {
	winnerSide := op.Winner
	if winnerSide == "" {
		winnerSide = SideRemote
	}
	loserSide := winnerSide.Other()
	winner, loser := op.Item(winnerSide), op.Item(loserSide)

	copyPath, err := r.preserve(ctx, op, loserSide, loser)
	if err != nil {
		return nil, nil, err
	}

	written, err := copyItem(ctx, r.driveFor(winnerSide), r.driveFor(loserSide), winner, op.PathOn(loserSide), drive.WithIfMatch(loser))
	if err != nil {
		return nil, nil, fmt.Errorf("overwrite loser: %w", err)
	}

	r.logger.Info("conflict resolved", "path", op.Path, "winner", winnerSide, "copy", copyPath)

	out := &Outcome{}
	if winnerSide == SideRemote {
		out.Local, out.Remote = written, winner
	} else {
		out.Local, out.Remote = winner, written
	}
	return out, &ConflictCopy{Path: op.Path, CopyPath: copyPath, Winner: winnerSide}, nil
}

// preserve writes the loser's original content to a fresh conflict path on
// the local drive, never replacing an existing item.
func (r *Resolver) preserve(ctx context.Context, op *SyncOperation, loserSide Side, loser *drive.Item) (string, error) {
	src := r.driveFor(loserSide)
	original := op.PathOn(SideLocal)

	for seq := 1; seq <= maxConflictSuffix; seq++ {
		copyPath := ConflictPath(original, loser.LastModified, seq)

		_, err := copyItem(ctx, src, r.local, loser, copyPath, drive.WithIfAbsent())
		if errors.Is(err, drive.ErrConflict) {
			continue
		} else if err != nil {
			return "", fmt.Errorf("preserve loser as %s: %w", copyPath, err)
		}
		return copyPath, nil
	}
	return "", fmt.Errorf("preserve loser of %s: no free conflict path after %d attempts", original, maxConflictSuffix)
}
