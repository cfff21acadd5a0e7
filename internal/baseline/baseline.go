package baseline

import (
	"context"
	"errors"
	"time"

	"github.com/openmined/drivesync/internal/drive"
)

var (
	ErrNotOpen     = errors.New("baseline store not open")
	ErrAlreadyOpen = errors.New("baseline store already open")
	ErrStoreLocked = errors.New("baseline store locked by another process")
)

// Entry records the last state both drives agreed on for one path.
type Entry struct {
	Path           string    `json:"path"`
	IsFolder       bool      `json:"isFolder"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	Size           int64     `json:"size"`
	LocalModified  time.Time `json:"localModified"`
	RemoteModified time.Time `json:"remoteModified"`
	RemoteID       string    `json:"remoteId,omitempty"`
	SyncedAt       time.Time `json:"syncedAt"`
}

// NewEntry builds the entry for a path once both sides hold the same item.
func NewEntry(path string, local, remote *drive.Item) *Entry {
	e := &Entry{
		Path:     path,
		SyncedAt: time.Now().UTC(),
	}
	if local != nil {
		e.IsFolder = local.IsFolder
		e.Fingerprint = local.Fingerprint
		e.Size = local.Size
		e.LocalModified = local.LastModified
	}
	if remote != nil {
		e.IsFolder = remote.IsFolder
		if e.Fingerprint == "" {
			e.Fingerprint = remote.Fingerprint
		}
		if local == nil {
			e.Size = remote.Size
		}
		e.RemoteModified = remote.LastModified
		e.RemoteID = remote.RemoteID
	}
	return e
}

// Store persists baseline entries. Writes are atomic per path and the store
// is the only writer of its backing storage.
type Store interface {
	Open(ctx context.Context) error
	Close() error

	// Get returns nil and no error when the path has no entry.
	Get(ctx context.Context, path string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, path string) error
	ListAll(ctx context.Context) (map[string]*Entry, error)
	Count(ctx context.Context) (int, error)

	// Reset removes every entry, forcing the next pass to run as a first pass.
	Reset(ctx context.Context) error
}
