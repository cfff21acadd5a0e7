package drive

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("item not found")
	ErrConflict     = errors.New("item changed concurrently")
	ErrUnavailable  = errors.New("store unavailable")
	ErrNotEmpty     = errors.New("folder not empty")
	ErrInvalidPath  = errors.New("invalid path")
	ErrKindMismatch = errors.New("file and folder at the same path")
)

// Item is a single file or folder as seen by one drive at listing time.
type Item struct {
	Path         string    `json:"path"`
	IsFolder     bool      `json:"isFolder"`
	Size         int64     `json:"size"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	LastModified time.Time `json:"lastModified"`
	RemoteID     string    `json:"remoteId,omitempty"`
}

func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Listing is a full recursive snapshot of one drive, keyed by normalized path.
type Listing map[string]*Item

// Paths returns the listing keys in lexical order.
func (l Listing) Paths() []string {
	paths := make([]string, 0, len(l))
	for p := range l {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Stats returns the number of files and folders and the total file size.
func (l Listing) Stats() (files int, folders int, bytes int64) {
	for _, item := range l {
		if item.IsFolder {
			folders++
			continue
		}
		files++
		bytes += item.Size
	}
	return
}

// Drive is the capability set the sync engine needs from either side.
type Drive interface {
	// Name identifies the drive in logs and cache keys.
	Name() string

	// List enumerates every item recursively, folders included.
	List(ctx context.Context) (Listing, error)

	// Read opens the content of a file.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write atomically creates or replaces a file, creating parent folders as needed.
	Write(ctx context.Context, path string, r io.Reader, modTime time.Time, opts ...WriteOption) (*Item, error)

	// Mkdir creates a folder and its parents. Existing folders are not an error.
	Mkdir(ctx context.Context, path string) (*Item, error)

	// Delete removes a file or an empty folder. WithIfMatch guards it like a write.
	Delete(ctx context.Context, path string, opts ...WriteOption) error
}

type writeOptions struct {
	ifMatch  *Item
	ifAbsent bool
}

// WriteOption configures optimistic concurrency checks for Write and Delete.
type WriteOption func(*writeOptions)

// WithIfMatch fails the operation with ErrConflict unless the path still holds the
// item observed at listing time. Local drives compare fingerprints, remote
// drives compare the store's entity tag.
func WithIfMatch(item *Item) WriteOption {
	return func(o *writeOptions) {
		o.ifMatch = item
	}
}

// WithIfAbsent fails the write with ErrConflict if the path already exists.
func WithIfAbsent() WriteOption {
	return func(o *writeOptions) {
		o.ifAbsent = true
	}
}

func newWriteOptions(opts []WriteOption) *writeOptions {
	o := &writeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NormPath converts a path to the join key used by both drives:
// forward slashes, no leading or trailing separators, no dot segments.
func NormPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = filepath.ToSlash(filepath.Clean(path))
	path = strings.Trim(path, "/")
	if path == "." {
		return ""
	}
	return path
}

// ValidPath reports whether a normalized path can be addressed on a drive.
func ValidPath(path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	if path == ".." || strings.HasPrefix(path, "../") {
		return ErrInvalidPath
	}
	return nil
}

// FoldKey returns the comparison key for a path on a case-insensitive pair of drives.
func FoldKey(path string) string {
	return strings.ToLower(NormPath(path))
}
