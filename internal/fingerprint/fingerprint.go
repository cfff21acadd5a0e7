package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/drivesync/internal/drive"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCacheSize = 100_000
	DefaultWorkers   = 4
)

type cacheKey struct {
	drive   string
	path    string
	size    int64
	modTime int64
}

// Fingerprinter resolves content digests for listing items. Digests supplied
// by the store are used as-is; otherwise content is streamed and hashed once
// per (path, size, mtime) triple.
type Fingerprinter struct {
	cache *lru.Cache[cacheKey, string]

	mu     sync.Mutex
	hashed int
}

func New(cacheSize int) (*Fingerprinter, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("fingerprint cache: %w", err)
	}
	return &Fingerprinter{cache: cache}, nil
}

// Fingerprint returns the digest of a file item on d.
func (f *Fingerprinter) Fingerprint(ctx context.Context, d drive.Drive, item *drive.Item) (string, error) {
	if item.IsFolder {
		return "", nil
	}
	if item.Fingerprint != "" {
		return item.Fingerprint, nil
	}

	key := cacheKey{
		drive:   d.Name(),
		path:    item.Path,
		size:    item.Size,
		modTime: item.LastModified.UnixNano(),
	}
	if sum, ok := f.cache.Get(key); ok {
		return sum, nil
	}

	rc, err := d.Read(ctx, item.Path)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	sum, err := drive.Sum(rc)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", item.Path, err)
	}

	f.cache.Add(key, sum)
	f.mu.Lock()
	f.hashed++
	f.mu.Unlock()
	return sum, nil
}

// Remember seeds the cache with a digest computed elsewhere, typically while writing.
func (f *Fingerprinter) Remember(d drive.Drive, item *drive.Item) {
	if item == nil || item.IsFolder || item.Fingerprint == "" {
		return
	}
	f.cache.Add(cacheKey{
		drive:   d.Name(),
		path:    item.Path,
		size:    item.Size,
		modTime: item.LastModified.UnixNano(),
	}, item.Fingerprint)
}

// Hashed returns how many items were hashed from content since creation.
func (f *Fingerprinter) Hashed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashed
}

// Resolve fills in the fingerprint of every file in listing. Items that vanish
// while being read are dropped from the listing. Items that cannot be read
// stay in the listing without a fingerprint and are returned with their
// error; only cancellation and an unavailable drive fail the whole call.
func (f *Fingerprinter) Resolve(ctx context.Context, d drive.Drive, listing drive.Listing, workers int) (map[string]error, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	start := time.Now()
	var (
		mu         sync.Mutex
		missing    []string
		unreadable = make(map[string]error)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, p := range listing.Paths() {
		item := listing[p]
		if item.IsFolder || item.Fingerprint != "" {
			continue
		}

		g.Go(func() error {
			sum, err := f.Fingerprint(gctx, d, item)
			switch {
			case err == nil:
				item.Fingerprint = sum
			case gctx.Err() != nil:
				return gctx.Err()
			case errors.Is(err, drive.ErrUnavailable):
				return err
			case errors.Is(err, drive.ErrNotFound):
				mu.Lock()
				missing = append(missing, p)
				mu.Unlock()
			default:
				mu.Lock()
				unreadable[p] = err
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve fingerprints on %s: %w", d.Name(), err)
	}

	for _, p := range missing {
		slog.Debug("fingerprint skip vanished item", "drive", d.Name(), "path", p)
		delete(listing, p)
	}
	for p, err := range unreadable {
		slog.Warn("fingerprint failed", "drive", d.Name(), "path", p, "error", err)
	}

	slog.Debug("fingerprints resolved", "drive", d.Name(), "items", len(listing), "unreadable", len(unreadable), "took", time.Since(start))
	return unreadable, nil
}
