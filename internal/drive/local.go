package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// TempMarker is part of every in-flight temp file name. Listings skip such files.
const TempMarker = ".drivesync.tmp."

// LocalDrive is a drive over a directory tree. All paths are relative to the tree root.
type LocalDrive struct {
	name string
	root string
	fs   afero.Fs
}

// NewLocalDrive creates a drive rooted at dir on the OS filesystem. The drive
// is named after its directory.
func NewLocalDrive(dir string) (*LocalDrive, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local root %s: %w", dir, err)
	}
	return &LocalDrive{
		name: "file://" + filepath.ToSlash(dir),
		root: dir,
		fs:   afero.NewBasePathFs(osFs, dir),
	}, nil
}

// NewLocalDriveFs creates a drive over an arbitrary afero filesystem, rooted at "/".
func NewLocalDriveFs(name string, fsys afero.Fs) *LocalDrive {
	return &LocalDrive{
		name: name,
		root: "/",
		fs:   fsys,
	}
}

func (d *LocalDrive) Name() string {
	return d.name
}

// Root returns the directory the drive is rooted at.
func (d *LocalDrive) Root() string {
	return d.root
}

// Fs exposes the underlying filesystem.
func (d *LocalDrive) Fs() afero.Fs {
	return d.fs
}

func (d *LocalDrive) List(ctx context.Context) (Listing, error) {
	listing := make(Listing)

	err := afero.Walk(d.fs, "/", func(name string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("walk %s: %w", name, walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath := NormPath(name)
		if relPath == "" {
			return nil
		}

		if !info.IsDir() && strings.Contains(info.Name(), TempMarker) {
			return nil
		}

		if !info.IsDir() && !info.Mode().IsRegular() {
			slog.Debug("local list skip", "path", relPath, "mode", info.Mode().String())
			return nil
		}

		listing[relPath] = itemFromInfo(relPath, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local list: %w", err)
	}

	return listing, nil
}

func (d *LocalDrive) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	path = NormPath(path)
	if err := ValidPath(path); err != nil {
		return nil, err
	}

	file, err := d.fs.Open(fsPath(path))
	if err != nil {
		return nil, d.translate(path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, d.translate(path, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("read %s: %w", path, ErrKindMismatch)
	}

	return file, nil
}

func (d *LocalDrive) Write(ctx context.Context, path string, r io.Reader, modTime time.Time, opts ...WriteOption) (*Item, error) {
	path = NormPath(path)
	if err := ValidPath(path); err != nil {
		return nil, err
	}

	name := fsPath(path)
	if err := d.checkPrecondition("write", path, newWriteOptions(opts)); err != nil {
		return nil, err
	}

	dir := filepath.Dir(name)
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("write %s: create parent: %w", path, d.translate(path, err))
	}

	tempFile, err := afero.TempFile(d.fs, dir, filepath.Base(name)+TempMarker+"*")
	if err != nil {
		return nil, fmt.Errorf("write %s: create temp file: %w", path, err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			tempFile.Close()
			d.fs.Remove(tempPath)
		}
	}()

	hasher := NewHash()
	size, err := io.Copy(io.MultiWriter(tempFile, hasher), &contextReader{ctx: ctx, r: r})
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	if err := tempFile.Sync(); err != nil {
		return nil, fmt.Errorf("write %s: sync temp file: %w", path, err)
	}
	if err := tempFile.Close(); err != nil {
		return nil, fmt.Errorf("write %s: close temp file: %w", path, err)
	}

	if !modTime.IsZero() {
		if err := d.fs.Chtimes(tempPath, modTime, modTime); err != nil {
			return nil, fmt.Errorf("write %s: set modification time: %w", path, err)
		}
	}

	if err := d.fs.Rename(tempPath, name); err != nil {
		return nil, fmt.Errorf("write %s: rename temp file: %w", path, err)
	}
	success = true

	info, err := d.fs.Stat(name)
	if err != nil {
		return nil, d.translate(path, err)
	}

	item := itemFromInfo(path, info)
	item.Size = size
	item.Fingerprint = HexSum(hasher)
	return item, nil
}

func (d *LocalDrive) Mkdir(ctx context.Context, path string) (*Item, error) {
	path = NormPath(path)
	if err := ValidPath(path); err != nil {
		return nil, err
	}

	name := fsPath(path)
	if info, err := d.fs.Stat(name); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("mkdir %s: %w", path, ErrKindMismatch)
	}

	if err := d.fs.MkdirAll(name, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", path, d.translate(path, err))
	}

	info, err := d.fs.Stat(name)
	if err != nil {
		return nil, d.translate(path, err)
	}
	return itemFromInfo(path, info), nil
}

func (d *LocalDrive) Delete(ctx context.Context, path string, opts ...WriteOption) error {
	path = NormPath(path)
	if err := ValidPath(path); err != nil {
		return err
	}

	name := fsPath(path)
	info, err := d.fs.Stat(name)
	if err != nil {
		return d.translate(path, err)
	}
	if err := d.checkPrecondition("delete", path, newWriteOptions(opts)); err != nil {
		return err
	}

	if info.IsDir() {
		empty, err := afero.IsEmpty(d.fs, name)
		if err != nil {
			return d.translate(path, err)
		}
		if !empty {
			return fmt.Errorf("delete %s: %w", path, ErrNotEmpty)
		}
	}

	if err := d.fs.Remove(name); err != nil {
		return d.translate(path, err)
	}
	return nil
}

func (d *LocalDrive) checkPrecondition(op, path string, o *writeOptions) error {
	if !o.ifAbsent && o.ifMatch == nil {
		return nil
	}

	info, err := d.fs.Stat(fsPath(path))
	if errors.Is(err, os.ErrNotExist) {
		if o.ifMatch != nil {
			return fmt.Errorf("%s %s: gone since listing: %w", op, path, ErrConflict)
		}
		return nil
	} else if err != nil {
		return d.translate(path, err)
	}

	if o.ifAbsent {
		return fmt.Errorf("%s %s: created since listing: %w", op, path, ErrConflict)
	}
	if info.IsDir() != o.ifMatch.IsFolder {
		return fmt.Errorf("%s %s: %w", op, path, ErrKindMismatch)
	}
	if info.IsDir() || o.ifMatch.Fingerprint == "" {
		return nil
	}

	file, err := d.fs.Open(fsPath(path))
	if err != nil {
		return d.translate(path, err)
	}
	defer file.Close()

	current, err := Sum(file)
	if err != nil {
		return fmt.Errorf("%s %s: hash current content: %w", op, path, err)
	}
	if current != o.ifMatch.Fingerprint {
		return fmt.Errorf("%s %s: modified since listing: %w", op, path, ErrConflict)
	}
	return nil
}

func (d *LocalDrive) translate(path string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", path, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", path, err)
	}
}

func itemFromInfo(path string, info fs.FileInfo) *Item {
	item := &Item{
		Path:         path,
		IsFolder:     info.IsDir(),
		LastModified: info.ModTime().UTC(),
	}
	if !item.IsFolder {
		item.Size = info.Size()
	}
	return item
}

func fsPath(path string) string {
	return "/" + path
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
