package baseline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/drivesync/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS baseline (
    path TEXT PRIMARY KEY,
    is_folder INTEGER NOT NULL DEFAULT 0,
    fingerprint TEXT NOT NULL,
    size INTEGER NOT NULL,
    local_modified TEXT NOT NULL, -- RFC3339Nano
    remote_modified TEXT NOT NULL, -- RFC3339Nano
    remote_id TEXT NOT NULL,
    synced_at TEXT NOT NULL -- RFC3339Nano
);

CREATE INDEX IF NOT EXISTS idx_baseline_fingerprint ON baseline(fingerprint);
`

const selectColumns = `path, is_folder, fingerprint, size, local_modified, remote_modified, remote_id, synced_at`

// dbEntry is the row form of Entry, with times stored as TEXT.
type dbEntry struct {
	Path           string `db:"path"`
	IsFolder       bool   `db:"is_folder"`
	Fingerprint    string `db:"fingerprint"`
	Size           int64  `db:"size"`
	LocalModified  string `db:"local_modified"`
	RemoteModified string `db:"remote_modified"`
	RemoteID       string `db:"remote_id"`
	SyncedAt       string `db:"synced_at"`
}

func toRow(e *Entry) dbEntry {
	return dbEntry{
		Path:           e.Path,
		IsFolder:       e.IsFolder,
		Fingerprint:    e.Fingerprint,
		Size:           e.Size,
		LocalModified:  formatTime(e.LocalModified),
		RemoteModified: formatTime(e.RemoteModified),
		RemoteID:       e.RemoteID,
		SyncedAt:       formatTime(e.SyncedAt),
	}
}

func (r *dbEntry) toEntry() (*Entry, error) {
	localModified, err := parseTime(r.LocalModified)
	if err != nil {
		return nil, fmt.Errorf("local_modified: %w", err)
	}
	remoteModified, err := parseTime(r.RemoteModified)
	if err != nil {
		return nil, fmt.Errorf("remote_modified: %w", err)
	}
	syncedAt, err := parseTime(r.SyncedAt)
	if err != nil {
		return nil, fmt.Errorf("synced_at: %w", err)
	}
	return &Entry{
		Path:           r.Path,
		IsFolder:       r.IsFolder,
		Fingerprint:    r.Fingerprint,
		Size:           r.Size,
		LocalModified:  localModified,
		RemoteModified: remoteModified,
		RemoteID:       r.RemoteID,
		SyncedAt:       syncedAt,
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// SQLStore persists the baseline in a SQLite file. While open it holds an
// exclusive lock file next to the database so a second process cannot run
// passes against the same baseline.
type SQLStore struct {
	db     *sqlx.DB
	dbPath string
	lock   *flock.Flock
}

func NewSQLStore(dbPath string) *SQLStore {
	return &SQLStore{
		dbPath: dbPath,
		lock:   flock.New(dbPath + ".lock"),
	}
}

// Path returns the database file location.
func (s *SQLStore) Path() string {
	return s.dbPath
}

func (s *SQLStore) Open(ctx context.Context) error {
	if s.db != nil {
		return ErrAlreadyOpen
	}

	conn, err := db.NewSqliteDb(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open baseline: %w", err)
	}

	locked, err := s.lock.TryLock()
	if err != nil {
		conn.Close()
		return fmt.Errorf("lock baseline: %w", err)
	}
	if !locked {
		conn.Close()
		return ErrStoreLocked
	}

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		s.lock.Unlock()
		return fmt.Errorf("initialize baseline schema: %w", err)
	}

	s.db = conn
	return nil
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return ErrNotOpen
	}

	err := s.db.Close()
	s.db = nil
	if err != nil {
		slog.Error("baseline close", "error", err)
	}

	if s.lock.Locked() {
		if unlockErr := s.lock.Unlock(); unlockErr != nil {
			return errors.Join(err, fmt.Errorf("unlock baseline: %w", unlockErr))
		}
		os.Remove(s.lock.Path())
	}
	return err
}

func (s *SQLStore) Get(ctx context.Context, path string) (*Entry, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	var row dbEntry
	err := s.db.GetContext(ctx, &row, "SELECT "+selectColumns+" FROM baseline WHERE path = ?", path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get baseline %s: %w", path, err)
	}

	entry, err := row.toEntry()
	if err != nil {
		return nil, fmt.Errorf("decode baseline %s: %w", path, err)
	}
	return entry, nil
}

func (s *SQLStore) Put(ctx context.Context, e *Entry) error {
	if s.db == nil {
		return ErrNotOpen
	}
	if e == nil {
		return errors.New("put nil baseline entry")
	}

	query := `INSERT OR REPLACE INTO baseline (` + selectColumns + `)
	          VALUES (:path, :is_folder, :fingerprint, :size, :local_modified, :remote_modified, :remote_id, :synced_at)`
	if _, err := s.db.NamedExecContext(ctx, query, toRow(e)); err != nil {
		return fmt.Errorf("put baseline %s: %w", e.Path, err)
	}
	slog.Debug("baseline put", "path", e.Path, "fingerprint", e.Fingerprint)
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, path string) error {
	if s.db == nil {
		return ErrNotOpen
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM baseline WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete baseline %s: %w", path, err)
	}
	return nil
}

func (s *SQLStore) ListAll(ctx context.Context) (map[string]*Entry, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	var rows []dbEntry
	if err := s.db.SelectContext(ctx, &rows, "SELECT "+selectColumns+" FROM baseline"); err != nil {
		return nil, fmt.Errorf("list baseline: %w", err)
	}

	entries := make(map[string]*Entry, len(rows))
	for _, row := range rows {
		entry, err := row.toEntry()
		if err != nil {
			// a corrupt row behaves like a missing entry: the path is treated as first-time
			slog.Error("baseline decode", "path", row.Path, "error", err)
			continue
		}
		entries[row.Path] = entry
	}
	return entries, nil
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, ErrNotOpen
	}
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM baseline"); err != nil {
		return 0, fmt.Errorf("count baseline: %w", err)
	}
	return count, nil
}

func (s *SQLStore) Reset(ctx context.Context) error {
	if s.db == nil {
		return ErrNotOpen
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM baseline"); err != nil {
		return fmt.Errorf("reset baseline: %w", err)
	}
	slog.Info("baseline reset", "path", s.dbPath)
	return nil
}

// Backup copies the database to "<path>.<timestamp>.bak" and returns the copy's path.
func (s *SQLStore) Backup(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", ErrNotOpen
	}
	backupPath := fmt.Sprintf("%s.%s.bak", s.dbPath, time.Now().Format("20060102150405"))
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", backupPath); err != nil {
		return "", fmt.Errorf("backup baseline: %w", err)
	}
	return backupPath, nil
}
