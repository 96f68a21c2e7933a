package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"gutterdiff/logger"
)

// ErrNotFound is returned when no snapshot matches an id or path
var ErrNotFound = errors.New("snapshot: not found")

// Snapshot is a captured copy of a buffer. Content is only filled in by
// Get and Latest.
type Snapshot struct {
	ID        string
	Path      string
	Label     string
	CreatedAt time.Time
	Size      int
	Content   string
}

// Store keeps snapshots in a SQLite database, content brotli-compressed
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating and migrating when needed) the store at dbPath.
// ":memory:" gives a private in-memory store.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// One connection: a single writer, and :memory: stays one database
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Capture stores content as a new snapshot of path
func (s *Store) Capture(ctx context.Context, path, content, label string) (*Snapshot, error) {
	blob, err := compress(content)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:        uuid.New().String(),
		Path:      path,
		Label:     label,
		CreatedAt: s.now(),
		Size:      len(content),
		Content:   content,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, path, label, created_at, size, content) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Path, snap.Label, snap.CreatedAt.UnixNano(), snap.Size, blob)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	logger.Debug("captured snapshot %s of %s (%d bytes, %d compressed)", snap.ID, path, snap.Size, len(blob))
	return snap, nil
}

// Get returns the snapshot with the given id, content included
func (s *Store) Get(ctx context.Context, id string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, label, created_at, size, content FROM snapshots WHERE id = ?`, id)
	snap, err := scanWithContent(row)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return snap, nil
}

// Latest returns the newest snapshot of path, content included
func (s *Store) Latest(ctx context.Context, path string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, label, created_at, size, content FROM snapshots
		 WHERE path = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, path)
	snap, err := scanWithContent(row)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot of %s: %w", path, err)
	}
	return snap, nil
}

// List returns the snapshots of path, newest first, without content.
// An empty path lists every snapshot.
func (s *Store) List(ctx context.Context, path string) ([]*Snapshot, error) {
	query := `SELECT id, path, label, created_at, size FROM snapshots`
	var args []any
	if path != "" {
		query += ` WHERE path = ?`
		args = append(args, path)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		var snap Snapshot
		var created int64
		if err := rows.Scan(&snap.ID, &snap.Path, &snap.Label, &created, &snap.Size); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.CreatedAt = time.Unix(0, created)
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

// Delete removes the snapshot with the given id
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete snapshot %s: %w", id, ErrNotFound)
	}
	return nil
}

// Prune deletes all but the keep newest snapshots of path and returns how
// many were removed. keep <= 0 keeps everything.
func (s *Store) Prune(ctx context.Context, path string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE path = ? AND id NOT IN (
			SELECT id FROM snapshots WHERE path = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, path, path, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots of %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots of %s: %w", path, err)
	}
	if n > 0 {
		logger.Debug("pruned %d snapshots of %s", n, path)
	}
	return int(n), nil
}

func scanWithContent(row *sql.Row) (*Snapshot, error) {
	var snap Snapshot
	var created int64
	var blob []byte
	err := row.Scan(&snap.ID, &snap.Path, &snap.Label, &created, &snap.Size, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	content, err := decompress(blob)
	if err != nil {
		return nil, err
	}
	snap.CreatedAt = time.Unix(0, created)
	snap.Content = content
	return &snap, nil
}

// compress encodes content with brotli (quality 5 balances size and speed)
func compress(content string) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, 5)
	if _, err := io.WriteString(w, content); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close brotli writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(blob []byte) (string, error) {
	data, err := io.ReadAll(brotli.NewReader(bytes.NewReader(blob)))
	if err != nil {
		return "", fmt.Errorf("decompress snapshot: %w", err)
	}
	return string(data), nil
}
