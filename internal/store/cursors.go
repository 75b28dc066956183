package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roach88/fxd/internal/wal"
)

// ErrCursorNotFound is returned by GetCursor for an unknown name.
var ErrCursorNotFound = errors.New("store: cursor not found")

// Cursor is a consumer's committed position.
type Cursor struct {
	Name      string
	Seq       wal.Cursor
	UpdatedAt time.Time
}

func toSQL(seq uint64) (int64, error) {
	if seq > math.MaxInt64 {
		return 0, fmt.Errorf("sequence %d exceeds storable range", seq)
	}
	return int64(seq), nil
}

// CommitCursor records that consumer name has processed everything below
// seq. A commit lower than the stored position is ignored, so a cursor
// never regresses. It reports whether the stored position moved.
func (s *Store) CommitCursor(ctx context.Context, name string, seq wal.Cursor) (bool, error) {
	if name == "" {
		return false, errors.New("commit cursor: empty name")
	}
	v, err := toSQL(uint64(seq))
	if err != nil {
		return false, fmt.Errorf("commit cursor %q: %w", name, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (name, seq, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			seq = excluded.seq,
			updated_at = excluded.updated_at
		WHERE excluded.seq > cursors.seq
	`, name, v, s.now().UnixNano())
	if err != nil {
		return false, fmt.Errorf("commit cursor %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("commit cursor %q: %w", name, err)
	}
	return n > 0, nil
}

// GetCursor returns the cursor for name, or ErrCursorNotFound.
func (s *Store) GetCursor(ctx context.Context, name string) (Cursor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, seq, updated_at FROM cursors WHERE name = ?
	`, name)
	c, err := scanCursor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{}, fmt.Errorf("%w: %q", ErrCursorNotFound, name)
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("get cursor %q: %w", name, err)
	}
	return c, nil
}

// ListCursors returns every cursor ordered by name.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListCursors(ctx context.Context) ([]Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, seq, updated_at FROM cursors
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query cursors: %w", err)
	}
	defer rows.Close()

	cursors := []Cursor{}
	for rows.Next() {
		c, err := scanCursor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return cursors, nil
}

// DeleteCursor removes a consumer. A removed consumer no longer holds
// back compaction. It reports whether the cursor existed.
func (s *Store) DeleteCursor(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cursors WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete cursor %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete cursor %q: %w", name, err)
	}
	return n > 0, nil
}

// LowWatermark returns the minimum committed cursor. ok is false when no
// cursors exist.
func (s *Store) LowWatermark(ctx context.Context) (wal.Cursor, bool, error) {
	var low sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(seq) FROM cursors`).Scan(&low); err != nil {
		return 0, false, fmt.Errorf("low watermark: %w", err)
	}
	if !low.Valid {
		return 0, false, nil
	}
	return wal.Cursor(low.Int64), true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCursor(r scanner) (Cursor, error) {
	var (
		c       Cursor
		seq     int64
		updated int64
	)
	if err := r.Scan(&c.Name, &seq, &updated); err != nil {
		return Cursor{}, err
	}
	c.Seq = wal.Cursor(seq)
	c.UpdatedAt = time.Unix(0, updated).UTC()
	return c, nil
}
