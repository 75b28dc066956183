package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/fxd/internal/wal"
)

// Compaction is one row of compaction history.
type Compaction struct {
	ID             int64
	LogName        string
	KeepFrom       uint64
	RemovedRecords uint64
	RemovedBytes   int64
	Duration       time.Duration
	Archive        string
	CreatedAt      time.Time
}

// RecordCompaction appends a history row for a compaction of logName.
// archive names the archive file of the removed records, if any.
func (s *Store) RecordCompaction(ctx context.Context, logName string, res wal.CompactionResult, archive string) (int64, error) {
	keep, err := toSQL(res.KeepFrom)
	if err != nil {
		return 0, fmt.Errorf("record compaction: %w", err)
	}
	removed, err := toSQL(res.RemovedRecords)
	if err != nil {
		return 0, fmt.Errorf("record compaction: %w", err)
	}
	r, err := s.db.ExecContext(ctx, `
		INSERT INTO compactions
		(log_name, keep_from, removed_records, removed_bytes, duration_ns, archive, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, logName, keep, removed, res.RemovedBytes, int64(res.Duration), archive, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("record compaction: %w", err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record compaction: %w", err)
	}
	return id, nil
}

// ListCompactions returns the history for logName, oldest first. An empty
// logName lists every log.
func (s *Store) ListCompactions(ctx context.Context, logName string) ([]Compaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, log_name, keep_from, removed_records, removed_bytes, duration_ns, archive, created_at
		FROM compactions
		WHERE ? = '' OR log_name = ?
		ORDER BY id ASC
	`, logName, logName)
	if err != nil {
		return nil, fmt.Errorf("query compactions: %w", err)
	}
	defer rows.Close()

	out := []Compaction{}
	for rows.Next() {
		var (
			c                      Compaction
			keep, removed, dur, at int64
		)
		if err := rows.Scan(&c.ID, &c.LogName, &keep, &removed, &c.RemovedBytes, &dur, &c.Archive, &at); err != nil {
			return nil, fmt.Errorf("scan compaction: %w", err)
		}
		c.KeepFrom = uint64(keep)
		c.RemovedRecords = uint64(removed)
		c.Duration = time.Duration(dur)
		c.CreatedAt = time.Unix(0, at).UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compactions: %w", err)
	}
	return out, nil
}
