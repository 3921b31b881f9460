package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/code-reviewer/internal/model"
	"github.com/sakif/code-reviewer/internal/repository"
)

var _ repository.QuotaRepository = (*QuotaStore)(nil)

// QuotaStore keeps fixed-window counters in the quota_records table.
type QuotaStore struct {
	conn *sql.DB
}

// Admit runs read, reset, check and increment inside one transaction. With
// the pool capped at a single connection the transaction is the per-key
// critical section, so N concurrent callers against limit L see exactly L
// admissions.
func (s *QuotaStore) Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (*model.QuotaRecord, bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: beginning quota transaction: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	rec, err := loadQuota(ctx, tx, key, limit, window, now)
	if err != nil {
		return nil, false, err
	}

	admitted := rec.Count < rec.Limit
	if admitted {
		rec.Count++
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO quota_records (key, window_start, count, limit_count)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		     window_start = excluded.window_start,
		     count        = excluded.count,
		     limit_count  = excluded.limit_count`,
		rec.Key, rec.WindowStart.UnixMilli(), rec.Count, rec.Limit,
	)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: saving quota record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("sqlite: committing quota transaction: %w", err)
	}
	return rec, admitted, nil
}

// Peek reads the record without writing. An elapsed window is reported as
// already reset.
func (s *QuotaStore) Peek(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (*model.QuotaRecord, error) {
	return loadQuota(ctx, s.conn, key, limit, window, now)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// loadQuota returns the current record for key, a fresh one if none exists,
// or a reset one if its window has elapsed. The limit always follows the
// current configuration.
func loadQuota(ctx context.Context, q queryer, key string, limit int, window time.Duration, now time.Time) (*model.QuotaRecord, error) {
	var startMillis int64
	rec := &model.QuotaRecord{Key: key, Limit: limit}

	err := q.QueryRowContext(ctx,
		`SELECT window_start, count FROM quota_records WHERE key = ?`, key,
	).Scan(&startMillis, &rec.Count)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec.WindowStart = now
		rec.Count = 0
		return rec, nil
	case err != nil:
		return nil, fmt.Errorf("sqlite: reading quota record: %w", err)
	}

	rec.WindowStart = time.UnixMilli(startMillis).UTC()
	if rec.Expired(now, window) {
		rec.WindowStart = now
		rec.Count = 0
	}
	return rec, nil
}
