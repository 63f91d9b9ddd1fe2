package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresCounter stores window counters in the rate_limit_windows table.
// The upsert increments and returns the new value in one statement, so it
// is atomic across connections.
type PostgresCounter struct {
	db *sql.DB
}

// NewPostgresCounter creates a counter backed by db.
func NewPostgresCounter(db *sql.DB) *PostgresCounter {
	return &PostgresCounter{db: db}
}

// Incr implements Counter.
func (p *PostgresCounter) Incr(ctx context.Context, systemID string, windowStart time.Time, _ time.Duration) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_windows (system_id, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (system_id, window_start)
		DO UPDATE SET count = rate_limit_windows.count + 1
		RETURNING count
	`, systemID, windowStart.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres incr: %w", err)
	}
	return count, nil
}

// DeleteBefore removes windows that started before cutoff.
func (p *PostgresCounter) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM rate_limit_windows WHERE window_start < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
