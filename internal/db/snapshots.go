package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LatestSnapshot returns when the newest snapshot was polled and how many
// buses it held. A nil time means no snapshot has been committed yet.
func (db *DB) LatestSnapshot(ctx context.Context) (*time.Time, int, error) {
	var polledAt string
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT polled_at_utc, bus_count FROM rt_snapshots ORDER BY polled_at_utc DESC LIMIT 1",
	).Scan(&polledAt, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	t := parseTime(polledAt)
	return &t, count, nil
}
