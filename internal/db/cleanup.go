package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Cleanup deletes position history and snapshots older than the retention
// window. Live bus rows and bookings are never touched.
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := formatTime(time.Now().Add(-retention))

	queries := []struct {
		name  string
		query string
	}{
		{
			name:  "bus_position_history",
			query: "DELETE FROM bus_position_history WHERE polled_at_utc < ?",
		},
		{
			name:  "rt_snapshots",
			query: "DELETE FROM rt_snapshots WHERE polled_at_utc < ?",
		},
	}

	totalDeleted := 0
	for _, q := range queries {
		result, err := db.conn.ExecContext(ctx, q.query, cutoff)
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to cleanup %s: %w", q.name, err)
		}
		rows, _ := result.RowsAffected()
		totalDeleted += int(rows)
	}

	if totalDeleted > 0 {
		log.Info().Int("deleted", totalDeleted).Dur("retention", retention).Msg("Cleanup: pruned position history")
	}
	return totalDeleted, nil
}

// CountHistory returns the number of stored history rows
func (db *DB) CountHistory(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM bus_position_history").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}
