package postgres

import (
	"context"
	"strings"
	"time"

	"imagewatch/internal/domain"
)

// StatsRepository

func (db *DB) CountImages(ctx context.Context, ownerID string, f domain.CountFilter) (int, error) {
	where := []string{"user_id = $1"}
	args := []any{ownerID}
	if f.MinCritical {
		where = append(where, "critical_vulnerabilities > 0")
	}
	if f.MinHigh {
		where = append(where, "high_vulnerabilities > 0")
	}
	if f.CreatedOnOrBefore != nil {
		args = append(args, *f.CreatedOnOrBefore)
		where = append(where, "created_at <= $2")
	}
	var n int
	err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM container_images WHERE `+strings.Join(where, " AND "), args...).Scan(&n)
	if err != nil {
		return 0, wrapErr("count images", err)
	}
	return n, nil
}

func (db *DB) CountScansStarted(ctx context.Context, ownerID string, from time.Time, to *time.Time) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM scan_history
		WHERE user_id = $1 AND scan_started_at >= $2
			AND ($3::timestamptz IS NULL OR scan_started_at < $3)
	`, ownerID, from, to).Scan(&n)
	if err != nil {
		return 0, wrapErr("count scans", err)
	}
	return n, nil
}
