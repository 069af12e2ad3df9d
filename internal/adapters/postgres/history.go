package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"imagewatch/internal/domain"
)

// HistoryRepository

func (db *DB) InsertHistory(ctx context.Context, entry domain.ScanHistoryEntry) (domain.ScanHistoryEntry, error) {
	if entry.Status == "" {
		entry.Status = domain.StatusPending
	}
	if entry.Findings == nil {
		entry.Findings = map[string]int{}
	}
	var started any
	if !entry.StartedAt.IsZero() {
		started = entry.StartedAt
	}
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO scan_history (image_id, user_id, status, scan_started_at, scan_completed_at, vulnerabilities_found)
		VALUES ($1, $2, $3, COALESCE($4::timestamptz, now()), $5, $6)
		RETURNING `+historyColumns,
		entry.ImageID, entry.OwnerID, string(entry.Status), started, entry.CompletedAt, entry.Findings)
	out, err := scanHistory(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
			return domain.ScanHistoryEntry{}, domain.ErrNotFound
		}
		return domain.ScanHistoryEntry{}, wrapErr("insert history", err)
	}
	return out, nil
}

func (db *DB) ListHistory(ctx context.Context, ownerID, imageID string) ([]domain.ScanHistoryEntry, error) {
	return db.historyFor(ctx, ownerID, []string{imageID})
}

func (db *DB) DeleteHistoryForImage(ctx context.Context, ownerID, imageID string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM scan_history WHERE image_id = $1 AND user_id = $2`, imageID, ownerID)
	return wrapErr("delete history", err)
}

func (db *DB) historyFor(ctx context.Context, ownerID string, imageIDs []string) ([]domain.ScanHistoryEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+historyColumns+` FROM scan_history
		WHERE user_id = $1 AND image_id::text = ANY($2::text[])
		ORDER BY scan_started_at, id
	`, ownerID, imageIDs)
	if err != nil {
		return nil, wrapErr("list history", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ScanHistoryEntry, error) { return scanHistory(r) })
	if err != nil {
		return nil, wrapErr("list history", err)
	}
	return out, nil
}
