package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"imagewatch/internal/domain"
	"imagewatch/internal/ports"
)

// ListScanning returns every image in scanning status across all accounts,
// oldest scan first.
func (db *DB) ListScanning(ctx context.Context) ([]ports.ScanJob, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id::text, user_id, name FROM container_images
		WHERE status = 'scanning'
		ORDER BY last_scan NULLS FIRST
	`)
	if err != nil {
		return nil, wrapErr("list scanning", err)
	}
	jobs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (ports.ScanJob, error) {
		var j ports.ScanJob
		err := r.Scan(&j.ImageID, &j.OwnerID, &j.Name)
		return j, err
	})
	if err != nil {
		return nil, wrapErr("list scanning", err)
	}
	return jobs, nil
}

// CompleteScan concludes the image and its in-flight history rows atomically.
// The image row is locked first; if it is no longer scanning the call is a no-op.
func (db *DB) CompleteScan(ctx context.Context, job ports.ScanJob, status domain.Status, counts domain.Vulnerabilities, at time.Time) (err error) {
	if err := counts.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapErr("begin complete scan", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = wrapErr("commit complete scan", tx.Commit(ctx))
		}
	}()

	var current string
	err = tx.QueryRow(ctx, `
		SELECT status FROM container_images WHERE id = $1 AND user_id = $2 FOR UPDATE
	`, job.ImageID, job.OwnerID).Scan(&current)
	if err != nil {
		return wrapErr("lock image", err)
	}
	if domain.Status(current) != domain.StatusScanning {
		return nil
	}

	// a failed scan reports nothing, so the last known counts stay
	if status == domain.StatusFailed {
		if _, err = tx.Exec(ctx, `
			UPDATE container_images SET status = $3, last_scan = $4, updated_at = now()
			WHERE id = $1 AND user_id = $2
		`, job.ImageID, job.OwnerID, string(status), at); err != nil {
			return wrapErr("fail image", err)
		}
		if _, err = tx.Exec(ctx, `
			UPDATE scan_history SET status = $3, scan_completed_at = $4
			WHERE image_id = $1 AND user_id = $2 AND status = 'scanning'
		`, job.ImageID, job.OwnerID, string(status), at); err != nil {
			return wrapErr("fail history", err)
		}
		return nil
	}

	if _, err = tx.Exec(ctx, `
		UPDATE container_images SET status = $3,
			critical_vulnerabilities = $4, high_vulnerabilities = $5, medium_vulnerabilities = $6,
			last_scan = $7, updated_at = now()
		WHERE id = $1 AND user_id = $2
	`, job.ImageID, job.OwnerID, string(status), counts.Critical, counts.High, counts.Medium, at); err != nil {
		return wrapErr("complete image", err)
	}
	if _, err = tx.Exec(ctx, `
		UPDATE scan_history SET status = $3, scan_completed_at = $4, vulnerabilities_found = $5
		WHERE image_id = $1 AND user_id = $2 AND status = 'scanning'
	`, job.ImageID, job.OwnerID, string(status), at, counts.Findings()); err != nil {
		return wrapErr("complete history", err)
	}
	return nil
}
