package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"imagewatch/internal/domain"
)

// ImageRepository

func (db *DB) InsertImage(ctx context.Context, img domain.Image) (domain.Image, error) {
	if img.Status == "" {
		img.Status = domain.StatusPending
	}
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO container_images (user_id, name, registry_url, registry_domain, status,
			critical_vulnerabilities, high_vulnerabilities, medium_vulnerabilities, last_scan)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+imageColumns,
		img.OwnerID, img.Name, img.RegistryURL, img.RegistryDomain, string(img.Status),
		img.Vulnerabilities.Critical, img.Vulnerabilities.High, img.Vulnerabilities.Medium, img.LastScan)
	out, err := scanImage(row)
	if err != nil {
		return domain.Image{}, wrapErr("insert image", err)
	}
	return out, nil
}

func (db *DB) GetImage(ctx context.Context, ownerID, id string) (domain.Image, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+imageColumns+` FROM container_images WHERE id = $1 AND user_id = $2`, id, ownerID)
	img, err := scanImage(row)
	if err != nil {
		return domain.Image{}, wrapErr("get image", err)
	}
	return img, nil
}

func (db *DB) UpdateImage(ctx context.Context, ownerID, id string, upd domain.ImageUpdate) (domain.Image, error) {
	var status *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}
	var crit, high, med *int
	if v := upd.Vulnerabilities; v != nil {
		if err := v.Validate(); err != nil {
			return domain.Image{}, err
		}
		crit, high, med = &v.Critical, &v.High, &v.Medium
	}
	row := db.Pool.QueryRow(ctx, `
		UPDATE container_images SET
			status = COALESCE($3::text, status),
			critical_vulnerabilities = COALESCE($4::integer, critical_vulnerabilities),
			high_vulnerabilities = COALESCE($5::integer, high_vulnerabilities),
			medium_vulnerabilities = COALESCE($6::integer, medium_vulnerabilities),
			last_scan = COALESCE($7::timestamptz, last_scan),
			updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+imageColumns,
		id, ownerID, status, crit, high, med, upd.LastScan)
	img, err := scanImage(row)
	if err != nil {
		return domain.Image{}, wrapErr("update image", err)
	}
	return img, nil
}

// StartScan flips the status in a single conditional UPDATE, so concurrent
// requests for the same image start at most one scan.
func (db *DB) StartScan(ctx context.Context, ownerID, id string, at time.Time) (domain.Image, bool, error) {
	row := db.Pool.QueryRow(ctx, `
		UPDATE container_images SET status = 'scanning', last_scan = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status <> 'scanning'
		RETURNING `+imageColumns,
		id, ownerID, at)
	img, err := scanImage(row)
	if err == nil {
		return img, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Image{}, false, wrapErr("start scan", err)
	}
	// either missing or already scanning
	img, err = db.GetImage(ctx, ownerID, id)
	if err != nil {
		return domain.Image{}, false, err
	}
	return img, false, nil
}

// DeleteImage removes the image row. History rows must already be gone; the
// foreign key rejects the delete otherwise.
func (db *DB) DeleteImage(ctx context.Context, ownerID, id string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM container_images WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return wrapErr("delete image", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) ImageExistsByName(ctx context.Context, ownerID, name string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM container_images WHERE user_id = $1 AND name = $2)
	`, ownerID, name).Scan(&exists)
	if err != nil {
		return false, wrapErr("check image name", err)
	}
	return exists, nil
}

func (db *DB) ListImages(ctx context.Context, ownerID string, filter domain.ImageFilter, since *time.Time) ([]domain.Image, error) {
	filter = filter.Normalize()
	where := []string{"user_id = $1"}
	args := []any{ownerID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Search != "" {
		where = append(where, "name ILIKE '%' || "+arg(escapeLike(filter.Search))+" || '%'")
	}
	switch filter.Severity {
	case domain.SeverityCritical:
		where = append(where, "critical_vulnerabilities > 0")
	case domain.SeverityHigh:
		where = append(where, "high_vulnerabilities > 0")
	case domain.SeverityMedium:
		where = append(where, "medium_vulnerabilities > 0")
	}
	if since != nil {
		where = append(where, "last_scan >= "+arg(*since))
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id::text = ANY("+arg(filter.IDs)+"::text[])")
	}

	rows, err := db.Pool.Query(ctx, `SELECT `+imageColumns+` FROM container_images
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY updated_at DESC`, args...)
	if err != nil {
		return nil, wrapErr("list images", err)
	}
	images, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Image, error) { return scanImage(r) })
	if err != nil {
		return nil, wrapErr("list images", err)
	}
	if len(images) == 0 {
		return images, nil
	}

	history, err := db.historyFor(ctx, ownerID, lo.Map(images, func(img domain.Image, _ int) string { return img.ID }))
	if err != nil {
		return nil, err
	}
	byImage := lo.GroupBy(history, func(h domain.ScanHistoryEntry) string { return h.ImageID })
	for i := range images {
		images[i].History = byImage[images[i].ID]
	}
	return images, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
