package postgres

import (
	"time"

	"github.com/jackc/pgx/v5"

	"imagewatch/internal/domain"
)

const imageColumns = `id::text, user_id, name, registry_url, registry_domain, status,
	critical_vulnerabilities, high_vulnerabilities, medium_vulnerabilities,
	last_scan, created_at, updated_at`

const historyColumns = `id::text, image_id::text, user_id, status, scan_started_at,
	scan_completed_at, vulnerabilities_found`

func scanImage(row pgx.Row) (domain.Image, error) {
	var img domain.Image
	var status string
	err := row.Scan(&img.ID, &img.OwnerID, &img.Name, &img.RegistryURL, &img.RegistryDomain, &status,
		&img.Vulnerabilities.Critical, &img.Vulnerabilities.High, &img.Vulnerabilities.Medium,
		&img.LastScan, &img.CreatedAt, &img.UpdatedAt)
	img.Status = domain.Status(status)
	return img, err
}

func scanHistory(row pgx.Row) (domain.ScanHistoryEntry, error) {
	var h domain.ScanHistoryEntry
	var status string
	err := row.Scan(&h.ID, &h.ImageID, &h.OwnerID, &status, &h.StartedAt, &h.CompletedAt, &h.Findings)
	h.Status = domain.Status(status)
	return h, err
}

// imageRecord and historyRecord mirror the row JSON produced by to_jsonb in
// the change-notify trigger.
type imageRecord struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	RegistryURL    *string    `json:"registry_url"`
	RegistryDomain *string    `json:"registry_domain"`
	Status         string     `json:"status"`
	Critical       int        `json:"critical_vulnerabilities"`
	High           int        `json:"high_vulnerabilities"`
	Medium         int        `json:"medium_vulnerabilities"`
	LastScan       *time.Time `json:"last_scan"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (r imageRecord) toDomain() *domain.Image {
	return &domain.Image{
		ID:             r.ID,
		OwnerID:        r.UserID,
		Name:           r.Name,
		RegistryURL:    r.RegistryURL,
		RegistryDomain: r.RegistryDomain,
		Status:         domain.Status(r.Status),
		Vulnerabilities: domain.Vulnerabilities{
			Critical: r.Critical,
			High:     r.High,
			Medium:   r.Medium,
		},
		LastScan:  r.LastScan,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type historyRecord struct {
	ID          string         `json:"id"`
	ImageID     string         `json:"image_id"`
	UserID      string         `json:"user_id"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"scan_started_at"`
	CompletedAt *time.Time     `json:"scan_completed_at"`
	Findings    map[string]int `json:"vulnerabilities_found"`
}

func (r historyRecord) toDomain() *domain.ScanHistoryEntry {
	return &domain.ScanHistoryEntry{
		ID:          r.ID,
		ImageID:     r.ImageID,
		OwnerID:     r.UserID,
		Status:      domain.Status(r.Status),
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Findings:    r.Findings,
	}
}
