package ports

import (
	"context"
	"time"

	"imagewatch/internal/domain"
)

// ScanJob is an image currently in scanning status, as seen by the scan
// trigger service.
type ScanJob struct {
	ImageID string
	OwnerID string
	Name    string
}

// ScanCompleter supports listing in-flight scans and concluding them. It
// operates across all accounts.
type ScanCompleter interface {
	ListScanning(ctx context.Context) ([]ScanJob, error)
	// CompleteScan writes the outcome to the image and to every history row
	// of that image still in scanning status, atomically. A failed outcome
	// leaves the image's vulnerability counts as they were.
	CompleteScan(ctx context.Context, job ScanJob, status domain.Status, counts domain.Vulnerabilities, at time.Time) error
}
