package ports

import (
	"context"
	"time"

	"imagewatch/internal/domain"
)

// ImageRepository stores images scoped to their owning account. Every method
// takes the owner id as a mandatory filter.
type ImageRepository interface {
	// InsertImage persists img and returns the stored row. A name collision
	// within the owner's scope yields domain.ErrDuplicateName.
	InsertImage(ctx context.Context, img domain.Image) (domain.Image, error)
	GetImage(ctx context.Context, ownerID, id string) (domain.Image, error)
	UpdateImage(ctx context.Context, ownerID, id string, upd domain.ImageUpdate) (domain.Image, error)
	// StartScan moves the image to scanning and stamps last_scan, unless it is
	// already scanning. started reports whether this call made the transition;
	// when it did not, the current row is returned unchanged.
	StartScan(ctx context.Context, ownerID, id string, at time.Time) (img domain.Image, started bool, err error)
	DeleteImage(ctx context.Context, ownerID, id string) error
	// ListImages returns matching images ordered by updated_at descending with
	// their scan history attached.
	ListImages(ctx context.Context, ownerID string, filter domain.ImageFilter, since *time.Time) ([]domain.Image, error)
	ImageExistsByName(ctx context.Context, ownerID, name string) (bool, error)
}

// HistoryRepository manages the scan-history log.
type HistoryRepository interface {
	InsertHistory(ctx context.Context, entry domain.ScanHistoryEntry) (domain.ScanHistoryEntry, error)
	ListHistory(ctx context.Context, ownerID, imageID string) ([]domain.ScanHistoryEntry, error)
	DeleteHistoryForImage(ctx context.Context, ownerID, imageID string) error
}

// StatsRepository provides the counts the stats aggregator rolls up.
type StatsRepository interface {
	CountImages(ctx context.Context, ownerID string, f domain.CountFilter) (int, error)
	// CountScansStarted counts history rows with from <= scan_started_at < to.
	// A nil to leaves the window open-ended.
	CountScansStarted(ctx context.Context, ownerID string, from time.Time, to *time.Time) (int, error)
}

// ChangeStream delivers row mutations for one entity, scoped to ownerID. The
// returned channel is closed when ctx is done or the stream fails.
// Delivery is at-least-once and unordered across entities.
type ChangeStream interface {
	Subscribe(ctx context.Context, ownerID string, entity domain.Entity) (<-chan domain.ChangeEvent, error)
}

// Store is everything the services need from a backing store.
type Store interface {
	ImageRepository
	HistoryRepository
	StatsRepository
	ChangeStream
	ScanCompleter
}
