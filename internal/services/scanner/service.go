package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"imagewatch/internal/cache"
	"imagewatch/internal/domain"
	"imagewatch/internal/metrics"
	"imagewatch/internal/notify"
	"imagewatch/internal/ports"
)

// TriggerName is the worker signalled after a scan is requested.
const TriggerName = "scan-simulator"

const triggerTimeout = 30 * time.Second

type Deps struct {
	Images  ports.ImageRepository
	History ports.HistoryRepository
	Trigger ports.Trigger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Service drives the scan lifecycle for one account. It writes through to the
// store, keeps the account's view cache coherent and reports every outcome
// to the notifier exactly once.
type Service struct {
	images  ports.ImageRepository
	history ports.HistoryRepository
	trigger ports.Trigger
	metrics *metrics.Metrics
	now     func() time.Time

	ownerID string
	view    *cache.ViewCache
	notes   notify.Notifier

	inflight sync.WaitGroup
}

func New(d Deps, view *cache.ViewCache, notes notify.Notifier) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Discard()
	}
	return &Service{
		images:  d.Images,
		history: d.History,
		trigger: d.Trigger,
		metrics: d.Metrics,
		now:     d.Now,
		ownerID: view.AccountID(),
		view:    view,
		notes:   notes,
	}
}

// owner checks that ctx is authenticated as the account this service serves.
func (s *Service) owner(ctx context.Context) (string, error) {
	id, err := domain.AccountFrom(ctx)
	if err != nil {
		return "", err
	}
	if id != s.ownerID {
		return "", domain.ErrAuthRequired
	}
	return id, nil
}

func (s *Service) invalidate() {
	s.view.InvalidateImages()
	s.view.InvalidateStats()
}

// CreateImage registers a new image in pending status together with its
// initial history entry.
func (s *Service) CreateImage(ctx context.Context, name string, registryURL string) (domain.Image, error) {
	img, err := s.createImage(ctx, name, registryURL)
	if err != nil {
		s.notes.Notify(notify.Error(err.Error()))
		return domain.Image{}, err
	}
	s.notes.Notify(notify.Success(fmt.Sprintf("Image %s added successfully", img.Name)))
	return img, nil
}

func (s *Service) createImage(ctx context.Context, name string, registryURL string) (domain.Image, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return domain.Image{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Image{}, domain.ErrInvalidName
	}
	regURL, regDomain, err := normalizeRegistry(registryURL)
	if err != nil {
		return domain.Image{}, err
	}

	exists, err := s.images.ImageExistsByName(ctx, owner, name)
	if err != nil {
		return domain.Image{}, err
	}
	if exists {
		return domain.Image{}, domain.ErrDuplicateName
	}

	img, err := s.images.InsertImage(ctx, domain.Image{
		OwnerID:        owner,
		Name:           name,
		RegistryURL:    regURL,
		RegistryDomain: regDomain,
		Status:         domain.StatusPending,
	})
	if err != nil {
		return domain.Image{}, err
	}
	s.invalidate()

	entry, err := s.history.InsertHistory(ctx, domain.ScanHistoryEntry{
		ImageID:   img.ID,
		OwnerID:   owner,
		Status:    domain.StatusPending,
		StartedAt: s.now(),
	})
	if err != nil {
		// an image never exists without its initial history entry
		if derr := s.images.DeleteImage(ctx, owner, img.ID); derr != nil {
			log.Error().Err(derr).Str("image", img.ID).Msg("Failed to remove image after history insert failed")
		}
		s.invalidate()
		return domain.Image{}, fmt.Errorf("create initial scan history for %s: %w", img.Name, err)
	}
	img.History = []domain.ScanHistoryEntry{entry}
	log.Info().Str("image", img.ID).Str("name", img.Name).Msg("Image registered")
	return img, nil
}

// RequestScan moves the image to scanning and signals the scan trigger
// service. A trigger failure is logged and counted but never returned: the
// state transition is already committed and stays in flight.
func (s *Service) RequestScan(ctx context.Context, imageID string) (domain.Image, error) {
	img, started, err := s.requestScan(ctx, imageID)
	switch {
	case err != nil:
		s.notes.Notify(notify.Error(fmt.Sprintf("Failed to start scan: %v", err)))
	case !started:
		s.notes.Notify(notify.Info(fmt.Sprintf("Scan already in progress for %s", img.Name)))
	default:
		s.notes.Notify(notify.Success("Scan started successfully"))
	}
	return img, err
}

func (s *Service) requestScan(ctx context.Context, imageID string) (domain.Image, bool, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return domain.Image{}, false, err
	}
	now := s.now()
	img, started, err := s.images.StartScan(ctx, owner, imageID, now)
	if err != nil {
		return domain.Image{}, false, err
	}
	if !started {
		return img, false, nil
	}
	s.invalidate()

	if _, err := s.history.InsertHistory(ctx, domain.ScanHistoryEntry{
		ImageID:   imageID,
		OwnerID:   owner,
		Status:    domain.StatusScanning,
		StartedAt: now,
	}); err != nil {
		return img, false, fmt.Errorf("record scan history for %s: %w", img.Name, err)
	}
	s.metrics.ScansRequested.Inc()
	s.dispatch(ctx)
	return img, true, nil
}

// dispatch invokes the trigger on a detached goroutine. Its outcome is only
// observable through logs and the trigger_failures_total metric.
func (s *Service) dispatch(ctx context.Context) {
	if s.trigger == nil {
		return
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), triggerTimeout)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()
		if err := s.trigger.Invoke(tctx, TriggerName); err != nil {
			terr := &domain.TriggerInvokeError{Trigger: TriggerName, Err: err}
			s.metrics.TriggerFailures.Inc()
			log.Warn().Err(terr).Str("owner", s.ownerID).Msg("Error triggering scan simulator")
		}
	}()
}

// WaitTriggers blocks until every dispatched trigger invocation returned.
func (s *Service) WaitTriggers() { s.inflight.Wait() }

// DeleteImage removes the image's history and then the image. The image is
// dropped from the view cache first and restored if either delete fails.
func (s *Service) DeleteImage(ctx context.Context, imageID string) error {
	if err := s.deleteImage(ctx, imageID); err != nil {
		s.notes.Notify(notify.Error(err.Error()))
		return err
	}
	s.notes.Notify(notify.Success("Image deleted successfully"))
	return nil
}

func (s *Service) deleteImage(ctx context.Context, imageID string) error {
	owner, err := s.owner(ctx)
	if err != nil {
		return err
	}
	pending := s.view.BeginRemove(imageID)
	if err := s.history.DeleteHistoryForImage(ctx, owner, imageID); err != nil {
		s.view.Rollback(pending)
		return fmt.Errorf("delete scan history: %w", err)
	}
	if err := s.images.DeleteImage(ctx, owner, imageID); err != nil {
		s.view.Rollback(pending)
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete image: %w", err)
	}
	s.view.Commit(pending)
	s.invalidate()
	return nil
}

// Refresh marks the cached image list and stats stale.
func (s *Service) Refresh(ctx context.Context) error {
	if _, err := s.owner(ctx); err != nil {
		return err
	}
	s.invalidate()
	s.notes.Notify(notify.Info("Refreshing images..."))
	return nil
}

// ListImages reads the filtered image list through the view cache.
func (s *Service) ListImages(ctx context.Context, filter domain.ImageFilter) ([]domain.Image, error) {
	owner, err := s.owner(ctx)
	if err != nil {
		return nil, err
	}
	filter = filter.Normalize()
	key := filter.Key()
	if imgs, fresh := s.view.Images(key); fresh {
		return imgs, nil
	}
	gen := s.view.ImagesGeneration()
	imgs, err := s.images.ListImages(ctx, owner, filter, filter.Since(s.now()))
	if err != nil {
		return nil, err
	}
	s.view.PutImages(key, imgs, gen)
	return imgs, nil
}
