// Package memory is an in-process implementation of the store ports. It backs
// the server when no database is configured and the service-level tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"imagewatch/internal/domain"
	"imagewatch/internal/ports"
)

var _ ports.Store = (*Store)(nil)

// ErrConstraint mirrors a foreign-key violation: an image cannot be removed
// while history rows reference it.
var ErrConstraint = errors.New("constraint violation")

type historyRow struct {
	seq   int64
	entry domain.ScanHistoryEntry
}

type Store struct {
	mu      sync.Mutex
	images  map[string]domain.Image
	history map[string]historyRow
	seq     int64

	subsMu sync.RWMutex
	subs   map[*subscriber]struct{}

	now func() time.Time
}

func New() *Store {
	return &Store{
		images:  make(map[string]domain.Image),
		history: make(map[string]historyRow),
		subs:    make(map[*subscriber]struct{}),
		now:     time.Now,
	}
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) InsertImage(ctx context.Context, img domain.Image) (domain.Image, error) {
	s.mu.Lock()
	for _, existing := range s.images {
		if existing.OwnerID == img.OwnerID && existing.Name == img.Name {
			s.mu.Unlock()
			return domain.Image{}, domain.ErrDuplicateName
		}
	}
	now := s.now()
	img.ID = uuid.NewString()
	img.CreatedAt = now
	img.UpdatedAt = now
	img.History = nil
	s.images[img.ID] = img.Clone()
	s.mu.Unlock()

	after := img.Clone()
	s.publish(domain.ChangeEvent{Entity: domain.EntityImages, Kind: domain.EventInsert, OwnerID: img.OwnerID, ImageAfter: &after})
	return img, nil
}

func (s *Store) GetImage(ctx context.Context, ownerID, id string) (domain.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok || img.OwnerID != ownerID {
		return domain.Image{}, domain.ErrNotFound
	}
	return img.Clone(), nil
}

func (s *Store) UpdateImage(ctx context.Context, ownerID, id string, upd domain.ImageUpdate) (domain.Image, error) {
	s.mu.Lock()
	img, ok := s.images[id]
	if !ok || img.OwnerID != ownerID {
		s.mu.Unlock()
		return domain.Image{}, domain.ErrNotFound
	}
	before := img.Clone()
	if upd.Status != nil {
		img.Status = *upd.Status
	}
	if upd.Vulnerabilities != nil {
		img.Vulnerabilities = *upd.Vulnerabilities
	}
	if upd.LastScan != nil {
		t := *upd.LastScan
		img.LastScan = &t
	}
	img.UpdatedAt = s.now()
	s.images[id] = img
	after := img.Clone()
	s.mu.Unlock()

	s.publish(domain.ChangeEvent{Entity: domain.EntityImages, Kind: domain.EventUpdate, OwnerID: ownerID, ImageBefore: &before, ImageAfter: &after})
	return img.Clone(), nil
}

func (s *Store) StartScan(ctx context.Context, ownerID, id string, at time.Time) (domain.Image, bool, error) {
	s.mu.Lock()
	img, ok := s.images[id]
	if !ok || img.OwnerID != ownerID {
		s.mu.Unlock()
		return domain.Image{}, false, domain.ErrNotFound
	}
	if !domain.CanStartScan(img.Status) {
		s.mu.Unlock()
		return img.Clone(), false, nil
	}
	before := img.Clone()
	img.Status = domain.StatusScanning
	img.LastScan = &at
	img.UpdatedAt = s.now()
	s.images[id] = img
	after := img.Clone()
	s.mu.Unlock()

	s.publish(domain.ChangeEvent{Entity: domain.EntityImages, Kind: domain.EventUpdate, OwnerID: ownerID, ImageBefore: &before, ImageAfter: &after})
	return img.Clone(), true, nil
}

func (s *Store) DeleteImage(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	img, ok := s.images[id]
	if !ok || img.OwnerID != ownerID {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	if _, ok := lo.FindKeyBy(s.history, func(_ string, row historyRow) bool { return row.entry.ImageID == id }); ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: image %s still has scan history", ErrConstraint, id)
	}
	delete(s.images, id)
	s.mu.Unlock()

	s.publish(domain.ChangeEvent{Entity: domain.EntityImages, Kind: domain.EventDelete, OwnerID: ownerID, ImageBefore: &img})
	return nil
}

func (s *Store) ListImages(ctx context.Context, ownerID string, filter domain.ImageFilter, since *time.Time) ([]domain.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Image, 0)
	for _, img := range s.images {
		if img.OwnerID != ownerID || !filter.Matches(img, since) {
			continue
		}
		c := img.Clone()
		c.History = s.historyFor(ownerID, img.ID)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) ImageExistsByName(ctx context.Context, ownerID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := lo.Find(lo.Values(s.images), func(img domain.Image) bool {
		return img.OwnerID == ownerID && img.Name == name
	})
	return found, nil
}

func (s *Store) InsertHistory(ctx context.Context, entry domain.ScanHistoryEntry) (domain.ScanHistoryEntry, error) {
	s.mu.Lock()
	img, ok := s.images[entry.ImageID]
	if !ok || img.OwnerID != entry.OwnerID {
		s.mu.Unlock()
		return domain.ScanHistoryEntry{}, domain.ErrNotFound
	}
	s.seq++
	entry.ID = uuid.NewString()
	if entry.StartedAt.IsZero() {
		entry.StartedAt = s.now()
	}
	if entry.Findings == nil {
		entry.Findings = map[string]int{}
	}
	s.history[entry.ID] = historyRow{seq: s.seq, entry: entry.Clone()}
	s.mu.Unlock()

	after := entry.Clone()
	s.publish(domain.ChangeEvent{Entity: domain.EntityScanHistory, Kind: domain.EventInsert, OwnerID: entry.OwnerID, HistoryAfter: &after})
	return entry, nil
}

func (s *Store) ListHistory(ctx context.Context, ownerID, imageID string) ([]domain.ScanHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyFor(ownerID, imageID), nil
}

func (s *Store) DeleteHistoryForImage(ctx context.Context, ownerID, imageID string) error {
	s.mu.Lock()
	var removed []domain.ScanHistoryEntry
	for id, row := range s.history {
		if row.entry.ImageID == imageID && row.entry.OwnerID == ownerID {
			removed = append(removed, row.entry)
			delete(s.history, id)
		}
	}
	s.mu.Unlock()

	for i := range removed {
		before := removed[i]
		s.publish(domain.ChangeEvent{Entity: domain.EntityScanHistory, Kind: domain.EventDelete, OwnerID: ownerID, HistoryBefore: &before})
	}
	return nil
}

func (s *Store) CountImages(ctx context.Context, ownerID string, f domain.CountFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.CountBy(lo.Values(s.images), func(img domain.Image) bool {
		if img.OwnerID != ownerID {
			return false
		}
		if f.MinCritical && img.Vulnerabilities.Critical <= 0 {
			return false
		}
		if f.MinHigh && img.Vulnerabilities.High <= 0 {
			return false
		}
		if f.CreatedOnOrBefore != nil && img.CreatedAt.After(*f.CreatedOnOrBefore) {
			return false
		}
		return true
	}), nil
}

func (s *Store) CountScansStarted(ctx context.Context, ownerID string, from time.Time, to *time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.history {
		e := row.entry
		if e.OwnerID == ownerID && !e.StartedAt.Before(from) && (to == nil || e.StartedAt.Before(*to)) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListScanning(ctx context.Context) ([]ports.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]ports.ScanJob, 0)
	for _, img := range s.images {
		if img.Status == domain.StatusScanning {
			jobs = append(jobs, ports.ScanJob{ImageID: img.ID, OwnerID: img.OwnerID, Name: img.Name})
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return strings.Compare(jobs[i].ImageID, jobs[j].ImageID) < 0 })
	return jobs, nil
}

func (s *Store) CompleteScan(ctx context.Context, job ports.ScanJob, status domain.Status, counts domain.Vulnerabilities, at time.Time) error {
	s.mu.Lock()
	img, ok := s.images[job.ImageID]
	if !ok || img.OwnerID != job.OwnerID {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	if img.Status != domain.StatusScanning {
		s.mu.Unlock()
		return nil
	}
	var events []domain.ChangeEvent
	before := img.Clone()
	img.Status = status
	if status != domain.StatusFailed {
		img.Vulnerabilities = counts
	}
	img.LastScan = &at
	img.UpdatedAt = at
	s.images[img.ID] = img
	after := img.Clone()
	events = append(events, domain.ChangeEvent{Entity: domain.EntityImages, Kind: domain.EventUpdate, OwnerID: img.OwnerID, ImageBefore: &before, ImageAfter: &after})

	for id, row := range s.history {
		if row.entry.ImageID != img.ID || row.entry.Status != domain.StatusScanning {
			continue
		}
		hb := row.entry.Clone()
		row.entry.Status = status
		completed := at
		row.entry.CompletedAt = &completed
		if status != domain.StatusFailed {
			row.entry.Findings = counts.Findings()
		}
		s.history[id] = row
		ha := row.entry.Clone()
		events = append(events, domain.ChangeEvent{Entity: domain.EntityScanHistory, Kind: domain.EventUpdate, OwnerID: img.OwnerID, HistoryBefore: &hb, HistoryAfter: &ha})
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.publish(ev)
	}
	return nil
}

// historyFor must be called with s.mu held.
func (s *Store) historyFor(ownerID, imageID string) []domain.ScanHistoryEntry {
	rows := lo.Filter(lo.Values(s.history), func(r historyRow, _ int) bool {
		return r.entry.ImageID == imageID && r.entry.OwnerID == ownerID
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	return lo.Map(rows, func(r historyRow, _ int) domain.ScanHistoryEntry { return r.entry.Clone() })
}
