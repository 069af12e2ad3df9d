// Package reconciler folds change-stream events into a view cache. It never
// writes to the store: it only marks cached state stale and emits
// notifications.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/rs/zerolog/log"

	"imagewatch/internal/cache"
	"imagewatch/internal/domain"
	"imagewatch/internal/metrics"
	"imagewatch/internal/notify"
)

// dedupeWindow bounds how long a delivered event id is remembered.
const dedupeWindow = 10 * time.Minute

type Reconciler struct {
	view    *cache.ViewCache
	notes   notify.Notifier
	metrics *metrics.Metrics
	seen    *bigcache.BigCache
}

func New(view *cache.ViewCache, notes notify.Notifier, m *metrics.Metrics) (*Reconciler, error) {
	cfg := bigcache.DefaultConfig(dedupeWindow)
	cfg.Shards = 16
	cfg.MaxEntriesInWindow = 1024
	cfg.MaxEntrySize = 64
	cfg.HardMaxCacheSize = 8 // MB
	seen, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create event dedupe cache: %w", err)
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Reconciler{view: view, notes: notes, metrics: m, seen: seen}, nil
}

// Close releases the dedupe cache.
func (r *Reconciler) Close() error { return r.seen.Close() }

// Run applies events until ctx is done or events is closed.
func (r *Reconciler) Run(ctx context.Context, events <-chan domain.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Apply(ev)
		}
	}
}

// Apply folds a single event into the view cache. Redelivered events (same
// id) are skipped; applying any event twice has the same effect as once.
func (r *Reconciler) Apply(ev domain.ChangeEvent) {
	if r.duplicate(ev.ID) {
		r.metrics.DuplicateEvents.Inc()
		return
	}
	r.metrics.EventsReconciled.WithLabelValues(string(ev.Entity), string(ev.Kind)).Inc()

	// every event on either stream can change the image list projection
	r.view.InvalidateImages()

	switch ev.Entity {
	case domain.EntityImages:
		r.applyImage(ev)
	case domain.EntityScanHistory:
		r.view.InvalidateStats()
	default:
		log.Debug().Str("entity", string(ev.Entity)).Msg("Ignoring change event for unknown entity")
	}
}

func (r *Reconciler) applyImage(ev domain.ChangeEvent) {
	switch ev.Kind {
	case domain.EventInsert:
		r.view.InvalidateStats()
		if ev.ImageAfter != nil {
			r.notes.Notify(notify.Success(fmt.Sprintf("New image added: %s", ev.ImageAfter.Name)))
		}
	case domain.EventDelete:
		r.view.InvalidateStats()
		if ev.ImageBefore != nil {
			r.notes.Notify(notify.Info(fmt.Sprintf("Image removed: %s", ev.ImageBefore.Name)))
		}
	case domain.EventUpdate:
		before, after := ev.ImageBefore, ev.ImageAfter
		if before == nil || after == nil {
			// without both snapshots nothing can be diffed
			r.view.InvalidateStats()
			return
		}
		if before.Status != after.Status {
			r.notifyStatus(*after)
		}
		if before.Vulnerabilities.Changed(after.Vulnerabilities) {
			r.view.InvalidateStats()
		}
	}
}

// StatusKey is the notification key for an image's scan progress.
func StatusKey(imageID string) string { return "scan-" + imageID }

func (r *Reconciler) notifyStatus(img domain.Image) {
	key := StatusKey(img.ID)
	switch img.Status {
	case domain.StatusScanning:
		r.notes.Notify(notify.Progress(key, fmt.Sprintf("Scanning %s...", img.Name)))
	case domain.StatusComplete:
		r.notes.Notify(notify.Success(fmt.Sprintf("Scan completed for %s", img.Name)).Keyed(key))
	case domain.StatusFailed:
		r.notes.Notify(notify.Error(fmt.Sprintf("Scan failed for %s", img.Name)).Keyed(key))
	}
}

func (r *Reconciler) duplicate(id string) bool {
	if id == "" {
		return false
	}
	if _, err := r.seen.Get(id); err == nil {
		return true
	}
	if err := r.seen.Set(id, []byte{1}); err != nil {
		log.Debug().Err(err).Str("event", id).Msg("Failed to remember event id")
	}
	return false
}

// Merge fans several event channels into one. The result is closed once all
// inputs are closed or ctx is done.
func Merge(ctx context.Context, inputs ...<-chan domain.ChangeEvent) <-chan domain.ChangeEvent {
	out := make(chan domain.ChangeEvent)
	var wg sync.WaitGroup
	for _, in := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
