// Package session scopes the view cache, reconciler and pollers to one
// authenticated account. A session lives from sign-in until sign-out.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"imagewatch/internal/cache"
	"imagewatch/internal/domain"
	"imagewatch/internal/metrics"
	"imagewatch/internal/notify"
	"imagewatch/internal/ports"
	"imagewatch/internal/reconciler"
	"imagewatch/internal/services/scanner"
	statssvc "imagewatch/internal/services/stats"
)

const (
	DefaultImagesInterval = 10 * time.Second
	DefaultStatsInterval  = 5 * time.Second
)

type Deps struct {
	Store   ports.Store
	Trigger ports.Trigger
	Stats   *statssvc.Service
	Metrics *metrics.Metrics
	Now     func() time.Time

	// Polling backstop in case change-stream delivery is delayed or missed.
	ImagesInterval time.Duration
	StatsInterval  time.Duration
}

type Session struct {
	AccountID string
	View      *cache.ViewCache
	Notes     *notify.Center
	Scanner   *scanner.Service

	stats   *statssvc.Service
	rec     *reconciler.Reconciler
	metrics *metrics.Metrics
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// Open builds the account's cache, subscribes to both change streams and
// starts the reconciler and pollers. A failed subscription is logged; the
// pollers keep the cache correct on their own.
func Open(ctx context.Context, accountID string, d Deps) (*Session, error) {
	if accountID == "" {
		return nil, domain.ErrAuthRequired
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Discard()
	}
	if d.Stats == nil {
		d.Stats = statssvc.New(d.Store)
	}
	if d.ImagesInterval <= 0 {
		d.ImagesInterval = DefaultImagesInterval
	}
	if d.StatsInterval <= 0 {
		d.StatsInterval = DefaultStatsInterval
	}

	view := cache.New(accountID)
	notes := notify.NewCenter(0)
	rec, err := reconciler.New(view, notes, d.Metrics)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		AccountID: accountID,
		View:      view,
		Notes:     notes,
		Scanner: scanner.New(scanner.Deps{
			Images:  d.Store,
			History: d.Store,
			Trigger: d.Trigger,
			Metrics: d.Metrics,
			Now:     d.Now,
		}, view, notes),
		stats:   d.Stats,
		rec:     rec,
		metrics: d.Metrics,
		cancel:  cancel,
	}

	var streams []<-chan domain.ChangeEvent
	for _, entity := range []domain.Entity{domain.EntityImages, domain.EntityScanHistory} {
		ch, err := d.Store.Subscribe(sctx, accountID, entity)
		if err != nil {
			log.Warn().Err(err).Str("account", accountID).Str("entity", string(entity)).Msg("Change stream unavailable, relying on polling")
			continue
		}
		streams = append(streams, ch)
	}
	events := reconciler.Merge(sctx, streams...)

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		rec.Run(sctx, events)
	}()
	go func() {
		defer s.wg.Done()
		poll(sctx, d.ImagesInterval, view.InvalidateImages)
	}()
	go func() {
		defer s.wg.Done()
		poll(sctx, d.StatsInterval, view.InvalidateStats)
	}()

	d.Metrics.ActiveSessions.Inc()
	log.Debug().Str("account", accountID).Int("streams", len(streams)).Msg("Session opened")
	return s, nil
}

func poll(ctx context.Context, every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Stats returns the account's dashboard metrics, recomputing when stale.
func (s *Session) Stats(ctx context.Context) (domain.Stats, error) {
	if st, fresh := s.View.Stats(); fresh {
		return st, nil
	}
	gen := s.View.StatsGeneration()
	st, err := s.stats.Compute(ctx, s.AccountID)
	if err != nil {
		return domain.Stats{}, err
	}
	s.View.PutStats(st, gen)
	return st, nil
}

// Compliance returns the account's compliance summary, recomputing when stale.
func (s *Session) Compliance(ctx context.Context) (domain.Compliance, error) {
	if c, fresh := s.View.Compliance(); fresh {
		return c, nil
	}
	gen := s.View.StatsGeneration()
	c, err := s.stats.Compliance(ctx, s.AccountID)
	if err != nil {
		return domain.Compliance{}, err
	}
	s.View.PutCompliance(c, gen)
	return c, nil
}

// Close stops the background loops and drops cached state. It waits for
// in-flight trigger invocations.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.Scanner.WaitTriggers()
		if err := s.rec.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close reconciler")
		}
		s.View.Close()
		s.metrics.ActiveSessions.Dec()
		log.Debug().Str("account", s.AccountID).Msg("Session closed")
	})
}
