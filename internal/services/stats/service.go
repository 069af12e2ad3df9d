package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"imagewatch/internal/domain"
	"imagewatch/internal/ports"
)

const (
	PeriodLastMonth = "last month"
	PeriodYesterday = "yesterday"
)

type Service struct {
	repo             ports.StatsRepository
	comparisonMonths int
	now              func() time.Time
}

type Option func(*Service)

// WithComparisonMonths sets how far back the image metrics compare against.
func WithComparisonMonths(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.comparisonMonths = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(repo ports.StatsRepository, opts ...Option) *Service {
	s := &Service{repo: repo, comparisonMonths: 1, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CalcChange is the rounded percentage change from previous to current. A
// zero baseline yields 100 when current is positive and 0 otherwise. Negative
// results are not clamped.
func CalcChange(current, previous int) int {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	pct := float64(current-previous) / float64(previous) * 100
	return int(math.Floor(pct + 0.5))
}

// Compute derives the four dashboard metrics for ownerID.
func (s *Service) Compute(ctx context.Context, ownerID string) (domain.Stats, error) {
	now := s.now()
	comparison := now.AddDate(0, -s.comparisonMonths, 0)
	dayAgo := now.Add(-24 * time.Hour)
	twoDaysAgo := now.Add(-48 * time.Hour)

	var (
		total, totalPrev       int
		critical, criticalPrev int
		high, highPrev         int
		scanned, scannedPrev   int
	)
	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int, f domain.CountFilter) {
		g.Go(func() error {
			n, err := s.repo.CountImages(gctx, ownerID, f)
			*dst = n
			return err
		})
	}
	count(&total, domain.CountFilter{})
	count(&totalPrev, domain.CountFilter{CreatedOnOrBefore: &comparison})
	count(&critical, domain.CountFilter{MinCritical: true})
	count(&criticalPrev, domain.CountFilter{MinCritical: true, CreatedOnOrBefore: &comparison})
	count(&high, domain.CountFilter{MinHigh: true})
	count(&highPrev, domain.CountFilter{MinHigh: true, CreatedOnOrBefore: &comparison})
	g.Go(func() error {
		n, err := s.repo.CountScansStarted(gctx, ownerID, dayAgo, nil)
		scanned = n
		return err
	})
	g.Go(func() error {
		n, err := s.repo.CountScansStarted(gctx, ownerID, twoDaysAgo, &dayAgo)
		scannedPrev = n
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Stats{}, fmt.Errorf("compute stats: %w", err)
	}

	period := PeriodLastMonth
	if s.comparisonMonths > 1 {
		period = fmt.Sprintf("last %d months", s.comparisonMonths)
	}
	return domain.Stats{
		TotalImages:    domain.Metric{Value: total, Change: CalcChange(total, totalPrev), Period: period},
		CriticalIssues: domain.Metric{Value: critical, Change: CalcChange(critical, criticalPrev), Period: period},
		HighRisk:       domain.Metric{Value: high, Change: CalcChange(high, highPrev), Period: period},
		ScannedToday:   domain.Metric{Value: scanned, Change: CalcChange(scanned, scannedPrev), Period: PeriodYesterday},
	}, nil
}
