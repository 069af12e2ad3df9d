package stats

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"imagewatch/internal/domain"
)

const (
	criticalPenalty = 15
	highPenalty     = 5
)

// ComplianceScore is 100 minus the per-image penalties, floored at 0.
func ComplianceScore(criticalImages, highImages int) int {
	return max(0, 100-(criticalImages*criticalPenalty+highImages*highPenalty))
}

func Level(score int) domain.ComplianceLevel {
	switch {
	case score >= 90:
		return domain.Compliant
	case score >= 70:
		return domain.AtRisk
	default:
		return domain.NonCompliant
	}
}

// Recommendations lists remediation hints for a non-compliant summary.
func Recommendations(c domain.Compliance) []string {
	if c.Level == domain.Compliant {
		return nil
	}
	var out []string
	if c.CriticalImages > 0 {
		out = append(out, fmt.Sprintf("Address critical vulnerabilities in %d images", c.CriticalImages))
	}
	if c.HighImages > 0 {
		out = append(out, fmt.Sprintf("Resolve high-risk issues in %d images", c.HighImages))
	}
	return append(out,
		"Regular scanning of all container images",
		"Implement image signing and verification",
	)
}

// Compliance summarises the owner's images into a score and level.
func (s *Service) Compliance(ctx context.Context, ownerID string) (domain.Compliance, error) {
	var total, critical, high int
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range []struct {
		dst *int
		f   domain.CountFilter
	}{
		{&total, domain.CountFilter{}},
		{&critical, domain.CountFilter{MinCritical: true}},
		{&high, domain.CountFilter{MinHigh: true}},
	} {
		g.Go(func() error {
			n, err := s.repo.CountImages(gctx, ownerID, q.f)
			*q.dst = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Compliance{}, fmt.Errorf("compute compliance: %w", err)
	}

	score := ComplianceScore(critical, high)
	c := domain.Compliance{
		Score:          score,
		Level:          Level(score),
		TotalImages:    total,
		CriticalImages: critical,
		HighImages:     high,
	}
	c.Recommendations = Recommendations(c)
	return c, nil
}
