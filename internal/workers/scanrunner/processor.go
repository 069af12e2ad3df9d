package scanrunner

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"imagewatch/internal/domain"
	"imagewatch/internal/ports"
)

// Outcome is the result of one scan.
type Outcome struct {
	Status domain.Status
	Counts domain.Vulnerabilities
}

// ScanProcessor performs the scan work for one image.
type ScanProcessor interface {
	Process(ctx context.Context, job ports.ScanJob) (Outcome, error)
}

// Upper bounds (exclusive) of the simulated severity counts.
const (
	maxCritical = 5
	maxHigh     = 8
	maxMedium   = 15
)

// SimulatedProcessor stands in for a real vulnerability scanner: after Delay
// it reports random counts, or a failure with probability FailureRate.
type SimulatedProcessor struct {
	Delay       time.Duration
	FailureRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulatedProcessor(delay time.Duration, failureRate float64, seed uint64) *SimulatedProcessor {
	return &SimulatedProcessor{
		Delay:       delay,
		FailureRate: failureRate,
		rnd:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (p *SimulatedProcessor) Process(ctx context.Context, job ports.ScanJob) (Outcome, error) {
	if p.Delay > 0 {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if p.FailureRate > 0 && p.rnd.Float64() < p.FailureRate {
		return Outcome{Status: domain.StatusFailed}, nil
	}
	return Outcome{
		Status: domain.StatusComplete,
		Counts: domain.Vulnerabilities{
			Critical: p.rnd.IntN(maxCritical),
			High:     p.rnd.IntN(maxHigh),
			Medium:   p.rnd.IntN(maxMedium),
		},
	}, nil
}
