package scanrunner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"imagewatch/internal/domain"
	"imagewatch/internal/metrics"
	"imagewatch/internal/ports"
)

// TriggerName is the name the runner answers to when invoked as a trigger.
const TriggerName = "scan-simulator"

var ErrUnknownTrigger = errors.New("unknown trigger")

type Config struct {
	Workers       int
	PollInterval  time.Duration
	RatePerSecond float64
}

// Runner concludes in-flight scans. It wakes on trigger invocations and on a
// poll interval, lists images in scanning status and hands them to workers.
type Runner struct {
	repo      ports.ScanCompleter
	processor ScanProcessor
	metrics   *metrics.Metrics
	cfg       Config
	limiter   *rate.Limiter
	signal    chan struct{}
	now       func() time.Time

	mu      sync.Mutex
	claimed map[string]bool
}

func New(cfg Config, repo ports.ScanCompleter, processor ScanProcessor, m *metrics.Metrics) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Runner{
		repo:      repo,
		processor: processor,
		metrics:   m,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, cfg.Workers),
		signal:    make(chan struct{}, 1),
		now:       time.Now,
		claimed:   make(map[string]bool),
	}
}

// Invoke implements ports.Trigger for in-process wiring. It only queues a
// wake-up; repeated invocations before the dispatcher runs coalesce.
func (r *Runner) Invoke(_ context.Context, name string) error {
	if name != TriggerName {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, name)
	}
	select {
	case r.signal <- struct{}{}:
	default:
	}
	return nil
}

// Run starts the dispatcher and worker goroutines and blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	jobsCh := make(chan ports.ScanJob, r.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for job := range jobsCh {
				if err := r.complete(ctx, job); err != nil {
					log.Error().Err(err).Int("worker", idx).Str("image", job.ImageID).Msg("Failed to conclude scan")
				}
			}
		}(i)
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(jobsCh)
			wg.Wait()
			return
		case <-ticker.C:
		case <-r.signal:
		}
		r.dispatch(ctx, jobsCh)
	}
}

func (r *Runner) dispatch(ctx context.Context, jobsCh chan<- ports.ScanJob) {
	jobs, err := r.repo.ListScanning(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list scanning images")
		return
	}
	for _, job := range jobs {
		if !r.claim(job.ImageID) {
			continue
		}
		select {
		case jobsCh <- job:
		case <-ctx.Done():
			r.release(job.ImageID)
			return
		}
	}
}

// RunOnce synchronously concludes every image currently in scanning status
// and returns how many it handled.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	jobs, err := r.repo.ListScanning(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		if !r.claim(job.ImageID) {
			continue
		}
		if err := r.complete(ctx, job); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// complete runs the processor for job and writes the outcome. The claim on
// the image is released when it returns.
func (r *Runner) complete(ctx context.Context, job ports.ScanJob) error {
	defer r.release(job.ImageID)
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	out, err := r.processor.Process(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Str("image", job.ImageID).Msg("Scan failed")
		out = Outcome{Status: domain.StatusFailed}
	}
	if err := out.Counts.Validate(); err != nil {
		return err
	}
	if err := r.repo.CompleteScan(ctx, job, out.Status, out.Counts, r.now()); err != nil {
		return fmt.Errorf("complete scan for %s: %w", job.ImageID, err)
	}
	r.metrics.ScansCompleted.WithLabelValues(string(out.Status)).Inc()
	log.Info().Str("image", job.ImageID).Str("name", job.Name).Str("status", string(out.Status)).
		Int("critical", out.Counts.Critical).Int("high", out.Counts.High).Int("medium", out.Counts.Medium).
		Msg("Scan concluded")
	return nil
}

func (r *Runner) claim(imageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed[imageID] {
		return false
	}
	r.claimed[imageID] = true
	return true
}

func (r *Runner) release(imageID string) {
	r.mu.Lock()
	delete(r.claimed, imageID)
	r.mu.Unlock()
}
