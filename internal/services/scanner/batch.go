package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"imagewatch/internal/domain"
	"imagewatch/internal/notify"
)

// BatchResult reports a batch operation. Items are applied independently;
// failed items never roll back the ones that succeeded.
type BatchResult struct {
	Requested int      `json:"requested"`
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	// ClearSelection is set only when every item succeeded.
	ClearSelection bool `json:"clear_selection"`
}

// RequestBatchScan requests a scan for every id concurrently.
func (s *Service) RequestBatchScan(ctx context.Context, imageIDs []string) (BatchResult, error) {
	res, err := s.batch(ctx, "scan", imageIDs, func(ctx context.Context, id string) error {
		_, _, err := s.requestScan(ctx, id)
		return err
	})
	if err != nil {
		s.notes.Notify(notify.Error("Failed to start batch scan"))
		return res, err
	}
	s.notes.Notify(notify.Success(fmt.Sprintf("Started scanning %d images", res.Requested)))
	return res, nil
}

// RequestBatchDelete deletes every id concurrently.
func (s *Service) RequestBatchDelete(ctx context.Context, imageIDs []string) (BatchResult, error) {
	res, err := s.batch(ctx, "delete", imageIDs, s.deleteImage)
	if err != nil {
		s.notes.Notify(notify.Error("Failed to delete images"))
		return res, err
	}
	s.notes.Notify(notify.Success(fmt.Sprintf("Deleted %d images", res.Requested)))
	return res, nil
}

func (s *Service) batch(ctx context.Context, op string, imageIDs []string, fn func(context.Context, string) error) (BatchResult, error) {
	if _, err := s.owner(ctx); err != nil {
		return BatchResult{}, err
	}
	ids := lo.Uniq(imageIDs)
	res := BatchResult{Requested: len(ids), Succeeded: []string{}, Failed: []string{}}

	var (
		mu   sync.Mutex
		errs *multierror.Error
		wg   sync.WaitGroup
	)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, id)
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", id, err))
				return
			}
			res.Succeeded = append(res.Succeeded, id)
		}()
	}
	wg.Wait()
	sort.Strings(res.Succeeded)
	sort.Strings(res.Failed)

	if err := errs.ErrorOrNil(); err != nil {
		s.metrics.BatchFailures.WithLabelValues(op).Inc()
		log.Warn().Err(err).Str("operation", op).Int("failed", len(res.Failed)).Int("requested", res.Requested).Msg("Batch operation partially failed")
		return res, fmt.Errorf("%w: %d of %d %s requests failed", domain.ErrBatchFailed, len(res.Failed), res.Requested, op)
	}
	res.ClearSelection = true
	return res, nil
}
