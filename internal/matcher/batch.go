package matcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// BatchResult summarizes a batch processing run.
type BatchResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// BatchProcessGrants selects up to limit grants that still need processing
// and runs each through ProcessNewGrant sequentially. Grants in the Errored
// state are retried on every run; only Processed is skipped.
func (s *Service) BatchProcessGrants(ctx context.Context, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	grants, err := s.repo.ListGrantsNeedingProcessing(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing grants for batch processing: %w", err)
	}

	result := &BatchResult{Errors: []string{}}
	for i := range grants {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("batch processing canceled: %w", err)
		}
		pr := s.ProcessNewGrant(ctx, &grants[i])
		if pr.Processed {
			result.Processed++
		} else {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("Grant %s: %s", pr.GrantID, pr.ProcessingError))
		}
	}

	s.logger.Info("batch processing complete",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// healthProbeTimeout bounds each dependency check so a hung dependency
// cannot stall the health endpoint.
const healthProbeTimeout = 5 * time.Second
