package matcher

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/grantmatchd/internal/domain"
	"github.com/fyrsmithlabs/grantmatchd/internal/vectorstore"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Health is the aggregate diagnostic report. Errors holds one entry per
// failed dependency check.
type Health struct {
	Status    string                  `json:"status"`
	Counts    *domain.Counts          `json:"counts,omitempty"`
	Index     *vectorstore.IndexStats `json:"index,omitempty"`
	Errors    []string                `json:"errors"`
	CheckedAt time.Time               `json:"checked_at"`
}

// IndexStats reports per-namespace vector counts for the whole index.
func (s *Service) IndexStats(ctx context.Context) (*vectorstore.IndexStats, error) {
	return s.index.DescribeIndex(ctx)
}

// HealthCheck aggregates persistence counts, index statistics, and the
// health of every dependency. Diagnostics must never crash a caller, so all
// failures are folded into the report.
func (s *Service) HealthCheck(ctx context.Context) *Health {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	health := &Health{Status: StatusHealthy, Errors: []string{}, CheckedAt: time.Now()}
	fail := func(component string, err error) {
		health.Status = StatusUnhealthy
		health.Errors = append(health.Errors, fmt.Sprintf("%s: %v", component, err))
	}

	if err := s.repo.Healthy(ctx); err != nil {
		fail("database", err)
	} else if counts, err := s.repo.CountAll(ctx); err != nil {
		fail("database", err)
	} else {
		health.Counts = counts
	}

	if err := s.index.Healthy(ctx); err != nil {
		fail("vector_index", err)
	} else if stats, err := s.index.DescribeIndex(ctx); err != nil {
		fail("vector_index", err)
	} else {
		health.Index = stats
	}

	if err := s.embedder.Healthy(ctx); err != nil {
		fail("embedding_provider", err)
	}
	if err := s.analyzer.Healthy(ctx); err != nil {
		fail("chat_provider", err)
	}

	return health
}
