package matcher

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/grantmatchd/internal/domain"
	"github.com/fyrsmithlabs/grantmatchd/internal/errs"
	"github.com/fyrsmithlabs/grantmatchd/internal/vectorstore"
	"go.uber.org/zap"
)

// Weights for blending an organization's profile into a search query vector.
const (
	queryWeight   = 0.7
	profileWeight = 0.3
)

// SearchHit is one semantic search result resolved to its grant row.
type SearchHit struct {
	Grant      domain.Grant `json:"grant"`
	Similarity float32      `json:"similarity"`
}

// SemanticSearchGrants searches the grants namespace by free-text query.
//
// When organizationID is set, the organization's profile is blended into the
// query vector so results skew toward that organization's context; an unknown
// id fails with a not-found error carrying the id.
func (s *Service) SemanticSearchGrants(ctx context.Context, query, organizationID string, topK int) ([]SearchHit, error) {
	if topK <= 0 {
		topK = s.config.TopK
	}

	embedded, err := s.embedder.Embed(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryVector := embedded.Vector

	if organizationID != "" {
		org, err := s.repo.GetOrganization(ctx, organizationID)
		if err != nil {
			return nil, err
		}
		profile, err := s.embedder.Embed(ctx, org.ProfileText(), nil)
		if err != nil {
			return nil, fmt.Errorf("embedding organization context: %w", err)
		}
		queryVector, err = blendVectors(queryVector, profile.Vector, queryWeight, profileWeight)
		if err != nil {
			return nil, err
		}
	}

	candidates, err := s.index.Search(ctx, queryVector, vectorstore.SearchOptions{
		TopK:      topK,
		Namespace: vectorstore.GrantsNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("searching grants: %w", err)
	}

	hits := make([]SearchHit, 0, len(candidates))
	for _, candidate := range candidates {
		grantID, _ := candidate.Metadata["grant_id"].(string)
		if grantID == "" {
			continue
		}
		grant, err := s.repo.GetGrant(ctx, grantID)
		if err != nil {
			if errs.IsNotFound(err) {
				s.logger.Debug("skipping stale vector", zap.String("grant_id", grantID))
				continue
			}
			return nil, err
		}
		hits = append(hits, SearchHit{Grant: *grant, Similarity: candidate.Score})
	}
	return hits, nil
}

// blendVectors combines two equal-width vectors with the given weights.
// Cosine similarity is scale-invariant, so the blend needs no normalization.
func blendVectors(a, b []float32, wa, wb float32) ([]float32, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: cannot blend vectors of width %d and %d", errs.ErrValidation, len(a), len(b))
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = wa*a[i] + wb*b[i]
	}
	return out, nil
}
