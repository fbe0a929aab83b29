// Package matcher orchestrates grant ingestion and matching: embedding,
// vector search, relevance analysis, score caching, and ranking.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/grantmatchd/internal/domain"
	"github.com/fyrsmithlabs/grantmatchd/internal/embeddings"
	"github.com/fyrsmithlabs/grantmatchd/internal/errs"
	"github.com/fyrsmithlabs/grantmatchd/internal/vectorstore"
	"go.uber.org/zap"
)

// Embedder converts text to vectors. Satisfied by *embeddings.Service.
type Embedder interface {
	Embed(ctx context.Context, text string, opts *embeddings.Options) (*embeddings.Result, error)
	Healthy(ctx context.Context) error
}

// VectorIndex is the namespaced vector store. Satisfied by *vectorstore.Client.
type VectorIndex interface {
	Upsert(ctx context.Context, record vectorstore.Record, namespace string) error
	Search(ctx context.Context, queryVector []float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error)
	DescribeIndex(ctx context.Context) (*vectorstore.IndexStats, error)
	Healthy(ctx context.Context) error
}

// RelevanceAnalyzer scores organization/grant pairs. Satisfied by
// *analyzer.Analyzer.
type RelevanceAnalyzer interface {
	Analyze(ctx context.Context, profileText, candidateText, specificQuery string) (*domain.MatchAnalysis, error)
	ExtractTags(ctx context.Context, text string) ([]string, error)
	Healthy(ctx context.Context) error
}

// Repository is the persistence contract the orchestrator requires.
// Satisfied by *store.Store.
type Repository interface {
	GetGrant(ctx context.Context, id string) (*domain.Grant, error)
	ListGrantsNeedingProcessing(ctx context.Context, limit int) ([]domain.Grant, error)
	SetGrantState(ctx context.Context, id string, state domain.ProcessingState) error
	ReplaceSemanticTags(ctx context.Context, grantID string, tags []domain.SemanticTag) error
	GetOrganization(ctx context.Context, id string) (*domain.OrganizationProfile, error)
	LatestMatchAnalysis(ctx context.Context, grantID, orgID string) (*domain.MatchAnalysis, error)
	InsertMatchAnalysis(ctx context.Context, m *domain.MatchAnalysis) error
	CountAll(ctx context.Context) (*domain.Counts, error)
	Healthy(ctx context.Context) error
}

// Config holds orchestrator tuning knobs.
type Config struct {
	// TopK is the default candidate count for semantic search.
	TopK int

	// AnalysisConcurrency bounds in-flight relevance analyses.
	AnalysisConcurrency int

	// CacheMaxAge makes cached analyses older than the window count as
	// misses. Zero reuses cached rows unconditionally.
	CacheMaxAge time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 20
	}
	if c.AnalysisConcurrency == 0 {
		c.AnalysisConcurrency = 5
	}
}

// Service coordinates the embedding client, vector index, relevance analyzer,
// and persistence layer. Dependencies are injected at construction so tests
// can substitute fakes.
type Service struct {
	embedder Embedder
	index    VectorIndex
	analyzer RelevanceAnalyzer
	repo     Repository
	config   Config
	logger   *zap.Logger
}

// New creates the orchestrator. All dependencies are required.
func New(embedder Embedder, index VectorIndex, analyzer RelevanceAnalyzer, repo Repository, cfg Config, logger *zap.Logger) (*Service, error) {
	if embedder == nil || index == nil || analyzer == nil || repo == nil {
		return nil, fmt.Errorf("%w: all dependencies are required", errs.ErrValidation)
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		embedder: embedder,
		index:    index,
		analyzer: analyzer,
		repo:     repo,
		config:   cfg,
		logger:   logger,
	}, nil
}

// GrantText composes the descriptive text of a grant used for embedding and
// analysis.
func GrantText(g *domain.Grant) string {
	parts := []string{g.Title}
	if g.Description != "" {
		parts = append(parts, g.Description)
	}
	if g.Funder != "" {
		parts = append(parts, "Funder: "+g.Funder)
	}
	if len(g.Categories) > 0 {
		parts = append(parts, "Categories: "+strings.Join(g.Categories, ", "))
	}
	return strings.Join(parts, "\n")
}

// ProcessResult reports the outcome of a single grant's enrichment. The
// caller always receives a result object; failures are carried in
// ProcessingError, never thrown.
type ProcessResult struct {
	GrantID         string   `json:"grant_id"`
	Processed       bool     `json:"ai_processed"`
	VectorID        string   `json:"vector_id,omitempty"`
	SemanticTags    []string `json:"semantic_tags"`
	ProcessingError string   `json:"processing_error,omitempty"`
}

// ProcessNewGrant ingests one grant: embeds its descriptive text, stores the
// vector in the grants namespace, extracts semantic tags, and persists the
// results. The grant's state moves Unprocessed -> Processing -> Processed, or
// to Errored with the failure message. Never returns an error to the caller.
func (s *Service) ProcessNewGrant(ctx context.Context, grant *domain.Grant) *ProcessResult {
	logger := s.logger.With(zap.String("grant_id", grant.ID))

	if err := s.repo.SetGrantState(ctx, grant.ID, domain.Processing{}); err != nil {
		logger.Warn("marking grant processing", zap.Error(err))
	}

	result, err := s.processGrant(ctx, grant)
	if err != nil {
		logger.Warn("grant processing failed", zap.Error(err))
		if stateErr := s.repo.SetGrantState(ctx, grant.ID, domain.Errored{Message: err.Error()}); stateErr != nil {
			logger.Error("recording grant failure state", zap.Error(stateErr))
		}
		return &ProcessResult{
			GrantID:         grant.ID,
			Processed:       false,
			SemanticTags:    []string{},
			ProcessingError: err.Error(),
		}
	}

	logger.Info("grant processed",
		zap.String("vector_id", result.VectorID),
		zap.Int("tag_count", len(result.SemanticTags)),
	)
	return result
}

// processGrant runs the strictly sequential enrichment steps; each step
// depends on the previous one's output.
func (s *Service) processGrant(ctx context.Context, grant *domain.Grant) (*ProcessResult, error) {
	text := GrantText(grant)

	embedded, err := s.embedder.Embed(ctx, text, nil)
	if err != nil {
		return nil, fmt.Errorf("embedding grant: %w", err)
	}

	vectorID := vectorstore.GenerateID("grant", grant.ID)
	record := vectorstore.Record{
		ID:     vectorID,
		Vector: embedded.Vector,
		Metadata: map[string]any{
			"type":       "grant",
			"grant_id":   grant.ID,
			"title":      grant.Title,
			"funder":     grant.Funder,
			"categories": grant.Categories,
			"source":     grant.Source,
			"active":     grant.Active,
		},
	}
	if err := s.index.Upsert(ctx, record, vectorstore.GrantsNamespace); err != nil {
		return nil, fmt.Errorf("storing grant vector: %w", err)
	}

	tags, err := s.analyzer.ExtractTags(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("extracting semantic tags: %w", err)
	}

	tagRows := make([]domain.SemanticTag, len(tags))
	for i, tag := range tags {
		tagRows[i] = domain.SemanticTag{GrantID: grant.ID, Tag: tag}
	}
	if err := s.repo.ReplaceSemanticTags(ctx, grant.ID, tagRows); err != nil {
		return nil, fmt.Errorf("persisting semantic tags: %w", err)
	}

	if err := s.repo.SetGrantState(ctx, grant.ID, domain.Processed{VectorID: vectorID, Tags: tags}); err != nil {
		return nil, fmt.Errorf("persisting processed state: %w", err)
	}

	return &ProcessResult{
		GrantID:      grant.ID,
		Processed:    true,
		VectorID:     vectorID,
		SemanticTags: tags,
	}, nil
}

// MatchOptions tune a matching run.
type MatchOptions struct {
	// TopK overrides the candidate count for the semantic search stage.
	TopK int

	// SpecificQuery focuses each relevance analysis on a user question.
	SpecificQuery string
}

// GrantMatch is one ranked result of FindMatchingGrants.
type GrantMatch struct {
	Grant      domain.Grant          `json:"grant"`
	Similarity float32               `json:"similarity"`
	Analysis   *domain.MatchAnalysis `json:"analysis"`
	FromCache  bool                  `json:"from_cache"`
}

// FindMatchingGrants returns candidate grants for the organization, scored by
// the relevance analyzer with a persistent cache, ranked by match score
// descending with similarity breaking ties.
//
// A failure analyzing one candidate excludes that candidate and logs it; the
// rest of the batch is unaffected.
func (s *Service) FindMatchingGrants(ctx context.Context, org *domain.OrganizationProfile, opts *MatchOptions) ([]GrantMatch, error) {
	if org == nil {
		return nil, fmt.Errorf("%w: organization profile required", errs.ErrValidation)
	}

	topK := s.config.TopK
	specificQuery := ""
	if opts != nil {
		if opts.TopK > 0 {
			topK = opts.TopK
		}
		specificQuery = opts.SpecificQuery
	}

	profileText := org.ProfileText()
	embedded, err := s.embedder.Embed(ctx, profileText, nil)
	if err != nil {
		return nil, fmt.Errorf("embedding organization profile: %w", err)
	}

	candidates, err := s.index.Search(ctx, embedded.Vector, vectorstore.SearchOptions{
		TopK:      topK,
		Namespace: vectorstore.GrantsNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("searching candidate grants: %w", err)
	}

	matches := make([]*GrantMatch, len(candidates))
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.config.AnalysisConcurrency)

	for i, candidate := range candidates {
		wg.Add(1)
		go func(i int, candidate vectorstore.SearchResult) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			match, err := s.scoreCandidate(ctx, org, profileText, candidate, specificQuery)
			if err != nil {
				s.logger.Warn("excluding candidate",
					zap.String("organization_id", org.ID),
					zap.String("candidate_id", candidate.ID),
					zap.Error(err),
				)
				return
			}
			matches[i] = match
		}(i, candidate)
	}
	wg.Wait()

	results := make([]GrantMatch, 0, len(matches))
	for _, m := range matches {
		if m != nil {
			results = append(results, *m)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Analysis.Score != results[j].Analysis.Score {
			return results[i].Analysis.Score > results[j].Analysis.Score
		}
		return results[i].Similarity > results[j].Similarity
	})

	return results, nil
}

// scoreCandidate resolves one search hit to a scored grant, consulting the
// analysis cache first. A nil error with a nil match never happens; skipped
// candidates (grant rows deleted since indexing) return a skip error.
func (s *Service) scoreCandidate(ctx context.Context, org *domain.OrganizationProfile, profileText string, candidate vectorstore.SearchResult, specificQuery string) (*GrantMatch, error) {
	grantID, _ := candidate.Metadata["grant_id"].(string)
	if grantID == "" {
		return nil, fmt.Errorf("candidate %s has no grant_id metadata", candidate.ID)
	}

	grant, err := s.repo.GetGrant(ctx, grantID)
	if err != nil {
		if errs.IsNotFound(err) {
			// The vector outlived its grant row; skip silently.
			return nil, fmt.Errorf("grant row missing for %s: %w", grantID, err)
		}
		return nil, err
	}

	if cached, err := s.repo.LatestMatchAnalysis(ctx, grantID, org.ID); err != nil {
		return nil, err
	} else if cached != nil && s.cacheFresh(cached) {
		return &GrantMatch{Grant: *grant, Similarity: candidate.Score, Analysis: cached, FromCache: true}, nil
	}

	analysis, err := s.analyzer.Analyze(ctx, profileText, GrantText(grant), specificQuery)
	if err != nil {
		return nil, fmt.Errorf("analyzing grant %s: %w", grantID, err)
	}
	analysis.GrantID = grantID
	analysis.OrganizationID = org.ID
	analysis.CreatedAt = time.Now()

	if err := s.repo.InsertMatchAnalysis(ctx, analysis); err != nil {
		return nil, fmt.Errorf("caching analysis for %s: %w", grantID, err)
	}

	return &GrantMatch{Grant: *grant, Similarity: candidate.Score, Analysis: analysis}, nil
}

// cacheFresh applies the cache freshness policy: cached rows are reused
// unconditionally unless a max age is configured.
func (s *Service) cacheFresh(m *domain.MatchAnalysis) bool {
	if s.config.CacheMaxAge == 0 {
		return true
	}
	return time.Since(m.CreatedAt) <= s.config.CacheMaxAge
}
