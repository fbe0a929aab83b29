// Package store is the PostgreSQL persistence layer: grant records, cached
// match analyses, semantic tags, organizations, and the append-only AI audit.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/grantmatchd/internal/config"
	"github.com/fyrsmithlabs/grantmatchd/internal/domain"
	"github.com/fyrsmithlabs/grantmatchd/internal/errs"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Store handles all relational database operations.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens a connection pool and verifies it with a ping.
func New(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: database DSN required", errs.ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Healthy verifies database connectivity.
func (s *Store) Healthy(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Grants ---

const grantColumns = `id, title, description, funder, amount_min, amount_max,
	categories, eligibility, source, active, created_at, updated_at,
	ai_processed, processing_error, vector_id`

// GetGrant retrieves a grant by id, including its processing state and, when
// processed, its semantic tags.
func (s *Store) GetGrant(ctx context.Context, id string) (*domain.Grant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM grants WHERE id = $1`, id)

	grant, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: grant not found: %s", errs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get grant %s: %w", id, err)
	}

	if processed, ok := grant.Processing.(domain.Processed); ok {
		tags, err := s.ListSemanticTags(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, t := range tags {
			processed.Tags = append(processed.Tags, t.Tag)
		}
		grant.Processing = processed
	}

	return grant, nil
}

// ListGrantsNeedingProcessing returns up to limit active grants whose state
// is not Processed, oldest first.
func (s *Store) ListGrantsNeedingProcessing(ctx context.Context, limit int) ([]domain.Grant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+grantColumns+` FROM grants
		 WHERE active AND NOT ai_processed
		 ORDER BY created_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed grants: %w", err)
	}
	defer rows.Close()

	var grants []domain.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}

// SetGrantState persists a grant's processing state. Each call is a single
// atomic update; concurrent re-processing is last-write-wins.
func (s *Store) SetGrantState(ctx context.Context, id string, state domain.ProcessingState) error {
	processed, vectorID, procErr := StateColumns(state)

	res, err := s.db.ExecContext(ctx,
		`UPDATE grants
		 SET ai_processed = $2, vector_id = $3, processing_error = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, processed, vectorID, procErr)
	if err != nil {
		return fmt.Errorf("update grant state %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: grant not found: %s", errs.ErrNotFound, id)
	}
	return nil
}

// StateColumns maps a tagged processing state onto the grants columns.
func StateColumns(state domain.ProcessingState) (processed bool, vectorID, procErr sql.NullString) {
	switch st := state.(type) {
	case domain.Processed:
		return true, sql.NullString{String: st.VectorID, Valid: st.VectorID != ""}, sql.NullString{}
	case domain.Errored:
		return false, sql.NullString{}, sql.NullString{String: st.Message, Valid: true}
	default:
		return false, sql.NullString{}, sql.NullString{}
	}
}

// StateFromColumns reconstructs the tagged state from the grants columns.
// Tag lists are loaded separately.
func StateFromColumns(processed bool, vectorID, procErr sql.NullString) domain.ProcessingState {
	switch {
	case processed:
		return domain.Processed{VectorID: vectorID.String}
	case procErr.Valid:
		return domain.Errored{Message: procErr.String}
	default:
		return domain.Unprocessed{}
	}
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanGrant(row scanner) (*domain.Grant, error) {
	var (
		g           domain.Grant
		amountMin   sql.NullFloat64
		amountMax   sql.NullFloat64
		eligibility []byte
		processed   bool
		procErr     sql.NullString
		vectorID    sql.NullString
	)
	err := row.Scan(
		&g.ID, &g.Title, &g.Description, &g.Funder, &amountMin, &amountMax,
		pq.Array(&g.Categories), &eligibility, &g.Source, &g.Active,
		&g.CreatedAt, &g.UpdatedAt,
		&processed, &procErr, &vectorID,
	)
	if err != nil {
		return nil, err
	}

	if amountMin.Valid {
		g.AmountMin = &amountMin.Float64
	}
	if amountMax.Valid {
		g.AmountMax = &amountMax.Float64
	}
	if len(eligibility) > 0 {
		if err := json.Unmarshal(eligibility, &g.Eligibility); err != nil {
			return nil, fmt.Errorf("decode eligibility: %w", err)
		}
	}
	g.Processing = StateFromColumns(processed, vectorID, procErr)
	return &g, nil
}

// --- Semantic tags ---

// ReplaceSemanticTags replaces a grant's tag rows in one transaction.
// Re-processing a grant fully overwrites its tags (last-write-wins).
func (s *Store) ReplaceSemanticTags(ctx context.Context, grantID string, tags []domain.SemanticTag) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tags transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM semantic_tags WHERE grant_id = $1`, grantID); err != nil {
		return fmt.Errorf("delete tags for %s: %w", grantID, err)
	}

	for _, t := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO semantic_tags (grant_id, tag, category, confidence)
			 VALUES ($1, $2, $3, $4)`,
			grantID, t.Tag, t.Category, t.Confidence); err != nil {
			return fmt.Errorf("insert tag %q for %s: %w", t.Tag, grantID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tags for %s: %w", grantID, err)
	}
	return nil
}

// ListSemanticTags returns a grant's tags.
func (s *Store) ListSemanticTags(ctx context.Context, grantID string) ([]domain.SemanticTag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT grant_id, tag, category, confidence, created_at
		 FROM semantic_tags WHERE grant_id = $1 ORDER BY tag`, grantID)
	if err != nil {
		return nil, fmt.Errorf("list tags for %s: %w", grantID, err)
	}
	defer rows.Close()

	var tags []domain.SemanticTag
	for rows.Next() {
		var t domain.SemanticTag
		if err := rows.Scan(&t.GrantID, &t.Tag, &t.Category, &t.Confidence, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// --- Organizations ---

// GetOrganization retrieves an organization profile by id.
func (s *Store) GetOrganization(ctx context.Context, id string) (*domain.OrganizationProfile, error) {
	var o domain.OrganizationProfile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, sector, size_class, location, capabilities, prior_grants
		 FROM organizations WHERE id = $1`, id).Scan(
		&o.ID, &o.Name, &o.Description, &o.Sector, &o.SizeClass, &o.Location,
		pq.Array(&o.Capabilities), pq.Array(&o.PriorGrants),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: organization not found: %s", errs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get organization %s: %w", id, err)
	}
	return &o, nil
}

// --- Match analysis cache ---

// LatestMatchAnalysis returns the most recent cached analysis for the pair,
// or nil when the pair has never been scored. Rows are never updated in
// place; the most recent insert wins.
func (s *Store) LatestMatchAnalysis(ctx context.Context, grantID, orgID string) (*domain.MatchAnalysis, error) {
	var (
		m               domain.MatchAnalysis
		eligibility     string
		criteria        []byte
		recommendations []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT grant_id, organization_id, score, eligibility, criteria,
		        recommendations, reasoning, confidence, created_at
		 FROM match_analyses
		 WHERE grant_id = $1 AND organization_id = $2
		 ORDER BY created_at DESC
		 LIMIT 1`, grantID, orgID).Scan(
		&m.GrantID, &m.OrganizationID, &m.Score, &eligibility, &criteria,
		&recommendations, &m.Reasoning, &m.Confidence, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get match analysis (%s, %s): %w", grantID, orgID, err)
	}

	m.Eligibility = domain.NormalizeEligibility(eligibility)
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &m.Criteria); err != nil {
			return nil, fmt.Errorf("decode criteria: %w", err)
		}
	}
	if len(recommendations) > 0 {
		if err := json.Unmarshal(recommendations, &m.Recommendations); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
	}
	return &m, nil
}

// InsertMatchAnalysis appends a freshly computed analysis to the cache.
func (s *Store) InsertMatchAnalysis(ctx context.Context, m *domain.MatchAnalysis) error {
	criteria, err := json.Marshal(m.Criteria)
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}
	recommendations, err := json.Marshal(m.Recommendations)
	if err != nil {
		return fmt.Errorf("encode recommendations: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO match_analyses
		 (grant_id, organization_id, score, eligibility, criteria, recommendations, reasoning, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.GrantID, m.OrganizationID, m.Score, string(m.Eligibility),
		criteria, recommendations, m.Reasoning, m.Confidence)
	if err != nil {
		return fmt.Errorf("insert match analysis (%s, %s): %w", m.GrantID, m.OrganizationID, err)
	}
	return nil
}

// --- AI interaction audit ---

// RecordInteraction appends one audit row. Rows are never mutated or deleted.
func (s *Store) RecordInteraction(ctx context.Context, rec domain.AIInteraction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_interactions
		 (interaction_type, model, input, output, prompt_tokens, output_tokens,
		  total_tokens, estimated_cost, organization_id, user_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''))`,
		rec.Type, rec.Model, rec.Input, rec.Output, rec.PromptTokens,
		rec.OutputTokens, rec.TotalTokens, rec.EstimatedCost,
		rec.OrganizationID, rec.UserID)
	if err != nil {
		return fmt.Errorf("insert ai interaction: %w", err)
	}
	return nil
}

// --- Health ---

// CountAll aggregates table counts in one round trip per table.
func (s *Store) CountAll(ctx context.Context) (*domain.Counts, error) {
	var c domain.Counts
	queries := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM grants`, &c.Grants},
		{`SELECT COUNT(*) FROM grants WHERE ai_processed`, &c.ProcessedGrants},
		{`SELECT COUNT(*) FROM match_analyses`, &c.Analyses},
		{`SELECT COUNT(*) FROM ai_interactions`, &c.Interactions},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}
	}
	return &c, nil
}
