// Package analyzer produces structured compatibility judgments between an
// organization profile and a candidate grant using the chat API.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/grantmatchd/internal/domain"
	"github.com/fyrsmithlabs/grantmatchd/internal/errs"
	"github.com/fyrsmithlabs/grantmatchd/internal/llm"
	"go.uber.org/zap"
)

// analysisPrompt instructs the model to return the fixed judgment schema.
const analysisPrompt = `You are an expert grant advisor. Compare the organization profile and the grant description and judge how well they match.

Respond with a JSON object containing:
- "score": overall compatibility from 0 to 100
- "eligibility": one of "ELIGIBLE", "NOT_ELIGIBLE", "PARTIALLY_ELIGIBLE", "UNCLEAR"
- "criteria": array of {"criterion", "match" (boolean), "score" (0-100), "explanation"}
- "recommendations": array of concrete suggestions for the applicant
- "reasoning": a short explanation of the overall judgment
- "confidence": your confidence in this judgment (0.0 to 1.0)

Respond ONLY with the JSON object, no additional text.`

// tagsPrompt instructs the model to extract semantic tags.
const tagsPrompt = `Extract 3 to 8 short semantic tags summarizing the subject matter of the following grant. Respond with a JSON object: {"tags": ["tag1", "tag2", ...]}. Tags are lowercase, 1-3 words each. Respond ONLY with the JSON object.`

// ChatClient is the lower-level chat primitive the analyzer builds on.
type ChatClient interface {
	ChatCompletion(ctx context.Context, messages []llm.Message, opts *llm.Options) (*llm.Result, error)
	Healthy(ctx context.Context) error
}

// Analyzer turns free-text pairs into MatchAnalysis judgments.
type Analyzer struct {
	chat   ChatClient
	model  string
	logger *zap.Logger
}

// New creates an analyzer on top of a chat client. model may be empty to use
// the client's default.
func New(chat ChatClient, model string, logger *zap.Logger) (*Analyzer, error) {
	if chat == nil {
		return nil, fmt.Errorf("%w: chat client required", errs.ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{chat: chat, model: model, logger: logger}, nil
}

// analysisResponse is the expected JSON schema from the model. Score is a
// pointer so a missing field is distinguishable from a zero score.
type analysisResponse struct {
	Score           *float64                `json:"score"`
	Eligibility     string                  `json:"eligibility"`
	Criteria        []domain.MatchCriterion `json:"criteria"`
	Recommendations []string                `json:"recommendations"`
	Reasoning       string                  `json:"reasoning"`
	Confidence      float64                 `json:"confidence"`
}

// Analyze produces a compatibility judgment for the given profile and
// candidate text. specificQuery, when set, focuses the judgment on a user
// question.
//
// Invalid or incomplete model output fails with a parse error; batch callers
// treat that as a per-item failure, not a fatal one.
func (a *Analyzer) Analyze(ctx context.Context, profileText, candidateText, specificQuery string) (*domain.MatchAnalysis, error) {
	if strings.TrimSpace(profileText) == "" {
		return nil, fmt.Errorf("%w: profile text cannot be empty", errs.ErrValidation)
	}
	if strings.TrimSpace(candidateText) == "" {
		return nil, fmt.Errorf("%w: candidate text cannot be empty", errs.ErrValidation)
	}

	user := fmt.Sprintf("Organization profile:\n%s\n\nGrant description:\n%s", profileText, candidateText)
	if specificQuery != "" {
		user += "\n\nSpecific question: " + specificQuery
	}

	result, err := a.chat.ChatCompletion(ctx, []llm.Message{
		{Role: "system", Content: analysisPrompt},
		{Role: "user", Content: user},
	}, &llm.Options{Model: a.model, Temperature: 0.2, ForceJSON: true})
	if err != nil {
		return nil, fmt.Errorf("analyzing relevance: %w", err)
	}

	return parseAnalysis(result.Content)
}

// parseAnalysis decodes the model response into a MatchAnalysis.
func parseAnalysis(content string) (*domain.MatchAnalysis, error) {
	var resp analysisResponse
	if err := json.Unmarshal([]byte(stripFences(content)), &resp); err != nil {
		return nil, fmt.Errorf("failed to analyze grant relevance: %w: %v", errs.ErrParse, err)
	}
	if resp.Score == nil || resp.Eligibility == "" {
		return nil, fmt.Errorf("failed to analyze grant relevance: %w: missing score or eligibility", errs.ErrParse)
	}

	score := *resp.Score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	confidence := resp.Confidence
	if confidence < 0 || confidence > 1 {
		confidence = 0
	}

	return &domain.MatchAnalysis{
		Score:           score,
		Eligibility:     domain.NormalizeEligibility(resp.Eligibility),
		Criteria:        resp.Criteria,
		Recommendations: resp.Recommendations,
		Reasoning:       resp.Reasoning,
		Confidence:      confidence,
	}, nil
}

// tagsResponse is the expected JSON schema for tag extraction.
type tagsResponse struct {
	Tags []string `json:"tags"`
}

// ExtractTags extracts semantic tags from grant text.
func (a *Analyzer) ExtractTags(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", errs.ErrValidation)
	}

	result, err := a.chat.ChatCompletion(ctx, []llm.Message{
		{Role: "system", Content: tagsPrompt},
		{Role: "user", Content: text},
	}, &llm.Options{Model: a.model, Temperature: 0.2, MaxTokens: 256, ForceJSON: true})
	if err != nil {
		return nil, fmt.Errorf("extracting tags: %w", err)
	}

	cleaned := stripFences(result.Content)

	var resp tagsResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err == nil && resp.Tags != nil {
		return resp.Tags, nil
	}

	// Some models return a bare JSON array despite the object instruction.
	var tags []string
	if err := json.Unmarshal([]byte(cleaned), &tags); err != nil {
		return nil, fmt.Errorf("%w: tag response is not a JSON array: %v", errs.ErrParse, err)
	}
	return tags, nil
}

// Healthy reports whether the underlying chat client is reachable.
func (a *Analyzer) Healthy(ctx context.Context) error {
	return a.chat.Healthy(ctx)
}

// stripFences removes markdown code fences some models wrap JSON in.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
