package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/grantmatchd/internal/domain"
	"github.com/fyrsmithlabs/grantmatchd/internal/errs"
	"github.com/fyrsmithlabs/grantmatchd/internal/llm"
)

// scriptedChat returns canned completions and records the calls it receives.
type scriptedChat struct {
	content  string
	err      error
	calls    []llm.Options
	messages [][]llm.Message
}

func (s *scriptedChat) ChatCompletion(ctx context.Context, messages []llm.Message, opts *llm.Options) (*llm.Result, error) {
	if opts != nil {
		s.calls = append(s.calls, *opts)
	}
	s.messages = append(s.messages, messages)
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Result{Content: s.content, Model: "gpt-4o-mini"}, nil
}

func (s *scriptedChat) Healthy(ctx context.Context) error { return nil }

const validAnalysis = `{
	"score": 85,
	"eligibility": "ELIGIBLE",
	"criteria": [{"criterion": "sector match", "match": true, "score": 90, "explanation": "both focus on education"}],
	"recommendations": ["highlight prior education grants"],
	"reasoning": "Strong topical overlap.",
	"confidence": 0.9
}`

func TestAnalyze(t *testing.T) {
	chat := &scriptedChat{content: validAnalysis}
	a, err := New(chat, "gpt-4o-mini", nil)
	require.NoError(t, err)

	analysis, err := a.Analyze(context.Background(), "education nonprofit", "teacher training grant", "")
	require.NoError(t, err)
	assert.Equal(t, 85.0, analysis.Score)
	assert.Equal(t, domain.Eligible, analysis.Eligibility)
	require.Len(t, analysis.Criteria, 1)
	assert.True(t, analysis.Criteria[0].Match)
	assert.Equal(t, 0.9, analysis.Confidence)

	// Low temperature and JSON mode are requested for deterministic output.
	require.Len(t, chat.calls, 1)
	assert.Equal(t, 0.2, chat.calls[0].Temperature)
	assert.True(t, chat.calls[0].ForceJSON)
}

func TestAnalyzeSpecificQuery(t *testing.T) {
	chat := &scriptedChat{content: validAnalysis}
	a, err := New(chat, "", nil)
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "profile", "grant", "can we apply before June?")
	require.NoError(t, err)
	require.Len(t, chat.messages, 1)
	user := chat.messages[0][1].Content
	assert.Contains(t, user, "Specific question: can we apply before June?")
}

func TestAnalyzeFencedResponse(t *testing.T) {
	chat := &scriptedChat{content: "```json\n" + validAnalysis + "\n```"}
	a, err := New(chat, "", nil)
	require.NoError(t, err)

	analysis, err := a.Analyze(context.Background(), "profile", "grant", "")
	require.NoError(t, err)
	assert.Equal(t, 85.0, analysis.Score)
}

func TestAnalyzeParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "I think this grant is a great fit!"},
		{"missing score", `{"eligibility": "ELIGIBLE"}`},
		{"missing eligibility", `{"score": 70}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(&scriptedChat{content: tt.content}, "", nil)
			require.NoError(t, err)

			_, err = a.Analyze(context.Background(), "profile", "grant", "")
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrParse)
			assert.Contains(t, err.Error(), "failed to analyze grant relevance")
		})
	}
}

func TestAnalyzeClampsRanges(t *testing.T) {
	tests := []struct {
		name           string
		content        string
		wantScore      float64
		wantConfidence float64
	}{
		{"score above range", `{"score": 250, "eligibility": "ELIGIBLE"}`, 100, 0},
		{"score below range", `{"score": -10, "eligibility": "ELIGIBLE"}`, 0, 0},
		{"confidence above range", `{"score": 50, "eligibility": "UNCLEAR", "confidence": 3}`, 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(&scriptedChat{content: tt.content}, "", nil)
			require.NoError(t, err)

			analysis, err := a.Analyze(context.Background(), "profile", "grant", "")
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, analysis.Score)
			assert.Equal(t, tt.wantConfidence, analysis.Confidence)
		})
	}
}

func TestAnalyzeUnknownEligibility(t *testing.T) {
	a, err := New(&scriptedChat{content: `{"score": 40, "eligibility": "MAYBE"}`}, "", nil)
	require.NoError(t, err)

	analysis, err := a.Analyze(context.Background(), "profile", "grant", "")
	require.NoError(t, err)
	assert.Equal(t, domain.Unclear, analysis.Eligibility)
}

func TestAnalyzeEmptyInputs(t *testing.T) {
	a, err := New(&scriptedChat{content: validAnalysis}, "", nil)
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "  ", "grant", "")
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = a.Analyze(context.Background(), "profile", "", "")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestExtractTags(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"object form", `{"tags": ["education", "rural development"]}`, []string{"education", "rural development"}},
		{"bare array", `["climate", "resilience"]`, []string{"climate", "resilience"}},
		{"fenced object", "```json\n{\"tags\": [\"health\"]}\n```", []string{"health"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(&scriptedChat{content: tt.content}, "", nil)
			require.NoError(t, err)

			tags, err := a.ExtractTags(context.Background(), "a grant about things")
			require.NoError(t, err)
			assert.Equal(t, tt.want, tags)
		})
	}
}

func TestExtractTagsParseError(t *testing.T) {
	a, err := New(&scriptedChat{content: "tags: education, health"}, "", nil)
	require.NoError(t, err)

	_, err = a.ExtractTags(context.Background(), "grant text")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrParse)
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripFences(tt.in))
	}
}
