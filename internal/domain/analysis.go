package domain

import "time"

// Eligibility is the closed-set verdict accompanying a compatibility score.
type Eligibility string

const (
	Eligible          Eligibility = "ELIGIBLE"
	PartiallyEligible Eligibility = "PARTIALLY_ELIGIBLE"
	Unclear           Eligibility = "UNCLEAR"
	NotEligible       Eligibility = "NOT_ELIGIBLE"
)

// eligibilityRank orders verdicts for tie-breaking, strongest first.
var eligibilityRank = map[Eligibility]int{
	Eligible:          3,
	PartiallyEligible: 2,
	Unclear:           1,
	NotEligible:       0,
}

// Rank returns the sort weight of the verdict; higher is better.
// Unknown values rank with Unclear.
func (e Eligibility) Rank() int {
	if r, ok := eligibilityRank[e]; ok {
		return r
	}
	return eligibilityRank[Unclear]
}

// NormalizeEligibility maps arbitrary model output onto the closed set.
func NormalizeEligibility(s string) Eligibility {
	switch Eligibility(s) {
	case Eligible, PartiallyEligible, Unclear, NotEligible:
		return Eligibility(s)
	default:
		return Unclear
	}
}

// MatchCriterion is one scored dimension of a compatibility judgment.
type MatchCriterion struct {
	Criterion   string  `json:"criterion"`
	Match       bool    `json:"match"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// MatchAnalysis is the structured compatibility judgment for a
// (grant, organization) pair. Rows are append-only; the most recent row for a
// pair supersedes older ones.
type MatchAnalysis struct {
	GrantID         string           `json:"grant_id"`
	OrganizationID  string           `json:"organization_id"`
	Score           float64          `json:"score"`
	Eligibility     Eligibility      `json:"eligibility"`
	Criteria        []MatchCriterion `json:"criteria"`
	Recommendations []string         `json:"recommendations"`
	Reasoning       string           `json:"reasoning"`
	Confidence      float64          `json:"confidence"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Counts holds aggregate persistence row counts for health reporting.
type Counts struct {
	Grants          int `json:"grants"`
	ProcessedGrants int `json:"processed_grants"`
	Analyses        int `json:"analyses"`
	Interactions    int `json:"interactions"`
}

// AIInteraction is one append-only audit entry for a hosted AI call.
type AIInteraction struct {
	ID             int64
	Type           string // embedding, chat, grant_processing, ...
	Model          string
	Input          string
	Output         string
	PromptTokens   int
	OutputTokens   int
	TotalTokens    int
	EstimatedCost  float64
	OrganizationID string
	UserID         string
	CreatedAt      time.Time
}
