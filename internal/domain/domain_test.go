package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsProcessing(t *testing.T) {
	tests := []struct {
		name  string
		state ProcessingState
		want  bool
	}{
		{"unprocessed", Unprocessed{}, true},
		{"processing", Processing{}, true},
		{"errored retries", Errored{Message: "provider timeout"}, true},
		{"processed is terminal", Processed{VectorID: "grant_1_abc"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsProcessing(tt.state))
		})
	}
}

func TestEligibilityRank(t *testing.T) {
	assert.Greater(t, Eligible.Rank(), PartiallyEligible.Rank())
	assert.Greater(t, PartiallyEligible.Rank(), Unclear.Rank())
	assert.Greater(t, Unclear.Rank(), NotEligible.Rank())

	// Unknown verdicts rank with Unclear.
	assert.Equal(t, Unclear.Rank(), Eligibility("SOMETHING_ELSE").Rank())
}

func TestNormalizeEligibility(t *testing.T) {
	tests := []struct {
		in   string
		want Eligibility
	}{
		{"ELIGIBLE", Eligible},
		{"PARTIALLY_ELIGIBLE", PartiallyEligible},
		{"NOT_ELIGIBLE", NotEligible},
		{"UNCLEAR", Unclear},
		{"eligible", Unclear},
		{"", Unclear},
		{"MAYBE", Unclear},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeEligibility(tt.in), "input %q", tt.in)
	}
}

func TestProfileText(t *testing.T) {
	org := &OrganizationProfile{
		ID:           "org-1",
		Name:         "River Valley Trust",
		Description:  "Watershed restoration nonprofit.",
		Sector:       "environment",
		SizeClass:    "small",
		Location:     "Oregon, USA",
		Capabilities: []string{"habitat restoration", "community outreach"},
		PriorGrants:  []string{"EPA wetlands 2024"},
	}

	text := org.ProfileText()
	assert.Contains(t, text, "River Valley Trust")
	assert.Contains(t, text, "Sector: environment")
	assert.Contains(t, text, "Size: small")
	assert.Contains(t, text, "Capability: habitat restoration")
	assert.Contains(t, text, "Prior grant: EPA wetlands 2024")
}

func TestProfileTextMinimal(t *testing.T) {
	org := &OrganizationProfile{Name: "Bare Org"}
	assert.Equal(t, "Bare Org", org.ProfileText())
}
