// Package domain holds the core entities shared across grantmatchd:
// grants, organization profiles, match analyses, and the AI audit trail.
package domain

import "time"

// Grant is a funding opportunity. Rows are created by an external ingestion
// process; this core only mutates the AI-derived fields via ProcessingState.
type Grant struct {
	ID          string
	Title       string
	Description string
	Funder      string
	AmountMin   *float64
	AmountMax   *float64
	Categories  []string
	Eligibility map[string]any
	Source      string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Processing is the AI-enrichment state. Never nil; defaults to
	// Unprocessed for rows the pipeline has not touched.
	Processing ProcessingState
}

// OrganizationProfile describes an applicant organization. Read-only input to
// the matching path; owned by an external organization-management service.
type OrganizationProfile struct {
	ID           string
	Name         string
	Description  string
	Sector       string
	SizeClass    string
	Location     string
	Capabilities []string
	PriorGrants  []string
}

// ProfileText composes the free-text representation of an organization used
// for embedding and LLM analysis.
func (o *OrganizationProfile) ProfileText() string {
	text := o.Name
	if o.Description != "" {
		text += "\n" + o.Description
	}
	if o.Sector != "" {
		text += "\nSector: " + o.Sector
	}
	if o.SizeClass != "" {
		text += "\nSize: " + o.SizeClass
	}
	if o.Location != "" {
		text += "\nLocation: " + o.Location
	}
	for _, c := range o.Capabilities {
		text += "\nCapability: " + c
	}
	for _, g := range o.PriorGrants {
		text += "\nPrior grant: " + g
	}
	return text
}

// SemanticTag is a short LLM-extracted label summarizing a grant's subject
// matter. One row per (grant, tag).
type SemanticTag struct {
	GrantID    string
	Tag        string
	Category   string
	Confidence float64
	CreatedAt  time.Time
}
