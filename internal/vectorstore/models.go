// Package vectorstore wraps the hosted vector database behind a
// namespace-partitioned index client.
package vectorstore

import "time"

// DefaultNamespace is the namespace used when none is specified.
const DefaultNamespace = "default"

// GrantsNamespace holds grant embeddings written by the ingestion path.
const GrantsNamespace = "grants"

// Record is a stored embedding: a globally unique id within its namespace, a
// fixed-width vector, and a free-form metadata bag. Upsert stamps updated_at
// into metadata; it must carry at minimum a type discriminator.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// SearchResult is one similarity hit, ordered by descending score. Fetch
// returns a unit score to signal "exact fetch, not similarity".
type SearchResult struct {
	ID       string
	Score    float32
	Metadata map[string]any

	// Values is the stored vector, populated only when requested.
	Values []float32
}

// SearchOptions tune a similarity search.
type SearchOptions struct {
	// TopK is the number of hits to return. Default 10.
	TopK int

	// Namespace scopes the search. Default DefaultNamespace.
	Namespace string

	// Filter restricts hits by metadata. Nil means unfiltered.
	Filter *Filters

	// IncludeValues returns stored vectors alongside hits.
	IncludeValues bool
}

// DateRange is a closed interval on the updated_at metadata timestamp.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Filters is the structured filter object hybrid search translates into the
// store's filter dialect. Zero-valued fields emit no predicate at all.
type Filters struct {
	// Type matches the metadata type discriminator exactly.
	Type string

	// Funder matches the funder name exactly.
	Funder string

	// Source matches the ingestion source exactly.
	Source string

	// Active matches the active flag. Nil emits no predicate.
	Active *bool

	// Tags matches records whose tag list contains any of the values.
	Tags []string

	// Categories matches records whose category list contains any of the values.
	Categories []string

	// DateRange bounds updated_at as a closed interval.
	DateRange *DateRange
}

// Empty reports whether no predicate would be emitted.
func (f *Filters) Empty() bool {
	if f == nil {
		return true
	}
	return f.Type == "" && f.Funder == "" && f.Source == "" && f.Active == nil &&
		len(f.Tags) == 0 && len(f.Categories) == 0 && f.DateRange == nil
}

// NamespaceStats describes one namespace of the index.
type NamespaceStats struct {
	Namespace   string `json:"namespace"`
	VectorCount int    `json:"vector_count"`
	Dimension   int    `json:"dimension"`
}

// IndexStats aggregates all namespaces of the index.
type IndexStats struct {
	IndexName        string           `json:"index_name"`
	Dimension        int              `json:"dimension"`
	TotalVectorCount int              `json:"total_vector_count"`
	Namespaces       []NamespaceStats `json:"namespaces"`
}
