package domain

// ProcessingState is the tagged AI-enrichment state of a grant. Exactly one
// of the concrete states applies at a time; invalid combinations (processed
// with an error message, errored with a vector id) are unrepresentable.
//
// Transitions: Unprocessed -> Processing -> Processed | Errored.
// Errored is not terminal: batch processing retries any grant whose state is
// not Processed.
type ProcessingState interface {
	isProcessingState()
}

// Unprocessed means the pipeline has never touched the grant.
type Unprocessed struct{}

// Processing means an enrichment run is in flight.
type Processing struct{}

// Processed carries the durable results of a successful enrichment run.
type Processed struct {
	VectorID string
	Tags     []string
}

// Errored carries the failure message of the most recent enrichment attempt.
type Errored struct {
	Message string
}

func (Unprocessed) isProcessingState() {}
func (Processing) isProcessingState()  {}
func (Processed) isProcessingState()   {}
func (Errored) isProcessingState()     {}

// NeedsProcessing reports whether a batch run should (re)process a grant in
// the given state. A pure function of state per the retry policy.
func NeedsProcessing(s ProcessingState) bool {
	switch s.(type) {
	case Processed:
		return false
	default:
		return true
	}
}
