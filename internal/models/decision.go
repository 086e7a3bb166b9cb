package models

import "fmt"

// Decision is the coverage verdict. The set is closed.
type Decision string

const (
	DecisionApproved    Decision = "Approved"
	DecisionRejected    Decision = "Rejected"
	DecisionConditional Decision = "Conditional"
)

// ParseDecision validates and returns a Decision.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApproved, DecisionRejected, DecisionConditional:
		return Decision(s), nil
	}
	return "", fmt.Errorf("unknown decision: %q", s)
}

// DecisionRecord is the immutable output of one query's processing. It is
// constructed once by the decision synthesizer and never mutated afterwards.
// Identifiers and timestamps belong to the persistence envelope, not here, so
// that identical (intent, retrieved) inputs yield byte-identical records.
type DecisionRecord struct {
	Decision       Decision          `json:"decision"`
	Amount         *int64            `json:"amount,omitempty"`
	Justification  string            `json:"justification"`
	Confidence     float64           `json:"confidence"`
	SourceClauses  []RetrievedClause `json:"source_clauses"`
	ReasoningSteps []string          `json:"reasoning_steps"`
}

// Feedback is append-only user metadata attached to a stored decision. It can
// never alter the original record's decision or confidence.
type Feedback struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
	Helpful bool   `json:"helpful"`
}

// Validate checks the feedback rating range (1-5).
func (f *Feedback) Validate() error {
	if f.Rating < 1 || f.Rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", f.Rating)
	}
	return nil
}
