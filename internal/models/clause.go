// Package models defines core data structures for policies, clauses, query
// intents, and decision records.
package models

import "fmt"

// ClauseCategory classifies a policy clause. The set is closed; rule dispatch
// in the decision synthesizer switches exhaustively over it.
type ClauseCategory string

const (
	CategoryDefinitions ClauseCategory = "definitions"
	CategoryCoverage    ClauseCategory = "coverage"
	CategoryEligibility ClauseCategory = "eligibility"
	CategoryBenefits    ClauseCategory = "benefits"
	CategoryExclusions  ClauseCategory = "exclusions"
)

// ParseClauseCategory validates and returns a ClauseCategory.
func ParseClauseCategory(s string) (ClauseCategory, error) {
	switch ClauseCategory(s) {
	case CategoryDefinitions, CategoryCoverage, CategoryEligibility, CategoryBenefits, CategoryExclusions:
		return ClauseCategory(s), nil
	}
	return "", fmt.Errorf("unknown clause category: %q", s)
}

// PolicyStatus is the lifecycle state of a policy. Only active policies
// participate in retrieval.
type PolicyStatus string

const (
	StatusActive   PolicyStatus = "active"
	StatusInactive PolicyStatus = "inactive"
	StatusDraft    PolicyStatus = "draft"
)

// ParsePolicyStatus validates and returns a PolicyStatus.
func ParsePolicyStatus(s string) (PolicyStatus, error) {
	switch PolicyStatus(s) {
	case StatusActive, StatusInactive, StatusDraft:
		return PolicyStatus(s), nil
	}
	return "", fmt.Errorf("unknown policy status: %q", s)
}

// Clause is an atomic, citable unit of policy text with a category, keywords,
// and a precomputed embedding. Immutable once published; re-ingestion creates
// a new policy version rather than mutating clauses in place.
type Clause struct {
	ID        string         `json:"clause_id" yaml:"clause_id"`
	PolicyUIN string         `json:"policy_uin,omitempty" yaml:"-"`
	Text      string         `json:"text" yaml:"text"`
	Category  ClauseCategory `json:"category" yaml:"category"`
	Keywords  []string       `json:"keywords,omitempty" yaml:"keywords"`
	Embedding []float32      `json:"-" yaml:"-"`
}

// Policy is a versioned collection of clauses identified by a globally unique UIN.
type Policy struct {
	Name             string       `json:"name" yaml:"name"`
	Provider         string       `json:"provider" yaml:"provider"`
	UIN              string       `json:"uin" yaml:"uin"`
	Version          int          `json:"version" yaml:"version"`
	Status           PolicyStatus `json:"status" yaml:"status"`
	EmbeddingVersion string       `json:"embedding_version,omitempty" yaml:"embedding_version"`
	Clauses          []Clause     `json:"clauses" yaml:"clauses"`
}

// Validate checks policy invariants: UIN present, valid status and categories,
// clause IDs unique within the policy.
func (p *Policy) Validate() error {
	if p.UIN == "" {
		return fmt.Errorf("policy %q: uin is required", p.Name)
	}
	if _, err := ParsePolicyStatus(string(p.Status)); err != nil {
		return fmt.Errorf("policy %s: %w", p.UIN, err)
	}
	seen := make(map[string]bool, len(p.Clauses))
	for _, c := range p.Clauses {
		if c.ID == "" {
			return fmt.Errorf("policy %s: clause with empty id", p.UIN)
		}
		if seen[c.ID] {
			return fmt.Errorf("policy %s: duplicate clause id %s", p.UIN, c.ID)
		}
		seen[c.ID] = true
		if _, err := ParseClauseCategory(string(c.Category)); err != nil {
			return fmt.Errorf("policy %s clause %s: %w", p.UIN, c.ID, err)
		}
	}
	return nil
}

// RetrievedClause pairs a clause with its similarity to a query. Produced per
// query and never persisted independently.
type RetrievedClause struct {
	Clause     Clause  `json:"clause"`
	Similarity float64 `json:"similarity"`
}
