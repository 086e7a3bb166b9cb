// Package decision synthesizes coverage decisions from extracted entities and
// retrieved clauses.
package decision

import (
	"fmt"
	"strings"

	"github.com/hyperjump/hantei/internal/config"
	"github.com/hyperjump/hantei/internal/models"
)

// Options holds the synthesizer's thresholds and rule tables. All of it comes
// from configuration; there are no embedded per-procedure branches.
type Options struct {
	// RelevanceFloor is the similarity below which the top retrieved clause is
	// treated as irrelevant.
	RelevanceFloor float64
	// NoMatchConfidence is the fixed confidence of decisions made with no
	// cited evidence.
	NoMatchConfidence float64
	// ConditionalFactor scales the cited similarity when a decision is
	// Conditional due to missing information.
	ConditionalFactor float64
	// Rules are the procedure-to-amount and procedure-to-minimum-duration tables.
	Rules *config.RulesConfig
}

// Synthesizer evaluates coverage rules over retrieved clauses. Decide is a
// pure function of its inputs: no clock, no randomness, no hidden state, so
// identical (intent, retrieved) pairs always yield identical records.
type Synthesizer struct {
	opts Options
}

// NewSynthesizer creates a synthesizer with the given options.
func NewSynthesizer(opts Options) *Synthesizer {
	if opts.NoMatchConfidence == 0 {
		opts.NoMatchConfidence = 0.5
	}
	if opts.ConditionalFactor == 0 {
		opts.ConditionalFactor = 0.75
	}
	if opts.Rules == nil {
		opts.Rules = &config.RulesConfig{
			Amounts:      config.DefaultAmountRules(),
			MinDurations: config.DefaultDurationRules(),
		}
	}
	return &Synthesizer{opts: opts}
}

// Decide applies the coverage rules to the retrieved clauses and extracted
// entities, producing an immutable decision record with a clause-level
// justification trail. Confidence always traces to the similarity of the
// clauses actually cited; decisions with no cited clause carry the fixed
// no-match confidence.
func (s *Synthesizer) Decide(intent models.QueryIntent, retrieved []models.RetrievedClause) *models.DecisionRecord {
	steps := []string{intent.Summary()}

	if len(retrieved) == 0 || retrieved[0].Similarity < s.opts.RelevanceFloor {
		if len(retrieved) == 0 {
			steps = append(steps, "retrieval returned no clauses")
		} else {
			steps = append(steps, fmt.Sprintf("top clause %s scored %.2f, below relevance floor %.2f",
				retrieved[0].Clause.ID, retrieved[0].Similarity, s.opts.RelevanceFloor))
		}
		return s.reject(steps, "no matching coverage found", s.opts.NoMatchConfidence, nil)
	}

	steps = append(steps, fmt.Sprintf("top clause %s (%s) retrieved at similarity %.2f",
		retrieved[0].Clause.ID, retrieved[0].Clause.Category, retrieved[0].Similarity))

	if intent.Procedure == "" {
		steps = append(steps, "no recognizable procedure in query")
		return s.reject(steps, "no matching coverage found", s.opts.NoMatchConfidence, nil)
	}

	for _, rc := range retrieved {
		if !ReferencesProcedure(rc.Clause, intent.Procedure) {
			continue
		}
		switch rc.Clause.Category {
		case models.CategoryCoverage:
			steps = append(steps, fmt.Sprintf("coverage clause %s references %q (similarity %.2f)",
				rc.Clause.ID, intent.Procedure, rc.Similarity))
			return s.decideCoverage(intent, rc, steps)
		case models.CategoryExclusions:
			steps = append(steps, fmt.Sprintf("exclusion clause %s references %q (similarity %.2f)",
				rc.Clause.ID, intent.Procedure, rc.Similarity))
			return s.reject(steps,
				fmt.Sprintf("%s is excluded under clause %s", intent.Procedure, rc.Clause.ID),
				rc.Similarity, []models.RetrievedClause{rc})
		case models.CategoryDefinitions, models.CategoryEligibility, models.CategoryBenefits:
			// Informational categories: they contextualize but do not decide.
			continue
		}
	}

	steps = append(steps, fmt.Sprintf("no coverage or exclusion clause references %q", intent.Procedure))
	return s.reject(steps, "no matching coverage found", s.opts.NoMatchConfidence, nil)
}

// decideCoverage evaluates a matched coverage clause: duration gating first,
// then amount resolution.
func (s *Synthesizer) decideCoverage(intent models.QueryIntent, rc models.RetrievedClause, steps []string) *models.DecisionRecord {
	sources := []models.RetrievedClause{rc}

	minDays, hasMin := s.opts.Rules.MinDurationDays(intent.Procedure)
	if hasMin {
		if intent.Duration == nil {
			steps = append(steps,
				fmt.Sprintf("minimum policy duration of %d days applies but query states no duration", minDays),
				"decision: Conditional (insufficient information)")
			return &models.DecisionRecord{
				Decision: models.DecisionConditional,
				Justification: fmt.Sprintf(
					"coverage requires a minimum policy duration of %d days; policy duration not provided", minDays),
				Confidence:     round4(rc.Similarity * s.opts.ConditionalFactor),
				SourceClauses:  sources,
				ReasoningSteps: steps,
			}
		}
		if intent.Duration.Days() < minDays {
			steps = append(steps,
				fmt.Sprintf("policy duration %s (%d days) is below the required minimum of %d days",
					intent.Duration, intent.Duration.Days(), minDays),
				"decision: Rejected")
			return &models.DecisionRecord{
				Decision: models.DecisionRejected,
				Justification: fmt.Sprintf("policy duration %s is below the required minimum of %d days",
					intent.Duration, minDays),
				Confidence:     round4(rc.Similarity),
				SourceClauses:  sources,
				ReasoningSteps: steps,
			}
		}
		steps = append(steps, fmt.Sprintf("policy duration %s (%d days) satisfies the minimum of %d days",
			intent.Duration, intent.Duration.Days(), minDays))
	}

	record := &models.DecisionRecord{
		Decision: models.DecisionApproved,
		Justification: fmt.Sprintf("%s is covered under clause %s of policy %s",
			intent.Procedure, rc.Clause.ID, rc.Clause.PolicyUIN),
		Confidence:    round4(rc.Similarity),
		SourceClauses: sources,
	}
	if amount, ok := s.opts.Rules.AmountFor(intent.Procedure, intent.Age); ok {
		record.Amount = &amount
		steps = append(steps, fmt.Sprintf("payout amount %d resolved from the procedure table", amount))
	} else {
		steps = append(steps, "no payout amount configured for this procedure")
	}
	steps = append(steps, "decision: Approved")
	record.ReasoningSteps = steps
	return record
}

func (s *Synthesizer) reject(steps []string, justification string, confidence float64, sources []models.RetrievedClause) *models.DecisionRecord {
	if sources == nil {
		sources = []models.RetrievedClause{}
	}
	steps = append(steps, "decision: Rejected")
	return &models.DecisionRecord{
		Decision:       models.DecisionRejected,
		Justification:  justification,
		Confidence:     round4(confidence),
		SourceClauses:  sources,
		ReasoningSteps: steps,
	}
}

// ReferencesProcedure reports whether a clause speaks about the given
// procedure: the clause text contains the procedure phrase, or a clause
// keyword overlaps it (whole keyword or shared token).
func ReferencesProcedure(c models.Clause, procedure string) bool {
	if procedure == "" {
		return false
	}
	procedure = strings.ToLower(procedure)
	if strings.Contains(strings.ToLower(c.Text), procedure) {
		return true
	}
	procTokens := strings.Fields(procedure)
	for _, kw := range c.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if kw == procedure || strings.Contains(procedure, kw) || strings.Contains(kw, procedure) {
			return true
		}
		for _, kt := range strings.Fields(kw) {
			for _, pt := range procTokens {
				if kt == pt {
					return true
				}
			}
		}
	}
	return false
}

// round4 trims float noise so records serialize identically across runs.
func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
