package models

import (
	"fmt"
	"strings"
)

// Gender as extracted from a query token. Absence is legitimate.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
)

// DurationUnit is the normalized (singular) unit of a policy duration.
type DurationUnit string

const (
	UnitDay   DurationUnit = "day"
	UnitMonth DurationUnit = "month"
	UnitYear  DurationUnit = "year"
)

// PolicyDuration is an extracted policy duration or waiting period.
type PolicyDuration struct {
	Value int          `json:"value"`
	Unit  DurationUnit `json:"unit"`
}

// Days converts the duration to days (month = 30, year = 365).
func (d PolicyDuration) Days() int {
	switch d.Unit {
	case UnitDay:
		return d.Value
	case UnitMonth:
		return d.Value * 30
	case UnitYear:
		return d.Value * 365
	}
	return 0
}

func (d PolicyDuration) String() string {
	unit := string(d.Unit)
	if d.Value != 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s", d.Value, unit)
}

// QueryIntent is the structured form of a free-text query. Every field except
// RawText is optional: absence is a legitimate extraction outcome, not an error.
type QueryIntent struct {
	Age       *int            `json:"age,omitempty"`
	Gender    *Gender         `json:"gender,omitempty"`
	Procedure string          `json:"procedure,omitempty"`
	Location  string          `json:"location,omitempty"`
	Duration  *PolicyDuration `json:"policy_duration,omitempty"`
	RawText   string          `json:"raw_text"`
}

// Surrogate builds the retrieval text for the intent by concatenating its
// non-empty fields. Corpus and query embeddings must come from the same
// embedding-function version for the resulting similarities to be meaningful.
func (q *QueryIntent) Surrogate() string {
	parts := make([]string, 0, 4)
	if q.Procedure != "" {
		parts = append(parts, q.Procedure)
	}
	if q.Location != "" {
		parts = append(parts, q.Location)
	}
	if q.Duration != nil {
		parts = append(parts, q.Duration.String()+" policy")
	}
	if q.RawText != "" {
		parts = append(parts, q.RawText)
	}
	return strings.Join(parts, " ")
}

// Summary renders the extracted entities for the reasoning trail.
func (q *QueryIntent) Summary() string {
	var b strings.Builder
	b.WriteString("extracted entities:")
	if q.Age != nil {
		fmt.Fprintf(&b, " age=%d", *q.Age)
	}
	if q.Gender != nil {
		fmt.Fprintf(&b, " gender=%s", *q.Gender)
	}
	if q.Procedure != "" {
		fmt.Fprintf(&b, " procedure=%q", q.Procedure)
	}
	if q.Location != "" {
		fmt.Fprintf(&b, " location=%q", q.Location)
	}
	if q.Duration != nil {
		fmt.Fprintf(&b, " duration=%s", q.Duration)
	}
	if q.Age == nil && q.Gender == nil && q.Procedure == "" && q.Location == "" && q.Duration == nil {
		b.WriteString(" none")
	}
	return b.String()
}
