// Package extract parses free-text insurance queries into structured intents.
//
// The input distribution is narrow (terse, comma-separated fragments such as
// "46M, knee surgery, Pune, 3-month policy"), so extraction is deterministic
// regex/lexical matching rather than a full NLP parse. Determinism is required
// for auditability of the downstream decision.
package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/hantei/internal/models"
)

var (
	ageGenderRe = regexp.MustCompile(`(?:^|[^a-z0-9])(\d{1,3})\s?([mf])(?:[^a-z0-9]|$)`)
	durationRe  = regexp.MustCompile(`(\d{1,4})[\s-]*(day|month|year)s?\b`)
)

// Extractor parses raw query text into a QueryIntent. Patterns are applied
// independently; a pattern that does not match leaves its field absent.
type Extractor struct {
	procedures []string // sorted longest first
	locations  []string
}

// NewExtractor creates an extractor with the given vocabularies. Empty slices
// fall back to the compiled-in defaults. Vocabulary entries are normalized to
// lowercase; procedures are ordered longest-first so the most specific phrase wins.
func NewExtractor(procedures, locations []string) *Extractor {
	if len(procedures) == 0 {
		procedures = DefaultProcedures()
	}
	if len(locations) == 0 {
		locations = DefaultLocations()
	}
	procs := make([]string, len(procedures))
	for i, p := range procedures {
		procs[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sort.SliceStable(procs, func(i, j int) bool { return len(procs[i]) > len(procs[j]) })
	locs := make([]string, len(locations))
	for i, l := range locations {
		locs[i] = strings.ToLower(strings.TrimSpace(l))
	}
	return &Extractor{procedures: procs, locations: locs}
}

// Extract parses raw text into a QueryIntent. It never fails: malformed or
// unrecognizable input yields an intent with absent fields, not an error.
func (e *Extractor) Extract(raw string) models.QueryIntent {
	intent := models.QueryIntent{RawText: raw}
	text := strings.ToLower(raw)

	if age, gender, ok := extractAgeGender(text); ok {
		intent.Age = &age
		intent.Gender = &gender
	}
	if d, ok := extractDuration(text); ok {
		intent.Duration = &d
	}
	intent.Procedure = e.extractProcedure(text)
	intent.Location = e.extractLocation(text)
	return intent
}

// extractAgeGender matches an integer immediately followed by an m/f token,
// e.g. "46M" or "46 f". Both fields come from the same token.
func extractAgeGender(text string) (int, models.Gender, bool) {
	m := ageGenderRe.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	age, err := strconv.Atoi(m[1])
	if err != nil || age <= 0 || age > 130 {
		return 0, "", false
	}
	if m[2] == "m" {
		return age, models.GenderMale, true
	}
	return age, models.GenderFemale, true
}

// extractDuration matches the first integer followed by a day/month/year word,
// with optional whitespace or hyphen, normalized to a singular unit.
func extractDuration(text string) (models.PolicyDuration, bool) {
	m := durationRe.FindStringSubmatch(text)
	if m == nil {
		return models.PolicyDuration{}, false
	}
	value, err := strconv.Atoi(m[1])
	if err != nil || value <= 0 {
		return models.PolicyDuration{}, false
	}
	return models.PolicyDuration{Value: value, Unit: models.DurationUnit(m[2])}, true
}

// extractProcedure returns the longest vocabulary phrase contained in the
// text, or "" when none matches.
func (e *Extractor) extractProcedure(text string) string {
	for _, p := range e.procedures {
		if strings.Contains(text, p) {
			return p
		}
	}
	return ""
}

// extractLocation returns the city whose first occurrence appears earliest in
// the text; vocabulary order breaks position ties.
func (e *Extractor) extractLocation(text string) string {
	best := ""
	bestPos := -1
	for _, city := range e.locations {
		pos := strings.Index(text, city)
		if pos < 0 {
			continue
		}
		if bestPos < 0 || pos < bestPos {
			best = city
			bestPos = pos
		}
	}
	return best
}
