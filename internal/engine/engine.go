// Package engine wires extraction, retrieval, and decision synthesis into the
// query-processing pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hantei/internal/corpus"
	"github.com/hyperjump/hantei/internal/decision"
	"github.com/hyperjump/hantei/internal/embedding"
	"github.com/hyperjump/hantei/internal/extract"
	"github.com/hyperjump/hantei/internal/models"
	"github.com/hyperjump/hantei/internal/retrieval"
)

// OutcomeKind distinguishes fully-evidenced decisions from degraded ones.
// Hard failures are returned as errors, never as records.
type OutcomeKind string

const (
	// OutcomeEvaluated marks a decision backed by semantic retrieval over the
	// full corpus snapshot.
	OutcomeEvaluated OutcomeKind = "evaluated"
	// OutcomeDegraded marks a decision made with reduced evidence (lexical
	// fallback while the embedding backend was unavailable). Stored history
	// must keep the distinction visible.
	OutcomeDegraded OutcomeKind = "degraded"
)

// Result is one query's outcome: the decision record, the intent that
// produced it, and whether the evidence was degraded.
type Result struct {
	Kind           OutcomeKind            `json:"outcome"`
	DegradedReason string                 `json:"degraded_reason,omitempty"`
	Intent         models.QueryIntent     `json:"intent"`
	Record         *models.DecisionRecord `json:"record"`
}

// Options holds engine tuning. Zero values fall back to sensible defaults.
type Options struct {
	TopK            int
	EmbedTimeout    time.Duration
	FallbackEnabled bool
	DegradedCap     float64
}

// Engine processes raw queries into decision records. It is stateless and
// request-scoped: concurrent Process calls share only the read-only corpus
// snapshot behind the holder.
type Engine struct {
	extractor *extract.Extractor
	embedder  embedding.Embedder
	holder    *corpus.Holder
	retriever *retrieval.Retriever
	synth     *decision.Synthesizer
	opts      Options
	logger    *zap.Logger
}

// New creates an engine with the given collaborators.
func New(
	extractor *extract.Extractor,
	embedder embedding.Embedder,
	holder *corpus.Holder,
	retriever *retrieval.Retriever,
	synth *decision.Synthesizer,
	opts Options,
	logger *zap.Logger,
) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 25 * time.Second
	}
	if opts.DegradedCap <= 0 {
		opts.DegradedCap = 0.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		extractor: extractor,
		embedder:  embedder,
		holder:    holder,
		retriever: retriever,
		synth:     synth,
		opts:      opts,
		logger:    logger,
	}
}

// Process turns raw query text into a decision. Failure modes:
//   - corpus.ErrUnavailable: no snapshot loaded; retryable.
//   - corpus.ErrEmbeddingVersionMismatch: corpus and query embedder disagree;
//     fatal for the query, operators must re-embed.
//   - embedding.ErrUnavailable: embedding backend down and fallback disabled;
//     retryable. Other embed failures propagate unchanged.
//   - context errors when the caller aborts; partial work is discarded and
//     never surfaced as a decision.
func (e *Engine) Process(ctx context.Context, raw string) (*Result, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	intent := e.extractor.Extract(raw)

	snap, err := e.holder.Snapshot()
	if err != nil {
		return nil, err
	}
	if err := snap.ValidateQueryVersion(e.embedder.Version()); err != nil {
		return nil, err
	}

	retrieved, degradedReason, err := e.retrieve(ctx, &intent, snap)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record := e.synth.Decide(intent, retrieved)
	result := &Result{Kind: OutcomeEvaluated, Intent: intent, Record: record}
	if degradedReason != "" {
		result.Kind = OutcomeDegraded
		result.DegradedReason = degradedReason
		if record.Confidence > e.opts.DegradedCap {
			record.Confidence = e.opts.DegradedCap
		}
		record.Justification += " (degraded: decided with reduced evidence)"
		record.ReasoningSteps = append(record.ReasoningSteps,
			"note: embedding backend unavailable; lexical fallback retrieval used")
	}

	e.logger.Debug("query processed",
		zap.String("decision", string(record.Decision)),
		zap.String("outcome", string(result.Kind)),
		zap.Float64("confidence", record.Confidence),
		zap.Int("source_clauses", len(record.SourceClauses)),
	)
	return result, nil
}

// retrieve embeds the intent surrogate and ranks the snapshot. When the
// embedding backend is unavailable and fallback is enabled, it degrades to
// lexical retrieval and reports the reason; otherwise the failure propagates.
func (e *Engine) retrieve(ctx context.Context, intent *models.QueryIntent, snap *corpus.Snapshot) ([]models.RetrievedClause, string, error) {
	ectx, cancel := context.WithTimeout(ctx, e.opts.EmbedTimeout)
	defer cancel()

	vec, err := e.embedder.Embed(ectx, intent.Surrogate())
	if err == nil {
		retrieved, rerr := e.retriever.Retrieve(ctx, vec, snap, e.opts.TopK)
		return retrieved, "", rerr
	}

	// The caller aborted: discard, never fabricate.
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: embedding timed out after %s", embedding.ErrUnavailable, e.opts.EmbedTimeout)
	}
	// Only outages degrade; contract or configuration failures surface
	// unchanged so they are never mistaken for something retryable.
	if !errors.Is(err, embedding.ErrUnavailable) {
		return nil, "", fmt.Errorf("embed query: %w", err)
	}
	if !e.opts.FallbackEnabled {
		return nil, "", err
	}

	e.logger.Warn("embedding backend unavailable, using lexical fallback", zap.Error(err))
	retrieved := e.lexicalRetrieve(intent, snap)
	return retrieved, fmt.Sprintf("embedding backend unavailable: %v", err), nil
}

// lexicalRetrieve is the degraded path: clauses scored by the fraction of
// query tokens present in their keywords or text, capped at the degraded
// confidence ceiling. Deterministic: the snapshot is ID-sorted and the sort
// is stable.
func (e *Engine) lexicalRetrieve(intent *models.QueryIntent, snap *corpus.Snapshot) []models.RetrievedClause {
	tokens := strings.Fields(strings.ToLower(intent.Surrogate()))
	if len(tokens) == 0 {
		return nil
	}
	clauses := snap.Clauses()
	scored := make([]models.RetrievedClause, 0, len(clauses))
	for i := range clauses {
		matched := 0
		text := strings.ToLower(clauses[i].Text + " " + strings.Join(clauses[i].Keywords, " "))
		for _, t := range tokens {
			if strings.Contains(text, t) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		sim := e.opts.DegradedCap * float64(matched) / float64(len(tokens))
		scored = append(scored, models.RetrievedClause{Clause: clauses[i], Similarity: sim})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > e.opts.TopK {
		scored = scored[:e.opts.TopK]
	}
	return scored
}
