package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/hantei/internal/corpus"
	"github.com/hyperjump/hantei/internal/decision"
	"github.com/hyperjump/hantei/internal/embedding"
	"github.com/hyperjump/hantei/internal/extract"
	"github.com/hyperjump/hantei/internal/models"
	"github.com/hyperjump/hantei/internal/retrieval"
)

// stubEmbedder returns a fixed vector for every text, or a fixed error.
type stubEmbedder struct {
	vec     []float32
	err     error
	version string
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := s.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return len(s.vec) }
func (s *stubEmbedder) Version() string { return s.version }
func (s *stubEmbedder) Close() error { return nil }

func kneePolicy() models.Policy {
	return models.Policy{
		Name:             "Health Guard Gold",
		UIN:              "BAJ-003",
		Status:           models.StatusActive,
		EmbeddingVersion: "test-v1",
		Clauses: []models.Clause{
			{
				ID:        "BAJ-003-C-12",
				Text:      "knee surgery is covered after the waiting period",
				Category:  models.CategoryCoverage,
				Keywords:  []string{"knee surgery", "orthopedic"},
				Embedding: []float32{1, 0, 0},
			},
			{
				ID:        "BAJ-003-E-04",
				Text:      "dental treatment is excluded",
				Category:  models.CategoryExclusions,
				Keywords:  []string{"dental treatment"},
				Embedding: []float32{0, 1, 0},
			},
		},
	}
}

func newTestEngine(t *testing.T, embedder embedding.Embedder, holder *corpus.Holder, opts Options) *Engine {
	t.Helper()
	return New(
		extract.NewExtractor(nil, nil),
		embedder,
		holder,
		retrieval.NewRetriever(0),
		decision.NewSynthesizer(decision.Options{RelevanceFloor: 0.3}),
		opts,
		zap.NewNop(),
	)
}

func loadedHolder(t *testing.T) *corpus.Holder {
	t.Helper()
	snap, err := corpus.NewSnapshot([]models.Policy{kneePolicy()})
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return corpus.NewHolder(snap)
}

func TestProcessApprovesKneeSurgery(t *testing.T) {
	// The stub maps every query onto the knee coverage clause's direction.
	embedder := &stubEmbedder{vec: []float32{1, 0, 0}, version: "test-v1"}
	eng := newTestEngine(t, embedder, loadedHolder(t), Options{})

	result, err := eng.Process(context.Background(), "46M, knee surgery, Pune, 3-month policy")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Kind != OutcomeEvaluated {
		t.Errorf("kind = %s, want evaluated", result.Kind)
	}
	if result.Record.Decision != models.DecisionApproved {
		t.Fatalf("decision = %s, want Approved\nsteps: %v",
			result.Record.Decision, result.Record.ReasoningSteps)
	}
	if result.Record.Amount == nil || *result.Record.Amount != 150000 {
		t.Errorf("amount = %v, want 150000 (senior tier at age 46)", result.Record.Amount)
	}
	if result.Record.Confidence != 1 {
		t.Errorf("confidence = %f, want 1 (exact embedding match)", result.Record.Confidence)
	}
	if result.Intent.Procedure != "knee surgery" {
		t.Errorf("intent procedure = %q", result.Intent.Procedure)
	}
}

func TestProcessDeterministic(t *testing.T) {
	embedder := &stubEmbedder{vec: []float32{1, 0, 0}, version: "test-v1"}
	eng := newTestEngine(t, embedder, loadedHolder(t), Options{})

	a, err := eng.Process(context.Background(), "46M, knee surgery, Pune, 3-month policy")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	b, err := eng.Process(context.Background(), "46M, knee surgery, Pune, 3-month policy")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if a.Record.Decision != b.Record.Decision || a.Record.Confidence != b.Record.Confidence ||
		a.Record.Justification != b.Record.Justification {
		t.Error("identical queries produced different records")
	}
}

func TestProcessEmptyQuery(t *testing.T) {
	embedder := &stubEmbedder{vec: []float32{1, 0, 0}, version: "test-v1"}
	eng := newTestEngine(t, embedder, loadedHolder(t), Options{})
	if _, err := eng.Process(context.Background(), "   "); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestProcessNoSnapshotLoaded(t *testing.T) {
	embedder := &stubEmbedder{vec: []float32{1, 0, 0}, version: "test-v1"}
	eng := newTestEngine(t, embedder, corpus.NewHolder(nil), Options{})
	_, err := eng.Process(context.Background(), "knee surgery")
	if !errors.Is(err, corpus.ErrUnavailable) {
		t.Errorf("error = %v, want corpus.ErrUnavailable", err)
	}
}

func TestProcessEmbeddingVersionMismatch(t *testing.T) {
	embedder := &stubEmbedder{vec: []float32{1, 0, 0}, version: "test-v2"}
	eng := newTestEngine(t, embedder, loadedHolder(t), Options{})
	_, err := eng.Process(context.Background(), "knee surgery")
	if !errors.Is(err, corpus.ErrEmbeddingVersionMismatch) {
		t.Errorf("error = %v, want corpus.ErrEmbeddingVersionMismatch", err)
	}
}

func TestProcessDegradedFallback(t *testing.T) {
	embedder := &stubEmbedder{err: embedding.ErrUnavailable, version: "test-v1"}
	eng := newTestEngine(t, embedder, loadedHolder(t), Options{
		FallbackEnabled: true,
		DegradedCap:     0.5,
	})

	result, err := eng.Process(context.Background(), "46M, knee surgery, Pune, 3-month policy")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Kind != OutcomeDegraded {
		t.Fatalf("kind = %s, want degraded", result.Kind)
	}
	if result.DegradedReason == "" {
		t.Error("degraded result carries no reason")
	}
	if result.Record.Confidence > 0.5 {
		t.Errorf("confidence = %f, exceeds the degraded cap", result.Record.Confidence)
	}
	if !strings.Contains(result.Record.Justification, "degraded") {
		t.Errorf("justification does not flag degradation: %q", result.Record.Justification)
	}
}

func TestProcessEmbeddingDownNoFallback(t *testing.T) {
	embedder := &stubEmbedder{err: embedding.ErrUnavailable, version: "test-v1"}
	eng := newTestEngine(t, embedder, loadedHolder(t), Options{FallbackEnabled: false})

	_, err := eng.Process(context.Background(), "knee surgery")
	if !errors.Is(err, embedding.ErrUnavailable) {
		t.Errorf("error = %v, want embedding.ErrUnavailable", err)
	}
}

func TestProcessNonRetryableEmbedError(t *testing.T) {
	// A contract failure (bad model, rejected input) must not be reported as
	// a retryable outage, even with fallback enabled.
	backendErr := errors.New("model rejected input")
	embedder := &stubEmbedder{err: backendErr, version: "test-v1"}
	eng := newTestEngine(t, embedder, loadedHolder(t), Options{FallbackEnabled: true})

	_, err := eng.Process(context.Background(), "knee surgery")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, backendErr) {
		t.Errorf("error = %v, original cause lost", err)
	}
	if errors.Is(err, embedding.ErrUnavailable) {
		t.Errorf("error = %v, misreported as retryable", err)
	}
}

func TestProcessConcurrent(t *testing.T) {
	// Process shares only the embedder cache and the read-only snapshot
	// across requests. Run with -race.
	embedder := embedding.NewCached(&stubEmbedder{vec: []float32{1, 0, 0}, version: "test-v1"}, 32)
	eng := newTestEngine(t, embedder, loadedHolder(t), Options{})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				result, err := eng.Process(context.Background(), "46M, knee surgery, Pune, 3-month policy")
				if err != nil {
					t.Errorf("Process: %v", err)
					return
				}
				if result.Record.Decision != models.DecisionApproved || result.Record.Confidence != 1 {
					t.Errorf("concurrent result diverged: %s @ %f",
						result.Record.Decision, result.Record.Confidence)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestProcessCancelledContext(t *testing.T) {
	embedder := &stubEmbedder{err: errors.New("backend exploded"), version: "test-v1"}
	eng := newTestEngine(t, embedder, loadedHolder(t), Options{FallbackEnabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.Process(ctx, "knee surgery")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
