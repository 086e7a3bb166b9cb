package corpus

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/hantei/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "corpus.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func storedPolicy() models.Policy {
	return models.Policy{
		Name:             "Health Guard Gold",
		Provider:         "Bajaj Allianz",
		UIN:              "BAJ-003",
		Status:           models.StatusActive,
		EmbeddingVersion: "hash-v1",
		Clauses: []models.Clause{
			{
				ID:        "BAJ-003-C-12",
				Text:      "knee surgery is covered",
				Category:  models.CategoryCoverage,
				Keywords:  []string{"knee surgery", "orthopedic"},
				Embedding: []float32{0.1, -0.2, 0.3},
			},
			{
				ID:        "BAJ-003-E-04",
				Text:      "dental treatment is excluded",
				Category:  models.CategoryExclusions,
				Keywords:  []string{"dental treatment"},
				Embedding: []float32{-0.4, 0.5, 0.6},
			},
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := storedPolicy()
	if err := store.ReplacePolicy(ctx, &p); err != nil {
		t.Fatalf("ReplacePolicy: %v", err)
	}

	policies, err := store.ListPolicies(ctx)
	if err != nil {
		t.Fatalf("ListPolicies: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("len = %d, want 1", len(policies))
	}
	got := policies[0]
	if got.UIN != "BAJ-003" || got.Version != 1 || got.EmbeddingVersion != "hash-v1" {
		t.Errorf("policy = %+v", got)
	}
	if len(got.Clauses) != 2 {
		t.Fatalf("clauses = %d, want 2", len(got.Clauses))
	}
	c := got.Clauses[0]
	if c.ID != "BAJ-003-C-12" || c.Category != models.CategoryCoverage {
		t.Errorf("clause = %+v", c)
	}
	if len(c.Keywords) != 2 || c.Keywords[0] != "knee surgery" {
		t.Errorf("keywords = %v", c.Keywords)
	}
	want := []float32{0.1, -0.2, 0.3}
	if len(c.Embedding) != len(want) {
		t.Fatalf("embedding length = %d, want %d", len(c.Embedding), len(want))
	}
	for i := range want {
		if c.Embedding[i] != want[i] {
			t.Errorf("embedding[%d] = %f, want %f", i, c.Embedding[i], want[i])
		}
	}
}

func TestReplacePolicyBumpsVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := storedPolicy()
	if err := store.ReplacePolicy(ctx, &p); err != nil {
		t.Fatalf("first ReplacePolicy: %v", err)
	}

	updated := storedPolicy()
	updated.Clauses = updated.Clauses[:1]
	if err := store.ReplacePolicy(ctx, &updated); err != nil {
		t.Fatalf("second ReplacePolicy: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}

	policies, err := store.ListPolicies(ctx)
	if err != nil {
		t.Fatalf("ListPolicies: %v", err)
	}
	if len(policies) != 1 || len(policies[0].Clauses) != 1 {
		t.Errorf("supersede left stale rows: %d policies, %d clauses",
			len(policies), len(policies[0].Clauses))
	}

	clauses, err := store.CountClauses(ctx)
	if err != nil {
		t.Fatalf("CountClauses: %v", err)
	}
	if clauses != 1 {
		t.Errorf("clause count = %d, want 1", clauses)
	}
}

func TestLoadSnapshotFromStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := storedPolicy()
	if err := store.ReplacePolicy(ctx, &p); err != nil {
		t.Fatalf("ReplacePolicy: %v", err)
	}
	inactive := storedPolicy()
	inactive.UIN = "BAJ-999"
	inactive.Clauses[0].ID = "BAJ-999-C-01"
	inactive.Clauses[1].ID = "BAJ-999-E-01"
	inactive.Status = models.StatusInactive
	if err := store.ReplacePolicy(ctx, &inactive); err != nil {
		t.Fatalf("ReplacePolicy inactive: %v", err)
	}

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.Len() != 2 || snap.ActivePolicies() != 1 {
		t.Errorf("snapshot: %d clauses, %d policies; want 2, 1", snap.Len(), snap.ActivePolicies())
	}
	if snap.EmbeddingVersion() != "hash-v1" {
		t.Errorf("embedding version = %q", snap.EmbeddingVersion())
	}
}

func TestEncodeDecodeEmbedding(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.0e-7}
	out := decodeEmbedding(encodeEmbedding(in))
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: %f != %f", i, in[i], out[i])
		}
	}
}
