package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(384, "hash-v1")
	ctx := context.Background()

	a, err := e.Embed(ctx, "knee surgery pune")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(ctx, "knee surgery pune")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding differs at index %d: %v vs %v", i, a[i], b[i])
		}
	}

	c, err := e.Embed(ctx, "heart surgery mumbai")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical embeddings")
	}
}

func TestHashEmbedderUnitNorm(t *testing.T) {
	e := NewHashEmbedder(64, "")
	emb, err := e.Embed(context.Background(), "cataract surgery")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(emb) != 64 {
		t.Fatalf("dimensions = %d, want 64", len(emb))
	}
	var sum float64
	for _, v := range emb {
		sum += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 1e-5 {
		t.Errorf("norm = %f, want 1.0", math.Sqrt(sum))
	}
}

func TestHashEmbedderDefaults(t *testing.T) {
	e := NewHashEmbedder(0, "")
	if e.Dimensions() != 384 {
		t.Errorf("Dimensions() = %d, want 384", e.Dimensions())
	}
	if e.Version() != "hash-v1" {
		t.Errorf("Version() = %q, want %q", e.Version(), "hash-v1")
	}
}

func TestNormalizeL2ZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	NormalizeL2(v)
	for _, x := range v {
		if x != 0 {
			t.Fatal("zero vector mutated by normalization")
		}
	}
}
