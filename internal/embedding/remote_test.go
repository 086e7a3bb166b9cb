package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func newEmbeddingsServer(t *testing.T, vec []float32) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": vec}},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRemoteEmbedderEmbed(t *testing.T) {
	ts := newEmbeddingsServer(t, []float32{3, 4, 0})
	emb, err := NewRemoteEmbedder(RemoteConfig{BaseURL: ts.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("NewRemoteEmbedder: %v", err)
	}

	vec, err := emb.Embed(context.Background(), "knee surgery")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("len = %d, want 3", len(vec))
	}
	// Responses are unit-normalized.
	if vec[0] != 0.6 || vec[1] != 0.8 {
		t.Errorf("vec = %v, want normalized {0.6, 0.8, 0}", vec)
	}
	if emb.Dimensions() != 3 {
		t.Errorf("Dimensions() = %d, want 3 after first embed", emb.Dimensions())
	}
}

// The dimension is learned from the first response, which concurrent requests
// race for. Run with -race.
func TestRemoteEmbedderConcurrentDimensionLearning(t *testing.T) {
	ts := newEmbeddingsServer(t, []float32{1, 0, 0, 0})
	emb, err := NewRemoteEmbedder(RemoteConfig{BaseURL: ts.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("NewRemoteEmbedder: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := emb.Embed(context.Background(), "knee surgery"); err != nil {
					t.Errorf("Embed: %v", err)
					return
				}
				if d := emb.Dimensions(); d != 0 && d != 4 {
					t.Errorf("Dimensions() = %d, want 0 or 4", d)
					return
				}
			}
		}()
	}
	wg.Wait()

	if emb.Dimensions() != 4 {
		t.Errorf("Dimensions() = %d, want 4", emb.Dimensions())
	}
}

func TestRemoteEmbedderDimensionMismatch(t *testing.T) {
	ts := newEmbeddingsServer(t, []float32{1, 0})
	emb, err := NewRemoteEmbedder(RemoteConfig{BaseURL: ts.URL, Model: "test-model", Dimensions: 3})
	if err != nil {
		t.Fatalf("NewRemoteEmbedder: %v", err)
	}
	_, err = emb.Embed(context.Background(), "knee surgery")
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, misconfiguration reported as outage", err)
	}
}

func TestRemoteEmbedderOutageIsRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(ts.Close)

	emb, err := NewRemoteEmbedder(RemoteConfig{BaseURL: ts.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("NewRemoteEmbedder: %v", err)
	}
	emb.maxRetries = 0
	_, err = emb.Embed(context.Background(), "knee surgery")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestRemoteEmbedderClientErrorNotRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	t.Cleanup(ts.Close)

	emb, err := NewRemoteEmbedder(RemoteConfig{BaseURL: ts.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("NewRemoteEmbedder: %v", err)
	}
	_, err = emb.Embed(context.Background(), "knee surgery")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, contract failure reported as outage", err)
	}
}
