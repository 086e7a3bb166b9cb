package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// RemoteEmbedder calls an OpenAI-compatible embeddings endpoint. Transient
// failures (network errors, 429, 5xx) are reported as ErrUnavailable;
// contract failures (4xx, malformed responses) surface as plain errors so an
// outage is never confused with misconfiguration.
type RemoteEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	version    string
	client     *http.Client
	maxRetries int

	// dimensions is learned from the first response when not configured;
	// guarded because concurrent requests race the first embed.
	mu         sync.Mutex
	dimensions int
}

// RemoteConfig configures the remote embeddings client.
type RemoteConfig struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Version    string
	Dimensions int
	Timeout    time.Duration
}

// NewRemoteEmbedder creates a remote embeddings client. The API key is read
// from the environment variable named by APIKeyEnv; it may be empty for
// unauthenticated local endpoints (e.g. Ollama).
func NewRemoteEmbedder(cfg RemoteConfig) (*RemoteEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote embedder requires an endpoint URL")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Version == "" {
		cfg.Version = cfg.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	return &RemoteEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		version:    cfg.Version,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: 3,
	}, nil
}

type embedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	// Ollama-native shape.
	Embedding []float32 `json:"embedding"`
}

// Embed returns an embedding vector for the given text, retrying transient
// failures with backoff. The result is normalized to unit length.
func (r *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	url := r.baseURL + "/embeddings"
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay(attempt)):
			}
		}
		emb, retryable, err := r.embedOnce(ctx, url, text)
		if err == nil {
			return emb, nil
		}
		if !retryable {
			return nil, fmt.Errorf("embed request failed: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (r *RemoteEmbedder) embedOnce(ctx context.Context, url, text string) (emb []float32, retryable bool, err error) {
	body, err := json.Marshal(embedRequest{Input: text, Model: r.model})
	if err != nil {
		return nil, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("embeddings endpoint returned %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("embeddings endpoint returned %s", resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	var out embedResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, false, fmt.Errorf("decode embeddings response: %w", err)
	}
	vec := out.Embedding
	if len(out.Data) > 0 && len(out.Data[0].Embedding) > 0 {
		vec = out.Data[0].Embedding
	}
	if len(vec) == 0 {
		return nil, false, fmt.Errorf("no embedding returned")
	}
	if err := r.checkDimensions(len(vec)); err != nil {
		return nil, false, err
	}
	NormalizeL2(vec)
	return vec, false, nil
}

// checkDimensions learns the embedding dimension from the first response and
// rejects any later response of a different size.
func (r *RemoteEmbedder) checkDimensions(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dimensions == 0 {
		r.dimensions = n
		return nil
	}
	if n != r.dimensions {
		return fmt.Errorf("embedding dimension mismatch: got %d, expected %d", n, r.dimensions)
	}
	return nil
}

// EmbedBatch calls Embed for each text.
func (r *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := r.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension (0 until the first successful embed
// when not configured explicitly).
func (r *RemoteEmbedder) Dimensions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dimensions
}

// Version returns the embedding-function version tag.
func (r *RemoteEmbedder) Version() string { return r.version }

// Close is a no-op for RemoteEmbedder.
func (r *RemoteEmbedder) Close() error { return nil }

func retryDelay(attempt int) time.Duration {
	base := 200 * time.Millisecond
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
