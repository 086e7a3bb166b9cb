package corpus

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/hantei/internal/embedding"
	"github.com/hyperjump/hantei/internal/models"
)

// SeedFile is the YAML ingestion format: policies with clause text, category,
// and keywords. Embeddings are computed at seed time with the configured
// embedder and stamped with its version.
type SeedFile struct {
	Policies []models.Policy `yaml:"policies"`
}

// LoadSeed reads and parses a YAML seed file.
func LoadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

// Seed ingests the seed file's policies into the store. Clause text is
// embedded with embedder, and every policy is stamped with the embedder's
// version; a policy declaring a different embedding version is re-embedded
// rather than ingested with mismatched vectors. Returns the number of clauses
// embedded.
func Seed(ctx context.Context, store *Store, embedder embedding.Embedder, seed *SeedFile) (int, error) {
	embedded := 0
	for i := range seed.Policies {
		p := &seed.Policies[i]
		if err := p.Validate(); err != nil {
			return embedded, err
		}
		texts := make([]string, len(p.Clauses))
		for j, c := range p.Clauses {
			texts[j] = c.Text
		}
		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return embedded, fmt.Errorf("failed to embed clauses for policy %s: %w", p.UIN, err)
		}
		for j := range p.Clauses {
			p.Clauses[j].Embedding = vectors[j]
		}
		embedded += len(p.Clauses)
		p.EmbeddingVersion = embedder.Version()
		if err := store.ReplacePolicy(ctx, p); err != nil {
			return embedded, fmt.Errorf("failed to store policy %s: %w", p.UIN, err)
		}
	}
	return embedded, nil
}
