// Package config provides configuration loading and structs for the hantei engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Decision  DecisionConfig  `yaml:"decision"`
	Rules     RulesConfig     `yaml:"rules"`
	Vocab     VocabConfig     `yaml:"vocab"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the corpus store, decision history, and seed file.
type StorageConfig struct {
	CorpusPath  string `yaml:"corpus_path"`
	HistoryPath string `yaml:"history_path"`
	SeedPath    string `yaml:"seed_path"`
	WatchSeed   bool   `yaml:"watch_seed"`
}

// EmbeddingConfig selects and configures the embedding backend. Provider is
// one of "hash" (deterministic, no external dependency), "onnx" (local model,
// requires CGO), or "remote" (OpenAI-compatible embeddings endpoint).
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	Version        string `yaml:"version"`
	Dimensions     int    `yaml:"dimensions"`
	ModelPath      string `yaml:"model_path"`
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	MaxTokens      int    `yaml:"max_tokens"`
	CacheSize      int    `yaml:"cache_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RetrievalConfig holds retrieval knobs. SimilarityFloor drops candidates
// during ranking (design default 0: every clause is a candidate);
// RelevanceFloor is the practical threshold below which the top hit is
// treated as irrelevant by the decision synthesizer.
type RetrievalConfig struct {
	TopK            int      `yaml:"top_k"`
	SimilarityFloor *float64 `yaml:"similarity_floor"`
	RelevanceFloor  *float64 `yaml:"relevance_floor"`
}

// DecisionConfig holds decision synthesizer knobs.
type DecisionConfig struct {
	NoMatchConfidence     *float64 `yaml:"no_match_confidence"`
	ConditionalFactor     *float64 `yaml:"conditional_factor"`
	FallbackEnabled       bool     `yaml:"fallback_enabled"`
	DegradedConfidenceCap *float64 `yaml:"degraded_confidence_cap"`
}

// AmountRule resolves a payout amount for a procedure. When the claimant's
// age exceeds SeniorAge, SeniorAmount applies instead of BaseAmount.
type AmountRule struct {
	Procedure    string `yaml:"procedure"`
	BaseAmount   int64  `yaml:"base_amount"`
	SeniorAmount int64  `yaml:"senior_amount"`
	SeniorAge    int    `yaml:"senior_age"`
}

// DurationRule declares the minimum policy duration for a procedure, in days.
type DurationRule struct {
	Procedure string `yaml:"procedure"`
	MinDays   int    `yaml:"min_days"`
}

// RulesConfig is the canonical rule set: procedure-to-amount and
// procedure-to-minimum-duration tables. External configuration, not embedded logic.
type RulesConfig struct {
	Amounts      []AmountRule   `yaml:"amounts"`
	MinDurations []DurationRule `yaml:"min_durations"`
}

// AmountFor returns the payout for a procedure given the claimant age (nil if
// unknown), or false when the procedure carries no amount rule.
func (r *RulesConfig) AmountFor(procedure string, age *int) (int64, bool) {
	for _, rule := range r.Amounts {
		if rule.Procedure != procedure {
			continue
		}
		if age != nil && rule.SeniorAge > 0 && *age > rule.SeniorAge && rule.SeniorAmount > 0 {
			return rule.SeniorAmount, true
		}
		return rule.BaseAmount, true
	}
	return 0, false
}

// MinDurationDays returns the minimum policy duration in days for a
// procedure, or false when none is declared.
func (r *RulesConfig) MinDurationDays(procedure string) (int, bool) {
	for _, rule := range r.MinDurations {
		if rule.Procedure == procedure && rule.MinDays > 0 {
			return rule.MinDays, true
		}
	}
	return 0, false
}

// VocabConfig holds the extraction vocabularies. Empty slices fall back to the
// compiled-in defaults.
type VocabConfig struct {
	Procedures []string `yaml:"procedures"`
	Locations  []string `yaml:"locations"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.CorpusPath = expandPath(cfg.Storage.CorpusPath, configDir)
	cfg.Storage.HistoryPath = expandPath(cfg.Storage.HistoryPath, configDir)
	cfg.Storage.SeedPath = expandPath(cfg.Storage.SeedPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
