package config

// Float pointer helpers for the optional threshold fields. A nil pointer means
// "use the default"; an explicit 0 in the file stays 0.
func floatPtr(v float64) *float64 { return &v }

// ApplyDefaults sets default values for any unset values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Storage.CorpusPath == "" {
		cfg.Storage.CorpusPath = "/usr/local/var/hantei/data/corpus.db"
	}
	if cfg.Storage.HistoryPath == "" {
		cfg.Storage.HistoryPath = "/usr/local/var/hantei/data/history.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hash"
	}
	if cfg.Embedding.Version == "" {
		cfg.Embedding.Version = "hash-v1"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 25
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "HANTEI_EMBEDDING_API_KEY"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.SimilarityFloor == nil {
		cfg.Retrieval.SimilarityFloor = floatPtr(0)
	}
	if cfg.Retrieval.RelevanceFloor == nil {
		cfg.Retrieval.RelevanceFloor = floatPtr(0.3)
	}
	if cfg.Decision.NoMatchConfidence == nil {
		cfg.Decision.NoMatchConfidence = floatPtr(0.5)
	}
	if cfg.Decision.ConditionalFactor == nil {
		cfg.Decision.ConditionalFactor = floatPtr(0.75)
	}
	if cfg.Decision.DegradedConfidenceCap == nil {
		cfg.Decision.DegradedConfidenceCap = floatPtr(0.5)
	}
	if len(cfg.Rules.Amounts) == 0 {
		cfg.Rules.Amounts = DefaultAmountRules()
	}
	if len(cfg.Rules.MinDurations) == 0 {
		cfg.Rules.MinDurations = DefaultDurationRules()
	}
}

// DefaultAmountRules is the compiled-in procedure-to-amount table. Senior tiers
// apply when the claimant's age exceeds SeniorAge.
func DefaultAmountRules() []AmountRule {
	return []AmountRule{
		{Procedure: "knee surgery", BaseAmount: 100000, SeniorAmount: 150000, SeniorAge: 45},
		{Procedure: "heart surgery", BaseAmount: 500000, SeniorAmount: 750000, SeniorAge: 60},
		{Procedure: "hip replacement", BaseAmount: 200000, SeniorAmount: 250000, SeniorAge: 50},
		{Procedure: "cataract surgery", BaseAmount: 40000},
		{Procedure: "cancer treatment", BaseAmount: 500000},
		{Procedure: "eye surgery", BaseAmount: 50000, SeniorAmount: 75000, SeniorAge: 55},
		{Procedure: "day care procedure", BaseAmount: 30000},
	}
}

// DefaultDurationRules is the compiled-in minimum-policy-duration table, in days.
func DefaultDurationRules() []DurationRule {
	return []DurationRule{
		{Procedure: "knee surgery", MinDays: 90},
		{Procedure: "heart surgery", MinDays: 180},
		{Procedure: "hip replacement", MinDays: 90},
		{Procedure: "cataract surgery", MinDays: 730},
		{Procedure: "cancer treatment", MinDays: 90},
		{Procedure: "eye surgery", MinDays: 90},
	}
}
