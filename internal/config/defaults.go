package config

import "path/filepath"

const (
	defaultDataDir = ".heelix"

	// MaxTopK mirrors the widest query the similarity index accepts.
	MaxTopK = 10
	// MinContextChars and MaxContextChars bound the per-document text in assembled context.
	MinContextChars = 5000
	MaxContextChars = 10000
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = defaultDataDir
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.DataDir, "db", "activity.db")
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = filepath.Join(cfg.Storage.DataDir, "indices", "bleve")
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = filepath.Join(cfg.Storage.DataDir, "indices", "vectors")
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "activity_vectors"
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "hnsw"
	}
	if cfg.Index.Codec == "" {
		cfg.Index.Codec = "zstd"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		switch cfg.Embedding.Provider {
		case "onnx":
			cfg.Embedding.Dimensions = 384
		case "zero":
			cfg.Embedding.Dimensions = 512
		default:
			cfg.Embedding.Dimensions = 1536
		}
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = MaxTopK
	}
	if cfg.Retrieval.KeywordCandidates == 0 {
		cfg.Retrieval.KeywordCandidates = 3
	}
	if cfg.Retrieval.MaxContextChars == 0 {
		cfg.Retrieval.MaxContextChars = MinContextChars
	}
}
