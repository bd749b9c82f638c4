// Package config provides configuration loading and structs for the heelix server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// APIKeyEnv names the environment variable that supplies the embedding credential when the
// config file does not.
const APIKeyEnv = "OPENAI_API_KEY"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds paths for the document database and the indices. Unset paths are
// derived from DataDir.
type StorageConfig struct {
	DataDir          string `yaml:"data_dir"`
	DatabasePath     string `yaml:"database_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
	IndexDir         string `yaml:"index_dir"`
}

// IndexConfig holds similarity index settings.
type IndexConfig struct {
	Collection string `yaml:"collection"`
	// Type is "hnsw" or "flat".
	Type string `yaml:"type"`
	// Dimension fixes the vector length; 0 takes it from the first insert.
	Dimension int `yaml:"dimension"`
	// Codec compresses snapshot payloads: "none", "zstd" or "lz4".
	Codec string `yaml:"codec"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	BaseURL           string  `yaml:"base_url"`
	ModelPath         string  `yaml:"model_path"`
	MaxTokens         int     `yaml:"max_tokens"`
	CacheSize         int     `yaml:"cache_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// APIKey is the fallback credential when a request carries none.
	APIKey string `yaml:"api_key,omitempty"`
}

// RetrievalConfig holds context assembly settings.
type RetrievalConfig struct {
	TopK              int `yaml:"top_k"`
	KeywordCandidates int `yaml:"keyword_candidates"`
	MaxContextChars   int `yaml:"max_context_chars"`
}

// WatchConfig holds inbox directory settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
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
	finalize(&cfg, filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	finalize(cfg, ".")
	return cfg
}

func finalize(cfg *Config, configDir string) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = defaultDataDir
	}
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)

	ApplyDefaults(cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv(APIKeyEnv)
	}
}

// Validate rejects settings the index and retrieval engine cannot honor.
func (c *Config) Validate() error {
	switch c.Index.Type {
	case "hnsw", "flat":
	default:
		return fmt.Errorf("index.type must be hnsw or flat, got %q", c.Index.Type)
	}
	switch c.Index.Codec {
	case "none", "zstd", "lz4":
	default:
		return fmt.Errorf("index.codec must be none, zstd or lz4, got %q", c.Index.Codec)
	}
	if c.Index.Dimension < 0 {
		return fmt.Errorf("index.dimension must not be negative")
	}
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > MaxTopK {
		return fmt.Errorf("retrieval.top_k must be in 1..%d, got %d", MaxTopK, c.Retrieval.TopK)
	}
	if c.Retrieval.KeywordCandidates < 0 {
		return fmt.Errorf("retrieval.keyword_candidates must not be negative")
	}
	if c.Retrieval.MaxContextChars < MinContextChars || c.Retrieval.MaxContextChars > MaxContextChars {
		return fmt.Errorf("retrieval.max_context_chars must be in %d..%d, got %d",
			MinContextChars, MaxContextChars, c.Retrieval.MaxContextChars)
	}
	return nil
}

// Save writes the config to path. The API key is never written.
func Save(path string, cfg *Config) error {
	out := *cfg
	out.Embedding.APIKey = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		if abs, err := filepath.Abs(filepath.Join(configDir, path)); err == nil {
			return abs
		}
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
