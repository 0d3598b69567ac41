// Package config provides configuration loading and structs for the HyperDB server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvOllamaBaseURL = "OLLAMA_BASE_URL"
	EnvOllamaModel   = "OLLAMA_EMBEDDINGS_MODEL"
	EnvDataPath      = "EMBEDDINGS_DATA_PATH"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	DefaultTopK int    `yaml:"default_top_k"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig holds vector store settings.
type StoreConfig struct {
	SnapshotPath    string `yaml:"snapshot_path"`
	Metric          string `yaml:"metric"`
	InitialCapacity int    `yaml:"initial_capacity"`
	Growth          int    `yaml:"growth"`
	// Seed feeds the legacy randomized metric; 0 picks a random seed.
	Seed uint64 `yaml:"seed"`
}

// EmbeddingConfig selects and tunes the embedding producer.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	BatchSize  int           `yaml:"batch_size"`
	FieldPath  string        `yaml:"field_path"`
	CacheSize  int           `yaml:"cache_size"`
	Dimensions int           `yaml:"dimensions"`
	ModelPath  string        `yaml:"model_path"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
}

// IngestConfig controls how the data directory is turned into documents.
type IngestConfig struct {
	DataPath     string   `yaml:"data_path"`
	Extensions   []string `yaml:"extensions"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Workers      int      `yaml:"workers"`
}

// WatchConfig holds data directory watch settings.
type WatchConfig struct {
	Enabled   bool  `yaml:"enabled"`
	Recursive *bool `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults and
// environment overrides, then expands paths.
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
	ApplyEnv(&cfg, os.LookupEnv)
	cfg.ExpandPaths(filepath.Dir(path))
	return &cfg, nil
}

// Default returns the default configuration with environment overrides
// applied. Relative paths are resolved against the working directory.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg, os.LookupEnv)
	if wd, err := os.Getwd(); err == nil {
		cfg.ExpandPaths(wd)
	}
	return &cfg
}

// ApplyEnv overrides settings from the environment. lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvOllamaBaseURL); ok && v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v, ok := lookup(EnvOllamaModel); ok && v != "" {
		cfg.Embedding.Model = v
	}
	if v, ok := lookup(EnvDataPath); ok && v != "" {
		cfg.Ingest.DataPath = v
	}
}

// ExpandPaths makes file paths absolute relative to configDir.
func (c *Config) ExpandPaths(configDir string) {
	c.Store.SnapshotPath = expandPath(c.Store.SnapshotPath, configDir)
	c.Ingest.DataPath = expandPath(c.Ingest.DataPath, configDir)
	if c.Embedding.ModelPath != "" {
		c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
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
	if filepath.IsAbs(path) {
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
