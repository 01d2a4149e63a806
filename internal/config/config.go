// Package config provides configuration loading and structs for the tana server.
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
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings. The server binds to loopback by
// default; it is a local API, not a network service.
type ServerConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// StorageConfig holds the local storage root and the optional read-only common
// registry root.
type StorageConfig struct {
	Root       string `yaml:"root"`
	CommonRoot string `yaml:"common_root"`
}

// EmbeddingConfig holds embedding model settings. Available lists the models
// present on disk; only those can be switched to at runtime.
type EmbeddingConfig struct {
	Model      string   `yaml:"model"`
	ModelPath  string   `yaml:"model_path"`
	Dimensions int      `yaml:"dimensions"`
	MaxTokens  int      `yaml:"max_tokens"`
	CacheSize  int      `yaml:"cache_size"`
	Available  []string `yaml:"available"`
}

// SearchConfig holds retrieval and chunking settings.
type SearchConfig struct {
	DefaultLimit int     `yaml:"default_limit"`
	MaxLimit     int     `yaml:"max_limit"`
	Strategy     string  `yaml:"strategy"`
	MinScore     float64 `yaml:"min_score"`
	Candidates   int     `yaml:"candidates"`
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
}

// WatchConfig holds file-watch ingestion settings. Folders are resolved against
// WorkspaceRoot; absolute paths outside it are rejected at startup.
type WatchConfig struct {
	Enabled       bool     `yaml:"enabled"`
	WorkspaceRoot string   `yaml:"workspace_root"`
	Folders       []string `yaml:"folders"`
	Extensions    []string `yaml:"extensions"`
	DebounceMS    int      `yaml:"debounce_ms"`
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
	cfg.Storage.Root = expandPath(cfg.Storage.Root, configDir)
	if cfg.Storage.CommonRoot != "" {
		cfg.Storage.CommonRoot = expandPath(cfg.Storage.CommonRoot, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Watch.WorkspaceRoot != "" {
		cfg.Watch.WorkspaceRoot = expandPath(cfg.Watch.WorkspaceRoot, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch folder changes.
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
