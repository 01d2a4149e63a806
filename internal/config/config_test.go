package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
storage:
  root: ./data
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Embedding.Model != DefaultEmbeddingModel {
		t.Errorf("model = %q", cfg.Embedding.Model)
	}
	if cfg.Search.Strategy != "hybrid" {
		t.Errorf("strategy = %q", cfg.Search.Strategy)
	}
	want := filepath.Join(dir, "data")
	if cfg.Storage.Root != want {
		t.Errorf("root = %q, want %q", cfg.Storage.Root, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Watch.Folders = []string{"notes", "docs"}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Watch.Folders) != 2 || got.Watch.Folders[0] != "notes" {
		t.Errorf("folders = %v", got.Watch.Folders)
	}
}

func TestApplyDefaults_AvailableModels(t *testing.T) {
	cfg := &Config{}
	cfg.Embedding.Model = "bge-small-en"
	ApplyDefaults(cfg)
	if len(cfg.Embedding.Available) != 1 || cfg.Embedding.Available[0] != "bge-small-en" {
		t.Errorf("available = %v", cfg.Embedding.Available)
	}
}
