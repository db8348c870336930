package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Workflow.ReadabilityThreshold != 70.0 {
		t.Errorf("expected default readability threshold 70, got %f", cfg.Workflow.ReadabilityThreshold)
	}
	if cfg.Workflow.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Workflow.GrammarErrorLimit != 5 {
		t.Errorf("expected default grammar error limit 5, got %d", cfg.Workflow.GrammarErrorLimit)
	}
	if cfg.Workflow.CitationMinRate != 0.8 {
		t.Errorf("expected default citation min rate 0.8, got %f", cfg.Workflow.CitationMinRate)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.NATS.URL != "" {
		t.Error("expected in-process backends by default")
	}
	if cfg.Cache.Prefix != "draftloop" {
		t.Errorf("expected cache prefix draftloop, got %s", cfg.Cache.Prefix)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "readability threshold too high",
			modify:  func(c *Config) { c.Workflow.ReadabilityThreshold = 101 },
			wantErr: true,
		},
		{
			name:    "readability threshold negative",
			modify:  func(c *Config) { c.Workflow.ReadabilityThreshold = -1 },
			wantErr: true,
		},
		{
			name:    "max retries below one",
			modify:  func(c *Config) { c.Workflow.MaxRetries = 0 },
			wantErr: true,
		},
		{
			name:    "citation min rate above one",
			modify:  func(c *Config) { c.Workflow.CitationMinRate = 1.5 },
			wantErr: true,
		},
		{
			name:    "unknown writing mode",
			modify:  func(c *Config) { c.Workflow.WritingMode = "poetry" },
			wantErr: true,
		},
		{
			name:    "temperature too high",
			modify:  func(c *Config) { c.LLM.Temperature = 1.1 },
			wantErr: true,
		},
		{
			name:    "missing crossref base url",
			modify:  func(c *Config) { c.CrossRef.BaseURL = "" },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "draftloop.yaml")

	content := `
server:
  port: 9090
  cors_origins:
    - https://app.example.com
nats:
  url: "nats://test:4222"
workflow:
  readability_threshold: 65
  max_retries: 5
  stage_timeout: 90s
llm:
  provider: minimax
  model: abab6.5s-chat
crossref:
  mailto: ops@example.com
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://app.example.com" {
		t.Errorf("unexpected cors origins: %v", cfg.Server.CORSOrigins)
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.Workflow.ReadabilityThreshold != 65 {
		t.Errorf("expected readability threshold 65, got %f", cfg.Workflow.ReadabilityThreshold)
	}
	if cfg.Workflow.MaxRetries != 5 {
		t.Errorf("expected max retries 5, got %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Workflow.StageTimeout != 90*time.Second {
		t.Errorf("expected stage timeout 90s, got %v", cfg.Workflow.StageTimeout)
	}
	if cfg.LLM.Provider != "minimax" {
		t.Errorf("expected provider minimax, got %s", cfg.LLM.Provider)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Workflow.GrammarErrorLimit != 5 {
		t.Errorf("expected grammar error limit to remain 5, got %d", cfg.Workflow.GrammarErrorLimit)
	}
	if cfg.CrossRef.BaseURL != "https://api.crossref.org" {
		t.Errorf("expected default crossref base url, got %s", cfg.CrossRef.BaseURL)
	}
	if cfg.CrossRef.Mailto != "ops@example.com" {
		t.Errorf("expected mailto ops@example.com, got %s", cfg.CrossRef.Mailto)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DRAFTLOOP_HTTP_PORT", "7070")
	t.Setenv("DRAFTLOOP_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("DRAFTLOOP_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config path")
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Redis.URL != "redis://cache:6379/1" {
		t.Errorf("expected env redis url, got %s", cfg.Redis.URL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected env log level debug, got %s", cfg.Log.Level)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "draftloop.yaml")

	content := `
workflow:
  readability_threshold: 150
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected validation error for out-of-range threshold")
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "draftloop.yaml")

	cfg := DefaultConfig()
	cfg.Workflow.ReadabilityThreshold = 80

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if loaded.Workflow.ReadabilityThreshold != 80 {
		t.Errorf("expected threshold 80, got %f", loaded.Workflow.ReadabilityThreshold)
	}
}
