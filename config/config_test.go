package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "zero start page",
			mutate: func(cfg *Config) {
				cfg.StartPage = 0
			},
			wantErr: "start page",
		},
		{
			name: "end before start",
			mutate: func(cfg *Config) {
				cfg.StartPage = 5
				cfg.EndPage = 2
			},
			wantErr: "cannot precede",
		},
		{
			name: "empty base url",
			mutate: func(cfg *Config) {
				cfg.BaseURL = ""
			},
			wantErr: "base URL",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "http://"
			},
			wantErr: "base URL",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "negative retries",
			mutate: func(cfg *Config) {
				cfg.MaxRetries = -1
			},
			wantErr: "max retries",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = time.Minute
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "cannot exceed",
		},
		{
			name: "unknown format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "xml"
			},
			wantErr: "output format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if got := cfg.CategoryURL(); got != "https://tululu.org/l55" {
		t.Fatalf("category url = %q", got)
	}
	if got := cfg.BooksPath(); got != "books" {
		t.Fatalf("books path = %q, want books", got)
	}
}

func TestLoadWithFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
category_id: 17
start_page: 2
end_page: 4
dest_folder: /tmp/library
skip_images: true
retry_backoff: 250ms
max_retries: 3
output_format: DUAL
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TULULU_START_PAGE", "3")

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CategoryID != 17 {
		t.Fatalf("category = %d, want 17", cfg.CategoryID)
	}
	if cfg.StartPage != 3 {
		t.Fatalf("start page = %d, want env override 3", cfg.StartPage)
	}
	if cfg.EndPage != 4 || !cfg.SkipImages || cfg.SkipText {
		t.Fatalf("unexpected flags: %+v", cfg)
	}
	if cfg.RetryBackoff != 250*time.Millisecond || cfg.MaxRetries != 3 {
		t.Fatalf("retry policy = %v/%d", cfg.RetryBackoff, cfg.MaxRetries)
	}
	if cfg.OutputFormat != "dual" {
		t.Fatalf("format = %q, want dual", cfg.OutputFormat)
	}
	if cfg.ImagesPath() != filepath.Join("/tmp/library", "images") {
		t.Fatalf("images path = %q", cfg.ImagesPath())
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MetadataPath() != "books.json" {
		t.Fatalf("metadata path = %q", cfg.MetadataPath())
	}
	if cfg.MaxRetries != 0 {
		t.Fatalf("max retries = %d, want unbounded default 0", cfg.MaxRetries)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
