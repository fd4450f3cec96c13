package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Queue.WorkerPoolSize != 4 {
		t.Errorf("WorkerPoolSize = %d, want 4", cfg.Queue.WorkerPoolSize)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Queue.MaxAttempts)
	}
	if got := cfg.Queue.JobDeadlineDuration(); got != 120*time.Second {
		t.Errorf("JobDeadlineDuration = %v, want 120s", got)
	}
	if got := cfg.Queue.RetryBaseDuration(); got != 60*time.Second {
		t.Errorf("RetryBaseDuration = %v, want 60s", got)
	}
	if got := cfg.Queue.RetryCapDuration(); got != time.Hour {
		t.Errorf("RetryCapDuration = %v, want 1h", got)
	}
	if cfg.Review.AutoApproveMinConfidence != 0.85 {
		t.Errorf("AutoApproveMinConfidence = %f, want 0.85", cfg.Review.AutoApproveMinConfidence)
	}
	if cfg.LLM.Concurrency != 10 {
		t.Errorf("LLM.Concurrency = %d, want 10", cfg.LLM.Concurrency)
	}
	if cfg.LLM.DefaultProvider != LLMProviderClaude {
		t.Errorf("DefaultProvider = %q, want claude", cfg.LLM.DefaultProvider)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoadFromFilesMerges(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	if err := os.WriteFile(base, []byte(`
[queue]
worker_pool_size = 8

[logging]
level = "debug"
`), 0644); err != nil {
		t.Fatal(err)
	}

	override := filepath.Join(dir, "override.toml")
	if err := os.WriteFile(override, []byte(`
[queue]
worker_pool_size = 2
`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFiles(base, override)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	// Later file wins
	if cfg.Queue.WorkerPoolSize != 2 {
		t.Errorf("WorkerPoolSize = %d, want 2 (override file)", cfg.Queue.WorkerPoolSize)
	}
	// Earlier file still applies where not overridden
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug (base file)", cfg.Logging.Level)
	}
	// Untouched values remain defaults
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want default 3", cfg.Queue.MaxAttempts)
	}
}

func TestLoadFromFilesEnvOverride(t *testing.T) {
	t.Setenv("PRAEDIUM_QUEUE_WORKER_POOL_SIZE", "6")
	t.Setenv("PRAEDIUM_LOG_LEVEL", "warn")
	t.Setenv("PRAEDIUM_REVIEW_AUTO_APPROVE_MIN_CONFIDENCE", "0.9")

	cfg, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if cfg.Queue.WorkerPoolSize != 6 {
		t.Errorf("WorkerPoolSize = %d, want 6 from env", cfg.Queue.WorkerPoolSize)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn from env", cfg.Logging.Level)
	}
	if cfg.Review.AutoApproveMinConfidence != 0.9 {
		t.Errorf("AutoApproveMinConfidence = %f, want 0.9 from env", cfg.Review.AutoApproveMinConfidence)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Queue.WorkerPoolSize = 0 }},
		{"zero attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }},
		{"priority too high", func(c *Config) { c.Queue.DefaultJobPriority = 11 }},
		{"priority too low", func(c *Config) { c.Queue.DefaultJobPriority = 0 }},
		{"confidence above one", func(c *Config) { c.Review.AutoApproveMinConfidence = 1.5 }},
		{"negative confidence", func(c *Config) { c.Review.AutoApproveMinConfidence = -0.1 }},
		{"zero llm concurrency", func(c *Config) { c.LLM.Concurrency = 0 }},
		{"unknown provider", func(c *Config) { c.LLM.DefaultProvider = "palm" }},
		{"bad poll interval", func(c *Config) { c.Queue.PollInterval = "soon" }},
		{"bad deadline", func(c *Config) { c.Queue.JobDeadline = "2 minutes" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() succeeded, want error")
			}
		})
	}
}

func TestValidateJobSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"daily at 3am", "0 3 * * *", false},
		{"every five minutes", "*/5 * * * *", false},
		{"every minute rejected", "* * * * *", true},
		{"every two minutes rejected", "*/2 * * * *", true},
		{"garbage rejected", "not a schedule", true},
		{"too few fields", "0 3 *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJobSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateJobSchedule(%q) error = %v, wantErr %v", tt.schedule, err, tt.wantErr)
			}
		})
	}
}
