package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Queue       QueueConfig     `toml:"queue"`
	Review      ReviewConfig    `toml:"review"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Claude      ClaudeConfig    `toml:"claude"`
	LLM         LLMConfig       `toml:"llm"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Catalog     CatalogConfig   `toml:"catalog"`
}

type ServerConfig struct {
	Name string `toml:"name"` // Instance name used in lease ownership and logs
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // Time format for logs (default: "15:04:05")
	MinJobLogLvl  string   `toml:"min_job_log_lvl"` // Minimum level captured into per-job logs
	JobLogTailCap int      `toml:"job_log_tail"`    // Entries returned with a job detail lookup
}

// QueueConfig governs the persistent job queue and worker pool
type QueueConfig struct {
	WorkerPoolSize     int    `toml:"worker_pool_size"`     // Number of concurrent workers
	PollInterval       string `toml:"poll_interval"`        // e.g., "1s" - how often workers poll for jobs
	JobDeadline        string `toml:"job_deadline"`         // e.g., "120s" - per-job execution budget
	MaxAttempts        int    `toml:"max_attempts"`         // Attempts before a job dead-letters
	RetryBase          string `toml:"retry_base"`           // Base delay for retry backoff
	RetryCap           string `toml:"retry_cap"`            // Upper bound for retry backoff
	LeaseTTL           string `toml:"lease_ttl"`            // Worker lease duration; expired leases are reclaimable
	ShutdownGrace      string `toml:"shutdown_grace"`       // Wait for in-flight jobs on shutdown
	RecoverOnStartup   bool   `toml:"recover_on_startup"`   // Requeue jobs left running by a previous process
	ExecuteBatchLimit  int    `toml:"execute_batch_limit"`  // Default max jobs drained by a single execute-pending call
	HistoryPageSize    int    `toml:"history_page_size"`    // Status transitions returned per job lookup
	DefaultJobPriority int    `toml:"default_job_priority"` // Priority assigned when the caller omits one
}

// ReviewConfig governs change moderation behavior
type ReviewConfig struct {
	AutoApproveMinConfidence float64  `toml:"auto_approve_min_confidence"` // 0..1; below this nothing auto-approves
	AutoApproveEntityTypes   []string `toml:"auto_approve_entity_types"`   // Entity types eligible for auto-approval
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Model for collection operations
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	Temperature float32 `toml:"temperature"` // Completion temperature
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key
	Model       string  `toml:"model"`       // Model for collection operations
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 8192)
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	Temperature float32 `toml:"temperature"` // Completion temperature
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig contains shared configuration for all AI providers
type LLMConfig struct {
	DefaultProvider   LLMProvider `toml:"default_provider"`    // "claude" or "gemini" (default: "claude")
	Concurrency       int         `toml:"concurrency"`         // Max in-flight LLM calls across all workers
	RequestsPerSecond float64     `toml:"requests_per_second"` // Token-bucket refill rate for LLM calls
	MaxRetries        int         `toml:"max_retries"`         // Attempts per collection call before giving up
}

// SchedulerConfig governs recurring maintenance jobs
type SchedulerConfig struct {
	Enabled               bool   `toml:"enabled"`
	EntityRefreshSchedule string `toml:"entity_refresh_schedule"` // Cron: re-collect stale entities
	CoverageScanSchedule  string `toml:"coverage_scan_schedule"`  // Cron: run coverage backfill
	LeaseReaperSchedule   string `toml:"lease_reaper_schedule"`   // Cron: reclaim expired leases
	RefreshAfter          string `toml:"refresh_after"`           // Entities older than this get refresh jobs
	RefreshBatchLimit     int    `toml:"refresh_batch_limit"`     // Max refresh jobs enqueued per run
}

// CatalogConfig points at the market seed files consumed by coverage
type CatalogConfig struct {
	Dir string `toml:"dir"` // Directory containing market catalog files (YAML)
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in praedium.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Name: "praedium",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:         "info",
			Output:        []string{"stdout", "file"},
			TimeFormat:    "15:04:05",
			MinJobLogLvl:  "debug",
			JobLogTailCap: 50,
		},
		Queue: QueueConfig{
			WorkerPoolSize:     4,
			PollInterval:       "1s",
			JobDeadline:        "120s",
			MaxAttempts:        3,
			RetryBase:          "60s",
			RetryCap:           "1h",
			LeaseTTL:           "3m",
			ShutdownGrace:      "10s",
			RecoverOnStartup:   true,
			ExecuteBatchLimit:  25,
			HistoryPageSize:    100,
			DefaultJobPriority: 5,
		},
		Review: ReviewConfig{
			AutoApproveMinConfidence: 0.85,
			AutoApproveEntityTypes:   []string{"community", "builder"},
		},
		Gemini: GeminiConfig{
			APIKey:      "", // User must provide API key (no fallback)
			Model:       "gemini-2.0-flash",
			Timeout:     "5m",
			Temperature: 0.2,
		},
		Claude: ClaudeConfig{
			APIKey:      "", // User must provide API key (ANTHROPIC_API_KEY or config)
			Model:       "claude-sonnet-4-5",
			MaxTokens:   8192,
			Timeout:     "5m",
			Temperature: 0.2,
		},
		LLM: LLMConfig{
			DefaultProvider:   LLMProviderClaude,
			Concurrency:       10,
			RequestsPerSecond: 2.0,
			MaxRetries:        3,
		},
		Scheduler: SchedulerConfig{
			Enabled:               true,
			EntityRefreshSchedule: "0 3 * * *",
			CoverageScanSchedule:  "30 4 * * *",
			LeaseReaperSchedule:   "*/5 * * * *",
			RefreshAfter:          "168h",
			RefreshBatchLimit:     50,
		},
		Catalog: CatalogConfig{
			Dir: "./catalog",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by the caller and win over everything.
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: PRAEDIUM_ENV, fallback: GO_ENV)
	if env := os.Getenv("PRAEDIUM_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if name := os.Getenv("PRAEDIUM_SERVER_NAME"); name != "" {
		config.Server.Name = name
	}

	// Storage configuration
	if badgerPath := os.Getenv("PRAEDIUM_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("PRAEDIUM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("PRAEDIUM_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Queue configuration
	if poolSize := os.Getenv("PRAEDIUM_QUEUE_WORKER_POOL_SIZE"); poolSize != "" {
		if n, err := strconv.Atoi(poolSize); err == nil {
			config.Queue.WorkerPoolSize = n
		}
	}
	if pollInterval := os.Getenv("PRAEDIUM_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if deadline := os.Getenv("PRAEDIUM_QUEUE_JOB_DEADLINE"); deadline != "" {
		config.Queue.JobDeadline = deadline
	}
	if maxAttempts := os.Getenv("PRAEDIUM_QUEUE_MAX_ATTEMPTS"); maxAttempts != "" {
		if n, err := strconv.Atoi(maxAttempts); err == nil {
			config.Queue.MaxAttempts = n
		}
	}
	if retryBase := os.Getenv("PRAEDIUM_QUEUE_RETRY_BASE"); retryBase != "" {
		config.Queue.RetryBase = retryBase
	}
	if retryCap := os.Getenv("PRAEDIUM_QUEUE_RETRY_CAP"); retryCap != "" {
		config.Queue.RetryCap = retryCap
	}
	if leaseTTL := os.Getenv("PRAEDIUM_QUEUE_LEASE_TTL"); leaseTTL != "" {
		config.Queue.LeaseTTL = leaseTTL
	}

	// Review configuration
	if minConfidence := os.Getenv("PRAEDIUM_REVIEW_AUTO_APPROVE_MIN_CONFIDENCE"); minConfidence != "" {
		if f, err := strconv.ParseFloat(minConfidence, 64); err == nil {
			config.Review.AutoApproveMinConfidence = f
		}
	}
	if entityTypes := os.Getenv("PRAEDIUM_REVIEW_AUTO_APPROVE_ENTITY_TYPES"); entityTypes != "" {
		types := []string{}
		for _, t := range strings.Split(entityTypes, ",") {
			if trimmed := strings.TrimSpace(t); trimmed != "" {
				types = append(types, trimmed)
			}
		}
		config.Review.AutoApproveEntityTypes = types
	}

	// Gemini configuration
	if apiKey := os.Getenv("PRAEDIUM_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("PRAEDIUM_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}

	// Claude configuration
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("PRAEDIUM_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey // PRAEDIUM_ prefix takes priority
	}
	if model := os.Getenv("PRAEDIUM_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if maxTokens := os.Getenv("PRAEDIUM_CLAUDE_MAX_TOKENS"); maxTokens != "" {
		if n, err := strconv.Atoi(maxTokens); err == nil {
			config.Claude.MaxTokens = n
		}
	}

	// LLM provider configuration
	if provider := os.Getenv("PRAEDIUM_LLM_DEFAULT_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}
	if concurrency := os.Getenv("PRAEDIUM_LLM_CONCURRENCY"); concurrency != "" {
		if n, err := strconv.Atoi(concurrency); err == nil {
			config.LLM.Concurrency = n
		}
	}
	if rps := os.Getenv("PRAEDIUM_LLM_REQUESTS_PER_SECOND"); rps != "" {
		if f, err := strconv.ParseFloat(rps, 64); err == nil {
			config.LLM.RequestsPerSecond = f
		}
	}

	// Scheduler configuration
	if enabled := os.Getenv("PRAEDIUM_SCHEDULER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = b
		}
	}

	// Catalog configuration
	if catalogDir := os.Getenv("PRAEDIUM_CATALOG_DIR"); catalogDir != "" {
		config.Catalog.Dir = catalogDir
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, dataDir string, logLevel string, workers int) {
	// Command-line flags have highest priority
	if dataDir != "" {
		config.Storage.Badger.Path = dataDir
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
	if workers > 0 {
		config.Queue.WorkerPoolSize = workers
	}
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Queue.WorkerPoolSize < 1 {
		return fmt.Errorf("queue.worker_pool_size must be at least 1, got %d", c.Queue.WorkerPoolSize)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.DefaultJobPriority < 1 || c.Queue.DefaultJobPriority > 10 {
		return fmt.Errorf("queue.default_job_priority must be within 1..10, got %d", c.Queue.DefaultJobPriority)
	}
	if c.Review.AutoApproveMinConfidence < 0 || c.Review.AutoApproveMinConfidence > 1 {
		return fmt.Errorf("review.auto_approve_min_confidence must be within 0..1, got %f", c.Review.AutoApproveMinConfidence)
	}
	if c.LLM.Concurrency < 1 {
		return fmt.Errorf("llm.concurrency must be at least 1, got %d", c.LLM.Concurrency)
	}
	switch c.LLM.DefaultProvider {
	case LLMProviderClaude, LLMProviderGemini:
	default:
		return fmt.Errorf("llm.default_provider must be %q or %q, got %q", LLMProviderClaude, LLMProviderGemini, c.LLM.DefaultProvider)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"queue.poll_interval", c.Queue.PollInterval},
		{"queue.job_deadline", c.Queue.JobDeadline},
		{"queue.retry_base", c.Queue.RetryBase},
		{"queue.retry_cap", c.Queue.RetryCap},
		{"queue.lease_ttl", c.Queue.LeaseTTL},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s is not a valid duration: %w", field.name, err)
		}
	}
	return nil
}

// Duration helpers parse pre-validated duration strings with a fallback.

func (q QueueConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(q.PollInterval, time.Second)
}

func (q QueueConfig) JobDeadlineDuration() time.Duration {
	return parseDurationOr(q.JobDeadline, 120*time.Second)
}

func (q QueueConfig) RetryBaseDuration() time.Duration {
	return parseDurationOr(q.RetryBase, 60*time.Second)
}

func (q QueueConfig) RetryCapDuration() time.Duration {
	return parseDurationOr(q.RetryCap, time.Hour)
}

func (q QueueConfig) LeaseTTLDuration() time.Duration {
	return parseDurationOr(q.LeaseTTL, 3*time.Minute)
}

func (q QueueConfig) ShutdownGraceDuration() time.Duration {
	return parseDurationOr(q.ShutdownGrace, 10*time.Second)
}

func (s SchedulerConfig) RefreshAfterDuration() time.Duration {
	return parseDurationOr(s.RefreshAfter, 168*time.Hour)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// ResolveAPIKey resolves an API key with environment variable priority.
// Resolution order: environment variables -> config fallback -> error.
func ResolveAPIKey(provider LLMProvider, configFallback string) (string, error) {
	switch provider {
	case LLMProviderClaude:
		if v := os.Getenv("PRAEDIUM_CLAUDE_API_KEY"); v != "" {
			return v, nil
		}
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
			return v, nil
		}
	case LLMProviderGemini:
		if v := os.Getenv("PRAEDIUM_GEMINI_API_KEY"); v != "" {
			return v, nil
		}
		if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			return v, nil
		}
	}
	if configFallback != "" {
		return configFallback, nil
	}
	return "", fmt.Errorf("API key for provider %q not found in environment or config", provider)
}

// ValidateJobSchedule validates a cron schedule expression and ensures minimum 5-minute interval
func ValidateJobSchedule(schedule string) error {
	// Parse the cron expression
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	// Check for minimum 5-minute interval
	// Validate minute field (first field in standard cron)
	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]

	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	// Check for */n patterns where n < 5
	if strings.HasPrefix(minuteField, "*/") {
		intervalStr := strings.TrimPrefix(minuteField, "*/")
		interval, err := strconv.Atoi(intervalStr)
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
