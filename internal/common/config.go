package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/ternarybob/lustro/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production" - controls test URL validation
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Analysis    AnalysisSection `toml:"analysis"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
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
	Format        string   `toml:"format"`          // "json" or "text"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // Time format for logs (default: "15:04:05.000")
	MinEventLevel string   `toml:"min_event_level"` // Minimum log level to publish as events to clients ("debug", "info", "warn", "error")
}

// AnalysisSection holds server-wide defaults for analysis runs. Per-run
// overrides arrive with the start request; anything omitted there falls
// back to these values.
type AnalysisSection struct {
	MaxCrawlDepth         int    `toml:"max_crawl_depth"`         // BFS depth bound from the seed
	MaxPagesToCrawl       int    `toml:"max_pages_to_crawl"`      // Upper bound on distinct URLs fetched per run
	MaxLinksToValidate    int    `toml:"max_links_to_validate"`   // Upper bound on edges validated per run
	RequestTimeout        int    `toml:"request_timeout"`         // Per-request deadline in seconds
	MaxConcurrentRequests int    `toml:"max_concurrent_requests"` // Fetcher semaphore size
	RetryAttempts         int    `toml:"retry_attempts"`          // Retries on transport error or 5xx
	ValidatorConcurrency  int    `toml:"validator_concurrency"`   // Validator semaphore, independent from the fetcher
	MaxRunSeconds         int    `toml:"max_run_seconds"`         // Wall-clock ceiling for a whole run
	UserAgent             string `toml:"user_agent"`              // Sent on every fetch and validation request

	ExtractStaticLinks   bool `toml:"extract_static_links"`   // a, link, area href
	ExtractDynamicLinks  bool `toml:"extract_dynamic_links"`  // onclick, data attributes, inline script URLs
	ExtractResourceLinks bool `toml:"extract_resource_links"` // img, script, stylesheet, media sources
	ExtractExternalLinks bool `toml:"extract_external_links"` // Off-origin hosts
}

// WebSocketConfig contains configuration for WebSocket event streaming
type WebSocketConfig struct {
	MinLevel string `toml:"min_level"` // Minimum log level to broadcast ("debug", "info", "warn", "error")
	// Throttle interval for run_progress events. Progress is already
	// sampled every 10 URLs; this caps the wire rate on fast crawls.
	ProgressThrottle string `toml:"progress_throttle"`
}

// SchedulerConfig contains configuration for recurring analyses
type SchedulerConfig struct {
	Enabled bool `toml:"enabled"` // Load stored schedules and dispatch on their cron cadence
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in lustro.toml.
func NewDefaultConfig() *Config {
	defaults := models.DefaultAnalysisConfig()

	return &Config{
		Environment: "development", // Default to development mode - allows test URLs
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:         "info",                     // Info level for production (debug|info|warn|error)
			Format:        "text",                     // Human-readable text format (text|json)
			Output:        []string{"stdout", "file"}, // Log to both console and file
			MinEventLevel: "info",                     // Publish info and above as events to clients
		},
		Analysis: AnalysisSection{
			MaxCrawlDepth:         defaults.MaxCrawlDepth,
			MaxPagesToCrawl:       defaults.MaxPagesToCrawl,
			MaxLinksToValidate:    defaults.MaxLinksToValidate,
			RequestTimeout:        defaults.RequestTimeout,
			MaxConcurrentRequests: defaults.MaxConcurrentRequests,
			RetryAttempts:         defaults.RetryAttempts,
			ValidatorConcurrency:  defaults.ValidatorConcurrency,
			MaxRunSeconds:         defaults.MaxRunSeconds,
			UserAgent:             defaults.UserAgent,
			ExtractStaticLinks:    defaults.ExtractStaticLinks,
			ExtractDynamicLinks:   defaults.ExtractDynamicLinks,
			ExtractResourceLinks:  defaults.ExtractResourceLinks,
			ExtractExternalLinks:  defaults.ExtractExternalLinks,
		},
		WebSocket: WebSocketConfig{
			MinLevel:         "info",
			ProgressThrottle: "1s", // Max 1 run_progress frame per second per run
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI. Later files override
// earlier files.
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

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: LUSTRO_ENV, fallback: GO_ENV)
	if env := os.Getenv("LUSTRO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("LUSTRO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("LUSTRO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("LUSTRO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if reset := os.Getenv("LUSTRO_BADGER_RESET_ON_STARTUP"); reset != "" {
		if r, err := strconv.ParseBool(reset); err == nil {
			config.Storage.Badger.ResetOnStartup = r
		}
	}

	// Logging configuration
	if level := os.Getenv("LUSTRO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("LUSTRO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("LUSTRO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if minEventLevel := os.Getenv("LUSTRO_LOG_MIN_EVENT_LEVEL"); minEventLevel != "" {
		config.Logging.MinEventLevel = minEventLevel
	}

	// Analysis configuration
	if maxDepth := os.Getenv("LUSTRO_ANALYSIS_MAX_CRAWL_DEPTH"); maxDepth != "" {
		if md, err := strconv.Atoi(maxDepth); err == nil {
			config.Analysis.MaxCrawlDepth = md
		}
	}
	if maxPages := os.Getenv("LUSTRO_ANALYSIS_MAX_PAGES"); maxPages != "" {
		if mp, err := strconv.Atoi(maxPages); err == nil {
			config.Analysis.MaxPagesToCrawl = mp
		}
	}
	if maxLinks := os.Getenv("LUSTRO_ANALYSIS_MAX_LINKS"); maxLinks != "" {
		if ml, err := strconv.Atoi(maxLinks); err == nil {
			config.Analysis.MaxLinksToValidate = ml
		}
	}
	if timeout := os.Getenv("LUSTRO_ANALYSIS_REQUEST_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			config.Analysis.RequestTimeout = t
		}
	}
	if concurrency := os.Getenv("LUSTRO_ANALYSIS_MAX_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Analysis.MaxConcurrentRequests = c
		}
	}
	if retries := os.Getenv("LUSTRO_ANALYSIS_RETRY_ATTEMPTS"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.Analysis.RetryAttempts = r
		}
	}
	if validatorConcurrency := os.Getenv("LUSTRO_ANALYSIS_VALIDATOR_CONCURRENCY"); validatorConcurrency != "" {
		if vc, err := strconv.Atoi(validatorConcurrency); err == nil {
			config.Analysis.ValidatorConcurrency = vc
		}
	}
	if maxRunSeconds := os.Getenv("LUSTRO_ANALYSIS_MAX_RUN_SECONDS"); maxRunSeconds != "" {
		if mrs, err := strconv.Atoi(maxRunSeconds); err == nil {
			config.Analysis.MaxRunSeconds = mrs
		}
	}
	if userAgent := os.Getenv("LUSTRO_ANALYSIS_USER_AGENT"); userAgent != "" {
		config.Analysis.UserAgent = userAgent
	}
	if static := os.Getenv("LUSTRO_ANALYSIS_EXTRACT_STATIC"); static != "" {
		if s, err := strconv.ParseBool(static); err == nil {
			config.Analysis.ExtractStaticLinks = s
		}
	}
	if dynamic := os.Getenv("LUSTRO_ANALYSIS_EXTRACT_DYNAMIC"); dynamic != "" {
		if d, err := strconv.ParseBool(dynamic); err == nil {
			config.Analysis.ExtractDynamicLinks = d
		}
	}
	if resource := os.Getenv("LUSTRO_ANALYSIS_EXTRACT_RESOURCE"); resource != "" {
		if r, err := strconv.ParseBool(resource); err == nil {
			config.Analysis.ExtractResourceLinks = r
		}
	}
	if external := os.Getenv("LUSTRO_ANALYSIS_EXTRACT_EXTERNAL"); external != "" {
		if e, err := strconv.ParseBool(external); err == nil {
			config.Analysis.ExtractExternalLinks = e
		}
	}

	// WebSocket configuration
	if minLevel := os.Getenv("LUSTRO_WEBSOCKET_MIN_LEVEL"); minLevel != "" {
		config.WebSocket.MinLevel = minLevel
	}
	if progressThrottle := os.Getenv("LUSTRO_WEBSOCKET_PROGRESS_THROTTLE"); progressThrottle != "" {
		if _, err := time.ParseDuration(progressThrottle); err == nil {
			config.WebSocket.ProgressThrottle = progressThrottle
		}
	}

	// Scheduler configuration
	if enabled := os.Getenv("LUSTRO_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// AnalysisDefaults builds a run configuration from the analysis section.
// Callers overlay per-run overrides on top of the returned value.
func (c *Config) AnalysisDefaults() models.AnalysisConfig {
	return models.AnalysisConfig{
		MaxCrawlDepth:         c.Analysis.MaxCrawlDepth,
		MaxPagesToCrawl:       c.Analysis.MaxPagesToCrawl,
		MaxLinksToValidate:    c.Analysis.MaxLinksToValidate,
		RequestTimeout:        c.Analysis.RequestTimeout,
		MaxConcurrentRequests: c.Analysis.MaxConcurrentRequests,
		RetryAttempts:         c.Analysis.RetryAttempts,
		ValidatorConcurrency:  c.Analysis.ValidatorConcurrency,
		MaxRunSeconds:         c.Analysis.MaxRunSeconds,
		UserAgent:             c.Analysis.UserAgent,
		ExtractStaticLinks:    c.Analysis.ExtractStaticLinks,
		ExtractDynamicLinks:   c.Analysis.ExtractDynamicLinks,
		ExtractResourceLinks:  c.Analysis.ExtractResourceLinks,
		ExtractExternalLinks:  c.Analysis.ExtractExternalLinks,
	}
}

// ValidateScheduleExpr validates a cron schedule expression and ensures
// a minimum 5-minute interval so schedules cannot hammer a target site
func ValidateScheduleExpr(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]

	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

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

// AllowTestURLs returns true if test URLs (localhost, 127.0.0.1, etc.) are
// allowed as analysis seeds. Test URLs are only allowed in development mode.
func (c *Config) AllowTestURLs() bool {
	return !c.IsProduction()
}
