package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Engine      EngineConfig    `toml:"engine"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Browser     BrowserConfig   `toml:"browser"`
	Login       LoginConfig     `toml:"login"`
	Logging     LoggingConfig   `toml:"logging"`
	Platforms   []PlatformEntry `toml:"platforms"` // Seeded into login storage on startup
}

// EngineConfig controls the external reasoning engine subprocess
type EngineConfig struct {
	Provider        string `toml:"provider" validate:"oneof=cli api"` // "cli" (subprocess, default) or "api" (direct Anthropic API)
	Binary          string `toml:"binary"`                            // Engine CLI binary name or path
	Verbose         bool   `toml:"verbose"`                           // Pass --verbose in streaming mode
	SkipPermissions bool   `toml:"skip_permissions"`                  // Pass --skip-permissions
	ExecTimeout     string `toml:"exec_timeout"`                      // Soft per-process timeout, shorter than the task timeout
	KillGrace       string `toml:"kill_grace"`                        // SIGTERM -> SIGKILL grace window
	MaxOutputBytes  int    `toml:"max_output_bytes"`                  // Truncation cap for captured stdout/stderr in errors
	APIKey          string `toml:"api_key"`                           // Anthropic API key (api provider only)
	Model           string `toml:"model"`                             // Model for the api provider
	MaxTokens       int    `toml:"max_tokens"`                        // Max response tokens for the api provider
}

// QueueConfig controls the worker pool and watchdog
type QueueConfig struct {
	Workers          int     `toml:"workers" validate:"gt=0"` // Fixed number of worker slots
	TaskTimeout      string  `toml:"task_timeout"`            // Hard per-task deadline
	WatchdogInterval string  `toml:"watchdog_interval"`       // Deadlock watchdog scan interval
	StallFraction    float64 `toml:"stall_fraction"`          // Fraction of task timeout before a busy slot is reported stalled
	BacklogThreshold int     `toml:"backlog_threshold"`       // Queue length that triggers a backlog warning
}

type StorageConfig struct {
	Badger        BadgerConfig `toml:"badger"`
	FlushInterval string       `toml:"flush_interval"` // Dirty task record flush cadence
	HistoryLimit  int          `toml:"history_limit"`  // Max task records held in memory (oldest evicted)
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// BrowserConfig controls the managed remote-debuggable browser
type BrowserConfig struct {
	Binary         string `toml:"binary"`          // Browser binary (chrome/chromium path)
	DebugPort      int    `toml:"debug_port"`      // Fixed remote debugging port
	UserDataDir    string `toml:"user_data_dir"`   // Default profile directory
	Headless       bool   `toml:"headless"`        // Launch headless by default
	ReadyRetries   int    `toml:"ready_retries"`   // Debug port probe attempts after spawn
	ReadyInterval  string `toml:"ready_interval"`  // Pacing between probe attempts
	StopGrace      string `toml:"stop_grace"`      // SIGTERM -> SIGKILL grace window on stop
	RequestTimeout string `toml:"request_timeout"` // Devtools HTTP/WebSocket request timeout
}

// LoginConfig controls login-state probing
type LoginConfig struct {
	CookieStorePath string `toml:"cookie_store_path"` // Path to the browser's persisted cookie database
	ValidityHours   int    `toml:"validity_hours"`    // How long a positive login check stays fresh
	RecheckSchedule string `toml:"recheck_schedule"`  // Cron spec for periodic freshness checks ("" disables)
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// PlatformEntry declares one social platform and its login probe settings
type PlatformEntry struct {
	ID            string   `toml:"id" validate:"required"`
	CheckURL      string   `toml:"check_url"`
	Domain        string   `toml:"domain"`
	LoginCookies  []string `toml:"login_cookies"`
	LoginURL      string   `toml:"login_url"`
	ValidityHours int      `toml:"validity_hours"` // Overrides login.validity_hours when > 0
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Engine: EngineConfig{
			Provider:        "cli",
			Binary:          "claude",
			Verbose:         true,
			SkipPermissions: true,
			ExecTimeout:     "4m30s", // Below the 5m task timeout so the executor settles first
			KillGrace:       "5s",
			MaxOutputBytes:  16 * 1024,
			Model:           "claude-haiku-3-5-20241022",
			MaxTokens:       8192,
		},
		Queue: QueueConfig{
			Workers:          3,
			TaskTimeout:      "5m",
			WatchdogInterval: "30s",
			StallFraction:    0.8,
			BacklogThreshold: 20,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			FlushInterval: "10s",
			HistoryLimit:  200,
		},
		Browser: BrowserConfig{
			Binary:         "google-chrome",
			DebugPort:      9222,
			UserDataDir:    "./data/browser-profile",
			Headless:       false,
			ReadyRetries:   30,
			ReadyInterval:  "500ms",
			StopGrace:      "5s",
			RequestTimeout: "15s",
		},
		Login: LoginConfig{
			ValidityHours:   24,
			RecheckSchedule: "", // Disabled unless configured
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files; environment variables override everything.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural constraints and duration fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"engine.exec_timeout":     c.Engine.ExecTimeout,
		"engine.kill_grace":       c.Engine.KillGrace,
		"queue.task_timeout":      c.Queue.TaskTimeout,
		"queue.watchdog_interval": c.Queue.WatchdogInterval,
		"storage.flush_interval":  c.Storage.FlushInterval,
		"browser.ready_interval":  c.Browser.ReadyInterval,
		"browser.stop_grace":      c.Browser.StopGrace,
		"browser.request_timeout": c.Browser.RequestTimeout,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, value)
		}
	}

	if c.Queue.StallFraction <= 0 || c.Queue.StallFraction > 1 {
		return fmt.Errorf("queue.stall_fraction must be in (0, 1], got %v", c.Queue.StallFraction)
	}

	return nil
}

// Duration parses a duration config value, falling back when empty or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PRAECO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Engine configuration
	if binary := os.Getenv("PRAECO_ENGINE_BINARY"); binary != "" {
		config.Engine.Binary = binary
	}
	if provider := os.Getenv("PRAECO_ENGINE_PROVIDER"); provider != "" {
		config.Engine.Provider = provider
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" && config.Engine.APIKey == "" {
		config.Engine.APIKey = apiKey
	}
	if timeout := os.Getenv("PRAECO_ENGINE_EXEC_TIMEOUT"); timeout != "" {
		config.Engine.ExecTimeout = timeout
	}

	// Queue configuration
	if workers := os.Getenv("PRAECO_QUEUE_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Queue.Workers = w
		}
	}
	if taskTimeout := os.Getenv("PRAECO_QUEUE_TASK_TIMEOUT"); taskTimeout != "" {
		config.Queue.TaskTimeout = taskTimeout
	}

	// Storage configuration
	if badgerPath := os.Getenv("PRAECO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Browser configuration
	if binary := os.Getenv("PRAECO_BROWSER_BINARY"); binary != "" {
		config.Browser.Binary = binary
	}
	if port := os.Getenv("PRAECO_BROWSER_DEBUG_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Browser.DebugPort = p
		}
	}
	if dir := os.Getenv("PRAECO_BROWSER_USER_DATA_DIR"); dir != "" {
		config.Browser.UserDataDir = dir
	}

	// Logging configuration
	if level := os.Getenv("PRAECO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("PRAECO_LOG_OUTPUT"); output != "" {
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
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
