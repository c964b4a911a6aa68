package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string               `toml:"environment"` // "development" or "production"
	Server      ServerConfig         `toml:"server"`
	Storage     StorageConfig        `toml:"storage"`
	Logging     LoggingConfig        `toml:"logging"`
	Experts     ExpertsConfig        `toml:"experts"`
	Registry    PromptRegistryConfig `toml:"prompt_registry"`
	Vector      VectorConfig         `toml:"vector"`
	Telemetry   TelemetryConfig      `toml:"telemetry"`
	Workflow    WorkflowConfig       `toml:"workflow"`
	Vocabulary  VocabularyConfig     `toml:"vocabulary"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type FilesystemConfig struct {
	Artifacts string `toml:"artifacts"`  // Per-project artifact directory (vision image copies etc.)
	PageCache string `toml:"page_cache"` // File tier of the PDF page-text cache
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// ExpertsConfig maps the four expert classes to concrete endpoints.
// Extraction falls back to Brain; Critic has no fallback by design of the
// routing table, not of this config.
type ExpertsConfig struct {
	Brain   ExpertEndpointConfig `toml:"brain"`   // reasoning model (critic)
	Worker  ExpertEndpointConfig `toml:"worker"`  // extraction model (cartographer, saver)
	Vision  ExpertEndpointConfig `toml:"vision"`  // vision model
	Drafter ExpertEndpointConfig `toml:"drafter"` // prose model (synthesizer)
}

// ExpertEndpointConfig describes one OpenAI-compatible chat endpoint.
type ExpertEndpointConfig struct {
	Name              string  `toml:"name"`                // Human name for logging ("Brain", "Worker", ...)
	URL               string  `toml:"url"`                 // Base URL, e.g. http://10.0.0.5:8001
	Model             string  `toml:"model"`               // Model identifier sent on the wire
	Timeout           string  `toml:"timeout"`             // Chat request timeout (default 30s)
	MaxTokens         int     `toml:"max_tokens"`          // Completion cap
	Temperature       float64 `toml:"temperature"`         // Sampling temperature
	RequestsPerSecond float64 `toml:"requests_per_second"` // Client-side rate limit (0 = unlimited)
}

type PromptRegistryConfig struct {
	Enabled  bool   `toml:"enabled"`   // Feature flag; off = always use built-in defaults
	URL      string `toml:"url"`       // Registry base URL
	CacheTTL string `toml:"cache_ttl"` // TTL for the in-memory prompt cache (default 300s)
	Timeout  string `toml:"timeout"`   // HTTP timeout for registry fetches (default 2s)
}

type VectorConfig struct {
	URL        string `toml:"url"`        // Vector store base URL
	Collection string `toml:"collection"` // Collection name (default "document_chunks")
	Dimension  int    `toml:"dimension"`  // Embedding dimension
	TopK       int    `toml:"top_k"`      // Chunks retrieved per research question (default 5)
	Timeout    string `toml:"timeout"`    // HTTP timeout for vector operations
}

type TelemetryConfig struct {
	Path         string `toml:"path"`          // NDJSON sink file path
	TraceURL     string `toml:"trace_url"`     // Optional external tracing endpoint
	TraceEnabled bool   `toml:"trace_enabled"` // Best-effort POST to trace_url when true
}

type WorkflowConfig struct {
	JobSlots          int    `toml:"job_slots"`          // Concurrent RUNNING jobs (default 2)
	MaxRevisions      int    `toml:"max_revisions"`      // Cartographer/Critic loop bound (default 3)
	MaxImages         int    `toml:"max_images"`         // Images forwarded to the vision expert (default 5)
	DefaultRigor      string `toml:"default_rigor"`      // "exploratory" or "conservative"
	BackpressureDelay string `toml:"backpressure_delay"` // Sleep when KV utilization is in the delay band
	RetryLaterDelay   string `toml:"retry_later_delay"`  // Re-entry delay after critic retry_later
	SweepSchedule     string `toml:"sweep_schedule"`     // Cron spec for the queued-job sweeper
}

type VocabularyConfig struct {
	Path string `toml:"path"` // YAML asset with forbidden words and alternatives
}

// NewDefaultConfig returns a config populated with defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/loom",
				ResetOnStartup: false,
			},
			Filesystem: FilesystemConfig{
				Artifacts: "./data/artifacts",
				PageCache: "./data/pagecache",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Experts: ExpertsConfig{
			Brain: ExpertEndpointConfig{
				Name:        "Brain",
				URL:         "http://localhost:8001",
				Model:       "loom-brain",
				Timeout:     "30s",
				MaxTokens:   8192,
				Temperature: 0.2,
			},
			Worker: ExpertEndpointConfig{
				Name:        "Worker",
				URL:         "http://localhost:8002",
				Model:       "loom-worker",
				Timeout:     "30s",
				MaxTokens:   8192,
				Temperature: 0.1,
			},
			Vision: ExpertEndpointConfig{
				Name:        "Vision",
				URL:         "http://localhost:8003",
				Model:       "loom-vision",
				Timeout:     "60s",
				MaxTokens:   4096,
				Temperature: 0.1,
			},
			Drafter: ExpertEndpointConfig{
				Name:        "Drafter",
				URL:         "http://localhost:8004",
				Model:       "loom-drafter",
				Timeout:     "30s",
				MaxTokens:   8192,
				Temperature: 0.7,
			},
		},
		Registry: PromptRegistryConfig{
			Enabled:  false,
			URL:      "",
			CacheTTL: "300s",
			Timeout:  "2s",
		},
		Vector: VectorConfig{
			URL:        "http://localhost:6333",
			Collection: "document_chunks",
			Dimension:  768,
			TopK:       5,
			Timeout:    "5s",
		},
		Telemetry: TelemetryConfig{
			Path:         "./data/telemetry.ndjson",
			TraceURL:     "",
			TraceEnabled: false,
		},
		Workflow: WorkflowConfig{
			JobSlots:          2,
			MaxRevisions:      3,
			MaxImages:         5,
			DefaultRigor:      "exploratory",
			BackpressureDelay: "200ms",
			RetryLaterDelay:   "30s",
			SweepSchedule:     "@every 15s",
		},
		Vocabulary: VocabularyConfig{
			Path: "./assets/vocabulary.yaml",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI. Later files override
// earlier files.
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

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("LOOM_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("LOOM_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("LOOM_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if path := os.Getenv("LOOM_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if level := os.Getenv("LOOM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if url := os.Getenv("LOOM_BRAIN_URL"); url != "" {
		config.Experts.Brain.URL = url
	}
	if url := os.Getenv("LOOM_WORKER_URL"); url != "" {
		config.Experts.Worker.URL = url
	}
	if url := os.Getenv("LOOM_VISION_URL"); url != "" {
		config.Experts.Vision.URL = url
	}
	if url := os.Getenv("LOOM_DRAFTER_URL"); url != "" {
		config.Experts.Drafter.URL = url
	}
	if url := os.Getenv("LOOM_VECTOR_URL"); url != "" {
		config.Vector.URL = url
	}
	if url := os.Getenv("LOOM_PROMPT_REGISTRY_URL"); url != "" {
		config.Registry.URL = url
		config.Registry.Enabled = true
	}
	if slots := os.Getenv("LOOM_JOB_SLOTS"); slots != "" {
		if n, err := strconv.Atoi(slots); err == nil && n > 0 {
			config.Workflow.JobSlots = n
		}
	}
	if rigor := os.Getenv("LOOM_DEFAULT_RIGOR"); rigor != "" {
		config.Workflow.DefaultRigor = rigor
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ParseDurationOr parses a duration string, returning the fallback when the
// value is empty or malformed.
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
