// Package config loads engine configuration from a YAML file with
// environment-variable overrides. All settings have working defaults so the
// engine runs with no config file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/laserpointlabs/ODRAS-sub000/internal/logging"
)

// Config is the root engine configuration.
type Config struct {
	// DataDir holds the relational index, vector index, and event log.
	DataDir string `yaml:"data_dir"`

	// ProjectID scopes indexed entities and watcher events.
	ProjectID string `yaml:"project_id"`

	Logging   logging.Config  `yaml:"logging"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Worker    WorkerConfig    `yaml:"worker"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ChunkingConfig controls how content is segmented before embedding.
type ChunkingConfig struct {
	// Strategy is fixed, semantic, or hybrid.
	Strategy string `yaml:"strategy"`

	// TokenBudget is the per-chunk token target.
	TokenBudget int `yaml:"token_budget"`

	// OverlapTokens is the fixed-strategy window overlap.
	OverlapTokens int `yaml:"overlap_tokens"`

	// MinTokens is the smallest chunk worth keeping on its own.
	MinTokens int `yaml:"min_tokens"`
}

// EmbeddingConfig selects and tunes the embedding model.
type EmbeddingConfig struct {
	// Model names a registered embedding model.
	Model string `yaml:"model"`

	// OllamaHost overrides the default Ollama endpoint.
	OllamaHost string `yaml:"ollama_host"`

	// CacheSize bounds the embedding LRU cache.
	CacheSize int `yaml:"cache_size"`
}

// WorkerConfig tunes the reindexing worker's polling loop.
type WorkerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	SafetyWindowSeconds int `yaml:"safety_window_seconds"`
	BatchSize           int `yaml:"batch_size"`
	Concurrency         int `yaml:"concurrency"`
}

// PollInterval returns the configured poll interval as a duration.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// SafetyWindow returns the watermark backdating window as a duration.
func (w WorkerConfig) SafetyWindow() time.Duration {
	return time.Duration(w.SafetyWindowSeconds) * time.Second
}

// RetrievalConfig sets query-side defaults.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float32 `yaml:"score_threshold"`
}

// WatchConfig enables the drop-directory watcher.
type WatchConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Logging: logging.DefaultConfig(),
		Chunking: ChunkingConfig{
			Strategy:      "hybrid",
			TokenBudget:   512,
			OverlapTokens: 64,
			MinTokens:     100,
		},
		Embedding: EmbeddingConfig{
			Model:     "nomic-embed-text",
			CacheSize: 2048,
		},
		Worker: WorkerConfig{
			PollIntervalSeconds: 5,
			SafetyWindowSeconds: 30,
			BatchSize:           50,
			Concurrency:         4,
		},
		Retrieval: RetrievalConfig{
			TopK:           10,
			ScoreThreshold: 0.3,
		},
	}
}

// Load reads configuration from path, layering file values over defaults and
// environment overrides over both. A missing file is not an error; an empty
// path checks the default location only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Watch.Dir = expandHome(cfg.Watch.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers ODRAS_* environment variables over the loaded values.
func (c *Config) applyEnv() {
	if v := os.Getenv("ODRAS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("ODRAS_PROJECT_ID"); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv("ODRAS_EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("ODRAS_OLLAMA_HOST"); v != "" {
		c.Embedding.OllamaHost = v
	}
	if v := os.Getenv("ODRAS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ODRAS_WATCH_DIR"); v != "" {
		c.Watch.Dir = v
		c.Watch.Enabled = true
	}
	if v := os.Getenv("ODRAS_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Worker.Concurrency = n
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Chunking.TokenBudget <= 0 {
		return fmt.Errorf("chunking.token_budget must be positive")
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.TokenBudget {
		return fmt.Errorf("chunking.overlap_tokens must be in [0, token_budget)")
	}
	switch c.Chunking.Strategy {
	case "", "fixed", "semantic", "hybrid":
	default:
		return fmt.Errorf("chunking.strategy must be fixed, semantic, or hybrid, got %q", c.Chunking.Strategy)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model must not be empty")
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		return fmt.Errorf("retrieval.score_threshold must be in [0, 1]")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Watch.Enabled && c.Watch.Dir == "" {
		return fmt.Errorf("watch.dir must be set when watch.enabled is true")
	}
	return nil
}

// IndexDBPath is the SQLite relational index location.
func (c *Config) IndexDBPath() string {
	return filepath.Join(c.DataDir, "index.db")
}

// EventLogPath is the SQLite event log location.
func (c *Config) EventLogPath() string {
	return filepath.Join(c.DataDir, "events.db")
}

// VectorIndexPath is the persisted vector index location.
func (c *Config) VectorIndexPath() string {
	return filepath.Join(c.DataDir, "vectors.hnsw")
}

// LockPath is the data-directory lock file, held while a process has the
// stores open.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, ".lock")
}

// DefaultConfigPath returns ~/.odras/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "odras", "config.yaml")
	}
	return filepath.Join(home, ".odras", "config.yaml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "odras")
	}
	return filepath.Join(home, ".odras")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}
