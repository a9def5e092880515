package model

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Config holds all aidigest runtime configuration
type Config struct {
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Memory       MemoryConfig       `yaml:"memory" mapstructure:"memory"`
	Dedup        DedupConfig        `yaml:"dedup" mapstructure:"dedup"`
	Digest       DigestConfig       `yaml:"digest" mapstructure:"digest"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Sources      SourcesConfig      `yaml:"sources" mapstructure:"sources"`
	Delivery     DeliveryConfig     `yaml:"delivery" mapstructure:"delivery"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	Run          RunConfig          `yaml:"run" mapstructure:"run"`
}

// LLMConfig configures the model provider
type LLMConfig struct {
	Provider          string        `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama
	Model             string        `yaml:"model" mapstructure:"model"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens         int           `yaml:"max_tokens" mapstructure:"max_tokens"`               // Response budget
	MaxInputTokens    int           `yaml:"max_input_tokens" mapstructure:"max_input_tokens"`   // Prompt budget per batch
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	HTTPProxy         string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// OrchestratorConfig bounds batching, concurrency and retries
type OrchestratorConfig struct {
	BatchSize       int           `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency     int           `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoff     time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	MaxFailureRatio float64       `yaml:"max_failure_ratio" mapstructure:"max_failure_ratio"`
	MaxBodyChars    int           `yaml:"max_body_chars" mapstructure:"max_body_chars"`
}

// CacheConfig configures the evaluation cache and its persistence
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	Backend    string        `yaml:"backend" mapstructure:"backend"` // disk, redis, none
	Dir        string        `yaml:"dir" mapstructure:"dir"`
	RedisURL   string        `yaml:"redis_url,omitempty" mapstructure:"redis_url"`
	TTL        time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MaxEntries int           `yaml:"max_entries" mapstructure:"max_entries"`
	MaxBytes   int64         `yaml:"max_bytes" mapstructure:"max_bytes"`
	FailureTTL time.Duration `yaml:"failure_ttl" mapstructure:"failure_ttl"`
}

// MemoryConfig bounds the working set held during a run
type MemoryConfig struct {
	ChunkSize        int   `yaml:"chunk_size" mapstructure:"chunk_size"`
	MaxInFlightBytes int64 `yaml:"max_inflight_bytes" mapstructure:"max_inflight_bytes"`
}

// DedupConfig tunes near-duplicate detection
type DedupConfig struct {
	MaxHamming  int `yaml:"max_hamming" mapstructure:"max_hamming"` // 0 = exact fingerprint match only
	ShingleSize int `yaml:"shingle_size" mapstructure:"shingle_size"`
}

// DigestConfig tunes digest assembly
type DigestConfig struct {
	Lookback                 time.Duration `yaml:"lookback" mapstructure:"lookback"`
	MaxItems                 int           `yaml:"max_items" mapstructure:"max_items"`
	MaxSourceRatio           float64       `yaml:"max_source_ratio" mapstructure:"max_source_ratio"`
	MinSummaryChars          int           `yaml:"min_summary_chars" mapstructure:"min_summary_chars"`
	MinQualityZeroEngagement float64       `yaml:"min_quality_zero_engagement" mapstructure:"min_quality_zero_engagement"`
}

// StoreConfig locates the article store
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// FeedConfig names a single RSS/Atom feed
type FeedConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
	URL  string `yaml:"url" mapstructure:"url"`
}

// SourcesConfig lists ingestion sources
type SourcesConfig struct {
	RSS         []FeedConfig  `yaml:"rss" mapstructure:"rss"`
	HackerNews  bool          `yaml:"hackernews" mapstructure:"hackernews"`
	HNLimit     int           `yaml:"hn_limit" mapstructure:"hn_limit"`
	Reddit      []string      `yaml:"reddit" mapstructure:"reddit"` // Subreddit names, empty disables Reddit
	RedditLimit int           `yaml:"reddit_limit" mapstructure:"reddit_limit"`
	UserAgent   string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DeliveryConfig selects the distribution adapter
type DeliveryConfig struct {
	Kind      string `yaml:"kind" mapstructure:"kind"` // file, stdout
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// RunConfig bounds a whole digest build
type RunConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:          "ollama",
			Model:             "llama3:8b-instruct-q4_K_M",
			Timeout:           120 * time.Second,
			MaxTokens:         2000,
			MaxInputTokens:    6000,
			RequestsPerSecond: 2,
			Burst:             2,
		},
		Orchestrator: OrchestratorConfig{
			BatchSize:       5,
			Concurrency:     5,
			MaxAttempts:     3,
			BaseBackoff:     time.Second,
			MaxBackoff:      30 * time.Second,
			MaxFailureRatio: 0.5,
			MaxBodyChars:    1600,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "disk",
			Dir:        filepath.Join(xdg.CacheHome, "aidigest", "evaluations"),
			TTL:        36 * time.Hour,
			MaxEntries: 5000,
			MaxBytes:   64 << 20,
			FailureTTL: 6 * time.Hour,
		},
		Memory: MemoryConfig{
			ChunkSize:        50,
			MaxInFlightBytes: 8 << 20,
		},
		Dedup: DedupConfig{
			MaxHamming:  3,
			ShingleSize: 3,
		},
		Digest: DigestConfig{
			Lookback:                 24 * time.Hour,
			MaxItems:                 15,
			MaxSourceRatio:           0.5,
			MinSummaryChars:          30,
			MinQualityZeroEngagement: 0.6,
		},
		Store: StoreConfig{
			Path: filepath.Join(xdg.DataHome, "aidigest", "articles.db"),
		},
		Sources: SourcesConfig{
			HackerNews:  true,
			HNLimit:     100,
			Reddit:      []string{"MachineLearning", "LocalLLaMA", "artificial", "OpenAI"},
			RedditLimit: 25,
			UserAgent:   "aidigest/0.1 (+https://github.com/ppiankov/aidigest)",
			Timeout:     20 * time.Second,
		},
		Delivery: DeliveryConfig{
			Kind:      "file",
			OutputDir: filepath.Join(xdg.DataHome, "aidigest", "output"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Run: RunConfig{
			Timeout: 30 * time.Minute,
		},
	}
}
