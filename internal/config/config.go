// Package config loads the layered application configuration: compiled
// defaults, then the user's YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DownloadConfig tunes feed and article fetching.
type DownloadConfig struct {
	TimeoutSecs         int     `yaml:"timeout" validate:"min=1,max=300"`
	ConnectTimeoutSecs  int     `yaml:"connect_timeout" validate:"min=1,max=60"`
	MaxRetries          int     `yaml:"max_retries" validate:"min=1,max=10"`
	RetryDelaySecs      int     `yaml:"retry_delay" validate:"min=0,max=60"`
	ConcurrentDownloads int     `yaml:"concurrent_downloads" validate:"min=1,max=20"`
	ConcurrentFeeds     int     `yaml:"concurrent_feeds" validate:"min=1,max=20"`
	MaxRedirects        int     `yaml:"max_redirects" validate:"min=1,max=20"`
	ETagMaxAgeDays      int     `yaml:"etag_max_age_days" validate:"min=1"`
	DomainRatePerSec    float64 `yaml:"domain_rate_per_sec" validate:"gt=0"`
	FeedRetryAfterHours int     `yaml:"feed_retry_after_hours" validate:"min=1"`
	UserAgent           string  `yaml:"user_agent"`
}

// LLMConfig tunes the summarization client.
type LLMConfig struct {
	APIKey                  string         `yaml:"api_key"`
	Host                    string         `yaml:"host" validate:"required,url"`
	Models                  string         `yaml:"models" validate:"required"`
	MaxTokens               int            `yaml:"max_tokens" validate:"min=1,max=32768"`
	Temperature             float64        `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxContentChars         int            `yaml:"max_content_chars" validate:"min=100"`
	RequestDelaySecs        float64        `yaml:"request_delay" validate:"gte=0"`
	MaxRetries              int            `yaml:"max_retries" validate:"min=1,max=10"`
	TimeoutSecs             int            `yaml:"timeout" validate:"min=1,max=600"`
	SystemPrompt            string         `yaml:"system_prompt"`
	UserPrompt              string         `yaml:"user_prompt"`
	ContentOnlyCacheKey     bool           `yaml:"use_content_only_cache_key"`
	BreakerFailureThreshold int            `yaml:"circuit_breaker_failure_threshold" validate:"min=1"`
	BreakerRecoverySecs     int            `yaml:"circuit_breaker_recovery_timeout" validate:"min=1"`
	BreakerSuccessThreshold int            `yaml:"circuit_breaker_success_threshold" validate:"min=1"`
	RateLimitRPM            map[string]int `yaml:"rate_limit_requests_per_minute"`
}

// ModelList splits the comma-separated model string.
func (c *LLMConfig) ModelList() []string {
	var models []string
	for _, m := range strings.Split(c.Models, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	return models
}

// SummarizeConfig tunes the batch summarization command.
type SummarizeConfig struct {
	SaveEvery int `yaml:"save_every" validate:"min=1"`
}

// Config holds all configuration for the application.
type Config struct {
	BaseDir  string `yaml:"base_dir" validate:"required"`
	OPMLPath string `yaml:"opml_path"`
	LogLevel string `yaml:"log_level"`

	Download  DownloadConfig  `yaml:"download"`
	LLM       LLMConfig       `yaml:"llm"`
	Summarize SummarizeConfig `yaml:"summarize"`
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseDir:  DefaultBaseDir,
		LogLevel: DefaultLogLevel,
		Download: DownloadConfig{
			TimeoutSecs:         DefaultDownloadTimeoutSecs,
			ConnectTimeoutSecs:  DefaultConnectTimeoutSecs,
			MaxRetries:          DefaultDownloadMaxRetries,
			RetryDelaySecs:      DefaultRetryDelaySecs,
			ConcurrentDownloads: DefaultConcurrentDownloads,
			ConcurrentFeeds:     DefaultConcurrentFeeds,
			MaxRedirects:        DefaultMaxRedirects,
			ETagMaxAgeDays:      DefaultETagMaxAgeDays,
			DomainRatePerSec:    DefaultDomainRatePerSec,
			FeedRetryAfterHours: DefaultFeedRetryAfterHours,
			UserAgent:           DefaultUserAgent,
		},
		LLM: LLMConfig{
			APIKey:                  GetEnvString("GLM_API_KEY", ""),
			Host:                    DefaultLLMHost,
			Models:                  DefaultLLMModels,
			MaxTokens:               DefaultMaxTokens,
			Temperature:             DefaultTemperature,
			MaxContentChars:         DefaultMaxContentChars,
			RequestDelaySecs:        DefaultRequestDelaySecs,
			MaxRetries:              DefaultLLMMaxRetries,
			TimeoutSecs:             DefaultLLMTimeoutSecs,
			SystemPrompt:            DefaultSystemPrompt,
			UserPrompt:              DefaultUserPrompt,
			BreakerFailureThreshold: DefaultBreakerFailures,
			BreakerRecoverySecs:     DefaultBreakerRecoverySec,
			BreakerSuccessThreshold: DefaultBreakerSuccesses,
			RateLimitRPM:            map[string]int{"default": DefaultRateLimitRPM},
		},
		Summarize: SummarizeConfig{
			SaveEvery: DefaultSaveEvery,
		},
	}
}

// Load reads the config file at path (or DefaultConfigPath when empty),
// layers it over the defaults, applies env overrides and validates.
// A missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath
	}
	path = expandHome(path)
	raw, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.BaseDir = GetEnvString("RSSKB_BASE_DIR", cfg.BaseDir)
	cfg.OPMLPath = GetEnvString("RSSKB_OPML_PATH", cfg.OPMLPath)
	cfg.LogLevel = GetEnvString("RSSKB_LOG_LEVEL", cfg.LogLevel)
	cfg.LLM.APIKey = GetEnvString("GLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.Host = GetEnvString("GLM_HOST", cfg.LLM.Host)
	cfg.LLM.Models = GetEnvString("GLM_MODELS", cfg.LLM.Models)

	cfg.BaseDir = expandHome(cfg.BaseDir)
	if cfg.OPMLPath == "" {
		cfg.OPMLPath = filepath.Join(cfg.BaseDir, OPMLFileName)
	} else {
		cfg.OPMLPath = expandHome(cfg.OPMLPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks all range constraints before the pipeline runs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(c.LLM.ModelList()) == 0 {
		return fmt.Errorf("invalid configuration: llm.models is empty")
	}
	return nil
}

// DBPath locates the SQLite datastore under the base dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.BaseDir, DBFileName)
}

// ArticlesDir locates the markdown article tree.
func (c *Config) ArticlesDir() string {
	return filepath.Join(c.BaseDir, ArticlesDirName)
}

// CacheDir locates the LLM response cache.
func (c *Config) CacheDir() string {
	return filepath.Join(c.BaseDir, CacheDirName)
}

// ParsedLogLevel maps the configured level to zerolog, defaulting to info.
func (c *Config) ParsedLogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}

// RequestDelay converts the configured float seconds.
func (c *LLMConfig) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelaySecs * float64(time.Second))
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
