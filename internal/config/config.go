// Package config loads and validates the runtime configuration and the
// novel setup file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AI         AIConfig         `yaml:"ai" validate:"required"`
	Generation GenerationConfig `yaml:"generation"`
	Retry      RetryConfig      `yaml:"retry"`
	Context    ContextConfig    `yaml:"context"`
	Refinement RefinementConfig `yaml:"refinement"`
	Memory     MemoryConfig     `yaml:"memory"`
	Save       SaveConfig       `yaml:"save"`
}

type AIConfig struct {
	APIKey         string `yaml:"api_key" validate:"required,min=20"`
	BaseURL        string `yaml:"base_url" validate:"omitempty,url"`
	WriterModel    string `yaml:"writer_model" validate:"required"`
	EditorModel    string `yaml:"editor_model" validate:"required"`
	EmbeddingModel string `yaml:"embedding_model"`
	Timeout        int    `yaml:"timeout" validate:"required,min=10,max=3600"`
}

type GenerationConfig struct {
	WriterTemperature     float32 `yaml:"writer_temperature" validate:"min=0,max=2"`
	EditorTemperature     float32 `yaml:"editor_temperature" validate:"min=0,max=2"`
	SummarizerTemperature float32 `yaml:"summarizer_temperature" validate:"min=0,max=2"`
	CompactorTemperature  float32 `yaml:"compactor_temperature" validate:"min=0,max=2"`
	MaxGenerationTokens   int     `yaml:"max_generation_tokens" validate:"min=0,max=200000"`
	MaxReviewTokens       int     `yaml:"max_review_tokens" validate:"min=0,max=100000"`
}

type RetryConfig struct {
	MaxRetries          int           `yaml:"max_retries" validate:"min=1,max=20"`
	RetryDelay          time.Duration `yaml:"retry_delay" validate:"min=1s,max=10m"`
	RateLimitMaxRetries int           `yaml:"rate_limit_max_retries" validate:"min=1,max=50"`
	RateLimitDelay      time.Duration `yaml:"rate_limit_delay" validate:"min=1s,max=30m"`
	RequestsPerMinute   int           `yaml:"requests_per_minute" validate:"min=1,max=1000"`
	BurstSize           int           `yaml:"burst_size" validate:"min=1,max=100"`
}

// UnmarshalYAML accepts human-readable strings ("30s", "2m") for the delay
// fields. yaml.v3 decodes time.Duration only from raw nanosecond integers,
// which nobody writes in a config file.
func (r *RetryConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxRetries          int    `yaml:"max_retries"`
		RetryDelay          string `yaml:"retry_delay"`
		RateLimitMaxRetries int    `yaml:"rate_limit_max_retries"`
		RateLimitDelay      string `yaml:"rate_limit_delay"`
		RequestsPerMinute   int    `yaml:"requests_per_minute"`
		BurstSize           int    `yaml:"burst_size"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	r.MaxRetries = raw.MaxRetries
	r.RateLimitMaxRetries = raw.RateLimitMaxRetries
	r.RequestsPerMinute = raw.RequestsPerMinute
	r.BurstSize = raw.BurstSize

	var err error
	if r.RetryDelay, err = parseDelay(raw.RetryDelay); err != nil {
		return fmt.Errorf("retry_delay: %w", err)
	}
	if r.RateLimitDelay, err = parseDelay(raw.RateLimitDelay); err != nil {
		return fmt.Errorf("rate_limit_delay: %w", err)
	}
	return nil
}

// parseDelay parses a duration string; a bare number is taken as seconds.
func parseDelay(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

type ContextConfig struct {
	RecentChapters int `yaml:"recent_chapters" validate:"min=0,max=20"`
	MemoryMaxChars int `yaml:"memory_max_chars" validate:"min=0,max=1000000"`
	ReviewMaxChars int `yaml:"review_max_chars" validate:"min=0,max=1000000"`
}

type RefinementConfig struct {
	MaxRounds         int     `yaml:"max_rounds" validate:"min=0,max=10"`
	ApprovalThreshold float64 `yaml:"approval_threshold" validate:"min=0,max=10"`
	VerifyThreshold   float64 `yaml:"verify_threshold" validate:"min=0,max=1"`
}

type MemoryConfig struct {
	CompactionInterval int `yaml:"compaction_interval" validate:"min=0,max=100"`
	MaxCharacterEvents int `yaml:"max_character_events" validate:"min=1,max=100"`
	MaxPlotThreads     int `yaml:"max_plot_threads" validate:"min=1,max=100"`
}

type SaveConfig struct {
	OutputDir        string `yaml:"output_dir"`
	StateFile        string `yaml:"state_file"`
	OutputFile       string `yaml:"output_file"`
	AutoSaveInterval int    `yaml:"auto_save_interval" validate:"min=1,max=50"`
}

// Load reads the config at path, falling back to the NOVELIST_CONFIG env
// var and then to the XDG config directory. Missing optional fields get
// defaults before validation runs.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = configPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.AI.APIKey == "" || cfg.AI.APIKey == "${OPENAI_API_KEY}" {
		cfg.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func configPath() string {
	if path := os.Getenv("NOVELIST_CONFIG"); path != "" {
		return path
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "novelist", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "novelist", "config.yaml")
}

func (c *Config) applyDefaults() {
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 900
	}
	if c.Generation.WriterTemperature == 0 {
		c.Generation.WriterTemperature = 0.8
	}
	if c.Generation.EditorTemperature == 0 {
		c.Generation.EditorTemperature = 0.3
	}
	if c.Generation.SummarizerTemperature == 0 {
		c.Generation.SummarizerTemperature = 0.3
	}
	if c.Generation.CompactorTemperature == 0 {
		c.Generation.CompactorTemperature = 0.3
	}
	if c.Generation.MaxGenerationTokens == 0 {
		c.Generation.MaxGenerationTokens = 16000
	}
	if c.Generation.MaxReviewTokens == 0 {
		c.Generation.MaxReviewTokens = 2000
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 5
	}
	if c.Retry.RetryDelay == 0 {
		c.Retry.RetryDelay = 30 * time.Second
	}
	if c.Retry.RateLimitMaxRetries == 0 {
		c.Retry.RateLimitMaxRetries = 10
	}
	if c.Retry.RateLimitDelay == 0 {
		c.Retry.RateLimitDelay = 60 * time.Second
	}
	if c.Retry.RequestsPerMinute == 0 {
		c.Retry.RequestsPerMinute = 30
	}
	if c.Retry.BurstSize == 0 {
		c.Retry.BurstSize = 5
	}
	if c.Context.RecentChapters == 0 {
		c.Context.RecentChapters = 2
	}
	if c.Context.MemoryMaxChars == 0 {
		c.Context.MemoryMaxChars = 8000
	}
	if c.Context.ReviewMaxChars == 0 {
		c.Context.ReviewMaxChars = 6000
	}
	if c.Refinement.MaxRounds == 0 {
		c.Refinement.MaxRounds = 2
	}
	if c.Refinement.ApprovalThreshold == 0 {
		c.Refinement.ApprovalThreshold = 7.5
	}
	if c.Refinement.VerifyThreshold == 0 {
		c.Refinement.VerifyThreshold = 0.6
	}
	if c.Memory.CompactionInterval == 0 {
		c.Memory.CompactionInterval = 5
	}
	if c.Memory.MaxCharacterEvents == 0 {
		c.Memory.MaxCharacterEvents = 10
	}
	if c.Memory.MaxPlotThreads == 0 {
		c.Memory.MaxPlotThreads = 20
	}
	if c.Save.OutputDir == "" {
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			c.Save.OutputDir = filepath.Join(xdgData, "novelist", "output")
		} else {
			home, _ := os.UserHomeDir()
			c.Save.OutputDir = filepath.Join(home, ".local", "share", "novelist", "output")
		}
	} else {
		c.Save.OutputDir = expandTilde(c.Save.OutputDir)
	}
	if c.Save.StateFile == "" {
		c.Save.StateFile = "novel_state.json"
	}
	if c.Save.OutputFile == "" {
		c.Save.OutputFile = "novel.md"
	}
	if c.Save.AutoSaveInterval == 0 {
		c.Save.AutoSaveInterval = 1
	}
}

func (c *Config) validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// expandTilde expands a leading ~/ to the user's home directory.
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
