package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
ai:
  api_key: "sk-test-key-0123456789abcdef"
  writer_model: gpt-4o-mini
  editor_model: gpt-4o-mini
`

func TestLoad(t *testing.T) {
	path := writeFile(t, "config.yaml", minimalConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.AI.WriterModel != "gpt-4o-mini" {
		t.Errorf("WriterModel = %q", cfg.AI.WriterModel)
	}
	// Defaults fill everything the file omits.
	if cfg.AI.Timeout != 900 {
		t.Errorf("Timeout default = %d, want 900", cfg.AI.Timeout)
	}
	if cfg.Refinement.MaxRounds != 2 {
		t.Errorf("MaxRounds default = %d, want 2", cfg.Refinement.MaxRounds)
	}
	if cfg.Refinement.ApprovalThreshold != 7.5 {
		t.Errorf("ApprovalThreshold default = %v, want 7.5", cfg.Refinement.ApprovalThreshold)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("MaxRetries default = %d, want 5", cfg.Retry.MaxRetries)
	}
	if cfg.Memory.CompactionInterval != 5 {
		t.Errorf("CompactionInterval default = %d, want 5", cfg.Memory.CompactionInterval)
	}
	if cfg.Save.StateFile != "novel_state.json" {
		t.Errorf("StateFile default = %q", cfg.Save.StateFile)
	}
}

func TestLoadAPIKeyFromEnvironment(t *testing.T) {
	path := writeFile(t, "config.yaml", `
ai:
  api_key: "${OPENAI_API_KEY}"
  writer_model: gpt-4o-mini
  editor_model: gpt-4o-mini
`)
	t.Setenv("OPENAI_API_KEY", "sk-env-key-0123456789abcdef")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AI.APIKey != "sk-env-key-0123456789abcdef" {
		t.Errorf("APIKey = %q, want the env value", cfg.AI.APIKey)
	}
}

func TestLoadRetryDelays(t *testing.T) {
	path := writeFile(t, "config.yaml", minimalConfig+`
retry:
  max_retries: 4
  retry_delay: 45s
  rate_limit_max_retries: 8
  rate_limit_delay: 2m
  requests_per_minute: 60
  burst_size: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retry.RetryDelay != 45*time.Second {
		t.Errorf("RetryDelay = %v, want 45s", cfg.Retry.RetryDelay)
	}
	if cfg.Retry.RateLimitDelay != 2*time.Minute {
		t.Errorf("RateLimitDelay = %v, want 2m", cfg.Retry.RateLimitDelay)
	}
	if cfg.Retry.MaxRetries != 4 {
		t.Errorf("MaxRetries = %d, want 4", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.RequestsPerMinute != 60 {
		t.Errorf("RequestsPerMinute = %d, want 60", cfg.Retry.RequestsPerMinute)
	}
}

func TestParseDelay(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"30s", 30 * time.Second},
		{"1m30s", 90 * time.Second},
		{"45", 45 * time.Second},
	}
	for _, tt := range tests {
		got, err := parseDelay(tt.in)
		if err != nil {
			t.Errorf("parseDelay(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDelay(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := parseDelay("soon"); err == nil {
		t.Error("expected an error for a malformed duration")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"missing api key",
			"ai:\n  writer_model: m\n  editor_model: m\n",
			"validation",
		},
		{
			"missing models",
			"ai:\n  api_key: sk-test-key-0123456789abcdef\n",
			"validation",
		},
		{
			"not yaml",
			"{{{{",
			"parsing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			path := writeFile(t, "config.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadSetup(t *testing.T) {
	path := writeFile(t, "setup.yaml", `
synopsis: "A drowned city gives up its last secret."
writing_style: "spare, close third person"
characters:
  - name: Mira
    description: salvage diver
`)

	setup, err := LoadSetup(path)
	if err != nil {
		t.Fatal(err)
	}
	if setup.TargetChapters != 12 {
		t.Errorf("TargetChapters default = %d, want 12", setup.TargetChapters)
	}
	if setup.TargetWordsPerChapter != 3000 {
		t.Errorf("TargetWordsPerChapter default = %d, want 3000", setup.TargetWordsPerChapter)
	}
	if setup.WordsTolerance != 0.2 {
		t.Errorf("WordsTolerance default = %v, want 0.2", setup.WordsTolerance)
	}
	if setup.ShortTermMemoryChapters != 2 {
		t.Errorf("ShortTermMemoryChapters default = %d, want 2", setup.ShortTermMemoryChapters)
	}
}

func TestLoadSetupValidation(t *testing.T) {
	t.Run("missing synopsis", func(t *testing.T) {
		path := writeFile(t, "setup.yaml", "writing_style: x\ncharacters:\n  - name: Mira\n")
		if _, err := LoadSetup(path); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("no characters", func(t *testing.T) {
		path := writeFile(t, "setup.yaml", "synopsis: s\nwriting_style: x\n")
		if _, err := LoadSetup(path); err == nil {
			t.Fatal("expected validation error")
		}
	})
}
