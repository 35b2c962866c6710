package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFromEnvWithDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	t.Setenv("PROVIDERS", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("DB_PATH", "")

	cfg := Load()

	if cfg.DBPath != "./kbmatch.db" {
		t.Fatalf("unexpected db path default: %q", cfg.DBPath)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0] != "anthropic" {
		t.Fatalf("unexpected providers: %v", cfg.Providers)
	}
	if cfg.MatchThreshold != 0.85 {
		t.Fatalf("unexpected match threshold default: %.2f", cfg.MatchThreshold)
	}
	if cfg.AmbiguityEpsilon != 0.05 {
		t.Fatalf("unexpected ambiguity epsilon default: %.2f", cfg.AmbiguityEpsilon)
	}
	if cfg.ConfidenceAlpha != 0.30 {
		t.Fatalf("unexpected confidence alpha default: %.2f", cfg.ConfidenceAlpha)
	}
	if cfg.ProviderTimeoutSecs != 30 {
		t.Fatalf("unexpected provider timeout default: %d", cfg.ProviderTimeoutSecs)
	}
	if cfg.MaxConcurrentResolves != 4 {
		t.Fatalf("unexpected max concurrent default: %d", cfg.MaxConcurrentResolves)
	}
	if cfg.PruneRetentionDays != 90 {
		t.Fatalf("unexpected prune retention default: %d", cfg.PruneRetentionDays)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
db_path: "/tmp/yaml.db"
providers: ["openai"]
openai_api_key: "sk-yaml"
match_threshold: 0.90
prune_schedule: "0 3 * * *"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("PROVIDERS", "")
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("MATCH_THRESHOLD", "0.80")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("SLACK_BOT_TOKEN", "")

	cfg := Load()

	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("env should override yaml db path, got %q", cfg.DBPath)
	}
	if cfg.MatchThreshold != 0.80 {
		t.Fatalf("env should override yaml threshold, got %.2f", cfg.MatchThreshold)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0] != "openai" {
		t.Fatalf("unexpected providers: %v", cfg.Providers)
	}
	if cfg.OpenAIAPIKey != "sk-yaml" {
		t.Fatalf("unexpected openai key: %q", cfg.OpenAIAPIKey)
	}
	if cfg.PruneSchedule != "0 3 * * *" {
		t.Fatalf("unexpected prune schedule: %q", cfg.PruneSchedule)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		var c Config
		c.Providers = []string{"anthropic"}
		c.AnthropicAPIKey = "sk-ant-test"
		c.ApplyDefaults()
		return c
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("baseline config should validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing anthropic key", func(c *Config) { c.AnthropicAPIKey = "" }, "anthropic_api_key"},
		{"unknown provider", func(c *Config) { c.Providers = []string{"mistral"} }, "unknown provider"},
		{"threshold above one", func(c *Config) { c.MatchThreshold = 1.5 }, "match_threshold"},
		{"negative alpha", func(c *Config) { c.ConfidenceAlpha = -0.1 }, "confidence_alpha"},
		{"zero concurrency", func(c *Config) { c.MaxConcurrentResolves = -1 }, "max_concurrent_resolves"},
		{"bad cron", func(c *Config) { c.PruneSchedule = "not a schedule" }, "prune_schedule"},
		{"slack without channel", func(c *Config) { c.SlackBotToken = "xoxb-test" }, "audit_channel_id"},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %s", tc.name, err, tc.want)
		}
	}
}

func TestValidateMissingOpenAIKey(t *testing.T) {
	var c Config
	c.Providers = []string{"openai"}
	c.ApplyDefaults()
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "openai_api_key") {
		t.Fatalf("expected missing openai key error, got %v", err)
	}
}
