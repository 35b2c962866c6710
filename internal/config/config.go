// Package config loads engine configuration from config.yaml with
// environment variable overrides and documented defaults.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath string `yaml:"db_path"`

	// Ordered fallback chain; first entry is tried first.
	Providers       []string `yaml:"providers"`
	AnthropicAPIKey string   `yaml:"anthropic_api_key"`
	AnthropicModel  string   `yaml:"anthropic_model"`
	OpenAIAPIKey    string   `yaml:"openai_api_key"`
	OpenAIModel     string   `yaml:"openai_model"`

	// Matching policy knobs.
	MatchThreshold      float64 `yaml:"match_threshold"`
	AmbiguityEpsilon    float64 `yaml:"ambiguity_epsilon"`
	MinAcceptConfidence float64 `yaml:"min_accept_confidence"`
	FuzzyMinSimilarity  float64 `yaml:"fuzzy_min_similarity"`
	ConfidenceAlpha     float64 `yaml:"confidence_alpha"`
	HintCount           int     `yaml:"hint_count"`

	ProviderTimeoutSecs     int `yaml:"provider_timeout_secs"`
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold"`
	BreakerRecoverySecs     int `yaml:"breaker_recovery_secs"`
	MaxConcurrentResolves   int `yaml:"max_concurrent_resolves"`

	// Maintenance. Empty prune_schedule disables the scheduler.
	PruneSchedule        string  `yaml:"prune_schedule"`
	PruneConfidenceFloor float64 `yaml:"prune_confidence_floor"`
	PruneUsageFloor      int     `yaml:"prune_usage_floor"`
	PruneRetentionDays   int     `yaml:"prune_retention_days"`

	// Optional operator notifications.
	SlackBotToken  string `yaml:"slack_bot_token"`
	AuditChannelID string `yaml:"audit_channel_id"`
}

func Load() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.AnthropicModel, "ANTHROPIC_MODEL")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIModel, "OPENAI_MODEL")
	envOverrideFloat(&cfg.MatchThreshold, "MATCH_THRESHOLD")
	envOverrideFloat(&cfg.AmbiguityEpsilon, "AMBIGUITY_EPSILON")
	envOverrideFloat(&cfg.MinAcceptConfidence, "MIN_ACCEPT_CONFIDENCE")
	envOverrideFloat(&cfg.FuzzyMinSimilarity, "FUZZY_MIN_SIMILARITY")
	envOverrideFloat(&cfg.ConfidenceAlpha, "CONFIDENCE_ALPHA")
	envOverrideInt(&cfg.HintCount, "HINT_COUNT")
	envOverrideInt(&cfg.ProviderTimeoutSecs, "PROVIDER_TIMEOUT_SECS")
	envOverrideInt(&cfg.BreakerFailureThreshold, "BREAKER_FAILURE_THRESHOLD")
	envOverrideInt(&cfg.BreakerRecoverySecs, "BREAKER_RECOVERY_SECS")
	envOverrideInt(&cfg.MaxConcurrentResolves, "MAX_CONCURRENT_RESOLVES")
	envOverride(&cfg.PruneSchedule, "PRUNE_SCHEDULE")
	envOverrideFloat(&cfg.PruneConfidenceFloor, "PRUNE_CONFIDENCE_FLOOR")
	envOverrideInt(&cfg.PruneUsageFloor, "PRUNE_USAGE_FLOOR")
	envOverrideInt(&cfg.PruneRetentionDays, "PRUNE_RETENTION_DAYS")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.AuditChannelID, "AUDIT_CHANNEL_ID")

	if names := os.Getenv("PROVIDERS"); names != "" {
		cfg.Providers = nil
		for _, name := range strings.Split(names, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				cfg.Providers = append(cfg.Providers, name)
			}
		}
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// ApplyDefaults fills unset fields with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "./kbmatch.db"
	}
	if len(c.Providers) == 0 {
		c.Providers = []string{"anthropic"}
	}
	if c.MatchThreshold == 0 {
		c.MatchThreshold = 0.85
	}
	if c.AmbiguityEpsilon == 0 {
		c.AmbiguityEpsilon = 0.05
	}
	if c.MinAcceptConfidence == 0 {
		c.MinAcceptConfidence = 0.50
	}
	if c.FuzzyMinSimilarity == 0 {
		c.FuzzyMinSimilarity = 0.60
	}
	if c.ConfidenceAlpha == 0 {
		c.ConfidenceAlpha = 0.30
	}
	if c.HintCount == 0 {
		c.HintCount = 5
	}
	if c.ProviderTimeoutSecs == 0 {
		c.ProviderTimeoutSecs = 30
	}
	if c.BreakerFailureThreshold == 0 {
		c.BreakerFailureThreshold = 3
	}
	if c.BreakerRecoverySecs == 0 {
		c.BreakerRecoverySecs = 60
	}
	if c.MaxConcurrentResolves == 0 {
		c.MaxConcurrentResolves = 4
	}
	if c.PruneConfidenceFloor == 0 {
		c.PruneConfidenceFloor = 0.30
	}
	if c.PruneRetentionDays == 0 {
		c.PruneRetentionDays = 90
	}
}

// Validate rejects internally inconsistent configuration.
func (c Config) Validate() error {
	for _, name := range c.Providers {
		switch name {
		case "anthropic":
			if c.AnthropicAPIKey == "" {
				return fmt.Errorf("anthropic_api_key is required when providers includes anthropic")
			}
		case "openai":
			if c.OpenAIAPIKey == "" {
				return fmt.Errorf("openai_api_key is required when providers includes openai")
			}
		default:
			return fmt.Errorf("unknown provider '%s' (want anthropic or openai)", name)
		}
	}
	for name, v := range map[string]float64{
		"match_threshold":        c.MatchThreshold,
		"ambiguity_epsilon":      c.AmbiguityEpsilon,
		"min_accept_confidence":  c.MinAcceptConfidence,
		"fuzzy_min_similarity":   c.FuzzyMinSimilarity,
		"confidence_alpha":       c.ConfidenceAlpha,
		"prune_confidence_floor": c.PruneConfidenceFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("invalid %s '%f': must be between 0 and 1", name, v)
		}
	}
	if c.MaxConcurrentResolves < 1 {
		return fmt.Errorf("invalid max_concurrent_resolves '%d': must be >= 1", c.MaxConcurrentResolves)
	}
	if c.PruneSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(c.PruneSchedule); err != nil {
			return fmt.Errorf("invalid prune_schedule '%s': %v", c.PruneSchedule, err)
		}
	}
	if c.SlackBotToken != "" && c.AuditChannelID == "" {
		return fmt.Errorf("audit_channel_id is required when slack_bot_token is set")
	}
	return nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
