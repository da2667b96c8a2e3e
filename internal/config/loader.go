package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".synod"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// envPrefix namespaces environment overrides (SYNOD_STORE_PATH etc.).
	envPrefix = "SYNOD"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("SYNOD_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load reads the config file if present, applies environment overrides, and
// backfills defaults for unset values.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults backfills zero values so a sparse config file still yields a
// runnable configuration.
func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Kafka.Brokers == "" {
		cfg.Kafka.Brokers = def.Kafka.Brokers
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = def.Kafka.ConsumerGroup
	}
	if cfg.Bus.DedupWindow <= 0 {
		cfg.Bus.DedupWindow = def.Bus.DedupWindow
	}
	if cfg.Bus.CatchUpWindow <= 0 {
		cfg.Bus.CatchUpWindow = def.Bus.CatchUpWindow
	}
	if cfg.Bus.CatchUpLimit <= 0 {
		cfg.Bus.CatchUpLimit = def.Bus.CatchUpLimit
	}
	if cfg.Health.HeartbeatInterval <= 0 {
		cfg.Health.HeartbeatInterval = def.Health.HeartbeatInterval
	}
	if cfg.Health.StalenessThreshold <= 0 {
		cfg.Health.StalenessThreshold = def.Health.StalenessThreshold
	}
	if cfg.Health.PollInterval <= 0 {
		cfg.Health.PollInterval = def.Health.PollInterval
	}
	if cfg.Participation.YesThreshold <= 0 {
		cfg.Participation.YesThreshold = def.Participation.YesThreshold
	}
	if cfg.Participation.NoThreshold <= 0 {
		cfg.Participation.NoThreshold = def.Participation.NoThreshold
	}
	if cfg.Participation.RetryAfter <= 0 {
		cfg.Participation.RetryAfter = def.Participation.RetryAfter
	}
	if cfg.Participation.DedupWindow <= 0 {
		cfg.Participation.DedupWindow = def.Participation.DedupWindow
	}
	if cfg.Participation.DeepEvTimeout <= 0 {
		cfg.Participation.DeepEvTimeout = def.Participation.DeepEvTimeout
	}
	if cfg.Decision.VoteTimeout <= 0 {
		cfg.Decision.VoteTimeout = def.Decision.VoteTimeout
	}
	if cfg.Decision.ConsensusThreshold <= 0 {
		cfg.Decision.ConsensusThreshold = def.Decision.ConsensusThreshold
	}
	if len(cfg.Workflow.AllowedKinds) == 0 {
		cfg.Workflow.AllowedKinds = def.Workflow.AllowedKinds
	}
	if cfg.Workflow.MaxStateBytes <= 0 {
		cfg.Workflow.MaxStateBytes = def.Workflow.MaxStateBytes
	}
	if cfg.Workflow.MaxRetries <= 0 {
		cfg.Workflow.MaxRetries = def.Workflow.MaxRetries
	}
	if cfg.Reasoning.APIBase == "" {
		cfg.Reasoning.APIBase = def.Reasoning.APIBase
	}
	if cfg.Reasoning.Model == "" {
		cfg.Reasoning.Model = def.Reasoning.Model
	}
	if cfg.Reasoning.MaxTokens <= 0 {
		cfg.Reasoning.MaxTokens = def.Reasoning.MaxTokens
	}
	if cfg.Reasoning.Timeout <= 0 {
		cfg.Reasoning.Timeout = def.Reasoning.Timeout
	}
}
