// Package config provides configuration types and loading for synod.
package config

import "time"

// Config is the root configuration struct.
type Config struct {
	Store         StoreConfig         `json:"store"`
	Kafka         KafkaConfig         `json:"kafka"`
	Bus           BusConfig           `json:"bus"`
	Health        HealthConfig        `json:"health"`
	Participation ParticipationConfig `json:"participation"`
	Decision      DecisionConfig      `json:"decision"`
	Workflow      WorkflowConfig      `json:"workflow"`
	Reasoning     ReasoningConfig     `json:"reasoning"`
}

// StoreConfig locates the durable store.
// Tags carry only the leaf name: envconfig composes the lookup key from the
// process prefix and the parent field, e.g. SYNOD_STORE_PATH.
type StoreConfig struct {
	Path string `json:"path" envconfig:"PATH"`
}

// KafkaConfig configures the pub/sub transport.
type KafkaConfig struct {
	Enabled       bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers       string `json:"brokers" envconfig:"BROKERS"`
	ConsumerGroup string `json:"consumerGroup" envconfig:"CONSUMER_GROUP"`
}

// BusConfig tunes message bus delivery behaviour.
type BusConfig struct {
	DedupWindow   int           `json:"dedupWindow"`
	CatchUpWindow time.Duration `json:"catchUpWindow"`
	CatchUpLimit  int           `json:"catchUpLimit"`
}

// HealthConfig tunes heartbeat emission and staleness detection.
type HealthConfig struct {
	HeartbeatInterval  time.Duration `json:"heartbeatInterval"`
	StalenessThreshold time.Duration `json:"stalenessThreshold"`
	PollInterval       time.Duration `json:"pollInterval"`
}

// ParticipationConfig tunes the self-selection evaluator.
type ParticipationConfig struct {
	YesThreshold  float64       `json:"yesThreshold"`
	NoThreshold   float64       `json:"noThreshold"`
	RetryAfter    time.Duration `json:"retryAfter"`
	DedupWindow   int           `json:"dedupWindow"`
	DeepEvTimeout time.Duration `json:"deepEvalTimeout"`
}

// DecisionConfig tunes the decision coordinator.
type DecisionConfig struct {
	VoteTimeout        time.Duration `json:"voteTimeout"`
	ConsensusThreshold float64       `json:"consensusThreshold"`
}

// WorkflowConfig bounds workflow execution.
type WorkflowConfig struct {
	AllowedKinds  []string `json:"allowedKinds"`
	MaxStateBytes int      `json:"maxStateBytes"`
	MaxRetries    int      `json:"maxRetries"`
}

// ReasoningConfig configures the external reasoning service.
type ReasoningConfig struct {
	APIKey      string        `json:"apiKey" envconfig:"API_KEY"`
	APIBase     string        `json:"apiBase" envconfig:"API_BASE"`
	Model       string        `json:"model" envconfig:"MODEL"`
	MaxTokens   int           `json:"maxTokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultConfig returns sensible defaults for all components.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "synod.db",
		},
		Kafka: KafkaConfig{
			Brokers:       "localhost:9092",
			ConsumerGroup: "synod",
		},
		Bus: BusConfig{
			DedupWindow:   1024,
			CatchUpWindow: 10 * time.Minute,
			CatchUpLimit:  500,
		},
		Health: HealthConfig{
			HeartbeatInterval:  30 * time.Second,
			StalenessThreshold: 90 * time.Second,
			PollInterval:       15 * time.Second,
		},
		Participation: ParticipationConfig{
			YesThreshold:  0.8,
			NoThreshold:   0.2,
			RetryAfter:    5 * time.Second,
			DedupWindow:   512,
			DeepEvTimeout: 30 * time.Second,
		},
		Decision: DecisionConfig{
			VoteTimeout:        5 * time.Minute,
			ConsensusThreshold: 0.6,
		},
		Workflow: WorkflowConfig{
			AllowedKinds:  []string{"budget_review", "incident_response", "hiring_pipeline", "quarterly_planning"},
			MaxStateBytes: 64 * 1024,
			MaxRetries:    3,
		},
		Reasoning: ReasoningConfig{
			APIBase:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   512,
			Temperature: 0.2,
			Timeout:     30 * time.Second,
		},
	}
}
