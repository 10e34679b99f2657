package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type NATSConfig struct {
	URL              string `mapstructure:"url"`
	DeliverySubject  string `mapstructure:"delivery_subject"`
	OutcomeSubject   string `mapstructure:"outcome_subject"`
	AggregateSubject string `mapstructure:"aggregate_subject"`
	QueueGroup       string `mapstructure:"queue_group"`
}

type MembershipConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PipelineConfig struct {
	// BatchSize is clamped to the store's 100-row batch-write limit.
	BatchSize          int           `mapstructure:"batch_size"`
	MaxParallelBatches int           `mapstructure:"max_parallel_batches"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	SendRatePerSec     int           `mapstructure:"send_rate_per_sec"`
	// AggregationDelay is how long after dispatch the safety-net trigger fires.
	AggregationDelay time.Duration `mapstructure:"aggregation_delay"`
	// CompletionDeadline is the maximum time a send may wait for outcomes
	// before the sweeper forces completion.
	CompletionDeadline time.Duration `mapstructure:"completion_deadline"`
	MaxDiagnosticLen   int           `mapstructure:"max_diagnostic_len"`
}

type SweeperConfig struct {
	// Schedule is a cron expression; every minute when empty.
	Schedule string `mapstructure:"schedule"`
}

type Config struct {
	DatabaseURL string           `mapstructure:"database_url"`
	ServerPort  string           `mapstructure:"server_port"`
	NATS        NATSConfig       `mapstructure:"nats"`
	Membership  MembershipConfig `mapstructure:"membership"`
	Pipeline    PipelineConfig   `mapstructure:"pipeline"`
	Sweeper     SweeperConfig    `mapstructure:"sweeper"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	applyDefaults(&config)

	if config.DatabaseURL == "" {
		log.Fatal("database_url must be set in the config file")
	}

	return &config
}

func applyDefaults(c *Config) {
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.DeliverySubject == "" {
		c.NATS.DeliverySubject = "broadcast.delivery"
	}
	if c.NATS.OutcomeSubject == "" {
		c.NATS.OutcomeSubject = "broadcast.outcome"
	}
	if c.NATS.AggregateSubject == "" {
		c.NATS.AggregateSubject = "broadcast.aggregate"
	}
	if c.NATS.QueueGroup == "" {
		c.NATS.QueueGroup = "broadcast-api"
	}
	if c.Membership.Timeout <= 0 {
		c.Membership.Timeout = 30 * time.Second
	}
	if c.Pipeline.BatchSize <= 0 || c.Pipeline.BatchSize > 100 {
		c.Pipeline.BatchSize = 100
	}
	if c.Pipeline.MaxParallelBatches <= 0 {
		c.Pipeline.MaxParallelBatches = 4
	}
	if c.Pipeline.RetryAttempts <= 0 {
		c.Pipeline.RetryAttempts = 3
	}
	if c.Pipeline.RetryBackoff <= 0 {
		c.Pipeline.RetryBackoff = 2 * time.Second
	}
	if c.Pipeline.SendRatePerSec <= 0 {
		c.Pipeline.SendRatePerSec = 200
	}
	if c.Pipeline.AggregationDelay <= 0 {
		c.Pipeline.AggregationDelay = 30 * time.Second
	}
	if c.Pipeline.CompletionDeadline <= 0 {
		c.Pipeline.CompletionDeadline = 10 * time.Minute
	}
	if c.Pipeline.MaxDiagnosticLen <= 0 {
		c.Pipeline.MaxDiagnosticLen = 4096
	}
	if c.Sweeper.Schedule == "" {
		c.Sweeper.Schedule = "* * * * *"
	}
}
