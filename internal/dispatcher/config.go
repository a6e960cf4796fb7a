package dispatcher

import (
	"simjobs/internal/config"
)

const defaultMaxBatchSize = 1000

// Config holds dispatcher configuration.
type Config struct {
	MaxBatchSize int // largest accepted batch (default: 1000)
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		MaxBatchSize: config.GetIntEnv("MAX_BATCH_SIZE", defaultMaxBatchSize),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	return c
}
