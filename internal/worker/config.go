package worker

import (
	"simjobs/internal/config"
	"time"
)

const (
	defaultRetryLimit        = 3
	defaultComputeTimeout    = 20 * time.Minute
	defaultRetryDelay        = time.Second
	defaultDoneWriteAttempts = 5
)

// Config holds worker configuration.
type Config struct {
	RetryLimit        int           // failed attempts tolerated before Failed; 0 disables retries (default: 3)
	ComputeTimeout    time.Duration // default: 20m
	RetryDelay        time.Duration // pause before a retried or deferred message is requeued (default: 1s)
	DoneWriteAttempts int           // store attempts for the Done transition (default: 5)
}

// LoadConfigFromEnv loads worker configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		RetryLimit:        config.GetIntEnv("WORKER_RETRY_LIMIT", defaultRetryLimit),
		ComputeTimeout:    config.GetDurationEnv("COMPUTE_TIMEOUT", defaultComputeTimeout),
		RetryDelay:        config.GetDurationEnv("RETRY_DELAY", defaultRetryDelay),
		DoneWriteAttempts: config.GetIntEnv("WORKER_DONE_WRITE_ATTEMPTS", defaultDoneWriteAttempts),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.RetryLimit < 0 {
		c.RetryLimit = defaultRetryLimit
	}
	if c.ComputeTimeout <= 0 {
		c.ComputeTimeout = defaultComputeTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.DoneWriteAttempts <= 0 {
		c.DoneWriteAttempts = defaultDoneWriteAttempts
	}
	return c
}
