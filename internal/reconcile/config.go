package reconcile

import (
	"simjobs/internal/config"
	"time"
)

// Config holds reconciliation configuration.
type Config struct {
	SubmittedGracePeriod time.Duration // Submitted jobs untouched this long are re-published (default: 5m)
	RunningStaleAfter    time.Duration // Running jobs untouched this long are released for another attempt (default: 30m)
	Interval             time.Duration // Sweep period; 0 disables the periodic sweep
	BatchLimit           int           // Jobs examined per status per sweep (default: 100)
}

// LoadConfigFromEnv loads reconciliation configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		SubmittedGracePeriod: config.GetDurationEnv("SUBMITTED_GRACE_PERIOD", 5*time.Minute),
		RunningStaleAfter:    config.GetDurationEnv("RUNNING_STALE_AFTER", 30*time.Minute),
		Interval:             config.GetDurationEnv("RECONCILE_INTERVAL", time.Minute),
		BatchLimit:           config.GetIntEnv("RECONCILE_BATCH_LIMIT", 100),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.SubmittedGracePeriod <= 0 {
		c.SubmittedGracePeriod = 5 * time.Minute
	}
	if c.RunningStaleAfter <= 0 {
		c.RunningStaleAfter = 30 * time.Minute
	}
	if c.Interval < 0 {
		c.Interval = 0
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	return c
}
