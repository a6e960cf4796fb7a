// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds process-level settings shared by the jobs service and the worker.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	AdminAPIKey       string        // Guards operator endpoints; empty disables them
	JWTSecret         string        // HS256 signing key for user tokens
	QueueBackend      string        // "amqp" or "memory"
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	ShutdownTimeout   time.Duration // Upper bound for in-flight requests and jobs to finish
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		AdminAPIKey:       GetSecret("ADMIN_API_KEY", "ADMIN_API_KEY_FILE"),
		JWTSecret:         GetSecret("JWT_SECRET", "JWT_SECRET_FILE"),
		QueueBackend:      GetEnv("QUEUE_BACKEND", "amqp"),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		ShutdownTimeout:   GetDurationEnv("SHUTDOWN_TIMEOUT", 25*time.Second),
	}
}
