package config

import (
	"fmt"
	"strings"
)

// validEnvironments are the accepted app.environment values
var validEnvironments = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
}

// Validate checks the configuration for internal consistency. It collects
// every problem rather than stopping at the first so a bad deploy surfaces
// all its mistakes at once.
func (c *Config) Validate() error {
	var problems []string

	if c.App.Name == "" {
		problems = append(problems, "app.name is required")
	}
	if !validEnvironments[c.App.Environment] {
		problems = append(problems, fmt.Sprintf("app.environment %q must be development, staging, or production", c.App.Environment))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Monitoring.EnableMetrics {
		if c.Monitoring.PrometheusPort <= 0 || c.Monitoring.PrometheusPort > 65535 {
			problems = append(problems, fmt.Sprintf("monitoring.prometheus_port %d out of range", c.Monitoring.PrometheusPort))
		}
		if c.Monitoring.PrometheusPort == c.Server.Port {
			problems = append(problems, "monitoring.prometheus_port conflicts with server.port")
		}
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			problems = append(problems, "database.host is required when database is enabled")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			problems = append(problems, fmt.Sprintf("database.port %d out of range", c.Database.Port))
		}
		if c.Database.Database == "" {
			problems = append(problems, "database.database is required when database is enabled")
		}
		if c.Database.PoolSize <= 0 {
			problems = append(problems, "database.pool_size must be positive")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Host == "" {
			problems = append(problems, "redis.host is required when redis is enabled")
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			problems = append(problems, fmt.Sprintf("redis.port %d out of range", c.Redis.Port))
		}
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		problems = append(problems, "nats.url is required when nats is enabled")
	}

	if c.Engine.Alpha <= 0 || c.Engine.Alpha >= 1 {
		problems = append(problems, fmt.Sprintf("engine.alpha %v must be in (0,1)", c.Engine.Alpha))
	}
	if c.Engine.BayesianDraws < 0 {
		problems = append(problems, "engine.bayesian_draws must not be negative")
	}
	if c.Engine.SequentialStages < 0 {
		problems = append(problems, "engine.sequential_stages must not be negative")
	}
	if c.Engine.MonitorInterval < 0 {
		problems = append(problems, "engine.monitor_interval must not be negative")
	}

	if c.Vault.Enabled && c.Vault.Address == "" {
		problems = append(problems, "vault.address is required when vault is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
