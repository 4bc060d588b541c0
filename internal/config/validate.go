package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// Drivers lists the supported store drivers.
var Drivers = []string{"memory", "sqlite", "postgres", "mongo"}

// Validate checks the settings a command mode depends on. Modes: metrics,
// watch, serve, export, import, migrate.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch mode {
	case "metrics", "watch", "serve", "export", "import", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if !slices.Contains(Drivers, c.Store.Driver) {
		add("store.driver must be one of %s, got %q", strings.Join(Drivers, ", "), c.Store.Driver)
	}
	if (c.Store.Driver == "postgres" || c.Store.Driver == "mongo") && c.Store.DatabaseURL == "" {
		add("store.database_url is required for driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "mongo" && c.Store.Database == "" {
		add("store.database is required for driver mongo")
	}
	if c.Store.PollInterval <= 0 {
		add("store.poll_interval must be positive")
	}
	if c.Cache.TTL <= 0 {
		add("cache.ttl must be positive")
	}
	if c.Realtime.Debounce <= 0 {
		add("realtime.debounce must be positive")
	}
	if _, err := c.Location(); err != nil {
		add("plant.timezone %q is not a known time zone", c.Plant.Timezone)
	}
	if c.Plant.MonthlyTarget < 0 {
		add("plant.monthly_target must not be negative")
	}
	if c.Plant.WorkingDaysPerMonth < 1 || c.Plant.WorkingDaysPerMonth > 31 {
		add("plant.working_days_per_month must be between 1 and 31, got %d", c.Plant.WorkingDaysPerMonth)
	}

	switch mode {
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			add("server.port must be between 1 and 65535, got %d", c.Server.Port)
		}
		if c.Server.RefreshRPS <= 0 {
			add("server.refresh_rps must be positive")
		}
		if c.Server.RefreshBurst < 1 {
			add("server.refresh_burst must be at least 1")
		}
		if c.Monitoring.WebhookURL != "" {
			if c.Monitoring.CheckInterval <= 0 {
				add("monitoring.check_interval must be positive")
			}
			if c.Monitoring.AttainmentThreshold < 0 {
				add("monitoring.attainment_threshold must not be negative")
			}
			if c.Monitoring.MaxIssues < 0 {
				add("monitoring.max_issues must not be negative")
			}
		}
	case "watch":
		if c.Store.Driver == "memory" {
			add("watch needs a shared store; driver memory only sees its own process")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}
