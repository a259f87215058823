package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"outbound-relay/internal/domain/provider"
)

// RoutingTable holds the ordered job-type priorities and per-provider daily
// quota limits. It is static configuration: loaded once at startup, never
// mutated by the core.
type RoutingTable struct {
	// Priorities maps each job type to its provider priority order.
	Priorities map[provider.JobType][]provider.ID `yaml:"priorities"`

	// DailyLimits maps each provider to its daily quota in units
	// (emails sent or bytes processed).
	DailyLimits map[provider.ID]int64 `yaml:"daily_limits"`
}

// DefaultRoutingTable returns the built-in routing table used when no YAML
// file is configured.
func DefaultRoutingTable() RoutingTable {
	return RoutingTable{
		Priorities: map[provider.JobType][]provider.ID{
			provider.JobAuth:          {provider.SendGrid, provider.SES, provider.Mailgun},
			provider.JobTransactional: {provider.SES, provider.SendGrid, provider.Mailgun},
			provider.JobMarketing:     {provider.Mailgun, provider.SendGrid, provider.SES},
		},
		DailyLimits: map[provider.ID]int64{
			provider.SendGrid: 100,
			provider.Mailgun:  300,
			provider.SES:      200,
			// Compression quotas are byte budgets.
			provider.TinyPNG: 500 << 20,
			provider.Kraken:  100 << 20,
		},
	}
}

// LoadRoutingTable reads the routing table from the file named by the
// ROUTING_CONFIG_PATH environment variable, or returns the defaults when it
// is unset. A configured-but-broken file is an error: silently routing with
// defaults the operator did not ask for would be worse than failing startup.
func LoadRoutingTable() (RoutingTable, error) {
	path := os.Getenv("ROUTING_CONFIG_PATH")
	if path == "" {
		return DefaultRoutingTable(), nil
	}
	return loadRoutingTableFile(path)
}

func loadRoutingTableFile(path string) (RoutingTable, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return RoutingTable{}, fmt.Errorf("routing config: %w", err)
	}

	var table RoutingTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return RoutingTable{}, fmt.Errorf("routing config: parse %s: %w", path, err)
	}
	if err := table.validate(); err != nil {
		return RoutingTable{}, fmt.Errorf("routing config: %s: %w", path, err)
	}
	return table, nil
}

func (t RoutingTable) validate() error {
	if len(t.Priorities) == 0 {
		return fmt.Errorf("no job-type priorities defined")
	}
	for jobType, providers := range t.Priorities {
		if _, ok := provider.ParseJobType(string(jobType)); !ok {
			return fmt.Errorf("unknown job type %q", jobType)
		}
		if len(providers) == 0 {
			return fmt.Errorf("job type %q has an empty priority list", jobType)
		}
		for _, id := range providers {
			if _, ok := t.DailyLimits[id]; !ok {
				return fmt.Errorf("provider %q listed for %q has no daily limit", id, jobType)
			}
		}
	}
	return nil
}
