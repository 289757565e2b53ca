package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays BB_* environment variables onto cfg. Unparseable values
// are ignored; Validate catches anything that matters afterwards.
func FromEnv(cfg *Config) {
	if v := os.Getenv("BB_CYCLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CycleInterval = d
		}
	}
	if v := os.Getenv("BB_LOOKBACK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lookback = d
		}
	}
	if v := os.Getenv("BB_STALENESS"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Staleness = d
		}
	}
	if v := os.Getenv("BB_PROXY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Proxy.Enabled = b
		}
	}
	if v := os.Getenv("BB_PROXY_HOST"); v != "" {
		cfg.Proxy.Host = v
	}
	if v := os.Getenv("BB_PROXY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Proxy.Port = n
		}
	}
	if v := os.Getenv("BB_REQUEST_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RequestLimit = n
		}
	}
	if v := os.Getenv("BB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("BB_TASKS_PER_WORKER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TasksPerWorker = n
		}
	}
	if v := os.Getenv("BB_FILTER_KINDS"); v != "" {
		var kinds []int
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if n, err := strconv.Atoi(p); err == nil {
				kinds = append(kinds, n)
			}
		}
		cfg.Filter.Kinds = kinds
	}
	if v := os.Getenv("BB_FILTER_AUTHORS"); v != "" {
		cfg.Filter.Authors = splitList(v)
	}
	if v := os.Getenv("BB_FILTER_TAGS"); v != "" {
		cfg.Filter.Tags = splitList(v)
	}
	if v := os.Getenv("BB_PG_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("BB_PG_SCHEMA"); v != "" {
		cfg.Storage.Schema = v
	}
	if v := os.Getenv("BB_PG_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.MaxConns = n
		}
	}
	if v := os.Getenv("BB_OPS_ADDR"); v != "" {
		cfg.OpsAddr = v
	}
	if v := os.Getenv("BB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BB_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("BB_MAINTENANCE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Maintenance = b
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
