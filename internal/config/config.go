package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportClass selects how a relay is dialed.
type TransportClass string

// Transport classes
const (
	TransportDirect  TransportClass = "direct"
	TransportProxied TransportClass = "proxied"
)

// TimeoutTier is one request/total timeout pair. Proxied relays get a longer
// tier than direct ones.
type TimeoutTier struct {
	Request time.Duration `yaml:"request"`
	Total   time.Duration `yaml:"total"`
}

// EndpointOverride adjusts transport or timeouts for a single relay URL.
// Overrides win over the tier defaults.
type EndpointOverride struct {
	Transport TransportClass `yaml:"transport,omitempty"`
	Request   time.Duration  `yaml:"request,omitempty"`
	Total     time.Duration  `yaml:"total,omitempty"`
}

// Proxy configures the SOCKS5 proxy used for hidden-network relays.
type Proxy struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Filter restricts which events are requested from relays.
type Filter struct {
	Kinds   []int    `yaml:"kinds,omitempty"`
	Authors []string `yaml:"authors,omitempty"`
	Tags    []string `yaml:"tags,omitempty"`
}

// Storage configures the Postgres sink.
type Storage struct {
	DSN          string        `yaml:"dsn"`
	Schema       string        `yaml:"schema"`
	MaxConns     int           `yaml:"maxConns"`
	BatchSize    int           `yaml:"batchSize"`
	RetryMax     int           `yaml:"retryMax"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
}

// Config is the top-level configuration loaded from file/env.
type Config struct {
	CycleInterval    time.Duration               `yaml:"cycleInterval"`
	Lookback         time.Duration               `yaml:"lookback"`
	Staleness        time.Duration               `yaml:"staleness"`
	Proxy            Proxy                       `yaml:"proxy"`
	OnionSuffix      string                      `yaml:"onionSuffix"`
	DirectTier       TimeoutTier                 `yaml:"directTier"`
	ProxiedTier      TimeoutTier                 `yaml:"proxiedTier"`
	Overrides        map[string]EndpointOverride `yaml:"overrides,omitempty"`
	Filter           Filter                      `yaml:"filter"`
	RequestLimit     int                         `yaml:"requestLimit"`
	MinWindowSeconds int64                       `yaml:"minWindowSeconds"`
	Workers          int                         `yaml:"workers"`          // P
	TasksPerWorker   int                         `yaml:"tasksPerWorker"`   // M
	StaggerMax       time.Duration               `yaml:"staggerMax"`       // per-task startup jitter bound
	DialRate         float64                     `yaml:"dialRate"`         // dials/second across the population
	ResultQueueSize  int                         `yaml:"resultQueueSize"`  // bounded in-flight results
	ShutdownGrace    time.Duration               `yaml:"shutdownGrace"`    // in-flight task grace on shutdown
	Storage          Storage                     `yaml:"storage"`
	Maintenance      bool                        `yaml:"maintenance"`
	OpsAddr          string                      `yaml:"opsAddr"`
	LogLevel         string                      `yaml:"logLevel"`
	LogFormat        string                      `yaml:"logFormat"`
}

// MinCycleInterval is the floor enforced on CycleInterval.
const MinCycleInterval = 60 * time.Second

// Default returns built-in defaults.
func Default() Config {
	return Config{
		CycleInterval:    5 * time.Minute,
		Lookback:         24 * time.Hour,
		Staleness:        time.Hour,
		OnionSuffix:      ".onion",
		Proxy:            Proxy{Host: "127.0.0.1", Port: 9050},
		DirectTier:       TimeoutTier{Request: 20 * time.Second, Total: 10 * time.Minute},
		ProxiedTier:      TimeoutTier{Request: 60 * time.Second, Total: 20 * time.Minute},
		RequestLimit:     500,
		MinWindowSeconds: 1,
		Workers:          4,
		TasksPerWorker:   25,
		StaggerMax:       5 * time.Second,
		DialRate:         50,
		ResultQueueSize:  64,
		ShutdownGrace:    30 * time.Second,
		Storage: Storage{
			Schema:       "public",
			MaxConns:     8,
			BatchSize:    200,
			RetryMax:     5,
			RetryBackoff: 250 * time.Millisecond,
		},
		OpsAddr:   ":9420",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a YAML file. If path is empty, returns
// defaults. Environment overlay and validation are the caller's next steps.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate range-checks the configuration. Any violation is fatal at startup.
func (c Config) Validate() error {
	if c.CycleInterval < MinCycleInterval {
		return fmt.Errorf("cycleInterval %s below floor %s", c.CycleInterval, MinCycleInterval)
	}
	if c.Lookback <= 0 {
		return fmt.Errorf("lookback must be positive, got %s", c.Lookback)
	}
	if c.Staleness <= 0 {
		return fmt.Errorf("staleness must be positive, got %s", c.Staleness)
	}
	if c.RequestLimit <= 0 {
		return fmt.Errorf("requestLimit must be positive, got %d", c.RequestLimit)
	}
	if c.MinWindowSeconds < 1 {
		return fmt.Errorf("minWindowSeconds must be >= 1, got %d", c.MinWindowSeconds)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.TasksPerWorker <= 0 {
		return fmt.Errorf("tasksPerWorker must be positive, got %d", c.TasksPerWorker)
	}
	if c.DialRate <= 0 {
		return fmt.Errorf("dialRate must be positive, got %v", c.DialRate)
	}
	if c.ResultQueueSize <= 0 {
		return fmt.Errorf("resultQueueSize must be positive, got %d", c.ResultQueueSize)
	}
	if c.StaggerMax < 0 {
		return fmt.Errorf("staggerMax must be non-negative, got %s", c.StaggerMax)
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdownGrace must be positive, got %s", c.ShutdownGrace)
	}
	if err := validateTier("directTier", c.DirectTier); err != nil {
		return err
	}
	if err := validateTier("proxiedTier", c.ProxiedTier); err != nil {
		return err
	}
	if c.Proxy.Enabled {
		if c.Proxy.Host == "" {
			return fmt.Errorf("proxy enabled but host empty")
		}
		if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
			return fmt.Errorf("proxy port %d out of range", c.Proxy.Port)
		}
	}
	if !strings.HasPrefix(c.OnionSuffix, ".") {
		return fmt.Errorf("onionSuffix %q must start with a dot", c.OnionSuffix)
	}
	for url, ov := range c.Overrides {
		if ov.Transport != "" && ov.Transport != TransportDirect && ov.Transport != TransportProxied {
			return fmt.Errorf("override for %s: unknown transport %q", url, ov.Transport)
		}
		if ov.Request < 0 || ov.Total < 0 {
			return fmt.Errorf("override for %s: negative timeout", url)
		}
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if c.Storage.MaxConns <= 0 {
		return fmt.Errorf("storage.maxConns must be positive, got %d", c.Storage.MaxConns)
	}
	if c.Storage.BatchSize <= 0 {
		return fmt.Errorf("storage.batchSize must be positive, got %d", c.Storage.BatchSize)
	}
	if c.Storage.RetryMax < 0 {
		return fmt.Errorf("storage.retryMax must be non-negative, got %d", c.Storage.RetryMax)
	}
	if c.Storage.RetryBackoff <= 0 {
		return fmt.Errorf("storage.retryBackoff must be positive, got %s", c.Storage.RetryBackoff)
	}
	for _, k := range c.Filter.Kinds {
		if k < 0 {
			return fmt.Errorf("filter kind %d is negative", k)
		}
	}
	return nil
}

func validateTier(name string, t TimeoutTier) error {
	if t.Request <= 0 {
		return fmt.Errorf("%s.request must be positive, got %s", name, t.Request)
	}
	if t.Total < t.Request {
		return fmt.Errorf("%s.total %s shorter than request timeout %s", name, t.Total, t.Request)
	}
	return nil
}
