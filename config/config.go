// Package config defines this service's on-disk configuration: queue depth,
// whether the task manager actually drains its queue, per-accessor engine
// pool sizes, and which metrics backend to report through. It follows the
// teacher's server/config.go pattern of a tagged struct plus a NewConfig
// defaulting constructor.
package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml"
)

// Duration is a TOML wrapper type for time.Duration.
type Duration time.Duration

// String returns the string representation of the duration.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText parses a TOML value into a duration value.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes duration value in text format.
func (d Duration) MarshalText() (text []byte, err error) {
	return []byte(d.String()), nil
}

// MarshalTOML write duration into valid TOML.
func (d Duration) MarshalTOML() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the root configuration struct, unmarshalled from a TOML file.
type Config struct {
	// QueueDepth bounds the manager's FIFO between producers and its
	// single consumer goroutine.
	QueueDepth int `toml:"queue-depth"`

	// TaskManager controls whether the consumer goroutine runs at all;
	// disabling it is only useful for tooling that wants to inspect a
	// queue of flushed tasks without draining them.
	TaskManager struct {
		Enabled bool `toml:"enabled"`
	} `toml:"task_manager"`

	// Sync.Timeout bounds how long Manager.Sync waits for the sync barrier
	// to drain. PollInterval is part of the file format, but nothing in
	// this module reads it.
	Sync struct {
		Timeout      Duration `toml:"timeout"`
		PollInterval Duration `toml:"poll-interval"`
	} `toml:"sync"`

	// Engine lists worker-pool sizes. PoolSize looks up an accessor in
	// PoolSizes and falls back to DefaultPoolSize. The service builds its
	// dispatcher from DefaultPoolSize alone, so every accessor's pool gets
	// that size; PoolSizes entries are not applied to it.
	Engine struct {
		DefaultPoolSize int            `toml:"default-pool-size"`
		PoolSizes       map[string]int `toml:"pool-sizes"`
	} `toml:"engine"`

	// Metric configures which backend observes the manager and engine's
	// counters.
	Metric struct {
		// Service can be statsd, prometheus, or none; any other value
		// reports nothing, the same as none.
		Service      string   `toml:"service"`
		Host         string   `toml:"host"`
		Namespace    string   `toml:"namespace"`
		PollInterval Duration `toml:"poll-interval"`
	} `toml:"metric"`

	// Debug.Registry turns on the manager's live-task registry (used by
	// Manager.Dump). LogRing is not read anywhere; every task keeps its
	// bounded log ring regardless.
	Debug struct {
		Registry bool `toml:"registry"`
		LogRing  bool `toml:"log-ring"`
	} `toml:"debug"`
}

// NewConfig returns a Config populated with the defaults this service ships
// with, mirroring server.NewConfig's pattern of assigning zero-value-
// shadowing fields explicitly so every default is visible in one place.
func NewConfig() *Config {
	c := &Config{
		QueueDepth: 256,
	}
	c.TaskManager.Enabled = true

	c.Sync.Timeout = Duration(30 * time.Second)
	c.Sync.PollInterval = Duration(10 * time.Millisecond)

	c.Engine.DefaultPoolSize = 4
	c.Engine.PoolSizes = map[string]int{}

	c.Metric.Service = "none"
	c.Metric.Namespace = "taskgraph"
	c.Metric.PollInterval = Duration(10 * time.Second)

	c.Debug.Registry = false
	c.Debug.LogRing = false

	return c
}

// Load reads and unmarshals a TOML config file at path into a Config seeded
// with NewConfig's defaults, so a config file only needs to list the
// fields it overrides.
func Load(path string) (*Config, error) {
	c := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Marshal round-trips c back into TOML text, used by the CLI's config
// subcommand to print the effective configuration.
func Marshal(c *Config) ([]byte, error) {
	return toml.Marshal(*c)
}

// PoolSize returns the configured worker-pool size for accessor, falling
// back to Engine.DefaultPoolSize if accessor has no specific entry.
func (c *Config) PoolSize(accessor string) int {
	if n, ok := c.Engine.PoolSizes[accessor]; ok {
		return n
	}
	return c.Engine.DefaultPoolSize
}
