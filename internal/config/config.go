// Package config aggregates the per-component Config structs into one
// document a CLI entrypoint can load from a single YAML file. It is
// construction plumbing only: there is no reload or persistence surface
// here, matching the source's config.py being treated as an external
// collaborator rather than something this module re-implements.
package config

import (
	"os"
	"time"

	"github.com/ghodss/yaml"

	"github.com/ledgersync/replicator/internal/syncerr"
	"github.com/ledgersync/replicator/pkg/gatewayclient"
	"github.com/ledgersync/replicator/pkg/retrycircuit"
	"github.com/ledgersync/replicator/pkg/scheduler"
	"github.com/ledgersync/replicator/pkg/store"
	syncpkg "github.com/ledgersync/replicator/pkg/sync"
)

const component = "config"

// GatewayConfig addresses the Tally Gateway HTTP endpoint.
type GatewayConfig struct {
	Host    string        `json:"host"`
	Port    int           `json:"port"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

func (g GatewayConfig) toClientConfig() gatewayclient.Config {
	return gatewayclient.Config{Host: g.Host, Port: g.Port, Timeout: g.Timeout}
}

// StoreConfig addresses the embedded database file.
type StoreConfig struct {
	Path           string        `json:"path"`
	BusyTimeout    time.Duration `json:"busy_timeout,omitempty"`
	SchemaPath     string        `json:"schema_path,omitempty"`
	MinimumVersion string        `json:"minimum_version,omitempty"`
}

func (s StoreConfig) toStoreConfig() store.Config {
	return store.Config{
		Path:           s.Path,
		BusyTimeout:    s.BusyTimeout,
		SchemaPath:     s.SchemaPath,
		MinimumVersion: s.MinimumVersion,
	}
}

// RetryConfig is the retry policy and breaker threshold shared by every
// dependency; there is no per-dependency override.
type RetryConfig struct {
	MaxAttempts      int           `json:"max_attempts,omitempty"`
	InitialDelay     time.Duration `json:"initial_delay,omitempty"`
	Strategy         string        `json:"strategy,omitempty"` // "exponential" or "linear"
	Multiplier       float64       `json:"multiplier,omitempty"`
	Increment        time.Duration `json:"increment,omitempty"`
	MaxDelay         time.Duration `json:"max_delay,omitempty"`
	FailureThreshold uint32        `json:"failure_threshold,omitempty"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout,omitempty"`
	HalfOpenMaxCalls uint32        `json:"half_open_max_calls,omitempty"`
}

func (r RetryConfig) toRetryConfig() (retrycircuit.Config, error) {
	cfg := retrycircuit.DefaultConfig()
	if r.MaxAttempts != 0 {
		cfg.MaxAttempts = r.MaxAttempts
	}
	if r.InitialDelay != 0 {
		cfg.InitialDelay = r.InitialDelay
	}
	switch r.Strategy {
	case "", "exponential":
		cfg.Strategy = retrycircuit.StrategyExponential
	case "linear":
		cfg.Strategy = retrycircuit.StrategyLinear
	default:
		return retrycircuit.Config{}, syncerr.New(syncerr.KindConfig, component, "unknown retry strategy %q", r.Strategy)
	}
	if r.Multiplier != 0 {
		cfg.Multiplier = r.Multiplier
	}
	if r.Increment != 0 {
		cfg.Increment = r.Increment
	}
	if r.MaxDelay != 0 {
		cfg.MaxDelay = r.MaxDelay
	}
	if r.FailureThreshold != 0 {
		cfg.FailureThreshold = r.FailureThreshold
	}
	if r.RecoveryTimeout != 0 {
		cfg.RecoveryTimeout = r.RecoveryTimeout
	}
	if r.HalfOpenMaxCalls != 0 {
		cfg.HalfOpenMaxCalls = r.HalfOpenMaxCalls
	}
	return cfg, nil
}

// SchedulerConfig mirrors scheduler.Config for YAML decoding.
type SchedulerConfig struct {
	Enabled    bool     `json:"enabled"`
	Kind       string   `json:"kind,omitempty"` // "full" or "incremental"
	TimeOfDay  string   `json:"time_of_day,omitempty"`
	DaysOfWeek []string `json:"days_of_week,omitempty"`
}

func (s SchedulerConfig) toSchedulerConfig() scheduler.Config {
	kind := syncpkg.KindIncremental
	if s.Kind == string(syncpkg.KindFull) {
		kind = syncpkg.KindFull
	}
	return scheduler.Config{
		Enabled:    s.Enabled,
		Kind:       kind,
		TimeOfDay:  s.TimeOfDay,
		DaysOfWeek: s.DaysOfWeek,
	}
}

// SyncConfig carries the paths and flags the Synchronizer needs that
// aren't owned by any one collaborator's own Config type.
type SyncConfig struct {
	TableSpecPath    string   `json:"table_spec_path"`
	RecoverStatePath string   `json:"recover_state_path,omitempty"`
	ParallelFetch    bool     `json:"parallel_fetch,omitempty"`
	Companies        []string `json:"companies,omitempty"`
}

// Config is the root document loaded from a single YAML file.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Store     StoreConfig     `json:"store"`
	Retry     RetryConfig     `json:"retry,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Sync      SyncConfig      `json:"sync"`
}

// Load reads and decodes a Config from a YAML file at path. It is the
// only place in this module that turns a file on disk into a Config;
// everything downstream of it takes its Config structs by value.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, syncerr.Wrap(syncerr.KindConfig, component, err, "reading config file %s", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, syncerr.Wrap(syncerr.KindConfig, component, err, "parsing config file %s", path)
	}
	if cfg.Gateway.Host == "" {
		return Config{}, syncerr.New(syncerr.KindConfig, component, "gateway.host is required")
	}
	if cfg.Store.Path == "" {
		return Config{}, syncerr.New(syncerr.KindConfig, component, "store.path is required")
	}
	if cfg.Sync.TableSpecPath == "" {
		return Config{}, syncerr.New(syncerr.KindConfig, component, "sync.table_spec_path is required")
	}
	return cfg, nil
}

// GatewayClientConfig returns the gatewayclient.Config this document
// describes.
func (c Config) GatewayClientConfig() gatewayclient.Config {
	return c.Gateway.toClientConfig()
}

// StoreOpenConfig returns the store.Config this document describes.
func (c Config) StoreOpenConfig() store.Config {
	return c.Store.toStoreConfig()
}

// RetryCircuitConfig returns the retrycircuit.Config this document
// describes, applied over retrycircuit.DefaultConfig() so an omitted
// field in the file keeps its documented default.
func (c Config) RetryCircuitConfig() (retrycircuit.Config, error) {
	return c.Retry.toRetryConfig()
}

// SchedulerTriggerConfig returns the scheduler.Config this document describes.
func (c Config) SchedulerTriggerConfig() scheduler.Config {
	return c.Scheduler.toSchedulerConfig()
}
