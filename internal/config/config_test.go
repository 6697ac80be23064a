package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/replicator/pkg/retrycircuit"
	syncpkg "github.com/ledgersync/replicator/pkg/sync"
)

const sampleYAML = `
gateway:
  host: 127.0.0.1
  port: 9000
  timeout: 45s
store:
  path: ./data/replicator.db
  minimum_version: "1.0"
retry:
  max_attempts: 5
  strategy: linear
scheduler:
  enabled: true
  kind: full
  time_of_day: "02:30"
  days_of_week: ["sun"]
sync:
  table_spec_path: ./config/tablespec.yaml
  parallel_fetch: true
  companies: ["Acme Traders"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPopulatesEveryComponentConfig(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Gateway.Host)
	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, 45*time.Second, cfg.Gateway.Timeout)

	assert.Equal(t, "./data/replicator.db", cfg.Store.Path)
	assert.Equal(t, "1.0", cfg.Store.MinimumVersion)

	retryCfg, err := cfg.RetryCircuitConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, retryCfg.MaxAttempts)
	assert.Equal(t, retrycircuit.StrategyLinear, retryCfg.Strategy)
	// Unset fields keep DefaultConfig()'s values.
	assert.Equal(t, 30*time.Second, retryCfg.RecoveryTimeout)

	schedCfg := cfg.SchedulerTriggerConfig()
	assert.True(t, schedCfg.Enabled)
	assert.Equal(t, syncpkg.KindFull, schedCfg.Kind)
	assert.Equal(t, []string{"sun"}, schedCfg.DaysOfWeek)

	assert.True(t, cfg.Sync.ParallelFetch)
	assert.Equal(t, []string{"Acme Traders"}, cfg.Sync.Companies)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, "gateway:\n  host: \"\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownRetryStrategy(t *testing.T) {
	path := writeConfig(t, `
gateway:
  host: 127.0.0.1
  port: 9000
store:
  path: ./data/replicator.db
retry:
  strategy: quadratic
sync:
  table_spec_path: ./config/tablespec.yaml
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	_, err = cfg.RetryCircuitConfig()
	require.Error(t, err)
}

func TestSchedulerConfigDefaultsToIncrementalKind(t *testing.T) {
	sc := SchedulerConfig{Enabled: true, TimeOfDay: "09:00", DaysOfWeek: []string{"mon"}}
	assert.Equal(t, syncpkg.KindIncremental, sc.toSchedulerConfig().Kind)
}
