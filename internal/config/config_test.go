package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const yamlConfig = `
log_level: debug
engine:
  workers: 3
  rule_timeout: 30s
preferences:
  bufferlost.warning.limit: 5
  error.window.size: 2m
rules:
  disabled: [HighJvmCpu]
  definitions:
    - id: ThreadStarts
      inputs:
        n: {type: jdk.ThreadStart, aggregate: count}
      metric: n
      limit: 100
      summary: "{n} threads were started."
report:
  min_severity: info
`

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "flightcheck.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.Equal(t, 30*time.Second, cfg.Engine.RuleTimeout)
	assert.Equal(t, []string{"HighJvmCpu"}, cfg.Selection().Disabled)
	assert.Equal(t, 5, cfg.RulePreferences()["bufferlost.warning.limit"])
	assert.Equal(t, "2m", cfg.RulePreferences()["error.window.size"])
	assert.Equal(t, 100, cfg.History.StoreLimit)

	defs, err := cfg.LoadDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "ThreadStarts", defs[0].ID)
}

func TestLoadJSON(t *testing.T) {
	cfg, err := Load(writeConfig(t, "flightcheck.json", `{"api": {"enabled": false}, "source": {"timezone": "Europe/Berlin"}}`))
	require.NoError(t, err)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"workers":     "engine:\n  workers: -1\n",
		"timezone":    "source:\n  timezone: Mars/Olympus\n",
		"kafka":       "source:\n  kafka:\n    enabled: true\n",
		"driver":      "storage:\n  enabled: true\n  driver: mysql\n",
		"min":         "report:\n  min_severity: na\n",
		"nats":        "sinks:\n  nats:\n    enabled: true\n    url: \"\"\n",
		"definitions": "rules:\n  definitions:\n    - id: x\n",
		"spool":       "source:\n  spool:\n    enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "c.yaml", body))
			assert.Error(t, err)
		})
	}
}

func TestManagerReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "c.yaml", "log_level: info\n")
	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, "info", m.Get().LogLevel)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))
	require.NoError(t, os.Chtimes(path, future, future))

	needs, err := m.NeedsReload()
	require.NoError(t, err)
	require.True(t, needs)
	cfg, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)

	needs, err = m.NeedsReload()
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	cfg := DefaultConfig()
	cfg.Engine.Workers = 7
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Engine.Workers)
}

func TestStaticManager(t *testing.T) {
	m := Static(nil)
	assert.Equal(t, "info", m.Get().LogLevel)
	needs, err := m.NeedsReload()
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestSpoolDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "c.yaml", "source:\n  spool:\n    enabled: true\n    dir: /var/spool/flightcheck\n"))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Source.Spool.Interval)
	assert.Equal(t, "/var/spool/flightcheck/done", cfg.Source.Spool.Done)
	assert.Equal(t, "/var/spool/flightcheck/failed", cfg.Source.Spool.Failed)
}
