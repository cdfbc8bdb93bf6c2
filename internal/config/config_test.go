package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narci/internal/core"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.MaxParallel)
	assert.Equal(t, 30*time.Minute, cfg.StepTimeout.D())
	assert.Equal(t, "https://cache.nixos.org", cfg.Cache.URL)

	keys, err := cfg.TrustedKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "cache.nixos.org-1", keys[0].Name)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narci.yaml")
	writeFile(t, path, `
workflow: .github/workflows/ci.yml
max_parallel: 2
step_timeout: 90s
actions:
  actions/setup-go: skip
  codespell-project/actions-codespell: codespell .
cache:
  url: http://cache.local
  public_keys: []
  negative_ttl: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ".github/workflows/ci.yml", cfg.Workflow)
	assert.Equal(t, 2, cfg.MaxParallel)
	assert.Equal(t, 90*time.Second, cfg.StepTimeout.D())
	assert.Equal(t, "http://cache.local", cfg.Cache.URL)
	assert.Empty(t, cfg.Cache.PublicKeys)
	assert.Equal(t, 5*time.Second, cfg.Cache.NegativeTTL.D())
	assert.Equal(t, time.Hour, cfg.Cache.TTL.D(), "unset keys keep their default")

	reg := cfg.ActionRegistry()
	a, err := reg.Resolve("actions/setup-go@v5")
	require.NoError(t, err)
	assert.True(t, a.Skip)

	a, err = reg.Resolve("codespell-project/actions-codespell@v2")
	require.NoError(t, err)
	assert.Equal(t, "codespell .", a.Run)

	_, err = reg.Resolve("actions/checkout@v4")
	assert.NoError(t, err, "built-in handlers stay registered")
}

func TestLoadMissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Ledger, cfg.Ledger)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narci.yaml")
	writeFile(t, path, "max_paralel: 3\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "max_paralel")
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narci.yaml")
	writeFile(t, path, "step_timeout: forever\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"NARCI_MAX_PARALLEL":       "8",
		"NARCI_STEP_TIMEOUT":       "2m",
		"NARCI_LEDGER":             "/var/lib/narci/ledger.jsonl",
		"NARCI_CACHE_PUBLIC_KEYS":  "a-1:6NCHdD59X431o0gWypbMrAURkbJ16ZPMQFGspcDShjY= b-1:6NCHdD59X431o0gWypbMrAURkbJ16ZPMQFGspcDShjY=",
		"NARCI_LEDGER_KEYS":        "agent-1:6NCHdD59X431o0gWypbMrAURkbJ16ZPMQFGspcDShjY=",
		"NARCI_EVENT_RATE":         "0",
		"NARCI_CACHE_TTL":          "10m",
		"NARCI_CACHE_NEGATIVE_TTL": "5s",
		"NARCI_REDIS_DB":           "3",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))

	assert.Equal(t, 8, cfg.MaxParallel)
	assert.Equal(t, 2*time.Minute, cfg.StepTimeout.D())
	assert.Equal(t, "/var/lib/narci/ledger.jsonl", cfg.Ledger)
	assert.Len(t, cfg.Cache.PublicKeys, 2)
	assert.Len(t, cfg.LedgerKeys, 1)
	assert.Equal(t, 0, cfg.EventRate)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL.D())
	assert.Equal(t, 5*time.Second, cfg.Cache.NegativeTTL.D())
	assert.Equal(t, 3, cfg.Cache.RedisDB)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrideInvalid(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"NARCI_MAX_PARALLEL": "lots",
		"NARCI_CACHE_TTL":    "forever",
		"NARCI_REDIS_DB":     "one",
	}
	err := cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	for key := range env {
		assert.ErrorContains(t, err, key)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.MaxParallel = -1
	cfg.Ledger = ""
	cfg.Cache.PublicKeys = []string{"no-colon"}
	cfg.Actions = map[string]string{"foo/bar": "  "}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"max_parallel", "ledger is required", "no-colon", "foo/bar"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestLoadWorkflowDefault(t *testing.T) {
	wf, err := LoadWorkflow("")
	require.NoError(t, err)
	assert.Equal(t, core.DefaultWorkflow().Name, wf.Name)
}

func TestLoadWorkflowInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ci.yml")
	writeFile(t, path, "name: broken\non: push\njobs: {}\n")

	_, err := LoadWorkflow(path)
	assert.ErrorIs(t, err, core.ErrInvalidWorkflow)
}
