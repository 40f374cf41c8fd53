package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2000, cfg.Run.Population)
	assert.Equal(t, 200, cfg.Run.SelectionPerTournament)
	assert.InDelta(t, 0.94, cfg.Run.CrossoverProbability, 1e-12)
	assert.InDelta(t, 0.04, cfg.Run.MutationProbability, 1e-12)
}

func TestLoadConfigMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genmux.yaml")
	yamlDoc := `
store: sqlite
db_path: runs.db
log_level: debug
run:
  target: mux11
  population: 400
  selection_per_tournament: 40
  seed: 7
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))
	t.Setenv("GENMUX_SEED", "11")
	t.Setenv("GENMUX_MUTATION_PROBABILITY", "0.05")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, "runs.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "mux11", cfg.Run.Target)
	assert.Equal(t, 400, cfg.Run.Population)
	assert.Equal(t, 40, cfg.Run.SelectionPerTournament)
	assert.Equal(t, int64(11), cfg.Run.Seed)
	assert.InDelta(t, 0.05, cfg.Run.MutationProbability, 1e-12)
	assert.Equal(t, 9, cfg.Run.MaximumDepth)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigJSONFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genmux.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"run": {"target": "majority16", "workers": 4}}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "majority16", cfg.Run.Target)
	assert.Equal(t, 4, cfg.Run.Workers)
}

func TestLoadConfigRejectsMalformedInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run: [unterminated"), 0o644))
	_, err := LoadConfig(path)
	require.Error(t, err)

	t.Setenv("GENMUX_POPULATION", "many")
	_, err = LoadConfig("")
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"store":          func(c *Config) { c.Store = "postgres" },
		"sqlite_path":    func(c *Config) { c.Store = "sqlite"; c.DBPath = "" },
		"log_level":      func(c *Config) { c.LogLevel = "loud" },
		"log_format":     func(c *Config) { c.LogFormat = "xml" },
		"odd_selection":  func(c *Config) { c.Run.SelectionPerTournament = 25; c.Run.Population = 250 },
		"indivisible":    func(c *Config) { c.Run.Population = 2010 },
		"probabilities":  func(c *Config) { c.Run.CrossoverProbability = 0.97 },
		"aggressiveness": func(c *Config) { c.Run.Aggressiveness = 0 },
		"depths":         func(c *Config) { c.Run.DisfavorDepth = 9 },
		"initial_depth":  func(c *Config) { c.Run.InitialDepth = 0 },
		"workers":        func(c *Config) { c.Run.Workers = 0 },
		"generations":    func(c *Config) { c.Run.MaxGenerations = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
