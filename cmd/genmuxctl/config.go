package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bkthomps/GeneticMultiplexer/pkg/genmux"
)

const envPrefix = "GENMUX_"

// Config is the command line configuration. Values resolve with priority
// flags > env > file > defaults.
type Config struct {
	Store         string    `json:"store" yaml:"store"`
	DBPath        string    `json:"db_path" yaml:"db_path"`
	BenchmarksDir string    `json:"benchmarks_dir" yaml:"benchmarks_dir"`
	ExportsDir    string    `json:"exports_dir" yaml:"exports_dir"`
	LogLevel      string    `json:"log_level" yaml:"log_level"`
	LogFormat     string    `json:"log_format" yaml:"log_format"`
	MetricsAddr   string    `json:"metrics_addr" yaml:"metrics_addr"`
	Run           RunConfig `json:"run" yaml:"run"`
}

type RunConfig struct {
	Target                 string  `json:"target" yaml:"target"`
	Population             int     `json:"population" yaml:"population"`
	SelectionPerTournament int     `json:"selection_per_tournament" yaml:"selection_per_tournament"`
	CrossoverProbability   float64 `json:"crossover_probability" yaml:"crossover_probability"`
	MutationProbability    float64 `json:"mutation_probability" yaml:"mutation_probability"`
	Aggressiveness         float64 `json:"aggressiveness" yaml:"aggressiveness"`
	InitialDepth           int     `json:"initial_depth" yaml:"initial_depth"`
	DisfavorDepth          int     `json:"disfavor_depth" yaml:"disfavor_depth"`
	MaximumDepth           int     `json:"maximum_depth" yaml:"maximum_depth"`
	MaxGenerations         int     `json:"max_generations" yaml:"max_generations"`
	Workers                int     `json:"workers" yaml:"workers"`
	Seed                   int64   `json:"seed" yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		Store:         "memory",
		DBPath:        "genmux.db",
		BenchmarksDir: "benchmarks",
		ExportsDir:    "exports",
		LogLevel:      "info",
		LogFormat:     "auto",
		Run: RunConfig{
			Target:                 genmux.DefaultTarget,
			Population:             genmux.DefaultPopulation,
			SelectionPerTournament: genmux.DefaultSelectionPerTournament,
			CrossoverProbability:   genmux.DefaultCrossoverProbability,
			MutationProbability:    genmux.DefaultMutationProbability,
			Aggressiveness:         genmux.DefaultAggressiveness,
			InitialDepth:           genmux.DefaultInitialDepth,
			DisfavorDepth:          genmux.DefaultDisfavorDepth,
			MaximumDepth:           genmux.DefaultMaximumDepth,
			Workers:                genmux.DefaultWorkers,
			Seed:                   genmux.DefaultSeed,
		},
	}
}

// LoadConfig applies the file at path (if any) and GENMUX_* environment
// variables over the defaults. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadConfigFromEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(cfg *Config) error {
	strs := map[string]*string{
		"STORE":          &cfg.Store,
		"DB_PATH":        &cfg.DBPath,
		"BENCHMARKS_DIR": &cfg.BenchmarksDir,
		"EXPORTS_DIR":    &cfg.ExportsDir,
		"LOG_LEVEL":      &cfg.LogLevel,
		"LOG_FORMAT":     &cfg.LogFormat,
		"METRICS_ADDR":   &cfg.MetricsAddr,
		"TARGET":         &cfg.Run.Target,
	}
	for key, dst := range strs {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"POPULATION":               &cfg.Run.Population,
		"SELECTION_PER_TOURNAMENT": &cfg.Run.SelectionPerTournament,
		"INITIAL_DEPTH":            &cfg.Run.InitialDepth,
		"DISFAVOR_DEPTH":           &cfg.Run.DisfavorDepth,
		"MAXIMUM_DEPTH":            &cfg.Run.MaximumDepth,
		"MAX_GENERATIONS":          &cfg.Run.MaxGenerations,
		"WORKERS":                  &cfg.Run.Workers,
	}
	for key, dst := range ints {
		if v := os.Getenv(envPrefix + key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = i
		}
	}

	floats := map[string]*float64{
		"CROSSOVER_PROBABILITY": &cfg.Run.CrossoverProbability,
		"MUTATION_PROBABILITY":  &cfg.Run.MutationProbability,
		"AGGRESSIVENESS":        &cfg.Run.Aggressiveness,
	}
	for key, dst := range floats {
		if v := os.Getenv(envPrefix + key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = f
		}
	}

	if v := os.Getenv(envPrefix + "SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSEED: %w", envPrefix, err)
		}
		cfg.Run.Seed = seed
	}
	return nil
}

// Validate checks the settings the command line owns. Evolution parameters
// are checked again when a run is built.
func (c Config) Validate() error {
	switch c.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store must be memory or sqlite, got %q", c.Store)
	}
	if c.Store == "sqlite" && c.DBPath == "" {
		return fmt.Errorf("db_path is required for the sqlite store")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log_format must be auto, text or json, got %q", c.LogFormat)
	}
	return c.Run.Validate()
}

func (r RunConfig) Validate() error {
	if r.Population <= 0 {
		return fmt.Errorf("population must be > 0")
	}
	if r.SelectionPerTournament < 2 || r.SelectionPerTournament%2 != 0 {
		return fmt.Errorf("selection per tournament must be even and >= 2, got %d", r.SelectionPerTournament)
	}
	if r.Population%r.SelectionPerTournament != 0 {
		return fmt.Errorf("population %d is not a multiple of selection per tournament %d", r.Population, r.SelectionPerTournament)
	}
	if r.CrossoverProbability < 0 || r.MutationProbability < 0 || r.CrossoverProbability+r.MutationProbability > 1 {
		return fmt.Errorf("crossover and mutation probabilities must be >= 0 and sum to <= 1")
	}
	if r.Aggressiveness <= 0 {
		return fmt.Errorf("aggressiveness must be > 0")
	}
	if r.InitialDepth < 1 {
		return fmt.Errorf("initial depth must be >= 1")
	}
	if r.DisfavorDepth >= r.MaximumDepth {
		return fmt.Errorf("disfavor depth %d must be < maximum depth %d", r.DisfavorDepth, r.MaximumDepth)
	}
	if r.MaxGenerations < 0 {
		return fmt.Errorf("max generations must be >= 0")
	}
	if r.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	return nil
}

func (r RunConfig) request() genmux.RunRequest {
	return genmux.RunRequest{
		Target:                 r.Target,
		Population:             r.Population,
		SelectionPerTournament: r.SelectionPerTournament,
		CrossoverProbability:   r.CrossoverProbability,
		MutationProbability:    r.MutationProbability,
		Aggressiveness:         r.Aggressiveness,
		InitialDepth:           r.InitialDepth,
		DisfavorDepth:          r.DisfavorDepth,
		MaximumDepth:           r.MaximumDepth,
		MaxGenerations:         r.MaxGenerations,
		Workers:                r.Workers,
		Seed:                   r.Seed,
		Exact:                  true,
	}
}
