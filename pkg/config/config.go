// Package config loads cndq settings from an optional YAML file, a .env
// file and CNDQ_* environment variables, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/solver"
)

// Backends.
const (
	BackendSQLite = "sqlite"
	BackendFS     = "fs"
)

// Config holds all cndq settings.
type Config struct {
	// Backend selects the storage engine: "sqlite" or "fs".
	Backend string `yaml:"backend"`
	DBPath  string `yaml:"db_path"`
	DataDir string `yaml:"data_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Actor is the default actor id for CLI commands.
	Actor string `yaml:"actor"`

	// SnapshotEvery is how many folded events trigger a snapshot write.
	SnapshotEvery int `yaml:"snapshot_every"`

	// MarketTTL bounds how stale the memoized global view may be.
	MarketTTL time.Duration `yaml:"market_ttl"`

	PollInterval time.Duration `yaml:"poll_interval"`
	// SweepEvery runs a full reflection sweep every N poll ticks.
	SweepEvery   int     `yaml:"sweep_every"`
	ReflectRate  float64 `yaml:"reflect_rate"`
	ReflectBurst int     `yaml:"reflect_burst"`

	StartingInventory InventoryRange `yaml:"starting_inventory"`
	Recipe            []Good         `yaml:"recipe"`
}

// InventoryRange bounds the random starting amount of each resource.
type InventoryRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Good is the YAML form of a solver.Good.
type Good struct {
	Name    string             `yaml:"name"`
	Uses    map[string]float64 `yaml:"uses"`
	Revenue float64            `yaml:"revenue"`
}

// Default returns the built-in settings.
func Default() Config {
	c := Config{
		Backend:           BackendSQLite,
		DBPath:            filepath.Join(".cndq", "cndq.db"),
		DataDir:           filepath.Join(".cndq", "data"),
		LogLevel:          "info",
		LogFormat:         "text",
		SnapshotEvery:     50,
		MarketTTL:         3 * time.Second,
		PollInterval:      5 * time.Second,
		SweepEvery:        12,
		ReflectRate:       1,
		ReflectBurst:      3,
		StartingInventory: InventoryRange{Min: 500, Max: 2000},
	}
	for _, g := range solver.DefaultRecipe() {
		uses := make(map[string]float64)
		for i, r := range model.Resources {
			if g.Uses[i] != 0 {
				uses[string(r)] = g.Uses[i]
			}
		}
		c.Recipe = append(c.Recipe, Good{Name: g.Name, Uses: uses, Revenue: g.Revenue})
	}
	return c
}

// Load builds a Config from defaults, the YAML file at path (or
// $CNDQ_CONFIG when path is empty; a missing file is fine only when
// neither was given explicitly), .env and the environment.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // .env is optional

	c := Default()
	explicit := path != ""
	if !explicit {
		path = os.Getenv("CNDQ_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = "cndq.yaml"
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	for key, dst := range map[string]*string{
		"CNDQ_BACKEND":    &c.Backend,
		"CNDQ_DB":         &c.DBPath,
		"CNDQ_DATA_DIR":   &c.DataDir,
		"CNDQ_LOG_LEVEL":  &c.LogLevel,
		"CNDQ_LOG_FORMAT": &c.LogFormat,
		"CNDQ_ACTOR":      &c.Actor,
	} {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := os.LookupEnv("CNDQ_SNAPSHOT_EVERY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CNDQ_SNAPSHOT_EVERY: %w", err)
		}
		c.SnapshotEvery = n
	}
	if v, ok := os.LookupEnv("CNDQ_POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CNDQ_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}
	return nil
}

// Validate rejects settings the rest of the program cannot run with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("%w: db_path is required for the sqlite backend", model.ErrValidation)
		}
	case BackendFS:
		if c.DataDir == "" {
			return fmt.Errorf("%w: data_dir is required for the fs backend", model.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", model.ErrValidation, c.Backend)
	}
	if c.SnapshotEvery <= 0 {
		return fmt.Errorf("%w: snapshot_every must be positive", model.ErrValidation)
	}
	if c.MarketTTL < 0 {
		return fmt.Errorf("%w: market_ttl must not be negative", model.ErrValidation)
	}
	if c.PollInterval <= 0 || c.SweepEvery <= 0 {
		return fmt.Errorf("%w: poll_interval and sweep_every must be positive", model.ErrValidation)
	}
	if c.ReflectRate <= 0 || c.ReflectBurst <= 0 {
		return fmt.Errorf("%w: reflect_rate and reflect_burst must be positive", model.ErrValidation)
	}
	if c.StartingInventory.Min < 0 || c.StartingInventory.Max < c.StartingInventory.Min {
		return fmt.Errorf("%w: starting_inventory needs 0 <= min <= max", model.ErrValidation)
	}
	r, err := c.SolverRecipe()
	if err != nil {
		return err
	}
	for _, g := range r {
		if g.Revenue <= 0 {
			return fmt.Errorf("%w: good %q must have positive revenue", model.ErrValidation, g.Name)
		}
	}
	return nil
}

// SolverRecipe converts the configured goods into a solver.Recipe.
func (c Config) SolverRecipe() (solver.Recipe, error) {
	recipe := make(solver.Recipe, 0, len(c.Recipe))
	for _, g := range c.Recipe {
		sg := solver.Good{Name: g.Name, Revenue: g.Revenue}
		for name, v := range g.Uses {
			r, err := model.ParseResource(name)
			if err != nil {
				return nil, fmt.Errorf("good %q: %w", g.Name, err)
			}
			sg.Uses.Set(r, v)
		}
		recipe = append(recipe, sg)
	}
	if err := recipe.Validate(); err != nil {
		return nil, err
	}
	return recipe, nil
}
