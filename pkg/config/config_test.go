package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/solver"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testChdir(t, dir)
	return dir
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate: %v", err)
	}
}

func TestDefault_RecipeMatchesSolver(t *testing.T) {
	r, err := Default().SolverRecipe()
	if err != nil {
		t.Fatalf("SolverRecipe: %v", err)
	}
	want := solver.DefaultRecipe()
	if len(r) != len(want) {
		t.Fatalf("got %d goods, want %d", len(r), len(want))
	}
	for i := range want {
		if r[i].Name != want[i].Name || r[i].Uses != want[i].Uses || r[i].Revenue != want[i].Revenue {
			t.Fatalf("good %d = %+v, want %+v", i, r[i], want[i])
		}
	}
}

func TestLoad_NoFile(t *testing.T) {
	chdirTemp(t)
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Backend != BackendSQLite || c.SnapshotEvery != 50 {
		t.Fatalf("c = %+v", c)
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	dir := chdirTemp(t)
	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "cndq.yaml")
	yml := `
backend: fs
data_dir: /tmp/cndq-data
market_ttl: 10s
snapshot_every: 20
starting_inventory:
  min: 100
  max: 200
recipe:
  - name: widget
    uses: {C: 1, Q: 2}
    revenue: 5
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CNDQ_CONFIG", path)
	t.Setenv("CNDQ_LOG_LEVEL", "debug")
	t.Setenv("CNDQ_ACTOR", "alice")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Backend != BackendFS || c.DataDir != "/tmp/cndq-data" || c.MarketTTL != 10*time.Second {
		t.Fatalf("yaml not applied: %+v", c)
	}
	if c.SnapshotEvery != 20 || c.StartingInventory != (InventoryRange{100, 200}) {
		t.Fatalf("yaml not applied: %+v", c)
	}
	if c.LogLevel != "debug" || c.Actor != "alice" {
		t.Fatalf("env not applied: %+v", c)
	}
	r, err := c.SolverRecipe()
	if err != nil {
		t.Fatalf("SolverRecipe: %v", err)
	}
	if len(r) != 1 || r[0].Uses != (model.Amounts{1, 0, 0, 2}) {
		t.Fatalf("recipe = %+v", r)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CNDQ_BACKEND=fs\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set; make sure
	// this one is not, and clean it up afterwards.
	t.Setenv("CNDQ_BACKEND", "")
	os.Unsetenv("CNDQ_BACKEND")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Backend != BackendFS {
		t.Fatalf("Backend = %q, want fs from .env", c.Backend)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":        func(c *Config) { c.Backend = "mongo" },
		"snapshot":       func(c *Config) { c.SnapshotEvery = 0 },
		"poll":           func(c *Config) { c.PollInterval = 0 },
		"rate":           func(c *Config) { c.ReflectRate = 0 },
		"inventory":      func(c *Config) { c.StartingInventory = InventoryRange{Min: 10, Max: 5} },
		"unknown good":   func(c *Config) { c.Recipe = []Good{{Name: "x", Uses: map[string]float64{"Z": 1}, Revenue: 1}} },
		"free good":      func(c *Config) { c.Recipe = []Good{{Name: "x", Revenue: 1}} },
		"zero revenue":   func(c *Config) { c.Recipe = []Good{{Name: "x", Uses: map[string]float64{"C": 1}}} },
		"negative usage": func(c *Config) { c.Recipe = []Good{{Name: "x", Uses: map[string]float64{"C": -1}, Revenue: 1}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			if err := c.Validate(); !errors.Is(err, model.ErrValidation) {
				t.Fatalf("Validate err = %v, want ErrValidation", err)
			}
		})
	}
}

// testChdir changes the working directory for the duration of the test,
// equivalent to testing.T.Chdir (Go 1.24+).
func testChdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
