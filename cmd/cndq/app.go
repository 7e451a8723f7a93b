package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/daviddao/cndq/pkg/actor"
	"github.com/daviddao/cndq/pkg/config"
	"github.com/daviddao/cndq/pkg/fslog"
	"github.com/daviddao/cndq/pkg/logging"
	"github.com/daviddao/cndq/pkg/market"
	"github.com/daviddao/cndq/pkg/reflection"
	"github.com/daviddao/cndq/pkg/store"
	"github.com/daviddao/cndq/pkg/trade"
)

// app holds shared state for all CLI subcommands.
type app struct {
	// Persistent flags.
	configPath string
	actorFlag  string
	jsonOut    bool
	closed     bool

	out io.Writer

	cfg       config.Config
	logger    *logrus.Logger
	log       store.Log
	actors    *actor.Store
	reflector *reflection.Reflector
	view      *market.View
	trades    *trade.Executor
}

// open loads the configuration and wires the storage backend and every
// component on top of it.
func (a *app) open() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	recipe, err := cfg.SolverRecipe()
	if err != nil {
		return err
	}
	l, err := openLog(cfg, logger)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.log = l
	a.actors = actor.New(l,
		actor.WithLogger(logger),
		actor.WithRecipe(recipe),
		actor.WithSnapshotEvery(cfg.SnapshotEvery),
		actor.WithStartingInventory(cfg.StartingInventory.Min, cfg.StartingInventory.Max),
	)
	a.reflector = reflection.New(a.actors, reflection.WithLogger(logger))
	a.view = market.New(a.actors, market.WithTTL(cfg.MarketTTL), market.WithLogger(logger))
	a.trades = trade.New(a.actors, a.reflector, trade.WithLogger(logger))
	return nil
}

// openLog opens the configured backend. The SQLite database directory is
// created on first use.
func openLog(cfg config.Config, logger logrus.FieldLogger) (store.Log, error) {
	if cfg.Backend == config.BackendFS {
		f, err := fslog.New(cfg.DataDir, fslog.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("cannot open data dir %q: %w", cfg.DataDir, err)
		}
		return f, nil
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", cfg.DBPath, err)
	}
	return s, nil
}

// Close releases the storage backend.
func (a *app) Close() error {
	if a.log == nil {
		return nil
	}
	err := a.log.Close()
	a.log = nil
	return err
}

// location describes where the backend keeps its data.
func (a *app) location() string {
	if a.cfg.Backend == config.BackendFS {
		return "fs: " + a.cfg.DataDir
	}
	return "sqlite: " + a.cfg.DBPath
}

// resolveActor returns the first positional argument if present, then the
// --actor flag, then the configured default (CNDQ_ACTOR).
func (a *app) resolveActor(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if a.actorFlag != "" {
		return a.actorFlag, nil
	}
	if a.cfg.Actor != "" {
		return a.cfg.Actor, nil
	}
	return "", fmt.Errorf("no actor ID: pass --actor or set CNDQ_ACTOR")
}

// gate is the trading gate the CLI runs under.
func (a *app) gate() actor.Gate {
	if a.closed {
		return actor.TradingClosed
	}
	return actor.TradingOpen
}

// printf writes human-readable output.
func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
