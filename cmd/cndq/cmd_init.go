package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/daviddao/cndq/pkg/config"
)

func (a *app) initCmd() *cobra.Command {
	var skipConfig bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the storage backend and a default cndq.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := a.log.ListActors()
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}

			path := a.configPath
			if path == "" {
				path = "cndq.yaml"
			}
			wrote := false
			if !skipConfig {
				if wrote, err = writeDefaultConfig(path); err != nil {
					return fmt.Errorf("init: %w", err)
				}
			}

			actorID, _ := a.resolveActor(nil)
			if actorID != "" {
				if _, err := a.actors.State(actorID); err != nil {
					return fmt.Errorf("init: register: %w", err)
				}
			}

			if a.jsonOut {
				printJSON(a.out, map[string]interface{}{
					"backend":       a.cfg.Backend,
					"location":      a.location(),
					"actors":        len(ids),
					"configWritten": wrote,
					"actor":         actorID,
				})
				return nil
			}

			a.printf("initialized cndq (%s)\n", a.location())
			if len(ids) > 0 {
				a.printf("  %d existing actor(s)\n", len(ids))
			}
			if wrote {
				a.printf("  wrote default config to %s\n", path)
			}
			if actorID != "" {
				a.printf("  registered actor %q\n", actorID)
			}
			a.printf("\nnext steps:\n")
			if actorID == "" {
				a.printf("  export CNDQ_ACTOR=<your-id>\n")
				a.printf("  cndq register <your-id>\n")
			}
			a.printf("  cndq market       # see every listing\n")
			a.printf("  cndq shadow       # value your inventory\n")
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipConfig, "skip-config", false, "don't write a config file")
	return cmd
}

// writeDefaultConfig writes the built-in settings to path unless a file is
// already there. It reports whether it wrote anything.
func writeDefaultConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	raw, err := yaml.Marshal(config.Default())
	if err != nil {
		return false, fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	return true, nil
}
