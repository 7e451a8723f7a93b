package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <actor_id>",
		Short: "Delete an actor's log; the next access reseeds it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.actors.Reset(args[0]); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			a.view.Invalidate()
			if a.jsonOut {
				printJSON(a.out, map[string]string{"reset": args[0]})
				return nil
			}
			a.printf("reset %s\n", args[0])
			return nil
		},
	}
}
