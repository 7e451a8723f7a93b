package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) registerCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "register <actor_id>",
		Short: "Seed an actor with starting inventory and funds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			st, err := a.actors.State(id)
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			if name != "" {
				if st.Profile, err = a.actors.Rename(id, name); err != nil {
					return fmt.Errorf("register: %w", err)
				}
			}

			if a.jsonOut {
				printJSON(a.out, st.Profile)
				return nil
			}
			a.printf("registered %s (%s)\n", st.Profile.ID, st.Profile.DisplayName)
			a.printf("  funds:     %.2f\n", st.Profile.Balance)
			a.printf("  inventory: %s\n", formatAmounts(st.Inventory.Amounts))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (default derived from the ID)")
	return cmd
}
