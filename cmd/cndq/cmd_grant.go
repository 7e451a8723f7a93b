package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daviddao/cndq/pkg/model"
)

// grantCmd is the operator's escape hatch for moving resources or money
// in or out of an actor outside of trading.
func (a *app) grantCmd() *cobra.Command {
	var set bool
	cmd := &cobra.Command{
		Use:   "grant <actor_id> <C|N|D|Q|funds> <amount>",
		Short: "Add to (or with --set, overwrite) an actor's resource or funds",
		Long: `Add to an actor's resource or funds outside of trading.

Pass a negative amount after "--" to take away:

  cndq grant alice C -- -50`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			amount, err := parseNumber("amount", args[2])
			if err != nil {
				return err
			}

			if strings.EqualFold(args[1], "funds") {
				var balance float64
				if set {
					balance, err = a.actors.SetBalance(id, amount)
				} else {
					balance, err = a.actors.AddBalance(id, amount)
				}
				if err != nil {
					return fmt.Errorf("grant: %w", err)
				}
				if a.jsonOut {
					printJSON(a.out, map[string]float64{"currentFunds": balance})
					return nil
				}
				a.printf("%s funds: %.2f\n", id, balance)
				return nil
			}

			if set {
				return fmt.Errorf("%w: --set only applies to funds", model.ErrValidation)
			}
			r, err := model.ParseResource(args[1])
			if err != nil {
				return err
			}
			inv, err := a.actors.AdjustResource(id, r, amount)
			if err != nil {
				return fmt.Errorf("grant: %w", err)
			}
			a.view.Invalidate()
			if a.jsonOut {
				printJSON(a.out, inv)
				return nil
			}
			a.printf("%s inventory: %s\n", id, formatAmounts(inv.Amounts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&set, "set", false, "overwrite funds instead of adding")
	return cmd
}
