package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/solver"
)

func (a *app) produceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "produce [actor_id]",
		Short: "Run the optimal production plan on the actor's inventory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveActor(args)
			if err != nil {
				return err
			}
			p, err := a.actors.Produce(id)
			if err != nil {
				return fmt.Errorf("produce: %w", err)
			}
			a.view.Invalidate()
			if a.jsonOut {
				printJSON(a.out, p)
				return nil
			}
			a.printf("produced for %s: revenue %.2f\n", id, p.Revenue)
			a.printPlan(p.Plan)
			a.printf("  consumed: %s\n", formatAmounts(p.Consumed))
			return nil
		},
	}
}

func (a *app) shadowCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "shadow [actor_id]",
		Short: "Quote shadow prices and ranging for the actor's inventory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveActor(args)
			if err != nil {
				return err
			}
			res, err := a.actors.ShadowQuote(id)
			if err != nil {
				return fmt.Errorf("shadow: %w", err)
			}
			if refresh {
				if _, err := a.actors.RefreshShadowPrices(id); err != nil {
					return fmt.Errorf("shadow: refresh: %w", err)
				}
			}
			if a.jsonOut {
				printJSON(a.out, res)
				return nil
			}
			a.printResult(res)
			if refresh {
				a.printf("stored shadow prices for %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "store the quoted prices on the actor")
	return cmd
}

// solveCmd runs the solver on an arbitrary inventory, without any actor.
func (a *app) solveCmd() *cobra.Command {
	var amounts model.Amounts
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve the production program for a given inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recipe, err := a.cfg.SolverRecipe()
			if err != nil {
				return err
			}
			res, err := solver.Solve(recipe, amounts)
			if err != nil {
				return fmt.Errorf("solve: %w", err)
			}
			if a.jsonOut {
				printJSON(a.out, res)
				return nil
			}
			a.printResult(res)
			return nil
		},
	}
	for i, r := range model.Resources {
		cmd.Flags().Float64Var(&amounts[i], strings.ToLower(string(r)), 0, fmt.Sprintf("units of %s on hand", r))
	}
	return cmd
}

func (a *app) printPlan(plan map[string]float64) {
	goods := make([]string, 0, len(plan))
	for g := range plan {
		goods = append(goods, g)
	}
	sort.Strings(goods)
	for _, g := range goods {
		a.printf("  %-12s %10.2f\n", g, plan[g])
	}
}

func (a *app) printResult(res solver.Result) {
	res = res.Rounded(2)
	a.printf("max revenue: %.2f\n", res.MaxValue)
	a.printPlan(res.Plan)
	a.printf("\n%-3s %10s %10s %10s %8s %-12s %10s %10s\n",
		"", "available", "used", "slack", "price", "status", "+allow", "-allow")
	for _, c := range res.Constraints {
		a.printf("%-3s %10.2f %10.2f %10.2f %8.2f %-12s %10s %10s\n",
			c.Resource, c.Available, c.Used, c.Slack, c.ShadowPrice, c.Status,
			c.AllowableIncrease, c.AllowableDecrease)
	}
}
