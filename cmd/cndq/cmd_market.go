package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daviddao/cndq/pkg/market"
	"github.com/daviddao/cndq/pkg/model"
)

func (a *app) marketCmd() *cobra.Command {
	var (
		resource   string
		showActors bool
		fromIndex  bool
	)
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Show every active listing across all actors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var r model.Resource
			if resource != "" {
				var err error
				if r, err = model.ParseResource(resource); err != nil {
					return err
				}
			}
			if fromIndex {
				return a.printIndexListings(r)
			}
			snap, err := a.view.Aggregate()
			if err != nil {
				return fmt.Errorf("market: %w", err)
			}
			offers, err := a.view.Offers(r)
			if err != nil {
				return fmt.Errorf("market: %w", err)
			}
			orders, err := a.view.BuyOrders(r)
			if err != nil {
				return fmt.Errorf("market: %w", err)
			}
			snap.Offers, snap.BuyOrders = offers, orders
			if r != "" {
				ads := snap.Ads[:0:0]
				for _, ad := range snap.Ads {
					if ad.Resource == r {
						ads = append(ads, ad)
					}
				}
				snap.Ads = ads
			}

			if a.jsonOut {
				printJSON(a.out, snap)
				return nil
			}

			a.printf("offers (cheapest first):\n")
			if len(offers) == 0 {
				a.printf("  (none)\n")
			}
			for _, o := range offers {
				a.printf("  %-2s %10.2f @ >= %-8.2f %-16s %s\n", o.Resource, o.Quantity, o.MinPrice, o.OwnerID, o.ID)
			}
			a.printf("buy orders (best price first):\n")
			if len(orders) == 0 {
				a.printf("  (none)\n")
			}
			for _, o := range orders {
				a.printf("  %-2s %10.2f @ <= %-8.2f %-16s %s\n", o.Resource, o.Quantity, o.MaxPrice, o.OwnerID, o.ID)
			}
			if len(snap.Ads) > 0 {
				a.printf("ads:\n")
				for _, ad := range snap.Ads {
					a.printf("  %-2s %-4s %-16s %s\n", ad.Resource, ad.Side, ad.OwnerID, ad.Message)
				}
			}
			if showActors {
				a.printf("actors:\n")
				for _, s := range snap.Actors {
					a.printf("  %-16s %-24s funds=%-12.2f events=%d\n", s.ID, s.DisplayName, s.Balance, s.EventsProcessed)
				}
			}
			for _, id := range snap.Skipped {
				a.printf("warning: skipped unreadable actor %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "only show listings for this resource (C, N, D or Q)")
	cmd.Flags().BoolVar(&showActors, "actors", false, "also list every actor")
	cmd.Flags().BoolVar(&fromIndex, "from-index", false, "fold the marketplace index instead of reading every actor")
	return cmd
}

// printIndexListings shows the listings folded from the marketplace index,
// in the order they were posted.
func (a *app) printIndexListings(r model.Resource) error {
	ls, err := market.ReadListings(a.log)
	if err != nil {
		return fmt.Errorf("market: %w", err)
	}
	if r != "" {
		offers := ls.Offers[:0:0]
		for _, o := range ls.Offers {
			if o.Resource == r {
				offers = append(offers, o)
			}
		}
		orders := ls.BuyOrders[:0:0]
		for _, o := range ls.BuyOrders {
			if o.Resource == r {
				orders = append(orders, o)
			}
		}
		ads := ls.Ads[:0:0]
		for _, ad := range ls.Ads {
			if ad.Resource == r {
				ads = append(ads, ad)
			}
		}
		ls.Offers, ls.BuyOrders, ls.Ads = offers, orders, ads
	}

	if a.jsonOut {
		printJSON(a.out, ls)
		return nil
	}
	a.printf("index position %d\n", ls.Pos)
	for _, o := range ls.Offers {
		a.printf("  sell %-2s %10.2f @ >= %-8.2f %-16s %s\n", o.Resource, o.Quantity, o.MinPrice, o.OwnerID, o.ID)
	}
	for _, o := range ls.BuyOrders {
		a.printf("  buy  %-2s %10.2f @ <= %-8.2f %-16s %s\n", o.Resource, o.Quantity, o.MaxPrice, o.OwnerID, o.ID)
	}
	for _, ad := range ls.Ads {
		a.printf("  ad   %-2s %-4s %-16s %s\n", ad.Resource, ad.Side, ad.OwnerID, ad.Message)
	}
	return nil
}
