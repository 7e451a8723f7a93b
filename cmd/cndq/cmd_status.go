package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daviddao/cndq/pkg/model"
)

func (a *app) statusCmd() *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "status [actor_id]",
		Short: "Show an actor's funds, inventory, listings and recent trades",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveActor(args)
			if err != nil {
				return err
			}
			st, err := a.actors.State(id)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			unread := unreadCount(st.Notifications)

			if a.jsonOut {
				printJSON(a.out, map[string]interface{}{
					"state":  st,
					"unread": unread,
				})
				return nil
			}

			p := st.Profile
			a.printf("%s (%s)\n", p.DisplayName, p.ID)
			a.printf("  funds:         %.2f (started with %.2f)\n", p.Balance, p.StartingBalance)
			a.printf("  inventory:     %s\n", formatAmounts(st.Inventory.Amounts))
			a.printf("  shadow prices: %s\n", formatAmounts(st.ShadowPrices.Amounts))
			if st.Inventory.MutationsSinceShadowCalc > 0 {
				a.printf("                 (%d inventory change(s) since last refresh)\n", st.Inventory.MutationsSinceShadowCalc)
			}
			a.printf("  events:        %d\n", st.EventsProcessed)
			a.printf("  unread:        %d\n", unread)

			a.printf("\nlistings:\n")
			n := 0
			for _, o := range st.Offers {
				if o.Status == model.StatusActive {
					a.printf("  sell %-2s %10.2f @ >= %-8.2f %s\n", o.Resource, o.Quantity, o.MinPrice, o.ID)
					n++
				}
			}
			for _, o := range st.BuyOrders {
				if o.Status == model.StatusActive {
					a.printf("  buy  %-2s %10.2f @ <= %-8.2f %s\n", o.Resource, o.Quantity, o.MaxPrice, o.ID)
					n++
				}
			}
			for _, ad := range st.Ads {
				a.printf("  ad   %-2s %-4s %s %s\n", ad.Resource, ad.Side, ad.ID, ad.Message)
				n++
			}
			if n == 0 {
				a.printf("  (none)\n")
			}

			a.printf("\ntransactions:\n")
			txs := st.Transactions
			if recent > 0 && len(txs) > recent {
				txs = txs[len(txs)-recent:]
			}
			if len(txs) == 0 {
				a.printf("  (none)\n")
			}
			for _, t := range txs {
				a.printf("  %s\n", formatTransaction(t))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent transactions to show (0 for all)")
	return cmd
}

// formatAmounts renders per-resource figures as "C=1 N=2 D=3 Q=4".
func formatAmounts(a model.Amounts) string {
	parts := make([]string, len(model.Resources))
	for i, r := range model.Resources {
		parts[i] = fmt.Sprintf("%s=%.2f", r, a[i])
	}
	return strings.Join(parts, " ")
}

func formatTransaction(t model.Transaction) string {
	flag := ""
	switch {
	case t.PendingReflection:
		flag = " [pending]"
	case t.IsReflection:
		flag = " [mirror]"
	}
	return fmt.Sprintf("%-6s %-2s %10.2f @ %-8.2f with %-16s %s%s",
		t.Role, t.Resource, t.Quantity, t.PricePerUnit, t.Counterparty, t.TradeID, flag)
}

func unreadCount(notes []model.Notification) int {
	n := 0
	for _, note := range notes {
		if !note.Read {
			n++
		}
	}
	return n
}
