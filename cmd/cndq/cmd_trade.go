package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/trade"
)

func (a *app) tradeCmd() *cobra.Command {
	var (
		offerID    string
		buyOrderID string
		initiator  string
		quantity   float64
		price      float64
		heat       string
	)
	cmd := &cobra.Command{
		Use:   "trade [<seller> <buyer> <resource> <quantity> <price>]",
		Short: "Execute a trade, directly or against a listing",
		Long: `Execute a trade and reflect it into the counterparty's log.

Either name both parties explicitly:

  cndq trade alice bob C 10 2.5

or fill a listing from the market as the --actor:

  cndq trade --offer <offer_id> [--quantity N]      # buy from an offer
  cndq trade --buy-order <order_id> [--quantity N]  # sell into a buy order`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req trade.Request
			var err error
			switch {
			case offerID != "" && buyOrderID != "":
				return fmt.Errorf("%w: pass --offer or --buy-order, not both", model.ErrValidation)
			case offerID != "":
				req, err = a.fromOffer(offerID, quantity, price)
			case buyOrderID != "":
				req, err = a.fromBuyOrder(buyOrderID, quantity, price)
			default:
				req, err = tradeFromArgs(args)
			}
			if err != nil {
				return err
			}
			if initiator != "" {
				req.Initiator = initiator
			}
			if heat != "" {
				req.Heat = json.RawMessage(heat)
			}

			res, err := a.trades.Execute(a.gate(), req)
			if err != nil {
				return fmt.Errorf("trade: %w", err)
			}
			a.view.Invalidate()

			if a.jsonOut {
				printJSON(a.out, res)
				return nil
			}
			t := res.Transaction
			a.printf("traded %.2f %s at %.2f (total %.2f): %s -> %s\n",
				t.Quantity, t.Resource, t.PricePerUnit, t.TotalAmount, req.Seller, req.Buyer)
			a.printf("  trade id: %s\n", res.TradeID)
			if res.Reflected {
				a.printf("  mirrored into %s\n", t.Counterparty)
			} else {
				a.printf("  pending reflection into %s (run 'cndq reflect')\n", t.Counterparty)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&offerID, "offer", "", "buy from this offer as --actor")
	f.StringVar(&buyOrderID, "buy-order", "", "sell into this buy order as --actor")
	f.StringVar(&initiator, "initiator", "", "party that records the trade first (default the buyer)")
	f.Float64Var(&quantity, "quantity", 0, "quantity when filling a listing (default the whole listing)")
	f.Float64Var(&price, "price", 0, "price when filling a listing (default the listing price)")
	f.StringVar(&heat, "heat", "", "opaque negotiation context as JSON")
	return cmd
}

func tradeFromArgs(args []string) (trade.Request, error) {
	if len(args) != 5 {
		return trade.Request{}, fmt.Errorf("%w: want <seller> <buyer> <resource> <quantity> <price>, or --offer / --buy-order", model.ErrValidation)
	}
	r, qty, price, err := parseListing(args[2:])
	if err != nil {
		return trade.Request{}, err
	}
	return trade.Request{Seller: args[0], Buyer: args[1], Resource: r, Quantity: qty, Price: price}, nil
}

func (a *app) fromOffer(offerID string, quantity, price float64) (trade.Request, error) {
	buyer, err := a.resolveActor(nil)
	if err != nil {
		return trade.Request{}, err
	}
	offers, err := a.view.Offers("")
	if err != nil {
		return trade.Request{}, err
	}
	for _, o := range offers {
		if o.ID != offerID {
			continue
		}
		req := trade.Request{
			Seller:    o.OwnerID,
			Buyer:     buyer,
			Initiator: buyer,
			Resource:  o.Resource,
			Quantity:  o.Quantity,
			Price:     o.MinPrice,
			OfferID:   o.ID,
		}
		if quantity > 0 {
			req.Quantity = quantity
		}
		if price > 0 {
			req.Price = price
		}
		return req, nil
	}
	return trade.Request{}, fmt.Errorf("%w: no active offer %s", model.ErrNotFound, offerID)
}

func (a *app) fromBuyOrder(orderID string, quantity, price float64) (trade.Request, error) {
	seller, err := a.resolveActor(nil)
	if err != nil {
		return trade.Request{}, err
	}
	orders, err := a.view.BuyOrders("")
	if err != nil {
		return trade.Request{}, err
	}
	for _, o := range orders {
		if o.ID != orderID {
			continue
		}
		req := trade.Request{
			Seller:     seller,
			Buyer:      o.OwnerID,
			Initiator:  seller,
			Resource:   o.Resource,
			Quantity:   o.Quantity,
			Price:      o.MaxPrice,
			BuyOrderID: o.ID,
		}
		if quantity > 0 {
			req.Quantity = quantity
		}
		if price > 0 {
			req.Price = price
		}
		return req, nil
	}
	return trade.Request{}, fmt.Errorf("%w: no active buy order %s", model.ErrNotFound, orderID)
}
