package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daviddao/cndq/pkg/model"
)

func (a *app) offerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offer <resource> <quantity> <min_price>",
		Short: "Post a sell offer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveActor(nil)
			if err != nil {
				return err
			}
			r, qty, price, err := parseListing(args)
			if err != nil {
				return err
			}
			o, err := a.actors.AddOffer(id, a.gate(), r, qty, price)
			if err != nil {
				return fmt.Errorf("offer: %w", err)
			}
			a.view.Invalidate()
			if a.jsonOut {
				printJSON(a.out, o)
				return nil
			}
			a.printf("offered %.2f %s at >= %.2f (%s)\n", o.Quantity, o.Resource, o.MinPrice, o.ID)
			return nil
		},
	}
}

func (a *app) buyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buy <resource> <quantity> <max_price>",
		Short: "Post a buy order",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveActor(nil)
			if err != nil {
				return err
			}
			r, qty, price, err := parseListing(args)
			if err != nil {
				return err
			}
			o, err := a.actors.AddBuyOrder(id, a.gate(), r, qty, price)
			if err != nil {
				return fmt.Errorf("buy: %w", err)
			}
			a.view.Invalidate()
			if a.jsonOut {
				printJSON(a.out, o)
				return nil
			}
			a.printf("bidding for %.2f %s at <= %.2f (%s)\n", o.Quantity, o.Resource, o.MaxPrice, o.ID)
			return nil
		},
	}
}

func (a *app) adCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ad <resource> <buy|sell> [message...]",
		Short: "Advertise interest in buying or selling a resource",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveActor(nil)
			if err != nil {
				return err
			}
			r, err := model.ParseResource(args[0])
			if err != nil {
				return err
			}
			side := strings.ToLower(args[1])
			if side != "buy" && side != "sell" {
				return fmt.Errorf("%w: ad side must be buy or sell, got %q", model.ErrValidation, args[1])
			}
			ad, err := a.actors.AddAd(id, a.gate(), r, side, strings.Join(args[2:], " "))
			if err != nil {
				return fmt.Errorf("ad: %w", err)
			}
			a.view.Invalidate()
			if a.jsonOut {
				printJSON(a.out, ad)
				return nil
			}
			a.printf("advertised %s %s (%s)\n", ad.Side, ad.Resource, ad.ID)
			return nil
		},
	}
}

// cancelCmd withdraws one of the actor's own offers, buy orders or ads.
func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <listing_id>",
		Short: "Withdraw one of your offers, buy orders or ads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveActor(nil)
			if err != nil {
				return err
			}
			listing := args[0]
			kind := ""
			for _, try := range []struct {
				kind   string
				remove func(string, string) error
			}{
				{"offer", a.actors.RemoveOffer},
				{"buy order", a.actors.RemoveBuyOrder},
				{"ad", a.actors.RemoveAd},
			} {
				err := try.remove(id, listing)
				if err == nil {
					kind = try.kind
					break
				}
				if !errors.Is(err, model.ErrNotFound) {
					return fmt.Errorf("cancel: %w", err)
				}
			}
			if kind == "" {
				return fmt.Errorf("cancel: %w: %s has no active listing %s", model.ErrNotFound, id, listing)
			}
			a.view.Invalidate()
			if a.jsonOut {
				printJSON(a.out, map[string]string{"cancelled": listing, "kind": kind})
				return nil
			}
			a.printf("cancelled %s %s\n", kind, listing)
			return nil
		},
	}
}

// parseListing parses "<resource> <quantity> <price>".
func parseListing(args []string) (model.Resource, float64, float64, error) {
	r, err := model.ParseResource(args[0])
	if err != nil {
		return "", 0, 0, err
	}
	qty, err := parseNumber("quantity", args[1])
	if err != nil {
		return "", 0, 0, err
	}
	price, err := parseNumber("price", args[2])
	if err != nil {
		return "", 0, 0, err
	}
	return r, qty, price, nil
}

func parseNumber(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", model.ErrValidation, name, s)
	}
	return v, nil
}
