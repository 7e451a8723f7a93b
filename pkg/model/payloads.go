package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Payload is implemented by every typed event payload. Validate runs at
// the append boundary; the reducer trusts what made it into the log.
type Payload interface {
	Kind() EventKind
	Validate() error
}

func finite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a finite number", ErrValidation, name)
	}
	return nil
}

func positive(name string, v float64) error {
	if err := finite(name, v); err != nil {
		return err
	}
	if v <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %v", ErrValidation, name, v)
	}
	return nil
}

func nonNegative(name string, v float64) error {
	if err := finite(name, v); err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("%w: %s must not be negative, got %v", ErrValidation, name, v)
	}
	return nil
}

func resource(r Resource) error {
	if !r.Valid() {
		return fmt.Errorf("%w: unknown resource %q", ErrValidation, r)
	}
	return nil
}

func required(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, name)
	}
	return nil
}

// ----- Profile and money -----

// ProfilePatch carries the profile fields an init event sets. Nil fields
// are left untouched.
type ProfilePatch struct {
	ID              *string                    `json:"id,omitempty"`
	DisplayName     *string                    `json:"displayName,omitempty"`
	CreatedAt       *int64                     `json:"createdAt,omitempty"`
	Balance         *float64                   `json:"currentFunds,omitempty"`
	StartingBalance *float64                   `json:"startingFunds,omitempty"`
	Settings        map[string]json.RawMessage `json:"settings,omitempty"`
}

// InventoryPatch carries per-resource amounts for an init event.
type InventoryPatch struct {
	C *float64 `json:"C,omitempty"`
	N *float64 `json:"N,omitempty"`
	D *float64 `json:"D,omitempty"`
	Q *float64 `json:"Q,omitempty"`
}

// Fields returns the patch as (resource, value) pairs in canonical order.
func (p InventoryPatch) Fields() [NumResources]*float64 {
	return [NumResources]*float64{p.C, p.N, p.D, p.Q}
}

// InitPayload seeds a new actor. Sub-objects merge field by field.
type InitPayload struct {
	Profile      *ProfilePatch   `json:"profile,omitempty"`
	Inventory    *InventoryPatch `json:"inventory,omitempty"`
	ShadowPrices *Amounts        `json:"shadowPrices,omitempty"`
}

func (InitPayload) Kind() EventKind { return EventInit }

func (p InitPayload) Validate() error {
	if p.Inventory != nil {
		for i, v := range p.Inventory.Fields() {
			if v == nil {
				continue
			}
			if err := nonNegative("inventory."+string(Resources[i]), *v); err != nil {
				return err
			}
		}
	}
	if p.Profile != nil && p.Profile.Balance != nil {
		return finite("currentFunds", *p.Profile.Balance)
	}
	return nil
}

// UpdateProfilePayload renames an actor and/or merges settings keys.
type UpdateProfilePayload struct {
	DisplayName *string                    `json:"displayName,omitempty"`
	Settings    map[string]json.RawMessage `json:"settings,omitempty"`
}

func (UpdateProfilePayload) Kind() EventKind { return EventUpdateProfile }

func (p UpdateProfilePayload) Validate() error {
	if p.DisplayName != nil && *p.DisplayName == "" {
		return fmt.Errorf("%w: displayName must not be empty", ErrValidation)
	}
	for k, v := range p.Settings {
		if !json.Valid(v) {
			return fmt.Errorf("%w: setting %q is not valid JSON", ErrValidation, k)
		}
	}
	return nil
}

// AdjustResourcePayload adds Amount (possibly negative) to one resource.
type AdjustResourcePayload struct {
	Resource Resource `json:"chemical"`
	Amount   float64  `json:"amount"`
}

func (AdjustResourcePayload) Kind() EventKind { return EventAdjustResource }

func (p AdjustResourcePayload) Validate() error {
	if err := resource(p.Resource); err != nil {
		return err
	}
	return finite("amount", p.Amount)
}

// SetFundsPayload overwrites the balance.
type SetFundsPayload struct {
	Amount     float64 `json:"amount"`
	IsStarting bool    `json:"is_starting,omitempty"`
}

func (SetFundsPayload) Kind() EventKind   { return EventSetFunds }
func (p SetFundsPayload) Validate() error { return finite("amount", p.Amount) }

// AdjustFundsPayload adds Amount (possibly negative) to the balance.
type AdjustFundsPayload struct {
	Amount float64 `json:"amount"`
}

func (AdjustFundsPayload) Kind() EventKind   { return EventAdjustFunds }
func (p AdjustFundsPayload) Validate() error { return finite("amount", p.Amount) }

// ProductionPayload appends a production record.
type ProductionPayload struct {
	Production Production `json:"production"`
}

func (ProductionPayload) Kind() EventKind { return EventAddProduction }

func (p ProductionPayload) Validate() error {
	if err := required("production.type", p.Production.Kind); err != nil {
		return err
	}
	for good, qty := range p.Production.Plan {
		if err := nonNegative("plan."+good, qty); err != nil {
			return err
		}
	}
	return finite("revenue", p.Production.Revenue)
}

// ----- Listings -----

// AddOfferPayload appends a sell offer.
type AddOfferPayload struct {
	Offer Offer `json:"offer"`
}

func (AddOfferPayload) Kind() EventKind { return EventAddOffer }

func (p AddOfferPayload) Validate() error {
	if err := required("offer.id", p.Offer.ID); err != nil {
		return err
	}
	if err := resource(p.Offer.Resource); err != nil {
		return err
	}
	if err := positive("quantity", p.Offer.Quantity); err != nil {
		return err
	}
	return nonNegative("minPrice", p.Offer.MinPrice)
}

// ListingPatch updates an offer or buy order in place. Price is the
// minimum price for offers and the maximum price for buy orders.
type ListingPatch struct {
	ID       string       `json:"id"`
	Quantity *float64     `json:"quantity,omitempty"`
	Price    *float64     `json:"price,omitempty"`
	Status   *OrderStatus `json:"status,omitempty"`
}

func (p ListingPatch) validate() error {
	if err := required("id", p.ID); err != nil {
		return err
	}
	if p.Quantity != nil {
		if err := nonNegative("quantity", *p.Quantity); err != nil {
			return err
		}
	}
	if p.Price != nil {
		if err := nonNegative("price", *p.Price); err != nil {
			return err
		}
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, *p.Status)
	}
	return nil
}

// UpdateOfferPayload patches one offer.
type UpdateOfferPayload struct {
	ListingPatch
}

func (UpdateOfferPayload) Kind() EventKind   { return EventUpdateOffer }
func (p UpdateOfferPayload) Validate() error { return p.validate() }

// RemoveOfferPayload marks one offer removed.
type RemoveOfferPayload struct {
	ID string `json:"id"`
}

func (RemoveOfferPayload) Kind() EventKind   { return EventRemoveOffer }
func (p RemoveOfferPayload) Validate() error { return required("id", p.ID) }

// AddBuyOrderPayload appends a buy order.
type AddBuyOrderPayload struct {
	BuyOrder BuyOrder `json:"buyOrder"`
}

func (AddBuyOrderPayload) Kind() EventKind { return EventAddBuyOrder }

func (p AddBuyOrderPayload) Validate() error {
	if err := required("buyOrder.id", p.BuyOrder.ID); err != nil {
		return err
	}
	if err := resource(p.BuyOrder.Resource); err != nil {
		return err
	}
	if err := positive("quantity", p.BuyOrder.Quantity); err != nil {
		return err
	}
	return nonNegative("maxPrice", p.BuyOrder.MaxPrice)
}

// UpdateBuyOrderPayload patches one buy order.
type UpdateBuyOrderPayload struct {
	ListingPatch
}

func (UpdateBuyOrderPayload) Kind() EventKind   { return EventUpdateBuyOrder }
func (p UpdateBuyOrderPayload) Validate() error { return p.validate() }

// RemoveBuyOrderPayload marks one buy order removed.
type RemoveBuyOrderPayload struct {
	ID string `json:"id"`
}

func (RemoveBuyOrderPayload) Kind() EventKind   { return EventRemoveBuyOrder }
func (p RemoveBuyOrderPayload) Validate() error { return required("id", p.ID) }

// AddAdPayload appends an advertisement.
type AddAdPayload struct {
	Ad Ad `json:"ad"`
}

func (AddAdPayload) Kind() EventKind { return EventAddAd }

func (p AddAdPayload) Validate() error {
	if err := required("ad.id", p.Ad.ID); err != nil {
		return err
	}
	if err := resource(p.Ad.Resource); err != nil {
		return err
	}
	if p.Ad.Side != "buy" && p.Ad.Side != "sell" {
		return fmt.Errorf("%w: ad type must be buy or sell, got %q", ErrValidation, p.Ad.Side)
	}
	return nil
}

// RemoveAdPayload drops one advertisement.
type RemoveAdPayload struct {
	ID string `json:"id"`
}

func (RemoveAdPayload) Kind() EventKind   { return EventRemoveAd }
func (p RemoveAdPayload) Validate() error { return required("id", p.ID) }

// ----- Trades -----

// TransactionPayload records one side of a trade. Applying it moves the
// resource and the money in one step.
type TransactionPayload struct {
	Transaction Transaction `json:"transaction"`
}

func (TransactionPayload) Kind() EventKind { return EventAddTransaction }

func (p TransactionPayload) Validate() error {
	t := p.Transaction
	if err := required("transactionId", t.TradeID); err != nil {
		return err
	}
	if err := required("counterparty", t.Counterparty); err != nil {
		return err
	}
	if t.Role != RoleBuyer && t.Role != RoleSeller {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, t.Role)
	}
	if err := resource(t.Resource); err != nil {
		return err
	}
	if err := positive("quantity", t.Quantity); err != nil {
		return err
	}
	if err := nonNegative("pricePerGallon", t.PricePerUnit); err != nil {
		return err
	}
	return nonNegative("totalAmount", t.TotalAmount)
}

// MarkReflectedPayload clears the pending flag on the initiator's record.
type MarkReflectedPayload struct {
	TradeID string `json:"transactionId"`
}

func (MarkReflectedPayload) Kind() EventKind   { return EventMarkReflected }
func (p MarkReflectedPayload) Validate() error { return required("transactionId", p.TradeID) }

// ----- Notifications, prices, reactions -----

// NotificationPayload pushes onto the notification ring.
type NotificationPayload struct {
	Notification Notification `json:"notification"`
}

func (NotificationPayload) Kind() EventKind { return EventAddNotification }

func (p NotificationPayload) Validate() error {
	if err := required("notification.id", p.Notification.ID); err != nil {
		return err
	}
	return required("notification.message", p.Notification.Message)
}

// MarkReadPayload marks the listed notifications read; an empty list
// marks all of them.
type MarkReadPayload struct {
	IDs []string `json:"ids,omitempty"`
}

func (MarkReadPayload) Kind() EventKind { return EventMarkNotificationRead }
func (MarkReadPayload) Validate() error { return nil }

// ShadowPricesPayload replaces the stored shadow prices.
type ShadowPricesPayload struct {
	Prices Amounts `json:"prices"`
}

func (ShadowPricesPayload) Kind() EventKind { return EventUpdateShadowPrices }

func (p ShadowPricesPayload) Validate() error {
	for i, v := range p.Prices {
		if err := nonNegative("prices."+string(Resources[i]), v); err != nil {
			return err
		}
	}
	return nil
}

// ReactionPayload records a reaction level on a negotiation.
type ReactionPayload struct {
	NegotiationID string `json:"negotiationId"`
	Level         int    `json:"level"`
}

func (ReactionPayload) Kind() EventKind { return EventAddReaction }

func (p ReactionPayload) Validate() error {
	if err := required("negotiationId", p.NegotiationID); err != nil {
		return err
	}
	if p.Level < 0 || p.Level > 10 {
		return fmt.Errorf("%w: reaction level %d out of range 0..10", ErrValidation, p.Level)
	}
	return nil
}

// NewEvent validates p and wraps it in an Event. Seq is left zero for the
// log to assign.
func NewEvent(actorID, actorName string, p Payload) (Event, error) {
	if actorID == "" {
		return Event{}, fmt.Errorf("%w: actor id is required", ErrValidation)
	}
	if err := p.Validate(); err != nil {
		return Event{}, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Event{}, fmt.Errorf("%w: encode %s payload: %v", ErrValidation, p.Kind(), err)
	}
	return Event{Kind: p.Kind(), Payload: raw, ActorID: actorID, ActorName: actorName}, nil
}
