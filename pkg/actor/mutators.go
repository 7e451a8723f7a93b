package actor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/daviddao/cndq/pkg/model"
)

// prepare validates the id and seeds the actor if needed. Every mutator
// calls it so that a write to an unknown actor lands after its init.
func (s *Store) prepare(id string) error {
	if err := model.ValidateActorID(id); err != nil {
		return err
	}
	return s.ensure(id)
}

// emit prepares the actor and appends p without a dedupe key.
func (s *Store) emit(id string, p model.Payload) (model.Event, error) {
	if err := s.prepare(id); err != nil {
		return model.Event{}, err
	}
	return s.append(id, p, "")
}

// AdjustResource adds amount (possibly negative) to one resource. The
// result is clamped at zero.
func (s *Store) AdjustResource(id string, r model.Resource, amount float64) (model.Inventory, error) {
	if _, err := s.emit(id, model.AdjustResourcePayload{Resource: r, Amount: amount}); err != nil {
		return model.Inventory{}, err
	}
	return s.Inventory(id)
}

// SetBalance overwrites the actor's funds.
func (s *Store) SetBalance(id string, amount float64) (float64, error) {
	if _, err := s.emit(id, model.SetFundsPayload{Amount: amount}); err != nil {
		return 0, err
	}
	return s.Balance(id)
}

// AddBalance adds delta to the actor's funds. Deltas compose, so
// concurrent credits are never lost.
func (s *Store) AddBalance(id string, delta float64) (float64, error) {
	if _, err := s.emit(id, model.AdjustFundsPayload{Amount: delta}); err != nil {
		return 0, err
	}
	return s.Balance(id)
}

// Rename changes the actor's display name.
func (s *Store) Rename(id, name string) (model.Profile, error) {
	if _, err := s.emit(id, model.UpdateProfilePayload{DisplayName: &name}); err != nil {
		return model.Profile{}, err
	}
	s.names.Store(id, name)
	return s.Profile(id)
}

// UpdateSettings merges settings into the profile. Values must marshal
// to JSON.
func (s *Store) UpdateSettings(id string, settings map[string]any) (map[string]json.RawMessage, error) {
	raw := make(map[string]json.RawMessage, len(settings))
	for k, v := range settings {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: setting %q: %v", model.ErrValidation, k, err)
		}
		raw[k] = b
	}
	if _, err := s.emit(id, model.UpdateProfilePayload{Settings: raw}); err != nil {
		return nil, err
	}
	return s.Settings(id)
}

// AddOffer posts a sell offer.
func (s *Store) AddOffer(id string, gate Gate, r model.Resource, quantity, minPrice float64) (model.Offer, error) {
	if err := gate.check(); err != nil {
		return model.Offer{}, err
	}
	o := model.Offer{ID: NewID("offer"), Resource: r, Quantity: quantity, MinPrice: minPrice, Status: model.StatusActive}
	if _, err := s.emit(id, model.AddOfferPayload{Offer: o}); err != nil {
		return model.Offer{}, err
	}
	return s.offer(id, o.ID)
}

// UpdateOffer patches one of the actor's own offers.
func (s *Store) UpdateOffer(id string, gate Gate, patch model.ListingPatch) (model.Offer, error) {
	if err := gate.check(); err != nil {
		return model.Offer{}, err
	}
	if _, err := s.offer(id, patch.ID); err != nil {
		return model.Offer{}, err
	}
	if _, err := s.emit(id, model.UpdateOfferPayload{ListingPatch: patch}); err != nil {
		return model.Offer{}, err
	}
	return s.offer(id, patch.ID)
}

// RemoveOffer cancels one of the actor's own active offers. An id the
// actor does not own is ErrNotFound, whoever else owns it.
func (s *Store) RemoveOffer(id, offerID string) error {
	o, err := s.offer(id, offerID)
	if err != nil {
		return err
	}
	if o.Status != model.StatusActive {
		return fmt.Errorf("%w: offer %s is %s", model.ErrNotFound, offerID, o.Status)
	}
	_, err = s.emit(id, model.RemoveOfferPayload{ID: offerID})
	return err
}

func (s *Store) offer(id, offerID string) (model.Offer, error) {
	st, err := s.State(id)
	if err != nil {
		return model.Offer{}, err
	}
	o, ok := st.FindOffer(offerID)
	if !ok {
		return model.Offer{}, fmt.Errorf("%w: offer %s for %s", model.ErrNotFound, offerID, id)
	}
	return o, nil
}

// AddBuyOrder posts a buy order.
func (s *Store) AddBuyOrder(id string, gate Gate, r model.Resource, quantity, maxPrice float64) (model.BuyOrder, error) {
	if err := gate.check(); err != nil {
		return model.BuyOrder{}, err
	}
	o := model.BuyOrder{ID: NewID("buy"), Resource: r, Quantity: quantity, MaxPrice: maxPrice, Status: model.StatusActive}
	if _, err := s.emit(id, model.AddBuyOrderPayload{BuyOrder: o}); err != nil {
		return model.BuyOrder{}, err
	}
	return s.buyOrder(id, o.ID)
}

// UpdateBuyOrder patches one of the actor's own buy orders.
func (s *Store) UpdateBuyOrder(id string, gate Gate, patch model.ListingPatch) (model.BuyOrder, error) {
	if err := gate.check(); err != nil {
		return model.BuyOrder{}, err
	}
	if _, err := s.buyOrder(id, patch.ID); err != nil {
		return model.BuyOrder{}, err
	}
	if _, err := s.emit(id, model.UpdateBuyOrderPayload{ListingPatch: patch}); err != nil {
		return model.BuyOrder{}, err
	}
	return s.buyOrder(id, patch.ID)
}

// RemoveBuyOrder cancels one of the actor's own active buy orders.
func (s *Store) RemoveBuyOrder(id, orderID string) error {
	o, err := s.buyOrder(id, orderID)
	if err != nil {
		return err
	}
	if o.Status != model.StatusActive {
		return fmt.Errorf("%w: buy order %s is %s", model.ErrNotFound, orderID, o.Status)
	}
	_, err = s.emit(id, model.RemoveBuyOrderPayload{ID: orderID})
	return err
}

func (s *Store) buyOrder(id, orderID string) (model.BuyOrder, error) {
	st, err := s.State(id)
	if err != nil {
		return model.BuyOrder{}, err
	}
	o, ok := st.FindBuyOrder(orderID)
	if !ok {
		return model.BuyOrder{}, fmt.Errorf("%w: buy order %s for %s", model.ErrNotFound, orderID, id)
	}
	return o, nil
}

// AddAd posts an advertisement. side is "buy" or "sell".
func (s *Store) AddAd(id string, gate Gate, r model.Resource, side, message string) (model.Ad, error) {
	if err := gate.check(); err != nil {
		return model.Ad{}, err
	}
	ad := model.Ad{ID: NewID("ad"), Resource: r, Side: side, Message: message}
	if _, err := s.emit(id, model.AddAdPayload{Ad: ad}); err != nil {
		return model.Ad{}, err
	}
	return ad, nil
}

// RemoveAd drops one of the actor's own advertisements.
func (s *Store) RemoveAd(id, adID string) error {
	st, err := s.State(id)
	if err != nil {
		return err
	}
	found := false
	for _, ad := range st.Ads {
		if ad.ID == adID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: ad %s for %s", model.ErrNotFound, adID, id)
	}
	_, err = s.emit(id, model.RemoveAdPayload{ID: adID})
	return err
}

// AddTransaction records one side of a trade and applies its resource
// and money movement. A trade id can be recorded at most once per actor;
// a repeat fails with model.ErrDuplicateKey and appends nothing.
func (s *Store) AddTransaction(id string, gate Gate, t model.Transaction) (model.Transaction, error) {
	if err := gate.check(); err != nil {
		return model.Transaction{}, err
	}
	if err := s.prepare(id); err != nil {
		return model.Transaction{}, err
	}
	if _, err := s.append(id, model.TransactionPayload{Transaction: t}, TradeKey(t.TradeID)); err != nil {
		return model.Transaction{}, err
	}
	st, err := s.State(id)
	if err != nil {
		return model.Transaction{}, err
	}
	out, _ := st.FindTransaction(t.TradeID)
	return out, nil
}

// TradeKey is the per-actor dedupe key of a trade fact.
func TradeKey(tradeID string) string { return "trade:" + tradeID }

// HasTransaction reports whether the actor's log holds the trade.
func (s *Store) HasTransaction(id, tradeID string) (bool, error) {
	st, err := s.State(id)
	if err != nil {
		return false, err
	}
	_, ok := st.FindTransaction(tradeID)
	return ok, nil
}

// MarkReflected clears the pending flag on the actor's record of a trade.
func (s *Store) MarkReflected(id, tradeID string) error {
	ok, err := s.HasTransaction(id, tradeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: transaction %s for %s", model.ErrNotFound, tradeID, id)
	}
	_, err = s.emit(id, model.MarkReflectedPayload{TradeID: tradeID})
	return err
}

// AddNotification pushes a notification. Only the most recent
// reducer.NotificationCap are kept.
func (s *Store) AddNotification(id, kind, message string) (model.Notification, error) {
	n := model.Notification{ID: NewID("notif"), Type: kind, Message: message}
	if _, err := s.emit(id, model.NotificationPayload{Notification: n}); err != nil {
		return model.Notification{}, err
	}
	return n, nil
}

// MarkNotificationsRead marks the given notifications read, or all of
// them when ids is empty.
func (s *Store) MarkNotificationsRead(id string, ids ...string) error {
	_, err := s.emit(id, model.MarkReadPayload{IDs: ids})
	return err
}

// UpdateShadowPrices stores new shadow prices and resets the mutation
// counter.
func (s *Store) UpdateShadowPrices(id string, prices model.Amounts) (model.ShadowPrices, error) {
	if _, err := s.emit(id, model.ShadowPricesPayload{Prices: prices}); err != nil {
		return model.ShadowPrices{}, err
	}
	return s.ShadowPrices(id)
}

// AddProduction appends a production record without moving inventory.
func (s *Store) AddProduction(id string, p model.Production) error {
	_, err := s.emit(id, model.ProductionPayload{Production: p})
	return err
}

// AddReaction records the actor's latest reaction level on a negotiation.
func (s *Store) AddReaction(id, negotiationID string, level int) error {
	_, err := s.emit(id, model.ReactionPayload{NegotiationID: negotiationID, Level: level})
	return err
}

// IsDuplicate reports whether err means the write was already applied.
func IsDuplicate(err error) bool { return errors.Is(err, model.ErrDuplicateKey) }
