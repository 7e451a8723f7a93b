// Package reducer folds actor events into state.
//
// Reduce is a pure function of (state, event): it never reads the clock,
// the disk or any randomness, so replaying the same log always yields the
// same state. Unknown event kinds and payloads that fail to decode are
// no-ops except for the bookkeeping counters.
package reducer

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/daviddao/cndq/pkg/model"
)

// NotificationCap bounds the notification ring. Oldest entries drop first.
const NotificationCap = 50

// Precision is the number of decimal places resource amounts and money
// are rounded to after every change.
const Precision = 4

// Round rounds v to Precision decimal places.
func Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(Precision).InexactFloat64()
}

// clamp rounds v and floors it at zero.
func clamp(v float64) float64 {
	r := Round(v)
	if r < 0 {
		return 0
	}
	return r
}

// Initial returns the state of an actor with no events.
func Initial() model.ActorState {
	return model.ActorState{}
}

// Reduce returns the state after applying e to s. s is not modified.
func Reduce(s model.ActorState, e model.Event) model.ActorState {
	out := Clone(s)
	apply(&out, e)
	return out
}

// Replay folds events, in order, onto a copy of s.
func Replay(s model.ActorState, events []model.Event) model.ActorState {
	out := Clone(s)
	for _, e := range events {
		apply(&out, e)
	}
	return out
}

// Clone deep-copies s so that later applies cannot alias its slices.
func Clone(s model.ActorState) model.ActorState {
	out := s
	out.Profile.Settings = maps.Clone(s.Profile.Settings)
	out.Productions = slices.Clone(s.Productions)
	for i := range out.Productions {
		out.Productions[i].Plan = maps.Clone(out.Productions[i].Plan)
	}
	out.Offers = slices.Clone(s.Offers)
	out.BuyOrders = slices.Clone(s.BuyOrders)
	out.Ads = slices.Clone(s.Ads)
	out.Transactions = slices.Clone(s.Transactions)
	out.Notifications = slices.Clone(s.Notifications)
	out.Reactions = maps.Clone(s.Reactions)
	return out
}

func apply(s *model.ActorState, e model.Event) {
	switch e.Kind {
	case model.EventInit:
		var p model.InitPayload
		if e.Decode(&p) == nil {
			applyInit(s, p, e.Seq)
		}
	case model.EventUpdateProfile:
		var p model.UpdateProfilePayload
		if e.Decode(&p) == nil {
			if p.DisplayName != nil {
				s.Profile.DisplayName = *p.DisplayName
			}
			mergeSettings(&s.Profile, p.Settings)
		}
	case model.EventAdjustResource:
		var p model.AdjustResourcePayload
		if e.Decode(&p) == nil && p.Resource.Valid() {
			adjustResource(s, p.Resource, p.Amount, e.Seq)
		}
	case model.EventSetFunds:
		var p model.SetFundsPayload
		if e.Decode(&p) == nil {
			s.Profile.Balance = Round(p.Amount)
			if p.IsStarting {
				s.Profile.StartingBalance = s.Profile.Balance
			}
		}
	case model.EventAdjustFunds:
		var p model.AdjustFundsPayload
		if e.Decode(&p) == nil {
			s.Profile.Balance = Round(s.Profile.Balance + p.Amount)
		}
	case model.EventAddProduction:
		var p model.ProductionPayload
		if e.Decode(&p) == nil {
			prod := p.Production
			prod.Plan = maps.Clone(prod.Plan)
			if prod.At == 0 {
				prod.At = e.Seq
			}
			s.Productions = append(s.Productions, prod)
		}
	case model.EventAddOffer:
		var p model.AddOfferPayload
		if e.Decode(&p) == nil {
			o := p.Offer
			if o.Status == "" {
				o.Status = model.StatusActive
			}
			o.CreatedAt = e.Seq
			s.Offers = append(s.Offers, o)
		}
	case model.EventUpdateOffer:
		var p model.UpdateOfferPayload
		if e.Decode(&p) == nil {
			for i := range s.Offers {
				if s.Offers[i].ID == p.ID {
					patchOffer(&s.Offers[i], p.ListingPatch, e.Seq)
				}
			}
		}
	case model.EventRemoveOffer:
		var p model.RemoveOfferPayload
		if e.Decode(&p) == nil {
			for i := range s.Offers {
				if s.Offers[i].ID == p.ID {
					s.Offers[i].Status = model.StatusRemoved
					s.Offers[i].UpdatedAt = e.Seq
				}
			}
		}
	case model.EventAddBuyOrder:
		var p model.AddBuyOrderPayload
		if e.Decode(&p) == nil {
			o := p.BuyOrder
			if o.Status == "" {
				o.Status = model.StatusActive
			}
			o.CreatedAt = e.Seq
			s.BuyOrders = append(s.BuyOrders, o)
		}
	case model.EventUpdateBuyOrder:
		var p model.UpdateBuyOrderPayload
		if e.Decode(&p) == nil {
			for i := range s.BuyOrders {
				if s.BuyOrders[i].ID == p.ID {
					patchBuyOrder(&s.BuyOrders[i], p.ListingPatch, e.Seq)
				}
			}
		}
	case model.EventRemoveBuyOrder:
		var p model.RemoveBuyOrderPayload
		if e.Decode(&p) == nil {
			for i := range s.BuyOrders {
				if s.BuyOrders[i].ID == p.ID {
					s.BuyOrders[i].Status = model.StatusRemoved
					s.BuyOrders[i].UpdatedAt = e.Seq
				}
			}
		}
	case model.EventAddAd:
		var p model.AddAdPayload
		if e.Decode(&p) == nil {
			ad := p.Ad
			ad.CreatedAt = e.Seq
			s.Ads = append(s.Ads, ad)
		}
	case model.EventRemoveAd:
		var p model.RemoveAdPayload
		if e.Decode(&p) == nil {
			s.Ads = slices.DeleteFunc(s.Ads, func(a model.Ad) bool { return a.ID == p.ID })
		}
	case model.EventAddTransaction:
		var p model.TransactionPayload
		if e.Decode(&p) == nil {
			applyTransaction(s, p.Transaction, e.Seq)
		}
	case model.EventMarkReflected:
		var p model.MarkReflectedPayload
		if e.Decode(&p) == nil {
			for i := range s.Transactions {
				if s.Transactions[i].TradeID == p.TradeID {
					s.Transactions[i].PendingReflection = false
				}
			}
		}
	case model.EventAddNotification:
		var p model.NotificationPayload
		if e.Decode(&p) == nil {
			n := p.Notification
			n.At = e.Seq
			s.Notifications = append(s.Notifications, n)
			if over := len(s.Notifications) - NotificationCap; over > 0 {
				s.Notifications = slices.Delete(s.Notifications, 0, over)
			}
		}
	case model.EventMarkNotificationRead:
		var p model.MarkReadPayload
		if e.Decode(&p) == nil {
			for i := range s.Notifications {
				if len(p.IDs) == 0 || slices.Contains(p.IDs, s.Notifications[i].ID) {
					s.Notifications[i].Read = true
				}
			}
		}
	case model.EventUpdateShadowPrices:
		var p model.ShadowPricesPayload
		if e.Decode(&p) == nil {
			for i, v := range p.Prices {
				s.ShadowPrices.Amounts[i] = Round(v)
			}
			s.ShadowPrices.CalculatedAt = e.Seq
			s.Inventory.MutationsSinceShadowCalc = 0
		}
	case model.EventAddReaction:
		var p model.ReactionPayload
		if e.Decode(&p) == nil {
			if s.Reactions == nil {
				s.Reactions = make(map[string]int)
			}
			s.Reactions[p.NegotiationID] = p.Level
		}
	}

	s.EventsProcessed++
	if e.Seq > s.LastUpdate {
		s.LastUpdate = e.Seq
	}
}

func applyInit(s *model.ActorState, p model.InitPayload, seq int64) {
	if pp := p.Profile; pp != nil {
		if pp.ID != nil {
			s.Profile.ID = *pp.ID
		}
		if pp.DisplayName != nil {
			s.Profile.DisplayName = *pp.DisplayName
		}
		if pp.CreatedAt != nil {
			s.Profile.CreatedAt = *pp.CreatedAt
		}
		if pp.Balance != nil {
			s.Profile.Balance = Round(*pp.Balance)
		}
		if pp.StartingBalance != nil {
			s.Profile.StartingBalance = Round(*pp.StartingBalance)
		}
		mergeSettings(&s.Profile, pp.Settings)
		if s.Profile.CreatedAt == 0 {
			s.Profile.CreatedAt = seq
		}
	}
	if ip := p.Inventory; ip != nil {
		for i, v := range ip.Fields() {
			if v != nil {
				s.Inventory.Amounts[i] = clamp(*v)
			}
		}
		s.Inventory.UpdatedAt = seq
	}
	if p.ShadowPrices != nil {
		for i, v := range p.ShadowPrices {
			s.ShadowPrices.Amounts[i] = Round(v)
		}
		s.ShadowPrices.CalculatedAt = seq
	}
}

func mergeSettings(p *model.Profile, settings map[string]json.RawMessage) {
	if len(settings) == 0 {
		return
	}
	if p.Settings == nil {
		p.Settings = make(map[string]json.RawMessage, len(settings))
	}
	for k, v := range settings {
		p.Settings[k] = v
	}
}

func adjustResource(s *model.ActorState, r model.Resource, amount float64, seq int64) {
	s.Inventory.Set(r, clamp(s.Inventory.Get(r)+amount))
	s.Inventory.UpdatedAt = seq
	s.Inventory.MutationsSinceShadowCalc++
}

func applyTransaction(s *model.ActorState, t model.Transaction, seq int64) {
	if t.At == 0 {
		t.At = seq
	}
	switch t.Role {
	case model.RoleSeller:
		adjustResource(s, t.Resource, -t.Quantity, seq)
		s.Profile.Balance = Round(s.Profile.Balance + t.TotalAmount)
	case model.RoleBuyer:
		adjustResource(s, t.Resource, t.Quantity, seq)
		s.Profile.Balance = Round(s.Profile.Balance - t.TotalAmount)
	}
	s.Transactions = append(s.Transactions, t)
}

func patchOffer(o *model.Offer, p model.ListingPatch, seq int64) {
	if p.Quantity != nil {
		o.Quantity = Round(*p.Quantity)
	}
	if p.Price != nil {
		o.MinPrice = *p.Price
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	o.UpdatedAt = seq
}

func patchBuyOrder(o *model.BuyOrder, p model.ListingPatch, seq int64) {
	if p.Quantity != nil {
		o.Quantity = Round(*p.Quantity)
	}
	if p.Price != nil {
		o.MaxPrice = *p.Price
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	o.UpdatedAt = seq
}
