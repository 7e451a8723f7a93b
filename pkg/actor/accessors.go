package actor

import (
	"encoding/json"
	"maps"

	"github.com/daviddao/cndq/pkg/model"
)

// Profile returns the actor's profile.
func (s *Store) Profile(id string) (model.Profile, error) {
	st, err := s.State(id)
	return st.Profile, err
}

// Inventory returns the actor's resource holdings.
func (s *Store) Inventory(id string) (model.Inventory, error) {
	st, err := s.State(id)
	return st.Inventory, err
}

// Balance returns the actor's current funds.
func (s *Store) Balance(id string) (float64, error) {
	st, err := s.State(id)
	return st.Profile.Balance, err
}

// Settings returns a copy of the actor's settings.
func (s *Store) Settings(id string) (map[string]json.RawMessage, error) {
	st, err := s.State(id)
	return maps.Clone(st.Profile.Settings), err
}

// Offers returns every offer the actor ever posted, including removed and
// filled ones.
func (s *Store) Offers(id string) ([]model.Offer, error) {
	st, err := s.State(id)
	return st.Offers, err
}

// ActiveOffers returns the actor's open offers.
func (s *Store) ActiveOffers(id string) ([]model.Offer, error) {
	st, err := s.State(id)
	if err != nil {
		return nil, err
	}
	var out []model.Offer
	for _, o := range st.Offers {
		if o.Status == model.StatusActive {
			out = append(out, o)
		}
	}
	return out, nil
}

// BuyOrders returns every buy order the actor ever posted.
func (s *Store) BuyOrders(id string) ([]model.BuyOrder, error) {
	st, err := s.State(id)
	return st.BuyOrders, err
}

// ActiveBuyOrders returns the actor's open buy orders.
func (s *Store) ActiveBuyOrders(id string) ([]model.BuyOrder, error) {
	st, err := s.State(id)
	if err != nil {
		return nil, err
	}
	var out []model.BuyOrder
	for _, o := range st.BuyOrders {
		if o.Status == model.StatusActive {
			out = append(out, o)
		}
	}
	return out, nil
}

// Ads returns the actor's advertisements.
func (s *Store) Ads(id string) ([]model.Ad, error) {
	st, err := s.State(id)
	return st.Ads, err
}

// Transactions returns the actor's trade facts, oldest first.
func (s *Store) Transactions(id string) ([]model.Transaction, error) {
	st, err := s.State(id)
	return st.Transactions, err
}

// Notifications returns the notification ring, oldest first.
func (s *Store) Notifications(id string) ([]model.Notification, error) {
	st, err := s.State(id)
	return st.Notifications, err
}

// UnreadCount returns how many notifications are unread.
func (s *Store) UnreadCount(id string) (int, error) {
	st, err := s.State(id)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, note := range st.Notifications {
		if !note.Read {
			n++
		}
	}
	return n, nil
}

// Productions returns the actor's production history.
func (s *Store) Productions(id string) ([]model.Production, error) {
	st, err := s.State(id)
	return st.Productions, err
}

// ShadowPrices returns the last persisted shadow prices.
func (s *Store) ShadowPrices(id string) (model.ShadowPrices, error) {
	st, err := s.State(id)
	return st.ShadowPrices, err
}
