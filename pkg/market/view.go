// Package market builds the global marketplace view across all actors.
//
// Aggregate fans out over every actor's state (each read served from that
// actor's own cache when it is current) and keeps the result for a short
// TTL so that polling clients do not multiply reads. Listings answers the
// hot-path question "what is for sale" from the shared marketplace index
// alone, without touching any actor log.
package market

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daviddao/cndq/pkg/actor"
	"github.com/daviddao/cndq/pkg/logging"
	"github.com/daviddao/cndq/pkg/model"
)

// DefaultTTL is how long an aggregation is served before being rebuilt.
const DefaultTTL = 3 * time.Second

// ActorSummary is the public face of one actor.
type ActorSummary struct {
	ID              string  `json:"id"`
	DisplayName     string  `json:"displayName"`
	Balance         float64 `json:"currentFunds"`
	EventsProcessed int64   `json:"eventsProcessed"`
	LastUpdate      int64   `json:"lastUpdate"`
}

// Snapshot is one aggregation of every actor.
type Snapshot struct {
	Actors      []ActorSummary   `json:"actors"`
	Offers      []model.Offer    `json:"allOffers"`
	BuyOrders   []model.BuyOrder `json:"allBuyOrders"`
	Ads         []model.Ad       `json:"ads"`
	LastUpdate  int64            `json:"lastUpdate"`
	TotalEvents int64            `json:"totalEvents"`
	// Skipped lists actors whose state could not be read this time.
	Skipped []string  `json:"skipped,omitempty"`
	BuiltAt time.Time `json:"builtAt"`
}

// View is the memoized global view. Safe for concurrent use.
type View struct {
	actors *actor.Store
	ttl    time.Duration
	now    func() time.Time
	logger logrus.FieldLogger

	mu      sync.Mutex
	current *Snapshot
}

// Option configures a View.
type Option func(*View)

// WithTTL sets how long an aggregation is reused. Zero disables reuse.
func WithTTL(d time.Duration) Option { return func(v *View) { v.ttl = d } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(v *View) { v.logger = l } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(v *View) { v.now = now } }

// New returns a View over actors.
func New(actors *actor.Store, opts ...Option) *View {
	v := &View{actors: actors, ttl: DefaultTTL, now: time.Now, logger: logging.Discard()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Aggregate returns the current aggregation, rebuilding it when the
// memoized one is older than the TTL.
func (v *View) Aggregate() (Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current != nil && v.now().Sub(v.current.BuiltAt) < v.ttl {
		return v.current.clone(), nil
	}
	snap, err := v.build()
	if err != nil {
		return Snapshot{}, err
	}
	v.current = &snap
	return snap.clone(), nil
}

// clone copies the slices so callers cannot edit the memoized view.
func (s Snapshot) clone() Snapshot {
	s.Actors = slices.Clone(s.Actors)
	s.Offers = slices.Clone(s.Offers)
	s.BuyOrders = slices.Clone(s.BuyOrders)
	s.Ads = slices.Clone(s.Ads)
	s.Skipped = slices.Clone(s.Skipped)
	return s
}

// Invalidate drops the memoized aggregation.
func (v *View) Invalidate() {
	v.mu.Lock()
	v.current = nil
	v.mu.Unlock()
}

func (v *View) build() (Snapshot, error) {
	ids, err := v.actors.Log().ListActors()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: list actors: %w", model.ErrStorage, err)
	}
	snap := Snapshot{
		Actors:    make([]ActorSummary, 0, len(ids)),
		Offers:    []model.Offer{},
		BuyOrders: []model.BuyOrder{},
		Ads:       []model.Ad{},
		BuiltAt:   v.now(),
	}
	for _, id := range ids {
		st, err := v.actors.Peek(id)
		if err != nil {
			v.logger.WithError(err).WithField("actor", id).Warn("skipping unreadable actor")
			snap.Skipped = append(snap.Skipped, id)
			continue
		}
		name := st.Profile.DisplayName
		snap.Actors = append(snap.Actors, ActorSummary{
			ID:              id,
			DisplayName:     name,
			Balance:         st.Profile.Balance,
			EventsProcessed: st.EventsProcessed,
			LastUpdate:      st.LastUpdate,
		})
		for _, o := range st.Offers {
			if o.Status == model.StatusActive {
				o.OwnerID, o.OwnerName = id, name
				snap.Offers = append(snap.Offers, o)
			}
		}
		for _, o := range st.BuyOrders {
			if o.Status == model.StatusActive {
				o.OwnerID, o.OwnerName = id, name
				snap.BuyOrders = append(snap.BuyOrders, o)
			}
		}
		for _, ad := range st.Ads {
			ad.OwnerID, ad.OwnerName = id, name
			snap.Ads = append(snap.Ads, ad)
		}
		snap.TotalEvents += st.EventsProcessed
		if st.LastUpdate > snap.LastUpdate {
			snap.LastUpdate = st.LastUpdate
		}
	}
	sortListings(snap.Offers, snap.BuyOrders)
	v.logger.WithFields(logrus.Fields{"actors": len(snap.Actors), "skipped": len(snap.Skipped)}).Debug("market aggregated")
	return snap, nil
}

// Offers returns active offers for r, cheapest first. An empty r means
// every resource.
func (v *View) Offers(r model.Resource) ([]model.Offer, error) {
	snap, err := v.Aggregate()
	if err != nil {
		return nil, err
	}
	out := []model.Offer{}
	for _, o := range snap.Offers {
		if r == "" || o.Resource == r {
			out = append(out, o)
		}
	}
	return out, nil
}

// BuyOrders returns active buy orders for r, best price first. An empty r
// means every resource.
func (v *View) BuyOrders(r model.Resource) ([]model.BuyOrder, error) {
	snap, err := v.Aggregate()
	if err != nil {
		return nil, err
	}
	out := []model.BuyOrder{}
	for _, o := range snap.BuyOrders {
		if r == "" || o.Resource == r {
			out = append(out, o)
		}
	}
	return out, nil
}

// Actors returns the actor summaries.
func (v *View) Actors() ([]ActorSummary, error) {
	snap, err := v.Aggregate()
	return snap.Actors, err
}

func sortListings(offers []model.Offer, orders []model.BuyOrder) {
	sort.SliceStable(offers, func(i, j int) bool {
		if offers[i].MinPrice != offers[j].MinPrice {
			return offers[i].MinPrice < offers[j].MinPrice
		}
		return offers[i].CreatedAt < offers[j].CreatedAt
	})
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].MaxPrice != orders[j].MaxPrice {
			return orders[i].MaxPrice > orders[j].MaxPrice
		}
		return orders[i].CreatedAt < orders[j].CreatedAt
	})
}
