package market_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/daviddao/cndq/pkg/actor"
	"github.com/daviddao/cndq/pkg/fslog"
	"github.com/daviddao/cndq/pkg/market"
	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/store"
)

func newActors(t *testing.T) *actor.Store {
	t.Helper()
	l, err := store.New(filepath.Join(t.TempDir(), "cndq.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return actor.New(l, actor.WithStartingInventory(1000, 1000))
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAggregate_ActiveListingsWithOwners(t *testing.T) {
	a := newActors(t)
	o1, err := a.AddOffer("alice", actor.TradingOpen, model.ResourceC, 10, 4)
	if err != nil {
		t.Fatal(err)
	}
	o2, _ := a.AddOffer("alice", actor.TradingOpen, model.ResourceN, 5, 2)
	if err := a.RemoveOffer("alice", o2.ID); err != nil {
		t.Fatal(err)
	}
	b1, _ := a.AddBuyOrder("bob", actor.TradingOpen, model.ResourceQ, 20, 6)
	if _, err := a.AddAd("bob", actor.TradingOpen, model.ResourceD, "buy", "need D"); err != nil {
		t.Fatal(err)
	}

	v := market.New(a, market.WithTTL(0))
	snap, err := v.Aggregate()
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(snap.Actors) != 2 {
		t.Fatalf("actors = %+v", snap.Actors)
	}
	if len(snap.Offers) != 1 || snap.Offers[0].ID != o1.ID || snap.Offers[0].OwnerID != "alice" {
		t.Fatalf("offers = %+v", snap.Offers)
	}
	if snap.Offers[0].OwnerName != actor.DisplayName("alice") {
		t.Fatalf("owner name = %q", snap.Offers[0].OwnerName)
	}
	if len(snap.BuyOrders) != 1 || snap.BuyOrders[0].ID != b1.ID || snap.BuyOrders[0].OwnerID != "bob" {
		t.Fatalf("buy orders = %+v", snap.BuyOrders)
	}
	if len(snap.Ads) != 1 || snap.Ads[0].OwnerID != "bob" {
		t.Fatalf("ads = %+v", snap.Ads)
	}
	var total int64
	for _, s := range snap.Actors {
		total += s.EventsProcessed
	}
	if snap.TotalEvents != total || snap.LastUpdate == 0 {
		t.Fatalf("totals = %d/%d lastUpdate = %d", snap.TotalEvents, total, snap.LastUpdate)
	}
}

func TestAggregate_ResourceFilterAndOrder(t *testing.T) {
	a := newActors(t)
	for i, price := range []float64{5, 3, 4} {
		if _, err := a.AddOffer(fmt.Sprintf("seller%d", i), actor.TradingOpen, model.ResourceC, 1, price); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := a.AddOffer("seller9", actor.TradingOpen, model.ResourceQ, 1, 1); err != nil {
		t.Fatal(err)
	}
	v := market.New(a, market.WithTTL(0))
	offers, err := v.Offers(model.ResourceC)
	if err != nil {
		t.Fatal(err)
	}
	if len(offers) != 3 || offers[0].MinPrice != 3 || offers[2].MinPrice != 5 {
		t.Fatalf("offers = %+v", offers)
	}
	all, _ := v.Offers("")
	if len(all) != 4 {
		t.Fatalf("all offers = %d", len(all))
	}
}

func TestAggregate_MemoizedForTTL(t *testing.T) {
	a := newActors(t)
	clk := &fakeClock{t: time.Unix(1000, 0)}
	v := market.New(a, market.WithTTL(3*time.Second), market.WithClock(clk.now))

	if _, err := a.AddOffer("alice", actor.TradingOpen, model.ResourceC, 1, 1); err != nil {
		t.Fatal(err)
	}
	first, _ := v.Aggregate()
	if _, err := a.AddOffer("alice", actor.TradingOpen, model.ResourceC, 1, 2); err != nil {
		t.Fatal(err)
	}

	clk.advance(time.Second)
	if snap, _ := v.Aggregate(); len(snap.Offers) != len(first.Offers) {
		t.Fatal("aggregation rebuilt inside the TTL")
	}
	clk.advance(3 * time.Second)
	if snap, _ := v.Aggregate(); len(snap.Offers) != 2 {
		t.Fatalf("stale aggregation after TTL: %d offers", len(snap.Offers))
	}

	if _, err := a.AddOffer("alice", actor.TradingOpen, model.ResourceC, 1, 3); err != nil {
		t.Fatal(err)
	}
	v.Invalidate()
	if snap, _ := v.Aggregate(); len(snap.Offers) != 3 {
		t.Fatalf("Invalidate did not force a rebuild: %d offers", len(snap.Offers))
	}
}

func TestAggregate_CallersCannotEditMemoizedView(t *testing.T) {
	a := newActors(t)
	if _, err := a.AddOffer("alice", actor.TradingOpen, model.ResourceC, 10, 4); err != nil {
		t.Fatal(err)
	}
	v := market.New(a, market.WithTTL(time.Hour))
	first, err := v.Aggregate()
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	first.Offers[0].MinPrice = 0
	first.Offers = append(first.Offers[:0], model.Offer{ID: "forged"})
	first.Actors[0].Balance = -1

	again, _ := v.Aggregate()
	if len(again.Offers) != 1 || again.Offers[0].ID == "forged" || again.Offers[0].MinPrice != 4 {
		t.Fatalf("memoized offers changed: %+v", again.Offers)
	}
	if again.Actors[0].Balance < 0 {
		t.Fatalf("memoized actors changed: %+v", again.Actors)
	}
}

func TestAggregate_SkipsUnreadableActor(t *testing.T) {
	dir := t.TempDir()
	fs, err := fslog.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	a := actor.New(fs, actor.WithStartingInventory(1000, 1000))
	if _, err := a.AddOffer("alice", actor.TradingOpen, model.ResourceC, 1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := a.State("bob"); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "actors", "bob", fmt.Sprintf("event_%020d_set_funds.json", time.Now().UnixMicro()+1e9))
	if err := os.WriteFile(bad, []byte(`{"type":`), 0o644); err != nil {
		t.Fatal(err)
	}

	snap, err := market.New(a).Aggregate()
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(snap.Actors) != 1 || snap.Actors[0].ID != "alice" {
		t.Fatalf("actors = %+v", snap.Actors)
	}
	if len(snap.Skipped) != 1 || snap.Skipped[0] != "bob" {
		t.Fatalf("skipped = %v", snap.Skipped)
	}
	if len(snap.Offers) != 1 {
		t.Fatalf("offers = %+v", snap.Offers)
	}
}

func TestReadListings_MatchesAggregate(t *testing.T) {
	a := newActors(t)
	keep, _ := a.AddOffer("alice", actor.TradingOpen, model.ResourceC, 10, 4)
	gone, _ := a.AddOffer("alice", actor.TradingOpen, model.ResourceD, 10, 4)
	if err := a.RemoveOffer("alice", gone.ID); err != nil {
		t.Fatal(err)
	}
	qty := 3.0
	if _, err := a.UpdateOffer("alice", actor.TradingOpen, model.ListingPatch{ID: keep.ID, Quantity: &qty}); err != nil {
		t.Fatal(err)
	}
	bo, _ := a.AddBuyOrder("bob", actor.TradingOpen, model.ResourceN, 7, 9)
	ad, _ := a.AddAd("bob", actor.TradingOpen, model.ResourceN, "buy", "")
	if err := a.RemoveAd("bob", ad.ID); err != nil {
		t.Fatal(err)
	}

	ls, err := market.ReadListings(a.Log())
	if err != nil {
		t.Fatalf("ReadListings: %v", err)
	}
	if len(ls.Offers) != 1 || ls.Offers[0].ID != keep.ID || ls.Offers[0].Quantity != 3 || ls.Offers[0].OwnerID != "alice" {
		t.Fatalf("offers = %+v", ls.Offers)
	}
	if len(ls.BuyOrders) != 1 || ls.BuyOrders[0].ID != bo.ID {
		t.Fatalf("buy orders = %+v", ls.BuyOrders)
	}
	if len(ls.Ads) != 0 {
		t.Fatalf("ads = %+v", ls.Ads)
	}
	head, _ := a.Log().IndexHead()
	if ls.Pos != head {
		t.Fatalf("Pos = %d, want %d", ls.Pos, head)
	}
}
