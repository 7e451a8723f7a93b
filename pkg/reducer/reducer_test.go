package reducer

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/daviddao/cndq/pkg/model"
)

var seq int64

func ev(t *testing.T, p model.Payload) model.Event {
	t.Helper()
	e, err := model.NewEvent("a", "Alpha", p)
	if err != nil {
		t.Fatalf("NewEvent(%T): %v", p, err)
	}
	seq++
	e.Seq = seq
	return e
}

func fp(v float64) *float64 { return &v }
func sp(v string) *string   { return &v }

func TestInit_MergesFieldByField(t *testing.T) {
	st := Replay(Initial(), []model.Event{
		ev(t, model.InitPayload{
			Profile:   &model.ProfilePatch{ID: sp("a"), DisplayName: sp("Alpha"), Balance: fp(10)},
			Inventory: &model.InventoryPatch{C: fp(100), N: fp(200)},
		}),
		ev(t, model.InitPayload{
			Inventory: &model.InventoryPatch{N: fp(50), Q: fp(7)},
		}),
	})
	if st.Profile.ID != "a" || st.Profile.DisplayName != "Alpha" || st.Profile.Balance != 10 {
		t.Fatalf("profile = %+v", st.Profile)
	}
	want := model.Amounts{100, 50, 0, 7}
	if st.Inventory.Amounts != want {
		t.Fatalf("inventory = %v, want %v", st.Inventory.Amounts, want)
	}
}

func TestAdjustResource_RoundsAndClamps(t *testing.T) {
	st := Replay(Initial(), []model.Event{
		ev(t, model.AdjustResourcePayload{Resource: model.ResourceC, Amount: 10.123456}),
		ev(t, model.AdjustResourcePayload{Resource: model.ResourceN, Amount: 5}),
		ev(t, model.AdjustResourcePayload{Resource: model.ResourceN, Amount: -20}),
	})
	if got := st.Inventory.Get(model.ResourceC); got != 10.1235 {
		t.Fatalf("C = %v, want 10.1235", got)
	}
	if got := st.Inventory.Get(model.ResourceN); got != 0 {
		t.Fatalf("N = %v, want clamped 0", got)
	}
	if st.Inventory.MutationsSinceShadowCalc != 3 {
		t.Fatalf("mutations = %d, want 3", st.Inventory.MutationsSinceShadowCalc)
	}
}

func TestUnknownKind_AdvancesCounters(t *testing.T) {
	before := Replay(Initial(), []model.Event{ev(t, model.SetFundsPayload{Amount: 5})})
	unknown := model.Event{Kind: "teleport", Payload: json.RawMessage(`{}`), Seq: seq + 100, ActorID: "a"}
	after := Reduce(before, unknown)
	if after.EventsProcessed != before.EventsProcessed+1 {
		t.Fatalf("eventsProcessed = %d, want %d", after.EventsProcessed, before.EventsProcessed+1)
	}
	if after.LastUpdate != unknown.Seq {
		t.Fatalf("lastUpdate = %d, want %d", after.LastUpdate, unknown.Seq)
	}
	if after.Profile.Balance != before.Profile.Balance {
		t.Fatal("unknown event changed the balance")
	}
}

func TestMalformedPayload_IsNoOp(t *testing.T) {
	bad := model.Event{Kind: model.EventAdjustResource, Payload: json.RawMessage(`{"chemical":`), Seq: 1}
	st := Reduce(Initial(), bad)
	if st.EventsProcessed != 1 || st.Inventory.Amounts != (model.Amounts{}) {
		t.Fatalf("state = %+v", st)
	}
}

func TestFunds(t *testing.T) {
	st := Replay(Initial(), []model.Event{
		ev(t, model.SetFundsPayload{Amount: 1000, IsStarting: true}),
		ev(t, model.AdjustFundsPayload{Amount: -250.5}),
		ev(t, model.SetFundsPayload{Amount: 900}),
	})
	if st.Profile.Balance != 900 || st.Profile.StartingBalance != 1000 {
		t.Fatalf("profile = %+v", st.Profile)
	}
}

func TestTransaction_MovesResourceAndMoney(t *testing.T) {
	seller := Replay(Initial(), []model.Event{
		ev(t, model.AdjustResourcePayload{Resource: model.ResourceC, Amount: 100}),
		ev(t, model.SetFundsPayload{Amount: 50}),
		ev(t, model.TransactionPayload{Transaction: model.Transaction{
			TradeID: "t1", Role: model.RoleSeller, Counterparty: "b",
			Resource: model.ResourceC, Quantity: 40, PricePerUnit: 2.5, TotalAmount: 100,
			PendingReflection: true,
		}}),
	})
	if got := seller.Inventory.Get(model.ResourceC); got != 60 {
		t.Fatalf("seller C = %v, want 60", got)
	}
	if seller.Profile.Balance != 150 {
		t.Fatalf("seller balance = %v, want 150", seller.Profile.Balance)
	}

	buyer := Replay(Initial(), []model.Event{
		ev(t, model.SetFundsPayload{Amount: 100}),
		ev(t, model.TransactionPayload{Transaction: model.Transaction{
			TradeID: "t1", Role: model.RoleBuyer, Counterparty: "a",
			Resource: model.ResourceC, Quantity: 40, PricePerUnit: 2.5, TotalAmount: 100,
		}}),
	})
	if got := buyer.Inventory.Get(model.ResourceC); got != 40 || buyer.Profile.Balance != 0 {
		t.Fatalf("buyer C = %v balance = %v", got, buyer.Profile.Balance)
	}
}

func TestMarkReflected(t *testing.T) {
	st := Replay(Initial(), []model.Event{
		ev(t, model.TransactionPayload{Transaction: model.Transaction{
			TradeID: "t1", Role: model.RoleBuyer, Counterparty: "b",
			Resource: model.ResourceQ, Quantity: 1, PendingReflection: true,
		}}),
		ev(t, model.MarkReflectedPayload{TradeID: "t1"}),
	})
	tx, ok := st.FindTransaction("t1")
	if !ok || tx.PendingReflection {
		t.Fatalf("transaction = %+v, ok=%v", tx, ok)
	}
}

func TestListings(t *testing.T) {
	st := Replay(Initial(), []model.Event{
		ev(t, model.AddOfferPayload{Offer: model.Offer{ID: "o1", Resource: model.ResourceC, Quantity: 10, MinPrice: 3}}),
		ev(t, model.AddOfferPayload{Offer: model.Offer{ID: "o2", Resource: model.ResourceD, Quantity: 5, MinPrice: 1}}),
		ev(t, model.UpdateOfferPayload{ListingPatch: model.ListingPatch{ID: "o1", Quantity: fp(4)}}),
		ev(t, model.RemoveOfferPayload{ID: "o2"}),
		ev(t, model.AddBuyOrderPayload{BuyOrder: model.BuyOrder{ID: "b1", Resource: model.ResourceN, Quantity: 8, MaxPrice: 6}}),
		ev(t, model.RemoveBuyOrderPayload{ID: "b1"}),
		ev(t, model.AddAdPayload{Ad: model.Ad{ID: "ad1", Resource: model.ResourceQ, Side: "buy"}}),
		ev(t, model.RemoveAdPayload{ID: "ad1"}),
	})
	o1, _ := st.FindOffer("o1")
	o2, _ := st.FindOffer("o2")
	b1, _ := st.FindBuyOrder("b1")
	if o1.Quantity != 4 || o1.Status != model.StatusActive {
		t.Fatalf("o1 = %+v", o1)
	}
	if o2.Status != model.StatusRemoved || b1.Status != model.StatusRemoved {
		t.Fatalf("o2 = %+v, b1 = %+v", o2, b1)
	}
	if len(st.Ads) != 0 {
		t.Fatalf("ads = %+v", st.Ads)
	}
}

func TestNotificationRing(t *testing.T) {
	var events []model.Event
	for i := 0; i < NotificationCap+10; i++ {
		events = append(events, ev(t, model.NotificationPayload{Notification: model.Notification{
			ID: fmt.Sprintf("n%d", i), Type: "info", Message: "hello",
		}}))
	}
	events = append(events, ev(t, model.MarkReadPayload{IDs: []string{"n59"}}))
	st := Replay(Initial(), events)
	if len(st.Notifications) != NotificationCap {
		t.Fatalf("len = %d, want %d", len(st.Notifications), NotificationCap)
	}
	if st.Notifications[0].ID != "n10" {
		t.Fatalf("oldest = %s, want n10", st.Notifications[0].ID)
	}
	last := st.Notifications[len(st.Notifications)-1]
	if last.ID != "n59" || !last.Read || st.Notifications[0].Read {
		t.Fatalf("read flags wrong: first=%+v last=%+v", st.Notifications[0], last)
	}

	all := Reduce(st, ev(t, model.MarkReadPayload{}))
	for _, n := range all.Notifications {
		if !n.Read {
			t.Fatalf("%s not marked read", n.ID)
		}
	}
}

func TestShadowPrices_ResetMutationCounter(t *testing.T) {
	st := Replay(Initial(), []model.Event{
		ev(t, model.AdjustResourcePayload{Resource: model.ResourceC, Amount: 1}),
		ev(t, model.ShadowPricesPayload{Prices: model.Amounts{1, 2, 3, 0}}),
	})
	if st.Inventory.MutationsSinceShadowCalc != 0 || st.ShadowPrices.Amounts != (model.Amounts{1, 2, 3, 0}) {
		t.Fatalf("state = %+v / %+v", st.Inventory, st.ShadowPrices)
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	base := Replay(Initial(), []model.Event{
		ev(t, model.AddOfferPayload{Offer: model.Offer{ID: "o1", Resource: model.ResourceC, Quantity: 10}}),
	})
	baseJSON, _ := json.Marshal(base)
	_ = Reduce(base, ev(t, model.RemoveOfferPayload{ID: "o1"}))
	_ = Reduce(base, ev(t, model.ReactionPayload{NegotiationID: "neg", Level: 2}))
	afterJSON, _ := json.Marshal(base)
	if string(baseJSON) != string(afterJSON) {
		t.Fatalf("input mutated:\n%s\n%s", baseJSON, afterJSON)
	}
}

func TestReplay_Deterministic(t *testing.T) {
	events := []model.Event{
		ev(t, model.InitPayload{Inventory: &model.InventoryPatch{C: fp(1000), N: fp(1000), D: fp(1000), Q: fp(1000)}}),
		ev(t, model.AdjustResourcePayload{Resource: model.ResourceD, Amount: -333.33333}),
		ev(t, model.UpdateProfilePayload{Settings: map[string]json.RawMessage{"theme": json.RawMessage(`"dark"`)}}),
		ev(t, model.ReactionPayload{NegotiationID: "neg1", Level: 3}),
	}
	a, _ := json.Marshal(Replay(Initial(), events))
	b, _ := json.Marshal(Replay(Initial(), events))
	if string(a) != string(b) {
		t.Fatalf("replays differ:\n%s\n%s", a, b)
	}
}
