package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestParseResource(t *testing.T) {
	cases := []struct {
		in   string
		want Resource
		ok   bool
	}{
		{"C", ResourceC, true},
		{"n", ResourceN, true},
		{" D ", ResourceD, true},
		{"Q", ResourceQ, true},
		{"X", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseResource(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseResource(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseResource(%q) err = %v, want ErrValidation", tc.in, err)
		}
	}
}

func TestAmounts_JSONShape(t *testing.T) {
	a := Amounts{1, 2.5, 0, 4}
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"C":1,"N":2.5,"D":0,"Q":4}` {
		t.Fatalf("got %s", b)
	}
	var back Amounts
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != a {
		t.Fatalf("round trip: got %v, want %v", back, a)
	}
}

func TestInventory_FlatJSON(t *testing.T) {
	inv := Inventory{Amounts: Amounts{10, 20, 30, 40}, UpdatedAt: 7, MutationsSinceShadowCalc: 2}
	b, err := json.Marshal(inv)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["C"] != 10 || m["Q"] != 40 || m["updatedAt"] != 7 || m["transactionsSinceLastShadowCalc"] != 2 {
		t.Fatalf("unexpected shape: %s", b)
	}
}

func TestRole_Inverse(t *testing.T) {
	if RoleBuyer.Inverse() != RoleSeller || RoleSeller.Inverse() != RoleBuyer {
		t.Fatal("Inverse should swap buyer and seller")
	}
}

func TestEventKind_Indexed(t *testing.T) {
	if !EventAddOffer.Indexed() || !EventAddTransaction.Indexed() {
		t.Fatal("listing and trade events must be indexed")
	}
	if EventAdjustResource.Indexed() || EventAddNotification.Indexed() {
		t.Fatal("private events must not be indexed")
	}
}

func TestNewEvent_RejectsInvalidPayloads(t *testing.T) {
	bad := []Payload{
		AdjustResourcePayload{Resource: "X", Amount: 1},
		AdjustResourcePayload{Resource: ResourceC, Amount: math.NaN()},
		AddOfferPayload{Offer: Offer{ID: "o1", Resource: ResourceC, Quantity: -1}},
		AddOfferPayload{Offer: Offer{ID: "o1", Resource: ResourceC, Quantity: 0}},
		AddBuyOrderPayload{BuyOrder: BuyOrder{ID: "b1", Resource: ResourceN, Quantity: 5, MaxPrice: -2}},
		TransactionPayload{Transaction: Transaction{TradeID: "t", Role: "thief", Counterparty: "b", Resource: ResourceC, Quantity: 1}},
		AddAdPayload{Ad: Ad{ID: "a", Resource: ResourceC, Side: "lease"}},
		ReactionPayload{NegotiationID: "n", Level: 11},
		UpdateProfilePayload{DisplayName: new(string)},
	}
	for _, p := range bad {
		if _, err := NewEvent("a", "A", p); !errors.Is(err, ErrValidation) {
			t.Fatalf("%T: err = %v, want ErrValidation", p, err)
		}
	}
}

func TestNewEvent_RequiresActor(t *testing.T) {
	if _, err := NewEvent("", "", SetFundsPayload{Amount: 1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestNewEvent_EncodesPayload(t *testing.T) {
	e, err := NewEvent("a", "Alpha", AdjustResourcePayload{Resource: ResourceC, Amount: -5})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if e.Kind != EventAdjustResource || e.ActorID != "a" || e.ActorName != "Alpha" {
		t.Fatalf("unexpected envelope: %+v", e)
	}
	var p AdjustResourcePayload
	if err := e.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Resource != ResourceC || p.Amount != -5 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestParseEvent(t *testing.T) {
	good := []byte(`{"type":"adjust_chemical","payload":{"chemical":"C","amount":3},"timestamp":17,"actorId":"a","actorName":"A"}`)
	e, err := ParseEvent(good)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if e.Seq != 17 || e.Kind != EventAdjustResource {
		t.Fatalf("unexpected event: %+v", e)
	}

	bad := [][]byte{
		[]byte(`not json`),
		[]byte(`{"type":"x","payload":{},"actorId":"a"}`),
		[]byte(`{"type":"x","payload":[],"timestamp":1,"actorId":"a"}`),
		[]byte(`{"type":"x","payload":{},"timestamp":1,"actorId":""}`),
	}
	for _, raw := range bad {
		if _, err := ParseEvent(raw); !errors.Is(err, ErrStorage) {
			t.Fatalf("ParseEvent(%s) err = %v, want ErrStorage", raw, err)
		}
	}
}

func TestValidateActorID(t *testing.T) {
	for _, id := range []string{"alice", "team-7", "a.b@example.edu", "x_y+z"} {
		if err := ValidateActorID(id); err != nil {
			t.Fatalf("ValidateActorID(%q): %v", id, err)
		}
	}
	for _, id := range []string{"", ".", "..", ".hidden", "a/b", "a b", "../etc", string(make([]byte, 129))} {
		if err := ValidateActorID(id); !errors.Is(err, ErrValidation) {
			t.Fatalf("ValidateActorID(%q) = %v, want ErrValidation", id, err)
		}
	}
}
