package model

import "encoding/json"

// OrderStatus is the lifecycle state of an offer or buy order.
type OrderStatus string

const (
	StatusActive  OrderStatus = "active"
	StatusFilled  OrderStatus = "filled"
	StatusRemoved OrderStatus = "removed"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	return s == StatusActive || s == StatusFilled || s == StatusRemoved
}

// Role is an actor's side in a trade.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Inverse returns the counterparty's role.
func (r Role) Inverse() Role {
	if r == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

// Profile is an actor's identity and money.
type Profile struct {
	ID              string                     `json:"id"`
	DisplayName     string                     `json:"displayName"`
	CreatedAt       int64                      `json:"createdAt"`
	Balance         float64                    `json:"currentFunds"`
	StartingBalance float64                    `json:"startingFunds"`
	Settings        map[string]json.RawMessage `json:"settings,omitempty"`
}

// Inventory is an actor's resource holdings. Amounts are never negative
// and are rounded to four decimal places.
type Inventory struct {
	Amounts
	UpdatedAt int64 `json:"updatedAt"`
	// MutationsSinceShadowCalc counts inventory-changing events since
	// shadow prices were last recomputed.
	MutationsSinceShadowCalc int64 `json:"transactionsSinceLastShadowCalc"`
}

// MarshalJSON flattens the resource amounts next to the bookkeeping fields.
func (inv Inventory) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		C                        float64 `json:"C"`
		N                        float64 `json:"N"`
		D                        float64 `json:"D"`
		Q                        float64 `json:"Q"`
		UpdatedAt                int64   `json:"updatedAt"`
		MutationsSinceShadowCalc int64   `json:"transactionsSinceLastShadowCalc"`
	}{inv.Amounts[0], inv.Amounts[1], inv.Amounts[2], inv.Amounts[3], inv.UpdatedAt, inv.MutationsSinceShadowCalc})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (inv *Inventory) UnmarshalJSON(data []byte) error {
	var v struct {
		C                        float64 `json:"C"`
		N                        float64 `json:"N"`
		D                        float64 `json:"D"`
		Q                        float64 `json:"Q"`
		UpdatedAt                int64   `json:"updatedAt"`
		MutationsSinceShadowCalc int64   `json:"transactionsSinceLastShadowCalc"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*inv = Inventory{
		Amounts:                  Amounts{v.C, v.N, v.D, v.Q},
		UpdatedAt:                v.UpdatedAt,
		MutationsSinceShadowCalc: v.MutationsSinceShadowCalc,
	}
	return nil
}

// Production records one run of the production solver.
type Production struct {
	Kind     string             `json:"type"`
	Plan     map[string]float64 `json:"plan"`
	Revenue  float64            `json:"revenue"`
	Consumed Amounts            `json:"consumed"`
	At       int64              `json:"timestamp"`
}

// Offer is a standing sell listing.
type Offer struct {
	ID        string      `json:"id"`
	Resource  Resource    `json:"chemical"`
	Quantity  float64     `json:"quantity"`
	MinPrice  float64     `json:"minPrice"`
	Status    OrderStatus `json:"status"`
	CreatedAt int64       `json:"createdAt"`
	UpdatedAt int64       `json:"updatedAt,omitempty"`
	// Owner fields are only populated by the global view.
	OwnerID   string `json:"sellerId,omitempty"`
	OwnerName string `json:"sellerName,omitempty"`
}

// BuyOrder is a standing buy listing.
type BuyOrder struct {
	ID        string      `json:"id"`
	Resource  Resource    `json:"chemical"`
	Quantity  float64     `json:"quantity"`
	MaxPrice  float64     `json:"maxPrice"`
	Status    OrderStatus `json:"status"`
	CreatedAt int64       `json:"createdAt"`
	UpdatedAt int64       `json:"updatedAt,omitempty"`
	OwnerID   string      `json:"buyerId,omitempty"`
	OwnerName string      `json:"buyerName,omitempty"`
}

// Ad is a lightweight "interested in buying/selling" signal.
type Ad struct {
	ID        string   `json:"id"`
	Resource  Resource `json:"chemical"`
	Side      string   `json:"type"`
	Message   string   `json:"message,omitempty"`
	CreatedAt int64    `json:"createdAt"`
	OwnerID   string   `json:"teamId,omitempty"`
	OwnerName string   `json:"teamName,omitempty"`
}

// Transaction is one side of a trade as seen by one actor.
type Transaction struct {
	TradeID          string          `json:"transactionId"`
	Role             Role            `json:"role"`
	Counterparty     string          `json:"counterparty"`
	CounterpartyName string          `json:"counterpartyName,omitempty"`
	Resource         Resource        `json:"chemical"`
	Quantity         float64         `json:"quantity"`
	PricePerUnit     float64         `json:"pricePerGallon"`
	TotalAmount      float64         `json:"totalAmount"`
	InventoryBefore  float64         `json:"inventoryBefore"`
	InventoryAfter   float64         `json:"inventoryAfter"`
	At               int64           `json:"timestamp"`
	OfferID          string          `json:"offerId,omitempty"`
	BuyOrderID       string          `json:"buyOrderId,omitempty"`
	Heat             json.RawMessage `json:"heat,omitempty"`
	// PendingReflection is true on the initiator's record until the
	// counterparty holds the mirror.
	PendingReflection bool `json:"isPendingReflection,omitempty"`
	IsReflection      bool `json:"isReflection,omitempty"`
}

// Notification is an entry in the actor's bounded notification ring.
type Notification struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Message string `json:"message"`
	At      int64  `json:"timestamp"`
	Read    bool   `json:"read"`
}

// ShadowPrices is the marginal value of one more unit of each resource.
type ShadowPrices struct {
	Amounts
	CalculatedAt int64 `json:"calculatedAt"`
}

// MarshalJSON flattens prices next to CalculatedAt.
func (sp ShadowPrices) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		C            float64 `json:"C"`
		N            float64 `json:"N"`
		D            float64 `json:"D"`
		Q            float64 `json:"Q"`
		CalculatedAt int64   `json:"calculatedAt"`
	}{sp.Amounts[0], sp.Amounts[1], sp.Amounts[2], sp.Amounts[3], sp.CalculatedAt})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (sp *ShadowPrices) UnmarshalJSON(data []byte) error {
	var v struct {
		C            float64 `json:"C"`
		N            float64 `json:"N"`
		D            float64 `json:"D"`
		Q            float64 `json:"Q"`
		CalculatedAt int64   `json:"calculatedAt"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*sp = ShadowPrices{Amounts: Amounts{v.C, v.N, v.D, v.Q}, CalculatedAt: v.CalculatedAt}
	return nil
}

// ActorState is the aggregate obtained by folding an actor's events.
type ActorState struct {
	Profile         Profile        `json:"profile"`
	Inventory       Inventory      `json:"inventory"`
	Productions     []Production   `json:"productions"`
	Offers          []Offer        `json:"offers"`
	BuyOrders       []BuyOrder     `json:"buyOrders"`
	Ads             []Ad           `json:"ads"`
	Transactions    []Transaction  `json:"transactions"`
	Notifications   []Notification `json:"notifications"`
	ShadowPrices    ShadowPrices   `json:"shadowPrices"`
	Reactions       map[string]int `json:"reactions,omitempty"`
	EventsProcessed int64          `json:"eventsProcessed"`
	LastUpdate      int64          `json:"lastUpdate"`
}

// FindTransaction returns the transaction with the given trade id.
func (s *ActorState) FindTransaction(tradeID string) (Transaction, bool) {
	for _, t := range s.Transactions {
		if t.TradeID == tradeID {
			return t, true
		}
	}
	return Transaction{}, false
}

// FindOffer returns the offer with the given id.
func (s *ActorState) FindOffer(id string) (Offer, bool) {
	for _, o := range s.Offers {
		if o.ID == id {
			return o, true
		}
	}
	return Offer{}, false
}

// FindBuyOrder returns the buy order with the given id.
func (s *ActorState) FindBuyOrder(id string) (BuyOrder, bool) {
	for _, o := range s.BuyOrders {
		if o.ID == id {
			return o, true
		}
	}
	return BuyOrder{}, false
}

// CacheEntry is a materialized state stamped with the log head it was
// folded from. It is valid only while the log head is unchanged.
type CacheEntry struct {
	State  ActorState `json:"state"`
	Seq    int64      `json:"seq"`
	Events int64      `json:"events"`
}

// Snapshot is a materialized state covering the first SnapshotEvents
// events of the log, up to and including Seq.
type Snapshot struct {
	State          ActorState `json:"state"`
	Seq            int64      `json:"seq"`
	SnapshotEvents int64      `json:"snapshotEvents"`
	CreatedAt      int64      `json:"createdAt"`
}
