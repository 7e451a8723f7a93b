// Package model defines the core domain types for cndq.
//
// Cndq runs a multi-actor trading simulation over four raw resources
// (C, N, D, Q). Every actor owns an append-only event log; its current
// state is the left fold of those events through a pure reducer. Nothing
// else is authoritative:
//
//   - Events are immutable and keyed by a per-actor sequence number
//     (microseconds since the epoch, bumped on collision). Replaying the
//     log in sequence order always produces the same state.
//
//   - Trades are written by the initiating actor only and mirrored into
//     the counterparty's log later by the reflection protocol, keyed by
//     a trade id so that re-running it never duplicates a mirror.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Resource names one of the four raw resources.
type Resource string

const (
	ResourceC Resource = "C"
	ResourceN Resource = "N"
	ResourceD Resource = "D"
	ResourceQ Resource = "Q"
)

// NumResources is the size of the closed resource set.
const NumResources = 4

// Resources lists the closed resource set in canonical order.
var Resources = [NumResources]Resource{ResourceC, ResourceN, ResourceD, ResourceQ}

// Index returns r's position in Resources, or -1 when r is unknown.
func (r Resource) Index() int {
	switch r {
	case ResourceC:
		return 0
	case ResourceN:
		return 1
	case ResourceD:
		return 2
	case ResourceQ:
		return 3
	}
	return -1
}

// Valid reports whether r belongs to the closed resource set.
func (r Resource) Valid() bool { return r.Index() >= 0 }

// ParseResource accepts "C", "n", " D " and so on.
func ParseResource(s string) (Resource, error) {
	r := Resource(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown resource %q", ErrValidation, s)
	}
	return r, nil
}

// Amounts holds one quantity per resource, indexed by Resource.Index.
type Amounts [NumResources]float64

// Get returns the amount stored for r. Unknown resources read as zero.
func (a Amounts) Get(r Resource) float64 {
	if i := r.Index(); i >= 0 {
		return a[i]
	}
	return 0
}

// Set stores v for r. Unknown resources are ignored.
func (a *Amounts) Set(r Resource, v float64) {
	if i := r.Index(); i >= 0 {
		a[i] = v
	}
}

// MarshalJSON renders amounts as {"C":..,"N":..,"D":..,"Q":..}.
func (a Amounts) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		C float64 `json:"C"`
		N float64 `json:"N"`
		D float64 `json:"D"`
		Q float64 `json:"Q"`
	}{a[0], a[1], a[2], a[3]})
}

// UnmarshalJSON is the inverse of MarshalJSON. Missing keys read as zero.
func (a *Amounts) UnmarshalJSON(data []byte) error {
	var v struct {
		C float64 `json:"C"`
		N float64 `json:"N"`
		D float64 `json:"D"`
		Q float64 `json:"Q"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*a = Amounts{v.C, v.N, v.D, v.Q}
	return nil
}

// EventKind enumerates the types of events in an actor's log.
type EventKind string

const (
	EventInit                 EventKind = "init"
	EventUpdateProfile        EventKind = "update_profile"
	EventAdjustResource       EventKind = "adjust_chemical"
	EventSetFunds             EventKind = "set_funds"
	EventAdjustFunds          EventKind = "adjust_funds"
	EventAddProduction        EventKind = "add_production"
	EventAddOffer             EventKind = "add_offer"
	EventUpdateOffer          EventKind = "update_offer"
	EventRemoveOffer          EventKind = "remove_offer"
	EventAddBuyOrder          EventKind = "add_buy_order"
	EventUpdateBuyOrder       EventKind = "update_buy_order"
	EventRemoveBuyOrder       EventKind = "remove_buy_order"
	EventAddAd                EventKind = "add_ad"
	EventRemoveAd             EventKind = "remove_ad"
	EventAddTransaction       EventKind = "add_transaction"
	EventMarkReflected        EventKind = "mark_reflected"
	EventAddNotification      EventKind = "add_notification"
	EventMarkNotificationRead EventKind = "mark_notifications_read"
	EventUpdateShadowPrices   EventKind = "update_shadow_prices"
	EventAddReaction          EventKind = "add_reaction"
)

// Indexed reports whether events of this kind are also recorded in the
// global marketplace index.
func (k EventKind) Indexed() bool {
	switch k {
	case EventAddOffer, EventUpdateOffer, EventRemoveOffer,
		EventAddBuyOrder, EventUpdateBuyOrder, EventRemoveBuyOrder,
		EventAddAd, EventRemoveAd, EventAddTransaction:
		return true
	}
	return false
}

// Event is a single entry in an actor's append-only log.
//
// Seq is the sequence key: microseconds since the Unix epoch at append
// time, strictly increasing within one actor. Payload is opaque JSON whose
// shape depends on Kind; see payloads.go.
type Event struct {
	Kind      EventKind       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Seq       int64           `json:"timestamp"`
	ActorID   string          `json:"actorId"`
	ActorName string          `json:"actorName"`
	// DedupeKey, when set, must be unique within the actor's log.
	DedupeKey string `json:"dedupeKey,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s event has no payload", ErrValidation, e.Kind)
	}
	return json.Unmarshal(e.Payload, v)
}

// IndexEntry is one row of the global marketplace index: a copy of an
// indexed event plus its position in the index.
type IndexEntry struct {
	Pos   int64 `json:"pos"`
	Event Event `json:"event"`
}

// ValidateActorID rejects ids that cannot be used as a storage key: empty,
// longer than 128 bytes, path separators, or anything outside
// [A-Za-z0-9._@+-].
func ValidateActorID(id string) error {
	if id == "" || len(id) > 128 || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: invalid actor id %q", ErrValidation, id)
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '@', c == '+', c == '-':
		default:
			return fmt.Errorf("%w: invalid actor id %q", ErrValidation, id)
		}
	}
	return nil
}
