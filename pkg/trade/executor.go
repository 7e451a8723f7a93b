// Package trade executes a bilateral trade between two actors.
//
// Execute writes the trade once, to the initiator's log, marked pending
// reflection, and then asks the reflector to write the counterparty's
// side synchronously. If that fails the trade stays pending and the
// periodic reflection pass repairs it; the caller still gets success,
// because the initiator's record is already committed.
package trade

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/daviddao/cndq/pkg/actor"
	"github.com/daviddao/cndq/pkg/logging"
	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/reducer"
	"github.com/daviddao/cndq/pkg/reflection"
)

// Request describes one trade. Initiator must be Seller or Buyer; empty
// means the buyer, who is usually the one accepting an offer.
type Request struct {
	Seller     string          `json:"seller"`
	Buyer      string          `json:"buyer"`
	Initiator  string          `json:"initiator,omitempty"`
	Resource   model.Resource  `json:"chemical"`
	Quantity   float64         `json:"quantity"`
	Price      float64         `json:"pricePerGallon"`
	OfferID    string          `json:"offerId,omitempty"`
	BuyOrderID string          `json:"buyOrderId,omitempty"`
	Heat       json.RawMessage `json:"heat,omitempty"`
}

// Result is what Execute committed.
type Result struct {
	TradeID     string            `json:"transactionId"`
	Transaction model.Transaction `json:"transaction"`
	Reflected   bool              `json:"reflected"`
}

// Executor runs trades.
type Executor struct {
	actors    *actor.Store
	reflector *reflection.Reflector
	logger    logrus.FieldLogger
	newID     func() string
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(x *Executor) { x.logger = l } }

// New returns an Executor.
func New(actors *actor.Store, reflector *reflection.Reflector, opts ...Option) *Executor {
	x := &Executor{actors: actors, reflector: reflector, logger: logging.Discard(), newID: uuid.NewString}
	for _, o := range opts {
		o(x)
	}
	return x
}

func (r Request) validate() error {
	if r.Seller == r.Buyer {
		return fmt.Errorf("%w: %s cannot trade with itself", model.ErrValidation, r.Seller)
	}
	for _, id := range []string{r.Seller, r.Buyer} {
		if err := model.ValidateActorID(id); err != nil {
			return err
		}
	}
	if r.Initiator != "" && r.Initiator != r.Seller && r.Initiator != r.Buyer {
		return fmt.Errorf("%w: initiator %s is not a party to the trade", model.ErrValidation, r.Initiator)
	}
	if !r.Resource.Valid() {
		return fmt.Errorf("%w: unknown resource %q", model.ErrValidation, r.Resource)
	}
	if !(r.Quantity > 0) || math.IsInf(r.Quantity, 0) {
		return fmt.Errorf("%w: quantity must be positive, got %v", model.ErrValidation, r.Quantity)
	}
	if !(r.Price >= 0) || math.IsInf(r.Price, 0) {
		return fmt.Errorf("%w: price must not be negative, got %v", model.ErrValidation, r.Price)
	}
	if r.Heat != nil && !json.Valid(r.Heat) {
		return fmt.Errorf("%w: heat is not valid JSON", model.ErrValidation)
	}
	return nil
}

// Execute validates and commits req. Validation failures and a closed
// gate append nothing to either log.
func (x *Executor) Execute(gate actor.Gate, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	if gate == actor.TradingClosed {
		return Result{}, model.ErrTradingClosed
	}

	seller, err := x.actors.State(req.Seller)
	if err != nil {
		return Result{}, err
	}
	buyer, err := x.actors.State(req.Buyer)
	if err != nil {
		return Result{}, err
	}

	total := reducer.Round(req.Quantity * req.Price)
	if have := seller.Inventory.Get(req.Resource); have < req.Quantity {
		return Result{}, fmt.Errorf("%w: %s has %v %s, trade needs %v", model.ErrValidation, req.Seller, have, req.Resource, req.Quantity)
	}
	if buyer.Profile.Balance < total {
		return Result{}, fmt.Errorf("%w: %s has $%.2f, trade costs $%.2f", model.ErrValidation, req.Buyer, buyer.Profile.Balance, total)
	}

	var offer *model.Offer
	if req.OfferID != "" {
		o, ok := seller.FindOffer(req.OfferID)
		if !ok || o.Status != model.StatusActive || o.Resource != req.Resource {
			return Result{}, fmt.Errorf("%w: active %s offer %s from %s", model.ErrNotFound, req.Resource, req.OfferID, req.Seller)
		}
		if req.Price < o.MinPrice {
			return Result{}, fmt.Errorf("%w: offer %s asks at least %v, trade pays %v", model.ErrValidation, o.ID, o.MinPrice, req.Price)
		}
		if req.Quantity > o.Quantity {
			return Result{}, fmt.Errorf("%w: offer %s has %v left, trade takes %v", model.ErrValidation, o.ID, o.Quantity, req.Quantity)
		}
		offer = &o
	}
	var order *model.BuyOrder
	if req.BuyOrderID != "" {
		o, ok := buyer.FindBuyOrder(req.BuyOrderID)
		if !ok || o.Status != model.StatusActive || o.Resource != req.Resource {
			return Result{}, fmt.Errorf("%w: active %s buy order %s from %s", model.ErrNotFound, req.Resource, req.BuyOrderID, req.Buyer)
		}
		if req.Price > o.MaxPrice {
			return Result{}, fmt.Errorf("%w: buy order %s pays at most %v, trade asks %v", model.ErrValidation, o.ID, o.MaxPrice, req.Price)
		}
		if req.Quantity > o.Quantity {
			return Result{}, fmt.Errorf("%w: buy order %s wants %v more, trade brings %v", model.ErrValidation, o.ID, o.Quantity, req.Quantity)
		}
		order = &o
	}

	self, other := buyer, seller
	role := model.RoleBuyer
	if req.Initiator == req.Seller {
		self, other = seller, buyer
		role = model.RoleSeller
	}
	before := self.Inventory.Get(req.Resource)
	after := before + req.Quantity
	if role == model.RoleSeller {
		after = before - req.Quantity
	}

	tx := model.Transaction{
		TradeID:           x.newID(),
		Role:              role,
		Counterparty:      other.Profile.ID,
		CounterpartyName:  other.Profile.DisplayName,
		Resource:          req.Resource,
		Quantity:          req.Quantity,
		PricePerUnit:      req.Price,
		TotalAmount:       total,
		InventoryBefore:   before,
		InventoryAfter:    reducer.Round(after),
		OfferID:           req.OfferID,
		BuyOrderID:        req.BuyOrderID,
		Heat:              req.Heat,
		PendingReflection: true,
	}
	rec, err := x.actors.AddTransaction(self.Profile.ID, gate, tx)
	if err != nil {
		return Result{}, err
	}
	log := x.logger.WithFields(logrus.Fields{"trade_id": tx.TradeID, "seller": req.Seller, "buyer": req.Buyer})
	log.WithFields(logrus.Fields{"chemical": req.Resource, "quantity": req.Quantity, "price": req.Price}).Info("trade recorded")

	if offer != nil {
		x.fill(log, func(p model.ListingPatch) error {
			_, err := x.actors.UpdateOffer(req.Seller, gate, p)
			return err
		}, offer.ID, offer.Quantity, req.Quantity)
	}
	if order != nil {
		x.fill(log, func(p model.ListingPatch) error {
			_, err := x.actors.UpdateBuyOrder(req.Buyer, gate, p)
			return err
		}, order.ID, order.Quantity, req.Quantity)
	}

	res := Result{TradeID: tx.TradeID, Transaction: rec}
	reflected, err := x.reflector.Reflect(self.Profile.ID, tx.TradeID)
	if err != nil {
		log.WithError(err).Warn("synchronous reflection failed, left for the poller")
		return res, nil
	}
	res.Reflected = reflected
	if st, err := x.actors.State(self.Profile.ID); err == nil {
		if t, ok := st.FindTransaction(tx.TradeID); ok {
			res.Transaction = t
		}
	}
	return res, nil
}

// fill shrinks a listing by the traded quantity and marks it filled when
// nothing is left. Failures are logged: the trade itself is committed.
func (x *Executor) fill(log logrus.FieldLogger, update func(model.ListingPatch) error, id string, have, traded float64) {
	left := reducer.Round(have - traded)
	p := model.ListingPatch{ID: id}
	if left <= 0 {
		zero, filled := 0.0, model.StatusFilled
		p.Quantity, p.Status = &zero, &filled
	} else {
		p.Quantity = &left
	}
	if err := update(p); err != nil {
		log.WithError(err).WithField("listing", id).Warn("listing update failed")
	}
}
