// Package reflection mirrors trades into the counterparty's log.
//
// A trade is written once, to the initiator's log, flagged as pending
// reflection. The reflector later writes the counterparty's side: the
// inverse role, the initiator as counterparty, and before/after inventory
// taken from the counterparty's own state. The mirror carries the same
// trade id, and each actor's log accepts a trade id at most once, so any
// number of concurrent or repeated passes produce exactly one mirror.
//
// Three entry points share that core:
//
//   - Reflect mirrors one trade right after it was executed.
//   - ProcessReflections tails the marketplace index from a persisted
//     cursor. The cursor never moves past a trade that failed to mirror.
//   - Sweep scans every actor for trades still flagged pending, which
//     repairs trades whose index row is missing or behind the cursor.
package reflection

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/daviddao/cndq/pkg/actor"
	"github.com/daviddao/cndq/pkg/frontier"
	"github.com/daviddao/cndq/pkg/logging"
	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/reducer"
	"github.com/daviddao/cndq/pkg/store"
)

// CursorName is the index cursor the reflection pass owns.
const CursorName = "reflect"

const indexBatch = 500

// Reflector runs reflection passes. Safe for concurrent use.
type Reflector struct {
	actors *actor.Store
	log    store.Log
	logger logrus.FieldLogger

	// pass serializes ProcessReflections and Sweep within one process.
	// Other processes may run passes at the same time.
	pass sync.Mutex
}

// Option configures a Reflector.
type Option func(*Reflector)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(r *Reflector) { r.logger = l } }

// New returns a Reflector over actors.
func New(actors *actor.Store, opts ...Option) *Reflector {
	r := &Reflector{actors: actors, log: actors.Log(), logger: logging.Discard()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reflect mirrors the trade tradeID recorded in originID's log. It
// reports whether a mirror was written by this call.
func (r *Reflector) Reflect(originID, tradeID string) (bool, error) {
	return r.mirror(originID, tradeID)
}

// ProcessReflections mirrors every unmirrored trade in the marketplace
// index after the cursor and returns how many mirrors it wrote. Trades
// that fail stay pending and hold the cursor back for the next pass.
func (r *Reflector) ProcessReflections() (int, error) {
	r.pass.Lock()
	defer r.pass.Unlock()

	cursor, err := r.log.Cursor(CursorName)
	if err != nil {
		return 0, fmt.Errorf("%w: read cursor: %w", model.ErrStorage, err)
	}

	var pending []frontier.Pending
	mirrored := 0
	pos := cursor
	for {
		entries, err := r.log.Index(pos, indexBatch)
		if err != nil {
			return mirrored, fmt.Errorf("%w: read index: %w", model.ErrStorage, err)
		}
		if len(entries) == 0 {
			break
		}
		for _, ie := range entries {
			pos = ie.Pos
			tx, ok := tradeOf(ie.Event)
			if !ok || tx.IsReflection {
				continue
			}
			done, err := r.mirror(ie.Event.ActorID, tx.TradeID)
			if permanent(err) {
				r.logger.WithError(err).WithField("trade_id", tx.TradeID).Error("dropping trade that can never be reflected")
				continue
			}
			if err != nil {
				r.logger.WithError(err).WithFields(logrus.Fields{
					"trade_id": tx.TradeID, "from": ie.Event.ActorID, "to": tx.Counterparty,
				}).Warn("reflection failed, will retry")
				pending = append(pending, frontier.Pending{
					Pos: ie.Pos, TradeID: tx.TradeID, From: ie.Event.ActorID, To: tx.Counterparty, Reason: err.Error(),
				})
				continue
			}
			if done {
				mirrored++
			}
		}
	}

	if w := frontier.Watermark(pos, pending); w > cursor {
		if err := r.log.SetCursor(CursorName, w); err != nil {
			return mirrored, fmt.Errorf("%w: store cursor: %w", model.ErrStorage, err)
		}
	}
	if mirrored > 0 || len(pending) > 0 {
		r.logger.WithFields(logrus.Fields{"count": mirrored, "pending": len(pending)}).Info("reflection pass")
	}
	return mirrored, nil
}

// Sweep scans every actor for trades still flagged pending and mirrors
// them. Actors that cannot be read are skipped.
func (r *Reflector) Sweep() (int, error) {
	r.pass.Lock()
	defer r.pass.Unlock()

	ids, err := r.log.ListActors()
	if err != nil {
		return 0, fmt.Errorf("%w: list actors: %w", model.ErrStorage, err)
	}
	mirrored := 0
	for _, id := range ids {
		st, err := r.actors.Peek(id)
		if err != nil {
			r.logger.WithError(err).WithField("actor", id).Warn("sweep: skipping unreadable actor")
			continue
		}
		for _, tx := range st.Transactions {
			if !tx.PendingReflection || tx.IsReflection {
				continue
			}
			done, err := r.mirror(id, tx.TradeID)
			if err != nil {
				r.logger.WithError(err).WithFields(logrus.Fields{"trade_id": tx.TradeID, "from": id}).Warn("sweep: reflection failed")
				continue
			}
			if done {
				mirrored++
			}
		}
	}
	if mirrored > 0 {
		r.logger.WithField("count", mirrored).Info("sweep repaired trades")
	}
	return mirrored, nil
}

// Pending lists indexed trades after the cursor whose counterparty does
// not hold the mirror yet. It writes nothing and seeds no actor.
func (r *Reflector) Pending() ([]frontier.Pending, error) {
	cursor, err := r.log.Cursor(CursorName)
	if err != nil {
		return nil, fmt.Errorf("%w: read cursor: %w", model.ErrStorage, err)
	}
	entries, err := r.log.Index(cursor, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: read index: %w", model.ErrStorage, err)
	}
	var out []frontier.Pending
	for _, ie := range entries {
		tx, ok := tradeOf(ie.Event)
		if !ok || tx.IsReflection {
			continue
		}
		p := frontier.Pending{Pos: ie.Pos, TradeID: tx.TradeID, From: ie.Event.ActorID, To: tx.Counterparty}
		st, err := r.actors.Peek(tx.Counterparty)
		if err != nil {
			p.Reason = err.Error()
			out = append(out, p)
			continue
		}
		if _, ok := st.FindTransaction(tx.TradeID); !ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Status reports reflection progress against the index head.
func (r *Reflector) Status() (frontier.Status, error) {
	pending, err := r.Pending()
	if err != nil {
		return frontier.Status{}, err
	}
	head, err := r.log.IndexHead()
	if err != nil {
		return frontier.Status{}, fmt.Errorf("%w: index head: %w", model.ErrStorage, err)
	}
	cursor, err := r.log.Cursor(CursorName)
	if err != nil {
		return frontier.Status{}, fmt.Errorf("%w: read cursor: %w", model.ErrStorage, err)
	}
	return frontier.ComputeStatus(head, cursor, pending), nil
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, model.ErrValidation) || errors.Is(err, model.ErrNotFound)
}

func tradeOf(e model.Event) (model.Transaction, bool) {
	if e.Kind != model.EventAddTransaction {
		return model.Transaction{}, false
	}
	var p model.TransactionPayload
	if err := e.Decode(&p); err != nil {
		return model.Transaction{}, false
	}
	return p.Transaction, true
}

// mirror writes the counterparty's side of one trade if it is missing,
// then clears the originator's pending flag.
func (r *Reflector) mirror(originID, tradeID string) (bool, error) {
	origin, err := r.actors.Peek(originID)
	if errors.Is(err, model.ErrNotFound) {
		// The originator was reset; its trades went with it.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	tx, ok := origin.FindTransaction(tradeID)
	if !ok {
		return false, fmt.Errorf("%w: trade %s in %s", model.ErrNotFound, tradeID, originID)
	}
	if tx.IsReflection {
		return false, nil
	}
	cpID := tx.Counterparty
	if cpID == originID {
		return false, fmt.Errorf("%w: trade %s is a self-trade", model.ErrValidation, tradeID)
	}

	cp, err := r.actors.State(cpID)
	if err != nil {
		return false, err
	}
	log := r.logger.WithFields(logrus.Fields{"trade_id": tradeID, "from": originID, "to": cpID})

	written := false
	if _, ok := cp.FindTransaction(tradeID); !ok {
		m := mirrorOf(tx, originID, origin.Profile.DisplayName, cp)
		_, err := r.actors.AddTransaction(cpID, actor.TradingOpen, m)
		switch {
		case err == nil:
			written = true
			log.Info("trade reflected")
			r.notify(cpID, "trade", describe(m, m.CounterpartyName), log)
			r.notify(originID, "trade_confirmed", fmt.Sprintf("%s confirmed trade %s", cp.Profile.DisplayName, tradeID), log)
		case actor.IsDuplicate(err):
			// Another pass got there first.
		default:
			return false, err
		}
	}

	if tx.PendingReflection {
		if err := r.actors.MarkReflected(originID, tradeID); err != nil {
			// The mirror exists; a later sweep clears the flag.
			log.WithError(err).Warn("mark reflected failed")
		}
	}
	return written, nil
}

// mirrorOf builds the counterparty's record of tx.
func mirrorOf(tx model.Transaction, originID, originName string, cp model.ActorState) model.Transaction {
	before := cp.Inventory.Get(tx.Resource)
	after := before + tx.Quantity
	role := tx.Role.Inverse()
	if role == model.RoleSeller {
		after = before - tx.Quantity
	}
	if after < 0 {
		after = 0
	}
	return model.Transaction{
		TradeID:          tx.TradeID,
		Role:             role,
		Counterparty:     originID,
		CounterpartyName: originName,
		Resource:         tx.Resource,
		Quantity:         tx.Quantity,
		PricePerUnit:     tx.PricePerUnit,
		TotalAmount:      tx.TotalAmount,
		InventoryBefore:  before,
		InventoryAfter:   reducer.Round(after),
		OfferID:          tx.OfferID,
		BuyOrderID:       tx.BuyOrderID,
		Heat:             tx.Heat,
		IsReflection:     true,
	}
}

func describe(t model.Transaction, other string) string {
	if t.Role == model.RoleBuyer {
		return fmt.Sprintf("Bought %v gallons of %s from %s at $%.2f", t.Quantity, t.Resource, other, t.PricePerUnit)
	}
	return fmt.Sprintf("Sold %v gallons of %s to %s at $%.2f", t.Quantity, t.Resource, other, t.PricePerUnit)
}

func (r *Reflector) notify(id, kind, msg string, log logrus.FieldLogger) {
	if _, err := r.actors.AddNotification(id, kind, msg); err != nil {
		log.WithError(err).WithField("actor", id).Warn("notification failed")
	}
}
