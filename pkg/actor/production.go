package actor

import (
	"github.com/sirupsen/logrus"

	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/reducer"
	"github.com/daviddao/cndq/pkg/solver"
)

// ShadowQuote solves the production program for the actor's current
// inventory without persisting anything. The solver only sees this
// actor's inventory. A solver failure degrades to the zero plan so a
// stalled valuation never blocks trading.
func (s *Store) ShadowQuote(id string) (solver.Result, error) {
	inv, err := s.Inventory(id)
	if err != nil {
		return solver.Result{}, err
	}
	return s.quote(id, inv.Amounts), nil
}

func (s *Store) quote(id string, inv model.Amounts) solver.Result {
	res, err := solver.Solve(s.recipe, inv)
	if err != nil {
		s.logger.WithError(err).WithField("actor", id).Warn("solver failed, using zero plan")
		res = solver.Zero(s.recipe)
	}
	return res
}

// RefreshShadowPrices recomputes and persists the actor's shadow prices.
func (s *Store) RefreshShadowPrices(id string) (model.ShadowPrices, error) {
	res, err := s.ShadowQuote(id)
	if err != nil {
		return model.ShadowPrices{}, err
	}
	return s.UpdateShadowPrices(id, res.Rounded(reducer.Precision).ShadowPrices)
}

// Produce runs the optimal plan on the actor's current inventory:
// resources are debited, revenue is credited and the run is recorded.
func (s *Store) Produce(id string) (model.Production, error) {
	inv, err := s.Inventory(id)
	if err != nil {
		return model.Production{}, err
	}
	return s.recordProduction(id, s.quote(id, inv.Amounts), "manual", false)
}

// recordProduction applies a solver result as separate debit, credit and
// record events. With starting set the revenue becomes the actor's
// starting balance rather than a credit.
func (s *Store) recordProduction(id string, res solver.Result, kind string, starting bool) (model.Production, error) {
	res = res.Rounded(reducer.Precision)
	for i, r := range model.Resources {
		if res.Consumed[i] <= 0 {
			continue
		}
		if _, err := s.append(id, model.AdjustResourcePayload{Resource: r, Amount: -res.Consumed[i]}, ""); err != nil {
			return model.Production{}, err
		}
	}

	var funds model.Payload = model.AdjustFundsPayload{Amount: res.MaxValue}
	if starting {
		funds = model.SetFundsPayload{Amount: res.MaxValue, IsStarting: true}
	}
	if _, err := s.append(id, funds, ""); err != nil {
		return model.Production{}, err
	}

	prod := model.Production{Kind: kind, Plan: res.Plan, Revenue: res.MaxValue, Consumed: res.Consumed}
	e, err := s.append(id, model.ProductionPayload{Production: prod}, "")
	if err != nil {
		return model.Production{}, err
	}
	prod.At = e.Seq
	s.logger.WithFields(logrus.Fields{"actor": id, "kind": kind, "revenue": res.MaxValue}).Info("production recorded")
	return prod, nil
}
