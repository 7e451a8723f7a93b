// Package solver computes an actor's optimal production plan and the
// sensitivity report that comes with it.
//
// The program is
//
//	maximize   Σ revenue_j · x_j
//	subject to Σ uses_ij · x_j ≤ inventory_i   for each resource i
//	           x_j ≥ 0
//
// solved with a dense simplex tableau using Bland's rule, so it always
// terminates. Shadow prices are read from the objective row under the
// slack columns; right-hand-side ranging uses the columns of B⁻¹.
package solver

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/daviddao/cndq/pkg/model"
)

const (
	eps           = 1e-9
	maxIterations = 1000
)

// Limit is a ranging bound. Unbounded means the basis stays optimal for
// any change in that direction.
type Limit float64

// Unbounded is the infinite Limit.
var Unbounded = Limit(math.Inf(1))

// IsUnbounded reports whether l is the infinite sentinel.
func (l Limit) IsUnbounded() bool { return math.IsInf(float64(l), 1) }

func (l Limit) String() string {
	if l.IsUnbounded() {
		return "unbounded"
	}
	return strconv.FormatFloat(float64(l), 'f', -1, 64)
}

// MarshalJSON encodes Unbounded as the string "unbounded".
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.IsUnbounded() {
		return []byte(`"unbounded"`), nil
	}
	return json.Marshal(float64(l))
}

// UnmarshalJSON accepts a number or "unbounded".
func (l *Limit) UnmarshalJSON(data []byte) error {
	if string(data) == `"unbounded"` {
		*l = Unbounded
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*l = Limit(v)
	return nil
}

// Status tells whether a resource constraint is exhausted at the optimum.
type Status string

const (
	Binding    Status = "binding"
	NotBinding Status = "not_binding"
)

// Constraint is the per-resource part of the sensitivity report.
type Constraint struct {
	Resource          model.Resource `json:"chemical"`
	Available         float64        `json:"available"`
	Used              float64        `json:"used"`
	Slack             float64        `json:"slack"`
	ShadowPrice       float64        `json:"shadowPrice"`
	Status            Status         `json:"status"`
	AllowableIncrease Limit          `json:"allowableIncrease"`
	AllowableDecrease Limit          `json:"allowableDecrease"`
}

// Result is an optimal plan plus its sensitivity report.
type Result struct {
	Plan         map[string]float64            `json:"plan"`
	MaxValue     float64                       `json:"maxProfit"`
	ShadowPrices model.Amounts                 `json:"shadowPrices"`
	Consumed     model.Amounts                 `json:"consumed"`
	Constraints  [model.NumResources]Constraint `json:"constraints"`
}

// Solve returns the revenue-maximizing plan for inventory under recipe.
// Inventory that cannot produce anything yields the zero plan with all
// shadow prices zero.
func Solve(recipe Recipe, inventory model.Amounts) (Result, error) {
	if err := recipe.Validate(); err != nil {
		return Result{}, err
	}
	for i, v := range inventory {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Result{}, fmt.Errorf("%w: inventory %s is not finite", model.ErrValidation, model.Resources[i])
		}
		if v < 0 {
			inventory[i] = 0
		}
	}

	if degenerate(inventory) {
		return zeroResult(recipe, inventory), nil
	}

	t := newTableau(recipe, inventory)
	if err := t.optimize(); err != nil {
		return Result{}, err
	}
	res := t.report(recipe, inventory)
	if res.MaxValue <= eps {
		// Nothing can be produced. More of a single resource may still not
		// help, so no resource is priced.
		return zeroResult(recipe, inventory), nil
	}
	return res, nil
}

func degenerate(inventory model.Amounts) bool {
	for _, v := range inventory {
		if v > eps {
			return false
		}
	}
	return true
}

// Zero is the empty plan over recipe's goods, for callers that must
// report a valuation even when Solve fails.
func Zero(recipe Recipe) Result {
	return zeroResult(recipe, model.Amounts{})
}

func zeroResult(recipe Recipe, inventory model.Amounts) Result {
	res := Result{Plan: make(map[string]float64, len(recipe))}
	for _, g := range recipe {
		res.Plan[g.Name] = 0
	}
	for i, r := range model.Resources {
		c := Constraint{Resource: r, Available: inventory[i], Status: Binding}
		if inventory[i] > eps {
			c.Slack = inventory[i]
			c.Status = NotBinding
			c.AllowableIncrease = Unbounded
			c.AllowableDecrease = Limit(inventory[i])
		}
		res.Constraints[i] = c
	}
	return res
}

// tableau holds m constraint rows plus the objective row. Columns are the
// n goods, then m slacks, then the right-hand side.
type tableau struct {
	m, n  int
	rows  [][]float64
	basis []int
}

func newTableau(recipe Recipe, inventory model.Amounts) *tableau {
	m, n := model.NumResources, len(recipe)
	t := &tableau{m: m, n: n, rows: make([][]float64, m+1), basis: make([]int, m)}
	width := n + m + 1
	for i := 0; i < m; i++ {
		row := make([]float64, width)
		for j, g := range recipe {
			row[j] = g.Uses[i]
		}
		row[n+i] = 1
		row[width-1] = inventory[i]
		t.rows[i] = row
		t.basis[i] = n + i
	}
	obj := make([]float64, width)
	for j, g := range recipe {
		obj[j] = -g.Revenue
	}
	t.rows[m] = obj
	return t
}

func (t *tableau) rhs() int { return t.n + t.m }

func (t *tableau) optimize() error {
	for iter := 0; iter < maxIterations; iter++ {
		enter := -1
		for j := 0; j < t.n+t.m; j++ {
			if t.rows[t.m][j] < -eps {
				enter = j
				break
			}
		}
		if enter < 0 {
			return nil
		}
		leave := -1
		best := math.Inf(1)
		for i := 0; i < t.m; i++ {
			a := t.rows[i][enter]
			if a <= eps {
				continue
			}
			ratio := t.rows[i][t.rhs()] / a
			if ratio < best-eps || (math.Abs(ratio-best) <= eps && t.basis[i] < t.basis[leave]) {
				best, leave = ratio, i
			}
		}
		if leave < 0 {
			return fmt.Errorf("%w: production program is unbounded", model.ErrValidation)
		}
		t.pivot(leave, enter)
	}
	return fmt.Errorf("simplex did not converge after %d iterations", maxIterations)
}

func (t *tableau) pivot(r, c int) {
	p := t.rows[r][c]
	for j := range t.rows[r] {
		t.rows[r][j] /= p
	}
	for i := range t.rows {
		if i == r {
			continue
		}
		f := t.rows[i][c]
		if f == 0 {
			continue
		}
		for j := range t.rows[i] {
			t.rows[i][j] -= f * t.rows[r][j]
		}
	}
	t.basis[r] = c
}

func (t *tableau) report(recipe Recipe, inventory model.Amounts) Result {
	x := make([]float64, t.n)
	for i, b := range t.basis {
		if b < t.n {
			x[b] = clean(t.rows[i][t.rhs()])
		}
	}

	res := Result{
		Plan:     make(map[string]float64, t.n),
		MaxValue: clean(t.rows[t.m][t.rhs()]),
	}
	for j, g := range recipe {
		res.Plan[g.Name] = x[j]
		for i := range g.Uses {
			res.Consumed[i] += g.Uses[i] * x[j]
		}
	}

	for i, r := range model.Resources {
		used := clean(res.Consumed[i])
		slack := clean(inventory[i] - used)
		if slack < 0 {
			slack = 0
		}
		price := clean(t.rows[t.m][t.n+i])
		res.ShadowPrices[i] = price
		status := NotBinding
		if slack <= eps*math.Max(1, inventory[i]) {
			status = Binding
			slack = 0
		}
		inc, dec := t.ranging(i)
		res.Constraints[i] = Constraint{
			Resource:          r,
			Available:         inventory[i],
			Used:              used,
			Slack:             slack,
			ShadowPrice:       price,
			Status:            status,
			AllowableIncrease: inc,
			AllowableDecrease: dec,
		}
	}
	return res
}

// ranging returns how far the right-hand side of constraint i can rise
// and fall before some basic variable would go negative.
func (t *tableau) ranging(i int) (inc, dec Limit) {
	inc, dec = Unbounded, Unbounded
	col := t.n + i
	for r := 0; r < t.m; r++ {
		d := t.rows[r][col]
		xb := math.Max(0, clean(t.rows[r][t.rhs()]))
		switch {
		case d < -eps:
			if v := Limit(xb / -d); v < inc {
				inc = v
			}
		case d > eps:
			if v := Limit(xb / d); v < dec {
				dec = v
			}
		}
	}
	return inc, dec
}

func clean(v float64) float64 {
	if math.Abs(v) < eps {
		return 0
	}
	return v
}

// Rounded returns a copy of r with every figure rounded to places decimal
// places, for display.
func (r Result) Rounded(places int32) Result {
	round := func(v float64) float64 {
		return decimal.NewFromFloat(v).Round(places).InexactFloat64()
	}
	roundLimit := func(l Limit) Limit {
		if l.IsUnbounded() {
			return l
		}
		return Limit(round(float64(l)))
	}
	out := r
	out.Plan = make(map[string]float64, len(r.Plan))
	for k, v := range r.Plan {
		out.Plan[k] = round(v)
	}
	out.MaxValue = round(r.MaxValue)
	for i := range out.ShadowPrices {
		out.ShadowPrices[i] = round(r.ShadowPrices[i])
		out.Consumed[i] = round(r.Consumed[i])
		c := &out.Constraints[i]
		c.Available = round(c.Available)
		c.Used = round(c.Used)
		c.Slack = round(c.Slack)
		c.ShadowPrice = round(c.ShadowPrice)
		c.AllowableIncrease = roundLimit(c.AllowableIncrease)
		c.AllowableDecrease = roundLimit(c.AllowableDecrease)
	}
	return out
}
