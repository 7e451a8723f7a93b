package solver

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/daviddao/cndq/pkg/model"
)

const tol = 1e-6

func near(a, b float64) bool { return math.Abs(a-b) <= tol*math.Max(1, math.Abs(b)) }

// twoGoods is the small X/Y recipe used throughout these tests.
var twoGoods = Recipe{
	{Name: "X", Uses: model.Amounts{1, 1, 1, 0}, Revenue: 2},
	{Name: "Y", Uses: model.Amounts{0, 1, 1, 1}, Revenue: 3},
}

func mustSolve(t *testing.T, r Recipe, inv model.Amounts) Result {
	t.Helper()
	res, err := Solve(r, inv)
	if err != nil {
		t.Fatalf("Solve(%v): %v", inv, err)
	}
	return res
}

func TestSolve_TwoGoodsEqualInventory(t *testing.T) {
	res := mustSolve(t, twoGoods, model.Amounts{1000, 1000, 1000, 1000})
	if !near(res.MaxValue, 3000) {
		t.Fatalf("MaxValue = %v, want 3000", res.MaxValue)
	}
	if !near(res.Plan["X"], 0) || !near(res.Plan["Y"], 1000) {
		t.Fatalf("Plan = %v, want X=0 Y=1000", res.Plan)
	}
	checkReportInvariants(t, res)
	c := res.Constraints[model.ResourceC.Index()]
	if c.Status != NotBinding || !near(c.Slack, 1000) || c.ShadowPrice != 0 {
		t.Fatalf("C constraint = %+v", c)
	}
	// The dual of a degenerate vertex is not unique, but prices must
	// still price out the produced good exactly.
	y := twoGoods[1]
	imputed := 0.0
	for i := range y.Uses {
		imputed += y.Uses[i] * res.ShadowPrices[i]
	}
	if !near(imputed, y.Revenue) {
		t.Fatalf("imputed value of Y = %v, want %v", imputed, y.Revenue)
	}
}

func TestSolve_DefaultRecipe(t *testing.T) {
	res := mustSolve(t, DefaultRecipe(), model.Amounts{1000, 1000, 1000, 1000})
	if !near(res.Plan["deicer"], 20000.0/11) || !near(res.Plan["solvent"], 20000.0/11) {
		t.Fatalf("Plan = %v", res.Plan)
	}
	if !near(res.MaxValue, 100000.0/11) {
		t.Fatalf("MaxValue = %v, want %v", res.MaxValue, 100000.0/11)
	}
	wantPrices := model.Amounts{0, 20.0 / 11, 80.0 / 11, 0}
	for i := range wantPrices {
		if !near(res.ShadowPrices[i], wantPrices[i]) {
			t.Fatalf("shadow price %s = %v, want %v", model.Resources[i], res.ShadowPrices[i], wantPrices[i])
		}
	}
	checkReportInvariants(t, res)
	for _, r := range []model.Resource{model.ResourceN, model.ResourceD} {
		if res.Constraints[r.Index()].Status != Binding {
			t.Fatalf("%s should be binding", r)
		}
	}
	for _, r := range []model.Resource{model.ResourceC, model.ResourceQ} {
		c := res.Constraints[r.Index()]
		if c.Status != NotBinding || !c.AllowableIncrease.IsUnbounded() {
			t.Fatalf("%s = %+v, want not binding with unbounded increase", r, c)
		}
		if !near(float64(c.AllowableDecrease), c.Slack) {
			t.Fatalf("%s allowable decrease = %v, want slack %v", r, c.AllowableDecrease, c.Slack)
		}
	}
}

func TestSolve_RangingPredictsResolve(t *testing.T) {
	inv := model.Amounts{1000, 1000, 1000, 1000}
	base := mustSolve(t, DefaultRecipe(), inv)
	for i, c := range base.Constraints {
		if c.Status != Binding {
			continue
		}
		for _, dir := range []float64{1, -1} {
			limit := c.AllowableIncrease
			if dir < 0 {
				limit = c.AllowableDecrease
			}
			if limit == 0 {
				continue
			}
			step := 100.0
			if !limit.IsUnbounded() {
				step = float64(limit) / 2
			}
			moved := inv
			moved[i] += dir * step
			res := mustSolve(t, DefaultRecipe(), moved)
			want := base.MaxValue + dir*step*c.ShadowPrice
			if !near(res.MaxValue, want) {
				t.Fatalf("%s %+v: MaxValue = %v, want %v", c.Resource, dir*step, res.MaxValue, want)
			}
			for k := range res.Constraints {
				if res.Constraints[k].Status != base.Constraints[k].Status {
					t.Fatalf("%s %+v: status of %s changed", c.Resource, dir*step, model.Resources[k])
				}
			}
		}
	}
}

func TestSolve_ZeroInventory(t *testing.T) {
	res := mustSolve(t, DefaultRecipe(), model.Amounts{})
	if res.MaxValue != 0 {
		t.Fatalf("MaxValue = %v", res.MaxValue)
	}
	for name, qty := range res.Plan {
		if qty != 0 {
			t.Fatalf("plan[%s] = %v, want 0", name, qty)
		}
	}
	if res.ShadowPrices != (model.Amounts{}) {
		t.Fatalf("ShadowPrices = %v, want all zero", res.ShadowPrices)
	}
}

func TestSolve_NothingProducible(t *testing.T) {
	// Without C and Q neither good can be made.
	res := mustSolve(t, DefaultRecipe(), model.Amounts{0, 1000, 1000, 0})
	if res.MaxValue != 0 || res.ShadowPrices != (model.Amounts{}) {
		t.Fatalf("got value %v prices %v, want zero", res.MaxValue, res.ShadowPrices)
	}
	n := res.Constraints[1]
	if n.Status != NotBinding || n.Slack != 1000 || !n.AllowableIncrease.IsUnbounded() {
		t.Fatalf("N constraint = %+v", n)
	}
	checkReportInvariants(t, res)
}

func TestSolve_SingleResourceMissing(t *testing.T) {
	// No Q means no solvent; deicer is capped by D (0.2 per unit).
	res := mustSolve(t, DefaultRecipe(), model.Amounts{1000, 1000, 100, 0})
	if !near(res.Plan["solvent"], 0) || !near(res.Plan["deicer"], 500) {
		t.Fatalf("Plan = %v", res.Plan)
	}
	if !near(res.MaxValue, 1000) {
		t.Fatalf("MaxValue = %v", res.MaxValue)
	}
	checkReportInvariants(t, res)
}

func TestSolve_NegativeInventoryTreatedAsZero(t *testing.T) {
	a := mustSolve(t, DefaultRecipe(), model.Amounts{-5, 100, 100, 100})
	b := mustSolve(t, DefaultRecipe(), model.Amounts{0, 100, 100, 100})
	if !near(a.MaxValue, b.MaxValue) {
		t.Fatalf("MaxValue %v != %v", a.MaxValue, b.MaxValue)
	}
}

func TestSolve_InvalidInput(t *testing.T) {
	if _, err := Solve(Recipe{}, model.Amounts{1, 1, 1, 1}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("empty recipe: err = %v", err)
	}
	free := Recipe{{Name: "air", Revenue: 1}}
	if _, err := Solve(free, model.Amounts{1, 1, 1, 1}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("free good: err = %v", err)
	}
	if _, err := Solve(DefaultRecipe(), model.Amounts{math.NaN(), 1, 1, 1}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("NaN inventory: err = %v", err)
	}
}

func TestLimit_JSON(t *testing.T) {
	b, err := json.Marshal([]Limit{Unbounded, 12.5})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `["unbounded",12.5]` {
		t.Fatalf("got %s", b)
	}
	var back []Limit
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back[0].IsUnbounded() || back[1] != 12.5 {
		t.Fatalf("round trip = %v", back)
	}
	if Limit(1e12).IsUnbounded() {
		t.Fatal("a large finite limit must not read as unbounded")
	}
}

func TestResult_Rounded(t *testing.T) {
	res := mustSolve(t, DefaultRecipe(), model.Amounts{1000, 1000, 1000, 1000}).Rounded(2)
	if res.MaxValue != 9090.91 {
		t.Fatalf("MaxValue = %v, want 9090.91", res.MaxValue)
	}
	if !res.Constraints[0].AllowableIncrease.IsUnbounded() {
		t.Fatal("rounding must keep the unbounded sentinel")
	}
}

func checkReportInvariants(t *testing.T, res Result) {
	t.Helper()
	for _, c := range res.Constraints {
		if c.ShadowPrice < 0 {
			t.Fatalf("%s: negative shadow price %v", c.Resource, c.ShadowPrice)
		}
		if c.Status == NotBinding && (c.Slack <= 0 || c.ShadowPrice != 0) {
			t.Fatalf("%s: not binding with slack %v price %v", c.Resource, c.Slack, c.ShadowPrice)
		}
		if c.Used > c.Available+tol {
			t.Fatalf("%s: uses %v of %v", c.Resource, c.Used, c.Available)
		}
		if c.AllowableIncrease < 0 || c.AllowableDecrease < 0 {
			t.Fatalf("%s: negative range %+v", c.Resource, c)
		}
	}
}
