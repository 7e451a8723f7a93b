package reflection_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/daviddao/cndq/pkg/actor"
	"github.com/daviddao/cndq/pkg/fslog"
	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/reflection"
	"github.com/daviddao/cndq/pkg/store"
)

// flakyLog fails every append for one actor while failFor is set.
type flakyLog struct {
	store.Log
	mu      sync.Mutex
	failFor string
}

func (f *flakyLog) setFail(id string) {
	f.mu.Lock()
	f.failFor = id
	f.mu.Unlock()
}

func (f *flakyLog) Append(e model.Event) error {
	f.mu.Lock()
	fail := f.failFor != "" && e.ActorID == f.failFor
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Log.Append(e)
}

func setup(t *testing.T) (*actor.Store, *flakyLog) {
	t.Helper()
	l, err := store.New(filepath.Join(t.TempDir(), "cndq.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	fl := &flakyLog{Log: l}
	return actor.New(fl, actor.WithStartingInventory(1000, 1000)), fl
}

// sell records a pending trade in the seller's log only.
func sell(t *testing.T, a *actor.Store, tradeID, seller, buyer string, qty, price float64) {
	t.Helper()
	tx := model.Transaction{
		TradeID: tradeID, Role: model.RoleSeller, Counterparty: buyer,
		Resource: model.ResourceQ, Quantity: qty, PricePerUnit: price, TotalAmount: qty * price,
		PendingReflection: true,
	}
	if _, err := a.AddTransaction(seller, actor.TradingOpen, tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func countTrade(t *testing.T, a *actor.Store, id, tradeID string) int {
	t.Helper()
	txs, err := a.Transactions(id)
	if err != nil {
		t.Fatalf("Transactions(%s): %v", id, err)
	}
	n := 0
	for _, tx := range txs {
		if tx.TradeID == tradeID {
			n++
		}
	}
	return n
}

func TestReflect_MirrorsWithInverseRole(t *testing.T) {
	a, _ := setup(t)
	bobBefore, _ := a.State("bob")
	sell(t, a, "t1", "alice", "bob", 10, 2.5)

	r := reflection.New(a)
	ok, err := r.Reflect("alice", "t1")
	if err != nil || !ok {
		t.Fatalf("Reflect = %v, %v", ok, err)
	}

	bob, _ := a.State("bob")
	m, found := bob.FindTransaction("t1")
	if !found {
		t.Fatal("bob has no mirror")
	}
	if m.Role != model.RoleBuyer || m.Counterparty != "alice" || !m.IsReflection {
		t.Fatalf("mirror = %+v", m)
	}
	if m.Quantity != 10 || m.PricePerUnit != 2.5 || m.Resource != model.ResourceQ {
		t.Fatalf("mirror terms = %+v", m)
	}
	q := bobBefore.Inventory.Get(model.ResourceQ)
	if m.InventoryBefore != q || !near(m.InventoryAfter, q+10) {
		t.Fatalf("mirror inventory %v -> %v, bob had %v", m.InventoryBefore, m.InventoryAfter, q)
	}

	alice, _ := a.State("alice")
	if tx, _ := alice.FindTransaction("t1"); tx.PendingReflection {
		t.Fatal("alice's record is still pending")
	}
	if len(alice.Notifications) == 0 || len(bob.Notifications) == 0 {
		t.Fatal("both sides should be notified")
	}

	again, err := r.Reflect("alice", "t1")
	if err != nil || again {
		t.Fatalf("second Reflect = %v, %v", again, err)
	}
	if n := countTrade(t, a, "bob", "t1"); n != 1 {
		t.Fatalf("bob holds %d copies of t1", n)
	}
}

func TestProcessReflections_Idempotent(t *testing.T) {
	a, l := setup(t)
	sell(t, a, "t1", "alice", "bob", 5, 1)
	sell(t, a, "t2", "alice", "carol", 7, 1)

	r := reflection.New(a)
	n, err := r.ProcessReflections()
	if err != nil || n != 2 {
		t.Fatalf("first pass = %d, %v", n, err)
	}
	n, err = r.ProcessReflections()
	if err != nil || n != 0 {
		t.Fatalf("second pass = %d, %v", n, err)
	}
	if c := countTrade(t, a, "bob", "t1"); c != 1 {
		t.Fatalf("bob holds %d copies", c)
	}
	cursor, _ := l.Cursor(reflection.CursorName)
	head, _ := l.IndexHead()
	if cursor != head {
		t.Fatalf("cursor = %d, head = %d", cursor, head)
	}
}

func TestProcessReflections_FailureHoldsCursor(t *testing.T) {
	a, l := setup(t)
	if _, err := a.State("bob"); err != nil {
		t.Fatal(err)
	}
	sell(t, a, "t1", "alice", "bob", 5, 1)
	sell(t, a, "t2", "alice", "carol", 7, 1)

	l.setFail("bob")
	r := reflection.New(a)
	n, err := r.ProcessReflections()
	if err != nil || n != 1 {
		t.Fatalf("pass with bob down = %d, %v", n, err)
	}
	st, err := r.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.CaughtUp || len(st.BlockedBy) != 1 || st.BlockedBy[0].To != "bob" {
		t.Fatalf("status = %+v", st)
	}
	if st.Cursor >= st.BlockedBy[0].Pos {
		t.Fatalf("cursor %d moved past failed trade at %d", st.Cursor, st.BlockedBy[0].Pos)
	}
	alice, _ := a.State("alice")
	if tx, _ := alice.FindTransaction("t1"); !tx.PendingReflection {
		t.Fatal("failed trade must stay pending")
	}

	l.setFail("")
	n, err = r.ProcessReflections()
	if err != nil || n != 1 {
		t.Fatalf("pass after recovery = %d, %v", n, err)
	}
	if st, _ := r.Status(); !st.CaughtUp {
		t.Fatalf("status after recovery = %+v", st)
	}
	if c := countTrade(t, a, "carol", "t2"); c != 1 {
		t.Fatalf("carol holds %d copies of t2", c)
	}
}

func TestSweep_RepairsTradesBehindCursor(t *testing.T) {
	a, l := setup(t)
	sell(t, a, "t1", "alice", "bob", 5, 1)
	head, _ := l.IndexHead()
	if err := l.SetCursor(reflection.CursorName, head); err != nil {
		t.Fatal(err)
	}

	r := reflection.New(a)
	if n, _ := r.ProcessReflections(); n != 0 {
		t.Fatalf("cursor pass mirrored %d", n)
	}
	n, err := r.Sweep()
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
	if n, _ := r.Sweep(); n != 0 {
		t.Fatalf("second sweep mirrored %d", n)
	}
}

func TestProcessReflections_ConcurrentPassesMirrorOnce(t *testing.T) {
	a, _ := setup(t)
	for i := 0; i < 5; i++ {
		sell(t, a, fmt.Sprintf("t%d", i), "alice", "bob", 1, 1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		r := reflection.New(a)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ProcessReflections()
		}()
	}
	wg.Wait()
	// Anything a contended pass left pending is picked up here.
	if _, err := reflection.New(a).ProcessReflections(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if c := countTrade(t, a, "bob", fmt.Sprintf("t%d", i)); c != 1 {
			t.Fatalf("bob holds %d copies of t%d", c, i)
		}
	}
}

// Each Reflect runs through its own actor.Store, as separate processes
// sharing one data directory would.
func TestReflect_ConcurrentOnFileBackend(t *testing.T) {
	l, err := fslog.New(t.TempDir())
	if err != nil {
		t.Fatalf("fslog.New: %v", err)
	}
	seller := actor.New(l, actor.WithStartingInventory(1000, 1000))
	bob0, err := seller.State("bob")
	if err != nil {
		t.Fatal(err)
	}

	for round := 0; round < 10; round++ {
		tradeID := fmt.Sprintf("t%d", round)
		sell(t, seller, tradeID, "alice", "bob", 1, 2)

		var wg sync.WaitGroup
		for w := 0; w < 3; w++ {
			r := reflection.New(actor.New(l, actor.WithStartingInventory(1000, 1000)))
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Reflect("alice", tradeID)
			}()
		}
		wg.Wait()

		if c := countTrade(t, seller, "bob", tradeID); c != 1 {
			t.Fatalf("bob holds %d copies of %s", c, tradeID)
		}
	}

	bob1, _ := seller.State("bob")
	if got := bob1.Inventory.Get(model.ResourceQ) - bob0.Inventory.Get(model.ResourceQ); !near(got, 10) {
		t.Fatalf("bob gained %v Q over 10 trades, want 10", got)
	}
}

func TestConservation_AfterReflection(t *testing.T) {
	a, _ := setup(t)
	alice0, _ := a.State("alice")
	bob0, _ := a.State("bob")

	const q, p = 12.5, 3.0
	sell(t, a, "t1", "alice", "bob", q, p)
	if _, err := reflection.New(a).ProcessReflections(); err != nil {
		t.Fatal(err)
	}

	alice1, _ := a.State("alice")
	bob1, _ := a.State("bob")
	if got := alice0.Inventory.Get(model.ResourceQ) - alice1.Inventory.Get(model.ResourceQ); !near(got, q) {
		t.Fatalf("alice lost %v Q, want %v", got, q)
	}
	if got := bob1.Inventory.Get(model.ResourceQ) - bob0.Inventory.Get(model.ResourceQ); !near(got, q) {
		t.Fatalf("bob gained %v Q, want %v", got, q)
	}
	if got := alice1.Profile.Balance - alice0.Profile.Balance; !near(got, q*p) {
		t.Fatalf("alice earned %v, want %v", got, q*p)
	}
	if got := bob0.Profile.Balance - bob1.Profile.Balance; !near(got, q*p) {
		t.Fatalf("bob paid %v, want %v", got, q*p)
	}
}

func TestPoller_TicksAndStops(t *testing.T) {
	a, _ := setup(t)
	sell(t, a, "t1", "alice", "bob", 1, 1)
	if _, err := a.State("bob"); err != nil {
		t.Fatal(err)
	}

	p := reflection.NewPoller(reflection.New(a), reflection.PollerConfig{Interval: 10 * time.Millisecond, SweepEvery: 2})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, func() bool { return countTrade(t, a, "bob", "t1") == 1 })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_Kick(t *testing.T) {
	a, _ := setup(t)
	if _, err := a.State("bob"); err != nil {
		t.Fatal(err)
	}
	p := reflection.NewPoller(reflection.New(a), reflection.PollerConfig{Interval: time.Hour, KickRate: rate.Inf})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	sell(t, a, "t1", "alice", "bob", 1, 1)
	p.Kick()
	p.Kick() // coalesced
	waitFor(t, func() bool { return countTrade(t, a, "bob", "t1") == 1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
