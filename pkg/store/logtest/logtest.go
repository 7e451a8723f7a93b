// Package logtest is a conformance suite for store.Log implementations.
// Each backend's tests call Run with a constructor for a fresh, empty log.
package logtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/store"
)

// Run exercises every Log operation against logs produced by open.
func Run(t *testing.T, open func(t *testing.T) store.Log) {
	t.Run("AppendAndEvents", func(t *testing.T) { testAppendAndEvents(t, open(t)) })
	t.Run("DuplicateSeq", func(t *testing.T) { testDuplicateSeq(t, open(t)) })
	t.Run("DuplicateKey", func(t *testing.T) { testDuplicateKey(t, open(t)) })
	t.Run("ConcurrentSameKey", func(t *testing.T) { testConcurrentSameKey(t, open(t)) })
	t.Run("Head", func(t *testing.T) { testHead(t, open(t)) })
	t.Run("ListAndDeleteActors", func(t *testing.T) { testListAndDelete(t, open(t)) })
	t.Run("Cache", func(t *testing.T) { testCache(t, open(t)) })
	t.Run("Snapshot", func(t *testing.T) { testSnapshot(t, open(t)) })
	t.Run("Index", func(t *testing.T) { testIndex(t, open(t)) })
	t.Run("Cursors", func(t *testing.T) { testCursors(t, open(t)) })
}

// Event builds a minimal valid event for tests.
func Event(actor string, seq int64, kind model.EventKind) model.Event {
	return model.Event{
		Kind:      kind,
		Payload:   json.RawMessage(fmt.Sprintf(`{"n":%d}`, seq)),
		Seq:       seq,
		ActorID:   actor,
		ActorName: "Name " + actor,
	}
}

func mustAppend(t *testing.T, l store.Log, e model.Event) {
	t.Helper()
	if err := l.Append(e); err != nil {
		t.Fatalf("Append(%s seq=%d): %v", e.ActorID, e.Seq, err)
	}
}

func testAppendAndEvents(t *testing.T, l store.Log) {
	for _, seq := range []int64{30, 10, 20} {
		mustAppend(t, l, Event("alice", seq, model.EventAdjustResource))
	}
	mustAppend(t, l, Event("bob", 15, model.EventSetFunds))

	events, err := l.Events("alice", 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, want := range []int64{10, 20, 30} {
		if events[i].Seq != want {
			t.Fatalf("events[%d].Seq = %d, want %d", i, events[i].Seq, want)
		}
		if events[i].ActorName != "Name alice" || events[i].Kind != model.EventAdjustResource {
			t.Fatalf("events[%d] = %+v", i, events[i])
		}
	}
	if string(events[0].Payload) != `{"n":10}` {
		t.Fatalf("payload = %s", events[0].Payload)
	}

	after, err := l.Events("alice", 10)
	if err != nil {
		t.Fatalf("Events(after 10): %v", err)
	}
	if len(after) != 2 || after[0].Seq != 20 {
		t.Fatalf("Events(after 10) = %+v", after)
	}

	none, err := l.Events("nobody", 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("Events(nobody) = %v, %v", none, err)
	}
}

func testDuplicateSeq(t *testing.T, l store.Log) {
	mustAppend(t, l, Event("alice", 1, model.EventSetFunds))
	err := l.Append(Event("alice", 1, model.EventAdjustFunds))
	if !errors.Is(err, model.ErrDuplicateSeq) {
		t.Fatalf("duplicate seq: err = %v, want ErrDuplicateSeq", err)
	}
	// Same seq for another actor is fine.
	mustAppend(t, l, Event("bob", 1, model.EventSetFunds))
	events, _ := l.Events("alice", 0)
	if len(events) != 1 || events[0].Kind != model.EventSetFunds {
		t.Fatalf("log changed after rejected append: %+v", events)
	}
}

func testDuplicateKey(t *testing.T, l store.Log) {
	e := Event("alice", 1, model.EventAddTransaction)
	e.DedupeKey = "trade:t1"
	mustAppend(t, l, e)

	dup := Event("alice", 2, model.EventAddTransaction)
	dup.DedupeKey = "trade:t1"
	if err := l.Append(dup); !errors.Is(err, model.ErrDuplicateKey) {
		t.Fatalf("duplicate key: err = %v, want ErrDuplicateKey", err)
	}

	other := Event("bob", 1, model.EventAddTransaction)
	other.DedupeKey = "trade:t1"
	mustAppend(t, l, other)

	events, _ := l.Events("alice", 0)
	if len(events) != 1 || events[0].DedupeKey != "trade:t1" {
		t.Fatalf("events = %+v", events)
	}
}

// testConcurrentSameKey races writers that carry one dedupe key under
// distinct sequence keys: exactly one may land.
func testConcurrentSameKey(t *testing.T, l store.Log) {
	const writers = 8
	for round := 0; round < 10; round++ {
		id := fmt.Sprintf("actor%d", round)
		errs := make([]error, writers)
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				e := Event(id, int64(w+1), model.EventAddTransaction)
				e.DedupeKey = "trade:race"
				errs[w] = l.Append(e)
			}(w)
		}
		wg.Wait()

		landed := 0
		for _, err := range errs {
			switch {
			case err == nil:
				landed++
			case !errors.Is(err, model.ErrDuplicateKey):
				t.Fatalf("round %d: Append: %v", round, err)
			}
		}
		events, err := l.Events(id, 0)
		if err != nil {
			t.Fatalf("Events: %v", err)
		}
		if landed != 1 || len(events) != 1 {
			t.Fatalf("round %d: %d appends succeeded, %d events stored", round, landed, len(events))
		}
	}
}

func testHead(t *testing.T, l store.Log) {
	h, err := l.Head("alice")
	if err != nil || h != (store.Head{}) {
		t.Fatalf("empty Head = %+v, %v", h, err)
	}
	mustAppend(t, l, Event("alice", 5, model.EventSetFunds))
	mustAppend(t, l, Event("alice", 9, model.EventSetFunds))
	h, err = l.Head("alice")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if h.Seq != 9 || h.Count != 2 {
		t.Fatalf("Head = %+v, want {9 2}", h)
	}
}

func testListAndDelete(t *testing.T, l store.Log) {
	mustAppend(t, l, Event("carol", 1, model.EventSetFunds))
	mustAppend(t, l, Event("alice", 1, model.EventAddOffer))
	mustAppend(t, l, Event("bob", 1, model.EventSetFunds))
	if err := l.SaveCache("alice", model.CacheEntry{Seq: 1, Events: 1}); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	ids, err := l.ListActors()
	if err != nil {
		t.Fatalf("ListActors: %v", err)
	}
	if fmt.Sprint(ids) != "[alice bob carol]" {
		t.Fatalf("ListActors = %v", ids)
	}

	if err := l.DeleteActor("alice"); err != nil {
		t.Fatalf("DeleteActor: %v", err)
	}
	ids, _ = l.ListActors()
	if fmt.Sprint(ids) != "[bob carol]" {
		t.Fatalf("after delete ListActors = %v", ids)
	}
	if c, _ := l.LoadCache("alice"); c != nil {
		t.Fatal("cache survived DeleteActor")
	}
	entries, _ := l.Index(0, 0)
	for _, e := range entries {
		if e.Event.ActorID == "alice" {
			t.Fatal("index entry survived DeleteActor")
		}
	}
}

func testCache(t *testing.T, l store.Log) {
	if c, err := l.LoadCache("alice"); err != nil || c != nil {
		t.Fatalf("empty LoadCache = %v, %v", c, err)
	}
	st := model.ActorState{EventsProcessed: 3, LastUpdate: 42}
	st.Profile.DisplayName = "Alice"
	st.Inventory.Set(model.ResourceC, 12.5)
	if err := l.SaveCache("alice", model.CacheEntry{State: st, Seq: 42, Events: 3}); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	c, err := l.LoadCache("alice")
	if err != nil || c == nil {
		t.Fatalf("LoadCache = %v, %v", c, err)
	}
	if c.Seq != 42 || c.Events != 3 || c.State.Profile.DisplayName != "Alice" || c.State.Inventory.Get(model.ResourceC) != 12.5 {
		t.Fatalf("LoadCache = %+v", c)
	}

	st.LastUpdate = 50
	if err := l.SaveCache("alice", model.CacheEntry{State: st, Seq: 50, Events: 4}); err != nil {
		t.Fatalf("SaveCache (replace): %v", err)
	}
	c, _ = l.LoadCache("alice")
	if c.Seq != 50 {
		t.Fatalf("cache not replaced: %+v", c)
	}

	// Appending invalidates the cache entry or leaves one that is stale
	// by Head; either way it must not look current.
	mustAppend(t, l, Event("alice", 60, model.EventSetFunds))
	c, _ = l.LoadCache("alice")
	h, _ := l.Head("alice")
	if c != nil && c.Seq >= h.Seq {
		t.Fatalf("cache %+v still current after append (head %+v)", c, h)
	}
}

func testSnapshot(t *testing.T, l store.Log) {
	if s, err := l.LoadSnapshot("alice"); err != nil || s != nil {
		t.Fatalf("empty LoadSnapshot = %v, %v", s, err)
	}
	snap := model.Snapshot{State: model.ActorState{EventsProcessed: 50}, Seq: 500, SnapshotEvents: 50, CreatedAt: 7}
	if err := l.SaveSnapshot("alice", snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, err := l.LoadSnapshot("alice")
	if err != nil || got == nil {
		t.Fatalf("LoadSnapshot = %v, %v", got, err)
	}
	if got.Seq != 500 || got.SnapshotEvents != 50 || got.CreatedAt != 7 || got.State.EventsProcessed != 50 {
		t.Fatalf("LoadSnapshot = %+v", got)
	}
}

func testIndex(t *testing.T, l store.Log) {
	if pos, err := l.IndexHead(); err != nil || pos != 0 {
		t.Fatalf("empty IndexHead = %d, %v", pos, err)
	}
	mustAppend(t, l, Event("alice", 1, model.EventAddOffer))
	mustAppend(t, l, Event("alice", 2, model.EventAdjustResource))
	mustAppend(t, l, Event("bob", 3, model.EventAddBuyOrder))
	mustAppend(t, l, Event("bob", 4, model.EventAddTransaction))

	entries, err := l.Index(0, 0)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d index entries, want 3 (private events excluded)", len(entries))
	}
	kinds := []model.EventKind{model.EventAddOffer, model.EventAddBuyOrder, model.EventAddTransaction}
	for i, e := range entries {
		if e.Event.Kind != kinds[i] {
			t.Fatalf("entries[%d].Kind = %s, want %s", i, e.Event.Kind, kinds[i])
		}
		if i > 0 && e.Pos <= entries[i-1].Pos {
			t.Fatalf("positions not increasing: %d then %d", entries[i-1].Pos, e.Pos)
		}
	}

	head, err := l.IndexHead()
	if err != nil || head != entries[2].Pos {
		t.Fatalf("IndexHead = %d, %v; want %d", head, err, entries[2].Pos)
	}

	rest, err := l.Index(entries[0].Pos, 1)
	if err != nil {
		t.Fatalf("Index(after, 1): %v", err)
	}
	if len(rest) != 1 || rest[0].Event.Kind != model.EventAddBuyOrder {
		t.Fatalf("Index(after, 1) = %+v", rest)
	}
}

func testCursors(t *testing.T, l store.Log) {
	if pos, err := l.Cursor("reflect"); err != nil || pos != 0 {
		t.Fatalf("unset Cursor = %d, %v", pos, err)
	}
	if err := l.SetCursor("reflect", 17); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if err := l.SetCursor("reflect", 23); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if pos, err := l.Cursor("reflect"); err != nil || pos != 23 {
		t.Fatalf("Cursor = %d, %v; want 23", pos, err)
	}
}
