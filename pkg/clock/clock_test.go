package clock

import (
	"sync"
	"testing"
	"time"
)

func fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTick_UsesWallClock(t *testing.T) {
	now := time.UnixMicro(1_700_000_000_000_000)
	c := NewWithSource(fixed(now))
	if got := c.Tick(); got != now.UnixMicro() {
		t.Fatalf("Tick() = %d, want %d", got, now.UnixMicro())
	}
}

func TestTick_StrictlyIncreasingWithinSameMicrosecond(t *testing.T) {
	c := NewWithSource(fixed(time.UnixMicro(1000)))
	prev := c.Tick()
	for i := 0; i < 100; i++ {
		next := c.Tick()
		if next <= prev {
			t.Fatalf("tick %d: %d <= %d", i, next, prev)
		}
		prev = next
	}
}

func TestTick_ClockStepsBackwards(t *testing.T) {
	now := time.UnixMicro(5000)
	c := NewWithSource(func() time.Time { return now })
	first := c.Tick()
	now = time.UnixMicro(10)
	if second := c.Tick(); second != first+1 {
		t.Fatalf("Tick after step back = %d, want %d", second, first+1)
	}
}

func TestReceive(t *testing.T) {
	c := NewWithSource(fixed(time.UnixMicro(100)))
	c.Receive(500)
	if got := c.Tick(); got != 501 {
		t.Fatalf("Tick after Receive(500) = %d, want 501", got)
	}
	c.Receive(200)
	if got := c.Value(); got != 501 {
		t.Fatalf("Receive of an older key moved the clock to %d", got)
	}
}

func TestSetAndValue(t *testing.T) {
	c := NewWithSource(fixed(time.UnixMicro(1)))
	c.Set(42)
	if c.Value() != 42 {
		t.Fatalf("Value() = %d, want 42", c.Value())
	}
	if got := c.Tick(); got != 43 {
		t.Fatalf("Tick() = %d, want 43", got)
	}
}

func TestTick_ConcurrentUnique(t *testing.T) {
	c := NewWithSource(fixed(time.UnixMicro(1)))
	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := c.Tick()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("got %d unique keys, want %d", len(seen), n)
	}
}

func TestBefore(t *testing.T) {
	if !Before(1, "b", 2, "a") {
		t.Fatal("lower key should come first")
	}
	if !Before(5, "a", 5, "b") {
		t.Fatal("equal keys should break ties by actor id")
	}
	if Before(5, "a", 5, "a") {
		t.Fatal("Before should be irreflexive")
	}
}
