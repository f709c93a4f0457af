package burst

import (
	"context"
	"testing"
	"time"

	"github.com/bebias/venera-bot/internal/kvstore"
)

// testClock is an adjustable time source shared by tracker and store.
type testClock struct {
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	return c.current
}

func (c *testClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestTracker(clock *testClock, opts ...Option) *Tracker {
	kv := kvstore.NewInMemoryStore()
	kv.SetClock(clock.now)
	opts = append([]Option{WithClock(clock.now)}, opts...)
	return NewTracker(kv, opts...)
}

func TestObserveMonotonicAccumulation(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()

	t0 := clock.now().UnixMilli()

	rec, started, err := tracker.Observe(ctx, "u1")
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if !started {
		t.Error("Expected first message to start a burst")
	}
	if rec.Count != 1 || rec.FirstMessageTime != t0 || rec.LastMessageTime != t0 {
		t.Errorf("Unexpected initial record: %+v", rec)
	}

	clock.advance(500 * time.Millisecond)
	rec, started, err = tracker.Observe(ctx, "u1")
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if started {
		t.Error("Second message must not start a new burst")
	}
	if rec.Count != 2 {
		t.Errorf("Expected count=2, got %d", rec.Count)
	}

	clock.advance(400 * time.Millisecond)
	t2 := clock.now().UnixMilli()
	rec, started, err = tracker.Observe(ctx, "u1")
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if started {
		t.Error("Third message must not start a new burst")
	}
	if rec.Count != 3 {
		t.Errorf("Expected count=3, got %d", rec.Count)
	}
	if rec.FirstMessageTime != t0 {
		t.Errorf("FirstMessageTime must stay t0=%d, got %d", t0, rec.FirstMessageTime)
	}
	if rec.LastMessageTime != t2 {
		t.Errorf("LastMessageTime must be t2=%d, got %d", t2, rec.LastMessageTime)
	}
}

func TestSingleScheduleInvariant(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()

	startedCount := 0
	for i := 0; i < 5; i++ {
		_, started, err := tracker.Observe(ctx, "u1")
		if err != nil {
			t.Fatalf("Observe %d failed: %v", i, err)
		}
		if started {
			startedCount++
		}
		clock.advance(200 * time.Millisecond)
	}
	if startedCount != 1 {
		t.Errorf("Expected exactly 1 burst start across 5 messages, got %d", startedCount)
	}
}

func TestResolveThresholdGate(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()

	before, _, err := tracker.Observe(ctx, "u1")
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}

	clock.advance(3 * time.Second)
	outcome, _, err := tracker.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome != OutcomeTooSoon {
		t.Errorf("Expected too_soon at 3s elapsed, got %s", outcome)
	}

	// Record must be present and unchanged after a too_soon callback.
	after, found, err := tracker.Peek(ctx, "u1")
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if !found {
		t.Fatal("Record must still exist after too_soon")
	}
	if after != before {
		t.Errorf("Record changed by too_soon callback: before=%+v after=%+v", before, after)
	}
}

func TestResolveIdempotentNoBurst(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		outcome, _, err := tracker.Resolve(ctx, "ghost")
		if err != nil {
			t.Fatalf("Resolve %d failed: %v", i, err)
		}
		if outcome != OutcomeNoBurst {
			t.Errorf("Resolve %d: expected no_burst, got %s", i, outcome)
		}
	}
}

func TestAtMostOneResolutionPerBurst(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, _, err := tracker.Observe(ctx, "u1"); err != nil {
			t.Fatalf("Observe failed: %v", err)
		}
		clock.advance(100 * time.Millisecond)
	}

	clock.advance(10 * time.Second)

	resolved := 0
	for i := 0; i < 5; i++ {
		outcome, _, err := tracker.Resolve(ctx, "u1")
		if err != nil {
			t.Fatalf("Resolve %d failed: %v", i, err)
		}
		if outcome == OutcomeResolved {
			resolved++
		} else if outcome != OutcomeNoBurst {
			t.Errorf("Resolve %d: expected resolved or no_burst, got %s", i, outcome)
		}
	}
	if resolved != 1 {
		t.Errorf("Expected exactly 1 resolution across duplicate callbacks, got %d", resolved)
	}
}

// Three rapid messages, an early callback at 3s, a retried callback at 11s.
func TestScenarioEarlyThenLateCallback(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock,
		WithDebounce(3*time.Second),
		WithThreshold(10*time.Second),
	)
	ctx := context.Background()

	// t=0ms, t=500ms, t=900ms
	if _, started, _ := tracker.Observe(ctx, "u1"); !started {
		t.Fatal("First message must start the burst")
	}
	clock.advance(500 * time.Millisecond)
	tracker.Observe(ctx, "u1")
	clock.advance(400 * time.Millisecond)
	tracker.Observe(ctx, "u1")

	// Callback at t=3000ms: elapsed 3000 < 10000.
	clock.advance(2100 * time.Millisecond)
	outcome, _, err := tracker.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("Resolve at 3s failed: %v", err)
	}
	if outcome != OutcomeTooSoon {
		t.Errorf("Expected too_soon at t=3000ms, got %s", outcome)
	}

	// Retried callback at t=11000ms: resolves and reports the full burst.
	clock.advance(8 * time.Second)
	outcome, rec, err := tracker.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("Resolve at 11s failed: %v", err)
	}
	if outcome != OutcomeResolved {
		t.Errorf("Expected resolved at t=11000ms, got %s", outcome)
	}
	if rec.Count != 3 {
		t.Errorf("Expected resolved record count=3, got %d", rec.Count)
	}

	if _, found, _ := tracker.Peek(ctx, "u1"); found {
		t.Error("Record must be deleted after resolution")
	}
}

// One message, a callback just past the threshold, then a duplicate delivery.
func TestScenarioDuplicateDelivery(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()

	tracker.Observe(ctx, "u2")

	clock.advance(10001 * time.Millisecond)
	outcome, _, err := tracker.Resolve(ctx, "u2")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome != OutcomeResolved {
		t.Errorf("Expected resolved at t=10001ms, got %s", outcome)
	}

	clock.advance(49 * time.Millisecond)
	outcome, _, err = tracker.Resolve(ctx, "u2")
	if err != nil {
		t.Fatalf("Duplicate resolve failed: %v", err)
	}
	if outcome != OutcomeNoBurst {
		t.Errorf("Expected no_burst on duplicate delivery, got %s", outcome)
	}
}

// A record left behind by a lost callback expires via TTL, after which a new
// message opens a fresh burst.
func TestRecordTTLSafetyNet(t *testing.T) {
	clock := newTestClock()
	tracker := newTestTracker(clock, WithTTL(60*time.Second))
	ctx := context.Background()

	tracker.Observe(ctx, "u3")
	clock.advance(61 * time.Second)

	outcome, _, err := tracker.Resolve(ctx, "u3")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if outcome != OutcomeNoBurst {
		t.Errorf("Expected no_burst after TTL expiry, got %s", outcome)
	}

	_, started, err := tracker.Observe(ctx, "u3")
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if !started {
		t.Error("Expected a fresh burst after TTL expiry")
	}
}
