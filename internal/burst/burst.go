// Package burst implements message burst coalescing for the chatbot webhook.
//
// Incoming messages from one sender often arrive in rapid succession. The
// tracker folds them into a single burst record in the shared key-value
// store; a delayed callback later decides whether the burst has settled and
// exactly one consolidated processing pass should run. Handlers are
// stateless: the key-value store is the sole owner of burst state.
package burst

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bebias/venera-bot/internal/kvstore"
)

// Default timing constants. The record TTL is a safety net longer than the
// resolution threshold so a record cannot outlive a lost callback forever.
const (
	DefaultDebounceInterval    = 3 * time.Second
	DefaultResolutionThreshold = 10 * time.Second
	DefaultRecordTTL           = 60 * time.Second

	keyPrefix = "msg_burst:"
)

// Record is the accumulating state of one sender's unprocessed burst.
// A record exists if and only if a debounce window is open for the sender.
type Record struct {
	Count            int   `json:"count"`
	FirstMessageTime int64 `json:"firstMessageTime"` // unix ms, immutable once set
	LastMessageTime  int64 `json:"lastMessageTime"`  // unix ms, updated per message
}

// Outcome is the result of a resolution attempt.
type Outcome string

const (
	// OutcomeNoBurst: no record existed; a previous callback already
	// resolved the burst or the record expired.
	OutcomeNoBurst Outcome = "no_burst"
	// OutcomeTooSoon: the callback fired before the resolution threshold
	// elapsed since the first message; the record was left untouched.
	OutcomeTooSoon Outcome = "too_soon"
	// OutcomeResolved: the record was deleted and the caller must trigger
	// exactly one downstream pass.
	OutcomeResolved Outcome = "resolved"
)

// Opts holds tracker configuration.
type Opts struct {
	Debounce  time.Duration
	Threshold time.Duration
	TTL       time.Duration
	Now       func() time.Time
}

// Option defines a configuration option for the tracker.
type Option func(*Opts)

// WithDebounce sets the delay before the resolution callback fires.
func WithDebounce(d time.Duration) Option {
	return func(o *Opts) {
		o.Debounce = d
	}
}

// WithThreshold sets the minimum elapsed time since the first message of a
// burst before resolution may proceed.
func WithThreshold(d time.Duration) Option {
	return func(o *Opts) {
		o.Threshold = d
	}
}

// WithTTL sets the passive expiry on burst records.
func WithTTL(d time.Duration) Option {
	return func(o *Opts) {
		o.TTL = d
	}
}

// WithClock overrides the tracker's time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// Tracker coordinates burst records in the shared key-value store.
type Tracker struct {
	kv        kvstore.Store
	debounce  time.Duration
	threshold time.Duration
	ttl       time.Duration
	now       func() time.Time
}

// NewTracker creates a tracker over the given key-value store.
func NewTracker(kv kvstore.Store, opts ...Option) *Tracker {
	cfg := Opts{
		Debounce:  DefaultDebounceInterval,
		Threshold: DefaultResolutionThreshold,
		TTL:       DefaultRecordTTL,
		Now:       time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewTracker configured", "debounce", cfg.Debounce, "threshold", cfg.Threshold, "ttl", cfg.TTL)
	return &Tracker{
		kv:        kv,
		debounce:  cfg.Debounce,
		threshold: cfg.Threshold,
		ttl:       cfg.TTL,
		now:       cfg.Now,
	}
}

// Debounce returns the configured debounce interval, i.e. the delay the
// ingress handler requests when scheduling a resolution callback.
func (t *Tracker) Debounce() time.Duration {
	return t.debounce
}

func burstKey(senderID string) string {
	return keyPrefix + senderID
}

// Observe folds one inbound message into the sender's burst record. It
// returns the updated record and whether this message started a new burst
// (in which case the caller must schedule a resolution callback).
//
// The record is accessed by full read-modify-write; two near-simultaneous
// messages can race and one count update may be lost. Resolution correctness
// does not depend on the count, only on FirstMessageTime and
// delete-on-resolve, so last-write-wins is acceptable here.
func (t *Tracker) Observe(ctx context.Context, senderID string) (Record, bool, error) {
	key := burstKey(senderID)
	nowMs := t.now().UnixMilli()

	var rec Record
	found, err := t.kv.GetJSON(ctx, key, &rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read burst record for %s: %w", senderID, err)
	}

	if !found {
		rec = Record{Count: 1, FirstMessageTime: nowMs, LastMessageTime: nowMs}
		if err := t.kv.SetJSON(ctx, key, rec, t.ttl); err != nil {
			return Record{}, false, fmt.Errorf("failed to create burst record for %s: %w", senderID, err)
		}
		slog.Debug("Tracker.Observe: burst started", "sender_id", senderID, "count", rec.Count)
		return rec, true, nil
	}

	rec.Count++
	rec.LastMessageTime = nowMs
	if err := t.kv.SetJSON(ctx, key, rec, t.ttl); err != nil {
		return Record{}, false, fmt.Errorf("failed to update burst record for %s: %w", senderID, err)
	}
	slog.Debug("Tracker.Observe: burst continues", "sender_id", senderID, "count", rec.Count)
	return rec, false, nil
}

// Peek reads the sender's burst record without modifying it.
func (t *Tracker) Peek(ctx context.Context, senderID string) (Record, bool, error) {
	var rec Record
	found, err := t.kv.GetJSON(ctx, burstKey(senderID), &rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read burst record for %s: %w", senderID, err)
	}
	return rec, found, nil
}

// Resolve runs the resolution state check for a delayed callback.
//
// A missing record resolves to OutcomeNoBurst, which makes the callback
// idempotent under at-least-once delivery. The threshold is re-checked
// against FirstMessageTime at fire time, so duplicate or early callbacks
// abort instead of resolving prematurely; no rescheduling happens here.
// On OutcomeResolved the record has been deleted and every later callback
// for this burst is a guaranteed no-op.
func (t *Tracker) Resolve(ctx context.Context, senderID string) (Outcome, Record, error) {
	key := burstKey(senderID)

	var rec Record
	found, err := t.kv.GetJSON(ctx, key, &rec)
	if err != nil {
		return "", Record{}, fmt.Errorf("failed to read burst record for %s: %w", senderID, err)
	}
	if !found {
		slog.Debug("Tracker.Resolve: no burst record", "sender_id", senderID)
		return OutcomeNoBurst, Record{}, nil
	}

	elapsed := time.Duration(t.now().UnixMilli()-rec.FirstMessageTime) * time.Millisecond
	if elapsed < t.threshold {
		slog.Debug("Tracker.Resolve: too soon", "sender_id", senderID, "elapsed", elapsed, "threshold", t.threshold)
		return OutcomeTooSoon, rec, nil
	}

	if err := t.kv.Delete(ctx, key); err != nil {
		return "", rec, fmt.Errorf("failed to clear burst record for %s: %w", senderID, err)
	}
	slog.Info("Tracker.Resolve: burst settled", "sender_id", senderID, "count", rec.Count, "elapsed", elapsed)
	return OutcomeResolved, rec, nil
}

// Clear removes the sender's burst record unconditionally.
func (t *Tracker) Clear(ctx context.Context, senderID string) error {
	if err := t.kv.Delete(ctx, burstKey(senderID)); err != nil {
		return fmt.Errorf("failed to clear burst record for %s: %w", senderID, err)
	}
	return nil
}
