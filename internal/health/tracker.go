// Package health tracks per-source health: success/failure accounting,
// the 3-strikes quarantine rule, and the daily fix-attempt circuit
// breaker that bounds automated repairs.
package health

import (
	"context"
	"fmt"
	"time"

	"forager/internal/config"
	"forager/internal/storage"
	"forager/internal/types"
)

// Tracker applies the source-health state machine on top of the store.
// Records are fetched per-operation and written back; nothing mutable
// is cached across calls.
type Tracker struct {
	store storage.HealthStore
	cfg   *config.Config

	// now is swappable so tests can cross day boundaries.
	now func() time.Time
}

// New creates a Tracker with the given store and policy configuration.
func New(store storage.HealthStore, cfg *config.Config) *Tracker {
	return &Tracker{store: store, cfg: cfg, now: time.Now}
}

// SetClock replaces the tracker's time source. Test use only.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// getOrCreate loads the record for name, creating a fresh ACTIVE one on
// first reference. The created record is not persisted until the caller
// writes it back.
func (t *Tracker) getOrCreate(ctx context.Context, name string) (*types.SourceHealth, error) {
	h, err := t.store.GetSourceHealth(ctx, name)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = &types.SourceHealth{SourceName: name, State: types.SourceActive}
	}
	return h, nil
}

// resetDailyIfNeeded zeroes fix_attempts_today once the wall-clock date
// advances past the stored reset stamp.
func (t *Tracker) resetDailyIfNeeded(h *types.SourceHealth) {
	now := t.now().UTC()
	if h.FixAttemptsResetAt == nil {
		h.FixAttemptsResetAt = &now
		return
	}
	ry, rm, rd := h.FixAttemptsResetAt.UTC().Date()
	ny, nm, nd := now.Date()
	if ry < ny || (ry == ny && (rm < nm || (rm == nm && rd < nd))) {
		h.FixAttemptsToday = 0
		h.FixAttemptsResetAt = &now
	}
}

// RecordSuccess resets the failure streak and returns the source to
// ACTIVE. DEAD is manual-only and is not revived: counters and stamps
// still update so operators can see the source works again.
func (t *Tracker) RecordSuccess(ctx context.Context, name string) error {
	h, err := t.getOrCreate(ctx, name)
	if err != nil {
		return err
	}
	t.resetDailyIfNeeded(h)

	now := t.now().UTC()
	h.SuccessCount++
	h.ConsecutiveFailures = 0
	h.LastSuccessAt = &now
	if h.State != types.SourceDead {
		h.State = types.SourceActive
		h.QuarantineUntil = nil
	}

	return t.store.PutSourceHealth(ctx, h)
}

// RecordFailure increments failure accounting and applies the 3-strikes
// rule: one failure leaves the state alone, two degrade, three (the
// configured threshold) quarantine for the configured duration.
func (t *Tracker) RecordFailure(ctx context.Context, name, errText string) (*types.SourceHealth, error) {
	h, err := t.getOrCreate(ctx, name)
	if err != nil {
		return nil, err
	}
	t.resetDailyIfNeeded(h)

	now := t.now().UTC()
	h.FailureCount++
	h.ConsecutiveFailures++
	h.LastFailureAt = &now
	h.LastError = truncate(errText, t.cfg.MaxErrorLen)

	if h.State != types.SourceDead {
		switch {
		case h.ConsecutiveFailures >= t.cfg.QuarantineThreshold:
			until := now.Add(t.cfg.QuarantineDuration)
			h.State = types.SourceQuarantined
			h.QuarantineUntil = &until
			fmt.Printf("[health] %s quarantined after %d consecutive failures\n", name, h.ConsecutiveFailures)
		case h.ConsecutiveFailures >= 2:
			h.State = types.SourceDegraded
			fmt.Printf("[health] %s degraded (%d consecutive failures)\n", name, h.ConsecutiveFailures)
		}
	}

	if err := t.store.PutSourceHealth(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// IsQuarantined is a pure query: it reports the stored state without
// side effects. Expiry is handled by ExpireIfDue from the health sweep.
func (t *Tracker) IsQuarantined(ctx context.Context, name string) (bool, error) {
	h, err := t.store.GetSourceHealth(ctx, name)
	if err != nil {
		return false, err
	}
	if h == nil || h.State != types.SourceQuarantined {
		return false, nil
	}
	if h.QuarantineUntil != nil && h.QuarantineUntil.Before(t.now().UTC()) {
		return false, nil
	}
	return true, nil
}

// ExpireIfDue releases a source whose quarantine window has elapsed,
// moving it to DEGRADED. Returns true if a release happened.
func (t *Tracker) ExpireIfDue(ctx context.Context, name string) (bool, error) {
	h, err := t.store.GetSourceHealth(ctx, name)
	if err != nil {
		return false, err
	}
	if h == nil || h.State != types.SourceQuarantined {
		return false, nil
	}
	if h.QuarantineUntil == nil || !h.QuarantineUntil.Before(t.now().UTC()) {
		return false, nil
	}

	h.State = types.SourceDegraded
	h.QuarantineUntil = nil
	if err := t.store.PutSourceHealth(ctx, h); err != nil {
		return false, err
	}
	fmt.Printf("[health] %s released from quarantine\n", name)
	return true, nil
}

// CanAttemptFix is the repair circuit breaker: true while today's fix
// budget is not exhausted. It persists a daily reset when one applies.
func (t *Tracker) CanAttemptFix(ctx context.Context, name string) (bool, error) {
	h, err := t.getOrCreate(ctx, name)
	if err != nil {
		return false, err
	}
	before := h.FixAttemptsToday
	t.resetDailyIfNeeded(h)
	if h.FixAttemptsToday != before {
		if err := t.store.PutSourceHealth(ctx, h); err != nil {
			return false, err
		}
	}
	return h.FixAttemptsToday < t.cfg.MaxFixAttemptsPerDay, nil
}

// RecordFixAttempt consumes one slot of today's fix budget.
func (t *Tracker) RecordFixAttempt(ctx context.Context, name string) error {
	h, err := t.getOrCreate(ctx, name)
	if err != nil {
		return err
	}
	t.resetDailyIfNeeded(h)
	h.FixAttemptsToday++
	fmt.Printf("[health] %s fix attempt %d/%d\n", name, h.FixAttemptsToday, t.cfg.MaxFixAttemptsPerDay)
	return t.store.PutSourceHealth(ctx, h)
}

// Quarantine manually suspends a source for the given duration.
func (t *Tracker) Quarantine(ctx context.Context, name string, d time.Duration) error {
	h, err := t.getOrCreate(ctx, name)
	if err != nil {
		return err
	}
	until := t.now().UTC().Add(d)
	h.State = types.SourceQuarantined
	h.QuarantineUntil = &until
	return t.store.PutSourceHealth(ctx, h)
}

// MarkDead is the manual kill switch. No automated repair runs on a
// DEAD source and no automated transition leaves the state.
func (t *Tracker) MarkDead(ctx context.Context, name string) error {
	h, err := t.getOrCreate(ctx, name)
	if err != nil {
		return err
	}
	h.State = types.SourceDead
	h.QuarantineUntil = nil
	return t.store.PutSourceHealth(ctx, h)
}

// Get returns the health record for name, or nil if never referenced.
func (t *Tracker) Get(ctx context.Context, name string) (*types.SourceHealth, error) {
	return t.store.GetSourceHealth(ctx, name)
}

// DegradedSources returns sources needing attention (DEGRADED or
// QUARANTINED), for the orchestrator's health sweep.
func (t *Tracker) DegradedSources(ctx context.Context) ([]*types.SourceHealth, error) {
	return t.store.ListSourceHealth(ctx, types.SourceDegraded, types.SourceQuarantined)
}

// AllSources returns every tracked source.
func (t *Tracker) AllSources(ctx context.Context) ([]*types.SourceHealth, error) {
	return t.store.ListSourceHealth(ctx)
}

// StateCounts returns how many sources sit in each state.
func (t *Tracker) StateCounts(ctx context.Context) (map[types.SourceState]int, error) {
	all, err := t.store.ListSourceHealth(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[types.SourceState]int)
	for _, h := range all {
		counts[h.State]++
	}
	return counts, nil
}

// UpdateContentHash stores the hash of the last successful payload for
// change detection during diagnosis.
func (t *Tracker) UpdateContentHash(ctx context.Context, name, hash string) error {
	h, err := t.getOrCreate(ctx, name)
	if err != nil {
		return err
	}
	h.LastContentHash = hash
	return t.store.PutSourceHealth(ctx, h)
}

// ContentHash returns the stored payload hash, "" if none.
func (t *Tracker) ContentHash(ctx context.Context, name string) (string, error) {
	h, err := t.store.GetSourceHealth(ctx, name)
	if err != nil {
		return "", err
	}
	if h == nil {
		return "", nil
	}
	return h.LastContentHash, nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
