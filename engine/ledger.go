/*
ledger.go - Append-only skill event ledger

PURPOSE:
  The Ledger is the immutable source of truth for everything a user has
  earned. Totals, levels, badge completion, and expiration are all
  recomputed from it - there is no stored balance that can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: Same idempotency key = same event (no duplicates).
  3. REPLAYABLE: Any aggregate can be rebuilt from the ledger alone
     plus the skill definition and policy in force.

WHY NOT STORE TOTALS?
  A stored total must be kept consistent with the throttle rules, the
  completion cap, and the expiration schedule across concurrent writers
  and sweeps. A derived total only has to be computed correctly once,
  in one place (aggregator.go), and replay-based tests cover it.
*/
package engine

import "context"

// Ledger wraps an EventStore with idempotency enforcement.
type Ledger struct {
	Store EventStore
}

func NewLedger(store EventStore) *Ledger {
	return &Ledger{Store: store}
}

// Append records one admitted event. Returns ErrDuplicateIdempotencyKey
// if the event was already admitted.
func (l *Ledger) Append(ctx context.Context, ev SkillEvent) error {
	if ev.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, ev.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, ev)
}

// EventsForSkill returns a user's events for one skill in timestamp order.
func (l *Ledger) EventsForSkill(ctx context.Context, userID UserID, ref SkillRef) ([]SkillEvent, error) {
	return l.Store.LoadBySkill(ctx, userID, ref)
}

// EventsForProject returns a user's events across a project in timestamp order.
func (l *Ledger) EventsForProject(ctx context.Context, userID UserID, projectID ProjectID) ([]SkillEvent, error) {
	return l.Store.LoadByProject(ctx, userID, projectID)
}
