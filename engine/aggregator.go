/*
aggregator.go - Folding skill events into per-user state

PURPOSE:
  The Point Aggregator admits skill-performed events against the rules
  in the SkillDefinition (increment interval, occurrence budget, daily
  cap, completion cap) and derives UserSkillState by replaying the
  event ledger.

REPLAY IS THE ONLY DERIVATION:
  Replay() re-derives per-event awards from timestamp order rather than
  trusting the stored PointsAwarded, so two event sets with identical
  timestamps produce identical state regardless of submission order.
  Expiration resets are applied inside the same fold, which is what
  makes the renewal-vs-sweep race deterministic: an event timestamped
  strictly before the computed expiration instant retains the points,
  an event at or after it re-earns from zero.

CAP SEMANTICS:
  Once TotalPoints reaches PointIncrement * NumPerformToCompletion the
  skill is completed. Further events are still admitted - they renew
  the expiration clock - but award zero points ("retain", not
  "re-earn").
*/
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pathway/skill-engine/metrics"
)

// =============================================================================
// REPLAY - Pure derivation of UserSkillState from events
// =============================================================================

// Replay folds a user's events for one skill into the current state as
// of now. Events may be passed in any order; they are sorted by
// timestamp (ID as tie-break) before folding.
func Replay(def *SkillDefinition, events []SkillEvent, now time.Time) (UserSkillState, []ReplayExpiry) {
	sorted := make([]SkillEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})

	cap := def.CompletionCap()
	increment := NewPoints(def.PointIncrement)
	now = now.UTC()

	state := UserSkillState{
		Skill:        def.Ref(),
		TotalPoints:  ZeroPoints(),
		TodaysPoints: ZeroPoints(),
	}
	var expiries []ReplayExpiry

	for _, ev := range sorted {
		if state.UserID == "" {
			state.UserID = ev.UserID
		}
		ts := ev.Timestamp.UTC()

		// Only achieved points decay. A cycle that never reached the
		// completion cap keeps its partial progress; once the cap was
		// reached, the whole cycle expires if its instant passed before
		// this event's timestamp.
		if def.Expiration.Active() && !state.CompletedAt.IsZero() {
			instant := NextExpiration(def.Expiration, state.LastEventAt)
			if !ts.Before(instant) {
				expiries = append(expiries, ReplayExpiry{At: instant, Points: state.TotalPoints})
				state.TotalPoints = ZeroPoints()
				state.PerformedCount = 0
				state.CompletedAt = time.Time{}
			}
		}

		award := cap.Sub(state.TotalPoints).Min(increment)
		if award.IsPositive() {
			state.TotalPoints = state.TotalPoints.Add(award)
			if sameUTCDay(ts, now) {
				state.TodaysPoints = state.TodaysPoints.Add(award)
			}
		}
		state.PerformedCount++
		state.LastEventAt = ts
		if state.CompletedAt.IsZero() && cap.IsPositive() && state.TotalPoints.GreaterOrEqual(cap) {
			state.CompletedAt = ts
		}
	}

	// Achieved points may have expired between the last event and now.
	if def.Expiration.Active() && !state.CompletedAt.IsZero() {
		instant := NextExpiration(def.Expiration, state.LastEventAt)
		if !now.Before(instant) {
			expiries = append(expiries, ReplayExpiry{At: instant, Points: state.TotalPoints})
			state.TotalPoints = ZeroPoints()
			state.PerformedCount = 0
			state.CompletedAt = time.Time{}
		}
	}

	state.Completed = cap.IsPositive() && state.TotalPoints.GreaterOrEqual(cap)
	if def.Expiration.Active() && !state.CompletedAt.IsZero() {
		next := NextExpiration(def.Expiration, state.LastEventAt)
		state.ExpiresAt = &next
	}
	return state, expiries
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// =============================================================================
// AGGREGATOR - Event admission and state queries
// =============================================================================

type Aggregator struct {
	Ledger *Ledger
	Defs   DefinitionStore
	Locks  *KeyLocks
}

func NewAggregator(ledger *Ledger, defs DefinitionStore, locks *KeyLocks) *Aggregator {
	return &Aggregator{Ledger: ledger, Defs: defs, Locks: locks}
}

// ReportRequest is one incoming skill performance.
type ReportRequest struct {
	UserID    UserID
	Skill     SkillRef
	Timestamp time.Time // zero = Now
	Now       time.Time
	// ReportedBy is set when an admin or approval workflow reports on
	// the user's behalf.
	ReportedBy string
	// IdempotencyKey defaults to user|skill|timestamp when empty.
	IdempotencyKey string
}

// EventResult is what the reporting client sees.
type EventResult struct {
	// Applied is false when the event was admitted for renewal only
	// (completion cap already met).
	Applied      bool
	Explanation  string
	PointsEarned Points
	SkillState   UserSkillState
	ExpiringSoon bool
}

// ApplyEvent validates, admits, and folds one event, serialized on the
// (project, user, skill) key.
func (a *Aggregator) ApplyEvent(ctx context.Context, st Settings, req ReportRequest) (*EventResult, error) {
	if st.MaintenanceMode {
		return nil, ErrMaintenanceMode
	}
	if req.UserID == "" {
		return nil, &ValidationError{Field: "userId", Message: "must not be empty"}
	}
	now := req.Now.UTC()
	ts := req.Timestamp
	if ts.IsZero() {
		ts = now
	}
	ts = ts.UTC()
	drift := time.Duration(st.ClockDriftToleranceSeconds) * time.Second
	if ts.After(now.Add(drift)) {
		return nil, &ValidationError{Field: "timestamp", Message: "skill events may not be in the future"}
	}

	def, err := a.Defs.GetSkill(ctx, req.Skill)
	if err != nil {
		return nil, err
	}

	// Imported definitions resolve to the owning skill: the lock, the
	// daily count and the ledger all key on the canonical ref so a
	// report through the importing project and a direct report contend
	// on the same aggregate.
	canonical := def.CanonicalRef()

	unlock := a.Locks.Lock(canonical.ProjectID, req.UserID, canonical.SkillID)
	defer unlock()

	if st.MaxDailyUserEvents > 0 {
		count, err := a.Ledger.Store.CountOnDay(ctx, req.UserID, canonical.ProjectID, ts)
		if err != nil {
			return nil, err
		}
		if count >= st.MaxDailyUserEvents {
			metrics.RecordEventThrottled()
			return nil, &ThrottledError{
				UserID: req.UserID,
				Skill:  req.Skill,
				Reason: fmt.Sprintf("daily limit of %d events reached", st.MaxDailyUserEvents),
			}
		}
	}

	events, err := a.Ledger.EventsForSkill(ctx, req.UserID, canonical)
	if err != nil {
		return nil, err
	}

	if err := checkThrottle(def, events, req.UserID, ts); err != nil {
		metrics.RecordEventThrottled()
		return nil, err
	}

	before, _ := Replay(def, events, now)

	award := def.CompletionCap().Sub(before.TotalPoints).Min(NewPoints(def.PointIncrement))
	if !award.IsPositive() {
		award = ZeroPoints()
	}

	key := req.IdempotencyKey
	if key == "" {
		key = fmt.Sprintf("%s|%s|%d", req.UserID, canonical, ts.UnixMilli())
	}

	ev := SkillEvent{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		ProjectID:      canonical.ProjectID,
		SkillID:        canonical.SkillID,
		Timestamp:      ts,
		PointsAwarded:  award.Int(),
		IdempotencyKey: key,
		ReportedBy:     req.ReportedBy,
		CreatedAt:      now,
	}
	if err := a.Ledger.Append(ctx, ev); err != nil {
		return nil, err
	}
	metrics.RecordEventApplied()

	after, _ := Replay(def, append(events, ev), now)

	// The warning reflects how stale the points were when this report
	// arrived: the renewal itself resets the clock, so it is judged
	// against the pre-renewal state, and only achieved points warn.
	res := &EventResult{
		Applied:      award.IsPositive(),
		PointsEarned: award,
		SkillState:   after,
		ExpiringSoon: before.Completed && IsExpiringSoon(def.Expiration, st.GraceDaysFor(def.Expiration), before.LastEventAt, now),
	}
	if res.Applied {
		res.Explanation = fmt.Sprintf("earned %d points for %s", award.Int(), def.Name)
	} else {
		res.Explanation = "this skill reached its maximum points; performance retained for renewal"
	}
	return res, nil
}

// checkThrottle enforces the point-increment interval and occurrence
// budget: reject when the window around the incoming timestamp already
// holds the allowed number of performances.
func checkThrottle(def *SkillDefinition, events []SkillEvent, userID UserID, ts time.Time) error {
	if def.PointIncrementIntervalMinutes <= 0 {
		return nil
	}
	limit := def.MaxOccurrencesInInterval
	if limit == -1 {
		return nil
	}
	if limit <= 0 {
		limit = 1
	}

	interval := time.Duration(def.PointIncrementIntervalMinutes) * time.Minute
	windowStart := ts.Add(-interval)

	occurrences := 0
	oldest := time.Time{}
	for _, ev := range events {
		t := ev.Timestamp.UTC()
		if t.After(windowStart) && !t.After(ts) {
			occurrences++
			if oldest.IsZero() || t.Before(oldest) {
				oldest = t
			}
		}
	}
	if occurrences < limit {
		return nil
	}
	return &ThrottledError{
		UserID:     userID,
		Skill:      def.Ref(),
		Reason:     fmt.Sprintf("max %d occurrence(s) within %d minute(s)", limit, def.PointIncrementIntervalMinutes),
		RetryAfter: oldest.Add(interval).Sub(ts),
	}
}

// =============================================================================
// STATE & ROLLUP QUERIES
// =============================================================================

// SkillState derives the current state for one (user, skill).
func (a *Aggregator) SkillState(ctx context.Context, userID UserID, ref SkillRef, now time.Time) (UserSkillState, error) {
	def, err := a.Defs.GetSkill(ctx, ref)
	if err != nil {
		return UserSkillState{}, err
	}
	events, err := a.Ledger.EventsForSkill(ctx, userID, def.CanonicalRef())
	if err != nil {
		return UserSkillState{}, err
	}
	state, _ := Replay(def, events, now)
	state.UserID = userID
	return state, nil
}

// ProjectTotal sums a user's totals over the project's skills. Catalog
// imports and reused references count once, under the canonical ref.
func (a *Aggregator) ProjectTotal(ctx context.Context, userID UserID, projectID ProjectID, now time.Time) (Points, error) {
	defs, err := a.Defs.ListByProject(ctx, projectID)
	if err != nil {
		return Points{}, err
	}
	return a.sumStates(ctx, userID, defs, now)
}

// SubjectTotal sums a user's totals over one subject's skills.
func (a *Aggregator) SubjectTotal(ctx context.Context, userID UserID, projectID ProjectID, subjectID SubjectID, now time.Time) (Points, error) {
	defs, err := a.Defs.ListBySubject(ctx, projectID, subjectID)
	if err != nil {
		return Points{}, err
	}
	return a.sumStates(ctx, userID, defs, now)
}

func (a *Aggregator) sumStates(ctx context.Context, userID UserID, defs []SkillDefinition, now time.Time) (Points, error) {
	total := ZeroPoints()
	seen := make(map[SkillRef]bool, len(defs))
	for i := range defs {
		def := &defs[i]
		canonical := def.CanonicalRef()
		if seen[canonical] {
			continue
		}
		seen[canonical] = true

		events, err := a.Ledger.EventsForSkill(ctx, userID, canonical)
		if err != nil {
			return Points{}, err
		}
		state, _ := Replay(def, events, now)
		total = total.Add(state.TotalPoints)
	}
	return total, nil
}

// AchievableTotal is the maximum a user could earn across the given
// skill set, with imports counted once. Level threshold defaults are
// derived from it.
func AchievableTotal(defs []SkillDefinition) Points {
	total := ZeroPoints()
	seen := make(map[SkillRef]bool, len(defs))
	for i := range defs {
		canonical := defs[i].CanonicalRef()
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		total = total.Add(defs[i].CompletionCap())
	}
	return total
}
