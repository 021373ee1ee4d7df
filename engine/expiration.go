/*
expiration.go - Scheduled revocation of previously-granted points

PURPOSE:
  Computes when achieved points expire and runs the sweep that records
  revocations. The cadence is anchored to the last qualifying event, not
  to the sweep schedule, so results are deterministic regardless of when
  or how often the sweep runs.

RETAIN vs RE-EARN:
  A renewal event with a timestamp strictly before the computed
  expiration instant RETAINS the points: the total stays capped, no net
  increase, and the next instant is computed from the renewal. An event
  at or after the instant finds the points already expired and RE-EARNS
  from zero. Physical arrival order never matters; only timestamps and
  computed instants do.

GRACE PERIOD:
  The grace period governs only the "expiring soon" warning: the warning
  appears once the time since the last qualifying event exceeds the
  grace threshold. It never delays the actual expiration instant; the
  two policies are evaluated independently.

ALL INSTANTS ARE UTC. The sweep takes an injected now, never the wall
clock, so tests can simulate arbitrary time.
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pathway/skill-engine/metrics"
)

// =============================================================================
// CADENCE - Computing the next expiration instant
// =============================================================================

// NextExpiration returns the instant at which points granted up to
// lastEvent expire. Zero time when the policy is inactive.
//
// DAILY anchors to UTC midnight: the instant is the first midnight
// strictly after the last event, plus (Every-1) days. MONTHLY and
// YEARLY use calendar arithmetic from the event itself.
func NextExpiration(policy *ExpirationPolicy, lastEvent time.Time) time.Time {
	if !policy.Active() {
		return time.Time{}
	}
	last := lastEvent.UTC()
	switch policy.Type {
	case ExpirationDaily:
		midnight := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		return midnight.AddDate(0, 0, policy.Every-1)
	case ExpirationMonthly:
		return last.AddDate(0, policy.Every, 0)
	case ExpirationYearly:
		return last.AddDate(policy.Every, 0, 0)
	default:
		return time.Time{}
	}
}

// IsExpiringSoon reports whether the "expiring soon" warning should be
// shown: points are at stake, not yet expired, and the last qualifying
// event is older than the grace threshold.
func IsExpiringSoon(policy *ExpirationPolicy, graceDays int, lastEvent, now time.Time) bool {
	if !policy.Active() || lastEvent.IsZero() {
		return false
	}
	expiresAt := NextExpiration(policy, lastEvent)
	if !now.Before(expiresAt) {
		return false
	}
	elapsed := now.UTC().Sub(lastEvent.UTC())
	return elapsed > time.Duration(graceDays)*24*time.Hour
}

// =============================================================================
// SWEEP - Background revocation pass
// =============================================================================

// Sweep walks achieved skills with active expiration policies and
// records any revocations whose instant has passed. It is safe to run
// concurrently with event application: both sides serialize on the same
// per-(project, user, skill) key locks, and the outcome is decided by
// timestamp comparison inside the replay, not by execution order.
type Sweep struct {
	Ledger *Ledger
	Defs   DefinitionStore
	Runs   ExpirationRunStore
	Locks  *KeyLocks
}

// Evaluate processes every project. Returns the records written by this
// pass (already-recorded revocations are skipped).
func (s *Sweep) Evaluate(ctx context.Context, now time.Time) ([]ExpirationRecord, error) {
	projects, err := s.Defs.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	var all []ExpirationRecord
	for _, p := range projects {
		recs, err := s.EvaluateProject(ctx, p, now)
		if err != nil {
			return all, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

// EvaluateProject processes one project's achieved skills.
func (s *Sweep) EvaluateProject(ctx context.Context, projectID ProjectID, now time.Time) ([]ExpirationRecord, error) {
	keys, err := s.Ledger.Store.DistinctUserSkills(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var written []ExpirationRecord
	for _, key := range keys {
		def, err := s.Defs.GetSkill(ctx, key.Skill)
		if err != nil {
			// A since-deleted skill cannot expire; skip it.
			continue
		}
		if !def.Expiration.Active() {
			continue
		}

		recs, err := s.sweepOne(ctx, def, key.UserID, now)
		if err != nil {
			return written, fmt.Errorf("sweep %s for %s: %w", key.Skill, key.UserID, err)
		}
		written = append(written, recs...)
	}
	return written, nil
}

func (s *Sweep) sweepOne(ctx context.Context, def *SkillDefinition, userID UserID, now time.Time) ([]ExpirationRecord, error) {
	unlock := s.Locks.Lock(def.ProjectID, userID, def.SkillID)
	defer unlock()

	events, err := s.Ledger.EventsForSkill(ctx, userID, def.Ref())
	if err != nil {
		return nil, err
	}

	// The replay derives which expirations have logically occurred as
	// of now; the sweep only records the ones not yet written.
	_, expiries := Replay(def, events, now)

	var written []ExpirationRecord
	for _, exp := range expiries {
		seen, err := s.Runs.HasExpiration(ctx, userID, def.Ref(), exp.At)
		if err != nil {
			return written, err
		}
		if seen {
			continue
		}
		rec := ExpirationRecord{
			ID:            expirationID(userID, def.Ref(), exp.At),
			UserID:        userID,
			Skill:         def.Ref(),
			PointsRemoved: exp.Points,
			ExpiredAt:     exp.At,
			RecordedAt:    now.UTC(),
		}
		if err := s.Runs.RecordExpiration(ctx, rec); err != nil {
			return written, err
		}
		metrics.RecordPointsExpired(rec.PointsRemoved.Int())
		written = append(written, rec)
	}
	return written, nil
}

// expirationID is deterministic so a re-run of the same sweep produces
// the same record identity.
func expirationID(userID UserID, ref SkillRef, at time.Time) string {
	return fmt.Sprintf("exp-%s-%s-%d", userID, ref, at.UTC().Unix())
}

// ReplayExpiry is one logically-occurred revocation found during replay.
type ReplayExpiry struct {
	At     time.Time
	Points Points
}
