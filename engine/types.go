/*
Package engine provides the skill achievement and learning path engine.

PURPOSE:
  This package contains the domain types and algorithms for a gamified
  learning platform: users earn points by performing skills, points roll
  up into subject and project levels, badges unlock from constituent
  skills, and a prerequisite graph gates which skills are available.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: A point quantity backed by decimal arithmetic
  - SkillDefinition: Admin-authored rules for a single skill
  - SkillEvent: An immutable ledger entry recording a skill performance
  - UserSkillState: Derived per-user/per-skill state (never authoritative)
  - SkillRef / NodeRef: Value keys for cross-project references

DESIGN PRINCIPLES:
  1. Event sourcing: all aggregates derive from the SkillEvent ledger
  2. Determinism: replaying the same events yields the same state
  3. Precision: decimal.Decimal for point and percentage math
  4. Injected time: every time-dependent computation takes an explicit now

SEE ALSO:
  - aggregator.go: Folds events into UserSkillState
  - expiration.go: Scheduled point revocation
  - graph.go: Prerequisite graph over NodeRef keys
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POINTS - Point quantity with decimal precision
// =============================================================================

type Points struct {
	Value decimal.Decimal
}

func NewPoints(value int) Points {
	return Points{Value: decimal.NewFromInt(int64(value))}
}

func ZeroPoints() Points { return Points{Value: decimal.Zero} }

func (p Points) Add(o Points) Points          { return Points{Value: p.Value.Add(o.Value)} }
func (p Points) Sub(o Points) Points          { return Points{Value: p.Value.Sub(o.Value)} }
func (p Points) Mul(n int) Points             { return Points{Value: p.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (p Points) IsZero() bool                 { return p.Value.IsZero() }
func (p Points) IsPositive() bool             { return p.Value.IsPositive() }
func (p Points) GreaterThan(o Points) bool    { return p.Value.GreaterThan(o.Value) }
func (p Points) LessThan(o Points) bool       { return p.Value.LessThan(o.Value) }
func (p Points) GreaterOrEqual(o Points) bool { return !p.Value.LessThan(o.Value) }
func (p Points) Min(o Points) Points {
	if p.LessThan(o) {
		return p
	}
	return o
}

// Int returns the whole-point value. Point totals are always integral;
// decimal is used so percentage math never touches float64.
func (p Points) Int() int { return int(p.Value.IntPart()) }

// PercentOf returns p/total as a 0-100 percentage, rounded to two places.
func (p Points) PercentOf(total Points) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return p.Value.Div(total.Value).Mul(decimal.NewFromInt(100)).Round(2)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type ProjectID string
type SkillID string
type SubjectID string
type BadgeID string

// SkillRef is the identity of a skill: (project, skill). Skills shared
// across projects may reuse the same SkillID under different ProjectIDs,
// so the pair is the only safe key.
type SkillRef struct {
	ProjectID ProjectID
	SkillID   SkillID
}

func (r SkillRef) String() string { return string(r.ProjectID) + "/" + string(r.SkillID) }

// =============================================================================
// SKILL DEFINITION - Admin-authored rules for one skill
// =============================================================================

type SelfReportType string

const (
	SelfReportDisabled    SelfReportType = "Disabled"
	SelfReportHonorSystem SelfReportType = "HonorSystem"
	SelfReportApproval    SelfReportType = "Approval"
	SelfReportVideo       SelfReportType = "Video"
	SelfReportQuiz        SelfReportType = "Quiz"
)

// SkillDefinition carries the rules under which events for a skill are
// admitted and scored. Identity (ProjectID, SkillID) is immutable;
// attributes change only through admin edits.
type SkillDefinition struct {
	ProjectID ProjectID
	SkillID   SkillID
	SubjectID SubjectID
	Name      string

	// Points granted per accepted performance.
	PointIncrement int

	// Performances required to reach the completion cap.
	NumPerformToCompletion int

	// Minutes that must elapse before the same user earns again.
	// 0 disables the throttle.
	PointIncrementIntervalMinutes int

	// Occurrences allowed inside one increment interval. -1 = unlimited.
	MaxOccurrencesInInterval int

	SelfReporting SelfReportType

	// Nil means points never expire.
	Expiration *ExpirationPolicy

	// Projects this skill has been explicitly shared to. A cross-project
	// prerequisite edge may only target a skill shared to the consuming
	// project.
	SharedToProjects []ProjectID

	// Set when this definition is a catalog import of a skill owned by
	// another project. Imported instances keep their own ref but count
	// once (under the canonical identity) in rollups.
	ImportedFrom *SkillRef
}

func (d *SkillDefinition) Ref() SkillRef {
	return SkillRef{ProjectID: d.ProjectID, SkillID: d.SkillID}
}

// CanonicalRef resolves catalog imports to the owning skill's identity.
func (d *SkillDefinition) CanonicalRef() SkillRef {
	if d.ImportedFrom != nil {
		return *d.ImportedFrom
	}
	return d.Ref()
}

// CompletionCap is the maximum total a user can hold for this skill.
func (d *SkillDefinition) CompletionCap() Points {
	return NewPoints(d.PointIncrement).Mul(d.NumPerformToCompletion)
}

// SharedTo reports whether the skill is visible to the given project,
// either natively or through explicit sharing.
func (d *SkillDefinition) SharedTo(p ProjectID) bool {
	if d.ProjectID == p {
		return true
	}
	for _, sp := range d.SharedToProjects {
		if sp == p {
			return true
		}
	}
	return false
}

// =============================================================================
// EXPIRATION POLICY
// =============================================================================

type ExpirationType string

const (
	ExpirationNever   ExpirationType = "NEVER"
	ExpirationDaily   ExpirationType = "DAILY"
	ExpirationMonthly ExpirationType = "MONTHLY"
	ExpirationYearly  ExpirationType = "YEARLY"
)

// ExpirationPolicy governs when achieved points are revoked absent
// renewed activity. Every is the cadence multiplier (e.g. DAILY every 90
// = 90 days after the last qualifying event).
type ExpirationPolicy struct {
	Type            ExpirationType
	Every           int
	GracePeriodDays int
}

func (p *ExpirationPolicy) Active() bool {
	return p != nil && p.Type != ExpirationNever && p.Every > 0
}

// =============================================================================
// SKILL EVENT - Immutable ledger entry
// =============================================================================

// SkillEvent records one admitted skill performance. Events are
// append-only; aggregates are recomputed from them, never edited.
type SkillEvent struct {
	ID        string
	UserID    UserID
	ProjectID ProjectID
	SkillID   SkillID
	Timestamp time.Time // always UTC

	// Points granted at admission. Zero for renewal performances past
	// the completion cap. Replay does not trust this field for totals;
	// it re-derives awards so submission order cannot matter.
	PointsAwarded int

	IdempotencyKey string

	// Audit
	ReportedBy string // empty = the user themselves
	CreatedAt  time.Time
}

func (e SkillEvent) Ref() SkillRef {
	return SkillRef{ProjectID: e.ProjectID, SkillID: e.SkillID}
}

// =============================================================================
// USER SKILL STATE - Derived, rebuildable from the ledger
// =============================================================================

// UserSkillState is a materialized view over a user's events for one
// skill. It is never persisted as a source of truth.
type UserSkillState struct {
	UserID UserID
	Skill  SkillRef

	TotalPoints  Points
	TodaysPoints Points

	// Performances counted toward the current earn cycle (resets when
	// points expire).
	PerformedCount int

	LastEventAt time.Time
	Completed   bool
	CompletedAt time.Time

	// Nil when the skill has no active expiration policy or nothing is
	// at stake yet.
	ExpiresAt *time.Time
}

// =============================================================================
// EXPIRATION RECORD - One revocation, recorded for UI display
// =============================================================================

type ExpirationRecord struct {
	ID            string
	UserID        UserID
	Skill         SkillRef
	PointsRemoved Points
	ExpiredAt     time.Time // the computed instant, not the sweep time
	RecordedAt    time.Time
}
