/*
stores.go - Persistence interfaces for the engine

PURPOSE:
  Defines the boundary between the engine and storage. The event ledger
  is append-only; every other table is a plain keyed record set. The
  derived views (state, level, badge progress) are never stored as
  sources of truth, so the interfaces here cover only admitted facts.

IMPLEMENTATIONS:
  - engine/store: in-memory, for tests and development
  - store/sqlite: production SQLite

APPEND-ONLY CONTRACT:
  EventStore has no update or delete. Expired points are not removed
  from the ledger; expiration is recorded separately and derived state
  is recomputed from both.
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// EVENT STORE - Append-only skill event ledger
// =============================================================================

// UserSkillKey identifies one user's history for one skill.
type UserSkillKey struct {
	UserID UserID
	Skill  SkillRef
}

// EventStore persists skill events. Append-only: no Update, no Delete.
type EventStore interface {
	// Append persists one event. Fails if the idempotency key exists.
	Append(ctx context.Context, ev SkillEvent) error

	// LoadBySkill returns a user's events for one skill, ordered by
	// Timestamp ascending.
	LoadBySkill(ctx context.Context, userID UserID, ref SkillRef) ([]SkillEvent, error)

	// LoadByProject returns a user's events across a project, ordered
	// by Timestamp ascending.
	LoadByProject(ctx context.Context, userID UserID, projectID ProjectID) ([]SkillEvent, error)

	// CountOnDay returns the user's event count in the project on the
	// UTC day containing at. Used for the daily event cap.
	CountOnDay(ctx context.Context, userID UserID, projectID ProjectID, at time.Time) (int, error)

	// Exists checks whether the idempotency key was already admitted.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// DistinctUserSkills enumerates every (user, skill) pair with at
	// least one event in the project. The expiration sweep walks this.
	DistinctUserSkills(ctx context.Context, projectID ProjectID) ([]UserSkillKey, error)

	// UserIDsByProject returns every user with events in the project.
	// Rank views are computed over this set.
	UserIDsByProject(ctx context.Context, projectID ProjectID) ([]UserID, error)
}

// =============================================================================
// DEFINITION STORE - Skill definitions and subjects
// =============================================================================

type DefinitionStore interface {
	GetSkill(ctx context.Context, ref SkillRef) (*SkillDefinition, error)
	ListProjects(ctx context.Context) ([]ProjectID, error)
	SaveSkill(ctx context.Context, def SkillDefinition) error
	ListByProject(ctx context.Context, projectID ProjectID) ([]SkillDefinition, error)
	ListBySubject(ctx context.Context, projectID ProjectID, subjectID SubjectID) ([]SkillDefinition, error)
}

// =============================================================================
// EDGE STORE - Learning path edges
// =============================================================================

// LearningPathEdge is a directed prerequisite: To must be achieved
// before From unlocks.
type LearningPathEdge struct {
	From      NodeRef
	To        NodeRef
	CreatedAt time.Time
}

type EdgeStore interface {
	SaveEdge(ctx context.Context, edge LearningPathEdge) error
	DeleteEdge(ctx context.Context, from, to NodeRef) error

	// EdgesFrom returns the prerequisites of a node.
	EdgesFrom(ctx context.Context, from NodeRef) ([]LearningPathEdge, error)

	// EdgesTo returns the dependents of a node.
	EdgesTo(ctx context.Context, to NodeRef) ([]LearningPathEdge, error)

	// AllEdges returns every edge touching the project (either side).
	// Cycle validation loads this plus any cross-project continuations.
	AllEdges(ctx context.Context) ([]LearningPathEdge, error)
}

// =============================================================================
// BADGE STORE
// =============================================================================

type BadgeStore interface {
	GetBadge(ctx context.Context, projectID ProjectID, badgeID BadgeID) (*Badge, error)
	SaveBadge(ctx context.Context, b Badge) error
	ListBadges(ctx context.Context, projectID ProjectID) ([]Badge, error)
	ListGlobal(ctx context.Context) ([]Badge, error)
}

// =============================================================================
// APPROVAL STORE
// =============================================================================

type ApprovalStore interface {
	SaveApproval(ctx context.Context, req ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*ApprovalRequest, error)
	DeleteApproval(ctx context.Context, id string) error

	// FindOpen returns the PENDING request for (user, skill), or nil.
	FindOpen(ctx context.Context, userID UserID, ref SkillRef) (*ApprovalRequest, error)

	ListPending(ctx context.Context, projectID ProjectID) ([]ApprovalRequest, error)
}

// =============================================================================
// LEVEL STORE - Threshold tracks per project and per subject
// =============================================================================

type LevelStore interface {
	// GetThresholds returns the ordered thresholds for the project
	// track (subjectID empty) or a subject track. A nil slice means no
	// explicit track is configured and defaults apply.
	GetThresholds(ctx context.Context, projectID ProjectID, subjectID SubjectID) ([]int, error)
	SaveThresholds(ctx context.Context, projectID ProjectID, subjectID SubjectID, thresholds []int) error
}

// =============================================================================
// CELEBRATION STORE - Persisted level-up dismissals
// =============================================================================

type CelebrationStore interface {
	// Dismiss persists that the user dismissed the celebration for a
	// (scope, level), so that milestone is never shown again.
	Dismiss(ctx context.Context, userID UserID, scopeKey string, level int) error
	IsDismissed(ctx context.Context, userID UserID, scopeKey string, level int) (bool, error)
}

// =============================================================================
// EXPIRATION RUN STORE - Recorded revocations for UI display
// =============================================================================

type ExpirationRunStore interface {
	// RecordExpiration persists one revocation. Implementations must be
	// idempotent on (user, skill, expiredAt) so repeated sweeps do not
	// duplicate records.
	RecordExpiration(ctx context.Context, rec ExpirationRecord) error

	// HasExpiration reports whether the revocation was already recorded.
	HasExpiration(ctx context.Context, userID UserID, ref SkillRef, expiredAt time.Time) (bool, error)

	// ListExpirations returns the project's most recent records, newest
	// first, at most limit.
	ListExpirations(ctx context.Context, projectID ProjectID, limit int) ([]ExpirationRecord, error)
}
