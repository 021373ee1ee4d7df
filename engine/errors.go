/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps these to stable machine-readable codes; nothing
  in this package knows about HTTP status codes.

ERROR CATEGORIES:
  1. Admission errors  - event rejected at the mutating boundary
  2. Graph errors      - prerequisite edits rejected
  3. Workflow errors   - approval state conflicts
  4. Maintenance       - global short-circuit during upgrades

USAGE:
  Errors wrap sentinels so callers can branch with errors.Is:

    if errors.Is(err, engine.ErrThrottled) {
        // user-facing rejection, never retried automatically
    }
*/
package engine

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrThrottled is returned when a performance lands inside the
	// point-increment interval with the occurrence budget exhausted, or
	// past the per-user daily event cap.
	ErrThrottled = errors.New("skill event throttled")

	// ErrCycleDetected is returned when a prerequisite edge would make
	// the learning path cyclic. The edit is rejected; the graph is
	// always a DAG.
	ErrCycleDetected = errors.New("learning path cycle detected")

	// ErrAlreadyPending is returned when a self-report submission finds
	// an open approval request for the same (user, skill).
	ErrAlreadyPending = errors.New("approval request already pending")

	// ErrMaxPointsReached is returned when a submission or approval
	// targets a skill already at its completion cap.
	ErrMaxPointsReached = errors.New("skill already at maximum points")

	// ErrMaintenanceMode short-circuits every mutating operation while
	// a database upgrade is in progress.
	ErrMaintenanceMode = errors.New("a database upgrade is in progress, please try again later")

	// ErrDuplicateIdempotencyKey is returned when an event with the
	// same idempotency key already exists. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrSkillNotFound / ErrBadgeNotFound are returned for unknown refs.
	ErrSkillNotFound = errors.New("skill not found")
	ErrBadgeNotFound = errors.New("badge not found")

	// ErrBadgeNotInWindow is returned when a gem badge is queried
	// outside its date window and has not been achieved.
	ErrBadgeNotInWindow = errors.New("badge not available outside its date window")

	// ErrNotShared is returned when a cross-project prerequisite targets
	// a skill that was never shared to the consuming project.
	ErrNotShared = errors.New("skill not shared to project")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports bad input shape. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ThrottledError explains why an event was rejected and when a retry
// could succeed.
type ThrottledError struct {
	UserID     UserID
	Skill      SkillRef
	Reason     string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled: %s for %s on %s", e.Reason, e.UserID, e.Skill)
}

func (e *ThrottledError) Unwrap() error { return ErrThrottled }

// CycleDetectedError carries the path that would close the cycle.
type CycleDetectedError struct {
	From NodeRef
	To   NodeRef
	Path []NodeRef
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("adding %s -> %s would create a cycle", e.From, e.To)
}

func (e *CycleDetectedError) Unwrap() error { return ErrCycleDetected }

// AlreadyPendingError points the client at the existing open request.
type AlreadyPendingError struct {
	UserID            UserID
	Skill             SkillRef
	ExistingRequestID string
}

func (e *AlreadyPendingError) Error() string {
	return fmt.Sprintf("approval request %s is already pending for %s on %s",
		e.ExistingRequestID, e.UserID, e.Skill)
}

func (e *AlreadyPendingError) Unwrap() error { return ErrAlreadyPending }

// MaxPointsReachedError reports the cap that was already met.
type MaxPointsReachedError struct {
	UserID UserID
	Skill  SkillRef
	Cap    Points
}

func (e *MaxPointsReachedError) Error() string {
	return fmt.Sprintf("%s already earned the maximum %d points for %s",
		e.UserID, e.Cap.Int(), e.Skill)
}

func (e *MaxPointsReachedError) Unwrap() error { return ErrMaxPointsReached }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a user-facing rejection, as opposed to an engine failure.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrThrottled) ||
		errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrNotShared)
}

// IsConflict returns true for workflow-state conflicts that the client
// can act on (e.g. "view existing request").
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyPending) ||
		errors.Is(err, ErrMaxPointsReached)
}

// IsNotFound returns true if the error indicates a missing reference.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSkillNotFound) ||
		errors.Is(err, ErrBadgeNotFound)
}

// Code returns the stable machine-readable code carried to clients.
func Code(err error) string {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return "ValidationError"
	case errors.Is(err, ErrThrottled):
		return "Throttled"
	case errors.Is(err, ErrCycleDetected):
		return "CycleDetected"
	case errors.Is(err, ErrAlreadyPending):
		return "AlreadyPending"
	case errors.Is(err, ErrMaxPointsReached):
		return "MaxPointsReached"
	case errors.Is(err, ErrMaintenanceMode):
		return "DbUpgradeInProgress"
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		return "DuplicateEvent"
	case errors.Is(err, ErrSkillNotFound):
		return "SkillNotFound"
	case errors.Is(err, ErrBadgeNotFound):
		return "BadgeNotFound"
	case errors.Is(err, ErrBadgeNotInWindow):
		return "BadgeNotInWindow"
	case errors.Is(err, ErrNotShared):
		return "SkillNotShared"
	default:
		return "InternalError"
	}
}
