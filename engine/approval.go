/*
approval.go - Self-report approval workflow

PURPOSE:
  Skills configured with selfReportingType = Approval do not grant
  points directly: a submission creates a PENDING request that an
  administrator approves (emitting one SkillEvent at the originally
  requested timestamp) or rejects (recording a message, no event).

STATE MACHINE:
  NONE -> PENDING -> {APPROVED, REJECTED}
  REJECTED -> PENDING via resubmission.

  Transitions are validated in one place (canTransition); handlers
  never flip state directly, which is what keeps illegal combinations
  ("approved and still pending") unrepresentable.

CONCURRENCY:
  The skill may be achieved through the direct API between submission
  and approval. Approval re-checks the completion cap under the same
  key lock event application uses and surfaces MaxPointsReachedError
  instead of double-granting. Batch operations decide each request
  independently and report per-item outcomes, never an opaque batch
  failure.
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pathway/skill-engine/metrics"
)

// =============================================================================
// APPROVAL REQUEST
// =============================================================================

type ApprovalState string

const (
	ApprovalPending  ApprovalState = "PENDING"
	ApprovalApproved ApprovalState = "APPROVED"
	ApprovalRejected ApprovalState = "REJECTED"
)

func canTransition(from, to ApprovalState) bool {
	switch from {
	case ApprovalPending:
		return to == ApprovalApproved || to == ApprovalRejected
	case ApprovalRejected:
		return to == ApprovalPending
	default:
		return false
	}
}

type ApprovalRequest struct {
	ID     string
	UserID UserID
	Skill  SkillRef

	RequestedPoints int
	// RequestedAt is the performance timestamp the user claimed; the
	// emitted event carries this, not the approval time.
	RequestedAt time.Time
	Message     string

	State            ApprovalState
	RejectionMessage string
	SubmittedAt      time.Time
}

// =============================================================================
// WORKFLOW
// =============================================================================

type Workflow struct {
	Approvals ApprovalStore
	Agg       *Aggregator
	Locks     *KeyLocks
}

type SubmitRequest struct {
	UserID    UserID
	Skill     SkillRef
	Timestamp time.Time
	Now       time.Time
	Message   string
}

// Submit creates a PENDING request. Fails with AlreadyPendingError if
// one is open, and with MaxPointsReachedError if the skill is already
// capped (re-checked again at approval time).
func (w *Workflow) Submit(ctx context.Context, st Settings, req SubmitRequest) (*ApprovalRequest, error) {
	if st.MaintenanceMode {
		return nil, ErrMaintenanceMode
	}
	if err := ValidateMessage(st, req.Message); err != nil {
		return nil, err
	}

	def, err := w.Agg.Defs.GetSkill(ctx, req.Skill)
	if err != nil {
		return nil, err
	}
	if def.SelfReporting != SelfReportApproval {
		return nil, &ValidationError{Field: "skillId", Message: "skill is not configured for approval-based self reporting"}
	}

	unlock := w.Locks.Lock(req.Skill.ProjectID, req.UserID, req.Skill.SkillID)
	defer unlock()

	open, err := w.Approvals.FindOpen(ctx, req.UserID, req.Skill)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, &AlreadyPendingError{UserID: req.UserID, Skill: req.Skill, ExistingRequestID: open.ID}
	}

	state, err := w.Agg.SkillState(ctx, req.UserID, req.Skill, req.Now)
	if err != nil {
		return nil, err
	}
	if state.Completed {
		return nil, &MaxPointsReachedError{UserID: req.UserID, Skill: req.Skill, Cap: def.CompletionCap()}
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = req.Now
	}
	ar := ApprovalRequest{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Skill:           req.Skill,
		RequestedPoints: def.PointIncrement,
		RequestedAt:     ts.UTC(),
		Message:         req.Message,
		State:           ApprovalPending,
		SubmittedAt:     req.Now.UTC(),
	}
	if err := w.Approvals.SaveApproval(ctx, ar); err != nil {
		return nil, err
	}
	return &ar, nil
}

// ItemOutcome is the per-request result of a batch decision.
type ItemOutcome struct {
	RequestID string
	OK        bool
	ErrorCode string
	Message   string
}

// Approve decides each request independently: under the request's key
// lock, re-check the cap, emit one SkillEvent at the originally
// requested timestamp, then delete the request. A failure affects only
// its own item.
func (w *Workflow) Approve(ctx context.Context, st Settings, ids []string, approverID string, now time.Time) ([]ItemOutcome, error) {
	if st.MaintenanceMode {
		return nil, ErrMaintenanceMode
	}
	outcomes := make([]ItemOutcome, 0, len(ids))
	for _, id := range ids {
		outcomes = append(outcomes, w.approveOne(ctx, st, id, approverID, now))
	}
	return outcomes, nil
}

func (w *Workflow) approveOne(ctx context.Context, st Settings, id string, approverID string, now time.Time) ItemOutcome {
	req, err := w.Approvals.GetApproval(ctx, id)
	if err != nil {
		return failedItem(id, err)
	}
	if !canTransition(req.State, ApprovalApproved) {
		return ItemOutcome{RequestID: id, ErrorCode: "ValidationError",
			Message: fmt.Sprintf("cannot approve a request in state %s", req.State)}
	}

	// ApplyEvent takes the same key lock and re-derives state, so a
	// direct report landing between submission and approval surfaces
	// here as a capped (retain-only) result.
	res, err := w.Agg.ApplyEvent(ctx, st, ReportRequest{
		UserID:     req.UserID,
		Skill:      req.Skill,
		Timestamp:  req.RequestedAt,
		Now:        now,
		ReportedBy: approverID,
	})
	if err != nil {
		return failedItem(id, err)
	}
	if !res.Applied {
		def, derr := w.Agg.Defs.GetSkill(ctx, req.Skill)
		cap := ZeroPoints()
		if derr == nil {
			cap = def.CompletionCap()
		}
		return failedItem(id, &MaxPointsReachedError{UserID: req.UserID, Skill: req.Skill, Cap: cap})
	}

	if err := w.Approvals.DeleteApproval(ctx, id); err != nil {
		return failedItem(id, err)
	}
	metrics.RecordApprovalApproved()
	return ItemOutcome{RequestID: id, OK: true}
}

// Reject records the rejection message and leaves the request in
// REJECTED state for the user to see; a rejected request no longer
// blocks resubmission. No event is emitted.
func (w *Workflow) Reject(ctx context.Context, st Settings, ids []string, message string, now time.Time) ([]ItemOutcome, error) {
	if st.MaintenanceMode {
		return nil, ErrMaintenanceMode
	}
	if err := ValidateMessage(st, message); err != nil {
		return nil, err
	}

	outcomes := make([]ItemOutcome, 0, len(ids))
	for _, id := range ids {
		outcomes = append(outcomes, w.rejectOne(ctx, id, message, now))
	}
	return outcomes, nil
}

func (w *Workflow) rejectOne(ctx context.Context, id, message string, now time.Time) ItemOutcome {
	req, err := w.Approvals.GetApproval(ctx, id)
	if err != nil {
		return failedItem(id, err)
	}
	if !canTransition(req.State, ApprovalRejected) {
		return ItemOutcome{RequestID: id, ErrorCode: "ValidationError",
			Message: fmt.Sprintf("cannot reject a request in state %s", req.State)}
	}

	unlock := w.Locks.Lock(req.Skill.ProjectID, req.UserID, req.Skill.SkillID)
	defer unlock()

	req.State = ApprovalRejected
	req.RejectionMessage = message
	if err := w.Approvals.SaveApproval(ctx, *req); err != nil {
		return failedItem(id, err)
	}
	metrics.RecordApprovalRejected()
	return ItemOutcome{RequestID: id, OK: true}
}

func failedItem(id string, err error) ItemOutcome {
	return ItemOutcome{RequestID: id, ErrorCode: Code(err), Message: err.Error()}
}

// ValidateMessage applies the shared free-text policy: length bound
// plus the configurable denylist.
func ValidateMessage(st Settings, msg string) error {
	if st.MaxSelfReportMessageLength > 0 && len(msg) > st.MaxSelfReportMessageLength {
		return &ValidationError{Field: "message",
			Message: fmt.Sprintf("message has length of %d, maximum allowed length is %d", len(msg), st.MaxSelfReportMessageLength)}
	}
	if st.MessageDenylist != nil && st.MessageDenylist.MatchString(msg) {
		return &ValidationError{Field: "message", Message: "message contains prohibited content"}
	}
	return nil
}
