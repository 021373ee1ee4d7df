package engine_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pathway/skill-engine/engine"
	"github.com/pathway/skill-engine/engine/store"
)

func newWorkflowFixture(t *testing.T) (*engine.Workflow, *engine.Aggregator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	locks := engine.NewKeyLocks()
	agg := engine.NewAggregator(engine.NewLedger(mem), mem, locks)
	wf := &engine.Workflow{Approvals: mem, Agg: agg, Locks: locks}
	return wf, agg, mem
}

func approvalDef(project, skill string) engine.SkillDefinition {
	def := simpleDef(project, skill, 50, 3)
	def.SelfReporting = engine.SelfReportApproval
	return def
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestSubmit_CreatesPendingRequest(t *testing.T) {
	// GIVEN: An approval-gated skill
	// WHEN: The user submits a self report
	// THEN: A PENDING request holds the claimed timestamp and increment

	wf, _, mem := newWorkflowFixture(t)
	ctx := context.Background()
	now := baseTime()
	saveDef(t, mem, approvalDef("proj", "mentor"))

	claimed := now.Add(-2 * time.Hour)
	req, err := wf.Submit(ctx, engine.DefaultSettings(), engine.SubmitRequest{
		UserID:    "user-1",
		Skill:     engine.SkillRef{ProjectID: "proj", SkillID: "mentor"},
		Timestamp: claimed,
		Now:       now,
		Message:   "Paired with a new hire for an hour",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if req.State != engine.ApprovalPending {
		t.Errorf("Expected PENDING, got %s", req.State)
	}
	if !req.RequestedAt.Equal(claimed) {
		t.Errorf("Expected the claimed timestamp preserved, got %v", req.RequestedAt)
	}
	if req.RequestedPoints != 50 {
		t.Errorf("Expected 50 requested points, got %d", req.RequestedPoints)
	}
}

func TestSubmit_RejectsSecondOpenRequest(t *testing.T) {
	// GIVEN: An open PENDING request for a (user, skill)
	// WHEN: The same user submits again
	// THEN: The duplicate is refused, naming the existing request

	wf, _, mem := newWorkflowFixture(t)
	ctx := context.Background()
	now := baseTime()
	saveDef(t, mem, approvalDef("proj", "mentor"))

	sub := engine.SubmitRequest{
		UserID: "user-1",
		Skill:  engine.SkillRef{ProjectID: "proj", SkillID: "mentor"},
		Now:    now,
	}
	first, err := wf.Submit(ctx, engine.DefaultSettings(), sub)
	if err != nil {
		t.Fatalf("First submit failed: %v", err)
	}

	_, err = wf.Submit(ctx, engine.DefaultSettings(), sub)
	var dup *engine.AlreadyPendingError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected already-pending, got %v", err)
	}
	if dup.ExistingRequestID != first.ID {
		t.Errorf("Expected the existing request id %s, got %s", first.ID, dup.ExistingRequestID)
	}
}

func TestSubmit_RejectsCompletedSkill(t *testing.T) {
	// GIVEN: A user already at the skill's completion cap
	// WHEN: They submit a self report
	// THEN: The submission fails rather than queueing an unapprovable item

	wf, agg, mem := newWorkflowFixture(t)
	now := baseTime()
	saveDef(t, mem, approvalDef("proj", "mentor"))
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "mentor"}

	completeSkill(t, agg, "user-1", ref, 3, now)

	_, err := wf.Submit(context.Background(), engine.DefaultSettings(), engine.SubmitRequest{
		UserID: "user-1", Skill: ref, Now: now,
	})
	var capped *engine.MaxPointsReachedError
	if !errors.As(err, &capped) {
		t.Fatalf("Expected max-points-reached, got %v", err)
	}
}

func TestSubmit_RejectsNonApprovalSkill(t *testing.T) {
	// GIVEN: An honor-system skill
	// WHEN: It is submitted through the approval workflow
	// THEN: The submission is refused as a validation error

	wf, _, mem := newWorkflowFixture(t)
	def := simpleDef("proj", "writeup", 10, 5)
	def.SelfReporting = engine.SelfReportHonorSystem
	saveDef(t, mem, def)

	_, err := wf.Submit(context.Background(), engine.DefaultSettings(), engine.SubmitRequest{
		UserID: "user-1",
		Skill:  engine.SkillRef{ProjectID: "proj", SkillID: "writeup"},
		Now:    baseTime(),
	})
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

// =============================================================================
// APPROVAL
// =============================================================================

func TestApprove_EmitsEventAtRequestedTimestamp(t *testing.T) {
	// GIVEN: A pending request claiming a performance two days ago
	// WHEN: An admin approves it
	// THEN: One event lands at the claimed timestamp with the approver as
	//       reporter, points are granted, and the request is gone

	wf, agg, mem := newWorkflowFixture(t)
	ctx := context.Background()
	now := baseTime()
	saveDef(t, mem, approvalDef("proj", "mentor"))
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "mentor"}

	claimed := now.Add(-48 * time.Hour)
	req, err := wf.Submit(ctx, engine.DefaultSettings(), engine.SubmitRequest{
		UserID: "user-1", Skill: ref, Timestamp: claimed, Now: now,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	outcomes, err := wf.Approve(ctx, engine.DefaultSettings(), []string{req.ID}, "admin-1", now)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].OK {
		t.Fatalf("Expected one OK outcome, got %+v", outcomes)
	}

	events, err := mem.LoadBySkill(ctx, "user-1", ref)
	if err != nil {
		t.Fatalf("Failed to load events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if !events[0].Timestamp.Equal(claimed) {
		t.Errorf("Expected event at the claimed timestamp, got %v", events[0].Timestamp)
	}
	if events[0].ReportedBy != "admin-1" {
		t.Errorf("Expected approver as reporter, got %q", events[0].ReportedBy)
	}

	state, err := agg.SkillState(ctx, "user-1", ref, now)
	if err != nil {
		t.Fatalf("SkillState failed: %v", err)
	}
	if state.TotalPoints.Int() != 50 {
		t.Errorf("Expected 50 points granted, got %d", state.TotalPoints.Int())
	}

	if _, err := mem.GetApproval(ctx, req.ID); err == nil {
		t.Error("Expected the approved request to be deleted")
	}
}

func TestApprove_CapReachedBetweenSubmitAndApprove(t *testing.T) {
	// GIVEN: A pending request, then the skill reaches its cap through
	//        direct reports before the admin acts
	// WHEN: The request is approved
	// THEN: The item fails with max-points-reached instead of
	//       double-granting

	wf, agg, mem := newWorkflowFixture(t)
	ctx := context.Background()
	now := baseTime()
	saveDef(t, mem, approvalDef("proj", "mentor"))
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "mentor"}

	req, err := wf.Submit(ctx, engine.DefaultSettings(), engine.SubmitRequest{
		UserID: "user-1", Skill: ref, Timestamp: now.Add(-time.Hour), Now: now,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	completeSkill(t, agg, "user-1", ref, 3, now)

	outcomes, err := wf.Approve(ctx, engine.DefaultSettings(), []string{req.ID}, "admin-1", now)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if outcomes[0].OK {
		t.Fatal("Expected the capped item to fail")
	}
	if !strings.Contains(outcomes[0].ErrorCode, "MaxPointsReached") {
		t.Errorf("Expected a max-points error code, got %q", outcomes[0].ErrorCode)
	}
}

func TestApprove_BatchReportsPerItemOutcomes(t *testing.T) {
	// GIVEN: One approvable request and one unknown id in the same batch
	// WHEN: The batch is approved
	// THEN: Each item carries its own outcome; the good one still lands

	wf, _, mem := newWorkflowFixture(t)
	ctx := context.Background()
	now := baseTime()
	saveDef(t, mem, approvalDef("proj", "mentor"))

	req, err := wf.Submit(ctx, engine.DefaultSettings(), engine.SubmitRequest{
		UserID: "user-1",
		Skill:  engine.SkillRef{ProjectID: "proj", SkillID: "mentor"},
		Now:    now,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	outcomes, err := wf.Approve(ctx, engine.DefaultSettings(),
		[]string{req.ID, "no-such-request"}, "admin-1", now)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("Expected 2 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].OK {
		t.Errorf("Expected the real request approved, got %+v", outcomes[0])
	}
	if outcomes[1].OK {
		t.Errorf("Expected the unknown id to fail, got %+v", outcomes[1])
	}
}

// =============================================================================
// REJECTION
// =============================================================================

func TestReject_KeepsRequestAndAllowsResubmission(t *testing.T) {
	// GIVEN: A pending request
	// WHEN: It is rejected with a message and the user submits again
	// THEN: The rejected request remains visible with its message, no
	//       event is emitted, and the resubmission opens a fresh request

	wf, _, mem := newWorkflowFixture(t)
	ctx := context.Background()
	now := baseTime()
	saveDef(t, mem, approvalDef("proj", "mentor"))
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "mentor"}

	sub := engine.SubmitRequest{UserID: "user-1", Skill: ref, Now: now}
	req, err := wf.Submit(ctx, engine.DefaultSettings(), sub)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	outcomes, err := wf.Reject(ctx, engine.DefaultSettings(), []string{req.ID},
		"Need a session writeup first", now)
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if !outcomes[0].OK {
		t.Fatalf("Expected rejection to succeed, got %+v", outcomes[0])
	}

	stored, err := mem.GetApproval(ctx, req.ID)
	if err != nil {
		t.Fatalf("Expected the rejected request retained: %v", err)
	}
	if stored.State != engine.ApprovalRejected {
		t.Errorf("Expected REJECTED, got %s", stored.State)
	}
	if stored.RejectionMessage != "Need a session writeup first" {
		t.Errorf("Expected the rejection message recorded, got %q", stored.RejectionMessage)
	}

	events, err := mem.LoadBySkill(ctx, "user-1", ref)
	if err != nil {
		t.Fatalf("Failed to load events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected no events from a rejection, got %d", len(events))
	}

	second, err := wf.Submit(ctx, engine.DefaultSettings(), sub)
	if err != nil {
		t.Fatalf("Expected resubmission after rejection, got %v", err)
	}
	if second.ID == req.ID {
		t.Error("Expected a fresh request id on resubmission")
	}
}

func TestReject_CannotRejectTwice(t *testing.T) {
	// GIVEN: An already-rejected request
	// WHEN: It is rejected again
	// THEN: The transition is refused per item

	wf, _, mem := newWorkflowFixture(t)
	ctx := context.Background()
	now := baseTime()
	saveDef(t, mem, approvalDef("proj", "mentor"))

	req, err := wf.Submit(ctx, engine.DefaultSettings(), engine.SubmitRequest{
		UserID: "user-1",
		Skill:  engine.SkillRef{ProjectID: "proj", SkillID: "mentor"},
		Now:    now,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := wf.Reject(ctx, engine.DefaultSettings(), []string{req.ID}, "no", now); err != nil {
		t.Fatalf("First reject failed: %v", err)
	}

	outcomes, err := wf.Reject(ctx, engine.DefaultSettings(), []string{req.ID}, "still no", now)
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if outcomes[0].OK {
		t.Error("Expected the second rejection refused")
	}
}

// =============================================================================
// MESSAGE POLICY
// =============================================================================

func TestValidateMessage_LengthBound(t *testing.T) {
	// GIVEN: A 250-character message limit
	// WHEN: Messages at and past the bound are validated
	// THEN: The boundary passes and the overrun fails

	st := engine.DefaultSettings()

	if err := engine.ValidateMessage(st, strings.Repeat("a", 250)); err != nil {
		t.Errorf("Expected 250 characters accepted, got %v", err)
	}
	if err := engine.ValidateMessage(st, strings.Repeat("a", 251)); err == nil {
		t.Error("Expected 251 characters rejected")
	}
}

func TestValidateMessage_Denylist(t *testing.T) {
	// GIVEN: A denylist pattern configured
	// WHEN: A matching and a clean message are validated
	// THEN: Only the clean one passes

	st := engine.DefaultSettings()
	st.MessageDenylist = regexp.MustCompile(`(?i)jabberwocky`)

	if err := engine.ValidateMessage(st, "I mentored on the Jabberwocky module"); err == nil {
		t.Error("Expected denylisted message rejected")
	}
	if err := engine.ValidateMessage(st, "Paired on refactoring"); err != nil {
		t.Errorf("Expected clean message accepted, got %v", err)
	}
}

func TestSubmit_MaintenanceMode(t *testing.T) {
	// GIVEN: Maintenance mode is on
	// WHEN: Any workflow mutation is attempted
	// THEN: It is refused up front

	wf, _, mem := newWorkflowFixture(t)
	saveDef(t, mem, approvalDef("proj", "mentor"))
	st := engine.DefaultSettings()
	st.MaintenanceMode = true

	_, err := wf.Submit(context.Background(), st, engine.SubmitRequest{
		UserID: "user-1",
		Skill:  engine.SkillRef{ProjectID: "proj", SkillID: "mentor"},
		Now:    baseTime(),
	})
	if !errors.Is(err, engine.ErrMaintenanceMode) {
		t.Fatalf("Expected maintenance-mode refusal, got %v", err)
	}
}
