package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pathway/skill-engine/engine"
	"github.com/pathway/skill-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestEngine(t *testing.T) (*engine.Aggregator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	agg := engine.NewAggregator(engine.NewLedger(mem), mem, engine.NewKeyLocks())
	return agg, mem
}

func saveDef(t *testing.T, mem *store.Memory, def engine.SkillDefinition) {
	t.Helper()
	if err := mem.SaveSkill(context.Background(), def); err != nil {
		t.Fatalf("Failed to save skill definition: %v", err)
	}
}

func baseTime() time.Time {
	return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
}

func simpleDef(project, skill string, increment, performances int) engine.SkillDefinition {
	return engine.SkillDefinition{
		ProjectID:              engine.ProjectID(project),
		SkillID:                engine.SkillID(skill),
		SubjectID:              "general",
		Name:                   skill,
		PointIncrement:         increment,
		NumPerformToCompletion: performances,
	}
}

// =============================================================================
// COMPLETION CAP
// =============================================================================

func TestApplyEvent_AwardsUntilCompletionCap(t *testing.T) {
	// GIVEN: A skill worth 100 points per performance, 5 to complete
	// WHEN: The user performs it 7 times on distinct days
	// THEN: Performances 1-5 award 100 each, 6 and 7 award zero but are
	//       still admitted (renewal), and the total stays at 500

	agg, mem := newTestEngine(t)
	ctx := context.Background()
	saveDef(t, mem, simpleDef("proj", "deploy", 100, 5))

	now := baseTime()
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "deploy"}

	for i := 0; i < 7; i++ {
		res, err := agg.ApplyEvent(ctx, engine.DefaultSettings(), engine.ReportRequest{
			UserID:    "user-1",
			Skill:     ref,
			Timestamp: now.Add(time.Duration(i-7) * 24 * time.Hour),
			Now:       now,
		})
		if err != nil {
			t.Fatalf("Event %d failed: %v", i+1, err)
		}

		if i < 5 {
			if !res.Applied {
				t.Errorf("Event %d: expected points applied", i+1)
			}
			if res.PointsEarned.Int() != 100 {
				t.Errorf("Event %d: expected 100 points, got %d", i+1, res.PointsEarned.Int())
			}
		} else {
			if res.Applied {
				t.Errorf("Event %d: expected zero-point renewal, got applied", i+1)
			}
		}
	}

	state, err := agg.SkillState(ctx, "user-1", ref, now)
	if err != nil {
		t.Fatalf("SkillState failed: %v", err)
	}
	if state.TotalPoints.Int() != 500 {
		t.Errorf("Expected total 500, got %d", state.TotalPoints.Int())
	}
	if !state.Completed {
		t.Error("Expected skill to be completed")
	}
	if state.PerformedCount != 7 {
		t.Errorf("Expected 7 performances counted, got %d", state.PerformedCount)
	}
}

func TestReplay_ClampsAtCap(t *testing.T) {
	// GIVEN: More performances than the skill needs for completion
	// WHEN: The history is replayed
	// THEN: The total never exceeds the completion cap

	def := simpleDef("proj", "review", 100, 5)
	events := []engine.SkillEvent{}
	ts := baseTime().Add(-10 * 24 * time.Hour)
	for i := 0; i < 9; i++ {
		events = append(events, engine.SkillEvent{
			ID:        fmt.Sprintf("ev-%d", i),
			UserID:    "user-1",
			ProjectID: "proj",
			SkillID:   "review",
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
		})
	}
	// 9 events at 100/each against a 500 cap: first 5 award, rest renew.
	state, _ := engine.Replay(&def, events, baseTime())
	if state.TotalPoints.Int() != 500 {
		t.Fatalf("Expected replay to clamp at 500, got %d", state.TotalPoints.Int())
	}
}

// =============================================================================
// THROTTLING
// =============================================================================

func TestApplyEvent_ThrottledWithinInterval(t *testing.T) {
	// GIVEN: A skill allowing 1 occurrence per 60 minutes
	// WHEN: Two performances land 10 minutes apart
	// THEN: The second is rejected with a throttle error carrying a
	//       retry hint, and no event is recorded for it

	agg, mem := newTestEngine(t)
	ctx := context.Background()

	def := simpleDef("proj", "standup", 10, 20)
	def.PointIncrementIntervalMinutes = 60
	def.MaxOccurrencesInInterval = 1
	saveDef(t, mem, def)

	now := baseTime()
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "standup"}

	if _, err := agg.ApplyEvent(ctx, engine.DefaultSettings(), engine.ReportRequest{
		UserID: "user-1", Skill: ref, Timestamp: now.Add(-10 * time.Minute), Now: now,
	}); err != nil {
		t.Fatalf("First event failed: %v", err)
	}

	_, err := agg.ApplyEvent(ctx, engine.DefaultSettings(), engine.ReportRequest{
		UserID: "user-1", Skill: ref, Timestamp: now, Now: now,
	})
	if !errors.Is(err, engine.ErrThrottled) {
		t.Fatalf("Expected throttle error, got %v", err)
	}

	var throttled *engine.ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatal("Expected *ThrottledError")
	}
	if throttled.RetryAfter != 50*time.Minute {
		t.Errorf("Expected retry after 50m, got %v", throttled.RetryAfter)
	}

	state, _ := agg.SkillState(ctx, "user-1", ref, now)
	if state.PerformedCount != 1 {
		t.Errorf("Throttled event must not be recorded; got %d performances", state.PerformedCount)
	}
}

func TestApplyEvent_OccurrenceBudgetWithinInterval(t *testing.T) {
	// GIVEN: A skill allowing 2 occurrences per 60 minutes
	// WHEN: Three performances land within the hour
	// THEN: The first two are admitted, the third is throttled

	agg, mem := newTestEngine(t)
	ctx := context.Background()

	def := simpleDef("proj", "pairing", 10, 50)
	def.PointIncrementIntervalMinutes = 60
	def.MaxOccurrencesInInterval = 2
	saveDef(t, mem, def)

	now := baseTime()
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "pairing"}

	for i, offset := range []time.Duration{-40 * time.Minute, -20 * time.Minute} {
		if _, err := agg.ApplyEvent(ctx, engine.DefaultSettings(), engine.ReportRequest{
			UserID: "user-1", Skill: ref, Timestamp: now.Add(offset), Now: now,
		}); err != nil {
			t.Fatalf("Event %d failed: %v", i+1, err)
		}
	}

	_, err := agg.ApplyEvent(ctx, engine.DefaultSettings(), engine.ReportRequest{
		UserID: "user-1", Skill: ref, Timestamp: now, Now: now,
	})
	if !errors.Is(err, engine.ErrThrottled) {
		t.Fatalf("Expected throttle on third occurrence, got %v", err)
	}
}

func TestApplyEvent_UnlimitedOccurrences(t *testing.T) {
	// GIVEN: MaxOccurrencesInInterval = -1 (unlimited)
	// WHEN: Many performances land within the interval
	// THEN: None are throttled

	agg, mem := newTestEngine(t)
	ctx := context.Background()

	def := simpleDef("proj", "chat", 1, 100)
	def.PointIncrementIntervalMinutes = 60
	def.MaxOccurrencesInInterval = -1
	saveDef(t, mem, def)

	now := baseTime()
	for i := 0; i < 5; i++ {
		_, err := agg.ApplyEvent(ctx, engine.DefaultSettings(), engine.ReportRequest{
			UserID:    "user-1",
			Skill:     engine.SkillRef{ProjectID: "proj", SkillID: "chat"},
			Timestamp: now.Add(time.Duration(i-5) * time.Minute),
			Now:       now,
		})
		if err != nil {
			t.Fatalf("Event %d unexpectedly rejected: %v", i+1, err)
		}
	}
}

func TestApplyEvent_DailyCap(t *testing.T) {
	// GIVEN: Settings cap a user at 2 events per project per UTC day
	// WHEN: A third event lands on the same day
	// THEN: It is throttled

	agg, mem := newTestEngine(t)
	ctx := context.Background()
	saveDef(t, mem, simpleDef("proj", "a", 10, 100))
	saveDef(t, mem, simpleDef("proj", "b", 10, 100))

	st := engine.DefaultSettings()
	st.MaxDailyUserEvents = 2

	now := baseTime()
	for i, skill := range []string{"a", "b"} {
		_, err := agg.ApplyEvent(ctx, st, engine.ReportRequest{
			UserID:    "user-1",
			Skill:     engine.SkillRef{ProjectID: "proj", SkillID: engine.SkillID(skill)},
			Timestamp: now.Add(time.Duration(i-5) * time.Hour),
			Now:       now,
		})
		if err != nil {
			t.Fatalf("Event %d failed: %v", i+1, err)
		}
	}

	_, err := agg.ApplyEvent(ctx, st, engine.ReportRequest{
		UserID:    "user-1",
		Skill:     engine.SkillRef{ProjectID: "proj", SkillID: "a"},
		Timestamp: now.Add(-2 * time.Hour),
		Now:       now,
	})
	if !errors.Is(err, engine.ErrThrottled) {
		t.Fatalf("Expected daily cap throttle, got %v", err)
	}
}

// =============================================================================
// ADMISSION VALIDATION
// =============================================================================

func TestApplyEvent_RejectsFutureTimestamp(t *testing.T) {
	// GIVEN: Default settings tolerate 30 seconds of clock drift
	// WHEN: An event is stamped 5 minutes in the future
	// THEN: It is rejected as a validation error

	agg, mem := newTestEngine(t)
	saveDef(t, mem, simpleDef("proj", "x", 10, 10))

	now := baseTime()
	_, err := agg.ApplyEvent(context.Background(), engine.DefaultSettings(), engine.ReportRequest{
		UserID:    "user-1",
		Skill:     engine.SkillRef{ProjectID: "proj", SkillID: "x"},
		Timestamp: now.Add(5 * time.Minute),
		Now:       now,
	})
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestApplyEvent_AllowsClockDrift(t *testing.T) {
	// GIVEN: Default 30s drift tolerance
	// WHEN: An event is stamped 10 seconds ahead of the server clock
	// THEN: It is admitted

	agg, mem := newTestEngine(t)
	saveDef(t, mem, simpleDef("proj", "x", 10, 10))

	now := baseTime()
	_, err := agg.ApplyEvent(context.Background(), engine.DefaultSettings(), engine.ReportRequest{
		UserID:    "user-1",
		Skill:     engine.SkillRef{ProjectID: "proj", SkillID: "x"},
		Timestamp: now.Add(10 * time.Second),
		Now:       now,
	})
	if err != nil {
		t.Fatalf("Expected drift-tolerant admission, got %v", err)
	}
}

func TestApplyEvent_MaintenanceMode(t *testing.T) {
	agg, mem := newTestEngine(t)
	saveDef(t, mem, simpleDef("proj", "x", 10, 10))

	st := engine.DefaultSettings()
	st.MaintenanceMode = true

	_, err := agg.ApplyEvent(context.Background(), st, engine.ReportRequest{
		UserID: "user-1",
		Skill:  engine.SkillRef{ProjectID: "proj", SkillID: "x"},
		Now:    baseTime(),
	})
	if !errors.Is(err, engine.ErrMaintenanceMode) {
		t.Fatalf("Expected maintenance mode error, got %v", err)
	}
}

func TestApplyEvent_DuplicateIdempotencyKey(t *testing.T) {
	// GIVEN: An event already recorded with a client-supplied key
	// WHEN: The same key is submitted again
	// THEN: The replay is rejected and the ledger holds one event

	agg, mem := newTestEngine(t)
	ctx := context.Background()
	saveDef(t, mem, simpleDef("proj", "x", 10, 10))

	now := baseTime()
	req := engine.ReportRequest{
		UserID:         "user-1",
		Skill:          engine.SkillRef{ProjectID: "proj", SkillID: "x"},
		Timestamp:      now.Add(-time.Hour),
		Now:            now,
		IdempotencyKey: "client-key-1",
	}

	if _, err := agg.ApplyEvent(ctx, engine.DefaultSettings(), req); err != nil {
		t.Fatalf("First submission failed: %v", err)
	}
	req.Timestamp = now.Add(-30 * time.Minute)
	_, err := agg.ApplyEvent(ctx, engine.DefaultSettings(), req)
	if !errors.Is(err, engine.ErrDuplicateIdempotencyKey) {
		t.Fatalf("Expected duplicate key rejection, got %v", err)
	}

	state, _ := agg.SkillState(ctx, "user-1", req.Skill, now)
	if state.PerformedCount != 1 {
		t.Errorf("Expected 1 recorded event, got %d", state.PerformedCount)
	}
}

// =============================================================================
// REPLAY PROPERTIES
// =============================================================================

func TestReplay_OrderIndependent(t *testing.T) {
	// GIVEN: The same events delivered in different orders
	// WHEN: State is replayed
	// THEN: Totals, completion, and performance counts are identical

	def := simpleDef("proj", "x", 50, 3)
	base := baseTime().Add(-10 * 24 * time.Hour)
	events := []engine.SkillEvent{
		{ID: "a", UserID: "u", ProjectID: "proj", SkillID: "x", Timestamp: base},
		{ID: "b", UserID: "u", ProjectID: "proj", SkillID: "x", Timestamp: base.Add(24 * time.Hour)},
		{ID: "c", UserID: "u", ProjectID: "proj", SkillID: "x", Timestamp: base.Add(48 * time.Hour)},
		{ID: "d", UserID: "u", ProjectID: "proj", SkillID: "x", Timestamp: base.Add(72 * time.Hour)},
	}

	orders := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 0, 3, 1},
	}
	var reference *engine.UserSkillState
	for _, order := range orders {
		shuffled := make([]engine.SkillEvent, len(events))
		for i, idx := range order {
			shuffled[i] = events[idx]
		}
		state, _ := engine.Replay(&def, shuffled, baseTime())
		if reference == nil {
			ref := state
			reference = &ref
			continue
		}
		if state.TotalPoints.Int() != reference.TotalPoints.Int() ||
			state.PerformedCount != reference.PerformedCount ||
			state.Completed != reference.Completed ||
			!state.LastEventAt.Equal(reference.LastEventAt) {
			t.Errorf("Order %v produced divergent state: %+v vs %+v", order, state, *reference)
		}
	}
	if reference.TotalPoints.Int() != 150 {
		t.Errorf("Expected capped total 150, got %d", reference.TotalPoints.Int())
	}
}

func TestReplay_TimestampTieBrokenByID(t *testing.T) {
	// Two events sharing a timestamp fold in ID order, so insertion
	// order never changes the outcome.

	def := simpleDef("proj", "x", 50, 1)
	ts := baseTime().Add(-time.Hour)
	forward := []engine.SkillEvent{
		{ID: "a", UserID: "u", ProjectID: "proj", SkillID: "x", Timestamp: ts},
		{ID: "b", UserID: "u", ProjectID: "proj", SkillID: "x", Timestamp: ts},
	}
	backward := []engine.SkillEvent{forward[1], forward[0]}

	s1, _ := engine.Replay(&def, forward, baseTime())
	s2, _ := engine.Replay(&def, backward, baseTime())
	if s1.TotalPoints.Int() != s2.TotalPoints.Int() || s1.CompletedAt != s2.CompletedAt {
		t.Errorf("Tie-break divergence: %+v vs %+v", s1, s2)
	}
}

func TestReplay_TodaysPoints(t *testing.T) {
	def := simpleDef("proj", "x", 10, 10)
	now := baseTime()
	events := []engine.SkillEvent{
		{ID: "a", UserID: "u", ProjectID: "proj", SkillID: "x", Timestamp: now.Add(-48 * time.Hour)},
		{ID: "b", UserID: "u", ProjectID: "proj", SkillID: "x", Timestamp: now.Add(-2 * time.Hour)},
		{ID: "c", UserID: "u", ProjectID: "proj", SkillID: "x", Timestamp: now.Add(-1 * time.Hour)},
	}
	state, _ := engine.Replay(&def, events, now)
	if state.TotalPoints.Int() != 30 {
		t.Errorf("Expected 30 total, got %d", state.TotalPoints.Int())
	}
	if state.TodaysPoints.Int() != 20 {
		t.Errorf("Expected 20 today, got %d", state.TodaysPoints.Int())
	}
}

// =============================================================================
// CATALOG IMPORTS
// =============================================================================

func TestCatalogImport_EventsStoredUnderCanonicalRef(t *testing.T) {
	// GIVEN: Project B imports a skill from project A's catalog
	// WHEN: A user performs it via either project's ref
	// THEN: Events accrue under the canonical (A) ref and both views
	//       agree; rollups count the skill once

	agg, mem := newTestEngine(t)
	ctx := context.Background()

	origin := simpleDef("proj-a", "git-basics", 25, 4)
	origin.SharedToProjects = []engine.ProjectID{"proj-b"}
	saveDef(t, mem, origin)

	imported := simpleDef("proj-b", "git-basics-import", 25, 4)
	imported.ImportedFrom = &engine.SkillRef{ProjectID: "proj-a", SkillID: "git-basics"}
	saveDef(t, mem, imported)

	now := baseTime()
	if _, err := agg.ApplyEvent(ctx, engine.DefaultSettings(), engine.ReportRequest{
		UserID:    "user-1",
		Skill:     engine.SkillRef{ProjectID: "proj-b", SkillID: "git-basics-import"},
		Timestamp: now.Add(-2 * time.Hour),
		Now:       now,
	}); err != nil {
		t.Fatalf("Import-side event failed: %v", err)
	}
	if _, err := agg.ApplyEvent(ctx, engine.DefaultSettings(), engine.ReportRequest{
		UserID:    "user-1",
		Skill:     engine.SkillRef{ProjectID: "proj-a", SkillID: "git-basics"},
		Timestamp: now.Add(-1 * time.Hour),
		Now:       now,
	}); err != nil {
		t.Fatalf("Origin-side event failed: %v", err)
	}

	originState, _ := agg.SkillState(ctx, "user-1", origin.Ref(), now)
	importState, _ := agg.SkillState(ctx, "user-1", imported.Ref(), now)
	if originState.TotalPoints.Int() != 50 || importState.TotalPoints.Int() != 50 {
		t.Errorf("Expected both views at 50, got origin=%d import=%d",
			originState.TotalPoints.Int(), importState.TotalPoints.Int())
	}

	totalA, _ := agg.ProjectTotal(ctx, "user-1", "proj-a", now)
	totalB, _ := agg.ProjectTotal(ctx, "user-1", "proj-b", now)
	if totalA.Int() != 50 || totalB.Int() != 50 {
		t.Errorf("Expected project totals of 50/50, got %d/%d", totalA.Int(), totalB.Int())
	}
}

func TestCatalogImport_DailyCapCountsCanonicalProject(t *testing.T) {
	// GIVEN: A cap of 1 event per day and a skill imported into project B
	// WHEN: The user reports twice on the same day through the import
	// THEN: The second report is throttled, and so is a same-day direct
	//       report in the owning project; the cap follows the canonical
	//       ref the events are stored under

	agg, mem := newTestEngine(t)
	ctx := context.Background()

	origin := simpleDef("proj-a", "git-basics", 25, 4)
	origin.SharedToProjects = []engine.ProjectID{"proj-b"}
	saveDef(t, mem, origin)

	imported := simpleDef("proj-b", "git-basics-import", 25, 4)
	imported.ImportedFrom = &engine.SkillRef{ProjectID: "proj-a", SkillID: "git-basics"}
	saveDef(t, mem, imported)

	st := engine.DefaultSettings()
	st.MaxDailyUserEvents = 1

	now := baseTime()
	importRef := engine.SkillRef{ProjectID: "proj-b", SkillID: "git-basics-import"}
	if _, err := agg.ApplyEvent(ctx, st, engine.ReportRequest{
		UserID: "user-1", Skill: importRef, Timestamp: now.Add(-2 * time.Hour), Now: now,
	}); err != nil {
		t.Fatalf("First report failed: %v", err)
	}

	_, err := agg.ApplyEvent(ctx, st, engine.ReportRequest{
		UserID: "user-1", Skill: importRef, Timestamp: now.Add(-1 * time.Hour), Now: now,
	})
	if !errors.Is(err, engine.ErrThrottled) {
		t.Fatalf("Expected the daily cap through the importing project, got %v", err)
	}

	_, err = agg.ApplyEvent(ctx, st, engine.ReportRequest{
		UserID:    "user-1",
		Skill:     engine.SkillRef{ProjectID: "proj-a", SkillID: "git-basics"},
		Timestamp: now.Add(-1 * time.Hour),
		Now:       now,
	})
	if !errors.Is(err, engine.ErrThrottled) {
		t.Fatalf("Expected the shared cap on the direct report, got %v", err)
	}
}

func TestAchievableTotal_ImportsCountOnce(t *testing.T) {
	origin := simpleDef("proj-a", "s", 10, 5)
	imported := simpleDef("proj-a", "s-copy", 10, 5)
	imported.ImportedFrom = &engine.SkillRef{ProjectID: "proj-a", SkillID: "s"}
	other := simpleDef("proj-a", "t", 20, 2)

	total := engine.AchievableTotal([]engine.SkillDefinition{origin, imported, other})
	if total.Int() != 90 {
		t.Errorf("Expected 90 (50 once + 40), got %d", total.Int())
	}
}
