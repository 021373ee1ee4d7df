package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/pathway/skill-engine/engine"
	"github.com/pathway/skill-engine/engine/store"
)

func newViewsFixture(t *testing.T) (*engine.Views, *engine.Aggregator, *store.Memory) {
	t.Helper()
	agg, mem := newTestEngine(t)
	levels := &engine.LevelService{Levels: mem, Defs: mem, Celebrations: mem}
	badgeEval := &engine.BadgeEvaluator{Badges: mem, Defs: mem, Agg: agg, Levels: levels}
	views := &engine.Views{Agg: agg, Levels: levels, BadgeEval: badgeEval}
	return views, agg, mem
}

// reportHoursAgo applies one event per listed offset, each at a
// distinct instant in the past relative to now.
func reportHoursAgo(t *testing.T, agg *engine.Aggregator, userID engine.UserID, ref engine.SkillRef, hoursAgo []int, now time.Time) {
	t.Helper()
	for _, h := range hoursAgo {
		_, err := agg.ApplyEvent(context.Background(), engine.DefaultSettings(), engine.ReportRequest{
			UserID:    userID,
			Skill:     ref,
			Timestamp: now.Add(-time.Duration(h) * time.Hour),
			Now:       now,
		})
		if err != nil {
			t.Fatalf("Failed to report %s for %s: %v", ref.SkillID, userID, err)
		}
	}
}

// =============================================================================
// RANK
// =============================================================================

func TestProjectRank_PositionAmongUsers(t *testing.T) {
	// GIVEN: Three users with 30, 20 and 10 points in the same project
	// WHEN: The middle user's rank is derived
	// THEN: They sit at position 2 of 3, behind the one user with
	//       strictly more points

	views, agg, mem := newViewsFixture(t)
	saveDef(t, mem, simpleDef("proj", "deploy", 10, 5))
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "deploy"}
	now := baseTime()

	reportHoursAgo(t, agg, "user-top", ref, []int{72, 48, 24}, now)
	reportHoursAgo(t, agg, "user-mid", ref, []int{48, 24}, now)
	reportHoursAgo(t, agg, "user-low", ref, []int{24}, now)

	rank, err := views.ProjectRank(context.Background(), "user-mid", "proj", now)
	if err != nil {
		t.Fatalf("Failed to derive rank: %v", err)
	}
	if rank.Position != 2 {
		t.Errorf("Expected position 2, got %d", rank.Position)
	}
	if rank.TotalUsers != 3 {
		t.Errorf("Expected 3 users, got %d", rank.TotalUsers)
	}
	if rank.Points.Int() != 20 {
		t.Errorf("Expected 20 points, got %d", rank.Points.Int())
	}
}

func TestProjectRank_TiesShareAPosition(t *testing.T) {
	// GIVEN: Two users with identical totals
	// WHEN: Either one's rank is derived
	// THEN: Neither pushes the other down, so both rank first

	views, agg, mem := newViewsFixture(t)
	saveDef(t, mem, simpleDef("proj", "deploy", 10, 5))
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "deploy"}
	now := baseTime()

	reportHoursAgo(t, agg, "user-a", ref, []int{48, 24}, now)
	reportHoursAgo(t, agg, "user-b", ref, []int{48, 24}, now)

	for _, u := range []engine.UserID{"user-a", "user-b"} {
		rank, err := views.ProjectRank(context.Background(), u, "proj", now)
		if err != nil {
			t.Fatalf("Failed to derive rank for %s: %v", u, err)
		}
		if rank.Position != 1 {
			t.Errorf("%s: expected position 1 on a tie, got %d", u, rank.Position)
		}
	}
}

func TestProjectRank_UserWithoutEventsRanksLast(t *testing.T) {
	// GIVEN: A project with two active users and one who never reported
	// WHEN: The inactive user's rank is derived
	// THEN: They are counted into the population and placed behind
	//       everyone holding points

	views, agg, mem := newViewsFixture(t)
	saveDef(t, mem, simpleDef("proj", "deploy", 10, 5))
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "deploy"}
	now := baseTime()

	reportHoursAgo(t, agg, "user-a", ref, []int{48, 24}, now)
	reportHoursAgo(t, agg, "user-b", ref, []int{24}, now)

	rank, err := views.ProjectRank(context.Background(), "user-new", "proj", now)
	if err != nil {
		t.Fatalf("Failed to derive rank: %v", err)
	}
	if rank.Position != 3 {
		t.Errorf("Expected position 3, got %d", rank.Position)
	}
	if rank.TotalUsers != 3 {
		t.Errorf("Expected 3 users including the newcomer, got %d", rank.TotalUsers)
	}
	if !rank.Points.IsZero() {
		t.Errorf("Expected zero points, got %d", rank.Points.Int())
	}
}

func TestSubjectRank_ScopedToSubjectSkills(t *testing.T) {
	// GIVEN: One user strong in subject "ops" and another strong in "dev"
	// WHEN: Ranks are derived within "ops"
	// THEN: Only ops points decide the order

	views, agg, mem := newViewsFixture(t)
	opsDef := simpleDef("proj", "deploy", 10, 5)
	opsDef.SubjectID = "ops"
	devDef := simpleDef("proj", "refactor", 10, 5)
	devDef.SubjectID = "dev"
	saveDef(t, mem, opsDef)
	saveDef(t, mem, devDef)
	now := baseTime()

	reportHoursAgo(t, agg, "user-ops", engine.SkillRef{ProjectID: "proj", SkillID: "deploy"}, []int{24}, now)
	reportHoursAgo(t, agg, "user-dev", engine.SkillRef{ProjectID: "proj", SkillID: "refactor"}, []int{72, 48, 24}, now)

	rank, err := views.SubjectRank(context.Background(), "user-ops", "proj", "ops", now)
	if err != nil {
		t.Fatalf("Failed to derive subject rank: %v", err)
	}
	if rank.Position != 1 {
		t.Errorf("Expected the ops reporter to rank first in ops, got position %d", rank.Position)
	}
}

// =============================================================================
// POINT HISTORY
// =============================================================================

func TestPointHistory_CumulativeByDay(t *testing.T) {
	// GIVEN: Three events across two distinct UTC days
	// WHEN: The project point history is derived
	// THEN: The series holds one entry per day with a running cumulative
	//       total, in chronological order

	views, agg, mem := newViewsFixture(t)
	saveDef(t, mem, simpleDef("proj", "deploy", 10, 5))
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "deploy"}
	now := baseTime()

	reportHoursAgo(t, agg, "user-1", ref, []int{74, 72, 24}, now)

	series, err := views.ProjectPointHistory(context.Background(), "user-1", "proj", now)
	if err != nil {
		t.Fatalf("Failed to derive point history: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("Expected 2 days in the series, got %d", len(series))
	}
	if series[0].Points != 20 {
		t.Errorf("Day 1: expected cumulative 20, got %d", series[0].Points)
	}
	if series[1].Points != 30 {
		t.Errorf("Day 2: expected cumulative 30, got %d", series[1].Points)
	}
	if !series[0].Day.Before(series[1].Day) {
		t.Error("Expected the series in chronological order")
	}
}

func TestPointHistory_CapsLikeReplay(t *testing.T) {
	// GIVEN: More performances than the completion cap admits
	// WHEN: The history is derived
	// THEN: The final cumulative value matches the capped total

	views, agg, mem := newViewsFixture(t)
	saveDef(t, mem, simpleDef("proj", "deploy", 10, 2))
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "deploy"}
	now := baseTime()

	reportHoursAgo(t, agg, "user-1", ref, []int{96, 72, 48, 24}, now)

	series, err := views.ProjectPointHistory(context.Background(), "user-1", "proj", now)
	if err != nil {
		t.Fatalf("Failed to derive point history: %v", err)
	}
	last := series[len(series)-1]
	if last.Points != 20 {
		t.Errorf("Expected the series to flatten at the cap of 20, got %d", last.Points)
	}
}

func TestPointHistory_ExpirationShowsAsDrop(t *testing.T) {
	// GIVEN: A daily-expiring skill completed well in the past
	// WHEN: The history is derived after the expiration instant
	// THEN: The series credits the event day and debits the full total
	//       on the day the points lapsed

	views, agg, mem := newViewsFixture(t)
	def := simpleDef("proj", "standup", 5, 1)
	def.Expiration = &engine.ExpirationPolicy{Type: engine.ExpirationDaily, Every: 1}
	saveDef(t, mem, def)
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "standup"}
	now := baseTime()

	reportHoursAgo(t, agg, "user-1", ref, []int{240}, now)

	series, err := views.ProjectPointHistory(context.Background(), "user-1", "proj", now)
	if err != nil {
		t.Fatalf("Failed to derive point history: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("Expected a credit day and a lapse day, got %d entries", len(series))
	}
	if series[0].Points != 5 {
		t.Errorf("Expected the event day to credit 5, got %d", series[0].Points)
	}
	if series[1].Points != 0 {
		t.Errorf("Expected the lapse day to return the series to 0, got %d", series[1].Points)
	}
}

// =============================================================================
// SUMMARIES
// =============================================================================

func TestProjectSummary_CountsAchievedBadges(t *testing.T) {
	// GIVEN: A completed skill backing an enabled single-skill badge
	// WHEN: The project summary is derived
	// THEN: Points, achievable total, level and badge count all line up

	views, agg, mem := newViewsFixture(t)
	saveDef(t, mem, simpleDef("proj", "deploy", 10, 2))
	ref := engine.SkillRef{ProjectID: "proj", SkillID: "deploy"}
	now := baseTime()

	saveBadge(t, mem, engine.Badge{
		ProjectID: "proj", BadgeID: "deployer", Name: "Deployer", Enabled: true,
		Skills: []engine.SkillRef{ref},
	})

	completeSkill(t, agg, "user-1", ref, 2, now)

	sum, err := views.ProjectSummary(context.Background(), "user-1", "proj", now)
	if err != nil {
		t.Fatalf("Failed to derive project summary: %v", err)
	}
	if sum.Points.Int() != 20 {
		t.Errorf("Expected 20 points, got %d", sum.Points.Int())
	}
	if sum.TotalAchievable.Int() != 20 {
		t.Errorf("Expected 20 achievable, got %d", sum.TotalAchievable.Int())
	}
	if sum.BadgesAchieved != 1 {
		t.Errorf("Expected 1 achieved badge, got %d", sum.BadgesAchieved)
	}
}
