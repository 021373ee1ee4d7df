/*
seed.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the stores with realistic
	data for testing and demos. Each scenario creates skill definitions,
	badges, prerequisite edges, and events that demonstrate specific
	features.

AVAILABLE SCENARIOS:

	getting-started: One project, throttled skill, completion-capped skill
	expiring-certs:  DAILY/YEARLY expiration policies mid-grace
	learning-path:   Prerequisite chain with a cross-project shared skill
	approval-queue:  Approval-type skills with pending requests

HOW SCENARIOS WORK:
 1. Upsert skill definitions (and badges/edges where relevant)
 2. Replay a handful of events at staggered past timestamps
 3. Leave the stores in a state where each feature is visible in the UI

USAGE:

	Started from the server binary with -seed <scenario-id>. Seeding
	writes through the same aggregator path as the API, so throttling
	and caps apply; seed timestamps are spaced to stay under them.

NOTE:

	Only use in development/demo environments.

SEE ALSO:
  - cmd/server/main.go: -seed flag
  - handlers.go: the served routes seeded data shows up on
*/
package api

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pathway/skill-engine/engine"
)

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "getting-started",
		Name:        "Getting Started",
		Description: "One project with a throttled skill and a completion-capped skill",
	},
	{
		ID:          "expiring-certs",
		Name:        "Expiring Certifications",
		Description: "Skills with DAILY and YEARLY expiration, one inside its grace window",
	},
	{
		ID:          "learning-path",
		Name:        "Learning Path",
		Description: "Prerequisite chain including a skill shared from another project",
	},
	{
		ID:          "approval-queue",
		Name:        "Approval Queue",
		Description: "Approval-type self-reported skills with pending requests",
	},
}

// Scenarios lists the seedable demo scenarios.
func Scenarios() []ScenarioDTO { return scenarios }

// Seed loads one scenario into the stores.
func Seed(ctx context.Context, h *Handler, scenarioID string) error {
	switch scenarioID {
	case "getting-started":
		return seedGettingStarted(ctx, h)
	case "expiring-certs":
		return seedExpiringCerts(ctx, h)
	case "learning-path":
		return seedLearningPath(ctx, h)
	case "approval-queue":
		return seedApprovalQueue(ctx, h)
	default:
		return fmt.Errorf("unknown scenario: %s", scenarioID)
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func seedGettingStarted(ctx context.Context, h *Handler) error {
	project := engine.ProjectID("inception")

	defs := []engine.SkillDefinition{
		{
			ProjectID:              project,
			SkillID:                "create-project",
			SubjectID:              "basics",
			Name:                   "Create a Project",
			PointIncrement:         50,
			NumPerformToCompletion: 1,
		},
		{
			ProjectID:                     project,
			SkillID:                       "report-daily",
			SubjectID:                     "basics",
			Name:                          "Report Daily Progress",
			PointIncrement:                10,
			NumPerformToCompletion:        30,
			PointIncrementIntervalMinutes: 24 * 60,
			MaxOccurrencesInInterval:      1,
		},
		{
			ProjectID:              project,
			SkillID:                "review-docs",
			SubjectID:              "basics",
			Name:                   "Review the Documentation",
			PointIncrement:         25,
			NumPerformToCompletion: 4,
		},
	}
	for _, def := range defs {
		if err := h.Defs.SaveSkill(ctx, def); err != nil {
			return err
		}
	}

	// One completed skill, one mid-progress, one daily-throttled.
	now := time.Now().UTC()
	events := []struct {
		user  string
		skill string
		ago   time.Duration
	}{
		{"alice", "create-project", 10 * 24 * time.Hour},
		{"alice", "review-docs", 9 * 24 * time.Hour},
		{"alice", "review-docs", 8 * 24 * time.Hour},
		{"alice", "report-daily", 3 * 24 * time.Hour},
		{"alice", "report-daily", 2 * 24 * time.Hour},
		{"alice", "report-daily", 1 * 24 * time.Hour},
		{"bob", "create-project", 5 * 24 * time.Hour},
		{"bob", "report-daily", 1 * 24 * time.Hour},
	}
	return applySeedEvents(ctx, h, project, now, events)
}

func seedExpiringCerts(ctx context.Context, h *Handler) error {
	project := engine.ProjectID("compliance")

	defs := []engine.SkillDefinition{
		{
			ProjectID:              project,
			SkillID:                "security-training",
			SubjectID:              "certs",
			Name:                   "Annual Security Training",
			PointIncrement:         100,
			NumPerformToCompletion: 1,
			Expiration:             &engine.ExpirationPolicy{Type: engine.ExpirationYearly, Every: 1, GracePeriodDays: 30},
		},
		{
			ProjectID:              project,
			SkillID:                "standup-attendance",
			SubjectID:              "habits",
			Name:                   "Attend Standup",
			PointIncrement:         5,
			NumPerformToCompletion: 20,
			Expiration:             &engine.ExpirationPolicy{Type: engine.ExpirationDaily, Every: 30, GracePeriodDays: 7},
		},
	}
	for _, def := range defs {
		if err := h.Defs.SaveSkill(ctx, def); err != nil {
			return err
		}
	}

	// The training sits 340 days back (inside its yearly grace window);
	// the standup habit sits 25 days back (warning, not yet expired).
	now := time.Now().UTC()
	events := []struct {
		user  string
		skill string
		ago   time.Duration
	}{
		{"carol", "security-training", 340 * 24 * time.Hour},
		{"carol", "standup-attendance", 27 * 24 * time.Hour},
		{"carol", "standup-attendance", 26 * 24 * time.Hour},
		{"carol", "standup-attendance", 25 * 24 * time.Hour},
	}
	return applySeedEvents(ctx, h, project, now, events)
}

func seedLearningPath(ctx context.Context, h *Handler) error {
	backend := engine.ProjectID("backend")
	frontend := engine.ProjectID("frontend")

	defs := []engine.SkillDefinition{
		{
			ProjectID:              backend,
			SkillID:                "http-basics",
			SubjectID:              "web",
			Name:                   "HTTP Basics",
			PointIncrement:         20,
			NumPerformToCompletion: 2,
			SharedToProjects:       []engine.ProjectID{frontend},
		},
		{
			ProjectID:              frontend,
			SkillID:                "fetch-api",
			SubjectID:              "web",
			Name:                   "Use the Fetch API",
			PointIncrement:         30,
			NumPerformToCompletion: 2,
		},
		{
			ProjectID:              frontend,
			SkillID:                "build-spa",
			SubjectID:              "web",
			Name:                   "Build a Single Page App",
			PointIncrement:         80,
			NumPerformToCompletion: 1,
		},
	}
	for _, def := range defs {
		if err := h.Defs.SaveSkill(ctx, def); err != nil {
			return err
		}
	}

	// build-spa -> fetch-api -> http-basics (shared from backend)
	now := time.Now().UTC()
	edges := []struct{ from, to engine.NodeRef }{
		{engine.SkillNode(engine.SkillRef{ProjectID: frontend, SkillID: "build-spa"}),
			engine.SkillNode(engine.SkillRef{ProjectID: frontend, SkillID: "fetch-api"})},
		{engine.SkillNode(engine.SkillRef{ProjectID: frontend, SkillID: "fetch-api"}),
			engine.SkillNode(engine.SkillRef{ProjectID: backend, SkillID: "http-basics"})},
	}
	for _, e := range edges {
		if err := h.Path.AddPrerequisite(ctx, h.Settings, e.from, e.to, now); err != nil {
			return err
		}
	}

	events := []struct {
		user  string
		skill string
		ago   time.Duration
	}{
		{"dave", "http-basics", 6 * 24 * time.Hour},
		{"dave", "http-basics", 5 * 24 * time.Hour},
	}
	return applySeedEvents(ctx, h, backend, now, events)
}

func seedApprovalQueue(ctx context.Context, h *Handler) error {
	project := engine.ProjectID("mentoring")

	defs := []engine.SkillDefinition{
		{
			ProjectID:              project,
			SkillID:                "mentor-session",
			SubjectID:              "community",
			Name:                   "Run a Mentoring Session",
			PointIncrement:         40,
			NumPerformToCompletion: 5,
			SelfReporting:          engine.SelfReportApproval,
		},
		{
			ProjectID:              project,
			SkillID:                "share-writeup",
			SubjectID:              "community",
			Name:                   "Share a Written Walkthrough",
			PointIncrement:         15,
			NumPerformToCompletion: 10,
			SelfReporting:          engine.SelfReportHonorSystem,
		},
	}
	for _, def := range defs {
		if err := h.Defs.SaveSkill(ctx, def); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	submissions := []struct {
		user    string
		message string
		ago     time.Duration
	}{
		{"erin", "Paired with a new hire on the build system", 2 * 24 * time.Hour},
		{"frank", "Walked the support team through the release flow", 1 * 24 * time.Hour},
	}
	for _, sub := range submissions {
		_, err := h.Workflow.Submit(ctx, h.Settings, engine.SubmitRequest{
			UserID:    engine.UserID(sub.user),
			Skill:     engine.SkillRef{ProjectID: project, SkillID: "mentor-session"},
			Timestamp: now.Add(-sub.ago),
			Now:       now,
			Message:   sub.message,
		})
		if err != nil {
			return err
		}
	}

	events := []struct {
		user  string
		skill string
		ago   time.Duration
	}{
		{"erin", "share-writeup", 3 * 24 * time.Hour},
	}
	return applySeedEvents(ctx, h, project, now, events)
}

func applySeedEvents(ctx context.Context, h *Handler, project engine.ProjectID, now time.Time, events []struct {
	user  string
	skill string
	ago   time.Duration
}) error {
	for _, ev := range events {
		_, err := h.Agg.ApplyEvent(ctx, h.Settings, engine.ReportRequest{
			UserID:    engine.UserID(ev.user),
			Skill:     engine.SkillRef{ProjectID: project, SkillID: engine.SkillID(ev.skill)},
			Timestamp: now.Add(-ev.ago),
			Now:       now,
		})
		if err != nil {
			return err
		}
	}
	log.Printf("Seeded %d events into project %s", len(events), project)
	return nil
}
