/*
badges.go - Badge and global-badge completion

PURPOSE:
  Badges complete from a set of constituent skills or required project
  levels. Gem badges carry a date window and do not exist for counting
  purposes outside it (achieved gems stay visible). Global badges span
  projects and only count toward a project's stats when at least one
  constituent is bound to that project.

DEGRADATION:
  A constituent referencing a since-deleted skill is excluded from
  progress rather than failing the read.
*/
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BADGE MODEL
// =============================================================================

// ProjectLevelRequirement requires the user to reach a level in a
// specific project. Used by global badges.
type ProjectLevelRequirement struct {
	ProjectID ProjectID
	Level     int
}

type Badge struct {
	ProjectID ProjectID // owning project; empty for global badges
	BadgeID   BadgeID
	Name      string
	Enabled   bool
	Global    bool

	// Gem window. Both nil = always available.
	StartDate *time.Time
	EndDate   *time.Time

	Skills            []SkillRef
	LevelRequirements []ProjectLevelRequirement
}

// InWindow reports whether the badge exists for counting purposes at
// the given instant.
func (b *Badge) InWindow(now time.Time) bool {
	if b.StartDate == nil && b.EndDate == nil {
		return true
	}
	now = now.UTC()
	if b.StartDate != nil && now.Before(b.StartDate.UTC()) {
		return false
	}
	if b.EndDate != nil && now.After(b.EndDate.UTC()) {
		return false
	}
	return true
}

// BoundToProject reports whether any constituent references the
// project. Global badges without a binding must not inflate the
// project's achieved-badge count.
func (b *Badge) BoundToProject(p ProjectID) bool {
	for _, s := range b.Skills {
		if s.ProjectID == p {
			return true
		}
	}
	for _, lr := range b.LevelRequirements {
		if lr.ProjectID == p {
			return true
		}
	}
	return false
}

// =============================================================================
// PROGRESS
// =============================================================================

type ConstituentKind string

const (
	ConstituentSkill ConstituentKind = "skill"
	ConstituentLevel ConstituentKind = "level"
)

type ConstituentStatus struct {
	Kind     ConstituentKind
	Skill    SkillRef                 // when Kind == skill
	Level    *ProjectLevelRequirement // when Kind == level
	Achieved bool
	// Percent of this constituent reached (100 when achieved). For a
	// level requirement this is reached-level / required-level.
	Percent decimal.Decimal
}

type BadgeProgress struct {
	Badge           *Badge
	PercentComplete decimal.Decimal
	Satisfied       []ConstituentStatus
	Unsatisfied     []ConstituentStatus
	Achieved        bool
	AchievedAt      time.Time
}

// =============================================================================
// EVALUATOR
// =============================================================================

type BadgeEvaluator struct {
	Badges BadgeStore
	Defs   DefinitionStore
	Agg    *Aggregator
	Levels *LevelService
}

// Progress evaluates one badge for a user. Returns ErrBadgeNotInWindow
// for an unachieved gem outside its window.
func (be *BadgeEvaluator) Progress(ctx context.Context, projectID ProjectID, badgeID BadgeID, userID UserID, now time.Time) (*BadgeProgress, error) {
	badge, err := be.Badges.GetBadge(ctx, projectID, badgeID)
	if err != nil {
		return nil, err
	}
	prog, err := be.evaluate(ctx, badge, userID, now)
	if err != nil {
		return nil, err
	}
	if !badge.InWindow(now) && !prog.Achieved {
		return nil, ErrBadgeNotInWindow
	}
	return prog, nil
}

func (be *BadgeEvaluator) evaluate(ctx context.Context, badge *Badge, userID UserID, now time.Time) (*BadgeProgress, error) {
	prog := &BadgeProgress{Badge: badge}

	var achievedAt time.Time
	allMet := true
	total := 0

	for _, ref := range badge.Skills {
		state, err := be.Agg.SkillState(ctx, userID, ref, now)
		if errors.Is(err, ErrSkillNotFound) {
			// Constituent skill was deleted; exclude from progress.
			continue
		}
		if err != nil {
			return nil, err
		}
		total++
		status := ConstituentStatus{Kind: ConstituentSkill, Skill: ref, Achieved: state.Completed}
		if state.Completed {
			status.Percent = decimal.NewFromInt(100)
			if state.CompletedAt.After(achievedAt) {
				achievedAt = state.CompletedAt
			}
			prog.Satisfied = append(prog.Satisfied, status)
		} else {
			def, err := be.Defs.GetSkill(ctx, ref)
			if err == nil {
				status.Percent = state.TotalPoints.PercentOf(def.CompletionCap())
			}
			allMet = false
			prog.Unsatisfied = append(prog.Unsatisfied, status)
		}
	}

	for i := range badge.LevelRequirements {
		lr := badge.LevelRequirements[i]
		total++
		status := ConstituentStatus{Kind: ConstituentLevel, Level: &lr}

		points, err := be.Agg.ProjectTotal(ctx, userID, lr.ProjectID, now)
		if err != nil {
			return nil, err
		}
		scope := LevelScope{ProjectID: lr.ProjectID}
		thresholds, err := be.Levels.ThresholdsFor(ctx, scope)
		if err != nil {
			return nil, err
		}
		reached := LevelFor(points, thresholds)

		status.Achieved = reached >= lr.Level
		if status.Achieved {
			status.Percent = decimal.NewFromInt(100)
			prog.Satisfied = append(prog.Satisfied, status)
		} else {
			status.Percent = decimal.NewFromInt(int64(reached)).
				Div(decimal.NewFromInt(int64(lr.Level))).
				Mul(decimal.NewFromInt(100)).Round(2)
			allMet = false
			prog.Unsatisfied = append(prog.Unsatisfied, status)
		}
	}

	if total == 0 {
		prog.PercentComplete = decimal.Zero
		prog.Achieved = false
		return prog, nil
	}

	// Overall completion requires every constituent met, not an average
	// crossing 100.
	prog.PercentComplete = decimal.NewFromInt(int64(len(prog.Satisfied))).
		Div(decimal.NewFromInt(int64(total))).
		Mul(decimal.NewFromInt(100)).Round(2)
	prog.Achieved = allMet
	if prog.Achieved {
		// Level-only badges have no constituent completion time; the
		// evaluation instant stands in.
		if achievedAt.IsZero() {
			achievedAt = now.UTC()
		}
		prog.AchievedAt = achievedAt
	}
	return prog, nil
}

// Earned reports whether the user has completed the badge. Used by the
// learning path when a badge is a prerequisite.
func (be *BadgeEvaluator) Earned(ctx context.Context, projectID ProjectID, badgeID BadgeID, userID UserID, now time.Time) (bool, error) {
	badge, err := be.Badges.GetBadge(ctx, projectID, badgeID)
	if err != nil {
		return false, err
	}
	prog, err := be.evaluate(ctx, badge, userID, now)
	if err != nil {
		return false, err
	}
	return prog.Achieved, nil
}

// AchievedCount returns how many badges count as achieved for the
// project's statistics: the project's own enabled badges plus global
// badges with at least one constituent bound to the project. Gems
// outside their window are counted only if already achieved.
func (be *BadgeEvaluator) AchievedCount(ctx context.Context, projectID ProjectID, userID UserID, now time.Time) (int, error) {
	own, err := be.Badges.ListBadges(ctx, projectID)
	if err != nil {
		return 0, err
	}
	globals, err := be.Badges.ListGlobal(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	consider := func(b *Badge) error {
		if !b.Enabled {
			return nil
		}
		if b.Global && !b.BoundToProject(projectID) {
			return nil
		}
		prog, err := be.evaluate(ctx, b, userID, now)
		if err != nil {
			return err
		}
		if prog.Achieved {
			count++
		}
		return nil
	}
	for i := range own {
		if err := consider(&own[i]); err != nil {
			return 0, err
		}
	}
	for i := range globals {
		if err := consider(&globals[i]); err != nil {
			return 0, err
		}
	}
	return count, nil
}
