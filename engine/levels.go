/*
levels.go - Mapping point totals to discrete levels

PURPOSE:
  A level track is an ordered, gap-free list of cumulative thresholds.
  LevelFor is a pure step function so it serves both authoritative
  state and "what level would this be" previews. Level-up transitions
  drive one-time celebration messages, bounded by a configurable
  window and persisted dismissals.

DEFAULT TRACK:
  When no explicit thresholds are configured, levels are derived from
  percentages of the achievable total: 10/25/45/67/92.
*/
package engine

import (
	"context"
	"fmt"
	"time"
)

// DefaultLevelPercents are the platform's stock five-level track,
// expressed as percent of total achievable points.
var DefaultLevelPercents = []int{10, 25, 45, 67, 92}

// LevelFor returns the highest level k such that totalPoints >=
// thresholds[k-1]. Level 0 is the floor. Pure; no side effects.
func LevelFor(totalPoints Points, thresholds []int) int {
	level := 0
	for i, t := range thresholds {
		if totalPoints.GreaterOrEqual(NewPoints(t)) {
			level = i + 1
		} else {
			break
		}
	}
	return level
}

// ThresholdsFromPercents converts a percent track into absolute
// thresholds against the achievable total.
func ThresholdsFromPercents(percents []int, achievable Points) []int {
	out := make([]int, len(percents))
	for i, p := range percents {
		out[i] = int(achievable.Mul(p).Value.Div(NewPoints(100).Value).Ceil().IntPart())
	}
	return out
}

// =============================================================================
// LEVEL SERVICE - Track resolution and level-up detection
// =============================================================================

type LevelScope struct {
	ProjectID ProjectID
	SubjectID SubjectID // empty = project track
}

func (s LevelScope) Key() string {
	if s.SubjectID == "" {
		return "project:" + string(s.ProjectID)
	}
	return "subject:" + string(s.ProjectID) + "/" + string(s.SubjectID)
}

type LevelUp struct {
	Scope   LevelScope
	Level   int
	Message string
}

type LevelService struct {
	Levels       LevelStore
	Defs         DefinitionStore
	Celebrations CelebrationStore
}

// ThresholdsFor resolves the effective track for a scope: explicit
// thresholds if configured, otherwise the default percent track over
// the scope's achievable total.
func (ls *LevelService) ThresholdsFor(ctx context.Context, scope LevelScope) ([]int, error) {
	explicit, err := ls.Levels.GetThresholds(ctx, scope.ProjectID, scope.SubjectID)
	if err != nil {
		return nil, err
	}
	if len(explicit) > 0 {
		return explicit, nil
	}

	var defs []SkillDefinition
	if scope.SubjectID == "" {
		defs, err = ls.Defs.ListByProject(ctx, scope.ProjectID)
	} else {
		defs, err = ls.Defs.ListBySubject(ctx, scope.ProjectID, scope.SubjectID)
	}
	if err != nil {
		return nil, err
	}
	return ThresholdsFromPercents(DefaultLevelPercents, AchievableTotal(defs)), nil
}

// DetectLevelUps returns one LevelUp per level crossed between the two
// totals, with scope-specific celebration copy.
func (ls *LevelService) DetectLevelUps(ctx context.Context, scope LevelScope, before, after Points) ([]LevelUp, error) {
	thresholds, err := ls.ThresholdsFor(ctx, scope)
	if err != nil {
		return nil, err
	}
	from := LevelFor(before, thresholds)
	to := LevelFor(after, thresholds)

	var ups []LevelUp
	for level := from + 1; level <= to; level++ {
		ups = append(ups, LevelUp{
			Scope:   scope,
			Level:   level,
			Message: celebrationMessage(scope, level),
		})
	}
	return ups, nil
}

func celebrationMessage(scope LevelScope, level int) string {
	if scope.SubjectID == "" {
		return fmt.Sprintf("Level %d! You leveled up the whole project.", level)
	}
	return fmt.Sprintf("Level %d in %s! Keep going.", level, scope.SubjectID)
}

// ShouldCelebrate decides whether a reached milestone is shown: the
// most recent qualifying event must fall inside the celebration
// window, and the user must not have dismissed this (scope, level).
func (ls *LevelService) ShouldCelebrate(ctx context.Context, st Settings, userID UserID, scope LevelScope, level int, lastEventAt, now time.Time) (bool, error) {
	window := time.Duration(st.CelebrationWindowDays) * 24 * time.Hour
	if lastEventAt.IsZero() || now.UTC().Sub(lastEventAt.UTC()) > window {
		return false, nil
	}
	dismissed, err := ls.Celebrations.IsDismissed(ctx, userID, scope.Key(), level)
	if err != nil {
		return false, err
	}
	return !dismissed, nil
}

// Dismiss persists a dismissal so the milestone is never re-shown.
func (ls *LevelService) Dismiss(ctx context.Context, userID UserID, scope LevelScope, level int) error {
	return ls.Celebrations.Dismiss(ctx, userID, scope.Key(), level)
}
