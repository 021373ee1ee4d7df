/*
views.go - Read-only derived views (summary, rank, point history)

PURPOSE:
  The UI-facing read models. All of them derive from the event ledger
  on read; nothing here mutates state. Reads may see a slightly stale
  ledger under concurrent writes, which is acceptable everywhere except
  the report-skill response path (which composes its own result from
  the state returned by ApplyEvent).
*/
package engine

import (
	"context"
	"sort"
	"time"
)

type Views struct {
	Agg       *Aggregator
	Levels    *LevelService
	BadgeEval *BadgeEvaluator
}

// =============================================================================
// SUMMARIES
// =============================================================================

type Summary struct {
	UserID    UserID
	ProjectID ProjectID
	SubjectID SubjectID // empty for project summaries

	Points          Points
	TodaysPoints    Points
	TotalAchievable Points
	Level           int
	Thresholds      []int

	// Project summaries only.
	BadgesAchieved int
}

// ProjectSummary derives the user's standing across a project.
func (v *Views) ProjectSummary(ctx context.Context, userID UserID, projectID ProjectID, now time.Time) (*Summary, error) {
	defs, err := v.Agg.Defs.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return v.summarize(ctx, userID, projectID, "", defs, now)
}

// SubjectSummary derives the user's standing within one subject.
func (v *Views) SubjectSummary(ctx context.Context, userID UserID, projectID ProjectID, subjectID SubjectID, now time.Time) (*Summary, error) {
	defs, err := v.Agg.Defs.ListBySubject(ctx, projectID, subjectID)
	if err != nil {
		return nil, err
	}
	return v.summarize(ctx, userID, projectID, subjectID, defs, now)
}

func (v *Views) summarize(ctx context.Context, userID UserID, projectID ProjectID, subjectID SubjectID, defs []SkillDefinition, now time.Time) (*Summary, error) {
	s := &Summary{
		UserID:          userID,
		ProjectID:       projectID,
		SubjectID:       subjectID,
		Points:          ZeroPoints(),
		TodaysPoints:    ZeroPoints(),
		TotalAchievable: AchievableTotal(defs),
	}

	seen := make(map[SkillRef]bool, len(defs))
	for i := range defs {
		def := &defs[i]
		canonical := def.CanonicalRef()
		if seen[canonical] {
			continue
		}
		seen[canonical] = true

		events, err := v.Agg.Ledger.EventsForSkill(ctx, userID, canonical)
		if err != nil {
			return nil, err
		}
		state, _ := Replay(def, events, now)
		s.Points = s.Points.Add(state.TotalPoints)
		s.TodaysPoints = s.TodaysPoints.Add(state.TodaysPoints)
	}

	scope := LevelScope{ProjectID: projectID, SubjectID: subjectID}
	thresholds, err := v.Levels.ThresholdsFor(ctx, scope)
	if err != nil {
		return nil, err
	}
	s.Thresholds = thresholds
	s.Level = LevelFor(s.Points, thresholds)

	if subjectID == "" {
		badges, err := v.BadgeEval.AchievedCount(ctx, projectID, userID, now)
		if err != nil {
			return nil, err
		}
		s.BadgesAchieved = badges
	}
	return s, nil
}

// =============================================================================
// RANK
// =============================================================================

type Rank struct {
	Position   int
	TotalUsers int
	Points     Points
}

// ProjectRank places the user among everyone with events in the
// project: position = 1 + users with strictly more points.
func (v *Views) ProjectRank(ctx context.Context, userID UserID, projectID ProjectID, now time.Time) (*Rank, error) {
	return v.rank(ctx, userID, projectID, "", now)
}

func (v *Views) SubjectRank(ctx context.Context, userID UserID, projectID ProjectID, subjectID SubjectID, now time.Time) (*Rank, error) {
	return v.rank(ctx, userID, projectID, subjectID, now)
}

func (v *Views) rank(ctx context.Context, userID UserID, projectID ProjectID, subjectID SubjectID, now time.Time) (*Rank, error) {
	users, err := v.Agg.Ledger.Store.UserIDsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	total := func(u UserID) (Points, error) {
		if subjectID == "" {
			return v.Agg.ProjectTotal(ctx, u, projectID, now)
		}
		return v.Agg.SubjectTotal(ctx, u, projectID, subjectID, now)
	}

	mine, err := total(userID)
	if err != nil {
		return nil, err
	}

	r := &Rank{Position: 1, TotalUsers: len(users), Points: mine}
	includesMe := false
	for _, u := range users {
		if u == userID {
			includesMe = true
			continue
		}
		p, err := total(u)
		if err != nil {
			return nil, err
		}
		if p.GreaterThan(mine) {
			r.Position++
		}
	}
	if !includesMe {
		r.TotalUsers++
	}
	return r, nil
}

// =============================================================================
// POINT HISTORY
// =============================================================================

type DayPoints struct {
	Day    time.Time // UTC midnight
	Points int       // cumulative as of end of day
}

// ProjectPointHistory returns the user's cumulative point series per
// UTC day, with expirations showing as drops on the day they occurred.
func (v *Views) ProjectPointHistory(ctx context.Context, userID UserID, projectID ProjectID, now time.Time) ([]DayPoints, error) {
	defs, err := v.Agg.Defs.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return v.history(ctx, userID, defs, now)
}

func (v *Views) SubjectPointHistory(ctx context.Context, userID UserID, projectID ProjectID, subjectID SubjectID, now time.Time) ([]DayPoints, error) {
	defs, err := v.Agg.Defs.ListBySubject(ctx, projectID, subjectID)
	if err != nil {
		return nil, err
	}
	return v.history(ctx, userID, defs, now)
}

func (v *Views) history(ctx context.Context, userID UserID, defs []SkillDefinition, now time.Time) ([]DayPoints, error) {
	deltas := make(map[time.Time]int)

	seen := make(map[SkillRef]bool, len(defs))
	for i := range defs {
		def := &defs[i]
		canonical := def.CanonicalRef()
		if seen[canonical] {
			continue
		}
		seen[canonical] = true

		events, err := v.Agg.Ledger.EventsForSkill(ctx, userID, canonical)
		if err != nil {
			return nil, err
		}
		accumulateDailyDeltas(def, events, now, deltas)
	}

	days := make([]time.Time, 0, len(deltas))
	for d := range deltas {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	series := make([]DayPoints, 0, len(days))
	running := 0
	for _, d := range days {
		running += deltas[d]
		series = append(series, DayPoints{Day: d, Points: running})
	}
	return series, nil
}

// accumulateDailyDeltas reruns the replay fold, crediting derived
// awards on their event day and debiting expirations on theirs.
func accumulateDailyDeltas(def *SkillDefinition, events []SkillEvent, now time.Time, deltas map[time.Time]int) {
	sorted := make([]SkillEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})

	cap := def.CompletionCap()
	increment := NewPoints(def.PointIncrement)

	total := ZeroPoints()
	completed := false
	var last time.Time

	expire := func(instant time.Time) {
		deltas[utcDay(instant)] -= total.Int()
		total = ZeroPoints()
		completed = false
	}

	for _, ev := range sorted {
		ts := ev.Timestamp.UTC()
		// Only achieved points decay, matching the replay fold.
		if def.Expiration.Active() && completed {
			instant := NextExpiration(def.Expiration, last)
			if !ts.Before(instant) {
				expire(instant)
			}
		}
		award := cap.Sub(total).Min(increment)
		if award.IsPositive() {
			total = total.Add(award)
			deltas[utcDay(ts)] += award.Int()
		}
		last = ts
		if !completed && cap.IsPositive() && total.GreaterOrEqual(cap) {
			completed = true
		}
	}
	if def.Expiration.Active() && completed {
		instant := NextExpiration(def.Expiration, last)
		if !now.UTC().Before(instant) {
			expire(instant)
		}
	}
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
