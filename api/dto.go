/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Reporting:
    ReportSkillRequest, ReportSkillResponse, LevelUpDTO

  Views:
    SummaryDTO, RankDTO, DayPointsDTO, SkillStateDTO

  Graph:
    GraphDTO, GraphNodeDTO, GraphEdgeDTO

  Badges:
    BadgeProgressDTO, ConstituentDTO, UpsertBadgeRequest

  Approvals:
    ApprovalDTO, DecideApprovalsRequest, ItemOutcomeDTO

  Admin:
    UpsertSkillRequest, SetLevelsRequest

ERROR ENVELOPE:
  All errors are returned as {"errorCode": ..., "explanation": ...}.
  errorCode values are stable machine-readable strings produced by
  engine.Code; clients branch on them, never on the explanation text.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/errors.go: Error codes
*/
package api

import (
	"time"

	"github.com/pathway/skill-engine/engine"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ReportSkillRequest is the body of a skill performance report.
type ReportSkillRequest struct {
	UserID string `json:"userId"`
	// Timestamp is optional; empty means "now". RFC3339.
	Timestamp string `json:"timestamp,omitempty"`
	// SelfReportMessage accompanies approval-type self reports.
	SelfReportMessage string `json:"selfReportMessage,omitempty"`
	IdempotencyKey    string `json:"idempotencyKey,omitempty"`
}

// LevelUpDTO describes a level crossed by the reported event.
type LevelUpDTO struct {
	ProjectID string `json:"projectId"`
	SubjectID string `json:"subjectId,omitempty"`
	Level     int    `json:"level"`
	Message   string `json:"message"`
}

// ReportSkillResponse is returned after reporting a skill event.
type ReportSkillResponse struct {
	SkillApplied      bool          `json:"skillApplied"`
	Explanation       string        `json:"explanation"`
	PointsEarned      int           `json:"pointsEarned"`
	TotalPoints       int           `json:"totalPoints"`
	Completed         bool          `json:"completed"`
	ExpiringSoon      bool          `json:"expiringSoon"`
	LevelUps          []LevelUpDTO  `json:"levelUps,omitempty"`
	ApprovalRequested bool          `json:"approvalRequested,omitempty"`
	ApprovalRequestID string        `json:"approvalRequestId,omitempty"`
	SkillState        SkillStateDTO `json:"skillState"`
}

// SkillStateDTO is the derived per-user-per-skill view.
type SkillStateDTO struct {
	UserID         string `json:"userId"`
	ProjectID      string `json:"projectId"`
	SkillID        string `json:"skillId"`
	TotalPoints    int    `json:"totalPoints"`
	TodaysPoints   int    `json:"todaysPoints"`
	PerformedCount int    `json:"performedCount"`
	Completed      bool   `json:"completed"`
	LastEventAt    string `json:"lastEventAt,omitempty"`
	ExpiresAt      string `json:"expiresAt,omitempty"`
}

// SummaryDTO is the project or subject rollup for a user.
type SummaryDTO struct {
	UserID          string `json:"userId"`
	ProjectID       string `json:"projectId"`
	SubjectID       string `json:"subjectId,omitempty"`
	Points          int    `json:"points"`
	TodaysPoints    int    `json:"todaysPoints"`
	TotalAchievable int    `json:"totalAchievable"`
	Level           int    `json:"level"`
	Thresholds      []int  `json:"thresholds"`
	BadgesAchieved  int    `json:"badgesAchieved,omitempty"`
}

// RankDTO places a user among peers with events in the same scope.
type RankDTO struct {
	Position   int `json:"position"`
	TotalUsers int `json:"totalUsers"`
	Points     int `json:"points"`
}

// DayPointsDTO is one step of a cumulative point series.
type DayPointsDTO struct {
	Day    string `json:"day"` // YYYY-MM-DD, UTC
	Points int    `json:"points"`
}

// GraphNodeDTO is a node of the expanded prerequisite view.
type GraphNodeDTO struct {
	ProjectID          string `json:"projectId"`
	RefID              string `json:"refId"`
	Kind               string `json:"kind"`
	Name               string `json:"name"`
	Unlocked           bool   `json:"unlocked"`
	SatisfiedCount     int    `json:"satisfiedCount"`
	TotalCount         int    `json:"totalCount"`
	EarnedBeforePrereq bool   `json:"earnedBeforePrereq,omitempty"`
	SharedFromProject  string `json:"sharedFromProject,omitempty"`
}

// GraphEdgeDTO is one prerequisite edge (from depends on to).
type GraphEdgeDTO struct {
	FromProject string `json:"fromProject"`
	FromRef     string `json:"fromRef"`
	FromKind    string `json:"fromKind"`
	ToProject   string `json:"toProject"`
	ToRef       string `json:"toRef"`
	ToKind      string `json:"toKind"`
}

// GraphDTO is the bounded-depth dependency view around a focal node.
type GraphDTO struct {
	FocalProject string         `json:"focalProject"`
	FocalRef     string         `json:"focalRef"`
	FocalKind    string         `json:"focalKind"`
	Nodes        []GraphNodeDTO `json:"nodes"`
	Edges        []GraphEdgeDTO `json:"edges"`
}

// ConstituentDTO is one badge requirement and its standing.
type ConstituentDTO struct {
	Kind          string `json:"kind"` // "skill" or "level"
	ProjectID     string `json:"projectId,omitempty"`
	SkillID       string `json:"skillId,omitempty"`
	RequiredLevel int    `json:"requiredLevel,omitempty"`
	Achieved      bool   `json:"achieved"`
	Percent       string `json:"percent"`
}

// BadgeProgressDTO is a user's standing toward a badge.
type BadgeProgressDTO struct {
	ProjectID       string           `json:"projectId"`
	BadgeID         string           `json:"badgeId"`
	Name            string           `json:"name"`
	Global          bool             `json:"global"`
	PercentComplete string           `json:"percentComplete"`
	Achieved        bool             `json:"achieved"`
	AchievedAt      string           `json:"achievedAt,omitempty"`
	Satisfied       []ConstituentDTO `json:"satisfied"`
	Unsatisfied     []ConstituentDTO `json:"unsatisfied"`
}

// UpsertSkillRequest creates or replaces a skill definition.
type UpsertSkillRequest struct {
	SubjectID                     string `json:"subjectId"`
	Name                          string `json:"name"`
	PointIncrement                int    `json:"pointIncrement"`
	NumPerformToCompletion        int    `json:"numPerformToCompletion"`
	PointIncrementIntervalMinutes int    `json:"pointIncrementIntervalMinutes"`
	MaxOccurrencesInInterval      int    `json:"maxOccurrencesInInterval"`
	SelfReporting                 string `json:"selfReporting,omitempty"`

	ExpirationType      string `json:"expirationType,omitempty"`
	ExpirationEvery     int    `json:"expirationEvery,omitempty"`
	ExpirationGraceDays int    `json:"expirationGraceDays,omitempty"`

	SharedToProjects []string `json:"sharedToProjects,omitempty"`

	ImportedFromProject string `json:"importedFromProject,omitempty"`
	ImportedFromSkill   string `json:"importedFromSkill,omitempty"`
}

// UpsertBadgeRequest creates or replaces a badge definition.
type UpsertBadgeRequest struct {
	Name      string  `json:"name"`
	Enabled   bool    `json:"enabled"`
	Global    bool    `json:"global"`
	StartDate *string `json:"startDate,omitempty"` // RFC3339; both or neither
	EndDate   *string `json:"endDate,omitempty"`

	Skills []struct {
		ProjectID string `json:"projectId"`
		SkillID   string `json:"skillId"`
	} `json:"skills,omitempty"`

	LevelRequirements []struct {
		ProjectID string `json:"projectId"`
		Level     int    `json:"level"`
	} `json:"levelRequirements,omitempty"`
}

// SetLevelsRequest replaces the level thresholds for a scope.
type SetLevelsRequest struct {
	SubjectID  string `json:"subjectId,omitempty"` // empty = project track
	Thresholds []int  `json:"thresholds"`
}

// ApprovalDTO is one pending self-report approval request.
type ApprovalDTO struct {
	ID              string `json:"id"`
	UserID          string `json:"userId"`
	ProjectID       string `json:"projectId"`
	SkillID         string `json:"skillId"`
	RequestedPoints int    `json:"requestedPoints"`
	RequestedAt     string `json:"requestedAt"`
	Message         string `json:"message,omitempty"`
	SubmittedAt     string `json:"submittedAt"`
}

// DecideApprovalsRequest approves or rejects requests in batch.
type DecideApprovalsRequest struct {
	RequestIDs []string `json:"requestIds"`
	ApproverID string   `json:"approverId,omitempty"`
	// Message is the rejection rationale; ignored on approve.
	Message string `json:"message,omitempty"`
}

// ItemOutcomeDTO is a per-item batch decision outcome.
type ItemOutcomeDTO struct {
	RequestID string `json:"requestId"`
	OK        bool   `json:"ok"`
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}

// DismissCelebrationRequest acknowledges a level-up celebration.
type DismissCelebrationRequest struct {
	UserID    string `json:"userId"`
	SubjectID string `json:"subjectId,omitempty"`
	Level     int    `json:"level"`
}

// ExpirationDTO is one recorded point revocation.
type ExpirationDTO struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	ProjectID     string `json:"projectId"`
	SkillID       string `json:"skillId"`
	PointsRemoved int    `json:"pointsRemoved"`
	ExpiredAt     string `json:"expiredAt"`
	RecordedAt    string `json:"recordedAt"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	ErrorCode   string `json:"errorCode"`
	Explanation string `json:"explanation"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toSkillStateDTO(s engine.UserSkillState) SkillStateDTO {
	dto := SkillStateDTO{
		UserID:         string(s.UserID),
		ProjectID:      string(s.Skill.ProjectID),
		SkillID:        string(s.Skill.SkillID),
		TotalPoints:    s.TotalPoints.Int(),
		TodaysPoints:   s.TodaysPoints.Int(),
		PerformedCount: s.PerformedCount,
		Completed:      s.Completed,
	}
	if !s.LastEventAt.IsZero() {
		dto.LastEventAt = s.LastEventAt.Format(time.RFC3339)
	}
	if s.ExpiresAt != nil {
		dto.ExpiresAt = s.ExpiresAt.Format(time.RFC3339)
	}
	return dto
}

func toSummaryDTO(s *engine.Summary) SummaryDTO {
	return SummaryDTO{
		UserID:          string(s.UserID),
		ProjectID:       string(s.ProjectID),
		SubjectID:       string(s.SubjectID),
		Points:          s.Points.Int(),
		TodaysPoints:    s.TodaysPoints.Int(),
		TotalAchievable: s.TotalAchievable.Int(),
		Level:           s.Level,
		Thresholds:      s.Thresholds,
		BadgesAchieved:  s.BadgesAchieved,
	}
}

func toGraphDTO(view *engine.GraphView) GraphDTO {
	dto := GraphDTO{
		FocalProject: string(view.Focal.ProjectID),
		FocalRef:     view.Focal.RefID,
		FocalKind:    string(view.Focal.Kind),
		Nodes:        make([]GraphNodeDTO, len(view.Nodes)),
		Edges:        make([]GraphEdgeDTO, len(view.Edges)),
	}
	for i, n := range view.Nodes {
		dto.Nodes[i] = GraphNodeDTO{
			ProjectID:          string(n.Ref.ProjectID),
			RefID:              n.Ref.RefID,
			Kind:               string(n.Ref.Kind),
			Name:               n.Name,
			Unlocked:           n.Status.Unlocked,
			SatisfiedCount:     n.Status.SatisfiedCount,
			TotalCount:         n.Status.TotalCount,
			EarnedBeforePrereq: n.Status.EarnedBeforePrereq,
			SharedFromProject:  string(n.SharedFromProject),
		}
	}
	for i, e := range view.Edges {
		dto.Edges[i] = GraphEdgeDTO{
			FromProject: string(e.From.ProjectID),
			FromRef:     e.From.RefID,
			FromKind:    string(e.From.Kind),
			ToProject:   string(e.To.ProjectID),
			ToRef:       e.To.RefID,
			ToKind:      string(e.To.Kind),
		}
	}
	return dto
}

func toConstituentDTO(c engine.ConstituentStatus) ConstituentDTO {
	dto := ConstituentDTO{
		Kind:     string(c.Kind),
		Achieved: c.Achieved,
		Percent:  c.Percent.StringFixed(1),
	}
	if c.Level != nil {
		dto.ProjectID = string(c.Level.ProjectID)
		dto.RequiredLevel = c.Level.Level
	} else {
		dto.ProjectID = string(c.Skill.ProjectID)
		dto.SkillID = string(c.Skill.SkillID)
	}
	return dto
}

func toBadgeProgressDTO(p *engine.BadgeProgress) BadgeProgressDTO {
	dto := BadgeProgressDTO{
		ProjectID:       string(p.Badge.ProjectID),
		BadgeID:         string(p.Badge.BadgeID),
		Name:            p.Badge.Name,
		Global:          p.Badge.Global,
		PercentComplete: p.PercentComplete.StringFixed(1),
		Achieved:        p.Achieved,
		Satisfied:       make([]ConstituentDTO, len(p.Satisfied)),
		Unsatisfied:     make([]ConstituentDTO, len(p.Unsatisfied)),
	}
	if !p.AchievedAt.IsZero() {
		dto.AchievedAt = p.AchievedAt.Format(time.RFC3339)
	}
	for i, c := range p.Satisfied {
		dto.Satisfied[i] = toConstituentDTO(c)
	}
	for i, c := range p.Unsatisfied {
		dto.Unsatisfied[i] = toConstituentDTO(c)
	}
	return dto
}

func toApprovalDTOs(reqs []engine.ApprovalRequest) []ApprovalDTO {
	dtos := make([]ApprovalDTO, len(reqs))
	for i, req := range reqs {
		dtos[i] = ApprovalDTO{
			ID:              req.ID,
			UserID:          string(req.UserID),
			ProjectID:       string(req.Skill.ProjectID),
			SkillID:         string(req.Skill.SkillID),
			RequestedPoints: req.RequestedPoints,
			RequestedAt:     req.RequestedAt.Format(time.RFC3339),
			Message:         req.Message,
			SubmittedAt:     req.SubmittedAt.Format(time.RFC3339),
		}
	}
	return dtos
}

func toItemOutcomeDTOs(outcomes []engine.ItemOutcome) []ItemOutcomeDTO {
	dtos := make([]ItemOutcomeDTO, len(outcomes))
	for i, o := range outcomes {
		dtos[i] = ItemOutcomeDTO{
			RequestID: o.RequestID,
			OK:        o.OK,
			ErrorCode: o.ErrorCode,
			Message:   o.Message,
		}
	}
	return dtos
}

func toExpirationDTOs(recs []engine.ExpirationRecord) []ExpirationDTO {
	dtos := make([]ExpirationDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = ExpirationDTO{
			ID:            rec.ID,
			UserID:        string(rec.UserID),
			ProjectID:     string(rec.Skill.ProjectID),
			SkillID:       string(rec.Skill.SkillID),
			PointsRemoved: rec.PointsRemoved.Int(),
			ExpiredAt:     rec.ExpiredAt.Format(time.RFC3339),
			RecordedAt:    rec.RecordedAt.Format(time.RFC3339),
		}
	}
	return dtos
}
