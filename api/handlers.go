/*
handlers.go - HTTP API handlers for the skill achievement engine

PURPOSE:
  Exposes the skill engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Reporting:
    POST   /api/projects/{p}/skills/{s}           Report a skill event
                                                  (or open an approval
                                                  request for approval-
                                                  type skills)

  Views:
    GET    /api/projects/{p}/summary              Project rollup
    GET    /api/projects/{p}/subjects/{s}/summary Subject rollup
    GET    /api/projects/{p}/rank                 Leaderboard position
    GET    /api/projects/{p}/pointHistory         Cumulative point series
    GET    /api/projects/{p}/skills/{s}/dependencies  Prerequisite graph
    GET    /api/projects/{p}/badges/{b}/progress  Badge progress
    GET    /api/projects/{p}/expirations          Recent revocations

  Admin:
    POST   /admin/projects/{p}/skills/{s}         Upsert skill definition
    POST   /admin/projects/{p}/badges/{b}         Upsert badge
    POST   /admin/projects/{p}/levels             Set level thresholds
    POST   /admin/projects/{p}/{kind}/{id}/prerequisite/...  Add edge
    GET    /admin/projects/{p}/approvals          Pending approvals
    POST   /admin/projects/{p}/approvals/approve  Batch approve
    POST   /admin/projects/{p}/approvals/reject   Batch reject

ARCHITECTURE:
  Handler struct holds all dependencies: the aggregator, workflow,
  views, learning path, badge evaluator, and the raw stores used by
  admin upserts. Settings is the per-process snapshot injected at
  startup; Now is injectable for tests.

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (aggregator, workflow, views, ...)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Engine errors carry stable codes (engine.Code); the envelope is
  {"errorCode": ..., "explanation": ...} with HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown skill/badge
  - 409: Workflow conflicts (already pending, already capped)
  - 503: Maintenance mode (database upgrade in progress)
  - 500: Internal errors
  Throttled reports are NOT HTTP errors: the client gets a 200 with
  skillApplied=false and an explanation, mirroring how the UI renders
  "try again later".

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are
  public. Admin routes are separated by path prefix only.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Background expiration sweeper
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pathway/skill-engine/engine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Agg       *engine.Aggregator
	Workflow  *engine.Workflow
	Views     *engine.Views
	Path      *engine.LearningPath
	BadgeEval *engine.BadgeEvaluator
	Levels    *engine.LevelService
	Sweep     *engine.Sweep

	// Stores used directly by admin upserts and list views.
	Defs       engine.DefinitionStore
	Badges     engine.BadgeStore
	Approvals  engine.ApprovalStore
	LevelStore engine.LevelStore
	Runs       engine.ExpirationRunStore

	Settings engine.Settings

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// =============================================================================
// REPORTING
// =============================================================================

// ReportSkill records one skill performance, or opens an approval
// request when the skill is approval-type self-reporting.
// POST /api/projects/{projectId}/skills/{skillId}
func (h *Handler) ReportSkill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref := engine.SkillRef{
		ProjectID: engine.ProjectID(chi.URLParam(r, "projectId")),
		SkillID:   engine.SkillID(chi.URLParam(r, "skillId")),
	}

	var req ReportSkillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid request body")
		return
	}

	var ts time.Time
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "ValidationError", "invalid timestamp format (use RFC3339)")
			return
		}
		ts = parsed.UTC()
	}

	def, err := h.Defs.GetSkill(ctx, ref)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	now := h.now()
	userID := engine.UserID(req.UserID)

	// Approval-type skills never award points directly: the report
	// opens a PENDING request instead.
	if def.SelfReporting == engine.SelfReportApproval {
		approval, err := h.Workflow.Submit(ctx, h.Settings, engine.SubmitRequest{
			UserID:    userID,
			Skill:     ref,
			Timestamp: ts,
			Now:       now,
			Message:   req.SelfReportMessage,
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ReportSkillResponse{
			SkillApplied:      false,
			Explanation:       "Skill was submitted for approval",
			ApprovalRequested: true,
			ApprovalRequestID: approval.ID,
		})
		return
	}

	scopes := h.levelScopes(def, ref.ProjectID)
	before, err := h.scopeTotals(r, userID, scopes, now)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	res, err := h.Agg.ApplyEvent(ctx, h.Settings, engine.ReportRequest{
		UserID:         userID,
		Skill:          ref,
		Timestamp:      ts,
		Now:            now,
		IdempotencyKey: req.IdempotencyKey,
	})
	if errors.Is(err, engine.ErrThrottled) {
		writeJSON(w, http.StatusOK, ReportSkillResponse{
			SkillApplied: false,
			Explanation:  err.Error(),
		})
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := ReportSkillResponse{
		SkillApplied: res.Applied,
		Explanation:  res.Explanation,
		PointsEarned: res.PointsEarned.Int(),
		TotalPoints:  res.SkillState.TotalPoints.Int(),
		Completed:    res.SkillState.Completed,
		ExpiringSoon: res.ExpiringSoon,
		SkillState:   toSkillStateDTO(res.SkillState),
	}

	if res.Applied {
		after, err := h.scopeTotals(r, userID, scopes, now)
		if err == nil {
			for i, scope := range scopes {
				ups, err := h.Levels.DetectLevelUps(ctx, scope, before[i], after[i])
				if err != nil {
					continue
				}
				for _, up := range ups {
					// A milestone the user dismissed, or one reached
					// outside the celebration window, stays silent.
					show, err := h.Levels.ShouldCelebrate(ctx, h.Settings, userID, up.Scope, up.Level, res.SkillState.LastEventAt, now)
					if err != nil || !show {
						continue
					}
					resp.LevelUps = append(resp.LevelUps, LevelUpDTO{
						ProjectID: string(up.Scope.ProjectID),
						SubjectID: string(up.Scope.SubjectID),
						Level:     up.Level,
						Message:   up.Message,
					})
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// levelScopes lists the scopes whose totals the event can move: the
// project track, plus the subject track when the skill has a subject.
func (h *Handler) levelScopes(def *engine.SkillDefinition, projectID engine.ProjectID) []engine.LevelScope {
	scopes := []engine.LevelScope{{ProjectID: projectID}}
	if def.SubjectID != "" {
		scopes = append(scopes, engine.LevelScope{ProjectID: projectID, SubjectID: def.SubjectID})
	}
	return scopes
}

func (h *Handler) scopeTotals(r *http.Request, userID engine.UserID, scopes []engine.LevelScope, now time.Time) ([]engine.Points, error) {
	ctx := r.Context()
	totals := make([]engine.Points, len(scopes))
	for i, scope := range scopes {
		var err error
		if scope.SubjectID == "" {
			totals[i], err = h.Agg.ProjectTotal(ctx, userID, scope.ProjectID, now)
		} else {
			totals[i], err = h.Agg.SubjectTotal(ctx, userID, scope.ProjectID, scope.SubjectID, now)
		}
		if err != nil {
			return nil, err
		}
	}
	return totals, nil
}

// =============================================================================
// VIEWS
// =============================================================================

// GetProjectSummary returns the user's project rollup.
// GET /api/projects/{projectId}/summary?userId=...
func (h *Handler) GetProjectSummary(w http.ResponseWriter, r *http.Request) {
	projectID := engine.ProjectID(chi.URLParam(r, "projectId"))
	userID, ok := queryUser(w, r)
	if !ok {
		return
	}

	summary, err := h.Views.ProjectSummary(r.Context(), userID, projectID, h.now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// GetSubjectSummary returns the user's subject rollup.
// GET /api/projects/{projectId}/subjects/{subjectId}/summary?userId=...
func (h *Handler) GetSubjectSummary(w http.ResponseWriter, r *http.Request) {
	projectID := engine.ProjectID(chi.URLParam(r, "projectId"))
	subjectID := engine.SubjectID(chi.URLParam(r, "subjectId"))
	userID, ok := queryUser(w, r)
	if !ok {
		return
	}

	summary, err := h.Views.SubjectSummary(r.Context(), userID, projectID, subjectID, h.now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// GetProjectRank returns the user's leaderboard position.
// GET /api/projects/{projectId}/rank?userId=...
func (h *Handler) GetProjectRank(w http.ResponseWriter, r *http.Request) {
	projectID := engine.ProjectID(chi.URLParam(r, "projectId"))
	userID, ok := queryUser(w, r)
	if !ok {
		return
	}

	rank, err := h.Views.ProjectRank(r.Context(), userID, projectID, h.now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RankDTO{Position: rank.Position, TotalUsers: rank.TotalUsers, Points: rank.Points.Int()})
}

// GetSubjectRank returns the user's position within a subject.
// GET /api/projects/{projectId}/subjects/{subjectId}/rank?userId=...
func (h *Handler) GetSubjectRank(w http.ResponseWriter, r *http.Request) {
	projectID := engine.ProjectID(chi.URLParam(r, "projectId"))
	subjectID := engine.SubjectID(chi.URLParam(r, "subjectId"))
	userID, ok := queryUser(w, r)
	if !ok {
		return
	}

	rank, err := h.Views.SubjectRank(r.Context(), userID, projectID, subjectID, h.now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RankDTO{Position: rank.Position, TotalUsers: rank.TotalUsers, Points: rank.Points.Int()})
}

// GetProjectPointHistory returns the cumulative per-day point series.
// GET /api/projects/{projectId}/pointHistory?userId=...
func (h *Handler) GetProjectPointHistory(w http.ResponseWriter, r *http.Request) {
	projectID := engine.ProjectID(chi.URLParam(r, "projectId"))
	userID, ok := queryUser(w, r)
	if !ok {
		return
	}

	series, err := h.Views.ProjectPointHistory(r.Context(), userID, projectID, h.now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDayPointsDTOs(series))
}

// GetSubjectPointHistory returns the subject-scoped point series.
// GET /api/projects/{projectId}/subjects/{subjectId}/pointHistory?userId=...
func (h *Handler) GetSubjectPointHistory(w http.ResponseWriter, r *http.Request) {
	projectID := engine.ProjectID(chi.URLParam(r, "projectId"))
	subjectID := engine.SubjectID(chi.URLParam(r, "subjectId"))
	userID, ok := queryUser(w, r)
	if !ok {
		return
	}

	series, err := h.Views.SubjectPointHistory(r.Context(), userID, projectID, subjectID, h.now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDayPointsDTOs(series))
}

func toDayPointsDTOs(series []engine.DayPoints) []DayPointsDTO {
	dtos := make([]DayPointsDTO, len(series))
	for i, dp := range series {
		dtos[i] = DayPointsDTO{Day: dp.Day.Format("2006-01-02"), Points: dp.Points}
	}
	return dtos
}

// GetSkillDependencies expands the prerequisite graph around a skill.
// GET /api/projects/{projectId}/skills/{skillId}/dependencies?userId=...&depth=3
func (h *Handler) GetSkillDependencies(w http.ResponseWriter, r *http.Request) {
	ref := engine.SkillRef{
		ProjectID: engine.ProjectID(chi.URLParam(r, "projectId")),
		SkillID:   engine.SkillID(chi.URLParam(r, "skillId")),
	}
	userID, ok := queryUser(w, r)
	if !ok {
		return
	}

	depth := 3
	if d := r.URL.Query().Get("depth"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "ValidationError", "depth must be a positive integer")
			return
		}
		depth = parsed
	}

	view, err := h.Path.Expand(r.Context(), engine.SkillNode(ref), userID, depth, h.now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGraphDTO(view))
}

// GetBadgeProgress returns the user's standing toward a badge.
// GET /api/projects/{projectId}/badges/{badgeId}/progress?userId=...
func (h *Handler) GetBadgeProgress(w http.ResponseWriter, r *http.Request) {
	projectID := engine.ProjectID(chi.URLParam(r, "projectId"))
	badgeID := engine.BadgeID(chi.URLParam(r, "badgeId"))
	userID, ok := queryUser(w, r)
	if !ok {
		return
	}

	progress, err := h.BadgeEval.Progress(r.Context(), projectID, badgeID, userID, h.now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBadgeProgressDTO(progress))
}

// ListExpirations returns recently recorded point revocations.
// GET /api/projects/{projectId}/expirations?limit=50
func (h *Handler) ListExpirations(w http.ResponseWriter, r *http.Request) {
	projectID := engine.ProjectID(chi.URLParam(r, "projectId"))

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "ValidationError", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	recs, err := h.Runs.ListExpirations(r.Context(), projectID, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpirationDTOs(recs))
}

// DismissCelebration persists a level-up acknowledgement so the
// celebration is not shown again.
// POST /api/projects/{projectId}/celebrations/dismiss
func (h *Handler) DismissCelebration(w http.ResponseWriter, r *http.Request) {
	projectID := engine.ProjectID(chi.URLParam(r, "projectId"))

	var req DismissCelebrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "ValidationError", "userId is required")
		return
	}
	if req.Level < 1 {
		writeError(w, http.StatusBadRequest, "ValidationError", "level must be positive")
		return
	}

	scope := engine.LevelScope{ProjectID: projectID, SubjectID: engine.SubjectID(req.SubjectID)}
	if err := h.Levels.Dismiss(r.Context(), engine.UserID(req.UserID), scope, req.Level); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"dismissed": true})
}

// =============================================================================
// ADMIN: SKILLS, BADGES, LEVELS
// =============================================================================

// UpsertSkill creates or replaces a skill definition.
// POST /admin/projects/{projectId}/skills/{skillId}
func (h *Handler) UpsertSkill(w http.ResponseWriter, r *http.Request) {
	if h.Settings.MaintenanceMode {
		writeEngineError(w, engine.ErrMaintenanceMode)
		return
	}

	ref := engine.SkillRef{
		ProjectID: engine.ProjectID(chi.URLParam(r, "projectId")),
		SkillID:   engine.SkillID(chi.URLParam(r, "skillId")),
	}

	var req UpsertSkillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid request body")
		return
	}
	if req.PointIncrement < 1 {
		writeError(w, http.StatusBadRequest, "ValidationError", "pointIncrement must be positive")
		return
	}
	if req.NumPerformToCompletion < 1 {
		writeError(w, http.StatusBadRequest, "ValidationError", "numPerformToCompletion must be positive")
		return
	}

	def := engine.SkillDefinition{
		ProjectID:                     ref.ProjectID,
		SkillID:                       ref.SkillID,
		SubjectID:                     engine.SubjectID(req.SubjectID),
		Name:                          req.Name,
		PointIncrement:                req.PointIncrement,
		NumPerformToCompletion:        req.NumPerformToCompletion,
		PointIncrementIntervalMinutes: req.PointIncrementIntervalMinutes,
		MaxOccurrencesInInterval:      req.MaxOccurrencesInInterval,
		SelfReporting:                 engine.SelfReportType(req.SelfReporting),
	}
	if def.SelfReporting == "" {
		def.SelfReporting = engine.SelfReportDisabled
	}

	if req.ExpirationType != "" && req.ExpirationType != string(engine.ExpirationNever) {
		if req.ExpirationEvery < 1 {
			writeError(w, http.StatusBadRequest, "ValidationError", "expirationEvery must be positive")
			return
		}
		def.Expiration = &engine.ExpirationPolicy{
			Type:            engine.ExpirationType(req.ExpirationType),
			Every:           req.ExpirationEvery,
			GracePeriodDays: req.ExpirationGraceDays,
		}
	}

	for _, p := range req.SharedToProjects {
		def.SharedToProjects = append(def.SharedToProjects, engine.ProjectID(p))
	}

	if req.ImportedFromProject != "" {
		def.ImportedFrom = &engine.SkillRef{
			ProjectID: engine.ProjectID(req.ImportedFromProject),
			SkillID:   engine.SkillID(req.ImportedFromSkill),
		}
		// An import must point at an existing, shared catalog skill.
		origin, err := h.Defs.GetSkill(r.Context(), *def.ImportedFrom)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if !origin.SharedTo(ref.ProjectID) {
			writeEngineError(w, engine.ErrNotShared)
			return
		}
	}

	if err := h.Defs.SaveSkill(r.Context(), def); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"projectId": string(ref.ProjectID), "skillId": string(ref.SkillID)})
}

// UpsertBadge creates or replaces a badge.
// POST /admin/projects/{projectId}/badges/{badgeId}
func (h *Handler) UpsertBadge(w http.ResponseWriter, r *http.Request) {
	if h.Settings.MaintenanceMode {
		writeEngineError(w, engine.ErrMaintenanceMode)
		return
	}

	projectID := engine.ProjectID(chi.URLParam(r, "projectId"))
	badgeID := engine.BadgeID(chi.URLParam(r, "badgeId"))

	var req UpsertBadgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid request body")
		return
	}

	// Gem windows need both endpoints.
	if (req.StartDate == nil) != (req.EndDate == nil) {
		writeError(w, http.StatusBadRequest, "ValidationError", "startDate and endDate must both be set or both be empty")
		return
	}

	badge := engine.Badge{
		ProjectID: projectID,
		BadgeID:   badgeID,
		Name:      req.Name,
		Enabled:   req.Enabled,
		Global:    req.Global,
	}
	if badge.Global {
		badge.ProjectID = ""
	}

	if req.StartDate != nil {
		start, err := time.Parse(time.RFC3339, *req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "ValidationError", "invalid startDate format (use RFC3339)")
			return
		}
		end, err := time.Parse(time.RFC3339, *req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "ValidationError", "invalid endDate format (use RFC3339)")
			return
		}
		if !start.Before(end) {
			writeError(w, http.StatusBadRequest, "ValidationError", "startDate must be before endDate")
			return
		}
		startUTC, endUTC := start.UTC(), end.UTC()
		badge.StartDate = &startUTC
		badge.EndDate = &endUTC
	}

	for _, s := range req.Skills {
		badge.Skills = append(badge.Skills, engine.SkillRef{
			ProjectID: engine.ProjectID(s.ProjectID),
			SkillID:   engine.SkillID(s.SkillID),
		})
	}
	for _, lr := range req.LevelRequirements {
		if !badge.Global {
			writeError(w, http.StatusBadRequest, "ValidationError", "level requirements are only valid on global badges")
			return
		}
		badge.LevelRequirements = append(badge.LevelRequirements, engine.ProjectLevelRequirement{
			ProjectID: engine.ProjectID(lr.ProjectID),
			Level:     lr.Level,
		})
	}

	if err := h.Badges.SaveBadge(r.Context(), badge); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"badgeId": string(badgeID)})
}

// SetLevels replaces the level thresholds for a project or subject
// track. Thresholds must be strictly increasing.
// POST /admin/projects/{projectId}/levels
func (h *Handler) SetLevels(w http.ResponseWriter, r *http.Request) {
	if h.Settings.MaintenanceMode {
		writeEngineError(w, engine.ErrMaintenanceMode)
		return
	}

	projectID := engine.ProjectID(chi.URLParam(r, "projectId"))

	var req SetLevelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid request body")
		return
	}
	if len(req.Thresholds) == 0 {
		writeError(w, http.StatusBadRequest, "ValidationError", "thresholds must not be empty")
		return
	}
	for i, t := range req.Thresholds {
		if t < 1 || (i > 0 && t <= req.Thresholds[i-1]) {
			writeError(w, http.StatusBadRequest, "ValidationError", "thresholds must be positive and strictly increasing")
			return
		}
	}

	if err := h.LevelStore.SaveThresholds(r.Context(), projectID, engine.SubjectID(req.SubjectID), req.Thresholds); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thresholds": req.Thresholds})
}

// =============================================================================
// ADMIN: PREREQUISITE GRAPH
// =============================================================================

// AddPrerequisite adds a learning path edge: {kind}/{refId} depends on
// {prereqKind}/{prereqRefId}. Cycles and unshared cross-project targets
// are rejected.
// POST /admin/projects/{p}/{kind}/{refId}/prerequisite/{prereqProject}/{prereqKind}/{prereqRefId}
func (h *Handler) AddPrerequisite(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.parseEdge(w, r)
	if !ok {
		return
	}

	if err := h.Path.AddPrerequisite(r.Context(), h.Settings, from, to, h.now()); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"from": from.String(), "to": to.String()})
}

// RemovePrerequisite deletes a learning path edge.
// DELETE /admin/projects/{p}/{kind}/{refId}/prerequisite/{prereqProject}/{prereqKind}/{prereqRefId}
func (h *Handler) RemovePrerequisite(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.parseEdge(w, r)
	if !ok {
		return
	}

	if err := h.Path.RemovePrerequisite(r.Context(), h.Settings, from, to); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseEdge(w http.ResponseWriter, r *http.Request) (from, to engine.NodeRef, ok bool) {
	fromKind, okFrom := parseNodeKind(chi.URLParam(r, "kind"))
	toKind, okTo := parseNodeKind(chi.URLParam(r, "prereqKind"))
	if !okFrom || !okTo {
		writeError(w, http.StatusBadRequest, "ValidationError", "node kind must be 'skills' or 'badges'")
		return from, to, false
	}

	from = engine.NodeRef{
		ProjectID: engine.ProjectID(chi.URLParam(r, "projectId")),
		RefID:     chi.URLParam(r, "refId"),
		Kind:      fromKind,
	}
	to = engine.NodeRef{
		ProjectID: engine.ProjectID(chi.URLParam(r, "prereqProject")),
		RefID:     chi.URLParam(r, "prereqRefId"),
		Kind:      toKind,
	}
	return from, to, true
}

func parseNodeKind(s string) (engine.NodeKind, bool) {
	switch s {
	case "skills":
		return engine.NodeSkill, true
	case "badges":
		return engine.NodeBadge, true
	}
	return "", false
}

// =============================================================================
// ADMIN: APPROVALS
// =============================================================================

// ListPendingApprovals returns PENDING requests for a project, oldest
// first.
// GET /admin/projects/{projectId}/approvals
func (h *Handler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	projectID := engine.ProjectID(chi.URLParam(r, "projectId"))

	reqs, err := h.Approvals.ListPending(r.Context(), projectID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTOs(reqs))
}

// ApproveApprovals decides a batch of requests, each independently.
// POST /admin/projects/{projectId}/approvals/approve
func (h *Handler) ApproveApprovals(w http.ResponseWriter, r *http.Request) {
	var req DecideApprovalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid request body")
		return
	}
	if len(req.RequestIDs) == 0 {
		writeError(w, http.StatusBadRequest, "ValidationError", "requestIds must not be empty")
		return
	}

	outcomes, err := h.Workflow.Approve(r.Context(), h.Settings, req.RequestIDs, req.ApproverID, h.now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemOutcomeDTOs(outcomes))
}

// RejectApprovals rejects a batch of requests with a shared rationale.
// POST /admin/projects/{projectId}/approvals/reject
func (h *Handler) RejectApprovals(w http.ResponseWriter, r *http.Request) {
	var req DecideApprovalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid request body")
		return
	}
	if len(req.RequestIDs) == 0 {
		writeError(w, http.StatusBadRequest, "ValidationError", "requestIds must not be empty")
		return
	}

	outcomes, err := h.Workflow.Reject(r.Context(), h.Settings, req.RequestIDs, req.Message, h.now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemOutcomeDTOs(outcomes))
}

// =============================================================================
// HELPERS
// =============================================================================

func queryUser(w http.ResponseWriter, r *http.Request) (engine.UserID, bool) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "ValidationError", "userId query parameter is required")
		return "", false
	}
	return engine.UserID(userID), true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, explanation string) {
	writeJSON(w, status, ErrorResponse{ErrorCode: code, Explanation: explanation})
}

// writeEngineError maps engine errors to HTTP status with a stable
// machine-readable code.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrMaintenanceMode):
		status = http.StatusServiceUnavailable
	case engine.IsNotFound(err):
		status = http.StatusNotFound
	case engine.IsConflict(err):
		status = http.StatusConflict
	case engine.IsClientError(err), errors.Is(err, engine.ErrBadgeNotInWindow):
		status = http.StatusBadRequest
	}
	writeError(w, status, engine.Code(err), err.Error())
}
