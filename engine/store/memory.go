// Package store provides an in-memory implementation of the engine's
// persistence interfaces, for tests and development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pathway/skill-engine/engine"
)

// =============================================================================
// MEMORY STORE - Implements every engine store interface
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	events      map[engine.UserSkillKey][]engine.SkillEvent
	idempotency map[string]bool

	skills map[engine.SkillRef]engine.SkillDefinition

	edges []engine.LearningPathEdge

	badges map[badgeKey]engine.Badge

	approvals map[string]engine.ApprovalRequest

	thresholds map[scopeKey][]int

	dismissals map[dismissalKey]bool

	expirations map[expirationKey]engine.ExpirationRecord
}

type badgeKey struct {
	ProjectID engine.ProjectID
	BadgeID   engine.BadgeID
}

type scopeKey struct {
	ProjectID engine.ProjectID
	SubjectID engine.SubjectID
}

type dismissalKey struct {
	UserID   engine.UserID
	ScopeKey string
	Level    int
}

type expirationKey struct {
	UserID    engine.UserID
	Skill     engine.SkillRef
	ExpiredAt int64 // unix seconds
}

func NewMemory() *Memory {
	return &Memory{
		events:      make(map[engine.UserSkillKey][]engine.SkillEvent),
		idempotency: make(map[string]bool),
		skills:      make(map[engine.SkillRef]engine.SkillDefinition),
		badges:      make(map[badgeKey]engine.Badge),
		approvals:   make(map[string]engine.ApprovalRequest),
		thresholds:  make(map[scopeKey][]int),
		dismissals:  make(map[dismissalKey]bool),
		expirations: make(map[expirationKey]engine.ExpirationRecord),
	}
}

// =============================================================================
// EVENT STORE
// =============================================================================

func (m *Memory) Append(_ context.Context, ev engine.SkillEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.IdempotencyKey != "" && m.idempotency[ev.IdempotencyKey] {
		return engine.ErrDuplicateIdempotencyKey
	}

	k := engine.UserSkillKey{UserID: ev.UserID, Skill: ev.Ref()}
	evs := m.events[k]

	// Insert sorted by timestamp so loads need no re-sort.
	i := sort.Search(len(evs), func(i int) bool {
		return evs[i].Timestamp.After(ev.Timestamp)
	})
	evs = append(evs, engine.SkillEvent{})
	copy(evs[i+1:], evs[i:])
	evs[i] = ev
	m.events[k] = evs

	if ev.IdempotencyKey != "" {
		m.idempotency[ev.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) LoadBySkill(_ context.Context, userID engine.UserID, ref engine.SkillRef) ([]engine.SkillEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := engine.UserSkillKey{UserID: userID, Skill: ref}
	out := make([]engine.SkillEvent, len(m.events[k]))
	copy(out, m.events[k])
	return out, nil
}

func (m *Memory) LoadByProject(_ context.Context, userID engine.UserID, projectID engine.ProjectID) ([]engine.SkillEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.SkillEvent
	for k, evs := range m.events {
		if k.UserID != userID || k.Skill.ProjectID != projectID {
			continue
		}
		out = append(out, evs...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) CountOnDay(_ context.Context, userID engine.UserID, projectID engine.ProjectID, at time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	y, mo, d := at.UTC().Date()
	count := 0
	for k, evs := range m.events {
		if k.UserID != userID || k.Skill.ProjectID != projectID {
			continue
		}
		for _, ev := range evs {
			ey, em, ed := ev.Timestamp.UTC().Date()
			if ey == y && em == mo && ed == d {
				count++
			}
		}
	}
	return count, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) DistinctUserSkills(_ context.Context, projectID engine.ProjectID) ([]engine.UserSkillKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.UserSkillKey
	for k, evs := range m.events {
		if k.Skill.ProjectID == projectID && len(evs) > 0 {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Skill.SkillID < out[j].Skill.SkillID
	})
	return out, nil
}

func (m *Memory) UserIDsByProject(_ context.Context, projectID engine.ProjectID) ([]engine.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[engine.UserID]bool)
	for k, evs := range m.events {
		if k.Skill.ProjectID == projectID && len(evs) > 0 {
			seen[k.UserID] = true
		}
	}
	out := make([]engine.UserID, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// =============================================================================
// DEFINITION STORE
// =============================================================================

func (m *Memory) GetSkill(_ context.Context, ref engine.SkillRef) (*engine.SkillDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.skills[ref]
	if !ok {
		return nil, engine.ErrSkillNotFound
	}
	return &def, nil
}

func (m *Memory) SaveSkill(_ context.Context, def engine.SkillDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skills[def.Ref()] = def
	return nil
}

func (m *Memory) ListProjects(_ context.Context) ([]engine.ProjectID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[engine.ProjectID]bool)
	for ref := range m.skills {
		seen[ref.ProjectID] = true
	}
	out := make([]engine.ProjectID, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) ListByProject(_ context.Context, projectID engine.ProjectID) ([]engine.SkillDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.SkillDefinition
	for _, def := range m.skills {
		if def.ProjectID == projectID {
			out = append(out, def)
		}
	}
	sortDefs(out)
	return out, nil
}

func (m *Memory) ListBySubject(_ context.Context, projectID engine.ProjectID, subjectID engine.SubjectID) ([]engine.SkillDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.SkillDefinition
	for _, def := range m.skills {
		if def.ProjectID == projectID && def.SubjectID == subjectID {
			out = append(out, def)
		}
	}
	sortDefs(out)
	return out, nil
}

func sortDefs(defs []engine.SkillDefinition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].SkillID < defs[j].SkillID })
}

// =============================================================================
// EDGE STORE
// =============================================================================

func (m *Memory) SaveEdge(_ context.Context, edge engine.LearningPathEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.edges {
		if e.From == edge.From && e.To == edge.To {
			return nil // already present
		}
	}
	m.edges = append(m.edges, edge)
	return nil
}

func (m *Memory) DeleteEdge(_ context.Context, from, to engine.NodeRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.edges[:0]
	for _, e := range m.edges {
		if e.From == from && e.To == to {
			continue
		}
		out = append(out, e)
	}
	m.edges = out
	return nil
}

func (m *Memory) EdgesFrom(_ context.Context, from engine.NodeRef) ([]engine.LearningPathEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.LearningPathEdge
	for _, e := range m.edges {
		if e.From == from {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) EdgesTo(_ context.Context, to engine.NodeRef) ([]engine.LearningPathEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.LearningPathEdge
	for _, e := range m.edges {
		if e.To == to {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) AllEdges(_ context.Context) ([]engine.LearningPathEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]engine.LearningPathEdge, len(m.edges))
	copy(out, m.edges)
	return out, nil
}

// =============================================================================
// BADGE STORE
// =============================================================================

func (m *Memory) GetBadge(_ context.Context, projectID engine.ProjectID, badgeID engine.BadgeID) (*engine.Badge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.badges[badgeKey{ProjectID: projectID, BadgeID: badgeID}]
	if !ok {
		return nil, engine.ErrBadgeNotFound
	}
	return &b, nil
}

func (m *Memory) SaveBadge(_ context.Context, b engine.Badge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.badges[badgeKey{ProjectID: b.ProjectID, BadgeID: b.BadgeID}] = b
	return nil
}

func (m *Memory) ListBadges(_ context.Context, projectID engine.ProjectID) ([]engine.Badge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.Badge
	for _, b := range m.badges {
		if b.ProjectID == projectID && !b.Global {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BadgeID < out[j].BadgeID })
	return out, nil
}

func (m *Memory) ListGlobal(_ context.Context) ([]engine.Badge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.Badge
	for _, b := range m.badges {
		if b.Global {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BadgeID < out[j].BadgeID })
	return out, nil
}

// =============================================================================
// APPROVAL STORE
// =============================================================================

func (m *Memory) SaveApproval(_ context.Context, req engine.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[req.ID] = req
	return nil
}

func (m *Memory) GetApproval(_ context.Context, id string) (*engine.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.approvals[id]
	if !ok {
		return nil, &engine.ValidationError{Field: "approvalId", Message: "approval request not found"}
	}
	return &req, nil
}

func (m *Memory) DeleteApproval(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.approvals, id)
	return nil
}

func (m *Memory) FindOpen(_ context.Context, userID engine.UserID, ref engine.SkillRef) (*engine.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, req := range m.approvals {
		if req.UserID == userID && req.Skill == ref && req.State == engine.ApprovalPending {
			r := req
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListPending(_ context.Context, projectID engine.ProjectID) ([]engine.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.ApprovalRequest
	for _, req := range m.approvals {
		if req.Skill.ProjectID == projectID && req.State == engine.ApprovalPending {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// =============================================================================
// LEVEL STORE
// =============================================================================

func (m *Memory) GetThresholds(_ context.Context, projectID engine.ProjectID, subjectID engine.SubjectID) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.thresholds[scopeKey{ProjectID: projectID, SubjectID: subjectID}]
	out := make([]int, len(t))
	copy(out, t)
	return out, nil
}

func (m *Memory) SaveThresholds(_ context.Context, projectID engine.ProjectID, subjectID engine.SubjectID, thresholds []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds[scopeKey{ProjectID: projectID, SubjectID: subjectID}] = thresholds
	return nil
}

// =============================================================================
// CELEBRATION STORE
// =============================================================================

func (m *Memory) Dismiss(_ context.Context, userID engine.UserID, scope string, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dismissals[dismissalKey{UserID: userID, ScopeKey: scope, Level: level}] = true
	return nil
}

func (m *Memory) IsDismissed(_ context.Context, userID engine.UserID, scope string, level int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dismissals[dismissalKey{UserID: userID, ScopeKey: scope, Level: level}], nil
}

// =============================================================================
// EXPIRATION RUN STORE
// =============================================================================

func (m *Memory) RecordExpiration(_ context.Context, rec engine.ExpirationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := expirationKey{UserID: rec.UserID, Skill: rec.Skill, ExpiredAt: rec.ExpiredAt.UTC().Unix()}
	if _, ok := m.expirations[k]; ok {
		return nil
	}
	m.expirations[k] = rec
	return nil
}

func (m *Memory) HasExpiration(_ context.Context, userID engine.UserID, ref engine.SkillRef, expiredAt time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.expirations[expirationKey{UserID: userID, Skill: ref, ExpiredAt: expiredAt.UTC().Unix()}]
	return ok, nil
}

func (m *Memory) ListExpirations(_ context.Context, projectID engine.ProjectID, limit int) ([]engine.ExpirationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.ExpirationRecord
	for _, rec := range m.expirations {
		if rec.Skill.ProjectID == projectID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiredAt.After(out[j].ExpiredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
