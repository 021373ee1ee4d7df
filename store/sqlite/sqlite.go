/*
Package sqlite provides a SQLite-backed implementation of the engine's
storage interfaces.

PURPOSE:
  Implements all persistence interfaces (EventStore, DefinitionStore,
  EdgeStore, BadgeStore, ApprovalStore, LevelStore, CelebrationStore,
  ExpirationRunStore) using SQLite. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The event ledger enforces append-only semantics:
  - No UPDATE statements on skill_events table
  - No DELETE statements on skill_events table
  - Expirations are recorded in their own table; derived state is
    recomputed from both

KEY TABLES:
  skill_events:            Immutable ledger of skill performances
  skill_definitions:       Admin-authored point and expiration rules
  learning_path_edges:     Prerequisite graph (keyed on both endpoints)
  badges:                  Badge definitions (constituents as JSON)
  approval_requests:       Self-report workflow state
  level_thresholds:        Explicit level tracks per project/subject
  celebration_dismissals:  Persisted level-up acknowledgements
  expiration_runs:         Recorded revocations, surfaced to admins

INDEXES:
  Critical indexes for performance:
  - idx_events_user_skill: Per-skill replay (hot path)
  - idx_events_user_project_day: Daily event cap checks
  - idx_approvals_open: Duplicate-pending lookups

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/skills.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  // Use with ledger
  ledger := &engine.Ledger{Store: store}

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/stores.go: Interface definitions
  - engine/ledger.go: Higher-level ledger using EventStore
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pathway/skill-engine/engine"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Skill events (append-only ledger)
	CREATE TABLE IF NOT EXISTS skill_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		points_awarded INTEGER NOT NULL,
		idempotency_key TEXT UNIQUE,
		reported_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_user_skill
		ON skill_events(user_id, project_id, skill_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_user_project_day
		ON skill_events(user_id, project_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_project
		ON skill_events(project_id);

	-- Skill definitions
	CREATE TABLE IF NOT EXISTS skill_definitions (
		project_id TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		name TEXT NOT NULL,
		point_increment INTEGER NOT NULL,
		num_perform_to_completion INTEGER NOT NULL,
		point_increment_interval_minutes INTEGER NOT NULL,
		max_occurrences_in_interval INTEGER NOT NULL,
		self_reporting TEXT NOT NULL,
		expiration_type TEXT,
		expiration_every INTEGER,
		expiration_grace_days INTEGER,
		shared_to_json TEXT,
		imported_from_project TEXT,
		imported_from_skill TEXT,
		PRIMARY KEY (project_id, skill_id)
	);

	CREATE INDEX IF NOT EXISTS idx_definitions_subject
		ON skill_definitions(project_id, subject_id);

	-- Learning path edges (prerequisite graph)
	CREATE TABLE IF NOT EXISTS learning_path_edges (
		from_project TEXT NOT NULL,
		from_ref TEXT NOT NULL,
		from_kind TEXT NOT NULL,
		to_project TEXT NOT NULL,
		to_ref TEXT NOT NULL,
		to_kind TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (from_project, from_ref, from_kind, to_project, to_ref, to_kind)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_from
		ON learning_path_edges(from_project, from_ref, from_kind);
	CREATE INDEX IF NOT EXISTS idx_edges_to
		ON learning_path_edges(to_project, to_ref, to_kind);

	-- Badges (constituent lists stored as JSON)
	CREATE TABLE IF NOT EXISTS badges (
		project_id TEXT NOT NULL,
		badge_id TEXT NOT NULL,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		is_global INTEGER NOT NULL,
		start_date TEXT,
		end_date TEXT,
		skills_json TEXT,
		level_reqs_json TEXT,
		PRIMARY KEY (project_id, badge_id)
	);

	-- Self-report approval requests
	CREATE TABLE IF NOT EXISTS approval_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		requested_points INTEGER NOT NULL,
		requested_at TEXT NOT NULL,
		message TEXT,
		state TEXT NOT NULL,
		rejection_message TEXT,
		submitted_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_open
		ON approval_requests(user_id, project_id, skill_id, state);
	CREATE INDEX IF NOT EXISTS idx_approvals_project_state
		ON approval_requests(project_id, state);

	-- Explicit level thresholds (empty subject_id = project track)
	CREATE TABLE IF NOT EXISTS level_thresholds (
		project_id TEXT NOT NULL,
		subject_id TEXT NOT NULL DEFAULT '',
		thresholds_json TEXT NOT NULL,
		PRIMARY KEY (project_id, subject_id)
	);

	-- Level-up celebration dismissals
	CREATE TABLE IF NOT EXISTS celebration_dismissals (
		user_id TEXT NOT NULL,
		scope_key TEXT NOT NULL,
		level INTEGER NOT NULL,
		PRIMARY KEY (user_id, scope_key, level)
	);

	-- Recorded point expirations
	CREATE TABLE IF NOT EXISTS expiration_runs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		points_removed INTEGER NOT NULL,
		expired_at TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		UNIQUE (user_id, project_id, skill_id, expired_at)
	);

	CREATE INDEX IF NOT EXISTS idx_expirations_project
		ON expiration_runs(project_id, expired_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// =============================================================================
// EVENT STORE
// =============================================================================

// Append inserts a skill event. The idempotency_key unique index turns
// replays into ErrDuplicateIdempotencyKey.
func (s *Store) Append(ctx context.Context, ev engine.SkillEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sql.NullString{String: ev.IdempotencyKey, Valid: ev.IdempotencyKey != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skill_events
			(id, user_id, project_id, skill_id, timestamp, points_awarded, idempotency_key, reported_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.UserID), string(ev.ProjectID), string(ev.SkillID),
		formatTime(ev.Timestamp), ev.PointsAwarded, key, ev.ReportedBy, formatTime(ev.CreatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return engine.ErrDuplicateIdempotencyKey
	}
	return err
}

func (s *Store) LoadBySkill(ctx context.Context, userID engine.UserID, ref engine.SkillRef) ([]engine.SkillEvent, error) {
	return s.queryEvents(ctx, `
		SELECT id, user_id, project_id, skill_id, timestamp, points_awarded, idempotency_key, reported_by, created_at
		FROM skill_events
		WHERE user_id = ? AND project_id = ? AND skill_id = ?
		ORDER BY timestamp ASC, id ASC`,
		string(userID), string(ref.ProjectID), string(ref.SkillID))
}

func (s *Store) LoadByProject(ctx context.Context, userID engine.UserID, projectID engine.ProjectID) ([]engine.SkillEvent, error) {
	return s.queryEvents(ctx, `
		SELECT id, user_id, project_id, skill_id, timestamp, points_awarded, idempotency_key, reported_by, created_at
		FROM skill_events
		WHERE user_id = ? AND project_id = ?
		ORDER BY timestamp ASC, id ASC`,
		string(userID), string(projectID))
}

// CountOnDay counts a user's events in the UTC day containing at.
func (s *Store) CountOnDay(ctx context.Context, userID engine.UserID, projectID engine.ProjectID, at time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := at.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM skill_events
		WHERE user_id = ? AND project_id = ? AND timestamp >= ? AND timestamp < ?`,
		string(userID), string(projectID), formatTime(start), formatTime(end)).Scan(&count)
	return count, err
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM skill_events WHERE idempotency_key = ? LIMIT 1`, idempotencyKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) DistinctUserSkills(ctx context.Context, projectID engine.ProjectID) ([]engine.UserSkillKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id, project_id, skill_id FROM skill_events
		WHERE project_id = ?
		ORDER BY user_id, skill_id`, string(projectID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.UserSkillKey
	for rows.Next() {
		var user, proj, skill string
		if err := rows.Scan(&user, &proj, &skill); err != nil {
			return nil, err
		}
		out = append(out, engine.UserSkillKey{
			UserID: engine.UserID(user),
			Skill:  engine.SkillRef{ProjectID: engine.ProjectID(proj), SkillID: engine.SkillID(skill)},
		})
	}
	return out, rows.Err()
}

func (s *Store) UserIDsByProject(ctx context.Context, projectID engine.ProjectID) ([]engine.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM skill_events WHERE project_id = ? ORDER BY user_id`,
		string(projectID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.UserID
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, err
		}
		out = append(out, engine.UserID(user))
	}
	return out, rows.Err()
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]engine.SkillEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.SkillEvent
	for rows.Next() {
		var ev engine.SkillEvent
		var user, proj, skill, ts, created string
		var key, reportedBy sql.NullString
		if err := rows.Scan(&ev.ID, &user, &proj, &skill, &ts, &ev.PointsAwarded, &key, &reportedBy, &created); err != nil {
			return nil, err
		}
		ev.UserID = engine.UserID(user)
		ev.ProjectID = engine.ProjectID(proj)
		ev.SkillID = engine.SkillID(skill)
		ev.Timestamp = parseTime(ts)
		ev.CreatedAt = parseTime(created)
		ev.IdempotencyKey = key.String
		ev.ReportedBy = reportedBy.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// =============================================================================
// DEFINITION STORE
// =============================================================================

func (s *Store) SaveSkill(ctx context.Context, def engine.SkillDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expType sql.NullString
	var expEvery, expGrace sql.NullInt64
	if def.Expiration != nil {
		expType = sql.NullString{String: string(def.Expiration.Type), Valid: true}
		expEvery = sql.NullInt64{Int64: int64(def.Expiration.Every), Valid: true}
		expGrace = sql.NullInt64{Int64: int64(def.Expiration.GracePeriodDays), Valid: true}
	}
	shared, err := json.Marshal(def.SharedToProjects)
	if err != nil {
		return err
	}
	var impProj, impSkill sql.NullString
	if def.ImportedFrom != nil {
		impProj = sql.NullString{String: string(def.ImportedFrom.ProjectID), Valid: true}
		impSkill = sql.NullString{String: string(def.ImportedFrom.SkillID), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO skill_definitions
			(project_id, skill_id, subject_id, name, point_increment, num_perform_to_completion,
			 point_increment_interval_minutes, max_occurrences_in_interval, self_reporting,
			 expiration_type, expiration_every, expiration_grace_days, shared_to_json,
			 imported_from_project, imported_from_skill)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, skill_id) DO UPDATE SET
			subject_id = excluded.subject_id,
			name = excluded.name,
			point_increment = excluded.point_increment,
			num_perform_to_completion = excluded.num_perform_to_completion,
			point_increment_interval_minutes = excluded.point_increment_interval_minutes,
			max_occurrences_in_interval = excluded.max_occurrences_in_interval,
			self_reporting = excluded.self_reporting,
			expiration_type = excluded.expiration_type,
			expiration_every = excluded.expiration_every,
			expiration_grace_days = excluded.expiration_grace_days,
			shared_to_json = excluded.shared_to_json,
			imported_from_project = excluded.imported_from_project,
			imported_from_skill = excluded.imported_from_skill`,
		string(def.ProjectID), string(def.SkillID), string(def.SubjectID), def.Name,
		def.PointIncrement, def.NumPerformToCompletion,
		def.PointIncrementIntervalMinutes, def.MaxOccurrencesInInterval, string(def.SelfReporting),
		expType, expEvery, expGrace, string(shared), impProj, impSkill)
	return err
}

func (s *Store) GetSkill(ctx context.Context, ref engine.SkillRef) (*engine.SkillDefinition, error) {
	defs, err := s.queryDefinitions(ctx, `
		SELECT project_id, skill_id, subject_id, name, point_increment, num_perform_to_completion,
		       point_increment_interval_minutes, max_occurrences_in_interval, self_reporting,
		       expiration_type, expiration_every, expiration_grace_days, shared_to_json,
		       imported_from_project, imported_from_skill
		FROM skill_definitions WHERE project_id = ? AND skill_id = ?`,
		string(ref.ProjectID), string(ref.SkillID))
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, engine.ErrSkillNotFound
	}
	return &defs[0], nil
}

func (s *Store) ListProjects(ctx context.Context) ([]engine.ProjectID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT project_id FROM skill_definitions ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.ProjectID
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, engine.ProjectID(p))
	}
	return out, rows.Err()
}

func (s *Store) ListByProject(ctx context.Context, projectID engine.ProjectID) ([]engine.SkillDefinition, error) {
	return s.queryDefinitions(ctx, `
		SELECT project_id, skill_id, subject_id, name, point_increment, num_perform_to_completion,
		       point_increment_interval_minutes, max_occurrences_in_interval, self_reporting,
		       expiration_type, expiration_every, expiration_grace_days, shared_to_json,
		       imported_from_project, imported_from_skill
		FROM skill_definitions WHERE project_id = ? ORDER BY skill_id`,
		string(projectID))
}

func (s *Store) ListBySubject(ctx context.Context, projectID engine.ProjectID, subjectID engine.SubjectID) ([]engine.SkillDefinition, error) {
	return s.queryDefinitions(ctx, `
		SELECT project_id, skill_id, subject_id, name, point_increment, num_perform_to_completion,
		       point_increment_interval_minutes, max_occurrences_in_interval, self_reporting,
		       expiration_type, expiration_every, expiration_grace_days, shared_to_json,
		       imported_from_project, imported_from_skill
		FROM skill_definitions WHERE project_id = ? AND subject_id = ? ORDER BY skill_id`,
		string(projectID), string(subjectID))
}

func (s *Store) queryDefinitions(ctx context.Context, query string, args ...any) ([]engine.SkillDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.SkillDefinition
	for rows.Next() {
		var def engine.SkillDefinition
		var proj, skill, subject, selfReport string
		var expType, sharedJSON, impProj, impSkill sql.NullString
		var expEvery, expGrace sql.NullInt64
		if err := rows.Scan(&proj, &skill, &subject, &def.Name,
			&def.PointIncrement, &def.NumPerformToCompletion,
			&def.PointIncrementIntervalMinutes, &def.MaxOccurrencesInInterval, &selfReport,
			&expType, &expEvery, &expGrace, &sharedJSON, &impProj, &impSkill); err != nil {
			return nil, err
		}
		def.ProjectID = engine.ProjectID(proj)
		def.SkillID = engine.SkillID(skill)
		def.SubjectID = engine.SubjectID(subject)
		def.SelfReporting = engine.SelfReportType(selfReport)
		if expType.Valid {
			def.Expiration = &engine.ExpirationPolicy{
				Type:            engine.ExpirationType(expType.String),
				Every:           int(expEvery.Int64),
				GracePeriodDays: int(expGrace.Int64),
			}
		}
		if sharedJSON.Valid && sharedJSON.String != "" {
			if err := json.Unmarshal([]byte(sharedJSON.String), &def.SharedToProjects); err != nil {
				return nil, err
			}
		}
		if impProj.Valid && impSkill.Valid {
			def.ImportedFrom = &engine.SkillRef{
				ProjectID: engine.ProjectID(impProj.String),
				SkillID:   engine.SkillID(impSkill.String),
			}
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// =============================================================================
// EDGE STORE
// =============================================================================

func (s *Store) SaveEdge(ctx context.Context, edge engine.LearningPathEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO learning_path_edges
			(from_project, from_ref, from_kind, to_project, to_ref, to_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(edge.From.ProjectID), edge.From.RefID, string(edge.From.Kind),
		string(edge.To.ProjectID), edge.To.RefID, string(edge.To.Kind),
		formatTime(edge.CreatedAt))
	return err
}

func (s *Store) DeleteEdge(ctx context.Context, from, to engine.NodeRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM learning_path_edges
		WHERE from_project = ? AND from_ref = ? AND from_kind = ?
		  AND to_project = ? AND to_ref = ? AND to_kind = ?`,
		string(from.ProjectID), from.RefID, string(from.Kind),
		string(to.ProjectID), to.RefID, string(to.Kind))
	return err
}

func (s *Store) EdgesFrom(ctx context.Context, from engine.NodeRef) ([]engine.LearningPathEdge, error) {
	return s.queryEdges(ctx, `
		SELECT from_project, from_ref, from_kind, to_project, to_ref, to_kind, created_at
		FROM learning_path_edges
		WHERE from_project = ? AND from_ref = ? AND from_kind = ?`,
		string(from.ProjectID), from.RefID, string(from.Kind))
}

func (s *Store) EdgesTo(ctx context.Context, to engine.NodeRef) ([]engine.LearningPathEdge, error) {
	return s.queryEdges(ctx, `
		SELECT from_project, from_ref, from_kind, to_project, to_ref, to_kind, created_at
		FROM learning_path_edges
		WHERE to_project = ? AND to_ref = ? AND to_kind = ?`,
		string(to.ProjectID), to.RefID, string(to.Kind))
}

func (s *Store) AllEdges(ctx context.Context) ([]engine.LearningPathEdge, error) {
	return s.queryEdges(ctx, `
		SELECT from_project, from_ref, from_kind, to_project, to_ref, to_kind, created_at
		FROM learning_path_edges`)
}

func (s *Store) queryEdges(ctx context.Context, query string, args ...any) ([]engine.LearningPathEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.LearningPathEdge
	for rows.Next() {
		var fp, fr, fk, tp, tr, tk, created string
		if err := rows.Scan(&fp, &fr, &fk, &tp, &tr, &tk, &created); err != nil {
			return nil, err
		}
		out = append(out, engine.LearningPathEdge{
			From:      engine.NodeRef{ProjectID: engine.ProjectID(fp), RefID: fr, Kind: engine.NodeKind(fk)},
			To:        engine.NodeRef{ProjectID: engine.ProjectID(tp), RefID: tr, Kind: engine.NodeKind(tk)},
			CreatedAt: parseTime(created),
		})
	}
	return out, rows.Err()
}

// =============================================================================
// BADGE STORE
// =============================================================================

func (s *Store) SaveBadge(ctx context.Context, b engine.Badge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	skills, err := json.Marshal(b.Skills)
	if err != nil {
		return err
	}
	levels, err := json.Marshal(b.LevelRequirements)
	if err != nil {
		return err
	}
	var start, end sql.NullString
	if b.StartDate != nil {
		start = sql.NullString{String: formatTime(*b.StartDate), Valid: true}
	}
	if b.EndDate != nil {
		end = sql.NullString{String: formatTime(*b.EndDate), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO badges
			(project_id, badge_id, name, enabled, is_global, start_date, end_date, skills_json, level_reqs_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, badge_id) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			is_global = excluded.is_global,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			skills_json = excluded.skills_json,
			level_reqs_json = excluded.level_reqs_json`,
		string(b.ProjectID), string(b.BadgeID), b.Name, boolToInt(b.Enabled), boolToInt(b.Global),
		start, end, string(skills), string(levels))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) GetBadge(ctx context.Context, projectID engine.ProjectID, badgeID engine.BadgeID) (*engine.Badge, error) {
	badges, err := s.queryBadges(ctx, `
		SELECT project_id, badge_id, name, enabled, is_global, start_date, end_date, skills_json, level_reqs_json
		FROM badges WHERE project_id = ? AND badge_id = ?`,
		string(projectID), string(badgeID))
	if err != nil {
		return nil, err
	}
	if len(badges) == 0 {
		return nil, engine.ErrBadgeNotFound
	}
	return &badges[0], nil
}

func (s *Store) ListBadges(ctx context.Context, projectID engine.ProjectID) ([]engine.Badge, error) {
	return s.queryBadges(ctx, `
		SELECT project_id, badge_id, name, enabled, is_global, start_date, end_date, skills_json, level_reqs_json
		FROM badges WHERE project_id = ? AND is_global = 0 ORDER BY badge_id`,
		string(projectID))
}

func (s *Store) ListGlobal(ctx context.Context) ([]engine.Badge, error) {
	return s.queryBadges(ctx, `
		SELECT project_id, badge_id, name, enabled, is_global, start_date, end_date, skills_json, level_reqs_json
		FROM badges WHERE is_global = 1 ORDER BY badge_id`)
}

func (s *Store) queryBadges(ctx context.Context, query string, args ...any) ([]engine.Badge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Badge
	for rows.Next() {
		var b engine.Badge
		var proj, badge string
		var enabled, global int
		var start, end, skillsJSON, levelsJSON sql.NullString
		if err := rows.Scan(&proj, &badge, &b.Name, &enabled, &global, &start, &end, &skillsJSON, &levelsJSON); err != nil {
			return nil, err
		}
		b.ProjectID = engine.ProjectID(proj)
		b.BadgeID = engine.BadgeID(badge)
		b.Enabled = enabled == 1
		b.Global = global == 1
		if start.Valid {
			t := parseTime(start.String)
			b.StartDate = &t
		}
		if end.Valid {
			t := parseTime(end.String)
			b.EndDate = &t
		}
		if skillsJSON.Valid && skillsJSON.String != "" {
			if err := json.Unmarshal([]byte(skillsJSON.String), &b.Skills); err != nil {
				return nil, err
			}
		}
		if levelsJSON.Valid && levelsJSON.String != "" {
			if err := json.Unmarshal([]byte(levelsJSON.String), &b.LevelRequirements); err != nil {
				return nil, err
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// APPROVAL STORE
// =============================================================================

func (s *Store) SaveApproval(ctx context.Context, req engine.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_requests
			(id, user_id, project_id, skill_id, requested_points, requested_at, message, state, rejection_message, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			rejection_message = excluded.rejection_message`,
		req.ID, string(req.UserID), string(req.Skill.ProjectID), string(req.Skill.SkillID),
		req.RequestedPoints, formatTime(req.RequestedAt), req.Message,
		string(req.State), req.RejectionMessage, formatTime(req.SubmittedAt))
	return err
}

func (s *Store) GetApproval(ctx context.Context, id string) (*engine.ApprovalRequest, error) {
	reqs, err := s.queryApprovals(ctx, `
		SELECT id, user_id, project_id, skill_id, requested_points, requested_at, message, state, rejection_message, submitted_at
		FROM approval_requests WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, &engine.ValidationError{Field: "approvalId", Message: "approval request not found"}
	}
	return &reqs[0], nil
}

func (s *Store) DeleteApproval(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM approval_requests WHERE id = ?`, id)
	return err
}

func (s *Store) FindOpen(ctx context.Context, userID engine.UserID, ref engine.SkillRef) (*engine.ApprovalRequest, error) {
	reqs, err := s.queryApprovals(ctx, `
		SELECT id, user_id, project_id, skill_id, requested_points, requested_at, message, state, rejection_message, submitted_at
		FROM approval_requests
		WHERE user_id = ? AND project_id = ? AND skill_id = ? AND state = ?`,
		string(userID), string(ref.ProjectID), string(ref.SkillID), string(engine.ApprovalPending))
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	return &reqs[0], nil
}

func (s *Store) ListPending(ctx context.Context, projectID engine.ProjectID) ([]engine.ApprovalRequest, error) {
	return s.queryApprovals(ctx, `
		SELECT id, user_id, project_id, skill_id, requested_points, requested_at, message, state, rejection_message, submitted_at
		FROM approval_requests
		WHERE project_id = ? AND state = ?
		ORDER BY submitted_at ASC`,
		string(projectID), string(engine.ApprovalPending))
}

func (s *Store) queryApprovals(ctx context.Context, query string, args ...any) ([]engine.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.ApprovalRequest
	for rows.Next() {
		var req engine.ApprovalRequest
		var user, proj, skill, requestedAt, state, submittedAt string
		var message, rejection sql.NullString
		if err := rows.Scan(&req.ID, &user, &proj, &skill, &req.RequestedPoints,
			&requestedAt, &message, &state, &rejection, &submittedAt); err != nil {
			return nil, err
		}
		req.UserID = engine.UserID(user)
		req.Skill = engine.SkillRef{ProjectID: engine.ProjectID(proj), SkillID: engine.SkillID(skill)}
		req.RequestedAt = parseTime(requestedAt)
		req.Message = message.String
		req.State = engine.ApprovalState(state)
		req.RejectionMessage = rejection.String
		req.SubmittedAt = parseTime(submittedAt)
		out = append(out, req)
	}
	return out, rows.Err()
}

// =============================================================================
// LEVEL STORE
// =============================================================================

func (s *Store) GetThresholds(ctx context.Context, projectID engine.ProjectID, subjectID engine.SubjectID) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT thresholds_json FROM level_thresholds WHERE project_id = ? AND subject_id = ?`,
		string(projectID), string(subjectID)).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []int
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveThresholds(ctx context.Context, projectID engine.ProjectID, subjectID engine.SubjectID, thresholds []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(thresholds)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO level_thresholds (project_id, subject_id, thresholds_json)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id, subject_id) DO UPDATE SET thresholds_json = excluded.thresholds_json`,
		string(projectID), string(subjectID), string(raw))
	return err
}

// =============================================================================
// CELEBRATION STORE
// =============================================================================

func (s *Store) Dismiss(ctx context.Context, userID engine.UserID, scopeKey string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO celebration_dismissals (user_id, scope_key, level) VALUES (?, ?, ?)`,
		string(userID), scopeKey, level)
	return err
}

func (s *Store) IsDismissed(ctx context.Context, userID engine.UserID, scopeKey string, level int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM celebration_dismissals WHERE user_id = ? AND scope_key = ? AND level = ?`,
		string(userID), scopeKey, level).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// EXPIRATION RUN STORE
// =============================================================================

func (s *Store) RecordExpiration(ctx context.Context, rec engine.ExpirationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO expiration_runs
			(id, user_id, project_id, skill_id, points_removed, expired_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.UserID), string(rec.Skill.ProjectID), string(rec.Skill.SkillID),
		rec.PointsRemoved.Int(), formatTime(rec.ExpiredAt), formatTime(rec.RecordedAt))
	return err
}

func (s *Store) HasExpiration(ctx context.Context, userID engine.UserID, ref engine.SkillRef, expiredAt time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM expiration_runs
		WHERE user_id = ? AND project_id = ? AND skill_id = ? AND expired_at = ?`,
		string(userID), string(ref.ProjectID), string(ref.SkillID), formatTime(expiredAt)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListExpirations(ctx context.Context, projectID engine.ProjectID, limit int) ([]engine.ExpirationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, project_id, skill_id, points_removed, expired_at, recorded_at
		FROM expiration_runs WHERE project_id = ?
		ORDER BY expired_at DESC LIMIT ?`,
		string(projectID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.ExpirationRecord
	for rows.Next() {
		var rec engine.ExpirationRecord
		var user, proj, skill, expiredAt, recordedAt string
		var points int
		if err := rows.Scan(&rec.ID, &user, &proj, &skill, &points, &expiredAt, &recordedAt); err != nil {
			return nil, err
		}
		rec.UserID = engine.UserID(user)
		rec.Skill = engine.SkillRef{ProjectID: engine.ProjectID(proj), SkillID: engine.SkillID(skill)}
		rec.PointsRemoved = engine.NewPoints(points)
		rec.ExpiredAt = parseTime(expiredAt)
		rec.RecordedAt = parseTime(recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
