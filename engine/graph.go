/*
graph.go - Learning path prerequisite graph

PURPOSE:
  A directed graph of prerequisite edges between skills and badges,
  possibly crossing project boundaries through shared skills. Nodes are
  {projectId, refId, kind} value keys in an explicit adjacency map, so
  a cross-project edge is just a foreign key with no ownership
  ambiguity.

INVARIANTS:
  - The graph is a DAG. Cycle creation is rejected at edit time with
    CycleDetectedError, never resolved lazily at evaluation time.
  - A node unlocks only when ALL its prerequisites are achieved.
  - Cross-project edges may only target skills explicitly shared to the
    consuming project.

TRAVERSAL:
  Reads expand a bounded depth from a focal node rather than loading
  the whole graph; the breadcrumb UI drills down one expansion at a
  time.
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// NODE REFERENCES
// =============================================================================

type NodeKind string

const (
	NodeSkill NodeKind = "SKILL"
	NodeBadge NodeKind = "BADGE"
)

// NodeRef is the value key of a graph node. Two projects may reuse the
// same RefID; the pair disambiguates.
type NodeRef struct {
	ProjectID ProjectID
	RefID     string
	Kind      NodeKind
}

func (n NodeRef) String() string {
	return string(n.Kind) + ":" + string(n.ProjectID) + "/" + n.RefID
}

func SkillNode(ref SkillRef) NodeRef {
	return NodeRef{ProjectID: ref.ProjectID, RefID: string(ref.SkillID), Kind: NodeSkill}
}

func BadgeNode(projectID ProjectID, badgeID BadgeID) NodeRef {
	return NodeRef{ProjectID: projectID, RefID: string(badgeID), Kind: NodeBadge}
}

func (n NodeRef) skillRef() SkillRef {
	return SkillRef{ProjectID: n.ProjectID, SkillID: SkillID(n.RefID)}
}

// =============================================================================
// LEARNING PATH
// =============================================================================

type LearningPath struct {
	Edges     EdgeStore
	Defs      DefinitionStore
	Agg       *Aggregator
	BadgeEval *BadgeEvaluator
}

// AddPrerequisite records "to must be achieved before from unlocks".
// Rejects unknown refs, unshared cross-project targets, and any edge
// that would close a cycle.
func (lp *LearningPath) AddPrerequisite(ctx context.Context, st Settings, from, to NodeRef, now time.Time) error {
	if st.MaintenanceMode {
		return ErrMaintenanceMode
	}
	if from == to {
		return &ValidationError{Field: "prerequisite", Message: "a node cannot depend on itself"}
	}
	if err := lp.validateNode(ctx, from); err != nil {
		return err
	}
	if err := lp.validateNode(ctx, to); err != nil {
		return err
	}

	// Cross-project skill targets must have been shared to the
	// consuming project.
	if to.Kind == NodeSkill && to.ProjectID != from.ProjectID {
		def, err := lp.Defs.GetSkill(ctx, to.skillRef())
		if err != nil {
			return err
		}
		if !def.SharedTo(from.ProjectID) {
			return ErrNotShared
		}
	}

	if path, cyclic := lp.wouldCycle(ctx, from, to); cyclic {
		return &CycleDetectedError{From: from, To: to, Path: path}
	}

	return lp.Edges.SaveEdge(ctx, LearningPathEdge{From: from, To: to, CreatedAt: now.UTC()})
}

// RemovePrerequisite deletes an edge. Removing edges cannot create
// cycles, so no validation beyond maintenance mode.
func (lp *LearningPath) RemovePrerequisite(ctx context.Context, st Settings, from, to NodeRef) error {
	if st.MaintenanceMode {
		return ErrMaintenanceMode
	}
	return lp.Edges.DeleteEdge(ctx, from, to)
}

func (lp *LearningPath) validateNode(ctx context.Context, n NodeRef) error {
	switch n.Kind {
	case NodeSkill:
		_, err := lp.Defs.GetSkill(ctx, n.skillRef())
		return err
	case NodeBadge:
		_, err := lp.BadgeEval.Badges.GetBadge(ctx, n.ProjectID, BadgeID(n.RefID))
		return err
	default:
		return &ValidationError{Field: "kind", Message: "unknown node kind"}
	}
}

// wouldCycle checks whether from is reachable from to in the current
// graph; if so, adding from -> to closes a cycle. Plain DFS over the
// adjacency map with path tracking for the error message.
func (lp *LearningPath) wouldCycle(ctx context.Context, from, to NodeRef) ([]NodeRef, bool) {
	edges, err := lp.Edges.AllEdges(ctx)
	if err != nil {
		// Fail closed: treat an unreadable graph as cyclic so a broken
		// store cannot admit a bad edge.
		return nil, true
	}

	adjacency := make(map[NodeRef][]NodeRef, len(edges))
	for _, e := range edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	visited := make(map[NodeRef]bool)
	var path []NodeRef
	var dfs func(n NodeRef) bool
	dfs = func(n NodeRef) bool {
		if n == from {
			path = append(path, n)
			return true
		}
		if visited[n] {
			return false
		}
		visited[n] = true
		path = append(path, n)
		for _, next := range adjacency[n] {
			if dfs(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if dfs(to) {
		return path, true
	}
	return nil, false
}

// =============================================================================
// UNLOCK EVALUATION
// =============================================================================

type UnlockStatus struct {
	Unlocked       bool
	SatisfiedCount int
	TotalCount     int

	// EarnedBeforePrereq marks the informational state where the user
	// earned points on the node before a prerequisite was retroactively
	// added. The UI shows this distinctly, not as "locked".
	EarnedBeforePrereq bool
}

// Unlocked evaluates a node's prerequisites for a user. A node with no
// prerequisites is always unlocked.
func (lp *LearningPath) Unlocked(ctx context.Context, node NodeRef, userID UserID, now time.Time) (UnlockStatus, error) {
	edges, err := lp.Edges.EdgesFrom(ctx, node)
	if err != nil {
		return UnlockStatus{}, err
	}

	status := UnlockStatus{TotalCount: len(edges)}
	var unsatisfiedAddedAt []time.Time

	for _, e := range edges {
		achieved, err := lp.achieved(ctx, e.To, userID, now)
		if err != nil {
			return UnlockStatus{}, err
		}
		if achieved {
			status.SatisfiedCount++
		} else {
			unsatisfiedAddedAt = append(unsatisfiedAddedAt, e.CreatedAt)
		}
	}
	status.Unlocked = status.SatisfiedCount == status.TotalCount

	if !status.Unlocked && node.Kind == NodeSkill {
		state, err := lp.Agg.SkillState(ctx, userID, node.skillRef(), now)
		if err == nil && state.TotalPoints.IsPositive() {
			before := true
			for _, added := range unsatisfiedAddedAt {
				if !state.LastEventAt.Before(added) {
					before = false
					break
				}
			}
			status.EarnedBeforePrereq = before
		}
	}
	return status, nil
}

// achieved resolves a prerequisite against the target project's own
// state, including shared skills that are not otherwise visible.
func (lp *LearningPath) achieved(ctx context.Context, node NodeRef, userID UserID, now time.Time) (bool, error) {
	switch node.Kind {
	case NodeSkill:
		state, err := lp.Agg.SkillState(ctx, userID, node.skillRef(), now)
		if err != nil {
			return false, err
		}
		return state.Completed, nil
	case NodeBadge:
		return lp.BadgeEval.Earned(ctx, node.ProjectID, BadgeID(node.RefID), userID, now)
	default:
		return false, nil
	}
}

// =============================================================================
// BOUNDED-DEPTH EXPANSION
// =============================================================================

type GraphNode struct {
	Ref    NodeRef
	Name   string
	Status UnlockStatus

	// Set when the node belongs to a different project than the focal
	// node ("Shared From Project X" attribution).
	SharedFromProject ProjectID
}

type GraphEdge struct {
	From NodeRef
	To   NodeRef
}

type GraphView struct {
	Focal NodeRef
	Nodes []GraphNode
	Edges []GraphEdge
}

// Expand walks prerequisites out to maxDepth from the focal node. Not
// a full-graph load; the UI drills further by re-expanding.
func (lp *LearningPath) Expand(ctx context.Context, focal NodeRef, userID UserID, maxDepth int, now time.Time) (*GraphView, error) {
	view := &GraphView{Focal: focal}
	seen := make(map[NodeRef]bool)

	type frontier struct {
		node  NodeRef
		depth int
	}
	queue := []frontier{{node: focal, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur.node] {
			continue
		}
		seen[cur.node] = true

		node, err := lp.graphNode(ctx, cur.node, focal.ProjectID, userID, now)
		if err != nil {
			return nil, err
		}
		view.Nodes = append(view.Nodes, node)

		if cur.depth >= maxDepth {
			continue
		}
		edges, err := lp.Edges.EdgesFrom(ctx, cur.node)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			view.Edges = append(view.Edges, GraphEdge{From: e.From, To: e.To})
			queue = append(queue, frontier{node: e.To, depth: cur.depth + 1})
		}
	}
	return view, nil
}

func (lp *LearningPath) graphNode(ctx context.Context, ref NodeRef, focalProject ProjectID, userID UserID, now time.Time) (GraphNode, error) {
	status, err := lp.Unlocked(ctx, ref, userID, now)
	if err != nil {
		return GraphNode{}, err
	}
	node := GraphNode{Ref: ref, Status: status}
	if ref.ProjectID != focalProject {
		node.SharedFromProject = ref.ProjectID
	}
	if ref.Kind == NodeSkill {
		if def, err := lp.Defs.GetSkill(ctx, ref.skillRef()); err == nil {
			node.Name = def.Name
		}
	} else if badge, err := lp.BadgeEval.Badges.GetBadge(ctx, ref.ProjectID, BadgeID(ref.RefID)); err == nil {
		node.Name = badge.Name
	}
	return node, nil
}
