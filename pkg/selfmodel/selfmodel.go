// Package selfmodel maintains the typed identity graph: nodes describing
// capabilities, limitations, relationships and preferences, and the edges
// between them.
//
// Node states only move forward: proposed, then grounded once evidence is
// attached, then superseded when replaced. Superseded nodes are retained,
// never erased.
package selfmodel

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/memory"
	"github.com/engramlabs/engram/pkg/storage"
)

var validNodeTypes = map[memory.NodeType]bool{
	memory.NodeIdentityCore: true,
	memory.NodeCapability:   true,
	memory.NodeLimitation:   true,
	memory.NodeGrowthEdge:   true,
	memory.NodeRelationship: true,
	memory.NodeObservation:  true,
	memory.NodePreference:   true,
}

var validRelations = map[memory.RelationType]bool{
	memory.RelationSupports:    true,
	memory.RelationContradicts: true,
	memory.RelationEvolvesFrom: true,
}

// Contradiction is a pair of nodes in tension, either via an explicit
// contradicts edge or by the content heuristic.
type Contradiction struct {
	A      *memory.Node
	B      *memory.Node
	Source string // "edge" or "content"
}

// AuditReport answers "which claimed traits are actually evidenced".
type AuditReport struct {
	Grounded       []*memory.Node
	Aspirational   []*memory.Node
	Superseded     int
	Contradictions []Contradiction
}

// Graph is the self-model over a storage driver.
type Graph struct {
	storage storage.Driver
	logger  *zap.Logger
}

// NewGraph creates a self-model graph over the given driver.
func NewGraph(st storage.Driver, logger *zap.Logger) (*Graph, error) {
	if st == nil {
		return nil, fmt.Errorf("storage driver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Graph{storage: st, logger: logger}, nil
}

// AddNode creates a node in the proposed state.
func (g *Graph) AddNode(ctx context.Context, nodeType memory.NodeType, content string, confidence float64) (*memory.Node, error) {
	if !validNodeTypes[nodeType] {
		return nil, fmt.Errorf("%w: unknown node type %q", memory.ErrInvalidInput, nodeType)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: node content is required", memory.ErrInvalidInput)
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of [0,1]", memory.ErrInvalidInput, confidence)
	}

	n := &memory.Node{
		ID:         uuid.NewString(),
		Type:       nodeType,
		Content:    content,
		Confidence: confidence,
		State:      memory.StateProposed,
	}
	if err := g.storage.PutNode(ctx, n); err != nil {
		return nil, fmt.Errorf("storing node: %w", err)
	}

	return n, nil
}

// AddEdge links two existing nodes.
func (g *Graph) AddEdge(ctx context.Context, from, to string, relation memory.RelationType) (*memory.Edge, error) {
	if !validRelations[relation] {
		return nil, fmt.Errorf("%w: unknown relation %q", memory.ErrInvalidInput, relation)
	}
	if from == to {
		return nil, fmt.Errorf("%w: self-edge on node %s", memory.ErrInvalidInput, from)
	}

	if _, err := g.storage.GetNode(ctx, from); err != nil {
		return nil, fmt.Errorf("loading edge source: %w", err)
	}
	if _, err := g.storage.GetNode(ctx, to); err != nil {
		return nil, fmt.Errorf("loading edge target: %w", err)
	}

	e := &memory.Edge{
		ID:       uuid.NewString(),
		From:     from,
		To:       to,
		Relation: relation,
	}
	if err := g.storage.PutEdge(ctx, e); err != nil {
		return nil, fmt.Errorf("storing edge: %w", err)
	}

	return e, nil
}

// AddEvidence attaches an evidence reference to a node. A proposed node
// becomes grounded on its first evidence; a superseded node keeps its
// evidence for history but never changes state again.
func (g *Graph) AddEvidence(ctx context.Context, nodeID, ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: evidence ref is required", memory.ErrInvalidInput)
	}

	n, err := g.storage.GetNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("loading node: %w", err)
	}

	for _, existing := range n.EvidenceRefs {
		if existing == ref {
			return nil
		}
	}

	n.EvidenceRefs = append(n.EvidenceRefs, ref)
	if n.State == memory.StateProposed {
		n.State = memory.StateGrounded
	}

	if err := g.storage.UpdateNode(ctx, n); err != nil {
		return fmt.Errorf("updating node: %w", err)
	}

	return nil
}

// Supersede retires old in favor of a new node and records the lineage with
// an evolves_from edge. Superseding an already-superseded node is a
// conflict: the chain only moves forward through its newest head.
func (g *Graph) Supersede(ctx context.Context, oldID string, nodeType memory.NodeType, content string, confidence float64) (*memory.Node, error) {
	old, err := g.storage.GetNode(ctx, oldID)
	if err != nil {
		return nil, fmt.Errorf("loading node: %w", err)
	}
	if old.State == memory.StateSuperseded {
		return nil, fmt.Errorf("%w: node %s is already superseded by %s", memory.ErrConflict, oldID, old.SupersededBy)
	}

	replacement, err := g.AddNode(ctx, nodeType, content, confidence)
	if err != nil {
		return nil, err
	}

	old.State = memory.StateSuperseded
	old.SupersededBy = replacement.ID
	if err := g.storage.UpdateNode(ctx, old); err != nil {
		return nil, fmt.Errorf("retiring node: %w", err)
	}

	if _, err := g.AddEdge(ctx, replacement.ID, oldID, memory.RelationEvolvesFrom); err != nil {
		return nil, fmt.Errorf("linking lineage: %w", err)
	}

	g.logger.Info("superseded self-model node",
		zap.String("old", oldID),
		zap.String("new", replacement.ID),
	)

	return replacement, nil
}

// EvidenceCoverage returns the number of evidence refs grounding a node.
func (g *Graph) EvidenceCoverage(ctx context.Context, nodeID string) (int, error) {
	n, err := g.storage.GetNode(ctx, nodeID)
	if err != nil {
		return 0, fmt.Errorf("loading node: %w", err)
	}

	return len(n.EvidenceRefs), nil
}

// Nodes returns nodes matching the filter.
func (g *Graph) Nodes(ctx context.Context, f storage.NodeFilter) ([]*memory.Node, error) {
	return g.storage.Nodes(ctx, f)
}

// FindContradictions reports node pairs in tension. Explicit contradicts
// edges are always reported; on top of that a small content heuristic pairs
// "can X" claims with "cannot X" claims. The heuristic is best-effort:
// content it cannot parse is skipped, never an error.
func (g *Graph) FindContradictions(ctx context.Context) ([]Contradiction, error) {
	nodes, err := g.storage.Nodes(ctx, storage.NodeFilter{})
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}

	byID := make(map[string]*memory.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	var out []Contradiction
	seen := make(map[string]bool)

	edges, err := g.storage.Edges(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("loading edges: %w", err)
	}
	for _, e := range edges {
		if e.Relation != memory.RelationContradicts {
			continue
		}
		a, b := byID[e.From], byID[e.To]
		if a == nil || b == nil {
			continue
		}
		if seen[pairKey(a.ID, b.ID)] {
			continue
		}
		seen[pairKey(a.ID, b.ID)] = true
		out = append(out, Contradiction{A: a, B: b, Source: "edge"})
	}

	// Content heuristic over live nodes only; superseded claims are history.
	var live []*memory.Node
	for _, n := range nodes {
		if n.State != memory.StateSuperseded {
			live = append(live, n)
		}
	}
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			if !contentContradicts(live[i].Content, live[j].Content) {
				continue
			}
			if seen[pairKey(live[i].ID, live[j].ID)] {
				continue
			}
			seen[pairKey(live[i].ID, live[j].ID)] = true
			out = append(out, Contradiction{A: live[i], B: live[j], Source: "content"})
		}
	}

	return out, nil
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// claimPredicate reduces a claim to (negated, subject) when it matches the
// "can X" / "cannot X" shape. Anything else reports ok=false and is excluded
// from contradiction candidates.
func claimPredicate(content string) (negated bool, subject string, ok bool) {
	s := strings.ToLower(strings.TrimSpace(content))
	s = strings.TrimPrefix(s, "i ")

	switch {
	case strings.HasPrefix(s, "cannot "):
		return true, strings.TrimSpace(strings.TrimPrefix(s, "cannot ")), true
	case strings.HasPrefix(s, "can't "):
		return true, strings.TrimSpace(strings.TrimPrefix(s, "can't ")), true
	case strings.HasPrefix(s, "can "):
		return false, strings.TrimSpace(strings.TrimPrefix(s, "can ")), true
	}

	return false, "", false
}

func contentContradicts(a, b string) bool {
	negA, subjA, okA := claimPredicate(a)
	negB, subjB, okB := claimPredicate(b)
	if !okA || !okB {
		return false
	}

	return negA != negB && subjA == subjB && subjA != ""
}

// Audit separates evidenced claims from aspirational ones and surfaces
// current contradictions.
func (g *Graph) Audit(ctx context.Context) (*AuditReport, error) {
	nodes, err := g.storage.Nodes(ctx, storage.NodeFilter{})
	if err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}

	report := &AuditReport{}
	for _, n := range nodes {
		switch {
		case n.State == memory.StateSuperseded:
			report.Superseded++
		case len(n.EvidenceRefs) > 0:
			report.Grounded = append(report.Grounded, n)
		default:
			report.Aspirational = append(report.Aspirational, n)
		}
	}

	contradictions, err := g.FindContradictions(ctx)
	if err != nil {
		return nil, err
	}
	report.Contradictions = contradictions

	return report, nil
}
