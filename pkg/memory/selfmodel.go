package memory

import "time"

// NodeType classifies self-model graph nodes.
type NodeType string

const (
	NodeIdentityCore NodeType = "identity_core"
	NodeCapability   NodeType = "capability"
	NodeLimitation   NodeType = "limitation"
	NodeGrowthEdge   NodeType = "growth_edge"
	NodeRelationship NodeType = "relationship"
	NodeObservation  NodeType = "observation"
	NodePreference   NodeType = "preference"
)

// NodeState is the lifecycle state of a self-model node.
// Transitions only move forward: proposed → grounded → superseded.
type NodeState string

const (
	StateProposed   NodeState = "proposed"
	StateGrounded   NodeState = "grounded"
	StateSuperseded NodeState = "superseded"
)

// RelationType classifies self-model edges.
type RelationType string

const (
	RelationSupports    RelationType = "supports"
	RelationContradicts RelationType = "contradicts"
	RelationEvolvesFrom RelationType = "evolves_from"
)

// Node is a typed identity claim in the self-model graph. EvidenceRefs point
// at concrete stored records (messages, observations) grounding the claim; a
// node with no refs is aspirational. Superseded nodes are retained, never
// erased.
type Node struct {
	ID           string    `json:"id"`
	Type         NodeType  `json:"type"`
	Content      string    `json:"content"`
	Confidence   float64   `json:"confidence"`
	State        NodeState `json:"state"`
	SupersededBy string    `json:"superseded_by,omitempty"`
	EvidenceRefs []string  `json:"evidence_refs,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Edge is a typed relation between two self-model nodes. Nodes are referenced
// by opaque id; traversal is by lookup, never by in-memory pointer.
type Edge struct {
	ID        string       `json:"id"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Relation  RelationType `json:"relation"`
	CreatedAt time.Time    `json:"created_at"`
}
