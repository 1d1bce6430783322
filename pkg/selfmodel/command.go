package selfmodel

import (
	"context"
	"fmt"

	"github.com/engramlabs/engram/pkg/memory"
)

// Command is the closed set of self-model mutations. Agent tool calls are
// parsed into one of these instead of invoking arbitrary operations, so the
// mutation surface stays enumerable and testable.
type Command interface {
	isCommand()
}

// AddNodeCommand creates a proposed node.
type AddNodeCommand struct {
	Type       memory.NodeType
	Content    string
	Confidence float64
}

// AddEdgeCommand links two nodes.
type AddEdgeCommand struct {
	From     string
	To       string
	Relation memory.RelationType
}

// AddEvidenceCommand attaches an evidence ref to a node.
type AddEvidenceCommand struct {
	NodeID string
	Ref    string
}

// SupersedeCommand retires a node in favor of a replacement.
type SupersedeCommand struct {
	OldID      string
	Type       memory.NodeType
	Content    string
	Confidence float64
}

func (AddNodeCommand) isCommand()     {}
func (AddEdgeCommand) isCommand()     {}
func (AddEvidenceCommand) isCommand() {}
func (SupersedeCommand) isCommand()   {}

// Result carries whatever a command produced: the new node for AddNode and
// Supersede, the new edge for AddEdge, nothing for AddEvidence.
type Result struct {
	Node *memory.Node
	Edge *memory.Edge
}

// Apply dispatches a command against the graph.
func (g *Graph) Apply(ctx context.Context, cmd Command) (*Result, error) {
	switch c := cmd.(type) {
	case AddNodeCommand:
		n, err := g.AddNode(ctx, c.Type, c.Content, c.Confidence)
		if err != nil {
			return nil, err
		}
		return &Result{Node: n}, nil

	case AddEdgeCommand:
		e, err := g.AddEdge(ctx, c.From, c.To, c.Relation)
		if err != nil {
			return nil, err
		}
		return &Result{Edge: e}, nil

	case AddEvidenceCommand:
		if err := g.AddEvidence(ctx, c.NodeID, c.Ref); err != nil {
			return nil, err
		}
		return &Result{}, nil

	case SupersedeCommand:
		n, err := g.Supersede(ctx, c.OldID, c.Type, c.Content, c.Confidence)
		if err != nil {
			return nil, err
		}
		return &Result{Node: n}, nil

	default:
		return nil, fmt.Errorf("%w: unknown command %T", memory.ErrInvalidInput, cmd)
	}
}
