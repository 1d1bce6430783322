// Package storage defines the interface for the authoritative structured
// store behind the memory hierarchy. The Driver owns conversations, messages,
// summaries, records, journals, observations, profiles, and the self-model
// graph; the vector index in pkg/vector is derived from records written here
// and is rebuildable from them.
package storage

import (
	"context"

	"github.com/engramlabs/engram/pkg/memory"
)

// RecordFilter restricts ListRecords results.
type RecordFilter struct {
	// OwnerID scopes the listing. Required.
	OwnerID string

	// Types restricts to the given record types when non-empty.
	Types []memory.RecordType

	// Keyword, when set, restricts to records whose text contains it
	// (case-insensitive substring). This is the degraded retrieval path
	// used when the embedding provider is unavailable.
	Keyword string

	// Limit caps the result count. Zero means driver default.
	Limit int
}

// NodeFilter restricts Nodes results.
type NodeFilter struct {
	Types  []memory.NodeType
	States []memory.NodeState
}

// Stats summarizes store contents per tier.
type Stats struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Summaries     int `json:"summaries"`
	Records       int `json:"records"`
	Journals      int `json:"journals"`
	Observations  int `json:"observations"`
	Nodes         int `json:"nodes"`
	Edges         int `json:"edges"`
}

// Driver is the persistence interface for all structured memory records.
//
// AppendMessage is the only write that assigns ordering: it allocates the
// next sequence number under the driver's own serialization, so message
// append order is strict per conversation regardless of caller concurrency.
type Driver interface {
	// CreateConversation stores a new conversation.
	CreateConversation(ctx context.Context, c *memory.Conversation) error

	// GetConversation retrieves a conversation by id.
	GetConversation(ctx context.Context, id string) (*memory.Conversation, error)

	// ListConversations returns all conversations for an owner.
	ListConversations(ctx context.Context, ownerID string) ([]*memory.Conversation, error)

	// Owners returns the distinct owner ids with at least one conversation.
	Owners(ctx context.Context) ([]string, error)

	// AppendMessage stores a message, assigning the next Seq for its
	// conversation. The assigned Seq is written back to m.
	AppendMessage(ctx context.Context, m *memory.Message) error

	// Messages returns a conversation's messages with Seq >= fromSeq,
	// ordered by Seq.
	Messages(ctx context.Context, conversationID string, fromSeq int) ([]*memory.Message, error)

	// MessageRange returns messages with startSeq <= Seq <= endSeq, ordered by Seq.
	MessageRange(ctx context.Context, conversationID string, startSeq, endSeq int) ([]*memory.Message, error)

	// PutSummary stores a summary. Returns memory.ErrConflict if the
	// summary's message range overlaps an existing summary of the same
	// conversation: ranges partition, never overlap.
	PutSummary(ctx context.Context, s *memory.Summary) error

	// UpdateSummary replaces the text and token count of an existing summary.
	UpdateSummary(ctx context.Context, s *memory.Summary) error

	// DeleteSummary removes a summary by id, freeing its message range for a
	// replacement. Returns ErrNotFound when no such summary exists.
	DeleteSummary(ctx context.Context, id string) error

	// Summaries returns a conversation's summaries ordered by StartSeq.
	Summaries(ctx context.Context, conversationID string) ([]*memory.Summary, error)

	// PutRecord stores or replaces a memory record.
	PutRecord(ctx context.Context, r *memory.Record) error

	// GetRecord retrieves a record by id.
	GetRecord(ctx context.Context, id string) (*memory.Record, error)

	// DeleteRecord removes a record by id. Deleting a missing record is not
	// an error.
	DeleteRecord(ctx context.Context, id string) error

	// ListRecords returns records matching the filter, newest first.
	ListRecords(ctx context.Context, f RecordFilter) ([]*memory.Record, error)

	// UpsertJournal stores a journal, replacing any existing journal for the
	// same owner and date wholesale.
	UpsertJournal(ctx context.Context, j *memory.Journal) error

	// Journal retrieves an owner's journal for a date (YYYY-MM-DD).
	Journal(ctx context.Context, ownerID, date string) (*memory.Journal, error)

	// Journals returns all journals for an owner, newest first.
	Journals(ctx context.Context, ownerID string) ([]*memory.Journal, error)

	// AddObservation appends an observation.
	AddObservation(ctx context.Context, o *memory.Observation) error

	// Observations returns an owner's observations, optionally restricted
	// to a category, newest first.
	Observations(ctx context.Context, ownerID, category string) ([]*memory.Observation, error)

	// UpsertProfile stores or replaces an owner's profile.
	UpsertProfile(ctx context.Context, p *memory.Profile) error

	// Profile retrieves an owner's profile.
	Profile(ctx context.Context, ownerID string) (*memory.Profile, error)

	// PutNode stores a new self-model node.
	PutNode(ctx context.Context, n *memory.Node) error

	// UpdateNode rewrites an existing self-model node. Evidence refs only
	// accumulate: refs on n are added, refs already stored are kept.
	UpdateNode(ctx context.Context, n *memory.Node) error

	// GetNode retrieves a self-model node by id.
	GetNode(ctx context.Context, id string) (*memory.Node, error)

	// Nodes returns self-model nodes matching the filter.
	Nodes(ctx context.Context, f NodeFilter) ([]*memory.Node, error)

	// PutEdge stores a self-model edge.
	PutEdge(ctx context.Context, e *memory.Edge) error

	// Edges returns edges touching the given node, or all edges when
	// nodeID is empty.
	Edges(ctx context.Context, nodeID string) ([]*memory.Edge, error)

	// Stats returns per-tier record counts.
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the store and releases any resources.
	Close() error
}
