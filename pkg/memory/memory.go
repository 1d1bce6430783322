// Package memory defines the domain model for the engram memory hierarchy.
//
// The hierarchy runs working context → recent messages → summaries →
// vector-indexed history → journals. Structured records in pkg/storage are
// authoritative; the vector index is derived and rebuildable. Types here are
// plain data with no behavior so every layer can share them without import
// cycles.
package memory

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Conversation is an ordered sequence of messages owned by a single user.
// Conversations are mutated by turn-append only and archived, never deleted.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	Archived  bool      `json:"archived,omitempty"`
}

// Message is a single conversation turn. Messages are immutable once written;
// Seq is assigned by the store on append and is strictly increasing per
// conversation with no gaps.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int       `json:"seq"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	TokenCount     int       `json:"token_count"`
	Model          string    `json:"model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary is a derived artifact replacing a contiguous message range
// [StartSeq, EndSeq] in the hot context. Ranges of a conversation's summaries
// partition the compacted history: they never overlap.
type Summary struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	StartSeq       int       `json:"start_seq"`
	EndSeq         int       `json:"end_seq"`
	Text           string    `json:"text"`
	TokenCount     int       `json:"token_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordType classifies entries in the vector-indexed record store.
type RecordType string

const (
	RecordSummary     RecordType = "summary"
	RecordJournal     RecordType = "journal"
	RecordObservation RecordType = "observation"
	RecordRawChunk    RecordType = "raw_chunk"
)

// Record is the generalization of summary/journal/observation/raw-chunk
// entries indexed for semantic retrieval. A record is queryable only once its
// embedding has been written to the vector index.
type Record struct {
	ID        string            `json:"id"`
	Type      RecordType        `json:"type"`
	Text      string            `json:"text"`
	OwnerID   string            `json:"owner_id"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Journal is a one-per-day-per-owner artifact written by the consolidation
// job. Regeneration for a date replaces the journal wholesale.
type Journal struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Observation is an append-only, categorized note about a user from the
// agent's perspective.
type Observation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the small structured record describing a user.
type Profile struct {
	OwnerID            string    `json:"owner_id"`
	Background         string    `json:"background,omitempty"`
	CommunicationStyle string    `json:"communication_style,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}
