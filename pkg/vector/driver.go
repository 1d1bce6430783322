// Package vector provides interfaces and implementations for the derived
// vector index over memory records.
//
// The index is shared across all owners and partitioned logically by an
// owner filter at query time, never by separate physical indices. Every
// query must carry an owner id; an unfiltered cross-owner query is a
// correctness bug, not just a privacy concern. The index is rebuildable from
// the structured store and never authoritative on its own.
package vector

import (
	"context"
	"time"
)

// Document represents a stored item with its embedding and filterable metadata.
type Document struct {
	// ID is the record id this embedding belongs to.
	ID string

	// OwnerID scopes the document to an owner. Required.
	OwnerID string

	// Type is the record type (summary, journal, observation, raw_chunk).
	Type string

	// CreatedAt is the record creation time, used for recency tie-breaks.
	CreatedAt time.Time

	// Embedding is the vector representation of the document content.
	Embedding []float32
}

// Filter restricts query results. OwnerID is mandatory; Types is optional.
type Filter struct {
	OwnerID string
	Types   []string
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	Document

	// Score represents the similarity score (higher = more similar).
	Score float32
}

// Driver handles storage and retrieval of vector embeddings.
type Driver interface {
	// Add stores documents with their embeddings.
	// If a document with the same ID already exists, implementers should
	// update the document.
	Add(ctx context.Context, docs []Document) error

	// Query finds the topK most similar documents to the given embedding,
	// restricted by the filter. Returns ErrOwnerRequired when the filter
	// has no owner id.
	Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]QueryResult, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}
