// Package chromem provides a vector driver backed by chromem-go, a pure Go
// embedded vector database. Useful where the cgo sqlite-vec driver is not an
// option; persistence is optional via a filesystem path.
package chromem

import (
	"context"
	"fmt"
	"time"

	chromemgo "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/vector"
)

const (
	// DefaultCollectionName is the single shared collection. Owner isolation
	// is enforced by a metadata filter at query time, not by per-owner
	// collections, so the index stays cheap to operate.
	DefaultCollectionName = "engram"

	// typeOversample is applied when a type filter is present, since
	// chromem's where clause only supports equality and type filtering
	// happens after the similarity query.
	typeOversample = 8
)

// ChromemDriver implements vector.Driver using chromem-go.
type ChromemDriver struct {
	db         *chromemgo.DB
	collection *chromemgo.Collection
	logger     *zap.Logger
}

// Config holds configuration for the chromem driver.
type Config struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path string

	// CollectionName overrides DefaultCollectionName when set.
	CollectionName string
}

// NewChromemDriver creates a new chromem-backed vector driver.
func NewChromemDriver(c Config, logger *zap.Logger) (*ChromemDriver, error) {
	var db *chromemgo.DB
	var err error

	if c.Path != "" {
		db, err = chromemgo.NewPersistentDB(c.Path, false)
		if err != nil {
			return nil, fmt.Errorf("opening persistent chromem db: %w", err)
		}
	} else {
		db = chromemgo.NewDB()
	}

	name := c.CollectionName
	if name == "" {
		name = DefaultCollectionName
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	collection, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("creating collection %q: %w", name, err)
	}

	logger.Info("chromem vector driver initialized",
		zap.String("path", c.Path),
		zap.String("collection", name),
	)

	return &ChromemDriver{
		db:         db,
		collection: collection,
		logger:     logger,
	}, nil
}

// Add stores documents with their embeddings.
func (d *ChromemDriver) Add(ctx context.Context, docs []vector.Document) error {
	for _, doc := range docs {
		if doc.OwnerID == "" {
			return fmt.Errorf("document %s: %w", doc.ID, vector.ErrOwnerRequired)
		}

		err := d.collection.AddDocument(ctx, chromemgo.Document{
			ID: doc.ID,
			// chromem requires non-empty content; the id stands in because
			// text is authoritative in the structured store.
			Content:   doc.ID,
			Embedding: doc.Embedding,
			Metadata: map[string]string{
				"owner_id":   doc.OwnerID,
				"type":       doc.Type,
				"created_at": doc.CreatedAt.UTC().Format(time.RFC3339Nano),
			},
		})
		if err != nil {
			return fmt.Errorf("adding document %s: %w", doc.ID, err)
		}
	}

	d.logger.Debug("added documents to chromem",
		zap.Int("count", len(docs)),
	)

	return nil
}

// Query finds the topK most similar documents matching the filter.
func (d *ChromemDriver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.QueryResult, error) {
	if filter.OwnerID == "" {
		return nil, vector.ErrOwnerRequired
	}

	if topK <= 0 {
		topK = 10
	}

	count := d.collection.Count()
	if count == 0 {
		return nil, nil
	}

	n := topK
	if len(filter.Types) > 0 {
		n = topK * typeOversample
	}
	if n > count {
		n = count
	}

	where := map[string]string{"owner_id": filter.OwnerID}

	res, err := d.collection.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem: %w", err)
	}

	wantType := make(map[string]bool, len(filter.Types))
	for _, t := range filter.Types {
		wantType[t] = true
	}

	results := make([]vector.QueryResult, 0, topK)
	for _, r := range res {
		docType := r.Metadata["type"]
		if len(wantType) > 0 && !wantType[docType] {
			continue
		}

		ts, _ := time.Parse(time.RFC3339Nano, r.Metadata["created_at"])

		results = append(results, vector.QueryResult{
			Document: vector.Document{
				ID:        r.ID,
				OwnerID:   r.Metadata["owner_id"],
				Type:      docType,
				CreatedAt: ts,
				Embedding: r.Embedding,
			},
			Score: r.Similarity,
		})

		if len(results) >= topK {
			break
		}
	}

	d.logger.Debug("queried chromem",
		zap.String("owner_id", filter.OwnerID),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// Delete removes documents by their IDs.
func (d *ChromemDriver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := d.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}

	d.logger.Debug("deleted documents from chromem",
		zap.Int("count", len(ids)),
	)

	return nil
}

// Close releases resources held by the driver.
func (d *ChromemDriver) Close() error {
	return nil
}

var _ vector.Driver = (*ChromemDriver)(nil)
