// Package repository coordinates writes and queries across the relational,
// vector and graph adapters. The relational store is the anchor: a write is
// durable once it lands there, and the secondary indexes are reconciled
// afterwards, degrading gracefully when one of them fails.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amelabs/ame/internal/graph"
	"github.com/amelabs/ame/internal/memory"
	"github.com/amelabs/ame/internal/storage"
	"github.com/amelabs/ame/internal/vector"
)

// DocumentStore is the relational anchor for documents.
type DocumentStore interface {
	UpsertDocument(doc memory.Document) error
	DeleteDocument(id string) error
	GetDocument(id string) (memory.Document, error)
	ScanDocuments(filter storage.ScanFilter, fn func(memory.Document) error) error
}

// VectorIndex stores embeddings and answers similarity queries.
type VectorIndex interface {
	Upsert(id string, embedding []float32, metadata map[string]string) error
	Delete(id string) error
	Query(embedding []float32, topK int) ([]vector.Hit, error)
}

// GraphStore stores relation edges and answers relatedness queries.
type GraphStore interface {
	Upsert(id, content string, links []graph.Link) error
	Delete(id string) error
	Query(key string, depth int) ([]graph.Hit, error)
}

// Embedder converts text to an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tunes retry and search behaviour.
type Options struct {
	// VectorWeight and GraphWeight blend the two search legs. They must not
	// both be zero.
	VectorWeight float64
	GraphWeight  float64
	// GraphDepth bounds graph traversal during search.
	GraphDepth int
	// MaxRetries bounds anchor-write retries on transient adapter errors.
	MaxRetries int
	// RetryBackoff is the base delay between anchor-write retries.
	RetryBackoff time.Duration
}

// DefaultOptions returns the standard repository tuning.
func DefaultOptions() Options {
	return Options{
		VectorWeight: 0.5,
		GraphWeight:  0.5,
		GraphDepth:   2,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Result is a single search result: the hydrated document and its fused
// relevance score in [0,1].
type Result struct {
	Document memory.Document `json:"document"`
	Score    float64         `json:"score"`
}

// Repository is the hybrid storage facade over the three adapters.
type Repository struct {
	docs     DocumentStore
	vectors  VectorIndex
	graphs   GraphStore
	embedder Embedder
	opts     Options
	logger   *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	// writeback tracks async access-time updates spawned by Search.
	writeback sync.WaitGroup
}

// New creates a Repository. The embedder may be nil, in which case vector
// search is skipped and documents arriving without an embedding are stored
// relational-only with a degraded marker.
func New(docs DocumentStore, vectors VectorIndex, graphs GraphStore, embedder Embedder, opts Options, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		docs:     docs,
		vectors:  vectors,
		graphs:   graphs,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Upsert stores a document across all adapters. A missing id is assigned, a
// missing temperature defaults to HOT, and missing timestamps default to now.
// The relational write is retried on transient errors and must succeed; a
// failed vector or graph write marks the document degraded instead of failing
// the call. The stored document is returned.
func (r *Repository) Upsert(ctx context.Context, doc memory.Document) (memory.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if doc.Temperature == "" {
		doc.Temperature = memory.Hot
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.LastAccessedAt.IsZero() {
		doc.LastAccessedAt = doc.CreatedAt
	}
	if err := doc.Validate(); err != nil {
		return memory.Document{}, err
	}

	var degraded []string
	if len(doc.Embedding) == 0 {
		if r.embedder == nil {
			degraded = append(degraded, "vector")
		} else if vec, err := r.embedder.Embed(ctx, doc.Content); err != nil {
			r.logger.Warn("embedding failed, document degraded", "id", doc.ID, "error", err)
			degraded = append(degraded, "vector")
		} else {
			doc.Embedding = vec
		}
	}

	// A successful full write clears any stale degraded marker.
	delete(doc.Metadata, memory.MetaDegraded)

	if err := r.anchorWrite(ctx, doc); err != nil {
		return memory.Document{}, err
	}

	if len(doc.Embedding) > 0 {
		if err := r.vectors.Upsert(doc.ID, doc.Embedding, doc.Metadata); err != nil {
			r.logger.Warn("vector index write failed, document degraded", "id", doc.ID, "error", err)
			degraded = append(degraded, "vector")
		}
	}
	if err := r.graphs.Upsert(doc.ID, doc.Content, parseLinks(doc)); err != nil {
		r.logger.Warn("graph store write failed, document degraded", "id", doc.ID, "error", err)
		degraded = append(degraded, "graph")
	}

	if len(degraded) > 0 {
		doc.SetMeta(memory.MetaDegraded, strings.Join(degraded, ","))
		if err := r.docs.UpsertDocument(doc); err != nil {
			r.logger.Error("recording degraded marker failed", "id", doc.ID, "error", err)
		}
	}
	return doc, nil
}

// anchorWrite performs the relational write with bounded retries on
// transient adapter errors.
func (r *Repository) anchorWrite(ctx context.Context, doc memory.Document) error {
	var err error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.opts.RetryBackoff * time.Duration(attempt)):
			}
		}
		err = r.docs.UpsertDocument(doc)
		if err == nil {
			return nil
		}
		if !memory.IsTransient(err) {
			return err
		}
		r.logger.Warn("anchor write failed, retrying", "id", doc.ID, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("anchor write for %s exhausted retries: %w", doc.ID, err)
}

// Delete removes a document from all adapters. Each adapter is attempted
// even if an earlier one fails; the first error is returned.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("empty document id: %w", memory.ErrInvalidArgument)
	}
	var first error
	if err := r.docs.DeleteDocument(id); err != nil {
		first = err
	}
	if err := r.vectors.Delete(id); err != nil && first == nil {
		first = err
	}
	if err := r.graphs.Delete(id); err != nil && first == nil {
		first = err
	}
	return first
}

// GetByID returns the document from the relational anchor.
func (r *Repository) GetByID(ctx context.Context, id string) (memory.Document, error) {
	return r.docs.GetDocument(id)
}

// ScanAll streams documents from the relational anchor, optionally filtered
// by temperature.
func (r *Repository) ScanAll(filter storage.ScanFilter, fn func(memory.Document) error) error {
	return r.docs.ScanDocuments(filter, fn)
}

// Close waits for outstanding async access-time writebacks to finish.
func (r *Repository) Close() {
	r.writeback.Wait()
}

// parseLinks derives graph links from the document's refs metadata, a
// comma-separated list of related document ids.
func parseLinks(doc memory.Document) []graph.Link {
	refs := doc.Metadata[memory.MetaRefs]
	if refs == "" {
		return nil
	}
	var links []graph.Link
	for _, target := range strings.Split(refs, ",") {
		target = strings.TrimSpace(target)
		if target == "" || target == doc.ID {
			continue
		}
		links = append(links, graph.Link{Target: target, Relation: "refs", Weight: 1.0})
	}
	return links
}
