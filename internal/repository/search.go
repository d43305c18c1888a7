package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/amelabs/ame/internal/graph"
	"github.com/amelabs/ame/internal/memory"
	"github.com/amelabs/ame/internal/vector"
)

// Search runs the vector and graph legs concurrently, fuses their scores and
// returns the top-K hydrated documents. A single failed leg degrades the
// search to the other leg; the call fails only when both legs fail. Returned
// documents get their access time bumped asynchronously, with COLD documents
// rewarmed to WARM.
func (r *Repository) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("empty query: %w", memory.ErrInvalidArgument)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top-k must be positive: %w", memory.ErrInvalidArgument)
	}

	var (
		vecHits   []vector.Hit
		graphHits []graph.Hit
		vecErr    error
		graphErr  error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecHits, vecErr = r.vectorLeg(ctx, query, topK)
		return nil
	})
	g.Go(func() error {
		graphHits, graphErr = r.graphs.Query(query, r.opts.GraphDepth)
		return nil
	})
	g.Wait()

	if vecErr != nil && graphErr != nil {
		return nil, fmt.Errorf("both search legs failed: %w", errors.Join(vecErr, graphErr))
	}
	if vecErr != nil {
		r.logger.Warn("vector leg failed, degrading to graph only", "error", vecErr)
	}
	if graphErr != nil {
		r.logger.Warn("graph leg failed, degrading to vector only", "error", graphErr)
	}

	fused := r.fuse(vecHits, graphHits)
	results := r.hydrate(fused, topK)
	r.touch(results)
	return results, nil
}

// vectorLeg embeds the query and runs the similarity search. With no
// embedder configured, the leg yields no hits.
func (r *Repository) vectorLeg(ctx context.Context, query string, topK int) ([]vector.Hit, error) {
	if r.embedder == nil {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return r.vectors.Query(vec, topK)
}

// fuse normalizes each leg's scores against the leg maximum and blends them
// with the configured weights. Scaling over [0, max] keeps every in-list
// score positive, so a candidate both legs agree on outranks one that a
// single leg scored the same. An id present in only one leg contributes
// zero from the other.
func (r *Repository) fuse(vecHits []vector.Hit, graphHits []graph.Hit) map[string]float64 {
	vecNorm := make(map[string]float64, len(vecHits))
	{
		hi := maxScore(len(vecHits), func(i int) float64 { return vecHits[i].Score })
		for _, h := range vecHits {
			vecNorm[h.ID] = normalize(h.Score, hi)
		}
	}
	graphNorm := make(map[string]float64, len(graphHits))
	{
		hi := maxScore(len(graphHits), func(i int) float64 { return graphHits[i].Score })
		for _, h := range graphHits {
			graphNorm[h.ID] = normalize(h.Score, hi)
		}
	}

	fused := make(map[string]float64, len(vecNorm)+len(graphNorm))
	for id, s := range vecNorm {
		fused[id] += r.opts.VectorWeight * s
	}
	for id, s := range graphNorm {
		fused[id] += r.opts.GraphWeight * s
	}
	return fused
}

// hydrate loads fused candidates from the anchor, drops ids the anchor no
// longer has, orders by score then importance then recency, and truncates
// to topK.
func (r *Repository) hydrate(fused map[string]float64, topK int) []Result {
	results := make([]Result, 0, len(fused))
	for id, score := range fused {
		doc, err := r.docs.GetDocument(id)
		if err != nil {
			if errors.Is(err, memory.ErrNotFound) {
				r.logger.Warn("dropping stale index entry", "id", id, "cause", memory.ErrInconsistent)
				continue
			}
			r.logger.Warn("hydrating search result failed", "id", id, "error", err)
			continue
		}
		results = append(results, Result{Document: doc, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Document.Importance != b.Document.Importance {
			return a.Document.Importance > b.Document.Importance
		}
		if !a.Document.LastAccessedAt.Equal(b.Document.LastAccessedAt) {
			return a.Document.LastAccessedAt.After(b.Document.LastAccessedAt)
		}
		return a.Document.ID < b.Document.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// touch bumps the access time of returned documents in the background. A
// COLD document that gets recalled is rewarmed to WARM.
func (r *Repository) touch(results []Result) {
	now := r.now().UTC()
	for _, res := range results {
		doc := res.Document
		doc.LastAccessedAt = now
		if doc.Temperature == memory.Cold {
			doc.Temperature = memory.Warm
		}
		r.writeback.Add(1)
		go func(doc memory.Document) {
			defer r.writeback.Done()
			if err := r.docs.UpsertDocument(doc); err != nil {
				r.logger.Warn("access-time writeback failed", "id", doc.ID, "error", err)
			}
		}(doc)
	}
}

func maxScore(n int, at func(int) float64) float64 {
	var hi float64
	for i := 0; i < n; i++ {
		if s := at(i); s > hi {
			hi = s
		}
	}
	return hi
}

// normalize scales a score into (0,1] against the list maximum. Negative
// cosine scores clamp to zero; a non-positive maximum maps every score to 1.
func normalize(s, hi float64) float64 {
	if s < 0 {
		s = 0
	}
	if hi <= 0 {
		return 1
	}
	return s / hi
}
