package vector

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/amelabs/ame/internal/memory"
	"github.com/amelabs/ame/internal/storage"
)

// Hit is a single similarity match: a document id and its cosine similarity
// to the query vector, in [-1,1].
type Hit struct {
	ID    string
	Score float64
}

// Index provides embedding storage and brute-force cosine similarity search
// over the document_vectors table.
//
// When the vector count exceeds ~100K and query latency becomes noticeable,
// consider an ANN-capable backend; the adapter surface stays the same.
type Index struct {
	db *sql.DB
}

// NewIndex wraps an existing *sql.DB for vector operations. The
// document_vectors table must already exist (created via migrations).
func NewIndex(db *sql.DB) *Index {
	return &Index{db: db}
}

// Upsert stores or replaces the embedding for a document id.
func (x *Index) Upsert(id string, embedding []float32, metadata map[string]string) error {
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding for %s: %w", id, memory.ErrInvalidArgument)
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata for %s: %w", id, err)
	}

	_, err = x.db.Exec(`
		INSERT INTO document_vectors (id, embedding, metadata)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			embedding = excluded.embedding,
			metadata = excluded.metadata`,
		id, encodeFloat32s(embedding), string(meta),
	)
	if err != nil {
		return fmt.Errorf("upserting vector %s: %w", id, storage.Classify(err))
	}
	return nil
}

// Delete removes the embedding for a document id. Deleting an absent id is
// not an error.
func (x *Index) Delete(id string) error {
	if _, err := x.db.Exec("DELETE FROM document_vectors WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting vector %s: %w", id, storage.Classify(err))
	}
	return nil
}

// Query performs brute-force cosine similarity search over all stored
// embeddings and returns the top-K hits ordered by score descending.
func (x *Index) Query(embedding []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top-k must be positive: %w", memory.ErrInvalidArgument)
	}
	queryNorm := norm(embedding)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := x.db.Query("SELECT id, embedding FROM document_vectors")
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", storage.Classify(err))
	}
	defer rows.Close()

	h := &hitHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(embedding, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, Hit{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = Hit{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	// Pop the min-heap into descending order.
	hits := make([]Hit, h.Len())
	for i := len(hits) - 1; i >= 0; i-- {
		hits[i] = heap.Pop(h).(Hit)
	}
	return hits, nil
}

// Count returns the number of stored embeddings.
func (x *Index) Count() (int, error) {
	var count int
	err := x.db.QueryRow("SELECT COUNT(*) FROM document_vectors").Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed L2 norm
// of vector a.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return dot / (aNorm * bNorm)
}

// hitHeap is a min-heap of Hit ordered by Score, used to track the top-K
// candidates during the scan.
type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
