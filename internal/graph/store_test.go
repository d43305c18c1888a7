package graph

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/amelabs/ame/internal/memory"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE graph_nodes (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL
		);
		CREATE TABLE graph_edges (
			src TEXT NOT NULL,
			dst TEXT NOT NULL,
			relation TEXT NOT NULL,
			weight REAL NOT NULL,
			PRIMARY KEY (src, dst, relation)
		)`)
	if err != nil {
		t.Fatalf("creating tables: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestQuery_SeedMatching(t *testing.T) {
	g := NewStore(openTestDB(t))

	if err := g.Upsert("d1", "notes about Go concurrency patterns", nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := g.Upsert("d2", "grocery list for the weekend", nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := g.Query("go concurrency", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "d1" {
		t.Fatalf("hits = %v, want [d1]", hits)
	}
	if hits[0].Score != 1.0 {
		t.Errorf("full token match score = %f, want 1.0", hits[0].Score)
	}
}

func TestQuery_PartialTokenMatch(t *testing.T) {
	g := NewStore(openTestDB(t))

	if err := g.Upsert("d1", "notes about concurrency", nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := g.Query("concurrency databases", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Score != 0.5 {
		t.Errorf("half token match score = %f, want 0.5", hits[0].Score)
	}
}

func TestQuery_TraversalDecay(t *testing.T) {
	g := NewStore(openTestDB(t))

	if err := g.Upsert("seed", "concurrency", []Link{{Target: "near", Relation: "refs", Weight: 1.0}}); err != nil {
		t.Fatalf("Upsert seed: %v", err)
	}
	if err := g.Upsert("near", "unrelated text", []Link{{Target: "far", Relation: "refs", Weight: 1.0}}); err != nil {
		t.Fatalf("Upsert near: %v", err)
	}
	if err := g.Upsert("far", "also unrelated", nil); err != nil {
		t.Fatalf("Upsert far: %v", err)
	}

	hits, err := g.Query("concurrency", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		scores[h.ID] = h.Score
	}
	if scores["seed"] != 1.0 {
		t.Errorf("seed score = %f, want 1.0", scores["seed"])
	}
	if scores["near"] != 0.5 {
		t.Errorf("one-hop score = %f, want 0.5", scores["near"])
	}
	if scores["far"] != 0.25 {
		t.Errorf("two-hop score = %f, want 0.25", scores["far"])
	}
}

func TestQuery_DepthLimitsTraversal(t *testing.T) {
	g := NewStore(openTestDB(t))

	if err := g.Upsert("seed", "concurrency", []Link{{Target: "near", Relation: "refs", Weight: 1.0}}); err != nil {
		t.Fatalf("Upsert seed: %v", err)
	}
	if err := g.Upsert("near", "unrelated", []Link{{Target: "far", Relation: "refs", Weight: 1.0}}); err != nil {
		t.Fatalf("Upsert near: %v", err)
	}
	if err := g.Upsert("far", "also unrelated", nil); err != nil {
		t.Fatalf("Upsert far: %v", err)
	}

	hits, err := g.Query("concurrency", 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, h := range hits {
		if h.ID == "far" {
			t.Errorf("depth 1 query reached two-hop node: %v", hits)
		}
	}
}

func TestQuery_UndirectedTraversal(t *testing.T) {
	g := NewStore(openTestDB(t))

	// Edge points from "other" to "seed"; traversal follows it backwards.
	if err := g.Upsert("seed", "concurrency", nil); err != nil {
		t.Fatalf("Upsert seed: %v", err)
	}
	if err := g.Upsert("other", "unrelated", []Link{{Target: "seed", Relation: "refs", Weight: 1.0}}); err != nil {
		t.Fatalf("Upsert other: %v", err)
	}

	hits, err := g.Query("concurrency", 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.ID == "other" {
			found = true
		}
	}
	if !found {
		t.Errorf("incoming edge not traversed, hits = %v", hits)
	}
}

func TestQuery_EmptyKey(t *testing.T) {
	g := NewStore(openTestDB(t))

	hits, err := g.Query("   ", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("blank key should match nothing, got %v", hits)
	}
}

func TestUpsert_ReplacesEdges(t *testing.T) {
	g := NewStore(openTestDB(t))

	if err := g.Upsert("seed", "concurrency", []Link{{Target: "old", Relation: "refs", Weight: 1.0}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := g.Upsert("old", "stale", nil); err != nil {
		t.Fatalf("Upsert old: %v", err)
	}
	if err := g.Upsert("seed", "concurrency", []Link{{Target: "new", Relation: "refs", Weight: 1.0}}); err != nil {
		t.Fatalf("Upsert (replace): %v", err)
	}
	if err := g.Upsert("new", "fresh", nil); err != nil {
		t.Fatalf("Upsert new: %v", err)
	}

	hits, err := g.Query("concurrency", 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, h := range hits {
		if h.ID == "old" {
			t.Errorf("replaced edge still traversed: %v", hits)
		}
	}
}

func TestUpsert_RejectsBadLinks(t *testing.T) {
	g := NewStore(openTestDB(t))

	err := g.Upsert("d1", "content", []Link{{Target: "", Relation: "refs", Weight: 0.5}})
	if !errors.Is(err, memory.ErrInvalidArgument) {
		t.Errorf("empty target: err = %v, want ErrInvalidArgument", err)
	}
	err = g.Upsert("d1", "content", []Link{{Target: "d2", Relation: "refs", Weight: 0}})
	if !errors.Is(err, memory.ErrInvalidArgument) {
		t.Errorf("zero weight: err = %v, want ErrInvalidArgument", err)
	}
}

func TestDelete_RemovesNodeAndEdges(t *testing.T) {
	g := NewStore(openTestDB(t))

	if err := g.Upsert("seed", "concurrency", []Link{{Target: "gone", Relation: "refs", Weight: 1.0}}); err != nil {
		t.Fatalf("Upsert seed: %v", err)
	}
	if err := g.Upsert("gone", "to be removed", nil); err != nil {
		t.Fatalf("Upsert gone: %v", err)
	}
	if err := g.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := g.Delete("gone"); err != nil {
		t.Fatalf("second delete should not error: %v", err)
	}

	hits, err := g.Query("concurrency", 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "seed" {
		t.Errorf("hits = %v, want only seed", hits)
	}
}
