package graph

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/amelabs/ame/internal/memory"
	"github.com/amelabs/ame/internal/storage"
)

// hopDecay attenuates relation scores per traversal hop, so directly matched
// documents outrank their neighbours.
const hopDecay = 0.5

// Link is a directed, weighted relation from one document to another.
type Link struct {
	Target   string
	Relation string
	Weight   float64
}

// Hit is a single graph match: a document id and its relation score in (0,1].
type Hit struct {
	ID    string
	Score float64
}

// Store keeps document nodes and their relation edges in the graph_nodes and
// graph_edges tables and answers bounded-depth relatedness queries.
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing *sql.DB for graph operations. The graph tables
// must already exist (created via migrations).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert stores or replaces a node and its outgoing edges. Links with an
// empty target or a non-positive weight are rejected.
func (g *Store) Upsert(id, content string, links []Link) error {
	for _, l := range links {
		if l.Target == "" {
			return fmt.Errorf("link from %s has empty target: %w", id, memory.ErrInvalidArgument)
		}
		if l.Weight <= 0 || l.Weight > 1 {
			return fmt.Errorf("link %s -> %s weight %g out of (0,1]: %w", id, l.Target, l.Weight, memory.ErrInvalidArgument)
		}
	}

	tx, err := g.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert for %s: %w", id, storage.Classify(err))
	}

	if _, err := tx.Exec(`
		INSERT INTO graph_nodes (id, content) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content`, id, content); err != nil {
		tx.Rollback()
		return fmt.Errorf("upserting node %s: %w", id, storage.Classify(err))
	}

	if _, err := tx.Exec("DELETE FROM graph_edges WHERE src = ?", id); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing edges for %s: %w", id, storage.Classify(err))
	}
	for _, l := range links {
		if _, err := tx.Exec(`
			INSERT INTO graph_edges (src, dst, relation, weight) VALUES (?, ?, ?, ?)
			ON CONFLICT(src, dst, relation) DO UPDATE SET weight = excluded.weight`,
			id, l.Target, l.Relation, l.Weight); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting edge %s -> %s: %w", id, l.Target, storage.Classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing upsert for %s: %w", id, storage.Classify(err))
	}
	return nil
}

// Delete removes a node and every edge touching it. Deleting an absent id is
// not an error.
func (g *Store) Delete(id string) error {
	tx, err := g.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete for %s: %w", id, storage.Classify(err))
	}
	if _, err := tx.Exec("DELETE FROM graph_nodes WHERE id = ?", id); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting node %s: %w", id, storage.Classify(err))
	}
	if _, err := tx.Exec("DELETE FROM graph_edges WHERE src = ? OR dst = ?", id, id); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting edges for %s: %w", id, storage.Classify(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete for %s: %w", id, storage.Classify(err))
	}
	return nil
}

// Query finds nodes whose content matches the key's tokens, then walks
// relation edges outward up to depth hops. Seed scores are the fraction of
// key tokens matched; neighbour scores decay by edge weight and hopDecay per
// hop. Results are ordered by score descending, then id.
func (g *Store) Query(key string, depth int) ([]Hit, error) {
	tokens := tokenize(key)
	if len(tokens) == 0 {
		return nil, nil
	}

	seeds, err := g.matchSeeds(tokens)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	scores := make(map[string]float64, len(seeds))
	for id, s := range seeds {
		scores[id] = s
	}

	frontier := seeds
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		next := make(map[string]float64)
		for id, base := range frontier {
			neighbours, err := g.neighbours(id)
			if err != nil {
				return nil, err
			}
			for nid, weight := range neighbours {
				candidate := base * weight * hopDecay
				if candidate > scores[nid] {
					scores[nid] = candidate
					next[nid] = candidate
				}
			}
		}
		frontier = next
	}

	hits := make([]Hit, 0, len(scores))
	for id, s := range scores {
		hits = append(hits, Hit{ID: id, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

// matchSeeds scans node content for key tokens. Seed score is the fraction
// of tokens present in the node's content.
func (g *Store) matchSeeds(tokens []string) (map[string]float64, error) {
	rows, err := g.db.Query("SELECT id, content FROM graph_nodes")
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", storage.Classify(err))
	}
	defer rows.Close()

	seeds := make(map[string]float64)
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		lower := strings.ToLower(content)
		matched := 0
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				matched++
			}
		}
		if matched > 0 {
			seeds[id] = float64(matched) / float64(len(tokens))
		}
	}
	return seeds, rows.Err()
}

// neighbours returns ids adjacent to the given node (either edge direction)
// with the strongest edge weight per neighbour.
func (g *Store) neighbours(id string) (map[string]float64, error) {
	rows, err := g.db.Query(`
		SELECT dst, weight FROM graph_edges WHERE src = ?
		UNION ALL
		SELECT src, weight FROM graph_edges WHERE dst = ?`, id, id)
	if err != nil {
		return nil, fmt.Errorf("querying edges for %s: %w", id, storage.Classify(err))
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var nid string
		var weight float64
		if err := rows.Scan(&nid, &weight); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		if weight > out[nid] {
			out[nid] = weight
		}
	}
	return out, rows.Err()
}

func tokenize(key string) []string {
	fields := strings.Fields(strings.ToLower(key))
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()[]`)
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
