package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amelabs/ame/internal/memory"
)

// ScanFilter narrows a full-table document scan. The zero value matches
// everything.
type ScanFilter struct {
	Temperature memory.Temperature
}

// UpsertDocument inserts or replaces a document row. created_at is immutable:
// on conflict the stored value wins over the incoming one.
func (s *Store) UpsertDocument(doc memory.Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata for %s: %w", doc.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO documents (id, content, importance, temperature, metadata, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			importance = excluded.importance,
			temperature = excluded.temperature,
			metadata = excluded.metadata,
			last_accessed_at = excluded.last_accessed_at`,
		doc.ID, doc.Content, doc.Importance, string(doc.Temperature), string(meta),
		doc.CreatedAt.UTC().Format(time.RFC3339), doc.LastAccessedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.ID, Classify(err))
	}
	return nil
}

// DeleteDocument removes a document row. Deleting an absent id is not an
// error.
func (s *Store) DeleteDocument(id string) error {
	if _, err := s.db.Exec("DELETE FROM documents WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, Classify(err))
	}
	return nil
}

// GetDocument returns the document with the given id, or memory.ErrNotFound.
func (s *Store) GetDocument(id string) (memory.Document, error) {
	row := s.db.QueryRow(`
		SELECT id, content, importance, temperature, metadata, created_at, last_accessed_at
		FROM documents WHERE id = ?`, id)

	doc, err := scanDocument(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Document{}, fmt.Errorf("document %s: %w", id, memory.ErrNotFound)
	}
	if err != nil {
		return memory.Document{}, err
	}
	return doc, nil
}

// ScanDocuments streams every matching document to fn in id order. The scan
// is restartable: each call issues a fresh query. A non-nil error from fn
// aborts the scan and is returned as-is.
func (s *Store) ScanDocuments(filter ScanFilter, fn func(memory.Document) error) error {
	query := `SELECT id, content, importance, temperature, metadata, created_at, last_accessed_at FROM documents`
	var args []any
	if filter.Temperature != "" {
		query += " WHERE temperature = ?"
		args = append(args, string(filter.Temperature))
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("scanning documents: %w", Classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountDocuments returns the number of stored documents, optionally filtered
// by temperature.
func (s *Store) CountDocuments(filter ScanFilter) (int, error) {
	query := "SELECT COUNT(*) FROM documents"
	var args []any
	if filter.Temperature != "" {
		query += " WHERE temperature = ?"
		args = append(args, string(filter.Temperature))
	}
	var count int
	err := s.db.QueryRow(query, args...).Scan(&count)
	return count, err
}

func scanDocument(scan func(dest ...any) error) (memory.Document, error) {
	var doc memory.Document
	var temperature, meta, createdAt, lastAccessedAt string
	if err := scan(&doc.ID, &doc.Content, &doc.Importance, &temperature, &meta, &createdAt, &lastAccessedAt); err != nil {
		return memory.Document{}, err
	}

	doc.Temperature = memory.Temperature(temperature)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return memory.Document{}, fmt.Errorf("parsing metadata for %s: %w", doc.ID, err)
		}
	}

	var err error
	if doc.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return memory.Document{}, fmt.Errorf("parsing created_at for %s: %w", doc.ID, err)
	}
	if doc.LastAccessedAt, err = time.Parse(time.RFC3339, lastAccessedAt); err != nil {
		return memory.Document{}, fmt.Errorf("parsing last_accessed_at for %s: %w", doc.ID, err)
	}
	return doc, nil
}
