package memory

import (
	"time"
)

// Temperature is the coarse recency tier of a document. It drives retrieval
// priority and purge eligibility.
type Temperature string

const (
	Hot  Temperature = "HOT"
	Warm Temperature = "WARM"
	Cold Temperature = "COLD"
)

// Valid reports whether t is one of the three known tiers.
func (t Temperature) Valid() bool {
	return t == Hot || t == Warm || t == Cold
}

// MetaDegraded is the metadata key set when a secondary engine write failed
// during Upsert. Its value names the engines that missed the write
// (e.g. "vector" or "vector,graph"). The relational row is still authoritative.
const MetaDegraded = "degraded"

// MetaRefs is the metadata key holding comma-separated ids of related
// documents. The repository turns it into graph links on upsert.
const MetaRefs = "refs"

// Document is the unit of storage shared by all three backing engines.
type Document struct {
	ID             string            `json:"id"`
	Content        string            `json:"content"`
	Embedding      []float32         `json:"embedding,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Importance     float64           `json:"importance"`
	Temperature    Temperature       `json:"temperature"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
}

// ReferenceTime is the timestamp lifecycle age is measured from: the last
// access when one is recorded, creation time otherwise.
func (d Document) ReferenceTime() time.Time {
	if !d.LastAccessedAt.IsZero() {
		return d.LastAccessedAt
	}
	return d.CreatedAt
}

// AgeDays returns the document age in fractional days as of now.
func (d Document) AgeDays(now time.Time) float64 {
	return now.Sub(d.ReferenceTime()).Hours() / 24
}

// Degraded reports whether the document is flagged as missing one or more
// secondary engine writes.
func (d Document) Degraded() bool {
	return d.Metadata[MetaDegraded] != ""
}

// SetMeta sets a metadata key, allocating the map if needed.
func (d *Document) SetMeta(key, value string) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata[key] = value
}

// Validate checks the semantic constraints the repository enforces on writes.
func (d Document) Validate() error {
	if d.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if d.Importance < 0 || d.Importance > 1 {
		return &ValidationError{Field: "importance", Reason: "must be in [0,1]"}
	}
	if d.Temperature != "" && !d.Temperature.Valid() {
		return &ValidationError{Field: "temperature", Reason: "unknown tier"}
	}
	return nil
}
