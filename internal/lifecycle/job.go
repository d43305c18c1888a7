package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/amelabs/ame/internal/memory"
	"github.com/amelabs/ame/internal/storage"
)

// DocumentStore is the relational surface the lifecycle jobs operate on.
// Demotions write here directly so they never bump access times or touch
// the secondary indexes.
type DocumentStore interface {
	ScanDocuments(filter storage.ScanFilter, fn func(memory.Document) error) error
	UpsertDocument(doc memory.Document) error
}

// Purger removes a document from every adapter.
type Purger interface {
	Delete(ctx context.Context, id string) error
}

// Stats summarizes a lifecycle run.
type Stats struct {
	Processed int `json:"processed"`
	Demoted   int `json:"demoted"`
	Purged    int `json:"purged"`
	Failed    int `json:"failed"`
}

// Manager runs the periodic lifecycle jobs against the document store.
type Manager struct {
	docs   DocumentStore
	purger Purger
	cfg    Config
	logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewManager creates a lifecycle Manager.
func NewManager(docs DocumentStore, purger Purger, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{docs: docs, purger: purger, cfg: cfg, logger: logger, now: time.Now}
}

// decision pairs a scanned document with its evaluated action.
type decision struct {
	doc    memory.Document
	action Action
}

// RunLifecycle evaluates every document against the temperature policy and
// applies demotions and purges. Per-document failures are logged and counted
// but do not abort the run.
func (m *Manager) RunLifecycle(ctx context.Context) (Stats, error) {
	return m.run(ctx, storage.ScanFilter{})
}

// RunExpiry purges expired low-importance documents. Only COLD documents are
// scanned; anything still HOT or WARM is younger than the retention window
// or will be demoted first by the lifecycle run.
func (m *Manager) RunExpiry(ctx context.Context) (Stats, error) {
	return m.run(ctx, storage.ScanFilter{Temperature: memory.Cold})
}

func (m *Manager) run(ctx context.Context, filter storage.ScanFilter) (Stats, error) {
	now := m.now().UTC()
	var stats Stats

	// Collect decisions first: the scan holds the read cursor, and applying
	// writes mid-scan would contend with it on a single-connection store.
	var pending []decision
	err := m.docs.ScanDocuments(filter, func(doc memory.Document) error {
		stats.Processed++
		if action := Evaluate(doc, m.cfg, now); action != ActionNone {
			pending = append(pending, decision{doc: doc, action: action})
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	for _, d := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := m.apply(ctx, d); err != nil {
			stats.Failed++
			m.logger.Warn("lifecycle action failed", "id", d.doc.ID, "action", d.action.String(), "error", err)
			continue
		}
		switch d.action {
		case ActionPurge:
			stats.Purged++
		default:
			stats.Demoted++
		}
		m.logger.Debug("lifecycle action applied", "id", d.doc.ID, "action", d.action.String())
	}
	return stats, nil
}

func (m *Manager) apply(ctx context.Context, d decision) error {
	if d.action == ActionPurge {
		return m.purger.Delete(ctx, d.doc.ID)
	}
	doc := d.doc
	Apply(&doc, d.action)
	return m.docs.UpsertDocument(doc)
}
