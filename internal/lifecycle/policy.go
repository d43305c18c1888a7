// Package lifecycle ages documents through the HOT, WARM and COLD
// temperature tiers and purges expired low-importance documents.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/amelabs/ame/internal/memory"
)

// Action is the lifecycle decision for a single document.
type Action int

const (
	ActionNone Action = iota
	ActionDemoteWarm
	ActionDemoteCold
	ActionPurge
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionDemoteWarm:
		return "demote_warm"
	case ActionDemoteCold:
		return "demote_cold"
	case ActionPurge:
		return "purge"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Config holds the temperature policy thresholds.
type Config struct {
	// HotDays is the max age of a HOT document before demotion to WARM.
	HotDays int
	// WarmDays is the max age before demotion to COLD.
	WarmDays int
	// RetentionDays is the max age before a low-importance document is purged.
	RetentionDays int
	// ImportanceThreshold protects documents at or above it from purging.
	ImportanceThreshold float64
}

// Evaluate decides the lifecycle action for a document at the given moment.
// Age is measured from the last access, falling back to creation time. The
// decision is a fixpoint: applying the returned action and evaluating again
// yields ActionNone, so repeated runs converge without extra writes.
func Evaluate(doc memory.Document, cfg Config, now time.Time) Action {
	age := doc.AgeDays(now)

	if age > float64(cfg.RetentionDays) && doc.Importance < cfg.ImportanceThreshold {
		return ActionPurge
	}
	if age > float64(cfg.WarmDays) && doc.Temperature != memory.Cold {
		return ActionDemoteCold
	}
	if age > float64(cfg.HotDays) && doc.Temperature == memory.Hot {
		return ActionDemoteWarm
	}
	return ActionNone
}

// Apply mutates the document's temperature per the action. Purge has no
// in-place representation and must be handled by the caller.
func Apply(doc *memory.Document, action Action) {
	switch action {
	case ActionDemoteWarm:
		doc.Temperature = memory.Warm
	case ActionDemoteCold:
		doc.Temperature = memory.Cold
	}
}
