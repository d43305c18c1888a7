package lifecycle

import (
	"testing"
	"time"

	"github.com/amelabs/ame/internal/memory"
)

var testConfig = Config{
	HotDays:             7,
	WarmDays:            30,
	RetentionDays:       365,
	ImportanceThreshold: 0.7,
}

func docAged(days int, temp memory.Temperature, importance float64, now time.Time) memory.Document {
	accessed := now.Add(-time.Duration(days) * 24 * time.Hour)
	return memory.Document{
		ID:             "d1",
		Content:        "content",
		Importance:     importance,
		Temperature:    temp,
		CreatedAt:      accessed,
		LastAccessedAt: accessed,
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		doc  memory.Document
		want Action
	}{
		{"fresh hot stays", docAged(3, memory.Hot, 0.5, now), ActionNone},
		{"hot past hot window demotes to warm", docAged(10, memory.Hot, 0.5, now), ActionDemoteWarm},
		{"hot past warm window demotes straight to cold", docAged(40, memory.Hot, 0.5, now), ActionDemoteCold},
		{"warm within warm window stays", docAged(20, memory.Warm, 0.5, now), ActionNone},
		{"warm past warm window demotes to cold", docAged(40, memory.Warm, 0.5, now), ActionDemoteCold},
		{"cold within retention stays", docAged(100, memory.Cold, 0.5, now), ActionNone},
		{"cold expired low importance purges", docAged(400, memory.Cold, 0.2, now), ActionPurge},
		{"cold expired high importance kept", docAged(400, memory.Cold, 0.9, now), ActionNone},
		{"expired importance at threshold kept", docAged(400, memory.Cold, 0.7, now), ActionNone},
		{"hot expired low importance purges without demotion detour", docAged(400, memory.Hot, 0.2, now), ActionPurge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.doc, testConfig, now); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_AgeFromLastAccess(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	// Created long ago but accessed recently: the recall keeps it alive.
	doc := docAged(400, memory.Warm, 0.2, now)
	doc.LastAccessedAt = now.Add(-24 * time.Hour)

	if got := Evaluate(doc, testConfig, now); got != ActionNone {
		t.Errorf("Evaluate() = %v, want none for recently accessed document", got)
	}
}

func TestEvaluate_Fixpoint(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	docs := []memory.Document{
		docAged(10, memory.Hot, 0.5, now),
		docAged(40, memory.Hot, 0.5, now),
		docAged(40, memory.Warm, 0.5, now),
		docAged(400, memory.Cold, 0.9, now),
	}
	for _, doc := range docs {
		action := Evaluate(doc, testConfig, now)
		if action == ActionPurge || action == ActionNone {
			continue
		}
		Apply(&doc, action)
		if again := Evaluate(doc, testConfig, now); again != ActionNone {
			t.Errorf("applying %v did not reach fixpoint, second evaluation = %v", action, again)
		}
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	doc := docAged(10, memory.Hot, 0.5, now)

	first := Evaluate(doc, testConfig, now)
	for i := 0; i < 5; i++ {
		if got := Evaluate(doc, testConfig, now); got != first {
			t.Fatalf("Evaluate() not deterministic: %v then %v", first, got)
		}
	}
}

func TestActionString(t *testing.T) {
	if ActionDemoteWarm.String() != "demote_warm" {
		t.Errorf("String() = %q", ActionDemoteWarm.String())
	}
	if ActionPurge.String() != "purge" {
		t.Errorf("String() = %q", ActionPurge.String())
	}
}
