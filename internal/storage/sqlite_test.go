package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/amelabs/ame/internal/memory"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDocument(id string) memory.Document {
	now := time.Now().UTC().Truncate(time.Second)
	return memory.Document{
		ID:             id,
		Content:        "the content of " + id,
		Importance:     0.5,
		Temperature:    memory.Hot,
		Metadata:       map[string]string{"source": "test"},
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

func TestUpsertAndGetDocument(t *testing.T) {
	s := openTestStore(t)

	doc := testDocument("d1")
	if err := s.UpsertDocument(doc); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	got, err := s.GetDocument("d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Content != doc.Content {
		t.Errorf("content = %q, want %q", got.Content, doc.Content)
	}
	if got.Temperature != memory.Hot {
		t.Errorf("temperature = %q, want HOT", got.Temperature)
	}
	if got.Metadata["source"] != "test" {
		t.Errorf("metadata source = %q, want test", got.Metadata["source"])
	}
	if !got.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, doc.CreatedAt)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetDocument("missing")
	if !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertDocument_CreatedAtImmutable(t *testing.T) {
	s := openTestStore(t)

	doc := testDocument("d1")
	if err := s.UpsertDocument(doc); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	updated := doc
	updated.CreatedAt = doc.CreatedAt.Add(48 * time.Hour)
	updated.Content = "changed"
	if err := s.UpsertDocument(updated); err != nil {
		t.Fatalf("UpsertDocument (update): %v", err)
	}

	got, err := s.GetDocument("d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Content != "changed" {
		t.Errorf("content = %q, want changed", got.Content)
	}
	if !got.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("created_at changed on update: %v, want %v", got.CreatedAt, doc.CreatedAt)
	}
}

func TestDeleteDocument_Idempotent(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertDocument(testDocument("d1")); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := s.DeleteDocument("d1"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.DeleteDocument("d1"); err != nil {
		t.Fatalf("second delete should not error: %v", err)
	}
}

func TestScanDocuments_FilterByTemperature(t *testing.T) {
	s := openTestStore(t)

	hot := testDocument("d1")
	cold := testDocument("d2")
	cold.Temperature = memory.Cold
	for _, d := range []memory.Document{hot, cold} {
		if err := s.UpsertDocument(d); err != nil {
			t.Fatalf("UpsertDocument: %v", err)
		}
	}

	var seen []string
	err := s.ScanDocuments(ScanFilter{Temperature: memory.Cold}, func(d memory.Document) error {
		seen = append(seen, d.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanDocuments: %v", err)
	}
	if len(seen) != 1 || seen[0] != "d2" {
		t.Errorf("scan saw %v, want [d2]", seen)
	}
}

func TestScanDocuments_Restartable(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.UpsertDocument(testDocument(id)); err != nil {
			t.Fatalf("UpsertDocument: %v", err)
		}
	}

	count := func() int {
		n := 0
		if err := s.ScanDocuments(ScanFilter{}, func(memory.Document) error {
			n++
			return nil
		}); err != nil {
			t.Fatalf("ScanDocuments: %v", err)
		}
		return n
	}

	if first, second := count(), count(); first != 3 || second != 3 {
		t.Errorf("scan counts = %d, %d, want 3, 3", first, second)
	}
}

func TestScanDocuments_FnErrorAborts(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b"} {
		if err := s.UpsertDocument(testDocument(id)); err != nil {
			t.Fatalf("UpsertDocument: %v", err)
		}
	}

	stop := errors.New("stop")
	err := s.ScanDocuments(ScanFilter{}, func(memory.Document) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v, want stop sentinel", err)
	}
}

func TestClassify_PermanentErrorNotTransient(t *testing.T) {
	err := Classify(errors.New("CHECK constraint failed"))
	if memory.IsTransient(err) {
		t.Fatal("a non-lock failure must not be classified transient")
	}
	if errors.Is(err, memory.ErrAdapterUnavailable) {
		t.Fatal("a non-lock failure must not wrap ErrAdapterUnavailable")
	}
}

func TestUpsertDocument_ClosedStoreNotTransient(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	s.Close()

	err = s.UpsertDocument(testDocument("d1"))
	if err == nil {
		t.Fatal("upsert on a closed store should fail")
	}
	if memory.IsTransient(err) {
		t.Errorf("closed-store failure classified transient, would be retried: %v", err)
	}
}

func TestJobRuns_RecordAndRead(t *testing.T) {
	s := openTestStore(t)

	started := time.Now().UTC().Truncate(time.Second)
	if err := s.RecordJobRun("lifecycle_management", started, 1500*time.Millisecond, true, ""); err != nil {
		t.Fatalf("RecordJobRun: %v", err)
	}

	run, err := s.LastJobRun("lifecycle_management")
	if err != nil {
		t.Fatalf("LastJobRun: %v", err)
	}
	if !run.Success {
		t.Error("run should be recorded as success")
	}
	if run.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v, want 1.5s", run.Duration)
	}

	// A second record for the same name replaces the first.
	if err := s.RecordJobRun("lifecycle_management", started.Add(time.Hour), time.Second, false, "boom"); err != nil {
		t.Fatalf("RecordJobRun (second): %v", err)
	}
	run, err = s.LastJobRun("lifecycle_management")
	if err != nil {
		t.Fatalf("LastJobRun (second): %v", err)
	}
	if run.Success || run.Error != "boom" {
		t.Errorf("run = %+v, want failed with error boom", run)
	}

	if _, err := s.LastJobRun("unknown"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("LastJobRun(unknown) = %v, want ErrNotFound", err)
	}
}
