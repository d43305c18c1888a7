package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type recordedOutcome struct {
	name     string
	started  time.Time
	duration time.Duration
	success  bool
	errMsg   string
}

type fakeOutcomes struct {
	mu   sync.Mutex
	runs []recordedOutcome
}

func (f *fakeOutcomes) RecordJobRun(name string, startedAt time.Time, duration time.Duration, success bool, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, recordedOutcome{name, startedAt, duration, success, errMsg})
	return nil
}

func (f *fakeOutcomes) last(t *testing.T) recordedOutcome {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) == 0 {
		t.Fatal("no outcomes recorded")
	}
	return f.runs[len(f.runs)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegister_Duplicate(t *testing.T) {
	s := New(nil, testLogger())
	if err := s.Register("job", Manual{}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("job", Manual{}, func(context.Context) error { return nil }); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestRunNow_UnknownJob(t *testing.T) {
	s := New(nil, testLogger())
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", err)
	}
}

func TestRunNow_RecordsOutcome(t *testing.T) {
	outcomes := &fakeOutcomes{}
	s := New(outcomes, testLogger())
	s.Register("job", Manual{}, func(context.Context) error { return nil })

	if err := s.RunNow(context.Background(), "job"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	run := outcomes.last(t)
	if run.name != "job" || !run.success {
		t.Errorf("outcome = %+v, want successful job run", run)
	}
}

func TestRunNow_RecordsFailure(t *testing.T) {
	outcomes := &fakeOutcomes{}
	s := New(outcomes, testLogger())
	s.Register("job", Manual{}, func(context.Context) error { return errors.New("boom") })

	if err := s.RunNow(context.Background(), "job"); err == nil {
		t.Fatal("RunNow should surface the handler error")
	}
	run := outcomes.last(t)
	if run.success || run.errMsg != "boom" {
		t.Errorf("outcome = %+v, want failure with message boom", run)
	}
}

func TestRunNow_MutualExclusion(t *testing.T) {
	s := New(nil, testLogger())
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	s.Register("job", Manual{}, func(context.Context) error {
		entered <- struct{}{}
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "job") }()
	<-entered

	if err := s.RunNow(context.Background(), "job"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("concurrent trigger: err = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The job is runnable again once the first run finishes.
	if err := s.RunNow(context.Background(), "job"); err != nil {
		t.Fatalf("rerun after completion: %v", err)
	}
}

// fireOnce fires immediately, exactly once.
type fireOnce struct {
	mu    sync.Mutex
	fired bool
}

func (f *fireOnce) Next(after time.Time) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fired {
		return time.Time{}, false
	}
	f.fired = true
	return after, true
}

func (f *fireOnce) Describe() string { return "once" }

func TestStart_RunsScheduledJob(t *testing.T) {
	outcomes := &fakeOutcomes{}
	s := New(outcomes, testLogger())

	ran := make(chan struct{})
	s.Register("job", &fireOnce{}, func(context.Context) error {
		close(ran)
		return nil
	})

	s.Start(context.Background())
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job did not run")
	}
	s.Stop()

	if run := outcomes.last(t); run.name != "job" || !run.success {
		t.Errorf("outcome = %+v, want successful run", run)
	}
}

func TestStop_LetsInFlightRunFinish(t *testing.T) {
	outcomes := &fakeOutcomes{}
	s := New(outcomes, testLogger())

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var ctxErr error
	s.Register("job", &fireOnce{}, func(ctx context.Context) error {
		entered <- struct{}{}
		<-release
		ctxErr = ctx.Err()
		return ctxErr
	})

	s.Start(context.Background())
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	// Give Stop time to cancel the loop context before letting the handler
	// observe its own.
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not drain the in-flight run")
	}
	if ctxErr != nil {
		t.Errorf("handler context canceled during Stop: %v", ctxErr)
	}
	if run := outcomes.last(t); !run.success {
		t.Errorf("outcome = %+v, want the drained run recorded as success", run)
	}
}

func TestStop_WithoutStart(t *testing.T) {
	s := New(nil, testLogger())
	s.Stop()
}

func TestJobs_Status(t *testing.T) {
	s := New(nil, testLogger())
	s.Register("b-weekly", Weekly{Weekday: time.Sunday, Hour: 3}, func(context.Context) error { return nil })
	s.Register("a-daily", Daily{Hour: 2}, func(context.Context) error { return nil })
	s.Register("c-manual", Manual{}, func(context.Context) error { return nil })

	jobs := s.Jobs()
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	if jobs[0].Name != "a-daily" || jobs[1].Name != "b-weekly" || jobs[2].Name != "c-manual" {
		t.Errorf("jobs not ordered by name: %v", jobs)
	}
	if jobs[0].NextRun.IsZero() {
		t.Error("daily job should have a next run")
	}
	if !jobs[2].NextRun.IsZero() {
		t.Error("manual job should not have a next run")
	}
	if jobs[2].Schedule != "manual" {
		t.Errorf("schedule = %q, want manual", jobs[2].Schedule)
	}
}
