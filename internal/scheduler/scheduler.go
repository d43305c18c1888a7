// Package scheduler runs named maintenance jobs on daily or weekly
// schedules and on demand, recording each run's outcome.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrAlreadyRunning is returned when a job is triggered while a previous
	// run of the same job is still in flight.
	ErrAlreadyRunning = errors.New("job already running")
	// ErrUnknownJob is returned when triggering a name that was never
	// registered.
	ErrUnknownJob = errors.New("unknown job")
)

// Handler is the work a job performs.
type Handler func(ctx context.Context) error

// OutcomeStore persists the result of each job run.
type OutcomeStore interface {
	RecordJobRun(name string, startedAt time.Time, duration time.Duration, success bool, errMsg string) error
}

// JobStatus describes a registered job.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Running  bool      `json:"running"`
	NextRun  time.Time `json:"next_run,omitzero"`
}

type job struct {
	name     string
	schedule Schedule
	handler  Handler

	mu      sync.Mutex
	running bool
}

// tryStart claims the job for a run. It fails when a run is in flight.
func (j *job) tryStart() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return false
	}
	j.running = true
	return true
}

func (j *job) finish() {
	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

func (j *job) isRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Scheduler owns the registered jobs and their timer goroutines.
type Scheduler struct {
	outcomes OutcomeStore
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Scheduler. The outcome store may be nil, in which case run
// results are only logged.
func New(outcomes OutcomeStore, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		outcomes: outcomes,
		logger:   logger,
		jobs:     make(map[string]*job),
		now:      time.Now,
	}
}

// Register adds a named job. Registering a duplicate name is an error.
// Jobs must be registered before Start.
func (s *Scheduler) Register(name string, schedule Schedule, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	s.jobs[name] = &job{name: name, schedule: schedule, handler: handler}
	return nil
}

// RunNow triggers a job synchronously, bypassing its schedule. Concurrent
// runs of the same job are rejected with ErrAlreadyRunning.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, j)
}

// Start launches a timer goroutine per scheduled job. Manual jobs get none.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if _, ok := j.schedule.Next(s.now()); !ok {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Stop cancels the timer goroutines and waits for in-flight scheduled runs
// to drain. A handler that is already executing keeps its context and runs
// to completion.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Jobs returns the status of every registered job, ordered by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		status := JobStatus{
			Name:     j.name,
			Schedule: j.schedule.Describe(),
			Running:  j.isRunning(),
		}
		if next, ok := j.schedule.Next(s.now()); ok {
			status.NextRun = next
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	for {
		next, ok := j.schedule.Next(s.now())
		if !ok {
			return
		}
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		// The loop context only gates the timer waits. Handlers run on a
		// detached context so Stop drains them instead of aborting mid-run.
		if err := s.execute(context.WithoutCancel(ctx), j); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			s.logger.Error("scheduled job failed", "job", j.name, "error", err)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) error {
	if !j.tryStart() {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, j.name)
	}
	defer j.finish()

	started := s.now().UTC()
	s.logger.Info("job started", "job", j.name)
	err := j.handler(ctx)
	duration := s.now().UTC().Sub(started)

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		s.logger.Warn("job finished with error", "job", j.name, "duration", duration, "error", err)
	} else {
		s.logger.Info("job finished", "job", j.name, "duration", duration)
	}

	if s.outcomes != nil {
		if recErr := s.outcomes.RecordJobRun(j.name, started, duration, err == nil, errMsg); recErr != nil {
			s.logger.Error("recording job outcome failed", "job", j.name, "error", recErr)
		}
	}
	return err
}
