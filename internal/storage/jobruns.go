package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/amelabs/ame/internal/memory"
)

// JobRun is the recorded outcome of the most recent execution of a named job.
type JobRun struct {
	Name      string
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Error     string
}

// RecordJobRun stores the outcome of a job execution, replacing any previous
// record for the same job name.
func (s *Store) RecordJobRun(name string, startedAt time.Time, duration time.Duration, success bool, errMsg string) error {
	_, err := s.db.Exec(`
		INSERT INTO job_runs (name, started_at, duration_ms, success, error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms,
			success = excluded.success,
			error = excluded.error`,
		name, startedAt.UTC().Format(time.RFC3339), duration.Milliseconds(), boolToInt(success), errMsg,
	)
	if err != nil {
		return fmt.Errorf("recording run of %s: %w", name, err)
	}
	return nil
}

// LastJobRun returns the most recently recorded outcome for the named job.
func (s *Store) LastJobRun(name string) (JobRun, error) {
	row := s.db.QueryRow(`
		SELECT name, started_at, duration_ms, success, error
		FROM job_runs WHERE name = ?`, name)

	run, err := scanJobRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRun{}, fmt.Errorf("job %s: %w", name, memory.ErrNotFound)
	}
	return run, err
}

// ListJobRuns returns the last recorded outcome of every job, ordered by name.
func (s *Store) ListJobRuns() ([]JobRun, error) {
	rows, err := s.db.Query(`
		SELECT name, started_at, duration_ms, success, error
		FROM job_runs ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		run, err := scanJobRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanJobRun(scan func(dest ...any) error) (JobRun, error) {
	var run JobRun
	var startedAt string
	var durationMs int64
	var success int
	if err := scan(&run.Name, &startedAt, &durationMs, &success, &run.Error); err != nil {
		return JobRun{}, err
	}

	t, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return JobRun{}, fmt.Errorf("parsing started_at for %s: %w", run.Name, err)
	}
	run.StartedAt = t
	run.Duration = time.Duration(durationMs) * time.Millisecond
	run.Success = success != 0
	return run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
