// Package cron runs recurring heartbeat prompts: a job fires on its
// interval, delivers its prompt to a routing target, and records the
// outcome, tripping a per-job circuit breaker after repeated failures
// (spec.md §3 "Cron job / heartbeat", §7 "Cron circuit breaker").
package cron

import (
	"context"
	"sort"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/storage"
)

// MaxConsecutiveFailures disables a job after this many failed executions
// in a row, per spec.md §7.
const MaxConsecutiveFailures = 3

// Store wraps pkg/storage.Store for cron-specific access patterns: loading
// only enabled jobs, ordered by creation time, the way the original
// implementation's heartbeat store does (`heartbeat/store.rs`'s `load_all`).
type Store struct {
	backing storage.Store
}

func NewStore(backing storage.Store) *Store {
	return &Store{backing: backing}
}

func (s *Store) Save(ctx context.Context, job *domain.CronJob) error {
	return s.backing.SaveCronJob(ctx, job)
}

func (s *Store) Get(ctx context.Context, id string) (*domain.CronJob, error) {
	return s.backing.GetCronJob(ctx, id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.backing.DeleteCronJob(ctx, id)
}

// LoadEnabled returns every enabled job, ordered by creation time ascending.
func (s *Store) LoadEnabled(ctx context.Context) ([]*domain.CronJob, error) {
	jobs, err := s.backing.ListEnabledCronJobs(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// RecordExecution persists the outcome of one run and, on failure, bumps
// the job's consecutive-failure counter, disabling it once it crosses
// MaxConsecutiveFailures.
func (s *Store) RecordExecution(ctx context.Context, job *domain.CronJob, success bool, resultSummary string) error {
	exec := &domain.CronExecution{JobID: job.ID, Success: success, ResultSummary: resultSummary}
	if err := s.backing.RecordCronExecution(ctx, exec); err != nil {
		return err
	}

	if success {
		job.ConsecutiveFails = 0
	} else {
		job.ConsecutiveFails++
		if job.ConsecutiveFails >= MaxConsecutiveFailures {
			job.Enabled = false
		}
	}
	return s.backing.SaveCronJob(ctx, job)
}
