// Package jobqueue is a delayed job queue with at-least-once delivery.
//
// A job is pending from Enqueue until a worker claims it. Pending jobs are
// either delayed (RunAt in the future) or waiting (due, not yet started).
// Claimed jobs are active until the worker completes, retries or fails them;
// an active job whose claim expires becomes claimable again, so handlers must
// tolerate running more than once.
package jobqueue

import (
	"context"
	"time"
)

// State is the persisted job state.
type State string

const (
	StatePending State = "pending"
	StateActive  State = "active"
	StateFailed  State = "failed"
)

// Job is one scheduled unit of work.
type Job struct {
	ID          string
	Type        string
	Payload     []byte
	State       State
	RunAt       time.Time
	Attempts    int
	LockedUntil *time.Time
	LastError   *string
	CreatedAt   time.Time
}

// Delayed reports whether a pending job is not yet due at now.
func (j *Job) Delayed(now time.Time) bool {
	return j.State == StatePending && j.RunAt.After(now)
}

// Queue is the contract the scheduler depends on.
type Queue interface {
	// Enqueue schedules payload to run after delay.
	Enqueue(ctx context.Context, jobType string, payload []byte, delay time.Duration) (*Job, error)
	// ListPending returns delayed and waiting jobs of jobType, oldest RunAt first.
	ListPending(ctx context.Context, jobType string) ([]*Job, error)
	// Remove deletes a job that has not started. It reports false when the job
	// was already claimed or gone.
	Remove(ctx context.Context, job *Job) (bool, error)
	// Claim marks up to limit due jobs active for the visibility window and
	// returns them.
	Claim(ctx context.Context, jobType string, limit int, visibility time.Duration) ([]*Job, error)
	// Complete deletes a finished job.
	Complete(ctx context.Context, job *Job) error
	// Retry returns an active job to pending, due after delay.
	Retry(ctx context.Context, job *Job, cause error, delay time.Duration) error
	// Fail parks a job that exhausted its attempts.
	Fail(ctx context.Context, job *Job, cause error) error
}
