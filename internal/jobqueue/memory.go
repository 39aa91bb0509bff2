package jobqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue with an injectable clock. It has the
// same claim and visibility semantics as PostgresQueue.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewMemoryQueue creates an empty queue. A nil clock means time.Now.
func NewMemoryQueue(clock func() time.Time) *MemoryQueue {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryQueue{jobs: make(map[string]*Job), now: clock}
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobType string, payload []byte, delay time.Duration) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   append([]byte(nil), payload...),
		State:     StatePending,
		RunAt:     now.Add(delay),
		CreatedAt: now,
	}
	q.jobs[job.ID] = job
	return job.clone(), nil
}

func (q *MemoryQueue) ListPending(_ context.Context, jobType string) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Job
	for _, j := range q.jobs {
		if j.Type == jobType && j.State == StatePending {
			out = append(out, j.clone())
		}
	}
	sortByRunAt(out)
	return out, nil
}

func (q *MemoryQueue) Remove(_ context.Context, job *Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[job.ID]
	if !ok || j.State != StatePending {
		return false, nil
	}
	delete(q.jobs, job.ID)
	return true, nil
}

func (q *MemoryQueue) Claim(_ context.Context, jobType string, limit int, visibility time.Duration) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var due []*Job
	for _, j := range q.jobs {
		if j.Type != jobType {
			continue
		}
		pendingDue := j.State == StatePending && !j.RunAt.After(now)
		expired := j.State == StateActive && j.LockedUntil != nil && j.LockedUntil.Before(now)
		if pendingDue || expired {
			due = append(due, j)
		}
	}
	sortByRunAt(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*Job, 0, len(due))
	for _, j := range due {
		until := now.Add(visibility)
		j.State = StateActive
		j.Attempts++
		j.LockedUntil = &until
		out = append(out, j.clone())
	}
	return out, nil
}

func (q *MemoryQueue) Complete(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, job.ID)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, job *Job, cause error, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[job.ID]
	if !ok {
		return nil
	}
	j.State = StatePending
	j.RunAt = q.now().Add(delay)
	j.LockedUntil = nil
	j.LastError = errorText(cause)
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, job *Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[job.ID]
	if !ok {
		return nil
	}
	j.State = StateFailed
	j.LockedUntil = nil
	j.LastError = errorText(cause)
	return nil
}

// Jobs returns a snapshot of every job regardless of state.
func (q *MemoryQueue) Jobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.clone())
	}
	sortByRunAt(out)
	return out
}

func (j *Job) clone() *Job {
	c := *j
	c.Payload = append([]byte(nil), j.Payload...)
	if j.LockedUntil != nil {
		t := *j.LockedUntil
		c.LockedUntil = &t
	}
	return &c
}

func sortByRunAt(jobs []*Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].RunAt.Equal(jobs[k].RunAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].RunAt.Before(jobs[k].RunAt)
	})
}
