package jobqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-documents/internal/platform/database"
	"github.com/pesio-ai/be-documents/internal/platform/errors"
)

// PostgresQueue stores jobs in the scheduled_jobs table. Every method runs on
// the transaction bound to ctx when there is one, so enqueue and remove commit
// atomically with the caller's own writes.
type PostgresQueue struct {
	db  *database.DB
	now func() time.Time
}

// NewPostgresQueue creates a queue on db.
func NewPostgresQueue(db *database.DB) *PostgresQueue {
	return &PostgresQueue{db: db, now: time.Now}
}

const jobColumns = `id, job_type, payload, state, run_at, attempts, locked_until, last_error, created_at`

func (q *PostgresQueue) Enqueue(ctx context.Context, jobType string, payload []byte, delay time.Duration) (*Job, error) {
	job := &Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: payload,
		State:   StatePending,
		RunAt:   q.now().Add(delay).UTC(),
	}

	query := `
		INSERT INTO scheduled_jobs (id, job_type, payload, state, run_at)
		VALUES ($1, $2, $3, 'pending', $4)
		RETURNING created_at
	`
	err := q.db.Conn(ctx).QueryRow(ctx, query, job.ID, job.Type, job.Payload, job.RunAt).Scan(&job.CreatedAt)
	if err != nil {
		return nil, errors.Unavailable(err, "failed to enqueue job")
	}
	return job, nil
}

func (q *PostgresQueue) ListPending(ctx context.Context, jobType string) ([]*Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM scheduled_jobs
		WHERE job_type = $1
		  AND state = 'pending'
		ORDER BY run_at ASC
	`
	rows, err := q.db.Conn(ctx).Query(ctx, query, jobType)
	if err != nil {
		return nil, errors.Unavailable(err, "failed to list pending jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (q *PostgresQueue) Remove(ctx context.Context, job *Job) (bool, error) {
	tag, err := q.db.Conn(ctx).Exec(ctx,
		`DELETE FROM scheduled_jobs WHERE id = $1 AND state = 'pending'`, job.ID)
	if err != nil {
		return false, errors.Unavailable(err, "failed to remove job")
	}
	return tag.RowsAffected() == 1, nil
}

// Claim uses SKIP LOCKED so concurrent workers never claim the same row in
// one round. Expired claims are picked up again.
func (q *PostgresQueue) Claim(ctx context.Context, jobType string, limit int, visibility time.Duration) ([]*Job, error) {
	now := q.now().UTC()
	query := `
		UPDATE scheduled_jobs
		SET state        = 'active',
		    attempts     = attempts + 1,
		    locked_until = $3,
		    updated_at   = NOW()
		WHERE id IN (
			SELECT id
			FROM scheduled_jobs
			WHERE job_type = $1
			  AND ((state = 'pending' AND run_at <= $2)
			    OR (state = 'active' AND locked_until < $2))
			ORDER BY run_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := q.db.Conn(ctx).Query(ctx, query, jobType, now, now.Add(visibility), limit)
	if err != nil {
		return nil, errors.Unavailable(err, "failed to claim jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (q *PostgresQueue) Complete(ctx context.Context, job *Job) error {
	_, err := q.db.Conn(ctx).Exec(ctx, `DELETE FROM scheduled_jobs WHERE id = $1`, job.ID)
	if err != nil {
		return errors.Unavailable(err, "failed to complete job")
	}
	return nil
}

func (q *PostgresQueue) Retry(ctx context.Context, job *Job, cause error, delay time.Duration) error {
	query := `
		UPDATE scheduled_jobs
		SET state        = 'pending',
		    run_at       = $2,
		    locked_until = NULL,
		    last_error   = $3,
		    updated_at   = NOW()
		WHERE id = $1
	`
	_, err := q.db.Conn(ctx).Exec(ctx, query, job.ID, q.now().Add(delay).UTC(), errorText(cause))
	if err != nil {
		return errors.Unavailable(err, "failed to reschedule job")
	}
	return nil
}

func (q *PostgresQueue) Fail(ctx context.Context, job *Job, cause error) error {
	query := `
		UPDATE scheduled_jobs
		SET state        = 'failed',
		    locked_until = NULL,
		    last_error   = $2,
		    updated_at   = NOW()
		WHERE id = $1
	`
	_, err := q.db.Conn(ctx).Exec(ctx, query, job.ID, errorText(cause))
	if err != nil {
		return errors.Unavailable(err, "failed to park job")
	}
	return nil
}

func scanJobs(rows pgx.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j := &Job{}
		var state string
		err := rows.Scan(
			&j.ID,
			&j.Type,
			&j.Payload,
			&state,
			&j.RunAt,
			&j.Attempts,
			&j.LockedUntil,
			&j.LastError,
			&j.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan job")
		}
		j.State = State(state)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Unavailable(err, "failed to read jobs")
	}
	return jobs, nil
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
