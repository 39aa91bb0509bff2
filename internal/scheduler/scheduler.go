// Package scheduler runs the reminder and escalation jobs of versions under
// review.
//
// Every ingested version gets an approval-reminder job and an
// approval-escalation job. Cancel removes them when the version leaves review,
// but cancellation is best effort: a job may already be claimed, or the
// removal may fail. Workers therefore re-read the version before acting and
// drop any job whose version is no longer IN_REVIEW.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-documents/internal/jobqueue"
	"github.com/pesio-ai/be-documents/internal/platform/config"
	"github.com/pesio-ai/be-documents/internal/platform/errors"
	"github.com/pesio-ai/be-documents/internal/platform/logger"
	"github.com/pesio-ai/be-documents/internal/platform/metrics"
	"github.com/pesio-ai/be-documents/internal/repository"
)

// Job types.
const (
	JobReminder   = "approval-reminder"
	JobEscalation = "approval-escalation"
)

// JobTypes lists the job types the scheduler owns, in processing order.
var JobTypes = []string{JobReminder, JobEscalation}

// Payload is the JSON body of both job types.
type Payload struct {
	VersionID  string `json:"versionId"`
	DocumentID string `json:"documentId"`
}

// Notifier delivers a message to users. Delivery is fire-and-forget.
type Notifier interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// Versions is the read side of the document store the workers need.
type Versions interface {
	GetDocument(ctx context.Context, id string) (*repository.Document, error)
	GetVersion(ctx context.Context, id string) (*repository.DocumentVersion, error)
	ListApprovals(ctx context.Context, versionID string) ([]*repository.DocumentApproval, error)
	ListVersionsByStatus(ctx context.Context, status repository.VersionStatus, limit int) ([]*repository.DocumentVersion, error)
}

// Scheduler enqueues, cancels and processes approval jobs.
type Scheduler struct {
	queue     jobqueue.Queue
	versions  Versions
	directory repository.Directory
	notifier  Notifier
	cfg       config.WorkflowConfig
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	stop    context.CancelFunc
	workers *errgroup.Group
}

// New creates a scheduler. Workers do not run until Start.
func New(
	queue jobqueue.Queue,
	versions Versions,
	directory repository.Directory,
	notifier Notifier,
	cfg config.WorkflowConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) (*Scheduler, error) {
	if queue == nil || versions == nil || directory == nil || notifier == nil {
		return nil, fmt.Errorf("scheduler: queue, versions, directory and notifier are required")
	}
	if cfg.ReminderDelay <= 0 || cfg.EscalationDelay <= 0 {
		return nil, fmt.Errorf("scheduler: reminder and escalation delays must be positive")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Scheduler{
		queue:     queue,
		versions:  versions,
		directory: directory,
		notifier:  notifier,
		cfg:       cfg,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}, nil
}

// Schedule enqueues the reminder and escalation jobs of a version. When ctx
// carries a database transaction the jobs commit with it.
func (s *Scheduler) Schedule(ctx context.Context, versionID, documentID string) error {
	payload, err := jsonPayload(versionID, documentID)
	if err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, JobReminder, payload, s.cfg.ReminderDelay); err != nil {
		return errors.Unavailable(err, "failed to schedule reminder")
	}
	if _, err := s.queue.Enqueue(ctx, JobEscalation, payload, s.cfg.EscalationDelay); err != nil {
		return errors.Unavailable(err, "failed to schedule escalation")
	}

	s.log.Debug().
		Str("version_id", versionID).
		Dur("reminder_in", s.cfg.ReminderDelay).
		Dur("escalation_in", s.cfg.EscalationDelay).
		Msg("Approval jobs scheduled")
	return nil
}

// Cancel removes the version's jobs that have not started, whether delayed or
// already due, and returns how many were removed. Jobs a worker has claimed
// are left alone; the worker's state check discards them.
func (s *Scheduler) Cancel(ctx context.Context, versionID string) (int, error) {
	removed := 0
	for _, jobType := range JobTypes {
		jobs, err := s.queue.ListPending(ctx, jobType)
		if err != nil {
			return removed, errors.Unavailable(err, "failed to list pending jobs")
		}
		for _, job := range jobs {
			p, err := decodePayload(job)
			if err != nil || p.VersionID != versionID {
				continue
			}
			ok, err := s.queue.Remove(ctx, job)
			if err != nil {
				return removed, errors.Unavailable(err, "failed to remove job")
			}
			if ok {
				removed++
			}
		}
	}
	return removed, nil
}

// Start launches one polling worker per job type. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers != nil {
		return fmt.Errorf("scheduler already started")
	}

	ctx, stop := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	for _, jobType := range JobTypes {
		g.Go(func() error {
			s.poll(ctx, jobType)
			return nil
		})
	}

	s.stop = stop
	s.workers = g
	s.log.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Int("batch_size", s.cfg.BatchSize).
		Msg("Approval job workers started")
	return nil
}

// Shutdown stops the workers and waits for in-flight jobs, or until ctx is
// done. Jobs interrupted by shutdown are redelivered after their visibility
// timeout.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	stop, g := s.stop, s.workers
	s.stop, s.workers = nil, nil
	s.mu.Unlock()

	if g == nil {
		return nil
	}
	stop()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		s.log.Info().Msg("Approval job workers stopped")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) poll(ctx context.Context, jobType string) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.ProcessDue(ctx, jobType); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Str("job_type", jobType).Msg("Failed to claim due jobs")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessDue claims one batch of due jobs of jobType and runs them. It
// returns the number of jobs claimed.
func (s *Scheduler) ProcessDue(ctx context.Context, jobType string) (int, error) {
	jobs, err := s.queue.Claim(ctx, jobType, s.cfg.BatchSize, s.cfg.VisibilityTimeout)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		s.process(ctx, job)
	}
	return len(jobs), nil
}

func (s *Scheduler) process(ctx context.Context, job *jobqueue.Job) {
	log := s.log.Logger.With().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Int("attempt", job.Attempts).
		Logger()

	p, err := decodePayload(job)
	if err != nil {
		log.Error().Err(err).Msg("Dropping job with unreadable payload")
		s.metrics.JobProcessed(job.Type, "failed")
		s.finish(s.queue.Fail(ctx, job, err), job)
		return
	}

	var result string
	switch job.Type {
	case JobReminder:
		result, err = s.handleReminder(ctx, p)
	case JobEscalation:
		result, err = s.handleEscalation(ctx, p)
	default:
		err = fmt.Errorf("unknown job type %q", job.Type)
	}

	if err == nil {
		s.metrics.JobProcessed(job.Type, result)
		s.finish(s.queue.Complete(ctx, job), job)
		return
	}

	if job.Attempts >= s.cfg.MaxAttempts {
		log.Error().Err(err).Str("version_id", p.VersionID).Msg("Approval job failed permanently")
		s.metrics.JobProcessed(job.Type, "failed")
		s.finish(s.queue.Fail(ctx, job, err), job)
		return
	}

	delay := s.cfg.RetryBackoff * time.Duration(job.Attempts)
	log.Warn().Err(err).Str("version_id", p.VersionID).Dur("retry_in", delay).Msg("Approval job failed, retrying")
	s.metrics.JobProcessed(job.Type, "retried")
	s.finish(s.queue.Retry(ctx, job, err, delay), job)
}

func (s *Scheduler) finish(err error, job *jobqueue.Job) {
	if err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to update job state")
	}
}

func jsonPayload(versionID, documentID string) ([]byte, error) {
	return json.Marshal(Payload{VersionID: versionID, DocumentID: documentID})
}

func decodePayload(job *jobqueue.Job) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", job.Type, err)
	}
	if p.VersionID == "" {
		return p, fmt.Errorf("decode %s payload: missing versionId", job.Type)
	}
	return p, nil
}
