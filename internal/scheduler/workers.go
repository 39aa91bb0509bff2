package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-documents/internal/platform/errors"
	"github.com/pesio-ai/be-documents/internal/repository"
)

// Job results recorded in metrics.
const (
	resultNotified = "notified"
	resultStale    = "stale"
	resultIdle     = "no_recipients"
)

// reviewState is what a worker acts on once the staleness guard has passed.
type reviewState struct {
	version *repository.DocumentVersion
	doc     *repository.Document
	pending []*repository.User
}

// loadReviewState re-reads the version and returns nil when it is no longer
// IN_REVIEW. A version that no longer exists counts as stale too.
func (s *Scheduler) loadReviewState(ctx context.Context, p Payload) (*reviewState, error) {
	v, err := s.versions.GetVersion(ctx, p.VersionID)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if v.Status != repository.VersionInReview {
		return nil, nil
	}

	doc, err := s.versions.GetDocument(ctx, v.DocumentID)
	if err != nil {
		return nil, err
	}
	pending, err := s.PendingApprovers(ctx, doc.ProjectID, v.ID)
	if err != nil {
		return nil, err
	}
	return &reviewState{version: v, doc: doc, pending: pending}, nil
}

// PendingApprovers returns the project's approvers who have not recorded a
// decision on the version.
func (s *Scheduler) PendingApprovers(ctx context.Context, projectID, versionID string) ([]*repository.User, error) {
	roster, err := s.directory.ListProjectMembers(ctx, projectID, repository.RoleApprover)
	if err != nil {
		return nil, err
	}
	approvals, err := s.versions.ListApprovals(ctx, versionID)
	if err != nil {
		return nil, err
	}

	decided := make(map[string]struct{}, len(approvals))
	for _, a := range approvals {
		decided[a.ApproverID] = struct{}{}
	}

	pending := make([]*repository.User, 0, len(roster))
	for _, u := range roster {
		if _, ok := decided[u.ID]; !ok {
			pending = append(pending, u)
		}
	}
	return pending, nil
}

func (s *Scheduler) handleReminder(ctx context.Context, p Payload) (string, error) {
	st, err := s.loadReviewState(ctx, p)
	if err != nil {
		return "", err
	}
	if st == nil {
		s.log.Debug().Str("version_id", p.VersionID).Msg("Reminder skipped, version no longer in review")
		return resultStale, nil
	}
	if len(st.pending) == 0 {
		return resultIdle, nil
	}

	recipients := make([]string, 0, len(st.pending))
	for _, u := range st.pending {
		recipients = append(recipients, u.ID)
	}

	subject := fmt.Sprintf("Approval pending: %s %s", st.doc.Title, st.version.VersionNo)
	body := fmt.Sprintf("Version %s of %q is waiting for your decision since %s.",
		st.version.VersionNo, st.doc.Title, st.version.CreatedAt.UTC().Format(time.RFC1123))

	s.notify(ctx, JobReminder, st.version.ID, recipients, subject, body)
	return resultNotified, nil
}

// handleEscalation tells the document owner and the project managers which
// approvers have not decided.
func (s *Scheduler) handleEscalation(ctx context.Context, p Payload) (string, error) {
	st, err := s.loadReviewState(ctx, p)
	if err != nil {
		return "", err
	}
	if st == nil {
		s.log.Debug().Str("version_id", p.VersionID).Msg("Escalation skipped, version no longer in review")
		return resultStale, nil
	}
	if len(st.pending) == 0 {
		return resultIdle, nil
	}

	managers, err := s.directory.ListProjectMembers(ctx, st.doc.ProjectID, repository.RoleManager)
	if err != nil {
		return "", err
	}

	recipients := []string{st.doc.OwnerID}
	seen := map[string]struct{}{st.doc.OwnerID: {}}
	for _, m := range managers {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		recipients = append(recipients, m.ID)
	}

	names := make([]string, 0, len(st.pending))
	for _, u := range st.pending {
		names = append(names, u.DisplayName)
	}

	subject := fmt.Sprintf("Approval overdue: %s %s", st.doc.Title, st.version.VersionNo)
	body := fmt.Sprintf("Version %s of %q has been in review since %s, waiting on %s.",
		st.version.VersionNo, st.doc.Title, st.version.CreatedAt.UTC().Format(time.RFC1123),
		strings.Join(names, ", "))

	s.notify(ctx, JobEscalation, st.version.ID, recipients, subject, body)
	return resultNotified, nil
}

// notify sends and logs. Notification failures are not retried.
func (s *Scheduler) notify(ctx context.Context, kind, versionID string, recipients []string, subject, body string) {
	if err := s.notifier.Send(ctx, recipients, subject, body); err != nil {
		s.log.Warn().Err(err).
			Str("version_id", versionID).
			Str("kind", kind).
			Msg("Failed to send notification")
		return
	}
	s.metrics.NotificationSent(kind)
	s.log.Info().
		Str("version_id", versionID).
		Str("kind", kind).
		Int("recipients", len(recipients)).
		Msg("Notification sent")
}

// Reschedule enqueues reminder and escalation jobs for versions in review
// that have none pending. Due times are kept relative to the version's
// creation; jobs that would already be due are only enqueued when
// includeOverdue is set, since they may have fired before. It returns the
// number of jobs enqueued.
func (s *Scheduler) Reschedule(ctx context.Context, includeOverdue bool) (int, error) {
	versions, err := s.versions.ListVersionsByStatus(ctx, repository.VersionInReview, 0)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, jobType := range JobTypes {
		pending, err := s.queue.ListPending(ctx, jobType)
		if err != nil {
			return enqueued, errors.Unavailable(err, "failed to list pending jobs")
		}
		has := make(map[string]struct{}, len(pending))
		for _, job := range pending {
			if p, err := decodePayload(job); err == nil {
				has[p.VersionID] = struct{}{}
			}
		}

		delay := s.cfg.ReminderDelay
		if jobType == JobEscalation {
			delay = s.cfg.EscalationDelay
		}

		for _, v := range versions {
			if _, ok := has[v.ID]; ok {
				continue
			}
			remaining := v.CreatedAt.Add(delay).Sub(s.now())
			if remaining <= 0 {
				if !includeOverdue {
					continue
				}
				remaining = 0
			}
			n, err := s.enqueue(ctx, jobType, v, remaining)
			if err != nil {
				return enqueued, err
			}
			enqueued += n
		}
	}

	s.log.Info().Int("enqueued", enqueued).Int("in_review", len(versions)).Msg("Approval jobs rescheduled")
	return enqueued, nil
}

func (s *Scheduler) enqueue(ctx context.Context, jobType string, v *repository.DocumentVersion, delay time.Duration) (int, error) {
	payload, err := jsonPayload(v.ID, v.DocumentID)
	if err != nil {
		return 0, err
	}
	if _, err := s.queue.Enqueue(ctx, jobType, payload, delay); err != nil {
		return 0, errors.Unavailable(err, "failed to enqueue "+jobType)
	}
	return 1, nil
}
