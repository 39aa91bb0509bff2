package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-documents/internal/platform/config"
	"github.com/pesio-ai/be-documents/internal/platform/errors"
	"github.com/pesio-ai/be-documents/internal/platform/logger"
	"github.com/pesio-ai/be-documents/internal/platform/metrics"
	"github.com/pesio-ai/be-documents/internal/repository"
)

// ApprovalService records approver decisions and drives the version state
// machine:
//
//	IN_REVIEW --REJECTED--------------------------> ARCHIVED
//	IN_REVIEW --APPROVED (distinct approvers >= quorum)--> PUBLISHED
//	PUBLISHED --another version published--------> ARCHIVED
type ApprovalService struct {
	store     repository.Store
	directory repository.Directory
	jobs      JobScheduler
	quorum    int
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// NewApprovalService creates a new approval service
func NewApprovalService(
	store repository.Store,
	directory repository.Directory,
	jobs JobScheduler,
	cfg config.WorkflowConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *ApprovalService {
	quorum := cfg.Quorum
	if quorum < 1 {
		quorum = 1
	}
	return &ApprovalService{
		store:     store,
		directory: directory,
		jobs:      jobs,
		quorum:    quorum,
		metrics:   m,
		log:       log,
	}
}

// RecordDecisionRequest represents an approver's decision on a version.
type RecordDecisionRequest struct {
	VersionID  string
	ApproverID string
	Decision   repository.Decision
	Comment    *string
}

// DecisionResult is the stored decision and the version state after it.
type DecisionResult struct {
	Approval *repository.DocumentApproval
	Version  *repository.DocumentVersion
	// Superseded is the previously published version archived by a promotion.
	Superseded *string
}

// Outcomes reported by RecordDecision.
const (
	outcomeRecorded  = "recorded"
	outcomeArchived  = "archived"
	outcomePublished = "published"
	outcomeConflict  = "conflict"
)

// RecordDecision stores a decision and applies its consequence in the same
// transaction. A rejection archives the version; an approval that brings the
// number of distinct approvers to the quorum publishes it, archiving the
// document's previous published version. Decisions on a version that is no
// longer in review fail with a conflict.
func (s *ApprovalService) RecordDecision(ctx context.Context, req *RecordDecisionRequest) (*DecisionResult, error) {
	if !req.Decision.Valid() {
		return nil, errors.InvalidInput("decision", "decision must be APPROVED or REJECTED")
	}
	if req.ApproverID == "" {
		return nil, errors.InvalidInput("approver_id", "approver is required")
	}
	if _, err := s.directory.GetUser(ctx, req.ApproverID); err != nil {
		return nil, err
	}

	var (
		result  DecisionResult
		outcome = outcomeRecorded
	)

	err := s.store.InTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		v, err := tx.LockVersion(ctx, req.VersionID)
		if err != nil {
			return err
		}
		if err := assertInReview(v); err != nil {
			return err
		}

		approval := &repository.DocumentApproval{
			ID:         uuid.NewString(),
			VersionID:  v.ID,
			ApproverID: req.ApproverID,
			Decision:   req.Decision,
			Comment:    req.Comment,
		}
		if err := tx.UpsertApproval(ctx, approval); err != nil {
			return err
		}
		result.Approval = approval

		switch req.Decision {
		case repository.DecisionRejected:
			if err := transition(ctx, tx, v.ID, repository.VersionInReview, repository.VersionArchived); err != nil {
				return err
			}
			outcome = outcomeArchived

		case repository.DecisionApproved:
			approvals, err := tx.CountDecisions(ctx, v.ID, repository.DecisionApproved)
			if err != nil {
				return err
			}
			if approvals >= s.quorum {
				superseded, err := s.promote(ctx, tx, v)
				if err != nil {
					return err
				}
				result.Superseded = superseded
				outcome = outcomePublished
			}
		}

		result.Version, err = tx.LockVersion(ctx, v.ID)
		return err
	})
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeConflict) {
			s.metrics.DecisionRecorded(string(req.Decision), outcomeConflict)
		}
		return nil, err
	}

	s.metrics.DecisionRecorded(string(req.Decision), outcome)
	s.log.Info().
		Str("version_id", req.VersionID).
		Str("approver_id", req.ApproverID).
		Str("decision", string(req.Decision)).
		Str("status", string(result.Version.Status)).
		Msg("Approval decision recorded")

	if outcome != outcomeRecorded {
		s.cancelJobs(ctx, req.VersionID)
	}
	return &result, nil
}

// promote publishes v and makes it the document's current version. It runs
// with v locked; the document row is locked second, the same order every
// writer uses.
func (s *ApprovalService) promote(ctx context.Context, tx repository.Tx, v *repository.DocumentVersion) (*string, error) {
	doc, err := tx.LockDocument(ctx, v.DocumentID)
	if err != nil {
		return nil, err
	}

	previous := doc.CurrentVersionID
	var superseded *string
	if previous != nil && *previous != v.ID {
		ok, err := tx.TransitionVersion(ctx, *previous, repository.VersionPublished, repository.VersionArchived)
		if err != nil {
			return nil, err
		}
		if ok {
			superseded = previous
		} else {
			s.log.Warn().
				Str("document_id", doc.ID).
				Str("current_version_id", *previous).
				Msg("Current version was not PUBLISHED at promotion")
		}
	}

	if err := transition(ctx, tx, v.ID, repository.VersionInReview, repository.VersionPublished); err != nil {
		return nil, err
	}

	swapped, err := tx.SwapCurrentVersion(ctx, doc.ID, previous, v.ID)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, errors.Conflict("document current version changed concurrently")
	}

	s.log.Info().
		Str("document_id", doc.ID).
		Str("version_id", v.ID).
		Str("version_no", v.VersionNo).
		Msg("Document version published")
	return superseded, nil
}

// cancelJobs drops the version's pending reminder and escalation jobs. The
// workers re-check the version state, so a failure here is only logged.
func (s *ApprovalService) cancelJobs(ctx context.Context, versionID string) {
	n, err := s.jobs.Cancel(context.WithoutCancel(ctx), versionID)
	if err != nil {
		s.log.Warn().Err(err).Str("version_id", versionID).Msg("Failed to cancel approval jobs")
		return
	}
	s.log.Debug().Str("version_id", versionID).Int("cancelled", n).Msg("Approval jobs cancelled")
}

// ListApprovals lists the decisions recorded for a version.
func (s *ApprovalService) ListApprovals(ctx context.Context, versionID string) ([]*repository.DocumentApproval, error) {
	if _, err := s.store.GetVersion(ctx, versionID); err != nil {
		return nil, err
	}
	return s.store.ListApprovals(ctx, versionID)
}

func assertInReview(v *repository.DocumentVersion) error {
	switch v.Status {
	case repository.VersionInReview:
		return nil
	case repository.VersionArchived:
		return errors.Conflict("version already closed")
	default:
		return errors.Conflict(fmt.Sprintf("version is no longer in review (status: %s)", v.Status))
	}
}

func transition(ctx context.Context, tx repository.Tx, id string, from, to repository.VersionStatus) error {
	ok, err := tx.TransitionVersion(ctx, id, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Conflict(fmt.Sprintf("version is not %s", from))
	}
	return nil
}
