package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-documents/internal/platform/errors"
	"github.com/pesio-ai/be-documents/internal/repository"
	"github.com/pesio-ai/be-documents/internal/scanner"
)

// IngestVersionRequest represents an upload of new document content.
type IngestVersionRequest struct {
	DocumentID string
	UploaderID string
	Content    []byte
	MimeType   string
	// VersionNo is an optional explicit label; empty means next patch.
	VersionNo string
}

// RestoreVersionRequest re-submits the content of an earlier version for review.
type RestoreVersionRequest struct {
	VersionID  string
	UploaderID string
	VersionNo  string
}

// IngestVersion validates, scans and stores content as a new IN_REVIEW
// version and schedules its reminder and escalation jobs.
//
// Nothing is stored when validation or the malware gate fails. The blob is
// written before the version row so a visible version always has content.
func (s *DocumentService) IngestVersion(ctx context.Context, req *IngestVersionRequest) (*repository.DocumentVersion, error) {
	size := int64(len(req.Content))
	if size == 0 {
		s.metrics.VersionIngested("invalid")
		return nil, errors.InvalidInput("content", "content is empty")
	}
	if s.cfg.MaxUploadBytes > 0 && size > s.cfg.MaxUploadBytes {
		s.metrics.VersionIngested("invalid")
		return nil, errors.InvalidInput("content",
			fmt.Sprintf("content is %d bytes, limit is %d", size, s.cfg.MaxUploadBytes))
	}
	if req.VersionNo != "" {
		if _, err := ParseVersionNo(req.VersionNo); err != nil {
			s.metrics.VersionIngested("invalid")
			return nil, errors.InvalidInput("version_no", "version must be major.minor.patch")
		}
	}

	doc, err := s.resolveUpload(ctx, req.DocumentID, req.UploaderID)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(req.Content)
	checksum := hex.EncodeToString(sum[:])

	result, err := s.scanner.Scan(ctx, req.Content)
	if err != nil {
		s.metrics.VersionIngested("failed")
		return nil, errors.Unavailable(err, "malware scan failed")
	}
	if result.Verdict != scanner.VerdictClean {
		s.metrics.VersionIngested("infected")
		s.log.Warn().
			Str("document_id", doc.ID).
			Str("uploader_id", req.UploaderID).
			Str("checksum", checksum).
			Str("signature", result.Signature).
			Msg("Upload rejected by malware scan")
		return nil, errors.IntegrityViolation("content failed malware scan")
	}

	mimeType := strings.TrimSpace(req.MimeType)
	if mimeType == "" {
		mimeType = http.DetectContentType(req.Content)
	}

	v := &repository.DocumentVersion{
		ID:                uuid.NewString(),
		DocumentID:        doc.ID,
		Status:            repository.VersionInReview,
		Checksum:          checksum,
		SizeBytes:         size,
		MimeType:          mimeType,
		MalwareScanStatus: repository.ScanClean,
		CreatedBy:         req.UploaderID,
	}
	v.StorageKey = doc.StorageKeyPrefix + "/" + v.ID

	if err := s.objects.Put(ctx, v.StorageKey, req.Content, mimeType); err != nil {
		s.metrics.VersionIngested("failed")
		return nil, errors.Unavailable(err, "failed to store content")
	}

	if err := s.createVersion(ctx, v, req.VersionNo); err != nil {
		return nil, err
	}
	return v, nil
}

// RestoreVersion creates a new IN_REVIEW version whose content is a server
// side copy of an earlier version.
func (s *DocumentService) RestoreVersion(ctx context.Context, req *RestoreVersionRequest) (*repository.DocumentVersion, error) {
	if req.VersionNo != "" {
		if _, err := ParseVersionNo(req.VersionNo); err != nil {
			return nil, errors.InvalidInput("version_no", "version must be major.minor.patch")
		}
	}

	src, err := s.store.GetVersion(ctx, req.VersionID)
	if err != nil {
		return nil, err
	}
	if src.MalwareScanStatus != repository.ScanClean {
		return nil, errors.IntegrityViolation("source version did not pass the malware scan")
	}

	doc, err := s.resolveUpload(ctx, src.DocumentID, req.UploaderID)
	if err != nil {
		return nil, err
	}

	v := &repository.DocumentVersion{
		ID:                uuid.NewString(),
		DocumentID:        doc.ID,
		Status:            repository.VersionInReview,
		Checksum:          src.Checksum,
		SizeBytes:         src.SizeBytes,
		MimeType:          src.MimeType,
		MalwareScanStatus: repository.ScanClean,
		CreatedBy:         req.UploaderID,
	}
	v.StorageKey = doc.StorageKeyPrefix + "/" + v.ID

	if err := s.objects.Copy(ctx, src.StorageKey, v.StorageKey); err != nil {
		s.metrics.VersionIngested("failed")
		return nil, errors.Unavailable(err, "failed to copy content")
	}

	if err := s.createVersion(ctx, v, req.VersionNo); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("version_id", v.ID).
		Str("restored_from", src.ID).
		Msg("Document version restored")
	return v, nil
}

// resolveUpload checks that the document, its project and the uploader exist.
func (s *DocumentService) resolveUpload(ctx context.Context, documentID, uploaderID string) (*repository.Document, error) {
	if uploaderID == "" {
		return nil, errors.InvalidInput("uploader_id", "uploader is required")
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.directory.GetProject(ctx, doc.ProjectID); err != nil {
		return nil, err
	}
	if _, err := s.directory.GetUser(ctx, uploaderID); err != nil {
		return nil, err
	}
	return doc, nil
}

// createVersion assigns the version label, inserts the row and schedules its
// jobs in one transaction. The blob at v.StorageKey must already exist and is
// removed again when the transaction fails.
func (s *DocumentService) createVersion(ctx context.Context, v *repository.DocumentVersion, label string) error {
	err := s.store.InTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		// Serializes label assignment per document.
		if _, err := tx.LockDocument(ctx, v.DocumentID); err != nil {
			return err
		}

		latest, err := tx.LatestVersionNo(ctx, v.DocumentID)
		if err != nil {
			return err
		}

		if label != "" {
			if err := checkExplicitLabel(label, latest); err != nil {
				return err
			}
			v.VersionNo = label
		} else {
			next, reset := NextVersionNo(latest)
			if reset {
				s.log.Warn().
					Str("document_id", v.DocumentID).
					Str("latest_version_no", latest).
					Msg("Latest version label cannot be incremented, restarting numbering at " + InitialVersionNo)
			}
			v.VersionNo = next
		}

		if err := tx.InsertVersion(ctx, v); err != nil {
			return err
		}
		return s.jobs.Schedule(ctx, v.ID, v.DocumentID)
	})
	if err != nil {
		s.removeOrphan(ctx, v.StorageKey)
		if errors.CodeOf(err) == errors.ErrCodeInvalidInput || errors.CodeOf(err) == errors.ErrCodeConflict {
			s.metrics.VersionIngested("invalid")
			return err
		}
		s.metrics.VersionIngested("failed")
		return errors.Unavailable(err, "failed to create document version")
	}

	s.metrics.VersionIngested("accepted")
	s.log.Info().
		Str("document_id", v.DocumentID).
		Str("version_id", v.ID).
		Str("version_no", v.VersionNo).
		Int64("size_bytes", v.SizeBytes).
		Msg("Document version ingested")
	return nil
}

// checkExplicitLabel keeps labels increasing when the latest one is readable.
func checkExplicitLabel(label, latest string) error {
	want, err := ParseVersionNo(label)
	if err != nil {
		return errors.InvalidInput("version_no", "version must be major.minor.patch")
	}
	if latest == "" {
		return nil
	}
	prev, err := ParseVersionNo(latest)
	if err != nil {
		return nil
	}
	if !prev.Less(want) {
		return errors.InvalidInput("version_no",
			fmt.Sprintf("version must be greater than %s", prev))
	}
	return nil
}

func (s *DocumentService) removeOrphan(ctx context.Context, key string) {
	if err := s.objects.Remove(context.WithoutCancel(ctx), key); err != nil {
		s.log.Error().Err(err).Str("storage_key", key).Msg("Failed to remove orphaned blob")
	}
}
