package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-documents/internal/platform/config"
	"github.com/pesio-ai/be-documents/internal/platform/errors"
	"github.com/pesio-ai/be-documents/internal/platform/logger"
	"github.com/pesio-ai/be-documents/internal/platform/metrics"
	"github.com/pesio-ai/be-documents/internal/repository"
)

const defaultClassification = "internal"

// DocumentService handles documents and the version ingest pipeline.
type DocumentService struct {
	store     repository.Store
	directory repository.Directory
	objects   ObjectStore
	scanner   MalwareScanner
	jobs      JobScheduler
	cfg       config.WorkflowConfig
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// NewDocumentService creates a new document service
func NewDocumentService(
	store repository.Store,
	directory repository.Directory,
	objects ObjectStore,
	scanner MalwareScanner,
	jobs JobScheduler,
	cfg config.WorkflowConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *DocumentService {
	return &DocumentService{
		store:     store,
		directory: directory,
		objects:   objects,
		scanner:   scanner,
		jobs:      jobs,
		cfg:       cfg,
		metrics:   m,
		log:       log,
	}
}

// CreateDocumentRequest represents a create document request
type CreateDocumentRequest struct {
	ProjectID       string
	Title           string
	DocType         string
	Classification  string
	OwnerID         string
	Tags            []string
	LinkedTaskIDs   []string
	LinkedKPIIDs    []string
	RetentionPolicy *string
}

// CreateDocument registers a document in a project. Its storage key prefix is
// fixed at creation and shared by all of its versions.
func (s *DocumentService) CreateDocument(ctx context.Context, req *CreateDocumentRequest) (*repository.Document, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}
	if req.ProjectID == "" {
		return nil, errors.InvalidInput("project_id", "project is required")
	}
	if req.OwnerID == "" {
		return nil, errors.InvalidInput("owner_id", "owner is required")
	}

	if _, err := s.directory.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	if _, err := s.directory.GetUser(ctx, req.OwnerID); err != nil {
		return nil, err
	}

	classification := req.Classification
	if classification == "" {
		classification = defaultClassification
	}

	id := uuid.NewString()
	doc := &repository.Document{
		ID:               id,
		ProjectID:        req.ProjectID,
		Title:            title,
		DocType:          req.DocType,
		Classification:   classification,
		OwnerID:          req.OwnerID,
		StorageKeyPrefix: fmt.Sprintf("projects/%s/documents/%s", req.ProjectID, id),
		Tags:             dedupe(req.Tags),
		LinkedTaskIDs:    dedupe(req.LinkedTaskIDs),
		LinkedKPIIDs:     dedupe(req.LinkedKPIIDs),
		RetentionPolicy:  req.RetentionPolicy,
	}

	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("document_id", doc.ID).
		Str("project_id", doc.ProjectID).
		Msg("Document created")

	return doc, nil
}

// GetDocument retrieves a document by ID
func (s *DocumentService) GetDocument(ctx context.Context, id string) (*repository.Document, error) {
	return s.store.GetDocument(ctx, id)
}

// GetVersion retrieves a document version by ID
func (s *DocumentService) GetVersion(ctx context.Context, id string) (*repository.DocumentVersion, error) {
	return s.store.GetVersion(ctx, id)
}

// ListVersions lists the versions of a document, newest first.
func (s *DocumentService) ListVersions(ctx context.Context, documentID string) ([]*repository.DocumentVersion, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, documentID)
}

// OpenVersion opens the content of a version for reading. The caller closes
// the returned reader.
func (s *DocumentService) OpenVersion(ctx context.Context, versionID string) (io.ReadCloser, *repository.DocumentVersion, error) {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.objects.GetStream(ctx, v.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return rc, v, nil
}

// dedupe trims entries, drops empties and keeps the first occurrence of each.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
