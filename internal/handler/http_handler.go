package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pesio-ai/be-documents/internal/platform/errors"
	"github.com/pesio-ai/be-documents/internal/platform/logger"
	"github.com/pesio-ai/be-documents/internal/platform/middleware"
	"github.com/pesio-ai/be-documents/internal/repository"
	"github.com/pesio-ai/be-documents/internal/service"
)

// userHeader carries the authenticated caller, set by the gateway.
const userHeader = "X-User-ID"

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	documents      *service.DocumentService
	approvals      *service.ApprovalService
	maxUploadBytes int64
	log            *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	documents *service.DocumentService,
	approvals *service.ApprovalService,
	maxUploadBytes int64,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		documents:      documents,
		approvals:      approvals,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

// Register mounts the API routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.CreateDocument)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("GET /api/v1/documents/{id}/versions", h.ListVersions)
	mux.HandleFunc("POST /api/v1/documents/{id}/versions", h.UploadVersion)
	mux.HandleFunc("GET /api/v1/versions/{id}", h.GetVersion)
	mux.HandleFunc("GET /api/v1/versions/{id}/content", h.DownloadVersion)
	mux.HandleFunc("POST /api/v1/versions/{id}/restore", h.RestoreVersion)
	mux.HandleFunc("POST /api/v1/versions/{id}/decisions", h.RecordDecision)
	mux.HandleFunc("GET /api/v1/versions/{id}/approvals", h.ListApprovals)
}

type createDocumentRequest struct {
	ProjectID       string   `json:"projectId"`
	Title           string   `json:"title"`
	DocType         string   `json:"docType"`
	Classification  string   `json:"classification"`
	Tags            []string `json:"tags"`
	LinkedTaskIDs   []string `json:"linkedTaskIds"`
	LinkedKPIIDs    []string `json:"linkedKpiIds"`
	RetentionPolicy *string  `json:"retentionPolicy"`
}

// CreateDocument handles create document HTTP requests. The caller becomes
// the owner.
func (h *HTTPHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	doc, err := h.documents.CreateDocument(r.Context(), &service.CreateDocumentRequest{
		ProjectID:       req.ProjectID,
		Title:           req.Title,
		DocType:         req.DocType,
		Classification:  req.Classification,
		OwnerID:         r.Header.Get(userHeader),
		Tags:            req.Tags,
		LinkedTaskIDs:   req.LinkedTaskIDs,
		LinkedKPIIDs:    req.LinkedKPIIDs,
		RetentionPolicy: req.RetentionPolicy,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.respond(w, r, http.StatusCreated, toDocumentResponse(doc))
}

// GetDocument handles get document HTTP requests
func (h *HTTPHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, toDocumentResponse(doc))
}

// ListVersions handles list versions HTTP requests
func (h *HTTPHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.documents.ListVersions(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]versionResponse, 0, len(versions))
	for _, v := range versions {
		out = append(out, toVersionResponse(v))
	}
	h.respond(w, r, http.StatusOK, map[string]interface{}{"versions": out})
}

// UploadVersion ingests the raw request body as a new version. The optional
// version_no query parameter sets an explicit label.
func (h *HTTPHandler) UploadVersion(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if h.maxUploadBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	content, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, errors.InvalidInput("content",
				fmt.Sprintf("content exceeds limit of %d bytes", tooLarge.Limit)))
			return
		}
		h.writeError(w, r, errors.InvalidInput("content", "failed to read request body"))
		return
	}

	v, err := h.documents.IngestVersion(r.Context(), &service.IngestVersionRequest{
		DocumentID: r.PathValue("id"),
		UploaderID: r.Header.Get(userHeader),
		Content:    content,
		MimeType:   r.Header.Get("Content-Type"),
		VersionNo:  r.URL.Query().Get("version_no"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.respond(w, r, http.StatusCreated, toVersionResponse(v))
}

// GetVersion handles get version HTTP requests
func (h *HTTPHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.documents.GetVersion(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, toVersionResponse(v))
}

// DownloadVersion streams the version content.
func (h *HTTPHandler) DownloadVersion(w http.ResponseWriter, r *http.Request) {
	rc, v, err := h.documents.OpenVersion(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", v.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(v.SizeBytes, 10))
	w.Header().Set("ETag", strconv.Quote(v.Checksum))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn().Err(err).Str("version_id", v.ID).Msg("Download interrupted")
	}
}

type restoreRequest struct {
	VersionNo string `json:"versionNo"`
}

// RestoreVersion re-submits an earlier version's content for review.
func (h *HTTPHandler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
			return
		}
	}

	v, err := h.documents.RestoreVersion(r.Context(), &service.RestoreVersionRequest{
		VersionID:  r.PathValue("id"),
		UploaderID: r.Header.Get(userHeader),
		VersionNo:  req.VersionNo,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusCreated, toVersionResponse(v))
}

type decisionRequest struct {
	Decision string  `json:"decision"`
	Comment  *string `json:"comment"`
}

// RecordDecision records the caller's decision on a version.
func (h *HTTPHandler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	res, err := h.approvals.RecordDecision(r.Context(), &service.RecordDecisionRequest{
		VersionID:  r.PathValue("id"),
		ApproverID: r.Header.Get(userHeader),
		Decision:   repository.Decision(req.Decision),
		Comment:    req.Comment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, map[string]interface{}{
		"approval": toApprovalResponse(res.Approval),
		"version":  toVersionResponse(res.Version),
	})
}

// ListApprovals lists the decisions recorded on a version.
func (h *HTTPHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.approvals.ListApprovals(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]approvalResponse, 0, len(approvals))
	for _, a := range approvals {
		out = append(out, toApprovalResponse(a))
	}
	h.respond(w, r, http.StatusOK, map[string]interface{}{"approvals": out})
}

// ── responses ────────────────────────────────────────────────────────────────

type documentResponse struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"projectId"`
	Title            string    `json:"title"`
	DocType          string    `json:"docType"`
	Classification   string    `json:"classification"`
	OwnerID          string    `json:"ownerId"`
	Tags             []string  `json:"tags"`
	LinkedTaskIDs    []string  `json:"linkedTaskIds"`
	LinkedKPIIDs     []string  `json:"linkedKpiIds"`
	RetentionPolicy  *string   `json:"retentionPolicy,omitempty"`
	CurrentVersionID *string   `json:"currentVersionId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type versionResponse struct {
	ID                string    `json:"id"`
	DocumentID        string    `json:"documentId"`
	VersionNo         string    `json:"versionNo"`
	Status            string    `json:"status"`
	Checksum          string    `json:"checksum"`
	SizeBytes         int64     `json:"sizeBytes"`
	MimeType          string    `json:"mimeType"`
	MalwareScanStatus string    `json:"malwareScanStatus"`
	CreatedBy         string    `json:"createdBy"`
	CreatedAt         time.Time `json:"createdAt"`
}

type approvalResponse struct {
	ID         string    `json:"id"`
	VersionID  string    `json:"versionId"`
	ApproverID string    `json:"approverId"`
	Decision   string    `json:"decision"`
	Comment    *string   `json:"comment,omitempty"`
	DecidedAt  time.Time `json:"decidedAt"`
}

func toDocumentResponse(d *repository.Document) documentResponse {
	return documentResponse{
		ID:               d.ID,
		ProjectID:        d.ProjectID,
		Title:            d.Title,
		DocType:          d.DocType,
		Classification:   d.Classification,
		OwnerID:          d.OwnerID,
		Tags:             nonNil(d.Tags),
		LinkedTaskIDs:    nonNil(d.LinkedTaskIDs),
		LinkedKPIIDs:     nonNil(d.LinkedKPIIDs),
		RetentionPolicy:  d.RetentionPolicy,
		CurrentVersionID: d.CurrentVersionID,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func toVersionResponse(v *repository.DocumentVersion) versionResponse {
	return versionResponse{
		ID:                v.ID,
		DocumentID:        v.DocumentID,
		VersionNo:         v.VersionNo,
		Status:            string(v.Status),
		Checksum:          v.Checksum,
		SizeBytes:         v.SizeBytes,
		MimeType:          v.MimeType,
		MalwareScanStatus: string(v.MalwareScanStatus),
		CreatedBy:         v.CreatedBy,
		CreatedAt:         v.CreatedAt,
	}
}

func toApprovalResponse(a *repository.DocumentApproval) approvalResponse {
	return approvalResponse{
		ID:         a.ID,
		VersionID:  a.VersionID,
		ApproverID: a.ApproverID,
		Decision:   string(a.Decision),
		Comment:    a.Comment,
		DecidedAt:  a.DecidedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// writeError maps err to a status code. Details of internal and
// infrastructure failures are logged, not returned.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	body := errorBody{
		Code:      string(errors.CodeOf(err)),
		RequestID: middleware.GetRequestID(r.Context()),
	}

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
		body.Field = appErr.Field
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", body.RequestID).
			Msg("Request failed")
		if body.Message == "" {
			body.Message = "internal error"
		}
	}

	h.respond(w, r, status, map[string]interface{}{"error": body})
}

// respond writes v as JSON. The status line is already out when encoding
// fails, so the failure is only logged.
func (h *HTTPHandler) respond(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	if err := writeJSON(w, status, v); err != nil {
		h.log.Debug().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Msg("Failed to write response")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
