package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-documents/internal/platform/database"
	"github.com/pesio-ai/be-documents/internal/platform/errors"
)

// DocumentRepository is the PostgreSQL Store.
type DocumentRepository struct {
	db *database.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *database.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `
	id, project_id, title, doc_type, classification, owner_id,
	storage_key_prefix, tags, linked_task_ids, linked_kpi_ids,
	retention_policy, current_version_id, created_at, updated_at`

const versionColumns = `
	id, document_id, version_no, status, checksum, size_bytes,
	mime_type, storage_key, malware_scan_status, created_by,
	created_at, updated_at`

const approvalColumns = `
	id, version_id, approver_id, decision, comment, decided_at`

// CreateDocument inserts a document. ID and StorageKeyPrefix are set by the caller.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO documents
		    (id, project_id, title, doc_type, classification, owner_id,
		     storage_key_prefix, tags, linked_task_ids, linked_kpi_ids,
		     retention_policy)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10,
		        $11)
		RETURNING created_at, updated_at
	`

	err := r.db.Conn(ctx).QueryRow(ctx, query,
		doc.ID,
		doc.ProjectID,
		doc.Title,
		doc.DocType,
		doc.Classification,
		doc.OwnerID,
		doc.StorageKeyPrefix,
		nonNil(doc.Tags),
		nonNil(doc.LinkedTaskIDs),
		nonNil(doc.LinkedKPIIDs),
		doc.RetentionPolicy,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return dbError(err, "failed to create document")
	}
	return nil
}

// GetDocument retrieves a document by id.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	doc, err := scanDocument(r.db.Conn(ctx).QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("document", id)
	}
	if err != nil {
		return nil, dbError(err, "failed to get document")
	}
	return doc, nil
}

// GetVersion retrieves a version by id.
func (r *DocumentRepository) GetVersion(ctx context.Context, id string) (*DocumentVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM document_versions WHERE id = $1`

	v, err := scanVersion(r.db.Conn(ctx).QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("document_version", id)
	}
	if err != nil {
		return nil, dbError(err, "failed to get document version")
	}
	return v, nil
}

// ListVersions returns a document's versions, newest first.
func (r *DocumentRepository) ListVersions(ctx context.Context, documentID string) ([]*DocumentVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM document_versions
		WHERE document_id = $1
		ORDER BY seq DESC
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, documentID)
	if err != nil {
		return nil, dbError(err, "failed to list document versions")
	}
	defer rows.Close()

	return scanVersionRows(rows)
}

// ListVersionsByStatus returns up to limit versions in status, oldest first.
// A limit of zero returns all of them.
func (r *DocumentRepository) ListVersionsByStatus(ctx context.Context, status VersionStatus, limit int) ([]*DocumentVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM document_versions
		WHERE status = $1
		ORDER BY created_at ASC, seq ASC
		LIMIT NULLIF($2::int, 0)
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, dbError(err, "failed to list versions by status")
	}
	defer rows.Close()

	return scanVersionRows(rows)
}

// ListApprovals returns every decision recorded on a version.
func (r *DocumentRepository) ListApprovals(ctx context.Context, versionID string) ([]*DocumentApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM document_approvals
		WHERE version_id = $1
		ORDER BY decided_at ASC
	`

	rows, err := r.db.Conn(ctx).Query(ctx, query, versionID)
	if err != nil {
		return nil, dbError(err, "failed to list approvals")
	}
	defer rows.Close()

	var approvals []*DocumentApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "failed to read approvals")
	}
	return approvals, nil
}

// InTransaction runs fn in a database transaction.
func (r *DocumentRepository) InTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := r.db.InTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &documentTx{tx: tx})
	})
	return errors.Unavailable(err, "document transaction failed")
}

// ── transactional writes ──────────────────────────────────────────────────────

type documentTx struct {
	tx pgx.Tx
}

func (t *documentTx) LockDocument(ctx context.Context, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 FOR UPDATE`

	doc, err := scanDocument(t.tx.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("document", id)
	}
	if err != nil {
		return nil, dbError(err, "failed to lock document")
	}
	return doc, nil
}

func (t *documentTx) LockVersion(ctx context.Context, id string) (*DocumentVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM document_versions WHERE id = $1 FOR UPDATE`

	v, err := scanVersion(t.tx.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("document_version", id)
	}
	if err != nil {
		return nil, dbError(err, "failed to lock document version")
	}
	return v, nil
}

// LatestVersionNo returns the label of the most recently inserted version.
// created_at is not used: it can run backwards across concurrent uploads.
func (t *documentTx) LatestVersionNo(ctx context.Context, documentID string) (string, error) {
	query := `
		SELECT version_no
		FROM document_versions
		WHERE document_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`

	var versionNo string
	err := t.tx.QueryRow(ctx, query, documentID).Scan(&versionNo)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", dbError(err, "failed to read latest version")
	}
	return versionNo, nil
}

func (t *documentTx) InsertVersion(ctx context.Context, v *DocumentVersion) error {
	query := `
		INSERT INTO document_versions
		    (id, document_id, version_no, status, checksum, size_bytes,
		     mime_type, storage_key, malware_scan_status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		v.ID,
		v.DocumentID,
		v.VersionNo,
		string(v.Status),
		v.Checksum,
		v.SizeBytes,
		v.MimeType,
		v.StorageKey,
		string(v.MalwareScanStatus),
		v.CreatedBy,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return dbError(err, "failed to create document version")
	}
	return nil
}

func (t *documentTx) UpsertApproval(ctx context.Context, a *DocumentApproval) error {
	query := `
		INSERT INTO document_approvals
		    (id, version_id, approver_id, decision, comment, decided_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (version_id, approver_id) DO UPDATE
		SET decision   = EXCLUDED.decision,
		    comment    = EXCLUDED.comment,
		    decided_at = EXCLUDED.decided_at
		RETURNING id, decided_at
	`

	err := t.tx.QueryRow(ctx, query,
		a.ID,
		a.VersionID,
		a.ApproverID,
		string(a.Decision),
		a.Comment,
	).Scan(&a.ID, &a.DecidedAt)
	if err != nil {
		return dbError(err, "failed to record approval")
	}
	return nil
}

func (t *documentTx) CountDecisions(ctx context.Context, versionID string, decision Decision) (int, error) {
	query := `
		SELECT COUNT(DISTINCT approver_id)
		FROM document_approvals
		WHERE version_id = $1 AND decision = $2
	`

	var n int
	if err := t.tx.QueryRow(ctx, query, versionID, string(decision)).Scan(&n); err != nil {
		return 0, dbError(err, "failed to count decisions")
	}
	return n, nil
}

func (t *documentTx) TransitionVersion(ctx context.Context, id string, from, to VersionStatus) (bool, error) {
	query := `
		UPDATE document_versions
		SET status     = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	tag, err := t.tx.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return false, dbError(err, "failed to update version status")
	}
	return tag.RowsAffected() == 1, nil
}

func (t *documentTx) SwapCurrentVersion(ctx context.Context, documentID string, expected *string, next string) (bool, error) {
	query := `
		UPDATE documents
		SET current_version_id = $3,
		    updated_at         = NOW()
		WHERE id = $1
		  AND current_version_id IS NOT DISTINCT FROM $2::uuid
	`

	tag, err := t.tx.Exec(ctx, query, documentID, expected, next)
	if err != nil {
		return false, dbError(err, "failed to update current version")
	}
	return tag.RowsAffected() == 1, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	d := &Document{}
	err := row.Scan(
		&d.ID,
		&d.ProjectID,
		&d.Title,
		&d.DocType,
		&d.Classification,
		&d.OwnerID,
		&d.StorageKeyPrefix,
		&d.Tags,
		&d.LinkedTaskIDs,
		&d.LinkedKPIIDs,
		&d.RetentionPolicy,
		&d.CurrentVersionID,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func scanVersion(row rowScanner) (*DocumentVersion, error) {
	v := &DocumentVersion{}
	var status, scan string
	err := row.Scan(
		&v.ID,
		&v.DocumentID,
		&v.VersionNo,
		&status,
		&v.Checksum,
		&v.SizeBytes,
		&v.MimeType,
		&v.StorageKey,
		&scan,
		&v.CreatedBy,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Status = VersionStatus(status)
	v.MalwareScanStatus = ScanStatus(scan)
	return v, nil
}

func scanVersionRows(rows pgx.Rows) ([]*DocumentVersion, error) {
	var versions []*DocumentVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan document version")
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "failed to read document versions")
	}
	return versions, nil
}

func scanApproval(row rowScanner) (*DocumentApproval, error) {
	a := &DocumentApproval{}
	var decision string
	err := row.Scan(
		&a.ID,
		&a.VersionID,
		&a.ApproverID,
		&decision,
		&a.Comment,
		&a.DecidedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Decision = Decision(decision)
	return a, nil
}

// dbError maps unique violations to conflicts and everything else to a
// retryable infrastructure failure.
func dbError(err error, message string) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errors.Wrap(err, errors.ErrCodeConflict, message+": duplicate")
		case "23503", "23514", "22P02":
			return errors.Wrap(err, errors.ErrCodeInvalidInput, message)
		}
		return errors.Wrap(err, errors.ErrCodeInternal, message)
	}
	return errors.Unavailable(err, message)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
