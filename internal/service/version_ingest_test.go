package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-documents/internal/platform/errors"
	"github.com/pesio-ai/be-documents/internal/repository"
	"github.com/pesio-ai/be-documents/internal/scanner"
)

func TestIngestVersion_CreatesReviewableVersion(t *testing.T) {
	env := newTestEnv(t)

	v := env.ingest(t, "first draft")

	sum := sha256.Sum256([]byte("first draft"))
	assert.Equal(t, "1.0.0", v.VersionNo)
	assert.Equal(t, repository.VersionInReview, v.Status)
	assert.Equal(t, hex.EncodeToString(sum[:]), v.Checksum)
	assert.Equal(t, int64(len("first draft")), v.SizeBytes)
	assert.Equal(t, repository.ScanClean, v.MalwareScanStatus)
	assert.Equal(t, env.doc.StorageKeyPrefix+"/"+v.ID, v.StorageKey)
	assert.True(t, env.objects.Has(v.StorageKey))
	assert.True(t, env.jobs.isScheduled(v.ID))

	stored, err := env.documents.GetVersion(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.VersionNo, stored.VersionNo)
}

func TestIngestVersion_IncrementsPatch(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, "1.0.0", env.ingest(t, "a").VersionNo)
	assert.Equal(t, "1.0.1", env.ingest(t, "b").VersionNo)
	assert.Equal(t, "1.0.2", env.ingest(t, "c").VersionNo)

	versions, err := env.documents.ListVersions(context.Background(), env.doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "1.0.2", versions[0].VersionNo)
}

func TestIngestVersion_LatestFollowsInsertOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Each insert is stamped earlier than the previous one, as when a
	// transaction that started first commits last.
	var mu sync.Mutex
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	env.store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		ts = ts.Add(-time.Second)
		return ts
	})

	assert.Equal(t, "1.0.0", env.ingest(t, "a").VersionNo)
	assert.Equal(t, "1.0.1", env.ingest(t, "b").VersionNo)
	assert.Equal(t, "1.0.2", env.ingest(t, "c").VersionNo)

	_, err := env.documents.IngestVersion(ctx, &IngestVersionRequest{
		DocumentID: env.doc.ID,
		UploaderID: "uploader",
		Content:    []byte("d"),
		VersionNo:  "1.0.2",
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	versions, err := env.documents.ListVersions(ctx, env.doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "1.0.2", versions[0].VersionNo)
	assert.Equal(t, "1.0.0", versions[2].VersionNo)
}

func TestIngestVersion_ExplicitLabel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.ingest(t, "a")
	v, err := env.documents.IngestVersion(ctx, &IngestVersionRequest{
		DocumentID: env.doc.ID,
		UploaderID: "uploader",
		Content:    []byte("b"),
		VersionNo:  "1.2.7",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.2.7", v.VersionNo)
	assert.Equal(t, "1.2.8", env.ingest(t, "c").VersionNo)
}

func TestIngestVersion_ExplicitLabelMustIncrease(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "a")
	blobs := env.objects.Len()

	_, err := env.documents.IngestVersion(context.Background(), &IngestVersionRequest{
		DocumentID: env.doc.ID,
		UploaderID: "uploader",
		Content:    []byte("b"),
		VersionNo:  "1.0.0",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
	assert.Equal(t, 1, env.store.VersionCount())
	assert.Equal(t, blobs, env.objects.Len(), "blob of the rejected version must be removed")
}

func TestIngestVersion_MalformedExplicitLabel(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.documents.IngestVersion(context.Background(), &IngestVersionRequest{
		DocumentID: env.doc.ID,
		UploaderID: "uploader",
		Content:    []byte("a"),
		VersionNo:  "v2",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
	assert.Zero(t, env.objects.Puts())
}

func TestIngestVersion_MalformedLatestRestartsNumbering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.store.InTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertVersion(ctx, &repository.DocumentVersion{
			ID:                "legacy",
			DocumentID:        env.doc.ID,
			VersionNo:         "draft-3",
			Status:            repository.VersionArchived,
			MalwareScanStatus: repository.ScanClean,
		})
	})
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", env.ingest(t, "a").VersionNo)
}

func TestIngestVersion_OversizedContent(t *testing.T) {
	env := newTestEnv(t)
	env.documents.cfg.MaxUploadBytes = 1 << 10

	_, err := env.documents.IngestVersion(context.Background(), &IngestVersionRequest{
		DocumentID: env.doc.ID,
		UploaderID: "uploader",
		Content:    make([]byte, 2<<10),
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
	assert.Zero(t, env.scanner.Calls())
	assert.Zero(t, env.objects.Puts())
	assert.Zero(t, env.store.VersionCount())
}

func TestIngestVersion_EmptyContent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.documents.IngestVersion(context.Background(), &IngestVersionRequest{
		DocumentID: env.doc.ID,
		UploaderID: "uploader",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestIngestVersion_InfectedContent(t *testing.T) {
	env := newTestEnv(t)
	env.scanner.Verdict = scanner.VerdictInfected

	_, err := env.documents.IngestVersion(context.Background(), &IngestVersionRequest{
		DocumentID: env.doc.ID,
		UploaderID: "uploader",
		Content:    []byte("payload"),
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeIntegrityViolation))
	assert.Zero(t, env.objects.Puts())
	assert.Zero(t, env.store.VersionCount())
}

func TestIngestVersion_ScannerUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.scanner.Err = errBoom

	_, err := env.documents.IngestVersion(context.Background(), &IngestVersionRequest{
		DocumentID: env.doc.ID,
		UploaderID: "uploader",
		Content:    []byte("payload"),
	})
	require.Error(t, err)
	assert.True(t, errors.Retryable(err))
	assert.Zero(t, env.objects.Puts())
}

func TestIngestVersion_StorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.objects.PutErr = errBoom

	_, err := env.documents.IngestVersion(context.Background(), &IngestVersionRequest{
		DocumentID: env.doc.ID,
		UploaderID: "uploader",
		Content:    []byte("payload"),
	})
	require.Error(t, err)
	assert.True(t, errors.Retryable(err))
	assert.Zero(t, env.store.VersionCount())
}

func TestIngestVersion_ScheduleFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.jobs.scheduleErr = errBoom

	_, err := env.documents.IngestVersion(context.Background(), &IngestVersionRequest{
		DocumentID: env.doc.ID,
		UploaderID: "uploader",
		Content:    []byte("payload"),
	})
	require.Error(t, err)
	assert.True(t, errors.Retryable(err))
	assert.Zero(t, env.store.VersionCount())
	assert.Zero(t, env.objects.Len())
}

func TestIngestVersion_UnknownReferences(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.documents.IngestVersion(ctx, &IngestVersionRequest{
		DocumentID: "missing",
		UploaderID: "uploader",
		Content:    []byte("a"),
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = env.documents.IngestVersion(ctx, &IngestVersionRequest{
		DocumentID: env.doc.ID,
		UploaderID: "stranger",
		Content:    []byte("a"),
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	assert.Zero(t, env.objects.Puts())
}

func TestIngestVersion_DetectsMimeType(t *testing.T) {
	env := newTestEnv(t)

	v, err := env.documents.IngestVersion(context.Background(), &IngestVersionRequest{
		DocumentID: env.doc.ID,
		UploaderID: "uploader",
		Content:    []byte("%PDF-1.7\n..."),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", v.MimeType)
}

func TestRestoreVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v1 := env.ingest(t, "original")
	env.ingest(t, "changed")

	restored, err := env.documents.RestoreVersion(ctx, &RestoreVersionRequest{
		VersionID:  v1.ID,
		UploaderID: "uploader",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", restored.VersionNo)
	assert.Equal(t, v1.Checksum, restored.Checksum)
	assert.Equal(t, repository.VersionInReview, restored.Status)
	assert.NotEqual(t, v1.StorageKey, restored.StorageKey)
	assert.True(t, env.jobs.isScheduled(restored.ID))

	rc, _, err := env.documents.OpenVersion(ctx, restored.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestOpenVersion(t *testing.T) {
	env := newTestEnv(t)
	v := env.ingest(t, "contents")

	rc, got, err := env.documents.OpenVersion(context.Background(), v.ID)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))
	assert.Equal(t, v.ID, got.ID)

	_, _, err = env.documents.OpenVersion(context.Background(), "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestCreateDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, err := env.documents.CreateDocument(ctx, &CreateDocumentRequest{
		ProjectID:     "p1",
		Title:         "  Budget  ",
		OwnerID:       "owner",
		Tags:          []string{"finance", "finance", " q3 ", ""},
		LinkedTaskIDs: []string{"t1", "t1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Budget", doc.Title)
	assert.Equal(t, "internal", doc.Classification)
	assert.Equal(t, []string{"finance", "q3"}, doc.Tags)
	assert.Equal(t, []string{"t1"}, doc.LinkedTaskIDs)
	assert.True(t, strings.HasPrefix(doc.StorageKeyPrefix, "projects/p1/documents/"))
	assert.Nil(t, doc.CurrentVersionID)

	_, err = env.documents.CreateDocument(ctx, &CreateDocumentRequest{ProjectID: "nope", Title: "x", OwnerID: "owner"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = env.documents.CreateDocument(ctx, &CreateDocumentRequest{ProjectID: "p1", OwnerID: "owner"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}
