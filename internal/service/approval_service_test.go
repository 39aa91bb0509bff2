package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-documents/internal/inmem"
	"github.com/pesio-ai/be-documents/internal/platform/errors"
	"github.com/pesio-ai/be-documents/internal/repository"
)

func TestRecordDecision_QuorumPublishes(t *testing.T) {
	env := newTestEnv(t)
	v := env.ingest(t, "draft")

	res, err := env.decide(v.ID, "alice", repository.DecisionApproved)
	require.NoError(t, err)
	assert.Equal(t, repository.VersionInReview, res.Version.Status)
	assert.Equal(t, "alice", res.Approval.ApproverID)
	assert.Zero(t, env.jobs.cancelCount(v.ID))

	res, err = env.decide(v.ID, "bob", repository.DecisionApproved)
	require.NoError(t, err)
	assert.Equal(t, repository.VersionPublished, res.Version.Status)
	assert.Nil(t, res.Superseded)
	assert.Equal(t, 1, env.jobs.cancelCount(v.ID))

	doc, err := env.documents.GetDocument(context.Background(), env.doc.ID)
	require.NoError(t, err)
	require.NotNil(t, doc.CurrentVersionID)
	assert.Equal(t, v.ID, *doc.CurrentVersionID)
}

func TestRecordDecision_ResubmissionOverwrites(t *testing.T) {
	env := newTestEnv(t)
	v := env.ingest(t, "draft")
	comment := "looks good"

	_, err := env.decide(v.ID, "alice", repository.DecisionApproved)
	require.NoError(t, err)
	res, err := env.approvals.RecordDecision(context.Background(), &RecordDecisionRequest{
		VersionID:  v.ID,
		ApproverID: "alice",
		Decision:   repository.DecisionApproved,
		Comment:    &comment,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.VersionInReview, res.Version.Status, "one approver never meets quorum")

	approvals, err := env.approvals.ListApprovals(context.Background(), v.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	require.NotNil(t, approvals[0].Comment)
	assert.Equal(t, comment, *approvals[0].Comment)
}

func TestRecordDecision_RejectionArchives(t *testing.T) {
	env := newTestEnv(t)
	v := env.ingest(t, "draft")

	_, err := env.decide(v.ID, "bob", repository.DecisionApproved)
	require.NoError(t, err)

	res, err := env.decide(v.ID, "alice", repository.DecisionRejected)
	require.NoError(t, err)
	assert.Equal(t, repository.VersionArchived, res.Version.Status)
	assert.Equal(t, 1, env.jobs.cancelCount(v.ID))

	_, err = env.decide(v.ID, "alice", repository.DecisionApproved)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))

	_, err = env.decide(v.ID, "carol", repository.DecisionApproved)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))

	// A failed decision leaves no trace.
	approvals, err := env.approvals.ListApprovals(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Len(t, approvals, 2)
	assert.Equal(t, repository.VersionArchived, env.store.Version(v.ID).Status)
}

func TestRecordDecision_ArchivedIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	v := env.ingest(t, "draft")

	_, err := env.decide(v.ID, "alice", repository.DecisionRejected)
	require.NoError(t, err)

	for _, d := range []repository.Decision{repository.DecisionRejected, repository.DecisionApproved} {
		_, err := env.decide(v.ID, "bob", d)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
		assert.Equal(t, repository.VersionArchived, env.store.Version(v.ID).Status)
	}
}

func TestRecordDecision_PublishedRejectsFurtherDecisions(t *testing.T) {
	env := newTestEnv(t)
	v := env.ingest(t, "draft")

	_, err := env.decide(v.ID, "alice", repository.DecisionApproved)
	require.NoError(t, err)
	_, err = env.decide(v.ID, "bob", repository.DecisionApproved)
	require.NoError(t, err)

	_, err = env.decide(v.ID, "carol", repository.DecisionRejected)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
	assert.Equal(t, repository.VersionPublished, env.store.Version(v.ID).Status)
}

func TestRecordDecision_PromotionArchivesPrevious(t *testing.T) {
	env := newTestEnv(t)

	v1 := env.ingest(t, "one")
	_, err := env.decide(v1.ID, "alice", repository.DecisionApproved)
	require.NoError(t, err)
	_, err = env.decide(v1.ID, "bob", repository.DecisionApproved)
	require.NoError(t, err)

	v2 := env.ingest(t, "two")
	_, err = env.decide(v2.ID, "carol", repository.DecisionApproved)
	require.NoError(t, err)
	res, err := env.decide(v2.ID, "dave", repository.DecisionApproved)
	require.NoError(t, err)

	assert.Equal(t, repository.VersionPublished, res.Version.Status)
	require.NotNil(t, res.Superseded)
	assert.Equal(t, v1.ID, *res.Superseded)
	assert.Equal(t, repository.VersionArchived, env.store.Version(v1.ID).Status)

	doc, err := env.documents.GetDocument(context.Background(), env.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, *doc.CurrentVersionID)
	assertSinglePublished(t, env)
}

func TestRecordDecision_ConcurrentApprovalsPromoteOnce(t *testing.T) {
	env := newTestEnv(t)
	v := env.ingest(t, "draft")
	approvers := []string{"alice", "bob", "carol", "dave", "erin"}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		published int
		conflicts int
	)
	for _, a := range approvers {
		wg.Add(1)
		go func(approver string) {
			defer wg.Done()
			res, err := env.decide(v.ID, approver, repository.DecisionApproved)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
				conflicts++
			case res.Version.Status == repository.VersionPublished:
				published++
			}
		}(a)
	}
	wg.Wait()

	assert.Equal(t, 1, published)
	assert.Equal(t, len(approvers)-2, conflicts)
	assert.Equal(t, repository.VersionPublished, env.store.Version(v.ID).Status)
	assertSinglePublished(t, env)
}

func TestRecordDecision_ConcurrentVersionsKeepSinglePublished(t *testing.T) {
	env := newTestEnv(t)
	versions := []*repository.DocumentVersion{env.ingest(t, "a"), env.ingest(t, "b"), env.ingest(t, "c")}

	var wg sync.WaitGroup
	for _, v := range versions {
		for _, a := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(versionID, approver string) {
				defer wg.Done()
				_, err := env.decide(versionID, approver, repository.DecisionApproved)
				assert.NoError(t, err)
			}(v.ID, a)
		}
	}
	wg.Wait()

	assertSinglePublished(t, env)
}

func TestRecordDecision_Validation(t *testing.T) {
	env := newTestEnv(t)
	v := env.ingest(t, "draft")

	_, err := env.decide(v.ID, "alice", repository.Decision("MAYBE"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = env.decide(v.ID, "", repository.DecisionApproved)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = env.decide("missing", "alice", repository.DecisionApproved)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = env.decide(v.ID, "stranger", repository.DecisionApproved)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

// swapFailingStore fails the current-version swap, simulating a write error
// late in the promotion transaction.
type swapFailingStore struct {
	*inmem.Store
}

func (s swapFailingStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.Store.InTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, swapFailingTx{tx})
	})
}

type swapFailingTx struct {
	repository.Tx
}

func (swapFailingTx) SwapCurrentVersion(context.Context, string, *string, string) (bool, error) {
	return false, errors.Unavailable(errBoom, "write failed")
}

func TestRecordDecision_PromotionIsAllOrNothing(t *testing.T) {
	store := inmem.NewStore()
	env := newTestEnvWithStore(t, swapFailingStore{store})
	env.store = store
	v := env.ingest(t, "draft")

	_, err := env.decide(v.ID, "alice", repository.DecisionApproved)
	require.NoError(t, err)

	_, err = env.decide(v.ID, "bob", repository.DecisionApproved)
	require.Error(t, err)
	assert.True(t, errors.Retryable(err))

	assert.Equal(t, repository.VersionInReview, store.Version(v.ID).Status)
	approvals, err := env.approvals.ListApprovals(context.Background(), v.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, "alice", approvals[0].ApproverID)
	assert.Zero(t, env.jobs.cancelCount(v.ID))
}

func assertSinglePublished(t *testing.T, env *testEnv) {
	t.Helper()
	versions, err := env.documents.ListVersions(context.Background(), env.doc.ID)
	require.NoError(t, err)

	var published []string
	for _, v := range versions {
		if v.Status == repository.VersionPublished {
			published = append(published, v.ID)
		}
	}
	require.LessOrEqual(t, len(published), 1)

	doc, err := env.documents.GetDocument(context.Background(), env.doc.ID)
	require.NoError(t, err)
	if len(published) == 1 {
		require.NotNil(t, doc.CurrentVersionID)
		assert.Equal(t, published[0], *doc.CurrentVersionID)
	}
}
