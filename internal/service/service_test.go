package service

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-documents/internal/inmem"
	"github.com/pesio-ai/be-documents/internal/platform/config"
	"github.com/pesio-ai/be-documents/internal/platform/logger"
	"github.com/pesio-ai/be-documents/internal/platform/metrics"
	"github.com/pesio-ai/be-documents/internal/repository"
)

// fakeJobs records scheduler calls.
type fakeJobs struct {
	mu          sync.Mutex
	scheduled   map[string]string // version -> document
	cancelled   []string
	scheduleErr error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{scheduled: make(map[string]string)}
}

func (f *fakeJobs) Schedule(_ context.Context, versionID, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return f.scheduleErr
	}
	f.scheduled[versionID] = documentID
	return nil
}

func (f *fakeJobs) Cancel(_ context.Context, versionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, versionID)
	if _, ok := f.scheduled[versionID]; ok {
		delete(f.scheduled, versionID)
		return 2, nil
	}
	return 0, nil
}

func (f *fakeJobs) isScheduled(versionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.scheduled[versionID]
	return ok
}

func (f *fakeJobs) cancelCount(versionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.cancelled {
		if id == versionID {
			n++
		}
	}
	return n
}

type testEnv struct {
	store     *inmem.Store
	directory *inmem.Directory
	objects   *inmem.ObjectStore
	scanner   *inmem.Scanner
	jobs      *fakeJobs
	cfg       config.WorkflowConfig
	documents *DocumentService
	approvals *ApprovalService
	doc       *repository.Document
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, inmem.NewStore())
}

func newTestEnvWithStore(t *testing.T, store repository.Store) *testEnv {
	t.Helper()

	dir := inmem.NewDirectory()
	dir.AddProject("p1", "Apollo")
	for _, u := range []string{"owner", "uploader", "alice", "bob", "carol", "dave", "erin"} {
		dir.AddUser(u, u)
	}
	dir.AddMember("p1", "owner", repository.RoleManager)
	for _, u := range []string{"alice", "bob", "carol", "dave", "erin"} {
		dir.AddMember("p1", u, repository.RoleApprover)
	}

	cfg := config.Default().Workflow
	env := &testEnv{
		directory: dir,
		objects:   inmem.NewObjectStore(),
		scanner:   inmem.NewScanner(),
		jobs:      newFakeJobs(),
		cfg:       cfg,
	}
	if s, ok := store.(*inmem.Store); ok {
		env.store = s
	}

	m := metrics.New()
	log := logger.Nop()
	env.documents = NewDocumentService(store, dir, env.objects, env.scanner, env.jobs, cfg, m, log)
	env.approvals = NewApprovalService(store, dir, env.jobs, cfg, m, log)

	doc, err := env.documents.CreateDocument(context.Background(), &CreateDocumentRequest{
		ProjectID: "p1",
		Title:     "Design review",
		DocType:   "design",
		OwnerID:   "owner",
	})
	require.NoError(t, err)
	env.doc = doc
	return env
}

func (e *testEnv) ingest(t *testing.T, content string) *repository.DocumentVersion {
	t.Helper()
	v, err := e.documents.IngestVersion(context.Background(), &IngestVersionRequest{
		DocumentID: e.doc.ID,
		UploaderID: "uploader",
		Content:    []byte(content),
		MimeType:   "text/plain",
	})
	require.NoError(t, err)
	return v
}

func (e *testEnv) decide(versionID, approverID string, d repository.Decision) (*DecisionResult, error) {
	return e.approvals.RecordDecision(context.Background(), &RecordDecisionRequest{
		VersionID:  versionID,
		ApproverID: approverID,
		Decision:   d,
	})
}

var errBoom = stderrors.New("boom")
