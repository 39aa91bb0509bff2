// Package inmem provides in-process implementations of the repository and
// adapter contracts. They back the service and scheduler tests and mirror the
// constraints the PostgreSQL schema enforces.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-documents/internal/platform/errors"
	"github.com/pesio-ai/be-documents/internal/repository"
)

// Store is a repository.Store. A transaction holds the store lock for its
// whole duration, so transactions are serializable; a failed transaction
// restores the snapshot taken when it began.
type Store struct {
	mu        sync.Mutex
	documents map[string]*repository.Document
	versions  map[string]*repository.DocumentVersion
	approvals map[string]*repository.DocumentApproval // keyed by versionID/approverID
	seq       map[string]int64                        // insertion order of versions
	nextSeq   int64
	now       func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		documents: make(map[string]*repository.Document),
		versions:  make(map[string]*repository.DocumentVersion),
		approvals: make(map[string]*repository.DocumentApproval),
		seq:       make(map[string]int64),
		now:       time.Now,
	}
}

// SetClock replaces the clock used for timestamps.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = clock
}

func approvalKey(versionID, approverID string) string {
	return versionID + "/" + approverID
}

func (s *Store) CreateDocument(_ context.Context, doc *repository.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, ok := s.documents[doc.ID]; ok {
		return errors.Conflict("document already exists")
	}
	now := s.now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	s.documents[doc.ID] = cloneDocument(doc)
	return nil
}

func (s *Store) GetDocument(_ context.Context, id string) (*repository.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[id]
	if !ok {
		return nil, errors.NotFound("document", id)
	}
	return cloneDocument(d), nil
}

func (s *Store) GetVersion(_ context.Context, id string) (*repository.DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, errors.NotFound("document version", id)
	}
	return cloneVersion(v), nil
}

func (s *Store) ListVersions(_ context.Context, documentID string) ([]*repository.DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.DocumentVersion
	for _, v := range s.versions {
		if v.DocumentID == documentID {
			out = append(out, cloneVersion(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] > s.seq[out[j].ID] })
	return out, nil
}

func (s *Store) ListVersionsByStatus(_ context.Context, status repository.VersionStatus, limit int) ([]*repository.DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.DocumentVersion
	for _, v := range s.versions {
		if v.Status == status {
			out = append(out, cloneVersion(v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListApprovals(_ context.Context, versionID string) ([]*repository.DocumentApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.DocumentApproval
	for _, a := range s.approvals {
		if a.VersionID == versionID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}

// InTransaction runs fn with the store locked. Store read methods must not be
// called from inside fn.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, &storeTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Version returns a copy of a version without going through a transaction.
// Tests use it to assert on final state.
func (s *Store) Version(id string) *repository.DocumentVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.versions[id]; ok {
		return cloneVersion(v)
	}
	return nil
}

// VersionCount returns the number of stored versions.
func (s *Store) VersionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.versions)
}

type snapshot struct {
	documents map[string]*repository.Document
	versions  map[string]*repository.DocumentVersion
	approvals map[string]*repository.DocumentApproval
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		documents: make(map[string]*repository.Document, len(s.documents)),
		versions:  make(map[string]*repository.DocumentVersion, len(s.versions)),
		approvals: make(map[string]*repository.DocumentApproval, len(s.approvals)),
	}
	for k, v := range s.documents {
		snap.documents[k] = cloneDocument(v)
	}
	for k, v := range s.versions {
		snap.versions[k] = cloneVersion(v)
	}
	for k, v := range s.approvals {
		c := *v
		snap.approvals[k] = &c
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.documents = snap.documents
	s.versions = snap.versions
	s.approvals = snap.approvals
}

// storeTx operates on the locked store.
type storeTx struct {
	s *Store
}

func (t *storeTx) LockDocument(_ context.Context, id string) (*repository.Document, error) {
	d, ok := t.s.documents[id]
	if !ok {
		return nil, errors.NotFound("document", id)
	}
	return cloneDocument(d), nil
}

func (t *storeTx) LockVersion(_ context.Context, id string) (*repository.DocumentVersion, error) {
	v, ok := t.s.versions[id]
	if !ok {
		return nil, errors.NotFound("document version", id)
	}
	return cloneVersion(v), nil
}

func (t *storeTx) LatestVersionNo(_ context.Context, documentID string) (string, error) {
	var latest *repository.DocumentVersion
	for _, v := range t.s.versions {
		if v.DocumentID != documentID {
			continue
		}
		if latest == nil || t.s.seq[v.ID] > t.s.seq[latest.ID] {
			latest = v
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.VersionNo, nil
}

func (t *storeTx) InsertVersion(_ context.Context, v *repository.DocumentVersion) error {
	if _, ok := t.s.documents[v.DocumentID]; !ok {
		return errors.InvalidInput("document_id", "referenced document does not exist")
	}
	if _, ok := t.s.versions[v.ID]; ok {
		return errors.Conflict("document version already exists")
	}
	for _, existing := range t.s.versions {
		if existing.DocumentID == v.DocumentID && existing.VersionNo == v.VersionNo {
			return errors.Conflict("version number already used")
		}
	}

	// The clock may step backwards; ordering follows insertion, like the
	// identity column in PostgreSQL.
	now := t.s.now()
	v.CreatedAt, v.UpdatedAt = now, now
	t.s.nextSeq++
	t.s.seq[v.ID] = t.s.nextSeq
	t.s.versions[v.ID] = cloneVersion(v)
	return nil
}

func (t *storeTx) UpsertApproval(_ context.Context, a *repository.DocumentApproval) error {
	if _, ok := t.s.versions[a.VersionID]; !ok {
		return errors.InvalidInput("version_id", "referenced version does not exist")
	}
	key := approvalKey(a.VersionID, a.ApproverID)
	if existing, ok := t.s.approvals[key]; ok {
		a.ID = existing.ID
	} else if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.DecidedAt = t.s.now()
	c := *a
	t.s.approvals[key] = &c
	return nil
}

func (t *storeTx) CountDecisions(_ context.Context, versionID string, decision repository.Decision) (int, error) {
	n := 0
	for _, a := range t.s.approvals {
		if a.VersionID == versionID && a.Decision == decision {
			n++
		}
	}
	return n, nil
}

func (t *storeTx) TransitionVersion(_ context.Context, id string, from, to repository.VersionStatus) (bool, error) {
	v, ok := t.s.versions[id]
	if !ok || v.Status != from {
		return false, nil
	}
	if to == repository.VersionPublished {
		for _, other := range t.s.versions {
			if other.ID != id && other.DocumentID == v.DocumentID && other.Status == repository.VersionPublished {
				return false, errors.Conflict("document already has a published version")
			}
		}
	}
	v.Status = to
	v.UpdatedAt = t.s.now()
	return true, nil
}

func (t *storeTx) SwapCurrentVersion(_ context.Context, documentID string, expected *string, next string) (bool, error) {
	d, ok := t.s.documents[documentID]
	if !ok {
		return false, nil
	}
	if !equalPtr(d.CurrentVersionID, expected) {
		return false, nil
	}
	d.CurrentVersionID = &next
	d.UpdatedAt = t.s.now()
	return true, nil
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneDocument(d *repository.Document) *repository.Document {
	c := *d
	c.Tags = append([]string(nil), d.Tags...)
	c.LinkedTaskIDs = append([]string(nil), d.LinkedTaskIDs...)
	c.LinkedKPIIDs = append([]string(nil), d.LinkedKPIIDs...)
	if d.CurrentVersionID != nil {
		id := *d.CurrentVersionID
		c.CurrentVersionID = &id
	}
	if d.RetentionPolicy != nil {
		p := *d.RetentionPolicy
		c.RetentionPolicy = &p
	}
	return &c
}

func cloneVersion(v *repository.DocumentVersion) *repository.DocumentVersion {
	c := *v
	return &c
}
