package repository

import "context"

// Store is the persistence contract of the document workflow.
type Store interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetVersion(ctx context.Context, id string) (*DocumentVersion, error)
	ListVersions(ctx context.Context, documentID string) ([]*DocumentVersion, error)
	ListVersionsByStatus(ctx context.Context, status VersionStatus, limit int) ([]*DocumentVersion, error)
	ListApprovals(ctx context.Context, versionID string) ([]*DocumentApproval, error)

	// InTransaction runs fn atomically. The context passed to fn carries the
	// transaction so collaborators sharing the database (the job queue) join it.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of writes that must commit together. Lock* methods take a
// row-level exclusive lock held until the transaction ends.
type Tx interface {
	LockDocument(ctx context.Context, id string) (*Document, error)
	LockVersion(ctx context.Context, id string) (*DocumentVersion, error)
	// LatestVersionNo returns the version label of the most recently created
	// version of a document, or "" when there is none.
	LatestVersionNo(ctx context.Context, documentID string) (string, error)
	InsertVersion(ctx context.Context, v *DocumentVersion) error
	// UpsertApproval inserts or overwrites the decision keyed by
	// (VersionID, ApproverID).
	UpsertApproval(ctx context.Context, a *DocumentApproval) error
	CountDecisions(ctx context.Context, versionID string, decision Decision) (int, error)
	// TransitionVersion moves a version from one status to another and reports
	// false when the version was not in the expected status.
	TransitionVersion(ctx context.Context, id string, from, to VersionStatus) (bool, error)
	// SwapCurrentVersion sets the document's current version only if it still
	// equals expected (nil meaning unset).
	SwapCurrentVersion(ctx context.Context, documentID string, expected *string, next string) (bool, error)
}

// Directory reads project and user records owned by other services.
type Directory interface {
	GetProject(ctx context.Context, id string) (*Project, error)
	GetUser(ctx context.Context, id string) (*User, error)
	ListProjectMembers(ctx context.Context, projectID string, role MemberRole) ([]*User, error)
}
