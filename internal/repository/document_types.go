package repository

import "time"

// ── Domain types for the document lifecycle ──────────────────────────────────

// VersionStatus is the lifecycle state of a DocumentVersion.
type VersionStatus string

const (
	VersionInReview  VersionStatus = "IN_REVIEW"
	VersionPublished VersionStatus = "PUBLISHED"
	VersionArchived  VersionStatus = "ARCHIVED"
)

// Decision is an approver's verdict on a version.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// ScanStatus records the malware gate outcome for a version's content.
type ScanStatus string

const (
	ScanClean    ScanStatus = "CLEAN"
	ScanInfected ScanStatus = "INFECTED"
)

// Document is a logical file identity, stable across versions.
type Document struct {
	ID               string
	ProjectID        string
	Title            string
	DocType          string
	Classification   string
	OwnerID          string
	StorageKeyPrefix string
	Tags             []string
	LinkedTaskIDs    []string
	LinkedKPIIDs     []string
	RetentionPolicy  *string
	CurrentVersionID *string // the single PUBLISHED version, if any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentVersion is one uploaded revision of a document.
type DocumentVersion struct {
	ID                string
	DocumentID        string
	VersionNo         string // dotted triple, e.g. 1.0.0
	Status            VersionStatus
	Checksum          string // hex SHA-256 of the content
	SizeBytes         int64
	MimeType          string
	StorageKey        string
	MalwareScanStatus ScanStatus
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DocumentApproval is one approver's decision on one version; unique per
// (VersionID, ApproverID).
type DocumentApproval struct {
	ID         string
	VersionID  string
	ApproverID string
	Decision   Decision
	Comment    *string
	DecidedAt  time.Time
}

// ── Collaborator types (owned by the project/user services) ─────────────────

// MemberRole is a user's role within a project.
type MemberRole string

const (
	RoleManager  MemberRole = "manager"
	RoleApprover MemberRole = "approver"
	RoleMember   MemberRole = "member"
)

// Project is the subset of a project record the workflow reads.
type Project struct {
	ID   string
	Name string
}

// User is the subset of a user record the workflow reads.
type User struct {
	ID          string
	DisplayName string
	Email       string
}
