package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-documents/internal/platform/database"
	"github.com/pesio-ai/be-documents/internal/platform/errors"
)

// DirectoryRepository reads projects, users and memberships from the shared
// platform tables. It never writes them.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

func (r *DirectoryRepository) GetProject(ctx context.Context, id string) (*Project, error) {
	p := &Project{}
	err := r.db.QueryRow(ctx, `SELECT id, name FROM projects WHERE id = $1`, id).Scan(&p.ID, &p.Name)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("project", id)
	}
	if err != nil {
		return nil, dbError(err, "failed to get project")
	}
	return p, nil
}

// GetUser returns an active user.
func (r *DirectoryRepository) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, display_name, email
		FROM users
		WHERE id = $1 AND is_active
	`

	u := &User{}
	err := r.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.DisplayName, &u.Email)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, dbError(err, "failed to get user")
	}
	return u, nil
}

// ListProjectMembers returns active users holding role in a project, ordered by name.
func (r *DirectoryRepository) ListProjectMembers(ctx context.Context, projectID string, role MemberRole) ([]*User, error) {
	query := `
		SELECT u.id, u.display_name, u.email
		FROM project_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.project_id = $1
		  AND m.role = $2
		  AND u.is_active
		ORDER BY u.display_name ASC, u.id ASC
	`

	rows, err := r.db.Query(ctx, query, projectID, string(role))
	if err != nil {
		return nil, dbError(err, "failed to list project members")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Email); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan project member")
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "failed to read project members")
	}
	return users, nil
}
