package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/pesio-ai/be-documents/internal/platform/errors"
	"github.com/pesio-ai/be-documents/internal/repository"
)

// Directory is a repository.Directory seeded by tests.
type Directory struct {
	mu       sync.RWMutex
	projects map[string]*repository.Project
	users    map[string]*repository.User
	members  map[string]map[string]repository.MemberRole // project -> user -> role
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		projects: make(map[string]*repository.Project),
		users:    make(map[string]*repository.User),
		members:  make(map[string]map[string]repository.MemberRole),
	}
}

// AddProject registers a project.
func (d *Directory) AddProject(id, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projects[id] = &repository.Project{ID: id, Name: name}
}

// AddUser registers a user.
func (d *Directory) AddUser(id, displayName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[id] = &repository.User{ID: id, DisplayName: displayName, Email: id + "@example.com"}
}

// AddMember gives a registered user a role in a project.
func (d *Directory) AddMember(projectID, userID string, role repository.MemberRole) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members[projectID] == nil {
		d.members[projectID] = make(map[string]repository.MemberRole)
	}
	d.members[projectID][userID] = role
}

func (d *Directory) GetProject(_ context.Context, id string) (*repository.Project, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.projects[id]
	if !ok {
		return nil, errors.NotFound("project", id)
	}
	c := *p
	return &c, nil
}

func (d *Directory) GetUser(_ context.Context, id string) (*repository.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	c := *u
	return &c, nil
}

func (d *Directory) ListProjectMembers(_ context.Context, projectID string, role repository.MemberRole) ([]*repository.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*repository.User
	for userID, r := range d.members[projectID] {
		if r != role {
			continue
		}
		if u, ok := d.users[userID]; ok {
			c := *u
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}
