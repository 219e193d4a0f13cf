package workspaces

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/backend/internal/models"
)

// fakeStore is an in-memory Store. RunInTx serializes transactions and restores a snapshot
// when fn fails.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users       map[uuid.UUID]models.User
	workspaces  map[uuid.UUID]models.Workspace
	companies   map[uuid.UUID]models.Company
	memberships []models.UserWorkspace
	seq         int

	now        func() time.Time
	recentErr  error
	forcedCode string
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{
		users:      make(map[uuid.UUID]models.User),
		workspaces: make(map[uuid.UUID]models.Workspace),
		companies:  make(map[uuid.UUID]models.Company),
		now:        now,
	}
}

type snapshot struct {
	users       map[uuid.UUID]models.User
	workspaces  map[uuid.UUID]models.Workspace
	companies   map[uuid.UUID]models.Company
	memberships []models.UserWorkspace
}

func (f *fakeStore) snapshot() snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := snapshot{
		users:       make(map[uuid.UUID]models.User, len(f.users)),
		workspaces:  make(map[uuid.UUID]models.Workspace, len(f.workspaces)),
		companies:   make(map[uuid.UUID]models.Company, len(f.companies)),
		memberships: append([]models.UserWorkspace(nil), f.memberships...),
	}
	for k, v := range f.users {
		s.users[k] = v
	}
	for k, v := range f.workspaces {
		s.workspaces[k] = v
	}
	for k, v := range f.companies {
		s.companies[k] = v
	}
	return s
}

func (f *fakeStore) restore(s snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users, f.workspaces, f.companies, f.memberships = s.users, s.workspaces, s.companies, s.memberships
}

func (f *fakeStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()
	snap := f.snapshot()
	if err := fn(f); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeStore) addUser(email string) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := models.User{ID: uuid.New(), Email: models.NormalizeEmail(email), CreatedAt: f.now()}
	f.users[u.ID] = u
	return &u
}

func (f *fakeStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (f *fakeStore) GetOrCreatePlaceholder(_ context.Context, contactEmail string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email := models.PlaceholderEmail(contactEmail)
	for _, u := range f.users {
		if u.Email == email {
			return &u, nil
		}
	}
	u := models.User{ID: uuid.New(), Email: email, IsPlaceholder: true, CreatedAt: f.now()}
	f.users[u.ID] = u
	return &u, nil
}

func (f *fakeStore) DeletePlaceholderIfUnused(_ context.Context, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok || !u.IsPlaceholder {
		return false, nil
	}
	for _, w := range f.workspaces {
		if w.CreatedBy == userID {
			return false, nil
		}
	}
	for _, c := range f.companies {
		if c.CreatedBy == userID {
			return false, nil
		}
	}
	delete(f.users, userID)
	return true, nil
}

func (f *fakeStore) CreateWorkspace(_ context.Context, ws *models.Workspace, company *models.Company) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forcedCode != "" {
		ws.Code = f.forcedCode
	}
	for _, w := range f.workspaces {
		if w.Code == ws.Code {
			return ErrCodeTaken
		}
	}
	ws.ID = uuid.New()
	ws.CreatedAt = f.now()
	ws.UpdatedAt = ws.CreatedAt
	company.ID = uuid.New()
	company.WorkspaceID = ws.ID
	company.CreatedAt = ws.CreatedAt
	f.workspaces[ws.ID] = *ws
	f.companies[ws.ID] = *company
	return nil
}

func (f *fakeStore) GetWorkspace(_ context.Context, id uuid.UUID) (*models.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workspaces[id]
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	return &w, nil
}

func (f *fakeStore) GetWorkspaceByCode(_ context.Context, code string) (*models.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workspaces {
		if w.Code == code {
			return &w, nil
		}
	}
	return nil, ErrWorkspaceNotFound
}

func (f *fakeStore) sortedWorkspaces(keep func(models.Workspace) bool) []*models.Workspace {
	var list []*models.Workspace
	for _, w := range f.workspaces {
		if keep(w) {
			w := w
			list = append(list, &w)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list
}

func (f *fakeStore) FindRecentByContactEmail(_ context.Context, email string, since time.Time) ([]*models.Workspace, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	email = models.NormalizeEmail(email)
	return f.sortedWorkspaces(func(w models.Workspace) bool {
		return models.NormalizeEmail(w.CompanyEmail) == email && !w.CreatedAt.Before(since)
	}), nil
}

func (f *fakeStore) FindPlaceholderOwned(_ context.Context, email string) ([]*models.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = models.NormalizeEmail(email)
	return f.sortedWorkspaces(func(w models.Workspace) bool {
		owner, ok := f.users[w.CreatedBy]
		return ok && owner.IsPlaceholder && owner.Email == models.PlaceholderEmail(email) &&
			models.NormalizeEmail(w.CompanyEmail) == email
	}), nil
}

func (f *fakeStore) ClaimOwnership(_ context.Context, workspaceID, placeholderID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workspaces[workspaceID]
	if !ok || w.CreatedBy != placeholderID {
		return false, nil
	}
	w.CreatedBy = userID
	f.workspaces[workspaceID] = w
	if c, ok := f.companies[workspaceID]; ok && c.CreatedBy == placeholderID {
		c.CreatedBy = userID
		f.companies[workspaceID] = c
	}
	return true, nil
}

func (f *fakeStore) AddMembership(_ context.Context, userID, workspaceID uuid.UUID, role models.Role) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memberships {
		if m.UserID == userID && m.WorkspaceID == workspaceID {
			return false, nil
		}
	}
	f.seq++
	f.memberships = append(f.memberships, models.UserWorkspace{
		ID:          uuid.New(),
		UserID:      userID,
		WorkspaceID: workspaceID,
		Role:        role,
		CreatedAt:   f.now().Add(time.Duration(f.seq) * time.Millisecond),
	})
	return true, nil
}

func (f *fakeStore) GetMembership(_ context.Context, userID, workspaceID uuid.UUID) (*models.UserWorkspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memberships {
		if m.UserID == userID && m.WorkspaceID == workspaceID {
			return &m, nil
		}
	}
	return nil, ErrMembershipNotFound
}

func (f *fakeStore) LatestMembership(_ context.Context, userID uuid.UUID) (*models.UserWorkspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.memberships) - 1; i >= 0; i-- {
		if f.memberships[i].UserID == userID {
			m := f.memberships[i]
			return &m, nil
		}
	}
	return nil, ErrMembershipNotFound
}

func (f *fakeStore) ListForUser(_ context.Context, userID uuid.UUID) ([]models.WorkspaceSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []models.WorkspaceSummary
	for i := len(f.memberships) - 1; i >= 0; i-- {
		m := f.memberships[i]
		if m.UserID != userID {
			continue
		}
		w := f.workspaces[m.WorkspaceID]
		s := w.Summary()
		s.Role = m.Role
		list = append(list, s)
	}
	return list, nil
}

func (f *fakeStore) ListMembers(_ context.Context, workspaceID uuid.UUID) ([]Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var list []Member
	for _, m := range f.memberships {
		if m.WorkspaceID != workspaceID {
			continue
		}
		u := f.users[m.UserID]
		list = append(list, Member{UserID: u.ID, Email: u.Email, DisplayName: u.DisplayName, Role: m.Role, JoinedAt: m.CreatedAt})
	}
	return list, nil
}

// admins returns the Admin memberships of a workspace.
func (f *fakeStore) admins(workspaceID uuid.UUID) []models.UserWorkspace {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.UserWorkspace
	for _, m := range f.memberships {
		if m.WorkspaceID == workspaceID && m.Role == models.RoleAdmin {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeStore) membershipsOf(userID, workspaceID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.memberships {
		if m.UserID == userID && m.WorkspaceID == workspaceID {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")

func (f *fakeStore) CurrentWorkspace(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Workspace, models.Role, error) {
	m, err := f.GetMembership(ctx, userID, workspaceID)
	if err != nil {
		return nil, "", nil
	}
	ws, err := f.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, "", nil
	}
	return ws, m.Role, nil
}
