// Package workspaces provisions tenants and binds authenticated users to them.
package workspaces

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/backend/internal/models"
)

var (
	ErrWorkspaceNotFound  = errors.New("workspace not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrCodeTaken          = errors.New("workspace code already in use")
	ErrInvalidCode        = errors.New("invalid workspace code")
	ErrNotMember          = errors.New("not a member of this workspace")
)

// Member is a user listed under a workspace.
type Member struct {
	UserID      uuid.UUID   `json:"user_id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Role        models.Role `json:"role"`
	JoinedAt    time.Time   `json:"joined_at"`
}

// Store is the persistence the provisioner needs. RunInTx hands fn a Store bound to one
// transaction; returning an error from fn rolls it back.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Store) error) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetOrCreatePlaceholder(ctx context.Context, contactEmail string) (*models.User, error)
	DeletePlaceholderIfUnused(ctx context.Context, userID uuid.UUID) (bool, error)

	CreateWorkspace(ctx context.Context, ws *models.Workspace, company *models.Company) error
	GetWorkspace(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
	GetWorkspaceByCode(ctx context.Context, code string) (*models.Workspace, error)
	FindRecentByContactEmail(ctx context.Context, email string, since time.Time) ([]*models.Workspace, error)
	FindPlaceholderOwned(ctx context.Context, email string) ([]*models.Workspace, error)
	// ClaimOwnership moves workspace and company ownership from placeholderID to userID only
	// if the placeholder still owns the workspace. It reports whether this call won.
	ClaimOwnership(ctx context.Context, workspaceID, placeholderID, userID uuid.UUID) (bool, error)

	// AddMembership inserts a membership unless one exists; it reports whether a row was added.
	AddMembership(ctx context.Context, userID, workspaceID uuid.UUID, role models.Role) (bool, error)
	GetMembership(ctx context.Context, userID, workspaceID uuid.UUID) (*models.UserWorkspace, error)
	LatestMembership(ctx context.Context, userID uuid.UUID) (*models.UserWorkspace, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.WorkspaceSummary, error)
	ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]Member, error)
}
