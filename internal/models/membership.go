package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user's role inside a workspace.
type Role string

const (
	RoleAdmin      Role = "Admin"
	RoleAccountant Role = "Accountant"
	RoleSupervisor Role = "Supervisor"
	RoleMember     Role = "Member"
)

// UserWorkspace links a user to a workspace with a role. It is the access-control record.
type UserWorkspace struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}
