// Package session holds the request-scoped session context. A session is a Redis record
// addressed by a signed token carried in a cookie or an Authorization bearer header.
package session

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GinKey is the gin context key the loader middleware stores the *Context under.
const GinKey = "session"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidToken    = errors.New("invalid session token")
)

// Context is the per-request session. It replaces ambient session globals: handlers get it
// from FromGin and mutate it explicitly, then persist it through Manager.Save.
type Context struct {
	ID                 string     `json:"id"`
	UserID             *uuid.UUID `json:"user_id,omitempty"`
	Email              string     `json:"email,omitempty"`
	DisplayName        string     `json:"display_name,omitempty"`
	CurrentWorkspaceID *uuid.UUID `json:"current_workspace_id,omitempty"`
	PendingWorkspaceID *uuid.UUID `json:"pending_workspace_id,omitempty"`
	ProvisioningToken  string     `json:"provisioning_token,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Authenticated reports whether a signed-in user is attached.
func (s *Context) Authenticated() bool {
	return s != nil && s.UserID != nil
}

// SetPending records a workspace created in this browser along with its provisioning token.
func (s *Context) SetPending(workspaceID uuid.UUID, token string) {
	s.PendingWorkspaceID = &workspaceID
	s.ProvisioningToken = token
}

// ClearPending drops the same-browser creation hint once it has been consumed.
func (s *Context) ClearPending() {
	s.PendingWorkspaceID = nil
	s.ProvisioningToken = ""
}

// SelectWorkspace sets the current workspace.
func (s *Context) SelectWorkspace(id uuid.UUID) {
	s.CurrentWorkspaceID = &id
}

// View is the client-visible projection of a session.
type View struct {
	UserID             *uuid.UUID `json:"user_id,omitempty"`
	Email              string     `json:"email,omitempty"`
	DisplayName        string     `json:"display_name,omitempty"`
	CurrentWorkspaceID *uuid.UUID `json:"current_workspace_id,omitempty"`
	Authenticated      bool       `json:"authenticated"`
}

// View returns the client-visible fields.
func (s *Context) View() View {
	return View{
		UserID:             s.UserID,
		Email:              s.Email,
		DisplayName:        s.DisplayName,
		CurrentWorkspaceID: s.CurrentWorkspaceID,
		Authenticated:      s.Authenticated(),
	}
}

// FromGin returns the session loaded for this request, or nil if the loader did not run.
func FromGin(c *gin.Context) *Context {
	v, ok := c.Get(GinKey)
	if !ok {
		return nil
	}
	s, _ := v.(*Context)
	return s
}
