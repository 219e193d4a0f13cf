package workspaces

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/internal/session"
	"github.com/crewdesk/backend/pkg/utils"
)

// Hints are optional binding claims sent by the client at sign-in.
type Hints struct {
	WorkspaceID       *uuid.UUID
	ImmediateCreation bool
}

// Outcome describes what Reconcile did.
type Outcome struct {
	Signal    Signal
	Workspace *models.Workspace
	Role      models.Role
	// Bound is true when this call created the user's membership.
	Bound bool
	// Claimed is true when this call transferred ownership away from the placeholder.
	Claimed bool
}

type probe struct {
	signal Signal
	find   func(ctx context.Context, email string, sess *session.Context, hints Hints) (*models.Workspace, error)
}

// Reconcile binds a freshly authenticated user to the workspace the available signals point
// at, first match wins. Without a match it selects the user's most recently joined
// workspace. Signal lookups and binding failures are logged and skipped so sign-in proceeds.
// The chosen workspace is written to sess as current.
func (p *Provisioner) Reconcile(ctx context.Context, user *models.User, sess *session.Context, hints Hints) (*Outcome, error) {
	email := models.NormalizeEmail(user.Email)
	log := p.logger.With(zap.String("user_id", user.ID.String()))

	probes := []probe{
		{SignalSameSession, p.findSameSession},
		{SignalExplicit, p.findExplicit},
		{SignalCrossDevice, p.findCrossDevice},
		{SignalPlaceholder, p.findPlaceholderOwned},
	}
	for _, pr := range probes {
		ws, err := pr.find(ctx, email, sess, hints)
		if err != nil {
			log.Warn("ownership signal lookup failed", zap.String("signal", string(pr.signal)), zap.Error(err))
			continue
		}
		if ws == nil {
			continue
		}
		out, err := p.bind(ctx, user, ws, pr.signal)
		if err != nil {
			log.Error("ownership binding failed",
				zap.String("signal", string(pr.signal)),
				zap.String("workspace_id", ws.ID.String()),
				zap.Error(err))
			break
		}
		if sess != nil {
			if sess.PendingWorkspaceID != nil && *sess.PendingWorkspaceID == ws.ID {
				sess.ClearPending()
			}
			sess.SelectWorkspace(out.Workspace.ID)
		}
		p.metrics.Binding(string(pr.signal))
		log.Info("workspace bound",
			zap.String("signal", string(pr.signal)),
			zap.String("workspace_id", out.Workspace.ID.String()),
			zap.String("role", string(out.Role)),
			zap.Bool("claimed", out.Claimed))
		return out, nil
	}

	m, err := p.store.LatestMembership(ctx, user.ID)
	if errors.Is(err, ErrMembershipNotFound) {
		p.metrics.Binding(string(SignalNone))
		return &Outcome{Signal: SignalNone}, nil
	}
	if err != nil {
		return nil, err
	}
	ws, err := p.store.GetWorkspace(ctx, m.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		sess.SelectWorkspace(ws.ID)
	}
	p.metrics.Binding(string(SignalAutoSelect))
	return &Outcome{Signal: SignalAutoSelect, Workspace: ws, Role: m.Role}, nil
}

func (p *Provisioner) findSameSession(ctx context.Context, _ string, sess *session.Context, _ Hints) (*models.Workspace, error) {
	if sess == nil || sess.PendingWorkspaceID == nil || sess.ProvisioningToken == "" {
		return nil, nil
	}
	ws, err := p.store.GetWorkspace(ctx, *sess.PendingWorkspaceID)
	if err != nil {
		if errors.Is(err, ErrWorkspaceNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !utils.CheckToken(sess.ProvisioningToken, ws.ProvisioningTokenHash) {
		return nil, nil
	}
	return ws, nil
}

func (p *Provisioner) findExplicit(ctx context.Context, email string, _ *session.Context, hints Hints) (*models.Workspace, error) {
	if hints.WorkspaceID == nil || !hints.ImmediateCreation {
		return nil, nil
	}
	ws, err := p.store.GetWorkspace(ctx, *hints.WorkspaceID)
	if err != nil {
		if errors.Is(err, ErrWorkspaceNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if models.NormalizeEmail(ws.CompanyEmail) != email {
		return nil, nil
	}
	return ws, nil
}

// findCrossDevice only matches on exact contact email. Recency alone never grants access.
func (p *Provisioner) findCrossDevice(ctx context.Context, email string, _ *session.Context, _ Hints) (*models.Workspace, error) {
	since := p.now().Add(-p.cfg.CrossDeviceWindow)
	list, err := p.store.FindRecentByContactEmail(ctx, email, since)
	if err != nil {
		return nil, err
	}
	for _, ws := range list {
		if models.NormalizeEmail(ws.CompanyEmail) == email {
			return ws, nil
		}
	}
	return nil, nil
}

func (p *Provisioner) findPlaceholderOwned(ctx context.Context, email string, _ *session.Context, _ Hints) (*models.Workspace, error) {
	list, err := p.store.FindPlaceholderOwned(ctx, email)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// bind makes user a member of ws inside one transaction. If the placeholder still owns ws
// the user claims it and becomes Admin; a lost claim degrades to Member.
func (p *Provisioner) bind(ctx context.Context, user *models.User, ws *models.Workspace, signal Signal) (*Outcome, error) {
	out := &Outcome{Signal: signal}
	err := p.store.RunInTx(ctx, func(tx Store) error {
		current, err := tx.GetWorkspace(ctx, ws.ID)
		if err != nil {
			return err
		}
		out.Workspace = current

		existing, err := tx.GetMembership(ctx, user.ID, ws.ID)
		if err == nil {
			out.Role = existing.Role
			return nil
		}
		if !errors.Is(err, ErrMembershipNotFound) {
			return err
		}

		owner, err := tx.GetUser(ctx, current.CreatedBy)
		if err != nil {
			return err
		}
		role := models.RoleMember
		switch {
		case owner.ID == user.ID:
			role = models.RoleAdmin
		case owner.IsPlaceholder:
			claimed, err := tx.ClaimOwnership(ctx, current.ID, owner.ID, user.ID)
			if err != nil {
				return err
			}
			if claimed {
				role = models.RoleAdmin
				out.Claimed = true
				current.CreatedBy = user.ID
			}
		}

		added, err := tx.AddMembership(ctx, user.ID, current.ID, role)
		if err != nil {
			return err
		}
		if !added {
			m, err := tx.GetMembership(ctx, user.ID, current.ID)
			if err != nil {
				return err
			}
			out.Role = m.Role
			return nil
		}
		out.Role = role
		out.Bound = true

		if out.Claimed {
			deleted, err := tx.DeletePlaceholderIfUnused(ctx, owner.ID)
			if err != nil {
				return err
			}
			if !deleted {
				p.logger.Info("placeholder kept, still owns other workspaces", zap.String("placeholder_id", owner.ID.String()))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
