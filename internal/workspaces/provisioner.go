package workspaces

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/pkg/metrics"
	"github.com/crewdesk/backend/pkg/utils"
)

// Signal names the evidence that bound a signed-in user to a workspace.
type Signal string

const (
	SignalSameSession Signal = "same_session"
	SignalExplicit    Signal = "explicit_hint"
	SignalCrossDevice Signal = "cross_device"
	SignalPlaceholder Signal = "placeholder_owner"
	SignalAutoSelect  Signal = "auto_select"
	SignalNone        Signal = "none"
)

const (
	provisioningTokenBytes = 32
	codeAttempts           = 5
)

// Config holds provisioning knobs.
type Config struct {
	TrialPeriod       time.Duration
	CrossDeviceWindow time.Duration
}

// Provisioner creates workspaces and reconciles ownership at sign-in.
type Provisioner struct {
	store   Store
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewProvisioner creates a provisioner.
func NewProvisioner(store Store, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{store: store, cfg: cfg, metrics: m, logger: logger, now: time.Now}
}

// CreateParams is the tenant profile captured at creation time.
type CreateParams struct {
	Name         string
	CompanyName  string
	Country      string
	Industry     string
	CompanySize  string
	Phone        string
	CompanyEmail string
}

// Created is the result of Create. ProvisioningToken is returned once and only its hash is stored.
type Created struct {
	Workspace         *models.Workspace
	Company           *models.Company
	ProvisioningToken string
}

// Create commits a trial workspace and its company owned by the contact email's placeholder user.
func (p *Provisioner) Create(ctx context.Context, params CreateParams) (*Created, error) {
	token, err := utils.RandomToken(provisioningTokenBytes)
	if err != nil {
		return nil, err
	}
	tokenHash, err := utils.HashToken(token)
	if err != nil {
		return nil, fmt.Errorf("hash provisioning token: %w", err)
	}
	contact := models.NormalizeEmail(params.CompanyEmail)
	companyName := strings.TrimSpace(params.CompanyName)
	if companyName == "" {
		companyName = strings.TrimSpace(params.Name)
	}
	trialEnd := p.now().UTC().Add(p.cfg.TrialPeriod)

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := utils.RandomCode(models.WorkspaceCodeLength)
		if err != nil {
			return nil, err
		}
		ws := &models.Workspace{
			Code:                  code,
			Name:                  strings.TrimSpace(params.Name),
			Country:               strings.TrimSpace(params.Country),
			Industry:              strings.TrimSpace(params.Industry),
			CompanySize:           models.NormalizeCompanySize(strings.TrimSpace(params.CompanySize)),
			Phone:                 strings.TrimSpace(params.Phone),
			CompanyEmail:          contact,
			SubscriptionStatus:    models.SubscriptionTrial,
			SubscriptionTier:      models.TierTrial,
			TrialEndDate:          &trialEnd,
			ProvisioningTokenHash: tokenHash,
		}
		company := &models.Company{Name: companyName}
		err = p.store.RunInTx(ctx, func(tx Store) error {
			owner, err := tx.GetOrCreatePlaceholder(ctx, contact)
			if err != nil {
				return fmt.Errorf("placeholder user: %w", err)
			}
			ws.CreatedBy = owner.ID
			company.CreatedBy = owner.ID
			return tx.CreateWorkspace(ctx, ws, company)
		})
		if errors.Is(err, ErrCodeTaken) {
			p.logger.Warn("workspace code collision, retrying", zap.String("code", code))
			continue
		}
		if err != nil {
			return nil, err
		}
		p.logger.Info("workspace created",
			zap.String("workspace_id", ws.ID.String()),
			zap.String("code", ws.Code),
			zap.String("company_size", ws.CompanySize))
		return &Created{Workspace: ws, Company: company, ProvisioningToken: token}, nil
	}
	return nil, fmt.Errorf("allocate workspace code: %w", ErrCodeTaken)
}

// NormalizeCode upper-cases and trims a join code and checks its length.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != models.WorkspaceCodeLength {
		return "", ErrInvalidCode
	}
	return code, nil
}

// Join adds the user as a Member of the workspace with this code. Existing members keep their role.
func (p *Provisioner) Join(ctx context.Context, userID uuid.UUID, code string) (*models.Workspace, models.Role, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, "", err
	}
	var ws *models.Workspace
	role := models.RoleMember
	err = p.store.RunInTx(ctx, func(tx Store) error {
		var err error
		ws, err = tx.GetWorkspaceByCode(ctx, code)
		if err != nil {
			return err
		}
		added, err := tx.AddMembership(ctx, userID, ws.ID, models.RoleMember)
		if err != nil {
			return err
		}
		if !added {
			m, err := tx.GetMembership(ctx, userID, ws.ID)
			if err != nil {
				return err
			}
			role = m.Role
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return ws, role, nil
}

// Select checks membership and returns the workspace the user wants as current.
func (p *Provisioner) Select(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Workspace, models.Role, error) {
	m, err := p.store.GetMembership(ctx, userID, workspaceID)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return nil, "", ErrNotMember
		}
		return nil, "", err
	}
	ws, err := p.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, "", err
	}
	return ws, m.Role, nil
}

// ListForUser returns the user's workspaces.
func (p *Provisioner) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.WorkspaceSummary, error) {
	return p.store.ListForUser(ctx, userID)
}

// ListMembers returns a workspace's members.
func (p *Provisioner) ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]Member, error) {
	return p.store.ListMembers(ctx, workspaceID)
}
