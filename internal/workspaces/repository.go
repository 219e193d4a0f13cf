package workspaces

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/pkg/database"
)

var workspaceFields = []string{
	"id", "code", "name", "country", "industry", "company_size", "phone", "company_email", "created_by",
	"subscription_status", "subscription_tier", "trial_end_date", "subscription_end_date",
	"stripe_customer_id", "stripe_subscription_id", "provisioning_token_hash", "created_at", "updated_at",
}

// Columns returns the workspace select list, optionally qualified with a table alias.
func Columns(alias string) string {
	if alias == "" {
		return strings.Join(workspaceFields, ", ")
	}
	cols := make([]string, len(workspaceFields))
	for i, f := range workspaceFields {
		cols[i] = alias + "." + f
	}
	return strings.Join(cols, ", ")
}

// ScanWorkspace scans a row selected with Columns. extra receives any trailing columns.
func ScanWorkspace(row pgx.Row, extra ...any) (*models.Workspace, error) {
	var w models.Workspace
	var status, tier string
	dest := []any{
		&w.ID, &w.Code, &w.Name, &w.Country, &w.Industry, &w.CompanySize, &w.Phone, &w.CompanyEmail, &w.CreatedBy,
		&status, &tier, &w.TrialEndDate, &w.SubscriptionEndDate,
		&w.StripeCustomerID, &w.StripeSubscriptionID, &w.ProvisioningTokenHash, &w.CreatedAt, &w.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	w.SubscriptionStatus = models.SubscriptionStatus(status)
	w.SubscriptionTier = models.SubscriptionTier(tier)
	return &w, nil
}

const userColumns = `id, email, display_name, is_placeholder, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.IsPlaceholder, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
	db   database.DBTX
}

// NewRepository creates a workspaces repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// RunInTx runs fn in a transaction. Nested calls reuse the open transaction.
func (r *Repository) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{db: tx})
	})
}

// GetUser returns a user by ID.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// GetOrCreatePlaceholder returns the pending_<email> owner row, creating it if needed.
func (r *Repository) GetOrCreatePlaceholder(ctx context.Context, contactEmail string) (*models.User, error) {
	const q = `INSERT INTO users (email, display_name, is_placeholder)
		VALUES ($1, '', TRUE)
		ON CONFLICT (email) DO UPDATE SET updated_at = NOW()
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRow(ctx, q, models.PlaceholderEmail(contactEmail)))
}

// DeletePlaceholderIfUnused removes a placeholder that no longer owns a workspace or company.
func (r *Repository) DeletePlaceholderIfUnused(ctx context.Context, userID uuid.UUID) (bool, error) {
	const q = `DELETE FROM users u
		WHERE u.id = $1 AND u.is_placeholder
		AND NOT EXISTS (SELECT 1 FROM workspaces w WHERE w.created_by = u.id)
		AND NOT EXISTS (SELECT 1 FROM companies c WHERE c.created_by = u.id)`
	tag, err := r.db.Exec(ctx, q, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreateWorkspace inserts the workspace and its company.
func (r *Repository) CreateWorkspace(ctx context.Context, ws *models.Workspace, company *models.Company) error {
	const q = `INSERT INTO workspaces (code, name, country, industry, company_size, phone, company_email, created_by,
		subscription_status, subscription_tier, trial_end_date, provisioning_token_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, q, ws.Code, ws.Name, ws.Country, ws.Industry, ws.CompanySize, ws.Phone, ws.CompanyEmail,
		ws.CreatedBy, string(ws.SubscriptionStatus), string(ws.SubscriptionTier), ws.TrialEndDate, ws.ProvisioningTokenHash).
		Scan(&ws.ID, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrCodeTaken
		}
		return err
	}
	company.WorkspaceID = ws.ID
	const cq = `INSERT INTO companies (workspace_id, name, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, cq, company.WorkspaceID, company.Name, company.CreatedBy).
		Scan(&company.ID, &company.CreatedAt, &company.UpdatedAt)
}

// GetWorkspace returns a workspace by ID.
func (r *Repository) GetWorkspace(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	ws, err := ScanWorkspace(r.db.QueryRow(ctx, `SELECT `+Columns("")+` FROM workspaces WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWorkspaceNotFound
	}
	return ws, err
}

// GetWorkspaceByCode returns a workspace by its join code.
func (r *Repository) GetWorkspaceByCode(ctx context.Context, code string) (*models.Workspace, error) {
	ws, err := ScanWorkspace(r.db.QueryRow(ctx, `SELECT `+Columns("")+` FROM workspaces WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWorkspaceNotFound
	}
	return ws, err
}

// FindRecentByContactEmail returns workspaces with this contact email created at or after since, newest first.
func (r *Repository) FindRecentByContactEmail(ctx context.Context, email string, since time.Time) ([]*models.Workspace, error) {
	q := `SELECT ` + Columns("") + ` FROM workspaces
		WHERE lower(company_email) = $1 AND created_at >= $2
		ORDER BY created_at DESC`
	return r.queryWorkspaces(ctx, q, models.NormalizeEmail(email), since)
}

// FindPlaceholderOwned returns workspaces with this contact email still owned by its placeholder, newest first.
func (r *Repository) FindPlaceholderOwned(ctx context.Context, email string) ([]*models.Workspace, error) {
	q := `SELECT ` + Columns("w") + ` FROM workspaces w
		INNER JOIN users u ON u.id = w.created_by
		WHERE u.is_placeholder AND u.email = $1 AND lower(w.company_email) = $2
		ORDER BY w.created_at DESC`
	email = models.NormalizeEmail(email)
	return r.queryWorkspaces(ctx, q, models.PlaceholderEmail(email), email)
}

func (r *Repository) queryWorkspaces(ctx context.Context, q string, args ...any) ([]*models.Workspace, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Workspace
	for rows.Next() {
		ws, err := ScanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, ws)
	}
	return list, rows.Err()
}

// ClaimOwnership is a conditional write: only the first caller to observe the placeholder as
// owner succeeds. Concurrent claimers block on the row lock and then match zero rows.
func (r *Repository) ClaimOwnership(ctx context.Context, workspaceID, placeholderID, userID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE workspaces SET created_by = $3, updated_at = NOW() WHERE id = $1 AND created_by = $2`,
		workspaceID, placeholderID, userID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	_, err = r.db.Exec(ctx,
		`UPDATE companies SET created_by = $3, updated_at = NOW() WHERE workspace_id = $1 AND created_by = $2`,
		workspaceID, placeholderID, userID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// AddMembership inserts (user, workspace, role) unless the pair already exists.
func (r *Repository) AddMembership(ctx context.Context, userID, workspaceID uuid.UUID, role models.Role) (bool, error) {
	const q = `INSERT INTO user_workspaces (user_id, workspace_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, workspace_id) DO NOTHING`
	tag, err := r.db.Exec(ctx, q, userID, workspaceID, string(role))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanMembership(row pgx.Row) (*models.UserWorkspace, error) {
	var m models.UserWorkspace
	var role string
	if err := row.Scan(&m.ID, &m.UserID, &m.WorkspaceID, &role, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	m.Role = models.Role(role)
	return &m, nil
}

// GetMembership returns the membership for (user, workspace).
func (r *Repository) GetMembership(ctx context.Context, userID, workspaceID uuid.UUID) (*models.UserWorkspace, error) {
	const q = `SELECT id, user_id, workspace_id, role, created_at FROM user_workspaces
		WHERE user_id = $1 AND workspace_id = $2`
	return scanMembership(r.db.QueryRow(ctx, q, userID, workspaceID))
}

// LatestMembership returns the user's most recently created membership.
func (r *Repository) LatestMembership(ctx context.Context, userID uuid.UUID) (*models.UserWorkspace, error) {
	const q = `SELECT id, user_id, workspace_id, role, created_at FROM user_workspaces
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`
	return scanMembership(r.db.QueryRow(ctx, q, userID))
}

// ListForUser returns the workspaces the user belongs to, most recently joined first.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.WorkspaceSummary, error) {
	const q = `SELECT w.id, w.code, w.name, w.subscription_status, w.subscription_tier, w.trial_end_date, uw.role, w.created_at
		FROM user_workspaces uw
		INNER JOIN workspaces w ON w.id = uw.workspace_id
		WHERE uw.user_id = $1
		ORDER BY uw.created_at DESC`
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.WorkspaceSummary
	for rows.Next() {
		var s models.WorkspaceSummary
		var status, tier, role string
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &status, &tier, &s.TrialEndDate, &role, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.SubscriptionStatus = models.SubscriptionStatus(status)
		s.SubscriptionTier = models.SubscriptionTier(tier)
		s.Role = models.Role(role)
		list = append(list, s)
	}
	return list, rows.Err()
}

// ListMembers returns the workspace's members in join order.
func (r *Repository) ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]Member, error) {
	const q = `SELECT u.id, u.email, u.display_name, uw.role, uw.created_at
		FROM user_workspaces uw
		INNER JOIN users u ON u.id = uw.user_id
		WHERE uw.workspace_id = $1
		ORDER BY uw.created_at`
	rows, err := r.db.Query(ctx, q, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Member
	for rows.Next() {
		var m Member
		var role string
		if err := rows.Scan(&m.UserID, &m.Email, &m.DisplayName, &role, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		list = append(list, m)
	}
	return list, rows.Err()
}

// CurrentWorkspace loads the workspace together with the user's role in it. It returns a nil
// workspace and no error when the workspace is gone or the user is not a member.
func (r *Repository) CurrentWorkspace(ctx context.Context, userID, workspaceID uuid.UUID) (*models.Workspace, models.Role, error) {
	q := `SELECT ` + Columns("w") + `, uw.role FROM workspaces w
		INNER JOIN user_workspaces uw ON uw.workspace_id = w.id AND uw.user_id = $2
		WHERE w.id = $1`
	var role string
	ws, err := ScanWorkspace(r.db.QueryRow(ctx, q, workspaceID, userID), &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return ws, models.Role(role), nil
}
