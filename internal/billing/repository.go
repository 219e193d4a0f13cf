package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crewdesk/backend/internal/models"
	"github.com/crewdesk/backend/internal/workspaces"
	"github.com/crewdesk/backend/pkg/database"
)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a billing repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RunInTx runs fn in one transaction.
func (r *Repository) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&txRepository{db: tx})
	})
}

type txRepository struct {
	db database.DBTX
}

func (r *txRepository) RecordEvent(ctx context.Context, ev *models.BillingEvent) (bool, error) {
	const q = `INSERT INTO billing_events (provider_event_id, event_type, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_event_id) DO NOTHING
		RETURNING id`
	err := r.db.QueryRow(ctx, q, ev.ProviderEventID, ev.EventType, ev.ReceivedAt).Scan(&ev.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *txRepository) SetEventOutcome(ctx context.Context, providerEventID string, workspaceID *uuid.UUID, outcome string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE billing_events SET outcome = $2, workspace_id = $3 WHERE provider_event_id = $1`,
		providerEventID, outcome, workspaceID)
	return err
}

func (r *txRepository) lockWorkspace(ctx context.Context, where string, arg any) (*models.Workspace, error) {
	q := `SELECT ` + workspaces.Columns("") + ` FROM workspaces WHERE ` + where + ` FOR UPDATE`
	ws, err := workspaces.ScanWorkspace(r.db.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWorkspaceNotFound
	}
	return ws, err
}

func (r *txRepository) WorkspaceByCode(ctx context.Context, code string) (*models.Workspace, error) {
	return r.lockWorkspace(ctx, "code = $1", code)
}

func (r *txRepository) WorkspaceByCustomer(ctx context.Context, customerID string) (*models.Workspace, error) {
	return r.lockWorkspace(ctx, "stripe_customer_id = $1", customerID)
}

func (r *txRepository) SaveSubscription(ctx context.Context, ws *models.Workspace) error {
	const q = `UPDATE workspaces SET
		subscription_status = $2,
		subscription_tier = $3,
		subscription_end_date = $4,
		stripe_customer_id = $5,
		stripe_subscription_id = $6,
		updated_at = NOW()
		WHERE id = $1`
	_, err := r.db.Exec(ctx, q, ws.ID, string(ws.SubscriptionStatus), string(ws.SubscriptionTier),
		ws.SubscriptionEndDate, ws.StripeCustomerID, ws.StripeSubscriptionID)
	return err
}
