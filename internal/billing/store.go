// Package billing ingests payment processor events and drives the subscription lifecycle.
package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/crewdesk/backend/internal/models"
)

var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrMalformedEvent    = errors.New("malformed billing event")
	ErrNoCustomer        = errors.New("workspace has no billing customer")
	ErrUnknownTier       = errors.New("unknown subscription tier")
)

// Tx is the per-event unit of work. Workspace reads lock the row until commit.
type Tx interface {
	// RecordEvent stores the processor event id; false means it was already processed.
	RecordEvent(ctx context.Context, ev *models.BillingEvent) (bool, error)
	SetEventOutcome(ctx context.Context, providerEventID string, workspaceID *uuid.UUID, outcome string) error
	WorkspaceByCode(ctx context.Context, code string) (*models.Workspace, error)
	WorkspaceByCustomer(ctx context.Context, customerID string) (*models.Workspace, error)
	SaveSubscription(ctx context.Context, ws *models.Workspace) error
}

// Store runs event transactions.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}
