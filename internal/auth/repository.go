package auth

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crewdesk/backend/internal/models"
)

const userColumns = `id, email, display_name, is_placeholder, last_login_at, created_at, updated_at`

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.IsPlaceholder, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertByEmail creates the user on first sign-in and records the login otherwise.
// An empty display name leaves the stored one untouched.
func (r *Repository) UpsertByEmail(ctx context.Context, email, displayName string) (*models.User, error) {
	const q = `INSERT INTO users (email, display_name, last_login_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE users.display_name END,
			last_login_at = NOW(),
			updated_at = NOW()
		RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, q, models.NormalizeEmail(email), displayName))
}
