package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlaceholderPrefix marks synthetic owner rows created before the real admin signs in.
const PlaceholderPrefix = "pending_"

// User represents a platform user. Identity is the unique email.
type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	IsPlaceholder bool       `json:"-"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// UserPublic is User without internal fields for API responses.
type UserPublic struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PlaceholderEmail returns the sentinel owner email for a workspace contact email.
func PlaceholderEmail(contactEmail string) string {
	return PlaceholderPrefix + NormalizeEmail(contactEmail)
}

// IsPlaceholderEmail reports whether email uses the placeholder pattern.
func IsPlaceholderEmail(email string) bool {
	return strings.HasPrefix(NormalizeEmail(email), PlaceholderPrefix)
}
