package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crewdesk/backend/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingEmail = errors.New("identity token has no email")
	// ErrEmailNotVerified is returned for identities whose provider has not verified the email.
	ErrEmailNotVerified = errors.New("identity email not verified")
)

// IdentityClaims are the claims read from a sign-in ID token.
type IdentityClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// IdentityVerifier validates ID tokens issued by the identity provider.
type IdentityVerifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewIdentityVerifier creates a verifier. Empty issuer or audience are not checked.
func NewIdentityVerifier(secret, issuer, audience string) *IdentityVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &IdentityVerifier{secret: []byte(secret), opts: opts}
}

// Verify parses and validates an ID token, returning its claims with a normalized email.
// Workspace ownership is granted by email match, so unverified emails are refused.
func (v *IdentityVerifier) Verify(tokenString string) (*IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, v.opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims.Email = models.NormalizeEmail(claims.Email)
	if claims.Email == "" {
		return nil, ErrMissingEmail
	}
	if !claims.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	return claims, nil
}
