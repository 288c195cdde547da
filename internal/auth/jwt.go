// Package auth verifies bearer tokens issued by the identity provider and
// exposes the authenticated identity to request handlers.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// expectedAudience is the audience claim the identity provider stamps on
// end-user tokens.
const expectedAudience = "authenticated"

// Verification errors.
var (
	ErrMissingToken    = errors.New("missing bearer token")
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidAudience = errors.New("invalid token audience")
)

// Identity is the authenticated caller extracted from a verified token.
type Identity struct {
	ID    string
	Email string
	Role  string
	Name  string
}

// claims mirrors the identity provider's token payload. User metadata keys
// vary by signup method, so the name fields are all optional.
type claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier for the given shared signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
}

// Verify validates the token signature and claims and returns the caller's
// identity.
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	var c claims
	token, err := v.parser.ParseWithClaims(tokenString, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	aud, err := c.GetAudience()
	if err != nil || !containsAudience(aud, expectedAudience) {
		return nil, ErrInvalidAudience
	}

	return &Identity{
		ID:    c.Subject,
		Email: c.Email,
		Role:  c.Role,
		Name:  deriveName(&c),
	}, nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

// deriveName picks a display name: the metadata name fields in preference
// order, then the email local part, then the subject id.
func deriveName(c *claims) string {
	for _, key := range []string{"name", "full_name", "display_name"} {
		if v, ok := c.UserMetadata[key].(string); ok && v != "" {
			return v
		}
	}
	if c.Email != "" {
		if local, _, found := strings.Cut(c.Email, "@"); found && local != "" {
			return local
		}
		return c.Email
	}
	return c.Subject
}
