// Package auth reads the session owner out of the access token.
// The token is issued and checked by the server; the client never verifies its signature.
package auth

import (
	"cinematch/domain"
	"cinematch/errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
)

// Claims covers the names the identity server has used for the user id and display name.
type Claims struct {
	UserID     string `json:"user_id"`
	NameID     string `json:"nameid"`
	Name       string `json:"name"`
	UniqueName string `json:"unique_name"`
	jwt.RegisteredClaims
}

type Identity struct {
	User      domain.UserRef
	ExpiresAt *time.Time
}

// Expired reports whether the token is past its expiry at now. Tokens without expiry never expire.
func (i Identity) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

func IdentityFromToken(token string) (Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}

	id := lo.CoalesceOrEmpty(claims.UserID, claims.Subject, claims.NameID)
	if id == "" {
		return Identity{}, errors.ErrMissingSubject
	}
	identity := Identity{
		User: domain.UserRef{
			ID:          id,
			DisplayName: lo.CoalesceOrEmpty(claims.Name, claims.UniqueName, id),
		},
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = lo.ToPtr(claims.ExpiresAt.Time)
	}
	return identity, nil
}
