// Package auth verifies bearer tokens issued by the account service and
// answers ownership questions about the caller.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Admin bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Email  string
	Admin  bool
}

// CanAccess reports whether the actor may act on a resource owned by
// ownerID.
func (a Actor) CanAccess(ownerID string) bool {
	return a.Admin || (a.UserID != "" && a.UserID == ownerID)
}

var ErrInvalidToken = errors.New("invalid token")

// ParseToken accepts HS256 tokens only.
func ParseToken(secret, tokenStr string) (*Actor, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Actor{UserID: claims.Subject, Email: claims.Email, Admin: claims.Admin}, nil
}

// Sign issues a token for the actor. Production tokens come from the
// account service; this is used by the CLI and tests.
func Sign(secret string, a Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: a.Email,
		Admin: a.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
