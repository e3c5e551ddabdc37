package utils // package utils provides helpers for session tokens, passwords and random codes

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims is the payload of a session token. Tokens carry no exp
// claim: their lifetime is governed by membership in the live-token set,
// not by the signature.
type SessionClaims struct {
	UserID string   `json:"user_id"`
	Group  string   `json:"group"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// ErrInvalidToken covers every reason a token fails verification.
var ErrInvalidToken = errors.New("invalid token")

// NewSessionToken signs an HS256 token for the given identity. A random jti
// keeps tokens minted within the same second distinct.
func NewSessionToken(secret, userID, group string, roles []string) (string, error) {
	claims := SessionClaims{
		UserID: userID,
		Group:  group,
		Roles:  append([]string(nil), roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

// ParseSessionToken verifies the signature of raw and returns its claims.
func ParseSessionToken(secret, raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
