package service

import (
	"context"
	"time"

	"github.com/iliyamo/account-service/internal/apperror"
	"github.com/iliyamo/account-service/internal/utils"
)

// TokenStore is the live-token set.
type TokenStore interface {
	Add(ctx context.Context, userID, token string, ttl time.Duration) error
	IsLive(ctx context.Context, userID, token string) (bool, error)
	Touch(ctx context.Context, userID string, ttl time.Duration) error
	RevokeAll(ctx context.Context, userID string) error
}

// TokenService mints, verifies and revokes session tokens. A token is
// honoured only while its signature verifies AND it is a member of the
// owner's live set, so revocation takes effect immediately.
type TokenService struct {
	secret string
	store  TokenStore
	ttl    time.Duration
}

func NewTokenService(secret string, store TokenStore, ttl time.Duration) *TokenService {
	return &TokenService{secret: secret, store: store, ttl: ttl}
}

// Mint signs a token without registering it.
func (s *TokenService) Mint(userID, group string, roles []string) (string, error) {
	return utils.NewSessionToken(s.secret, userID, group, roles)
}

// Issue mints a token and adds it to the user's live set.
func (s *TokenService) Issue(ctx context.Context, userID, group string, roles []string) (string, error) {
	tok, err := s.Mint(userID, group, roles)
	if err != nil {
		return "", apperror.Wrap(apperror.UnknownError, err)
	}
	if err := s.store.Add(ctx, userID, tok, s.ttl); err != nil {
		return "", apperror.Wrap(apperror.RedisError, err)
	}
	return tok, nil
}

// Verify checks the signature only.
func (s *TokenService) Verify(raw string) (*utils.SessionClaims, error) {
	claims, err := utils.ParseSessionToken(s.secret, raw)
	if err != nil {
		return nil, apperror.New(apperror.TokenIsInvalid)
	}
	return claims, nil
}

// Authorize verifies raw, requires it to be live and slides the set TTL.
func (s *TokenService) Authorize(ctx context.Context, raw string) (*utils.SessionClaims, error) {
	claims, err := s.Verify(raw)
	if err != nil {
		return nil, err
	}
	live, err := s.store.IsLive(ctx, claims.UserID, raw)
	if err != nil {
		return nil, apperror.Wrap(apperror.RedisError, err)
	}
	if !live {
		return nil, apperror.New(apperror.UserAuthRenew)
	}
	if err := s.store.Touch(ctx, claims.UserID, s.ttl); err != nil {
		return nil, apperror.Wrap(apperror.RedisError, err)
	}
	return claims, nil
}

// RevokeAll drops every live token of userID.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) error {
	if err := s.store.RevokeAll(ctx, userID); err != nil {
		return apperror.Wrap(apperror.RedisError, err)
	}
	return nil
}
