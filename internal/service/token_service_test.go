package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/account-service/internal/apperror"
	"github.com/iliyamo/account-service/internal/repository"
)

func TestTokenLifecycle(t *testing.T) {
	mr, rdb := newTestRedis(t)
	svc := NewTokenService("secret", repository.NewTokenRepo(rdb), 30*24*time.Hour)
	ctx := context.Background()

	tok, err := svc.Issue(ctx, "u1", "RD", []string{"admin"})
	require.NoError(t, err)

	claims, err := svc.Authorize(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "RD", claims.Group)
	assert.Equal(t, []string{"admin"}, claims.Roles)

	mr.FastForward(10 * 24 * time.Hour)
	_, err = svc.Authorize(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, mr.TTL("userId:u1"), "authorize slides the TTL")

	require.NoError(t, svc.RevokeAll(ctx, "u1"))
	_, err = svc.Authorize(ctx, tok)
	assert.True(t, apperror.Is(err, apperror.UserAuthRenew))
}

func TestMintedButNotIssuedIsRenew(t *testing.T) {
	_, rdb := newTestRedis(t)
	svc := NewTokenService("secret", repository.NewTokenRepo(rdb), time.Hour)

	tok, err := svc.Mint("u1", "RD", []string{"user"})
	require.NoError(t, err)

	_, err = svc.Authorize(context.Background(), tok)
	assert.True(t, apperror.Is(err, apperror.UserAuthRenew))
}

func TestForgedTokenIsInvalid(t *testing.T) {
	_, rdb := newTestRedis(t)
	svc := NewTokenService("secret", repository.NewTokenRepo(rdb), time.Hour)
	other := NewTokenService("other", repository.NewTokenRepo(rdb), time.Hour)

	tok, err := other.Issue(context.Background(), "u1", "RD", nil)
	require.NoError(t, err)

	_, err = svc.Authorize(context.Background(), tok)
	assert.True(t, apperror.Is(err, apperror.TokenIsInvalid))
}

func TestExpiredLiveSetIsRenew(t *testing.T) {
	mr, rdb := newTestRedis(t)
	svc := NewTokenService("secret", repository.NewTokenRepo(rdb), time.Hour)

	tok, err := svc.Issue(context.Background(), "u1", "RD", nil)
	require.NoError(t, err)
	mr.FastForward(time.Hour + time.Second)

	_, err = svc.Authorize(context.Background(), tok)
	assert.True(t, apperror.Is(err, apperror.UserAuthRenew))
}
