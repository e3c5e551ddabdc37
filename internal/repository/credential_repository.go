package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/account-service/internal/model"
)

// Key prefixes. Existing deployments hold live data under these names, so
// they must not change.
const (
	invitationPrefix   = "invitation:"
	verifyEmailPrefix  = "verifyEmail:"
	resetCodePrefix    = "resetCode:"
	passwordTempPrefix = "passwordTemp:"
)

// CredentialRepo stores short-lived credentials in Redis. Expiry is delegated
// entirely to key TTLs; nothing here sweeps stale entries.
type CredentialRepo struct {
	rdb *redis.Client
}

func NewCredentialRepo(rdb *redis.Client) *CredentialRepo { return &CredentialRepo{rdb: rdb} }

func invitationKey(code string) string { return invitationPrefix + code }
func verifyEmailKey(email, code string) string { return verifyEmailPrefix + email + ":" + code }
func resetCodeKey(code string) string { return resetCodePrefix + code }
func passwordTempKey(email string) string { return passwordTempPrefix + email }

func (r *CredentialRepo) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, key, b, ttl).Err()
}

func (r *CredentialRepo) get(ctx context.Context, key string, v any) error {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCredentialNotFound
		}
		return err
	}
	return json.Unmarshal(b, v)
}

func (r *CredentialRepo) del(ctx context.Context, keys ...string) error {
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *CredentialRepo) SaveInvitation(ctx context.Context, code string, inv model.Invitation, ttl time.Duration) error {
	return r.put(ctx, invitationKey(code), inv, ttl)
}

func (r *CredentialRepo) GetInvitation(ctx context.Context, code string) (model.Invitation, error) {
	var inv model.Invitation
	err := r.get(ctx, invitationKey(code), &inv)
	return inv, err
}

func (r *CredentialRepo) SaveEmailVerification(ctx context.Context, code string, rec model.EmailVerification, ttl time.Duration) error {
	return r.put(ctx, verifyEmailKey(rec.Email, code), rec, ttl)
}

func (r *CredentialRepo) GetEmailVerification(ctx context.Context, email, code string) (model.EmailVerification, error) {
	var rec model.EmailVerification
	err := r.get(ctx, verifyEmailKey(email, code), &rec)
	return rec, err
}

// DeleteEmailVerifications removes every outstanding verification code of
// email and returns how many keys were deleted.
func (r *CredentialRepo) DeleteEmailVerifications(ctx context.Context, email string) (int64, error) {
	pattern := verifyEmailPrefix + escapeGlob(email) + ":*"
	var keys []string
	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return r.rdb.Del(ctx, keys...).Result()
}

func (r *CredentialRepo) SaveResetCode(ctx context.Context, code string, rc model.ResetCode, ttl time.Duration) error {
	return r.put(ctx, resetCodeKey(code), rc, ttl)
}

func (r *CredentialRepo) GetResetCode(ctx context.Context, code string) (model.ResetCode, error) {
	var rc model.ResetCode
	err := r.get(ctx, resetCodeKey(code), &rc)
	return rc, err
}

func (r *CredentialRepo) DeleteResetCode(ctx context.Context, code string) error {
	return r.del(ctx, resetCodeKey(code))
}

// SaveTempPassword overwrites any previous temporary password of tp.Email.
func (r *CredentialRepo) SaveTempPassword(ctx context.Context, tp model.TempPassword, ttl time.Duration) error {
	return r.put(ctx, passwordTempKey(tp.Email), tp, ttl)
}

func (r *CredentialRepo) GetTempPassword(ctx context.Context, email string) (model.TempPassword, error) {
	var tp model.TempPassword
	err := r.get(ctx, passwordTempKey(email), &tp)
	return tp, err
}

func (r *CredentialRepo) DeleteTempPassword(ctx context.Context, email string) error {
	return r.del(ctx, passwordTempKey(email))
}

// escapeGlob quotes the characters Redis treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
