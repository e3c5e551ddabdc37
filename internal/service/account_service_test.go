package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/account-service/internal/apperror"
	"github.com/iliyamo/account-service/internal/config"
	notify "github.com/iliyamo/account-service/internal/mail"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/rbac"
	"github.com/iliyamo/account-service/internal/repository"
	"github.com/iliyamo/account-service/internal/utils"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// memUsers is an in-memory UserStore.
type memUsers struct {
	mu    sync.Mutex
	byID  map[string]model.User
	order []string
}

func newMemUsers() *memUsers { return &memUsers{byID: map[string]model.User{}} }

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.byID {
		if u.Email != "" && x.Email == u.Email {
			return repository.ErrEmailExists
		}
	}
	u.ID = uint64(len(m.order) + 1)
	m.byID[u.UserID] = *u
	m.order = append(m.order, u.UserID)
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == repository.NormalizeEmail(email) {
			u.Roles = u.Roles.Clone()
			return u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

func (m *memUsers) GetByUserID(_ context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	u.Roles = u.Roles.Clone()
	return u, nil
}

func (m *memUsers) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.byID)), nil
}

func (m *memUsers) List(_ context.Context, limit, offset int) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.User
	for i, id := range m.order {
		if u, ok := m.byID[id]; ok && i >= offset && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUsers) update(id string, fn func(*model.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(&u)
	m.byID[id] = u
	return nil
}

func (m *memUsers) UpdateProfile(_ context.Context, u model.User) error {
	return m.update(u.UserID, func(x *model.User) {
		x.Name, x.Mobile, x.CountryCode = u.Name, u.Mobile, u.CountryCode
	})
}

func (m *memUsers) UpdatePassword(_ context.Context, id, hash string) error {
	return m.update(id, func(x *model.User) { x.PasswordHash = hash })
}

func (m *memUsers) SetEmailVerified(_ context.Context, id string, v bool) error {
	return m.update(id, func(x *model.User) { x.EmailVerified = v })
}

func (m *memUsers) SetRoles(_ context.Context, id string, roles model.GroupRoles) error {
	return m.update(id, func(x *model.User) { x.Roles = roles.Clone() })
}

func (m *memUsers) Drop(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(m.byID, id)
	return nil
}

// staticGroups maps a group to its default role; "" means no default.
type staticGroups map[string]string

func (g staticGroups) DefaultRole(_ context.Context, group string) (string, error) {
	role, ok := g[group]
	if !ok {
		return "", repository.ErrGroupNotFound
	}
	return role, nil
}

// outbox records every message sent.
type outbox struct {
	mu   sync.Mutex
	sent []notify.Message
	fail error
}

func (o *outbox) Send(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) last(t *testing.T, template string) notify.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].Template == template {
			return o.sent[i]
		}
	}
	t.Fatalf("no %s message sent", template)
	return notify.Message{}
}

type fixture struct {
	svc    *AccountService
	users  *memUsers
	mail   *outbox
	tokens *TokenService
	mr     *miniredis.Miniredis
}

func newFixture(t *testing.T, mutate ...func(*config.AccountConfig)) *fixture {
	t.Helper()
	mr, rdb := newTestRedis(t)
	_, graph, err := rbac.LoadFile("")
	require.NoError(t, err)

	cfg := config.AccountConfig{
		TokenTTL:          30 * 24 * time.Hour,
		InvitationTTL:     7 * 24 * time.Hour,
		ResetCodeTTL:      time.Hour,
		TempPasswordTTL:   600 * time.Second,
		InvitationCodeLen: 6,
		VerifyCodeLen:     6,
		ResetCodeLen:      21,
		TempPasswordLen:   8,
		InvitationMatch:   "exact",
		BootstrapGroup:    "root",
		BootstrapRole:     "root",
		PublicBaseURL:     "http://app.test",
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	logger, _ := test.NewNullLogger()
	f := &fixture{users: newMemUsers(), mail: &outbox{}, mr: mr}
	f.tokens = NewTokenService("secret", repository.NewTokenRepo(rdb), cfg.TokenTTL)
	f.svc = NewAccountService(AccountDeps{
		Users:      f.users,
		Groups:     staticGroups{"default": "user", "RD": "user", "root": "", "empty": ""},
		Creds:      repository.NewCredentialRepo(rdb),
		Tokens:     f.tokens,
		Mailer:     f.mail,
		Graph:      graph,
		Config:     cfg,
		BcryptCost: 4,
		Log:        logger,
	})
	return f
}

// seedUser inserts a verified user directly.
func (f *fixture) seedUser(t *testing.T, email, password string, roles model.GroupRoles) model.User {
	t.Helper()
	u, err := f.svc.newUser("seed", email, "", "", password, roles)
	require.NoError(t, err)
	u.EmailVerified = true
	require.NoError(t, f.users.Create(context.Background(), &u))
	return u
}

func requireKind(t *testing.T, err error, kind apperror.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperror.From(err).Kind, "got %v", err)
}

func TestInviteRedeemAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "boss@x.io", "pw", model.GroupRoles{"root": {"root"}})

	code, err := f.svc.Invite(ctx, InviteInput{Email: "Ann@X.io", Groups: []string{"RD"}, Roles: []string{"admin"}, InvitedBy: "boss"})
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.True(t, f.mr.Exists("invitation:"+code))
	assert.Equal(t, code, f.mail.last(t, notify.Invitation).Data["Code"])

	u, err := f.svc.RedeemInvitation(ctx, RedeemInput{Code: code, Name: "Ann", Email: "ann@x.io", Password: "s3cret"})
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)
	assert.Equal(t, []string{"admin"}, u.Roles.RolesIn("RD"))
	assert.Empty(t, u.PasswordHash)
	assert.True(t, f.mr.Exists("invitation:"+code), "invitation stays until its TTL lapses")

	res, err := f.svc.Authenticate(ctx, "ann@x.io", "s3cret", "RD")
	require.NoError(t, err)
	assert.False(t, res.PasswordChanged)
	require.Contains(t, res.Tokens, "RD")

	claims, err := f.tokens.Authorize(ctx, res.Tokens["RD"])
	require.NoError(t, err)
	assert.Equal(t, u.UserID, claims.UserID)
	assert.Equal(t, []string{"admin"}, claims.Roles)

	_, err = f.svc.RedeemInvitation(ctx, RedeemInput{Code: code, Email: "ann@x.io", Password: "again"})
	requireKind(t, err, apperror.UserEmailVerified)
}

func TestInviteValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "taken@x.io", "pw", model.GroupRoles{"RD": {"user"}})

	_, err := f.svc.Invite(ctx, InviteInput{Groups: []string{"RD"}, Roles: []string{"user"}})
	requireKind(t, err, apperror.UserContactMissing)

	_, err = f.svc.Invite(ctx, InviteInput{Email: "a@x.io", Groups: []string{"RD", "QA"}, Roles: []string{"user"}})
	requireKind(t, err, apperror.ValidationError)

	_, err = f.svc.Invite(ctx, InviteInput{Email: "a@x.io", Groups: []string{"RD"}, Roles: []string{"wizard"}})
	requireKind(t, err, apperror.RoleNotFound)

	_, err = f.svc.Invite(ctx, InviteInput{Email: "taken@x.io", Groups: []string{"RD"}, Roles: []string{"user"}})
	requireKind(t, err, apperror.UserEmailVerified)
}

func TestRedeemRejectsMismatchedData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "boss@x.io", "pw", model.GroupRoles{"root": {"root"}})

	code, err := f.svc.Invite(ctx, InviteInput{Email: "ann@x.io", Groups: []string{"RD"}, Roles: []string{"admin"}})
	require.NoError(t, err)

	_, err = f.svc.RedeemInvitation(ctx, RedeemInput{Code: code, Email: "eve@x.io", Password: "p"})
	requireKind(t, err, apperror.InvitationDataFail)

	_, err = f.svc.RedeemInvitation(ctx, RedeemInput{Code: code, Email: "ann@x.io", Password: "p", Roles: []string{"admin", "root"}})
	requireKind(t, err, apperror.InvitationDataFail)

	_, err = f.svc.RedeemInvitation(ctx, RedeemInput{Code: "nope42", Email: "ann@x.io", Password: "p"})
	requireKind(t, err, apperror.InvitationCodeFail)
}

func TestRedeemSubsetPolicy(t *testing.T) {
	f := newFixture(t, func(c *config.AccountConfig) { c.InvitationMatch = "subset" })
	ctx := context.Background()
	f.seedUser(t, "boss@x.io", "pw", model.GroupRoles{"root": {"root"}})

	code, err := f.svc.Invite(ctx, InviteInput{Email: "ann@x.io", Groups: []string{"RD"}, Roles: []string{"admin", "user"}})
	require.NoError(t, err)

	u, err := f.svc.RedeemInvitation(ctx, RedeemInput{Code: code, Email: "ann@x.io", Password: "p", Roles: []string{"user"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, u.Roles.RolesIn("RD"))
}

func TestRedeemReplacesPendingSignup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.svc.CreateAccount(ctx, CreateAccountInput{Name: "Squatter", Email: "ann@x.io", Password: "earlier-pw", Group: "default"})
	require.NoError(t, err)

	code, err := f.svc.Invite(ctx, InviteInput{Email: "ann@x.io", Groups: []string{"RD"}, Roles: []string{"admin"}})
	require.NoError(t, err)

	u, err := f.svc.RedeemInvitation(ctx, RedeemInput{Code: code, Name: "Ann", Email: "ann@x.io", Password: "invited-pw"})
	require.NoError(t, err)
	assert.Equal(t, pending.UserID, u.UserID)
	assert.True(t, u.EmailVerified)
	assert.Equal(t, "Ann", u.Name)
	assert.Equal(t, model.GroupRoles{"RD": {"admin"}}, u.Roles, "self-signup roles are not carried over")
	for _, k := range f.mr.Keys() {
		assert.NotContains(t, k, "verifyEmail:", "pending verification codes are dropped")
	}

	_, err = f.svc.Authenticate(ctx, "ann@x.io", "earlier-pw", "")
	requireKind(t, err, apperror.UserAuthIsFail)

	res, err := f.svc.Authenticate(ctx, "ann@x.io", "invited-pw", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"RD"}, res.User.Roles.Groups())
	assert.Len(t, res.Tokens, 1)
}

func TestRedeemMobileInvitationRejectsEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "boss@x.io", "pw", model.GroupRoles{"root": {"root"}})

	code, err := f.svc.Invite(ctx, InviteInput{Mobile: "5551234", CountryCode: "1", Groups: []string{"RD"}, Roles: []string{"admin"}})
	require.NoError(t, err)

	_, err = f.svc.RedeemInvitation(ctx, RedeemInput{Code: code, Email: "someone-else@x.io", Mobile: "5551234", Password: "p"})
	requireKind(t, err, apperror.InvitationDataFail)
	_, err = f.users.GetByEmail(ctx, "someone-else@x.io")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	u, err := f.svc.RedeemInvitation(ctx, RedeemInput{Code: code, Name: "Mo", Mobile: "5551234", CountryCode: "1", Password: "p"})
	require.NoError(t, err)
	assert.Empty(t, u.Email)
	assert.False(t, u.EmailVerified)
	assert.True(t, u.MobileVerified)
}

func TestBootstrapFirstUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.RedeemInvitation(ctx, RedeemInput{Name: "Root", Email: "root@x.io", Password: "p"})
	require.NoError(t, err)
	assert.True(t, u.EmailVerified)
	assert.Equal(t, []string{"root"}, u.Roles.RolesIn("root"))

	_, err = f.svc.RedeemInvitation(ctx, RedeemInput{Name: "Eve", Email: "eve@x.io", Password: "p"})
	requireKind(t, err, apperror.InvitationCodeFail)
}

func TestVerificationInvalidatesSiblingCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.CreateAccount(ctx, CreateAccountInput{Name: "Ann", Email: "ann@x.io", Password: "p", Group: "default"})
	require.NoError(t, err)
	assert.False(t, u.EmailVerified)
	assert.Equal(t, []string{"user"}, u.Roles.RolesIn("default"))
	first := f.mail.last(t, notify.VerifyEmail).Data["Code"].(string)

	require.NoError(t, f.svc.ResendVerification(ctx, "ann@x.io"))
	second := f.mail.last(t, notify.VerifyEmail).Data["Code"].(string)
	require.NotEqual(t, first, second)
	assert.Len(t, f.mr.Keys(), 2)

	_, err = f.svc.Authenticate(ctx, "ann@x.io", "p", "")
	requireKind(t, err, apperror.UserVerifyFail)

	got, err := f.svc.VerifyEmail(ctx, "ann@x.io", second)
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)
	assert.Empty(t, f.mr.Keys())

	_, err = f.svc.VerifyEmail(ctx, "ann@x.io", first)
	requireKind(t, err, apperror.VerificationCodeError)

	err = f.svc.ResendVerification(ctx, "ann@x.io")
	requireKind(t, err, apperror.UserEmailVerified)
}

func TestCreateAccountNeedsDefaultRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAccount(ctx, CreateAccountInput{Email: "a@x.io", Password: "p", Group: "empty"})
	requireKind(t, err, apperror.RoleNoDefault)

	_, err = f.svc.CreateAccount(ctx, CreateAccountInput{Email: "a@x.io", Password: "p", Group: "ghost"})
	requireKind(t, err, apperror.GroupNotFound)

	_, err = f.svc.CreateAccount(ctx, CreateAccountInput{Email: "not-an-email", Password: "p", Group: "default"})
	requireKind(t, err, apperror.ValidationError)
}

func TestAuthenticateFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "ann@x.io", "right", model.GroupRoles{"RD": {"user"}})

	_, err := f.svc.Authenticate(ctx, "nobody@x.io", "x", "")
	requireKind(t, err, apperror.UserAuthIsFail)

	_, err = f.svc.Authenticate(ctx, "ann@x.io", "wrong", "")
	requireKind(t, err, apperror.UserAuthIsFail)

	// a bad password is reported even when the group is unknown too
	_, err = f.svc.Authenticate(ctx, "ann@x.io", "wrong", "ghost")
	requireKind(t, err, apperror.UserAuthIsFail)

	_, err = f.svc.Authenticate(ctx, "ann@x.io", "right", "ghost")
	requireKind(t, err, apperror.GroupNotFound)
}

func TestAuthenticateGrantsDefaultRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "ann@x.io", "pw", model.GroupRoles{"RD": {"admin"}})

	_, err := f.svc.Authenticate(ctx, "ann@x.io", "bad", "default")
	require.Error(t, err)
	stored, _ := f.users.GetByUserID(ctx, u.UserID)
	assert.False(t, stored.Roles.Has("default"), "no grant without a valid password")

	res, err := f.svc.Authenticate(ctx, "ann@x.io", "pw", "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, res.User.Roles.RolesIn("default"))

	groups := make([]string, 0, len(res.Tokens))
	for g := range res.Tokens {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	assert.Equal(t, []string{"RD", "default"}, groups)

	stored, _ = f.users.GetByUserID(ctx, u.UserID)
	assert.Equal(t, []string{"user"}, stored.Roles.RolesIn("default"))

	live, err := f.mr.Members("userId:" + u.UserID)
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestGrantDefaultRoleKeepsExisting(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "ann@x.io", "pw", model.GroupRoles{"default": {"admin"}})

	changed, err := f.svc.GrantDefaultRole(context.Background(), &u, "default")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []string{"admin"}, u.Roles.RolesIn("default"))

	changed, err = f.svc.GrantDefaultRole(context.Background(), &u, "RD")
	require.NoError(t, err)
	assert.True(t, changed)
	stored, _ := f.users.GetByUserID(context.Background(), u.UserID)
	assert.Equal(t, []string{"user"}, stored.Roles.RolesIn("RD"))

	_, err = f.svc.GrantDefaultRole(context.Background(), &u, "empty")
	requireKind(t, err, apperror.RoleNoDefault)
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "ann@x.io", "old", model.GroupRoles{"RD": {"user"}})

	res, err := f.svc.Authenticate(ctx, "ann@x.io", "old", "")
	require.NoError(t, err)
	oldToken := res.Tokens["RD"]

	code, err := f.svc.ForgotPassword(ctx, "ann@x.io")
	require.NoError(t, err)
	assert.Len(t, code, 21)
	assert.Equal(t, time.Hour, f.mr.TTL("resetCode:"+code))
	assert.Contains(t, f.mail.last(t, notify.ResetPassword).Data["Link"], code)

	require.NoError(t, f.svc.ResetPassword(ctx, code, "new"))
	assert.False(t, f.mr.Exists("resetCode:"+code))
	assert.False(t, f.mr.Exists("userId:"+u.UserID))

	_, err = f.tokens.Authorize(ctx, oldToken)
	requireKind(t, err, apperror.UserAuthRenew)

	_, err = f.svc.Authenticate(ctx, "ann@x.io", "old", "")
	requireKind(t, err, apperror.UserAuthIsFail)
	_, err = f.svc.Authenticate(ctx, "ann@x.io", "new", "")
	require.NoError(t, err)

	err = f.svc.ResetPassword(ctx, code, "again")
	requireKind(t, err, apperror.ResetCodeError)

	_, err = f.svc.ForgotPassword(ctx, "ghost@x.io")
	requireKind(t, err, apperror.UserIsNotFound)
}

func TestTempPasswordIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "ann@x.io", "real", model.GroupRoles{"RD": {"user"}})

	require.NoError(t, f.svc.RequestTempPassword(ctx, "ann@x.io"))
	temp := f.mail.last(t, notify.TempPassword).Data["Password"].(string)
	assert.Len(t, temp, 8)
	assert.Equal(t, 600*time.Second, f.mr.TTL("passwordTemp:ann@x.io"))

	res, err := f.svc.Authenticate(ctx, "ann@x.io", temp, "")
	require.NoError(t, err)
	assert.True(t, res.PasswordChanged)
	assert.False(t, f.mr.Exists("passwordTemp:ann@x.io"))

	_, err = f.svc.Authenticate(ctx, "ann@x.io", temp, "")
	requireKind(t, err, apperror.UserAuthIsFail)

	// a normal sign in also clears an outstanding temporary password
	require.NoError(t, f.svc.RequestTempPassword(ctx, "ann@x.io"))
	res, err = f.svc.Authenticate(ctx, "ann@x.io", "real", "")
	require.NoError(t, err)
	assert.False(t, res.PasswordChanged)
	assert.False(t, f.mr.Exists("passwordTemp:ann@x.io"))
}

// stuckTempPasswords fails every temporary password deletion.
type stuckTempPasswords struct {
	CredentialStore
}

func (stuckTempPasswords) DeleteTempPassword(context.Context, string) error {
	return errors.New("redis: connection reset")
}

func TestTempPasswordNotSpentFailsSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "ann@x.io", "real", model.GroupRoles{"RD": {"user"}})

	require.NoError(t, f.svc.RequestTempPassword(ctx, "ann@x.io"))
	temp := f.mail.last(t, notify.TempPassword).Data["Password"].(string)

	working := f.svc.creds
	f.svc.creds = stuckTempPasswords{CredentialStore: working}
	for i := 0; i < 2; i++ {
		_, err := f.svc.Authenticate(ctx, "ann@x.io", temp, "")
		requireKind(t, err, apperror.RedisError)
	}
	assert.False(t, f.mr.Exists("userId:"+u.UserID), "no session without spending the temporary password")

	f.svc.creds = working
	_, err := f.svc.Authenticate(ctx, "ann@x.io", temp, "")
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, "ann@x.io", temp, "")
	requireKind(t, err, apperror.UserAuthIsFail)
}

func TestTempPasswordExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "ann@x.io", "real", model.GroupRoles{"RD": {"user"}})

	require.NoError(t, f.svc.RequestTempPassword(ctx, "ann@x.io"))
	temp := f.mail.last(t, notify.TempPassword).Data["Password"].(string)
	f.mr.FastForward(601 * time.Second)

	_, err := f.svc.Authenticate(ctx, "ann@x.io", temp, "")
	requireKind(t, err, apperror.UserAuthIsFail)
}

func TestUpdateProfilePasswordRevokesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "ann@x.io", "old", model.GroupRoles{"RD": {"user"}})

	res, err := f.svc.Authenticate(ctx, "ann@x.io", "old", "")
	require.NoError(t, err)

	name := "Ann B"
	got, err := f.svc.UpdateProfile(ctx, UpdateInput{UserID: u.UserID, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ann B", got.Name)
	_, err = f.tokens.Authorize(ctx, res.Tokens["RD"])
	require.NoError(t, err, "profile edits keep sessions")

	pw := "new"
	_, err = f.svc.UpdateProfile(ctx, UpdateInput{UserID: u.UserID, Password: &pw})
	require.NoError(t, err)
	_, err = f.tokens.Authorize(ctx, res.Tokens["RD"])
	requireKind(t, err, apperror.UserAuthRenew)

	stored, _ := f.users.GetByUserID(ctx, u.UserID)
	assert.True(t, utils.VerifyPassword(stored.PasswordHash, "new"))
}

func TestGetUserScopesToCallerGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.seedUser(t, "boss@x.io", "pw", model.GroupRoles{"RD": {"admin"}})
	member := f.seedUser(t, "ann@x.io", "pw", model.GroupRoles{"RD": {"user"}})
	stranger := f.seedUser(t, "eve@x.io", "pw", model.GroupRoles{"QA": {"user"}})
	caller := &utils.SessionClaims{UserID: admin.UserID, Group: "RD", Roles: []string{"admin"}}

	self, err := f.svc.GetUser(ctx, caller, "")
	require.NoError(t, err)
	assert.Equal(t, admin.UserID, self.UserID)
	assert.Contains(t, self.API, "/api/user/invite")
	assert.Contains(t, self.API, "/api/user/get")

	other, err := f.svc.GetUser(ctx, caller, member.UserID)
	require.NoError(t, err)
	assert.NotContains(t, other.API, "/api/user/invite")

	_, err = f.svc.GetUser(ctx, caller, stranger.UserID)
	requireKind(t, err, apperror.NotFound)
}

func TestListUsersAndIsVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a@x.io", "pw", model.GroupRoles{"RD": {"user"}})
	f.seedUser(t, "b@x.io", "pw", model.GroupRoles{"RD": {"user"}})
	f.seedUser(t, "c@x.io", "pw", model.GroupRoles{"RD": {"user"}})

	page, err := f.svc.ListUsers(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Res, 2)
	assert.Equal(t, "b@x.io", page.Res[0].Email)
	assert.Empty(t, page.Res[0].PasswordHash)

	ok, err := f.svc.IsVerified(ctx, "a@x.io", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.IsVerified(ctx, "ghost@x.io", "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.IsVerified(ctx, "", "")
	requireKind(t, err, apperror.ValidationError)
}

func TestDropUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.seedUser(t, "root@x.io", "pw", model.GroupRoles{"root": {"root"}})
	ann := f.seedUser(t, "ann@x.io", "pw", model.GroupRoles{"RD": {"user"}})

	_, err := f.svc.Authenticate(ctx, "ann@x.io", "pw", "")
	require.NoError(t, err)

	err = f.svc.DropUser(ctx, root.UserID, "", root.UserID)
	requireKind(t, err, apperror.UserDropFail)

	require.NoError(t, f.svc.DropUser(ctx, root.UserID, "ann@x.io", ""))
	assert.False(t, f.mr.Exists("userId:"+ann.UserID))
	_, err = f.users.GetByUserID(ctx, ann.UserID)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	err = f.svc.DropUser(ctx, root.UserID, "", ann.UserID)
	requireKind(t, err, apperror.UserIsNotFound)
}

func TestMailFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "ann@x.io", "pw", model.GroupRoles{"RD": {"user"}})
	f.mail.fail = errors.New("relay down")

	err := f.svc.RequestTempPassword(ctx, "ann@x.io")
	requireKind(t, err, apperror.EmailSendFail)
}

func TestSignOutRevokesAllGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "ann@x.io", "pw", model.GroupRoles{"RD": {"user"}, "QA": {"admin"}})

	res, err := f.svc.Authenticate(ctx, "ann@x.io", "pw", "")
	require.NoError(t, err)
	require.Len(t, res.Tokens, 2)

	require.NoError(t, f.svc.SignOut(ctx, u.UserID))
	for _, tok := range res.Tokens {
		_, err := f.tokens.Authorize(ctx, tok)
		requireKind(t, err, apperror.UserAuthRenew)
	}
}
