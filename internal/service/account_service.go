package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/account-service/internal/apperror"
	"github.com/iliyamo/account-service/internal/config"
	notify "github.com/iliyamo/account-service/internal/mail"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/observability"
	"github.com/iliyamo/account-service/internal/rbac"
	"github.com/iliyamo/account-service/internal/repository"
	"github.com/iliyamo/account-service/internal/utils"
)

// UserStore is the document store for user records.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByUserID(ctx context.Context, userID string) (model.User, error)
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, limit, offset int) ([]model.User, error)
	UpdateProfile(ctx context.Context, u model.User) error
	UpdatePassword(ctx context.Context, userID, hash string) error
	SetEmailVerified(ctx context.Context, userID string, verified bool) error
	SetRoles(ctx context.Context, userID string, roles model.GroupRoles) error
	Drop(ctx context.Context, userID string) error
}

// GroupStore resolves the default role of a group.
type GroupStore interface {
	DefaultRole(ctx context.Context, group string) (string, error)
}

// CredentialStore holds the short-lived credentials.
type CredentialStore interface {
	SaveInvitation(ctx context.Context, code string, inv model.Invitation, ttl time.Duration) error
	GetInvitation(ctx context.Context, code string) (model.Invitation, error)
	SaveEmailVerification(ctx context.Context, code string, rec model.EmailVerification, ttl time.Duration) error
	GetEmailVerification(ctx context.Context, email, code string) (model.EmailVerification, error)
	DeleteEmailVerifications(ctx context.Context, email string) (int64, error)
	SaveResetCode(ctx context.Context, code string, rc model.ResetCode, ttl time.Duration) error
	GetResetCode(ctx context.Context, code string) (model.ResetCode, error)
	DeleteResetCode(ctx context.Context, code string) error
	SaveTempPassword(ctx context.Context, tp model.TempPassword, ttl time.Duration) error
	GetTempPassword(ctx context.Context, email string) (model.TempPassword, error)
	DeleteTempPassword(ctx context.Context, email string) error
}

// AccountDeps bundles the collaborators of AccountService.
type AccountDeps struct {
	Users      UserStore
	Groups     GroupStore
	Creds      CredentialStore
	Tokens     *TokenService
	Mailer     notify.Mailer
	Graph      *rbac.Graph
	Config     config.AccountConfig
	BcryptCost int
	Log        logrus.FieldLogger
	Metrics    *observability.Metrics
}

// AccountService runs the credential lifecycle: invitations, sign up,
// email verification, sign in, password reset and temporary passwords.
// Multi-step flows are plain sequences of single-key store operations;
// nothing here takes a cross-key lock.
type AccountService struct {
	users      UserStore
	groups     GroupStore
	creds      CredentialStore
	tokens     *TokenService
	mailer     notify.Mailer
	graph      *rbac.Graph
	cfg        config.AccountConfig
	bcryptCost int
	log        logrus.FieldLogger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewAccountService(d AccountDeps) *AccountService {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AccountService{
		users:      d.Users,
		groups:     d.Groups,
		creds:      d.Creds,
		tokens:     d.Tokens,
		mailer:     d.Mailer,
		graph:      d.Graph,
		cfg:        d.Config,
		bcryptCost: d.BcryptCost,
		log:        log.WithField("component", "account"),
		metrics:    d.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ----- inputs / outputs -----

type InviteInput struct {
	Email       string
	Mobile      string
	CountryCode string
	Groups      []string
	Roles       []string
	InvitedBy   string
}

type RedeemInput struct {
	Code        string
	Name        string
	Email       string
	Mobile      string
	CountryCode string
	Password    string
	Groups      []string
	Roles       []string
}

type CreateAccountInput struct {
	Name     string
	Email    string
	Password string
	Group    string
}

// UpdateInput carries a partial profile update; nil fields are left alone.
type UpdateInput struct {
	UserID      string
	Name        *string
	Mobile      *string
	CountryCode *string
	Password    *string
}

// AuthResult is returned by a successful sign in.
type AuthResult struct {
	User            model.User        `json:"user"`
	PasswordChanged bool              `json:"passwordChanged"`
	Tokens          map[string]string `json:"tokens"`
}

// UserView is a user plus the operations its roles allow in the caller's group.
type UserView struct {
	model.User
	API []string `json:"api"`
}

// UserPage is one page of ListUsers.
type UserPage struct {
	Res   []model.User `json:"res"`
	Total int64        `json:"total"`
}

// ----- invitations -----

// Invite issues an invitation code for the target email and/or mobile.
func (s *AccountService) Invite(ctx context.Context, in InviteInput) (string, error) {
	in.Email = repository.NormalizeEmail(in.Email)
	in.Mobile = strings.TrimSpace(in.Mobile)
	if in.Email == "" && in.Mobile == "" {
		return "", apperror.New(apperror.UserContactMissing)
	}
	if in.Email != "" && !validEmail(in.Email) {
		return "", apperror.Newf(apperror.ValidationError, "email is invalid")
	}
	if len(in.Groups) != 1 || strings.TrimSpace(in.Groups[0]) == "" {
		return "", apperror.Newf(apperror.ValidationError, "exactly one group is required")
	}
	if len(in.Roles) == 0 {
		return "", apperror.Newf(apperror.ValidationError, "at least one role is required")
	}
	for _, r := range in.Roles {
		if !s.graph.Has(r) {
			return "", apperror.Newf(apperror.RoleNotFound, "%s", r)
		}
	}

	if in.Email != "" {
		u, err := s.users.GetByEmail(ctx, in.Email)
		switch {
		case err == nil && u.EmailVerified:
			return "", apperror.New(apperror.UserEmailVerified)
		case err != nil && !errors.Is(err, repository.ErrUserNotFound):
			return "", apperror.Wrap(apperror.DatabaseError, err)
		}
	}

	code, err := utils.RandomCode(s.cfg.InvitationCodeLen)
	if err != nil {
		return "", apperror.Wrap(apperror.UnknownError, err)
	}
	now := s.now()
	inv := model.Invitation{
		Email:       in.Email,
		Mobile:      in.Mobile,
		CountryCode: in.CountryCode,
		Groups:      append([]string(nil), in.Groups...),
		Roles:       append([]string(nil), in.Roles...),
		InvitedBy:   in.InvitedBy,
		CreatedAt:   now,
	}
	if err := s.creds.SaveInvitation(ctx, code, inv, s.cfg.InvitationTTL); err != nil {
		return "", apperror.Wrap(apperror.RedisError, err)
	}
	s.metrics.Credential("invitation", "issued")

	if in.Email != "" {
		err := s.send(ctx, in.Email, notify.Invitation, map[string]any{
			"Code":      code,
			"Groups":    inv.Groups,
			"Roles":     inv.Roles,
			"Link":      s.cfg.PublicBaseURL + "/signup/" + url.PathEscape(code),
			"ExpiresAt": now.Add(s.cfg.InvitationTTL).Format(time.RFC1123),
		})
		if err != nil {
			return "", err
		}
	}
	s.log.WithFields(logrus.Fields{"invited_by": in.InvitedBy, "group": inv.Groups[0]}).Info("invitation issued")
	return code, nil
}

// RedeemInvitation creates (or completes) the account an invitation was
// issued for. The invitation is left in place; its TTL removes it. A second
// redemption is refused once a verified user owns the email.
func (s *AccountService) RedeemInvitation(ctx context.Context, in RedeemInput) (model.User, error) {
	in.Email = repository.NormalizeEmail(in.Email)
	in.Mobile = strings.TrimSpace(in.Mobile)
	if in.Password == "" {
		return model.User{}, apperror.Newf(apperror.ValidationError, "password is required")
	}
	if in.Email == "" && in.Mobile == "" {
		return model.User{}, apperror.New(apperror.UserContactMissing)
	}
	if in.Email != "" && !validEmail(in.Email) {
		return model.User{}, apperror.Newf(apperror.ValidationError, "email is invalid")
	}

	var inv model.Invitation
	var err error
	if strings.TrimSpace(in.Code) == "" {
		err = repository.ErrCredentialNotFound
	} else {
		inv, err = s.creds.GetInvitation(ctx, in.Code)
	}
	if errors.Is(err, repository.ErrCredentialNotFound) {
		return s.bootstrap(ctx, in)
	}
	if err != nil {
		return model.User{}, apperror.Wrap(apperror.RedisError, err)
	}

	if len(in.Groups) == 0 {
		in.Groups = inv.Groups
	}
	if len(in.Roles) == 0 {
		in.Roles = inv.Roles
	}
	if !s.matches(inv.Groups, in.Groups) || !s.matches(inv.Roles, in.Roles) {
		return model.User{}, apperror.Newf(apperror.InvitationDataFail, "groups or roles differ")
	}
	if inv.Email != in.Email {
		return model.User{}, apperror.Newf(apperror.InvitationDataFail, "email differs")
	}
	if inv.Mobile != "" && inv.Mobile != in.Mobile {
		return model.User{}, apperror.Newf(apperror.InvitationDataFail, "mobile differs")
	}

	grant := model.GroupRoles{}
	for _, g := range in.Groups {
		for _, r := range in.Roles {
			grant.Grant(g, r)
		}
	}

	if in.Email != "" {
		existing, err := s.users.GetByEmail(ctx, in.Email)
		switch {
		case err == nil && existing.EmailVerified:
			return model.User{}, apperror.New(apperror.UserEmailVerified)
		case err == nil:
			return s.completePending(ctx, existing, in, grant)
		case !errors.Is(err, repository.ErrUserNotFound):
			return model.User{}, apperror.Wrap(apperror.DatabaseError, err)
		}
	}

	u, err := s.newUser(in.Name, in.Email, in.Mobile, in.CountryCode, in.Password, grant)
	if err != nil {
		return model.User{}, err
	}
	u.EmailVerified = in.Email != ""
	u.MobileVerified = in.Email == "" && in.Mobile != ""
	if err := s.create(ctx, &u); err != nil {
		return model.User{}, err
	}
	s.metrics.Credential("invitation", "redeemed")
	s.log.WithFields(logrus.Fields{"user_id": u.UserID, "invited_by": inv.InvitedBy}).Info("invitation redeemed")
	return u.Sanitized(), nil
}

// completePending replaces a self-registered, still unverified account with
// the invited one. The redeemer's password, name and contact details win;
// the earlier roles, password, sessions and verification codes are dropped.
func (s *AccountService) completePending(ctx context.Context, u model.User, in RedeemInput, grant model.GroupRoles) (model.User, error) {
	hash, err := utils.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return model.User{}, apperror.Wrap(apperror.UnknownError, err)
	}
	if err := s.users.UpdatePassword(ctx, u.UserID, hash); err != nil {
		return model.User{}, apperror.Wrap(apperror.UserUpdateError, err)
	}
	u.Name = strings.TrimSpace(in.Name)
	u.Mobile = in.Mobile
	u.CountryCode = strings.TrimSpace(in.CountryCode)
	if err := s.users.UpdateProfile(ctx, u); err != nil {
		return model.User{}, apperror.Wrap(apperror.UserUpdateError, err)
	}
	if err := s.users.SetRoles(ctx, u.UserID, grant); err != nil {
		return model.User{}, apperror.Wrap(apperror.UserUpdateError, err)
	}
	if _, err := s.creds.DeleteEmailVerifications(ctx, u.Email); err != nil {
		return model.User{}, apperror.Wrap(apperror.RedisError, err)
	}
	if err := s.creds.DeleteTempPassword(ctx, u.Email); err != nil {
		return model.User{}, apperror.Wrap(apperror.RedisError, err)
	}
	if err := s.tokens.RevokeAll(ctx, u.UserID); err != nil {
		return model.User{}, err
	}
	if err := s.users.SetEmailVerified(ctx, u.UserID, true); err != nil {
		return model.User{}, apperror.Wrap(apperror.UserUpdateError, err)
	}
	u.PasswordHash = hash
	u.Roles = grant.Clone()
	u.EmailVerified = true
	s.metrics.Credential("invitation", "redeemed")
	s.log.WithField("user_id", u.UserID).Info("pending signup replaced by invitation")
	return u.Sanitized(), nil
}

// bootstrap creates the very first account without an invitation. Once any
// user exists a missing code is an invitation failure.
func (s *AccountService) bootstrap(ctx context.Context, in RedeemInput) (model.User, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return model.User{}, apperror.Wrap(apperror.DatabaseError, err)
	}
	if n > 0 || in.Email == "" {
		return model.User{}, apperror.New(apperror.InvitationCodeFail)
	}
	u, err := s.newUser(in.Name, in.Email, in.Mobile, in.CountryCode, in.Password,
		model.GroupRoles{s.cfg.BootstrapGroup: {s.cfg.BootstrapRole}})
	if err != nil {
		return model.User{}, err
	}
	u.EmailVerified = true
	if err := s.create(ctx, &u); err != nil {
		return model.User{}, err
	}
	s.log.WithFields(logrus.Fields{"user_id": u.UserID, "group": s.cfg.BootstrapGroup}).Warn("first user bootstrapped without invitation")
	return u.Sanitized(), nil
}

// matches applies the configured invitation policy to a requested set.
func (s *AccountService) matches(granted, requested []string) bool {
	g := toSet(granted)
	r := toSet(requested)
	for k := range r {
		if _, ok := g[k]; !ok {
			return false
		}
	}
	if s.cfg.InvitationMatch == "subset" {
		return len(r) > 0
	}
	return len(g) == len(r)
}

// ----- self-service sign up -----

// CreateAccount registers a user in group with the group's default role,
// pending email verification.
func (s *AccountService) CreateAccount(ctx context.Context, in CreateAccountInput) (model.User, error) {
	in.Email = repository.NormalizeEmail(in.Email)
	in.Group = strings.TrimSpace(in.Group)
	switch {
	case in.Email == "" || !validEmail(in.Email):
		return model.User{}, apperror.Newf(apperror.ValidationError, "email is invalid")
	case in.Password == "":
		return model.User{}, apperror.Newf(apperror.ValidationError, "password is required")
	case in.Group == "":
		return model.User{}, apperror.Newf(apperror.ValidationError, "group is required")
	}

	role, err := s.defaultRole(ctx, in.Group)
	if err != nil {
		return model.User{}, err
	}

	existing, err := s.users.GetByEmail(ctx, in.Email)
	switch {
	case err == nil && existing.EmailVerified:
		return model.User{}, apperror.New(apperror.UserEmailVerified)
	case err == nil:
		if err := s.issueVerification(ctx, existing, in.Group); err != nil {
			return model.User{}, err
		}
		return existing.Sanitized(), nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return model.User{}, apperror.Wrap(apperror.DatabaseError, err)
	}

	u, err := s.newUser(in.Name, in.Email, "", "", in.Password, model.GroupRoles{in.Group: {role}})
	if err != nil {
		return model.User{}, err
	}
	if err := s.create(ctx, &u); err != nil {
		return model.User{}, err
	}
	if err := s.issueVerification(ctx, u, in.Group); err != nil {
		return model.User{}, err
	}
	s.log.WithFields(logrus.Fields{"user_id": u.UserID, "group": in.Group}).Info("account created")
	return u.Sanitized(), nil
}

// ResendVerification issues a fresh verification code for an unverified email.
func (s *AccountService) ResendVerification(ctx context.Context, email string) error {
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return apperror.New(apperror.UserEmailVerified)
	}
	group := ""
	if groups := u.Roles.Groups(); len(groups) > 0 {
		group = groups[0]
	}
	return s.issueVerification(ctx, u, group)
}

func (s *AccountService) issueVerification(ctx context.Context, u model.User, group string) error {
	code, err := utils.RandomCode(s.cfg.VerifyCodeLen)
	if err != nil {
		return apperror.Wrap(apperror.UnknownError, err)
	}
	rec := model.EmailVerification{
		UserID:    u.UserID,
		Email:     u.Email,
		Name:      u.Name,
		Group:     group,
		Roles:     u.Roles.Clone(),
		CreatedAt: s.now(),
	}
	if err := s.creds.SaveEmailVerification(ctx, code, rec, s.cfg.InvitationTTL); err != nil {
		return apperror.Wrap(apperror.RedisError, err)
	}
	s.metrics.Credential("verify_email", "issued")

	q := url.Values{"email": {u.Email}, "code": {code}}
	return s.send(ctx, u.Email, notify.VerifyEmail, map[string]any{
		"Name": u.Name,
		"Code": code,
		"Link": s.cfg.PublicBaseURL + "/verify-email?" + q.Encode(),
	})
}

// VerifyEmail redeems a verification code, marks the email verified and
// invalidates every other outstanding code of that address.
func (s *AccountService) VerifyEmail(ctx context.Context, email, code string) (model.User, error) {
	email = repository.NormalizeEmail(email)
	if email == "" || strings.TrimSpace(code) == "" {
		return model.User{}, apperror.Newf(apperror.ValidationError, "email and code are required")
	}
	rec, err := s.creds.GetEmailVerification(ctx, email, code)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		return model.User{}, apperror.New(apperror.VerificationCodeError)
	}
	if err != nil {
		return model.User{}, apperror.Wrap(apperror.RedisError, err)
	}

	u, err := s.users.GetByUserID(ctx, rec.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return model.User{}, apperror.New(apperror.UserIsNotFound)
	}
	if err != nil {
		return model.User{}, apperror.Wrap(apperror.DatabaseError, err)
	}
	if err := s.users.SetEmailVerified(ctx, u.UserID, true); err != nil {
		return model.User{}, apperror.Wrap(apperror.UserUpdateError, err)
	}
	if _, err := s.creds.DeleteEmailVerifications(ctx, email); err != nil {
		return model.User{}, apperror.Wrap(apperror.RedisError, err)
	}
	s.metrics.Credential("verify_email", "redeemed")
	u.EmailVerified = true
	return u.Sanitized(), nil
}

// ----- sign in -----

// Authenticate checks the password (falling back to an active temporary
// password), grants the default role of group when the user holds none
// there, and issues one session token per group the user belongs to.
func (s *AccountService) Authenticate(ctx context.Context, email, password, group string) (*AuthResult, error) {
	email = repository.NormalizeEmail(email)
	group = strings.TrimSpace(group)
	if email == "" || password == "" {
		return nil, apperror.Newf(apperror.ValidationError, "email and password are required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		s.metrics.AuthAttempt("unknown_user")
		return nil, apperror.New(apperror.UserAuthIsFail)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.DatabaseError, err)
	}
	if !u.EmailVerified {
		s.metrics.AuthAttempt("unverified")
		return nil, apperror.New(apperror.UserVerifyFail)
	}

	// The password check wins over a group lookup failure, so both results
	// are collected before either is reported.
	var (
		passwordChanged bool
		pwErr           error
		grantRole       string
		grantErr        error
	)
	var g errgroup.Group
	g.Go(func() error {
		passwordChanged, pwErr = s.checkPassword(ctx, u, password)
		return nil
	})
	if group != "" {
		g.Go(func() error {
			grantRole, grantErr = s.resolveDefaultRole(ctx, u, group)
			return nil
		})
	}
	_ = g.Wait()
	if pwErr != nil {
		if apperror.Is(pwErr, apperror.UserAuthIsFail) {
			s.metrics.AuthAttempt("bad_password")
		}
		return nil, pwErr
	}
	if grantErr != nil {
		return nil, grantErr
	}

	// a temporary password is spent before any token exists
	if err := s.creds.DeleteTempPassword(ctx, u.Email); err != nil {
		return nil, apperror.Wrap(apperror.RedisError, err)
	}

	// the grant is persisted only once the credential check has passed
	if grantRole != "" {
		if err := s.persistGrant(ctx, &u, group, grantRole); err != nil {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{"user_id": u.UserID, "group": group, "role": grantRole}).Info("default role granted")
	}

	tokens := make(map[string]string, len(u.Roles))
	for _, grp := range u.Roles.Groups() {
		tok, err := s.tokens.Issue(ctx, u.UserID, grp, u.Roles.RolesIn(grp))
		if err != nil {
			return nil, err
		}
		tokens[grp] = tok
	}

	if passwordChanged {
		s.metrics.AuthAttempt("temp_password")
		s.metrics.Credential("temp_password", "redeemed")
	} else {
		s.metrics.AuthAttempt("ok")
	}
	return &AuthResult{User: u.Sanitized(), PasswordChanged: passwordChanged, Tokens: tokens}, nil
}

func (s *AccountService) checkPassword(ctx context.Context, u model.User, password string) (bool, error) {
	if utils.VerifyPassword(u.PasswordHash, password) {
		return false, nil
	}
	tp, err := s.creds.GetTempPassword(ctx, u.Email)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		return false, apperror.New(apperror.UserAuthIsFail)
	}
	if err != nil {
		return false, apperror.Wrap(apperror.RedisError, err)
	}
	if subtle.ConstantTimeCompare([]byte(tp.PasswordTemp), []byte(password)) != 1 {
		return false, apperror.New(apperror.UserAuthIsFail)
	}
	return true, nil
}

// GrantDefaultRole gives u the default role of group unless u already holds
// a role there.
func (s *AccountService) GrantDefaultRole(ctx context.Context, u *model.User, group string) (bool, error) {
	role, err := s.resolveDefaultRole(ctx, *u, group)
	if err != nil || role == "" {
		return false, err
	}
	if err := s.persistGrant(ctx, u, group, role); err != nil {
		return false, err
	}
	return true, nil
}

// resolveDefaultRole returns the role u would be granted in group, or ""
// when u already holds one there.
func (s *AccountService) resolveDefaultRole(ctx context.Context, u model.User, group string) (string, error) {
	if u.Roles.Has(group) {
		return "", nil
	}
	return s.defaultRole(ctx, group)
}

func (s *AccountService) persistGrant(ctx context.Context, u *model.User, group, role string) error {
	roles := u.Roles.Clone()
	roles.Grant(group, role)
	if err := s.users.SetRoles(ctx, u.UserID, roles); err != nil {
		return apperror.Wrap(apperror.UserUpdateError, err)
	}
	u.Roles = roles
	return nil
}

func (s *AccountService) defaultRole(ctx context.Context, group string) (string, error) {
	role, err := s.groups.DefaultRole(ctx, group)
	if errors.Is(err, repository.ErrGroupNotFound) {
		return "", apperror.Newf(apperror.GroupNotFound, "%s", group)
	}
	if err != nil {
		return "", apperror.Wrap(apperror.DatabaseError, err)
	}
	if role == "" {
		return "", apperror.Newf(apperror.RoleNoDefault, "%s", group)
	}
	return role, nil
}

// SignOut revokes every live session of userID.
func (s *AccountService) SignOut(ctx context.Context, userID string) error {
	return s.tokens.RevokeAll(ctx, userID)
}

// ----- passwords -----

// ForgotPassword issues a reset code and mails it. The code is returned for
// callers that deliver it another way; the HTTP layer never exposes it.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) (string, error) {
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	code, err := utils.RandomCode(s.cfg.ResetCodeLen)
	if err != nil {
		return "", apperror.Wrap(apperror.UnknownError, err)
	}
	rc := model.ResetCode{Email: u.Email, UserID: u.UserID, CreatedAt: s.now()}
	if err := s.creds.SaveResetCode(ctx, code, rc, s.cfg.ResetCodeTTL); err != nil {
		return "", apperror.Wrap(apperror.RedisError, err)
	}
	s.metrics.Credential("reset_code", "issued")

	err = s.send(ctx, u.Email, notify.ResetPassword, map[string]any{
		"Name":     u.Name,
		"Link":     s.cfg.PublicBaseURL + "/reset-password/" + url.PathEscape(code),
		"ValidFor": s.cfg.ResetCodeTTL.String(),
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// ResetPassword redeems a reset code. Order: new hash, token revocation,
// temporary password deletion, code deletion.
func (s *AccountService) ResetPassword(ctx context.Context, code, newPassword string) error {
	if strings.TrimSpace(code) == "" || newPassword == "" {
		return apperror.Newf(apperror.ValidationError, "code and password are required")
	}
	rc, err := s.creds.GetResetCode(ctx, code)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		return apperror.New(apperror.ResetCodeError)
	}
	if err != nil {
		return apperror.Wrap(apperror.RedisError, err)
	}
	if err := s.setPassword(ctx, rc.UserID, rc.Email, newPassword); err != nil {
		return err
	}
	if err := s.creds.DeleteResetCode(ctx, code); err != nil {
		return apperror.Wrap(apperror.RedisError, err)
	}
	s.metrics.Credential("reset_code", "redeemed")
	s.log.WithField("user_id", rc.UserID).Info("password reset")
	return nil
}

// RequestTempPassword mails a short-lived single-use password, replacing
// any previous one for the address.
func (s *AccountService) RequestTempPassword(ctx context.Context, email string) error {
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !u.EmailVerified {
		return apperror.New(apperror.UserVerifyFail)
	}
	pw, err := utils.RandomCode(s.cfg.TempPasswordLen)
	if err != nil {
		return apperror.Wrap(apperror.PasswordTempFail, err)
	}
	tp := model.TempPassword{Email: u.Email, PasswordTemp: pw, CreatedAt: s.now()}
	if err := s.creds.SaveTempPassword(ctx, tp, s.cfg.TempPasswordTTL); err != nil {
		return apperror.Wrap(apperror.RedisError, err)
	}
	s.metrics.Credential("temp_password", "issued")
	return s.send(ctx, u.Email, notify.TempPassword, map[string]any{
		"Name":     u.Name,
		"Password": pw,
		"ValidFor": s.cfg.TempPasswordTTL.String(),
	})
}

// setPassword stores a new hash, then revokes all sessions and clears any
// temporary password.
func (s *AccountService) setPassword(ctx context.Context, userID, email, password string) error {
	hash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return apperror.Wrap(apperror.UnknownError, err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return apperror.Wrap(apperror.UserUpdateError, err)
	}
	if err := s.tokens.RevokeAll(ctx, userID); err != nil {
		return err
	}
	if email != "" {
		if err := s.creds.DeleteTempPassword(ctx, email); err != nil {
			return apperror.Wrap(apperror.RedisError, err)
		}
	}
	return nil
}

// ----- profile and administration -----

// UpdateProfile applies a partial update. A password change signs the user
// out everywhere.
func (s *AccountService) UpdateProfile(ctx context.Context, in UpdateInput) (model.User, error) {
	u, err := s.userByID(ctx, in.UserID)
	if err != nil {
		return model.User{}, err
	}
	changed := false
	if in.Name != nil {
		u.Name = strings.TrimSpace(*in.Name)
		changed = true
	}
	if in.Mobile != nil {
		u.Mobile = strings.TrimSpace(*in.Mobile)
		changed = true
	}
	if in.CountryCode != nil {
		u.CountryCode = strings.TrimSpace(*in.CountryCode)
		changed = true
	}
	if changed {
		u.UpdatedAt = s.now()
		if err := s.users.UpdateProfile(ctx, u); err != nil {
			if errors.Is(err, repository.ErrEmailExists) {
				return model.User{}, apperror.New(apperror.UserMobileVerified)
			}
			return model.User{}, apperror.Wrap(apperror.UserUpdateError, err)
		}
	}
	if in.Password != nil {
		if *in.Password == "" {
			return model.User{}, apperror.Newf(apperror.ValidationError, "password must not be empty")
		}
		if err := s.setPassword(ctx, u.UserID, u.Email, *in.Password); err != nil {
			return model.User{}, err
		}
		s.log.WithField("user_id", u.UserID).Info("password changed, sessions revoked")
	}
	return u.Sanitized(), nil
}

// GetUser returns the caller, or a member of the caller's group, together
// with the operations that user may run in that group.
func (s *AccountService) GetUser(ctx context.Context, caller *utils.SessionClaims, staffID string) (UserView, error) {
	target := strings.TrimSpace(staffID)
	if target == "" {
		target = caller.UserID
	}
	u, err := s.userByID(ctx, target)
	if err != nil {
		return UserView{}, err
	}
	if target != caller.UserID && !u.Roles.Has(caller.Group) {
		return UserView{}, apperror.New(apperror.NotFound)
	}
	return UserView{
		User: u.Sanitized(),
		API:  s.graph.OperationsForAll(u.Roles.RolesIn(caller.Group)),
	}, nil
}

// ListUsers returns one page of users and the total count.
func (s *AccountService) ListUsers(ctx context.Context, num, jump int) (UserPage, error) {
	if num <= 0 {
		num = 20
	}
	if num > 100 {
		num = 100
	}
	if jump < 0 {
		jump = 0
	}
	var page UserPage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		users, err := s.users.List(gctx, num, jump)
		page.Res = users
		return err
	})
	g.Go(func() error {
		n, err := s.users.Count(gctx)
		page.Total = n
		return err
	})
	if err := g.Wait(); err != nil {
		return UserPage{}, apperror.Wrap(apperror.DatabaseError, err)
	}
	for i := range page.Res {
		page.Res[i] = page.Res[i].Sanitized()
	}
	if page.Res == nil {
		page.Res = []model.User{}
	}
	return page, nil
}

// IsVerified reports whether the user found by staffID (or email) has a
// verified email. Unknown users are reported as unverified.
func (s *AccountService) IsVerified(ctx context.Context, email, staffID string) (bool, error) {
	var (
		u   model.User
		err error
	)
	switch {
	case strings.TrimSpace(staffID) != "":
		u, err = s.users.GetByUserID(ctx, strings.TrimSpace(staffID))
	case repository.NormalizeEmail(email) != "":
		u, err = s.users.GetByEmail(ctx, email)
	default:
		return false, apperror.Newf(apperror.ValidationError, "email or staff_id is required")
	}
	if errors.Is(err, repository.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperror.Wrap(apperror.DatabaseError, err)
	}
	return u.EmailVerified, nil
}

// DropUser deletes a user and everything keyed on it in the credential store.
func (s *AccountService) DropUser(ctx context.Context, callerID, email, staffID string) error {
	var (
		u   model.User
		err error
	)
	switch {
	case strings.TrimSpace(staffID) != "":
		u, err = s.userByID(ctx, strings.TrimSpace(staffID))
	case email != "":
		u, err = s.userByEmail(ctx, email)
	default:
		return apperror.Newf(apperror.ValidationError, "email or staff_id is required")
	}
	if err != nil {
		return err
	}
	if u.UserID == callerID {
		return apperror.Newf(apperror.UserDropFail, "cannot drop yourself")
	}
	if err := s.users.Drop(ctx, u.UserID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return apperror.New(apperror.UserIsNotFound)
		}
		return apperror.Wrap(apperror.UserDropFail, err)
	}
	if err := s.tokens.RevokeAll(ctx, u.UserID); err != nil {
		return err
	}
	if u.Email != "" {
		if err := s.creds.DeleteTempPassword(ctx, u.Email); err != nil {
			return apperror.Wrap(apperror.RedisError, err)
		}
		if _, err := s.creds.DeleteEmailVerifications(ctx, u.Email); err != nil {
			return apperror.Wrap(apperror.RedisError, err)
		}
	}
	s.log.WithFields(logrus.Fields{"user_id": u.UserID, "by": callerID}).Warn("user dropped")
	return nil
}

// ----- helpers -----

func (s *AccountService) newUser(name, email, mobile, countryCode, password string, roles model.GroupRoles) (model.User, error) {
	hash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return model.User{}, apperror.Wrap(apperror.UserCreateError, err)
	}
	now := s.now()
	return model.User{
		UserID:       uuid.NewString(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		Mobile:       mobile,
		CountryCode:  countryCode,
		PasswordHash: hash,
		Roles:        roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *AccountService) create(ctx context.Context, u *model.User) error {
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return apperror.Newf(apperror.UserCreateError, "email or mobile already registered")
		}
		return apperror.Wrap(apperror.UserCreateError, err)
	}
	return nil
}

func (s *AccountService) userByEmail(ctx context.Context, email string) (model.User, error) {
	email = repository.NormalizeEmail(email)
	if email == "" {
		return model.User{}, apperror.Newf(apperror.ValidationError, "email is required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return model.User{}, apperror.New(apperror.UserIsNotFound)
	}
	if err != nil {
		return model.User{}, apperror.Wrap(apperror.DatabaseError, err)
	}
	return u, nil
}

func (s *AccountService) userByID(ctx context.Context, userID string) (model.User, error) {
	u, err := s.users.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return model.User{}, apperror.New(apperror.UserIsNotFound)
	}
	if err != nil {
		return model.User{}, apperror.Wrap(apperror.DatabaseError, err)
	}
	return u, nil
}

func (s *AccountService) send(ctx context.Context, to, template string, data map[string]any) error {
	if err := s.mailer.Send(ctx, notify.Message{To: to, Template: template, Data: data}); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"to": to, "template": template}).Error("email delivery failed")
		return apperror.Wrap(apperror.EmailSendFail, err)
	}
	return nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func toSet(xs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		if x = strings.TrimSpace(x); x != "" {
			m[x] = struct{}{}
		}
	}
	return m
}
