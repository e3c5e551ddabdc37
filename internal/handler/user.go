package handler

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/apperror"
	"github.com/iliyamo/account-service/internal/middleware"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/service"
	"github.com/iliyamo/account-service/internal/utils"
)

// Accounts is the account lifecycle as seen by the HTTP layer.
type Accounts interface {
	Invite(ctx context.Context, in service.InviteInput) (string, error)
	RedeemInvitation(ctx context.Context, in service.RedeemInput) (model.User, error)
	CreateAccount(ctx context.Context, in service.CreateAccountInput) (model.User, error)
	VerifyEmail(ctx context.Context, email, code string) (model.User, error)
	ResendVerification(ctx context.Context, email string) error
	Authenticate(ctx context.Context, email, password, group string) (*service.AuthResult, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, code, newPassword string) error
	RequestTempPassword(ctx context.Context, email string) error
	SignOut(ctx context.Context, userID string) error
	UpdateProfile(ctx context.Context, in service.UpdateInput) (model.User, error)
	GetUser(ctx context.Context, caller *utils.SessionClaims, staffID string) (service.UserView, error)
	ListUsers(ctx context.Context, num, jump int) (service.UserPage, error)
	IsVerified(ctx context.Context, email, staffID string) (bool, error)
	DropUser(ctx context.Context, callerID, email, staffID string) error
}

// UserHandler serves /api/user/*.
type UserHandler struct {
	Accounts Accounts
	Timeout  time.Duration
}

func NewUserHandler(a Accounts, timeout time.Duration) *UserHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &UserHandler{Accounts: a, Timeout: timeout}
}

// stringList accepts either "a" or ["a", "b"].
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one == "" {
			*s = nil
		} else {
			*s = stringList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ----- DTOs -----

type inviteReq struct {
	Email       string     `json:"email"`
	Mobile      string     `json:"mobile"`
	CountryCode string     `json:"countryCode"`
	Groups      stringList `json:"groups"`
	Roles       stringList `json:"roles"`
}

type createReq struct {
	InvitationCode string     `json:"invitationCode"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Password       string     `json:"password"`
	Mobile         string     `json:"mobile"`
	CountryCode    string     `json:"countryCode"`
	Groups         stringList `json:"groups"`
	Roles          stringList `json:"roles"`
}

type accountCreateReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Group    string `json:"group"`
}

type verifyReq struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type emailReq struct {
	Email string `json:"email"`
}

type authReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Group    string `json:"group"`
}

type resetReq struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

type updateReq struct {
	Name        *string `json:"name"`
	Mobile      *string `json:"mobile"`
	CountryCode *string `json:"countryCode"`
	Password    *string `json:"password"`
}

type targetReq struct {
	Email   string `json:"email" query:"email"`
	StaffID string `json:"staff_id" query:"staff_id"`
}

func (h *UserHandler) ctx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.Timeout)
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return apperror.Newf(apperror.ValidationError, "invalid body")
	}
	return nil
}

func caller(c echo.Context) (*utils.SessionClaims, error) {
	cl := middleware.Claims(c)
	if cl == nil {
		return nil, apperror.New(apperror.UserAuthIsNeeded)
	}
	return cl, nil
}

// Invite issues an invitation code and mails the sign up link.
func (h *UserHandler) Invite(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	var req inviteReq
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Mobile != "" && req.CountryCode == "" {
		return apperror.Newf(apperror.ValidationError, "countryCode is required with mobile")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	code, err := h.Accounts.Invite(ctx, service.InviteInput{
		Email:       req.Email,
		Mobile:      req.Mobile,
		CountryCode: req.CountryCode,
		Groups:      req.Groups,
		Roles:       req.Roles,
		InvitedBy:   cl.UserID,
	})
	if err != nil {
		return err
	}
	return OK(c, code)
}

// Create redeems an invitation code, or bootstraps the first user.
func (h *UserHandler) Create(c echo.Context) error {
	var req createReq
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Name) == "" {
		return apperror.Newf(apperror.ValidationError, "name is required")
	}
	if req.Mobile != "" && req.CountryCode == "" {
		return apperror.Newf(apperror.ValidationError, "countryCode is required with mobile")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.Accounts.RedeemInvitation(ctx, service.RedeemInput{
		Code:        req.InvitationCode,
		Name:        req.Name,
		Email:       req.Email,
		Mobile:      req.Mobile,
		CountryCode: req.CountryCode,
		Password:    req.Password,
		Groups:      req.Groups,
		Roles:       req.Roles,
	})
	if err != nil {
		return err
	}
	return OK(c, u)
}

func (h *UserHandler) AccountCreate(c echo.Context) error {
	var req accountCreateReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.Accounts.CreateAccount(ctx, service.CreateAccountInput(req))
	if err != nil {
		return err
	}
	return OK(c, u)
}

func (h *UserHandler) VerifyEmail(c echo.Context) error {
	var req verifyReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.Accounts.VerifyEmail(ctx, req.Email, req.Code)
	if err != nil {
		return err
	}
	return OK(c, u)
}

func (h *UserHandler) ResendVerification(c echo.Context) error {
	var req emailReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Accounts.ResendVerification(ctx, req.Email); err != nil {
		return err
	}
	return OK(c, nil)
}

// Auth signs in and returns one token per group.
func (h *UserHandler) Auth(c echo.Context) error {
	var req authReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.Accounts.Authenticate(ctx, req.Email, req.Password, req.Group)
	if err != nil {
		return err
	}
	return OK(c, res)
}

// ForgotPassword never reveals the reset code; it is only mailed.
func (h *UserHandler) ForgotPassword(c echo.Context) error {
	var req emailReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if _, err := h.Accounts.ForgotPassword(ctx, req.Email); err != nil {
		return err
	}
	return OK(c, nil)
}

func (h *UserHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Accounts.ResetPassword(ctx, req.Code, req.Password); err != nil {
		return err
	}
	return OK(c, nil)
}

func (h *UserHandler) TempPassword(c echo.Context) error {
	var req emailReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Accounts.RequestTempPassword(ctx, req.Email); err != nil {
		return err
	}
	return OK(c, nil)
}

func (h *UserHandler) SignOut(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Accounts.SignOut(ctx, cl.UserID); err != nil {
		return err
	}
	return OK(c, nil)
}

// Update edits the caller's own profile.
func (h *UserHandler) Update(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	var req updateReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.Accounts.UpdateProfile(ctx, service.UpdateInput{
		UserID:      cl.UserID,
		Name:        req.Name,
		Mobile:      req.Mobile,
		CountryCode: req.CountryCode,
		Password:    req.Password,
	})
	if err != nil {
		return err
	}
	return OK(c, u)
}

// List pages through users: ?num=20&jump=0.
func (h *UserHandler) List(c echo.Context) error {
	num, err := queryInt(c, "num", 20)
	if err != nil {
		return err
	}
	jump, err := queryInt(c, "jump", 0)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	page, err := h.Accounts.ListUsers(ctx, num, jump)
	if err != nil {
		return err
	}
	return OK(c, page)
}

// Get returns the caller, or ?staff_id= within the caller's group.
func (h *UserHandler) Get(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	view, err := h.Accounts.GetUser(ctx, cl, c.QueryParam("staff_id"))
	if err != nil {
		return err
	}
	return OK(c, view)
}

func (h *UserHandler) IsVerified(c echo.Context) error {
	var req targetReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	ok, err := h.Accounts.IsVerified(ctx, req.Email, req.StaffID)
	if err != nil {
		return err
	}
	return OK(c, echo.Map{"emailVerified": ok})
}

func (h *UserHandler) Drop(c echo.Context) error {
	cl, err := caller(c)
	if err != nil {
		return err
	}
	var req targetReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Accounts.DropUser(ctx, cl.UserID, req.Email, req.StaffID); err != nil {
		return err
	}
	return OK(c, nil)
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.Newf(apperror.ValidationError, "%s must be a non-negative integer", name)
	}
	return n, nil
}
