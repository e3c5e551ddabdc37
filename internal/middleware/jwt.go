package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/apperror"
	"github.com/iliyamo/account-service/internal/utils"
)

// Context keys set by JWTAuth.
const (
	ClaimsKey = "claims"
	UserIDKey = "user_id"
	GroupKey  = "group"
	RolesKey  = "roles"
)

// Authorizer turns a raw bearer token into claims. It must reject tokens
// that are no longer in the owner's live set.
type Authorizer interface {
	Authorize(ctx context.Context, raw string) (*utils.SessionClaims, error)
}

// JWTAuth requires a live Bearer session token and stores its claims in
// the context. Failures are returned as taxonomy errors for the central
// error handler to render.
func JWTAuth(tokens Authorizer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				return apperror.New(apperror.UserAuthIsNeeded)
			}
			claims, err := tokens.Authorize(c.Request().Context(), strings.TrimSpace(raw))
			if err != nil {
				return err
			}
			c.Set(ClaimsKey, claims)
			c.Set(UserIDKey, claims.UserID)
			c.Set(GroupKey, claims.Group)
			c.Set(RolesKey, claims.Roles)
			return next(c)
		}
	}
}
