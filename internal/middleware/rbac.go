package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/apperror"
)

// Checker decides whether a set of roles may run an operation.
type Checker interface {
	Check(roles []string, op string) error
}

// RequireOperation admits the caller when one of its token roles can run
// op. An empty op means the matched route path. Must run after JWTAuth.
func RequireOperation(gate Checker, op string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cl := Claims(c)
			if cl == nil {
				return apperror.New(apperror.UserAuthIsNeeded)
			}
			name := op
			if name == "" {
				name = c.Path()
			}
			if err := gate.Check(cl.Roles, name); err != nil {
				return err
			}
			return next(c)
		}
	}
}
