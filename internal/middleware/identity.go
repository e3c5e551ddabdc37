package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/utils"
)

// Claims returns the session claims stored by JWTAuth, or nil.
func Claims(c echo.Context) *utils.SessionClaims {
	cl, _ := c.Get(ClaimsKey).(*utils.SessionClaims)
	return cl
}

// userID identifies the caller for rate limiting; "guest" when anonymous.
func userID(c echo.Context) string {
	if cl := Claims(c); cl != nil && cl.UserID != "" {
		return cl.UserID
	}
	return "guest"
}
