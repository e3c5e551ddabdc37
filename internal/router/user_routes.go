package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/middleware"
)

// RegisterUser registers /api/user/*. Operation names checked by the gate
// are the route paths themselves.
func RegisterUser(e *echo.Echo, d Deps) {
	u := d.Users
	g := e.Group("/api/user")
	limited := orPass(d.RateLimit)

	// ---- sign up ----
	g.POST("/create", u.Create)
	g.POST("/account/create", u.AccountCreate)
	g.POST("/email/verify", u.VerifyEmail)
	g.POST("/email/resend", u.ResendVerification, limited)

	// ---- credentials ----
	g.POST("/auth", u.Auth, limited)
	g.POST("/password/forgot", u.ForgotPassword, limited)
	g.POST("/password/reset", u.ResetPassword, limited)
	g.POST("/password/temp", u.TempPassword, limited)
	g.POST("/signout", u.SignOut, middleware.JWTAuth(d.Tokens))

	// ---- gated ----
	gate := guarded(d)
	g.POST("/invite", u.Invite, gate...)
	g.POST("/update", u.Update, gate...)
	g.GET("/list", u.List, gate...)
	g.GET("/get", u.Get, gate...)
	g.GET("/isVerified", u.IsVerified, gate...)
	g.POST("/drop", u.Drop, gate...)
}
