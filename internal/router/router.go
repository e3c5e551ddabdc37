// Package router wires handlers and middleware onto the echo instance.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/handler"
	"github.com/iliyamo/account-service/internal/middleware"
)

// Deps is everything the route table needs.
type Deps struct {
	Users       *handler.UserHandler
	Thumbnails  *handler.ThumbnailHandler
	Tokens      middleware.Authorizer
	Gate        middleware.Checker
	RateLimit   echo.MiddlewareFunc
	AvatarCache echo.MiddlewareFunc
	Health      echo.HandlerFunc
	Metrics     http.Handler
}

// RegisterRoutes registers the operational endpoints and every API route.
func RegisterRoutes(e *echo.Echo, d Deps) {
	if d.Health != nil {
		e.GET("/healthz", d.Health)
	}
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}
	RegisterUser(e, d)
	RegisterThumbnail(e, d)
}

// guarded returns the JWT + operation gate chain for a route.
func guarded(d Deps) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{middleware.JWTAuth(d.Tokens), middleware.RequireOperation(d.Gate, "")}
}

func orPass(m echo.MiddlewareFunc) echo.MiddlewareFunc {
	if m == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return m
}
