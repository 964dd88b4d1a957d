// Package router registers the HTTP routes of the reservation service.
package router

import (
	"database/sql"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
)

// RegisterRoutes registers routes that do not require authentication:
// liveness, readiness and the Prometheus scrape endpoint.  metrics may
// be nil.
func RegisterRoutes(e *echo.Echo, db *sql.DB, metrics http.Handler) {
	e.GET("/healthz", handler.Health)
	if db != nil {
		e.GET("/readyz", handler.Ready(db))
	}
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterAuth registers the token endpoints under /v1/auth.  Only /me
// requires an access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)
	g.GET("/me", a.Me, middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin, model.RoleMember))
}
