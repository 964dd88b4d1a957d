package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
)

// RegisterReservations mounts the reservation API under /v1/reservations.
// JWTAuth runs before the rate limiter so buckets can be keyed by user.
func RegisterReservations(e *echo.Echo, h *handler.ReservationHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	mw := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin, model.RoleMember),
	}
	if limiter != nil {
		mw = append(mw, limiter)
	}
	g := e.Group("/v1/reservations", mw...)
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}
