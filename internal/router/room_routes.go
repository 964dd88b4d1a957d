package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/model"
)

// RegisterRooms mounts room and review routes.  Reads are public and go
// through cache; room writes require the admin role and reviews any
// authenticated user.
func RegisterRooms(e *echo.Echo, rooms *handler.RoomHandler, reviews *handler.ReviewHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	pub := e.Group("/v1/rooms")
	if cache != nil {
		pub.Use(cache)
	}
	pub.GET("", rooms.List)
	pub.GET("/:id", rooms.Get)
	pub.GET("/:id/reviews", reviews.List)

	auth := middleware.JWTAuth(jwtSecret)
	admin := e.Group("/v1/rooms", auth, middleware.RequireRole(model.RoleAdmin))
	admin.POST("", rooms.Create)
	admin.PUT("/:id", rooms.Update)
	admin.PATCH("/:id", rooms.Update)
	admin.DELETE("/:id", rooms.Delete)

	e.POST("/v1/rooms/:id/reviews", reviews.Create, auth, middleware.RequireRole(model.RoleAdmin, model.RoleMember))
}
