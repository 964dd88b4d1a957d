package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/room-reservation/internal/booking"
	"github.com/iliyamo/room-reservation/internal/middleware"
)

// actor builds the booking actor from the identity stored by JWTAuth.
func actor(c echo.Context) (booking.Actor, bool) {
	id, role, ok := middleware.Identity(c)
	if !ok {
		return booking.Actor{}, false
	}
	return booking.Actor{UserID: id, Role: role}, true
}

// pathID parses the ":id" (or other) path parameter as a positive id.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// bookingError maps admission errors to HTTP.  Quota rejections answer
// 403 like authorization failures but carry their own error code.
func bookingError(c echo.Context, err error) error {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, booking.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, booking.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, booking.ErrQuotaExceeded):
		status, code = http.StatusForbidden, "quota_exceeded"
	case errors.Is(err, booking.ErrUnknownRoom):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "room not found", "message": err.Error()})
	case errors.Is(err, booking.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, booking.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, booking.ErrStoreUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "unavailable", "message": "reservation store unavailable, retry later"})
	default:
		return internalError(c, "reservation request failed", err)
	}
	return c.JSON(status, echo.Map{"error": code, "message": err.Error()})
}

func internalError(c echo.Context, msg string, err error) error {
	slog.ErrorContext(c.Request().Context(), msg,
		slog.String("path", c.Path()), slog.Any("err", err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": msg})
}
