package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health reports liveness.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready reports 200 only when the database answers a ping within two
// seconds.
func Ready(db *sql.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	}
}
