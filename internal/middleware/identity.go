package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Identity returns the authenticated user id and role stored by JWTAuth.
// ok is false for anonymous requests.
func Identity(c echo.Context) (userID uint64, role string, ok bool) {
	switch v := c.Get(ctxUserID).(type) {
	case uint64:
		userID = v
	case int64:
		userID = uint64(v)
	case float64:
		userID = uint64(v)
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, "", false
		}
		userID = n
	}
	if userID == 0 {
		return 0, "", false
	}
	role, _ = c.Get(ctxRole).(string)
	return userID, role, true
}

// identityKey is the user part of rate-limit keys; "anon" without a token.
func identityKey(c echo.Context) string {
	if id, _, ok := Identity(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
