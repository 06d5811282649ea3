package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/prizedraw/ticket-redemption/internal/middleware"
)

// SessionHandler exposes the session snapshot and logout endpoints.
type SessionHandler struct {
	Engine ReservationEngine
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(e ReservationEngine) *SessionHandler {
	if e == nil {
		panic("nil engine passed to NewSessionHandler")
	}
	return &SessionHandler{Engine: e}
}

// Current handles GET /v1/session.  It accepts either token profile: this
// is also how the redemption proof issued by /v1/redeem is upgraded into a
// session token once the email is bound.  The response reflects store
// state, never the incoming token's snapshot.
func (h *SessionHandler) Current(c echo.Context) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credential"})
	}
	res, err := h.Engine.Session(c.Request().Context(), claims)
	if err != nil {
		return writeEngineError(c, err, nil)
	}
	resp := echo.Map{
		"token":            res.Token.Token,
		"token_expires_at": res.Token.ExpiresAt,
		"kind":             res.Kind,
		"redeemed":         res.Redeemed,
	}
	if res.HeldPrizeID != "" {
		resp["held_prize_id"] = res.HeldPrizeID
	}
	if res.HoldExpiresAt != nil {
		resp["hold_expires_at"] = res.HoldExpiresAt.UTC().Format(time.RFC3339)
	}
	return c.JSON(http.StatusOK, resp)
}

// Logout handles POST /v1/logout.  It clears the email binding and any
// outstanding hold while preserving redemption history.  Calling it with a
// token whose session was already cleared is fine; the operation is
// idempotent.
func (h *SessionHandler) Logout(c echo.Context) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credential"})
	}
	if err := h.Engine.Logout(c.Request().Context(), claims); err != nil {
		return writeEngineError(c, err, nil)
	}
	return c.NoContent(http.StatusNoContent)
}
