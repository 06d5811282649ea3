package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/prizedraw/ticket-redemption/internal/engine"
	"github.com/prizedraw/ticket-redemption/internal/utils"
)

// engineErrorStatus maps engine sentinels onto HTTP status codes and the
// short human-readable message every failure carries.  Anything unmapped is
// a genuine fault and becomes a generic 500.
func engineErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest, "missing required field"
	case errors.Is(err, engine.ErrInvalidCredential):
		return http.StatusUnauthorized, "invalid credential"
	case errors.Is(err, engine.ErrEmailMismatch):
		return http.StatusUnauthorized, "email does not match this ticket"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "ticket not found"
	case errors.Is(err, engine.ErrDisabled):
		return http.StatusForbidden, "ticket is disabled"
	case errors.Is(err, engine.ErrAlreadyUsed):
		return http.StatusConflict, "this code has already been used"
	case errors.Is(err, engine.ErrAlreadyRedeemed):
		return http.StatusConflict, "ticket has already been redeemed"
	case errors.Is(err, engine.ErrAlreadyHolding):
		return http.StatusConflict, "release the currently held prize first"
	case errors.Is(err, engine.ErrHeldElsewhere):
		return http.StatusConflict, "prize is currently held by another ticket"
	case errors.Is(err, engine.ErrNotEligible):
		return http.StatusConflict, "ticket is not eligible to finalize this prize"
	case errors.Is(err, engine.ErrSold):
		return http.StatusGone, "prize has already been claimed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeEngineError renders an engine failure.  When the engine attached a
// refreshed token to a recoverable failure, it is included so the client's
// local state stays consistent without a forced re-login.
func writeEngineError(c echo.Context, err error, token *utils.IssuedToken) error {
	status, msg := engineErrorStatus(err)
	body := echo.Map{"error": msg}
	if token != nil && token.Token != "" {
		body["token"] = token.Token
		body["token_expires_at"] = token.ExpiresAt
	}
	return c.JSON(status, body)
}
