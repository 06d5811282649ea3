package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/prizedraw/ticket-redemption/internal/middleware"
	"github.com/prizedraw/ticket-redemption/internal/utils"
)

// PrizeHandler exposes prize selection and release.  The two selection
// routes differ only in the hold window they apply: /hold stages a prize
// briefly before checkout, /claim pins it for the full checkout window.
// Both windows are configuration, not different states.
type PrizeHandler struct {
	Engine      ReservationEngine
	StageWindow time.Duration // hold window for POST /v1/prizes/:id/hold
	ClaimWindow time.Duration // hold window for POST /v1/prizes/:id/claim
}

// NewPrizeHandler constructs a PrizeHandler with the configured windows.
func NewPrizeHandler(e ReservationEngine, stage, claim time.Duration) *PrizeHandler {
	if e == nil {
		panic("nil engine passed to NewPrizeHandler")
	}
	return &PrizeHandler{Engine: e, StageWindow: stage, ClaimWindow: claim}
}

// Hold handles POST /v1/prizes/:id/hold with the staging window.
func (h *PrizeHandler) Hold(c echo.Context) error {
	return h.selectPrize(c, h.StageWindow)
}

// Claim handles POST /v1/prizes/:id/claim with the checkout window.
func (h *PrizeHandler) Claim(c echo.Context) error {
	return h.selectPrize(c, h.ClaimWindow)
}

func (h *PrizeHandler) selectPrize(c echo.Context, window time.Duration) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credential"})
	}
	prizeID := c.Param("id")
	res, err := h.Engine.SelectPrize(c.Request().Context(), claims, prizeID, window)
	if err != nil {
		var tok *utils.IssuedToken
		if res != nil {
			tok = &res.Token
		}
		return writeEngineError(c, err, tok)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"token":            res.Token.Token,
		"token_expires_at": res.Token.ExpiresAt,
		"prize_id":         prizeID,
		"hold_expires_at":  res.HoldExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Release handles DELETE /v1/prizes/:id/hold.  Releasing a hold that no
// longer exists (expired, superseded, never placed) succeeds silently, so
// clients can retry without special-casing.
func (h *PrizeHandler) Release(c echo.Context) error {
	claims := middleware.ClaimsFrom(c)
	if claims == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credential"})
	}
	prizeID := c.Param("id")
	res, err := h.Engine.ReleaseHold(c.Request().Context(), claims, prizeID)
	if err != nil {
		var tok *utils.IssuedToken
		if res != nil {
			tok = &res.Token
		}
		return writeEngineError(c, err, tok)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"token":            res.Token.Token,
		"token_expires_at": res.Token.ExpiresAt,
		"released":         res.Released,
	})
}
