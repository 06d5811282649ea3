package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/prizedraw/ticket-redemption/internal/engine"
	"github.com/prizedraw/ticket-redemption/internal/model"
	"github.com/prizedraw/ticket-redemption/internal/utils"
)

// ReservationEngine is the slice of the engine the HTTP layer depends on.
// Handlers stay behind this interface so tests can substitute a stub
// without a database.
type ReservationEngine interface {
	RedeemCode(ctx context.Context, code, email string) (*engine.RedeemResult, error)
	SelectPrize(ctx context.Context, claims *utils.Claims, prizeID string, window time.Duration) (*engine.SelectResult, error)
	ReleaseHold(ctx context.Context, claims *utils.Claims, prizeID string) (*engine.ReleaseResult, error)
	Logout(ctx context.Context, claims *utils.Claims) error
	Session(ctx context.Context, claims *utils.Claims) (*engine.SessionResult, error)
	IsEligibleToFinalize(ctx context.Context, ticketID uint64, prizeID string) (bool, error)
	Finalize(ctx context.Context, ticketID uint64, prizeID, orderRef string) (*model.Ticket, error)
}

// RedeemHandler exposes the code-redemption entry point of the flow.
type RedeemHandler struct {
	Engine ReservationEngine
}

// NewRedeemHandler constructs a RedeemHandler.  The engine must be non-nil.
func NewRedeemHandler(e ReservationEngine) *RedeemHandler {
	if e == nil {
		panic("nil engine passed to NewRedeemHandler")
	}
	return &RedeemHandler{Engine: e}
}

// Redeem handles POST /v1/redeem.  The body carries the printed code and
// the customer's email.  On success the ticket enters RESERVED, the email
// is bound, and a short-lived redemption token is returned together with
// the ticket kind and the current hold snapshot.
func (h *RedeemHandler) Redeem(c echo.Context) error {
	var body struct {
		Code  string `json:"code"`
		Email string `json:"email"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	res, err := h.Engine.RedeemCode(c.Request().Context(), body.Code, body.Email)
	if err != nil {
		return writeEngineError(c, err, nil)
	}
	resp := echo.Map{
		"token":            res.Token.Token,
		"token_expires_at": res.Token.ExpiresAt,
		"kind":             res.Kind,
		"holds":            res.HeldPrizes,
	}
	if res.HoldDeadline != nil {
		resp["hold_deadline"] = res.HoldDeadline.UTC().Format(time.RFC3339)
	}
	return c.JSON(http.StatusOK, resp)
}
