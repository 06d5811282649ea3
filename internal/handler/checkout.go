package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/prizedraw/ticket-redemption/internal/model"
	"github.com/prizedraw/ticket-redemption/internal/queue"
)

// CheckoutHandler exposes the two operations the external checkout
// collaborator needs: the eligibility probe before completing an order and
// the terminal finalization afterwards.  These routes live under /internal
// and are not customer-facing.
type CheckoutHandler struct {
	Engine ReservationEngine
	// Publish emits the premium-redemption event after a successful
	// finalize.  Publishing is best-effort: a broker outage must never
	// roll back a committed redemption.
	Publish func(ctx context.Context, ev queue.PremiumRedeemedEvent) error
}

// NewCheckoutHandler constructs a CheckoutHandler.  publish may be nil to
// disable event emission (e.g. in tests).
func NewCheckoutHandler(e ReservationEngine, publish func(ctx context.Context, ev queue.PremiumRedeemedEvent) error) *CheckoutHandler {
	if e == nil {
		panic("nil engine passed to NewCheckoutHandler")
	}
	return &CheckoutHandler{Engine: e, Publish: publish}
}

// Eligibility handles GET /internal/tickets/:id/eligibility?prize_id=...
// It answers "may this ticket finalize against this prize right now" with
// a plain boolean; an unknown ticket is simply not eligible.
func (h *CheckoutHandler) Eligibility(c echo.Context) error {
	ticketID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || ticketID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket id"})
	}
	prizeID := c.QueryParam("prize_id")
	if prizeID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "prize_id is required"})
	}
	eligible, err := h.Engine.IsEligibleToFinalize(c.Request().Context(), ticketID, prizeID)
	if err != nil {
		return writeEngineError(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"eligible": eligible})
}

// Finalize handles POST /internal/tickets/:id/finalize.  The body carries
// the prize and the storefront order reference.  On success the redemption
// is terminal; for PREMIUM tickets the informational-email event is
// published to the broker.
func (h *CheckoutHandler) Finalize(c echo.Context) error {
	ticketID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || ticketID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket id"})
	}
	var body struct {
		PrizeID  string `json:"prize_id"`
		OrderRef string `json:"order_ref"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	t, err := h.Engine.Finalize(c.Request().Context(), ticketID, body.PrizeID, body.OrderRef)
	if err != nil {
		return writeEngineError(c, err, nil)
	}
	if t.Kind == model.KindPremium && h.Publish != nil && t.BoundEmail != nil {
		ev := queue.PremiumRedeemedEvent{
			TicketID:   t.ID,
			Email:      *t.BoundEmail,
			PrizeID:    body.PrizeID,
			OrderRef:   body.OrderRef,
			RedeemedAt: t.RedeemedAt.UTC().Format(time.RFC3339),
		}
		if perr := h.Publish(c.Request().Context(), ev); perr != nil {
			c.Logger().Warnf("premium event publish failed for ticket %d: %v", t.ID, perr)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"ticket_id":   t.ID,
		"prize_id":    body.PrizeID,
		"order_ref":   body.OrderRef,
		"redeemed_at": t.RedeemedAt.UTC().Format(time.RFC3339),
	})
}
