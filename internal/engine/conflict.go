package engine

import (
	"time"

	"github.com/prizedraw/ticket-redemption/internal/model"
)

// Availability is the verdict of the conflict resolver for one prize at one
// point in time.
type Availability int

const (
	// Free means no other ticket blocks the prize.
	Free Availability = iota
	// HeldByOther means another ticket has an unexpired hold on the prize.
	HeldByOther
	// Sold means some ticket (possibly the acting one) permanently redeemed
	// the prize.
	Sold
)

// String returns a stable name for logging.
func (a Availability) String() string {
	switch a {
	case Free:
		return "FREE"
	case HeldByOther:
		return "HELD_BY_OTHER"
	case Sold:
		return "SOLD"
	}
	return "UNKNOWN"
}

// Resolve decides whether the acting ticket may take the prize, given a
// point-in-time read of all holders and the permanent redemption record.
// It is a pure function: callers must obtain holders and redeemed inside
// the same transaction as the write that follows, otherwise the verdict is
// stale by the time it is acted upon.
//
// A redemption record wins over any hold state. Hold expiry is re-checked
// against asOf here even though stores are expected to pre-filter, so that
// a stale row can never block a prize past its deadline.
func Resolve(actingTicketID uint64, prizeID string, asOf time.Time, holders []model.Ticket, redeemed *model.Ticket) Availability {
	if redeemed != nil && redeemed.IsRedeemed() {
		return Sold
	}
	for i := range holders {
		h := &holders[i]
		if h.ID == actingTicketID {
			continue
		}
		if prize, ok := h.ActiveHold(asOf); ok && prize == prizeID {
			return HeldByOther
		}
	}
	return Free
}
