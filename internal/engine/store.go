package engine

import (
	"context"
	"time"

	"github.com/prizedraw/ticket-redemption/internal/model"
)

// Tx is the view of the ticket store inside a single atomic unit.  Every
// state-changing transition runs its sweep, its reads and its write against
// the same Tx so that check-then-act cannot interleave with a concurrent
// winner.  Implementations must make reads through a Tx observe committed
// writes of racing transactions once those commit (row locking or an
// equivalent conditional update).
type Tx interface {
	// TicketByCode loads a ticket by its redemption code.  When no row
	// matches it returns an error wrapping sql.ErrNoRows (the repository's
	// ErrTicketNotFound does).
	TicketByCode(ctx context.Context, code string) (*model.Ticket, error)

	// TicketByID loads a ticket by its identifier.
	TicketByID(ctx context.Context, id uint64) (*model.Ticket, error)

	// HoldersOf returns every ticket with an unexpired hold on the given
	// prize as of the supplied instant.
	HoldersOf(ctx context.Context, prizeID string, asOf time.Time) ([]model.Ticket, error)

	// RedeemedFor returns the ticket that permanently redeemed the given
	// prize, or nil when the prize has never been redeemed.
	RedeemedFor(ctx context.Context, prizeID string) (*model.Ticket, error)

	// ReleaseExpiredHolds clears the hold on every non-disabled, non-redeemed
	// ticket whose deadline has lapsed as of the supplied instant.  It is the
	// lazy sweep invoked at the start of every reservation-affecting
	// transition; there is no background timer.
	ReleaseExpiredHolds(ctx context.Context, asOf time.Time) (int64, error)

	// Save persists the ticket, bumping its version.  It fails when a
	// concurrent mutation already advanced the version.
	Save(ctx context.Context, t *model.Ticket) error
}

// Store runs a function inside one atomic read-modify-write unit.  When fn
// returns an error the unit is rolled back and the error is returned
// unchanged, so engine sentinels pass through to handlers.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
}
