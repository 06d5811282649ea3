package engine

import "errors"

// Business-rule failures are recovered at the engine boundary and returned
// as these sentinels, never as unhandled faults. Handlers translate them
// into HTTP status codes and short messages. Anything else that escapes an
// operation (store unavailable, signing failure) is a genuine fault and
// surfaces as a generic 500.
var (
	// ErrNotFound is returned for an unknown code or ticket id.
	ErrNotFound = errors.New("ticket not found")

	// ErrInvalidCredential is returned when the presented bearer token is
	// forged, malformed or expired. The three cases are deliberately
	// indistinguishable to the caller.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrEmailMismatch is returned when the email on the token does not
	// match the email bound to the ticket. Recoverable: a refreshed token
	// is issued alongside so the client can resynchronize.
	ErrEmailMismatch = errors.New("email does not match ticket")

	// ErrAlreadyUsed is returned when RedeemCode hits a ticket that has
	// already left the UNUSED/PENDING_ACTIVATION states.
	ErrAlreadyUsed = errors.New("ticket already used")

	// ErrAlreadyRedeemed is returned when a transition is attempted on a
	// ticket whose redemption is terminal.
	ErrAlreadyRedeemed = errors.New("ticket already redeemed")

	// ErrHeldElsewhere is returned when another ticket currently holds an
	// unexpired hold on the requested prize.
	ErrHeldElsewhere = errors.New("prize is held by another ticket")

	// ErrSold is returned when some ticket has permanently redeemed the
	// requested prize.
	ErrSold = errors.New("prize already sold")

	// ErrDisabled is returned when the ticket was administratively disabled.
	ErrDisabled = errors.New("ticket disabled")

	// ErrAlreadyHolding is returned when the ticket already has an unexpired
	// hold on a different prize. Selecting a new prize never silently
	// replaces an existing hold; the client must release first.
	ErrAlreadyHolding = errors.New("ticket already holds another prize")

	// ErrNotEligible is returned by Finalize when the ticket has no
	// unexpired hold on the prize being finalized.
	ErrNotEligible = errors.New("ticket not eligible to finalize this prize")

	// ErrValidation is returned when a required input field is missing.
	ErrValidation = errors.New("validation failed")
)
