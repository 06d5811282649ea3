package model

import "time"

// Ticket kinds.  The kind decides which post-redemption flows apply; only
// PREMIUM tickets trigger the informational email after finalization.
const (
	KindStandard = "STANDARD" // tickets.kind = STANDARD
	KindPremium  = "PREMIUM"  // tickets.kind = PREMIUM
)

// Lifecycle statuses of a ticket.  PENDING_ACTIVATION behaves like UNUSED
// for redemption purposes but marks codes that are not yet customer-facing.
// DISABLED is an administrative side state that blocks every transition.
const (
	StatusUnused            = "UNUSED"             // tickets.status = UNUSED
	StatusReserved          = "RESERVED"           // tickets.status = RESERVED
	StatusDisabled          = "DISABLED"           // tickets.status = DISABLED
	StatusPendingActivation = "PENDING_ACTIVATION" // tickets.status = PENDING_ACTIVATION
)

// Ticket represents one printed redemption code and is the single source of
// truth for its reservation state.  Prize availability is derived entirely
// from ticket rows: a prize is taken while some ticket holds it unexpired or
// has redeemed it.  This struct corresponds to a row in the `tickets` table.
//
// Fields:
//  ID                – primary key identifier, immutable.
//  Code              – unique human-entered redemption code; the redemption
//                      flow never changes it (only admin import may upsert).
//  Kind              – STANDARD or PREMIUM.
//  Status            – lifecycle status, see constants above.
//  BoundEmail        – email bound at first redemption (nil until then,
//                      cleared again by logout/reset).
//  EmailBoundUntil   – end of the window during which the binding is
//                      considered active for session purposes.
//  RedeemedAt        – terminal redemption timestamp; set once, never cleared.
//  RedeemedOrderRef  – storefront order reference, set together with RedeemedAt.
//  HeldPrizeID       – catalog identifier of the prize currently held.
//  HoldExpiresAt     – deadline after which the hold counts as released.
//                      A value in the past is equivalent to no hold.
//  VerificationNonce – random value generated at first redemption, used to
//                      correlate later verification steps.
//  Version           – optimistic locking counter, bumped on every mutation.
//  CreatedAt         – creation timestamp, immutable.
//  UpdatedAt         – timestamp of last update.
type Ticket struct {
	ID                uint64     // tickets.id
	Code              string     // tickets.code
	Kind              string     // tickets.kind
	Status            string     // tickets.status
	BoundEmail        *string    // tickets.bound_email (nullable)
	EmailBoundUntil   *time.Time // tickets.email_bound_until (nullable)
	RedeemedAt        *time.Time // tickets.redeemed_at (nullable)
	RedeemedOrderRef  *string    // tickets.redeemed_order_ref (nullable)
	HeldPrizeID       *string    // tickets.held_prize_id (nullable, indexed)
	HoldExpiresAt     *time.Time // tickets.hold_expires_at (nullable)
	VerificationNonce *string    // tickets.verification_nonce (nullable)
	Version           uint32     // tickets.version
	CreatedAt         time.Time  // tickets.created_at
	UpdatedAt         time.Time  // tickets.updated_at
}

// IsRedeemed reports whether the ticket has reached its terminal state.
func (t *Ticket) IsRedeemed() bool { return t.RedeemedAt != nil }

// HasActiveHold reports whether the ticket holds a prize whose deadline has
// not passed as of the given instant.  Every reader must use this comparison
// instead of inspecting HeldPrizeID directly, so that an expired hold is
// treated identically to no hold.
func (t *Ticket) HasActiveHold(asOf time.Time) bool {
	return t.HeldPrizeID != nil && t.HoldExpiresAt != nil && t.HoldExpiresAt.After(asOf)
}

// ActiveHold returns the catalog identifier of the active hold, if any.
func (t *Ticket) ActiveHold(asOf time.Time) (string, bool) {
	if !t.HasActiveHold(asOf) {
		return "", false
	}
	return *t.HeldPrizeID, true
}
