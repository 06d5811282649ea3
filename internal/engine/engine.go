// Package engine implements the ticket reservation state machine.  Tickets
// move between UNUSED, RESERVED (optionally with a time-bounded prize hold)
// and terminal redemption; every transition is one atomic read-modify-write
// against the ticket store, with the expired-hold sweep folded into the same
// transaction as the availability check that follows it.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/prizedraw/ticket-redemption/internal/model"
	"github.com/prizedraw/ticket-redemption/internal/utils"
)

// Engine validates and applies ticket transitions.  It owns no state of its
// own: the store is the sole arbiter of concurrent mutation, so the engine
// is safe to share across request handlers without locks.
type Engine struct {
	store       Store
	tokens      *utils.Codec
	emailWindow time.Duration
	now         func() time.Time
}

// New returns an Engine bound to the given store and token codec.  The
// email window is how long an email binding stays active for session
// purposes after a redeem or a successful state-changing call.
func New(store Store, tokens *utils.Codec, emailWindow time.Duration) *Engine {
	return &Engine{store: store, tokens: tokens, emailWindow: emailWindow, now: time.Now}
}

// RedeemResult is returned by RedeemCode on success.
type RedeemResult struct {
	Token        utils.IssuedToken // redemption-profile token, short-lived
	Kind         string            // ticket kind for post-redemption flows
	HoldDeadline *time.Time        // deadline of the current hold, if any
	HeldPrizes   []string          // currently held prize ids (at most one)
	Nonce        string            // verification nonce for later correlation
}

// SelectResult is returned by SelectPrize.  On recoverable failures only
// Token is populated, carrying a fresh snapshot of store state so the
// client can resynchronize without a forced re-login.
type SelectResult struct {
	Token         utils.IssuedToken
	HoldExpiresAt time.Time
}

// ReleaseResult is returned by ReleaseHold.
type ReleaseResult struct {
	Token    utils.IssuedToken
	Released bool // false when the call was an idempotent no-op
}

// SessionResult is the refreshed state snapshot returned by Session.
type SessionResult struct {
	Token         utils.IssuedToken // session-profile token
	Kind          string
	HeldPrizeID   string     // empty when no active hold
	HoldExpiresAt *time.Time // nil when no active hold
	Redeemed      bool
}

// RedeemCode moves a ticket from UNUSED or PENDING_ACTIVATION to RESERVED,
// binding the supplied email and generating a fresh verification nonce.  On
// success it issues a short-lived redemption token.  Re-redeeming a ticket
// that already left the entry states fails with ErrAlreadyUsed.
func (e *Engine) RedeemCode(ctx context.Context, code, email string) (*RedeemResult, error) {
	code = strings.TrimSpace(code)
	email = strings.TrimSpace(email)
	if code == "" || email == "" {
		return nil, ErrValidation
	}
	now := e.now().UTC()
	var cur *model.Ticket
	err := e.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.ReleaseExpiredHolds(ctx, now); err != nil {
			return err
		}
		t, err := tx.TicketByCode(ctx, code)
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		switch {
		case t.Status == model.StatusDisabled:
			return ErrDisabled
		case t.IsRedeemed():
			return ErrAlreadyUsed
		case t.Status != model.StatusUnused && t.Status != model.StatusPendingActivation:
			return ErrAlreadyUsed
		}
		nonce := utils.NewVerificationNonce()
		until := now.Add(e.emailWindow)
		t.Status = model.StatusReserved
		t.BoundEmail = &email
		t.EmailBoundUntil = &until
		t.VerificationNonce = &nonce
		cur = t
		return tx.Save(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	tok, err := e.tokens.Issue(e.snapshotClaims(cur, now), utils.ProfileRedemption)
	if err != nil {
		return nil, err
	}
	res := &RedeemResult{Token: tok, Kind: cur.Kind, HeldPrizes: []string{}}
	if cur.VerificationNonce != nil {
		res.Nonce = *cur.VerificationNonce
	}
	if prize, ok := cur.ActiveHold(now); ok {
		res.HeldPrizes = append(res.HeldPrizes, prize)
		d := *cur.HoldExpiresAt
		res.HoldDeadline = &d
	}
	return res, nil
}

// SelectPrize places a time-bounded exclusive hold on a prize for the
// ticket identified by the claims.  The hold window varies by call site
// (staging vs. claim) and is passed in by the handler.  Preconditions are
// checked in order: ticket found, email matches, not redeemed, prize free
// per the conflict resolver, and no other unexpired hold on this ticket.
// The expired-hold sweep, the availability check and the write all run in
// one transaction, so whichever of two racing selections commits first
// wins and the loser observes the winner's hold.
func (e *Engine) SelectPrize(ctx context.Context, claims *utils.Claims, prizeID string, window time.Duration) (*SelectResult, error) {
	if claims == nil {
		return nil, ErrInvalidCredential
	}
	prizeID = strings.TrimSpace(prizeID)
	if prizeID == "" || window <= 0 {
		return nil, ErrValidation
	}
	now := e.now().UTC()
	var cur *model.Ticket
	var deadline time.Time
	err := e.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.ReleaseExpiredHolds(ctx, now); err != nil {
			return err
		}
		t, err := tx.TicketByID(ctx, claims.TicketID)
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		cur = t
		if t.Status == model.StatusDisabled {
			return ErrDisabled
		}
		if t.BoundEmail == nil || !strings.EqualFold(*t.BoundEmail, claims.Email) {
			return ErrEmailMismatch
		}
		if t.IsRedeemed() {
			return ErrAlreadyRedeemed
		}
		holders, err := tx.HoldersOf(ctx, prizeID, now)
		if err != nil {
			return err
		}
		sold, err := tx.RedeemedFor(ctx, prizeID)
		if err != nil {
			return err
		}
		switch Resolve(t.ID, prizeID, now, holders, sold) {
		case Sold:
			return ErrSold
		case HeldByOther:
			return ErrHeldElsewhere
		}
		if held, ok := t.ActiveHold(now); ok && held != prizeID {
			return ErrAlreadyHolding
		}
		deadline = now.Add(window)
		until := now.Add(e.emailWindow)
		t.HeldPrizeID = &prizeID
		t.HoldExpiresAt = &deadline
		t.EmailBoundUntil = &until
		return tx.Save(ctx, t)
	})
	if err != nil {
		return e.withRecoveryToken(cur, claims, now, err)
	}
	tok, err := e.tokens.Issue(e.snapshotClaims(cur, now), utils.ProfileSession)
	if err != nil {
		return nil, err
	}
	return &SelectResult{Token: tok, HoldExpiresAt: deadline}, nil
}

// ReleaseHold clears the ticket's hold when, and only when, the currently
// held prize matches the given one; a hold that was already superseded or
// expired is left alone and the call still succeeds.  The operation is
// idempotent: releasing twice in a row succeeds both times.
func (e *Engine) ReleaseHold(ctx context.Context, claims *utils.Claims, prizeID string) (*ReleaseResult, error) {
	if claims == nil {
		return nil, ErrInvalidCredential
	}
	prizeID = strings.TrimSpace(prizeID)
	if prizeID == "" {
		return nil, ErrValidation
	}
	now := e.now().UTC()
	var cur *model.Ticket
	released := false
	err := e.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.ReleaseExpiredHolds(ctx, now); err != nil {
			return err
		}
		t, err := tx.TicketByID(ctx, claims.TicketID)
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		cur = t
		if t.Status == model.StatusDisabled {
			return ErrDisabled
		}
		if t.BoundEmail == nil || !strings.EqualFold(*t.BoundEmail, claims.Email) {
			return ErrEmailMismatch
		}
		if t.IsRedeemed() {
			return ErrAlreadyRedeemed
		}
		held, ok := t.ActiveHold(now)
		if !ok || held != prizeID {
			// Nothing to release; idempotent success.
			return nil
		}
		until := now.Add(e.emailWindow)
		t.HeldPrizeID = nil
		t.HoldExpiresAt = nil
		t.EmailBoundUntil = &until
		released = true
		return tx.Save(ctx, t)
	})
	if err != nil {
		res, rerr := e.withRecoveryToken(cur, claims, now, err)
		if res != nil {
			return &ReleaseResult{Token: res.Token}, rerr
		}
		return nil, rerr
	}
	tok, err := e.tokens.Issue(e.snapshotClaims(cur, now), utils.ProfileSession)
	if err != nil {
		return nil, err
	}
	return &ReleaseResult{Token: tok, Released: released}, nil
}

// Logout clears the email binding, its window and any outstanding hold,
// returning the ticket to an address-free state.  Redemption history is
// never touched: a redeemed ticket keeps its redeemed_at, order reference
// and the prize record that marks the prize as sold.  Logout is idempotent
// and deliberately skips the email-match check so a stale token can still
// terminate its session.
func (e *Engine) Logout(ctx context.Context, claims *utils.Claims) error {
	if claims == nil {
		return ErrInvalidCredential
	}
	return e.store.Update(ctx, func(tx Tx) error {
		t, err := tx.TicketByID(ctx, claims.TicketID)
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		if t.Status == model.StatusDisabled {
			return ErrDisabled
		}
		t.BoundEmail = nil
		t.EmailBoundUntil = nil
		if !t.IsRedeemed() {
			t.Status = model.StatusUnused
			t.HeldPrizeID = nil
			t.HoldExpiresAt = nil
			t.VerificationNonce = nil
		}
		return tx.Save(ctx, t)
	})
}

// Session re-reads the ticket and issues a fresh session token reflecting
// store state.  It accepts a redemption-profile token as input, which is
// how the initial redemption proof is upgraded into a session once the
// email is bound.  The email binding window must still be active.
func (e *Engine) Session(ctx context.Context, claims *utils.Claims) (*SessionResult, error) {
	if claims == nil {
		return nil, ErrInvalidCredential
	}
	now := e.now().UTC()
	var cur *model.Ticket
	err := e.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.ReleaseExpiredHolds(ctx, now); err != nil {
			return err
		}
		t, err := tx.TicketByID(ctx, claims.TicketID)
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		if t.Status == model.StatusDisabled {
			return ErrDisabled
		}
		if t.BoundEmail == nil || !strings.EqualFold(*t.BoundEmail, claims.Email) {
			return ErrEmailMismatch
		}
		if t.EmailBoundUntil == nil || !t.EmailBoundUntil.After(now) {
			return ErrInvalidCredential
		}
		cur = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	tok, err := e.tokens.Issue(e.snapshotClaims(cur, now), utils.ProfileSession)
	if err != nil {
		return nil, err
	}
	res := &SessionResult{Token: tok, Kind: cur.Kind, Redeemed: cur.IsRedeemed()}
	if prize, ok := cur.ActiveHold(now); ok {
		res.HeldPrizeID = prize
		d := *cur.HoldExpiresAt
		res.HoldExpiresAt = &d
	}
	return res, nil
}

// IsEligibleToFinalize reports whether the ticket may be finalized against
// the given prize right now: reserved, not disabled, not yet redeemed, and
// holding an unexpired hold on exactly that prize.  Unknown tickets are
// simply not eligible.  This is the precondition check the external
// checkout collaborator calls before completing an order.
func (e *Engine) IsEligibleToFinalize(ctx context.Context, ticketID uint64, prizeID string) (bool, error) {
	prizeID = strings.TrimSpace(prizeID)
	if ticketID == 0 || prizeID == "" {
		return false, ErrValidation
	}
	now := e.now().UTC()
	eligible := false
	err := e.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.ReleaseExpiredHolds(ctx, now); err != nil {
			return err
		}
		t, err := tx.TicketByID(ctx, ticketID)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if t.Status != model.StatusReserved || t.IsRedeemed() {
			return nil
		}
		if held, ok := t.ActiveHold(now); ok && held == prizeID {
			eligible = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return eligible, nil
}

// Finalize marks the terminal redemption of a ticket against the prize it
// holds, recording the storefront order reference.  redeemed_at is set at
// most once and never cleared afterwards; the hold deadline is dropped so
// the retained prize id becomes the permanent sold record.  Invoked by the
// external checkout-completion collaborator.
func (e *Engine) Finalize(ctx context.Context, ticketID uint64, prizeID, orderRef string) (*model.Ticket, error) {
	prizeID = strings.TrimSpace(prizeID)
	orderRef = strings.TrimSpace(orderRef)
	if ticketID == 0 || prizeID == "" || orderRef == "" {
		return nil, ErrValidation
	}
	now := e.now().UTC()
	var cur *model.Ticket
	err := e.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.ReleaseExpiredHolds(ctx, now); err != nil {
			return err
		}
		t, err := tx.TicketByID(ctx, ticketID)
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		if t.Status == model.StatusDisabled {
			return ErrDisabled
		}
		if t.IsRedeemed() {
			return ErrAlreadyRedeemed
		}
		held, ok := t.ActiveHold(now)
		if !ok || held != prizeID {
			return ErrNotEligible
		}
		// Re-check the permanent record inside the same transaction; a hold
		// should make this impossible, but the write must never proceed on a
		// stale read.
		sold, err := tx.RedeemedFor(ctx, prizeID)
		if err != nil {
			return err
		}
		if sold != nil && sold.ID != t.ID {
			return ErrSold
		}
		ref := orderRef
		t.RedeemedAt = &now
		t.RedeemedOrderRef = &ref
		t.HoldExpiresAt = nil
		cur = t
		return tx.Save(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return cur, nil
}

// snapshotClaims builds token claims from the current store state of a
// ticket.  The snapshot exists for client-side display only.
func (e *Engine) snapshotClaims(t *model.Ticket, asOf time.Time) utils.Claims {
	c := utils.Claims{TicketID: t.ID, Kind: t.Kind}
	if t.BoundEmail != nil {
		c.Email = *t.BoundEmail
	}
	if prize, ok := t.ActiveHold(asOf); ok {
		c.HeldPrizeID = prize
		c.HoldExpiresAt = t.HoldExpiresAt.Unix()
	}
	return c
}

// withRecoveryToken attaches a refreshed session token to recoverable
// business failures so the client's local state stays consistent without a
// forced re-login.  Non-recoverable errors pass through bare.
//
// On an email mismatch the refreshed token keeps the caller's claimed
// email, never the store's: the ticket may have been logged out and
// re-redeemed by a different address since the caller's token was issued,
// and handing that caller a token bound to the new address would turn a
// stale credential into a valid one.  The mismatched token stays
// mismatched.
func (e *Engine) withRecoveryToken(t *model.Ticket, claims *utils.Claims, asOf time.Time, opErr error) (*SelectResult, error) {
	if t == nil || !recoverable(opErr) {
		return nil, opErr
	}
	snap := e.snapshotClaims(t, asOf)
	if errors.Is(opErr, ErrEmailMismatch) && claims != nil {
		snap.Email = claims.Email
	}
	tok, err := e.tokens.Issue(snap, utils.ProfileSession)
	if err != nil {
		return nil, opErr
	}
	return &SelectResult{Token: tok}, opErr
}

// recoverable reports whether the client can recover from the failure on
// its own given a refreshed token.
func recoverable(err error) bool {
	return errors.Is(err, ErrEmailMismatch) ||
		errors.Is(err, ErrAlreadyRedeemed) ||
		errors.Is(err, ErrHeldElsewhere) ||
		errors.Is(err, ErrSold) ||
		errors.Is(err, ErrAlreadyHolding)
}

// isNotFound recognizes the store's not-found condition. Stores signal it
// by returning an error wrapping sql.ErrNoRows.
func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
