package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prizedraw/ticket-redemption/internal/model"
	"github.com/prizedraw/ticket-redemption/internal/utils"
)

// testBase is the fixed instant every test clock starts from.
var testBase = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

var errNoTicket = fmt.Errorf("ticket not found: %w", sql.ErrNoRows)

// memStore is an in-memory Store.  The mutex serializes whole Update calls,
// which models the row-lock guarantee the SQL implementation provides: two
// racing transitions commit one after the other, and the second observes the
// first's writes.  fn errors discard the staged view, modeling rollback.
type memStore struct {
	mu      sync.Mutex
	tickets map[uint64]*model.Ticket
}

func newMemStore(seed ...model.Ticket) *memStore {
	s := &memStore{tickets: map[uint64]*model.Ticket{}}
	for i := range seed {
		t := seed[i]
		s.tickets[t.ID] = &t
	}
	return s
}

func (s *memStore) Update(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{s: s, view: map[uint64]*model.Ticket{}}
	if err := fn(tx); err != nil {
		return err
	}
	for id, t := range tx.view {
		s.tickets[id] = t
	}
	return nil
}

// ticket returns a committed snapshot for assertions.
func (s *memStore) ticket(tb testing.TB, id uint64) model.Ticket {
	tb.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		tb.Fatalf("ticket %d not in store", id)
	}
	return *t
}

type memTx struct {
	s    *memStore
	view map[uint64]*model.Ticket
}

func (tx *memTx) load(id uint64) (*model.Ticket, bool) {
	if t, ok := tx.view[id]; ok {
		return t, true
	}
	t, ok := tx.s.tickets[id]
	if !ok {
		return nil, false
	}
	c := cloneTicket(t)
	tx.view[id] = c
	return c, true
}

func (tx *memTx) TicketByCode(_ context.Context, code string) (*model.Ticket, error) {
	for id := range tx.s.tickets {
		t, _ := tx.load(id)
		if t.Code == code {
			return t, nil
		}
	}
	return nil, errNoTicket
}

func (tx *memTx) TicketByID(_ context.Context, id uint64) (*model.Ticket, error) {
	t, ok := tx.load(id)
	if !ok {
		return nil, errNoTicket
	}
	return t, nil
}

func (tx *memTx) HoldersOf(_ context.Context, prizeID string, asOf time.Time) ([]model.Ticket, error) {
	var out []model.Ticket
	for id := range tx.s.tickets {
		t, _ := tx.load(id)
		if p, ok := t.ActiveHold(asOf); ok && p == prizeID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (tx *memTx) RedeemedFor(_ context.Context, prizeID string) (*model.Ticket, error) {
	for id := range tx.s.tickets {
		t, _ := tx.load(id)
		if t.RedeemedAt != nil && t.HeldPrizeID != nil && *t.HeldPrizeID == prizeID {
			return t, nil
		}
	}
	return nil, nil
}

func (tx *memTx) ReleaseExpiredHolds(_ context.Context, asOf time.Time) (int64, error) {
	var n int64
	for id := range tx.s.tickets {
		t, _ := tx.load(id)
		if t.Status == model.StatusDisabled || t.IsRedeemed() {
			continue
		}
		if t.HeldPrizeID != nil && t.HoldExpiresAt != nil && !t.HoldExpiresAt.After(asOf) {
			t.HeldPrizeID = nil
			t.HoldExpiresAt = nil
			n++
		}
	}
	return n, nil
}

func (tx *memTx) Save(_ context.Context, t *model.Ticket) error {
	t.Version++
	t.UpdatedAt = time.Now()
	tx.view[t.ID] = t
	return nil
}

func cloneTicket(t *model.Ticket) *model.Ticket {
	c := *t
	c.BoundEmail = cloneStr(t.BoundEmail)
	c.EmailBoundUntil = cloneTime(t.EmailBoundUntil)
	c.RedeemedAt = cloneTime(t.RedeemedAt)
	c.RedeemedOrderRef = cloneStr(t.RedeemedOrderRef)
	c.HeldPrizeID = cloneStr(t.HeldPrizeID)
	c.HoldExpiresAt = cloneTime(t.HoldExpiresAt)
	c.VerificationNonce = cloneStr(t.VerificationNonce)
	return &c
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// newTestEngine returns an engine on the given store with a controllable
// clock starting at testBase.  Advance time via *clock = clock.Add(d).
func newTestEngine(s Store) (*Engine, *time.Time) {
	codec := utils.NewCodec("engine-test-secret", 10*time.Minute, 2*time.Hour)
	e := New(s, codec, 2*time.Hour)
	clock := testBase
	e.now = func() time.Time { return clock }
	return e, &clock
}

func unusedTicket(id uint64, code string) model.Ticket {
	return model.Ticket{ID: id, Code: code, Kind: model.KindStandard, Status: model.StatusUnused, Version: 1}
}

func reservedTicket(id uint64, code, email string) model.Ticket {
	t := unusedTicket(id, code)
	t.Status = model.StatusReserved
	t.BoundEmail = &email
	until := testBase.Add(2 * time.Hour)
	t.EmailBoundUntil = &until
	return t
}

func TestRedeemCodeBindsEmail(t *testing.T) {
	store := newMemStore(unusedTicket(1, "ABC-123"))
	e, _ := newTestEngine(store)
	ctx := context.Background()

	res, err := e.RedeemCode(ctx, " ABC-123 ", "a@x.com")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Token.Profile != utils.ProfileRedemption {
		t.Fatalf("token profile = %q", res.Token.Profile)
	}
	if res.Kind != model.KindStandard || res.Nonce == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.HeldPrizes) != 0 || res.HoldDeadline != nil {
		t.Fatalf("fresh redemption should carry no holds: %+v", res)
	}

	got := store.ticket(t, 1)
	if got.Status != model.StatusReserved {
		t.Fatalf("status = %q, want RESERVED", got.Status)
	}
	if got.BoundEmail == nil || *got.BoundEmail != "a@x.com" {
		t.Fatalf("bound email = %v", got.BoundEmail)
	}
	if got.EmailBoundUntil == nil || !got.EmailBoundUntil.Equal(testBase.Add(2*time.Hour)) {
		t.Fatalf("email window = %v", got.EmailBoundUntil)
	}
	if got.VerificationNonce == nil || *got.VerificationNonce != res.Nonce {
		t.Fatalf("nonce not persisted")
	}

	// The ticket left the entry states; a second redemption attempt fails
	// regardless of which email is supplied.
	if _, err := e.RedeemCode(ctx, "ABC-123", "b@y.com"); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("re-redeem: err = %v, want ErrAlreadyUsed", err)
	}
}

func TestRedeemCodeEntryStates(t *testing.T) {
	pending := unusedTicket(2, "PEND-1")
	pending.Status = model.StatusPendingActivation
	disabled := unusedTicket(3, "DIS-1")
	disabled.Status = model.StatusDisabled
	redeemedAt := testBase.Add(-time.Hour)
	used := reservedTicket(4, "USED-1", "old@x.com")
	used.RedeemedAt = &redeemedAt

	store := newMemStore(pending, disabled, used)
	e, _ := newTestEngine(store)
	ctx := context.Background()

	if _, err := e.RedeemCode(ctx, "PEND-1", "a@x.com"); err != nil {
		t.Fatalf("pending activation should redeem like unused: %v", err)
	}
	if _, err := e.RedeemCode(ctx, "DIS-1", "a@x.com"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: err = %v, want ErrDisabled", err)
	}
	if _, err := e.RedeemCode(ctx, "USED-1", "a@x.com"); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("redeemed: err = %v, want ErrAlreadyUsed", err)
	}
	if _, err := e.RedeemCode(ctx, "NOPE", "a@x.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown code: err = %v, want ErrNotFound", err)
	}
	if _, err := e.RedeemCode(ctx, "", "a@x.com"); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank code: err = %v, want ErrValidation", err)
	}
	if _, err := e.RedeemCode(ctx, "PEND-1", "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank email: err = %v, want ErrValidation", err)
	}
}

func TestSelectPrizePlacesHold(t *testing.T) {
	store := newMemStore(reservedTicket(1, "T-1", "a@x.com"))
	e, clock := newTestEngine(store)
	ctx := context.Background()
	claims := &utils.Claims{TicketID: 1, Email: "A@X.COM"} // email match is case-insensitive

	res, err := e.SelectPrize(ctx, claims, "prize-1", 15*time.Minute)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !res.HoldExpiresAt.Equal(testBase.Add(15 * time.Minute)) {
		t.Fatalf("deadline = %v", res.HoldExpiresAt)
	}
	if res.Token.Profile != utils.ProfileSession {
		t.Fatalf("token profile = %q", res.Token.Profile)
	}

	got := store.ticket(t, 1)
	if got.HeldPrizeID == nil || *got.HeldPrizeID != "prize-1" {
		t.Fatalf("hold not persisted: %+v", got)
	}

	// Re-selecting the same prize slides the deadline instead of failing.
	*clock = clock.Add(5 * time.Minute)
	res, err = e.SelectPrize(ctx, claims, "prize-1", 15*time.Minute)
	if err != nil {
		t.Fatalf("re-select same prize: %v", err)
	}
	if !res.HoldExpiresAt.Equal(testBase.Add(20 * time.Minute)) {
		t.Fatalf("deadline after refresh = %v", res.HoldExpiresAt)
	}

	// A different prize while the first hold is live is rejected.
	if _, err := e.SelectPrize(ctx, claims, "prize-2", 15*time.Minute); !errors.Is(err, ErrAlreadyHolding) {
		t.Fatalf("second prize: err = %v, want ErrAlreadyHolding", err)
	}
}

func TestSelectPrizeEmailMismatchCarriesRecoveryToken(t *testing.T) {
	store := newMemStore(reservedTicket(1, "T-1", "a@x.com"))
	e, _ := newTestEngine(store)

	res, err := e.SelectPrize(context.Background(), &utils.Claims{TicketID: 1, Email: "other@x.com"}, "prize-1", 15*time.Minute)
	if !errors.Is(err, ErrEmailMismatch) {
		t.Fatalf("err = %v, want ErrEmailMismatch", err)
	}
	if res == nil || res.Token.Token == "" {
		t.Fatalf("recoverable failure should attach a refreshed token, got %+v", res)
	}
	if got := store.ticket(t, 1); got.HeldPrizeID != nil {
		t.Fatalf("failed selection must not write a hold")
	}

	// The refreshed token keeps the caller's claimed email.  Were it to
	// carry the store's bound email instead, a stale token issued before a
	// logout and re-redemption would be upgraded into a valid credential
	// for the new binding.
	refreshed, err := e.tokens.Verify(res.Token.Token)
	if err != nil {
		t.Fatalf("verify refreshed token: %v", err)
	}
	if refreshed.Email != "other@x.com" {
		t.Fatalf("refreshed email = %q, must stay the caller's claim", refreshed.Email)
	}
	if _, err := e.SelectPrize(context.Background(), refreshed, "prize-1", 15*time.Minute); !errors.Is(err, ErrEmailMismatch) {
		t.Fatalf("refreshed token must still mismatch, got %v", err)
	}
}

func TestSelectPrizeContention(t *testing.T) {
	store := newMemStore(
		reservedTicket(1, "T-1", "a@x.com"),
		reservedTicket(2, "T-2", "b@x.com"),
	)
	e, _ := newTestEngine(store)
	ctx := context.Background()
	first := &utils.Claims{TicketID: 1, Email: "a@x.com"}
	second := &utils.Claims{TicketID: 2, Email: "b@x.com"}

	if _, err := e.SelectPrize(ctx, first, "prize-1", 15*time.Minute); err != nil {
		t.Fatalf("first select: %v", err)
	}

	res, err := e.SelectPrize(ctx, second, "prize-1", 15*time.Minute)
	if !errors.Is(err, ErrHeldElsewhere) {
		t.Fatalf("contended select: err = %v, want ErrHeldElsewhere", err)
	}
	if res == nil || res.Token.Token == "" {
		t.Fatalf("contended select should attach a recovery token")
	}

	// Releasing the winner's hold frees the prize for the loser.
	rel, err := e.ReleaseHold(ctx, first, "prize-1")
	if err != nil || !rel.Released {
		t.Fatalf("release: %v released=%v", err, rel.Released)
	}
	if _, err := e.SelectPrize(ctx, second, "prize-1", 15*time.Minute); err != nil {
		t.Fatalf("select after release: %v", err)
	}
}

func TestExpiredHoldFreesPrize(t *testing.T) {
	store := newMemStore(
		reservedTicket(1, "T-1", "a@x.com"),
		reservedTicket(2, "T-2", "b@x.com"),
	)
	e, clock := newTestEngine(store)
	ctx := context.Background()

	if _, err := e.SelectPrize(ctx, &utils.Claims{TicketID: 1, Email: "a@x.com"}, "prize-1", 15*time.Minute); err != nil {
		t.Fatalf("first select: %v", err)
	}

	*clock = clock.Add(16 * time.Minute)
	if _, err := e.SelectPrize(ctx, &utils.Claims{TicketID: 2, Email: "b@x.com"}, "prize-1", 15*time.Minute); err != nil {
		t.Fatalf("select after expiry: %v", err)
	}

	// The sweep inside the winning transaction cleared the lapsed row.
	if got := store.ticket(t, 1); got.HeldPrizeID != nil || got.HoldExpiresAt != nil {
		t.Fatalf("expired hold not swept: %+v", got)
	}
}

func TestSoldPrizeBlocksForever(t *testing.T) {
	prize := "prize-1"
	soldAt := testBase.Add(-time.Hour)
	sold := reservedTicket(1, "T-1", "a@x.com")
	sold.RedeemedAt = &soldAt
	sold.HeldPrizeID = &prize

	store := newMemStore(sold, reservedTicket(2, "T-2", "b@x.com"))
	e, clock := newTestEngine(store)
	ctx := context.Background()
	claims := &utils.Claims{TicketID: 2, Email: "b@x.com"}

	if _, err := e.SelectPrize(ctx, claims, prize, 15*time.Minute); !errors.Is(err, ErrSold) {
		t.Fatalf("err = %v, want ErrSold", err)
	}
	// The permanent record has no deadline to lapse.
	*clock = clock.Add(48 * time.Hour)
	if _, err := e.SelectPrize(ctx, claims, prize, 15*time.Minute); !errors.Is(err, ErrSold) {
		t.Fatalf("after two days: err = %v, want ErrSold", err)
	}
}

func TestReleaseHoldIsIdempotent(t *testing.T) {
	store := newMemStore(reservedTicket(1, "T-1", "a@x.com"))
	e, _ := newTestEngine(store)
	ctx := context.Background()
	claims := &utils.Claims{TicketID: 1, Email: "a@x.com"}

	if _, err := e.SelectPrize(ctx, claims, "prize-1", 15*time.Minute); err != nil {
		t.Fatalf("select: %v", err)
	}
	rel, err := e.ReleaseHold(ctx, claims, "prize-1")
	if err != nil || !rel.Released {
		t.Fatalf("first release: %v released=%v", err, rel.Released)
	}
	rel, err = e.ReleaseHold(ctx, claims, "prize-1")
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if rel.Released {
		t.Fatalf("second release should be a no-op")
	}
	// Releasing a prize that was never held also succeeds.
	if _, err := e.ReleaseHold(ctx, claims, "prize-9"); err != nil {
		t.Fatalf("release unheld prize: %v", err)
	}
}

func TestLogoutClearsBindingNotHistory(t *testing.T) {
	prize := "prize-1"
	soldAt := testBase.Add(-time.Hour)
	ref := "ord-1"
	redeemed := reservedTicket(1, "T-1", "a@x.com")
	redeemed.RedeemedAt = &soldAt
	redeemedOrderRef := ref
	redeemed.RedeemedOrderRef = &redeemedOrderRef
	redeemed.HeldPrizeID = &prize

	store := newMemStore(redeemed, reservedTicket(2, "T-2", "b@x.com"))
	e, _ := newTestEngine(store)
	ctx := context.Background()

	if err := e.Logout(ctx, &utils.Claims{TicketID: 1, Email: "a@x.com"}); err != nil {
		t.Fatalf("logout redeemed: %v", err)
	}
	got := store.ticket(t, 1)
	if got.BoundEmail != nil || got.EmailBoundUntil != nil {
		t.Fatalf("binding not cleared: %+v", got)
	}
	if got.RedeemedAt == nil || got.RedeemedOrderRef == nil || got.HeldPrizeID == nil {
		t.Fatalf("logout must not touch the redemption record: %+v", got)
	}
	if got.Status != model.StatusReserved {
		t.Fatalf("redeemed ticket status = %q", got.Status)
	}

	// An unredeemed ticket resets fully and its code can be redeemed again
	// with a different address.
	if _, err := e.SelectPrize(ctx, &utils.Claims{TicketID: 2, Email: "b@x.com"}, "prize-2", 15*time.Minute); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := e.Logout(ctx, &utils.Claims{TicketID: 2, Email: "b@x.com"}); err != nil {
		t.Fatalf("logout reserved: %v", err)
	}
	got = store.ticket(t, 2)
	if got.Status != model.StatusUnused || got.HeldPrizeID != nil || got.VerificationNonce != nil {
		t.Fatalf("reserved ticket not reset: %+v", got)
	}
	if _, err := e.RedeemCode(ctx, "T-2", "c@z.com"); err != nil {
		t.Fatalf("re-redeem after logout: %v", err)
	}
}

func TestSessionRefreshesSnapshot(t *testing.T) {
	store := newMemStore(reservedTicket(1, "T-1", "a@x.com"))
	e, clock := newTestEngine(store)
	ctx := context.Background()
	claims := &utils.Claims{TicketID: 1, Email: "a@x.com"}

	if _, err := e.SelectPrize(ctx, claims, "prize-1", 15*time.Minute); err != nil {
		t.Fatalf("select: %v", err)
	}
	res, err := e.Session(ctx, claims)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if res.Token.Profile != utils.ProfileSession {
		t.Fatalf("profile = %q", res.Token.Profile)
	}
	if res.HeldPrizeID != "prize-1" || res.HoldExpiresAt == nil || res.Redeemed {
		t.Fatalf("snapshot = %+v", res)
	}

	if _, err := e.Session(ctx, &utils.Claims{TicketID: 1, Email: "other@x.com"}); !errors.Is(err, ErrEmailMismatch) {
		t.Fatalf("mismatched email: err = %v, want ErrEmailMismatch", err)
	}

	// Past the binding window the session is gone even with a valid token.
	*clock = clock.Add(5 * time.Hour)
	if _, err := e.Session(ctx, claims); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("lapsed window: err = %v, want ErrInvalidCredential", err)
	}
}

func TestFinalizeIsWriteOnce(t *testing.T) {
	store := newMemStore(
		reservedTicket(1, "T-1", "a@x.com"),
		reservedTicket(2, "T-2", "b@x.com"),
	)
	e, _ := newTestEngine(store)
	ctx := context.Background()
	claims := &utils.Claims{TicketID: 1, Email: "a@x.com"}

	if _, err := e.SelectPrize(ctx, claims, "prize-1", 15*time.Minute); err != nil {
		t.Fatalf("select: %v", err)
	}

	ok, err := e.IsEligibleToFinalize(ctx, 1, "prize-1")
	if err != nil || !ok {
		t.Fatalf("eligibility = %v, %v; want true", ok, err)
	}
	ok, err = e.IsEligibleToFinalize(ctx, 1, "prize-9")
	if err != nil || ok {
		t.Fatalf("eligibility for wrong prize = %v, %v; want false", ok, err)
	}
	ok, err = e.IsEligibleToFinalize(ctx, 99, "prize-1")
	if err != nil || ok {
		t.Fatalf("eligibility for unknown ticket = %v, %v; want false, nil", ok, err)
	}

	got, err := e.Finalize(ctx, 1, "prize-1", "ord-42")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got.RedeemedAt == nil || !got.RedeemedAt.Equal(testBase) {
		t.Fatalf("redeemed_at = %v", got.RedeemedAt)
	}
	if got.RedeemedOrderRef == nil || *got.RedeemedOrderRef != "ord-42" {
		t.Fatalf("order ref = %v", got.RedeemedOrderRef)
	}
	// The prize id stays as the permanent sold record, the deadline goes.
	if got.HeldPrizeID == nil || *got.HeldPrizeID != "prize-1" || got.HoldExpiresAt != nil {
		t.Fatalf("sold record = %+v", got)
	}

	if _, err := e.Finalize(ctx, 1, "prize-1", "ord-43"); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("second finalize: err = %v, want ErrAlreadyRedeemed", err)
	}
	committed := store.ticket(t, 1)
	if committed.RedeemedOrderRef == nil || *committed.RedeemedOrderRef != "ord-42" {
		t.Fatalf("second finalize must not overwrite the record: %+v", committed)
	}

	// Without a hold finalization is refused.
	if _, err := e.Finalize(ctx, 2, "prize-3", "ord-44"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("no hold: err = %v, want ErrNotEligible", err)
	}
}

func TestFinalizeRefusedAfterHoldExpiry(t *testing.T) {
	store := newMemStore(reservedTicket(1, "T-1", "a@x.com"))
	e, clock := newTestEngine(store)
	ctx := context.Background()

	if _, err := e.SelectPrize(ctx, &utils.Claims{TicketID: 1, Email: "a@x.com"}, "prize-1", 15*time.Minute); err != nil {
		t.Fatalf("select: %v", err)
	}
	*clock = clock.Add(time.Hour)

	if ok, _ := e.IsEligibleToFinalize(ctx, 1, "prize-1"); ok {
		t.Fatalf("lapsed hold should not be eligible")
	}
	if _, err := e.Finalize(ctx, 1, "prize-1", "ord-1"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}
}

func TestConcurrentSelectHasOneWinner(t *testing.T) {
	store := newMemStore(
		reservedTicket(1, "T-1", "a@x.com"),
		reservedTicket(2, "T-2", "b@x.com"),
	)
	e, _ := newTestEngine(store)
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, claims := range []*utils.Claims{
		{TicketID: 1, Email: "a@x.com"},
		{TicketID: 2, Email: "b@x.com"},
	} {
		wg.Add(1)
		go func(i int, c *utils.Claims) {
			defer wg.Done()
			_, errs[i] = e.SelectPrize(ctx, c, "prize-1", 15*time.Minute)
		}(i, claims)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrHeldElsewhere):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("wins=%d losses=%d, want exactly one of each", wins, losses)
	}
}
