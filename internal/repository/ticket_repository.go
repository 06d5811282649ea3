package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/prizedraw/ticket-redemption/internal/engine"
	"github.com/prizedraw/ticket-redemption/internal/model"
)

// ticketColumns is the canonical select list for ticket rows.  Keep it in
// sync with scanTicket.
const ticketColumns = `id, code, kind, status, bound_email, email_bound_until,
	redeemed_at, redeemed_order_ref, held_prize_id, hold_expires_at,
	verification_nonce, version, created_at, updated_at`

// TicketRepo provides data access to the tickets table and implements the
// engine's Store interface.  All reads that feed a state transition happen
// inside a transaction with row locks (SELECT ... FOR UPDATE), so that the
// losing side of a race observes the winner's committed hold when it
// re-reads.  All timestamps are stored and compared in UTC.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a new TicketRepo bound to the provided database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// DB exposes the underlying handle for health checks.
func (r *TicketRepo) DB() *sql.DB { return r.db }

// updateRetries bounds how often a transaction is re-run after losing a
// race.  The first retry normally suffices: the re-run re-reads after the
// winner committed and the precondition checks turn the race into the
// proper business error (e.g. ErrHeldElsewhere).
const updateRetries = 3

// Update runs fn inside a single database transaction at REPEATABLE READ.
// When fn returns an error the transaction is rolled back and the error
// passes through unchanged so engine sentinels survive the boundary.
//
// Two racing transactions taking the first hold on a never-held prize have
// no existing row to lock: both gap-lock the held_prize_id index and the
// second write deadlocks (MySQL 1213).  InnoDB rolls one side back, so the
// loser is re-run here; its re-read then observes the winner's committed
// hold and fails with the correct sentinel instead of a fault.  The same
// applies to lock waits (1205) and optimistic version conflicts.
func (r *TicketRepo) Update(ctx context.Context, fn func(tx engine.Tx) error) error {
	var err error
	for attempt := 0; attempt < updateRetries; attempt++ {
		err = r.updateOnce(ctx, fn)
		if !retryableTxError(err) {
			return err
		}
	}
	return err
}

func (r *TicketRepo) updateOnce(ctx context.Context, fn func(tx engine.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&ticketTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// retryableTxError reports whether the whole transaction should be re-run.
// Deadlock (1213) and lock-wait timeout (1205) mean InnoDB aborted this
// side of a race; a version conflict means an optimistic write lost one.
// Business errors and genuine faults are never retried.
func retryableTxError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVersionConflict) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1213 || me.Number == 1205
	}
	return false
}

// ticketTx is the transactional view handed to the engine.
type ticketTx struct {
	tx *sql.Tx
}

// TicketByCode loads one ticket by redemption code, locking the row for the
// remainder of the transaction.
func (t *ticketTx) TicketByCode(ctx context.Context, code string) (*model.Ticket, error) {
	const q = `SELECT ` + ticketColumns + ` FROM tickets WHERE code = ? FOR UPDATE`
	return scanTicket(t.tx.QueryRowContext(ctx, q, code))
}

// TicketByID loads one ticket by id, locking the row.
func (t *ticketTx) TicketByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	const q = `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ? FOR UPDATE`
	return scanTicket(t.tx.QueryRowContext(ctx, q, id))
}

// HoldersOf returns every ticket whose unexpired hold targets the prize.
// The rows are locked so a racing selection for the same prize serializes
// behind this transaction.  held_prize_id is indexed; availability is
// always derived from ticket rows, there is no separate inventory table.
func (t *ticketTx) HoldersOf(ctx context.Context, prizeID string, asOf time.Time) ([]model.Ticket, error) {
	const q = `SELECT ` + ticketColumns + ` FROM tickets
		WHERE held_prize_id = ? AND hold_expires_at IS NOT NULL AND hold_expires_at > ?
		FOR UPDATE`
	rows, err := t.tx.QueryContext(ctx, q, prizeID, asOf.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var holders []model.Ticket
	for rows.Next() {
		tk, err := scanTicketRows(rows)
		if err != nil {
			return nil, err
		}
		holders = append(holders, *tk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return holders, nil
}

// RedeemedFor returns the ticket that permanently redeemed the prize, or
// nil.  A redeemed ticket keeps its held_prize_id as the historical sold
// record even after logout, which is what this query relies on.
func (t *ticketTx) RedeemedFor(ctx context.Context, prizeID string) (*model.Ticket, error) {
	const q = `SELECT ` + ticketColumns + ` FROM tickets
		WHERE held_prize_id = ? AND redeemed_at IS NOT NULL
		LIMIT 1 FOR UPDATE`
	tk, err := scanTicket(t.tx.QueryRowContext(ctx, q, prizeID))
	if err != nil {
		if err == ErrTicketNotFound {
			return nil, nil
		}
		return nil, err
	}
	return tk, nil
}

// ReleaseExpiredHolds clears lapsed holds in the same transaction as the
// availability check that follows.  Disabled tickets are left alone, and
// redeemed tickets are excluded because their prize record is permanent.
func (t *ticketTx) ReleaseExpiredHolds(ctx context.Context, asOf time.Time) (int64, error) {
	const q = `UPDATE tickets
		SET held_prize_id = NULL, hold_expires_at = NULL,
			version = version + 1, updated_at = UTC_TIMESTAMP()
		WHERE hold_expires_at IS NOT NULL AND hold_expires_at <= ?
			AND redeemed_at IS NULL AND status <> ?`
	res, err := t.tx.ExecContext(ctx, q, asOf.UTC(), model.StatusDisabled)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Save persists every mutable column of the ticket with an optimistic
// version check.  The code column is deliberately not written: it is
// immutable through the redemption flow.  On success the in-memory version
// is advanced to match the row.
func (t *ticketTx) Save(ctx context.Context, tk *model.Ticket) error {
	const q = `UPDATE tickets SET
			kind = ?, status = ?, bound_email = ?, email_bound_until = ?,
			redeemed_at = ?, redeemed_order_ref = ?, held_prize_id = ?,
			hold_expires_at = ?, verification_nonce = ?,
			version = version + 1, updated_at = UTC_TIMESTAMP()
		WHERE id = ? AND version = ?`
	res, err := t.tx.ExecContext(ctx, q,
		tk.Kind, tk.Status, tk.BoundEmail, nullTime(tk.EmailBoundUntil),
		nullTime(tk.RedeemedAt), tk.RedeemedOrderRef, tk.HeldPrizeID,
		nullTime(tk.HoldExpiresAt), tk.VerificationNonce,
		tk.ID, tk.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	tk.Version++
	return nil
}

// ImportRow is one row of a bulk ticket import.  CSV parsing happens in the
// admin tooling; by the time rows reach the store they are plain values.
type ImportRow struct {
	Code   string
	Kind   string
	Status string
}

// BulkUpsert inserts or updates tickets by code in a single statement.
// Imported rows only ever touch kind and status; reservation state and
// redemption history of existing rows are preserved.  Passing an empty
// slice has no effect and returns nil.
func (r *TicketRepo) BulkUpsert(ctx context.Context, rows []ImportRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	query, args := buildBulkUpsert(rows)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// buildBulkUpsert renders the multi-row upsert.  Blank kind defaults to
// STANDARD and blank status to PENDING_ACTIVATION.  The status column of an
// existing row is only refreshed while that row still sits in an entry
// state: a re-import must never knock a RESERVED ticket back to redeemable
// (its bound email and hold would survive the reset) or silently re-enable
// a DISABLED one.  Such rows can only move through the reservation engine.
func buildBulkUpsert(rows []ImportRow) (string, []interface{}) {
	query := `INSERT INTO tickets (code, kind, status) VALUES `
	args := make([]interface{}, 0, len(rows)*3)
	for i, row := range rows {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		kind := row.Kind
		if kind == "" {
			kind = model.KindStandard
		}
		status := row.Status
		if status == "" {
			status = model.StatusPendingActivation
		}
		args = append(args, row.Code, kind, status)
	}
	query += ` ON DUPLICATE KEY UPDATE
		kind = VALUES(kind),
		status = IF(status IN ('` + model.StatusUnused + `','` + model.StatusPendingActivation + `'), VALUES(status), status),
		updated_at = UTC_TIMESTAMP()`
	return query, args
}

// FindByID is a plain read used by non-mutating paths.
func (r *TicketRepo) FindByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	const q = `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`
	return scanTicket(r.db.QueryRowContext(ctx, q, id))
}

// FindByCode is a plain read used by non-mutating paths.
func (r *TicketRepo) FindByCode(ctx context.Context, code string) (*model.Ticket, error) {
	const q = `SELECT ` + ticketColumns + ` FROM tickets WHERE code = ?`
	return scanTicket(r.db.QueryRowContext(ctx, q, code))
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row *sql.Row) (*model.Ticket, error) {
	tk, err := scanInto(row)
	if err == sql.ErrNoRows {
		return nil, ErrTicketNotFound
	}
	return tk, err
}

func scanTicketRows(rows *sql.Rows) (*model.Ticket, error) {
	return scanInto(rows)
}

func scanInto(s rowScanner) (*model.Ticket, error) {
	var tk model.Ticket
	var boundEmail, orderRef, prizeID, nonce sql.NullString
	var boundUntil, redeemedAt, holdExpires sql.NullTime
	err := s.Scan(
		&tk.ID, &tk.Code, &tk.Kind, &tk.Status, &boundEmail, &boundUntil,
		&redeemedAt, &orderRef, &prizeID, &holdExpires,
		&nonce, &tk.Version, &tk.CreatedAt, &tk.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if boundEmail.Valid {
		v := boundEmail.String
		tk.BoundEmail = &v
	}
	if boundUntil.Valid {
		v := boundUntil.Time
		tk.EmailBoundUntil = &v
	}
	if redeemedAt.Valid {
		v := redeemedAt.Time
		tk.RedeemedAt = &v
	}
	if orderRef.Valid {
		v := orderRef.String
		tk.RedeemedOrderRef = &v
	}
	if prizeID.Valid {
		v := prizeID.String
		tk.HeldPrizeID = &v
	}
	if holdExpires.Valid {
		v := holdExpires.Time
		tk.HoldExpiresAt = &v
	}
	if nonce.Valid {
		v := nonce.String
		tk.VerificationNonce = &v
	}
	return &tk, nil
}

// nullTime converts an optional timestamp into a driver-friendly value in
// UTC.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
