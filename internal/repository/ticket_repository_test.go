package repository

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"

	"github.com/prizedraw/ticket-redemption/internal/model"
)

func TestBuildBulkUpsertDefaultsAndArgs(t *testing.T) {
	query, args := buildBulkUpsert([]ImportRow{
		{Code: "AAA-1"},
		{Code: "BBB-2", Kind: model.KindPremium, Status: model.StatusDisabled},
	})

	if got := strings.Count(query, "(?, ?, ?)"); got != 2 {
		t.Fatalf("value tuples = %d, want 2", got)
	}
	want := []interface{}{
		"AAA-1", model.KindStandard, model.StatusPendingActivation,
		"BBB-2", model.KindPremium, model.StatusDisabled,
	}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestBuildBulkUpsertNeverResetsLiveRows(t *testing.T) {
	query, _ := buildBulkUpsert([]ImportRow{{Code: "AAA-1"}})

	// Status on duplicate is conditional: only rows still in an entry state
	// take the imported value.  A RESERVED ticket re-imported without a
	// status must not fall back to PENDING_ACTIVATION and become redeemable
	// again while its bound email and hold survive.
	guard := "status = IF(status IN ('" + model.StatusUnused + "','" + model.StatusPendingActivation + "'), VALUES(status), status)"
	if !strings.Contains(query, guard) {
		t.Fatalf("status guard missing from upsert:\n%s", query)
	}
	if !strings.Contains(query, "kind = VALUES(kind)") {
		t.Fatalf("kind refresh missing from upsert:\n%s", query)
	}
	if strings.Contains(query, "'"+model.StatusReserved+"'") {
		t.Fatalf("RESERVED must not be importable over:\n%s", query)
	}
}

func TestRetryableTxError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"version conflict", ErrVersionConflict, true},
		{"wrapped version conflict", fmt.Errorf("save: %w", ErrVersionConflict), true},
		{"deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"lock wait timeout", &mysql.MySQLError{Number: 1205}, true},
		{"wrapped deadlock", fmt.Errorf("commit: %w", &mysql.MySQLError{Number: 1213}), true},
		{"duplicate key", &mysql.MySQLError{Number: 1062}, false},
		{"not found", ErrTicketNotFound, false},
		{"business error", errors.New("prize is held by another ticket"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := retryableTxError(tc.err); got != tc.want {
				t.Fatalf("retryableTxError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
