package engine

import (
	"testing"
	"time"

	"github.com/prizedraw/ticket-redemption/internal/model"
)

func TestResolve(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	prize := "prize-1"
	future := now.Add(10 * time.Minute)
	past := now.Add(-time.Minute)

	holder := func(id uint64, p string, until time.Time) model.Ticket {
		return model.Ticket{ID: id, Status: model.StatusReserved, HeldPrizeID: &p, HoldExpiresAt: &until}
	}
	soldBy := func(id uint64, p string) *model.Ticket {
		at := now.Add(-time.Hour)
		return &model.Ticket{ID: id, Status: model.StatusReserved, HeldPrizeID: &p, RedeemedAt: &at}
	}

	cases := []struct {
		name     string
		acting   uint64
		holders  []model.Ticket
		redeemed *model.Ticket
		want     Availability
	}{
		{"no holders, no record", 1, nil, nil, Free},
		{"own hold does not block", 1, []model.Ticket{holder(1, prize, future)}, nil, Free},
		{"other unexpired hold blocks", 1, []model.Ticket{holder(2, prize, future)}, nil, HeldByOther},
		{"other expired hold is no hold", 1, []model.Ticket{holder(2, prize, past)}, nil, Free},
		{"hold on another prize ignored", 1, []model.Ticket{holder(2, "prize-9", future)}, nil, Free},
		{"sold wins over free", 1, nil, soldBy(3, prize), Sold},
		{"sold wins over other hold", 1, []model.Ticket{holder(2, prize, future)}, soldBy(3, prize), Sold},
		{"sold by acting ticket still sold", 1, nil, soldBy(1, prize), Sold},
		{"record without redeemed_at ignored", 1, nil, &model.Ticket{ID: 3, HeldPrizeID: &prize}, Free},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(tc.acting, prize, now, tc.holders, tc.redeemed)
			if got != tc.want {
				t.Fatalf("Resolve = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAvailabilityString(t *testing.T) {
	if Free.String() != "FREE" || HeldByOther.String() != "HELD_BY_OTHER" || Sold.String() != "SOLD" {
		t.Fatalf("unexpected names: %v %v %v", Free, HeldByOther, Sold)
	}
	if Availability(99).String() != "UNKNOWN" {
		t.Fatalf("out-of-range value should stringify as UNKNOWN")
	}
}
