package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type recordingNotifier struct {
	emails []string
	err    error
}

func (n *recordingNotifier) SendInfo(_ context.Context, email string) error {
	n.emails = append(n.emails, email)
	return n.err
}

func TestHandleMessage(t *testing.T) {
	ev := PremiumRedeemedEvent{
		TicketID:   7,
		Email:      "a@x.com",
		PrizeID:    "prize-1",
		OrderRef:   "ord-1",
		RedeemedAt: "2026-03-14T12:00:00Z",
	}
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	n := &recordingNotifier{}
	if err := handleMessage(body, n); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(n.emails) != 1 || n.emails[0] != "a@x.com" {
		t.Fatalf("notified %v", n.emails)
	}
}

func TestHandleMessageRejectsBadEvents(t *testing.T) {
	n := &recordingNotifier{}
	if err := handleMessage([]byte("not json"), n); err == nil {
		t.Fatalf("malformed body should fail")
	}
	if err := handleMessage([]byte(`{"ticket_id":7}`), n); err == nil {
		t.Fatalf("missing email should fail")
	}
	if len(n.emails) != 0 {
		t.Fatalf("no notification expected, got %v", n.emails)
	}
}

func TestHandleMessagePropagatesNotifierFailure(t *testing.T) {
	n := &recordingNotifier{err: errors.New("smtp down")}
	body, _ := json.Marshal(PremiumRedeemedEvent{TicketID: 7, Email: "a@x.com"})
	if err := handleMessage(body, n); err == nil {
		t.Fatalf("notifier failure should surface so the delivery is nacked")
	}
}
