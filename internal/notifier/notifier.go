// Package notifier defines the boundary to the informational-email
// collaborator.  Actual email delivery lives outside this service; the
// consumer only needs something satisfying Notifier.
package notifier

import (
	"context"
	"log"
)

// Notifier delivers the post-redemption informational message for PREMIUM
// tickets.  Implementations must be safe for concurrent use.
type Notifier interface {
	SendInfo(ctx context.Context, email string) error
}

// LogNotifier is the in-process stand-in used until the real mail
// collaborator is wired: it records the send in the server log.
type LogNotifier struct{}

// SendInfo logs the outgoing notification.  It never fails.
func (LogNotifier) SendInfo(_ context.Context, email string) error {
	log.Printf("notifier: informational email queued for %s", email)
	return nil
}
