// Package queue defines message payloads exchanged over the message broker.
package queue

// PremiumRedeemedEvent is published when a PREMIUM ticket is finalized.
// It carries enough information for the notification consumer to send the
// informational email without querying the primary database.
type PremiumRedeemedEvent struct {
	TicketID   uint64 `json:"ticket_id"`
	Email      string `json:"email"`
	PrizeID    string `json:"prize_id"`
	OrderRef   string `json:"order_ref"`
	RedeemedAt string `json:"redeemed_at"`
}

// premiumQueueName is the durable queue both publisher and consumer declare.
const premiumQueueName = "ticket.redeemed.premium"

// QueueName exposes the queue name to the publisher package.
func QueueName() string { return premiumQueueName }
