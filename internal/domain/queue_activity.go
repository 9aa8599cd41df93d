package domain

import "time"

// QueueActivityType captures a staff action on a queued application.
type QueueActivityType string

const (
	QueueActivityClaimed   QueueActivityType = "CLAIMED"
	QueueActivityUnclaimed QueueActivityType = "UNCLAIMED"
	QueueActivityApproved  QueueActivityType = "APPROVED"
	QueueActivityRejected  QueueActivityType = "REJECTED"
)

// QueueActivity is an append-only queue log entry.
type QueueActivity struct {
	ID            string
	ApplicationID string
	Type          QueueActivityType
	ActorID       string
	Comment       *string
	CreatedAt     time.Time
}
