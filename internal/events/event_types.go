package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/permit-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventApplicationStatusChanged EventType = "application_status_changed"
	EventTransactionCompleted     EventType = "transaction_completed"
	EventIntegrityViolation       EventType = "integrity_violation"
	EventQueueActivityRecorded    EventType = "queue_activity_recorded"
	EventPaymentNotApplied        EventType = "payment_not_applied"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type      domain.SubjectType `json:"type"`
	ID        string             `json:"id"`
	Role      domain.Role        `json:"role,omitempty"`
	CompanyID string             `json:"company_id,omitempty"`
}

// ActorFrom converts a domain actor.
func ActorFrom(a domain.Actor) Actor {
	return Actor{Type: a.Type, ID: a.ID, Role: a.Role, CompanyID: a.CompanyID}
}

// Event represents a domain event emitted by services. SubjectID is the
// application id, or the transaction id for payment events.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	SubjectID string      `json:"subject_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// ApplicationStatusChangedPayload payload.
type ApplicationStatusChangedPayload struct {
	PermitID  string                   `json:"permit_id"`
	OldStatus domain.ApplicationStatus `json:"old_status,omitempty"`
	NewStatus domain.ApplicationStatus `json:"new_status"`
	Comment   string                   `json:"comment,omitempty"`
}

// TransactionCompletedPayload payload.
type TransactionCompletedPayload struct {
	Type     domain.TransactionType `json:"type"`
	Amount   decimal.Decimal        `json:"amount"`
	Approved bool                   `json:"approved"`
	Success  []string               `json:"success"`
	Failure  []string               `json:"failure"`
}

// IntegrityViolationPayload payload.
type IntegrityViolationPayload struct {
	GatewayTransactionID string `json:"gateway_transaction_id"`
	ClaimedApproved      bool   `json:"claimed_approved"`
}

// PaymentNotAppliedPayload describes captured money that no application
// absorbed. Operators refund it by hand.
type PaymentNotAppliedPayload struct {
	ApplicationID        string                   `json:"application_id"`
	Amount               decimal.Decimal          `json:"amount"`
	GatewayTransactionID string                   `json:"gateway_transaction_id,omitempty"`
	Status               domain.ApplicationStatus `json:"status,omitempty"`
	Reason               string                   `json:"reason"`
}

// QueueActivityRecordedPayload payload.
type QueueActivityRecordedPayload struct {
	ActivityID string                   `json:"activity_id"`
	Activity   domain.QueueActivityType `json:"activity"`
	Comment    *string                  `json:"comment,omitempty"`
}
