package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates settlement record kinds.
type TransactionType string

const (
	TransactionTypePurchase TransactionType = "PURCHASE"
	TransactionTypeRefund   TransactionType = "REFUND"
	TransactionTypeZero     TransactionType = "ZERO"
)

// PaymentMethod identifies how a transaction was settled.
type PaymentMethod string

const (
	PaymentMethodWeb       PaymentMethod = "WEB"
	PaymentMethodCash      PaymentMethod = "CASH"
	PaymentMethodCheque    PaymentMethod = "CHEQUE"
	PaymentMethodNoPayment PaymentMethod = "NO_PAYMENT"
)

// TransactionApplication is one application's share of a transaction.
type TransactionApplication struct {
	ApplicationID string          `json:"application_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// TransactionOutcome records what completing a transaction did to each
// referenced application.
type TransactionOutcome struct {
	TransactionID string             `json:"transaction_id"`
	Approved      bool               `json:"approved"`
	Success       []string           `json:"success"`
	Failure       []ApplicationError `json:"failure"`
}

// ApplicationError reports why one application in a batch was not advanced.
type ApplicationError struct {
	ApplicationID string `json:"application_id"`
	Code          string `json:"code"`
	Message       string `json:"message"`
}

// Transaction is a payment gateway settlement record. Approved is nil until
// the gateway responds and is never changed afterwards.
type Transaction struct {
	ID               string
	Type             TransactionType
	Amount           decimal.Decimal
	PaymentMethod    PaymentMethod
	PaymentCardType  *string
	GatewayReference *string
	Approved         *bool
	Applications     []TransactionApplication
	Outcome          *TransactionOutcome
	CreatedBy        string
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

// Resolved reports whether the gateway outcome has been recorded.
func (t *Transaction) Resolved() bool {
	return t != nil && t.Approved != nil
}

// ApplicationIDs returns the ids of every application settled by t.
func (t *Transaction) ApplicationIDs() []string {
	ids := make([]string, 0, len(t.Applications))
	for _, app := range t.Applications {
		ids = append(ids, app.ApplicationID)
	}
	return ids
}

// PermitHistoryEntry is one application's share of a transaction, as seen from
// the permit it belongs to.
type PermitHistoryEntry struct {
	TransactionID    string
	ApplicationID    string
	Type             TransactionType
	Amount           decimal.Decimal
	PaymentMethod    PaymentMethod
	PaymentCardType  *string
	GatewayReference *string
	Approved         *bool
	CreatedAt        time.Time
}

// ValidForRefund reports whether the entry counts toward a void refund.
// REFUND entries never count, including amendment refunds, so a void after
// a shortened amendment returns every approved payment in full.
func (e PermitHistoryEntry) ValidForRefund() bool {
	return e.Approved != nil && *e.Approved &&
		!e.Amount.IsZero() &&
		e.Type != TransactionTypeRefund
}
