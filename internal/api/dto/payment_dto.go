package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/permit-service/internal/domain"
)

// PaymentItemRequest is one cart line. Amount is optional.
type PaymentItemRequest struct {
	ApplicationID string           `json:"application_id"`
	Amount        *decimal.Decimal `json:"amount"`
}

// StartPaymentRequest payload for POST /payments.
type StartPaymentRequest struct {
	Items         []PaymentItemRequest `json:"items"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	CardType      *string              `json:"card_type"`
	ReturnURL     string               `json:"return_url"`
}

// IssuePermitsRequest payload for POST /permits/issue.
type IssuePermitsRequest struct {
	ApplicationIDs []string `json:"application_ids"`
}

// TransactionResponse is the wire form of a transaction.
type TransactionResponse struct {
	ID               string                          `json:"id"`
	Type             domain.TransactionType          `json:"type"`
	Amount           decimal.Decimal                 `json:"amount"`
	PaymentMethod    domain.PaymentMethod            `json:"payment_method"`
	PaymentCardType  *string                         `json:"payment_card_type"`
	GatewayReference *string                         `json:"gateway_reference"`
	Approved         *bool                           `json:"approved"`
	Applications     []domain.TransactionApplication `json:"applications"`
	CreatedAt        time.Time                       `json:"created_at"`
	ResolvedAt       *time.Time                      `json:"resolved_at"`
}

// StartPaymentResponse answers POST /payments.
type StartPaymentResponse struct {
	Transaction TransactionResponse        `json:"transaction"`
	RedirectURL string                     `json:"redirect_url,omitempty"`
	Outcome     *domain.TransactionOutcome `json:"outcome,omitempty"`
}

// NewTransactionResponse maps a domain transaction. A nil input maps to nil.
func NewTransactionResponse(txn *domain.Transaction) *TransactionResponse {
	if txn == nil {
		return nil
	}
	return &TransactionResponse{
		ID:               txn.ID,
		Type:             txn.Type,
		Amount:           txn.Amount,
		PaymentMethod:    txn.PaymentMethod,
		PaymentCardType:  txn.PaymentCardType,
		GatewayReference: txn.GatewayReference,
		Approved:         txn.Approved,
		Applications:     txn.Applications,
		CreatedAt:        txn.CreatedAt,
		ResolvedAt:       txn.ResolvedAt,
	}
}
