package dto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/permit-service/internal/domain"
	"github.com/spec-kit/permit-service/internal/lifecycle"
)

// ApplicationRequest is the payload for creating, updating or amending an
// application. StartDate accepts YYYY-MM-DD or RFC3339.
type ApplicationRequest struct {
	CompanyID  string            `json:"company_id"`
	PermitType domain.PermitType `json:"permit_type"`
	Duration   int               `json:"duration"`
	StartDate  string            `json:"start_date"`
	Snapshot   json.RawMessage   `json:"snapshot"`
}

// ReasonRequest carries a mandatory or optional free-text reason.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ApplicationResponse is the wire form of one revision.
type ApplicationResponse struct {
	ID                 string                   `json:"id"`
	ApplicationNumber  string                   `json:"application_number"`
	PermitNumber       *string                  `json:"permit_number"`
	PermitID           string                   `json:"permit_id"`
	OriginalPermitID   *string                  `json:"original_permit_id"`
	PreviousRevisionID *string                  `json:"previous_revision_id"`
	Revision           int                      `json:"revision"`
	CompanyID          string                   `json:"company_id"`
	PermitType         domain.PermitType        `json:"permit_type"`
	Status             domain.ApplicationStatus `json:"status"`
	PermitData         domain.PermitData        `json:"permit_data"`
	FeeSummary         decimal.Decimal          `json:"fee_summary"`
	Superseded         bool                     `json:"superseded"`
	ClaimedBy          *string                  `json:"claimed_by"`
	ClaimedAt          *time.Time               `json:"claimed_at"`
	Version            int                      `json:"version"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
	IssuedAt           *time.Time               `json:"issued_at"`
	Actions            []lifecycle.Event        `json:"actions"`
}

// CurrentRevisionResponse reports the authoritative revision of a permit.
type CurrentRevisionResponse struct {
	Current  ApplicationResponse `json:"current"`
	Editable bool                `json:"editable"`
}

// PermitHistoryResponse is one payment history line of a permit.
type PermitHistoryResponse struct {
	TransactionID    string                 `json:"transaction_id"`
	ApplicationID    string                 `json:"application_id"`
	Type             domain.TransactionType `json:"type"`
	Amount           decimal.Decimal        `json:"amount"`
	PaymentMethod    domain.PaymentMethod   `json:"payment_method"`
	PaymentCardType  *string                `json:"payment_card_type"`
	GatewayReference *string                `json:"gateway_reference"`
	Approved         *bool                  `json:"approved"`
	CreatedAt        time.Time              `json:"created_at"`
}

// VoidResponse reports a void and its refund.
type VoidResponse struct {
	Application  ApplicationResponse  `json:"application"`
	RefundAmount decimal.Decimal      `json:"refund_amount"`
	Transaction  *TransactionResponse `json:"transaction"`
}

// RevokeResponse reports a revocation.
type RevokeResponse struct {
	Application ApplicationResponse  `json:"application"`
	Transaction *TransactionResponse `json:"transaction"`
}

// FeeQuoteResponse answers GET /fees/quote.
type FeeQuoteResponse struct {
	PermitType domain.PermitType `json:"permit_type"`
	Duration   int               `json:"duration"`
	Fee        decimal.Decimal   `json:"fee"`
}

// NewApplicationResponse maps a domain application.
func NewApplicationResponse(app *domain.PermitApplication) ApplicationResponse {
	return ApplicationResponse{
		ID:                 app.ID,
		ApplicationNumber:  app.ApplicationNumber,
		PermitNumber:       app.PermitNumber,
		PermitID:           app.PermitID,
		OriginalPermitID:   app.OriginalPermitID,
		PreviousRevisionID: app.PreviousRevisionID,
		Revision:           app.Revision,
		CompanyID:          app.CompanyID,
		PermitType:         app.PermitType,
		Status:             app.Status,
		PermitData:         app.PermitData,
		FeeSummary:         app.FeeSummary,
		Superseded:         app.Superseded,
		ClaimedBy:          app.ClaimedBy,
		ClaimedAt:          app.ClaimedAt,
		Version:            app.Version,
		CreatedAt:          app.CreatedAt,
		UpdatedAt:          app.UpdatedAt,
		IssuedAt:           app.IssuedAt,
		Actions:            actions(app),
	}
}

// actions lists the lifecycle events the revision still accepts. A
// superseded revision accepts none.
func actions(app *domain.PermitApplication) []lifecycle.Event {
	if app.Superseded {
		return []lifecycle.Event{}
	}
	return lifecycle.Available(app.Status)
}

// NewApplicationList maps a slice of applications.
func NewApplicationList(apps []*domain.PermitApplication) []ApplicationResponse {
	out := make([]ApplicationResponse, 0, len(apps))
	for _, app := range apps {
		out = append(out, NewApplicationResponse(app))
	}
	return out
}

// NewPermitHistory maps permit history entries.
func NewPermitHistory(entries []domain.PermitHistoryEntry) []PermitHistoryResponse {
	out := make([]PermitHistoryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, PermitHistoryResponse{
			TransactionID:    e.TransactionID,
			ApplicationID:    e.ApplicationID,
			Type:             e.Type,
			Amount:           e.Amount,
			PaymentMethod:    e.PaymentMethod,
			PaymentCardType:  e.PaymentCardType,
			GatewayReference: e.GatewayReference,
			Approved:         e.Approved,
			CreatedAt:        e.CreatedAt,
		})
	}
	return out
}
