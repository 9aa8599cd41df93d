package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationStatus enumerates lifecycle states for permit applications.
type ApplicationStatus string

const (
	ApplicationStatusInProgress     ApplicationStatus = "IN_PROGRESS"
	ApplicationStatusWaitingPayment ApplicationStatus = "WAITING_PAYMENT"
	ApplicationStatusWaitingReview  ApplicationStatus = "WAITING_REVIEW"
	ApplicationStatusInReview       ApplicationStatus = "IN_REVIEW"
	ApplicationStatusIssued         ApplicationStatus = "ISSUED"
	ApplicationStatusRejected       ApplicationStatus = "REJECTED"
	ApplicationStatusCancelled      ApplicationStatus = "CANCELLED"
	ApplicationStatusVoided         ApplicationStatus = "VOIDED"
	ApplicationStatusRevoked        ApplicationStatus = "REVOKED"
)

// AllApplicationStatuses lists every status in lifecycle order.
var AllApplicationStatuses = []ApplicationStatus{
	ApplicationStatusInProgress,
	ApplicationStatusWaitingPayment,
	ApplicationStatusWaitingReview,
	ApplicationStatusInReview,
	ApplicationStatusIssued,
	ApplicationStatusRejected,
	ApplicationStatusCancelled,
	ApplicationStatusVoided,
	ApplicationStatusRevoked,
}

// OpenApplicationStatuses are the editable, non-terminal statuses. At most one
// revision of a permit may hold one of these at a time.
var OpenApplicationStatuses = []ApplicationStatus{
	ApplicationStatusInProgress,
	ApplicationStatusWaitingPayment,
	ApplicationStatusWaitingReview,
	ApplicationStatusInReview,
}

// IsOpen reports whether the status is non-terminal.
func (s ApplicationStatus) IsOpen() bool {
	switch s {
	case ApplicationStatusInProgress, ApplicationStatusWaitingPayment,
		ApplicationStatusWaitingReview, ApplicationStatusInReview:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s ApplicationStatus) Valid() bool {
	for _, candidate := range AllApplicationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// PermitData is the editable payload of an application. Snapshot carries the
// commodity, vehicle and contact details supplied by collaborators; it is
// stored and returned as-is.
type PermitData struct {
	Duration   int             `json:"duration"`
	StartDate  time.Time       `json:"start_date"`
	ExpiryDate time.Time       `json:"expiry_date"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
}

// PermitApplication is one revision of a logical permit.
type PermitApplication struct {
	ID                 string
	ApplicationNumber  string
	PermitNumber       *string
	PermitID           string
	OriginalPermitID   *string
	PreviousRevisionID *string
	Revision           int
	CompanyID          string
	PermitType         PermitType
	Status             ApplicationStatus
	PermitData         PermitData
	FeeSummary         decimal.Decimal
	Superseded         bool
	ClaimedBy          *string
	ClaimedAt          *time.Time
	CreatedBy          string
	UpdatedBy          string
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	IssuedAt           *time.Time
}

// IsAmendment reports whether the application revises an earlier permit.
func (a *PermitApplication) IsAmendment() bool {
	return a.OriginalPermitID != nil
}

// Clone returns a deep copy safe for independent mutation.
func (a *PermitApplication) Clone() *PermitApplication {
	if a == nil {
		return nil
	}
	c := *a
	c.PermitNumber = cloneString(a.PermitNumber)
	c.OriginalPermitID = cloneString(a.OriginalPermitID)
	c.PreviousRevisionID = cloneString(a.PreviousRevisionID)
	c.ClaimedBy = cloneString(a.ClaimedBy)
	c.ClaimedAt = cloneTime(a.ClaimedAt)
	c.IssuedAt = cloneTime(a.IssuedAt)
	if a.PermitData.Snapshot != nil {
		c.PermitData.Snapshot = append(json.RawMessage(nil), a.PermitData.Snapshot...)
	}
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
