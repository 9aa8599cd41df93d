// Package lifecycle holds the permit application transition table. Every
// status change in the service layer is validated here first.
package lifecycle

import (
	"github.com/spec-kit/permit-service/internal/domain"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

// Event names a lifecycle trigger.
type Event string

const (
	EventSave             Event = "save"
	EventSubmitForPayment Event = "submit_for_payment"
	EventPaymentApproved  Event = "payment_approved"
	EventPaymentDeclined  Event = "payment_declined"
	EventClaim            Event = "claim"
	EventApprove          Event = "approve"
	EventReject           Event = "reject"
	EventUnclaim          Event = "unclaim"
	EventAmend            Event = "amend"
	EventVoid             Event = "void"
	EventRevoke           Event = "revoke"
	EventCancel           Event = "cancel"
)

// Options carries facts the table needs for branching transitions.
type Options struct {
	RequiresReview bool
}

type edge struct {
	from  domain.ApplicationStatus
	event Event
}

// Amend leaves the issued revision as ISSUED; the new revision starts
// IN_PROGRESS. Payment approval is resolved in Next because its target
// depends on the permit type.
var transitions = map[edge]domain.ApplicationStatus{
	{domain.ApplicationStatusInProgress, EventSave}:                 domain.ApplicationStatusInProgress,
	{domain.ApplicationStatusInProgress, EventSubmitForPayment}:     domain.ApplicationStatusWaitingPayment,
	{domain.ApplicationStatusWaitingPayment, EventSubmitForPayment}: domain.ApplicationStatusWaitingPayment,
	{domain.ApplicationStatusWaitingPayment, EventPaymentDeclined}:  domain.ApplicationStatusWaitingPayment,
	{domain.ApplicationStatusWaitingReview, EventClaim}:             domain.ApplicationStatusInReview,
	{domain.ApplicationStatusInReview, EventApprove}:                domain.ApplicationStatusIssued,
	{domain.ApplicationStatusInReview, EventReject}:                 domain.ApplicationStatusRejected,
	{domain.ApplicationStatusInReview, EventUnclaim}:                domain.ApplicationStatusWaitingReview,
	{domain.ApplicationStatusIssued, EventAmend}:                    domain.ApplicationStatusIssued,
	{domain.ApplicationStatusIssued, EventVoid}:                     domain.ApplicationStatusVoided,
	{domain.ApplicationStatusIssued, EventRevoke}:                   domain.ApplicationStatusRevoked,
}

// Next returns the status reached by applying event to from, or a conflict
// error when the table has no such edge.
func Next(from domain.ApplicationStatus, event Event, opts Options) (domain.ApplicationStatus, error) {
	switch event {
	case EventPaymentApproved:
		if from != domain.ApplicationStatusWaitingPayment {
			return "", invalid(from, event)
		}
		if opts.RequiresReview {
			return domain.ApplicationStatusWaitingReview, nil
		}
		return domain.ApplicationStatusIssued, nil
	case EventCancel:
		if !from.IsOpen() {
			return "", invalid(from, event)
		}
		return domain.ApplicationStatusCancelled, nil
	case EventSave, EventSubmitForPayment, EventPaymentDeclined, EventClaim,
		EventApprove, EventReject, EventUnclaim, EventAmend, EventVoid, EventRevoke:
		to, ok := transitions[edge{from: from, event: event}]
		if !ok {
			return "", invalid(from, event)
		}
		return to, nil
	default:
		return "", apperrors.NewValidationError("unknown lifecycle event", map[string]any{"event": event})
	}
}

// Can reports whether event is permitted from status.
func Can(from domain.ApplicationStatus, event Event) bool {
	_, err := Next(from, event, Options{})
	return err == nil
}

// userEvents are the triggers a caller can request directly. Payment
// outcomes arrive from the gateway and are left out.
var userEvents = []Event{
	EventSave, EventSubmitForPayment, EventCancel,
	EventClaim, EventUnclaim, EventApprove, EventReject,
	EventAmend, EventVoid, EventRevoke,
}

// Available lists the caller-requested events permitted from status.
func Available(status domain.ApplicationStatus) []Event {
	out := []Event{}
	for _, event := range userEvents {
		if Can(status, event) {
			out = append(out, event)
		}
	}
	return out
}

func invalid(from domain.ApplicationStatus, event Event) error {
	return apperrors.NewConflict("transition not allowed from current status", map[string]any{
		"status": from,
		"event":  event,
	})
}
