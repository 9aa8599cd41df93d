package domain

import "time"

// ApplicationHistory is an immutable audit trail entry for a status change.
type ApplicationHistory struct {
	ID            string
	ApplicationID string
	ChangedByType SubjectType
	ChangedByID   string
	OldStatus     *ApplicationStatus
	NewStatus     ApplicationStatus
	Comment       string
	CreatedAt     time.Time
}
