// Package revision resolves the linked revisions of a logical permit.
package revision

import (
	"sort"

	"github.com/spec-kit/permit-service/internal/domain"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

// Chain is every revision sharing one permit id, oldest first.
type Chain struct {
	permitID  string
	revisions []*domain.PermitApplication
}

// Resolution is the authoritative revision of a permit.
type Resolution struct {
	Current *domain.PermitApplication
	// Editable is true when Current is an open (non-terminal) revision.
	Editable bool
}

// NewChain orders revisions by revision number. All rows must share permitID.
func NewChain(permitID string, revisions []*domain.PermitApplication) (*Chain, error) {
	if len(revisions) == 0 {
		return nil, apperrors.NewNotFound("permit", map[string]any{"permit_id": permitID})
	}
	ordered := make([]*domain.PermitApplication, 0, len(revisions))
	for _, rev := range revisions {
		if rev.PermitID != permitID {
			return nil, apperrors.NewInternalError(nil)
		}
		ordered = append(ordered, rev)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Revision != ordered[j].Revision {
			return ordered[i].Revision < ordered[j].Revision
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	return &Chain{permitID: permitID, revisions: ordered}, nil
}

// Revisions returns every revision, oldest first.
func (c *Chain) Revisions() []*domain.PermitApplication {
	return append([]*domain.PermitApplication(nil), c.revisions...)
}

// Root returns the first revision.
func (c *Chain) Root() *domain.PermitApplication {
	return c.revisions[0]
}

// Open returns the open revision, if any.
func (c *Chain) Open() *domain.PermitApplication {
	for i := len(c.revisions) - 1; i >= 0; i-- {
		if c.revisions[i].Status.IsOpen() {
			return c.revisions[i]
		}
	}
	return nil
}

// Resolve walks from the newest revision back, skipping cancelled and
// rejected ones, and returns the first authoritative record.
func (c *Chain) Resolve() (Resolution, error) {
	for i := len(c.revisions) - 1; i >= 0; i-- {
		rev := c.revisions[i]
		switch rev.Status {
		case domain.ApplicationStatusCancelled, domain.ApplicationStatusRejected:
			continue
		case domain.ApplicationStatusInProgress, domain.ApplicationStatusWaitingPayment,
			domain.ApplicationStatusWaitingReview, domain.ApplicationStatusInReview:
			return Resolution{Current: rev, Editable: true}, nil
		case domain.ApplicationStatusIssued, domain.ApplicationStatusVoided, domain.ApplicationStatusRevoked:
			return Resolution{Current: rev}, nil
		}
	}
	return Resolution{}, apperrors.NewNotFound("active revision", map[string]any{"permit_id": c.permitID})
}

// IssuedTarget returns the revision void, revoke and amend must act on. It
// fails with a conflict when an amendment is open or the permit is already
// voided or revoked.
func (c *Chain) IssuedTarget() (*domain.PermitApplication, error) {
	res, err := c.Resolve()
	if err != nil {
		return nil, err
	}
	current := res.Current
	if res.Editable {
		if current.IsAmendment() {
			return nil, apperrors.NewConflict("an amendment is already in progress for this permit", map[string]any{
				"permit_id":      c.permitID,
				"application_id": current.ID,
			})
		}
		return nil, apperrors.NewConflict("permit has not been issued", map[string]any{"permit_id": c.permitID})
	}
	if current.Status != domain.ApplicationStatusIssued {
		return nil, apperrors.NewConflict("permit is no longer active", map[string]any{
			"permit_id": c.permitID,
			"status":    current.Status,
		})
	}
	if current.Superseded {
		return nil, apperrors.NewConflict("revision has been superseded", map[string]any{"application_id": current.ID})
	}
	return current, nil
}

// NextRevision returns the revision number for a new amendment.
func (c *Chain) NextRevision() int {
	highest := 0
	for _, rev := range c.revisions {
		if rev.Revision > highest {
			highest = rev.Revision
		}
	}
	return highest + 1
}

// Amendment builds an unsaved IN_PROGRESS revision copying the issued
// revision's permit data as its editable baseline.
func (c *Chain) Amendment(issued *domain.PermitApplication, actorID string) *domain.PermitApplication {
	root := c.Root()
	rootID := root.ID
	previousID := issued.ID
	baseline := issued.Clone()
	return &domain.PermitApplication{
		PermitID:           c.permitID,
		OriginalPermitID:   &rootID,
		PreviousRevisionID: &previousID,
		Revision:           c.NextRevision(),
		CompanyID:          issued.CompanyID,
		PermitType:         issued.PermitType,
		Status:             domain.ApplicationStatusInProgress,
		PermitData:         baseline.PermitData,
		FeeSummary:         issued.FeeSummary,
		CreatedBy:          actorID,
		UpdatedBy:          actorID,
	}
}
