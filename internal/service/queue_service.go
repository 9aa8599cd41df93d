package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/permit-service/internal/domain"
	"github.com/spec-kit/permit-service/internal/events"
	"github.com/spec-kit/permit-service/internal/lifecycle"
	"github.com/spec-kit/permit-service/internal/repository"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

// QueueService coordinates staff review of paid applications.
type QueueService struct {
	applications repository.ApplicationRepository
	activities   repository.QueueActivityRepository
	recorder     *recorder
	issuer       *issuer
	logger       *zap.Logger
	now          func() time.Time
}

// QueueDependencies bundles collaborators for the queue service.
type QueueDependencies struct {
	ApplicationRepo   repository.ApplicationRepository
	QueueActivityRepo repository.QueueActivityRepository
	HistoryRepo       repository.ApplicationHistoryRepository
	Dispatcher        events.Dispatcher
	Logger            *zap.Logger
	Now               func() time.Time
}

// QueueFilter describes queue listing filters. Empty Statuses lists both
// WAITING_REVIEW and IN_REVIEW.
type QueueFilter struct {
	Statuses  []domain.ApplicationStatus
	ClaimedBy *string
	CompanyID *string
	Limit     int
	Offset    int
}

// NewQueueService constructs the service.
func NewQueueService(deps QueueDependencies) *QueueService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = utcNow
	}
	rec := &recorder{
		history:    deps.HistoryRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		now:        now,
	}
	return &QueueService{
		applications: deps.ApplicationRepo,
		activities:   deps.QueueActivityRepo,
		recorder:     rec,
		issuer: &issuer{
			applications: deps.ApplicationRepo,
			recorder:     rec,
			logger:       logger,
			now:          now,
		},
		logger: logger,
		now:    now,
	}
}

// ListQueue lists applications awaiting or under review.
func (s *QueueService) ListQueue(ctx context.Context, actor domain.Actor, filter QueueFilter) ([]*domain.PermitApplication, error) {
	if err := ensureStaff(actor); err != nil {
		return nil, err
	}
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []domain.ApplicationStatus{domain.ApplicationStatusWaitingReview, domain.ApplicationStatusInReview}
	}
	for _, status := range statuses {
		if status != domain.ApplicationStatusWaitingReview && status != domain.ApplicationStatusInReview {
			return nil, apperrors.NewValidationError("queue status must be WAITING_REVIEW or IN_REVIEW", map[string]any{"status": status})
		}
	}
	apps, err := s.applications.ListWithFilter(ctx, repository.ApplicationFilter{
		CompanyID: filter.CompanyID,
		ClaimedBy: filter.ClaimedBy,
		Statuses:  statuses,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
	if err != nil {
		return nil, repoError(err, "application", nil)
	}
	return apps, nil
}

// Claim takes exclusive ownership of a WAITING_REVIEW application. Claiming
// an application the actor already holds is a no-op.
func (s *QueueService) Claim(ctx context.Context, actor domain.Actor, applicationID string) (*domain.PermitApplication, error) {
	if err := ensureStaff(actor); err != nil {
		return nil, err
	}
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status == domain.ApplicationStatusInReview && app.ClaimedBy != nil && *app.ClaimedBy == actor.ID {
		return app, nil
	}
	if _, err := lifecycle.Next(app.Status, lifecycle.EventClaim, lifecycle.Options{}); err != nil {
		return nil, s.claimConflict(app, err)
	}

	claimed, err := s.applications.Claim(ctx, applicationID, actor.ID, s.now())
	if err != nil {
		return nil, repoError(err, "application", map[string]any{"application_id": applicationID})
	}
	old := app.Status
	s.recorder.statusChanged(ctx, actor, claimed, &old, "claimed")
	s.recordActivity(ctx, actor, claimed.ID, domain.QueueActivityClaimed, nil)
	return claimed, nil
}

// Unclaim returns an application to WAITING_REVIEW. Only the claimant may unclaim.
func (s *QueueService) Unclaim(ctx context.Context, actor domain.Actor, applicationID string) (*domain.PermitApplication, error) {
	if err := ensureStaff(actor); err != nil {
		return nil, err
	}
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	next, err := lifecycle.Next(app.Status, lifecycle.EventUnclaim, lifecycle.Options{})
	if err != nil {
		return nil, err
	}
	if app.ClaimedBy == nil || *app.ClaimedBy != actor.ID {
		return nil, s.notClaimant(app)
	}

	old := app.Status
	app.Status = next
	app.ClaimedBy = nil
	app.ClaimedAt = nil
	app.UpdatedBy = actor.ID
	if err := s.applications.Update(ctx, app); err != nil {
		return nil, repoError(err, "application", map[string]any{"application_id": app.ID})
	}
	s.recorder.statusChanged(ctx, actor, app, &old, "unclaimed")
	s.recordActivity(ctx, actor, app.ID, domain.QueueActivityUnclaimed, nil)
	return app, nil
}

// Approve issues a claimed application.
func (s *QueueService) Approve(ctx context.Context, actor domain.Actor, applicationID, comment string) (*domain.PermitApplication, error) {
	if err := ensureStaff(actor); err != nil {
		return nil, err
	}
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if _, err := lifecycle.Next(app.Status, lifecycle.EventApprove, lifecycle.Options{}); err != nil {
		return nil, err
	}
	if !s.mayDecide(actor, app) {
		return nil, s.notClaimant(app)
	}
	if err := s.issuer.issue(ctx, actor, app, "approved"); err != nil {
		return nil, err
	}
	s.recordActivity(ctx, actor, app.ID, domain.QueueActivityApproved, optionalComment(comment))
	return app, nil
}

// Reject refuses a claimed application. The comment is required.
func (s *QueueService) Reject(ctx context.Context, actor domain.Actor, applicationID, comment string) (*domain.PermitApplication, error) {
	if err := ensureStaff(actor); err != nil {
		return nil, err
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, apperrors.NewValidationError("a rejection comment is required", map[string]any{"application_id": applicationID})
	}
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	next, err := lifecycle.Next(app.Status, lifecycle.EventReject, lifecycle.Options{})
	if err != nil {
		return nil, err
	}
	if !s.mayDecide(actor, app) {
		return nil, s.notClaimant(app)
	}

	old := app.Status
	app.Status = next
	app.UpdatedBy = actor.ID
	if err := s.applications.Update(ctx, app); err != nil {
		return nil, repoError(err, "application", map[string]any{"application_id": app.ID})
	}
	s.recorder.statusChanged(ctx, actor, app, &old, comment)
	s.recordActivity(ctx, actor, app.ID, domain.QueueActivityRejected, &comment)
	return app, nil
}

// ListActivity returns the queue log of an application, oldest first.
func (s *QueueService) ListActivity(ctx context.Context, actor domain.Actor, applicationID string) ([]domain.QueueActivity, error) {
	if err := ensureStaff(actor); err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, applicationID); err != nil {
		return nil, err
	}
	entries, err := s.activities.ListByApplication(ctx, applicationID)
	if err != nil {
		return nil, repoError(err, "queue activity", nil)
	}
	return entries, nil
}

func (s *QueueService) load(ctx context.Context, applicationID string) (*domain.PermitApplication, error) {
	app, err := s.applications.GetByID(ctx, applicationID)
	if err != nil {
		return nil, repoError(err, "application", map[string]any{"application_id": applicationID})
	}
	return app, nil
}

func (s *QueueService) mayDecide(actor domain.Actor, app *domain.PermitApplication) bool {
	if app.ClaimedBy != nil && *app.ClaimedBy == actor.ID {
		return true
	}
	return actor.IsElevated()
}

func (s *QueueService) notClaimant(app *domain.PermitApplication) error {
	details := map[string]any{"application_id": app.ID}
	if app.ClaimedBy != nil {
		details["claimed_by"] = *app.ClaimedBy
	}
	return apperrors.NewConflict("application is claimed by another staff member", details)
}

func (s *QueueService) claimConflict(app *domain.PermitApplication, err error) error {
	if app.Status == domain.ApplicationStatusInReview {
		return s.notClaimant(app)
	}
	return err
}

// recordActivity appends to the queue log. The log is append-only; a failed
// write is logged after the status change has committed.
func (s *QueueService) recordActivity(ctx context.Context, actor domain.Actor, applicationID string, activityType domain.QueueActivityType, comment *string) {
	activity := &domain.QueueActivity{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		Type:          activityType,
		ActorID:       actor.ID,
		Comment:       comment,
	}
	if err := s.activities.Create(ctx, activity); err != nil {
		s.logger.Error("record queue activity",
			zap.String("application_id", applicationID),
			zap.String("activity", string(activityType)),
			zap.Error(err))
		return
	}
	s.recorder.publish(ctx, events.Event{
		Type:      events.EventQueueActivityRecorded,
		SubjectID: applicationID,
		Actor:     events.ActorFrom(actor),
		Payload: events.QueueActivityRecordedPayload{
			ActivityID: activity.ID,
			Activity:   activityType,
			Comment:    comment,
		},
	})
}

func optionalComment(comment string) *string {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil
	}
	return &comment
}
