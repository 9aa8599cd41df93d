package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/permit-service/internal/domain"
	"github.com/spec-kit/permit-service/internal/events"
	"github.com/spec-kit/permit-service/internal/repository"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

// NoFeeDirectory answers whether a company holds a no-fee designation.
type NoFeeDirectory interface {
	IsNoFee(ctx context.Context, companyID string) (bool, error)
}

// StaticNoFeeDirectory is a fixed set of exempt company ids.
type StaticNoFeeDirectory map[string]bool

// NewStaticNoFeeDirectory builds a directory from a list of company ids.
func NewStaticNoFeeDirectory(companyIDs []string) StaticNoFeeDirectory {
	dir := make(StaticNoFeeDirectory, len(companyIDs))
	for _, id := range companyIDs {
		if id = strings.TrimSpace(id); id != "" {
			dir[id] = true
		}
	}
	return dir
}

// IsNoFee implements NoFeeDirectory.
func (d StaticNoFeeDirectory) IsNoFee(_ context.Context, companyID string) (bool, error) {
	return d[companyID], nil
}

// repoError converts repository sentinels into domain errors.
func repoError(err error, resource string, details map[string]any) error {
	if err == nil {
		return nil
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound(resource, details)
	case errors.Is(err, repository.ErrStaleWrite):
		return apperrors.NewConflict(resource+" was modified by another request", details)
	case errors.Is(err, repository.ErrOpenRevisionExists):
		return apperrors.NewConflict("an open revision already exists for this permit", details)
	case errors.Is(err, repository.ErrAlreadyClaimed):
		return apperrors.NewConflict("application is already claimed", details)
	case errors.Is(err, repository.ErrAlreadyResolved):
		return apperrors.NewConflict("transaction is already resolved", details)
	default:
		return apperrors.NewInternalError(err)
	}
}

func ensureCompanyAccess(actor domain.Actor, app *domain.PermitApplication) error {
	if actor.CanActForCompany(app.CompanyID) {
		return nil
	}
	return apperrors.NewForbidden("actor cannot access this company's permits")
}

func ensureStaff(actor domain.Actor) error {
	if actor.IsStaff() {
		return nil
	}
	return apperrors.NewForbidden("staff role required")
}

func ensureElevated(actor domain.Actor) error {
	if actor.IsStaff() && actor.IsElevated() {
		return nil
	}
	return apperrors.NewForbidden("elevated role required")
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// startOfDay truncates t to midnight UTC.
func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func expiryDate(start time.Time, duration int) time.Time {
	return startOfDay(start).AddDate(0, 0, duration-1)
}

func shortID(id string) string {
	hex := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(hex) > 8 {
		hex = hex[:8]
	}
	return hex
}

func generateApplicationNumber(app *domain.PermitApplication) string {
	return fmt.Sprintf("A%s-%s-%03d", app.PermitType, shortID(app.PermitID), app.Revision)
}

func generatePermitNumber(app *domain.PermitApplication) string {
	return fmt.Sprintf("P%s-%s-%03d", app.PermitType, shortID(app.PermitID), app.Revision)
}

// recorder appends application history rows and publishes the matching
// events. History is written after the status change committed, so failures
// are logged rather than returned.
type recorder struct {
	history    repository.ApplicationHistoryRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func (r *recorder) statusChanged(ctx context.Context, actor domain.Actor, app *domain.PermitApplication, old *domain.ApplicationStatus, comment string) {
	if r.history != nil {
		entry := &domain.ApplicationHistory{
			ID:            uuid.NewString(),
			ApplicationID: app.ID,
			ChangedByType: actor.Type,
			ChangedByID:   actor.ID,
			OldStatus:     old,
			NewStatus:     app.Status,
			Comment:       comment,
		}
		if err := r.history.Create(ctx, entry); err != nil {
			r.logger.Error("record application history",
				zap.String("application_id", app.ID),
				zap.String("status", string(app.Status)),
				zap.Error(err))
		}
	}
	payload := events.ApplicationStatusChangedPayload{
		PermitID:  app.PermitID,
		NewStatus: app.Status,
		Comment:   comment,
	}
	if old != nil {
		payload.OldStatus = *old
	}
	r.publish(ctx, events.Event{
		Type:      events.EventApplicationStatusChanged,
		SubjectID: app.ID,
		Actor:     events.ActorFrom(actor),
		Payload:   payload,
	})
}

func (r *recorder) publish(ctx context.Context, event events.Event) {
	if r.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if err := r.dispatcher.Publish(ctx, event); err != nil {
		r.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

// issuer performs the ISSUED transition bookkeeping shared by payment
// completion and queue approval.
type issuer struct {
	applications repository.ApplicationRepository
	recorder     *recorder
	logger       *zap.Logger
	now          func() time.Time
}

// issue persists app as ISSUED and supersedes the revision it amended.
// app.Status must already hold its pre-issue value.
func (i *issuer) issue(ctx context.Context, actor domain.Actor, app *domain.PermitApplication, comment string) error {
	old := app.Status
	now := i.now()
	number := generatePermitNumber(app)
	app.Status = domain.ApplicationStatusIssued
	app.PermitNumber = &number
	app.IssuedAt = &now
	app.UpdatedBy = actor.ID
	if err := i.applications.Update(ctx, app); err != nil {
		app.Status = old
		return repoError(err, "application", map[string]any{"application_id": app.ID})
	}
	i.recorder.statusChanged(ctx, actor, app, &old, comment)

	if app.PreviousRevisionID == nil {
		return nil
	}
	previous, err := i.applications.GetByID(ctx, *app.PreviousRevisionID)
	if err != nil {
		i.logger.Error("load superseded revision", zap.String("application_id", *app.PreviousRevisionID), zap.Error(err))
		return nil
	}
	if previous.Superseded {
		return nil
	}
	previous.Superseded = true
	previous.UpdatedBy = actor.ID
	if err := i.applications.Update(ctx, previous); err != nil {
		i.logger.Error("mark revision superseded", zap.String("application_id", previous.ID), zap.Error(err))
	}
	return nil
}
