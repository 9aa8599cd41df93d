package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spec-kit/permit-service/internal/domain"
	"github.com/spec-kit/permit-service/internal/events"
	"github.com/spec-kit/permit-service/internal/fee"
	"github.com/spec-kit/permit-service/internal/lifecycle"
	"github.com/spec-kit/permit-service/internal/repository"
	"github.com/spec-kit/permit-service/internal/revision"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

// ApplicationService owns the application lifecycle and revision chain.
type ApplicationService struct {
	applications repository.ApplicationRepository
	transactions repository.TransactionRepository
	calculator   *fee.Calculator
	noFee        NoFeeDirectory
	recorder     *recorder
	validate     *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// ApplicationDependencies bundles collaborators for the application service.
type ApplicationDependencies struct {
	ApplicationRepo repository.ApplicationRepository
	TransactionRepo repository.TransactionRepository
	HistoryRepo     repository.ApplicationHistoryRepository
	Calculator      *fee.Calculator
	NoFee           NoFeeDirectory
	Dispatcher      events.Dispatcher
	Logger          *zap.Logger
	Now             func() time.Time
}

// ApplicationDraft is the editable part of an application. CompanyID is
// taken from the actor for company users.
type ApplicationDraft struct {
	CompanyID  string            `validate:"omitempty,max=64"`
	PermitType domain.PermitType `validate:"required,permittype"`
	Duration   int               `validate:"required,gt=0"`
	StartDate  time.Time         `validate:"required"`
	Snapshot   json.RawMessage
}

// submission lists what must be present before payment.
type submission struct {
	PermitType domain.PermitType `validate:"required,permittype"`
	Duration   int               `validate:"required,gt=0"`
	StartDate  time.Time         `validate:"required"`
	Snapshot   json.RawMessage   `validate:"required,min=3"`
}

// ApplicationListFilter describes application listing filters.
type ApplicationListFilter struct {
	CompanyID *string
	Statuses  []domain.ApplicationStatus
	Limit     int
	Offset    int
}

// VoidResult reports a voided permit and its refund.
type VoidResult struct {
	Application  *domain.PermitApplication
	RefundAmount decimal.Decimal
	Transaction  *domain.Transaction
}

// RevokeResult reports a revoked permit and its zero-amount record.
type RevokeResult struct {
	Application *domain.PermitApplication
	Transaction *domain.Transaction
}

// NewApplicationService constructs the service.
func NewApplicationService(deps ApplicationDependencies) *ApplicationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = utcNow
	}
	calculator := deps.Calculator
	if calculator == nil {
		calculator = fee.NewCalculator(nil)
	}
	noFee := deps.NoFee
	if noFee == nil {
		noFee = StaticNoFeeDirectory{}
	}
	return &ApplicationService{
		applications: deps.ApplicationRepo,
		transactions: deps.TransactionRepo,
		calculator:   calculator,
		noFee:        noFee,
		recorder: &recorder{
			history:    deps.HistoryRepo,
			dispatcher: deps.Dispatcher,
			logger:     logger,
			now:        now,
		},
		validate: newValidator(calculator.Table()),
		logger:   logger,
		now:      now,
	}
}

func newValidator(table *fee.Table) *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("permittype", func(fl validator.FieldLevel) bool {
		_, ok := table.Lookup(domain.PermitType(fl.Field().String()))
		return ok
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return apperrors.NewValidationError("application data is incomplete or invalid", map[string]any{"fields": fields})
	}
	return apperrors.NewValidationError(err.Error(), nil)
}

// CreateApplication saves a new IN_PROGRESS application for a new permit.
func (s *ApplicationService) CreateApplication(ctx context.Context, actor domain.Actor, draft ApplicationDraft) (*domain.PermitApplication, error) {
	companyID, err := s.companyFor(actor, draft.CompanyID)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(draft); err != nil {
		return nil, validationError(err)
	}
	amount, err := s.feeFor(ctx, companyID, draft.PermitType, draft.Duration)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	app := &domain.PermitApplication{
		ID:         id,
		PermitID:   id,
		Revision:   0,
		CompanyID:  companyID,
		PermitType: draft.PermitType,
		Status:     domain.ApplicationStatusInProgress,
		PermitData: permitData(draft),
		FeeSummary: amount,
		CreatedBy:  actor.ID,
		UpdatedBy:  actor.ID,
	}
	app.ApplicationNumber = generateApplicationNumber(app)

	if err := s.applications.Create(ctx, app); err != nil {
		return nil, repoError(err, "application", nil)
	}
	s.recorder.statusChanged(ctx, actor, app, nil, "created")
	return app, nil
}

// UpdateApplication replaces the draft of an IN_PROGRESS application.
func (s *ApplicationService) UpdateApplication(ctx context.Context, actor domain.Actor, applicationID string, draft ApplicationDraft) (*domain.PermitApplication, error) {
	app, err := s.load(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}
	if _, err := lifecycle.Next(app.Status, lifecycle.EventSave, lifecycle.Options{}); err != nil {
		return nil, err
	}
	if draft.PermitType == "" {
		draft.PermitType = app.PermitType
	}
	if draft.PermitType != app.PermitType {
		return nil, apperrors.NewValidationError("permit type cannot be changed on an existing application", map[string]any{
			"permit_type": app.PermitType,
		})
	}
	if err := s.validate.Struct(draft); err != nil {
		return nil, validationError(err)
	}
	amount, err := s.feeFor(ctx, app.CompanyID, app.PermitType, draft.Duration)
	if err != nil {
		return nil, err
	}

	app.PermitData = permitData(draft)
	app.FeeSummary = amount
	app.UpdatedBy = actor.ID
	if err := s.applications.Update(ctx, app); err != nil {
		return nil, repoError(err, "application", map[string]any{"application_id": app.ID})
	}
	return app, nil
}

// GetApplication returns one application revision.
func (s *ApplicationService) GetApplication(ctx context.Context, actor domain.Actor, applicationID string) (*domain.PermitApplication, error) {
	return s.load(ctx, actor, applicationID)
}

// ListApplications lists applications. Company users only see their own company.
func (s *ApplicationService) ListApplications(ctx context.Context, actor domain.Actor, filter ApplicationListFilter) ([]*domain.PermitApplication, error) {
	repoFilter := repository.ApplicationFilter{
		CompanyID: filter.CompanyID,
		Statuses:  filter.Statuses,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	}
	if !actor.IsStaff() {
		if actor.CompanyID == "" {
			return nil, apperrors.NewForbidden("company context required")
		}
		companyID := actor.CompanyID
		repoFilter.CompanyID = &companyID
	}
	apps, err := s.applications.ListWithFilter(ctx, repoFilter)
	if err != nil {
		return nil, repoError(err, "application", nil)
	}
	return apps, nil
}

// SubmitForPayment moves an IN_PROGRESS application to WAITING_PAYMENT
// after checking required fields and refreshing its fee. Resubmitting an
// application already waiting for payment returns it unchanged.
func (s *ApplicationService) SubmitForPayment(ctx context.Context, actor domain.Actor, applicationID string) (*domain.PermitApplication, error) {
	app, err := s.load(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}
	next, err := lifecycle.Next(app.Status, lifecycle.EventSubmitForPayment, lifecycle.Options{})
	if err != nil {
		return nil, err
	}
	if next == app.Status {
		return app, nil
	}
	if err := s.validate.Struct(submission{
		PermitType: app.PermitType,
		Duration:   app.PermitData.Duration,
		StartDate:  app.PermitData.StartDate,
		Snapshot:   app.PermitData.Snapshot,
	}); err != nil {
		return nil, validationError(err)
	}
	amount, err := s.feeFor(ctx, app.CompanyID, app.PermitType, app.PermitData.Duration)
	if err != nil {
		return nil, err
	}

	old := app.Status
	app.Status = next
	app.FeeSummary = amount
	app.UpdatedBy = actor.ID
	if err := s.applications.Update(ctx, app); err != nil {
		return nil, repoError(err, "application", map[string]any{"application_id": app.ID})
	}
	s.recorder.statusChanged(ctx, actor, app, &old, "submitted for payment")
	return app, nil
}

// CancelApplication abandons an open application.
func (s *ApplicationService) CancelApplication(ctx context.Context, actor domain.Actor, applicationID, reason string) (*domain.PermitApplication, error) {
	app, err := s.load(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}
	next, err := lifecycle.Next(app.Status, lifecycle.EventCancel, lifecycle.Options{})
	if err != nil {
		return nil, err
	}
	old := app.Status
	app.Status = next
	app.ClaimedBy = nil
	app.ClaimedAt = nil
	app.UpdatedBy = actor.ID
	if err := s.applications.Update(ctx, app); err != nil {
		return nil, repoError(err, "application", map[string]any{"application_id": app.ID})
	}
	comment := strings.TrimSpace(reason)
	if comment == "" {
		comment = "cancelled"
	}
	s.recorder.statusChanged(ctx, actor, app, &old, comment)
	return app, nil
}

// Amend opens a new IN_PROGRESS revision of an issued permit. A nil draft
// copies the issued permit data unchanged.
func (s *ApplicationService) Amend(ctx context.Context, actor domain.Actor, permitID string, draft *ApplicationDraft) (*domain.PermitApplication, error) {
	chain, err := s.chain(ctx, actor, permitID)
	if err != nil {
		return nil, err
	}
	if open := chain.Open(); open != nil {
		return nil, apperrors.NewConflict("permit already has an open revision", map[string]any{
			"permit_id":      permitID,
			"application_id": open.ID,
		})
	}
	target, err := chain.IssuedTarget()
	if err != nil {
		return nil, err
	}
	if _, err := lifecycle.Next(target.Status, lifecycle.EventAmend, lifecycle.Options{}); err != nil {
		return nil, err
	}

	amendment := chain.Amendment(target, actor.ID)
	amendment.ID = uuid.NewString()
	amendment.ApplicationNumber = generateApplicationNumber(amendment)
	if draft != nil {
		if draft.PermitType == "" {
			draft.PermitType = target.PermitType
		}
		if draft.PermitType != target.PermitType {
			return nil, apperrors.NewValidationError("an amendment cannot change the permit type", map[string]any{
				"permit_type": target.PermitType,
			})
		}
		if draft.Snapshot == nil {
			draft.Snapshot = amendment.PermitData.Snapshot
		}
		if err := s.validate.Struct(draft); err != nil {
			return nil, validationError(err)
		}
		amendment.PermitData = permitData(*draft)
	}
	amount, err := s.feeFor(ctx, amendment.CompanyID, amendment.PermitType, amendment.PermitData.Duration)
	if err != nil {
		return nil, err
	}
	amendment.FeeSummary = amount

	if err := s.applications.CreateRevision(ctx, amendment); err != nil {
		return nil, repoError(err, "application", map[string]any{"permit_id": permitID})
	}
	s.recorder.statusChanged(ctx, actor, amendment, nil, "amendment of "+target.ID)
	return amendment, nil
}

// VoidPermit voids the issued revision and refunds every valid payment in
// the permit's history.
func (s *ApplicationService) VoidPermit(ctx context.Context, actor domain.Actor, permitID, reason string) (*VoidResult, error) {
	if err := ensureStaff(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("void reason is required", nil)
	}
	chain, err := s.chain(ctx, actor, permitID)
	if err != nil {
		return nil, err
	}
	target, err := chain.IssuedTarget()
	if err != nil {
		return nil, err
	}
	if target.PermitData.ExpiryDate.Before(startOfDay(s.now())) {
		return nil, apperrors.NewConflict("an expired permit cannot be voided", map[string]any{
			"permit_id":   permitID,
			"expiry_date": target.PermitData.ExpiryDate.Format(time.DateOnly),
		})
	}
	next, err := lifecycle.Next(target.Status, lifecycle.EventVoid, lifecycle.Options{})
	if err != nil {
		return nil, err
	}

	history, err := s.permitHistory(ctx, chain)
	if err != nil {
		return nil, err
	}
	noFee, err := s.noFee.IsNoFee(ctx, target.CompanyID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	refund := s.calculator.ComputeVoidRefund(history, noFee)

	old := target.Status
	target.Status = next
	target.UpdatedBy = actor.ID
	result := &VoidResult{Application: target, RefundAmount: refund}
	if refund.IsZero() {
		err = s.applications.Update(ctx, target)
	} else {
		result.Transaction = internalTransaction(domain.TransactionTypeRefund, refundMethod(history), actor, s.now(),
			domain.TransactionApplication{ApplicationID: target.ID, Amount: refund})
		err = s.applications.UpdateAndRecord(ctx, target, result.Transaction)
	}
	if err != nil {
		target.Status = old
		s.logger.Error("void permit", zap.String("application_id", target.ID), zap.Error(err))
		return nil, repoError(err, "application", map[string]any{"application_id": target.ID})
	}
	s.recorder.statusChanged(ctx, actor, target, &old, reason)
	return result, nil
}

// RevokePermit revokes the issued revision without refund and records a
// zero-amount transaction.
func (s *ApplicationService) RevokePermit(ctx context.Context, actor domain.Actor, permitID, reason string) (*RevokeResult, error) {
	if err := ensureElevated(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("revoke reason is required", nil)
	}
	chain, err := s.chain(ctx, actor, permitID)
	if err != nil {
		return nil, err
	}
	target, err := chain.IssuedTarget()
	if err != nil {
		return nil, err
	}
	next, err := lifecycle.Next(target.Status, lifecycle.EventRevoke, lifecycle.Options{})
	if err != nil {
		return nil, err
	}

	old := target.Status
	target.Status = next
	target.UpdatedBy = actor.ID
	txn := internalTransaction(domain.TransactionTypeZero, domain.PaymentMethodNoPayment, actor, s.now(),
		domain.TransactionApplication{ApplicationID: target.ID, Amount: decimal.Zero})
	if err := s.applications.UpdateAndRecord(ctx, target, txn); err != nil {
		target.Status = old
		s.logger.Error("revoke permit", zap.String("application_id", target.ID), zap.Error(err))
		return nil, repoError(err, "application", map[string]any{"application_id": target.ID})
	}
	s.recorder.statusChanged(ctx, actor, target, &old, reason)
	return &RevokeResult{Application: target, Transaction: txn}, nil
}

// ResolveCurrentRevision returns the authoritative revision of a permit.
func (s *ApplicationService) ResolveCurrentRevision(ctx context.Context, actor domain.Actor, permitID string) (revision.Resolution, error) {
	chain, err := s.chain(ctx, actor, permitID)
	if err != nil {
		return revision.Resolution{}, err
	}
	return chain.Resolve()
}

// ListRevisions returns every revision of a permit, oldest first.
func (s *ApplicationService) ListRevisions(ctx context.Context, actor domain.Actor, permitID string) ([]*domain.PermitApplication, error) {
	chain, err := s.chain(ctx, actor, permitID)
	if err != nil {
		return nil, err
	}
	return chain.Revisions(), nil
}

// GetPermitHistory returns every transaction share across the permit's
// revisions, oldest first.
func (s *ApplicationService) GetPermitHistory(ctx context.Context, actor domain.Actor, permitID string) ([]domain.PermitHistoryEntry, error) {
	chain, err := s.chain(ctx, actor, permitID)
	if err != nil {
		return nil, err
	}
	return s.permitHistory(ctx, chain)
}

// QuoteFee computes the fee for a prospective application.
func (s *ApplicationService) QuoteFee(ctx context.Context, actor domain.Actor, companyID string, permitType domain.PermitType, duration int) (decimal.Decimal, error) {
	companyID, err := s.companyFor(actor, companyID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.feeFor(ctx, companyID, permitType, duration)
}

func (s *ApplicationService) load(ctx context.Context, actor domain.Actor, applicationID string) (*domain.PermitApplication, error) {
	app, err := s.applications.GetByID(ctx, applicationID)
	if err != nil {
		return nil, repoError(err, "application", map[string]any{"application_id": applicationID})
	}
	if err := ensureCompanyAccess(actor, app); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *ApplicationService) chain(ctx context.Context, actor domain.Actor, permitID string) (*revision.Chain, error) {
	revisions, err := s.applications.ListByPermit(ctx, permitID)
	if err != nil {
		return nil, repoError(err, "permit", map[string]any{"permit_id": permitID})
	}
	chain, err := revision.NewChain(permitID, revisions)
	if err != nil {
		return nil, err
	}
	if err := ensureCompanyAccess(actor, chain.Root()); err != nil {
		return nil, err
	}
	return chain, nil
}

func (s *ApplicationService) permitHistory(ctx context.Context, chain *revision.Chain) ([]domain.PermitHistoryEntry, error) {
	revisions := chain.Revisions()
	ids := make([]string, 0, len(revisions))
	for _, rev := range revisions {
		ids = append(ids, rev.ID)
	}
	history, err := s.transactions.ListHistory(ctx, ids)
	if err != nil {
		return nil, repoError(err, "transaction", nil)
	}
	return history, nil
}

func (s *ApplicationService) companyFor(actor domain.Actor, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if actor.IsStaff() {
		if requested == "" {
			return "", apperrors.NewValidationError("company id is required", nil)
		}
		return requested, nil
	}
	if actor.CompanyID == "" {
		return "", apperrors.NewForbidden("company context required")
	}
	if requested != "" && requested != actor.CompanyID {
		return "", apperrors.NewForbidden("actor cannot act for this company")
	}
	return actor.CompanyID, nil
}

func (s *ApplicationService) feeFor(ctx context.Context, companyID string, permitType domain.PermitType, duration int) (decimal.Decimal, error) {
	noFee, err := s.noFee.IsNoFee(ctx, companyID)
	if err != nil {
		return decimal.Zero, apperrors.NewInternalError(err)
	}
	return s.calculator.ComputeFeeForCompany(permitType, duration, noFee)
}

func permitData(draft ApplicationDraft) domain.PermitData {
	start := startOfDay(draft.StartDate)
	snapshot := draft.Snapshot
	if len(snapshot) == 0 {
		snapshot = json.RawMessage(`{}`)
	}
	return domain.PermitData{
		Duration:   draft.Duration,
		StartDate:  start,
		ExpiryDate: expiryDate(start, draft.Duration),
		Snapshot:   append(json.RawMessage(nil), snapshot...),
	}
}

// internalTransaction builds a transaction settled without a gateway round trip.
func internalTransaction(txnType domain.TransactionType, method domain.PaymentMethod, actor domain.Actor, now time.Time, shares ...domain.TransactionApplication) *domain.Transaction {
	approved := true
	total := decimal.Zero
	for _, share := range shares {
		total = total.Add(share.Amount)
	}
	txn := &domain.Transaction{
		ID:            uuid.NewString(),
		Type:          txnType,
		Amount:        total,
		PaymentMethod: method,
		Approved:      &approved,
		Applications:  shares,
		CreatedBy:     actor.ID,
		ResolvedAt:    &now,
	}
	outcome := domain.TransactionOutcome{TransactionID: txn.ID, Approved: true, Success: txn.ApplicationIDs()}
	txn.Outcome = &outcome
	return txn
}

// refundMethod returns the method of the latest valid payment.
func refundMethod(history []domain.PermitHistoryEntry) domain.PaymentMethod {
	valid := fee.ValidHistory(history)
	if len(valid) == 0 {
		return domain.PaymentMethodNoPayment
	}
	return valid[len(valid)-1].PaymentMethod
}
