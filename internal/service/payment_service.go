package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spec-kit/permit-service/internal/domain"
	"github.com/spec-kit/permit-service/internal/events"
	"github.com/spec-kit/permit-service/internal/fee"
	"github.com/spec-kit/permit-service/internal/gateway"
	"github.com/spec-kit/permit-service/internal/lifecycle"
	"github.com/spec-kit/permit-service/internal/repository"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

// Failure codes reported per application in batch outcomes.
const (
	FailurePaymentDeclined = "PAYMENT_DECLINED"
	FailureNotPayable      = "NOT_PAYABLE"
	FailureAlreadyIssued   = "ALREADY_ISSUED"
	FailureNotPaid         = "NOT_PAID"
	FailureRequiresReview  = "REQUIRES_REVIEW"
	// FailureCapturedNotApplied marks an approved purchase whose application
	// had already moved on. The money is held and must be refunded.
	FailureCapturedNotApplied = "PAYMENT_CAPTURED_NOT_APPLIED"
)

// PaymentGateway is the hosted gateway the orchestrator talks to.
type PaymentGateway interface {
	CreateRedirect(ctx context.Context, req gateway.RedirectRequest) (string, error)
	Verify(cb gateway.Callback, expectedAmount decimal.Decimal) error
}

// CompletionLocker serializes concurrent completions of one transaction.
type CompletionLocker interface {
	Acquire(ctx context.Context, transactionID string) (release func(), acquired bool, err error)
}

// PaymentService starts and completes payment transactions and issues permits.
type PaymentService struct {
	applications repository.ApplicationRepository
	transactions repository.TransactionRepository
	calculator   *fee.Calculator
	gateway      PaymentGateway
	lock         CompletionLocker
	recorder     *recorder
	issuer       *issuer
	returnURL    string
	logger       *zap.Logger
	now          func() time.Time
}

// PaymentDependencies bundles collaborators for the payment service.
type PaymentDependencies struct {
	ApplicationRepo repository.ApplicationRepository
	TransactionRepo repository.TransactionRepository
	HistoryRepo     repository.ApplicationHistoryRepository
	Calculator      *fee.Calculator
	Gateway         PaymentGateway
	CompletionLock  CompletionLocker
	Dispatcher      events.Dispatcher
	ReturnURL       string
	Logger          *zap.Logger
	Now             func() time.Time
}

// PaymentItem is one application in a cart. Amount is optional; when given
// it must equal the amount the service computes.
type PaymentItem struct {
	ApplicationID string
	Amount        *decimal.Decimal
}

// StartTransactionInput describes a payment request.
type StartTransactionInput struct {
	Items         []PaymentItem
	PaymentMethod domain.PaymentMethod
	CardType      *string
	ReturnURL     string
}

// StartTransactionResult carries the created transaction. RedirectURL is
// empty when the transaction was settled without the gateway, in which case
// Outcome is set.
type StartTransactionResult struct {
	Transaction *domain.Transaction
	RedirectURL string
	Outcome     *domain.TransactionOutcome
}

// NewPaymentService constructs the service.
func NewPaymentService(deps PaymentDependencies) *PaymentService {
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
	rec := &recorder{
		history:    deps.HistoryRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		now:        now,
	}
	return &PaymentService{
		applications: deps.ApplicationRepo,
		transactions: deps.TransactionRepo,
		calculator:   calculator,
		gateway:      deps.Gateway,
		lock:         deps.CompletionLock,
		recorder:     rec,
		issuer: &issuer{
			applications: deps.ApplicationRepo,
			recorder:     rec,
			logger:       logger,
			now:          now,
		},
		returnURL: deps.ReturnURL,
		logger:    logger,
		now:       now,
	}
}

// StartTransaction creates an unresolved transaction covering every item and
// returns the gateway redirect. Zero totals, refunds and counter payments are
// settled immediately without the gateway.
func (s *PaymentService) StartTransaction(ctx context.Context, actor domain.Actor, input StartTransactionInput) (*StartTransactionResult, error) {
	if len(input.Items) == 0 {
		return nil, apperrors.NewValidationError("at least one application is required", nil)
	}
	switch input.PaymentMethod {
	case domain.PaymentMethodWeb, domain.PaymentMethodNoPayment:
	case domain.PaymentMethodCash, domain.PaymentMethodCheque:
		if err := ensureStaff(actor); err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.NewValidationError("unsupported payment method", map[string]any{"payment_method": input.PaymentMethod})
	}

	shares := make([]domain.TransactionApplication, 0, len(input.Items))
	seen := make(map[string]struct{}, len(input.Items))
	total := decimal.Zero
	var purchases, refunds int
	for _, item := range input.Items {
		if _, dup := seen[item.ApplicationID]; dup {
			return nil, apperrors.NewValidationError("application listed twice", map[string]any{"application_id": item.ApplicationID})
		}
		seen[item.ApplicationID] = struct{}{}

		app, err := s.applications.GetByID(ctx, item.ApplicationID)
		if err != nil {
			return nil, repoError(err, "application", map[string]any{"application_id": item.ApplicationID})
		}
		if err := ensureCompanyAccess(actor, app); err != nil {
			return nil, err
		}
		if app.Status != domain.ApplicationStatusWaitingPayment {
			return nil, apperrors.NewConflict("application is not waiting for payment", map[string]any{
				"application_id": app.ID,
				"status":         app.Status,
			})
		}
		due, err := s.amountDue(ctx, app)
		if err != nil {
			return nil, err
		}
		if item.Amount != nil && !item.Amount.Equal(due) {
			return nil, apperrors.NewValidationError("amount does not match the computed fee", map[string]any{
				"application_id": app.ID,
				"expected":       due.StringFixed(2),
				"provided":       item.Amount.StringFixed(2),
			})
		}
		switch due.Sign() {
		case 1:
			purchases++
		case -1:
			refunds++
		}
		total = total.Add(due)
		shares = append(shares, domain.TransactionApplication{ApplicationID: app.ID, Amount: due})
	}
	if purchases > 0 && refunds > 0 {
		return nil, apperrors.NewValidationError("purchases and refunds cannot share a transaction", nil)
	}

	switch {
	case refunds > 0:
		return s.settleInternally(ctx, actor, domain.TransactionTypeRefund, input.PaymentMethod, shares)
	case total.IsZero():
		return s.settleInternally(ctx, actor, domain.TransactionTypeZero, domain.PaymentMethodNoPayment, shares)
	case input.PaymentMethod == domain.PaymentMethodNoPayment:
		return nil, apperrors.NewValidationError("payment method NO_PAYMENT requires a zero total", map[string]any{"amount": total.StringFixed(2)})
	case input.PaymentMethod != domain.PaymentMethodWeb:
		txn := s.newTransaction(actor, domain.TransactionTypePurchase, input.PaymentMethod, total, shares)
		txn.PaymentCardType = input.CardType
		return s.createAndSettle(ctx, actor, txn)
	}

	if s.gateway == nil {
		return nil, apperrors.NewGatewayError(errors.New("payment gateway not configured"))
	}
	txn := s.newTransaction(actor, domain.TransactionTypePurchase, domain.PaymentMethodWeb, total, shares)
	returnURL := input.ReturnURL
	if returnURL == "" {
		returnURL = s.returnURL
	}
	redirect, err := s.gateway.CreateRedirect(ctx, gateway.RedirectRequest{
		TransactionID: txn.ID,
		Amount:        total,
		ReturnURL:     returnURL,
	})
	if err != nil {
		s.logger.Warn("gateway redirect failed", zap.String("transaction_id", txn.ID), zap.Error(err))
		return nil, apperrors.NewGatewayError(err)
	}
	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, repoError(err, "transaction", nil)
	}
	s.logger.Info("transaction started",
		zap.String("transaction_id", txn.ID),
		zap.String("amount", total.StringFixed(2)),
		zap.Int("applications", len(shares)))
	return &StartTransactionResult{Transaction: txn, RedirectURL: redirect}, nil
}

// CompleteTransaction applies a gateway callback. Replays of an already
// resolved transaction return the recorded outcome without side effects.
func (s *PaymentService) CompleteTransaction(ctx context.Context, cb gateway.Callback) (*domain.TransactionOutcome, error) {
	txn, err := s.transactions.GetByID(ctx, cb.TransactionID)
	if err != nil {
		return nil, repoError(err, "transaction", map[string]any{"transaction_id": cb.TransactionID})
	}
	if txn.Resolved() {
		return recordedOutcome(txn), nil
	}
	if s.gateway == nil {
		return nil, apperrors.NewGatewayError(errors.New("payment gateway not configured"))
	}
	if err := s.gateway.Verify(cb, txn.Amount); err != nil {
		s.logger.Error("payment callback failed integrity check",
			zap.String("transaction_id", txn.ID),
			zap.String("gateway_transaction_id", cb.GatewayTransactionID),
			zap.Bool("claimed_approved", cb.Approved),
			zap.Error(err))
		s.recorder.publish(ctx, events.Event{
			Type:      events.EventIntegrityViolation,
			SubjectID: txn.ID,
			Actor:     events.ActorFrom(domain.SystemActor()),
			Payload: events.IntegrityViolationPayload{
				GatewayTransactionID: cb.GatewayTransactionID,
				ClaimedApproved:      cb.Approved,
			},
		})
		return nil, apperrors.NewIntegrityError("callback integrity token mismatch", map[string]any{"transaction_id": txn.ID})
	}

	if s.lock != nil {
		release, acquired, err := s.lock.Acquire(ctx, txn.ID)
		switch {
		case err != nil:
			s.logger.Debug("completion lock unavailable", zap.String("transaction_id", txn.ID), zap.Error(err))
		case !acquired:
			return nil, apperrors.NewConflict("transaction completion already in progress", map[string]any{"transaction_id": txn.ID})
		default:
			defer release()
		}
	}

	res := repository.Resolution{
		Approved:   cb.Approved,
		ResolvedAt: s.now(),
	}
	if cb.GatewayTransactionID != "" {
		ref := cb.GatewayTransactionID
		res.GatewayReference = &ref
	}
	if cb.CardType != "" {
		card := cb.CardType
		res.PaymentCardType = &card
	}
	return s.resolve(ctx, domain.SystemActor(), txn.ID, res)
}

// IssuePermits issues paid applications that skip staff review. Failures
// are reported per application id.
func (s *PaymentService) IssuePermits(ctx context.Context, actor domain.Actor, applicationIDs []string) (*domain.TransactionOutcome, error) {
	if err := ensureStaff(actor); err != nil {
		return nil, err
	}
	outcome := &domain.TransactionOutcome{Approved: true, Success: []string{}, Failure: []domain.ApplicationError{}}
	s.issueBatch(ctx, actor, applicationIDs, outcome)
	return outcome, nil
}

// GetTransaction returns a transaction visible to the actor.
func (s *PaymentService) GetTransaction(ctx context.Context, actor domain.Actor, transactionID string) (*domain.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, repoError(err, "transaction", map[string]any{"transaction_id": transactionID})
	}
	if actor.IsStaff() {
		return txn, nil
	}
	for _, share := range txn.Applications {
		app, err := s.applications.GetByID(ctx, share.ApplicationID)
		if err != nil {
			return nil, repoError(err, "application", map[string]any{"application_id": share.ApplicationID})
		}
		if err := ensureCompanyAccess(actor, app); err != nil {
			return nil, err
		}
	}
	return txn, nil
}

// amountDue is the fee for a new permit, or the fee delta for an amendment.
func (s *PaymentService) amountDue(ctx context.Context, app *domain.PermitApplication) (decimal.Decimal, error) {
	if app.PreviousRevisionID == nil {
		return app.FeeSummary, nil
	}
	previous, err := s.applications.GetByID(ctx, *app.PreviousRevisionID)
	if err != nil {
		return decimal.Zero, repoError(err, "application", map[string]any{"application_id": *app.PreviousRevisionID})
	}
	return s.calculator.ComputeAmendmentDelta(previous.FeeSummary, app.FeeSummary), nil
}

func (s *PaymentService) newTransaction(actor domain.Actor, txnType domain.TransactionType, method domain.PaymentMethod, total decimal.Decimal, shares []domain.TransactionApplication) *domain.Transaction {
	return &domain.Transaction{
		ID:            uuid.NewString(),
		Type:          txnType,
		Amount:        total,
		PaymentMethod: method,
		Applications:  shares,
		CreatedBy:     actor.ID,
	}
}

func (s *PaymentService) settleInternally(ctx context.Context, actor domain.Actor, txnType domain.TransactionType, method domain.PaymentMethod, shares []domain.TransactionApplication) (*StartTransactionResult, error) {
	if method == domain.PaymentMethodWeb {
		method = domain.PaymentMethodNoPayment
	}
	total := decimal.Zero
	for _, share := range shares {
		total = total.Add(share.Amount)
	}
	return s.createAndSettle(ctx, actor, s.newTransaction(actor, txnType, method, total, shares))
}

func (s *PaymentService) createAndSettle(ctx context.Context, actor domain.Actor, txn *domain.Transaction) (*StartTransactionResult, error) {
	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, repoError(err, "transaction", nil)
	}
	outcome, err := s.resolve(ctx, actor, txn.ID, repository.Resolution{Approved: true, ResolvedAt: s.now()})
	if err != nil {
		return nil, err
	}
	settled, err := s.transactions.GetByID(ctx, txn.ID)
	if err != nil {
		return nil, repoError(err, "transaction", map[string]any{"transaction_id": txn.ID})
	}
	return &StartTransactionResult{Transaction: settled, Outcome: outcome}, nil
}

// resolve records the result once. Only the caller that wins the
// resolved-once update applies side effects; losers read the stored outcome.
func (s *PaymentService) resolve(ctx context.Context, actor domain.Actor, transactionID string, res repository.Resolution) (*domain.TransactionOutcome, error) {
	txn, err := s.transactions.Resolve(ctx, transactionID, res)
	if errors.Is(err, repository.ErrAlreadyResolved) {
		stored, getErr := s.transactions.GetByID(ctx, transactionID)
		if getErr != nil {
			return nil, repoError(getErr, "transaction", map[string]any{"transaction_id": transactionID})
		}
		return recordedOutcome(stored), nil
	}
	if err != nil {
		return nil, repoError(err, "transaction", map[string]any{"transaction_id": transactionID})
	}

	outcome := &domain.TransactionOutcome{
		TransactionID: txn.ID,
		Approved:      res.Approved,
		Success:       []string{},
		Failure:       []domain.ApplicationError{},
	}
	ids := txn.ApplicationIDs()
	if res.Approved {
		s.applyApproval(ctx, actor, txn, outcome)
	} else {
		s.applyDecline(ctx, actor, ids, outcome)
	}

	if err := s.transactions.SaveOutcome(ctx, txn.ID, *outcome); err != nil && !errors.Is(err, repository.ErrAlreadyResolved) {
		s.logger.Error("save transaction outcome", zap.String("transaction_id", txn.ID), zap.Error(err))
	}
	s.logger.Info("transaction completed",
		zap.String("transaction_id", txn.ID),
		zap.Bool("approved", res.Approved),
		zap.Int("success", len(outcome.Success)),
		zap.Int("failure", len(outcome.Failure)))
	s.recorder.publish(ctx, events.Event{
		Type:      events.EventTransactionCompleted,
		SubjectID: txn.ID,
		Actor:     events.ActorFrom(actor),
		Payload: events.TransactionCompletedPayload{
			Type:     txn.Type,
			Amount:   txn.Amount,
			Approved: res.Approved,
			Success:  outcome.Success,
			Failure:  failureIDs(outcome.Failure),
		},
	})
	return outcome, nil
}

func (s *PaymentService) applyApproval(ctx context.Context, actor domain.Actor, txn *domain.Transaction, outcome *domain.TransactionOutcome) {
	var issuable []string
	for _, id := range txn.ApplicationIDs() {
		app, err := s.applications.GetByID(ctx, id)
		if err != nil {
			outcome.Failure = append(outcome.Failure, applicationError(id, repoError(err, "application", nil)))
			continue
		}
		requiresReview := s.calculator.RequiresReview(app.PermitType)
		next, err := lifecycle.Next(app.Status, lifecycle.EventPaymentApproved, lifecycle.Options{RequiresReview: requiresReview})
		if err != nil {
			outcome.Failure = append(outcome.Failure, s.notApplied(ctx, actor, txn, app.Status, applicationError(id, err)))
			continue
		}
		if next == domain.ApplicationStatusIssued {
			issuable = append(issuable, id)
			continue
		}
		old := app.Status
		app.Status = next
		app.UpdatedBy = actor.ID
		if err := s.applications.Update(ctx, app); err != nil {
			outcome.Failure = append(outcome.Failure, s.notApplied(ctx, actor, txn, old, applicationError(id, repoError(err, "application", nil))))
			continue
		}
		s.recorder.statusChanged(ctx, actor, app, &old, "payment approved")
		outcome.Success = append(outcome.Success, id)
	}

	// Every application here was payable a moment ago, so a failure to
	// issue means another writer got there first.
	first := len(outcome.Failure)
	s.issueBatch(ctx, actor, issuable, outcome)
	for i := first; i < len(outcome.Failure); i++ {
		outcome.Failure[i] = s.notApplied(ctx, actor, txn, "", outcome.Failure[i])
	}
}

// notApplied reports an approved application that could not absorb its
// payment. Purchases also raise EventPaymentNotApplied so the captured
// share can be refunded.
func (s *PaymentService) notApplied(ctx context.Context, actor domain.Actor, txn *domain.Transaction, status domain.ApplicationStatus, failure domain.ApplicationError) domain.ApplicationError {
	if txn.Type != domain.TransactionTypePurchase {
		return failure
	}
	amount := decimal.Zero
	for _, share := range txn.Applications {
		if share.ApplicationID == failure.ApplicationID {
			amount = share.Amount
		}
	}
	var gatewayID string
	if txn.GatewayReference != nil {
		gatewayID = *txn.GatewayReference
	}
	s.logger.Error("approved payment not applied",
		zap.String("transaction_id", txn.ID),
		zap.String("application_id", failure.ApplicationID),
		zap.String("amount", amount.String()),
		zap.String("cause", failure.Code))
	s.recorder.publish(ctx, events.Event{
		Type:      events.EventPaymentNotApplied,
		SubjectID: txn.ID,
		Actor:     events.ActorFrom(actor),
		Payload: events.PaymentNotAppliedPayload{
			ApplicationID:        failure.ApplicationID,
			Amount:               amount,
			GatewayTransactionID: gatewayID,
			Status:               status,
			Reason:               failure.Message,
		},
	})
	failure.Code = FailureCapturedNotApplied
	return failure
}

func (s *PaymentService) applyDecline(ctx context.Context, actor domain.Actor, ids []string, outcome *domain.TransactionOutcome) {
	for _, id := range ids {
		app, err := s.applications.GetByID(ctx, id)
		if err != nil {
			outcome.Failure = append(outcome.Failure, applicationError(id, repoError(err, "application", nil)))
			continue
		}
		if next, err := lifecycle.Next(app.Status, lifecycle.EventPaymentDeclined, lifecycle.Options{}); err == nil {
			old := app.Status
			app.Status = next
			s.recorder.statusChanged(ctx, actor, app, &old, "payment declined")
		}
		outcome.Failure = append(outcome.Failure, domain.ApplicationError{
			ApplicationID: id,
			Code:          FailurePaymentDeclined,
			Message:       "payment was declined; start a new transaction to retry",
		})
	}
}

// issueBatch moves each paid WAITING_PAYMENT application to ISSUED.
func (s *PaymentService) issueBatch(ctx context.Context, actor domain.Actor, ids []string, outcome *domain.TransactionOutcome) {
	if len(ids) == 0 {
		return
	}
	history, err := s.transactions.ListHistory(ctx, ids)
	if err != nil {
		for _, id := range ids {
			outcome.Failure = append(outcome.Failure, applicationError(id, repoError(err, "transaction", nil)))
		}
		return
	}
	paid := make(map[string]bool, len(ids))
	for _, entry := range history {
		if entry.Approved != nil && *entry.Approved {
			paid[entry.ApplicationID] = true
		}
	}

	for _, id := range ids {
		app, err := s.applications.GetByID(ctx, id)
		if err != nil {
			outcome.Failure = append(outcome.Failure, applicationError(id, repoError(err, "application", nil)))
			continue
		}
		if app.Status == domain.ApplicationStatusIssued {
			outcome.Failure = append(outcome.Failure, domain.ApplicationError{ApplicationID: id, Code: FailureAlreadyIssued, Message: "permit is already issued"})
			continue
		}
		if s.calculator.RequiresReview(app.PermitType) {
			outcome.Failure = append(outcome.Failure, domain.ApplicationError{ApplicationID: id, Code: FailureRequiresReview, Message: "permit type requires staff review"})
			continue
		}
		if !paid[id] {
			outcome.Failure = append(outcome.Failure, domain.ApplicationError{ApplicationID: id, Code: FailureNotPaid, Message: "no approved payment recorded"})
			continue
		}
		if _, err := lifecycle.Next(app.Status, lifecycle.EventPaymentApproved, lifecycle.Options{}); err != nil {
			outcome.Failure = append(outcome.Failure, applicationError(id, err))
			continue
		}
		if err := s.issuer.issue(ctx, actor, app, "issued"); err != nil {
			outcome.Failure = append(outcome.Failure, applicationError(id, err))
			continue
		}
		outcome.Success = append(outcome.Success, id)
	}
}

// recordedOutcome returns the stored outcome, or derives one from the
// transaction when none was saved.
func recordedOutcome(txn *domain.Transaction) *domain.TransactionOutcome {
	if txn.Outcome != nil {
		o := *txn.Outcome
		return &o
	}
	approved := txn.Approved != nil && *txn.Approved
	o := &domain.TransactionOutcome{TransactionID: txn.ID, Approved: approved, Success: []string{}, Failure: []domain.ApplicationError{}}
	for _, id := range txn.ApplicationIDs() {
		if approved {
			o.Success = append(o.Success, id)
			continue
		}
		o.Failure = append(o.Failure, domain.ApplicationError{ApplicationID: id, Code: FailurePaymentDeclined, Message: "payment was declined"})
	}
	return o
}

func applicationError(id string, err error) domain.ApplicationError {
	de := apperrors.ToDomainError(err)
	return domain.ApplicationError{ApplicationID: id, Code: de.Code, Message: de.Message}
}

func failureIDs(failures []domain.ApplicationError) []string {
	ids := make([]string, 0, len(failures))
	for _, f := range failures {
		ids = append(ids, f.ApplicationID)
	}
	return ids
}
