package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/permit-service/internal/config"
	"github.com/spec-kit/permit-service/internal/events"
)

// NotificationService handles emitting notifications for domain events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventApplicationStatusChanged, n.handleStatusChanged)
	n.dispatcher.Subscribe(events.EventTransactionCompleted, n.handleTransactionCompleted)
	n.dispatcher.Subscribe(events.EventIntegrityViolation, n.handleIntegrityViolation)
	n.dispatcher.Subscribe(events.EventQueueActivityRecorded, n.handleQueueActivity)
	n.dispatcher.Subscribe(events.EventPaymentNotApplied, n.handlePaymentNotApplied)
}

func (n *NotificationService) handleStatusChanged(ctx context.Context, event events.Event) error {
	n.logger.Info("ApplicationStatusChanged", zap.String("application_id", event.SubjectID), zap.Any("payload", event.Payload))
	if payload, ok := event.Payload.(events.ApplicationStatusChangedPayload); ok && payload.NewStatus != payload.OldStatus {
		n.sendEmailNotificationStub(ctx, event)
	}
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleTransactionCompleted(ctx context.Context, event events.Event) error {
	n.logger.Info("TransactionCompleted", zap.String("transaction_id", event.SubjectID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

// Integrity failures are security relevant and always logged at error level.
func (n *NotificationService) handleIntegrityViolation(ctx context.Context, event events.Event) error {
	n.logger.Error("IntegrityViolation", zap.String("transaction_id", event.SubjectID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

// Captured payments that issued nothing need a manual refund.
func (n *NotificationService) handlePaymentNotApplied(ctx context.Context, event events.Event) error {
	n.logger.Error("PaymentNotApplied", zap.String("transaction_id", event.SubjectID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleQueueActivity(ctx context.Context, event events.Event) error {
	n.logger.Info("QueueActivityRecorded", zap.String("application_id", event.SubjectID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("subject_id", event.SubjectID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("subject_id", event.SubjectID),
		zap.String("event_type", string(event.Type)))
}
