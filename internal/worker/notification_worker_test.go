package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/permit-service/internal/config"
	"github.com/spec-kit/permit-service/internal/events"
	"github.com/spec-kit/permit-service/internal/service"
)

func TestNotificationWorkerLogsEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	dispatcher := events.NewInMemoryDispatcher()
	notifications := service.NewNotificationService(dispatcher, zap.New(core), config.NotificationConfig{
		WebhookURL: "https://hooks.example.com/permits",
	})

	StartNotificationWorker(notifications)
	StartNotificationWorker(nil)

	ctx := context.Background()
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type:      events.EventIntegrityViolation,
		SubjectID: "txn-1",
		Payload:   events.IntegrityViolationPayload{GatewayTransactionID: "gw-1", ClaimedApproved: true},
	}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type:      events.EventTransactionCompleted,
		SubjectID: "txn-2",
	}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type:      events.EventPaymentNotApplied,
		SubjectID: "txn-3",
		Payload:   events.PaymentNotAppliedPayload{ApplicationID: "app-1", Reason: "application is not waiting for payment"},
	}))

	violations := logs.FilterMessage("IntegrityViolation").All()
	require.Len(t, violations, 1)
	assert.Equal(t, zapcore.ErrorLevel, violations[0].Level)
	assert.Equal(t, 1, logs.FilterMessage("TransactionCompleted").Len())
	notApplied := logs.FilterMessage("PaymentNotApplied").All()
	require.Len(t, notApplied, 1)
	assert.Equal(t, zapcore.ErrorLevel, notApplied[0].Level)
	assert.Equal(t, 3, logs.FilterMessage("sendWebhookNotificationStub").Len())
}
