package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishRunsEveryHandler(t *testing.T) {
	d := NewInMemoryDispatcher()

	var calls []string
	d.Subscribe(EventTransactionCompleted, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errors.New("webhook down")
	})
	d.Subscribe(EventTransactionCompleted, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(EventIntegrityViolation, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventTransactionCompleted, SubjectID: "txn-1"})
	assert.EqualError(t, err, "webhook down")
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestPublishWithoutListeners(t *testing.T) {
	d := NewInMemoryDispatcher()
	assert.NoError(t, d.Publish(context.Background(), Event{Type: EventQueueActivityRecorded}))
}
