package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/permit-service/internal/domain"
	"github.com/spec-kit/permit-service/internal/events"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

func waitingReview(t *testing.T, h *harness) *domain.PermitApplication {
	t.Helper()
	app := h.submitted(t, draft(domain.PermitTypeSingleTripOverwt, 5))
	res := h.start(t, app.ID)
	_, err := h.payments.CompleteTransaction(context.Background(), h.callback(res.Transaction, true))
	require.NoError(t, err)
	return app
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	app := waitingReview(t, h)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, actor := range []domain.Actor{clerk, clerk2} {
		wg.Add(1)
		go func(i int, actor domain.Actor) {
			defer wg.Done()
			_, errs[i] = h.queue.Claim(context.Background(), actor, app.ID)
		}(i, actor)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperrors.IsConflict(err):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	stored, err := h.apps.GetApplication(context.Background(), clerk, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusInReview, stored.Status)
	require.NotNil(t, stored.ClaimedBy)
}

func TestClaimRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	app := waitingReview(t, h)

	_, err := h.queue.Claim(ctx, client, app.ID)
	assert.True(t, apperrors.IsForbidden(err))

	claimed, err := h.queue.Claim(ctx, clerk, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusInReview, claimed.Status)

	again, err := h.queue.Claim(ctx, clerk, app.ID)
	require.NoError(t, err)
	assert.Equal(t, claimed.Version, again.Version)

	_, err = h.queue.Claim(ctx, clerk2, app.ID)
	assert.True(t, apperrors.IsConflict(err))

	inProgress, err := h.apps.CreateApplication(ctx, client, draft(domain.PermitTypeSingleTripOverwt, 2))
	require.NoError(t, err)
	_, err = h.queue.Claim(ctx, clerk, inProgress.ID)
	assert.True(t, apperrors.IsConflict(err))

	_, err = h.queue.Claim(ctx, clerk, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRejectRequiresComment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	app := h.inReview(t, clerk)

	before, err := h.queue.ListActivity(ctx, clerk, app.ID)
	require.NoError(t, err)

	_, err = h.queue.Reject(ctx, clerk, app.ID, "   ")
	assert.True(t, apperrors.IsValidation(err))

	unchanged, err := h.queue.ListActivity(ctx, clerk, app.ID)
	require.NoError(t, err)
	assert.Len(t, unchanged, len(before))

	rejected, err := h.queue.Reject(ctx, clerk, app.ID, "route crosses a closed bridge")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusRejected, rejected.Status)

	after, err := h.queue.ListActivity(ctx, clerk, app.ID)
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)
	last := after[len(after)-1]
	assert.Equal(t, domain.QueueActivityRejected, last.Type)
	assert.Equal(t, "clerk-1", last.ActorID)
	require.NotNil(t, last.Comment)
	assert.Equal(t, "route crosses a closed bridge", *last.Comment)

	_, err = h.queue.Reject(ctx, clerk, app.ID, "twice")
	assert.True(t, apperrors.IsConflict(err))
}

func TestApproveRequiresClaimantOrElevatedRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	app := h.inReview(t, clerk)

	_, err := h.queue.Approve(ctx, clerk2, app.ID, "")
	assert.True(t, apperrors.IsConflict(err))
	_, err = h.queue.Reject(ctx, clerk2, app.ID, "not mine")
	assert.True(t, apperrors.IsConflict(err))

	approved, err := h.queue.Approve(ctx, supervisor, app.ID, "override")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusIssued, approved.Status)
	require.NotNil(t, approved.PermitNumber)

	activities, err := h.queue.ListActivity(ctx, supervisor, app.ID)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, domain.QueueActivityClaimed, activities[0].Type)
	assert.Equal(t, domain.QueueActivityApproved, activities[1].Type)
	assert.Len(t, h.eventsOfType(events.EventQueueActivityRecorded), 2)
}

func TestClaimantApproves(t *testing.T) {
	h := newHarness(t)
	app := h.inReview(t, clerk)

	approved, err := h.queue.Approve(context.Background(), clerk, app.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusIssued, approved.Status)
}

func TestUnclaimOnlyByClaimant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	app := h.inReview(t, clerk)

	_, err := h.queue.Unclaim(ctx, clerk2, app.ID)
	assert.True(t, apperrors.IsConflict(err))

	released, err := h.queue.Unclaim(ctx, clerk, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusWaitingReview, released.Status)
	assert.Nil(t, released.ClaimedBy)

	_, err = h.queue.Unclaim(ctx, clerk, app.ID)
	assert.True(t, apperrors.IsConflict(err))

	reclaimed, err := h.queue.Claim(ctx, clerk2, app.ID)
	require.NoError(t, err)
	require.NotNil(t, reclaimed.ClaimedBy)
	assert.Equal(t, "clerk-2", *reclaimed.ClaimedBy)
}

func TestListQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	waiting := waitingReview(t, h)
	claimed := h.inReview(t, clerk)
	h.issued(t, draft(domain.PermitTypeTermOversize, 30))

	_, err := h.queue.ListQueue(ctx, client, QueueFilter{})
	assert.True(t, apperrors.IsForbidden(err))

	all, err := h.queue.ListQueue(ctx, clerk, QueueFilter{})
	require.NoError(t, err)
	ids := []string{}
	for _, app := range all {
		ids = append(ids, app.ID)
	}
	assert.ElementsMatch(t, []string{waiting.ID, claimed.ID}, ids)

	mine, err := h.queue.ListQueue(ctx, clerk, QueueFilter{ClaimedBy: &clerk.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, claimed.ID, mine[0].ID)

	_, err = h.queue.ListQueue(ctx, clerk, QueueFilter{Statuses: []domain.ApplicationStatus{domain.ApplicationStatusIssued}})
	assert.True(t, apperrors.IsValidation(err))
}

func TestAmendmentApprovedInQueueSupersedesPrevious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	original := h.inReview(t, clerk)
	_, err := h.queue.Approve(ctx, clerk, original.ID, "")
	require.NoError(t, err)

	amendment, err := h.apps.Amend(ctx, client, original.PermitID, nil)
	require.NoError(t, err)
	_, err = h.apps.SubmitForPayment(ctx, client, amendment.ID)
	require.NoError(t, err)

	// Same duration, so nothing is owed and the amendment settles as ZERO.
	res := h.start(t, amendment.ID)
	assert.Equal(t, domain.TransactionTypeZero, res.Transaction.Type)

	_, err = h.queue.Claim(ctx, clerk, amendment.ID)
	require.NoError(t, err)
	_, err = h.queue.Approve(ctx, clerk, amendment.ID, "")
	require.NoError(t, err)

	previous, err := h.apps.GetApplication(ctx, client, original.ID)
	require.NoError(t, err)
	assert.True(t, previous.Superseded)
}
