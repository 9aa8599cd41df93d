package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/permit-service/internal/domain"
	"github.com/spec-kit/permit-service/internal/repository"
)

func newApp(id, permitID string, status domain.ApplicationStatus) *domain.PermitApplication {
	return &domain.PermitApplication{
		ID:         id,
		PermitID:   permitID,
		Revision:   1,
		CompanyID:  "c1",
		PermitType: domain.PermitTypeTermOversize,
		Status:     status,
		FeeSummary: decimal.NewFromInt(30),
	}
}

func TestUpdateRequiresCurrentVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Applications()

	app := newApp("a1", "a1", domain.ApplicationStatusInProgress)
	require.NoError(t, repo.Create(ctx, app))
	assert.Equal(t, 1, app.Version)

	first, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)

	first.Status = domain.ApplicationStatusWaitingPayment
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.Status = domain.ApplicationStatusCancelled
	assert.ErrorIs(t, repo.Update(ctx, second), repository.ErrStaleWrite)

	stored, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusWaitingPayment, stored.Status)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateRevisionRejectsSecondOpenRevision(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Applications()

	require.NoError(t, repo.Create(ctx, newApp("root", "root", domain.ApplicationStatusIssued)))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rev := newApp("rev-"+string(rune('a'+i)), "root", domain.ApplicationStatusInProgress)
			err := repo.CreateRevision(ctx, rev)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			assert.ErrorIs(t, err, repository.ErrOpenRevisionExists)
			conflicts++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, conflicts)

	revisions, err := repo.ListByPermit(ctx, "root")
	require.NoError(t, err)
	assert.Len(t, revisions, 2)
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Applications()
	require.NoError(t, repo.Create(ctx, newApp("a1", "a1", domain.ApplicationStatusWaitingReview)))

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, actor := range []string{"staff-1", "staff-2"} {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			_, err := repo.Claim(ctx, "a1", actor, time.Now())
			results <- err
		}(actor)
	}
	wg.Wait()
	close(results)

	var ok, claimed int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, repository.ErrAlreadyClaimed)
		claimed++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, claimed)

	stored, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusInReview, stored.Status)
	require.NotNil(t, stored.ClaimedBy)
}

func TestResolveOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Transactions()

	txn := &domain.Transaction{
		ID:     "t1",
		Type:   domain.TransactionTypePurchase,
		Amount: decimal.NewFromInt(75),
		Applications: []domain.TransactionApplication{
			{ApplicationID: "a1", Amount: decimal.NewFromInt(30)},
			{ApplicationID: "a2", Amount: decimal.NewFromInt(45)},
		},
	}
	require.NoError(t, repo.Create(ctx, txn))

	resolved, err := repo.Resolve(ctx, "t1", repository.Resolution{Approved: true, ResolvedAt: time.Now()})
	require.NoError(t, err)
	require.NotNil(t, resolved.Approved)
	assert.True(t, *resolved.Approved)

	_, err = repo.Resolve(ctx, "t1", repository.Resolution{Approved: false, ResolvedAt: time.Now()})
	assert.ErrorIs(t, err, repository.ErrAlreadyResolved)

	outcome := domain.TransactionOutcome{TransactionID: "t1", Approved: true, Success: []string{"a1", "a2"}}
	require.NoError(t, repo.SaveOutcome(ctx, "t1", outcome))
	assert.ErrorIs(t, repo.SaveOutcome(ctx, "t1", outcome), repository.ErrAlreadyResolved)

	stored, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, *stored.Approved)
	assert.Equal(t, []string{"a1", "a2"}, stored.Outcome.Success)

	history, err := repo.ListHistory(ctx, []string{"a2"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "45", history[0].Amount.String())
}

func TestAppendOnlyLogs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	comment := "missing route"
	require.NoError(t, store.QueueActivities().Create(ctx, &domain.QueueActivity{
		ID: "q1", ApplicationID: "a1", Type: domain.QueueActivityRejected, ActorID: "s1", Comment: &comment,
	}))
	entries, err := store.QueueActivities().ListByApplication(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].CreatedAt.IsZero())

	entries[0].Type = domain.QueueActivityApproved
	again, err := store.QueueActivities().ListByApplication(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.QueueActivityRejected, again[0].Type)

	require.NoError(t, store.History().Create(ctx, &domain.ApplicationHistory{ID: "h1", ApplicationID: "a1", NewStatus: domain.ApplicationStatusInProgress}))
	hist, err := store.History().ListByApplication(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestUpdateAndRecordIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	apps := store.Applications()
	txns := store.Transactions()

	app := newApp("a1", "a1", domain.ApplicationStatusIssued)
	require.NoError(t, apps.Create(ctx, app))

	approved := true
	existing := &domain.Transaction{ID: "t1", Type: domain.TransactionTypePurchase, Amount: decimal.NewFromInt(30), Approved: &approved,
		Applications: []domain.TransactionApplication{{ApplicationID: "a1", Amount: decimal.NewFromInt(30)}}}
	require.NoError(t, txns.Create(ctx, existing))

	voided := app.Clone()
	voided.Status = domain.ApplicationStatusVoided
	clash := &domain.Transaction{ID: "t1", Type: domain.TransactionTypeRefund, Amount: decimal.NewFromInt(-30),
		Applications: []domain.TransactionApplication{{ApplicationID: "a1", Amount: decimal.NewFromInt(-30)}}}
	assert.ErrorIs(t, apps.UpdateAndRecord(ctx, voided, clash), repository.ErrStaleWrite)

	stored, err := apps.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusIssued, stored.Status)
	assert.Equal(t, 1, stored.Version)

	stale := app.Clone()
	stale.Version = 7
	stale.Status = domain.ApplicationStatusVoided
	refund := &domain.Transaction{ID: "t2", Type: domain.TransactionTypeRefund, Amount: decimal.NewFromInt(-30),
		Applications: []domain.TransactionApplication{{ApplicationID: "a1", Amount: decimal.NewFromInt(-30)}}}
	assert.ErrorIs(t, apps.UpdateAndRecord(ctx, stale, refund), repository.ErrStaleWrite)
	_, err = txns.GetByID(ctx, "t2")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, apps.UpdateAndRecord(ctx, voided, refund))
	assert.Equal(t, 2, voided.Version)
	stored, err = apps.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusVoided, stored.Status)
	history, err := txns.ListHistory(ctx, []string{"a1"})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
