package revision

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/permit-service/internal/domain"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

func strPtr(s string) *string { return &s }

func rev(id string, number int, status domain.ApplicationStatus) *domain.PermitApplication {
	app := &domain.PermitApplication{
		ID:         id,
		PermitID:   "root",
		Revision:   number,
		Status:     status,
		CompanyID:  "c1",
		PermitType: domain.PermitTypeTermOversize,
		FeeSummary: decimal.NewFromInt(30),
		PermitData: domain.PermitData{Duration: 30, StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		CreatedAt:  time.Date(2026, 1, number, 0, 0, 0, 0, time.UTC),
	}
	if number > 1 {
		app.OriginalPermitID = strPtr("root")
		app.PreviousRevisionID = strPtr("root")
	}
	return app
}

func TestNewChainRequiresRevisions(t *testing.T) {
	_, err := NewChain("root", nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestResolveIssuedRootIsDisplayTarget(t *testing.T) {
	chain, err := NewChain("root", []*domain.PermitApplication{rev("root", 1, domain.ApplicationStatusIssued)})
	require.NoError(t, err)

	res, err := chain.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "root", res.Current.ID)
	assert.False(t, res.Editable)

	target, err := chain.IssuedTarget()
	require.NoError(t, err)
	assert.Equal(t, "root", target.ID)
}

func TestResolveSkipsCancelledAmendments(t *testing.T) {
	chain, err := NewChain("root", []*domain.PermitApplication{
		rev("a3", 3, domain.ApplicationStatusCancelled),
		rev("root", 1, domain.ApplicationStatusIssued),
		rev("a2", 2, domain.ApplicationStatusRejected),
	})
	require.NoError(t, err)

	res, err := chain.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "root", res.Current.ID)
	assert.Equal(t, 4, chain.NextRevision())
	assert.Nil(t, chain.Open())
}

func TestOpenAmendmentBlocksIssuedTarget(t *testing.T) {
	chain, err := NewChain("root", []*domain.PermitApplication{
		rev("root", 1, domain.ApplicationStatusIssued),
		rev("a2", 2, domain.ApplicationStatusInProgress),
	})
	require.NoError(t, err)

	res, err := chain.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "a2", res.Current.ID)
	assert.True(t, res.Editable)
	assert.Equal(t, "a2", chain.Open().ID)

	_, err = chain.IssuedTarget()
	assert.True(t, apperrors.IsConflict(err))
}

func TestSupersededRevisionIsNeverTarget(t *testing.T) {
	old := rev("root", 1, domain.ApplicationStatusIssued)
	old.Superseded = true
	chain, err := NewChain("root", []*domain.PermitApplication{old, rev("a2", 2, domain.ApplicationStatusIssued)})
	require.NoError(t, err)

	target, err := chain.IssuedTarget()
	require.NoError(t, err)
	assert.Equal(t, "a2", target.ID)
	assert.Nil(t, chain.Open())
}

func TestVoidedOrRevokedPermitIsNotTarget(t *testing.T) {
	for _, status := range []domain.ApplicationStatus{domain.ApplicationStatusVoided, domain.ApplicationStatusRevoked} {
		chain, err := NewChain("root", []*domain.PermitApplication{rev("root", 1, status)})
		require.NoError(t, err)
		_, err = chain.IssuedTarget()
		assert.True(t, apperrors.IsConflict(err), status)
	}
}

func TestUnissuedPermitIsNotTarget(t *testing.T) {
	chain, err := NewChain("root", []*domain.PermitApplication{rev("root", 1, domain.ApplicationStatusWaitingPayment)})
	require.NoError(t, err)
	_, err = chain.IssuedTarget()
	assert.True(t, apperrors.IsConflict(err))

	chain, err = NewChain("root", []*domain.PermitApplication{rev("root", 1, domain.ApplicationStatusCancelled)})
	require.NoError(t, err)
	_, err = chain.Resolve()
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAmendmentCopiesBaseline(t *testing.T) {
	issued := rev("root", 1, domain.ApplicationStatusIssued)
	issued.PermitData.Snapshot = []byte(`{"vehicle":"ABC123"}`)
	chain, err := NewChain("root", []*domain.PermitApplication{issued})
	require.NoError(t, err)

	amendment := chain.Amendment(issued, "u1")
	assert.Equal(t, "root", amendment.PermitID)
	assert.Equal(t, "root", *amendment.OriginalPermitID)
	assert.Equal(t, "root", *amendment.PreviousRevisionID)
	assert.Equal(t, 2, amendment.Revision)
	assert.Equal(t, domain.ApplicationStatusInProgress, amendment.Status)
	assert.JSONEq(t, `{"vehicle":"ABC123"}`, string(amendment.PermitData.Snapshot))

	amendment.PermitData.Snapshot[2] = 'X'
	assert.JSONEq(t, `{"vehicle":"ABC123"}`, string(issued.PermitData.Snapshot))
}
