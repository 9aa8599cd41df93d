package fee

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/permit-service/internal/domain"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func approved(v bool) *bool {
	return &v
}

func TestComputeFeeTermOversize(t *testing.T) {
	calc := NewCalculator(nil)

	cases := map[int]string{
		30:  "30",
		31:  "60",
		60:  "60",
		90:  "90",
		330: "330",
		360: "360",
		364: "360",
		365: "360",
	}
	for duration, want := range cases {
		got, err := calc.ComputeFee(domain.PermitTypeTermOversize, duration)
		require.NoError(t, err, "duration %d", duration)
		assert.True(t, dec(want).Equal(got), "duration %d: want %s got %s", duration, want, got)
	}
}

func TestComputeFeeRejectsOutOfRangeDurations(t *testing.T) {
	calc := NewCalculator(nil)

	for _, duration := range []int{0, -5, 29, 366} {
		_, err := calc.ComputeFee(domain.PermitTypeTermOversize, duration)
		require.Error(t, err, "duration %d", duration)
		assert.True(t, apperrors.IsValidation(err))
	}

	_, err := calc.ComputeFee(domain.PermitType("NOPE"), 30)
	assert.True(t, apperrors.IsValidation(err))
}

func TestComputeFeeIsMonotonicInDuration(t *testing.T) {
	calc := NewCalculator(nil)

	for _, pt := range calc.Table().PermitTypes() {
		policy, ok := calc.Table().Lookup(pt)
		require.True(t, ok)
		previous := decimal.Zero
		for d := policy.MinDuration; d <= policy.MaxDuration; d++ {
			first, err := calc.ComputeFee(pt, d)
			require.NoError(t, err)
			second, err := calc.ComputeFee(pt, d)
			require.NoError(t, err)
			assert.True(t, first.Equal(second), "%s/%d not deterministic", pt, d)
			assert.True(t, first.GreaterThanOrEqual(previous), "%s/%d decreased: %s < %s", pt, d, first, previous)
			previous = first
		}
	}
}

func TestComputeFeeForNoFeeCompany(t *testing.T) {
	calc := NewCalculator(nil)

	got, err := calc.ComputeFeeForCompany(domain.PermitTypeTermOverweight, 60, true)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = calc.ComputeFeeForCompany(domain.PermitTypeTermOverweight, 10, true)
	assert.True(t, apperrors.IsValidation(err))
}

func TestComputeAmendmentDelta(t *testing.T) {
	calc := NewCalculator(nil)

	oldFee, err := calc.ComputeFee(domain.PermitTypeTermOversize, 30)
	require.NoError(t, err)
	newFee, err := calc.ComputeFee(domain.PermitTypeTermOversize, 60)
	require.NoError(t, err)

	assert.True(t, dec("30").Equal(calc.ComputeAmendmentDelta(oldFee, newFee)))
	assert.True(t, dec("-30").Equal(calc.ComputeAmendmentDelta(newFee, oldFee)))
}

func TestComputeVoidRefund(t *testing.T) {
	calc := NewCalculator(nil)

	t.Run("single purchase", func(t *testing.T) {
		history := []domain.PermitHistoryEntry{
			{TransactionID: "t1", Type: domain.TransactionTypePurchase, Amount: dec("30"), Approved: approved(true)},
		}
		assert.True(t, dec("-30").Equal(calc.ComputeVoidRefund(history, false)))
	})

	t.Run("empty history", func(t *testing.T) {
		assert.True(t, calc.ComputeVoidRefund(nil, false).IsZero())
	})

	t.Run("all invalid", func(t *testing.T) {
		history := []domain.PermitHistoryEntry{
			{Type: domain.TransactionTypePurchase, Amount: dec("30"), Approved: nil},
			{Type: domain.TransactionTypePurchase, Amount: dec("45"), Approved: approved(false)},
			{Type: domain.TransactionTypeZero, Amount: decimal.Zero, Approved: approved(true)},
			{Type: domain.TransactionTypeRefund, Amount: dec("-30"), Approved: approved(true)},
		}
		assert.True(t, calc.ComputeVoidRefund(history, false).IsZero())
		assert.Empty(t, ValidHistory(history))
	})

	t.Run("purchase plus amendment charge", func(t *testing.T) {
		history := []domain.PermitHistoryEntry{
			{Type: domain.TransactionTypePurchase, Amount: dec("30"), Approved: approved(true)},
			{Type: domain.TransactionTypePurchase, Amount: dec("30"), Approved: approved(true)},
			{Type: domain.TransactionTypePurchase, Amount: dec("15"), Approved: approved(false)},
		}
		assert.True(t, dec("-60").Equal(calc.ComputeVoidRefund(history, false)))
	})

	t.Run("no fee company", func(t *testing.T) {
		history := []domain.PermitHistoryEntry{
			{Type: domain.TransactionTypePurchase, Amount: dec("30"), Approved: approved(true)},
		}
		assert.True(t, calc.ComputeVoidRefund(history, true).IsZero())
	})
}

func TestRepeatedCentArithmeticDoesNotDrift(t *testing.T) {
	calc := NewCalculator(NewTable([]Policy{{
		PermitType:  "CENTS",
		Basis:       BasisFlat,
		Rate:        dec("0.10"),
		MinDuration: 1,
		MaxDuration: 1,
	}}))

	history := make([]domain.PermitHistoryEntry, 0, 1000)
	for i := 0; i < 1000; i++ {
		amount, err := calc.ComputeFee("CENTS", 1)
		require.NoError(t, err)
		history = append(history, domain.PermitHistoryEntry{
			Type:     domain.TransactionTypePurchase,
			Amount:   amount,
			Approved: approved(true),
		})
	}
	assert.Equal(t, "-100", calc.ComputeVoidRefund(history, false).String())
}
