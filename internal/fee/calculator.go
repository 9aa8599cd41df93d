package fee

import (
	"github.com/shopspring/decimal"

	"github.com/spec-kit/permit-service/internal/domain"
	apperrors "github.com/spec-kit/permit-service/pkg/util"
)

// Calculator computes fees, amendment deltas and refunds. All arithmetic is
// done in decimal; amounts are rounded to cents only when a fee is produced.
type Calculator struct {
	table *Table
}

// NewCalculator builds a calculator over a policy table.
func NewCalculator(table *Table) *Calculator {
	if table == nil {
		table = DefaultTable()
	}
	return &Calculator{table: table}
}

// Table exposes the underlying policy table.
func (c *Calculator) Table() *Table {
	return c.table
}

// ComputeFee returns the base fee for a permit type and duration in days.
func (c *Calculator) ComputeFee(permitType domain.PermitType, duration int) (decimal.Decimal, error) {
	policy, err := c.policyFor(permitType, duration)
	if err != nil {
		return decimal.Zero, err
	}
	switch policy.Basis {
	case BasisFlat:
		return policy.Rate.Round(2), nil
	case BasisPeriod:
		return policy.Rate.Mul(decimal.NewFromInt(int64(periods(policy, duration)))).Round(2), nil
	default:
		return decimal.Zero, apperrors.NewInternalError(nil)
	}
}

// ComputeFeeForCompany applies the company no-fee designation on top of ComputeFee.
// Durations are still validated for exempt companies.
func (c *Calculator) ComputeFeeForCompany(permitType domain.PermitType, duration int, noFee bool) (decimal.Decimal, error) {
	amount, err := c.ComputeFee(permitType, duration)
	if err != nil {
		return decimal.Zero, err
	}
	if noFee {
		return decimal.Zero, nil
	}
	return amount, nil
}

// RequiresReview reports whether paid applications of this type wait for staff.
func (c *Calculator) RequiresReview(permitType domain.PermitType) bool {
	policy, ok := c.table.Lookup(permitType)
	return ok && policy.RequiresReview
}

// ComputeVoidRefund returns the negated sum of valid history amounts. A
// negative result is money returned to the customer.
func (c *Calculator) ComputeVoidRefund(history []domain.PermitHistoryEntry, noFee bool) decimal.Decimal {
	if noFee {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, entry := range history {
		if !entry.ValidForRefund() {
			continue
		}
		total = total.Add(entry.Amount)
	}
	return total.Neg()
}

// ComputeAmendmentDelta returns newFee - oldFee. Positive means more is owed.
func (c *Calculator) ComputeAmendmentDelta(oldFee, newFee decimal.Decimal) decimal.Decimal {
	return newFee.Sub(oldFee)
}

// ValidHistory filters the entries that count toward a refund.
func ValidHistory(history []domain.PermitHistoryEntry) []domain.PermitHistoryEntry {
	out := make([]domain.PermitHistoryEntry, 0, len(history))
	for _, entry := range history {
		if entry.ValidForRefund() {
			out = append(out, entry)
		}
	}
	return out
}

func (c *Calculator) policyFor(permitType domain.PermitType, duration int) (Policy, error) {
	policy, ok := c.table.Lookup(permitType)
	if !ok {
		return Policy{}, apperrors.NewValidationError("unknown permit type", map[string]any{"permit_type": permitType})
	}
	if duration <= 0 || duration < policy.MinDuration {
		return Policy{}, apperrors.NewValidationError("duration below minimum for permit type", map[string]any{
			"permit_type":  permitType,
			"duration":     duration,
			"min_duration": policy.MinDuration,
		})
	}
	if policy.MaxDuration > 0 && duration > policy.MaxDuration {
		return Policy{}, apperrors.NewValidationError("duration above maximum for permit type", map[string]any{
			"permit_type":  permitType,
			"duration":     duration,
			"max_duration": policy.MaxDuration,
		})
	}
	return policy, nil
}

// periods counts started billing periods. Thirty-day billing never charges
// more than twelve periods, so a full year costs twelve.
func periods(policy Policy, duration int) int {
	n := (duration + policy.PeriodDays - 1) / policy.PeriodDays
	if policy.PeriodDays == defaultPeriodDays && n > periodsPerYear {
		return periodsPerYear
	}
	return n
}
