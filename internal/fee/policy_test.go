package fee

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/permit-service/internal/domain"
)

func TestDefaultTableReviewFlags(t *testing.T) {
	calc := NewCalculator(DefaultTable())

	assert.False(t, calc.RequiresReview(domain.PermitTypeTermOversize))
	assert.False(t, calc.RequiresReview(domain.PermitTypeTermOverweight))
	assert.True(t, calc.RequiresReview(domain.PermitTypeSingleTripOversize))
	assert.True(t, calc.RequiresReview(domain.PermitTypeSingleTripOverwt))
	assert.False(t, calc.RequiresReview("UNKNOWN"))
}

func TestParseTableOverridesDefaults(t *testing.T) {
	table, err := ParseTable([]byte(`
policies:
  - permit_type: TROS
    basis: PERIOD
    rate: "35.50"
    min_duration: 30
    max_duration: 365
  - permit_type: HC
    basis: FLAT
    rate: "15"
    min_duration: 1
    max_duration: 1
    requires_review: true
`))
	require.NoError(t, err)

	calc := NewCalculator(table)
	got, err := calc.ComputeFee(domain.PermitTypeTermOversize, 60)
	require.NoError(t, err)
	assert.Equal(t, "71", got.String())

	got, err = calc.ComputeFee("HC", 1)
	require.NoError(t, err)
	assert.Equal(t, "15", got.String())
	assert.True(t, calc.RequiresReview("HC"))

	got, err = calc.ComputeFee(domain.PermitTypeTermOverweight, 30)
	require.NoError(t, err)
	assert.Equal(t, "100", got.String())
}

func TestParseTableRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"bad rate":      "policies:\n  - {permit_type: X, basis: FLAT, rate: abc, min_duration: 1}\n",
		"negative rate": "policies:\n  - {permit_type: X, basis: FLAT, rate: \"-1\", min_duration: 1}\n",
		"bad basis":     "policies:\n  - {permit_type: X, basis: WEEKLY, rate: \"1\", min_duration: 1}\n",
		"no min":        "policies:\n  - {permit_type: X, basis: FLAT, rate: \"1\"}\n",
		"max below min": "policies:\n  - {permit_type: X, basis: FLAT, rate: \"1\", min_duration: 5, max_duration: 2}\n",
		"missing type":  "policies:\n  - {basis: FLAT, rate: \"1\", min_duration: 1}\n",
	}
	for name, content := range cases {
		_, err := ParseTable([]byte(content))
		assert.Error(t, err, name)
	}
}

func TestLoadTableFromFile(t *testing.T) {
	table, err := LoadTable("")
	require.NoError(t, err)
	_, ok := table.Lookup(domain.PermitTypeTermOversize)
	assert.True(t, ok)

	path := filepath.Join(t.TempDir(), "fees.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policies:\n  - {permit_type: STOS, basis: FLAT, rate: \"20\", min_duration: 1, max_duration: 7}\n"), 0o600))
	table, err = LoadTable(path)
	require.NoError(t, err)
	policy, ok := table.Lookup(domain.PermitTypeSingleTripOversize)
	require.True(t, ok)
	assert.Equal(t, "20", policy.Rate.String())
	assert.False(t, policy.RequiresReview)

	_, err = LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
