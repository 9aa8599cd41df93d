package fee

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/permit-service/internal/domain"
)

// Basis selects how a policy turns a duration into a fee.
type Basis string

const (
	// BasisPeriod charges Rate for every started PeriodDays block.
	BasisPeriod Basis = "PERIOD"
	// BasisFlat charges Rate regardless of duration.
	BasisFlat Basis = "FLAT"
)

const (
	defaultPeriodDays = 30
	yearDays          = 365
	periodsPerYear    = 12
)

// Policy is one row of the fee policy table.
type Policy struct {
	PermitType     domain.PermitType
	Basis          Basis
	Rate           decimal.Decimal
	PeriodDays     int
	MinDuration    int
	MaxDuration    int
	RequiresReview bool
}

// Table maps permit types to their fee policies.
type Table struct {
	policies map[domain.PermitType]Policy
}

// DefaultTable returns the built-in fee schedule.
func DefaultTable() *Table {
	return NewTable([]Policy{
		{
			PermitType:  domain.PermitTypeTermOversize,
			Basis:       BasisPeriod,
			Rate:        decimal.NewFromInt(30),
			PeriodDays:  defaultPeriodDays,
			MinDuration: 30,
			MaxDuration: yearDays,
		},
		{
			PermitType:  domain.PermitTypeTermOverweight,
			Basis:       BasisPeriod,
			Rate:        decimal.NewFromInt(100),
			PeriodDays:  defaultPeriodDays,
			MinDuration: 30,
			MaxDuration: yearDays,
		},
		{
			PermitType:     domain.PermitTypeSingleTripOversize,
			Basis:          BasisFlat,
			Rate:           decimal.NewFromInt(15),
			MinDuration:    1,
			MaxDuration:    7,
			RequiresReview: true,
		},
		{
			PermitType:     domain.PermitTypeSingleTripOverwt,
			Basis:          BasisFlat,
			Rate:           decimal.NewFromInt(15),
			MinDuration:    1,
			MaxDuration:    7,
			RequiresReview: true,
		},
	})
}

// NewTable builds a table from explicit policies.
func NewTable(policies []Policy) *Table {
	t := &Table{policies: make(map[domain.PermitType]Policy, len(policies))}
	for _, p := range policies {
		t.policies[p.PermitType] = p
	}
	return t
}

// Lookup returns the policy for a permit type.
func (t *Table) Lookup(permitType domain.PermitType) (Policy, bool) {
	p, ok := t.policies[permitType]
	return p, ok
}

// PermitTypes lists every configured permit type.
func (t *Table) PermitTypes() []domain.PermitType {
	out := make([]domain.PermitType, 0, len(t.policies))
	for _, pt := range domain.AllPermitTypes {
		if _, ok := t.policies[pt]; ok {
			out = append(out, pt)
		}
	}
	for pt := range t.policies {
		if !containsType(out, pt) {
			out = append(out, pt)
		}
	}
	return out
}

func containsType(list []domain.PermitType, pt domain.PermitType) bool {
	for _, candidate := range list {
		if candidate == pt {
			return true
		}
	}
	return false
}

type policyFile struct {
	Policies []policyEntry `yaml:"policies"`
}

type policyEntry struct {
	PermitType     string `yaml:"permit_type"`
	Basis          string `yaml:"basis"`
	Rate           string `yaml:"rate"`
	PeriodDays     int    `yaml:"period_days"`
	MinDuration    int    `yaml:"min_duration"`
	MaxDuration    int    `yaml:"max_duration"`
	RequiresReview bool   `yaml:"requires_review"`
}

// LoadTable reads a YAML policy file and merges it over the defaults. An
// empty path returns the defaults unchanged.
func LoadTable(path string) (*Table, error) {
	table := DefaultTable()
	if path == "" {
		return table, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fee policy file: %w", err)
	}
	return table.merge(content)
}

// ParseTable merges YAML policy content over the defaults.
func ParseTable(content []byte) (*Table, error) {
	return DefaultTable().merge(content)
}

func (t *Table) merge(content []byte) (*Table, error) {
	var file policyFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse fee policy file: %w", err)
	}
	for _, entry := range file.Policies {
		p, err := entry.toPolicy()
		if err != nil {
			return nil, err
		}
		t.policies[p.PermitType] = p
	}
	return t, nil
}

func (e policyEntry) toPolicy() (Policy, error) {
	if e.PermitType == "" {
		return Policy{}, fmt.Errorf("fee policy: permit_type required")
	}
	rate, err := decimal.NewFromString(e.Rate)
	if err != nil {
		return Policy{}, fmt.Errorf("fee policy %s: invalid rate %q: %w", e.PermitType, e.Rate, err)
	}
	if rate.IsNegative() {
		return Policy{}, fmt.Errorf("fee policy %s: rate must not be negative", e.PermitType)
	}
	p := Policy{
		PermitType:     domain.PermitType(e.PermitType),
		Basis:          Basis(e.Basis),
		Rate:           rate,
		PeriodDays:     e.PeriodDays,
		MinDuration:    e.MinDuration,
		MaxDuration:    e.MaxDuration,
		RequiresReview: e.RequiresReview,
	}
	switch p.Basis {
	case BasisPeriod:
		if p.PeriodDays <= 0 {
			p.PeriodDays = defaultPeriodDays
		}
	case BasisFlat:
	default:
		return Policy{}, fmt.Errorf("fee policy %s: unknown basis %q", e.PermitType, e.Basis)
	}
	if p.MinDuration <= 0 {
		return Policy{}, fmt.Errorf("fee policy %s: min_duration must be positive", e.PermitType)
	}
	if p.MaxDuration != 0 && p.MaxDuration < p.MinDuration {
		return Policy{}, fmt.Errorf("fee policy %s: max_duration below min_duration", e.PermitType)
	}
	return p, nil
}
