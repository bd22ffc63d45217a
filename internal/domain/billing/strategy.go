package billing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/internal/domain/account"
	"github.com/medibill/medibill/pkg/money"
)

// Allocation is one member's slice of the personal responsibility.
type Allocation struct {
	MemberID uuid.UUID
	Amount   decimal.Decimal
}

// Strategy allocates an amount across account members. Allocations are in
// member order and always sum to the amount exactly.
type Strategy interface {
	Name() string
	Allocate(total decimal.Decimal, members []*account.Member) ([]Allocation, error)
}

// StrategyFor selects the allocation strategy for the account's split rules.
// Unknown methods use the adults-only split.
func StrategyFor(rules account.SplitRules) Strategy {
	switch rules.Method {
	case account.SplitEqual:
		return equalSplit{}
	case account.SplitPercentage:
		return percentageSplit{percentages: rules.Percentages}
	default:
		return adultSplit{}
	}
}

type equalSplit struct{}

func (equalSplit) Name() string { return string(account.SplitEqual) }

func (equalSplit) Allocate(total decimal.Decimal, members []*account.Member) ([]Allocation, error) {
	if len(members) == 0 {
		return nil, ErrNoMembers
	}
	return evenly(total, members), nil
}

type adultSplit struct{}

func (adultSplit) Name() string { return string(account.SplitDefault) }

func (adultSplit) Allocate(total decimal.Decimal, members []*account.Member) ([]Allocation, error) {
	var adults []*account.Member
	for _, m := range members {
		if m.Relationship.IsAdult() {
			adults = append(adults, m)
		}
	}
	if len(adults) == 0 {
		return nil, ErrNoAdults
	}
	return evenly(total, adults), nil
}

type percentageSplit struct {
	percentages map[string]decimal.Decimal
}

func (percentageSplit) Name() string { return string(account.SplitPercentage) }

func (s percentageSplit) Allocate(total decimal.Decimal, members []*account.Member) ([]Allocation, error) {
	if len(s.percentages) == 0 {
		return nil, ErrMissingPercentages
	}
	known := make(map[string]bool, len(members))
	for _, m := range members {
		known[m.ID.String()] = true
	}
	sum := decimal.Zero
	for key, pct := range s.percentages {
		if !known[key] {
			return nil, fmt.Errorf("%w: %s is not a member of the account", ErrInvalidPercentages, key)
		}
		if pct.IsNegative() {
			return nil, fmt.Errorf("%w: negative percentage for member %s", ErrInvalidPercentages, key)
		}
		sum = sum.Add(pct)
	}
	if !sum.Equal(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: percentages sum to %s, expected 100", ErrInvalidPercentages, sum.String())
	}

	pcts := make([]decimal.Decimal, len(members))
	for i, m := range members {
		pcts[i] = s.percentages[m.ID.String()]
	}
	amounts := money.SplitByPercent(total, pcts)
	out := make([]Allocation, len(members))
	for i, m := range members {
		out[i] = Allocation{MemberID: m.ID, Amount: amounts[i]}
	}
	return out, nil
}

func evenly(total decimal.Decimal, members []*account.Member) []Allocation {
	amounts := money.SplitEven(total, len(members))
	out := make([]Allocation, len(members))
	for i, m := range members {
		out[i] = Allocation{MemberID: m.ID, Amount: amounts[i]}
	}
	return out
}
