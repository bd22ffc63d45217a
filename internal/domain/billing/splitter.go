package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/internal/domain/account"
	"github.com/medibill/medibill/internal/domain/coverage"
	"github.com/medibill/medibill/pkg/money"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrAccountData marks failures that need the account's data repaired
	// before the bill can be split.
	ErrAccountData = errors.New("account data needs repair")
	ErrConflict    = errors.New("conflicting bill state")

	ErrMissingPercentages = fmt.Errorf("%w: no split percentages configured", ErrInvalidInput)
	ErrInvalidPercentages = fmt.Errorf("%w: invalid split percentages", ErrInvalidInput)
	ErrNoMembers          = fmt.Errorf("%w: no members found for equal split", ErrAccountData)
	ErrNoAdults           = fmt.Errorf("%w: no adult members found for default split", ErrAccountData)
)

// Attribution controls how insurance coverage is reported on shares.
type Attribution string

const (
	// AttributeByMember credits each share with the coverage of that
	// member's own line items.
	AttributeByMember Attribution = "member"
	// AttributeAggregate repeats the bill's total coverage on every share.
	AttributeAggregate Attribution = "aggregate"
)

type Splitter struct {
	calc        *coverage.Calculator
	attribution Attribution
}

func NewSplitter(calc *coverage.Calculator, attribution Attribution) *Splitter {
	if attribution != AttributeAggregate {
		attribution = AttributeByMember
	}
	return &Splitter{calc: calc, attribution: attribution}
}

type SplitInput struct {
	Bill      *Bill
	LineItems []*LineItem
	// Members are the account members eligible for allocation, in order.
	Members []*account.Member
	Rules   account.SplitRules
	// Prior is what an earlier split of the same bill added to policy
	// accumulators; it is backed out before adjudicating.
	Prior []*Accumulation
}

// Adjudication pairs a line item with its coverage result.
type Adjudication struct {
	LineItemID uuid.UUID        `json:"line_item_id"`
	Coverage   *coverage.Result `json:"coverage"`
}

// Outcome is a fully computed split. Nothing is persisted until the caller
// applies it.
type Outcome struct {
	BillID                      uuid.UUID                    `json:"bill_id"`
	Strategy                    string                       `json:"strategy"`
	TotalInsuranceCovered       decimal.Decimal              `json:"total_insurance_covered"`
	TotalPersonalResponsibility decimal.Decimal              `json:"total_personal_responsibility"`
	Shares                      []*Share                     `json:"shares"`
	LineItems                   []*LineItem                  `json:"line_items"`
	Adjudications               []Adjudication               `json:"adjudications"`
	Accumulators                []coverage.AccumulatorChange `json:"-"`
}

// Split adjudicates every line item and allocates the personal
// responsibility across members.
func (s *Splitter) Split(ctx context.Context, in SplitInput) (*Outcome, error) {
	if in.Bill == nil {
		return nil, fmt.Errorf("%w: bill is required", ErrInvalidInput)
	}
	if len(in.LineItems) == 0 {
		return nil, fmt.Errorf("%w: bill %s has no line items", ErrInvalidInput, in.Bill.ID)
	}

	session := s.calc.NewSession()
	for _, a := range in.Prior {
		session.Exclude(a.PolicyID, a.Amount)
	}

	out := &Outcome{
		BillID:                      in.Bill.ID,
		TotalInsuranceCovered:       money.Zero,
		TotalPersonalResponsibility: money.Zero,
		LineItems:                   make([]*LineItem, 0, len(in.LineItems)),
		Adjudications:               make([]Adjudication, 0, len(in.LineItems)),
	}
	covered := make(map[uuid.UUID]decimal.Decimal)
	var coveredOrder []uuid.UUID

	for _, li := range in.LineItems {
		res, err := session.Calculate(ctx, coverage.Claim{
			MemberID:     li.MemberID,
			ServiceType:  li.ProcedureCode,
			ProviderID:   in.Bill.ProviderID,
			ServiceDate:  in.Bill.ServiceDate,
			BilledAmount: li.Amount,
		})
		if err != nil {
			return nil, fmt.Errorf("line item %s: %w", li.ID, err)
		}

		item := *li
		item.Covered = res.TotalCovered.IsPositive()
		item.CoveragePolicyID = nil
		if paying := res.PayingPolicy(); paying != nil {
			id := paying.PolicyID
			item.CoveragePolicyID = &id
		}
		item.RequiresPreauth = res.RequiresPreauth()
		out.LineItems = append(out.LineItems, &item)
		out.Adjudications = append(out.Adjudications, Adjudication{LineItemID: li.ID, Coverage: res})

		out.TotalInsuranceCovered = out.TotalInsuranceCovered.Add(res.TotalCovered)
		out.TotalPersonalResponsibility = out.TotalPersonalResponsibility.Add(res.PatientResponsibility)
		if _, ok := covered[li.MemberID]; !ok {
			coveredOrder = append(coveredOrder, li.MemberID)
			covered[li.MemberID] = money.Zero
		}
		covered[li.MemberID] = covered[li.MemberID].Add(res.TotalCovered)
	}

	strategy := StrategyFor(in.Rules)
	out.Strategy = strategy.Name()
	allocs, err := strategy.Allocate(out.TotalPersonalResponsibility, in.Members)
	if err != nil {
		return nil, err
	}
	out.Shares = s.shares(in.Bill.ID, allocs, covered, coveredOrder, out.TotalInsuranceCovered)
	out.Accumulators = session.Accumulators()
	return out, nil
}

func (s *Splitter) shares(billID uuid.UUID, allocs []Allocation, covered map[uuid.UUID]decimal.Decimal, coveredOrder []uuid.UUID, totalCovered decimal.Decimal) []*Share {
	shares := make([]*Share, 0, len(allocs))
	allocated := make(map[uuid.UUID]bool, len(allocs))
	for _, a := range allocs {
		allocated[a.MemberID] = true
		insurance := totalCovered
		original := a.Amount
		if s.attribution == AttributeByMember {
			insurance = money.Zero
			if c, ok := covered[a.MemberID]; ok {
				insurance = c
			}
			original = a.Amount.Add(insurance)
		}
		shares = append(shares, newShare(billID, a.MemberID, original, insurance, a.Amount))
	}
	if s.attribution != AttributeByMember {
		return shares
	}
	// Members outside the allocation still carry their own coverage.
	for _, memberID := range coveredOrder {
		if allocated[memberID] || !covered[memberID].IsPositive() {
			continue
		}
		shares = append(shares, newShare(billID, memberID, covered[memberID], covered[memberID], money.Zero))
	}
	return shares
}

func newShare(billID, memberID uuid.UUID, original, insurance, personal decimal.Decimal) *Share {
	return &Share{
		BillID:                 billID,
		MemberID:               memberID,
		OriginalAmount:         original,
		InsuranceCovered:       insurance,
		PersonalResponsibility: personal,
		AmountPaid:             money.Zero,
		Status:                 SharePending,
	}
}
