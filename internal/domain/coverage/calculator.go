package coverage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/internal/domain/account"
	"github.com/medibill/medibill/pkg/dateutil"
	"github.com/medibill/medibill/pkg/money"
)

var (
	ErrInvalidClaim   = errors.New("invalid claim")
	ErrMemberNotFound = fmt.Errorf("%w: member does not exist", ErrInvalidClaim)
	ErrNoActivePolicy = fmt.Errorf("%w: member has no active insurance policy on the service date", ErrInvalidClaim)
)

// Source supplies the reference data a calculation reads. Implementations
// return account.ErrMemberNotFound for unknown members.
type Source interface {
	Member(ctx context.Context, id uuid.UUID) (*account.Member, error)
	Policies(ctx context.Context, memberID uuid.UUID) ([]*Policy, error)
	Rules(ctx context.Context, policyID uuid.UUID) ([]*Rule, error)
	Contracts(ctx context.Context, policyID uuid.UUID, providerID string) ([]*NetworkContract, error)
}

// Calculator apportions a claim across a member's active policies in
// coordination-of-benefits order.
type Calculator struct {
	src Source
	now func() time.Time
}

func NewCalculator(src Source) *Calculator {
	return &Calculator{src: src, now: time.Now}
}

// WithClock returns a copy of the calculator that reads today's date from now.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	cc := *c
	cc.now = now
	return &cc
}

// Calculate adjudicates a single claim in a fresh session.
func (c *Calculator) Calculate(ctx context.Context, claim Claim) (*Result, error) {
	return c.NewSession().Calculate(ctx, claim)
}

// NewSession starts a run that shares network lookups and carries policy
// accumulators from one claim to the next.
func (c *Calculator) NewSession() *Session {
	return &Session{
		calc:        c,
		networks:    make(map[networkKey]Network),
		rules:       make(map[uuid.UUID][]*Rule),
		excluded:    make(map[uuid.UUID]decimal.Decimal),
		baseline:    make(map[uuid.UUID]decimal.Decimal),
		accumulated: make(map[uuid.UUID]decimal.Decimal),
	}
}

type networkKey struct {
	policyID   uuid.UUID
	providerID string
}

// Session is not safe for concurrent use.
type Session struct {
	calc     *Calculator
	networks map[networkKey]Network
	rules    map[uuid.UUID][]*Rule

	excluded    map[uuid.UUID]decimal.Decimal
	baseline    map[uuid.UUID]decimal.Decimal
	accumulated map[uuid.UUID]decimal.Decimal
	order       []uuid.UUID
}

// AccumulatorChange is the movement of one policy's out-of-pocket
// accumulator over a session.
type AccumulatorChange struct {
	PolicyID uuid.UUID
	Before   decimal.Decimal
	After    decimal.Decimal
}

func (a AccumulatorChange) Contribution() decimal.Decimal {
	return a.After.Sub(a.Before)
}

// Exclude backs an earlier contribution out of a policy's stored
// accumulator. It must be called before the policy is first evaluated.
func (s *Session) Exclude(policyID uuid.UUID, amount decimal.Decimal) {
	s.excluded[policyID] = s.excluded[policyID].Add(amount)
}

// Accumulators lists every policy evaluated in the session, in evaluation order.
func (s *Session) Accumulators() []AccumulatorChange {
	out := make([]AccumulatorChange, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, AccumulatorChange{PolicyID: id, Before: s.baseline[id], After: s.accumulated[id]})
	}
	return out
}

func (s *Session) Calculate(ctx context.Context, claim Claim) (*Result, error) {
	claim, err := s.calc.validate(claim)
	if err != nil {
		return nil, err
	}

	if _, err := s.calc.src.Member(ctx, claim.MemberID); err != nil {
		if errors.Is(err, account.ErrMemberNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, claim.MemberID)
		}
		return nil, fmt.Errorf("load member %s: %w", claim.MemberID, err)
	}

	policies, err := s.calc.src.Policies(ctx, claim.MemberID)
	if err != nil {
		return nil, fmt.Errorf("load policies for member %s: %w", claim.MemberID, err)
	}
	active := ActivePolicies(policies, claim.ServiceDate)
	if len(active) == 0 {
		return nil, ErrNoActivePolicy
	}

	result := &Result{
		TotalBilled:  claim.BilledAmount,
		Coverages:    []PolicyResult{},
		TotalCovered: money.Zero,
	}
	remaining := claim.BilledAmount
	for _, p := range active {
		if !remaining.IsPositive() {
			break
		}
		tier, err := s.network(ctx, p.ID, claim.ProviderID, claim.ServiceDate)
		if err != nil {
			return nil, err
		}
		rules, err := s.policyRules(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		acc := s.accumulatorFor(p)

		var pr PolicyResult
		if rule, ok := Resolve(rules, claim.ServiceType, claim.Category, tier); ok {
			pr = adjudicate(p, rule, tier, acc, remaining)
		} else {
			pr = uncovered(p, tier, acc, remaining)
		}
		s.accumulated[p.ID] = pr.AccumulatedAfter

		result.Coverages = append(result.Coverages, pr)
		result.TotalCovered = result.TotalCovered.Add(pr.TotalCovered)
		remaining = remaining.Sub(pr.TotalCovered)
	}
	result.PatientResponsibility = remaining
	return result, nil
}

func (c *Calculator) validate(claim Claim) (Claim, error) {
	claim.ServiceType = strings.TrimSpace(claim.ServiceType)
	claim.ProviderID = strings.TrimSpace(claim.ProviderID)
	switch {
	case !claim.BilledAmount.IsPositive():
		return claim, fmt.Errorf("%w: billed amount must be positive", ErrInvalidClaim)
	case claim.ServiceDate.IsZero():
		return claim, fmt.Errorf("%w: service date is required", ErrInvalidClaim)
	case dateutil.After(claim.ServiceDate, c.now()):
		return claim, fmt.Errorf("%w: service date cannot be in the future", ErrInvalidClaim)
	case claim.MemberID == uuid.Nil:
		return claim, fmt.Errorf("%w: member id is required", ErrInvalidClaim)
	case claim.ServiceType == "":
		return claim, fmt.Errorf("%w: service type is required", ErrInvalidClaim)
	case claim.ProviderID == "":
		return claim, fmt.Errorf("%w: provider id is required", ErrInvalidClaim)
	}
	claim.ServiceDate = dateutil.Day(claim.ServiceDate)
	return claim, nil
}

// ActivePolicies filters the policies in force on day and orders them for
// coordination of benefits: primary first, then the most recently effective,
// then by id.
func ActivePolicies(policies []*Policy, day time.Time) []*Policy {
	active := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if p.ActiveOn(day) {
			active = append(active, p)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.IsPrimary != b.IsPrimary {
			return a.IsPrimary
		}
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.After(b.EffectiveDate)
		}
		return a.ID.String() < b.ID.String()
	})
	return active
}

func (s *Session) network(ctx context.Context, policyID uuid.UUID, providerID string, day time.Time) (Network, error) {
	key := networkKey{policyID: policyID, providerID: providerID}
	if tier, ok := s.networks[key]; ok {
		return tier, nil
	}
	contracts, err := s.calc.src.Contracts(ctx, policyID, providerID)
	if err != nil {
		return "", fmt.Errorf("load network contracts for policy %s: %w", policyID, err)
	}
	tier := NetworkStatus(contracts, providerID, day)
	s.networks[key] = tier
	return tier, nil
}

func (s *Session) policyRules(ctx context.Context, policyID uuid.UUID) ([]*Rule, error) {
	if rules, ok := s.rules[policyID]; ok {
		return rules, nil
	}
	rules, err := s.calc.src.Rules(ctx, policyID)
	if err != nil {
		return nil, fmt.Errorf("load coverage rules for policy %s: %w", policyID, err)
	}
	s.rules[policyID] = rules
	return rules, nil
}

func (s *Session) accumulatorFor(p *Policy) decimal.Decimal {
	if acc, ok := s.accumulated[p.ID]; ok {
		return acc
	}
	base := money.NonNegative(p.Accumulated.Sub(s.excluded[p.ID]))
	s.baseline[p.ID] = base
	s.accumulated[p.ID] = base
	s.order = append(s.order, p.ID)
	return base
}

func newPolicyResult(p *Policy, tier Network, acc decimal.Decimal) PolicyResult {
	return PolicyResult{
		PolicyID:           p.ID,
		ProviderName:       p.ProviderName,
		IsPrimary:          p.IsPrimary,
		Network:            tier,
		DeductibleApplied:  money.Zero,
		CopayApplied:       money.Zero,
		CoinsuranceApplied: money.Zero,
		PatientShare:       money.Zero,
		TotalCovered:       money.Zero,
		AccumulatedBefore:  acc,
		AccumulatedAfter:   acc,
	}
}

// uncovered is the result for a policy with no applicable rule: it pays
// nothing and leaves its accumulator untouched.
func uncovered(p *Policy, tier Network, acc, remaining decimal.Decimal) PolicyResult {
	pr := newPolicyResult(p, tier, acc)
	pr.PatientResponsibility = remaining
	pr.RemainingDeductible = money.NonNegative(p.Deductible.Sub(acc))
	return pr
}

// adjudicate applies one rule to the amount still unpaid: deductible, then
// copay, then coinsurance bounded by the out-of-pocket maximum.
func adjudicate(p *Policy, rule *Rule, tier Network, acc, remaining decimal.Decimal) PolicyResult {
	pr := newPolicyResult(p, tier, acc)
	ruleID := rule.ID
	pr.RuleID = &ruleID
	pr.RequiresPreauth = rule.RequiresPreauth

	deductible := money.Min(money.NonNegative(p.Deductible.Sub(acc)), remaining)
	r := remaining.Sub(deductible)

	copay := money.Zero
	if rule.Copay.Valid && rule.Copay.Decimal.IsPositive() {
		copay = money.Min(rule.Copay.Decimal, r)
		r = r.Sub(copay)
	}

	insurance, patient := money.Zero, r
	if rule.CoveragePercent.Valid {
		insurance = money.Min(money.Round(money.Percent(r, rule.CoveragePercent.Decimal)), r)
		patient = r.Sub(insurance)
		if acc.Add(deductible).Add(patient).GreaterThan(p.OutOfPocketMax) {
			patient = money.NonNegative(p.OutOfPocketMax.Sub(acc).Sub(deductible))
			insurance = r.Sub(patient)
		}
	}

	after := acc.Add(deductible).Add(patient)
	after = money.Min(after, money.Max(p.OutOfPocketMax, acc))

	pr.DeductibleApplied = deductible
	pr.CopayApplied = copay
	pr.CoinsuranceApplied = insurance
	pr.PatientShare = patient
	pr.TotalCovered = insurance
	pr.PatientResponsibility = remaining.Sub(insurance)
	pr.RemainingDeductible = money.NonNegative(p.Deductible.Sub(acc.Add(deductible)))
	pr.AccumulatedAfter = after
	return pr
}
