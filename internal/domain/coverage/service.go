package coverage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/internal/domain/account"
	"github.com/medibill/medibill/internal/platform/db"
	"github.com/medibill/medibill/internal/platform/telemetry"
)

var hundred = decimal.NewFromInt(100)

type Service struct {
	calc     *Calculator
	members  account.MemberRepository
	policies PolicyRepository
	rules    RuleRepository
	networks NetworkRepository
	tx       db.Transactor
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

func NewService(members account.MemberRepository, policies PolicyRepository, rules RuleRepository, networks NetworkRepository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		calc:     NewCalculator(NewRepoSource(members, policies, rules, networks)),
		members:  members,
		policies: policies,
		rules:    rules,
		networks: networks,
		tx:       tx,
		logger:   logger,
	}
}

// SetMetrics sets the optional metrics sink.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// Calculator exposes the repository-backed calculator to other domains.
func (s *Service) Calculator() *Calculator {
	return s.calc
}

func (s *Service) SetCalculator(c *Calculator) {
	s.calc = c
}

// -- Coverage --

func (s *Service) CalculateCoverage(ctx context.Context, claim Claim) (*Result, error) {
	res, err := s.calc.Calculate(ctx, claim)
	if err != nil {
		s.metrics.ObserveCoverage(0, err)
		return nil, err
	}
	s.metrics.ObserveCoverage(len(res.Coverages), nil)
	s.logger.Debug().
		Str("member_id", claim.MemberID.String()).
		Str("service_type", claim.ServiceType).
		Int("policies", len(res.Coverages)).
		Str("total_covered", res.TotalCovered.StringFixed(2)).
		Msg("coverage calculated")
	return res, nil
}

func (s *Service) GetMember(ctx context.Context, id uuid.UUID) (*account.Member, error) {
	return s.members.GetByID(ctx, id)
}

// -- Policies --

func (s *Service) CreatePolicy(ctx context.Context, p *Policy) error {
	if p.MemberID == uuid.Nil {
		return fmt.Errorf("member_id is required")
	}
	p.ProviderName = strings.TrimSpace(p.ProviderName)
	if p.ProviderName == "" {
		return fmt.Errorf("provider_name is required")
	}
	if p.PolicyNumber == "" {
		return fmt.Errorf("policy_number is required")
	}
	if p.EffectiveDate.IsZero() || p.ExpirationDate.IsZero() {
		return fmt.Errorf("effective_date and expiration_date are required")
	}
	if p.ExpirationDate.Before(p.EffectiveDate) {
		return fmt.Errorf("expiration_date must not precede effective_date")
	}
	if p.Deductible.IsNegative() || p.OutOfPocketMax.IsNegative() || p.Accumulated.IsNegative() {
		return fmt.Errorf("deductible, out_of_pocket_max and accumulated must not be negative")
	}
	if p.OutOfPocketMax.LessThan(p.Deductible) {
		return fmt.Errorf("out_of_pocket_max must not be less than deductible")
	}
	if _, err := s.members.GetByID(ctx, p.MemberID); err != nil {
		return err
	}
	return s.policies.Create(ctx, p)
}

func (s *Service) GetPolicy(ctx context.Context, id uuid.UUID) (*Policy, error) {
	return s.policies.GetByID(ctx, id)
}

func (s *Service) ListMemberPolicies(ctx context.Context, memberID uuid.UUID) ([]*Policy, error) {
	return s.policies.ListByMember(ctx, memberID)
}

// SetPrimaryPolicy makes the policy its member's only primary policy.
func (s *Service) SetPrimaryPolicy(ctx context.Context, id uuid.UUID) (*Policy, error) {
	var out *Policy
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.policies.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.policies.LockByMembers(ctx, []uuid.UUID{p.MemberID}); err != nil {
			return err
		}
		if err := s.policies.ClearPrimary(ctx, p.MemberID); err != nil {
			return err
		}
		if err := s.policies.MarkPrimary(ctx, p.ID); err != nil {
			return err
		}
		p.IsPrimary = true
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("policy_id", id.String()).Str("member_id", out.MemberID.String()).Msg("primary policy changed")
	return out, nil
}

// -- Rules & Networks --

func (s *Service) AddRule(ctx context.Context, r *Rule) error {
	if r.PolicyID == uuid.Nil {
		return fmt.Errorf("policy_id is required")
	}
	r.ServiceType = strings.TrimSpace(r.ServiceType)
	if r.ServiceType == "" {
		return fmt.Errorf("service_type is required")
	}
	if r.Category == "" {
		r.Category = CategoryGeneral
	}
	if r.Network == "" {
		r.Network = InNetwork
	}
	if r.Network != InNetwork && r.Network != OutNetwork {
		return fmt.Errorf("invalid network %q", r.Network)
	}
	if r.CoveragePercent.Valid {
		pct := r.CoveragePercent.Decimal
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return fmt.Errorf("coverage_percent must be between 0 and 100")
		}
	}
	if r.Copay.Valid && r.Copay.Decimal.IsNegative() {
		return fmt.Errorf("copay must not be negative")
	}
	return s.rules.Create(ctx, r)
}

func (s *Service) AddNetworkContract(ctx context.Context, c *NetworkContract) error {
	if c.PolicyID == uuid.Nil {
		return fmt.Errorf("policy_id is required")
	}
	c.ProviderID = strings.TrimSpace(c.ProviderID)
	if c.ProviderID == "" {
		return fmt.Errorf("provider_id is required")
	}
	if c.Status == "" {
		c.Status = InNetwork
	}
	if c.ContractStart.IsZero() {
		return fmt.Errorf("contract_start is required")
	}
	if c.ContractEnd != nil && c.ContractEnd.Before(c.ContractStart) {
		return fmt.Errorf("contract_end must not precede contract_start")
	}
	return s.networks.Create(ctx, c)
}
