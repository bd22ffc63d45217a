// Package sandbox loads demo and test data: hand-written JSON fixtures or
// reproducible synthetic families produced by DataGenerator.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/internal/domain/account"
	"github.com/medibill/medibill/internal/domain/billing"
	"github.com/medibill/medibill/internal/domain/coverage"
	"github.com/medibill/medibill/internal/platform/db"
	"github.com/medibill/medibill/pkg/dateutil"
)

// AccountWriter is satisfied by *account.Service.
type AccountWriter interface {
	CreateAccount(ctx context.Context, a *account.Account) error
	AddMember(ctx context.Context, m *account.Member) error
}

// CoverageWriter is satisfied by *coverage.Service.
type CoverageWriter interface {
	CreatePolicy(ctx context.Context, p *coverage.Policy) error
	AddRule(ctx context.Context, r *coverage.Rule) error
	AddNetworkContract(ctx context.Context, c *coverage.NetworkContract) error
}

// BillWriter is satisfied by *billing.Service.
type BillWriter interface {
	CreateBill(ctx context.Context, b *billing.Bill, items []*billing.LineItem) error
}

// SeedResult summarizes what a load created.
type SeedResult struct {
	Accounts   int           `json:"accounts"`
	Members    int           `json:"members"`
	Policies   int           `json:"policies"`
	Rules      int           `json:"rules"`
	Contracts  int           `json:"contracts"`
	Bills      int           `json:"bills"`
	LineItems  int           `json:"line_items"`
	AccountIDs []uuid.UUID   `json:"account_ids"`
	Duration   time.Duration `json:"duration_ns"`
}

// Seeder writes fixtures through the domain services so every record passes
// the same validation as API input. Each account is loaded in its own
// transaction.
type Seeder struct {
	accounts AccountWriter
	coverage CoverageWriter
	bills    BillWriter
	tx       db.Transactor
	logger   zerolog.Logger
}

func NewSeeder(accounts AccountWriter, cov CoverageWriter, bills BillWriter, tx db.Transactor, logger zerolog.Logger) *Seeder {
	return &Seeder{accounts: accounts, coverage: cov, bills: bills, tx: tx, logger: logger}
}

func (s *Seeder) Load(ctx context.Context, f *Fixture) (*SeedResult, error) {
	start := time.Now()
	res := &SeedResult{AccountIDs: []uuid.UUID{}}
	for i := range f.Accounts {
		af := &f.Accounts[i]
		err := s.tx.InTx(ctx, func(ctx context.Context) error {
			return s.loadAccount(ctx, af, res)
		})
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", af.Name, err)
		}
	}
	res.Duration = time.Since(start)
	s.logger.Info().
		Int("accounts", res.Accounts).
		Int("members", res.Members).
		Int("policies", res.Policies).
		Int("bills", res.Bills).
		Dur("duration", res.Duration).
		Msg("fixture loaded")
	return res, nil
}

func (s *Seeder) loadAccount(ctx context.Context, af *AccountFixture, res *SeedResult) error {
	// Member ids are assigned up front so split percentages can refer to them.
	ids := make(map[string]uuid.UUID, len(af.Members))
	for _, mf := range af.Members {
		if mf.Key == "" {
			return fmt.Errorf("member %q has no key", mf.Name)
		}
		if _, dup := ids[mf.Key]; dup {
			return fmt.Errorf("duplicate member key %q", mf.Key)
		}
		ids[mf.Key] = uuid.New()
	}

	acct := &account.Account{
		Name:       af.Name,
		SplitRules: account.SplitRules{Method: account.SplitMethod(strings.ToUpper(af.SplitMethod))},
	}
	if len(af.Percentages) > 0 {
		acct.SplitRules.Percentages = make(map[string]decimal.Decimal, len(af.Percentages))
		for key, pct := range af.Percentages {
			id, ok := ids[key]
			if !ok {
				return fmt.Errorf("percentage for unknown member %q", key)
			}
			acct.SplitRules.Percentages[id.String()] = pct
		}
	}
	if err := s.accounts.CreateAccount(ctx, acct); err != nil {
		return err
	}
	res.Accounts++
	res.AccountIDs = append(res.AccountIDs, acct.ID)

	for _, mf := range af.Members {
		m := &account.Member{
			ID:           ids[mf.Key],
			AccountID:    acct.ID,
			Name:         mf.Name,
			Email:        mf.Email,
			Relationship: account.Relationship(strings.ToUpper(mf.Relationship)),
			AccessLevel:  account.AccessLevel(strings.ToUpper(mf.AccessLevel)),
			Active:       !mf.Inactive,
		}
		if err := s.accounts.AddMember(ctx, m); err != nil {
			return fmt.Errorf("member %q: %w", mf.Key, err)
		}
		res.Members++
	}

	for _, pf := range af.Policies {
		if err := s.loadPolicy(ctx, pf, ids, res); err != nil {
			return fmt.Errorf("policy %q: %w", pf.PolicyNumber, err)
		}
	}
	for i, bf := range af.Bills {
		if err := s.loadBill(ctx, acct.ID, bf, ids, res); err != nil {
			return fmt.Errorf("bill %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Seeder) loadPolicy(ctx context.Context, pf PolicyFixture, ids map[string]uuid.UUID, res *SeedResult) error {
	memberID, ok := ids[pf.Member]
	if !ok {
		return fmt.Errorf("unknown member %q", pf.Member)
	}
	effective, err := dateutil.Parse(pf.EffectiveDate)
	if err != nil {
		return fmt.Errorf("effective_date: %w", err)
	}
	expiration, err := dateutil.Parse(pf.ExpirationDate)
	if err != nil {
		return fmt.Errorf("expiration_date: %w", err)
	}
	p := &coverage.Policy{
		MemberID:       memberID,
		ProviderName:   pf.ProviderName,
		PolicyNumber:   pf.PolicyNumber,
		PlanType:       coverage.PlanType(strings.ToUpper(pf.PlanType)),
		EffectiveDate:  effective,
		ExpirationDate: expiration,
		IsPrimary:      pf.Primary,
		Deductible:     pf.Deductible,
		OutOfPocketMax: pf.OutOfPocketMax,
		Accumulated:    pf.Accumulated,
	}
	if err := s.coverage.CreatePolicy(ctx, p); err != nil {
		return err
	}
	res.Policies++

	for _, rf := range pf.Rules {
		r := &coverage.Rule{
			PolicyID:        p.ID,
			ServiceType:     rf.ServiceType,
			Category:        coverage.Category(strings.ToUpper(rf.Category)),
			CoveragePercent: rf.CoveragePercent,
			Copay:           rf.Copay,
			Network:         coverage.Network(strings.ToUpper(rf.Network)),
			RequiresPreauth: rf.RequiresPreauth,
		}
		if err := s.coverage.AddRule(ctx, r); err != nil {
			return fmt.Errorf("rule %q: %w", rf.ServiceType, err)
		}
		res.Rules++
	}

	for _, cf := range pf.Contracts {
		c := &coverage.NetworkContract{
			PolicyID:     p.ID,
			ProviderID:   cf.ProviderID,
			ProviderName: cf.ProviderName,
			Status:       coverage.Network(strings.ToUpper(cf.Status)),
		}
		if c.ContractStart, err = dateutil.Parse(cf.ContractStart); err != nil {
			return fmt.Errorf("contract_start: %w", err)
		}
		if cf.ContractEnd != "" {
			end, err := dateutil.Parse(cf.ContractEnd)
			if err != nil {
				return fmt.Errorf("contract_end: %w", err)
			}
			c.ContractEnd = &end
		}
		if err := s.coverage.AddNetworkContract(ctx, c); err != nil {
			return fmt.Errorf("contract %q: %w", cf.ProviderID, err)
		}
		res.Contracts++
	}
	return nil
}

func (s *Seeder) loadBill(ctx context.Context, accountID uuid.UUID, bf BillFixture, ids map[string]uuid.UUID, res *SeedResult) error {
	serviceDate, err := dateutil.Parse(bf.ServiceDate)
	if err != nil {
		return fmt.Errorf("service_date: %w", err)
	}
	b := &billing.Bill{
		AccountID:    accountID,
		ProviderName: bf.ProviderName,
		ProviderID:   bf.ProviderID,
		ServiceDate:  serviceDate,
	}
	if bf.DueDate != "" {
		due, err := dateutil.Parse(bf.DueDate)
		if err != nil {
			return fmt.Errorf("due_date: %w", err)
		}
		b.DueDate = &due
	}
	items := make([]*billing.LineItem, 0, len(bf.Items))
	for _, it := range bf.Items {
		memberID, ok := ids[it.Member]
		if !ok {
			return fmt.Errorf("line item for unknown member %q", it.Member)
		}
		items = append(items, &billing.LineItem{
			MemberID:      memberID,
			ProcedureCode: it.ProcedureCode,
			Description:   it.Description,
			Amount:        it.Amount,
		})
	}
	if err := s.bills.CreateBill(ctx, b, items); err != nil {
		return err
	}
	res.Bills++
	res.LineItems += len(items)
	return nil
}
