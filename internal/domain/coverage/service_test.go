package coverage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/internal/domain/account"
)

// -- Mock Repositories --

type mockMemberRepo struct {
	items map[uuid.UUID]*account.Member
}

func newMockMemberRepo() *mockMemberRepo {
	return &mockMemberRepo{items: make(map[uuid.UUID]*account.Member)}
}

func (m *mockMemberRepo) Create(_ context.Context, mem *account.Member) error {
	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}
	m.items[mem.ID] = mem
	return nil
}

func (m *mockMemberRepo) GetByID(_ context.Context, id uuid.UUID) (*account.Member, error) {
	mem, ok := m.items[id]
	if !ok {
		return nil, account.ErrMemberNotFound
	}
	return mem, nil
}

func (m *mockMemberRepo) ListByAccount(_ context.Context, accountID uuid.UUID) ([]*account.Member, error) {
	var out []*account.Member
	for _, mem := range m.items {
		if mem.AccountID == accountID && mem.Active {
			out = append(out, mem)
		}
	}
	return out, nil
}

type mockPolicyRepo struct {
	items  map[uuid.UUID]*Policy
	locked []uuid.UUID
}

func newMockPolicyRepo() *mockPolicyRepo {
	return &mockPolicyRepo{items: make(map[uuid.UUID]*Policy)}
}

func (m *mockPolicyRepo) Create(_ context.Context, p *Policy) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	m.items[p.ID] = p
	return nil
}

func (m *mockPolicyRepo) GetByID(_ context.Context, id uuid.UUID) (*Policy, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPolicyRepo) ListByMember(_ context.Context, memberID uuid.UUID) ([]*Policy, error) {
	var out []*Policy
	for _, p := range m.items {
		if p.MemberID == memberID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockPolicyRepo) LockByMembers(_ context.Context, memberIDs []uuid.UUID) error {
	m.locked = append(m.locked, memberIDs...)
	return nil
}

func (m *mockPolicyRepo) SetAccumulated(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	p, ok := m.items[id]
	if !ok {
		return ErrPolicyNotFound
	}
	p.Accumulated = amount
	return nil
}

func (m *mockPolicyRepo) ClearPrimary(_ context.Context, memberID uuid.UUID) error {
	for _, p := range m.items {
		if p.MemberID == memberID {
			p.IsPrimary = false
		}
	}
	return nil
}

func (m *mockPolicyRepo) MarkPrimary(_ context.Context, id uuid.UUID) error {
	p, ok := m.items[id]
	if !ok {
		return ErrPolicyNotFound
	}
	p.IsPrimary = true
	return nil
}

type mockRuleRepo struct {
	items []*Rule
}

func (m *mockRuleRepo) Create(_ context.Context, r *Rule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.items = append(m.items, r)
	return nil
}

func (m *mockRuleRepo) ListByPolicy(_ context.Context, policyID uuid.UUID) ([]*Rule, error) {
	var out []*Rule
	for _, r := range m.items {
		if r.PolicyID == policyID {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockNetworkRepo struct {
	items []*NetworkContract
	calls int
}

func (m *mockNetworkRepo) Create(_ context.Context, c *NetworkContract) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.items = append(m.items, c)
	return nil
}

func (m *mockNetworkRepo) ListByPolicyProvider(_ context.Context, policyID uuid.UUID, providerID string) ([]*NetworkContract, error) {
	m.calls++
	var out []*NetworkContract
	for _, c := range m.items {
		if c.PolicyID == policyID && c.ProviderID == providerID {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeTransactor struct{ calls int }

func (f *fakeTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type testRepos struct {
	members  *mockMemberRepo
	policies *mockPolicyRepo
	rules    *mockRuleRepo
	networks *mockNetworkRepo
	tx       *fakeTransactor
}

func newTestService() (*Service, *testRepos) {
	r := &testRepos{
		members:  newMockMemberRepo(),
		policies: newMockPolicyRepo(),
		rules:    &mockRuleRepo{},
		networks: &mockNetworkRepo{},
		tx:       &fakeTransactor{},
	}
	svc := NewService(r.members, r.policies, r.rules, r.networks, r.tx, zerolog.Nop())
	return svc, r
}

func seedMember(r *testRepos) *account.Member {
	m := &account.Member{AccountID: uuid.New(), Name: "Ana", Relationship: account.RelationshipPrimary, Active: true}
	r.members.Create(context.Background(), m)
	return m
}

func validPolicy(memberID uuid.UUID) *Policy {
	return &Policy{
		MemberID:       memberID,
		ProviderName:   "Acme Health",
		PolicyNumber:   "ACM-1",
		PlanType:       PlanPPO,
		EffectiveDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		Deductible:     decimal.NewFromInt(500),
		OutOfPocketMax: decimal.NewFromInt(2000),
	}
}

// -- Policy Tests --

func TestCreatePolicy(t *testing.T) {
	svc, r := newTestService()
	m := seedMember(r)
	p := validPolicy(m.ID)
	if err := svc.CreatePolicy(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
}

func TestCreatePolicy_Validation(t *testing.T) {
	svc, r := newTestService()
	m := seedMember(r)
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"missing member", func(p *Policy) { p.MemberID = uuid.Nil }},
		{"missing provider", func(p *Policy) { p.ProviderName = "  " }},
		{"missing number", func(p *Policy) { p.PolicyNumber = "" }},
		{"expires before effective", func(p *Policy) { p.ExpirationDate = p.EffectiveDate.AddDate(0, 0, -1) }},
		{"negative deductible", func(p *Policy) { p.Deductible = decimal.NewFromInt(-1) }},
		{"cap below deductible", func(p *Policy) { p.OutOfPocketMax = decimal.NewFromInt(499) }},
		{"unknown member", func(p *Policy) { p.MemberID = uuid.New() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy(m.ID)
			tt.mutate(p)
			if err := svc.CreatePolicy(context.Background(), p); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCreatePolicy_CapEqualToDeductible(t *testing.T) {
	svc, r := newTestService()
	p := validPolicy(seedMember(r).ID)
	p.OutOfPocketMax = p.Deductible
	if err := svc.CreatePolicy(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetPrimaryPolicy_ClearsOthers(t *testing.T) {
	svc, r := newTestService()
	ctx := context.Background()
	m := seedMember(r)
	first := validPolicy(m.ID)
	first.IsPrimary = true
	second := validPolicy(m.ID)
	second.PolicyNumber = "ACM-2"
	svc.CreatePolicy(ctx, first)
	svc.CreatePolicy(ctx, second)

	got, err := svc.SetPrimaryPolicy(ctx, second.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsPrimary {
		t.Error("expected returned policy to be primary")
	}
	if r.policies.items[first.ID].IsPrimary {
		t.Error("expected previous primary to be cleared")
	}
	if !r.policies.items[second.ID].IsPrimary {
		t.Error("expected second policy to be primary")
	}
	if r.tx.calls != 1 {
		t.Errorf("expected one transaction, got %d", r.tx.calls)
	}
	if len(r.policies.locked) != 1 || r.policies.locked[0] != m.ID {
		t.Error("expected member policies to be locked")
	}
}

func TestSetPrimaryPolicy_NotFound(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.SetPrimaryPolicy(context.Background(), uuid.New()); err != ErrPolicyNotFound {
		t.Errorf("expected ErrPolicyNotFound, got %v", err)
	}
}

// -- Rule & Network Tests --

func TestAddRule_Defaults(t *testing.T) {
	svc, _ := newTestService()
	r := &Rule{PolicyID: uuid.New(), ServiceType: " MRI "}
	if err := svc.AddRule(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ServiceType != "MRI" || r.Category != CategoryGeneral || r.Network != InNetwork {
		t.Errorf("unexpected defaults: %+v", r)
	}
}

func TestAddRule_RejectsPercentAbove100(t *testing.T) {
	svc, _ := newTestService()
	r := &Rule{PolicyID: uuid.New(), ServiceType: "MRI", CoveragePercent: decimal.NewNullDecimal(decimal.NewFromInt(120))}
	if err := svc.AddRule(context.Background(), r); err == nil {
		t.Error("expected error for coverage percent above 100")
	}
}

func TestAddRule_RejectsUnknownNetwork(t *testing.T) {
	svc, _ := newTestService()
	r := &Rule{PolicyID: uuid.New(), ServiceType: "MRI", Network: "PARTIAL"}
	if err := svc.AddRule(context.Background(), r); err == nil {
		t.Error("expected error for unknown network")
	}
}

func TestAddNetworkContract_EndBeforeStart(t *testing.T) {
	svc, _ := newTestService()
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, -1, 0)
	c := &NetworkContract{PolicyID: uuid.New(), ProviderID: "1234567890", ContractStart: start, ContractEnd: &end}
	if err := svc.AddNetworkContract(context.Background(), c); err == nil {
		t.Error("expected error for inverted contract window")
	}
}

func TestCalculateCoverage_UsesRepositories(t *testing.T) {
	svc, r := newTestService()
	ctx := context.Background()
	m := seedMember(r)
	p := validPolicy(m.ID)
	p.IsPrimary = true
	svc.CreatePolicy(ctx, p)
	svc.AddRule(ctx, &Rule{PolicyID: p.ID, ServiceType: "OFFICE_VISIT", CoveragePercent: decimal.NewNullDecimal(decimal.NewFromInt(80))})
	svc.AddNetworkContract(ctx, &NetworkContract{PolicyID: p.ID, ProviderID: "1234567890", ContractStart: p.EffectiveDate})

	res, err := svc.CalculateCoverage(ctx, Claim{
		MemberID:     m.ID,
		ServiceType:  "OFFICE_VISIT",
		ProviderID:   "1234567890",
		ServiceDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		BilledAmount: decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalCovered.StringFixed(2) != "400.00" {
		t.Errorf("expected 400.00 covered, got %s", res.TotalCovered.StringFixed(2))
	}
}
