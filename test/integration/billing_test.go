//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medibill/medibill/internal/domain/account"
	"github.com/medibill/medibill/internal/domain/billing"
	"github.com/medibill/medibill/internal/domain/coverage"
)

func shareFor(shares []*billing.Share, memberID uuid.UUID) *billing.Share {
	for _, s := range shares {
		if s.MemberID == memberID {
			return s
		}
	}
	return nil
}

func TestRepositories_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStack(billing.AttributeByMember)
	f := seedFamily(t, s, account.SplitPercentage)

	got, err := s.accounts.GetAccount(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rivera", got.Name)
	assert.Equal(t, account.SplitPercentage, got.SplitRules.Method)

	members, err := s.accounts.ListMembers(ctx, f.account.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, f.ana.ID, members[0].ID)
	assert.Equal(t, account.AccessViewer, members[0].AccessLevel)

	policies, err := s.coverage.ListMemberPolicies(ctx, f.ana.ID)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	p := policies[0]
	assert.True(t, p.IsPrimary)
	assert.Equal(t, "500.00", p.Deductible.StringFixed(2))
	assert.Equal(t, "2000.00", p.OutOfPocketMax.StringFixed(2))
	assert.True(t, p.Accumulated.IsZero())
	assert.True(t, p.ActiveOn(serviceDate))

	_, err = s.accounts.GetAccount(ctx, uuid.New())
	assert.True(t, errors.Is(err, account.ErrAccountNotFound))
	_, err = s.coverage.GetPolicy(ctx, uuid.New())
	assert.True(t, errors.Is(err, coverage.ErrPolicyNotFound))
}

func TestCalculateCoverage_Postgres(t *testing.T) {
	ctx := context.Background()
	s := newStack(billing.AttributeByMember)
	f := seedFamily(t, s, account.SplitDefault)

	res, err := s.coverage.CalculateCoverage(ctx, coverage.Claim{
		MemberID:     f.ana.ID,
		ServiceType:  "OFFICE_VISIT",
		ProviderID:   providerNPI,
		ServiceDate:  serviceDate,
		BilledAmount: dec("1000"),
	})
	require.NoError(t, err)
	require.Len(t, res.Coverages, 1)
	assert.Equal(t, coverage.InNetwork, res.Coverages[0].Network)
	assert.Equal(t, "400.00", res.TotalCovered.StringFixed(2))
	assert.Equal(t, "600.00", res.PatientResponsibility.StringFixed(2))

	// A calculation alone never moves the accumulator.
	p, err := s.coverage.GetPolicy(ctx, f.anaPolicy.ID)
	require.NoError(t, err)
	assert.True(t, p.Accumulated.IsZero())
}

func TestSetPrimaryPolicy_Postgres(t *testing.T) {
	ctx := context.Background()
	s := newStack(billing.AttributeByMember)
	f := seedFamily(t, s, account.SplitDefault)

	second := addPolicy(t, s, f.ana, "1000", "3000", "50")
	_, err := s.coverage.SetPrimaryPolicy(ctx, second.ID)
	require.NoError(t, err)

	first, err := s.coverage.GetPolicy(ctx, f.anaPolicy.ID)
	require.NoError(t, err)
	assert.False(t, first.IsPrimary)
	now, err := s.coverage.GetPolicy(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, now.IsPrimary)
}

func TestSplitBill_Postgres(t *testing.T) {
	ctx := context.Background()
	s := newStack(billing.AttributeByMember)
	f := seedFamily(t, s, account.SplitDefault)
	b := seedBill(t, s, f)

	detail, err := s.billing.GetBill(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillDraft, detail.Status)
	assert.Equal(t, "1200.00", detail.TotalAmount.StringFixed(2))
	require.Len(t, detail.LineItems, 2)

	out, err := s.billing.SplitBill(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "580.00", out.TotalInsuranceCovered.StringFixed(2))
	assert.Equal(t, "620.00", out.TotalPersonalResponsibility.StringFixed(2))

	shares, err := s.billing.ListShares(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, shares, 3)
	ana, luis, sofia := shareFor(shares, f.ana.ID), shareFor(shares, f.luis.ID), shareFor(shares, f.sofia.ID)
	require.NotNil(t, ana)
	require.NotNil(t, luis)
	require.NotNil(t, sofia)
	assert.Equal(t, "310.00", ana.PersonalResponsibility.StringFixed(2))
	assert.Equal(t, "400.00", ana.InsuranceCovered.StringFixed(2))
	assert.Equal(t, "310.00", luis.PersonalResponsibility.StringFixed(2))
	assert.Equal(t, "180.00", sofia.InsuranceCovered.StringFixed(2))
	assert.True(t, sofia.PersonalResponsibility.IsZero())
	assert.Equal(t, billing.SharePaid, sofia.Status)
	assert.Equal(t, billing.SharePending, ana.Status)

	detail, err = s.billing.GetBill(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillPending, detail.Status)
	for _, li := range detail.LineItems {
		assert.True(t, li.Covered, "line item %s", li.ProcedureCode)
		require.NotNil(t, li.CoveragePolicyID)
	}

	assertAccumulated(t, s, f.anaPolicy.ID, "600.00")
	assertAccumulated(t, s, f.sofiaPolicy.ID, "20.00")

	// Splitting again backs out the first split's accumulator contribution.
	again, err := s.billing.SplitBill(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "620.00", again.TotalPersonalResponsibility.StringFixed(2))
	assertAccumulated(t, s, f.anaPolicy.ID, "600.00")
	assertAccumulated(t, s, f.sofiaPolicy.ID, "20.00")

	shares, err = s.billing.ListShares(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, shares, 3)
}

func TestSplitBill_FullyCoveredIsPaid_Postgres(t *testing.T) {
	ctx := context.Background()
	s := newStack(billing.AttributeByMember)
	f := seedFamily(t, s, account.SplitDefault)
	mateo := addMember(t, s, f.account.ID, "Mateo Rivera", account.RelationshipChild)
	addPolicy(t, s, mateo, "0", "1000", "100")

	b := &billing.Bill{AccountID: f.account.ID, ProviderName: "City Clinic", ProviderID: providerNPI, ServiceDate: serviceDate}
	items := []*billing.LineItem{{MemberID: mateo.ID, ProcedureCode: "OFFICE_VISIT", Description: "Checkup", Amount: dec("200")}}
	require.NoError(t, s.billing.CreateBill(ctx, b, items))

	out, err := s.billing.SplitBill(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "200.00", out.TotalInsuranceCovered.StringFixed(2))
	assert.True(t, out.TotalPersonalResponsibility.IsZero())

	detail, err := s.billing.GetBill(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillPaid, detail.Status)

	shares, err := s.billing.ListShares(ctx, b.ID)
	require.NoError(t, err)
	require.NotEmpty(t, shares)
	for _, sh := range shares {
		assert.Equal(t, billing.SharePaid, sh.Status, "share for %s", sh.MemberID)
	}
}

func TestPolicyCapBelowDeductible_RejectedByDatabase(t *testing.T) {
	s := newStack(billing.AttributeByMember)
	f := seedFamily(t, s, account.SplitDefault)
	p := &coverage.Policy{
		MemberID:       f.luis.ID,
		ProviderName:   "Acme Health",
		PolicyNumber:   "ACM-CAP",
		PlanType:       coverage.PlanPPO,
		EffectiveDate:  planStart,
		ExpirationDate: planEnd,
		Deductible:     dec("500"),
		OutOfPocketMax: dec("100"),
	}
	assert.Error(t, s.coverage.CreatePolicy(context.Background(), p))
	assert.Error(t, s.policyRepo.Create(context.Background(), p))
}

func TestSplitBill_AggregateAttribution(t *testing.T) {
	ctx := context.Background()
	s := newStack(billing.AttributeAggregate)
	f := seedFamily(t, s, account.SplitEqual)
	b := seedBill(t, s, f)

	out, err := s.billing.SplitBill(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, out.Shares, 3)
	for _, sh := range out.Shares {
		assert.Equal(t, "580.00", sh.InsuranceCovered.StringFixed(2))
	}
	total := dec("0")
	for _, sh := range out.Shares {
		total = total.Add(sh.PersonalResponsibility)
	}
	assert.Equal(t, "620.00", total.StringFixed(2))
}

func TestSplitBill_NotFound(t *testing.T) {
	s := newStack(billing.AttributeByMember)
	_, err := s.billing.SplitBill(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, billing.ErrBillNotFound))
}

func TestPaymentFlow_Postgres(t *testing.T) {
	ctx := context.Background()
	s := newStack(billing.AttributeByMember)
	f := seedFamily(t, s, account.SplitDefault)
	b := seedBill(t, s, f)

	out, err := s.billing.SplitBill(ctx, b.ID)
	require.NoError(t, err)
	ana, luis := shareFor(out.Shares, f.ana.ID), shareFor(out.Shares, f.luis.ID)

	_, err = s.billing.RecordPayment(ctx, ana.ID, billing.PaymentInput{Amount: dec("100"), Method: "card"})
	require.NoError(t, err)
	detail, err := s.billing.GetBill(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillPartial, detail.Status)

	_, err = s.billing.RecordPayment(ctx, ana.ID, billing.PaymentInput{Amount: dec("500"), Method: "card"})
	assert.True(t, errors.Is(err, billing.ErrInvalidInput), "overpayment should be rejected, got %v", err)

	// Failed payments are recorded but do not count.
	_, err = s.billing.RecordPayment(ctx, luis.ID, billing.PaymentInput{Amount: dec("310"), Method: "ach", Status: billing.PaymentFailed})
	require.NoError(t, err)

	_, err = s.billing.RecordPayment(ctx, ana.ID, billing.PaymentInput{Amount: dec("210"), Method: "card"})
	require.NoError(t, err)
	_, err = s.billing.RecordPayment(ctx, luis.ID, billing.PaymentInput{Amount: dec("310"), Method: "ach"})
	require.NoError(t, err)

	detail, err = s.billing.GetBill(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillPaid, detail.Status)

	payments, err := s.billing.ListPayments(ctx, luis.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)

	sh, err := s.billing.GetShare(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.SharePaid, sh.Status)
	assert.Equal(t, "310.00", sh.AmountPaid.StringFixed(2))

	_, err = s.billing.SplitBill(ctx, b.ID)
	assert.True(t, errors.Is(err, billing.ErrBillHasPayments))
}

func TestDisputeFlow_Postgres(t *testing.T) {
	ctx := context.Background()
	s := newStack(billing.AttributeByMember)
	f := seedFamily(t, s, account.SplitDefault)
	b := seedBill(t, s, f)

	out, err := s.billing.SplitBill(ctx, b.ID)
	require.NoError(t, err)
	luis := shareFor(out.Shares, f.luis.ID)

	d, err := s.billing.OpenDispute(ctx, b.ID, f.luis.ID, "never visited this clinic")
	require.NoError(t, err)
	assert.Equal(t, billing.DisputeOpen, d.Status)

	detail, err := s.billing.GetBill(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillDisputed, detail.Status)

	_, err = s.billing.RecordPayment(ctx, luis.ID, billing.PaymentInput{Amount: dec("10"), Method: "card"})
	assert.True(t, errors.Is(err, billing.ErrShareDisputed))

	// A re-split keeps the disputed share flagged.
	_, err = s.billing.SplitBill(ctx, b.ID)
	require.NoError(t, err)
	shares, err := s.billing.ListShares(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ShareDisputed, shareFor(shares, f.luis.ID).Status)

	reviewed, err := s.billing.ReviewDispute(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.DisputeUnderReview, reviewed.Status)

	resolved, err := s.billing.ResolveDispute(ctx, d.ID, "confirmed visit")
	require.NoError(t, err)
	assert.Equal(t, billing.DisputeResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	shares, err = s.billing.ListShares(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.SharePending, shareFor(shares, f.luis.ID).Status)

	detail, err = s.billing.GetBill(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.BillPending, detail.Status)

	disputes, err := s.billing.ListDisputes(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, disputes, 1)
	require.NotNil(t, disputes[0].Resolution)
	assert.Equal(t, "confirmed visit", *disputes[0].Resolution)

	_, err = s.billing.ResolveDispute(ctx, d.ID, "")
	assert.True(t, errors.Is(err, billing.ErrDisputeClosed))
}

func TestListBills_Postgres(t *testing.T) {
	ctx := context.Background()
	s := newStack(billing.AttributeByMember)
	f := seedFamily(t, s, account.SplitDefault)
	first := seedBill(t, s, f)
	seedBill(t, s, f)

	_, err := s.billing.SplitBill(ctx, first.ID)
	require.NoError(t, err)

	all, total, err := s.billing.ListBills(ctx, billing.BillFilter{AccountID: &f.account.ID}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	pending, total, err := s.billing.ListBills(ctx, billing.BillFilter{AccountID: &f.account.ID, Status: billing.BillPending}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
}

func assertAccumulated(t *testing.T, s *stack, policyID uuid.UUID, want string) {
	t.Helper()
	p, err := s.coverage.GetPolicy(context.Background(), policyID)
	require.NoError(t, err)
	assert.Equal(t, want, p.Accumulated.StringFixed(2))
}
