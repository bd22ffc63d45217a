package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/internal/domain/account"
	"github.com/medibill/medibill/internal/domain/coverage"
	"github.com/medibill/medibill/internal/platform/db"
	"github.com/medibill/medibill/internal/platform/telemetry"
	"github.com/medibill/medibill/pkg/money"
)

var (
	ErrBillHasPayments = fmt.Errorf("%w: bill has completed payments and cannot be re-split", ErrConflict)
	ErrShareDisputed   = fmt.Errorf("%w: share is under dispute", ErrConflict)
	ErrDisputeClosed   = fmt.Errorf("%w: dispute is already resolved", ErrConflict)
)

// Repositories groups the billing stores.
type Repositories struct {
	Bills         BillRepository
	LineItems     LineItemRepository
	Shares        ShareRepository
	Payments      PaymentRepository
	Disputes      DisputeRepository
	Accumulations AccumulationRepository
}

type Service struct {
	repos    Repositories
	accounts account.AccountRepository
	members  account.MemberRepository
	policies coverage.PolicyRepository
	splitter *Splitter
	tx       db.Transactor
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repos Repositories, accounts account.AccountRepository, members account.MemberRepository,
	policies coverage.PolicyRepository, splitter *Splitter, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		repos:    repos,
		accounts: accounts,
		members:  members,
		policies: policies,
		splitter: splitter,
		tx:       tx,
		logger:   logger,
		now:      time.Now,
	}
}

// SetMetrics sets the optional metrics sink.
func (s *Service) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// -- Bills --

// CreateBill stores a DRAFT bill with its line items. The bill total is the
// sum of the items.
func (s *Service) CreateBill(ctx context.Context, b *Bill, items []*LineItem) error {
	if b.AccountID == uuid.Nil {
		return fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	b.ProviderID = strings.TrimSpace(b.ProviderID)
	if b.ProviderID == "" {
		return fmt.Errorf("%w: provider_id is required", ErrInvalidInput)
	}
	if b.ServiceDate.IsZero() {
		return fmt.Errorf("%w: service_date is required", ErrInvalidInput)
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one line item is required", ErrInvalidInput)
	}
	amounts := make([]decimal.Decimal, 0, len(items))
	for _, li := range items {
		if !li.Amount.IsPositive() {
			return fmt.Errorf("%w: line item amounts must be positive", ErrInvalidInput)
		}
		if !money.IsWholeCents(li.Amount) {
			return fmt.Errorf("%w: line item amount %s has fractional cents", ErrInvalidInput, li.Amount)
		}
		if strings.TrimSpace(li.ProcedureCode) == "" {
			return fmt.Errorf("%w: line item procedure_code is required", ErrInvalidInput)
		}
		amounts = append(amounts, li.Amount)
	}
	b.TotalAmount = money.Sum(amounts...)
	b.Status = BillDraft

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.accounts.GetByID(ctx, b.AccountID); err != nil {
			return err
		}
		if err := s.checkMembers(ctx, b.AccountID, items); err != nil {
			return err
		}
		if err := s.repos.Bills.Create(ctx, b); err != nil {
			return err
		}
		for _, li := range items {
			li.BillID = b.ID
			if err := s.repos.LineItems.Create(ctx, li); err != nil {
				return err
			}
		}
		return nil
	})
}

// BillDetail is a bill with its line items.
type BillDetail struct {
	*Bill
	LineItems []*LineItem `json:"line_items"`
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*BillDetail, error) {
	b, err := s.repos.Bills.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repos.LineItems.ListByBill(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BillDetail{Bill: b, LineItems: items}, nil
}

func (s *Service) ListBills(ctx context.Context, f BillFilter, limit, offset int) ([]*Bill, int, error) {
	return s.repos.Bills.List(ctx, f, limit, offset)
}

func (s *Service) ListShares(ctx context.Context, billID uuid.UUID) ([]*Share, error) {
	if _, err := s.repos.Bills.GetByID(ctx, billID); err != nil {
		return nil, err
	}
	return s.repos.Shares.ListByBill(ctx, billID)
}

func (s *Service) GetShare(ctx context.Context, id uuid.UUID) (*Share, error) {
	return s.repos.Shares.GetByID(ctx, id)
}

// -- Splitting --

// SplitBill adjudicates the bill and replaces its shares. The outcome is
// computed in full before anything is written; any failure leaves the
// previous shares and accumulators untouched.
func (s *Service) SplitBill(ctx context.Context, billID uuid.UUID) (*Outcome, error) {
	var out *Outcome
	strategy := "unknown"
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		bill, err := s.repos.Bills.GetForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		paid, err := s.repos.Payments.SumCompletedByBill(ctx, billID)
		if err != nil {
			return err
		}
		if paid.IsPositive() {
			return ErrBillHasPayments
		}
		items, err := s.repos.LineItems.ListByBill(ctx, billID)
		if err != nil {
			return err
		}
		acct, err := s.accounts.GetByID(ctx, bill.AccountID)
		if err != nil {
			return err
		}
		strategy = StrategyFor(acct.SplitRules).Name()
		if err := s.checkMembers(ctx, bill.AccountID, items); err != nil {
			return err
		}
		members, err := s.members.ListByAccount(ctx, bill.AccountID)
		if err != nil {
			return err
		}
		if err := s.policies.LockByMembers(ctx, lineItemMembers(items)); err != nil {
			return err
		}
		prior, err := s.repos.Accumulations.ListByBill(ctx, billID)
		if err != nil {
			return err
		}

		out, err = s.splitter.Split(ctx, SplitInput{
			Bill:      bill,
			LineItems: items,
			Members:   members,
			Rules:     acct.SplitRules,
			Prior:     prior,
		})
		if err != nil {
			return err
		}
		return s.applySplit(ctx, bill, out, prior)
	})
	s.metrics.ObserveSplit(strategy, err)
	if err != nil {
		s.logger.Warn().Err(err).Str("bill_id", billID.String()).Str("strategy", strategy).Msg("bill split failed")
		return nil, err
	}
	s.logger.Info().
		Str("bill_id", billID.String()).
		Str("strategy", out.Strategy).
		Int("shares", len(out.Shares)).
		Str("insurance_covered", out.TotalInsuranceCovered.StringFixed(2)).
		Str("personal_responsibility", out.TotalPersonalResponsibility.StringFixed(2)).
		Msg("bill split")
	return out, nil
}

func (s *Service) applySplit(ctx context.Context, bill *Bill, out *Outcome, prior []*Accumulation) error {
	open, err := s.repos.Disputes.ListByBill(ctx, bill.ID, DisputeOpen, DisputeUnderReview)
	if err != nil {
		return err
	}
	disputed := make(map[uuid.UUID]bool, len(open))
	for _, d := range open {
		disputed[d.MemberID] = true
	}

	if err := s.repos.Shares.DeleteByBill(ctx, bill.ID); err != nil {
		return err
	}
	for _, sh := range out.Shares {
		if disputed[sh.MemberID] {
			sh.Status = ShareDisputed
		} else {
			sh.Status = settledStatus(sh)
		}
		if err := s.repos.Shares.Create(ctx, sh); err != nil {
			return err
		}
	}
	for _, li := range out.LineItems {
		if err := s.repos.LineItems.UpdateCoverage(ctx, li); err != nil {
			return err
		}
	}

	touched := make(map[uuid.UUID]bool, len(out.Accumulators))
	contributions := make([]*Accumulation, 0, len(out.Accumulators))
	for _, ac := range out.Accumulators {
		touched[ac.PolicyID] = true
		if err := s.policies.SetAccumulated(ctx, ac.PolicyID, ac.After); err != nil {
			return err
		}
		if c := ac.Contribution(); !c.IsZero() {
			contributions = append(contributions, &Accumulation{BillID: bill.ID, PolicyID: ac.PolicyID, Amount: c})
		}
	}
	// Policies the earlier split reached but this one did not.
	for _, a := range prior {
		if touched[a.PolicyID] {
			continue
		}
		p, err := s.policies.GetByID(ctx, a.PolicyID)
		if err != nil {
			return err
		}
		if err := s.policies.SetAccumulated(ctx, a.PolicyID, money.NonNegative(p.Accumulated.Sub(a.Amount))); err != nil {
			return err
		}
	}
	if err := s.repos.Accumulations.ReplaceForBill(ctx, bill.ID, contributions); err != nil {
		return err
	}

	// Fully covered bills land on PAID straight away.
	bill.Status = deriveBillStatus(out.Shares, len(open))
	return s.repos.Bills.UpdateStatus(ctx, bill.ID, bill.Status)
}

// checkMembers verifies every line item belongs to a member of the account.
func (s *Service) checkMembers(ctx context.Context, accountID uuid.UUID, items []*LineItem) error {
	seen := make(map[uuid.UUID]bool)
	for _, li := range items {
		if seen[li.MemberID] {
			continue
		}
		seen[li.MemberID] = true
		m, err := s.members.GetByID(ctx, li.MemberID)
		if err != nil {
			return err
		}
		if m.AccountID != accountID {
			return fmt.Errorf("%w: member %s is not on account %s", ErrInvalidInput, li.MemberID, accountID)
		}
	}
	return nil
}

func lineItemMembers(items []*LineItem) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, li := range items {
		if !seen[li.MemberID] {
			seen[li.MemberID] = true
			ids = append(ids, li.MemberID)
		}
	}
	return ids
}

// -- Payments --

type PaymentInput struct {
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	Status        PaymentStatus   `json:"status,omitempty"`
}

// RecordPayment applies a settled payment outcome to a share. Payments have
// no later transition, so only COMPLETED and FAILED are accepted and only
// COMPLETED counts toward the share's paid total.
func (s *Service) RecordPayment(ctx context.Context, shareID uuid.UUID, in PaymentInput) (*Payment, error) {
	if !in.Amount.IsPositive() || !money.IsWholeCents(in.Amount) {
		return nil, fmt.Errorf("%w: payment amount must be a positive number of cents", ErrInvalidInput)
	}
	in.Method = strings.TrimSpace(in.Method)
	if in.Method == "" {
		return nil, fmt.Errorf("%w: payment method is required", ErrInvalidInput)
	}
	if in.Status == "" {
		in.Status = PaymentCompleted
	}
	switch in.Status {
	case PaymentCompleted, PaymentFailed:
	default:
		return nil, fmt.Errorf("%w: invalid payment status %q", ErrInvalidInput, in.Status)
	}

	var p *Payment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		peek, err := s.repos.Shares.GetByID(ctx, shareID)
		if err != nil {
			return err
		}
		// Bill before share, the same lock order as a split.
		if _, err := s.repos.Bills.GetForUpdate(ctx, peek.BillID); err != nil {
			return err
		}
		share, err := s.repos.Shares.GetForUpdate(ctx, shareID)
		if err != nil {
			return err
		}
		if share.Status == ShareDisputed {
			return ErrShareDisputed
		}
		if in.Amount.GreaterThan(share.Outstanding()) {
			return fmt.Errorf("%w: payment of %s exceeds outstanding balance %s",
				ErrInvalidInput, in.Amount.StringFixed(2), share.Outstanding().StringFixed(2))
		}

		p = &Payment{
			ShareID:       share.ID,
			Amount:        in.Amount,
			Method:        in.Method,
			TransactionID: in.TransactionID,
			Status:        in.Status,
		}
		if err := s.repos.Payments.Create(ctx, p); err != nil {
			return err
		}
		if p.Status != PaymentCompleted {
			return nil
		}
		share.AmountPaid = share.AmountPaid.Add(p.Amount)
		share.Status = settledStatus(share)
		if err := s.repos.Shares.Update(ctx, share); err != nil {
			return err
		}
		return s.refreshBillStatus(ctx, share.BillID)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObservePayment(string(p.Status))
	s.logger.Info().
		Str("share_id", shareID.String()).
		Str("amount", p.Amount.StringFixed(2)).
		Str("status", string(p.Status)).
		Msg("payment recorded")
	return p, nil
}

func (s *Service) ListPayments(ctx context.Context, shareID uuid.UUID) ([]*Payment, error) {
	if _, err := s.repos.Shares.GetByID(ctx, shareID); err != nil {
		return nil, err
	}
	return s.repos.Payments.ListByShare(ctx, shareID)
}

// settledStatus reports PAID once nothing is owed, including shares with no
// personal responsibility at all.
func settledStatus(sh *Share) ShareStatus {
	if sh.settled() {
		return SharePaid
	}
	return SharePending
}

func (s *Service) refreshBillStatus(ctx context.Context, billID uuid.UUID) error {
	shares, err := s.repos.Shares.ListByBill(ctx, billID)
	if err != nil {
		return err
	}
	open, err := s.repos.Disputes.ListByBill(ctx, billID, DisputeOpen, DisputeUnderReview)
	if err != nil {
		return err
	}
	return s.repos.Bills.UpdateStatus(ctx, billID, deriveBillStatus(shares, len(open)))
}

// -- Disputes --

func (s *Service) OpenDispute(ctx context.Context, billID, memberID uuid.UUID, reason string) (*Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", ErrInvalidInput)
	}
	var d *Dispute
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		bill, err := s.repos.Bills.GetForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		m, err := s.members.GetByID(ctx, memberID)
		if err != nil {
			return err
		}
		if m.AccountID != bill.AccountID {
			return fmt.Errorf("%w: member %s is not on the bill's account", ErrInvalidInput, memberID)
		}
		d = &Dispute{BillID: billID, MemberID: memberID, Reason: reason, Status: DisputeOpen}
		if err := s.repos.Disputes.Create(ctx, d); err != nil {
			return err
		}
		shares, err := s.repos.Shares.ListByBill(ctx, billID)
		if err != nil {
			return err
		}
		for _, sh := range shares {
			if sh.MemberID != memberID || sh.Status == ShareDisputed {
				continue
			}
			sh.Status = ShareDisputed
			if err := s.repos.Shares.Update(ctx, sh); err != nil {
				return err
			}
		}
		return s.repos.Bills.UpdateStatus(ctx, billID, BillDisputed)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("bill_id", billID.String()).Str("member_id", memberID.String()).Msg("dispute opened")
	return d, nil
}

func (s *Service) ListDisputes(ctx context.Context, billID uuid.UUID) ([]*Dispute, error) {
	if _, err := s.repos.Bills.GetByID(ctx, billID); err != nil {
		return nil, err
	}
	return s.repos.Disputes.ListByBill(ctx, billID)
}

func (s *Service) GetDispute(ctx context.Context, id uuid.UUID) (*Dispute, error) {
	return s.repos.Disputes.GetByID(ctx, id)
}

// ReviewDispute moves an open dispute under review.
func (s *Service) ReviewDispute(ctx context.Context, id uuid.UUID) (*Dispute, error) {
	d, err := s.repos.Disputes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != DisputeOpen {
		return nil, fmt.Errorf("%w: dispute is %s", ErrConflict, d.Status)
	}
	d.Status = DisputeUnderReview
	if err := s.repos.Disputes.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ResolveDispute closes the dispute and restores the bill and share statuses
// from payments once no other dispute by the same member remains open.
func (s *Service) ResolveDispute(ctx context.Context, id uuid.UUID, resolution string) (*Dispute, error) {
	var d *Dispute
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.repos.Disputes.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.repos.Bills.GetForUpdate(ctx, d.BillID); err != nil {
			return err
		}
		if d.Status == DisputeResolved {
			return ErrDisputeClosed
		}
		now := s.now().UTC()
		d.Status = DisputeResolved
		d.ResolvedAt = &now
		if r := strings.TrimSpace(resolution); r != "" {
			d.Resolution = &r
		}
		if err := s.repos.Disputes.Update(ctx, d); err != nil {
			return err
		}

		open, err := s.repos.Disputes.ListByBill(ctx, d.BillID, DisputeOpen, DisputeUnderReview)
		if err != nil {
			return err
		}
		stillDisputed := make(map[uuid.UUID]bool, len(open))
		for _, o := range open {
			stillDisputed[o.MemberID] = true
		}
		shares, err := s.repos.Shares.ListByBill(ctx, d.BillID)
		if err != nil {
			return err
		}
		for _, sh := range shares {
			if sh.Status != ShareDisputed || stillDisputed[sh.MemberID] {
				continue
			}
			sh.Status = settledStatus(sh)
			if err := s.repos.Shares.Update(ctx, sh); err != nil {
				return err
			}
		}
		return s.repos.Bills.UpdateStatus(ctx, d.BillID, deriveBillStatus(shares, len(open)))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("dispute_id", id.String()).Str("bill_id", d.BillID.String()).Msg("dispute resolved")
	return d, nil
}
