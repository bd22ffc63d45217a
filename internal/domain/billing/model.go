package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BillStatus string

const (
	BillDraft    BillStatus = "DRAFT"
	BillPending  BillStatus = "PENDING"
	BillPartial  BillStatus = "PARTIAL"
	BillPaid     BillStatus = "PAID"
	BillDisputed BillStatus = "DISPUTED"
)

type ShareStatus string

const (
	SharePending  ShareStatus = "PENDING"
	SharePaid     ShareStatus = "PAID"
	ShareDisputed ShareStatus = "DISPUTED"
)

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

type DisputeStatus string

const (
	DisputeOpen        DisputeStatus = "OPEN"
	DisputeUnderReview DisputeStatus = "UNDER_REVIEW"
	DisputeResolved    DisputeStatus = "RESOLVED"
)

// Bill is a provider's invoice to a family account. TotalAmount equals the
// sum of its line items.
type Bill struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	AccountID    uuid.UUID       `db:"account_id" json:"account_id"`
	ProviderName string          `db:"provider_name" json:"provider_name"`
	ProviderID   string          `db:"provider_id" json:"provider_id"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"total_amount"`
	ServiceDate  time.Time       `db:"service_date" json:"service_date"`
	DueDate      *time.Time      `db:"due_date" json:"due_date,omitempty"`
	Status       BillStatus      `db:"status" json:"status"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

type LineItem struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	BillID           uuid.UUID       `db:"bill_id" json:"bill_id"`
	MemberID         uuid.UUID       `db:"member_id" json:"member_id"`
	ProcedureCode    string          `db:"procedure_code" json:"procedure_code"`
	Description      string          `db:"description" json:"description"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	CoveragePolicyID *uuid.UUID      `db:"coverage_policy_id" json:"coverage_policy_id,omitempty"`
	Covered          bool            `db:"covered" json:"covered"`
	RequiresPreauth  bool            `db:"requires_preauth" json:"requires_preauth"`
}

// Share is one member's portion of a split bill.
type Share struct {
	ID                     uuid.UUID       `db:"id" json:"id"`
	BillID                 uuid.UUID       `db:"bill_id" json:"bill_id"`
	MemberID               uuid.UUID       `db:"member_id" json:"member_id"`
	OriginalAmount         decimal.Decimal `db:"original_amount" json:"original_amount"`
	InsuranceCovered       decimal.Decimal `db:"insurance_covered" json:"insurance_covered"`
	PersonalResponsibility decimal.Decimal `db:"personal_responsibility" json:"personal_responsibility"`
	AmountPaid             decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	Status                 ShareStatus     `db:"status" json:"status"`
	CreatedAt              time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time       `db:"updated_at" json:"updated_at"`
}

// Outstanding is what the member still owes on the share.
func (s *Share) Outstanding() decimal.Decimal {
	out := s.PersonalResponsibility.Sub(s.AmountPaid)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

func (s *Share) settled() bool {
	return !s.AmountPaid.LessThan(s.PersonalResponsibility)
}

type Payment struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	ShareID       uuid.UUID       `db:"share_id" json:"share_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Method        string          `db:"method" json:"method"`
	TransactionID *string         `db:"transaction_id" json:"transaction_id,omitempty"`
	Status        PaymentStatus   `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

type Dispute struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	BillID     uuid.UUID     `db:"bill_id" json:"bill_id"`
	MemberID   uuid.UUID     `db:"member_id" json:"member_id"`
	Reason     string        `db:"reason" json:"reason"`
	Resolution *string       `db:"resolution" json:"resolution,omitempty"`
	Status     DisputeStatus `db:"status" json:"status"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Accumulation records how much a bill added to a policy's out-of-pocket
// accumulator the last time it was split.
type Accumulation struct {
	BillID   uuid.UUID       `db:"bill_id" json:"bill_id"`
	PolicyID uuid.UUID       `db:"policy_id" json:"policy_id"`
	Amount   decimal.Decimal `db:"amount" json:"amount"`
}

// deriveBillStatus computes a split bill's status from its shares. Open
// disputes take precedence.
func deriveBillStatus(shares []*Share, openDisputes int) BillStatus {
	if openDisputes > 0 {
		return BillDisputed
	}
	if len(shares) == 0 {
		return BillDraft
	}
	paid, started := 0, false
	for _, s := range shares {
		if s.settled() {
			paid++
		}
		if s.AmountPaid.IsPositive() {
			started = true
		}
	}
	switch {
	case paid == len(shares):
		return BillPaid
	case started:
		return BillPartial
	default:
		return BillPending
	}
}
