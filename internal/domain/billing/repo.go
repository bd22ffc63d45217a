package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrBillNotFound    = errors.New("bill not found")
	ErrShareNotFound   = errors.New("bill share not found")
	ErrDisputeNotFound = errors.New("dispute not found")
)

// BillFilter narrows bill listings. Zero values match everything.
type BillFilter struct {
	AccountID *uuid.UUID
	Status    BillStatus
}

type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	// GetForUpdate reads the bill and locks its row for the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status BillStatus) error
	List(ctx context.Context, f BillFilter, limit, offset int) ([]*Bill, int, error)
}

type LineItemRepository interface {
	Create(ctx context.Context, li *LineItem) error
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*LineItem, error)
	UpdateCoverage(ctx context.Context, li *LineItem) error
}

type ShareRepository interface {
	Create(ctx context.Context, s *Share) error
	GetByID(ctx context.Context, id uuid.UUID) (*Share, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Share, error)
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*Share, error)
	DeleteByBill(ctx context.Context, billID uuid.UUID) error
	Update(ctx context.Context, s *Share) error
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	ListByShare(ctx context.Context, shareID uuid.UUID) ([]*Payment, error)
	SumCompletedByBill(ctx context.Context, billID uuid.UUID) (decimal.Decimal, error)
}

type DisputeRepository interface {
	Create(ctx context.Context, d *Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	// ListByBill returns the bill's disputes, optionally only those in the given statuses.
	ListByBill(ctx context.Context, billID uuid.UUID, statuses ...DisputeStatus) ([]*Dispute, error)
}

type AccumulationRepository interface {
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*Accumulation, error)
	ReplaceForBill(ctx context.Context, billID uuid.UUID, items []*Accumulation) error
}
