package coverage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrPolicyNotFound = errors.New("policy not found")

type PolicyRepository interface {
	Create(ctx context.Context, p *Policy) error
	GetByID(ctx context.Context, id uuid.UUID) (*Policy, error)
	ListByMember(ctx context.Context, memberID uuid.UUID) ([]*Policy, error)
	// LockByMembers takes row locks on every policy of the given members
	// until the surrounding transaction ends.
	LockByMembers(ctx context.Context, memberIDs []uuid.UUID) error
	SetAccumulated(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	ClearPrimary(ctx context.Context, memberID uuid.UUID) error
	MarkPrimary(ctx context.Context, id uuid.UUID) error
}

type RuleRepository interface {
	Create(ctx context.Context, r *Rule) error
	ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*Rule, error)
}

type NetworkRepository interface {
	Create(ctx context.Context, c *NetworkContract) error
	ListByPolicyProvider(ctx context.Context, policyID uuid.UUID, providerID string) ([]*NetworkContract, error)
}
