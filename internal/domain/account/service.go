package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Service struct {
	accounts AccountRepository
	members  MemberRepository
}

func NewService(accounts AccountRepository, members MemberRepository) *Service {
	return &Service{accounts: accounts, members: members}
}

// -- Accounts --

func (s *Service) CreateAccount(ctx context.Context, a *Account) error {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return fmt.Errorf("name is required")
	}
	if a.SplitRules.Method == "" {
		a.SplitRules.Method = SplitDefault
	}
	for key, pct := range a.SplitRules.Percentages {
		if _, err := uuid.Parse(key); err != nil {
			return fmt.Errorf("split percentage key %q is not a member id", key)
		}
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("split percentage for %s must be between 0 and 100", key)
		}
	}
	return s.accounts.Create(ctx, a)
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.accounts.GetByID(ctx, id)
}

// -- Members --

func (s *Service) AddMember(ctx context.Context, m *Member) error {
	if m.AccountID == uuid.Nil {
		return fmt.Errorf("account_id is required")
	}
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !m.Relationship.Valid() {
		return fmt.Errorf("invalid relationship %q", m.Relationship)
	}
	if m.AccessLevel == "" {
		m.AccessLevel = AccessViewer
	}
	if _, err := s.accounts.GetByID(ctx, m.AccountID); err != nil {
		return err
	}
	return s.members.Create(ctx, m)
}

func (s *Service) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.members.GetByID(ctx, id)
}

func (s *Service) ListMembers(ctx context.Context, accountID uuid.UUID) ([]*Member, error) {
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.members.ListByAccount(ctx, accountID)
}
