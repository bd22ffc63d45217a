package coverage

import (
	"context"

	"github.com/google/uuid"

	"github.com/medibill/medibill/internal/domain/account"
)

type repoSource struct {
	members  account.MemberRepository
	policies PolicyRepository
	rules    RuleRepository
	networks NetworkRepository
}

// NewRepoSource reads calculator inputs through the repositories, joining
// any transaction carried by the context.
func NewRepoSource(members account.MemberRepository, policies PolicyRepository, rules RuleRepository, networks NetworkRepository) Source {
	return &repoSource{members: members, policies: policies, rules: rules, networks: networks}
}

func (s *repoSource) Member(ctx context.Context, id uuid.UUID) (*account.Member, error) {
	return s.members.GetByID(ctx, id)
}

func (s *repoSource) Policies(ctx context.Context, memberID uuid.UUID) ([]*Policy, error) {
	return s.policies.ListByMember(ctx, memberID)
}

func (s *repoSource) Rules(ctx context.Context, policyID uuid.UUID) ([]*Rule, error) {
	return s.rules.ListByPolicy(ctx, policyID)
}

func (s *repoSource) Contracts(ctx context.Context, policyID uuid.UUID, providerID string) ([]*NetworkContract, error) {
	return s.networks.ListByPolicyProvider(ctx, policyID, providerID)
}
