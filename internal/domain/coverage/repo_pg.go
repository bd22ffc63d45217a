package coverage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== Policy Repository ===========

type policyRepoPG struct{ pool *pgxpool.Pool }

func NewPolicyRepoPG(pool *pgxpool.Pool) PolicyRepository { return &policyRepoPG{pool: pool} }

func (r *policyRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const policyCols = `id, member_id, provider_name, policy_number, plan_type,
	effective_date, expiration_date, is_primary, deductible, out_of_pocket_max,
	accumulated, created_at, updated_at`

func scanPolicy(row pgx.Row) (*Policy, error) {
	var p Policy
	err := row.Scan(&p.ID, &p.MemberID, &p.ProviderName, &p.PolicyNumber, &p.PlanType,
		&p.EffectiveDate, &p.ExpirationDate, &p.IsPrimary, &p.Deductible, &p.OutOfPocketMax,
		&p.Accumulated, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *policyRepoPG) Create(ctx context.Context, p *Policy) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO policies (id, member_id, provider_name, policy_number, plan_type,
			effective_date, expiration_date, is_primary, deductible, out_of_pocket_max, accumulated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		p.ID, p.MemberID, p.ProviderName, p.PolicyNumber, p.PlanType,
		p.EffectiveDate, p.ExpirationDate, p.IsPrimary, p.Deductible, p.OutOfPocketMax, p.Accumulated,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *policyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Policy, error) {
	p, err := scanPolicy(r.conn(ctx).QueryRow(ctx, `SELECT `+policyCols+` FROM policies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *policyRepoPG) ListByMember(ctx context.Context, memberID uuid.UUID) ([]*Policy, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+policyCols+` FROM policies
		WHERE member_id = $1
		ORDER BY is_primary DESC, effective_date DESC, id`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *policyRepoPG) LockByMembers(ctx context.Context, memberIDs []uuid.UUID) error {
	if len(memberIDs) == 0 {
		return nil
	}
	ids := make([]string, len(memberIDs))
	for i, id := range memberIDs {
		ids[i] = id.String()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		SELECT id FROM policies
		WHERE member_id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE`, ids)
	return err
}

func (r *policyRepoPG) SetAccumulated(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE policies SET accumulated = $2, updated_at = NOW() WHERE id = $1`, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (r *policyRepoPG) ClearPrimary(ctx context.Context, memberID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE policies SET is_primary = FALSE, updated_at = NOW()
		WHERE member_id = $1 AND is_primary`, memberID)
	return err
}

func (r *policyRepoPG) MarkPrimary(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE policies SET is_primary = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

// =========== Rule Repository ===========

type ruleRepoPG struct{ pool *pgxpool.Pool }

func NewRuleRepoPG(pool *pgxpool.Pool) RuleRepository { return &ruleRepoPG{pool: pool} }

func (r *ruleRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *ruleRepoPG) Create(ctx context.Context, rule *Rule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO coverage_rules (id, policy_id, service_type, category, coverage_percent,
			copay, network, requires_preauth)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rule.ID, rule.PolicyID, rule.ServiceType, rule.Category, rule.CoveragePercent,
		rule.Copay, rule.Network, rule.RequiresPreauth)
	return err
}

func (r *ruleRepoPG) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*Rule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, policy_id, service_type, category, coverage_percent, copay, network, requires_preauth
		FROM coverage_rules WHERE policy_id = $1
		ORDER BY created_at, id`, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(&rule.ID, &rule.PolicyID, &rule.ServiceType, &rule.Category,
			&rule.CoveragePercent, &rule.Copay, &rule.Network, &rule.RequiresPreauth); err != nil {
			return nil, err
		}
		items = append(items, &rule)
	}
	return items, rows.Err()
}

// =========== Network Repository ===========

type networkRepoPG struct{ pool *pgxpool.Pool }

func NewNetworkRepoPG(pool *pgxpool.Pool) NetworkRepository { return &networkRepoPG{pool: pool} }

func (r *networkRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *networkRepoPG) Create(ctx context.Context, c *NetworkContract) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO network_contracts (id, policy_id, provider_id, provider_name, status,
			contract_start, contract_end)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.PolicyID, c.ProviderID, c.ProviderName, c.Status, c.ContractStart, c.ContractEnd)
	return err
}

func (r *networkRepoPG) ListByPolicyProvider(ctx context.Context, policyID uuid.UUID, providerID string) ([]*NetworkContract, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, policy_id, provider_id, provider_name, status, contract_start, contract_end
		FROM network_contracts
		WHERE policy_id = $1 AND provider_id = $2
		ORDER BY contract_start DESC, id`, policyID, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*NetworkContract
	for rows.Next() {
		var c NetworkContract
		if err := rows.Scan(&c.ID, &c.PolicyID, &c.ProviderID, &c.ProviderName, &c.Status,
			&c.ContractStart, &c.ContractEnd); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}
