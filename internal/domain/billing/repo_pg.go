package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medibill/medibill/internal/platform/db"
)

const sqlFlavor = sqlbuilder.PostgreSQL

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

// =========== Bill Repository ===========

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pool: pool} }

func (r *billRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

var billCols = []string{"id", "account_id", "provider_name", "provider_id", "total_amount",
	"service_date", "due_date", "status", "created_at", "updated_at"}

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.AccountID, &b.ProviderName, &b.ProviderID, &b.TotalAmount,
		&b.ServiceDate, &b.DueDate, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bills (id, account_id, provider_name, provider_id, total_amount,
			service_date, due_date, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		b.ID, b.AccountID, b.ProviderName, b.ProviderID, b.TotalAmount,
		b.ServiceDate, b.DueDate, b.Status,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *billRepoPG) get(ctx context.Context, id uuid.UUID, lock bool) (*Bill, error) {
	sb := sqlFlavor.NewSelectBuilder().Select(billCols...).From("bills")
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()
	if lock {
		query += " FOR UPDATE"
	}
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBillNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.get(ctx, id, false)
}

func (r *billRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.get(ctx, id, true)
}

func (r *billRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status BillStatus) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("bills")
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)
	ub.Where(ub.Equal("id", id))
	query, args := ub.Build()
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

func (r *billRepoPG) List(ctx context.Context, f BillFilter, limit, offset int) ([]*Bill, int, error) {
	where := func(sb *sqlbuilder.SelectBuilder) {
		if f.AccountID != nil {
			sb.Where(sb.Equal("account_id", *f.AccountID))
		}
		if f.Status != "" {
			sb.Where(sb.Equal("status", f.Status))
		}
	}

	countSB := sqlFlavor.NewSelectBuilder().Select("COUNT(*)").From("bills")
	where(countSB)
	query, args := countSB.Build()
	var total int
	if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sb := sqlFlavor.NewSelectBuilder().Select(billCols...).From("bills")
	where(sb)
	sb.OrderBy("service_date DESC", "id").Limit(limit).Offset(offset)
	query, args = sb.Build()
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

// =========== Line Item Repository ===========

type lineItemRepoPG struct{ pool *pgxpool.Pool }

func NewLineItemRepoPG(pool *pgxpool.Pool) LineItemRepository { return &lineItemRepoPG{pool: pool} }

func (r *lineItemRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *lineItemRepoPG) Create(ctx context.Context, li *LineItem) error {
	if li.ID == uuid.Nil {
		li.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO line_items (id, bill_id, member_id, procedure_code, description, amount,
			coverage_policy_id, covered, requires_preauth)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		li.ID, li.BillID, li.MemberID, li.ProcedureCode, li.Description, li.Amount,
		li.CoveragePolicyID, li.Covered, li.RequiresPreauth)
	return err
}

func (r *lineItemRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, member_id, procedure_code, description, amount,
			coverage_policy_id, covered, requires_preauth
		FROM line_items WHERE bill_id = $1
		ORDER BY position, id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LineItem
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.ID, &li.BillID, &li.MemberID, &li.ProcedureCode, &li.Description,
			&li.Amount, &li.CoveragePolicyID, &li.Covered, &li.RequiresPreauth); err != nil {
			return nil, err
		}
		items = append(items, &li)
	}
	return items, rows.Err()
}

func (r *lineItemRepoPG) UpdateCoverage(ctx context.Context, li *LineItem) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE line_items SET coverage_policy_id = $2, covered = $3, requires_preauth = $4
		WHERE id = $1`,
		li.ID, li.CoveragePolicyID, li.Covered, li.RequiresPreauth)
	return err
}

// =========== Share Repository ===========

type shareRepoPG struct{ pool *pgxpool.Pool }

func NewShareRepoPG(pool *pgxpool.Pool) ShareRepository { return &shareRepoPG{pool: pool} }

func (r *shareRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const shareCols = `id, bill_id, member_id, original_amount, insurance_covered,
	personal_responsibility, amount_paid, status, created_at, updated_at`

func scanShare(row pgx.Row) (*Share, error) {
	var s Share
	err := row.Scan(&s.ID, &s.BillID, &s.MemberID, &s.OriginalAmount, &s.InsuranceCovered,
		&s.PersonalResponsibility, &s.AmountPaid, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *shareRepoPG) Create(ctx context.Context, s *Share) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bill_shares (id, bill_id, member_id, original_amount, insurance_covered,
			personal_responsibility, amount_paid, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		s.ID, s.BillID, s.MemberID, s.OriginalAmount, s.InsuranceCovered,
		s.PersonalResponsibility, s.AmountPaid, s.Status,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *shareRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Share, error) {
	s, err := scanShare(r.conn(ctx).QueryRow(ctx, `SELECT `+shareCols+` FROM bill_shares WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *shareRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Share, error) {
	s, err := scanShare(r.conn(ctx).QueryRow(ctx, `SELECT `+shareCols+` FROM bill_shares WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *shareRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*Share, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+shareCols+` FROM bill_shares
		WHERE bill_id = $1
		ORDER BY position, id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Share
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *shareRepoPG) DeleteByBill(ctx context.Context, billID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM bill_shares WHERE bill_id = $1`, billID)
	return err
}

func (r *shareRepoPG) Update(ctx context.Context, s *Share) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bill_shares SET amount_paid = $2, status = $3, updated_at = NOW()
		WHERE id = $1`, s.ID, s.AmountPaid, s.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrShareNotFound
	}
	return nil
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, share_id, amount, method, transaction_id, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		p.ID, p.ShareID, p.Amount, p.Method, p.TransactionID, p.Status,
	).Scan(&p.CreatedAt)
}

func (r *paymentRepoPG) ListByShare(ctx context.Context, shareID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, share_id, amount, method, transaction_id, status, created_at
		FROM payments WHERE share_id = $1
		ORDER BY created_at, id`, shareID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.ShareID, &p.Amount, &p.Method, &p.TransactionID,
			&p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *paymentRepoPG) SumCompletedByBill(ctx context.Context, billID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(p.amount), 0)
		FROM payments p JOIN bill_shares s ON s.id = p.share_id
		WHERE s.bill_id = $1 AND p.status = $2`, billID, PaymentCompleted).Scan(&total)
	return total, err
}

// =========== Dispute Repository ===========

type disputeRepoPG struct{ pool *pgxpool.Pool }

func NewDisputeRepoPG(pool *pgxpool.Pool) DisputeRepository { return &disputeRepoPG{pool: pool} }

func (r *disputeRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

var disputeCols = []string{"id", "bill_id", "member_id", "reason", "resolution", "status",
	"created_at", "resolved_at"}

func scanDispute(row pgx.Row) (*Dispute, error) {
	var d Dispute
	err := row.Scan(&d.ID, &d.BillID, &d.MemberID, &d.Reason, &d.Resolution, &d.Status,
		&d.CreatedAt, &d.ResolvedAt)
	return &d, err
}

func (r *disputeRepoPG) Create(ctx context.Context, d *Dispute) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO disputes (id, bill_id, member_id, reason, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		d.ID, d.BillID, d.MemberID, d.Reason, d.Status,
	).Scan(&d.CreatedAt)
}

func (r *disputeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Dispute, error) {
	sb := sqlFlavor.NewSelectBuilder().Select(disputeCols...).From("disputes")
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()
	d, err := scanDispute(r.conn(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *disputeRepoPG) Update(ctx context.Context, d *Dispute) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("disputes")
	ub.Set(
		ub.Assign("status", d.Status),
		ub.Assign("resolution", d.Resolution),
		ub.Assign("resolved_at", d.ResolvedAt),
	)
	ub.Where(ub.Equal("id", d.ID))
	query, args := ub.Build()
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (r *disputeRepoPG) ListByBill(ctx context.Context, billID uuid.UUID, statuses ...DisputeStatus) ([]*Dispute, error) {
	sb := sqlFlavor.NewSelectBuilder().Select(disputeCols...).From("disputes")
	sb.Where(sb.Equal("bill_id", billID))
	if len(statuses) > 0 {
		vals := make([]interface{}, len(statuses))
		for i, s := range statuses {
			vals[i] = s
		}
		sb.Where(sb.In("status", vals...))
	}
	sb.OrderBy("created_at", "id")
	query, args := sb.Build()
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// =========== Accumulation Repository ===========

type accumulationRepoPG struct{ pool *pgxpool.Pool }

func NewAccumulationRepoPG(pool *pgxpool.Pool) AccumulationRepository {
	return &accumulationRepoPG{pool: pool}
}

func (r *accumulationRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *accumulationRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*Accumulation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT bill_id, policy_id, amount FROM bill_policy_accumulations
		WHERE bill_id = $1 ORDER BY policy_id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Accumulation
	for rows.Next() {
		var a Accumulation
		if err := rows.Scan(&a.BillID, &a.PolicyID, &a.Amount); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}

func (r *accumulationRepoPG) ReplaceForBill(ctx context.Context, billID uuid.UUID, items []*Accumulation) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM bill_policy_accumulations WHERE bill_id = $1`, billID); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	ib := sqlFlavor.NewInsertBuilder().InsertInto("bill_policy_accumulations")
	ib.Cols("bill_id", "policy_id", "amount")
	for _, a := range items {
		ib.Values(billID, a.PolicyID, a.Amount)
	}
	query, args := ib.Build()
	_, err := r.conn(ctx).Exec(ctx, query, args...)
	return err
}
