package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/defter-erp/defter/internal/invoice"
	"github.com/defter-erp/defter/internal/money"
	"github.com/defter-erp/defter/internal/platform/db"
	"github.com/defter-erp/defter/internal/schedule"
	"github.com/defter-erp/defter/internal/shared"
)

// queryer is satisfied by both pgxpool.Pool and pgx.Tx, letting the same
// statements run standalone or inside a reconciliation transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the PostgreSQL Store implementation. It issues narrow
// statements of its own rather than delegating to the invoice and schedule
// repositories, so every write stays on one transaction.
type Repository struct {
	q    queryer
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool, pool: pool}
}

// Atomic runs fn against a transaction scoped view. Nested calls reuse the
// open transaction.
func (r *Repository) Atomic(ctx context.Context, fn func(Store) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{q: tx})
	})
}

// LoadInvoice loads the invoice header. Reconciliation never touches lines,
// so they are left unloaded.
func (r *Repository) LoadInvoice(ctx context.Context, id int64) (*invoice.Invoice, error) {
	inv := &invoice.Invoice{}
	var grandTotal, paidAmount string
	err := r.q.QueryRow(ctx, `
		SELECT id, number, direction, currency, issue_date, due_date, status,
			grand_total::text, paid_amount::text, version
		FROM invoices WHERE id = $1`, id,
	).Scan(&inv.ID, &inv.Number, &inv.Direction, &inv.Currency,
		&inv.IssueDate, &inv.DueDate, &inv.Status,
		&grandTotal, &paidAmount, &inv.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment: load invoice %d: %v: %w", id, err, shared.ErrPersistence)
	}
	if inv.GrandTotal, err = money.FromString(grandTotal, inv.Currency); err != nil {
		return nil, err
	}
	if inv.PaidAmount, err = money.FromString(paidAmount, inv.Currency); err != nil {
		return nil, err
	}
	return inv, nil
}

// SaveInvoice persists the reconciliation outcome under a version check.
func (r *Repository) SaveInvoice(ctx context.Context, inv *invoice.Invoice) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE invoices SET
			paid_amount = $1, status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4`,
		inv.PaidAmount.Amount(), inv.Status, inv.ID, inv.Version)
	if err != nil {
		return fmt.Errorf("payment: save invoice %d: %v: %w", inv.ID, err, shared.ErrPersistence)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment: save invoice %d: %w", inv.ID, shared.ErrVersionConflict)
	}
	inv.Version++
	return nil
}

const entryColumns = `
	id, source_invoice_id, description, due_date,
	amount::text, currency, installment_number,
	recurring, COALESCE(recurring_period, ''), paid, paid_amount::text, payment_date,
	version, created_at, updated_at`

func scanEntry(row pgx.Row) (*schedule.Entry, error) {
	var e schedule.Entry
	var amount, paid, cur, period string
	err := row.Scan(&e.ID, &e.SourceInvoiceID, &e.Description, &e.DueDate,
		&amount, &cur, &e.InstallmentNumber,
		&e.Recurring, &period, &e.Paid, &paid, &e.PaymentDate,
		&e.Version, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment: scan schedule entry: %v: %w", err, shared.ErrPersistence)
	}
	e.Period = schedule.RecurringPeriod(period)
	if e.Amount, err = money.FromString(amount, cur); err != nil {
		return nil, err
	}
	if e.PaidAmount, err = money.FromString(paid, cur); err != nil {
		return nil, err
	}
	return &e, nil
}

// LoadScheduleEntry loads one schedule entry.
func (r *Repository) LoadScheduleEntry(ctx context.Context, id int64) (*schedule.Entry, error) {
	row := r.q.QueryRow(ctx, `SELECT `+entryColumns+` FROM schedule_entries WHERE id = $1`, id)
	return scanEntry(row)
}

// LoadScheduleEntries returns all entries expanded from one invoice, for the
// sibling settlement check.
func (r *Repository) LoadScheduleEntries(ctx context.Context, invoiceID int64) ([]schedule.Entry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+entryColumns+` FROM schedule_entries WHERE source_invoice_id = $1 ORDER BY installment_number, id`,
		invoiceID)
	if err != nil {
		return nil, fmt.Errorf("payment: load schedule entries: %v: %w", err, shared.ErrPersistence)
	}
	defer rows.Close()

	var out []schedule.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// SaveScheduleEntry persists the reconciliation outcome under a version
// check.
func (r *Repository) SaveScheduleEntry(ctx context.Context, e *schedule.Entry) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE schedule_entries SET
			paid = $1, paid_amount = $2, payment_date = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5`,
		e.Paid, e.PaidAmount.Amount(), e.PaymentDate, e.ID, e.Version)
	if err != nil {
		return fmt.Errorf("payment: save schedule entry %d: %v: %w", e.ID, err, shared.ErrPersistence)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment: save schedule entry %d: %w", e.ID, shared.ErrVersionConflict)
	}
	e.Version++
	return nil
}

// LoadPayment loads one payment record.
func (r *Repository) LoadPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p := &Payment{}
	var amount, cur string
	err := r.q.QueryRow(ctx, `
		SELECT id, target_kind, target_id, amount::text, currency,
			payment_date, COALESCE(method, ''), status, kind, installment_number, plan_ref, created_at
		FROM payments WHERE id = $1`, id,
	).Scan(&p.ID, &p.Target.Kind, &p.Target.ID, &amount, &cur,
		&p.PaymentDate, &p.Method, &p.Status, &p.Kind, &p.InstallmentNumber, &p.PlanRef, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment: load %s: %v: %w", id, err, shared.ErrPersistence)
	}
	if p.Amount, err = money.FromString(amount, cur); err != nil {
		return nil, err
	}
	return p, nil
}

// SavePayment inserts the record, or updates the status of a pending one
// that is being completed or failed.
func (r *Repository) SavePayment(ctx context.Context, p *Payment) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO payments (
			id, target_kind, target_id, amount, currency,
			payment_date, method, status, kind, installment_number, plan_ref, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, payment_date = EXCLUDED.payment_date
		RETURNING created_at`,
		p.ID, p.Target.Kind, p.Target.ID, p.Amount.Amount(), p.Amount.Currency(),
		p.PaymentDate, p.Method, p.Status, p.Kind, p.InstallmentNumber, p.PlanRef,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("payment: save %s: %v: %w", p.ID, err, shared.ErrPersistence)
	}
	return nil
}
