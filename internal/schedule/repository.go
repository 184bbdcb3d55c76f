package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/defter-erp/defter/internal/money"
	"github.com/defter-erp/defter/internal/platform/db"
	"github.com/defter-erp/defter/internal/shared"
)

// Repository provides PostgreSQL backed persistence for schedule entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveEntries inserts a generated batch in one transaction.
func (r *Repository) SaveEntries(ctx context.Context, entries []Entry) ([]Entry, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for i := range entries {
			e := &entries[i]
			err := tx.QueryRow(ctx, `
				INSERT INTO schedule_entries (
					source_invoice_id, description, due_date,
					amount, currency, installment_number,
					recurring, recurring_period, paid, paid_amount,
					version, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), FALSE, 0, 1, NOW(), NOW())
				RETURNING id, version, created_at, updated_at`,
				e.SourceInvoiceID, e.Description, e.DueDate,
				e.Amount.Amount(), e.Amount.Currency(), e.InstallmentNumber,
				e.Recurring, string(e.Period),
			).Scan(&e.ID, &e.Version, &e.CreatedAt, &e.UpdatedAt)
			if err != nil {
				return fmt.Errorf("schedule: insert entry %d: %v: %w", i, err, shared.ErrPersistence)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

const entryColumns = `
	id, source_invoice_id, description, due_date,
	amount::text, currency, installment_number,
	recurring, COALESCE(recurring_period, ''), paid, paid_amount::text, payment_date,
	version, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e      Entry
		amount string
		paid   string
		cur    string
		period string
	)
	err := row.Scan(&e.ID, &e.SourceInvoiceID, &e.Description, &e.DueDate,
		&amount, &cur, &e.InstallmentNumber,
		&e.Recurring, &period, &e.Paid, &paid, &e.PaymentDate,
		&e.Version, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: scan entry: %v: %w", err, shared.ErrPersistence)
	}
	e.Period = RecurringPeriod(period)
	if e.Amount, err = money.FromString(amount, cur); err != nil {
		return nil, err
	}
	if e.PaidAmount, err = money.FromString(paid, cur); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntry loads one entry.
func (r *Repository) GetEntry(ctx context.Context, id int64) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM schedule_entries WHERE id = $1`, id)
	return scanEntry(row)
}

func (r *Repository) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("schedule: query entries: %v: %w", err, shared.ErrPersistence)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListEntries returns entries matching the request, soonest due first.
func (r *Repository) ListEntries(ctx context.Context, req ListRequest) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM schedule_entries WHERE 1=1`
	args := []any{}
	if req.UnpaidOnly {
		query += ` AND NOT paid`
	}
	if !req.DueBefore.IsZero() {
		args = append(args, req.DueBefore)
		query += fmt.Sprintf(" AND due_date < $%d", len(args))
	}
	query += " ORDER BY due_date, id"
	if req.Limit > 0 {
		args = append(args, req.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return r.queryEntries(ctx, query, args...)
}

// ListByInvoice returns all entries expanded from one invoice, in
// installment order.
func (r *Repository) ListByInvoice(ctx context.Context, invoiceID int64) ([]Entry, error) {
	return r.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM schedule_entries WHERE source_invoice_id = $1 ORDER BY installment_number, id`,
		invoiceID)
}

// HasEntriesForInvoice reports whether any entry references the invoice.
func (r *Repository) HasEntriesForInvoice(ctx context.Context, invoiceID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM schedule_entries WHERE source_invoice_id = $1)`, invoiceID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("schedule: exists check: %v: %w", err, shared.ErrPersistence)
	}
	return exists, nil
}

// SaveEntry persists reconciliation updates (paid flag, paid amount,
// payment date) under a version check.
func (r *Repository) SaveEntry(ctx context.Context, e *Entry) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE schedule_entries SET
			paid = $1, paid_amount = $2, payment_date = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5`,
		e.Paid, e.PaidAmount.Amount(), e.PaymentDate, e.ID, e.Version)
	if err != nil {
		return fmt.Errorf("schedule: save entry %d: %v: %w", e.ID, err, shared.ErrPersistence)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule: save entry %d: %w", e.ID, shared.ErrVersionConflict)
	}
	e.Version++
	return nil
}
