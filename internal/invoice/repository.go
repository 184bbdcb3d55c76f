package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/defter-erp/defter/internal/money"
	"github.com/defter-erp/defter/internal/platform/db"
	"github.com/defter-erp/defter/internal/shared"
)

// Repository provides PostgreSQL backed persistence for invoices.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func numberPrefix(direction Direction) string {
	if direction == DirectionPurchase {
		return "PUR"
	}
	return "INV"
}

func (r *Repository) generateNumber(ctx context.Context, tx pgx.Tx, direction Direction, issued time.Time) (string, error) {
	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("invoice: next number: %v: %w", err, shared.ErrPersistence)
	}
	year := issued.Year()
	if issued.IsZero() {
		year = time.Now().Year()
	}
	return fmt.Sprintf("%s-%d-%06d", numberPrefix(direction), year, seq), nil
}

// CreateInvoice persists the invoice header and its lines in one transaction.
func (r *Repository) CreateInvoice(ctx context.Context, inv *Invoice) (*Invoice, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if inv.Number == "" {
			number, err := r.generateNumber(ctx, tx, inv.Direction, inv.IssueDate)
			if err != nil {
				return err
			}
			inv.Number = number
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO invoices (
				number, direction, customer_id, supplier_id, currency,
				issue_date, due_date, status,
				subtotal, tax_total, grand_total, paid_amount,
				version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, NOW(), NOW())
			RETURNING id, version, created_at, updated_at`,
			inv.Number, inv.Direction, inv.CustomerID, inv.SupplierID, inv.Currency,
			inv.IssueDate, inv.DueDate, inv.Status,
			inv.Subtotal.Amount(), inv.TaxTotal.Amount(), inv.GrandTotal.Amount(), inv.PaidAmount.Amount(),
		).Scan(&inv.ID, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
		if err != nil {
			return fmt.Errorf("invoice: insert: %v: %w", err, shared.ErrPersistence)
		}
		return r.insertLines(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *Repository) insertLines(ctx context.Context, tx pgx.Tx, inv *Invoice) error {
	for i := range inv.Lines {
		line := &inv.Lines[i]
		line.InvoiceID = inv.ID
		err := tx.QueryRow(ctx, `
			INSERT INTO invoice_lines (
				invoice_id, position, description, quantity, unit_price,
				tax_rate_percent, net_amount, tax_amount, line_total
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			inv.ID, i, line.Description, line.Quantity, line.UnitPrice.Amount(),
			line.TaxRatePercent, line.NetAmount.Amount(), line.TaxAmount.Amount(), line.LineTotal.Amount(),
		).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("invoice: insert line %d: %v: %w", i, err, shared.ErrPersistence)
		}
	}
	return nil
}

func scanMoney(raw string, currency string) (money.Money, error) {
	return money.FromString(raw, currency)
}

// GetInvoice loads an invoice with its ordered lines.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv := &Invoice{}
	var subtotal, taxTotal, grandTotal, paidAmount string
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, direction, customer_id, supplier_id, currency,
			issue_date, due_date, status,
			subtotal::text, tax_total::text, grand_total::text, paid_amount::text,
			version, created_at, updated_at
		FROM invoices WHERE id = $1`, id,
	).Scan(&inv.ID, &inv.Number, &inv.Direction, &inv.CustomerID, &inv.SupplierID, &inv.Currency,
		&inv.IssueDate, &inv.DueDate, &inv.Status,
		&subtotal, &taxTotal, &grandTotal, &paidAmount,
		&inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invoice: get %d: %v: %w", id, err, shared.ErrPersistence)
	}
	if err := scanTotals(inv, subtotal, taxTotal, grandTotal, paidAmount); err != nil {
		return nil, err
	}

	lines, err := r.loadLines(ctx, inv.ID, inv.Currency)
	if err != nil {
		return nil, err
	}
	inv.Lines = lines
	return inv, nil
}

func scanTotals(inv *Invoice, subtotal, taxTotal, grandTotal, paidAmount string) error {
	var err error
	if inv.Subtotal, err = scanMoney(subtotal, inv.Currency); err != nil {
		return err
	}
	if inv.TaxTotal, err = scanMoney(taxTotal, inv.Currency); err != nil {
		return err
	}
	if inv.GrandTotal, err = scanMoney(grandTotal, inv.Currency); err != nil {
		return err
	}
	inv.PaidAmount, err = scanMoney(paidAmount, inv.Currency)
	return err
}

func (r *Repository) loadLines(ctx context.Context, invoiceID int64, currency string) ([]LineItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, description, quantity::text, unit_price::text,
			tax_rate_percent::text, net_amount::text, tax_amount::text, line_total::text
		FROM invoice_lines WHERE invoice_id = $1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoice: load lines: %v: %w", err, shared.ErrPersistence)
	}
	defer rows.Close()

	var lines []LineItem
	for rows.Next() {
		var line LineItem
		var qty, unit, rate, net, tax, total string
		if err := rows.Scan(&line.ID, &line.Description, &qty, &unit, &rate, &net, &tax, &total); err != nil {
			return nil, fmt.Errorf("invoice: scan line: %v: %w", err, shared.ErrPersistence)
		}
		line.InvoiceID = invoiceID
		if line.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if line.TaxRatePercent, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		if line.UnitPrice, err = scanMoney(unit, currency); err != nil {
			return nil, err
		}
		if line.NetAmount, err = scanMoney(net, currency); err != nil {
			return nil, err
		}
		if line.TaxAmount, err = scanMoney(tax, currency); err != nil {
			return nil, err
		}
		if line.LineTotal, err = scanMoney(total, currency); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListInvoices returns invoice headers matching the request, newest first.
func (r *Repository) ListInvoices(ctx context.Context, req ListRequest) ([]Invoice, error) {
	query := `
		SELECT id, number, direction, customer_id, supplier_id, currency,
			issue_date, due_date, status,
			subtotal::text, tax_total::text, grand_total::text, paid_amount::text,
			version, created_at, updated_at
		FROM invoices WHERE 1=1`
	args := []any{}
	if req.Status != "" {
		args = append(args, req.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if req.Direction != "" {
		args = append(args, req.Direction)
		query += fmt.Sprintf(" AND direction = $%d", len(args))
	}
	query += " ORDER BY id DESC"
	if req.Limit > 0 {
		args = append(args, req.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("invoice: list: %v: %w", err, shared.ErrPersistence)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		var inv Invoice
		var subtotal, taxTotal, grandTotal, paidAmount string
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.Direction, &inv.CustomerID, &inv.SupplierID, &inv.Currency,
			&inv.IssueDate, &inv.DueDate, &inv.Status,
			&subtotal, &taxTotal, &grandTotal, &paidAmount,
			&inv.Version, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("invoice: scan: %v: %w", err, shared.ErrPersistence)
		}
		if err := scanTotals(&inv, subtotal, taxTotal, grandTotal, paidAmount); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// SaveInvoice persists header and lines atomically, guarded by the version
// stamp. A lost race leaves the row untouched and reports ErrVersionConflict.
func (r *Repository) SaveInvoice(ctx context.Context, inv *Invoice) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE invoices SET
				issue_date = $1, due_date = $2, status = $3,
				subtotal = $4, tax_total = $5, grand_total = $6, paid_amount = $7,
				version = version + 1, updated_at = NOW()
			WHERE id = $8 AND version = $9`,
			inv.IssueDate, inv.DueDate, inv.Status,
			inv.Subtotal.Amount(), inv.TaxTotal.Amount(), inv.GrandTotal.Amount(), inv.PaidAmount.Amount(),
			inv.ID, inv.Version)
		if err != nil {
			return fmt.Errorf("invoice: save %d: %v: %w", inv.ID, err, shared.ErrPersistence)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("invoice: save %d: %w", inv.ID, shared.ErrVersionConflict)
		}
		inv.Version++

		if _, err := tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, inv.ID); err != nil {
			return fmt.Errorf("invoice: replace lines %d: %v: %w", inv.ID, err, shared.ErrPersistence)
		}
		return r.insertLines(ctx, tx, inv)
	})
}

// DeleteInvoice removes a draft invoice and its lines.
func (r *Repository) DeleteInvoice(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, id); err != nil {
			return fmt.Errorf("invoice: delete lines %d: %v: %w", id, err, shared.ErrPersistence)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("invoice: delete %d: %v: %w", id, err, shared.ErrPersistence)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}
