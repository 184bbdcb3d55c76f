package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/defter-erp/defter/internal/money"
)

// Status enumerates invoice statuses.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
	StatusCancelled Status = "CANCELLED"
)

// Direction distinguishes sales from purchase invoices.
type Direction string

const (
	DirectionSales    Direction = "SALES"
	DirectionPurchase Direction = "PURCHASE"
)

// LineItem is owned exclusively by one invoice and carries its tax rate as a
// snapshot taken at computation time, never a live tax rule reference.
type LineItem struct {
	ID             int64           `json:"id"`
	InvoiceID      int64           `json:"invoice_id"`
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      money.Money     `json:"unit_price"`
	TaxRatePercent decimal.Decimal `json:"tax_rate_percent"`
	NetAmount      money.Money     `json:"net_amount"`
	TaxAmount      money.Money     `json:"tax_amount"`
	LineTotal      money.Money     `json:"line_total"`
}

// Invoice model. Subtotal, TaxTotal and GrandTotal are always recomputed from
// the lines before persisting; they are stored for querying but never trusted
// as an independent source of truth.
type Invoice struct {
	ID         int64      `json:"id"`
	Number     string     `json:"number"`
	Direction  Direction  `json:"direction"`
	CustomerID *int64     `json:"customer_id,omitempty"`
	SupplierID *int64     `json:"supplier_id,omitempty"`
	Currency   string     `json:"currency"`
	IssueDate  time.Time  `json:"issue_date"`
	DueDate    time.Time  `json:"due_date"`
	Lines      []LineItem `json:"lines"`
	Status     Status     `json:"status"`

	Subtotal   money.Money `json:"subtotal"`
	TaxTotal   money.Money `json:"tax_total"`
	GrandTotal money.Money `json:"grand_total"`
	PaidAmount money.Money `json:"paid_amount"`

	// Version guards concurrent balance updates (optimistic concurrency).
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outstanding returns the unpaid balance.
func (inv *Invoice) Outstanding() money.Money {
	out, err := inv.GrandTotal.Sub(inv.PaidAmount)
	if err != nil {
		// PaidAmount is only ever mutated by the reconciler, which rejects
		// mixed currencies before applying.
		return inv.GrandTotal
	}
	return out
}

// HasValidParty reports whether exactly one of customer or supplier is set.
func (inv *Invoice) HasValidParty() bool {
	return (inv.CustomerID != nil) != (inv.SupplierID != nil)
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled
}
