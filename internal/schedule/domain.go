package schedule

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/defter-erp/defter/internal/money"
)

// RecurringPeriod enumerates calendar periods for recurring obligations.
type RecurringPeriod string

const (
	PeriodMonthly   RecurringPeriod = "MONTHLY"
	PeriodQuarterly RecurringPeriod = "QUARTERLY"
	PeriodYearly    RecurringPeriod = "YEARLY"
)

// Months returns the calendar month count for one period step.
func (p RecurringPeriod) Months() (int, bool) {
	switch p {
	case PeriodMonthly:
		return 1, true
	case PeriodQuarterly:
		return 3, true
	case PeriodYearly:
		return 12, true
	}
	return 0, false
}

// PaymentPlan is a pure installment template. It has no identity of its own;
// expansion against an invoice produces the concrete entries.
type PaymentPlan struct {
	InstallmentCount int             `json:"installment_count"`
	IntervalDays     int             `json:"interval_days"`
	FeePercent       decimal.Decimal `json:"fee_percent"`
}

// Entry is one concrete due obligation. Entries are created by the
// generator and mutated only by the payment reconciler, which sets Paid and
// PaymentDate under a version check.
type Entry struct {
	ID                int64           `json:"id"`
	SourceInvoiceID   *int64          `json:"source_invoice_id,omitempty"`
	Description       string          `json:"description"`
	DueDate           time.Time       `json:"due_date"`
	Amount            money.Money     `json:"amount"`
	InstallmentNumber *int            `json:"installment_number,omitempty"`
	Recurring         bool            `json:"recurring"`
	Period            RecurringPeriod `json:"recurring_period,omitempty"`
	Paid              bool            `json:"paid"`
	PaidAmount        money.Money     `json:"paid_amount"`
	PaymentDate       *time.Time      `json:"payment_date,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outstanding returns the unpaid remainder of the entry.
func (e *Entry) Outstanding() money.Money {
	out, err := e.Amount.Sub(e.PaidAmount)
	if err != nil {
		// PaidAmount is only ever mutated by the reconciler, which rejects
		// mixed currencies before applying.
		return e.Amount
	}
	return out
}
