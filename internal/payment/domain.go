package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/defter-erp/defter/internal/money"
)

// TargetKind names the obligation type a payment settles against.
type TargetKind string

const (
	TargetInvoice       TargetKind = "INVOICE"
	TargetScheduleEntry TargetKind = "SCHEDULE_ENTRY"
)

// Valid reports whether the kind is one of the known obligation types.
func (k TargetKind) Valid() bool {
	return k == TargetInvoice || k == TargetScheduleEntry
}

// TargetRef identifies the obligation a payment applies to.
type TargetRef struct {
	Kind TargetKind `json:"kind"`
	ID   int64      `json:"id"`
}

// Status is the processing state of a payment.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted || s == StatusFailed
}

// Kind distinguishes regular receipts from explicit adjustments. Adjustments
// may apply against an already settled obligation; regular payments may not.
type Kind string

const (
	KindNormal     Kind = "NORMAL"
	KindAdjustment Kind = "ADJUSTMENT"
)

// Payment is one incoming payment record. Completed payments are immutable;
// replaying the same id is rejected by the reconciler.
type Payment struct {
	ID                uuid.UUID   `json:"id"`
	Target            TargetRef   `json:"target"`
	Amount            money.Money `json:"amount"`
	PaymentDate       time.Time   `json:"payment_date"`
	Method            string      `json:"method,omitempty"`
	Status            Status      `json:"status"`
	Kind              Kind        `json:"kind"`
	InstallmentNumber *int        `json:"installment_number,omitempty"`
	// PlanRef is an optional caller-supplied reference to the payment plan
	// this receipt belongs to. Audit only; reconciliation never reads it.
	PlanRef *string `json:"plan_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Result describes what one reconciliation did.
type Result struct {
	Payment Payment `json:"payment"`

	// Applied is how much of the payment reduced the obligation's balance.
	// Zero for failed and pending payments.
	Applied money.Money `json:"applied"`
	// Outstanding is the obligation's balance after application.
	Outstanding money.Money `json:"outstanding"`
	// TargetSettled reports whether this application fully settled the
	// target obligation.
	TargetSettled bool `json:"target_settled"`

	// ParentInvoiceID is set when the target was an installment and its
	// siblings were checked; ParentInvoiceSettled reports whether that check
	// promoted the parent invoice to paid.
	ParentInvoiceID      *int64 `json:"parent_invoice_id,omitempty"`
	ParentInvoiceSettled bool   `json:"parent_invoice_settled,omitempty"`
}
