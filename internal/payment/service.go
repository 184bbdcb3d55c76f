package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/defter-erp/defter/internal/invoice"
	"github.com/defter-erp/defter/internal/money"
	"github.com/defter-erp/defter/internal/schedule"
	"github.com/defter-erp/defter/internal/shared"
)

var (
	// ErrUnknownTarget indicates the payment references no existing
	// obligation.
	ErrUnknownTarget = errors.New("payment: unknown target")
	// ErrAlreadySettled indicates a regular payment against a fully paid
	// obligation.
	ErrAlreadySettled = errors.New("payment: target already settled")
	// ErrOverpayment indicates the payment exceeds the outstanding balance.
	// Excess is never clamped; the caller must issue an explicit adjustment.
	ErrOverpayment = errors.New("payment: amount exceeds outstanding balance")
	// ErrDuplicatePayment indicates a completed payment id was replayed.
	ErrDuplicatePayment = errors.New("payment: duplicate payment id")
	// ErrInvalidAmount indicates a non-positive regular payment amount.
	ErrInvalidAmount = errors.New("payment: amount must be positive")
	// ErrInvalidStatus indicates an unknown payment status.
	ErrInvalidStatus = errors.New("payment: invalid status")
	// ErrTargetNotPayable indicates a completed payment against an invoice
	// whose status cannot accept money (draft or cancelled).
	ErrTargetNotPayable = errors.New("payment: target not payable")
)

// OverpaymentError carries the offending amounts of a rejected overpayment.
type OverpaymentError struct {
	Outstanding money.Money
	Amount      money.Money
	Excess      money.Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment: amount %s exceeds outstanding %s by %s",
		e.Amount, e.Outstanding, e.Excess)
}

// Unwrap lets errors.Is match ErrOverpayment.
func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }

// Store is the persistence boundary the reconciler works against. Writes
// issued inside one Atomic call must commit or roll back together; saves are
// version checked so concurrent reconciliations against the same obligation
// cannot both apply.
type Store interface {
	LoadInvoice(ctx context.Context, id int64) (*invoice.Invoice, error)
	SaveInvoice(ctx context.Context, inv *invoice.Invoice) error
	LoadScheduleEntry(ctx context.Context, id int64) (*schedule.Entry, error)
	LoadScheduleEntries(ctx context.Context, invoiceID int64) ([]schedule.Entry, error)
	SaveScheduleEntry(ctx context.Context, e *schedule.Entry) error
	LoadPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	SavePayment(ctx context.Context, p *Payment) error

	Atomic(ctx context.Context, fn func(Store) error) error
}

// Service reconciles incoming payments against invoices and schedule
// entries.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService builds Service instance.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns one payment record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.store.LoadPayment(ctx, id)
}

// Reconcile applies one payment to its target obligation. Completed payments
// reduce the outstanding balance and settle the target when it reaches
// exactly zero; pending and failed payments are persisted for audit without
// touching balances. The whole application is one atomic unit.
func (s *Service) Reconcile(ctx context.Context, p Payment) (*Result, error) {
	if !p.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}
	if !p.Target.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownTarget, p.Target.Kind)
	}
	if p.Kind == "" {
		p.Kind = KindNormal
	}
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, p.Amount)
	}

	var res *Result
	err := s.store.Atomic(ctx, func(st Store) error {
		existing, err := st.LoadPayment(ctx, p.ID)
		switch {
		case err == nil:
			if existing.Status == StatusCompleted {
				return fmt.Errorf("%w: %s", ErrDuplicatePayment, p.ID)
			}
		case !errors.Is(err, shared.ErrNotFound):
			return err
		}

		res, err = s.apply(ctx, st, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) apply(ctx context.Context, st Store, p Payment) (*Result, error) {
	switch p.Target.Kind {
	case TargetInvoice:
		return s.applyToInvoice(ctx, st, p)
	case TargetScheduleEntry:
		return s.applyToEntry(ctx, st, p)
	}
	return nil, fmt.Errorf("%w: kind %q", ErrUnknownTarget, p.Target.Kind)
}

func (s *Service) applyToInvoice(ctx context.Context, st Store, p Payment) (*Result, error) {
	inv, err := st.LoadInvoice(ctx, p.Target.ID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("%w: invoice %d", ErrUnknownTarget, p.Target.ID)
	}
	if err != nil {
		return nil, err
	}
	if p.Amount.Currency() != inv.Currency {
		return nil, &money.CurrencyMismatchError{Left: p.Amount.Currency(), Right: inv.Currency}
	}

	outstanding := inv.Outstanding()
	if p.Status != StatusCompleted {
		return s.persistInert(ctx, st, p, outstanding)
	}

	if inv.Status == invoice.StatusDraft || inv.Status == invoice.StatusCancelled {
		return nil, fmt.Errorf("%w: invoice %d is %s", ErrTargetNotPayable, inv.ID, inv.Status)
	}
	if err := checkApplicable(p, outstanding); err != nil {
		return nil, err
	}

	if inv.PaidAmount, err = inv.PaidAmount.Add(p.Amount); err != nil {
		return nil, err
	}
	remaining := inv.Outstanding()
	settled := remaining.IsZero()
	if settled && (inv.Status == invoice.StatusSent || inv.Status == invoice.StatusOverdue) {
		if err := invoice.Transition(inv, invoice.StatusPaid, s.now()); err != nil {
			return nil, err
		}
	}
	if err := st.SaveInvoice(ctx, inv); err != nil {
		return nil, err
	}
	if err := st.SavePayment(ctx, &p); err != nil {
		return nil, err
	}

	return &Result{
		Payment:       p,
		Applied:       p.Amount,
		Outstanding:   remaining,
		TargetSettled: settled,
	}, nil
}

func (s *Service) applyToEntry(ctx context.Context, st Store, p Payment) (*Result, error) {
	entry, err := st.LoadScheduleEntry(ctx, p.Target.ID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("%w: schedule entry %d", ErrUnknownTarget, p.Target.ID)
	}
	if err != nil {
		return nil, err
	}
	if p.Amount.Currency() != entry.Amount.Currency() {
		return nil, &money.CurrencyMismatchError{Left: p.Amount.Currency(), Right: entry.Amount.Currency()}
	}

	outstanding := entry.Outstanding()
	if p.Status != StatusCompleted {
		return s.persistInert(ctx, st, p, outstanding)
	}

	if entry.Paid && p.Kind != KindAdjustment {
		return nil, fmt.Errorf("%w: schedule entry %d", ErrAlreadySettled, entry.ID)
	}
	if err := checkApplicable(p, outstanding); err != nil {
		return nil, err
	}

	if entry.PaidAmount, err = entry.PaidAmount.Add(p.Amount); err != nil {
		return nil, err
	}
	remaining := entry.Outstanding()
	settled := remaining.IsZero()
	if settled && !entry.Paid {
		entry.Paid = true
		paidAt := p.PaymentDate
		entry.PaymentDate = &paidAt
	}
	if err := st.SaveScheduleEntry(ctx, entry); err != nil {
		return nil, err
	}
	if err := st.SavePayment(ctx, &p); err != nil {
		return nil, err
	}

	res := &Result{
		Payment:       p,
		Applied:       p.Amount,
		Outstanding:   remaining,
		TargetSettled: settled,
	}
	if settled && entry.SourceInvoiceID != nil {
		res.ParentInvoiceID = entry.SourceInvoiceID
		promoted, err := s.promoteParent(ctx, st, *entry.SourceInvoiceID)
		if err != nil {
			return nil, err
		}
		res.ParentInvoiceSettled = promoted
	}
	return res, nil
}

// promoteParent marks the parent invoice paid once every installment
// expanded from it is settled. Installment receipts live on the entries, so
// settling the parent closes its balance outright.
func (s *Service) promoteParent(ctx context.Context, st Store, invoiceID int64) (bool, error) {
	siblings, err := st.LoadScheduleEntries(ctx, invoiceID)
	if err != nil {
		return false, err
	}
	for i := range siblings {
		if !siblings[i].Paid {
			return false, nil
		}
	}

	inv, err := st.LoadInvoice(ctx, invoiceID)
	if err != nil {
		return false, err
	}
	if inv.Status != invoice.StatusSent && inv.Status != invoice.StatusOverdue {
		return false, nil
	}
	inv.PaidAmount = inv.GrandTotal
	if err := invoice.Transition(inv, invoice.StatusPaid, s.now()); err != nil {
		return false, err
	}
	if err := st.SaveInvoice(ctx, inv); err != nil {
		return false, err
	}
	return true, nil
}

// persistInert records a pending or failed payment without touching any
// balance.
func (s *Service) persistInert(ctx context.Context, st Store, p Payment, outstanding money.Money) (*Result, error) {
	if err := st.SavePayment(ctx, &p); err != nil {
		return nil, err
	}
	return &Result{
		Payment:     p,
		Applied:     money.Zero(p.Amount.Currency()),
		Outstanding: outstanding,
	}, nil
}

func checkApplicable(p Payment, outstanding money.Money) error {
	if outstanding.IsZero() && p.Kind != KindAdjustment {
		return fmt.Errorf("%w: target %s %d", ErrAlreadySettled, p.Target.Kind, p.Target.ID)
	}
	if p.Kind == KindAdjustment {
		return nil
	}
	cmp, err := p.Amount.Cmp(outstanding)
	if err != nil {
		return err
	}
	if cmp > 0 {
		excess, err := p.Amount.Sub(outstanding)
		if err != nil {
			return err
		}
		return &OverpaymentError{Outstanding: outstanding, Amount: p.Amount, Excess: excess}
	}
	return nil
}
