package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/defter-erp/defter/internal/money"
)

var (
	// ErrInvalidParty indicates the customer/supplier reference is not
	// exactly one of the two.
	ErrInvalidParty = errors.New("invoice: exactly one of customer or supplier required")
	// ErrDueBeforeIssue indicates due date precedes issue date.
	ErrDueBeforeIssue = errors.New("invoice: due date before issue date")
	// ErrNotDraft indicates a mutation only allowed on draft invoices.
	ErrNotDraft = errors.New("invoice: not in draft")
	// ErrInvoiceReferenced indicates schedule entries still reference the
	// invoice. Deleting it is a policy decision surfaced to the caller,
	// never an implicit cascade.
	ErrInvoiceReferenced = errors.New("invoice: schedule entries reference invoice")
)

// RepositoryPort defines the persistence boundary the service consumes.
// Implementations must apply SaveInvoice as an atomic read-modify-write
// against the invoice's version.
type RepositoryPort interface {
	CreateInvoice(ctx context.Context, inv *Invoice) (*Invoice, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListInvoices(ctx context.Context, req ListRequest) ([]Invoice, error)
	SaveInvoice(ctx context.Context, inv *Invoice) error
	DeleteInvoice(ctx context.Context, id int64) error
}

// ScheduleChecker reports whether schedule entries reference an invoice.
type ScheduleChecker interface {
	HasEntriesForInvoice(ctx context.Context, invoiceID int64) (bool, error)
}

// TaxRateSource resolves a tax rule id to the rate snapshot copied into a
// line item.
type TaxRateSource interface {
	RateFor(ctx context.Context, taxID int64) (decimal.Decimal, error)
}

// ListRequest filters invoice listings.
type ListRequest struct {
	Status    Status
	Direction Direction
	Limit     int
}

// LineInput describes one requested line item. When TaxID is set the rate is
// resolved from the tax master data and snapshotted into the line, replacing
// whatever TaxRatePercent was submitted; without it the raw rate is used
// as given.
type LineInput struct {
	Description    string
	Quantity       decimal.Decimal
	UnitPrice      money.Money
	TaxRatePercent decimal.Decimal
	TaxID          *int64
}

// CreateInput describes a new invoice.
type CreateInput struct {
	Direction  Direction
	CustomerID *int64
	SupplierID *int64
	Currency   string
	IssueDate  time.Time
	DueDate    time.Time
	Lines      []LineInput
}

// Service handles invoice business logic.
type Service struct {
	repo      RepositoryPort
	schedules ScheduleChecker
	taxRates  TaxRateSource
	now       func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, schedules ScheduleChecker) *Service {
	return &Service{repo: repo, schedules: schedules, now: time.Now}
}

// WithTaxRates enables tax rule resolution for line items referencing a rule
// by id.
func (s *Service) WithTaxRates(rates TaxRateSource) *Service {
	s.taxRates = rates
	return s
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// resolveRates replaces the rate of every line referencing a tax rule with
// the rule's current snapshot.
func (s *Service) resolveRates(ctx context.Context, inputs []LineInput) error {
	for i := range inputs {
		if inputs[i].TaxID == nil {
			continue
		}
		if s.taxRates == nil {
			return fmt.Errorf("invoice: line %d: tax rule lookup not configured", i+1)
		}
		rate, err := s.taxRates.RateFor(ctx, *inputs[i].TaxID)
		if err != nil {
			return fmt.Errorf("invoice: line %d: %w", i+1, err)
		}
		inputs[i].TaxRatePercent = rate
	}
	return nil
}

func buildLines(currency string, inputs []LineInput) ([]LineItem, []LineAmounts, error) {
	lines := make([]LineItem, 0, len(inputs))
	amounts := make([]LineAmounts, 0, len(inputs))
	for i, in := range inputs {
		if in.UnitPrice.Currency() != currency {
			return nil, nil, &money.CurrencyMismatchError{Left: currency, Right: in.UnitPrice.Currency()}
		}
		la, err := ComputeLine(in.Quantity, in.UnitPrice, in.TaxRatePercent)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		lines = append(lines, LineItem{
			Description:    in.Description,
			Quantity:       in.Quantity,
			UnitPrice:      in.UnitPrice,
			TaxRatePercent: in.TaxRatePercent,
			NetAmount:      la.NetAmount,
			TaxAmount:      la.TaxAmount,
			LineTotal:      la.LineTotal,
		})
		amounts = append(amounts, la)
	}
	return lines, amounts, nil
}

// Create validates the input, computes all derived amounts and persists a
// draft invoice. Validation happens before any write; partial application
// never occurs.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Invoice, error) {
	if input.Direction != DirectionSales && input.Direction != DirectionPurchase {
		return nil, fmt.Errorf("invoice: unknown direction %q", input.Direction)
	}
	if (input.CustomerID != nil) == (input.SupplierID != nil) {
		return nil, ErrInvalidParty
	}
	if !input.IssueDate.IsZero() && !input.DueDate.IsZero() && input.DueDate.Before(input.IssueDate) {
		return nil, ErrDueBeforeIssue
	}

	if err := s.resolveRates(ctx, input.Lines); err != nil {
		return nil, err
	}
	lines, amounts, err := buildLines(input.Currency, input.Lines)
	if err != nil {
		return nil, err
	}
	totals, err := ComputeTotals(input.Currency, amounts)
	if err != nil {
		return nil, err
	}

	now := s.now()
	inv := &Invoice{
		Direction:  input.Direction,
		CustomerID: input.CustomerID,
		SupplierID: input.SupplierID,
		Currency:   input.Currency,
		IssueDate:  input.IssueDate,
		DueDate:    input.DueDate,
		Lines:      lines,
		Status:     StatusDraft,
		Subtotal:   totals.Subtotal,
		TaxTotal:   totals.TaxTotal,
		GrandTotal: totals.GrandTotal,
		PaidAmount: money.Zero(input.Currency),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return s.repo.CreateInvoice(ctx, inv)
}

// Get returns one invoice with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// List returns invoices matching the request.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, req)
}

// ReplaceLines swaps the line items of a draft invoice and recomputes all
// totals from scratch. Totals are never carried over from the previous state.
func (s *Service) ReplaceLines(ctx context.Context, id int64, inputs []LineInput) (*Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusDraft {
		return nil, fmt.Errorf("%w: status %s", ErrNotDraft, inv.Status)
	}

	if err := s.resolveRates(ctx, inputs); err != nil {
		return nil, err
	}
	lines, amounts, err := buildLines(inv.Currency, inputs)
	if err != nil {
		return nil, err
	}
	totals, err := ComputeTotals(inv.Currency, amounts)
	if err != nil {
		return nil, err
	}

	inv.Lines = lines
	inv.Subtotal = totals.Subtotal
	inv.TaxTotal = totals.TaxTotal
	inv.GrandTotal = totals.GrandTotal
	inv.UpdatedAt = s.now()
	if err := s.repo.SaveInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Transition moves the invoice to the target status under lifecycle guards.
func (s *Service) Transition(ctx context.Context, id int64, target Status) (*Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == StatusSent && !inv.HasValidParty() {
		return nil, ErrInvalidParty
	}
	if err := Transition(inv, target, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.SaveInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Delete removes a draft invoice. Invoices referenced by schedule entries
// are kept; history wins over cleanup.
func (s *Service) Delete(ctx context.Context, id int64) error {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status != StatusDraft {
		return fmt.Errorf("%w: status %s", ErrNotDraft, inv.Status)
	}
	referenced, err := s.schedules.HasEntriesForInvoice(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return fmt.Errorf("%w: id %d", ErrInvoiceReferenced, id)
	}
	return s.repo.DeleteInvoice(ctx, id)
}
